/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/launix-de/purgequeue/layout"
	"github.com/launix-de/purgequeue/purgeitem"
)

// adminServer exposes the running engine over HTTP and a streaming
// websocket, the same split scm/network.go's HttpServer offers a Scheme
// callback: plain request/response handlers for commands, and a
// websocket upgrade for anything that wants to watch status change.
type adminServer struct {
	engine *Daemon
}

type statusDoc struct {
	InFlight  int    `json:"in_flight"`
	ExpirePos uint64 `json:"expire_pos"`
	Draining  bool   `json:"draining"`
	Err       string `json:"err,omitempty"`
}

func (a *adminServer) status() statusDoc {
	d := statusDoc{
		InFlight:  a.engine.engine.InFlightCount(),
		ExpirePos: a.engine.engine.ExpirePos(),
		Draining:  a.engine.isDraining(),
	}
	if err := a.engine.engine.Err(); err != nil {
		d.Err = err.Error()
	}
	return d
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (a *adminServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(a.status())
}

func (a *adminServer) handleDrain(w http.ResponseWriter, r *http.Request) {
	a.engine.engine.BeginDrain()
	a.engine.setDraining(true)
	fmt.Fprintln(w, "ok")
}

func (a *adminServer) handleResume(w http.ResponseWriter, r *http.Request) {
	a.engine.engine.EndDrain()
	a.engine.setDraining(false)
	fmt.Fprintln(w, "ok")
}

// pushDoc is the wire shape of an operator-issued push, mirroring
// purgeitem.Item's own field names.
type pushDoc struct {
	InodeID       uint64   `json:"inode_id"`
	Size          uint64   `json:"size"`
	StripeUnit    uint64   `json:"stripe_unit"`
	StripeCount   uint32   `json:"stripe_count"`
	ObjectSize    uint64   `json:"object_size"`
	PrimaryPool   uint64   `json:"primary_pool"`
	PoolNamespace string   `json:"pool_namespace"`
	OldPools      []uint64 `json:"old_pools"`
	SnapSeq       uint64   `json:"snap_seq"`
	Snaps         []uint64 `json:"snaps"`
}

func (a *adminServer) handlePush(w http.ResponseWriter, r *http.Request) {
	var doc pushDoc
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	l := layout.New(doc.StripeUnit, doc.StripeCount, doc.ObjectSize, doc.PrimaryPool, doc.PoolNamespace)
	item := purgeitem.New(doc.InodeID, doc.Size, l, doc.OldPools, purgeitem.SnapContext{Seq: doc.SnapSeq, Snaps: doc.Snaps})
	done := make(chan error, 1)
	a.engine.engine.Push(item, func(err error) { done <- err })
	if err := <-done; err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	fmt.Fprintln(w, "ok")
}

// handleStream upgrades to a websocket and pushes a status document on a
// fixed interval, following the read-loop/write-mutex split
// scm/network.go's "websocket" builtin uses.
func (a *adminServer) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			b, _ := json.Marshal(a.status())
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}

func newAdminMux(d *Daemon) *http.ServeMux {
	a := &adminServer{engine: d}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", a.handleStatus)
	mux.HandleFunc("/drain", a.handleDrain)
	mux.HandleFunc("/resume", a.handleResume)
	mux.HandleFunc("/push", a.handlePush)
	mux.HandleFunc("/stream", a.handleStream)
	return mux
}

func serveAdmin(addr string, d *Daemon) *http.Server {
	srv := &http.Server{
		Addr:           addr,
		Handler:        newAdminMux(d),
		ReadTimeout:    300 * time.Second,
		WriteTimeout:   300 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	go srv.ListenAndServe()
	return srv
}
