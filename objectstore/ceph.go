//go:build ceph

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

package objectstore

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ceph/go-ceph/rados"

	"github.com/launix-de/purgequeue/layout"
	"github.com/launix-de/purgequeue/purge"
	"github.com/launix-de/purgequeue/purgeitem"
)

// CephStore implements purge.ObjectStore against a RADOS pool, the way
// storage/persistence-ceph.go's CephStorage talks to RADOS for column and
// blob objects: removal is a plain IOContext.Delete, made idempotent
// (ENOENT counted as success) per spec.md §6's "success is idempotent"
// requirement. Every call runs synchronously against librados internally
// but is dispatched from its own goroutine by the engine, so onDone still
// only ever fires off the caller's stack.
type CephStore struct {
	conn      *rados.Conn
	poolNamer func(uint64) string

	mu     sync.Mutex
	ioctxs map[uint64]*rados.IOContext // one IOContext per pool id, opened lazily
	pools  *poolCache
}

// NewCeph connects to a cluster and resolves pool ids to pool names with
// poolNamer (typically a lookup against the cluster's pool map).
func NewCeph(clusterName, userName, confFile string, poolNamer func(uint64) string) (*CephStore, error) {
	conn, err := rados.NewConnWithClusterAndUser(clusterName, userName)
	if err != nil {
		return nil, err
	}
	if confFile != "" {
		if err := conn.ReadConfigFile(confFile); err != nil {
			return nil, err
		}
	} else {
		_ = conn.ReadDefaultConfigFile()
	}
	if err := conn.Connect(); err != nil {
		return nil, err
	}
	return &CephStore{conn: conn, poolNamer: poolNamer, ioctxs: map[uint64]*rados.IOContext{}, pools: newPoolCache()}, nil
}

func (s *CephStore) ioctxFor(poolID uint64) (*rados.IOContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx, ok := s.ioctxs[poolID]; ok {
		return ctx, nil
	}
	name := s.pools.resolve(poolID, s.poolNamer)
	ctx, err := s.conn.OpenIOContext(name)
	if err != nil {
		return nil, err
	}
	s.ioctxs[poolID] = ctx
	return ctx, nil
}

func stripeObjectName(inodeID uint64, index uint64) string {
	return fmt.Sprintf("%016x.%08x", inodeID, index)
}

// PurgeRange removes the count striped objects of inodeID starting at
// firstObj. RADOS has no ranged-delete primitive, so each object in the
// range is removed individually; a removal of an object that was never
// written (a sparse file's unwritten stripe) is reported as success, per
// spec.md §6.
func (s *CephStore) PurgeRange(inodeID uint64, l layout.Layout, snap purgeitem.SnapContext, firstObj, count uint64, mtime time.Time, flags purge.RemoveFlags, onDone func(err error)) {
	ctx, err := s.ioctxFor(l.PrimaryPool)
	if err != nil {
		onDone(err)
		return
	}
	if l.PoolNamespace != "" {
		ctx.SetNamespace(l.PoolNamespace)
	} else {
		ctx.SetNamespace("")
	}
	var firstErr error
	for i := uint64(0); i < count; i++ {
		name := stripeObjectName(inodeID, firstObj+i)
		if err := ctx.Delete(name); err != nil && !isNotFound(err) {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	onDone(firstErr)
}

// Remove deletes a single named object. Deleting an object that does not
// exist is treated as success.
func (s *CephStore) Remove(obj purge.ObjectLocator, snap purgeitem.SnapContext, mtime time.Time, flags purge.RemoveFlags, onDone func(err error)) {
	ctx, err := s.ioctxFor(obj.PoolID)
	if err != nil {
		onDone(err)
		return
	}
	ctx.SetNamespace(obj.Namespace)
	if err := ctx.Delete(obj.Name); err != nil && !isNotFound(err) {
		onDone(err)
		return
	}
	onDone(nil)
}

// isNotFound treats "no such object" as success, per spec.md §6: removing
// an absent object must be idempotent. go-ceph surfaces this as an ENOENT
// wrapped in its own error type rather than a single exported sentinel, so
// this checks the message the way the teacher's own ceph glue code works
// around librados error plumbing.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such file or directory")
}

// Shutdown tears down every opened IOContext and the cluster connection.
func (s *CephStore) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ctx := range s.ioctxs {
		ctx.Destroy()
	}
	s.conn.Shutdown()
}
