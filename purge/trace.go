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

package purge

import (
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jtolds/gls"
	"github.com/shopspring/decimal"
)

// glsMgr is the goroutine-local-storage context manager used to carry a
// purge trace id down into the goroutines a gather's sub-operations run
// on, the same way storage/scan.go uses gls.Go to carry context into the
// goroutines it spawns for parallel shard scans.
var glsMgr = gls.NewContextManager()

const traceIDKey = "purge-trace-id"

// goWithTrace runs fn on a new goroutine with traceID attached to its
// goroutine-local storage, so a nested call to currentTraceID from inside
// fn (or anything it calls) observes the same id without threading a
// context.Context argument through every object-store adapter call. The
// hop onto gls.Go's new goroutine is what actually gets the dispatch off
// the engine's own goroutine: execute() calls this while still holding
// e.mu, and spec.md §5 forbids blocking on object-store I/O while the lock
// is held.
func goWithTrace(traceID string, fn func()) {
	glsMgr.SetValues(gls.Values{traceIDKey: traceID}, func() {
		gls.Go(fn)
	})
}

// currentTraceID returns the trace id attached by the nearest enclosing
// goWithTrace, or "" if none is set (e.g. in a synchronous test).
func currentTraceID() string {
	if v, ok := glsMgr.GetValue(traceIDKey); ok {
		return v.(string)
	}
	return ""
}

var traceIDCounter uint64 = uint64(time.Now().UnixNano())

// newTraceID produces a cheap, non-cryptographic but collision-resistant
// id for correlating the consume, object-store failure and complete events
// of one executed item across goroutines (Push draws a separate id of its
// own), mirroring storage/fast_uuid.go's newUUID: a monotonic
// counter folded together with the wall clock, avoiding a crypto/rand
// syscall for every single push.
func newTraceID() string {
	ctr := atomic.AddUint64(&traceIDCounter, 1)
	now := uint64(time.Now().UnixNano())
	var b [16]byte
	putUint64(b[0:8], ctr)
	putUint64(b[8:16], ctr^now^(now<<17))
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return uuid.UUID(b).String()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// Telemetry receives best-effort observability events from the engine. It
// answers spec.md §9's open question ("implementers should add telemetry")
// without changing any documented behavior: every hook is advisory, and a
// nil Telemetry (the default) costs nothing.
type Telemetry interface {
	OnPush(traceID string, item JournalItem)
	OnConsume(traceID string, pos uint64, item JournalItem)
	OnComplete(traceID string, pos uint64, expireAdvanced bool)
	OnObjectStoreFailure(traceID string, pos uint64, err error)
}

// JournalItem is the subset of a purge item telemetry cares about, kept
// separate from purgeitem.Item so this file has no import cycle back into
// purgeitem for something this small.
type JournalItem struct {
	InodeID uint64
	Size    uint64
}

// TraceFile is a chrome-trace-style JSON event log, ported from
// scm/trace.go's Tracefile: a '['-opened, ','-joined, ']'-closed JSON
// array of timestamped events, one event appended per call.
type TraceFile struct {
	mu         sync.Mutex
	file       io.WriteCloser
	isFirst    bool
	bytesTotal decimal.Decimal // running total of bytes purged, kept as
	// decimal rather than float64 so a long-lived queue's telemetry export
	// doesn't drift from accumulated rounding error.
}

func NewTraceFile(w io.WriteCloser) *TraceFile {
	w.Write([]byte("["))
	return &TraceFile{file: w, isFirst: true}
}

func (t *TraceFile) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.file.Write([]byte("]"))
	t.file.Close()
}

type traceEvent struct {
	Trace string `json:"trace"`
	Event string `json:"event"`
	Ts    int64  `json:"ts"`
	Pos   uint64 `json:"pos,omitempty"`
	Inode uint64 `json:"inode,omitempty"`
	Size  uint64 `json:"size,omitempty"`
	Err   string `json:"err,omitempty"`
}

func (t *TraceFile) write(ev traceEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.isFirst {
		t.file.Write([]byte(","))
	}
	t.isFirst = false
	enc, _ := json.Marshal(ev)
	t.file.Write(enc)
}

func (t *TraceFile) OnPush(traceID string, item JournalItem) {
	t.write(traceEvent{Trace: traceID, Event: "push", Ts: time.Now().UnixNano(), Inode: item.InodeID, Size: item.Size})
}

func (t *TraceFile) OnConsume(traceID string, pos uint64, item JournalItem) {
	t.write(traceEvent{Trace: traceID, Event: "consume", Ts: time.Now().UnixNano(), Pos: pos, Inode: item.InodeID, Size: item.Size})
	t.mu.Lock()
	t.bytesTotal = t.bytesTotal.Add(decimal.NewFromInt(int64(item.Size)))
	t.mu.Unlock()
}

func (t *TraceFile) OnComplete(traceID string, pos uint64, expireAdvanced bool) {
	ev := "complete"
	if expireAdvanced {
		ev = "complete-expire-advanced"
	}
	t.write(traceEvent{Trace: traceID, Event: ev, Ts: time.Now().UnixNano(), Pos: pos})
}

func (t *TraceFile) OnObjectStoreFailure(traceID string, pos uint64, err error) {
	t.write(traceEvent{Trace: traceID, Event: "objectstore-failure", Ts: time.Now().UnixNano(), Pos: pos, Err: err.Error()})
}

// BytesPurged returns the running total of bytes dispatched for removal,
// as a decimal.Decimal safe to export to a metrics sink.
func (t *TraceFile) BytesPurged() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytesTotal
}
