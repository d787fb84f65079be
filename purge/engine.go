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

// Package purge implements the durable purge queue's state machine: a
// single-threaded, mutex-guarded engine that appends deletion intents to a
// journal, dispatches bounded concurrent object-store removals, and
// advances a monotone expire frontier only once every earlier purge has
// completed.
package purge

import (
	"math"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/launix-de/purgequeue/layout"
	"github.com/launix-de/purgequeue/purgeitem"
)

// QuarantineSink receives malformed entries and permanently-failed
// removals for operator inspection. It never changes the engine's
// documented behavior (spec.md §7's MalformedEntry is still fatal, a
// permanent object-store failure still advances the frontier); it is
// pure additive telemetry answering §9's open question. Implementations
// live in package quarantine and satisfy this interface structurally, so
// this package does not need to import quarantine.
type QuarantineSink interface {
	Quarantine(reason string, pos uint64, raw []byte, item *purgeitem.Item, cause error)
}

// Config configures a new Engine. Telemetry and Quarantine are both
// optional; a nil value disables the corresponding hook entirely.
type Config struct {
	// MaxInFlight bounds concurrent in-flight items. Zero or negative
	// means the minimum compliant policy: at most one item in flight.
	MaxInFlight int
	// Namer produces the canonical backtrace object name for an inode.
	// DefaultNamer is used when nil.
	Namer      Namer
	Telemetry  Telemetry
	Quarantine QuarantineSink
}

// Engine is the purge queue state machine described by spec.md §4.3 and
// §5: a single mutex guards all mutable state, every entry point acquires
// it first, and nothing blocks while it is held. Suspension is always
// expressed as registering a continuation (flush, wait_for_readable, or a
// gather finisher) that re-enters under the lock later.
type Engine struct {
	mu sync.Mutex

	journal Journal
	store   ObjectStore
	namer   Namer

	inflight  *inflightMap
	expirePos uint64
	pending   pendingFrontier // out-of-order completions awaiting a frontier fold

	sem           *semaphore.Weighted
	configuredMax int64
	draining      bool

	telemetry  Telemetry
	quarantine QuarantineSink

	// fatal is set once a MalformedEntry halts consumption; it is never
	// cleared, matching spec.md §7's "operator must intervene".
	fatal error
}

// NewEngine wires an Engine to its journal and object-store adapters.
func NewEngine(journal Journal, store ObjectStore, cfg Config) *Engine {
	max := cfg.MaxInFlight
	if max <= 0 {
		max = 1
	}
	namer := cfg.Namer
	if namer == nil {
		namer = DefaultNamer
	}
	return &Engine{
		journal:       journal,
		store:         store,
		namer:         namer,
		inflight:      newInflightMap(),
		sem:           semaphore.NewWeighted(int64(max)),
		configuredMax: int64(max),
		telemetry:     cfg.Telemetry,
		quarantine:    cfg.Quarantine,
	}
}

// Push encodes and appends item, schedules a flush, and returns
// immediately; on_appended fires once the append is durable. After
// scheduling the flush it opportunistically tries to consume, exactly as
// spec.md §4.3 describes.
func (e *Engine) Push(item purgeitem.Item, onAppended func(err error)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.journal.IsWriteable() {
		panic("purge: push requires the journal to be writeable")
	}

	traceID := newTraceID()
	if e.telemetry != nil {
		e.telemetry.OnPush(traceID, JournalItem{InodeID: item.InodeID, Size: item.Size})
	}

	encoded := purgeitem.Encode(item)
	e.journal.AppendEntry(encoded)
	e.journal.Flush(func(err error) {
		if err != nil {
			onAppended(&JournalWriteError{Err: err})
			return
		}
		onAppended(nil)
	})

	e.consumeLocked()
}

// onReadable is the wait_for_readable continuation. A read failure does
// not re-enter consume(); the engine simply waits for the next
// readability event, per spec.md §7.
func (e *Engine) onReadable(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		return
	}
	e.consumeLocked()
}

// consumeLocked is the consumption algorithm of spec.md §4.3. Callers must
// already hold e.mu.
func (e *Engine) consumeLocked() {
	if e.fatal != nil {
		return
	}

	acquired := false
	if !e.draining {
		if !e.sem.TryAcquire(1) {
			return // at the admission bound
		}
		acquired = true
	}

	if !e.journal.IsReadable() {
		if acquired {
			e.sem.Release(1)
		}
		if !e.journal.HaveWaiter() {
			e.journal.WaitForReadable(e.onReadable)
		}
		return
	}

	raw, ok := e.journal.TryReadEntry()
	if !ok {
		// is_readable() was true a moment ago; nothing to do but give the
		// permit back and wait for the next signal.
		if acquired {
			e.sem.Release(1)
		}
		return
	}

	pos := e.journal.GetReadPos()
	item, err := purgeitem.Decode(raw)
	if err != nil {
		if acquired {
			e.sem.Release(1)
		}
		e.fatal = &MalformedEntryError{Pos: pos, Err: err}
		if e.quarantine != nil {
			e.quarantine.Quarantine("malformed-entry", pos, raw, nil, err)
		}
		return
	}

	e.execute(item, pos, acquired)
}

// execute dispatches the sub-operations for one consumed item and wires a
// finisher that re-enters complete() once they all report done. spec.md
// §4.3 step 3 requires at least one sub-operation; gather.finish enforces
// that invariant.
func (e *Engine) execute(item purgeitem.Item, pos uint64, semAcquired bool) {
	e.inflight.insert(pos, item, semAcquired)

	traceID := newTraceID()
	if e.telemetry != nil {
		e.telemetry.OnConsume(traceID, pos, JournalItem{InodeID: item.InodeID, Size: item.Size})
	}

	g := newGather()
	issuedRanged := item.Size > 0
	if issuedRanged {
		num := layout.NumObjects(item.Layout, item.Size)
		g.add(func(done func(error)) {
			e.dispatchPurgeRange(traceID, pos, item, num, done)
		})
	}
	// The ranged purge in the default namespace already removes the
	// backtrace object; only remove it separately when no ranged purge
	// was issued, or the layout keeps its backtrace in another
	// namespace.
	if !issuedRanged || item.Layout.HasNamespace() {
		loc := ObjectLocator{Name: e.namer(item.InodeID), PoolID: item.Layout.PrimaryPool, Namespace: item.Layout.PoolNamespace}
		g.add(func(done func(error)) {
			e.dispatchRemove(traceID, pos, loc, item.SnapContext, done)
		})
	}
	for _, pool := range item.OldPools {
		loc := ObjectLocator{Name: e.namer(item.InodeID), PoolID: pool}
		g.add(func(done func(error)) {
			e.dispatchRemove(traceID, pos, loc, item.SnapContext, done)
		})
	}

	g.finish(func() {
		e.complete(pos, traceID)
	})
	g.activate()
}

func (e *Engine) dispatchPurgeRange(traceID string, pos uint64, item purgeitem.Item, numObjects uint64, done func(error)) {
	goWithTrace(traceID, func() {
		e.store.PurgeRange(item.InodeID, item.Layout, item.SnapContext, 0, numObjects, time.Now(), FlagNone, func(err error) {
			e.onSubOpDone(traceID, pos, err, done)
		})
	})
}

func (e *Engine) dispatchRemove(traceID string, pos uint64, loc ObjectLocator, snap purgeitem.SnapContext, done func(error)) {
	goWithTrace(traceID, func() {
		e.store.Remove(loc, snap, time.Now(), FlagNone, func(err error) {
			e.onSubOpDone(traceID, pos, err, done)
		})
	})
}

// onSubOpDone records a permanent object-store failure (quarantine +
// telemetry) but always reports the sub-operation as done: spec.md §7
// documents that a permanent failure is treated as purged at the engine
// level, with the adapter responsible for its own retries.
func (e *Engine) onSubOpDone(traceID string, pos uint64, err error, done func(error)) {
	if err != nil {
		if e.telemetry != nil {
			e.telemetry.OnObjectStoreFailure(traceID, pos, err)
		}
		if e.quarantine != nil {
			e.quarantine.Quarantine("objectstore-failure", pos, nil, nil, err)
		}
	}
	done(err)
}

// complete re-enters under the lock once every sub-operation of the item
// at pos has finished. spec.md §4.3 step 2 only advances the frontier when
// pos is currently the minimum in-flight key; an out-of-order completion
// (a higher offset finishing first) is remembered instead of discarded, so
// that once the true minimum eventually completes, the frontier can jump
// straight past every already-finished offset above it in one step
// (invariant 6: "B completes first -> unchanged; then A completes ->
// jumps to B, not A").
func (e *Engine) complete(pos uint64, traceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.inflight.get(pos)
	if !ok {
		panic("purge: complete() called for a position not in the in-flight map")
	}

	minEntry, hasMin := e.inflight.min()
	isMin := hasMin && minEntry.pos == pos

	e.inflight.remove(pos)
	if entry.semAcquired {
		e.sem.Release(1)
	}

	advanced := false
	if isMin {
		newFrontier := pos
		limit := uint64(math.MaxUint64)
		if next, ok := e.inflight.min(); ok {
			limit = next.pos
		}
		if folded, ok := e.pending.foldBelow(limit); ok && folded > newFrontier {
			newFrontier = folded
		}
		e.journal.SetExpirePos(newFrontier)
		e.journal.Trim()
		e.expirePos = newFrontier
		advanced = true
	} else {
		e.pending.add(pos)
	}

	if e.telemetry != nil {
		e.telemetry.OnComplete(traceID, pos, advanced)
	}

	e.consumeLocked()
}

// ExpirePos returns the current expire frontier.
func (e *Engine) ExpirePos() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.expirePos
}

// InFlightCount returns the number of items currently executing.
func (e *Engine) InFlightCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inflight.len()
}

// Err returns the fatal error that halted consumption, or nil if the
// engine is healthy.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fatal
}

// BeginDrain temporarily lifts the admission bound so a deactivating rank
// can flush its queue faster (spec.md §9, future-work marker c). It does
// not change FIFO ordering, the in-flight map, or expire advancement —
// only how many items may be consumed concurrently.
func (e *Engine) BeginDrain() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draining = true
	e.consumeLocked()
}

// EndDrain restores the configured admission bound.
func (e *Engine) EndDrain() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draining = false
}

// SetMaxInFlight changes the admission bound at runtime, per spec.md
// §4.3's note that it is an operator-configurable knob. x/sync/semaphore
// has no resize operation, so this swaps in a freshly sized semaphore and
// re-reserves a permit for every entry already holding one, preserving
// exactly how many permits are currently spoken for.
func (e *Engine) SetMaxInFlight(max int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if max <= 0 {
		max = 1
	}
	if int64(max) == e.configuredMax {
		return
	}
	held := e.inflight.countAcquired()
	newSem := semaphore.NewWeighted(int64(max))
	for i := 0; i < held && i < max; i++ {
		newSem.TryAcquire(1)
	}
	e.sem = newSem
	e.configuredMax = int64(max)
	e.consumeLocked()
}

// Empty reports whether the in-flight map is empty. Callers that require
// drain-before-shutdown must poll this before calling Shutdown, per
// spec.md §5.
func (e *Engine) Empty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inflight.empty()
}
