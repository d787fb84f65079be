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
	"sync"
	"testing"
	"time"

	"github.com/launix-de/purgequeue/layout"
	"github.com/launix-de/purgequeue/purgeitem"
)

// fakeJournal is an in-memory Journal good enough to drive the engine's
// state machine deterministically in tests. Flush fires synchronously
// (harmless: its callback only ever invokes the caller's on_appended,
// never touches the engine lock); WaitForReadable callbacks are only
// fired when a test explicitly asks for it, since the real contract
// never fires them inline either.
type fakeJournal struct {
	mu        sync.Mutex
	entries   [][]byte
	readIdx   int
	writeable bool
	waiter    func(err error)
	expire    uint64
	trims     int
}

func (j *fakeJournal) Recover(onDone func(err error))      { onDone(nil) }
func (j *fakeJournal) Create(_ string, onDone func(error)) { onDone(nil) }
func (j *fakeJournal) SetWriteable()                       { j.mu.Lock(); j.writeable = true; j.mu.Unlock() }
func (j *fakeJournal) IsWriteable() bool                   { j.mu.Lock(); defer j.mu.Unlock(); return j.writeable }

func (j *fakeJournal) IsReadable() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.readIdx < len(j.entries)
}

func (j *fakeJournal) AppendEntry(entry []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *fakeJournal) Flush(onDone func(err error)) { onDone(nil) }

func (j *fakeJournal) WaitForReadable(onDone func(err error)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.waiter = onDone
}

func (j *fakeJournal) HaveWaiter() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.waiter != nil
}

func (j *fakeJournal) TryReadEntry() ([]byte, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.readIdx >= len(j.entries) {
		return nil, false
	}
	e := j.entries[j.readIdx]
	j.readIdx++
	return e, true
}

func (j *fakeJournal) GetReadPos() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return uint64(j.readIdx)
}

func (j *fakeJournal) SetExpirePos(pos uint64) { j.mu.Lock(); j.expire = pos; j.mu.Unlock() }
func (j *fakeJournal) Trim()                   { j.mu.Lock(); j.trims++; j.mu.Unlock() }
func (j *fakeJournal) Shutdown()               {}

func (j *fakeJournal) expirePos() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.expire
}

// fakeStore is an ObjectStore whose sub-operations complete only when the
// test releases them, via a gate keyed by inode id. Every onDone fires on
// its own goroutine, matching the documented async contract. It also
// records how each sub-operation was dispatched, so tests can assert on
// dispatch shape (spec.md §8 scenarios 3 and 4) and not just final counts.
type fakeStore struct {
	mu          sync.Mutex
	gates       map[uint64]chan struct{}
	calls       int
	rangeCalls  int
	removeCalls int
	removed     []ObjectLocator
}

func newFakeStore() *fakeStore {
	return &fakeStore{gates: map[uint64]chan struct{}{}}
}

func (s *fakeStore) gate(inodeID uint64) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[inodeID]
	if !ok {
		g = make(chan struct{})
		s.gates[inodeID] = g
	}
	return g
}

// release lets every pending sub-operation for inodeID complete.
func (s *fakeStore) release(inodeID uint64) {
	close(s.gate(inodeID))
}

func (s *fakeStore) PurgeRange(inodeID uint64, _ layout.Layout, _ purgeitem.SnapContext, _, _ uint64, _ time.Time, _ RemoveFlags, onDone func(error)) {
	s.mu.Lock()
	s.calls++
	s.rangeCalls++
	s.mu.Unlock()
	g := s.gate(inodeID)
	go func() {
		<-g
		onDone(nil)
	}()
}

func (s *fakeStore) Remove(obj ObjectLocator, _ purgeitem.SnapContext, _ time.Time, _ RemoveFlags, onDone func(error)) {
	s.mu.Lock()
	s.calls++
	s.removeCalls++
	s.removed = append(s.removed, obj)
	s.mu.Unlock()
	var inodeID uint64
	for i := 0; i < len(obj.Name) && i < 16; i++ {
		inodeID = inodeID<<4 | uint64(hexDigit(obj.Name[i]))
	}
	g := s.gate(inodeID)
	go func() {
		<-g
		onDone(nil)
	}()
}

func hexDigit(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	}
	return 0
}

func testLayout() layout.Layout {
	return layout.New(4096, 1, 4<<20, 1, "")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestZeroSizeItemDispatchesExactlyOneOp(t *testing.T) {
	j := &fakeJournal{writeable: true}
	store := newFakeStore()
	e := NewEngine(j, store, Config{MaxInFlight: 1})

	item := purgeitem.New(0x42, 0, testLayout(), nil, purgeitem.SnapContext{})
	e.Push(item, func(err error) {
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
	})

	waitFor(t, func() bool { return e.InFlightCount() == 1 })
	store.release(0x42)
	waitFor(t, func() bool { return e.InFlightCount() == 0 })

	if got := e.ExpirePos(); got != 1 {
		t.Fatalf("expire pos = %d, want 1", got)
	}
	if store.calls != 1 {
		t.Fatalf("object store calls = %d, want exactly 1 for a zero-size item", store.calls)
	}
}

func TestSizedItemPurgesRangeThenAdvances(t *testing.T) {
	j := &fakeJournal{writeable: true}
	store := newFakeStore()
	e := NewEngine(j, store, Config{MaxInFlight: 1})

	item := purgeitem.New(0x7, 1<<22, testLayout(), nil, purgeitem.SnapContext{})
	e.Push(item, func(error) {})

	waitFor(t, func() bool { return e.InFlightCount() == 1 })
	store.release(0x7)
	waitFor(t, func() bool { return e.InFlightCount() == 0 })

	if e.ExpirePos() != 1 {
		t.Fatalf("expire pos = %d, want 1", e.ExpirePos())
	}
	if j.trims == 0 {
		t.Fatal("expected journal.Trim to be called on advancement")
	}
}

func TestAdmissionBoundDefersSecondItem(t *testing.T) {
	j := &fakeJournal{writeable: true}
	store := newFakeStore()
	e := NewEngine(j, store, Config{MaxInFlight: 1})

	itemA := purgeitem.New(0x1, 0, testLayout(), nil, purgeitem.SnapContext{})
	itemB := purgeitem.New(0x2, 0, testLayout(), nil, purgeitem.SnapContext{})
	e.Push(itemA, func(error) {})
	e.Push(itemB, func(error) {})

	waitFor(t, func() bool { return e.InFlightCount() == 1 })
	if e.InFlightCount() != 1 {
		t.Fatalf("expected only one item admitted under max_in_flight=1")
	}

	store.release(0x1)
	waitFor(t, func() bool { return e.ExpirePos() == 1 })
	waitFor(t, func() bool { return e.InFlightCount() == 1 })

	store.release(0x2)
	waitFor(t, func() bool { return e.ExpirePos() == 2 })
}

func TestOutOfOrderCompletionDefersExpireThenJumps(t *testing.T) {
	j := &fakeJournal{writeable: true}
	store := newFakeStore()
	e := NewEngine(j, store, Config{MaxInFlight: 2})

	itemA := purgeitem.New(0x10, 0, testLayout(), nil, purgeitem.SnapContext{})
	itemB := purgeitem.New(0x20, 0, testLayout(), nil, purgeitem.SnapContext{})
	e.Push(itemA, func(error) {})
	e.Push(itemB, func(error) {})

	waitFor(t, func() bool { return e.InFlightCount() == 2 })

	// B (the higher offset) finishes first; expire must not move.
	store.release(0x20)
	waitFor(t, func() bool { return e.InFlightCount() == 1 })
	if got := e.ExpirePos(); got != 0 {
		t.Fatalf("expire pos = %d after out-of-order completion, want 0 (unchanged)", got)
	}

	// A finishes; expire must jump straight to B's offset, not A's.
	store.release(0x10)
	waitFor(t, func() bool { return e.InFlightCount() == 0 })
	if got := e.ExpirePos(); got != 2 {
		t.Fatalf("expire pos = %d, want 2 (B's offset, not A's)", got)
	}
}

func TestMalformedEntryHaltsConsumption(t *testing.T) {
	j := &fakeJournal{writeable: true}
	store := newFakeStore()
	e := NewEngine(j, store, Config{MaxInFlight: 4})

	j.AppendEntry([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	e.mu.Lock()
	e.consumeLocked()
	e.mu.Unlock()

	waitFor(t, func() bool { return e.Err() != nil })
	if e.InFlightCount() != 0 {
		t.Fatal("a malformed entry must never be inserted into the in-flight map")
	}
}

func TestBeginDrainBypassesAdmissionBound(t *testing.T) {
	j := &fakeJournal{writeable: true}
	store := newFakeStore()
	e := NewEngine(j, store, Config{MaxInFlight: 1})

	itemA := purgeitem.New(0x100, 0, testLayout(), nil, purgeitem.SnapContext{})
	itemB := purgeitem.New(0x200, 0, testLayout(), nil, purgeitem.SnapContext{})
	e.Push(itemA, func(error) {})
	e.BeginDrain()
	e.Push(itemB, func(error) {})

	waitFor(t, func() bool { return e.InFlightCount() == 2 })

	store.release(0x100)
	store.release(0x200)
	waitFor(t, func() bool { return e.Empty() })
	e.EndDrain()
}

// spec.md §8 scenario 3: a namespaced layout keeps its backtrace object in
// a different namespace than the default one the ranged purge covers, so
// the engine must dispatch both a ranged purge and a separate backtrace
// removal.
func TestNamespacedLayoutDispatchesRangeAndSeparateBacktrace(t *testing.T) {
	j := &fakeJournal{writeable: true}
	store := newFakeStore()
	e := NewEngine(j, store, Config{MaxInFlight: 1})

	l := layout.New(4096, 1, 4<<20, 3, "ns")
	item := purgeitem.New(0x55, 1<<22, l, nil, purgeitem.SnapContext{})
	e.Push(item, func(error) {})

	waitFor(t, func() bool { return e.InFlightCount() == 1 })
	store.release(0x55)
	waitFor(t, func() bool { return e.InFlightCount() == 0 })

	if store.rangeCalls != 1 {
		t.Fatalf("range calls = %d, want 1", store.rangeCalls)
	}
	if store.removeCalls != 1 {
		t.Fatalf("remove calls = %d, want 1 (separate backtrace removal for a namespaced layout)", store.removeCalls)
	}
	if len(store.removed) != 1 || store.removed[0].PoolID != l.PrimaryPool {
		t.Fatalf("expected the one remove to target the primary pool, got %+v", store.removed)
	}
}

// spec.md §8 scenario 4: an item with old_pools = {7, 9} must dispatch
// three single-object removes: the primary pool plus one per old pool.
func TestOldPoolsFanOutDispatchesRemoveForEach(t *testing.T) {
	j := &fakeJournal{writeable: true}
	store := newFakeStore()
	e := NewEngine(j, store, Config{MaxInFlight: 1})

	item := purgeitem.New(0x99, 0, testLayout(), []uint64{7, 9}, purgeitem.SnapContext{})
	e.Push(item, func(error) {})

	waitFor(t, func() bool { return e.InFlightCount() == 1 })
	store.release(0x99)
	waitFor(t, func() bool { return e.InFlightCount() == 0 })

	if store.rangeCalls != 0 {
		t.Fatalf("range calls = %d, want 0 for a zero-size item", store.rangeCalls)
	}
	if store.removeCalls != 3 {
		t.Fatalf("remove calls = %d, want 3 (primary pool + 2 old pools)", store.removeCalls)
	}

	seen := map[uint64]int{}
	for _, loc := range store.removed {
		seen[loc.PoolID]++
	}
	want := testLayout().PrimaryPool
	if seen[want] != 1 || seen[7] != 1 || seen[9] != 1 {
		t.Fatalf("expected exactly one remove per pool {%d, 7, 9}, got %v", want, seen)
	}
}
