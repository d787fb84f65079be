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
	"context"
	"testing"
	"time"

	"github.com/launix-de/purgequeue/purgeitem"
)

func TestLifecycleOpenMarksJournalWriteableAndDrainsBacklog(t *testing.T) {
	j := &fakeJournal{}
	store := newFakeStore()
	e := NewEngine(j, store, Config{MaxInFlight: 4})
	l := NewLifecycle(e, j)

	j.AppendEntry(purgeitem.Encode(purgeitem.New(0x9, 0, testLayout(), nil, purgeitem.SnapContext{})))

	var openErr error
	l.Open(func(err error) { openErr = err })
	if openErr != nil {
		t.Fatalf("Open failed: %v", openErr)
	}
	if !j.IsWriteable() {
		t.Fatal("Open must mark the journal writeable")
	}

	waitFor(t, func() bool { return e.InFlightCount() == 1 })
	store.release(0x9)
	waitFor(t, func() bool { return e.Empty() })
}

func TestLifecycleDrainWaitsForEmptyInFlight(t *testing.T) {
	j := &fakeJournal{writeable: true}
	store := newFakeStore()
	e := NewEngine(j, store, Config{MaxInFlight: 1})
	l := NewLifecycle(e, j)

	item := purgeitem.New(0xa, 0, testLayout(), nil, purgeitem.SnapContext{})
	e.Push(item, func(error) {})
	waitFor(t, func() bool { return e.InFlightCount() == 1 })

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- l.Drain(ctx)
	}()

	time.Sleep(30 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("Drain returned before the in-flight item completed")
	default:
	}

	store.release(0xa)
	if err := <-done; err != nil {
		t.Fatalf("Drain returned %v, want nil", err)
	}
}

func TestLifecycleDrainTimesOut(t *testing.T) {
	j := &fakeJournal{writeable: true}
	store := newFakeStore()
	e := NewEngine(j, store, Config{MaxInFlight: 1})
	l := NewLifecycle(e, j)

	item := purgeitem.New(0xb, 0, testLayout(), nil, purgeitem.SnapContext{})
	e.Push(item, func(error) {})
	waitFor(t, func() bool { return e.InFlightCount() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Drain(ctx); err != ErrDrainTimeout {
		t.Fatalf("Drain error = %v, want ErrDrainTimeout", err)
	}
	store.release(0xb)
}
