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

package journal

import (
	"sync"
	"testing"
	"time"
)

func mustFlush(t *testing.T, j *FileJournal) {
	t.Helper()
	var wg sync.WaitGroup
	wg.Add(1)
	var ferr error
	j.Flush(func(err error) { ferr = err; wg.Done() })
	waitOrTimeout(t, &wg)
	if ferr != nil {
		t.Fatalf("flush: %v", ferr)
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async callback")
	}
}

func TestFileJournalAppendAndRead(t *testing.T) {
	dir := t.TempDir()
	j := New(dir)
	defer j.Shutdown()

	var wg sync.WaitGroup
	wg.Add(1)
	j.Create("v1", func(err error) {
		if err != nil {
			t.Errorf("create: %v", err)
		}
		wg.Done()
	})
	waitOrTimeout(t, &wg)
	j.SetWriteable()

	j.AppendEntry([]byte("first"))
	mustFlush(t, j)

	if !j.IsReadable() {
		t.Fatal("expected readable after flush")
	}
	entry, ok := j.TryReadEntry()
	if !ok || string(entry) != "first" {
		t.Fatalf("got %q, %v", entry, ok)
	}
	pos := j.GetReadPos()
	if pos == 0 {
		t.Fatal("expected non-zero read position after consuming an entry")
	}

	if j.IsReadable() {
		t.Fatal("expected not readable once every appended entry has been read")
	}
}

func TestFileJournalRecoverAfterCrash(t *testing.T) {
	dir := t.TempDir()
	j := New(dir)

	var wg sync.WaitGroup
	wg.Add(1)
	j.Create("v1", func(err error) { wg.Done() })
	waitOrTimeout(t, &wg)
	j.SetWriteable()

	j.AppendEntry([]byte("item-a"))
	j.AppendEntry([]byte("item-b"))
	mustFlush(t, j)
	j.Shutdown() // simulate a crash: nothing was consumed or trimmed

	recovered := New(dir)
	defer recovered.Shutdown()
	wg.Add(1)
	var rerr error
	recovered.Recover(func(err error) { rerr = err; wg.Done() })
	waitOrTimeout(t, &wg)
	if rerr != nil {
		t.Fatalf("recover: %v", rerr)
	}
	recovered.SetWriteable()

	if !recovered.IsReadable() {
		t.Fatal("expected both unconsumed entries to still be readable after recovery")
	}
	first, ok := recovered.TryReadEntry()
	if !ok || string(first) != "item-a" {
		t.Fatalf("expected item-a first, got %q ok=%v", first, ok)
	}
	second, ok := recovered.TryReadEntry()
	if !ok || string(second) != "item-b" {
		t.Fatalf("expected item-b second, got %q ok=%v", second, ok)
	}
}

func TestFileJournalTrimAfterConsumingEverything(t *testing.T) {
	dir := t.TempDir()
	j := New(dir)
	defer j.Shutdown()

	var wg sync.WaitGroup
	wg.Add(1)
	j.Create("v1", func(err error) { wg.Done() })
	waitOrTimeout(t, &wg)
	j.SetWriteable()

	j.AppendEntry([]byte("a"))
	j.AppendEntry([]byte("b"))
	mustFlush(t, j)

	j.TryReadEntry()
	afterFirst := j.GetReadPos()
	j.TryReadEntry()
	afterSecond := j.GetReadPos()

	j.SetExpirePos(afterFirst)
	j.Trim()
	if j.IsWriteable() != true {
		t.Fatal("trim must not affect writeability")
	}

	j.SetExpirePos(afterSecond)
	j.Trim()
	if j.IsReadable() {
		t.Fatal("expected nothing readable once every entry has been consumed and expired")
	}
}

func TestFileJournalWaitForReadableWakesOnFlush(t *testing.T) {
	dir := t.TempDir()
	j := New(dir)
	defer j.Shutdown()

	var wg sync.WaitGroup
	wg.Add(1)
	j.Create("v1", func(err error) { wg.Done() })
	waitOrTimeout(t, &wg)
	j.SetWriteable()

	if j.HaveWaiter() {
		t.Fatal("no waiter should be registered yet")
	}

	var woke sync.WaitGroup
	woke.Add(1)
	j.WaitForReadable(func(err error) {
		if err != nil {
			t.Errorf("wait_for_readable: %v", err)
		}
		woke.Done()
	})
	if !j.HaveWaiter() {
		t.Fatal("expected a registered waiter")
	}

	j.AppendEntry([]byte("wakeup"))
	mustFlush(t, j)
	waitOrTimeout(t, &woke)
}
