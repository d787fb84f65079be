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

// Package journal implements purge.Journal against real backends: a local
// append-only file, Ceph/RADOS objects and S3 objects. The engine requires
// every callback it registers to fire asynchronously, never inline from the
// call that registered it (spec.md §5); each backend schedules its
// onDone/onReadable callbacks through a shared serial executor instead of
// calling them directly.
package journal

// executor is the "separate serial callback queue" spec.md §5 assumes the
// engine's continuations run on. A single goroutine drains a channel of
// thunks in submission order, the same serialization guarantee the engine's
// single mutex relies on to avoid two completions for the same entry racing
// each other.
type executor struct {
	work chan func()
	done chan struct{}
}

func newExecutor() *executor {
	e := &executor{work: make(chan func(), 64), done: make(chan struct{})}
	go e.loop()
	return e
}

func (e *executor) loop() {
	for {
		select {
		case fn := <-e.work:
			fn()
		case <-e.done:
			// drain whatever is already queued before exiting so a flush
			// callback scheduled just before shutdown still fires.
			for {
				select {
				case fn := <-e.work:
					fn()
				default:
					return
				}
			}
		}
	}
}

// submit schedules fn to run on the executor goroutine, never on the
// caller's.
func (e *executor) submit(fn func()) {
	e.work <- fn
}

// stop tears the executor down. Safe to call once.
func (e *executor) stop() {
	close(e.done)
}
