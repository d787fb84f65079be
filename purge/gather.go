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

import "sync"

// subOp is one sub-operation dispatched against the object-store adapter;
// it must invoke done exactly once, with a non-nil error only on failure.
type subOp func(done func(err error))

// gather is the completion combinator from spec.md §4.3/§9: a finisher
// fires only once every registered sub-operation has reported completion.
// It is built in two steps, matching the algorithm: ops are added while
// execute() is still deciding what to dispatch, then activate() is called
// once to let callbacks actually start firing.
type gather struct {
	mu       sync.Mutex
	ops      []subOp
	pending  int
	started  bool
	fired    bool
	finisher func()
}

func newGather() *gather {
	return &gather{}
}

// add registers one sub-operation. Must be called before finish/activate.
func (g *gather) add(op subOp) {
	if g.started {
		panic("purge: gather.add called after activate")
	}
	g.ops = append(g.ops, op)
}

// finish records the finisher to invoke once every sub-operation
// completes. The gather must have at least one sub-operation: an item
// that dispatched nothing would silently "complete" without doing
// anything, which spec.md §4.3 explicitly forbids.
func (g *gather) finish(finisher func()) {
	if len(g.ops) == 0 {
		panic("purge: gather has no sub-operations to dispatch")
	}
	g.pending = len(g.ops)
	g.finisher = finisher
}

// activate allows callbacks to fire: every registered sub-operation is
// launched now, each wired to call g.done on completion.
func (g *gather) activate() {
	g.started = true
	ops := g.ops
	for _, op := range ops {
		op(g.done)
	}
}

func (g *gather) done(err error) {
	g.mu.Lock()
	g.pending--
	remaining := g.pending
	fire := remaining == 0 && !g.fired
	if fire {
		g.fired = true
	}
	g.mu.Unlock()
	if fire {
		g.finisher()
	}
}
