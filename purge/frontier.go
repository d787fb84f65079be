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

import "sort"

// pendingFrontier remembers completions that finished out of order, i.e.
// while a lower-offset item was still in flight. spec.md's invariant 6
// ("B completes first -> expire unchanged; then A completes -> expire
// jumps to B, not A") requires folding these back in once the true
// minimum finally completes, rather than only ever advancing to the
// position that just completed.
type pendingFrontier struct {
	positions []uint64 // kept sorted ascending; small by construction (bounded by max_in_flight)
}

func (p *pendingFrontier) add(pos uint64) {
	i := sort.Search(len(p.positions), func(i int) bool { return p.positions[i] >= pos })
	p.positions = append(p.positions, 0)
	copy(p.positions[i+1:], p.positions[i:])
	p.positions[i] = pos
}

// foldBelow removes every remembered position strictly less than limit and
// returns the largest one removed. limit is the new oldest still-in-flight
// position, or math.MaxUint64 if nothing remains in flight.
func (p *pendingFrontier) foldBelow(limit uint64) (uint64, bool) {
	idx := sort.Search(len(p.positions), func(i int) bool { return p.positions[i] >= limit })
	if idx == 0 {
		return 0, false
	}
	folded := p.positions[idx-1]
	p.positions = p.positions[idx:]
	return folded, true
}
