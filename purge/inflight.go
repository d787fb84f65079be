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
	"github.com/google/btree"
	"github.com/launix-de/purgequeue/purgeitem"
)

// inflightEntry is one item currently being executed, keyed by the journal
// read position immediately after it was consumed.
type inflightEntry struct {
	pos         uint64
	item        purgeitem.Item
	semAcquired bool // whether this entry holds an admission permit
}

func inflightLess(a, b inflightEntry) bool { return a.pos < b.pos }

// inflightMap is the ordered map from spec.md §3: keys are unique and
// strictly increasing with consumption order, and the minimum key must be
// cheaply retrievable so completion can decide whether to advance the
// expire frontier. A B-tree gives log-n insert/delete and O(log n) (in
// practice near-O(1) for the shallow trees this queue produces) access to
// the minimum.
type inflightMap struct {
	tree *btree.BTreeG[inflightEntry]
}

func newInflightMap() *inflightMap {
	return &inflightMap{tree: btree.NewG(8, inflightLess)}
}

func (m *inflightMap) insert(pos uint64, item purgeitem.Item, semAcquired bool) {
	if _, exists := m.tree.ReplaceOrInsert(inflightEntry{pos: pos, item: item, semAcquired: semAcquired}); exists {
		panic("purge: in-flight map key collision at read position")
	}
}

func (m *inflightMap) get(pos uint64) (inflightEntry, bool) {
	return m.tree.Get(inflightEntry{pos: pos})
}

func (m *inflightMap) remove(pos uint64) (inflightEntry, bool) {
	return m.tree.Delete(inflightEntry{pos: pos})
}

func (m *inflightMap) min() (inflightEntry, bool) {
	return m.tree.Min()
}

func (m *inflightMap) len() int {
	return m.tree.Len()
}

func (m *inflightMap) empty() bool {
	return m.tree.Len() == 0
}

// countAcquired returns how many in-flight entries currently hold an
// admission permit, used when the admission bound is resized.
func (m *inflightMap) countAcquired() int {
	n := 0
	m.tree.Ascend(func(e inflightEntry) bool {
		if e.semAcquired {
			n++
		}
		return true
	})
	return n
}
