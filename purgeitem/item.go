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

// Package purgeitem holds the one deletion intent that flows through the
// purge queue, and its versioned on-disk encoding.
package purgeitem

import (
	"fmt"

	"github.com/launix-de/purgequeue/layout"
)

// SnapContext is the snapshot sequence and the set of snapshot ids still
// alive at the time of removal, carried alongside every delete op so the
// object store preserves the right clones.
type SnapContext struct {
	Seq   uint64
	Snaps []uint64
}

func (c SnapContext) validate() error {
	for _, s := range c.Snaps {
		if s > c.Seq {
			return fmt.Errorf("purgeitem: snap id %d exceeds snap_context seq %d", s, c.Seq)
		}
	}
	return nil
}

// Item is one durable deletion intent: everything the engine needs to
// remove the backing objects of a deleted inode, independent of any live
// metadata.
type Item struct {
	InodeID     uint64
	Size        uint64 // zero means the inode carried no striped data objects
	Layout      layout.Layout
	OldPools    []uint64 // pools that may still hold backtrace objects for this inode
	SnapContext SnapContext
}

// New constructs an Item and panics if it violates the invariants spec.md
// §3 requires of a PurgeItem: a valid primary pool and a well-formed
// snap_context. Size is a uint64 by construction so "size >= 0" always
// holds.
func New(inodeID uint64, size uint64, l layout.Layout, oldPools []uint64, snap SnapContext) Item {
	if l.PrimaryPool == 0 {
		// pool id 0 is reserved/invalid in a RADOS cluster; a real primary
		// pool is always >= 1.
		panic("purgeitem: layout.primary_pool must be valid (non-zero)")
	}
	if err := snap.validate(); err != nil {
		panic(err)
	}
	pools := append([]uint64(nil), oldPools...)
	return Item{
		InodeID:     inodeID,
		Size:        size,
		Layout:      l,
		OldPools:    pools,
		SnapContext: snap,
	}
}
