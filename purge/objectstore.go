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
	"time"

	"github.com/launix-de/purgequeue/layout"
	"github.com/launix-de/purgequeue/purgeitem"
)

// RemoveFlags are passed through to the object-store adapter unmodified;
// the engine never interprets them. Backends may map them onto whatever
// their client library exposes (e.g. a "best effort" vs "must ack" mode).
type RemoveFlags uint32

const (
	FlagNone RemoveFlags = 0
)

// ObjectLocator names a single object: its RADOS-style (pool, namespace)
// coordinates plus the object's own name.
type ObjectLocator struct {
	Name      string
	PoolID    uint64
	Namespace string
}

// ObjectStore is the engine's view of the remote object store. Both
// operations invoke onDone exactly once, and success is idempotent —
// removing an object that is already absent must be reported as success.
// The engine calls PurgeRange and Remove on a goroutine of their own (see
// goWithTrace), never while holding its lock, so an implementation may do
// its work synchronously and invoke onDone before returning.
type ObjectStore interface {
	// PurgeRange removes the `count` striped data objects of inodeID
	// starting at stripe index firstObj, under the given layout and
	// snapshot context.
	PurgeRange(inodeID uint64, l layout.Layout, snap purgeitem.SnapContext, firstObj, count uint64, mtime time.Time, flags RemoveFlags, onDone func(err error))

	// Remove deletes a single named object (typically a backtrace object)
	// under the given snapshot context.
	Remove(obj ObjectLocator, snap purgeitem.SnapContext, mtime time.Time, flags RemoveFlags, onDone func(err error))
}

// Namer produces the canonical backtrace object name for an inode. A real
// deployment gets this from the inode layer; tests and the default wiring
// use DefaultNamer.
type Namer func(inodeID uint64) string

// DefaultNamer mirrors the convention of naming a metadata object after the
// hex encoding of its inode number, zero-padded to 16 hex digits the way a
// 64-bit inode id would be.
func DefaultNamer(inodeID uint64) string {
	return hex16(inodeID)
}

func hex16(v uint64) string {
	const digits = "0123456789abcdef"
	var b [16]byte
	for i := 15; i >= 0; i-- {
		b[i] = digits[v&0xf]
		v >>= 4
	}
	return string(b[:])
}
