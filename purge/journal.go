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

// Journal is the engine's view of the host's journaled append-only log. It
// is a thin contract: append, flush, replay, readable-waiting, expire
// position, and trim. Concrete implementations live in package journal and
// wrap a real backend (file, Ceph/RADOS, S3); the engine only ever talks to
// this interface, never to a backend directly.
//
// Every callback (onDone) is invoked on the journal's own executor, never
// synchronously from within the method that registers it.
type Journal interface {
	// Recover replays the head of the log. onDone is invoked once the read
	// position sits at the first unexecuted entry.
	Recover(onDone func(err error))

	// Create initializes a brand new journal with the given head format,
	// for a namespace that has never had one.
	Create(format string, onDone func(err error))

	// SetWriteable marks the journal writable after a successful Recover
	// or Create.
	SetWriteable()

	// IsWriteable and IsReadable are plain state queries; they must not
	// block.
	IsWriteable() bool
	IsReadable() bool

	// AppendEntry buffers an entry for durable write and returns
	// immediately.
	AppendEntry(entry []byte)

	// Flush ensures all prior AppendEntry calls are durable, then invokes
	// onDone.
	Flush(onDone func(err error))

	// WaitForReadable invokes onDone the next time IsReadable() becomes
	// true. At most one such waiter may be registered at a time; callers
	// must check HaveWaiter first.
	WaitForReadable(onDone func(err error))
	HaveWaiter() bool

	// TryReadEntry is non-blocking and must only be called when
	// IsReadable() is true. It returns (nil, false) if nothing is
	// available to read right now.
	TryReadEntry() (entry []byte, ok bool)

	// GetReadPos returns the offset of the next entry after the last
	// successful TryReadEntry.
	GetReadPos() uint64

	// SetExpirePos advances the expire frontier; Trim physically reclaims
	// everything at or below it.
	SetExpirePos(pos uint64)
	Trim()

	// Shutdown tears the journal down. Pending callbacks are dropped
	// safely; in-flight operations are not cancelled.
	Shutdown()
}
