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

import "fmt"

// MalformedEntryError surfaces a decode failure encountered during
// consumption. It is fatal: the engine stops consuming and an operator
// must intervene (spec.md §7).
type MalformedEntryError struct {
	Pos uint64
	Err error
}

func (e *MalformedEntryError) Error() string {
	return fmt.Sprintf("purge: malformed entry at read position %d: %v", e.Pos, e.Err)
}

func (e *MalformedEntryError) Unwrap() error { return e.Err }

// JournalWriteError wraps a non-ok append/flush callback status. It is
// reported through the push caller's on_appended callback; it is the
// caller's responsibility to retry or surface it further.
type JournalWriteError struct {
	Err error
}

func (e *JournalWriteError) Error() string {
	return fmt.Sprintf("purge: journal write failed: %v", e.Err)
}

func (e *JournalWriteError) Unwrap() error { return e.Err }

// JournalReadError wraps a non-ok wait_for_readable callback status. The
// engine does not re-enter consume() on this callback; it waits for the
// next readability event instead.
type JournalReadError struct {
	Err error
}

func (e *JournalReadError) Error() string {
	return fmt.Sprintf("purge: journal read failed: %v", e.Err)
}

func (e *JournalReadError) Unwrap() error { return e.Err }
