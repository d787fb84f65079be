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

// Package layout describes how a file's bytes are striped across data
// objects in an object store pool, and answers the one question the purge
// queue needs of it: how many objects a given size touches.
package layout

import (
	"fmt"

	units "github.com/docker/go-units"
)

// FeatureLayoutV2 is set on every Layout encoded by this package. An older
// reader that only understands v1 layouts must refuse to decode it.
const FeatureLayoutV2 = 1 << 0

// Layout is the striping geometry for one file: stripe_unit bytes are
// written round-robin across stripe_count objects of object_size bytes
// each, before the pattern repeats.
type Layout struct {
	StripeUnit    uint64 // bytes per stripe, <= ObjectSize
	StripeCount   uint32 // number of objects in one stripe period
	ObjectSize    uint64 // size of each backing object
	PrimaryPool   uint64 // pool id holding the striped objects and (usually) the backtrace
	PoolNamespace string // optional RADOS namespace; empty means the default namespace
	Features      uint32 // feature bitmask, always includes FeatureLayoutV2 for items built with New
}

// New builds a validated Layout. It panics on a geometry that could never
// address a file, the same way the teacher's storage layer panics on
// invariant violations rather than returning a zero value.
func New(stripeUnit uint64, stripeCount uint32, objectSize uint64, primaryPool uint64, namespace string) Layout {
	if stripeUnit == 0 || stripeCount == 0 || objectSize == 0 {
		panic("layout: stripe_unit, stripe_count and object_size must be non-zero")
	}
	if stripeUnit > objectSize {
		panic("layout: stripe_unit must not exceed object_size")
	}
	return Layout{
		StripeUnit:    stripeUnit,
		StripeCount:   stripeCount,
		ObjectSize:    objectSize,
		PrimaryPool:   primaryPool,
		PoolNamespace: namespace,
		Features:      FeatureLayoutV2,
	}
}

// ParseSize accepts operator-friendly sizes ("4MiB", "1048576") the way a
// config file would spell out stripe_unit/object_size, and is the reason
// docker/go-units sits in this package rather than objectstore or journal.
func ParseSize(s string) (uint64, error) {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("layout: invalid size %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("layout: size %q must not be negative", s)
	}
	return uint64(n), nil
}

// HasNamespace reports whether objects of this layout live in a non-default
// RADOS namespace, which changes whether the backtrace object is subsumed
// by a ranged purge (see purge.execute).
func (l Layout) HasNamespace() bool {
	return l.PoolNamespace != ""
}

// NumObjects returns how many striped data objects a file of the given size
// touches under this layout. This mirrors Ceph's own Striper object-count
// formula: full stripe periods contribute StripeCount objects each, and a
// partial tail period contributes only as many objects as it actually
// reaches into.
func NumObjects(l Layout, size uint64) uint64 {
	if size == 0 {
		return 0
	}
	period := l.ObjectSize * uint64(l.StripeCount)
	fullPeriods := size / period
	tail := size % period
	objects := fullPeriods * uint64(l.StripeCount)
	if tail == 0 {
		return objects
	}
	tailObjects := (tail + l.StripeUnit - 1) / l.StripeUnit
	if tailObjects > uint64(l.StripeCount) {
		tailObjects = uint64(l.StripeCount)
	}
	return objects + tailObjects
}
