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

// Package objectstore implements purge.ObjectStore against Ceph/RADOS and
// S3-compatible backends.
package objectstore

import (
	nlrm "github.com/launix-de/NonLockingReadMap"
)

// poolName pairs a pool id with the resolved name a backend client actually
// needs (e.g. the RADOS pool name or the S3 bucket/prefix a pool id maps
// to). It satisfies NonLockingReadMap's KeyGetter/Sizable contract the way
// storage package types that live in a NonLockingReadMap do.
type poolName struct {
	id   uint64
	name string
}

func (p poolName) GetKey() uint64 { return p.id }
func (p poolName) ComputeSize() uint {
	return 8 + 16 + uint(len(p.name))
}

// poolCache resolves a pool id to its backend-specific name. Pool-id to
// name mappings come from cluster config and change only on an
// administrative pool rename/creation, while every single object removal
// looks one up — exactly the read-heavy, write-rare profile
// NonLockingReadMap was built for (third_party/NonLockingReadMap/main.go).
type poolCache struct {
	m nlrm.NonLockingReadMap[poolName, uint64]
}

func newPoolCache() *poolCache {
	return &poolCache{m: nlrm.New[poolName, uint64]()}
}

// resolve returns the cached name for id, or fallback (and caches it) if
// this is the first time id has been seen.
func (c *poolCache) resolve(id uint64, fallback func(uint64) string) string {
	if v := c.m.Get(id); v != nil {
		return v.name
	}
	entry := poolName{id: id, name: fallback(id)}
	c.m.Set(&entry)
	return entry.name
}
