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

package purgeitem

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/launix-de/purgequeue/layout"
)

// CompatVersion and CurrentVersion are the frame's compat/current version
// pair. A reader must refuse to decode anything with a current version it
// does not understand, even if compat_version looks familiar.
const (
	CompatVersion  = 1
	CurrentVersion = 1
	headerLen      = 1 + 1 + 4 // compat, current, body length
	trailerLen     = 4         // echoed body length
)

// MalformedEntryError is returned by Decode when the frame header, a
// length, or an inner field fails to parse. spec.md §7 treats this as
// fatal at the engine level; the codec itself just reports it.
type MalformedEntryError struct {
	Reason string
}

func (e *MalformedEntryError) Error() string {
	return "purgeitem: malformed entry: " + e.Reason
}

func malformed(format string, args ...interface{}) error {
	return &MalformedEntryError{Reason: fmt.Sprintf(format, args...)}
}

// Encode produces the framed on-disk representation of an Item: a leading
// (compat_version, current_version, length) header, the fields in their
// declared order (inode_id, size, layout, old_pools, snap_context), and a
// trailing length echo. This is the binary codec the teacher's own
// persistence-ceph.go left as a TODO ("replace JSON with a binary codec")
// for its framed log entries.
func Encode(item Item) []byte {
	var body bytes.Buffer
	writeUint64(&body, item.InodeID)
	writeUint64(&body, item.Size)
	encodeLayout(&body, item.Layout)
	writeUint32(&body, uint32(len(item.OldPools)))
	for _, p := range item.OldPools {
		writeUint64(&body, p)
	}
	writeUint64(&body, item.SnapContext.Seq)
	writeUint32(&body, uint32(len(item.SnapContext.Snaps)))
	for _, s := range item.SnapContext.Snaps {
		writeUint64(&body, s)
	}

	var frame bytes.Buffer
	frame.WriteByte(CompatVersion)
	frame.WriteByte(CurrentVersion)
	writeUint32(&frame, uint32(body.Len()))
	frame.Write(body.Bytes())
	writeUint32(&frame, uint32(body.Len()))
	return frame.Bytes()
}

// Decode reverses Encode. decode(encode(x)) == x for every well-formed
// item; a truncated, oversized, or version-mismatched frame yields a
// *MalformedEntryError.
func Decode(b []byte) (Item, error) {
	if len(b) < headerLen {
		return Item{}, malformed("frame shorter than header (%d bytes)", len(b))
	}
	compat := b[0]
	current := b[1]
	if compat != CompatVersion {
		return Item{}, malformed("unknown compat_version %d", compat)
	}
	if current > CurrentVersion {
		// an older reader must refuse unknown future versions outright.
		return Item{}, malformed("unsupported current_version %d (known up to %d)", current, CurrentVersion)
	}
	bodyLen := binary.LittleEndian.Uint32(b[2:6])
	want := headerLen + int(bodyLen) + trailerLen
	if len(b) != want {
		return Item{}, malformed("length mismatch: header says %d, frame is %d bytes", want, len(b))
	}
	body := b[headerLen : headerLen+int(bodyLen)]
	trailer := binary.LittleEndian.Uint32(b[headerLen+int(bodyLen):])
	if trailer != bodyLen {
		return Item{}, malformed("trailing length check failed: %d != %d", trailer, bodyLen)
	}

	r := &reader{buf: body}
	inodeID, err := r.uint64()
	if err != nil {
		return Item{}, err
	}
	size, err := r.uint64()
	if err != nil {
		return Item{}, err
	}
	l, err := decodeLayout(r)
	if err != nil {
		return Item{}, err
	}
	poolCount, err := r.uint32()
	if err != nil {
		return Item{}, err
	}
	var oldPools []uint64
	for i := uint32(0); i < poolCount; i++ {
		p, err := r.uint64()
		if err != nil {
			return Item{}, err
		}
		oldPools = append(oldPools, p)
	}
	seq, err := r.uint64()
	if err != nil {
		return Item{}, err
	}
	snapCount, err := r.uint32()
	if err != nil {
		return Item{}, err
	}
	var snaps []uint64
	for i := uint32(0); i < snapCount; i++ {
		s, err := r.uint64()
		if err != nil {
			return Item{}, err
		}
		snaps = append(snaps, s)
	}
	if !r.atEnd() {
		return Item{}, malformed("trailing garbage after snap_context")
	}

	return Item{
		InodeID:     inodeID,
		Size:        size,
		Layout:      l,
		OldPools:    oldPools,
		SnapContext: SnapContext{Seq: seq, Snaps: snaps},
	}, nil
}

func encodeLayout(w *bytes.Buffer, l layout.Layout) {
	writeUint32(w, l.Features|layout.FeatureLayoutV2)
	writeUint64(w, l.StripeUnit)
	writeUint32(w, l.StripeCount)
	writeUint64(w, l.ObjectSize)
	writeUint64(w, l.PrimaryPool)
	ns := []byte(l.PoolNamespace)
	writeUint16(w, uint16(len(ns)))
	w.Write(ns)
}

func decodeLayout(r *reader) (layout.Layout, error) {
	features, err := r.uint32()
	if err != nil {
		return layout.Layout{}, err
	}
	if features&layout.FeatureLayoutV2 == 0 {
		return layout.Layout{}, malformed("layout missing layout-v2 feature flag")
	}
	stripeUnit, err := r.uint64()
	if err != nil {
		return layout.Layout{}, err
	}
	stripeCount, err := r.uint32()
	if err != nil {
		return layout.Layout{}, err
	}
	objectSize, err := r.uint64()
	if err != nil {
		return layout.Layout{}, err
	}
	primaryPool, err := r.uint64()
	if err != nil {
		return layout.Layout{}, err
	}
	nsLen, err := r.uint16()
	if err != nil {
		return layout.Layout{}, err
	}
	ns, err := r.bytes(int(nsLen))
	if err != nil {
		return layout.Layout{}, err
	}
	return layout.Layout{
		Features:      features,
		StripeUnit:    stripeUnit,
		StripeCount:   stripeCount,
		ObjectSize:    objectSize,
		PrimaryPool:   primaryPool,
		PoolNamespace: string(ns),
	}, nil
}

// --- small cursor over a decoded body; every read is bounds-checked so a
// truncated field surfaces as MalformedEntryError rather than a panic.

type reader struct {
	buf []byte
	pos int
}

func (r *reader) atEnd() bool { return r.pos == len(r.buf) }

func (r *reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return malformed("unexpected end of frame (need %d bytes at offset %d, have %d)", n, r.pos, len(r.buf))
	}
	return nil
}

func (r *reader) uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := r.buf[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

func writeUint64(w *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.Write(b[:])
}

func writeUint32(w *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func writeUint16(w *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.Write(b[:])
}
