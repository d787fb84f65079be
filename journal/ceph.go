//go:build ceph

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

package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ceph/go-ceph/rados"
)

// CephJournal is the RADOS-backed sibling of FileJournal, ported from
// storage/persistence-ceph.go's CephLogfile/CephStorage log segment
// machinery: RADOS has no append primitive, so entries are buffered and
// written at a tracked offset, and segments are rolled over by size with a
// small JSON manifest object tracking which segment numbers exist (the same
// "manifest instead of pool-wide enumeration" trick the teacher uses,
// because listing objects under a prefix is expensive in RADOS).
type CephJournal struct {
	conn   *rados.Conn
	ioctx  *rados.IOContext
	prefix string
	ex     *executor

	mu        sync.Mutex
	segs      []segmentMeta
	expirePos uint64
	writeable bool
	writeBuf  []byte
	curIdx    uint32

	readIdx    int
	readOffset uint64
	readPos    uint64
	waiter     func(err error)
}

// NewCeph connects to a RADOS cluster/pool exactly as CephStorage.ensureOpen
// does, and scopes every object this journal touches under prefix.
func NewCeph(clusterName, userName, confFile, pool, prefix string) (*CephJournal, error) {
	conn, err := rados.NewConnWithClusterAndUser(clusterName, userName)
	if err != nil {
		return nil, err
	}
	if confFile != "" {
		if err := conn.ReadConfigFile(confFile); err != nil {
			return nil, err
		}
	} else {
		_ = conn.ReadDefaultConfigFile()
	}
	if err := conn.Connect(); err != nil {
		return nil, err
	}
	ioctx, err := conn.OpenIOContext(pool)
	if err != nil {
		conn.Shutdown()
		return nil, err
	}
	return &CephJournal{conn: conn, ioctx: ioctx, prefix: prefix, ex: newExecutor()}, nil
}

func (j *CephJournal) obj(name string) string { return j.prefix + "/" + name }

func (j *CephJournal) manifestObj() string { return j.obj("manifest.json") }
func (j *CephJournal) segObj(idx uint32) string {
	return j.obj(fmt.Sprintf("seg.%08d", idx))
}

func (j *CephJournal) Create(format string, onDone func(err error)) {
	j.mu.Lock()
	j.segs = []segmentMeta{{Index: 0, Start: 0, Len: 0}}
	j.curIdx = 0
	j.readIdx = 0
	err := j.ioctx.Truncate(j.segObj(0), 0)
	if err == nil {
		err = j.saveManifestLocked()
	}
	j.mu.Unlock()
	j.ex.submit(func() { onDone(err) })
}

func (j *CephJournal) Recover(onDone func(err error)) {
	j.mu.Lock()
	var err error
	stat, serr := j.ioctx.Stat(j.manifestObj())
	if serr != nil {
		err = fmt.Errorf("journal: no ceph manifest to recover: %w", serr)
	} else {
		raw := make([]byte, stat.Size)
		if _, rerr := j.ioctx.Read(j.manifestObj(), raw, 0); rerr != nil {
			err = rerr
		} else {
			var m manifest
			if uerr := json.Unmarshal(raw, &m); uerr != nil {
				err = uerr
			} else {
				j.segs = m.Segments
				j.expirePos = m.ExpirePos
				sort.Slice(j.segs, func(a, b int) bool { return j.segs[a].Start < j.segs[b].Start })
				j.readPos = j.expirePos
				j.readIdx, j.readOffset = locateIn(j.segs, j.expirePos)
				j.curIdx = j.segs[len(j.segs)-1].Index
			}
		}
	}
	j.mu.Unlock()
	j.ex.submit(func() { onDone(err) })
}

// locateIn mirrors FileJournal.locate for a segmentMeta slice that isn't
// attached to a *FileJournal.
func locateIn(segs []segmentMeta, pos uint64) (int, uint64) {
	for i, s := range segs {
		if pos < s.Start+s.Len || i == len(segs)-1 {
			if pos < s.Start {
				return i, 0
			}
			return i, pos - s.Start
		}
	}
	return len(segs) - 1, 0
}

func (j *CephJournal) saveManifestLocked() error {
	raw, err := json.Marshal(manifest{Segments: j.segs, ExpirePos: j.expirePos})
	if err != nil {
		return err
	}
	return j.ioctx.WriteFull(j.manifestObj(), raw)
}

func (j *CephJournal) SetWriteable() {
	j.mu.Lock()
	j.writeable = true
	j.mu.Unlock()
}

func (j *CephJournal) IsWriteable() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.writeable
}

func (j *CephJournal) IsReadable() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.isReadableLocked()
}

func (j *CephJournal) isReadableLocked() bool {
	if j.readIdx >= len(j.segs) {
		return false
	}
	if j.readOffset < j.segs[j.readIdx].Len {
		return true
	}
	for i := j.readIdx + 1; i < len(j.segs); i++ {
		if j.segs[i].Len > 0 {
			return true
		}
	}
	return false
}

func (j *CephJournal) AppendEntry(entry []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(entry)))
	j.writeBuf = append(j.writeBuf, hdr[:]...)
	j.writeBuf = append(j.writeBuf, entry...)
}

func (j *CephJournal) Flush(onDone func(err error)) {
	j.mu.Lock()
	err := j.flushLocked()
	waiter, wakeErr := j.maybeWakeWaiterLocked(err)
	j.mu.Unlock()
	j.ex.submit(func() {
		onDone(err)
		if waiter != nil {
			waiter(wakeErr)
		}
	})
}

func (j *CephJournal) flushLocked() error {
	if len(j.writeBuf) == 0 {
		return nil
	}
	cur := &j.segs[len(j.segs)-1]
	const maxSeg = 64 * 1024 * 1024
	if cur.Len+uint64(len(j.writeBuf)) > maxSeg && cur.Len > 0 {
		next := segmentMeta{Index: j.curIdx + 1, Start: cur.Start + cur.Len, Len: 0}
		if err := j.ioctx.Truncate(j.segObj(next.Index), 0); err != nil {
			return err
		}
		j.segs = append(j.segs, next)
		j.curIdx = next.Index
		cur = &j.segs[len(j.segs)-1]
	}
	op := rados.CreateWriteOp()
	defer op.Release()
	op.Write(j.writeBuf, cur.Len)
	if err := op.Operate(j.ioctx, j.segObj(j.curIdx), rados.OperationNoFlag); err != nil {
		return err
	}
	cur.Len += uint64(len(j.writeBuf))
	j.writeBuf = j.writeBuf[:0]
	return j.saveManifestLocked()
}

func (j *CephJournal) maybeWakeWaiterLocked(flushErr error) (func(err error), error) {
	if j.waiter == nil {
		return nil, nil
	}
	if flushErr != nil {
		w := j.waiter
		j.waiter = nil
		return w, flushErr
	}
	if !j.isReadableLocked() {
		return nil, nil
	}
	w := j.waiter
	j.waiter = nil
	return w, nil
}

func (j *CephJournal) HaveWaiter() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.waiter != nil
}

func (j *CephJournal) WaitForReadable(onDone func(err error)) {
	j.mu.Lock()
	if j.isReadableLocked() {
		j.mu.Unlock()
		j.ex.submit(func() { onDone(nil) })
		return
	}
	j.waiter = onDone
	j.mu.Unlock()
}

func (j *CephJournal) TryReadEntry() ([]byte, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for j.readIdx < len(j.segs) && j.readOffset >= j.segs[j.readIdx].Len {
		j.readIdx++
		j.readOffset = 0
	}
	if j.readIdx >= len(j.segs) {
		return nil, false
	}
	s := j.segs[j.readIdx]
	var hdr [4]byte
	if _, err := j.ioctx.Read(j.segObj(s.Index), hdr[:], j.readOffset); err != nil {
		return nil, false
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	payload := make([]byte, n)
	if _, err := j.ioctx.Read(j.segObj(s.Index), payload, j.readOffset+4); err != nil {
		return nil, false
	}
	j.readOffset += 4 + uint64(n)
	j.readPos = s.Start + j.readOffset
	return payload, true
}

func (j *CephJournal) GetReadPos() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.readPos
}

func (j *CephJournal) SetExpirePos(pos uint64) {
	j.mu.Lock()
	j.expirePos = pos
	j.mu.Unlock()
}

func (j *CephJournal) Trim() {
	j.mu.Lock()
	defer j.mu.Unlock()
	kept := j.segs[:0:0]
	for _, s := range j.segs {
		if s.Start+s.Len <= j.expirePos && s.Index != j.curIdx {
			_ = j.ioctx.Delete(j.segObj(s.Index))
			continue
		}
		kept = append(kept, s)
	}
	j.segs = kept
	_ = j.saveManifestLocked()
}

func (j *CephJournal) Shutdown() {
	j.ex.stop()
	j.ioctx.Destroy()
	j.conn.Shutdown()
}
