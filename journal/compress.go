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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Archiver copies a trimmed segment's raw bytes somewhere durable before
// Trim deletes the live segment file, the way an operator who wants to
// replay purge history keeps the log around after it has left the active
// journal. Trim calls this, if configured, for every segment it is about to
// remove.
type Archiver struct {
	dir string
}

// NewArchiver roots archived segments under dir.
func NewArchiver(dir string) *Archiver {
	return &Archiver{dir: dir}
}

// ArchiveSegment lz4-compresses one segment into the archive directory.
// lz4 is chosen for this path, exactly as scm/streams.go offers gzip as the
// cheap default stream filter, because a segment is archived on the hot
// path of Trim and must not stall consumption.
func (a *Archiver) ArchiveSegment(srcPath string, index uint32) error {
	if a == nil {
		return nil
	}
	if err := os.MkdirAll(a.dir, 0750); err != nil {
		return err
	}
	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	dst := filepath.Join(a.dir, segName(index)+".lz4")
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := lz4.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		return err
	}
	return zw.Close()
}

func segName(index uint32) string {
	return fmt.Sprintf("seg-%08d.log", index)
}

// RecompressToXZ re-encodes an lz4 archive member to xz, the higher-ratio,
// slower codec, for segments that have aged out of the "might still be
// replayed soon" window — the same lz4-hot/xz-cold split scm/streams.go
// exposes as two independent stream filters rather than one do-everything
// codec.
func (a *Archiver) RecompressToXZ(index uint32) error {
	if a == nil {
		return nil
	}
	lz4Path := filepath.Join(a.dir, segName(index)+".lz4")
	in, err := os.Open(lz4Path)
	if err != nil {
		return err
	}
	defer in.Close()
	zr := lz4.NewReader(in)

	xzPath := filepath.Join(a.dir, segName(index)+".xz")
	out, err := os.Create(xzPath)
	if err != nil {
		return err
	}
	defer out.Close()

	xw, err := xz.NewWriter(out)
	if err != nil {
		return err
	}
	if _, err := io.Copy(xw, zr); err != nil {
		return err
	}
	if err := xw.Close(); err != nil {
		return err
	}
	return os.Remove(lz4Path)
}

// parseSegIndex recovers a segment's index from an archived member's file
// name ("seg-00000017.log.lz4" -> 17, true); it reports false for anything
// that doesn't match the pattern ArchiveSegment/segName produces.
func parseSegIndex(name string) (uint32, bool) {
	base := strings.TrimSuffix(name, ".lz4")
	base = strings.TrimSuffix(base, ".log")
	base = strings.TrimPrefix(base, "seg-")
	n, err := strconv.ParseUint(base, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// recompressAged walks the archive directory once and re-encodes every
// ".lz4" member to ".xz", the cold-storage pass config's archive interval
// drives on a timer.
func (a *Archiver) recompressAged() {
	if a == nil {
		return
	}
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lz4") {
			continue
		}
		idx, ok := parseSegIndex(e.Name())
		if !ok {
			continue
		}
		if err := a.RecompressToXZ(idx); err != nil {
			fmt.Printf("journal: recompress of segment %d failed: %v\n", idx, err)
		}
	}
}

// RunColdRecompress periodically recompresses every archived lz4 segment to
// xz until stop is closed, the same ticker-driven background loop
// admin.go's handleStream uses for its status push. Callers run this on its
// own goroutine; it blocks until stop fires.
func (a *Archiver) RunColdRecompress(interval time.Duration, stop <-chan struct{}) {
	if a == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.recompressAged()
		}
	}
}
