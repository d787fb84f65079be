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
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestArchiveSegmentThenRecompressToXZ(t *testing.T) {
	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "seg-00000003.log")
	if err := os.WriteFile(srcPath, []byte("some purge queue journal bytes"), 0640); err != nil {
		t.Fatal(err)
	}

	archiveDir := t.TempDir()
	a := NewArchiver(archiveDir)
	if err := a.ArchiveSegment(srcPath, 3); err != nil {
		t.Fatalf("archive: %v", err)
	}

	lz4Path := filepath.Join(archiveDir, "seg-00000003.log.lz4")
	if _, err := os.Stat(lz4Path); err != nil {
		t.Fatalf("expected lz4 archive member, got %v", err)
	}

	if err := a.RecompressToXZ(3); err != nil {
		t.Fatalf("recompress: %v", err)
	}
	if _, err := os.Stat(lz4Path); !os.IsNotExist(err) {
		t.Fatal("expected lz4 member removed after recompression")
	}
	xzPath := filepath.Join(archiveDir, "seg-00000003.log.xz")
	if _, err := os.Stat(xzPath); err != nil {
		t.Fatalf("expected xz archive member, got %v", err)
	}
}

func TestRunColdRecompressSweepsArchivedSegments(t *testing.T) {
	srcDir := t.TempDir()
	archiveDir := t.TempDir()
	a := NewArchiver(archiveDir)

	for i := uint32(0); i < 3; i++ {
		srcPath := filepath.Join(srcDir, segName(i))
		if err := os.WriteFile(srcPath, []byte("segment"), 0640); err != nil {
			t.Fatal(err)
		}
		if err := a.ArchiveSegment(srcPath, i); err != nil {
			t.Fatalf("archive %d: %v", i, err)
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		a.RunColdRecompress(5*time.Millisecond, stop)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		allXZ := true
		for i := uint32(0); i < 3; i++ {
			if _, err := os.Stat(filepath.Join(archiveDir, segName(i)+".xz")); err != nil {
				allXZ = false
				break
			}
		}
		if allXZ {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for RunColdRecompress to recompress every segment")
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunColdRecompress did not stop after stop was closed")
	}

	for i := uint32(0); i < 3; i++ {
		if _, err := os.Stat(filepath.Join(archiveDir, segName(i)+".lz4")); !os.IsNotExist(err) {
			t.Fatalf("expected lz4 member %d removed", i)
		}
	}
}

func TestParseSegIndex(t *testing.T) {
	idx, ok := parseSegIndex("seg-00000017.log.lz4")
	if !ok || idx != 17 {
		t.Fatalf("got %d, %v", idx, ok)
	}
	if _, ok := parseSegIndex("manifest.json"); ok {
		t.Fatal("expected manifest.json to be rejected")
	}
}
