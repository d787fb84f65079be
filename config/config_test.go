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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, "purgequeue.json")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaultsForMissingFields(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `{"journal_backend": "s3"}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.JournalBackend != "s3" {
		t.Fatalf("expected journal_backend to be overridden, got %q", cfg.JournalBackend)
	}
	if cfg.MaxInFlight != 1 {
		t.Fatalf("expected default max_in_flight 1, got %d", cfg.MaxInFlight)
	}
	if cfg.SegmentBytes != 64*1024*1024 {
		t.Fatalf("expected default segment_bytes, got %d", cfg.SegmentBytes)
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `{not json`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func TestWatchReloadsMaxInFlightOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"max_in_flight": 4}`)

	w, err := Watch(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if got := w.Current().MaxInFlight; got != 4 {
		t.Fatalf("expected initial max_in_flight 4, got %d", got)
	}

	seen := make(chan int, 1)
	w.OnMaxInFlightChange(func(newMax int) { seen <- newMax })

	writeConfig(t, dir, `{"max_in_flight": 8}`)

	select {
	case got := <-seen:
		if got != 8 {
			t.Fatalf("expected reload to report 8, got %d", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
