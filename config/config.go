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

// Package config loads purgequeued's process configuration and watches it
// for hot-reloadable changes, the way storage/settings.go holds a single
// process-wide SettingsT and registers an onexit shutdown hook.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/dc0d/onexit"
	"github.com/fsnotify/fsnotify"
)

// Config is the purge queue daemon's on-disk configuration document.
type Config struct {
	// MaxInFlight bounds concurrent in-flight items (spec.md §4.3). Hot
	// reloadable.
	MaxInFlight int `json:"max_in_flight"`
	// JournalBackend selects "file", "ceph" or "s3".
	JournalBackend string `json:"journal_backend"`
	// ObjectStoreBackend selects "ceph" or "s3".
	ObjectStoreBackend string `json:"objectstore_backend"`
	// SegmentBytes is loaded and defaulted but not passed to any journal
	// backend; each backend rolls segments over at a fixed 64MiB.
	SegmentBytes uint64 `json:"segment_bytes"`
	// ArchiveDir, if non-empty, is where trimmed segments are archived
	// (journal.Archiver). Empty disables archival.
	ArchiveDir string `json:"archive_dir"`
	// ArchiveIntervalSeconds, if positive, is how often archived segments
	// are recompressed from the hot lz4 codec to the higher-ratio cold xz
	// codec (journal.Archiver.RunColdRecompress). Zero disables the cold
	// recompression pass.
	ArchiveIntervalSeconds int `json:"archive_interval_seconds"`
	// JournalDir is the FileJournal's data directory for the file backend;
	// purgequeued passes it as the bucket name to the s3 backend and as the
	// RADOS pool name to the ceph backend.
	JournalDir string `json:"journal_dir"`
}

var defaultConfig = Config{
	MaxInFlight:        1,
	JournalBackend:     "file",
	ObjectStoreBackend: "ceph",
	SegmentBytes:       64 * 1024 * 1024,
}

// Watcher holds the live configuration for a running daemon, reloading it
// whenever the backing file changes and notifying registered listeners
// (spec.md §4.3 allows max_in_flight to be configurable; this is the
// mechanism that lets an operator change it without restarting).
type Watcher struct {
	path string

	mu  sync.RWMutex
	cur Config

	onMaxInFlightChange []func(int)

	watcher *fsnotify.Watcher
}

// Load reads path once, applying defaultConfig for any zero-valued field,
// without starting a file watch.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := defaultConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Watch loads path and begins watching it for changes with fsnotify,
// registering shutdown through onexit the same way storage/settings.go's
// InitSettings does for the trace file.
func Watch(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: fsnotify: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w := &Watcher{path: path, cur: cfg, watcher: fw}
	go w.loop()
	onexit.Register(func() { w.Close() })
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		fmt.Printf("config: reload of %s failed, keeping previous config: %v\n", w.path, err)
		return
	}
	w.mu.Lock()
	prevMax := w.cur.MaxInFlight
	w.cur = cfg
	listeners := append([]func(int)(nil), w.onMaxInFlightChange...)
	w.mu.Unlock()
	if cfg.MaxInFlight != prevMax {
		for _, l := range listeners {
			l(cfg.MaxInFlight)
		}
	}
}

// Current returns a snapshot of the live configuration.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

// OnMaxInFlightChange registers a callback invoked whenever a reload
// changes MaxInFlight, e.g. to push the new bound into purge.Engine.
func (w *Watcher) OnMaxInFlightChange(fn func(newMax int)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onMaxInFlightChange = append(w.onMaxInFlightChange, fn)
}

// Close stops the file watch. Safe to call multiple times.
func (w *Watcher) Close() {
	w.watcher.Close()
}
