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

/*
	purgequeued runs one durable purge queue: it replays its journal on
	startup, admits new deletion intents over its admin API, and dispatches
	bounded-concurrency object-store removals until the expire frontier
	catches up with every entry that has been pushed.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/launix-de/purgequeue/config"
	"github.com/launix-de/purgequeue/journal"
	"github.com/launix-de/purgequeue/objectstore"
	"github.com/launix-de/purgequeue/purge"
	"github.com/launix-de/purgequeue/quarantine"
)

// Daemon bundles the running engine with the bits its admin server needs
// that the engine itself doesn't track (drain flag for display purposes;
// BeginDrain/EndDrain on purge.Engine don't expose their own state).
type Daemon struct {
	engine *purge.Engine
	life   *purge.Lifecycle

	mu           sync.Mutex
	drainingFlag bool
}

func (d *Daemon) setDraining(v bool) {
	d.mu.Lock()
	d.drainingFlag = v
	d.mu.Unlock()
}

func (d *Daemon) isDraining() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drainingFlag
}

// openJournal returns the selected journal backend and, for the file
// backend with ArchiveDir configured, the Archiver that owns its cold
// recompression pass (nil otherwise).
func openJournal(cfg config.Config) (purge.Journal, *journal.Archiver, error) {
	switch cfg.JournalBackend {
	case "", "file":
		dir := cfg.JournalDir
		if dir == "" {
			dir = "./purgequeue-journal"
		}
		j := journal.New(dir)
		var archiver *journal.Archiver
		if cfg.ArchiveDir != "" {
			archiver = journal.NewArchiver(cfg.ArchiveDir)
			j = j.WithArchiver(archiver)
		}
		return j, archiver, nil
	case "s3":
		j, err := journal.NewS3(journal.S3Config{Bucket: cfg.JournalDir})
		return j, nil, err
	case "ceph":
		j, err := journal.NewCeph("ceph", "client.admin", "/etc/ceph/ceph.conf", cfg.JournalDir, "purgequeue")
		return j, nil, err
	default:
		return nil, nil, fmt.Errorf("purgequeued: unknown journal_backend %q", cfg.JournalBackend)
	}
}

func openObjectStore(cfg config.Config) (purge.ObjectStore, error) {
	switch cfg.ObjectStoreBackend {
	case "", "ceph":
		return objectstore.NewCeph("ceph", "client.admin", "/etc/ceph/ceph.conf", nil)
	case "s3":
		return objectstore.NewS3(objectstore.S3Config{})
	default:
		return nil, fmt.Errorf("purgequeued: unknown objectstore_backend %q", cfg.ObjectStoreBackend)
	}
}

func openQuarantine(dsn string) purge.QuarantineSink {
	if dsn == "" {
		return nil
	}
	sink, err := quarantine.OpenMySQL(dsn, "")
	if err != nil {
		fmt.Printf("purgequeued: quarantine sink disabled: %v\n", err)
		return nil
	}
	return sink
}

func main() {
	fmt.Print(`purgequeued Copyright (C) 2024-2026  Carl-Philip Hänsch
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;
`)

	configPath := flag.String("config", "purgequeue.json", "path to the process configuration document")
	adminAddr := flag.String("admin", ":7777", "admin HTTP/websocket listen address")
	quarantineDSN := flag.String("quarantine-dsn", "", "optional MySQL DSN for the quarantine sink")
	flag.Parse()

	watcher, err := config.Watch(*configPath)
	if err != nil {
		fmt.Printf("purgequeued: %v, falling back to defaults\n", err)
		watcher = nil
	}
	cfg := config.Config{MaxInFlight: 1, JournalBackend: "file", ObjectStoreBackend: "ceph", JournalDir: "./purgequeue-journal"}
	if watcher != nil {
		cfg = watcher.Current()
	}

	j, archiver, err := openJournal(cfg)
	if err != nil {
		panic(err)
	}
	store, err := openObjectStore(cfg)
	if err != nil {
		panic(err)
	}

	stopArchiving := make(chan struct{})
	if archiver != nil && cfg.ArchiveIntervalSeconds > 0 {
		go archiver.RunColdRecompress(time.Duration(cfg.ArchiveIntervalSeconds)*time.Second, stopArchiving)
	}

	engine := purge.NewEngine(j, store, purge.Config{
		MaxInFlight: cfg.MaxInFlight,
		Quarantine:  openQuarantine(*quarantineDSN),
	})
	life := purge.NewLifecycle(engine, j)

	d := &Daemon{engine: engine, life: life}
	if watcher != nil {
		watcher.OnMaxInFlightChange(func(newMax int) {
			fmt.Printf("purgequeued: max_in_flight changed to %d\n", newMax)
			engine.SetMaxInFlight(newMax)
		})
	}

	ready := make(chan error, 1)
	life.Bootstrap("v1", func(err error) { ready <- err })
	if err := <-ready; err != nil {
		panic(err)
	}

	admin := serveAdmin(*adminAddr, d)
	fmt.Printf("purgequeued: admin API listening on %s\n", *adminAddr)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	fmt.Println("purgequeued: draining in-flight items before shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	engine.BeginDrain()
	if err := life.Drain(ctx); err != nil {
		fmt.Printf("purgequeued: %v\n", err)
	}

	close(stopArchiving)

	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	admin.Shutdown(shutdownCtx)
	life.Shutdown()
	os.Exit(0)
}
