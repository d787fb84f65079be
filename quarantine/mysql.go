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

// Package quarantine answers spec.md §9's open question ("implementers
// should add telemetry and consider a quarantine path") with a SQL-backed
// sink that records every MalformedEntry and permanently-failed object-store
// removal the engine reports, without changing the documented behavior:
// consumption still halts fatally on a malformed entry, and a permanent
// object-store failure still advances the frontier. This package is pure
// additive observability for the operator: each row records the reason,
// the journal position and the cause. The engine passes no item with its
// reports, so inode_id is left NULL.
package quarantine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/launix-de/purgequeue/purgeitem"
)

// MySQLSink writes quarantine rows to a MySQL/MariaDB table, following the
// database/sql + blank-import-driver idiom storage/mysql_import.go uses for
// its own source-database connection.
type MySQLSink struct {
	db    *sql.DB
	table string
}

// OpenMySQL connects to dsn (the standard go-sql-driver/mysql DSN format)
// and ensures the quarantine table exists.
func OpenMySQL(dsn string, table string) (*MySQLSink, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("quarantine: mysql open: %w", err)
	}
	if table == "" {
		table = "purge_quarantine"
	}
	s := &MySQLSink{db: db, table: table}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, s.createTableSQL()); err != nil {
		return nil, fmt.Errorf("quarantine: create table: %w", err)
	}
	return s, nil
}

func (s *MySQLSink) createTableSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		reason VARCHAR(64) NOT NULL,
		pos BIGINT UNSIGNED NOT NULL,
		inode_id BIGINT UNSIGNED NULL,
		cause TEXT NOT NULL,
		raw_entry BLOB NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, s.table)
}

// Quarantine implements purge.QuarantineSink structurally (purge never
// imports this package, to avoid a dependency cycle between the core
// engine and its SQL-backed sinks).
func (s *MySQLSink) Quarantine(reason string, pos uint64, raw []byte, item *purgeitem.Item, cause error) {
	var inodeID sql.NullInt64
	if item != nil {
		inodeID = sql.NullInt64{Int64: int64(item.InodeID), Valid: true}
	}
	causeText := ""
	if cause != nil {
		causeText = cause.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	query := fmt.Sprintf("INSERT INTO %s (reason, pos, inode_id, cause, raw_entry) VALUES (?, ?, ?, ?, ?)", s.table)
	if _, err := s.db.ExecContext(ctx, query, reason, pos, inodeID, causeText, raw); err != nil {
		// the quarantine sink is best-effort observability; a failure here
		// must never propagate back into the purge engine's hot path.
		fmt.Printf("quarantine: failed to record %s at pos %d: %v\n", reason, pos, err)
	}
}

// Close releases the underlying connection pool.
func (s *MySQLSink) Close() error {
	return s.db.Close()
}
