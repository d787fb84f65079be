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

package quarantine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/launix-de/purgequeue/purgeitem"
)

// PostgresSink is PostgresSQL's sibling of MySQLSink: same schema, same
// contract, a different database/sql driver. Operators already running
// Postgres for their metadata-server control plane can point quarantine
// there instead of standing up a second database engine.
type PostgresSink struct {
	db    *sql.DB
	table string
}

// OpenPostgres connects to dsn (a standard lib/pq connection string) and
// ensures the quarantine table exists.
func OpenPostgres(dsn string, table string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("quarantine: postgres open: %w", err)
	}
	if table == "" {
		table = "purge_quarantine"
	}
	s := &PostgresSink{db: db, table: table}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, s.createTableSQL()); err != nil {
		return nil, fmt.Errorf("quarantine: create table: %w", err)
	}
	return s, nil
}

func (s *PostgresSink) createTableSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		reason VARCHAR(64) NOT NULL,
		pos BIGINT NOT NULL,
		inode_id BIGINT NULL,
		cause TEXT NOT NULL,
		raw_entry BYTEA NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, s.table)
}

func (s *PostgresSink) Quarantine(reason string, pos uint64, raw []byte, item *purgeitem.Item, cause error) {
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
	query := fmt.Sprintf("INSERT INTO %s (reason, pos, inode_id, cause, raw_entry) VALUES ($1, $2, $3, $4, $5)", s.table)
	if _, err := s.db.ExecContext(ctx, query, reason, int64(pos), inodeID, causeText, raw); err != nil {
		fmt.Printf("quarantine: failed to record %s at pos %d: %v\n", reason, pos, err)
	}
}

// Close releases the underlying connection pool.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}
