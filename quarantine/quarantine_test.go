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
	"strings"
	"testing"
)

func TestMySQLCreateTableSQLNamesConfiguredTable(t *testing.T) {
	s := &MySQLSink{table: "custom_quarantine"}
	stmt := s.createTableSQL()
	if !strings.Contains(stmt, "custom_quarantine") {
		t.Fatalf("expected table name in statement, got %q", stmt)
	}
	if !strings.Contains(stmt, "raw_entry BLOB") {
		t.Fatalf("expected raw_entry column, got %q", stmt)
	}
}

func TestPostgresCreateTableSQLNamesConfiguredTable(t *testing.T) {
	s := &PostgresSink{table: "custom_quarantine"}
	stmt := s.createTableSQL()
	if !strings.Contains(stmt, "custom_quarantine") {
		t.Fatalf("expected table name in statement, got %q", stmt)
	}
	if !strings.Contains(stmt, "raw_entry BYTEA") {
		t.Fatalf("expected raw_entry column, got %q", stmt)
	}
}
