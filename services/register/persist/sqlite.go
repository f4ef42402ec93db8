// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package persist

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AleutianAI/regscrape/services/register/record"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS register_rows (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	population  TEXT NOT NULL,
	category    TEXT NOT NULL,
	licence     TEXT,
	key         TEXT,
	row         JSON NOT NULL,
	inserted_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rows_licence ON register_rows(population, licence);
CREATE INDEX IF NOT EXISTS idx_rows_category ON register_rows(population, category);
`

// SQLiteSink mirrors rows into a single register_rows table, one
// transaction per category append. Each row is stored as an ordered JSON
// object so differing column sets need no schema changes.
type SQLiteSink struct {
	db    *sql.DB
	path  string
	runID string
	now   func() time.Time
}

// NewSQLiteSink opens (creating if needed) the database at path.
//
// # Inputs
//
//   - path: Database file. Parent directories are created.
//   - runID: Stored on every row so separate runs can be told apart.
//
// # Outputs
//
//   - *SQLiteSink: Ready sink. Call Close when done.
//   - error: Non-nil if the database cannot be opened or migrated.
func NewSQLiteSink(path, runID string) (*SQLiteSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Single writer; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteSink{db: db, path: path, runID: runID, now: time.Now}, nil
}

func (s *SQLiteSink) Name() string { return "sqlite" }

// Append inserts rows in one transaction.
func (s *SQLiteSink) Append(ctx context.Context, pop record.Population, cat record.Category, rows []record.Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO register_rows (run_id, population, category, licence, key, row, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	ts := s.now().UnixNano()
	for _, row := range rows {
		data, err := row.MarshalJSON()
		if err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			s.runID, pop.String(), cat.Stem(),
			licenceOf(row), nullable(row, "key"),
			string(data), ts,
		); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
	}
	return tx.Commit()
}

// Count returns the stored row count for a population and category.
func (s *SQLiteSink) Count(ctx context.Context, pop record.Population, cat record.Category) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM register_rows WHERE population = ? AND category = ?`,
		pop.String(), cat.Stem(),
	).Scan(&n)
	return n, err
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// licenceOf finds the licence number: "licence" on joined categories,
// "License No" on particulars.
func licenceOf(row record.Row) any {
	if v := nullable(row, "licence"); v != nil {
		return v
	}
	return nullable(row, "License No")
}

func nullable(row record.Row, col string) any {
	v, ok := row.Get(col)
	if !ok || v == nil {
		return nil
	}
	return record.FormatValue(v)
}
