// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package persist appends flushed row buffers to per-category sinks.
//
// # Description
//
// Output is an append-only log per population and category:
//
//	<dir>/firm/polii.csv   <dir>/firm/polii.xml
//	<dir>/firm/cld.csv     <dir>/firm/cld.xml
//	...
//	<dir>/individual/cnds.csv
//
// An optional SQLite sink mirrors every row into one table. A sink failure
// aborts the flush and is returned to the caller; losing rows silently is
// worse than stopping the run.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/regscrape/services/register/buffer"
	"github.com/AleutianAI/regscrape/services/register/record"
)

// ErrPersistence wraps every sink failure returned from Flush.
var ErrPersistence = errors.New("persistence failure")

// Sink receives the rows of one category for one population.
type Sink interface {
	// Name identifies the sink in logs.
	Name() string

	// Append writes rows. rows is never empty.
	Append(ctx context.Context, pop record.Population, cat record.Category, rows []record.Row) error

	// Close releases resources held by the sink.
	Close() error
}

// Flusher is what the batch driver needs from a persister.
type Flusher interface {
	Flush(ctx context.Context, pop record.Population, buf *buffer.Buffers) (FlushResult, error)
}

// FlushResult reports what one Flush wrote.
type FlushResult struct {
	// Rows maps category stem to rows written.
	Rows  map[string]int
	Total int
}

// Persister fans buffered rows out to its sinks.
type Persister struct {
	sinks  []Sink
	logger *slog.Logger
}

// New creates a Persister writing to sinks in order.
func New(logger *slog.Logger, sinks ...Sink) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{sinks: sinks, logger: logger}
}

// Flush writes every non-empty category buffer to all sinks, then truncates
// that category's buffer.
//
// # Description
//
// Categories are flushed in record.Categories order. A category is
// truncated only after every sink accepted it, so on error the failed
// category (and any later ones) are still in buf.
//
// Sinks run under a context detached from cancellation: once a flush
// starts it is completed, keeping the CSV and XML logs in step.
//
// # Outputs
//
//   - FlushResult: Per-category row counts of what was written.
//   - error: Wraps ErrPersistence and the sink's error.
func (p *Persister) Flush(ctx context.Context, pop record.Population, buf *buffer.Buffers) (FlushResult, error) {
	ctx = context.WithoutCancel(ctx)
	result := FlushResult{Rows: make(map[string]int, len(record.Categories))}

	for _, cat := range record.Categories {
		rows := buf.Rows(cat)
		if len(rows) == 0 {
			continue
		}
		names := make([]string, 0, len(p.sinks))
		for _, s := range p.sinks {
			if err := s.Append(ctx, pop, cat, rows); err != nil {
				return result, fmt.Errorf("%w: %s %s to %s: %v", ErrPersistence, pop, cat.Stem(), s.Name(), err)
			}
			names = append(names, s.Name())
		}

		p.logger.Info(fmt.Sprintf("flushed %d %s rows", len(rows), cat.Title()),
			slog.String("population", pop.String()),
			slog.String("category", cat.Stem()),
			slog.Int("rows", len(rows)),
			slog.String("sinks", strings.Join(names, ",")),
		)
		result.Rows[cat.Stem()] = len(rows)
		result.Total += len(rows)
		buf.Truncate(cat)
	}
	return result, nil
}

// Close closes every sink and joins their errors.
func (p *Persister) Close() error {
	var errs []error
	for _, s := range p.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// columnsOf returns the union of row columns in first-seen order.
func columnsOf(rows []record.Row) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, r := range rows {
		for _, f := range r {
			if !seen[f.Name] {
				seen[f.Name] = true
				cols = append(cols, f.Name)
			}
		}
	}
	return cols
}

// aligned renders row values in cols order; missing columns are empty.
func aligned(row record.Row, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		if v, ok := row.Get(c); ok {
			out[i] = record.FormatValue(v)
		}
	}
	return out
}
