// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package buffer holds the per-category row buffers a batch accumulates
// before it is flushed.
//
// Buffers are owned by a single driver goroutine. Concurrent lookups hand
// their rows back as values and the driver merges them after the batch's
// task group has settled, so no locking is needed here.
package buffer

import (
	"github.com/AleutianAI/regscrape/services/register/record"
)

// Buffers is one ordered row sequence per category. The zero value is ready
// to use and the backing arrays are reused across batches.
type Buffers struct {
	rows [record.CategoryCount][]record.Row
}

// New returns empty buffers.
func New() *Buffers {
	return &Buffers{}
}

// Append adds rows to one category.
func (b *Buffers) Append(c record.Category, rows ...record.Row) {
	b.rows[c] = append(b.rows[c], rows...)
}

// Merge appends every row of a projected set, category by category.
func (b *Buffers) Merge(set record.RowSet) {
	for _, c := range record.Categories {
		b.Append(c, set.Rows(c)...)
	}
}

// Rows returns the buffered rows of one category. The slice is only valid
// until the next Truncate or Reset.
func (b *Buffers) Rows(c record.Category) []record.Row {
	return b.rows[c]
}

// Len returns the number of rows buffered for one category.
func (b *Buffers) Len(c record.Category) int {
	return len(b.rows[c])
}

// Total returns the number of rows buffered across all categories.
func (b *Buffers) Total() int {
	n := 0
	for _, rows := range b.rows {
		n += len(rows)
	}
	return n
}

// Counts returns the per-category row counts keyed by file stem.
func (b *Buffers) Counts() map[string]int {
	counts := make(map[string]int, len(record.Categories))
	for _, c := range record.Categories {
		counts[c.Stem()] = len(b.rows[c])
	}
	return counts
}

// Truncate empties one category, keeping its capacity. Stale row references
// are cleared so they can be collected.
func (b *Buffers) Truncate(c record.Category) {
	clear(b.rows[c])
	b.rows[c] = b.rows[c][:0]
}

// Reset truncates every category.
func (b *Buffers) Reset() {
	for _, c := range record.Categories {
		b.Truncate(c)
	}
}
