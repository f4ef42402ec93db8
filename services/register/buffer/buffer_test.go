// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/regscrape/services/register/record"
)

func row(key string) record.Row {
	return record.Row{{Name: "key", Value: key}}
}

func TestBuffers_MergeKeepsOrder(t *testing.T) {
	b := New()

	var first, second record.RowSet
	first.Add(record.CategoryParticulars, row("K1"))
	first.Add(record.CategoryNotes, row("K1"))
	second.Add(record.CategoryParticulars, row("K2"))
	second.Add(record.CategoryCurrentLicense, row("K2"))
	second.Add(record.CategoryCurrentLicense, row("K2"))

	b.Merge(first)
	b.Merge(second)

	assert.Equal(t, 5, b.Total())
	assert.Equal(t, 2, b.Len(record.CategoryParticulars))
	assert.Equal(t, "K1", b.Rows(record.CategoryParticulars)[0][0].Value)
	assert.Equal(t, "K2", b.Rows(record.CategoryParticulars)[1][0].Value)
	assert.Equal(t, map[string]int{
		"polii": 2, "cld": 2, "pld": 0, "puba": 0, "notes": 1, "cnds": 0,
	}, b.Counts())
}

func TestBuffers_TruncateKeepsCapacity(t *testing.T) {
	b := New()
	b.Append(record.CategoryConditions, row("a"), row("b"), row("c"))
	before := cap(b.Rows(record.CategoryConditions))

	b.Truncate(record.CategoryConditions)

	assert.Zero(t, b.Len(record.CategoryConditions))
	assert.Equal(t, before, cap(b.Rows(record.CategoryConditions)))
}

func TestBuffers_ResetEmptiesEveryCategory(t *testing.T) {
	var b Buffers
	for _, c := range record.Categories {
		b.Append(c, row("x"))
	}
	assert.Equal(t, len(record.Categories), b.Total())

	b.Reset()

	assert.Zero(t, b.Total())
	for _, c := range record.Categories {
		assert.Empty(t, b.Rows(c))
	}
}
