// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePopulation(t *testing.T) {
	tests := []struct {
		in      string
		want    Population
		wantErr bool
	}{
		{"firm", PopulationFirm, false},
		{" Individual ", PopulationIndividual, false},
		{"FIRM", PopulationFirm, false},
		{"broker", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePopulation(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCategory_Stems(t *testing.T) {
	want := []string{"polii", "cld", "pld", "puba", "notes", "cnds"}
	require.Len(t, Categories, int(CategoryCount))
	for i, c := range Categories {
		assert.Equal(t, want[i], c.Stem())
		assert.NotEmpty(t, c.Title())
	}
	assert.Equal(t, "category42", Category(42).Stem())
}

func TestDocument_MergeDetailWins(t *testing.T) {
	search := Document{"key": "K1", "licenseNo": "FA1000", "engName": "OLD"}
	detail := Document{"engName": "NEW", "notes": "n"}

	merged := search.Merge(detail)

	assert.Equal(t, "NEW", merged["engName"])
	assert.Equal(t, "K1", merged.Key())
	assert.Equal(t, "FA1000", merged.LicenseNo())
	assert.Equal(t, "n", merged["notes"])
	assert.Equal(t, "OLD", search["engName"], "inputs are not modified")
}

func TestDocument_Text(t *testing.T) {
	doc := Document{"a": "x", "b": nil, "c": 3.0}

	s, ok := doc.Text("a")
	assert.True(t, ok)
	assert.Equal(t, "x", s)

	_, ok = doc.Text("b")
	assert.False(t, ok)
	_, ok = doc.Text("c")
	assert.False(t, ok)
	_, ok = doc.Text("missing")
	assert.False(t, ok)

	assert.True(t, doc.Has("b"))
	assert.False(t, doc.Has("missing"))
}

func TestRow_MarshalJSONKeepsColumnOrder(t *testing.T) {
	row := Row{{"licence", "FA1000"}, {"key", "K1"}, {"Notes", nil}, {"Count", 2.0}}

	data, err := json.Marshal(row)
	require.NoError(t, err)
	assert.Equal(t, `{"licence":"FA1000","key":"K1","Notes":null,"Count":2}`, string(data))
}

func TestRow_Accessors(t *testing.T) {
	row := Row{{"a", "1"}, {"b", nil}}

	assert.Equal(t, []string{"a", "b"}, row.Columns())
	assert.Equal(t, []any{"1", nil}, row.Values())
	assert.Equal(t, []string{"1", ""}, row.Strings())

	v, ok := row.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	_, ok = row.Get("z")
	assert.False(t, ok)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "", FormatValue(nil))
	assert.Equal(t, "abc", FormatValue("abc"))
	assert.Equal(t, "1000", FormatValue(1000.0))
	assert.Equal(t, "1.5", FormatValue(1.5))
	assert.Equal(t, "true", FormatValue(true))
	assert.Equal(t, "42", FormatValue(json.Number("42")))
	assert.Equal(t, "[a b]", FormatValue([]any{"a", "b"}))
}

func TestRowSet(t *testing.T) {
	var set RowSet
	set.Add(CategoryParticulars, Row{{"key", "K1"}})
	set.Add(CategoryNotes, Row{{"key", "K1"}})
	set.Add(CategoryNotes, Row{{"key", "K2"}})

	assert.Equal(t, 3, set.Len())
	assert.Len(t, set.Rows(CategoryNotes), 2)
	assert.Empty(t, set.Rows(CategoryConditions))
}
