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
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Field is one named cell of a row.
type Field struct {
	Name  string
	Value any
}

// Row is an ordered set of cells. Column order is insertion order and is
// what sinks use when they derive a header from a row.
type Row []Field

// Columns returns the column names in order.
func (r Row) Columns() []string {
	cols := make([]string, len(r))
	for i, f := range r {
		cols[i] = f.Name
	}
	return cols
}

// Values returns the cell values in column order.
func (r Row) Values() []any {
	vals := make([]any, len(r))
	for i, f := range r {
		vals[i] = f.Value
	}
	return vals
}

// Get returns the value of the named column.
func (r Row) Get(name string) (any, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Strings returns every value rendered with FormatValue.
func (r Row) Strings() []string {
	out := make([]string, len(r))
	for i, f := range r {
		out[i] = FormatValue(f.Value)
	}
	return out
}

// MarshalJSON encodes the row as a JSON object with keys in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", f.Name, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// FormatValue renders a cell for text sinks. Null becomes the empty string
// and whole floats are printed without a fraction.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// =============================================================================
// RowSet
// =============================================================================

// RowSet collects the rows projected from one document, grouped by category.
// The zero value is ready to use.
type RowSet struct {
	rows [CategoryCount][]Row
}

// Add appends a row to the given category.
func (s *RowSet) Add(c Category, row Row) {
	s.rows[c] = append(s.rows[c], row)
}

// Rows returns the rows of one category.
func (s *RowSet) Rows(c Category) []Row {
	return s.rows[c]
}

// Len returns the number of rows across all categories.
func (s *RowSet) Len() int {
	n := 0
	for _, rows := range s.rows {
		n += len(rows)
	}
	return n
}
