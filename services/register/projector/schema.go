// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package projector

import (
	"fmt"
	"strings"

	"github.com/ohler55/ojg/jp"

	"github.com/AleutianAI/regscrape/services/register/record"
)

// =============================================================================
// Extraction rules
// =============================================================================

// RuleKind selects how a particulars column derives its value.
type RuleKind int

const (
	// RuleField copies a top-level document field (null when absent).
	RuleField RuleKind = iota

	// RuleDate copies a field and rewrites it with NormalizeDate.
	RuleDate

	// RuleConstant emits a fixed value.
	RuleConstant

	// RuleLicenseType maps a field through LicenseTypeLabel.
	RuleLicenseType

	// RuleJoined splits a sub-field of every entry of a nested list on
	// whitespace, keeps a token slice, and comma-joins the entries.
	RuleJoined
)

// Column is one column of the particulars schema.
type Column struct {
	Name string
	Kind RuleKind

	// Field is the document field for RuleField, RuleDate and RuleLicenseType.
	Field string

	// Value is the literal for RuleConstant.
	Value any

	// List, Sub, From and To configure RuleJoined. From and To follow
	// slice-index conventions where negative values count from the end;
	// a nil To means "to the end".
	List string
	Sub  string
	From int
	To   *int

	listPath jp.Expr
}

// FieldColumn builds a RuleField column.
func FieldColumn(name, field string) Column {
	return Column{Name: name, Kind: RuleField, Field: field}
}

// DateColumn builds a RuleDate column.
func DateColumn(name, field string) Column {
	return Column{Name: name, Kind: RuleDate, Field: field}
}

// ConstantColumn builds a RuleConstant column.
func ConstantColumn(name string, value any) Column {
	return Column{Name: name, Kind: RuleConstant, Value: value}
}

// LicenseTypeColumn builds a RuleLicenseType column.
func LicenseTypeColumn(name, field string) Column {
	return Column{Name: name, Kind: RuleLicenseType, Field: field}
}

// JoinedColumn builds a RuleJoined column over doc[list][*][sub] tokens[from:to].
func JoinedColumn(name, list, sub string, from int, to *int) Column {
	return Column{
		Name:     name,
		Kind:     RuleJoined,
		List:     list,
		Sub:      sub,
		From:     from,
		To:       to,
		listPath: jp.C(list).W(),
	}
}

func intp(n int) *int { return &n }

// ParticularsSchema is the ordered particulars column set.
//
// Officer names arrive as "<English tokens> <Chinese name>", so the English
// column keeps every token but the last and the Chinese column keeps the last.
var ParticularsSchema = []Column{
	FieldColumn("key", "key"),
	FieldColumn("License No", "licenseNo"),
	FieldColumn("English Name", "engName"),
	FieldColumn("Chinese Name", "chiName"),
	LicenseTypeColumn("License Type", "licenseType"),
	DateColumn("License Period Start Date", "licenseStartDate"),
	DateColumn("License Period End Date", "licenseEndDate"),
	FieldColumn("Business Address", "businessEngAddress"),
	JoinedColumn("Responsible Officer(s) English Name", "officers", "name", 0, intp(-1)),
	JoinedColumn("Responsible Officer(s) Chinese Name", "officers", "name", -1, nil),
}

// ParticularsColumns returns the column names of ParticularsSchema in order.
func ParticularsColumns() []string {
	names := make([]string, len(ParticularsSchema))
	for i, c := range ParticularsSchema {
		names[i] = c.Name
	}
	return names
}

// extract evaluates one column against a document.
func (c Column) extract(doc record.Document) (any, error) {
	switch c.Kind {
	case RuleField:
		return doc[c.Field], nil
	case RuleDate:
		return NormalizeDateValue(doc[c.Field]), nil
	case RuleConstant:
		return c.Value, nil
	case RuleLicenseType:
		label, err := LicenseTypeLabel(doc[c.Field])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c.Name, err)
		}
		return label, nil
	case RuleJoined:
		return c.joined(doc), nil
	default:
		return nil, fmt.Errorf("column %q: unknown rule %d", c.Name, c.Kind)
	}
}

func (c Column) joined(doc record.Document) string {
	if !doc.Has(c.List) {
		return ""
	}
	path := c.listPath
	if path == nil {
		path = jp.C(c.List).W()
	}
	entries := path.Get(map[string]any(doc))
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		m, _ := e.(map[string]any)
		text := record.FormatValue(m[c.Sub])
		parts = append(parts, strings.Join(sliceTokens(strings.Fields(text), c.From, c.To), " "))
	}
	return strings.Join(parts, ",")
}

// sliceTokens returns tokens[from:to] where negative bounds count from the
// end and out-of-range bounds are clamped.
func sliceTokens(tokens []string, from int, to *int) []string {
	n := len(tokens)
	clamp := func(i int) int {
		if i < 0 {
			i += n
		}
		return max(0, min(i, n))
	}
	lo := clamp(from)
	hi := n
	if to != nil {
		hi = clamp(*to)
	}
	if lo >= hi {
		return nil
	}
	return tokens[lo:hi]
}
