// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package projector flattens a register detail document into the six output
// categories.
//
// # Description
//
// Each found document yields exactly one particulars row and one notes row,
// plus one row per entry of its appointments, licenseeRecords, publicActions
// and licenseConds collections. Every non-particulars row starts with the
// join columns "licence" (the document's licenseNo) and "key".
//
// Projection is all-or-nothing per document: if any rule fails (for example
// an unmapped licence type) no rows are returned.
package projector

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ohler55/ojg/jp"

	"github.com/AleutianAI/regscrape/services/register/record"
)

// ErrMissingField is returned when a document lacks an identifying field.
var ErrMissingField = errors.New("missing identifying field")

// ErrMalformedEntry is returned when a collection entry is not an object.
var ErrMalformedEntry = errors.New("malformed collection entry")

// requiredFields must be present and non-null on every found document.
var requiredFields = []string{"key", "licenseNo", "engName"}

var (
	appointmentsPath = jp.C("appointments").W()
	historyPath      = jp.C("licenseeRecords").W()
	actionsPath      = jp.C("publicActions").W()
	conditionsPath   = jp.C("licenseConds").W()
)

// Projector turns documents into rows. The zero value is not usable; call New.
type Projector struct {
	particulars []Column
}

// Option configures a Projector.
type Option func(*Projector)

// WithParticulars replaces the particulars schema.
func WithParticulars(schema []Column) Option {
	return func(p *Projector) {
		p.particulars = schema
	}
}

// New creates a Projector using ParticularsSchema unless overridden.
func New(opts ...Option) *Projector {
	p := &Projector{particulars: ParticularsSchema}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var defaultProjector = New()

// Project flattens doc with the default schema.
func Project(doc record.Document) (record.RowSet, error) {
	return defaultProjector.Project(doc)
}

// Project flattens one found document.
//
// # Inputs
//
//   - doc: The merged search+detail document. Must carry key, licenseNo and engName.
//
// # Outputs
//
//   - record.RowSet: Rows for all six categories.
//   - error: ErrMissingField, ErrMalformedEntry or ErrUnmappedLicenseType
//     (wrapped). On error the returned set is empty.
func (p *Projector) Project(doc record.Document) (record.RowSet, error) {
	var set record.RowSet

	for _, f := range requiredFields {
		if doc[f] == nil {
			return record.RowSet{}, fmt.Errorf("%w: %s", ErrMissingField, f)
		}
	}

	steps := []struct {
		category record.Category
		project  func(record.Document) ([]record.Row, error)
	}{
		{record.CategoryParticulars, p.projectParticulars},
		{record.CategoryCurrentLicense, projectCurrentLicenses},
		{record.CategoryPreviousLicense, projectPreviousLicenses},
		{record.CategoryPublicActions, projectPublicActions},
		{record.CategoryNotes, projectNotes},
		{record.CategoryConditions, projectConditions},
	}
	for _, step := range steps {
		rows, err := step.project(doc)
		if err != nil {
			return record.RowSet{}, fmt.Errorf("%s: %w", step.category, err)
		}
		for _, row := range rows {
			set.Add(step.category, row)
		}
	}
	return set, nil
}

func (p *Projector) projectParticulars(doc record.Document) ([]record.Row, error) {
	row := make(record.Row, 0, len(p.particulars))
	for _, col := range p.particulars {
		v, err := col.extract(doc)
		if err != nil {
			return nil, err
		}
		row = append(row, record.Field{Name: col.Name, Value: v})
	}
	return []record.Row{row}, nil
}

// joinRow starts a row with the licence/key join columns.
func joinRow(doc record.Document, extra int) record.Row {
	row := make(record.Row, 0, 2+extra)
	return append(row,
		record.Field{Name: "licence", Value: doc["licenseNo"]},
		record.Field{Name: "key", Value: doc["key"]},
	)
}

// eachEntry runs fn over every object in a collection. A missing or null
// collection yields nothing.
func eachEntry(doc record.Document, path jp.Expr, fn func(map[string]any) (record.Row, error)) ([]record.Row, error) {
	entries := path.Get(map[string]any(doc))
	rows := make([]record.Row, 0, len(entries))
	for i, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] is %T", ErrMalformedEntry, path, i, e)
		}
		row, err := fn(m)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func projectCurrentLicenses(doc record.Document) ([]record.Row, error) {
	return eachEntry(doc, appointmentsPath, func(e map[string]any) (record.Row, error) {
		return append(joinRow(doc, 4),
			record.Field{Name: "Appointing Principal", Value: e["appointing_en"]},
			record.Field{Name: "Appointing Principal License Number", Value: e["licenceNo"]},
			record.Field{Name: "Line of Business", Value: e["lineBusiness"]},
			record.Field{Name: "Date of appointment for the Relevant Line of Business", Value: NormalizeDateValue(e["roAppointingDate"])},
		), nil
	})
}

func projectPreviousLicenses(doc record.Document) ([]record.Row, error) {
	return eachEntry(doc, historyPath, func(e map[string]any) (record.Row, error) {
		label, err := LicenseTypeLabel(e["type"])
		if err != nil {
			return nil, err
		}
		return append(joinRow(doc, 8),
			record.Field{Name: "License Type", Value: label},
			record.Field{Name: "License Period Start Date", Value: NormalizeDateValue(e["periodStart"])},
			record.Field{Name: "License Period End Date", Value: NormalizeDateValue(e["periodEnd"])},
			record.Field{Name: "Appointing Principal", Value: e["appointing"]},
			record.Field{Name: "Appointing Principal License Number", Value: e["parentLicenseNo"]},
			record.Field{Name: "Line of Business", Value: e["lineBusiness"]},
			record.Field{Name: "Appointment Start Date", Value: NormalizeDateValue(e["startDate"])},
			record.Field{Name: "Termination Date", Value: NormalizeDateValue(e["endDate"])},
		), nil
	})
}

func projectPublicActions(doc record.Document) ([]record.Row, error) {
	return eachEntry(doc, actionsPath, func(e map[string]any) (record.Row, error) {
		return append(joinRow(doc, 3),
			record.Field{Name: "Date of Action", Value: NormalizeDateValue(e["actionDate"])},
			record.Field{Name: "Action Taken", Value: e["actionTakenEN"]},
			record.Field{Name: "Press Release", Value: joinList(e["pressReleases"])},
		), nil
	})
}

// projectNotes always emits one row, even when notes is absent.
func projectNotes(doc record.Document) ([]record.Row, error) {
	row := append(joinRow(doc, 1), record.Field{Name: "Notes", Value: doc["notes"]})
	return []record.Row{row}, nil
}

func projectConditions(doc record.Document) ([]record.Row, error) {
	return eachEntry(doc, conditionsPath, func(e map[string]any) (record.Row, error) {
		return append(joinRow(doc, 3),
			record.Field{Name: "Effect Start Date", Value: NormalizeDateValue(e["effectDate"])},
			record.Field{Name: "Effect End Date", Value: NormalizeDateValue(e["effectEndDate"])},
			record.Field{Name: "Condition", Value: e["condition"]},
		), nil
	})
}

func joinList(v any) string {
	items, _ := v.([]any)
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = record.FormatValue(item)
	}
	return strings.Join(parts, ",")
}
