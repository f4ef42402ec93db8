// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package record holds the data model shared by the register scraper:
// populations, output categories, detail documents and tabular rows.
package record

import (
	"fmt"
	"strings"
)

// =============================================================================
// Population
// =============================================================================

// Population identifies which half of the register is being scanned.
type Population string

const (
	// PopulationFirm covers agencies and broker companies (FA/FB/GB numbers).
	PopulationFirm Population = "firm"

	// PopulationIndividual covers individual agents and technical representatives.
	PopulationIndividual Population = "individual"
)

// Populations lists every population in scan order.
var Populations = []Population{PopulationFirm, PopulationIndividual}

// ParsePopulation converts user input into a Population.
//
// Matching is case-insensitive and ignores surrounding whitespace.
func ParsePopulation(s string) (Population, error) {
	switch Population(strings.ToLower(strings.TrimSpace(s))) {
	case PopulationFirm:
		return PopulationFirm, nil
	case PopulationIndividual:
		return PopulationIndividual, nil
	default:
		return "", fmt.Errorf("unknown population %q (want firm or individual)", s)
	}
}

// String returns the population tag.
func (p Population) String() string {
	return string(p)
}

// =============================================================================
// Category
// =============================================================================

// Category is one of the six output tables derived from a detail document.
type Category int

const (
	// CategoryParticulars is the primary identity row (one per document).
	CategoryParticulars Category = iota

	// CategoryCurrentLicense holds active appointments.
	CategoryCurrentLicense

	// CategoryPreviousLicense holds licence history spans.
	CategoryPreviousLicense

	// CategoryPublicActions holds disclosed disciplinary actions.
	CategoryPublicActions

	// CategoryNotes holds the free-text notes field.
	CategoryNotes

	// CategoryConditions holds restrictions attached to a licence.
	CategoryConditions

	// CategoryCount is the number of categories; it is not a category itself.
	CategoryCount
)

// Categories lists every category in flush order.
var Categories = []Category{
	CategoryParticulars,
	CategoryCurrentLicense,
	CategoryPreviousLicense,
	CategoryPublicActions,
	CategoryNotes,
	CategoryConditions,
}

var categoryStems = [CategoryCount]string{"polii", "cld", "pld", "puba", "notes", "cnds"}

var categoryTitles = [CategoryCount]string{
	"Particulars of Licensed Insurance Intermediary",
	"Current License Details",
	"Previous License Details",
	"Public Disciplinary Actions Taken",
	"Notes",
	"Conditions of License",
}

// Stem returns the file stem used for this category's sinks (e.g. "polii").
func (c Category) Stem() string {
	if c < 0 || c >= CategoryCount {
		return fmt.Sprintf("category%d", int(c))
	}
	return categoryStems[c]
}

// Title returns the human-readable category name used in logs.
func (c Category) Title() string {
	if c < 0 || c >= CategoryCount {
		return fmt.Sprintf("Category(%d)", int(c))
	}
	return categoryTitles[c]
}

// String returns the stem so categories read naturally in log attributes.
func (c Category) String() string {
	return c.Stem()
}

// =============================================================================
// Document
// =============================================================================

// Document is an opaque detail record: the search hit merged with the
// detail response. Values are whatever encoding/json produced.
type Document map[string]any

// Merge returns a new document holding d's fields overlaid by other's.
// Fields present in both take other's value.
func (d Document) Merge(other Document) Document {
	merged := make(Document, len(d)+len(other))
	for k, v := range d {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}

// Has reports whether the field is present (even when its value is null).
func (d Document) Has(field string) bool {
	_, ok := d[field]
	return ok
}

// Text returns a string field. ok is false when the field is absent,
// null, or not a string.
func (d Document) Text(field string) (string, bool) {
	s, ok := d[field].(string)
	return s, ok
}

// Key returns the register's internal key for the document.
func (d Document) Key() string {
	s, _ := d.Text("key")
	return s
}

// LicenseNo returns the licence number of the document.
func (d Document) LicenseNo() string {
	s, _ := d.Text("licenseNo")
	return s
}
