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
	"slices"
	"strings"
)

// NormalizeDate rewrites a register date (YYYY-MM-DD) to DD/MM/YYYY by
// reversing its dash-separated parts. Input that is not dash-separated is
// returned unchanged apart from the reversal of its single part.
func NormalizeDate(s string) string {
	return reverseJoin(s, "-", "/")
}

// DenormalizeDate is the inverse of NormalizeDate: DD/MM/YYYY to YYYY-MM-DD.
func DenormalizeDate(s string) string {
	return reverseJoin(s, "/", "-")
}

// NormalizeDateValue applies NormalizeDate to a document value.
// Null stays null; non-string values pass through untouched.
func NormalizeDateValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return NormalizeDate(s)
}

func reverseJoin(s, from, to string) string {
	parts := strings.Split(s, from)
	slices.Reverse(parts)
	return strings.Join(parts, to)
}
