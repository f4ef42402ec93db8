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
	"errors"
	"fmt"
)

// ErrUnmappedLicenseType is returned when a licence-type code has no label.
// There is no default label.
var ErrUnmappedLicenseType = errors.New("unmapped licence type")

var licenseTypes = map[string]string{
	"AGY": "Insurance Agency",
	"BKR": "Insurance Broker Company",
	"IND": "Individual Insurance Agent",
	"TRA": "Technical Representative (Agent)",
	"TRB": "Technical Representative (Broker)",
}

// LicenseTypeLabel maps a register licence-type code to its label.
func LicenseTypeLabel(code any) (string, error) {
	s, ok := code.(string)
	if !ok {
		return "", fmt.Errorf("%w: %v", ErrUnmappedLicenseType, code)
	}
	label, ok := licenseTypes[s]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnmappedLicenseType, s)
	}
	return label, nil
}
