// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for values that end
// up in outbound request URLs.
//
// Licence identifiers are interpolated into register query strings. Validating
// them up front keeps user-supplied input (the lookup command, config prefixes)
// from smuggling extra query parameters or path segments into a request.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidIdentifier is returned for any identifier rejected by ValidateIdentifier.
var ErrInvalidIdentifier = errors.New("invalid licence identifier")

// identifierPattern matches register licence numbers.
// Allows: 1-4 uppercase letter prefix, then 4-6 digits (FA1000, IA1000, JZ9990)
var identifierPattern = regexp.MustCompile(`^[A-Z]{1,4}[0-9]{4,6}$`)

// prefixPattern matches a configured identifier prefix (FA, GB, I, J).
var prefixPattern = regexp.MustCompile(`^[A-Z]{1,3}$`)

// ValidateIdentifier validates a licence identifier before it is placed in a
// search URL.
//
// Valid identifiers:
//   - 1-4 uppercase letters A-Z
//   - followed by 4-6 digits 0-9
//
// Example:
//
//	if err := validation.ValidateIdentifier(id); err != nil {
//	    return fmt.Errorf("lookup: %w", err)
//	}
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("%w: identifier cannot be empty", ErrInvalidIdentifier)
	}
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("%w: %q (must be 1-4 uppercase letters followed by 4-6 digits)", ErrInvalidIdentifier, id)
	}
	return nil
}

// SanitizeIdentifier normalizes and validates an identifier.
// Returns the uppercase identifier if valid, or an error if invalid.
func SanitizeIdentifier(id string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(id))
	if err := ValidateIdentifier(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// ValidatePrefixes checks identifier prefixes from configuration.
// Returns an error listing all invalid prefixes if any fail validation.
func ValidatePrefixes(prefixes []string) error {
	var invalid []string
	for _, p := range prefixes {
		if !prefixPattern.MatchString(p) {
			invalid = append(invalid, p)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: invalid prefixes %q", ErrInvalidIdentifier, invalid)
	}
	return nil
}
