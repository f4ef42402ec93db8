// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fetcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/regscrape/services/register/record"
)

// Status is the result variant of a lookup.
type Status int

const (
	// StatusFound means both calls succeeded and Outcome.Document is set.
	StatusFound Status = iota

	// StatusNotFoundAtSearch means the search returned no hits.
	StatusNotFoundAtSearch

	// StatusNotFoundAtDetail means the search hit had no detail record.
	StatusNotFoundAtDetail

	// StatusTransportError means a request failed, returned a non-200
	// status, or could not be decoded. Outcome.Err holds the cause.
	StatusTransportError
)

// String returns the label used in logs and metric labels.
func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNotFoundAtSearch:
		return "not_found_search"
	case StatusNotFoundAtDetail:
		return "not_found_detail"
	case StatusTransportError:
		return "transport_error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Stage names the request of the two-step lookup that failed.
type Stage string

const (
	StageSearch Stage = "search"
	StageDetail Stage = "detail"
)

// ErrMalformedResponse is wrapped when a response body is not the expected shape.
var ErrMalformedResponse = errors.New("malformed register response")

// TransportError describes a failed request.
type TransportError struct {
	Identifier string
	Stage      Stage

	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int

	Err error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: HTTP %d: %v", e.Stage, e.Identifier, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Identifier, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Outcome is the result of one Lookup. Failures are values: a lookup never
// returns an error that should stop a batch.
type Outcome struct {
	Identifier string
	Population record.Population
	Status     Status

	// Document is the merged search hit and detail record (StatusFound only).
	Document record.Document

	// Err is set for StatusTransportError.
	Err error

	// Attempts counts search+detail rounds, including retries.
	Attempts int

	Duration time.Duration
}

// Found reports whether the outcome carries a document.
func (o Outcome) Found() bool {
	return o.Status == StatusFound
}
