// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stats

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/regscrape/services/register/record"
)

// --- Mock InfluxDB WriteAPI ---

type MockWriteAPI struct {
	WritePointFunc func(ctx context.Context, point ...*write.Point) error
	WrittenPoints  []*write.Point
}

func (m *MockWriteAPI) WritePoint(ctx context.Context, point ...*write.Point) error {
	m.WrittenPoints = append(m.WrittenPoints, point...)
	if m.WritePointFunc != nil {
		return m.WritePointFunc(ctx, point...)
	}
	return nil
}

func (m *MockWriteAPI) WriteRecord(ctx context.Context, line ...string) error {
	return nil
}

func (m *MockWriteAPI) EnableBatching()                 {}
func (m *MockWriteAPI) Flush(ctx context.Context) error { return nil }

func fieldMap(p *write.Point) map[string]interface{} {
	out := map[string]interface{}{}
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func tagMap(p *write.Point) map[string]string {
	out := map[string]string{}
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func TestInfluxReporter_Report(t *testing.T) {
	mock := &MockWriteAPI{}
	r := NewInfluxReporter(mock)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	err := r.Report(context.Background(), BatchStats{
		RunID:       "run-1",
		Population:  record.PopulationFirm,
		BatchIndex:  4,
		Identifiers: 30,
		Found:       2,
		NotFound:    27,
		Failed:      1,
		Rows:        map[string]int{"polii": 2, "cld": 5},
		Duration:    1500 * time.Millisecond,
		At:          at,
	})
	require.NoError(t, err)
	require.Len(t, mock.WrittenPoints, 1)

	p := mock.WrittenPoints[0]
	assert.Equal(t, Measurement, p.Name())
	assert.Equal(t, at, p.Time())
	assert.Equal(t, map[string]string{"population": "firm", "run_id": "run-1"}, tagMap(p))

	fields := fieldMap(p)
	assert.EqualValues(t, 30, fields["identifiers"])
	assert.EqualValues(t, 2, fields["found"])
	assert.EqualValues(t, 1, fields["failed"])
	assert.EqualValues(t, 5, fields["rows_cld"])
	assert.EqualValues(t, 7, fields["rows_total"])
	assert.EqualValues(t, 1500, fields["duration_ms"])
}

func TestInfluxReporter_ReportError(t *testing.T) {
	mock := &MockWriteAPI{WritePointFunc: func(context.Context, ...*write.Point) error {
		return errors.New("bucket not found")
	}}
	r := NewInfluxReporter(mock)

	err := r.Report(context.Background(), BatchStats{Population: record.PopulationIndividual})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket not found")
	assert.NoError(t, r.Close())
}

func TestDial_HealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"name":"influxdb","status":"pass","checks":[]}`)
	}))
	defer srv.Close()

	r, err := Dial(context.Background(), Config{URL: srv.URL, Org: "o", Bucket: "b"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.NoError(t, r.Close())
}

func TestDial_NeverHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"name":"influxdb","status":"fail","message":"starting"}`)
	}))
	defer srv.Close()

	_, err := Dial(context.Background(),
		Config{URL: srv.URL, HealthAttempts: 2, HealthInterval: time.Millisecond},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestNopReporter(t *testing.T) {
	var r Reporter = NopReporter{}
	assert.NoError(t, r.Report(context.Background(), BatchStats{}))
	assert.NoError(t, r.Close())
}
