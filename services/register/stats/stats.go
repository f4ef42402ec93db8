// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stats reports per-batch scan statistics to InfluxDB.
//
// Each flushed batch becomes one "register_batch" point tagged with the
// population and run id, so a long scan's hit rate and throughput can be
// charted while it runs.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/regscrape/services/register/record"
)

// Measurement is the InfluxDB measurement name for batch points.
const Measurement = "register_batch"

// BatchStats summarizes one completed batch.
type BatchStats struct {
	RunID      string
	Population record.Population
	BatchIndex int

	Identifiers int
	Found       int
	NotFound    int
	Failed      int

	// Dropped counts found documents whose projection failed.
	Dropped int

	// Rows maps category stem to rows flushed.
	Rows map[string]int

	Duration time.Duration
	At       time.Time
}

// Reporter receives batch statistics.
type Reporter interface {
	Report(ctx context.Context, s BatchStats) error
	Close() error
}

// NopReporter discards statistics.
type NopReporter struct{}

func (NopReporter) Report(context.Context, BatchStats) error { return nil }
func (NopReporter) Close() error                             { return nil }

// InfluxReporter writes one point per batch with a blocking write API.
type InfluxReporter struct {
	writeAPI api.WriteAPIBlocking
	client   influxdb2.Client
}

// NewInfluxReporter wraps an existing write API. Close is a no-op for the
// caller-owned client.
func NewInfluxReporter(w api.WriteAPIBlocking) *InfluxReporter {
	return &InfluxReporter{writeAPI: w}
}

// Config locates the InfluxDB bucket.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	// HealthAttempts bounds the readiness wait. Default 3.
	HealthAttempts int

	// HealthInterval is the pause between readiness checks. Default 2s.
	HealthInterval time.Duration
}

// Dial connects to InfluxDB and waits for it to report healthy.
//
// # Inputs
//
//   - ctx: Bounds the readiness wait.
//   - cfg: Server location and bucket.
//   - logger: Receives readiness retry warnings.
//
// # Outputs
//
//   - *InfluxReporter: Owns the client; Close releases it.
//   - error: Non-nil if the server never reported "pass".
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*InfluxReporter, error) {
	if cfg.HealthAttempts <= 0 {
		cfg.HealthAttempts = 3
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 2 * time.Second
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	for i := 0; i < cfg.HealthAttempts; i++ {
		health, err := client.Health(ctx)
		if err == nil && health.Status == "pass" {
			return &InfluxReporter{
				writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
				client:   client,
			}, nil
		}

		var errMsg string
		if err != nil {
			errMsg = err.Error()
		} else if health != nil && health.Message != nil {
			errMsg = *health.Message
		}
		logger.Warn("InfluxDB not ready, retrying...", "attempt", i+1, "error", errMsg)

		select {
		case <-ctx.Done():
			client.Close()
			return nil, ctx.Err()
		case <-time.After(cfg.HealthInterval):
		}
	}
	client.Close()
	return nil, fmt.Errorf("influxdb at %s not ready after %d attempts", cfg.URL, cfg.HealthAttempts)
}

// Report writes the batch point.
func (r *InfluxReporter) Report(ctx context.Context, s BatchStats) error {
	if err := r.writeAPI.WritePoint(ctx, Point(s)); err != nil {
		return fmt.Errorf("write %s point: %w", Measurement, err)
	}
	return nil
}

// Close releases the client when the reporter owns one.
func (r *InfluxReporter) Close() error {
	if r.client != nil {
		r.client.Close()
	}
	return nil
}

// Point converts batch statistics to an InfluxDB point.
func Point(s BatchStats) *write.Point {
	fields := map[string]interface{}{
		"batch_index": s.BatchIndex,
		"identifiers": s.Identifiers,
		"found":       s.Found,
		"not_found":   s.NotFound,
		"failed":      s.Failed,
		"dropped":     s.Dropped,
		"duration_ms": s.Duration.Milliseconds(),
	}
	total := 0
	for stem, n := range s.Rows {
		fields["rows_"+stem] = n
		total += n
	}
	fields["rows_total"] = total

	at := s.At
	if at.IsZero() {
		at = time.Now()
	}
	return influxdb2.NewPoint(
		Measurement,
		map[string]string{
			"population": s.Population.String(),
			"run_id":     s.RunID,
		},
		fields,
		at,
	)
}
