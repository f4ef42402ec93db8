// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ==============================================================================
// Prometheus gauges
// ==============================================================================

var (
	// scanProgress is the fraction of a population's batches completed.
	scanProgress = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "regscrape_scan_progress_ratio",
		Help: "Fraction of a population's batches flushed in the current run",
	}, []string{"population"})

	// lastFlush is the unix time of the last successful flush.
	lastFlush = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "regscrape_last_flush_timestamp_seconds",
		Help: "Unix time of the last successful flush",
	}, []string{"population"})
)

// ==============================================================================
// OTel instruments
// ==============================================================================

// Metrics holds the scan's OTel instruments.
//
// # Description
//
// Counters and histograms for lookups, flushed rows and batches. All names
// carry the "regscrape_" prefix. A nil *Metrics is valid and records
// nothing, so callers need not branch on whether metrics are enabled.
//
// # Thread Safety
//
// Safe for concurrent use after creation.
type Metrics struct {
	// LookupsTotal counts lookups by population and outcome status.
	LookupsTotal metric.Int64Counter

	// LookupDuration records lookup duration in seconds, retries included.
	LookupDuration metric.Float64Histogram

	// RowsFlushed counts rows flushed by population and category stem.
	RowsFlushed metric.Int64Counter

	// BatchesTotal counts batches by population and result (ok, error).
	BatchesTotal metric.Int64Counter

	// BatchDuration records batch duration in seconds, flush included.
	BatchDuration metric.Float64Histogram

	// DroppedRecords counts found documents whose projection failed.
	DroppedRecords metric.Int64Counter
}

// NewMetrics registers the scan instruments with meter.
//
// # Inputs
//
//   - meter: Usually otel.Meter("regscrape") after Init.
//
// # Outputs
//
//   - *Metrics: Ready instruments.
//   - error: Non-nil if any instrument cannot be created.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.LookupsTotal, err = meter.Int64Counter(
		"regscrape_lookups_total",
		metric.WithDescription("Identifier lookups by outcome"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create lookups_total: %w", err)
	}

	m.LookupDuration, err = meter.Float64Histogram(
		"regscrape_lookup_duration_seconds",
		metric.WithDescription("Lookup duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, fmt.Errorf("create lookup_duration_seconds: %w", err)
	}

	m.RowsFlushed, err = meter.Int64Counter(
		"regscrape_rows_flushed_total",
		metric.WithDescription("Rows flushed to the output sinks"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rows_flushed_total: %w", err)
	}

	m.BatchesTotal, err = meter.Int64Counter(
		"regscrape_batches_total",
		metric.WithDescription("Batches processed"),
		metric.WithUnit("{batch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create batches_total: %w", err)
	}

	m.BatchDuration, err = meter.Float64Histogram(
		"regscrape_batch_duration_seconds",
		metric.WithDescription("Batch duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create batch_duration_seconds: %w", err)
	}

	m.DroppedRecords, err = meter.Int64Counter(
		"regscrape_dropped_records_total",
		metric.WithDescription("Found documents dropped because projection failed"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create dropped_records_total: %w", err)
	}

	return m, nil
}

// RecordLookup records one lookup outcome.
func (m *Metrics) RecordLookup(ctx context.Context, population, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("population", population),
		attribute.String("status", status),
	)
	m.LookupsTotal.Add(ctx, 1, attrs)
	m.LookupDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordBatch records a finished batch. rows maps category stem to rows
// flushed; err is the batch's flush error, if any.
func (m *Metrics) RecordBatch(ctx context.Context, population string, d time.Duration, rows map[string]int, dropped int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	pop := attribute.String("population", population)
	m.BatchesTotal.Add(ctx, 1, metric.WithAttributes(pop, attribute.String("result", result)))
	m.BatchDuration.Record(ctx, d.Seconds(), metric.WithAttributes(pop))

	for stem, n := range rows {
		if n == 0 {
			continue
		}
		m.RowsFlushed.Add(ctx, int64(n), metric.WithAttributes(pop, attribute.String("category", stem)))
	}
	if dropped > 0 {
		m.DroppedRecords.Add(ctx, int64(dropped), metric.WithAttributes(pop))
	}
	if err == nil {
		lastFlush.WithLabelValues(population).SetToCurrentTime()
	}
}

// SetProgress publishes how many of a population's batches are done.
func SetProgress(population string, done, total int) {
	if total <= 0 {
		return
	}
	scanProgress.WithLabelValues(population).Set(float64(done) / float64(total))
}

// RegisterCircuitState publishes the fetcher's breaker state as an
// observable gauge (0=closed, 1=open, 2=half-open).
//
// # Inputs
//
//   - meter: Meter to register with.
//   - state: Called at each collection.
//
// # Outputs
//
//   - metric.Registration: Unregister to stop observing.
//   - error: Non-nil if registration fails.
func RegisterCircuitState(meter metric.Meter, state func() int64) (metric.Registration, error) {
	gauge, err := meter.Int64ObservableGauge(
		"regscrape_circuit_state",
		metric.WithDescription("Register circuit breaker state (0=closed, 1=open, 2=half-open)"),
	)
	if err != nil {
		return nil, fmt.Errorf("create circuit_state: %w", err)
	}
	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, state())
		return nil
	}, gauge)
}
