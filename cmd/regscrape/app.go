// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/regscrape/cmd/regscrape/config"
	"github.com/AleutianAI/regscrape/services/register/archive"
	"github.com/AleutianAI/regscrape/services/register/driver"
	"github.com/AleutianAI/regscrape/services/register/fetcher"
	"github.com/AleutianAI/regscrape/services/register/identifiers"
	"github.com/AleutianAI/regscrape/services/register/persist"
	"github.com/AleutianAI/regscrape/services/register/record"
	"github.com/AleutianAI/regscrape/services/register/stats"
	"github.com/AleutianAI/regscrape/services/register/telemetry"
	"github.com/AleutianAI/regscrape/services/register/upload"
)

// scan holds every component of one run and knows how to release them.
type scan struct {
	runID  string
	driver *driver.Driver
	pops   []record.Population
	logger *slog.Logger

	current atomic.Value // record.Population being scanned

	// closers run in reverse order on Close.
	closers []func(context.Context) error
}

func (s *scan) onClose(fn func(context.Context) error) {
	s.closers = append(s.closers, fn)
}

// Close releases components in reverse construction order.
func (s *scan) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func identifierConfig(cfg config.RegscrapeConfig) identifiers.Config {
	return identifiers.Config{
		BatchSize:          cfg.Scan.BatchSize,
		FirmPrefixes:       cfg.Scan.FirmPrefixes,
		IndividualPrefixes: cfg.Scan.IndividualPrefixes,
	}
}

// newFetcher builds the register client, with a breaker when configured.
// The breaker's state is published as a gauge on meter-enabled runs.
func newFetcher(cfg config.RegscrapeConfig, logger *slog.Logger) (*fetcher.Client, *fetcher.CircuitBreaker, error) {
	opts := []fetcher.Option{
		fetcher.WithHTTPClient(&http.Client{Timeout: cfg.HTTP.Timeout}),
		fetcher.WithLogger(logger),
	}

	var cb *fetcher.CircuitBreaker
	if cfg.HTTP.BreakerFailures > 0 {
		cb = fetcher.NewCircuitBreaker(fetcher.BreakerConfig{
			FailureThreshold: cfg.HTTP.BreakerFailures,
			Cooldown:         cfg.HTTP.BreakerCooldown,
			OnStateChange: func(from, to fetcher.CircuitState) {
				logger.Warn("register circuit breaker state changed",
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		})
		opts = append(opts, fetcher.WithBreaker(cb))
	}

	client, err := fetcher.New(fetcher.Config{
		BaseURL:           cfg.Register.BaseURL,
		UserAgent:         cfg.Register.UserAgent,
		MaxAttempts:       cfg.HTTP.MaxAttempts,
		RetryBackoff:      cfg.HTTP.RetryBackoff,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
	}, opts...)
	if err != nil {
		return nil, nil, err
	}
	return client, cb, nil
}

// newScan wires the configured components.
//
// # Description
//
// Required components (fetcher, CSV and XML sinks) fail the run when they
// cannot be built. So do the optional ones the config asks for explicitly
// (SQLite, archive, upload), with the exception of InfluxDB: an
// unreachable stats server only costs the statistics, so it is logged and
// replaced by a no-op reporter.
//
// # Outputs
//
//   - *scan: Ready to run. Call Close even when Run fails.
//   - error: Non-nil if a required component could not be built. Anything
//     built before the failure is already closed.
func newScan(ctx context.Context, cfg config.RegscrapeConfig, runID string, logger *slog.Logger) (_ *scan, err error) {
	s := &scan{runID: runID, logger: logger}
	s.current.Store(record.Population(""))
	defer func() {
		if err != nil {
			_ = s.Close(context.WithoutCancel(ctx))
		}
	}()

	s.pops, err = cfg.PopulationList()
	if err != nil {
		return nil, err
	}

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "regscrape",
		ServiceVersion: version,
		Environment:    "production",
		TraceExporter:  cfg.Telemetry.TraceExporter,
		MetricExporter: cfg.Telemetry.MetricExporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	s.onClose(shutdownTelemetry)

	meter := otel.Meter("regscrape")
	metrics, err := telemetry.NewMetrics(meter)
	if err != nil {
		return nil, err
	}

	client, cb, err := newFetcher(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create register client: %w", err)
	}
	if cb != nil {
		reg, err := telemetry.RegisterCircuitState(meter, func() int64 { return int64(cb.State()) })
		if err != nil {
			return nil, err
		}
		s.onClose(func(context.Context) error { return reg.Unregister() })
	}

	sinks := []persist.Sink{
		persist.NewCSVSink(cfg.Output.Dir),
		persist.NewXMLSink(cfg.Output.Dir),
	}
	if cfg.Output.SQLitePath != "" {
		sqlite, err := persist.NewSQLiteSink(cfg.Output.SQLitePath, runID)
		if err != nil {
			return nil, fmt.Errorf("open sqlite sink: %w", err)
		}
		sinks = append(sinks, sqlite)
	}
	persister := persist.New(logger, sinks...)
	s.onClose(func(context.Context) error { return persister.Close() })

	opts := []driver.Option{driver.WithMetrics(metrics)}

	if cfg.Archive.Path != "" {
		acfg := archive.DefaultConfig(cfg.Archive.Path)
		acfg.Logger = logger
		arch, err := archive.Open(acfg)
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		s.onClose(func(context.Context) error { return arch.Close() })
		opts = append(opts, driver.WithArchive(arch))
	}

	if cfg.Stats.InfluxURL != "" {
		rep, err := stats.Dial(ctx, stats.Config{
			URL:    cfg.Stats.InfluxURL,
			Token:  cfg.Stats.Token,
			Org:    cfg.Stats.Org,
			Bucket: cfg.Stats.Bucket,
		}, logger)
		if err != nil {
			logger.Warn("batch statistics disabled", slog.String("error", err.Error()))
		} else {
			s.onClose(func(context.Context) error { return rep.Close() })
			opts = append(opts, driver.WithStats(rep))
		}
	}

	if cfg.Upload.Bucket != "" {
		up, err := upload.NewGCSUploader(ctx, cfg.Upload.Bucket, cfg.Upload.CredentialsFile, logger)
		if err != nil {
			return nil, fmt.Errorf("create uploader: %w", err)
		}
		s.onClose(func(context.Context) error { return up.Close() })
		opts = append(opts, driver.WithUploader(up, cfg.Upload.Prefix))
	}

	s.driver = driver.New(client, persister, driver.Config{
		RunID:       runID,
		Concurrency: cfg.Scan.Concurrency,
		Identifiers: identifierConfig(cfg),
		OutputDir:   cfg.Output.Dir,
	}, logger, opts...)

	if cfg.Telemetry.MetricsAddr != "" {
		srv := telemetry.NewServer(cfg.Telemetry.MetricsAddr, "regscrape", s.status, logger)
		if err := srv.Start(); err != nil {
			return nil, fmt.Errorf("start status server: %w", err)
		}
		s.onClose(func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		})
	}

	return s, nil
}

func (s *scan) status() map[string]any {
	return map[string]any{
		"run_id":     s.runID,
		"population": s.current.Load().(record.Population).String(),
	}
}

// Run scans every configured population in order.
func (s *scan) Run(ctx context.Context) ([]driver.PopulationResult, error) {
	results := make([]driver.PopulationResult, 0, len(s.pops))
	for _, pop := range s.pops {
		s.current.Store(pop)
		res, err := s.driver.RunPopulation(ctx, pop)
		results = append(results, res)
		if err != nil {
			return results, fmt.Errorf("scan %s: %w", pop, err)
		}
	}
	return results, nil
}
