// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package driver runs the scan: batches of concurrent lookups, each
// followed by a single flush.
//
// # Batch lifecycle
//
//  1. The driver's buffers are reset.
//  2. One task per identifier runs Lookup, archives the raw document and
//     projects it into a private RowSet. Tasks never fail the group: a
//     lookup miss, a transport error, a projection error or a panic is
//     logged and counted, and its siblings carry on.
//  3. After every task has settled the RowSets are merged into the buffers
//     in identifier order and handed to the Flusher, which truncates each
//     category once it is written.
//
// Batches run strictly one after another, so batch N is flushed before
// batch N+1 issues its first request. A cancelled context abandons the
// in-flight batch without flushing it.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/regscrape/services/register/buffer"
	"github.com/AleutianAI/regscrape/services/register/fetcher"
	"github.com/AleutianAI/regscrape/services/register/identifiers"
	"github.com/AleutianAI/regscrape/services/register/persist"
	"github.com/AleutianAI/regscrape/services/register/projector"
	"github.com/AleutianAI/regscrape/services/register/record"
	"github.com/AleutianAI/regscrape/services/register/stats"
	"github.com/AleutianAI/regscrape/services/register/telemetry"
	"github.com/AleutianAI/regscrape/services/register/upload"
)

const tracerName = "regscrape.driver"

// Archiver stores raw detail documents. *archive.Archive implements it.
type Archiver interface {
	Put(ctx context.Context, pop record.Population, doc record.Document) error
}

// Config controls a scan.
type Config struct {
	// RunID tags stats points and the upload prefix.
	RunID string

	// Concurrency caps in-flight lookups per batch. Zero runs the whole
	// batch at once.
	Concurrency int

	// Identifiers controls batch size and prefixes.
	Identifiers identifiers.Config

	// OutputDir is the root the persister writes population directories
	// under. Only needed for upload.
	OutputDir string
}

// Driver runs batches against a Looker and a Flusher.
//
// # Thread Safety
//
// A Driver owns one set of buffers; do not run its methods concurrently.
type Driver struct {
	looker    fetcher.Looker
	flusher   persist.Flusher
	projector *projector.Projector
	archive   Archiver
	reporter  stats.Reporter
	uploader  upload.Uploader
	prefix    string
	metrics   *telemetry.Metrics
	cfg       Config
	logger    *slog.Logger

	buf *buffer.Buffers
}

// Option configures a Driver.
type Option func(*Driver)

// WithArchive stores every found document before projection.
func WithArchive(a Archiver) Option {
	return func(d *Driver) { d.archive = a }
}

// WithStats reports every flushed batch.
func WithStats(r stats.Reporter) Option {
	return func(d *Driver) { d.reporter = r }
}

// WithUploader uploads each population's output directory under
// prefix/<run id>/<population> once the population completes.
func WithUploader(u upload.Uploader, prefix string) Option {
	return func(d *Driver) {
		d.uploader = u
		d.prefix = prefix
	}
}

// WithProjector replaces the default projector.
func WithProjector(p *projector.Projector) Option {
	return func(d *Driver) { d.projector = p }
}

// WithMetrics records lookup and batch instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// New creates a Driver.
//
// # Inputs
//
//   - looker: Fetches one identifier. Usually *fetcher.Client.
//   - flusher: Persists and truncates the buffers. Usually *persist.Persister.
//   - cfg: Scan settings.
//   - logger: Nil uses slog.Default().
//   - opts: Optional archive, stats, upload, projector and metrics.
func New(looker fetcher.Looker, flusher persist.Flusher, cfg Config, logger *slog.Logger, opts ...Option) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Driver{
		looker:    looker,
		flusher:   flusher,
		projector: projector.New(),
		reporter:  stats.NopReporter{},
		cfg:       cfg,
		logger:    logger,
		buf:       buffer.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// BatchResult summarizes one flushed batch.
type BatchResult struct {
	Population record.Population
	Index      int

	Identifiers int
	Found       int
	NotFound    int
	Failed      int
	Dropped     int

	Flush    persist.FlushResult
	Duration time.Duration
}

// PopulationResult sums a population's batches.
type PopulationResult struct {
	Population record.Population
	Batches    int

	Identifiers int
	Found       int
	NotFound    int
	Failed      int
	Dropped     int
	Rows        int

	Uploaded int
}

func (p *PopulationResult) add(b BatchResult) {
	p.Batches++
	p.Identifiers += b.Identifiers
	p.Found += b.Found
	p.NotFound += b.NotFound
	p.Failed += b.Failed
	p.Dropped += b.Dropped
	p.Rows += b.Flush.Total
}

// taskResult is what one identifier's task leaves for the merge step.
type taskResult struct {
	status   fetcher.Status
	rows     record.RowSet
	hasRows  bool
	dropped  bool
	panicked bool
}

// Buffers exposes the driver's buffers, for tests and status reporting.
func (d *Driver) Buffers() *buffer.Buffers { return d.buf }

// RunBatch processes one batch and flushes it.
//
// # Description
//
// Runs one task per identifier, at most Config.Concurrency at a time, and
// waits for all of them. Results are merged in identifier order, so the
// rows of a batch are written in the order the identifiers were generated
// regardless of which lookup finished first.
//
// # Outputs
//
//   - BatchResult: Outcome tallies and the flush result.
//   - error: ctx.Err() if the batch was abandoned, or the Flusher's error.
//     Per-identifier failures are never returned.
func (d *Driver) RunBatch(ctx context.Context, batch identifiers.Batch) (BatchResult, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, tracerName, "driver.RunBatch",
		trace.WithAttributes(
			attribute.String("population", batch.Population.String()),
			attribute.Int("batch.index", batch.Index),
			attribute.Int("batch.size", len(batch.IDs)),
		),
	)
	defer span.End()

	res := BatchResult{
		Population:  batch.Population,
		Index:       batch.Index,
		Identifiers: len(batch.IDs),
	}

	d.buf.Reset()

	results := make([]taskResult, len(batch.IDs))
	var g errgroup.Group
	g.SetLimit(d.limit(len(batch.IDs)))
	for i, id := range batch.IDs {
		g.Go(func() error {
			results[i] = d.process(ctx, batch.Population, id)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		d.buf.Reset()
		telemetry.RecordError(span, err)
		return res, err
	}

	for _, r := range results {
		switch {
		case r.panicked:
			res.Failed++
		case r.status == fetcher.StatusFound:
			res.Found++
		case r.status == fetcher.StatusTransportError:
			res.Failed++
		default:
			res.NotFound++
		}
		if r.dropped {
			res.Dropped++
		}
		if r.hasRows {
			d.buf.Merge(r.rows)
		}
	}

	flush, err := d.flusher.Flush(ctx, batch.Population, d.buf)
	res.Flush = flush
	res.Duration = time.Since(start)
	d.metrics.RecordBatch(ctx, batch.Population.String(), res.Duration, flush.Rows, res.Dropped, err)
	if err != nil {
		telemetry.RecordError(span, err)
		d.logger.Error("flush failed, aborting scan",
			slog.String("population", batch.Population.String()),
			slog.Int("batch", batch.Index),
			slog.String("error", err.Error()))
		return res, fmt.Errorf("flush %s batch %d: %w", batch.Population, batch.Index, err)
	}

	span.SetAttributes(attribute.Int("batch.found", res.Found), attribute.Int("batch.rows", flush.Total))
	d.report(ctx, res)
	return res, nil
}

func (d *Driver) limit(n int) int {
	if d.cfg.Concurrency <= 0 || d.cfg.Concurrency > n {
		return max(n, 1)
	}
	return d.cfg.Concurrency
}

// process runs one identifier's lookup and projection. It never panics.
func (d *Driver) process(ctx context.Context, pop record.Population, id string) (r taskResult) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("identifier task panicked",
				slog.String("population", pop.String()),
				slog.String("identifier", id),
				slog.Any("panic", p))
			r = taskResult{panicked: true}
		}
	}()

	out := d.looker.Lookup(ctx, pop, id)
	d.metrics.RecordLookup(ctx, pop.String(), out.Status.String(), out.Duration)
	r.status = out.Status
	if !out.Found() {
		return r
	}

	if d.archive != nil {
		if err := d.archive.Put(ctx, pop, out.Document); err != nil {
			d.logger.Warn("archive put failed",
				slog.String("identifier", id),
				slog.String("error", err.Error()))
		}
	}

	set, err := d.projector.Project(out.Document)
	if err != nil {
		d.logger.Warn("dropping record",
			slog.String("population", pop.String()),
			slog.String("identifier", id),
			slog.String("error", err.Error()))
		r.dropped = true
		return r
	}
	r.rows = set
	r.hasRows = true
	return r
}

func (d *Driver) report(ctx context.Context, res BatchResult) {
	err := d.reporter.Report(ctx, stats.BatchStats{
		RunID:       d.cfg.RunID,
		Population:  res.Population,
		BatchIndex:  res.Index,
		Identifiers: res.Identifiers,
		Found:       res.Found,
		NotFound:    res.NotFound,
		Failed:      res.Failed,
		Dropped:     res.Dropped,
		Rows:        res.Flush.Rows,
		Duration:    res.Duration,
		At:          time.Now(),
	})
	if err != nil {
		d.logger.Warn("batch stats not reported",
			slog.String("population", res.Population.String()),
			slog.Int("batch", res.Index),
			slog.String("error", err.Error()))
	}
}

// RunPopulation runs every batch of a population in order, then uploads
// the population's output directory when an uploader is configured.
//
// # Outputs
//
//   - PopulationResult: Totals over the batches that completed.
//   - error: The first batch error. Upload failures are logged, not returned.
func (d *Driver) RunPopulation(ctx context.Context, pop record.Population) (PopulationResult, error) {
	total := PopulationResult{Population: pop}
	seq, err := identifiers.For(pop, d.cfg.Identifiers)
	if err != nil {
		return total, err
	}

	batches := identifiers.BatchCount(pop, d.cfg.Identifiers)
	d.logger.Info("scanning population",
		slog.String("population", pop.String()),
		slog.Int("identifiers", identifiers.Count(pop, d.cfg.Identifiers)),
		slog.Int("batches", batches))

	for batch := range seq {
		res, err := d.RunBatch(ctx, batch)
		if err != nil {
			return total, err
		}
		total.add(res)
		telemetry.SetProgress(pop.String(), total.Batches, batches)
		d.logger.Debug("batch complete",
			slog.String("population", pop.String()),
			slog.Int("batch", batch.Index),
			slog.Int("found", res.Found),
			slog.Int("rows", res.Flush.Total),
			slog.Duration("duration", res.Duration))
	}

	total.Uploaded = d.upload(ctx, pop)
	d.logger.Info("population complete",
		slog.String("population", pop.String()),
		slog.Int("found", total.Found),
		slog.Int("not_found", total.NotFound),
		slog.Int("failed", total.Failed),
		slog.Int("dropped", total.Dropped),
		slog.Int("rows", total.Rows))
	return total, nil
}

func (d *Driver) upload(ctx context.Context, pop record.Population) int {
	if d.uploader == nil {
		return 0
	}
	dir := filepath.Join(d.cfg.OutputDir, pop.String())
	prefix := path.Join(d.prefix, d.cfg.RunID, pop.String())
	n, err := d.uploader.UploadDir(ctx, dir, prefix)
	if err != nil {
		d.logger.Warn("upload failed",
			slog.String("population", pop.String()),
			slog.String("dir", dir),
			slog.Int("uploaded", n),
			slog.String("error", err.Error()))
	}
	return n
}

// Run scans pops in the order given.
func (d *Driver) Run(ctx context.Context, pops []record.Population) ([]PopulationResult, error) {
	if len(pops) == 0 {
		return nil, errors.New("no populations to scan")
	}
	results := make([]PopulationResult, 0, len(pops))
	for _, pop := range pops {
		res, err := d.RunPopulation(ctx, pop)
		results = append(results, res)
		if err != nil {
			return results, fmt.Errorf("scan %s: %w", pop, err)
		}
	}
	return results, nil
}
