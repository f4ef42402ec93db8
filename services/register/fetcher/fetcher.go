// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fetcher performs the two-step register lookup for one licence number.
//
// # Description
//
// A lookup issues a search request keyed by the licence number. When the
// search has a hit, the hit's key is used for a detail request and the two
// documents are merged, detail fields winning on collision.
//
// Every failure is folded into an Outcome so a batch keeps going:
//
//	search → no hits          → StatusNotFoundAtSearch
//	detail → null/empty body  → StatusNotFoundAtDetail
//	any request/decoding fail → StatusTransportError (Outcome.Err)
//
// # Retry
//
// Config.MaxAttempts bounds how many times a lookup that ended in
// StatusTransportError is repeated. The default of 1 performs exactly one
// attempt. Not-found outcomes are never retried.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ohler55/ojg/jp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/regscrape/pkg/validation"
	"github.com/AleutianAI/regscrape/services/register/record"
)

// DefaultBaseURL is the public register's search API root.
const DefaultBaseURL = "https://iir.ia.org.hk/IISPublicRegisterRestfulAPI/v1/search/"

var tracer = otel.Tracer("regscrape.fetcher")

// dataPath selects the search hit list.
var dataPath = jp.C("data")

// HTTPClient allows injecting mock HTTP clients for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Looker is what the batch driver needs from a fetcher.
type Looker interface {
	Lookup(ctx context.Context, pop record.Population, id string) Outcome
}

// Config holds fetcher settings.
type Config struct {
	// BaseURL is the search API root; endpoints are resolved against it.
	BaseURL string

	UserAgent string

	// MaxAttempts bounds attempts per identifier. Values below 1 mean 1.
	MaxAttempts int

	// RetryBackoff is the wait before the second attempt; it doubles after each.
	RetryBackoff time.Duration

	// RequestsPerSecond paces outgoing requests. Zero disables pacing.
	RequestsPerSecond float64
}

// endpoint describes the request pair for one population.
type endpoint struct {
	search   string
	detail   string
	status   string
	pageSize string
}

var endpoints = map[record.Population]endpoint{
	record.PopulationFirm:       {search: "firm", detail: "firmDetail", status: "A", pageSize: "1"},
	record.PopulationIndividual: {search: "individual", detail: "individualDetail", status: "all", pageSize: "10"},
}

// Client looks licence numbers up against the register.
//
// # Thread Safety
//
// Client is safe for concurrent use; a batch shares one Client across all
// of its lookups.
type Client struct {
	httpClient HTTPClient
	base       *url.URL
	cfg        Config
	limiter    *rate.Limiter
	breaker    *CircuitBreaker
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c HTTPClient) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithLogger sets the logger used for per-identifier debug output.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithBreaker guards every request with a circuit breaker.
func WithBreaker(cb *CircuitBreaker) Option {
	return func(cl *Client) { cl.breaker = cb }
}

// New creates a Client.
//
// # Inputs
//
//   - cfg: Fetcher settings. An empty BaseURL means DefaultBaseURL.
//   - opts: Optional overrides (HTTP client, logger, breaker).
//
// # Outputs
//
//   - *Client: Ready client.
//   - error: Non-nil if BaseURL does not parse.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse register base url: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		base:       base,
		cfg:        cfg,
		logger:     slog.Default(),
		sleep:      sleepContext,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := max(1, int(cfg.RequestsPerSecond))
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Lookup resolves one identifier.
//
// # Description
//
// Validates the identifier, then runs up to Config.MaxAttempts search+detail
// rounds, stopping at the first outcome that is not a transport error.
//
// # Inputs
//
//   - ctx: Cancels pacing waits, backoff sleeps and in-flight requests.
//   - pop: Selects the firm or individual endpoints.
//   - id: The licence number, e.g. "FA1000".
//
// # Outputs
//
//   - Outcome: Always populated. Never panics on bad input.
func (c *Client) Lookup(ctx context.Context, pop record.Population, id string) Outcome {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "fetcher.Lookup",
		trace.WithAttributes(
			attribute.String("register.population", pop.String()),
			attribute.String("register.identifier", id),
		),
	)
	defer span.End()

	out := Outcome{Identifier: id, Population: pop}
	ep, ok := endpoints[pop]
	if !ok {
		out.Status = StatusTransportError
		out.Err = fmt.Errorf("no endpoints for population %q", pop)
	} else if err := validation.ValidateIdentifier(id); err != nil {
		out.Status = StatusTransportError
		out.Err = &TransportError{Identifier: id, Stage: StageSearch, Err: err}
	} else {
		backoff := c.cfg.RetryBackoff
		for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
			out.Attempts = attempt
			out.Status, out.Document, out.Err = c.lookupOnce(ctx, ep, id)
			if out.Status != StatusTransportError || attempt == c.cfg.MaxAttempts {
				break
			}
			c.logger.Debug("retrying lookup",
				slog.String("id", id),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.Any("error", out.Err))
			if err := c.sleep(ctx, backoff); err != nil {
				break
			}
			backoff *= 2
		}
	}
	out.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("register.status", out.Status.String()),
		attribute.Int("register.attempts", out.Attempts),
	)
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Status.String())
	}
	c.logOutcome(out)
	return out
}

func (c *Client) logOutcome(out Outcome) {
	attrs := []any{
		slog.String("id", out.Identifier),
		slog.String("population", out.Population.String()),
		slog.Duration("elapsed", out.Duration),
	}
	switch out.Status {
	case StatusFound:
		c.logger.Debug("licence found", append(attrs, slog.String("key", out.Document.Key()))...)
	case StatusNotFoundAtSearch:
		c.logger.Debug("licence not found", attrs...)
	case StatusNotFoundAtDetail:
		c.logger.Debug("licence has no detail record", attrs...)
	case StatusTransportError:
		c.logger.Debug("licence lookup failed", append(attrs, slog.Int("attempts", out.Attempts), slog.Any("error", out.Err))...)
	}
}

// lookupOnce performs one search+detail round.
func (c *Client) lookupOnce(ctx context.Context, ep endpoint, id string) (Status, record.Document, error) {
	search := url.Values{}
	search.Set("seachIndicator", "licNo")
	search.Set("searchValue", id)
	search.Set("status", ep.status)
	search.Set("page", "1")
	search.Set("pagesize", ep.pageSize)

	body, err := c.getJSON(ctx, id, StageSearch, ep.search, search)
	if err != nil {
		return StatusTransportError, nil, err
	}

	hits, ok := firstList(dataPath.Get(body))
	if !ok {
		return StatusTransportError, nil, &TransportError{
			Identifier: id, Stage: StageSearch,
			Err: fmt.Errorf("%w: no data list", ErrMalformedResponse),
		}
	}
	if len(hits) == 0 {
		return StatusNotFoundAtSearch, nil, nil
	}
	hit, ok := hits[0].(map[string]any)
	if !ok {
		return StatusTransportError, nil, &TransportError{
			Identifier: id, Stage: StageSearch,
			Err: fmt.Errorf("%w: search hit is %T", ErrMalformedResponse, hits[0]),
		}
	}
	key, _ := hit["key"].(string)
	if key == "" {
		return StatusTransportError, nil, &TransportError{
			Identifier: id, Stage: StageSearch,
			Err: fmt.Errorf("%w: search hit has no key", ErrMalformedResponse),
		}
	}

	detailQuery := url.Values{}
	detailQuery.Set("key", key)
	detailQuery.Set("licStatus", "all")

	body, err = c.getJSON(ctx, id, StageDetail, ep.detail, detailQuery)
	if err != nil {
		return StatusTransportError, nil, err
	}
	if body == nil {
		return StatusNotFoundAtDetail, nil, nil
	}
	detail, ok := body.(map[string]any)
	if !ok {
		return StatusTransportError, nil, &TransportError{
			Identifier: id, Stage: StageDetail,
			Err: fmt.Errorf("%w: detail is %T", ErrMalformedResponse, body),
		}
	}
	if len(detail) == 0 {
		return StatusNotFoundAtDetail, nil, nil
	}

	return StatusFound, record.Document(hit).Merge(detail), nil
}

// getJSON issues one paced, breaker-guarded GET and decodes the body.
func (c *Client) getJSON(ctx context.Context, id string, stage Stage, path string, query url.Values) (any, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Identifier: id, Stage: stage, Err: err}
		}
	}

	u := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})

	var (
		body   any
		status int
	)
	err := c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if c.cfg.UserAgent != "" {
			req.Header.Set("User-Agent", c.cfg.UserAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("unexpected status %s", resp.Status)
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			if errors.Is(err, io.EOF) {
				body = nil
				return nil
			}
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return nil
	})
	if err != nil {
		return nil, &TransportError{Identifier: id, Stage: stage, StatusCode: status, Err: err}
	}
	return body, nil
}

// firstList unwraps a single jp match holding a JSON array.
func firstList(matches []any) ([]any, bool) {
	if len(matches) != 1 {
		return nil, false
	}
	list, ok := matches[0].([]any)
	return list, ok
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
