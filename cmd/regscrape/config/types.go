// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"time"

	"github.com/AleutianAI/regscrape/services/register/fetcher"
	"github.com/AleutianAI/regscrape/services/register/identifiers"
)

type RegscrapeConfig struct {
	// Register: where the public register API lives
	Register RegisterConfig `yaml:"register"`

	// HTTP: timeouts, retries, pacing and the circuit breaker
	HTTP HTTPConfig `yaml:"http"`

	// Scan: identifier space and batch shape
	Scan ScanConfig `yaml:"scan"`

	// Output: CSV/XML directory and the optional SQLite copy
	Output OutputConfig `yaml:"output"`

	// Archive: optional badger store of raw detail documents
	Archive ArchiveConfig `yaml:"archive"`

	// Stats: optional InfluxDB batch statistics
	Stats StatsConfig `yaml:"stats"`

	// Upload: optional GCS copy of each finished population
	Upload UploadConfig `yaml:"upload"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

type RegisterConfig struct {
	BaseURL   string `yaml:"base_url" validate:"required,url"`
	UserAgent string `yaml:"user_agent"`
}

type HTTPConfig struct {
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxAttempts       int           `yaml:"max_attempts" validate:"gte=1,lte=10"`
	RetryBackoff      time.Duration `yaml:"retry_backoff" validate:"gte=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`

	// BreakerFailures opens the circuit after this many consecutive
	// failures. 0 disables the breaker.
	BreakerFailures int           `yaml:"breaker_failures" validate:"gte=0"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" validate:"gte=0"`
}

type ScanConfig struct {
	BatchSize int `yaml:"batch_size" validate:"gte=1,lte=9000"`

	// Concurrency caps in-flight lookups per batch; 0 runs the whole batch.
	Concurrency int `yaml:"concurrency" validate:"gte=0"`

	Populations        []string `yaml:"populations" validate:"required,min=1,dive,oneof=firm individual"`
	FirmPrefixes       []string `yaml:"firm_prefixes" validate:"required,min=1"`
	IndividualPrefixes []string `yaml:"individual_prefixes" validate:"required,min=1"`
}

type OutputConfig struct {
	Dir        string `yaml:"dir" validate:"required"`
	SQLitePath string `yaml:"sqlite_path,omitempty"`
}

type ArchiveConfig struct {
	Path string `yaml:"path,omitempty"`
}

type StatsConfig struct {
	InfluxURL string `yaml:"influx_url,omitempty" validate:"omitempty,url"`
	Token     string `yaml:"token,omitempty"`
	Org       string `yaml:"org,omitempty" validate:"required_with=InfluxURL"`
	Bucket    string `yaml:"bucket,omitempty" validate:"required_with=InfluxURL"`
}

type UploadConfig struct {
	Bucket          string `yaml:"bucket,omitempty"`
	Prefix          string `yaml:"prefix,omitempty"`
	CredentialsFile string `yaml:"credentials_file,omitempty"`
}

type TelemetryConfig struct {
	// MetricsAddr serves /health and /metrics while a scan runs, e.g. ":9464".
	MetricsAddr    string `yaml:"metrics_addr,omitempty" validate:"omitempty,hostname_port"`
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint   string `yaml:"otlp_endpoint,omitempty"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

func DefaultConfig() RegscrapeConfig {
	ids := identifiers.DefaultConfig()
	return RegscrapeConfig{
		Register: RegisterConfig{
			BaseURL:   fetcher.DefaultBaseURL,
			UserAgent: "regscrape/1.0",
		},
		HTTP: HTTPConfig{
			Timeout:         30 * time.Second,
			MaxAttempts:     1,
			RetryBackoff:    time.Second,
			BreakerCooldown: 30 * time.Second,
		},
		Scan: ScanConfig{
			BatchSize:          ids.BatchSize,
			Populations:        []string{"firm", "individual"},
			FirmPrefixes:       ids.FirmPrefixes,
			IndividualPrefixes: ids.IndividualPrefixes,
		},
		Output: OutputConfig{Dir: "extracted"},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
		},
		Log: LogConfig{Level: "info"},
	}
}
