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
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/regscrape/pkg/validation"
	"github.com/AleutianAI/regscrape/services/register/record"
)

// DefaultPath is used when --config is not given.
const DefaultPath = "regscrape.yaml"

// Environment overrides applied after the file is read.
const (
	EnvLogLevel    = "REGSCRAPE_LOG_LEVEL"
	EnvOutputDir   = "REGSCRAPE_OUTPUT_DIR"
	EnvInfluxToken = "REGSCRAPE_INFLUX_TOKEN"
)

var validate = validator.New()

// Load reads the config at path, creating a default file there first when
// none exists. Fields missing from the file keep their defaults.
// Environment overrides are applied before validation.
//
// notice receives the first-run message; nil discards it.
func Load(path string, notice io.Writer) (RegscrapeConfig, error) {
	if path == "" {
		path = DefaultPath
	}
	if notice == nil {
		notice = io.Discard
	}
	// create it if it doesn't exist
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(notice, " First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return RegscrapeConfig{}, err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return RegscrapeConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RegscrapeConfig{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return RegscrapeConfig{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func applyEnv(cfg *RegscrapeConfig) {
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(EnvOutputDir); v != "" {
		cfg.Output.Dir = v
	}
	if v := os.Getenv(EnvInfluxToken); v != "" {
		cfg.Stats.Token = v
	}
}

// Validate checks struct tags and the identifier prefixes.
func (c RegscrapeConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if err := validation.ValidatePrefixes(c.Scan.FirmPrefixes); err != nil {
		return fmt.Errorf("scan.firm_prefixes: %w", err)
	}
	if err := validation.ValidatePrefixes(c.Scan.IndividualPrefixes); err != nil {
		return fmt.Errorf("scan.individual_prefixes: %w", err)
	}
	return nil
}

// PopulationList parses Scan.Populations into scan order with duplicates removed.
func (c RegscrapeConfig) PopulationList() ([]record.Population, error) {
	want := make(map[record.Population]bool, len(c.Scan.Populations))
	for _, s := range c.Scan.Populations {
		p, err := record.ParsePopulation(s)
		if err != nil {
			return nil, err
		}
		want[p] = true
	}
	// Firm always runs before individual, whatever order the file lists.
	pops := make([]record.Population, 0, len(want))
	for _, p := range record.Populations {
		if want[p] {
			pops = append(pops, p)
		}
	}
	return pops, nil
}

func createDefault(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create the config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
