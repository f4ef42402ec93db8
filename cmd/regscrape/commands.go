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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/regscrape/cmd/regscrape/config"
	"github.com/AleutianAI/regscrape/pkg/logging"
	"github.com/AleutianAI/regscrape/pkg/validation"
	"github.com/AleutianAI/regscrape/services/register/identifiers"
	"github.com/AleutianAI/regscrape/services/register/projector"
	"github.com/AleutianAI/regscrape/services/register/record"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

// cliOptions are the flags shared by every command.
type cliOptions struct {
	configPath  string
	logLevel    string
	outDir      string
	batchSize   int
	concurrency int
	populations []string
}

// newRootCmd builds the command tree. Each call returns fresh flag state.
func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:   "regscrape",
		Short: "Scrape the public Insurance Intermediaries Register",
		Long: `regscrape walks every firm and individual licence number, looks each one up
in the public register, and writes the results as CSV and XML files.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath, "path to the YAML config (created on first run)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides the config)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Scan every configured population, firm first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, opts)
		},
	}
	runCmd.Flags().StringVar(&opts.outDir, "out", "", "output directory (overrides output.dir)")
	runCmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "licence numbers per batch (overrides scan.batch_size)")
	runCmd.Flags().IntVar(&opts.concurrency, "concurrency", -1, "in-flight lookups per batch, 0 for the whole batch (overrides scan.concurrency)")
	runCmd.Flags().StringSliceVar(&opts.populations, "population", nil, "population(s) to scan: firm, individual")

	var lookupPop string
	lookupCmd := &cobra.Command{
		Use:   "lookup [identifier]",
		Short: "Fetch one licence number and print its rows as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLookup(cmd, opts, lookupPop, args[0])
		},
	}
	lookupCmd.Flags().StringVar(&lookupPop, "population", "firm", "firm or individual")

	var idsPop string
	var idsLimit int
	idsCmd := &cobra.Command{
		Use:   "ids",
		Short: "Print the identifiers a scan would look up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIDs(cmd, opts, idsPop, idsLimit)
		},
	}
	idsCmd.Flags().StringVar(&idsPop, "population", "firm", "firm or individual")
	idsCmd.Flags().IntVar(&idsLimit, "limit", 0, "stop after this many identifiers (0 prints all)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "regscrape %s\n", version)
		},
	}

	rootCmd.AddCommand(runCmd, lookupCmd, idsCmd, versionCmd)
	return rootCmd
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command, opts *cliOptions) (config.RegscrapeConfig, error) {
	cfg, err := config.Load(opts.configPath, cmd.ErrOrStderr())
	if err != nil {
		return cfg, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.outDir != "" {
		cfg.Output.Dir = opts.outDir
	}
	if opts.batchSize > 0 {
		cfg.Scan.BatchSize = opts.batchSize
	}
	if opts.concurrency >= 0 {
		cfg.Scan.Concurrency = opts.concurrency
	}
	if len(opts.populations) > 0 {
		cfg.Scan.Populations = opts.populations
	}
	return cfg, cfg.Validate()
}

// newLogger logs text to a terminal and JSON when stderr is redirected to a
// file or pipe, unless log.json forces JSON everywhere.
func newLogger(cmd *cobra.Command, cfg config.RegscrapeConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	out := cmd.ErrOrStderr()
	return logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Log.Dir,
		Service: "regscrape",
		JSON:    cfg.Log.JSON || redirected(out),
		Output:  out,
	}), nil
}

// redirected reports whether w is an OS file that is not a terminal.
func redirected(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
}

func runScan(cmd *cobra.Command, opts *cliOptions) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	runID := uuid.New().String()
	log := logger.With("run_id", runID).Slog()
	ctx := cmd.Context()

	s, err := newScan(ctx, cfg, runID, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("shutdown incomplete", slog.String("error", err.Error()))
		}
	}()

	start := time.Now()
	log.Info("scan started",
		slog.Any("populations", cfg.Scan.Populations),
		slog.String("output", cfg.Output.Dir),
		slog.Int("batch_size", cfg.Scan.BatchSize))

	results, err := s.Run(ctx)
	if err != nil {
		log.Error("scan aborted", slog.String("error", err.Error()))
		return err
	}

	rows := 0
	for _, r := range results {
		rows += r.Rows
	}
	log.Info("scan complete",
		slog.Int("rows", rows),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// lookupResult is what the lookup command prints.
type lookupResult struct {
	Identifier string                  `json:"identifier"`
	Population string                  `json:"population"`
	Status     string                  `json:"status"`
	Error      string                  `json:"error,omitempty"`
	Rows       map[string][]record.Row `json:"rows,omitempty"`
}

func runLookup(cmd *cobra.Command, opts *cliOptions, popName, rawID string) error {
	pop, err := record.ParsePopulation(popName)
	if err != nil {
		return err
	}
	id, err := validation.SanitizeIdentifier(rawID)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	client, _, err := newFetcher(cfg, logger.Slog())
	if err != nil {
		return err
	}

	out := client.Lookup(cmd.Context(), pop, id)
	res := lookupResult{Identifier: id, Population: pop.String(), Status: out.Status.String()}
	if out.Err != nil {
		res.Error = out.Err.Error()
	}
	if out.Found() {
		set, err := projector.Project(out.Document)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Rows = make(map[string][]record.Row)
			for _, c := range record.Categories {
				if rows := set.Rows(c); len(rows) > 0 {
					res.Rows[c.Stem()] = rows
				}
			}
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func runIDs(cmd *cobra.Command, opts *cliOptions, popName string, limit int) error {
	pop, err := record.ParsePopulation(popName)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	seq, err := identifiers.For(pop, identifierConfig(cfg))
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	n := 0
	for batch := range seq {
		for _, id := range batch.IDs {
			if limit > 0 && n >= limit {
				return nil
			}
			fmt.Fprintln(w, id)
			n++
		}
	}
	return nil
}
