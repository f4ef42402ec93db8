// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package identifiers generates the candidate licence numbers probed against
// the register.
//
// # Description
//
// The register does not offer a listing endpoint, so every plausible licence
// number is enumerated and looked up. Numbers are four digits in [1000, 10000).
// Each numeric batch is expanded into one identifier per prefix:
//
//	firm:       FA1000 FA1001 ... FB1000 ... GB1009
//	individual: IA1000 ... IA1009 JA1000 ... JA1009   (letter A, then B, ...)
//
// Sequences are lazy (iter.Seq) and restartable: ranging over the same
// sequence twice yields the same batches.
package identifiers

import (
	"fmt"
	"iter"

	"github.com/AleutianAI/regscrape/services/register/record"
)

const (
	// NumberStart is the first licence number probed (inclusive).
	NumberStart = 1000

	// NumberEnd is the end of the probed range (exclusive).
	NumberEnd = 10000

	// DefaultBatchSize is the number of licence numbers per batch.
	DefaultBatchSize = 10
)

// Letters are the inner letters of individual licence numbers.
const Letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Config controls identifier generation.
type Config struct {
	// BatchSize is the count of licence numbers per batch. Each batch holds
	// BatchSize * len(prefixes) identifiers. Zero means DefaultBatchSize.
	BatchSize int

	// FirmPrefixes expand each firm number (default FA, FB, GB).
	FirmPrefixes []string

	// IndividualPrefixes expand each individual number (default I, J).
	IndividualPrefixes []string
}

// DefaultConfig returns the prefixes the public register uses.
func DefaultConfig() Config {
	return Config{
		BatchSize:          DefaultBatchSize,
		FirmPrefixes:       []string{"FA", "FB", "GB"},
		IndividualPrefixes: []string{"I", "J"},
	}
}

func (c Config) batchSize() int {
	if c.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return c.BatchSize
}

// Batch is one group of identifiers processed with a single flush point.
type Batch struct {
	Population record.Population

	// Index is the zero-based position of the batch within its population.
	Index int

	// IDs are ordered prefix-major: every number with the first prefix,
	// then every number with the second prefix, and so on.
	IDs []string
}

// For returns the batch sequence for a population.
func For(pop record.Population, cfg Config) (iter.Seq[Batch], error) {
	switch pop {
	case record.PopulationFirm:
		return Firm(cfg), nil
	case record.PopulationIndividual:
		return Individual(cfg), nil
	default:
		return nil, fmt.Errorf("no identifier space for population %q", pop)
	}
}

// Firm yields firm batches. With the default config there are 900 batches of
// 30 identifiers.
func Firm(cfg Config) iter.Seq[Batch] {
	size := cfg.batchSize()
	prefixes := cfg.FirmPrefixes
	return func(yield func(Batch) bool) {
		index := 0
		for start := NumberStart; start < NumberEnd; start += size {
			end := min(start+size, NumberEnd)
			b := Batch{
				Population: record.PopulationFirm,
				Index:      index,
				IDs:        expand(prefixes, "", start, end),
			}
			if !yield(b) {
				return
			}
			index++
		}
	}
}

// Individual yields individual batches: for each letter A-Z, the numeric
// range in sub-batches, each expanded by the outer prefixes.
func Individual(cfg Config) iter.Seq[Batch] {
	size := cfg.batchSize()
	prefixes := cfg.IndividualPrefixes
	return func(yield func(Batch) bool) {
		index := 0
		for _, letter := range Letters {
			for start := NumberStart; start < NumberEnd; start += size {
				end := min(start+size, NumberEnd)
				b := Batch{
					Population: record.PopulationIndividual,
					Index:      index,
					IDs:        expand(prefixes, string(letter), start, end),
				}
				if !yield(b) {
					return
				}
				index++
			}
		}
	}
}

// Count returns the total number of identifiers a population generates.
func Count(pop record.Population, cfg Config) int {
	numbers := NumberEnd - NumberStart
	switch pop {
	case record.PopulationFirm:
		return numbers * len(cfg.FirmPrefixes)
	case record.PopulationIndividual:
		return numbers * len(Letters) * len(cfg.IndividualPrefixes)
	default:
		return 0
	}
}

// BatchCount returns how many batches For yields for a population.
func BatchCount(pop record.Population, cfg Config) int {
	size := cfg.batchSize()
	perRange := (NumberEnd - NumberStart + size - 1) / size
	switch pop {
	case record.PopulationFirm:
		return perRange
	case record.PopulationIndividual:
		return perRange * len(Letters)
	default:
		return 0
	}
}

func expand(prefixes []string, inner string, start, end int) []string {
	ids := make([]string, 0, len(prefixes)*(end-start))
	for _, p := range prefixes {
		for n := start; n < end; n++ {
			ids = append(ids, fmt.Sprintf("%s%s%04d", p, inner, n))
		}
	}
	return ids
}
