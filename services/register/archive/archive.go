// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package archive keeps the raw merged register documents in BadgerDB.
//
// The CSV/XML outputs are lossy projections. The archive holds every found
// document as returned by the register so later re-projections do not need
// another full scan. Keys are "<population>/<licenseNo>"; a later scan of
// the same licence overwrites the earlier document.
//
// The archive is write-mostly: a scan never reads it back to skip work.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/regscrape/services/register/record"
)

// Config holds configuration for the archive database.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. If nil, it is disabled.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Zero disables GC.
	GCInterval time.Duration
}

// DefaultConfig returns production defaults for an archive at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: false,
		GCInterval: 5 * time.Minute,
	}
}

// InMemoryConfig returns configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Archive stores documents by population and licence number.
//
// Thread Safety: Safe for concurrent use.
type Archive struct {
	db     *badger.DB
	logger *slog.Logger
	stopCh chan struct{}
	doneCh chan struct{}
}

// Open opens the archive, creating the directory if needed.
//
// # Inputs
//
//   - cfg: Archive configuration. Path is required unless InMemory is true.
//
// # Outputs
//
//   - *Archive: The opened archive. Caller must call Close when done.
//   - error: Non-nil if the path is missing or the database cannot be opened.
func Open(cfg Config) (*Archive, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("archive path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create archive directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	a := &Archive{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		a.stopCh = make(chan struct{})
		a.doneCh = make(chan struct{})
		go a.runGC(cfg.GCInterval)
	}
	return a, nil
}

func key(pop record.Population, licenseNo string) []byte {
	return []byte(pop.String() + "/" + licenseNo)
}

// Put stores a document under its licence number.
func (a *Archive) Put(_ context.Context, pop record.Population, doc record.Document) error {
	licenseNo := doc.LicenseNo()
	if licenseNo == "" {
		return errors.New("archive: document has no licenseNo")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("archive: encode %s: %w", licenseNo, err)
	}
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(pop, licenseNo), data)
	})
}

// Get returns the stored document. ok is false when none is stored.
func (a *Archive) Get(_ context.Context, pop record.Population, licenseNo string) (doc record.Document, ok bool, err error) {
	err = a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(pop, licenseNo))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		ok = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("archive: get %s: %w", licenseNo, err)
	}
	return doc, ok, nil
}

// Count returns how many documents are stored for a population.
func (a *Archive) Count(_ context.Context, pop record.Population) (int, error) {
	n := 0
	prefix := []byte(pop.String() + "/")
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close stops garbage collection and closes the database.
func (a *Archive) Close() error {
	if a.stopCh != nil {
		close(a.stopCh)
		<-a.doneCh
		a.stopCh = nil
	}
	return a.db.Close()
}

func (a *Archive) runGC(interval time.Duration) {
	defer close(a.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			// ErrNoRewrite means no GC was needed.
			if err := a.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				a.logger.Warn("archive value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}
