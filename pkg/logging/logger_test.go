// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{" info ", LevelInfo, false},
		{"", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"Warning", LevelWarn, false},
		{"error", LevelError, false},
		{"trace", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnknownLevel) {
				t.Errorf("ParseLevel(%q) error = %v, want ErrUnknownLevel", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	if got := Level(42).toSlogLevel(); got != slog.LevelInfo {
		t.Errorf("unknown level maps to %v, want Info", got)
	}
	if got := LevelWarn.toSlogLevel(); got != slog.LevelWarn {
		t.Errorf("LevelWarn maps to %v", got)
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_ConsoleText(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Service: "regscrape"})
	defer logger.Close()

	logger.Info("flushed 3 Notes rows", "population", "firm")

	out := buf.String()
	for _, want := range []string{"flushed 3 Notes rows", "population=firm", "service=regscrape"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestNew_ConsoleJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, JSON: true})
	logger.Warn("dropping record", "identifier", "FA1000")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["identifier"] != "FA1000" || entry["level"] != "WARN" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Level: LevelWarn})

	logger.Debug("debug line")
	logger.Info("info line")
	logger.Warn("warn line")
	logger.Error("error line")

	out := buf.String()
	if strings.Contains(out, "debug line") || strings.Contains(out, "info line") {
		t.Errorf("messages below Warn were logged: %q", out)
	}
	if !strings.Contains(out, "warn line") || !strings.Contains(out, "error line") {
		t.Errorf("Warn and Error should be logged: %q", out)
	}
}

func TestNew_QuietWithoutFile(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Quiet: true})
	logger.Error("nothing to see")
	if buf.Len() != 0 {
		t.Errorf("quiet logger wrote %q", buf.String())
	}
}

func TestNew_WithLogDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var buf bytes.Buffer
	cfg := Config{Output: &buf, LogDir: dir, Service: "regscrape"}
	logger := New(cfg)

	logger.Info("scan started", "run_id", "run-1")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(LogFilePath(cfg, time.Now()))
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("file entry is not JSON: %v", err)
	}
	if entry["run_id"] != "run-1" || entry["service"] != "regscrape" {
		t.Errorf("unexpected file entry %v", entry)
	}
	if !strings.Contains(buf.String(), "scan started") {
		t.Error("console should also receive the entry")
	}
}

func TestNew_WithLogDir_Unusable(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, LogDir: filepath.Join(blocker, "logs")})
	logger.Info("still logs to console")
	if !strings.Contains(buf.String(), "still logs to console") {
		t.Error("console output lost when the log dir is unusable")
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestLogFilePath_DefaultService(t *testing.T) {
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	got := LogFilePath(Config{LogDir: "/var/log/regscrape"}, day)
	want := filepath.Join("/var/log/regscrape", "regscrape_2025-03-01.log")
	if got != want {
		t.Errorf("LogFilePath() = %q, want %q", got, want)
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf})
	child := logger.With("run_id", "abc")
	child.Info("batch complete")

	if !strings.Contains(buf.String(), "run_id=abc") {
		t.Errorf("child attributes missing: %q", buf.String())
	}
	if child.Slog() == logger.Slog() {
		t.Error("With should return a distinct slog.Logger")
	}
}

func TestLogger_CloseTwice(t *testing.T) {
	logger := New(Config{Quiet: true, LogDir: t.TempDir()})
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestLogger_ConcurrentUse(t *testing.T) {
	logger := New(Config{Quiet: true, LogDir: t.TempDir()})
	defer logger.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.With("worker", n).Info("lookup", "identifier", "FA1000")
		}(i)
	}
	wg.Wait()
}

func TestDefault(t *testing.T) {
	if Default().Slog() == nil {
		t.Error("Default() returned a logger without slog")
	}
}

// =============================================================================
// Multi-Handler Tests
// =============================================================================

func TestMultiHandler_PerHandlerLevels(t *testing.T) {
	var debugBuf, warnBuf bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}}
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("Enabled should be true when any handler accepts the level")
	}

	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("population", "firm")}))
	logger.Info("info only")

	if !strings.Contains(debugBuf.String(), "population=firm") {
		t.Errorf("debug handler missing record: %q", debugBuf.String())
	}
	if warnBuf.Len() != 0 {
		t.Errorf("warn handler should drop Info: %q", warnBuf.String())
	}
}

func TestMultiHandler_WithGroup(t *testing.T) {
	var buf bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{slog.NewTextHandler(&buf, nil)}}
	slog.New(h.WithGroup("batch")).Info("done", "index", 3)
	if !strings.Contains(buf.String(), "batch.index=3") {
		t.Errorf("group not applied: %q", buf.String())
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/.regscrape/logs"); got != filepath.Join(home, ".regscrape/logs") {
		t.Errorf("expandPath(~) = %q", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("expandPath(/var/log) = %q", got)
	}
}
