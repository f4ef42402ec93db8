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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRegister knows one firm, FA1000.
func fakeRegister(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		q := r.URL.Query()
		switch path.Base(r.URL.Path) {
		case "firm":
			if q.Get("searchValue") == "FA1000" {
				fmt.Fprint(w, `{"data":[{"key":"K1","licenseNo":"FA1000"}]}`)
				return
			}
			fmt.Fprint(w, `{"data":[]}`)
		case "firmDetail":
			fmt.Fprint(w, `{"engName":"ACME AGENCY","licenseType":"AGY",
				"officers":[{"name":"John Smith"}],
				"licenseeRecords":[{"type":"AGY","periodStart":"2023-01-15"}],
				"notes":"ok"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, dir, baseURL string) string {
	t.Helper()
	p := filepath.Join(dir, "regscrape.yaml")
	yaml := fmt.Sprintf(`register:
  base_url: %s/v1/search/
scan:
  batch_size: 9000
  concurrency: 2
  populations: [firm]
  firm_prefixes: [FA]
output:
  dir: %s
telemetry:
  trace_exporter: none
  metric_exporter: none
log:
  level: warn
`, baseURL, filepath.Join(dir, "extracted"))
	require.NoError(t, os.WriteFile(p, []byte(yaml), 0o644))
	return p
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "regscrape dev\n", out)
}

func TestIDsCommand(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), "http://unused")

	out, _, err := execute(t, "ids", "--config", cfg, "--population", "individual", "--limit", "3")
	require.NoError(t, err)
	assert.Equal(t, "IA1000\nIA1001\nIA1002\n", out)

	out, _, err = execute(t, "ids", "--config", cfg, "--limit", "2")
	require.NoError(t, err)
	assert.Equal(t, "FA1000\nFA1001\n", out)
}

func TestIDsCommand_BadPopulation(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), "http://unused")
	_, _, err := execute(t, "ids", "--config", cfg, "--population", "corporate")
	assert.Error(t, err)
}

func TestLookupCommand(t *testing.T) {
	srv := fakeRegister(t)
	cfg := writeConfig(t, t.TempDir(), srv.URL)

	out, _, err := execute(t, "lookup", "--config", cfg, "fa1000")
	require.NoError(t, err)

	var res struct {
		Identifier string                       `json:"identifier"`
		Status     string                       `json:"status"`
		Rows       map[string][]map[string]any `json:"rows"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "FA1000", res.Identifier)
	assert.Equal(t, "found", res.Status)
	require.Len(t, res.Rows["polii"], 1)
	assert.Equal(t, "John", res.Rows["polii"][0]["Responsible Officer(s) English Name"])
	assert.Equal(t, "Insurance Agency", res.Rows["polii"][0]["License Type"])
	assert.Equal(t, "15/01/2023", res.Rows["pld"][0]["License Period Start Date"])
	assert.Len(t, res.Rows["notes"], 1)
}

func TestLookupCommand_NotFound(t *testing.T) {
	srv := fakeRegister(t)
	cfg := writeConfig(t, t.TempDir(), srv.URL)

	out, _, err := execute(t, "lookup", "--config", cfg, "FA9999")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "not_found_search"`)
	assert.NotContains(t, out, `"rows"`)
}

func TestLookupCommand_InvalidIdentifier(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), "http://unused")
	_, _, err := execute(t, "lookup", "--config", cfg, "FA1000&status=x")
	assert.Error(t, err)
}

func TestRunCommand_WritesOutputs(t *testing.T) {
	srv := fakeRegister(t)
	dir := t.TempDir()
	cfg := writeConfig(t, dir, srv.URL)
	out := filepath.Join(dir, "custom")

	_, stderr, err := execute(t, "run", "--config", cfg, "--out", out)
	require.NoError(t, err, stderr)

	csv, err := os.ReadFile(filepath.Join(out, "firm", "polii.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csv)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "key,License No,English Name"))
	assert.Contains(t, lines[1], "FA1000")

	xml, err := os.ReadFile(filepath.Join(out, "firm", "notes.xml"))
	require.NoError(t, err)
	assert.Contains(t, string(xml), `<field name="Notes">ok</field>`)

	_, err = os.Stat(filepath.Join(out, "individual"))
	assert.True(t, os.IsNotExist(err), "individual was not requested")
}

func TestRunCommand_FirstRunConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "fresh.yaml")
	_, stderr, err := execute(t, "ids", "--config", p, "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, stderr, "First run detected")
	assert.FileExists(t, p)
}

func TestRunCommand_InvalidOverride(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), "http://unused")
	_, _, err := execute(t, "run", "--config", cfg, "--log-level", "loud")
	assert.Error(t, err)
}

func TestRedirected(t *testing.T) {
	var buf bytes.Buffer
	assert.False(t, redirected(&buf), "in-memory writers are not redirected")

	f, err := os.Create(filepath.Join(t.TempDir(), "stderr.log"))
	require.NoError(t, err)
	defer f.Close()
	assert.True(t, redirected(f), "a regular file is not a terminal")
}
