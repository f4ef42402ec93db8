// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package archive

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/regscrape/services/register/record"
)

func openInMemory(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestArchive_PutGet(t *testing.T) {
	a := openInMemory(t)
	ctx := context.Background()

	doc := record.Document{
		"key":       "K1",
		"licenseNo": "FA1000",
		"officers":  []any{map[string]any{"name": "John Smith"}},
	}
	require.NoError(t, a.Put(ctx, record.PopulationFirm, doc))

	got, ok, err := a.Get(ctx, record.PopulationFirm, "FA1000")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "K1", got.Key())
	assert.Equal(t, []any{map[string]any{"name": "John Smith"}}, got["officers"])

	_, ok, err = a.Get(ctx, record.PopulationIndividual, "FA1000")
	require.NoError(t, err)
	assert.False(t, ok, "populations are separate keyspaces")
}

func TestArchive_OverwriteAndCount(t *testing.T) {
	a := openInMemory(t)
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, record.PopulationFirm, record.Document{"licenseNo": "FA1000", "v": 1.0}))
	require.NoError(t, a.Put(ctx, record.PopulationFirm, record.Document{"licenseNo": "FA1000", "v": 2.0}))
	require.NoError(t, a.Put(ctx, record.PopulationFirm, record.Document{"licenseNo": "FB1000"}))
	require.NoError(t, a.Put(ctx, record.PopulationIndividual, record.Document{"licenseNo": "IA1000"}))

	n, err := a.Count(ctx, record.PopulationFirm)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, _, err := a.Get(ctx, record.PopulationFirm, "FA1000")
	require.NoError(t, err)
	assert.Equal(t, 2.0, got["v"])
}

func TestArchive_PutRequiresLicence(t *testing.T) {
	a := openInMemory(t)
	assert.Error(t, a.Put(context.Background(), record.PopulationFirm, record.Document{"key": "K1"}))
}

func TestArchive_PersistentReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "archive")
	ctx := context.Background()

	a, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, a.Put(ctx, record.PopulationFirm, record.Document{"licenseNo": "GB1234"}))
	require.NoError(t, a.Close())

	a, err = Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer a.Close()

	_, ok, err := a.Get(ctx, record.PopulationFirm, "GB1234")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
