// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gcs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_MissingKey(t *testing.T) {
	_, err := NewClient(context.Background(), "bucket", "/nonexistent/key.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service account key not found")
	assert.Contains(t, err.Error(), "/nonexistent/key.json")

	_, err = NewClient(context.Background(), "bucket", "")
	assert.Error(t, err)
}

func TestNewClient_RequiresBucket(t *testing.T) {
	_, err := NewClient(context.Background(), "", "/any")
	assert.ErrorContains(t, err, "bucket name is required")
}

func TestNewClient_DirectoryKey(t *testing.T) {
	_, err := NewClient(context.Background(), "bucket", t.TempDir())
	assert.ErrorContains(t, err, "is a directory")
}

func TestNewClient_InvalidCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, []byte("not valid json"), 0600))

	_, err := NewClient(context.Background(), "bucket", path)
	assert.ErrorContains(t, err, "failed to create GCS storage client")
}
