// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingChunks struct {
	mu      sync.Mutex
	chunks  []Chunk
	deleted []string
	err     error
}

func (r *recordingChunks) UpsertChunks(_ context.Context, chunks []Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.chunks = append(r.chunks, chunks...)
	return nil
}

func (r *recordingChunks) DeleteChunks(_ context.Context, _, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, path)
	return nil
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
	return root
}

func TestIndexer_LoadDirectory(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/main.go":             "package main\n\nfunc main() {}\n",
		"src/util/util.go":        "package util\n",
		"README.md":               "# hello\n",
		".git/HEAD":               "ref: refs/heads/main\n",
		"node_modules/x/index.js": "module.exports = 1\n",
		"bin/tool":                "\x00\x01\x02binary",
		"big.txt":                 strings.Repeat("a", 64),
	})

	idx := openTestIndex(t)
	chunks := &recordingChunks{}
	ix := &Indexer{Files: idx, Chunks: chunks, MaxFileSize: 32}

	stats, err := ix.LoadDirectory(context.Background(), root, "local/demo")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Indexed)
	assert.Equal(t, int64(2), stats.Skipped)
	assert.Equal(t, int64(3), stats.Chunks)

	paths, err := idx.SearchPaths(context.Background(), "local/demo", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md", "src/main.go", "src/util/util.go"}, paths)

	f, err := idx.ReadFile(context.Background(), "local/demo", "src/main.go")
	require.NoError(t, err)
	assert.Equal(t, "package main\n\nfunc main() {}\n", f.Content)

	var chunked []string
	for _, c := range chunks.chunks {
		chunked = append(chunked, c.Path)
	}
	sort.Strings(chunked)
	assert.Equal(t, []string{"README.md", "src/main.go", "src/util/util.go"}, chunked)
}

func TestIndexer_LoadDirectoryErrors(t *testing.T) {
	idx := openTestIndex(t)
	ix := &Indexer{Files: idx}

	_, err := ix.LoadDirectory(context.Background(), filepath.Join(t.TempDir(), "missing"), "r")
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = ix.LoadDirectory(context.Background(), file, "r")
	assert.Error(t, err)
}

func TestIndexer_ChunkStoreFailure(t *testing.T) {
	root := writeTree(t, map[string]string{"a.go": "package a\n"})
	idx := openTestIndex(t)
	ix := &Indexer{Files: idx, Chunks: &recordingChunks{err: errors.New("weaviate down")}}

	_, err := ix.LoadDirectory(context.Background(), root, "r")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weaviate down")
}

func TestIndexer_RemoveFile(t *testing.T) {
	root := writeTree(t, map[string]string{"a/b.go": "package a\n"})
	idx := openTestIndex(t)
	chunks := &recordingChunks{}
	ix := &Indexer{Files: idx, Chunks: chunks}
	ctx := context.Background()

	require.NoError(t, ix.IndexFile(ctx, root, "r", filepath.Join(root, "a", "b.go")))
	require.NoError(t, ix.RemoveFile(ctx, root, "r", filepath.Join(root, "a", "b.go")))

	_, err := idx.ReadFile(ctx, "r", "a/b.go")
	assert.True(t, errors.Is(err, ErrFileNotFound))
	assert.Equal(t, []string{"a/b.go"}, chunks.deleted)

	assert.Error(t, ix.RemoveFile(ctx, root, "r", "/elsewhere/x.go"))
}

func TestChunkFile(t *testing.T) {
	var lines []string
	for i := 1; i <= 7; i++ {
		lines = append(lines, "line")
	}
	content := strings.Join(lines, "\n") + "\n"

	chunks := ChunkFile("r", "f.go", content, 3)
	require.Len(t, chunks, 3)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 3, chunks[0].EndLine)
	assert.Equal(t, 4, chunks[1].StartLine)
	assert.Equal(t, 7, chunks[2].StartLine)
	assert.Equal(t, 7, chunks[2].EndLine)
	assert.Equal(t, "line\nline\nline", chunks[0].Snippet)

	assert.Empty(t, ChunkFile("r", "blank.go", "\n\n\n", 3))
	assert.Len(t, ChunkFile("r", "f.go", content, 0), 1)
}

func TestChunk_IDStable(t *testing.T) {
	a := Chunk{RepoRef: "r", Path: "f.go", StartLine: 1}
	b := Chunk{RepoRef: "r", Path: "f.go", StartLine: 1, Snippet: "changed"}
	c := Chunk{RepoRef: "r", Path: "f.go", StartLine: 41}

	assert.Equal(t, a.ID(), b.ID())
	assert.NotEqual(t, a.ID(), c.ID())
}

func TestIsText(t *testing.T) {
	assert.True(t, isText([]byte("hello\n")))
	assert.False(t, isText([]byte("he\x00llo")))
	assert.False(t, isText([]byte{0xff, 0xfe, 0xfd}))
}
