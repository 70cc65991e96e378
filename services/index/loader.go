// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxFileSize skips files larger than 1MB.
	DefaultMaxFileSize = 1 << 20

	// DefaultChunkLines is the number of lines per semantic chunk.
	DefaultChunkLines = 40

	defaultLoadConcurrency = 8
)

var defaultSkipDirs = []string{".git", "node_modules", "vendor", ".idea", "__pycache__", "target", "dist"}

// ChunkStore receives code chunks for semantic search.
type ChunkStore interface {
	UpsertChunks(ctx context.Context, chunks []Chunk) error
	DeleteChunks(ctx context.Context, repoRef, path string) error
}

// Indexer loads files from a working tree into the file index and,
// when Chunks is set, into the semantic index.
type Indexer struct {
	Files   *BadgerFileIndex
	Chunks  ChunkStore
	Chunker Chunker
	// Policy keeps files with blocking findings out of both indexes.
	Policy      *Policy
	Logger      *slog.Logger
	MaxFileSize int64
	ChunkLines  int
	Concurrency int
	SkipDirs    []string
}

// LoadStats summarizes a LoadDirectory run.
type LoadStats struct {
	Indexed int64
	Skipped int64
	Chunks  int64
}

func (ix *Indexer) logger() *slog.Logger {
	if ix.Logger != nil {
		return ix.Logger
	}
	return slog.Default()
}

// chunker defaults to syntax-aware chunking for supported languages.
func (ix *Indexer) chunker() Chunker {
	if ix.Chunker != nil {
		return ix.Chunker
	}
	return DefaultChunker{Lines: ix.ChunkLines}
}

func (ix *Indexer) maxFileSize() int64 {
	if ix.MaxFileSize > 0 {
		return ix.MaxFileSize
	}
	return DefaultMaxFileSize
}

func (ix *Indexer) skipDir(name string) bool {
	dirs := ix.SkipDirs
	if dirs == nil {
		dirs = defaultSkipDirs
	}
	for _, d := range dirs {
		if name == d {
			return true
		}
	}
	return false
}

// LoadDirectory walks root and indexes every text file under repoRef.
// Paths are stored relative to root with forward slashes.
func (ix *Indexer) LoadDirectory(ctx context.Context, root, repoRef string) (LoadStats, error) {
	ctx, span := tracer.Start(ctx, "Indexer.LoadDirectory")
	defer span.End()

	info, err := os.Stat(root)
	if err != nil {
		return LoadStats{}, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return LoadStats{}, fmt.Errorf("%s is not a directory", root)
	}

	var stats LoadStats
	g, gctx := errgroup.WithContext(ctx)
	limit := ix.Concurrency
	if limit <= 0 {
		limit = defaultLoadConcurrency
	}
	g.SetLimit(limit)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			ix.logger().Warn("skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if gctx.Err() != nil {
			return gctx.Err()
		}
		if d.IsDir() {
			if path != root && ix.skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		g.Go(func() error {
			indexed, chunks, err := ix.indexPath(gctx, root, repoRef, path)
			if err != nil {
				return err
			}
			if indexed {
				atomic.AddInt64(&stats.Indexed, 1)
				atomic.AddInt64(&stats.Chunks, int64(chunks))
			} else {
				atomic.AddInt64(&stats.Skipped, 1)
			}
			return nil
		})
		return nil
	})

	if err := g.Wait(); err != nil {
		return stats, err
	}
	if walkErr != nil {
		return stats, walkErr
	}

	ix.logger().Info("indexed directory",
		"root", root,
		"repo_ref", repoRef,
		"files", stats.Indexed,
		"skipped", stats.Skipped,
		"chunks", stats.Chunks)
	return stats, nil
}

// IndexFile (re)indexes a single file under root.
func (ix *Indexer) IndexFile(ctx context.Context, root, repoRef, absPath string) error {
	_, _, err := ix.indexPath(ctx, root, repoRef, absPath)
	return err
}

// RemoveFile drops a file from both indexes.
func (ix *Indexer) RemoveFile(ctx context.Context, root, repoRef, absPath string) error {
	rel, err := relativePath(root, absPath)
	if err != nil {
		return err
	}
	if err := ix.Files.DeleteFile(ctx, repoRef, rel); err != nil {
		return fmt.Errorf("delete %s: %w", rel, err)
	}
	if ix.Chunks != nil {
		if err := ix.Chunks.DeleteChunks(ctx, repoRef, rel); err != nil {
			return err
		}
	}
	return nil
}

// indexPath stores one file. It reports false for skipped files.
func (ix *Indexer) indexPath(ctx context.Context, root, repoRef, absPath string) (bool, int, error) {
	rel, err := relativePath(root, absPath)
	if err != nil {
		return false, 0, err
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("stat %s: %w", rel, err)
	}
	if info.Size() > ix.maxFileSize() {
		ix.logger().Debug("skipping large file", "path", rel, "size", info.Size())
		return false, 0, nil
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return false, 0, fmt.Errorf("read %s: %w", rel, err)
	}
	if !isText(data) {
		return false, 0, nil
	}

	content := string(data)
	if ix.Policy != nil {
		if f, blocked := ix.Policy.Blocked(rel, content); blocked {
			ix.logger().Warn("refusing to index file",
				"path", rel,
				"classification", f.Classification,
				"pattern", f.PatternID,
				"line", f.Line)
			if err := ix.RemoveFile(ctx, root, repoRef, absPath); err != nil {
				return false, 0, err
			}
			return false, 0, nil
		}
	}
	if err := ix.Files.PutFile(ctx, repoRef, rel, content); err != nil {
		return false, 0, fmt.Errorf("store %s: %w", rel, err)
	}

	if ix.Chunks == nil {
		return true, 0, nil
	}
	chunks, err := ix.chunker().Chunk(ctx, repoRef, rel, content)
	if err != nil {
		ix.logger().Warn("chunking failed, using line windows", "path", rel, "error", err)
		chunks = ChunkFile(repoRef, rel, content, ix.ChunkLines)
	}
	if err := ix.Chunks.UpsertChunks(ctx, chunks); err != nil {
		return false, 0, fmt.Errorf("upload chunks for %s: %w", rel, err)
	}
	return true, len(chunks), nil
}

func relativePath(root, absPath string) (string, error) {
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		return "", fmt.Errorf("relative path for %s: %w", absPath, err)
	}
	if rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside %s", absPath, root)
	}
	return filepath.ToSlash(rel), nil
}

// isText rejects files containing NUL bytes or invalid UTF-8.
func isText(data []byte) bool {
	sniff := data
	if len(sniff) > 8000 {
		sniff = sniff[:8000]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		return false
	}
	return utf8.Valid(data)
}

// ChunkFile splits content into windows of lines. Line numbers are 1-based
// and inclusive. Blank windows are omitted.
func ChunkFile(repoRef, path, content string, lines int) []Chunk {
	if lines <= 0 {
		lines = DefaultChunkLines
	}
	all := strings.Split(strings.TrimRight(content, "\n"), "\n")
	var chunks []Chunk
	for start := 0; start < len(all); start += lines {
		end := start + lines
		if end > len(all) {
			end = len(all)
		}
		snippet := strings.Join(all[start:end], "\n")
		if strings.TrimSpace(snippet) == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			RepoRef:   repoRef,
			Path:      path,
			StartLine: start + 1,
			EndLine:   end,
			Snippet:   snippet,
		})
	}
	return chunks
}
