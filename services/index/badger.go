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
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("aleutian.answer.index")

// Key layout: "file\x00<repo>\x00<path>" -> content.
const (
	filePrefix = "file\x00"
	keySep     = "\x00"
)

// Config holds configuration for the badger-backed file index.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger

	// MaxPathResults caps SearchPaths. Default: 50.
	MaxPathResults int

	// GCInterval is how often to run value log garbage collection.
	// Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	GCDiscardRatio float64
}

// DefaultConfig returns defaults for a persistent index at path.
//
// Description:
//
//	Returns a Config with:
//	- SyncWrites enabled for durability
//	- 5-minute GC interval
//	- 50% discard ratio threshold
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		MaxPathResults: 50,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration for tests and ephemeral servers.
func InMemoryConfig() Config {
	return Config{
		InMemory:       true,
		MaxPathResults: 50,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// BadgerFileIndex stores repository files in BadgerDB.
//
// Thread Safety: Safe for concurrent use.
type BadgerFileIndex struct {
	db         *badger.DB
	maxResults int
	gcRatio    float64
	stopGC     chan struct{}
	gcDone     chan struct{}
}

// Open opens (or creates) a file index.
//
// Description:
//
//	Opens a BadgerDB database at cfg.Path, or in memory if cfg.InMemory
//	is true, and starts periodic value log GC when configured.
//
// Outputs:
//
//	*BadgerFileIndex - The index. Caller must call Close() when done.
//	error - Non-nil if the path is invalid or the database cannot be opened.
func Open(cfg Config) (*BadgerFileIndex, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent index")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create index directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	if cfg.MaxPathResults <= 0 {
		cfg.MaxPathResults = 50
	}
	idx := &BadgerFileIndex{db: db, maxResults: cfg.MaxPathResults}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		idx.gcRatio = cfg.GCDiscardRatio
		idx.stopGC = make(chan struct{})
		idx.gcDone = make(chan struct{})
		go idx.runGC(cfg.GCInterval)
	}
	return idx, nil
}

// Close stops GC and closes the database.
func (x *BadgerFileIndex) Close() error {
	if x.stopGC != nil {
		close(x.stopGC)
		<-x.gcDone
	}
	return x.db.Close()
}

// Backup writes a full badger backup of the index to w and returns the
// version it covers.
func (x *BadgerFileIndex) Backup(w io.Writer) (uint64, error) {
	version, err := x.db.Backup(w, 0)
	if err != nil {
		return 0, fmt.Errorf("backup file index: %w", err)
	}
	return version, nil
}

// Restore loads a backup written by Backup. The index should be empty.
func (x *BadgerFileIndex) Restore(r io.Reader) error {
	if err := x.db.Load(r, 256); err != nil {
		return fmt.Errorf("restore file index: %w", err)
	}
	return nil
}

func (x *BadgerFileIndex) runGC(interval time.Duration) {
	defer close(x.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-x.stopGC:
			return
		case <-ticker.C:
			err := x.db.RunValueLogGC(x.gcRatio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				slog.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

func fileKey(repoRef, path string) []byte {
	return []byte(filePrefix + repoRef + keySep + path)
}

func repoPrefix(repoRef string) []byte {
	return []byte(filePrefix + repoRef + keySep)
}

// PutFile stores or replaces a file.
func (x *BadgerFileIndex) PutFile(ctx context.Context, repoRef, path, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.Contains(repoRef, keySep) || strings.Contains(path, keySep) {
		return fmt.Errorf("invalid file key %q/%q", repoRef, path)
	}
	return x.db.Update(func(txn *badger.Txn) error {
		return txn.Set(fileKey(repoRef, path), []byte(content))
	})
}

// DeleteFile removes a file. Deleting a missing file is not an error.
func (x *BadgerFileIndex) DeleteFile(ctx context.Context, repoRef, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return x.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(fileKey(repoRef, path))
	})
}

// ReadFile implements FileReader.
func (x *BadgerFileIndex) ReadFile(ctx context.Context, repoRef, path string) (File, error) {
	_, span := tracer.Start(ctx, "BadgerFileIndex.ReadFile")
	defer span.End()
	span.SetAttributes(attribute.String("index.path", path))

	var content []byte
	err := x.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(fileKey(repoRef, path))
		if err != nil {
			return err
		}
		content, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return File{}, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	if err != nil {
		return File{}, fmt.Errorf("read %s: %w", path, err)
	}
	return File{RepoRef: repoRef, Path: path, Content: string(content)}, nil
}

// SearchPaths implements PathSearcher: a case-insensitive substring match
// over the repository's paths, in lexical order, capped at
// Config.MaxPathResults.
func (x *BadgerFileIndex) SearchPaths(ctx context.Context, repoRef, text string) ([]string, error) {
	_, span := tracer.Start(ctx, "BadgerFileIndex.SearchPaths")
	defer span.End()

	needle := strings.ToLower(strings.TrimSpace(text))
	prefix := repoPrefix(repoRef)
	var paths []string

	err := x.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			path := string(it.Item().Key()[len(prefix):])
			if strings.Contains(strings.ToLower(path), needle) {
				paths = append(paths, path)
				if len(paths) >= x.maxResults {
					return nil
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search paths: %w", err)
	}
	span.SetAttributes(attribute.Int("index.results", len(paths)))
	return paths, nil
}

// Count returns the number of files indexed for repoRef.
func (x *BadgerFileIndex) Count(repoRef string) (int, error) {
	prefix := repoPrefix(repoRef)
	n := 0
	err := x.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

var (
	_ FileReader   = (*BadgerFileIndex)(nil)
	_ PathSearcher = (*BadgerFileIndex)(nil)
)
