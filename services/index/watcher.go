// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package index

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// DebounceWindow is how long to wait for more changes before
	// re-indexing. Default: 250ms
	DebounceWindow time.Duration

	// BufferSize is the size of the pending change channel. Default: 1000
	BufferSize int
}

// DefaultWatcherOptions returns the defaults.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		DebounceWindow: 250 * time.Millisecond,
		BufferSize:     1000,
	}
}

// Watcher keeps an Indexer current with a working tree.
//
// # Description
//
// Watches root recursively. Changed paths are collected until the debounce
// window passes without new events, then each path is re-indexed once, or
// removed if it no longer exists.
//
// # Thread Safety
//
// Safe for concurrent use. Re-indexing runs on a single goroutine.
type Watcher struct {
	root     string
	repoRef  string
	indexer  *Indexer
	watcher  *fsnotify.Watcher
	debounce time.Duration

	changes  chan string
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	watching bool
}

// NewWatcher creates a watcher. Call Start to begin watching.
func NewWatcher(root, repoRef string, indexer *Indexer, opts *WatcherOptions) (*Watcher, error) {
	if opts == nil {
		defaults := DefaultWatcherOptions()
		opts = &defaults
	}
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DefaultWatcherOptions().DebounceWindow
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultWatcherOptions().BufferSize
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:     root,
		repoRef:  repoRef,
		indexer:  indexer,
		watcher:  fw,
		debounce: opts.DebounceWindow,
		changes:  make(chan string, opts.BufferSize),
		done:     make(chan struct{}),
	}, nil
}

// Start adds the tree to the watch list and starts the event and debounce
// goroutines. Both exit on Stop or when ctx is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop stops watching. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.indexer.skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if w.indexer.skipDir(part) {
			return true
		}
	}
	return false
}

func (w *Watcher) processEvents(ctx context.Context) {
	log := w.indexer.logger()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.ignored(event.Name) {
				continue
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						log.Warn("failed to watch new directory", "path", event.Name, "error", err)
					}
					continue
				}
			}
			if event.Op == fsnotify.Chmod {
				continue
			}

			select {
			case w.changes <- event.Name:
			default:
				log.Warn("watcher buffer full, dropping change", "path", event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	pending := make(map[string]struct{})
	var order []string
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func(ctx context.Context) {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		if len(order) == 0 {
			return
		}
		batch := order
		order = nil
		pending = make(map[string]struct{})
		w.apply(ctx, batch)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			flush(context.Background())
			return
		case path := <-w.changes:
			if _, seen := pending[path]; !seen {
				pending[path] = struct{}{}
				order = append(order, path)
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer, timerC = nil, nil
			flush(ctx)
		}
	}
}

// apply re-indexes or removes each changed path.
func (w *Watcher) apply(ctx context.Context, paths []string) {
	log := w.indexer.logger()
	for _, p := range paths {
		info, err := os.Stat(p)
		switch {
		case err != nil:
			if rmErr := w.indexer.RemoveFile(ctx, w.root, w.repoRef, p); rmErr != nil {
				log.Warn("failed to remove file from index", "path", p, "error", rmErr)
			}
		case info.IsDir():
		default:
			if err := w.indexer.IndexFile(ctx, w.root, w.repoRef, p); err != nil {
				log.Warn("failed to re-index file", "path", p, "error", err)
			}
		}
	}
	log.Debug("re-indexed changed files", "count", len(paths))
}
