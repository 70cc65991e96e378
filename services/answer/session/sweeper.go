// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SweeperConfig configures idle conversation expiry.
type SweeperConfig struct {
	// IdleTTL is how long a conversation is kept after it was last saved.
	// Default: 24h
	IdleTTL time.Duration

	// Interval is the time between sweeps.
	// Default: 10m
	Interval time.Duration

	// Logger receives sweep results. Default: slog.Default()
	Logger *slog.Logger
}

// DefaultSweeperConfig returns the production defaults.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		IdleTTL:  24 * time.Hour,
		Interval: 10 * time.Minute,
	}
}

// Sweeper periodically removes idle conversations from a Store.
//
// # Thread Safety
//
// Start, Stop and RunNow are safe for concurrent use.
type Sweeper struct {
	store   *Store
	config  SweeperConfig
	done    chan struct{}
	stopped chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSweeper creates a stopped sweeper for store.
func NewSweeper(store *Store, config SweeperConfig) *Sweeper {
	defaults := DefaultSweeperConfig()
	if config.IdleTTL <= 0 {
		config.IdleTTL = defaults.IdleTTL
	}
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Sweeper{store: store, config: config}
}

// Start runs sweeps every Interval until Stop is called or ctx ends.
//
// Returns an error if the sweeper is already running.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("session sweeper is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	s.config.Logger.Info("session sweeper starting",
		"idle_ttl", s.config.IdleTTL.String(),
		"interval", s.config.Interval.String(),
	)
	go s.runLoop(ctx, s.done, s.stopped)
	return nil
}

// Stop ends the sweep loop and waits for it to exit. Stopping a stopped
// sweeper is a no-op.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.done)
	<-s.stopped
	s.running = false
}

// RunNow performs one sweep and returns the number of removed
// conversations.
func (s *Sweeper) RunNow() int {
	cutoff := s.store.now().Add(-s.config.IdleTTL)
	removed := s.store.ExpireIdle(cutoff)
	if removed > 0 {
		s.config.Logger.Info("expired idle conversations",
			"removed", removed,
			"remaining", s.store.Len(),
		)
	}
	return removed
}

func (s *Sweeper) runLoop(ctx context.Context, done, stopped chan struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			s.RunNow()
		}
	}
}
