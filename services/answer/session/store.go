// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session keeps conversations in memory between requests.
//
// Conversations are keyed by user and thread. Get and Put exchange
// copies, so a request works on its own conversation and only publishes
// it when it finishes. Two concurrent requests on the same thread both
// start from the same saved state and the last one to finish wins.
// Nothing survives a restart; idle conversations are removed by a
// Sweeper.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianAnswer/services/answer/conversation"
	"github.com/AleutianAI/AleutianAnswer/services/answer/datatypes"
	"github.com/AleutianAI/AleutianAnswer/services/answer/prompts"
)

// Key identifies a conversation thread.
type Key = datatypes.SessionKey

// entry is a saved conversation and the time it was saved.
type entry struct {
	conv  *conversation.Conversation
	saved time.Time
}

// Store is a concurrency-safe map from Key to Conversation.
type Store struct {
	prompts *prompts.Set
	convs   sync.Map // Key -> *entry
	size    atomic.Int64
	now     func() time.Time
}

// NewStore creates an empty store. New conversations are seeded from p.
func NewStore(p *prompts.Set) *Store {
	return &Store{prompts: p, now: time.Now}
}

// Get returns a copy of the stored conversation, or a new conversation
// about repoRef if the key is unknown. The repository of an existing
// conversation is never changed.
func (s *Store) Get(key Key, repoRef string) *conversation.Conversation {
	if v, ok := s.convs.Load(key); ok {
		return v.(*entry).conv.Clone()
	}
	return conversation.New(repoRef, s.prompts)
}

// Put saves a copy of conv under key, replacing any previous value.
func (s *Store) Put(key Key, conv *conversation.Conversation) {
	e := &entry{conv: conv.Clone(), saved: s.now()}
	if _, loaded := s.convs.Swap(key, e); !loaded {
		s.size.Add(1)
	}
}

// Delete removes a conversation. It reports whether one was stored.
func (s *Store) Delete(key Key) bool {
	if _, loaded := s.convs.LoadAndDelete(key); loaded {
		s.size.Add(-1)
		return true
	}
	return false
}

// ExpireIdle removes conversations last saved before cutoff and returns
// how many were removed. A conversation saved again while the sweep runs
// is kept.
func (s *Store) ExpireIdle(cutoff time.Time) int {
	removed := 0
	s.convs.Range(func(k, v any) bool {
		if v.(*entry).saved.Before(cutoff) && s.convs.CompareAndDelete(k, v) {
			s.size.Add(-1)
			removed++
		}
		return true
	})
	return removed
}

// Len returns the number of stored conversations.
func (s *Store) Len() int {
	return int(s.size.Load())
}

var _ conversation.SessionStore = (*Store)(nil)
