// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianAnswer/services/answer/action"
	"github.com/AleutianAI/AleutianAnswer/services/answer/datatypes"
	"github.com/AleutianAI/AleutianAnswer/services/answer/prompts"
	"github.com/AleutianAI/AleutianAnswer/services/index"
	"github.com/AleutianAI/AleutianAnswer/services/llm"
)

// fakeRepo serves files and path searches from memory.
type fakeRepo struct {
	files   map[string]string
	order   []string
	readErr map[string]error
	delay   time.Duration
}

func newFakeRepo(files ...string) *fakeRepo {
	r := &fakeRepo{files: map[string]string{}, readErr: map[string]error{}}
	for i := 0; i+1 < len(files); i += 2 {
		r.files[files[i]] = files[i+1]
		r.order = append(r.order, files[i])
	}
	return r
}

func (r *fakeRepo) ReadFile(ctx context.Context, _, path string) (index.File, error) {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return index.File{}, ctx.Err()
		}
	}
	if err := r.readErr[path]; err != nil {
		return index.File{}, err
	}
	content, ok := r.files[path]
	if !ok {
		return index.File{}, index.ErrFileNotFound
	}
	return index.File{Path: path, Content: content}, nil
}

func (r *fakeRepo) SearchPaths(_ context.Context, _, text string) ([]string, error) {
	var out []string
	for _, p := range r.order {
		if strings.Contains(p, text) {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeSemantic struct {
	hits    []index.Payload
	err     error
	queries []string
}

func (s *fakeSemantic) Search(_ context.Context, q string, _ int) ([]index.Payload, error) {
	s.queries = append(s.queries, q)
	return s.hits, s.err
}

func hit(path, snippet, start, end string) index.Payload {
	return index.Payload{
		index.PayloadPath:      path,
		index.PayloadSnippet:   snippet,
		index.PayloadStartLine: start,
		index.PayloadEndLine:   end,
	}
}

type chatCall struct {
	Messages []llm.Message
	Params   llm.GenerationParams
}

// scriptedLLM replies to chat calls in order, or through respond.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	calls   []chatCall
	respond func(messages []llm.Message, params llm.GenerationParams) (llm.TokenStream, error)
}

func (s *scriptedLLM) Chat(_ context.Context, messages []llm.Message, params llm.GenerationParams) (llm.TokenStream, error) {
	s.mu.Lock()
	s.calls = append(s.calls, chatCall{Messages: append([]llm.Message(nil), messages...), Params: params})
	respond := s.respond
	var reply string
	var ok bool
	if respond == nil && len(s.replies) > 0 {
		reply, s.replies, ok = s.replies[0], s.replies[1:], true
	}
	s.mu.Unlock()

	if respond != nil {
		return respond(messages, params)
	}
	if !ok {
		return nil, errors.New("scriptedLLM: no reply left")
	}
	return llm.NewStaticStream(splitTokens(reply, 3)...), nil
}

func (s *scriptedLLM) Calls() []chatCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chatCall(nil), s.calls...)
}

// splitTokens cuts s into n-byte tokens.
func splitTokens(s string, n int) []string {
	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

func newTestEnv(repo *fakeRepo, sem index.SemanticSearcher, model *scriptedLLM) *Env {
	return &Env{
		Files:    repo,
		Paths:    repo,
		Semantic: sem,
		LLM:      model,
		Prompts:  prompts.Default(),
	}
}

// runStep executes one step and collects the updates it sent.
func runStep(t *testing.T, c *Conversation, env *Env, in *ActionStream) (*ActionStream, []datatypes.Update, error) {
	t.Helper()
	updates := make(chan datatypes.Update, 1000)
	next, err := c.Step(context.Background(), env, in, updates)
	close(updates)

	var got []datatypes.Update
	for u := range updates {
		got = append(got, u)
	}
	return next, got, err
}

func modelReply(text string) *ActionStream {
	return Unresolved(llm.NewStaticStream(splitTokens(text, 4)...))
}

func mustResolved(t *testing.T, a action.Action) *ActionStream {
	t.Helper()
	s, err := Resolved(a)
	if err != nil {
		t.Fatalf("Resolved: %v", err)
	}
	return s
}

// recordingSink captures everything a Driver sends.
type recordingSink struct {
	mu        sync.Mutex
	snapshots []*datatypes.FullUpdate
	errs      []error
	done      int
	failAfter int
}

func (s *recordingSink) Update(u *datatypes.FullUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter > 0 && len(s.snapshots) >= s.failAfter {
		return errors.New("broken pipe")
	}
	s.snapshots = append(s.snapshots, u)
	return nil
}

func (s *recordingSink) Error(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
	return nil
}

func (s *recordingSink) Done() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done++
	return nil
}

func (s *recordingSink) last() *datatypes.FullUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots[len(s.snapshots)-1]
}

// memStore is a minimal SessionStore.
type memStore struct {
	mu    sync.Mutex
	convs map[datatypes.SessionKey]*Conversation
	puts  int
}

func newMemStore() *memStore {
	return &memStore{convs: map[datatypes.SessionKey]*Conversation{}}
}

func (m *memStore) Get(key datatypes.SessionKey, repoRef string) *Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.convs[key]; ok {
		return c.Clone()
	}
	return New(repoRef, prompts.Default())
}

func (m *memStore) Put(key datatypes.SessionKey, conv *Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	m.convs[key] = conv.Clone()
}
