// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides streaming chat completion clients for the answer
// engine.
//
// Two backends implement ChatClient: OpenAIClient (any OpenAI-compatible
// API via go-openai) and OllamaClient (the Ollama NDJSON chat API). Both
// return a TokenStream whose Recv yields text deltas and io.EOF at the end.
package llm

import (
	"context"
	"errors"
	"io"
	"strings"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SystemMessage builds a system message.
func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }

// UserMessage builds a user message.
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// AssistantMessage builds an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// GenerationParams tunes one completion. Nil fields use backend defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// Model overrides the client's configured model for this call.
	Model string `json:"model,omitempty"`
}

// Float32 returns a pointer to v, for GenerationParams literals.
func Float32(v float32) *float32 { return &v }

// TokenStream yields completion text as it is generated.
//
// Recv returns io.EOF once the completion is finished. Close releases the
// underlying connection and must be called exactly once.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// ChatClient starts streaming chat completions.
//
// Implementations must be safe for concurrent use and must abort the
// stream when ctx is cancelled.
type ChatClient interface {
	Chat(ctx context.Context, messages []Message, params GenerationParams) (TokenStream, error)
}

// Collect drains a stream into a single string and closes it.
func Collect(ts TokenStream) (string, error) {
	defer ts.Close()

	var b strings.Builder
	for {
		tok, err := ts.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(tok)
	}
}

// StaticStream replays fixed tokens. It is used for synthesized model
// turns and in tests.
type StaticStream struct {
	tokens []string
	err    error
	closed bool
}

// NewStaticStream returns a stream yielding tokens and then io.EOF.
func NewStaticStream(tokens ...string) *StaticStream {
	return &StaticStream{tokens: tokens}
}

// NewFailingStream returns a stream yielding tokens and then err.
func NewFailingStream(err error, tokens ...string) *StaticStream {
	return &StaticStream{tokens: tokens, err: err}
}

// Recv returns the next token.
func (s *StaticStream) Recv() (string, error) {
	if len(s.tokens) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	tok := s.tokens[0]
	s.tokens = s.tokens[1:]
	return tok, nil
}

// Close marks the stream closed.
func (s *StaticStream) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *StaticStream) Closed() bool { return s.closed }

var _ TokenStream = (*StaticStream)(nil)
