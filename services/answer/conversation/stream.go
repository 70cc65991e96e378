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
	"io"
	"strings"

	"github.com/AleutianAI/AleutianAnswer/services/answer/action"
	"github.com/AleutianAI/AleutianAnswer/services/answer/datatypes"
	"github.com/AleutianAI/AleutianAnswer/services/llm"
)

var errStreamConsumed = errors.New("action stream already loaded")

// ActionStream is the next action to execute: either a model reply that
// is still streaming, or an action the engine built itself. Load consumes
// it exactly once.
type ActionStream struct {
	tokens   string
	stream   llm.TokenStream
	resolved *action.Action
	loaded   bool
}

// Resolved wraps an engine-built action. Its raw text is the action's
// wire encoding.
func Resolved(a action.Action) (*ActionStream, error) {
	raw, err := action.Encode(a)
	if err != nil {
		return nil, err
	}
	return &ActionStream{tokens: raw, resolved: &a}, nil
}

// Unresolved wraps a model reply.
func Unresolved(ts llm.TokenStream) *ActionStream {
	return &ActionStream{stream: ts}
}

// Load returns the action and the raw text it was decoded from.
//
// A model reply is read to the end and decoded. In both cases the
// action's progress step is sent on updates before Load returns.
func (s *ActionStream) Load(ctx context.Context, updates chan<- datatypes.Update) (action.Action, string, error) {
	if s.loaded {
		return action.Action{}, "", errStreamConsumed
	}
	s.loaded = true

	if s.resolved != nil {
		a := *s.resolved
		if err := send(ctx, updates, datatypes.StepUpdate(a.Step())); err != nil {
			return action.Action{}, "", err
		}
		return a, s.tokens, nil
	}

	raw, err := readAll(ctx, s.stream)
	if err != nil {
		return action.Action{}, raw, err
	}
	s.tokens = raw

	a, err := action.Decode(raw)
	if err != nil {
		return action.Action{}, raw, err
	}
	if err := send(ctx, updates, datatypes.StepUpdate(a.Step())); err != nil {
		return action.Action{}, raw, err
	}
	return a, raw, nil
}

// readAll drains and closes a token stream.
func readAll(ctx context.Context, ts llm.TokenStream) (string, error) {
	defer ts.Close()

	var b strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return b.String(), err
		}
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

// send delivers an update unless ctx is done first.
func send(ctx context.Context, updates chan<- datatypes.Update, u datatypes.Update) error {
	select {
	case updates <- u:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
