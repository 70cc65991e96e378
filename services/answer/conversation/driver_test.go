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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAnswer/services/answer/action"
	"github.com/AleutianAI/AleutianAnswer/services/answer/datatypes"
	"github.com/AleutianAI/AleutianAnswer/services/index"
	"github.com/AleutianAI/AleutianAnswer/services/llm"
)

var testKey = datatypes.SessionKey{UserID: "alice", ThreadID: "thread-1"}

type turnRecord struct {
	steps int
	err   error
}

type recordingTurns struct{ turns []turnRecord }

func (r *recordingTurns) ObserveTurn(_ time.Duration, steps int, err error) {
	r.turns = append(r.turns, turnRecord{steps: steps, err: err})
}

func stepTypes(m datatypes.Message) []datatypes.StepType {
	var out []datatypes.StepType
	for _, s := range m.SearchSteps {
		out = append(out, s.Type)
	}
	return out
}

func TestDriver_FullTurn(t *testing.T) {
	model := &scriptedLLM{replies: []string{
		`["path","auth"]`,
		`["answer","How is authentication done?"]`,
		`[["cite",0,"Tokens are checked here",1,10],["con","Auth lives in src/auth.rs."]]`,
	}}
	store := newMemStore()
	turns := &recordingTurns{}
	d := &Driver{
		Env:      newTestEnv(newFakeRepo("src/auth.rs", "fn check() {}"), nil, model),
		Sessions: store,
		Observer: turns,
	}
	sink := &recordingSink{}

	err := d.Run(context.Background(), testKey, "github.com/acme/api", "how does auth work?", sink)
	require.NoError(t, err)

	assert.Equal(t, 1, sink.done)
	assert.Empty(t, sink.errs)
	require.NotEmpty(t, sink.snapshots)

	first := sink.snapshots[0]
	assert.Equal(t, []datatypes.StepType{datatypes.StepQuery}, stepTypes(first.Messages[0]))
	assert.Equal(t, datatypes.StatusLoading, first.Messages[0].Status)

	final := sink.last()
	assert.Equal(t, "thread-1", final.ThreadID)
	assert.Equal(t, "alice", final.UserID)
	assert.Equal(t, "New conversation in acme/api", *final.Description)
	msg := final.Messages[0]
	assert.Equal(t, []datatypes.StepType{
		datatypes.StepQuery, datatypes.StepPath, datatypes.StepAnswer, datatypes.StepPrompt,
	}, stepTypes(msg))
	assert.Equal(t, datatypes.StatusFinished, msg.Status)
	assert.Equal(t, "Auth lives in src/auth.rs.", *msg.Content)
	require.Len(t, msg.Results, 1)
	assert.Equal(t, "src/auth.rs", *msg.Results[0].Cite.Path)

	for i := 1; i < len(sink.snapshots); i++ {
		assert.GreaterOrEqual(t, len(sink.snapshots[i].Messages[0].SearchSteps), len(sink.snapshots[i-1].Messages[0].SearchSteps))
	}

	require.Equal(t, 1, store.puts)
	saved := store.Get(testKey, "ignored")
	assert.Equal(t, []string{"src/auth.rs"}, saved.PathAliases)
	roles := make([]string, len(saved.History))
	for i, m := range saved.History {
		roles[i] = m.Role
	}
	assert.Equal(t, []string{"system", "assistant", "user", "assistant", "user", "assistant", "assistant"}, roles)
	assert.Equal(t, action.MustEncode(action.Prompt(d.Env.Prompts.Continue())), saved.History[6].Content)

	require.Len(t, turns.turns, 1)
	assert.Equal(t, 4, turns.turns[0].steps)
	assert.NoError(t, turns.turns[0].err)
}

func TestDriver_FollowUpKeepsAliases(t *testing.T) {
	model := &scriptedLLM{replies: []string{`["path","auth"]`, `["ask","Which part?"]`, `["file",0]`, `["ask","Anything else?"]`}}
	store := newMemStore()
	d := &Driver{Env: newTestEnv(newFakeRepo("src/auth.rs", "fn check() {}"), nil, model), Sessions: store}

	require.NoError(t, d.Run(context.Background(), testKey, "r", "auth?", &recordingSink{}))
	sink := &recordingSink{}
	require.NoError(t, d.Run(context.Background(), testKey, "r", "show me the file", sink))

	saved := store.Get(testKey, "r")
	assert.Equal(t, []string{"src/auth.rs"}, saved.PathAliases)
	assert.Contains(t, saved.History[len(saved.History)-2].Content, "fn check() {}")

	final := sink.last()
	assert.Len(t, final.Messages, 1, "each request reports a fresh snapshot")
	assert.Equal(t, []datatypes.StepType{datatypes.StepQuery, datatypes.StepFile, datatypes.StepPrompt}, stepTypes(final.Messages[0]))
}

func TestDriver_ProtocolErrorEndsStream(t *testing.T) {
	model := &scriptedLLM{replies: []string{`I'd search for paths first.`}}
	store := newMemStore()
	turns := &recordingTurns{}
	d := &Driver{Env: newTestEnv(newFakeRepo(), nil, model), Sessions: store, Observer: turns}
	sink := &recordingSink{}

	err := d.Run(context.Background(), testKey, "r", "auth?", sink)
	require.Error(t, err)
	assert.True(t, errors.Is(err, action.ErrProtocol))

	require.Len(t, sink.errs, 1)
	assert.ErrorIs(t, sink.errs[0], action.ErrProtocol)
	assert.Equal(t, 1, sink.done)
	assert.Equal(t, 0, store.puts, "a failed request does not save the conversation")
	assert.Equal(t, ErrorClassProtocol, ErrorClass(turns.turns[0].err))
}

func TestDriver_SemanticUnavailable(t *testing.T) {
	model := &scriptedLLM{replies: []string{`["code","auth"]`}}
	d := &Driver{Env: newTestEnv(newFakeRepo(), nil, model), Sessions: newMemStore()}
	sink := &recordingSink{}

	err := d.Run(context.Background(), testKey, "r", "auth?", sink)
	assert.ErrorIs(t, err, index.ErrSemanticUnavailable)
	require.Len(t, sink.errs, 1)
	assert.Contains(t, sink.errs[0].Error(), "semantic search is not enabled")
}

func TestDriver_SinkFailureCancels(t *testing.T) {
	model := &scriptedLLM{replies: []string{`["path","a"]`, `["ask","?"]`}}
	store := newMemStore()
	d := &Driver{Env: newTestEnv(newFakeRepo("a.rs", ""), nil, model), Sessions: store}
	sink := &recordingSink{failAfter: 1}

	err := d.Run(context.Background(), testKey, "r", "q", sink)
	require.Error(t, err)
	assert.Equal(t, ErrorClassClientDisconnect, ErrorClass(err))
	assert.Empty(t, sink.errs, "no error event is written to a broken sink")
	assert.Equal(t, 1, sink.done)
	assert.Equal(t, 0, store.puts)
}

func TestDriver_ClientCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	model := &scriptedLLM{respond: func([]llm.Message, llm.GenerationParams) (llm.TokenStream, error) {
		cancel()
		return llm.NewStaticStream(`["ask","?"]`), nil
	}}
	d := &Driver{Env: newTestEnv(newFakeRepo(), nil, model), Sessions: newMemStore()}
	sink := &recordingSink{}

	err := d.Run(ctx, testKey, "r", "q", sink)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ErrorClassClientDisconnect, ErrorClass(err))
	assert.Equal(t, 1, sink.done)
}

func TestDriver_RecoversStepPanic(t *testing.T) {
	model := &scriptedLLM{respond: func([]llm.Message, llm.GenerationParams) (llm.TokenStream, error) {
		panic("backend exploded")
	}}
	d := &Driver{Env: newTestEnv(newFakeRepo(), nil, model), Sessions: newMemStore()}
	sink := &recordingSink{}

	err := d.Run(context.Background(), testKey, "r", "q", sink)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend exploded")
	assert.Len(t, sink.errs, 1)
	assert.Equal(t, 1, sink.done)
}

func TestErrorClass(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ErrorClassNone},
		{action.NewProtocolError("bad"), ErrorClassProtocol},
		{fmt.Errorf("wrap: %w", unknownAliasErr()), ErrorClassProtocol},
		{fmt.Errorf("search: %w", index.ErrSemanticUnavailable), ErrorClassUnavailable},
		{context.Canceled, ErrorClassClientDisconnect},
		{errors.New("500 from model"), ErrorClassCollaborator},
		{index.ErrFileNotFound, ErrorClassCollaborator},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorClass(tt.err), "%v", tt.err)
	}
}

func unknownAliasErr() error {
	_, err := (&Conversation{}).ResolveAlias(3)
	return err
}
