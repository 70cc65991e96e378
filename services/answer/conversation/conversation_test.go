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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAnswer/services/answer/action"
	"github.com/AleutianAI/AleutianAnswer/services/answer/datatypes"
	"github.com/AleutianAI/AleutianAnswer/services/answer/prompts"
	"github.com/AleutianAI/AleutianAnswer/services/llm"
)

func TestNew_SeedsHistory(t *testing.T) {
	p := prompts.Default()
	c := New("github.com/acme/api", p)

	assert.Equal(t, []llm.Message{
		llm.SystemMessage(p.System()),
		llm.AssistantMessage(p.InitialPrompt()),
	}, c.History)
	assert.Empty(t, c.PathAliases)
	assert.Equal(t, "github.com/acme/api", c.RepoRef)
}

func TestPathAlias_Stable(t *testing.T) {
	c := New("r", prompts.Default())

	assert.Equal(t, 0, c.PathAlias("src/a.go"))
	assert.Equal(t, 1, c.PathAlias("src/b.go"))
	assert.Equal(t, 0, c.PathAlias("src/a.go"))
	assert.Equal(t, 2, c.PathAlias("src/c.go"))
	assert.Equal(t, 1, c.PathAlias("src/b.go"))
	assert.Equal(t, []string{"src/a.go", "src/b.go", "src/c.go"}, c.PathAliases)

	for i, p := range c.PathAliases {
		got, err := c.ResolveAlias(i)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
}

func TestResolveAlias_Unknown(t *testing.T) {
	c := New("r", prompts.Default())
	c.PathAlias("a.go")

	for _, alias := range []int{1, 7, -1} {
		_, err := c.ResolveAlias(alias)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnknownAlias))
		assert.True(t, errors.Is(err, action.ErrProtocol))
	}

	_, err := c.ResolveAlias(7)
	assert.Contains(t, err.Error(), "7")
}

func TestClone_IsDeep(t *testing.T) {
	c := New("r", prompts.Default())
	c.PathAlias("a.go")

	clone := c.Clone()
	clone.PathAlias("b.go")
	clone.History = append(clone.History, llm.UserMessage("extra"))
	clone.History[0].Content = "changed"

	assert.Equal(t, []string{"a.go"}, c.PathAliases)
	assert.Len(t, c.History, 2)
	assert.NotEqual(t, "changed", c.History[0].Content)
}

func TestActionStream_LoadResolved(t *testing.T) {
	s := mustResolved(t, action.Path("util"))
	updates := make(chan datatypes.Update, 1)

	a, raw, err := s.Load(context.Background(), updates)
	require.NoError(t, err)
	assert.Equal(t, action.Path("util"), a)
	assert.Equal(t, `["path","util"]`, raw)
	assert.Equal(t, datatypes.StepUpdate(action.Path("util").Step()), <-updates)

	_, _, err = s.Load(context.Background(), updates)
	assert.Error(t, err, "a stream loads once")
}

func TestActionStream_LoadUnresolved(t *testing.T) {
	ts := llm.NewStaticStream(`["fi`, `le", `, `3]`)
	s := Unresolved(ts)
	updates := make(chan datatypes.Update, 1)

	a, raw, err := s.Load(context.Background(), updates)
	require.NoError(t, err)
	assert.Equal(t, action.FileAlias(3), a)
	assert.Equal(t, `["file", 3]`, raw)
	assert.Equal(t, datatypes.StepFile, (<-updates).Step.Type)
	assert.True(t, ts.Closed())
}

func TestActionStream_LoadMalformed(t *testing.T) {
	updates := make(chan datatypes.Update, 1)
	_, raw, err := modelReply(`I think we should search paths`).Load(context.Background(), updates)

	require.Error(t, err)
	assert.True(t, errors.Is(err, action.ErrProtocol))
	assert.Equal(t, `I think we should search paths`, raw)
	assert.Empty(t, updates, "no step is reported for an undecodable action")
}

func TestActionStream_LoadStreamError(t *testing.T) {
	boom := errors.New("connection reset")
	s := Unresolved(llm.NewFailingStream(boom, `["pa`))

	_, _, err := s.Load(context.Background(), make(chan datatypes.Update, 1))
	assert.ErrorIs(t, err, boom)
}

func TestActionStream_LoadCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := mustResolved(t, action.Path("x"))
	_, _, err := s.Load(ctx, make(chan datatypes.Update))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseCheckFailurePolicy(t *testing.T) {
	p, err := ParseCheckFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, CheckFailuresDrop, p)

	p, err = ParseCheckFailurePolicy("report")
	require.NoError(t, err)
	assert.Equal(t, CheckFailuresReport, p)

	_, err = ParseCheckFailurePolicy("explode")
	assert.Error(t, err)
}
