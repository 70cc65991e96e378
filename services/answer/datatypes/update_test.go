// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustResult(t *testing.T, raw string) SearchResult {
	t.Helper()
	r, ok := SearchResultFromJSONArray(json.RawMessage(raw))
	require.True(t, ok, raw)
	return r
}

func TestNewFullUpdate(t *testing.T) {
	u := NewFullUpdate(SessionKey{UserID: "u1", ThreadID: "t1"}, "github.com/org/repo")

	assert.Equal(t, "u1", u.UserID)
	assert.Equal(t, "t1", u.ThreadID)
	require.NotNil(t, u.Description)
	assert.Equal(t, "New conversation in org/repo", *u.Description)
	require.Len(t, u.Messages, 1)
	assert.Equal(t, RoleAssistant, u.Messages[0].Role)
	assert.Equal(t, StatusLoading, u.Messages[0].Status)

	_, ok := u.Conclusion()
	assert.False(t, ok)
}

func TestFullUpdate_ApplyStepsInOrder(t *testing.T) {
	u := NewFullUpdate(SessionKey{UserID: "u", ThreadID: "t"}, "r")

	u.Apply(StepUpdate(SearchStep{Type: StepPath, Content: "Searching paths"}))
	u.Apply(StepUpdate(SearchStep{Type: StepFile, Content: "Retrieving file contents"}))

	steps := u.Messages[0].SearchSteps
	require.Len(t, steps, 2)
	assert.Equal(t, StepPath, steps[0].Type)
	assert.Equal(t, StepFile, steps[1].Type)
}

func TestFullUpdate_ApplyResultsWithConclusion(t *testing.T) {
	u := NewFullUpdate(SessionKey{UserID: "u", ThreadID: "t"}, "r")
	cite := mustResult(t, `["cite", 0, "x"]`)
	con := mustResult(t, `["con", "done"]`)

	u.Apply(ResultUpdate([]SearchResult{cite, con}))

	msg := u.Messages[0]
	assert.Equal(t, StatusFinished, msg.Status)
	assert.Equal(t, []SearchResult{cite}, msg.Results)
	require.NotNil(t, msg.Content)
	assert.Equal(t, "done", *msg.Content)

	conclusion, ok := u.Conclusion()
	assert.True(t, ok)
	assert.Equal(t, "done", conclusion)
}

func TestFullUpdate_ApplyResultsWithoutConclusionStaysLoading(t *testing.T) {
	u := NewFullUpdate(SessionKey{UserID: "u", ThreadID: "t"}, "r")
	cite := mustResult(t, `["cite", 0, "x"]`)

	u.Apply(ResultUpdate([]SearchResult{cite}))
	u.Apply(ResultUpdate([]SearchResult{cite, cite}))

	msg := u.Messages[0]
	assert.Equal(t, StatusLoading, msg.Status)
	assert.Len(t, msg.Results, 2, "results are replaced, not appended")
	assert.Nil(t, msg.Content)
}

func TestFullUpdate_FinishedIsSticky(t *testing.T) {
	u := NewFullUpdate(SessionKey{UserID: "u", ThreadID: "t"}, "r")

	u.Apply(ResultUpdate([]SearchResult{mustResult(t, `["con", "done"]`)}))
	u.Apply(ResultUpdate([]SearchResult{mustResult(t, `["cite", 0]`)}))

	assert.Equal(t, StatusFinished, u.Messages[0].Status)
}

func TestFullUpdate_ApplyPanicsOnUserMessage(t *testing.T) {
	content := "hi"
	u := &FullUpdate{Messages: []Message{{Role: RoleUser, Content: &content}}}

	assert.Panics(t, func() {
		u.Apply(StepUpdate(SearchStep{Type: StepQuery}))
	})
}

func TestFullUpdate_JSONShape(t *testing.T) {
	u := NewFullUpdate(SessionKey{UserID: "u", ThreadID: "t"}, "local//home/me/proj")

	data, err := json.Marshal(u)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"thread_id": "t",
		"user_id": "u",
		"description": "New conversation in proj",
		"messages": [{"role": "assistant", "status": "LOADING", "content": null, "search_steps": [], "results": []}]
	}`, string(data))
}

func TestFullUpdate_CloneIsIndependent(t *testing.T) {
	u := NewFullUpdate(SessionKey{UserID: "u", ThreadID: "t"}, "r")
	u.Apply(StepUpdate(SearchStep{Type: StepQuery, Content: "Processing query"}))

	c := u.Clone()
	u.Apply(StepUpdate(SearchStep{Type: StepPath, Content: "Searching paths"}))

	assert.Len(t, c.Messages[0].SearchSteps, 1)
	assert.Len(t, u.Messages[0].SearchSteps, 2)
}

func TestRepoDisplayName(t *testing.T) {
	tests := map[string]string{
		"github.com/org/repo":  "org/repo",
		"local//home/me/proj":  "proj",
		"local//home/me/proj/": "proj",
		"/srv/code/app":        "app",
		"plain":                "plain",
	}
	for in, want := range tests {
		assert.Equal(t, want, RepoDisplayName(in), in)
	}
}
