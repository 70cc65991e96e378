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

func TestSearchResultFromJSONArray_Cite(t *testing.T) {
	r, ok := SearchResultFromJSONArray(json.RawMessage(`["cite", 0, "here", 1, 10]`))
	require.True(t, ok)
	require.NotNil(t, r.Cite)

	assert.Equal(t, uint64(0), *r.Cite.PathAlias)
	assert.Equal(t, "here", *r.Cite.Comment)
	assert.Equal(t, uint64(1), *r.Cite.StartLine)
	assert.Equal(t, uint64(10), *r.Cite.EndLine)
	assert.Nil(t, r.Cite.Path, "path is only set by alias substitution")
}

func TestSearchResultFromJSONArray_PartialCite(t *testing.T) {
	r, ok := SearchResultFromJSONArray(json.RawMessage(`["cite", 2, "stil"]`))
	require.True(t, ok)

	assert.Equal(t, uint64(2), *r.Cite.PathAlias)
	assert.Equal(t, "stil", *r.Cite.Comment)
	assert.Nil(t, r.Cite.StartLine)
	assert.Nil(t, r.Cite.EndLine)
}

func TestSearchResultFromJSONArray_MistypedFieldsBecomeNil(t *testing.T) {
	r, ok := SearchResultFromJSONArray(json.RawMessage(`["cite", "zero", 7, -1, 1.5]`))
	require.True(t, ok)

	assert.Nil(t, r.Cite.PathAlias)
	assert.Nil(t, r.Cite.Comment)
	assert.Nil(t, r.Cite.StartLine)
	assert.Nil(t, r.Cite.EndLine)
}

func TestSearchResultFromJSONArray_NewAndConclude(t *testing.T) {
	r, ok := SearchResultFromJSONArray(json.RawMessage(`["new", "go", "package main"]`))
	require.True(t, ok)
	assert.Equal(t, "go", *r.New.Language)
	assert.Equal(t, "package main", *r.New.Code)

	r, ok = SearchResultFromJSONArray(json.RawMessage(`["con", "done"]`))
	require.True(t, ok)
	assert.True(t, r.IsConclusion())
	assert.Equal(t, "done", *r.Conclude.Comment)
}

func TestSearchResultFromJSONArray_Skipped(t *testing.T) {
	for _, raw := range []string{
		`["bogus", 1]`,
		`[]`,
		`[1, 2]`,
		`{"cite": 1}`,
		`"cite"`,
		`["mod", 0]`,
		`["mod", 0, 12]`,
		`["mod", 0, "not a diff"]`,
	} {
		_, ok := SearchResultFromJSONArray(json.RawMessage(raw))
		assert.False(t, ok, raw)
	}
}

func TestSearchResultFromJSONArray_ModifyObject(t *testing.T) {
	raw := `["mod", 1, {
		"oldFileName": "a/main.go",
		"newFileName": "b/main.go",
		"hunks": [{"oldStart": 3, "newStart": 3, "oldLines": 1, "newLines": 2, "lines": ["-a", "+b", "+c"]}]
	}]`

	r, ok := SearchResultFromJSONArray(json.RawMessage(raw))
	require.True(t, ok)
	require.NotNil(t, r.Modify.Diff)

	d := r.Modify.Diff
	assert.Equal(t, "a/main.go", d.OldFileName)
	assert.Equal(t, "b/main.go", d.NewFileName)
	require.Len(t, d.Hunks, 1)
	assert.Equal(t, ModifyResultHunk{OldStart: 3, NewStart: 3, OldLines: 1, NewLines: 2, Lines: []string{"-a", "+b", "+c"}}, d.Hunks[0])
}

func TestSearchResultFromJSONArray_ModifyUnifiedText(t *testing.T) {
	text := "--- a/util.go\n+++ b/util.go\n@@ -1,2 +1,2 @@\n package util\n-var x = 1\n+var x = 2\n"
	raw, err := json.Marshal([]any{"mod", 0, text})
	require.NoError(t, err)

	r, ok := SearchResultFromJSONArray(raw)
	require.True(t, ok)

	d := r.Modify.Diff
	assert.Equal(t, "a/util.go", d.OldFileName)
	assert.Equal(t, "b/util.go", d.NewFileName)
	require.Len(t, d.Hunks, 1)
	assert.Equal(t, 1, d.Hunks[0].OldStart)
	assert.Equal(t, 2, d.Hunks[0].NewLines)
	assert.Equal(t, []string{" package util", "-var x = 1", "+var x = 2"}, d.Hunks[0].Lines)
}

func TestSearchResult_SubstitutePathAlias(t *testing.T) {
	aliases := []string{"src/auth.rs", "src/util.rs"}

	cite, _ := SearchResultFromJSONArray(json.RawMessage(`["cite", 1, "c", 1, 2]`))
	resolved := cite.SubstitutePathAlias(aliases)
	require.NotNil(t, resolved.Cite.Path)
	assert.Equal(t, "src/util.rs", *resolved.Cite.Path)
	assert.Nil(t, cite.Cite.Path, "substitution must not mutate the input")

	unknown, _ := SearchResultFromJSONArray(json.RawMessage(`["cite", 9, "c"]`))
	assert.Nil(t, unknown.SubstitutePathAlias(aliases).Cite.Path)

	con, _ := SearchResultFromJSONArray(json.RawMessage(`["con", "x"]`))
	assert.Equal(t, con, con.SubstitutePathAlias(aliases))
}

func TestSearchResult_MarshalJSON(t *testing.T) {
	cite, _ := SearchResultFromJSONArray(json.RawMessage(`["cite", 0, "here", 1, 10]`))
	cite = cite.SubstitutePathAlias([]string{"src/auth.rs"})

	data, err := json.Marshal(cite)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Cite":{"path":"src/auth.rs","comment":"here","start_line":1,"end_line":10}}`, string(data))

	_, err = json.Marshal(SearchResult{})
	assert.Error(t, err)
}

func TestSearchResult_UnmarshalJSON(t *testing.T) {
	var r SearchResult
	require.NoError(t, json.Unmarshal([]byte(`{"Cite":{"path":"a.go","comment":"c","start_line":2,"end_line":4}}`), &r))
	require.NotNil(t, r.Cite)
	assert.Equal(t, "a.go", *r.Cite.Path)
	assert.Equal(t, uint64(4), *r.Cite.EndLine)
	assert.Nil(t, r.New)

	require.NoError(t, json.Unmarshal([]byte(`{"Conclude":{"comment":"done"}}`), &r))
	assert.True(t, r.IsConclusion())
	assert.Nil(t, r.Cite)

	assert.Error(t, json.Unmarshal([]byte(`{"Teleport":{}}`), &r))
	assert.Error(t, json.Unmarshal([]byte(`[1]`), &r))
}
