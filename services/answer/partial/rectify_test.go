// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package partial

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRectify_Repairs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", ``, `[]`},
		{"not an array", `{"a":1}`, `[]`},
		{"prose", `Sure! Here is`, `[]`},
		{"open bracket", `[`, `[]`},
		{"open nested", `[[`, `[[]]`},
		{"truncated string", `[["cite", 0, "the handl`, `[["cite",0,"the handl"]]`},
		{"truncated number", `[["cite", 0, "x", 1`, `[["cite",0,"x"]]`},
		{"complete number before comma", `[["cite", 0, "x", 1,`, `[["cite",0,"x",1]]`},
		{"trailing comma", `[["new", "go"],`, `[["new","go"]]`},
		{"next element open", `[["new", "go"], [`, `[["new","go"],[]]`},
		{"dangling escape", `[["con", "a\`, `[["con","a"]]`},
		{"truncated unicode escape", `[["con", "a\u00`, `[["con","a"]]`},
		{"complete unicode escape", `[["con", "aé`, `[["con","aé"]]`},
		{"truncated literal", `[true, nu`, `[true]`},
		{"complete literal", `[true, null, false]`, `[true,null,false]`},
		{"object dangling key", `[{"a": 1, "b`, `[{"a":1}]`},
		{"object key without value", `[{"a": 1, "b":`, `[{"a":1}]`},
		{"object partial value", `[{"a": "hel`, `[{"a":"hel"}]`},
		{"raw newline escaped", "[\"a\nb\"]", `["a\u000ab"]`},
		{"negative sign only", `[-`, `[]`},
		{"invalid number", `[1.2.3]`, `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Rectify(tt.in)
			assert.Equal(t, tt.want, got)
			assert.True(t, json.Valid([]byte(got)), "output must be valid JSON: %s", got)
		})
	}
}

func TestRectify_Remainder(t *testing.T) {
	fixed, rest := Rectify(`[["con","done"]] trailing words`)
	assert.Equal(t, `[["con","done"]]`, fixed)
	assert.Equal(t, ` trailing words`, rest)

	fixed, rest = Rectify(`hello`)
	assert.Equal(t, `[]`, fixed)
	assert.Equal(t, `hello`, rest)

	_, rest = Rectify(`[["cite", 0`)
	assert.Equal(t, ``, rest)
}

func TestRectify_CompleteBufferDecodesLikeDirectParse(t *testing.T) {
	complete := `[
		["cite", 0, "Handles \"auth\" here", 1, 10],
		["new", "go", "func main() {\n\tfmt.Println(\"hi\")\n}"],
		["mod", 1, {"oldFileName": "a", "newFileName": "b", "hunks": [{"oldStart": 1, "lines": ["-x", "+y"]}]}],
		["con", "ünïcode ✓ and é and -1.5e3", -1.5e3, true, null]
	]`

	fixed, rest := Rectify(complete)
	assert.Empty(t, rest)

	var direct, repaired any
	require.NoError(t, json.Unmarshal([]byte(complete), &direct))
	require.NoError(t, json.Unmarshal([]byte(fixed), &repaired))
	assert.Equal(t, direct, repaired)
}

func TestRectify_EveryPrefixIsValid(t *testing.T) {
	complete := `[["cite", 12, "Tokens are \"validated\" in\\n middleware", 40, 57], ["new", "go", "x := []int{1, 2}"], {"k": [true, false, null, -0.5e-3]}, ["con", "done ✓"]]`

	for i := 0; i <= len(complete); i++ {
		fixed, _ := Rectify(complete[:i])

		var v []any
		require.NoError(t, json.Unmarshal([]byte(fixed), &v), "prefix %d %q gave %q", i, complete[:i], fixed)
	}
}

func TestRectify_GrowsMonotonically(t *testing.T) {
	stream := []string{`[`, `["cite"`, `, 0`, `, "he`, `re"`, `, 1`, `, 10]`, `]`}

	var buf string
	var lens []int
	for _, tok := range stream {
		buf += tok
		fixed, _ := Rectify(buf)
		var v [][]any
		require.NoError(t, json.Unmarshal([]byte(fixed), &v))
		n := 0
		if len(v) > 0 {
			n = len(v[0])
		}
		lens = append(lens, n)
	}

	assert.Equal(t, []int{0, 1, 1, 3, 3, 3, 5, 5}, lens)
}
