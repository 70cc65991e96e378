// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/sourcegraph/go-diff/diff"
)

// =============================================================================
// Search Results
// =============================================================================

// SearchResult is one entry of a final answer. Exactly one of the variant
// pointers is set.
//
// # Wire Format
//
// Results arrive from the model as arrays headed by a short tag:
//
//	["cite", <alias>, <comment>, <start_line>, <end_line>]
//	["new", <language>, <code>]
//	["mod", <alias>, <diff object or unified diff text>]
//	["con", <comment>]
//
// and are sent to clients externally tagged, e.g. {"Cite": {...}}.
type SearchResult struct {
	Cite     *CiteResult
	New      *NewResult
	Modify   *ModifyResult
	Conclude *ConcludeResult
}

// CiteResult points at a line range of a file in the repository.
type CiteResult struct {
	PathAlias *uint64 `json:"-"`
	Path      *string `json:"path"`
	Comment   *string `json:"comment"`
	StartLine *uint64 `json:"start_line"`
	EndLine   *uint64 `json:"end_line"`
}

// NewResult is a new code snippet proposed by the model.
type NewResult struct {
	Language *string `json:"language"`
	Code     *string `json:"code"`
}

// ModifyResult is a proposed change to an existing file.
type ModifyResult struct {
	PathAlias *uint64           `json:"-"`
	Path      *string           `json:"path"`
	Diff      *ModifyResultDiff `json:"diff"`
}

// ModifyResultDiff is a structured single-file diff.
type ModifyResultDiff struct {
	OldFileName string             `json:"old_file_name"`
	NewFileName string             `json:"new_file_name"`
	OldHeader   string             `json:"old_header"`
	NewHeader   string             `json:"new_header"`
	Hunks       []ModifyResultHunk `json:"hunks"`
}

// ModifyResultHunk is one hunk of a ModifyResultDiff. Lines keep their
// leading ' ', '+' or '-' marker.
type ModifyResultHunk struct {
	OldStart int      `json:"old_start"`
	NewStart int      `json:"new_start"`
	OldLines int      `json:"old_lines"`
	NewLines int      `json:"new_lines"`
	Lines    []string `json:"lines"`
}

// ConcludeResult carries the model's closing summary.
type ConcludeResult struct {
	Comment *string `json:"comment"`
}

// IsConclusion reports whether r is a Conclude entry.
func (r SearchResult) IsConclusion() bool {
	return r.Conclude != nil
}

// MarshalJSON encodes the set variant as {"<Variant>": {...}}.
func (r SearchResult) MarshalJSON() ([]byte, error) {
	switch {
	case r.Cite != nil:
		return json.Marshal(map[string]*CiteResult{"Cite": r.Cite})
	case r.New != nil:
		return json.Marshal(map[string]*NewResult{"New": r.New})
	case r.Modify != nil:
		return json.Marshal(map[string]*ModifyResult{"Modify": r.Modify})
	case r.Conclude != nil:
		return json.Marshal(map[string]*ConcludeResult{"Conclude": r.Conclude})
	default:
		return nil, errors.New("empty search result")
	}
}

// UnmarshalJSON decodes the externally tagged form written by MarshalJSON.
func (r *SearchResult) UnmarshalJSON(data []byte) error {
	var tagged struct {
		Cite     *CiteResult     `json:"Cite"`
		New      *NewResult      `json:"New"`
		Modify   *ModifyResult   `json:"Modify"`
		Conclude *ConcludeResult `json:"Conclude"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	*r = SearchResult{Cite: tagged.Cite, New: tagged.New, Modify: tagged.Modify, Conclude: tagged.Conclude}
	if r.Cite == nil && r.New == nil && r.Modify == nil && r.Conclude == nil {
		return errors.New("search result has no known variant")
	}
	return nil
}

// SubstitutePathAlias resolves the alias of Cite and Modify entries into a
// path. Unknown aliases leave Path nil.
func (r SearchResult) SubstitutePathAlias(aliases []string) SearchResult {
	switch {
	case r.Cite != nil:
		c := *r.Cite
		c.Path = lookupAlias(c.PathAlias, aliases)
		r.Cite = &c
	case r.Modify != nil:
		m := *r.Modify
		m.Path = lookupAlias(m.PathAlias, aliases)
		r.Modify = &m
	}
	return r
}

func lookupAlias(alias *uint64, aliases []string) *string {
	if alias == nil || *alias >= uint64(len(aliases)) {
		return nil
	}
	p := aliases[*alias]
	return &p
}

// =============================================================================
// Decoding Model Output
// =============================================================================

// SearchResultFromJSONArray converts one tagged array of the model's answer
// into a SearchResult.
//
// # Description
//
// Missing or mistyped positional fields become nil rather than failing,
// because the array may still be streaming in. Returns false for values
// that are not arrays, unknown tags, and "mod" entries whose diff is
// absent or cannot be decoded.
func SearchResultFromJSONArray(raw json.RawMessage) (SearchResult, bool) {
	var v []json.RawMessage
	if err := json.Unmarshal(raw, &v); err != nil || len(v) == 0 {
		return SearchResult{}, false
	}
	tag, ok := asString(v[0])
	if !ok {
		return SearchResult{}, false
	}
	args := v[1:]

	switch tag {
	case "cite":
		return SearchResult{Cite: &CiteResult{
			PathAlias: u64At(args, 0),
			Comment:   stringAt(args, 1),
			StartLine: u64At(args, 2),
			EndLine:   u64At(args, 3),
		}}, true
	case "new":
		return SearchResult{New: &NewResult{
			Language: stringAt(args, 0),
			Code:     stringAt(args, 1),
		}}, true
	case "mod":
		if len(args) < 2 {
			return SearchResult{}, false
		}
		d, err := decodeDiff(args[1])
		if err != nil {
			return SearchResult{}, false
		}
		return SearchResult{Modify: &ModifyResult{
			PathAlias: u64At(args, 0),
			Diff:      d,
		}}, true
	case "con":
		return SearchResult{Conclude: &ConcludeResult{Comment: stringAt(args, 0)}}, true
	default:
		return SearchResult{}, false
	}
}

// diffObject is the camelCase shape models produce for structured diffs.
type diffObject struct {
	OldFileName string `json:"oldFileName"`
	NewFileName string `json:"newFileName"`
	OldHeader   string `json:"oldHeader"`
	NewHeader   string `json:"newHeader"`
	Hunks       []struct {
		OldStart int      `json:"oldStart"`
		NewStart int      `json:"newStart"`
		OldLines int      `json:"oldLines"`
		NewLines int      `json:"newLines"`
		Lines    []string `json:"lines"`
	} `json:"hunks"`
}

// decodeDiff accepts either a diff object or unified diff text.
func decodeDiff(raw json.RawMessage) (*ModifyResultDiff, error) {
	if text, ok := asString(raw); ok {
		return parseUnifiedDiff(text)
	}

	if !isObject(raw) {
		return nil, errors.New("diff is neither an object nor text")
	}
	var obj diffObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}

	d := &ModifyResultDiff{
		OldFileName: obj.OldFileName,
		NewFileName: obj.NewFileName,
		OldHeader:   obj.OldHeader,
		NewHeader:   obj.NewHeader,
		Hunks:       make([]ModifyResultHunk, 0, len(obj.Hunks)),
	}
	for _, h := range obj.Hunks {
		lines := h.Lines
		if lines == nil {
			lines = []string{}
		}
		d.Hunks = append(d.Hunks, ModifyResultHunk{
			OldStart: h.OldStart,
			NewStart: h.NewStart,
			OldLines: h.OldLines,
			NewLines: h.NewLines,
			Lines:    lines,
		})
	}
	return d, nil
}

// parseUnifiedDiff converts a single-file unified diff into the structured
// form clients render.
func parseUnifiedDiff(text string) (*ModifyResultDiff, error) {
	fd, err := diff.ParseFileDiff([]byte(text))
	if err != nil {
		return nil, err
	}
	if len(fd.Hunks) == 0 {
		return nil, errors.New("unified diff has no hunks")
	}

	d := &ModifyResultDiff{
		OldFileName: fd.OrigName,
		NewFileName: fd.NewName,
		OldHeader:   formatDiffTime(fd.OrigTime),
		NewHeader:   formatDiffTime(fd.NewTime),
		Hunks:       make([]ModifyResultHunk, 0, len(fd.Hunks)),
	}
	for _, h := range fd.Hunks {
		body := strings.TrimSuffix(string(h.Body), "\n")
		lines := []string{}
		if body != "" {
			lines = strings.Split(body, "\n")
		}
		d.Hunks = append(d.Hunks, ModifyResultHunk{
			OldStart: int(h.OrigStartLine),
			NewStart: int(h.NewStartLine),
			OldLines: int(h.OrigLines),
			NewLines: int(h.NewLines),
			Lines:    lines,
		})
	}
	return d, nil
}

func formatDiffTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

// =============================================================================
// Positional Helpers
// =============================================================================

func asString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func stringAt(args []json.RawMessage, i int) *string {
	if i >= len(args) {
		return nil
	}
	s, ok := asString(args[i])
	if !ok {
		return nil
	}
	return &s
}

func u64At(args []json.RawMessage, i int) *uint64 {
	if i >= len(args) {
		return nil
	}
	raw := bytes.TrimSpace(args[i])
	if len(raw) == 0 || raw[0] < '0' || raw[0] > '9' {
		return nil
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil
	}
	return &n
}
