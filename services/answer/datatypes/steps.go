// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// StepType names the kind of work a SearchStep reports.
type StepType string

const (
	StepQuery StepType = "QUERY"
	StepPath  StepType = "PATH"
	StepCode  StepType = "CODE"
	StepCheck StepType = "CHECK"
	StepFile  StepType = "FILE"
)

// Custom step types used for actions that do not search.
const (
	StepAnswer StepType = "ANSWER"
	StepPrompt StepType = "PROMPT"
)

// SearchStep is a human-readable progress descriptor shown while a turn
// runs, e.g. {"type":"PATH","content":"Searching paths"}.
type SearchStep struct {
	Type    StepType `json:"type"`
	Content string   `json:"content"`
}

// UpdateKind discriminates Update.
type UpdateKind int

const (
	// UpdateStep appends a progress step to the current message.
	UpdateStep UpdateKind = iota
	// UpdateResult replaces the current message's results.
	UpdateResult
)

// Update is one incremental change produced by a conversation turn.
type Update struct {
	Kind    UpdateKind
	Step    SearchStep
	Results []SearchResult
}

// StepUpdate wraps a progress step.
func StepUpdate(step SearchStep) Update {
	return Update{Kind: UpdateStep, Step: step}
}

// ResultUpdate wraps a full replacement of the answer results.
func ResultUpdate(results []SearchResult) Update {
	return Update{Kind: UpdateResult, Results: results}
}
