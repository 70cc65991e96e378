// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianAnswer/services/answer/prompts"
	"github.com/AleutianAI/AleutianAnswer/services/index"
	"github.com/AleutianAI/AleutianAnswer/services/llm"
)

// semanticLimit is how many snippets a semantic search returns.
const semanticLimit = 10

// checkConcurrency bounds concurrent file explanations in one Check.
const checkConcurrency = 5

// CheckFailurePolicy decides what happens to a file whose explanation
// fails during Check.
type CheckFailurePolicy string

const (
	// CheckFailuresDrop omits failed files from the observation.
	CheckFailuresDrop CheckFailurePolicy = "drop"

	// CheckFailuresReport lists failed files with their error.
	CheckFailuresReport CheckFailurePolicy = "report"
)

// ParseCheckFailurePolicy parses a policy name. Empty means drop.
func ParseCheckFailurePolicy(s string) (CheckFailurePolicy, error) {
	switch CheckFailurePolicy(s) {
	case "", CheckFailuresDrop:
		return CheckFailuresDrop, nil
	case CheckFailuresReport:
		return CheckFailuresReport, nil
	default:
		return "", fmt.Errorf("unknown check failure policy %q (want drop or report)", s)
	}
}

// Observer receives per-action timings. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveAction(kind string, elapsed time.Duration, err error)
}

// Env is everything a conversation step talks to.
type Env struct {
	Files    index.FileReader
	Paths    index.PathSearcher
	Semantic index.SemanticSearcher
	LLM      llm.ChatClient
	Prompts  *prompts.Set

	// Model overrides the client's default model for action turns and the
	// final answer. Empty uses the client default.
	Model string

	// CheckModel is used for per-file explanations. Empty uses the
	// client's default model.
	CheckModel string

	CheckFailures CheckFailurePolicy

	Observer Observer
	Logger   *slog.Logger
}

func (e *Env) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Env) semantic() index.SemanticSearcher {
	if e.Semantic != nil {
		return e.Semantic
	}
	return index.DisabledSearcher{}
}

// chatParams returns deterministic generation settings for model.
func chatParams(model string) llm.GenerationParams {
	return llm.GenerationParams{Temperature: llm.Float32(0), Model: model}
}

func (e *Env) observe(kind string, start time.Time, err error) {
	if e.Observer != nil {
		e.Observer.ObserveAction(kind, time.Since(start), err)
	}
}
