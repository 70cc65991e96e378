// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianAnswer/services/llm"
)

// maxExplanationLines caps how far past start an explanation may reach.
const maxExplanationLines = 10

type explanation struct {
	Start        int    `json:"start"`
	Answer       string `json:"answer"`
	End          int    `json:"end"`
	RelevantCode string `json:"relevant_code"`
}

type fileCheck struct {
	Explanations []explanation `json:"explanations,omitempty"`
	Path         string        `json:"path"`
	Error        string        `json:"error,omitempty"`
}

// explainedRange is one entry of the model's per-file reply.
type explainedRange struct {
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Answer string `json:"answer"`
}

// check asks question of every aliased file and returns the explanations
// as a JSON array of {explanations, path} objects in alias order.
func (c *Conversation) check(ctx context.Context, env *Env, question string, aliases []int) (string, error) {
	paths := make([]string, 0, len(aliases))
	for _, alias := range aliases {
		p, err := c.ResolveAlias(alias)
		if err != nil {
			return "", err
		}
		paths = append(paths, p)
	}

	results := make([]*fileCheck, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(checkConcurrency)

	for i, path := range paths {
		g.Go(func() error {
			fc, err := c.checkFile(gctx, env, question, path)
			if err == nil {
				results[i] = fc
				return nil
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}
			env.logger().Warn("check failed for file", "path", path, "error", err)
			if env.CheckFailures == CheckFailuresReport {
				results[i] = &fileCheck{Path: path, Error: err.Error()}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	out := make([]*fileCheck, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return marshalObservation(out)
}

// checkFile explains one file.
func (c *Conversation) checkFile(ctx context.Context, env *Env, question, path string) (*fileCheck, error) {
	f, err := env.Files.ReadFile(ctx, c.RepoRef, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read path %s: %w", path, err)
	}

	lines := strings.Split(f.Content, "\n")
	numbered := make([]string, len(lines))
	for i, line := range lines {
		numbered[i] = fmt.Sprintf("%d: %s", i+1, line)
	}

	prompt, err := env.Prompts.FileExplanation(question, path, strings.Join(numbered, "\n"))
	if err != nil {
		return nil, err
	}

	stream, err := env.LLM.Chat(ctx, []llm.Message{llm.SystemMessage(prompt)}, chatParams(env.CheckModel))
	if err != nil {
		return nil, fmt.Errorf("explain %s: %w", path, err)
	}
	reply, err := llm.Collect(stream)
	if err != nil {
		return nil, fmt.Errorf("explain %s: %w", path, err)
	}

	var ranges []explainedRange
	if err := json.Unmarshal([]byte(strings.TrimSpace(reply)), &ranges); err != nil {
		return nil, fmt.Errorf("explain %s: reply was not a JSON array of ranges: %w", path, err)
	}

	return &fileCheck{Path: path, Explanations: clampExplanations(ranges, numbered)}, nil
}

// clampExplanations drops ranges with a non-positive bound and caps each
// range at maxExplanationLines past its start and at the end of the file.
// Line numbers are 1-based and inclusive.
func clampExplanations(ranges []explainedRange, numbered []string) []explanation {
	out := []explanation{}
	for _, r := range ranges {
		if r.Start <= 0 || r.End <= 0 {
			continue
		}
		last := min(r.End, r.Start+maxExplanationLines, len(numbered))
		if r.Start > last {
			continue
		}
		out = append(out, explanation{
			Start:        r.Start,
			Answer:       r.Answer,
			End:          last,
			RelevantCode: strings.Join(numbered[r.Start-1:last], "\n"),
		})
	}
	return out
}
