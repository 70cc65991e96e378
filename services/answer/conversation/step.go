// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianAnswer/services/answer/action"
	"github.com/AleutianAI/AleutianAnswer/services/answer/datatypes"
	"github.com/AleutianAI/AleutianAnswer/services/answer/query"
	"github.com/AleutianAI/AleutianAnswer/services/index"
	"github.com/AleutianAI/AleutianAnswer/services/llm"
)

var tracer = otel.Tracer("aleutian.answer.conversation")

// observationSuffix is appended to every observation sent to the model.
const observationSuffix = "\n\nAnswer only with a JSON action."

// pathHeader heads the list of paths returned by a path search.
const pathHeader = "§alias, path"

// Step executes one action.
//
// # Description
//
// Loads the action from in, executes it and returns the stream carrying
// the model's next action. Progress is sent on updates. A nil next stream
// with a nil error means the turn is over and the user should speak next.
//
// Every action other than Query is first recorded in the history as the
// assistant's turn. The observation the action produces is recorded as
// the user's turn before the model is asked for the next action.
//
// # Outputs
//
//   - *ActionStream: The next action, or nil when the turn ends.
//   - error: A *action.ProtocolError for malformed or invalid model
//     output, index.ErrSemanticUnavailable when semantic search is off,
//     or a wrapped collaborator error.
func (c *Conversation) Step(ctx context.Context, env *Env, in *ActionStream, updates chan<- datatypes.Update) (next *ActionStream, err error) {
	ctx, span := tracer.Start(ctx, "Conversation.Step")
	defer span.End()

	act, raw, err := in.Load(ctx, updates)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load action failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("action.kind", string(act.Kind)))

	start := time.Now()
	defer func() {
		env.observe(string(act.Kind), start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if act.Kind != action.KindQuery {
		c.History = append(c.History, llm.AssistantMessage(raw))
	}
	env.logger().Debug("executing action", "action", string(act.Kind), "raw", raw)

	var observation string
	switch act.Kind {
	case action.KindQuery:
		observation, err = queryText(act.Text)

	case action.KindPrompt:
		return nil, nil

	case action.KindAnswer:
		if err := c.answer(ctx, env, act.Text, updates); err != nil {
			return nil, err
		}
		return Resolved(action.Prompt(env.Prompts.Continue()))

	case action.KindPath:
		observation, err = c.searchPaths(ctx, env, act.Text)

	case action.KindFile:
		observation, err = c.readFile(ctx, env, act.File)

	case action.KindCode:
		observation, err = c.searchCode(ctx, env, act.Text)

	case action.KindCheck:
		observation, err = c.check(ctx, env, act.Text, act.Aliases)

	default:
		err = action.NewProtocolError("unhandled action %q", act.Kind)
	}
	if err != nil {
		return nil, err
	}

	c.History = append(c.History, llm.UserMessage(observation+observationSuffix))

	stream, err := env.LLM.Chat(ctx, c.History, chatParams(env.Model))
	if err != nil {
		return nil, fmt.Errorf("request next action: %w", err)
	}
	return Unresolved(stream), nil
}

// queryText extracts the plain-text question from a user query. A query
// without a plain-text target is a protocol error.
func queryText(text string) (string, error) {
	q, err := query.Parse(text)
	if err != nil {
		return "", &action.ProtocolError{Reason: "could not parse query", Input: text, Err: err}
	}
	target, err := q.PlainTarget()
	if err != nil {
		return "", &action.ProtocolError{Reason: "query has no plain-text target", Input: text, Err: err}
	}
	return target, nil
}

// searchPaths lists matching paths with their aliases. When the lexical
// search finds nothing, semantic search supplies paths instead.
func (c *Conversation) searchPaths(ctx context.Context, env *Env, search string) (string, error) {
	paths, err := env.Paths.SearchPaths(ctx, c.RepoRef, search)
	if err != nil {
		return "", fmt.Errorf("path search: %w", err)
	}

	if len(paths) == 0 {
		hits, err := env.semantic().Search(ctx, search, semanticLimit)
		if err != nil {
			return "", fmt.Errorf("semantic path search: %w", err)
		}
		seen := make(map[string]bool, len(hits))
		for _, hit := range hits {
			p, ok := hit[index.PayloadPath]
			if !ok {
				return "", fmt.Errorf("semantic path search: hit without %s", index.PayloadPath)
			}
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}

	lines := make([]string, 0, len(paths)+1)
	lines = append(lines, pathHeader)
	for _, p := range paths {
		lines = append(lines, fmt.Sprintf("%d, %s", c.PathAlias(p), p))
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Conversation) readFile(ctx context.Context, env *Env, ref action.FileRef) (string, error) {
	path, err := c.resolveFile(ref)
	if err != nil {
		return "", err
	}
	f, err := env.Files.ReadFile(ctx, c.RepoRef, path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return f.Content, nil
}

// searchCode runs a semantic search and returns the snippets as a JSON
// array of {path, §ALIAS, snippet, start, end} objects.
func (c *Conversation) searchCode(ctx context.Context, env *Env, q string) (string, error) {
	hits, err := env.semantic().Search(ctx, q, semanticLimit)
	if err != nil {
		return "", fmt.Errorf("semantic search: %w", err)
	}

	chunks := make([]map[string]any, 0, len(hits))
	for _, hit := range hits {
		path, ok := hit[index.PayloadPath]
		if !ok {
			return "", fmt.Errorf("semantic search: hit without %s", index.PayloadPath)
		}
		start, err := strconv.ParseUint(hit[index.PayloadStartLine], 10, 32)
		if err != nil {
			return "", fmt.Errorf("semantic search: bad start line for %s: %w", path, err)
		}
		end, err := strconv.ParseUint(hit[index.PayloadEndLine], 10, 32)
		if err != nil {
			return "", fmt.Errorf("semantic search: bad end line for %s: %w", path, err)
		}
		chunks = append(chunks, map[string]any{
			"path":    path,
			"§ALIAS":  c.PathAlias(path),
			"snippet": hit[index.PayloadSnippet],
			"start":   start,
			"end":     end,
		})
	}
	return marshalObservation(chunks)
}

// marshalObservation encodes v without HTML escaping, so code keeps its
// angle brackets and ampersands.
func marshalObservation(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
