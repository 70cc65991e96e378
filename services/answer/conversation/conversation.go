// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package conversation runs the action loop between a user's question and
// the language model.
//
// # Description
//
// A Conversation holds the model-facing history and the path aliases shown
// to the model. Each turn of the loop loads one action (from the model's
// streamed reply, or synthesized by the engine), executes it against the
// repository indexes, appends the observation to the history and asks the
// model for the next action. The loop ends when the model asks the user
// something, which it always does after answering.
//
// The Driver runs the loop for one HTTP request, folding progress into a
// datatypes.FullUpdate and forwarding every snapshot to an UpdateSink.
package conversation

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianAnswer/services/answer/action"
	"github.com/AleutianAI/AleutianAnswer/services/answer/prompts"
	"github.com/AleutianAI/AleutianAnswer/services/llm"
)

// ErrUnknownAlias is returned when the model refers to a path alias that
// was never assigned. It is also a protocol error.
var ErrUnknownAlias = errors.New("unknown path alias")

// Conversation is the model-facing state of one thread.
type Conversation struct {
	History     []llm.Message
	PathAliases []string
	RepoRef     string
}

// New starts a conversation seeded with the system prompt and the
// assistant's opening question.
func New(repoRef string, p *prompts.Set) *Conversation {
	return &Conversation{
		History: []llm.Message{
			llm.SystemMessage(p.System()),
			llm.AssistantMessage(p.InitialPrompt()),
		},
		PathAliases: []string{},
		RepoRef:     repoRef,
	}
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	return &Conversation{
		History:     append([]llm.Message(nil), c.History...),
		PathAliases: append([]string{}, c.PathAliases...),
		RepoRef:     c.RepoRef,
	}
}

// PathAlias returns the alias for path, assigning the next free one on
// first use. Aliases are never reassigned.
func (c *Conversation) PathAlias(path string) int {
	for i, p := range c.PathAliases {
		if p == path {
			return i
		}
	}
	c.PathAliases = append(c.PathAliases, path)
	return len(c.PathAliases) - 1
}

// ResolveAlias returns the path an alias was assigned to.
func (c *Conversation) ResolveAlias(alias int) (string, error) {
	if alias < 0 || alias >= len(c.PathAliases) {
		return "", &action.ProtocolError{
			Reason: fmt.Sprintf("invalid path alias %d", alias),
			Err:    ErrUnknownAlias,
		}
	}
	return c.PathAliases[alias], nil
}

// resolveFile returns the path a FileRef names.
func (c *Conversation) resolveFile(ref action.FileRef) (string, error) {
	if ref.IsAlias {
		return c.ResolveAlias(ref.Alias)
	}
	return ref.Path, nil
}

// userMessages returns the content of every user turn, oldest first.
func (c *Conversation) userMessages() []string {
	out := []string{}
	for _, m := range c.History {
		if m.Role == llm.RoleUser {
			out = append(out, m.Content)
		}
	}
	return out
}
