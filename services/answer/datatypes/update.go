// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"path"
	"strings"
)

// MessageStatus tracks whether the assistant message is still streaming.
type MessageStatus string

const (
	StatusLoading  MessageStatus = "LOADING"
	StatusFinished MessageStatus = "FINISHED"
)

// Message roles that appear in a FullUpdate.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a FullUpdate.
type Message struct {
	Role        string         `json:"role"`
	Status      MessageStatus  `json:"status,omitempty"`
	Content     *string        `json:"content"`
	SearchSteps []SearchStep   `json:"search_steps"`
	Results     []SearchResult `json:"results"`
}

// FullUpdate is the complete client-facing snapshot of one answer turn.
// Every Update is folded into it and the whole snapshot is re-sent, so a
// client that misses an event only needs the next one.
type FullUpdate struct {
	ThreadID    string    `json:"thread_id"`
	UserID      string    `json:"user_id"`
	Description *string   `json:"description"`
	Messages    []Message `json:"messages"`
}

// NewFullUpdate seeds a snapshot with a single loading assistant message.
func NewFullUpdate(key SessionKey, repoRef string) *FullUpdate {
	desc := fmt.Sprintf("New conversation in %s", RepoDisplayName(repoRef))
	return &FullUpdate{
		ThreadID:    key.ThreadID,
		UserID:      key.UserID,
		Description: &desc,
		Messages: []Message{{
			Role:        RoleAssistant,
			Status:      StatusLoading,
			SearchSteps: []SearchStep{},
			Results:     []SearchResult{},
		}},
	}
}

// Apply folds one Update into the snapshot.
//
// A Step is appended to the current message's steps. A Result replaces
// the current message's results: if the list contains a Conclude entry,
// that entry is removed, its comment becomes the message content and the
// message is marked finished.
//
// Panics if the most recent message is not an assistant message.
func (f *FullUpdate) Apply(u Update) {
	msg := f.currentMessage()
	switch u.Kind {
	case UpdateStep:
		msg.SearchSteps = append(msg.SearchSteps, u.Step)
	case UpdateResult:
		f.setResults(msg, u.Results)
	}
}

// Conclusion returns the current message's content, if any.
func (f *FullUpdate) Conclusion() (string, bool) {
	msg := f.currentMessage()
	if msg.Content == nil {
		return "", false
	}
	return *msg.Content, true
}

// Clone returns a deep enough copy for handing to a writer goroutine.
func (f *FullUpdate) Clone() *FullUpdate {
	c := *f
	c.Messages = make([]Message, len(f.Messages))
	for i, m := range f.Messages {
		m.SearchSteps = append(make([]SearchStep, 0, len(m.SearchSteps)), m.SearchSteps...)
		m.Results = append(make([]SearchResult, 0, len(m.Results)), m.Results...)
		c.Messages[i] = m
	}
	return &c
}

func (f *FullUpdate) currentMessage() *Message {
	if len(f.Messages) == 0 {
		panic("datatypes: FullUpdate has no messages")
	}
	msg := &f.Messages[len(f.Messages)-1]
	if msg.Role != RoleAssistant {
		panic("datatypes: current message is a user message")
	}
	return msg
}

func (f *FullUpdate) setResults(msg *Message, results []SearchResult) {
	kept := make([]SearchResult, 0, len(results))
	var conclusion *string
	concluded := false
	for _, r := range results {
		if r.IsConclusion() && !concluded {
			concluded = true
			conclusion = r.Conclude.Comment
			continue
		}
		kept = append(kept, r)
	}

	if concluded {
		msg.Status = StatusFinished
	}
	msg.Results = kept
	msg.Content = conclusion
}

// RepoDisplayName shortens a repository reference for display:
// "github.com/org/repo" becomes "org/repo" and local references become the
// directory name.
func RepoDisplayName(repoRef string) string {
	for _, host := range []string{"github.com/", "gitlab.com/", "bitbucket.org/"} {
		if rest, ok := strings.CutPrefix(repoRef, host); ok {
			return rest
		}
	}
	if rest, ok := strings.CutPrefix(repoRef, "local/"); ok {
		return path.Base(strings.TrimRight(rest, "/"))
	}
	if strings.HasPrefix(repoRef, "/") {
		return path.Base(strings.TrimRight(repoRef, "/"))
	}
	return repoRef
}
