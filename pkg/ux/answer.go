// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/AleutianAnswer/services/answer/datatypes"
)

// AnswerRenderer prints a streaming answer: search steps as they arrive,
// then the results and conclusion of the final snapshot.
//
// Not safe for concurrent use.
type AnswerRenderer struct {
	out     io.Writer
	spinner *Spinner

	messages int
	steps    int
}

// NewAnswerRenderer creates a renderer writing to out.
func NewAnswerRenderer(out io.Writer) *AnswerRenderer {
	return &AnswerRenderer{out: out}
}

// Update prints the steps of u not printed yet.
func (r *AnswerRenderer) Update(u *datatypes.FullUpdate) {
	msg, ok := currentAssistant(u)
	if !ok {
		return
	}
	if len(u.Messages) != r.messages {
		r.messages = len(u.Messages)
		r.steps = 0
	}

	for _, step := range msg.SearchSteps[min(r.steps, len(msg.SearchSteps)):] {
		r.stopSpinner()
		r.printStep(step)
	}
	r.steps = len(msg.SearchSteps)

	if msg.Status != datatypes.StatusFinished && GetPersonality() != PersonalityMachine {
		label := "Thinking"
		if n := len(msg.SearchSteps); n > 0 {
			label = msg.SearchSteps[n-1].Content
		}
		if r.spinner == nil {
			r.spinner = NewSpinner(r.out, label)
			r.spinner.Start()
		} else {
			r.spinner.UpdateMessage(label)
		}
	}
}

// Finish prints the results and conclusion of the final snapshot. A nil
// snapshot only stops the spinner.
func (r *AnswerRenderer) Finish(u *datatypes.FullUpdate) {
	r.stopSpinner()
	if u == nil {
		return
	}
	msg, ok := currentAssistant(u)
	if !ok {
		return
	}

	if len(msg.Results) > 0 {
		fmt.Fprintln(r.out)
	}
	for _, res := range msg.Results {
		fmt.Fprintln(r.out, FormatResult(res))
	}
	if msg.Content != nil && *msg.Content != "" {
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, render(Styles.Bold, *msg.Content))
	}
}

func (r *AnswerRenderer) stopSpinner() {
	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}
}

func (r *AnswerRenderer) printStep(step datatypes.SearchStep) {
	if GetPersonality() == PersonalityMachine {
		fmt.Fprintf(r.out, "STEP %s: %s\n", step.Type, step.Content)
		return
	}
	fmt.Fprintf(r.out, "%s %s\n", IconPending.Render(), Styles.Muted.Render(step.Content))
}

func currentAssistant(u *datatypes.FullUpdate) (datatypes.Message, bool) {
	if u == nil || len(u.Messages) == 0 {
		return datatypes.Message{}, false
	}
	msg := u.Messages[len(u.Messages)-1]
	return msg, msg.Role == datatypes.RoleAssistant
}

// FormatResult renders one search result as terminal text.
func FormatResult(r datatypes.SearchResult) string {
	switch {
	case r.Cite != nil:
		return formatCite(r.Cite)
	case r.New != nil:
		return formatNew(r.New)
	case r.Modify != nil:
		return formatModify(r.Modify)
	case r.Conclude != nil:
		return deref(r.Conclude.Comment)
	default:
		return ""
	}
}

func formatCite(c *datatypes.CiteResult) string {
	loc := deref(c.Path)
	if loc == "" {
		loc = "(unknown file)"
	}
	if c.StartLine != nil {
		loc = fmt.Sprintf("%s:%d", loc, *c.StartLine)
		if c.EndLine != nil && *c.EndLine != *c.StartLine {
			loc = fmt.Sprintf("%s-%d", loc, *c.EndLine)
		}
	}

	line := fmt.Sprintf("%s %s", string(IconArrow), render(Styles.Highlight, loc))
	if comment := deref(c.Comment); comment != "" {
		line += "\n  " + render(Styles.Muted, comment)
	}
	return line
}

func formatNew(n *datatypes.NewResult) string {
	header := fmt.Sprintf("%s new %s", string(IconBullet), render(Styles.Subtitle, deref(n.Language)))
	return header + "\n" + render(Styles.Code, deref(n.Code))
}

func formatModify(m *datatypes.ModifyResult) string {
	path := deref(m.Path)
	if path == "" && m.Diff != nil {
		path = m.Diff.NewFileName
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s modify %s", string(IconBullet), render(Styles.Highlight, path))
	if m.Diff == nil {
		return b.String()
	}
	for _, h := range m.Diff.Hunks {
		fmt.Fprintf(&b, "\n%s", render(Styles.Subtitle,
			fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.OldStart, h.OldLines, h.NewStart, h.NewLines)))
		for _, l := range h.Lines {
			switch {
			case strings.HasPrefix(l, "+"):
				l = render(Styles.Added, l)
			case strings.HasPrefix(l, "-"):
				l = render(Styles.Removed, l)
			}
			b.WriteString("\n" + l)
		}
	}
	return b.String()
}

// render applies st unless output is for machines.
func render(st lipgloss.Style, s string) string {
	if GetPersonality() == PersonalityMachine {
		return s
	}
	return st.Render(s)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
