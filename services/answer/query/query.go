// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package query parses the user's question into search filters and a
// target.
//
// A question may carry filters ahead of or among its words:
//
//	repo:org/api lang:go where are tokens validated?
//	path:internal/auth "session cookie"
//	/func\s+Validate/
//
// Filters are repo:, path: and lang:. Words wrapped in slashes form a
// regex target; everything else is plain text.
package query

import (
	"errors"
	"strings"
	"unicode"
)

var (
	// ErrEmptyQuery is returned when a question has no target text.
	ErrEmptyQuery = errors.New("query was empty")

	// ErrNotPlainText is returned when the target is a regex.
	ErrNotPlainText = errors.New("user query was not plain text")

	// ErrUnbalancedQuote is returned for an unterminated quoted phrase.
	ErrUnbalancedQuote = errors.New("unbalanced quote in query")
)

// Literal is the searched-for part of a question.
type Literal struct {
	Text  string
	Regex bool
}

// Query is a parsed question.
type Query struct {
	Repos  []string
	Paths  []string
	Langs  []string
	Target *Literal
}

// Parse splits text into filters and a target.
func Parse(text string) (*Query, error) {
	tokens, err := tokenize(text)
	if err != nil {
		return nil, err
	}

	q := &Query{}
	var words, patterns []string
	for _, tok := range tokens {
		if tok.quoted {
			words = append(words, tok.text)
			continue
		}
		if key, val, ok := strings.Cut(tok.text, ":"); ok && val != "" {
			switch strings.ToLower(key) {
			case "repo":
				q.Repos = append(q.Repos, val)
				continue
			case "path":
				q.Paths = append(q.Paths, val)
				continue
			case "lang":
				q.Langs = append(q.Langs, strings.ToLower(val))
				continue
			}
		}
		if len(tok.text) >= 2 && strings.HasPrefix(tok.text, "/") && strings.HasSuffix(tok.text, "/") {
			patterns = append(patterns, tok.text[1:len(tok.text)-1])
			continue
		}
		words = append(words, tok.text)
	}

	switch {
	case len(patterns) > 0:
		q.Target = &Literal{Text: strings.Join(append(patterns, words...), " "), Regex: true}
	case len(words) > 0:
		q.Target = &Literal{Text: strings.Join(words, " ")}
	}
	return q, nil
}

// PlainTarget returns the target text, failing when the question is empty
// or the target is a regex.
func (q *Query) PlainTarget() (string, error) {
	if q.Target == nil || q.Target.Text == "" {
		return "", ErrEmptyQuery
	}
	if q.Target.Regex {
		return "", ErrNotPlainText
	}
	return q.Target.Text, nil
}

type token struct {
	text   string
	quoted bool
}

// tokenize splits on whitespace, keeping double-quoted phrases together.
func tokenize(text string) ([]token, error) {
	var tokens []token
	var cur strings.Builder
	inQuote := false

	flush := func(quoted bool) {
		if cur.Len() > 0 || quoted {
			tokens = append(tokens, token{text: cur.String(), quoted: quoted})
		}
		cur.Reset()
	}

	for _, r := range text {
		switch {
		case r == '"':
			if inQuote {
				flush(true)
			} else {
				flush(false)
			}
			inQuote = !inQuote
		case unicode.IsSpace(r) && !inQuote:
			flush(false)
		default:
			cur.WriteRune(r)
		}
	}
	if inQuote {
		return nil, ErrUnbalancedQuote
	}
	flush(false)

	out := tokens[:0]
	for _, t := range tokens {
		if t.text != "" {
			out = append(out, t)
		}
	}
	return out, nil
}
