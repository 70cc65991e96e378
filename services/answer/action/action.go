// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package action implements the wire protocol between the answer engine
// and the language model.
//
// # Wire Format
//
// Every model turn is a single JSON array whose first element is the
// action tag and whose remaining elements are the arguments:
//
//	["path", "auth middleware"]
//	["file", 3]
//	["file", "src/main.go"]
//	["code", "where are tokens validated"]
//	["check", "does this file validate tokens?", [0, 2]]
//	["answer", "How are tokens validated?"]
//	["ask", "Which service do you mean?"]
//
// Decode reshapes the array into a single-key object before matching the
// tag: no arguments become null, one argument is used as-is, and several
// arguments become an array. Encode performs the inverse, so
// Decode(Encode(a)) == a for every constructible Action.
package action

import (
	"fmt"

	"github.com/AleutianAI/AleutianAnswer/services/answer/datatypes"
)

// Kind is the wire tag of an action.
type Kind string

const (
	KindQuery  Kind = "query"
	KindPrompt Kind = "ask"
	KindPath   Kind = "path"
	KindFile   Kind = "file"
	KindCode   Kind = "code"
	KindCheck  Kind = "check"
	KindAnswer Kind = "answer"
)

// FileRef names a file either by path or by the alias the conversation
// assigned when the path was first shown to the model.
type FileRef struct {
	Path    string
	Alias   int
	IsAlias bool
}

// String returns the path, or the alias in decimal.
func (r FileRef) String() string {
	if r.IsAlias {
		return fmt.Sprintf("%d", r.Alias)
	}
	return r.Path
}

// Action is a closed tagged variant. Text holds the single string argument
// of query, ask, path, code and answer, and the question of check. File is
// only meaningful for KindFile and Aliases only for KindCheck.
type Action struct {
	Kind    Kind
	Text    string
	File    FileRef
	Aliases []int
}

// Query is the user's question entering the engine.
func Query(text string) Action { return Action{Kind: KindQuery, Text: text} }

// Prompt asks the user something and ends the turn.
func Prompt(text string) Action { return Action{Kind: KindPrompt, Text: text} }

// Path searches file paths.
func Path(search string) Action { return Action{Kind: KindPath, Text: search} }

// FilePath fetches a file by path.
func FilePath(path string) Action { return Action{Kind: KindFile, File: FileRef{Path: path}} }

// FileAlias fetches a file by alias.
func FileAlias(alias int) Action {
	return Action{Kind: KindFile, File: FileRef{Alias: alias, IsAlias: true}}
}

// Code runs a semantic code search.
func Code(query string) Action { return Action{Kind: KindCode, Text: query} }

// Check asks a question of each aliased file.
func Check(question string, aliases []int) Action {
	if aliases == nil {
		aliases = []int{}
	}
	return Action{Kind: KindCheck, Text: question, Aliases: aliases}
}

// Answer produces the final answer.
func Answer(question string) Action { return Action{Kind: KindAnswer, Text: question} }

// Step returns the progress descriptor shown to clients while the action
// executes.
func (a Action) Step() datatypes.SearchStep {
	switch a.Kind {
	case KindQuery:
		return datatypes.SearchStep{Type: datatypes.StepQuery, Content: "Processing query"}
	case KindPath:
		return datatypes.SearchStep{Type: datatypes.StepPath, Content: "Searching paths"}
	case KindCode:
		return datatypes.SearchStep{Type: datatypes.StepCode, Content: "Performing semantic search"}
	case KindFile:
		return datatypes.SearchStep{Type: datatypes.StepFile, Content: "Retrieving file contents"}
	case KindCheck:
		return datatypes.SearchStep{Type: datatypes.StepCheck, Content: "Checking files"}
	case KindAnswer:
		return datatypes.SearchStep{Type: datatypes.StepAnswer, Content: "Answering query"}
	default:
		return datatypes.SearchStep{Type: datatypes.StepPrompt, Content: "Awaiting prompt"}
	}
}
