// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package prompts loads the prompt templates used by the answer engine.
//
// The default set is embedded from prompts.yaml. Deployments can supply
// their own file with the same keys.
package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

// MaxYAMLFileSize is the maximum allowed prompts file size (1MB).
const MaxYAMLFileSize = 1024 * 1024

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// promptsYAML is the root structure for YAML deserialization.
type promptsYAML struct {
	System           string `yaml:"system"`
	InitialPrompt    string `yaml:"initial_prompt"`
	Continue         string `yaml:"continue"`
	FileExplanation  string `yaml:"file_explanation"`
	FinalExplanation string `yaml:"final_explanation"`
}

// Set is a parsed, ready-to-render prompt set.
//
// Thread Safety: Safe for concurrent use after construction.
type Set struct {
	system        string
	initialPrompt string
	continueText  string
	fileExpl      *template.Template
	finalExpl     *template.Template
}

var (
	defaultOnce sync.Once
	defaultSet  *Set
	defaultErr  error
)

// Default returns the embedded prompt set. It panics if the embedded file
// is invalid, which is a build defect.
func Default() *Set {
	defaultOnce.Do(func() {
		defaultSet, defaultErr = Parse(defaultPromptsYAML)
	})
	if defaultErr != nil {
		panic(fmt.Sprintf("prompts: embedded prompts.yaml: %v", defaultErr))
	}
	return defaultSet
}

// LoadFile reads and parses a prompts file.
func LoadFile(path string) (*Set, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat prompts file: %w", err)
	}
	if info.Size() > MaxYAMLFileSize {
		return nil, fmt.Errorf("prompts file %s exceeds %d bytes", path, MaxYAMLFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Set from YAML. Every key is required.
func Parse(data []byte) (*Set, error) {
	var raw promptsYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse prompts yaml: %w", err)
	}

	for name, v := range map[string]string{
		"system":            raw.System,
		"initial_prompt":    raw.InitialPrompt,
		"continue":          raw.Continue,
		"file_explanation":  raw.FileExplanation,
		"final_explanation": raw.FinalExplanation,
	} {
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("prompts yaml: %s is required", name)
		}
	}

	fileExpl, err := template.New("file_explanation").Option("missingkey=error").Parse(raw.FileExplanation)
	if err != nil {
		return nil, fmt.Errorf("parse file_explanation: %w", err)
	}
	finalExpl, err := template.New("final_explanation").Option("missingkey=error").Parse(raw.FinalExplanation)
	if err != nil {
		return nil, fmt.Errorf("parse final_explanation: %w", err)
	}

	return &Set{
		system:        raw.System,
		initialPrompt: raw.InitialPrompt,
		continueText:  raw.Continue,
		fileExpl:      fileExpl,
		finalExpl:     finalExpl,
	}, nil
}

// System is the first message of every conversation.
func (s *Set) System() string { return s.system }

// InitialPrompt is the assistant's greeting that follows the system prompt.
func (s *Set) InitialPrompt() string { return s.initialPrompt }

// Continue is the text of the Prompt action synthesized after an answer.
func (s *Set) Continue() string { return s.continueText }

// FileExplanation renders the per-file prompt used by the check action.
// content should already be line-numbered.
func (s *Set) FileExplanation(question, path, content string) (string, error) {
	return render(s.fileExpl, struct{ Question, Path, Content string }{question, path, content})
}

// FinalExplanation renders the prompt that produces the final answer.
// context is a JSON array of the user's messages.
func (s *Set) FinalExplanation(context, question string) (string, error) {
	return render(s.finalExpl, struct{ Context, Question string }{context, question})
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
