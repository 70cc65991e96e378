// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// InputReader reads one question at a time.
type InputReader interface {
	// ReadLine returns the next line with surrounding whitespace trimmed,
	// or io.EOF when input ends.
	ReadLine() (string, error)
}

// LineReader reads plain lines. It serves piped input and CI.
type LineReader struct {
	reader *bufio.Reader
}

// NewLineReader reads lines from r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{reader: bufio.NewReader(r)}
}

func (r *LineReader) ReadLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// HistoryReader is an interactive line editor with up/down history,
// built on a bubbletea text input.
//
// History is kept in memory only and holds at most maxHistory entries.
// Not safe for concurrent use.
type HistoryReader struct {
	history    []string
	maxHistory int
	prompt     string
}

// NewInputReader returns a HistoryReader when stdin is a terminal and a
// LineReader otherwise.
func NewInputReader(prompt string, maxHistory int) InputReader {
	if !IsTerminal(os.Stdin) {
		return NewLineReader(os.Stdin)
	}
	return &HistoryReader{
		history:    make([]string, 0, maxHistory),
		maxHistory: maxHistory,
		prompt:     prompt,
	}
}

// ReadLine runs one bubbletea program until Enter, Ctrl+C or Ctrl+D.
// Ctrl+C discards the line and returns "". Ctrl+D on an empty line
// returns io.EOF.
func (r *HistoryReader) ReadLine() (string, error) {
	ti := textinput.New()
	ti.Prompt = r.prompt
	ti.CharLimit = 8 * 1024
	ti.Width = 80
	ti.Focus()

	p := tea.NewProgram(historyModel{input: ti, history: r.history, index: -1}, tea.WithOutput(os.Stderr))
	final, err := p.Run()
	if err != nil {
		return "", err
	}
	m, ok := final.(historyModel)
	if !ok {
		return "", fmt.Errorf("unexpected model type from bubbletea: %T", final)
	}
	if m.eof {
		return "", io.EOF
	}

	line := strings.TrimSpace(m.input.Value())
	r.remember(line)
	return line, nil
}

func (r *HistoryReader) remember(line string) {
	if line == "" || (len(r.history) > 0 && r.history[len(r.history)-1] == line) {
		return
	}
	r.history = append(r.history, line)
	if len(r.history) > r.maxHistory {
		r.history = r.history[1:]
	}
}

// historyModel is the bubbletea model behind HistoryReader. index is -1
// while editing a new line.
type historyModel struct {
	input   textinput.Model
	history []string
	index   int
	draft   string
	done    bool
	eof     bool
}

func (m historyModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m historyModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch key.Type {
	case tea.KeyEnter:
		m.done = true
		return m, tea.Quit

	case tea.KeyCtrlC:
		m.input.SetValue("")
		m.done = true
		return m, tea.Quit

	case tea.KeyCtrlD:
		if m.input.Value() == "" {
			m.eof = true
			m.done = true
			return m, tea.Quit
		}
		return m, nil

	case tea.KeyUp:
		if len(m.history) == 0 {
			return m, nil
		}
		if m.index == -1 {
			m.draft = m.input.Value()
			m.index = len(m.history) - 1
		} else if m.index > 0 {
			m.index--
		}
		m.input.SetValue(m.history[m.index])
		m.input.CursorEnd()
		return m, nil

	case tea.KeyDown:
		if m.index == -1 {
			return m, nil
		}
		if m.index < len(m.history)-1 {
			m.index++
			m.input.SetValue(m.history[m.index])
		} else {
			m.index = -1
			m.input.SetValue(m.draft)
		}
		m.input.CursorEnd()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m historyModel) View() string {
	if m.done {
		return ""
	}
	return m.input.View()
}
