// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling and interactive input for
// the answer CLI.
package ux

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Aleutian color palette: deep ocean teals and arctic waters.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorAdded   = lipgloss.Color("#58D68D")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Added     lipgloss.Style
	Removed   lipgloss.Style

	Box      lipgloss.Style
	ErrorBox lipgloss.Style
	Code     lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	Added:     lipgloss.NewStyle().Foreground(ColorAdded),
	Removed:   lipgloss.NewStyle().Foreground(ColorError),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
	Code: lipgloss.NewStyle().
		Border(lipgloss.NormalBorder(), false, false, false, true).
		BorderForeground(ColorTealDeep).
		PaddingLeft(1),
}

// Icon provides themed status icons.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with its style.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Output writes styled messages at the current personality level.
type Output struct {
	Out io.Writer
	Err io.Writer
}

// Std writes to stdout and stderr.
var Std = Output{Out: os.Stdout, Err: os.Stderr}

// Title prints a styled title. Machine output omits it.
func (o Output) Title(text string) {
	if GetPersonality() == PersonalityMachine {
		return
	}
	fmt.Fprintln(o.Out, Styles.Title.Render(text))
}

// Success prints a success message with a checkmark.
func (o Output) Success(text string) {
	switch GetPersonality() {
	case PersonalityMachine:
		fmt.Fprintf(o.Out, "OK: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(o.Out, "%s %s\n", IconSuccess, text)
	default:
		fmt.Fprintf(o.Out, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning to the error stream.
func (o Output) Warning(text string) {
	switch GetPersonality() {
	case PersonalityMachine:
		fmt.Fprintf(o.Err, "WARN: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(o.Err, "%s %s\n", IconWarning, text)
	default:
		fmt.Fprintf(o.Err, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error to the error stream.
func (o Output) Error(text string) {
	switch GetPersonality() {
	case PersonalityMachine:
		fmt.Fprintf(o.Err, "ERROR: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(o.Err, "%s %s\n", IconError, text)
	default:
		fmt.Fprintln(o.Err, Styles.ErrorBox.Render(Styles.Error.Render(text)))
	}
}

// Info prints an informational line.
func (o Output) Info(text string) {
	if GetPersonality() == PersonalityMachine {
		fmt.Fprintln(o.Out, text)
		return
	}
	fmt.Fprintf(o.Out, "%s %s\n", Styles.Muted.Render("│"), text)
}

// Muted prints secondary text. Machine output omits it.
func (o Output) Muted(text string) {
	if GetPersonality() == PersonalityMachine {
		return
	}
	fmt.Fprintln(o.Out, Styles.Muted.Render(text))
}

// Box prints text in a rounded box.
func (o Output) Box(title, content string) {
	if GetPersonality() == PersonalityMachine {
		fmt.Fprintf(o.Out, "%s: %s\n", title, content)
		return
	}
	fmt.Fprintln(o.Out, Styles.Box.Width(60).Render(Styles.Title.Render(title)+"\n"+content))
}

// IndexSummary prints the counts of an indexing run.
func (o Output) IndexSummary(indexed, skipped, chunks int64) {
	if GetPersonality() == PersonalityMachine {
		fmt.Fprintf(o.Out, "SUMMARY: indexed=%d skipped=%d chunks=%d\n", indexed, skipped, chunks)
		return
	}
	fmt.Fprintf(o.Out, "\n%s %s  %s %s  %s %s\n",
		Styles.Success.Render(fmt.Sprint(indexed)), Styles.Muted.Render("indexed"),
		Styles.Warning.Render(fmt.Sprint(skipped)), Styles.Muted.Render("skipped"),
		Styles.Bold.Render(fmt.Sprint(chunks)), Styles.Muted.Render("chunks"),
	)
}
