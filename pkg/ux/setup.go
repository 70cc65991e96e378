// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"errors"
	"net/url"
	"strings"

	"github.com/charmbracelet/huh"
)

// ConnectionSettings are what the ask command needs to reach a server.
type ConnectionSettings struct {
	ServerURL string
	RepoRef   string
	Token     string
}

// Missing reports whether a required setting is empty.
func (s ConnectionSettings) Missing() bool {
	return strings.TrimSpace(s.ServerURL) == "" || strings.TrimSpace(s.RepoRef) == ""
}

// PromptConnection asks for the settings s is missing with a huh form.
// Fields already set are shown prefilled.
func PromptConnection(s *ConnectionSettings) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Answer service URL").
				Placeholder("http://localhost:12230").
				Validate(validateServerURL).
				Value(&s.ServerURL),
			huh.NewInput().
				Title("Repository").
				Description("The repo_ref the service indexed, e.g. github.com/org/repo").
				Validate(requireValue("repository")).
				Value(&s.RepoRef),
			huh.NewInput().
				Title("Access token").
				Description("Leave empty when the service runs without auth").
				EchoMode(huh.EchoModePassword).
				Value(&s.Token),
		),
	).WithShowHelp(false)

	return form.Run()
}

func validateServerURL(v string) error {
	u, err := url.Parse(strings.TrimSpace(v))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("enter an http(s) URL")
	}
	return nil
}

func requireValue(name string) func(string) error {
	return func(v string) error {
		if strings.TrimSpace(v) == "" {
			return errors.New(name + " is required")
		}
		return nil
	}
}
