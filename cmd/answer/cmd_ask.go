// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAnswer/pkg/client"
	"github.com/AleutianAI/AleutianAnswer/pkg/ux"
	"github.com/AleutianAI/AleutianAnswer/services/answer/datatypes"
)

type askOptions struct {
	server     string
	repo       string
	thread     string
	token      string
	configPath string
}

func newAskCmd(_ *globalFlags) *cobra.Command {
	o := &askOptions{}

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about a repository",
		Long: `Ask a question and stream the answer.

With a question argument, asks once and exits. Without one, starts an
interactive session: every question continues the same thread, and the
up and down arrows recall earlier questions. Ctrl+D ends the session.

The server and repository are remembered in ~/.aleutian/answer.yaml.
When either is missing on a terminal, a form asks for them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), o, strings.TrimSpace(strings.Join(args, " ")))
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.server, "server", os.Getenv("ANSWER_SERVER_URL"), "Answer service URL")
	f.StringVarP(&o.repo, "repo", "r", os.Getenv("ANSWER_REPO_REF"), "repo_ref to ask about")
	f.StringVarP(&o.thread, "thread", "t", "", "Continue an existing thread")
	f.StringVar(&o.token, "token", os.Getenv("ANSWER_TOKEN"), "Bearer token")
	f.StringVar(&o.configPath, "config", defaultConfigPath(), "CLI settings file")
	return cmd
}

func runAsk(ctx context.Context, o *askOptions, question string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := ux.Std

	settings, err := resolveSettings(o)
	if err != nil {
		return err
	}

	c, err := client.New(client.Config{BaseURL: settings.ServerURL, Token: settings.Token})
	if err != nil {
		return err
	}

	thread := o.thread
	ask := func(q string) error {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
		defer stop()

		renderer := ux.NewAnswerRenderer(os.Stdout)
		res, err := c.Ask(ctx, datatypes.AnswerRequest{Query: q, RepoRef: settings.RepoRef, ThreadID: thread},
			func(u *datatypes.FullUpdate) error {
				renderer.Update(u)
				return nil
			})
		if res != nil {
			renderer.Finish(res.Final)
			if res.ThreadID != "" {
				thread = res.ThreadID
			}
		} else {
			renderer.Finish(nil)
		}
		return err
	}

	if question != "" {
		if err := ask(question); err != nil {
			out.Error(err.Error())
			return err
		}
		out.Muted("thread " + thread)
		return nil
	}

	out.Title("Asking about " + datatypes.RepoDisplayName(settings.RepoRef))
	out.Muted("Ctrl+D to quit")
	reader := ux.NewInputReader("? ", 50)
	for {
		line, err := reader.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		if err := ask(line); err != nil {
			out.Error(err.Error())
			if errors.Is(err, context.Canceled) {
				continue
			}
			var se *client.StatusError
			if errors.As(err, &se) {
				return err
			}
		}
		fmt.Println()
	}
}

// resolveSettings merges flags, the saved config and, on a terminal, a
// form for whatever is still missing. New settings are saved back.
func resolveSettings(o *askOptions) (ux.ConnectionSettings, error) {
	saved, err := loadCLIConfig(o.configPath)
	if err != nil {
		ux.Std.Warning(err.Error())
	}

	s := ux.ConnectionSettings{ServerURL: o.server, RepoRef: o.repo, Token: o.token}
	if s.ServerURL == "" {
		s.ServerURL = saved.ServerURL
	}
	if s.RepoRef == "" {
		s.RepoRef = saved.RepoRef
	}

	if s.Missing() {
		if !ux.IsInteractive() {
			return s, errors.New("--server and --repo are required")
		}
		if err := ux.PromptConnection(&s); err != nil {
			return s, err
		}
	}

	s.ServerURL = strings.TrimSpace(s.ServerURL)
	s.RepoRef = strings.TrimSpace(s.RepoRef)
	updated := cliConfig{ServerURL: s.ServerURL, RepoRef: s.RepoRef}
	if updated != saved && o.configPath != "" {
		if err := updated.save(o.configPath); err != nil {
			ux.Std.Warning("could not save settings: " + err.Error())
		}
	}
	return s, nil
}
