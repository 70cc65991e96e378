// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAnswer/pkg/logging"
	"github.com/AleutianAI/AleutianAnswer/pkg/ux"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	personality string
	logLevel    string
	logFormat   string
	logDir      string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "answer",
		Short: "Ask questions about a code repository",
		Long: `answer serves an LLM-driven question answering engine over an indexed
repository, and provides the tools to index, back up and query it.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if g.personality != "" {
				ux.SetPersonality(ux.ParsePersonalityLevel(g.personality))
			} else {
				ux.InitPersonality()
			}
		},
	}

	root.PersistentFlags().StringVar(&g.personality, "personality", "",
		"Output style: full, minimal, or machine (scripting)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", getEnvString("ANSWER_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", getEnvString("ANSWER_LOG_FORMAT", "auto"),
		"Log format: auto, text, json")
	root.PersistentFlags().StringVar(&g.logDir, "log-dir", os.Getenv("ANSWER_LOG_DIR"),
		"Also write logs to this directory")

	root.AddCommand(
		newServeCmd(g),
		newIndexCmd(g),
		newBackupCmd(g),
		newAskCmd(g),
	)
	return root
}

// logger builds the process logger from the global flags.
func (g *globalFlags) logger(service string) (*logging.Logger, error) {
	level, err := logging.ParseLevel(g.logLevel)
	if err != nil {
		return nil, err
	}
	format, err := parseLogFormat(g.logFormat)
	if err != nil {
		return nil, err
	}
	l := logging.New(logging.Config{
		Level:   level,
		Format:  format,
		LogDir:  g.logDir,
		Service: service,
	})
	l.Install()
	return l, nil
}

func parseLogFormat(s string) (logging.Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return logging.FormatAuto, nil
	case "text":
		return logging.FormatText, nil
	case "json":
		return logging.FormatJSON, nil
	default:
		return 0, fmt.Errorf("unknown log format %q (want auto, text or json)", s)
	}
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
