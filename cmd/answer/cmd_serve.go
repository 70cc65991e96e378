// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAnswer/pkg/extensions"
	"github.com/AleutianAI/AleutianAnswer/services/answer"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	cfg := answer.Config{}
	var authTokens string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the answer service",
		Long: `Run the HTTP answer service.

Every flag defaults to an environment variable, so the service can be
configured entirely from a container environment. Model API tokens are
read from OPENAI_API_KEY or OLLAMA_API_KEY, falling back to
/run/secrets/openai_api_key.

Endpoints:
  GET /health          liveness
  GET /metrics         Prometheus metrics
  GET /v1/answer       server-sent events answer stream
  GET /v1/answer/ws    websocket answer stream`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := g.logger("answer-service")
			if err != nil {
				return err
			}
			defer logger.Close()

			opts := extensions.DefaultOptions()
			if authTokens != "" {
				tokens, err := extensions.ParseStaticTokens(authTokens)
				if err != nil {
					return fmt.Errorf("parse auth tokens: %w", err)
				}
				provider, err := extensions.NewStaticTokenAuthProvider(tokens)
				if err != nil {
					return err
				}
				opts = opts.WithAuth(provider)
			}

			logger.Info("Starting answer service",
				"port", cfg.Port,
				"llm_backend", cfg.LLMBackend,
				"weaviate_url", cfg.WeaviateURL,
				"index_path", cfg.IndexPath,
				"auth", authTokens != "",
			)

			svc, err := answer.New(cfg, &opts, logger.Slog())
			if err != nil {
				return fmt.Errorf("failed to create answer service: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return svc.Run(ctx)
		},
	}

	f := cmd.Flags()
	f.IntVar(&cfg.Port, "port", getEnvInt("ANSWER_PORT", 12230), "Port to listen on")
	f.StringVar(&cfg.GinMode, "gin-mode", os.Getenv("GIN_MODE"), "gin mode: debug, release or test")

	f.StringVar(&cfg.LLMBackend, "llm-backend", getEnvString("LLM_BACKEND_TYPE", answer.BackendOpenAI), "Model backend: openai or ollama")
	f.StringVar(&cfg.OpenAIBaseURL, "openai-url", os.Getenv("OPENAI_URL_BASE"), "OpenAI-compatible API base URL")
	f.StringVar(&cfg.OpenAIModel, "openai-model", os.Getenv("OPENAI_MODEL"), "OpenAI chat model")
	f.StringVar(&cfg.OllamaBaseURL, "ollama-url", os.Getenv("OLLAMA_BASE_URL"), "Ollama base URL")
	f.StringVar(&cfg.OllamaModel, "ollama-model", os.Getenv("OLLAMA_MODEL"), "Ollama model")
	f.StringVar(&cfg.CheckModel, "check-model", os.Getenv("ANSWER_CHECK_MODEL"), "Model for per-file checks")
	f.StringVar(&cfg.CheckFailurePolicy, "check-failures", getEnvString("ANSWER_CHECK_FAILURES", "drop"), "Failed file checks: drop or report")

	f.StringVar(&cfg.WeaviateURL, "weaviate-url", os.Getenv("WEAVIATE_SERVICE_URL"), "Weaviate URL; empty disables semantic search")
	f.StringVar(&cfg.WeaviateClass, "weaviate-class", getEnvString("WEAVIATE_CLASS", "CodeChunk"), "Weaviate class holding code chunks")
	f.StringVar(&cfg.EmbeddingBaseURL, "embedding-url", os.Getenv("EMBEDDING_URL_BASE"), "OpenAI-compatible embeddings base URL")
	f.StringVar(&cfg.EmbeddingModel, "embedding-model", os.Getenv("EMBEDDING_MODEL"), "Embedding model")

	f.StringVar(&cfg.IndexPath, "index-path", os.Getenv("ANSWER_INDEX_PATH"), "Badger index directory; empty keeps it in memory")
	f.StringVar(&cfg.WatchDir, "watch-dir", os.Getenv("ANSWER_WATCH_DIR"), "Index this working tree and follow its changes")
	f.StringVar(&cfg.WatchRepo, "watch-repo", os.Getenv("ANSWER_WATCH_REPO"), "repo_ref for --watch-dir")
	f.StringVar(&cfg.PromptsPath, "prompts", os.Getenv("ANSWER_PROMPTS_PATH"), "YAML file overriding the built-in prompts")

	f.StringVar(&cfg.TraceExporter, "trace-exporter", getEnvString("OTEL_TRACES_EXPORTER", "none"), "Trace exporter: otlp, stdout or none")
	f.StringVar(&cfg.MetricExporter, "metric-exporter", getEnvString("OTEL_METRICS_EXPORTER", "prometheus"), "OpenTelemetry metric exporter: prometheus, stdout or none")
	f.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "aleutian-otel-collector:4317"), "OTLP collector gRPC address")

	f.StringVar(&authTokens, "auth-tokens", os.Getenv("ANSWER_AUTH_TOKENS"), "Static bearer tokens as user:token,...; empty disables auth")
	f.BoolVar(&cfg.SanitizeErrors, "sanitize-errors", getEnvBool("ANSWER_SANITIZE_ERRORS", false), "Hide backend error details from clients")
	f.IntVar(&cfg.RateLimitPerMinute, "rate-limit", getEnvInt("ANSWER_RATE_LIMIT", 0), "Requests per minute per user; 0 disables")
	f.DurationVar(&cfg.SessionIdleTTL, "session-ttl", getEnvDuration("ANSWER_SESSION_TTL", 0), "Expire conversations idle this long (default 24h)")
	f.DurationVar(&cfg.KeepAlive, "keepalive", getEnvDuration("ANSWER_KEEPALIVE", 0), "Stream keepalive interval (default 15s)")
	f.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", getEnvDuration("ANSWER_SHUTDOWN_TIMEOUT", 0), "Graceful shutdown bound (default 10s)")

	return cmd
}
