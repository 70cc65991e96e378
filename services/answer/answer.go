// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package answer assembles the answer service: index, model client,
// conversation driver, HTTP routes and background workers.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianAnswer/pkg/extensions"
	"github.com/AleutianAI/AleutianAnswer/services/answer/conversation"
	"github.com/AleutianAI/AleutianAnswer/services/answer/handlers"
	"github.com/AleutianAI/AleutianAnswer/services/answer/middleware"
	"github.com/AleutianAI/AleutianAnswer/services/answer/observability"
	"github.com/AleutianAI/AleutianAnswer/services/answer/prompts"
	"github.com/AleutianAI/AleutianAnswer/services/answer/routes"
	"github.com/AleutianAI/AleutianAnswer/services/answer/session"
	"github.com/AleutianAI/AleutianAnswer/services/answer/telemetry"
	"github.com/AleutianAI/AleutianAnswer/services/index"
	"github.com/AleutianAI/AleutianAnswer/services/llm"
)

// LLM backends accepted in Config.LLMBackend.
const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

const serviceName = "answer-service"

// Service is a runnable answer server.
type Service interface {
	// Run serves HTTP until ctx ends, then shuts down gracefully and
	// releases every resource.
	Run(ctx context.Context) error

	// Router returns the gin engine, for tests.
	Router() *gin.Engine

	// Close releases resources without serving. Run calls it itself.
	Close() error
}

// Config holds the service settings. Zero values select the defaults
// listed per field.
type Config struct {
	// Port to listen on. Default: 12230
	Port int
	// GinMode is passed to gin.SetMode when set.
	GinMode string

	// LLMBackend is "openai" or "ollama". Default: openai
	LLMBackend    string
	OpenAIBaseURL string
	OpenAIModel   string
	OllamaBaseURL string
	OllamaModel   string

	// CheckModel answers per-file questions during check actions.
	// Default: DefaultOpenAICheckModel on openai, the client default
	// otherwise.
	CheckModel string
	// CheckFailurePolicy is "drop" or "report". Default: drop
	CheckFailurePolicy string

	// WeaviateURL enables semantic code search. Empty disables it.
	WeaviateURL   string
	WeaviateClass string
	// EmbeddingBaseURL is an OpenAI-compatible embeddings endpoint.
	// Default: OpenAIBaseURL
	EmbeddingBaseURL string
	EmbeddingModel   string

	// IndexPath is the badger directory. Empty keeps the index in memory.
	IndexPath string
	// WatchDir is indexed at startup and kept current when set.
	WatchDir string
	// WatchRepo is the repo_ref WatchDir is indexed under.
	WatchRepo string

	// PromptsPath overrides the built-in prompt set.
	PromptsPath string

	TraceExporter  string
	MetricExporter string
	OTLPEndpoint   string
	Version        string

	// SanitizeErrors replaces collaborator error details in stream error
	// events with a generic message. Protocol errors are always shown.
	SanitizeErrors bool

	// RateLimitPerMinute limits /v1 requests per user. Zero disables it.
	RateLimitPerMinute int
	// SessionIdleTTL expires conversations not used for this long.
	// Default: 24h
	SessionIdleTTL time.Duration
	// KeepAlive is the interval between stream keepalives. Default: 15s
	KeepAlive time.Duration
	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration
}

// DefaultOpenAICheckModel answers per-file questions on the openai backend
// when no check model is configured. Other backends use their client's
// default model.
const DefaultOpenAICheckModel = "gpt-3.5-turbo"

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12230
	}
	cfg.LLMBackend = strings.ToLower(strings.TrimSpace(cfg.LLMBackend))
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = BackendOpenAI
	}
	if cfg.CheckModel == "" && cfg.LLMBackend == BackendOpenAI {
		cfg.CheckModel = DefaultOpenAICheckModel
	}
	if cfg.WeaviateClass == "" {
		cfg.WeaviateClass = "CodeChunk"
	}
	if cfg.EmbeddingBaseURL == "" {
		cfg.EmbeddingBaseURL = cfg.OpenAIBaseURL
	}
	if cfg.SessionIdleTTL <= 0 {
		cfg.SessionIdleTTL = 24 * time.Hour
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = handlers.DefaultKeepAlive
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.WatchDir != "" && cfg.WatchRepo == "" {
		cfg.WatchRepo = "local/" + strings.TrimRight(cfg.WatchDir, "/")
	}
	return cfg
}

type service struct {
	config Config
	opts   extensions.ServiceOptions
	logger *slog.Logger

	registry  *prometheus.Registry
	telemetry func(context.Context) error
	files     *index.BadgerFileIndex
	searcher  *index.WeaviateSearcher
	indexer   *index.Indexer
	watcher   *index.Watcher
	sessions  *session.Store
	sweeper   *session.Sweeper
	router    *gin.Engine
	bg        sync.WaitGroup
}

// New builds the service.
//
// # Description
//
// Opens the file index, connects the model backend and, when configured,
// Weaviate, then wires the conversation driver into the HTTP routes.
// Weaviate failures are logged and leave semantic search disabled; every
// other failure is returned after releasing what was already opened.
//
// # Inputs
//
//   - cfg: service settings
//   - opts: extension points; nil uses extensions.DefaultOptions
//   - logger: nil uses slog.Default
func New(cfg Config, opts *extensions.ServiceOptions, logger *slog.Logger) (Service, error) {
	s := &service{
		config:   applyConfigDefaults(cfg),
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if opts != nil {
		s.opts = *opts
	} else {
		s.opts = extensions.DefaultOptions()
	}

	if err := s.init(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *service) init() error {
	cfg := s.config

	policy, err := conversation.ParseCheckFailurePolicy(cfg.CheckFailurePolicy)
	if err != nil {
		return err
	}

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.telemetry, err = telemetry.Init(context.Background(), telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: cfg.Version,
		TraceExporter:  cfg.TraceExporter,
		MetricExporter: cfg.MetricExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Registerer:     s.registry,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	promptSet := prompts.Default()
	if cfg.PromptsPath != "" {
		if promptSet, err = prompts.LoadFile(cfg.PromptsPath); err != nil {
			return fmt.Errorf("failed to load prompts: %w", err)
		}
	}

	if err := s.initIndex(); err != nil {
		return err
	}

	chat, embedder, err := s.initLLMClient()
	if err != nil {
		return fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	if err := s.initWeaviate(embedder); err != nil {
		s.logger.Warn("Weaviate initialization failed, semantic search disabled", "error", err)
		s.searcher = nil
	}

	s.sessions = session.NewStore(promptSet)
	s.sweeper = session.NewSweeper(s.sessions, session.SweeperConfig{
		IdleTTL: cfg.SessionIdleTTL,
		Logger:  s.logger,
	})

	metrics := observability.NewMetrics(s.registry)
	observability.RegisterSessionGauge(s.registry, s.sessions.Len)

	env := &conversation.Env{
		Files:         s.files,
		Paths:         s.files,
		LLM:           chat,
		Prompts:       promptSet,
		CheckModel:    cfg.CheckModel,
		CheckFailures: policy,
		Observer:      metrics,
		Logger:        s.logger,
	}
	if s.searcher != nil {
		env.Semantic = s.searcher
	}
	driver := &conversation.Driver{Env: env, Sessions: s.sessions, Observer: metrics}

	if cfg.WatchDir != "" {
		indexPolicy, err := index.DefaultPolicy()
		if err != nil {
			return fmt.Errorf("failed to load index policy: %w", err)
		}
		s.indexer = &index.Indexer{Files: s.files, Logger: s.logger, Policy: indexPolicy}
		if s.searcher != nil {
			s.indexer.Chunks = s.searcher
		}
		if s.watcher, err = index.NewWatcher(cfg.WatchDir, cfg.WatchRepo, s.indexer, nil); err != nil {
			return fmt.Errorf("failed to watch %s: %w", cfg.WatchDir, err)
		}
	}

	var limiter *middleware.UserRateLimiter
	if cfg.RateLimitPerMinute > 0 {
		limiter = middleware.NewUserRateLimiter(middleware.RateLimitConfig{
			RequestsPerMinute: cfg.RateLimitPerMinute,
			OnLimited:         metrics.RecordRateLimited,
		})
	}

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(serviceName))
	answerHandler := handlers.NewAnswerHandler(driver, metrics, s.logger).
		WithKeepAlive(cfg.KeepAlive).
		WithSanitizedErrors(cfg.SanitizeErrors)
	routes.SetupRoutes(s.router, routes.Deps{
		Answer:      answerHandler,
		Gatherer:    s.registry,
		RateLimiter: limiter,
	}, s.opts)

	return nil
}

func (s *service) initIndex() error {
	ic := index.InMemoryConfig()
	if s.config.IndexPath != "" {
		ic = index.DefaultConfig(s.config.IndexPath)
	}
	ic.Logger = s.logger

	files, err := index.Open(ic)
	if err != nil {
		return fmt.Errorf("failed to open file index: %w", err)
	}
	s.files = files
	s.logger.Info("File index opened", "path", s.config.IndexPath, "in_memory", ic.InMemory)
	return nil
}

// initLLMClient returns the chat client and, when one is available, an
// embedder for Weaviate.
func (s *service) initLLMClient() (llm.ChatClient, index.Embedder, error) {
	cfg := s.config

	switch cfg.LLMBackend {
	case BackendOpenAI:
		cred, err := llm.LoadCredential("OPENAI_API_KEY", "openai_api_key")
		if err != nil {
			return nil, nil, err
		}
		client := llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL:        cfg.OpenAIBaseURL,
			Model:          cfg.OpenAIModel,
			EmbeddingModel: cfg.EmbeddingModel,
			Credential:     cred,
		})
		s.logger.Info("Using OpenAI LLM backend")
		return client, client, nil

	case BackendOllama:
		cred, err := llm.LoadCredential("OLLAMA_API_KEY", "")
		if err != nil {
			return nil, nil, err
		}
		client, err := llm.NewOllamaClient(llm.OllamaConfig{
			BaseURL:    cfg.OllamaBaseURL,
			Model:      cfg.OllamaModel,
			Credential: cred,
		})
		if err != nil {
			return nil, nil, err
		}
		s.logger.Info("Using Ollama LLM backend")

		if cfg.WeaviateURL == "" || cfg.EmbeddingBaseURL == "" {
			return client, nil, nil
		}
		embedCred, err := llm.LoadCredential("OPENAI_API_KEY", "openai_api_key")
		if err != nil {
			return nil, nil, err
		}
		embedder := llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL:        cfg.EmbeddingBaseURL,
			EmbeddingModel: cfg.EmbeddingModel,
			Credential:     embedCred,
		})
		return client, embedder, nil

	default:
		return nil, nil, fmt.Errorf("unknown LLM backend %q (want %s or %s)", cfg.LLMBackend, BackendOpenAI, BackendOllama)
	}
}

func (s *service) initWeaviate(embedder index.Embedder) error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")
	if weaviateURL == "" {
		s.logger.Info("Weaviate URL not configured, semantic search disabled")
		return nil
	}
	if embedder == nil {
		return errors.New("no embedding endpoint configured")
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: parsedURL.Host, Scheme: parsedURL.Scheme})
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	searcher := index.NewWeaviateSearcher(client, embedder, s.config.WeaviateClass, s.logger)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := searcher.EnsureSchema(ctx); err != nil {
		return err
	}
	s.searcher = searcher
	s.logger.Info("Weaviate client initialized", "url", weaviateURL, "class", s.config.WeaviateClass)
	return nil
}

func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.bg.Wait()
		if err := s.Close(); err != nil {
			s.logger.Warn("Cleanup failed", "error", err)
		}
	}()

	if err := s.sweeper.Start(ctx); err != nil {
		return err
	}
	if s.watcher != nil {
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			s.watchTree(ctx)
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting answer server", "port", s.config.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down answer server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// watchTree indexes WatchDir once, then follows changes until ctx ends.
func (s *service) watchTree(ctx context.Context) {
	stats, err := s.indexer.LoadDirectory(ctx, s.config.WatchDir, s.config.WatchRepo)
	if err != nil {
		s.logger.Error("Initial indexing failed", "dir", s.config.WatchDir, "error", err)
	} else {
		s.logger.Info("Initial indexing complete",
			"repo_ref", s.config.WatchRepo,
			"indexed", stats.Indexed,
			"skipped", stats.Skipped,
			"chunks", stats.Chunks)
	}
	if err := s.watcher.Start(ctx); err != nil {
		s.logger.Error("File watcher failed to start", "error", err)
	}
}

func (s *service) Close() error {
	var errs []error
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	if s.files != nil {
		if err := s.files.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close file index: %w", err))
		}
		s.files = nil
	}
	if s.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.telemetry(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
		s.telemetry = nil
	}
	return errors.Join(errs...)
}

var _ Service = (*service)(nil)
