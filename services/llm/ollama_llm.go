// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aleutian.answer.llm")

// maxNDJSONLine bounds a single streamed chunk.
const maxNDJSONLine = 1024 * 1024

// OllamaConfig configures an OllamaClient.
type OllamaConfig struct {
	// BaseURL of the Ollama server. Required.
	BaseURL string
	// Model is the default model. Default: gpt-oss.
	Model string
	// Credential authenticates requests to a proxied server. Optional.
	Credential *Credential
	// HTTPClient overrides the transport. Used by tests.
	HTTPClient *http.Client
}

// OllamaClient streams chat completions from Ollama's /api/chat.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaStreamChunk struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

// NewOllamaClient builds a client.
func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("OLLAMA_BASE_URL environment variable not set")
	}
	if cfg.Model == "" {
		slog.Warn("OLLAMA_MODEL not set, default gpt-oss")
		cfg.Model = "gpt-oss"
	}
	base := cfg.HTTPClient
	if base == nil {
		// No overall timeout: streams are bounded by the request context.
		base = &http.Client{}
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	slog.Info("Initializing Ollama client", "base_url", baseURL, "default_model", cfg.Model)
	return &OllamaClient{
		httpClient: newAuthorizedHTTPClient(cfg.Credential, base),
		baseURL:    baseURL,
		model:      cfg.Model,
	}, nil
}

// Chat implements ChatClient.
func (o *OllamaClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (TokenStream, error) {
	model := o.model
	if params.Model != "" {
		model = params.Model
	}

	ctx, span := tracer.Start(ctx, "OllamaClient.Chat")
	span.SetAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.num_messages", len(messages)),
	)
	fail := func(err error) (TokenStream, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}

	payload := ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		Options:  ollamaOptions(params),
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fail(fmt.Errorf("failed to marshal chat request to Ollama: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(reqBody))
	if err != nil {
		return fail(fmt.Errorf("failed to create chat request to Ollama: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := o.httpClient.Do(req)
	if err == nil && resp.StatusCode != http.StatusOK {
		instruments.chatStarted(ctx, "ollama", model, errors.New(resp.Status))
	} else {
		instruments.chatStarted(ctx, "ollama", model, err)
	}
	if err != nil {
		return fail(fmt.Errorf("failed to send the request to %s: %w", req.URL, err))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound && strings.Contains(string(body), "not found") {
			slog.Warn("Ollama model not found", "model", model)
			return fail(fmt.Errorf("model '%s' not found. Please run: 'ollama pull %s'", model, model))
		}
		slog.Error("Ollama chat returned an error", "status_code", resp.StatusCode, "response", string(body))
		return fail(fmt.Errorf("ollama chat failed with status %d: %s", resp.StatusCode, string(body)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxNDJSONLine)
	return &ollamaStream{body: resp.Body, scanner: scanner, span: span, model: model, started: started}, nil
}

// ollamaOptions maps GenerationParams onto Ollama's options object,
// with defaults for unset fields.
func ollamaOptions(params GenerationParams) map[string]any {
	options := map[string]any{
		"temperature": float32(0.2),
		"top_k":       20,
		"top_p":       float32(0.9),
		"num_predict": 8192,
	}
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopK != nil {
		options["top_k"] = *params.TopK
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}
	return options
}

// ollamaStream reads NDJSON chunks until one reports done.
type ollamaStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	span    trace.Span
	model   string
	started time.Time
	chunks  int
	done    bool
}

func (s *ollamaStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaStreamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", s.fail(fmt.Errorf("failed to parse Ollama stream chunk: %w", err))
		}
		if chunk.Error != "" {
			return "", s.fail(fmt.Errorf("ollama stream error: %s", chunk.Error))
		}
		if chunk.Done {
			s.done = true
			if chunk.Message.Content != "" {
				s.chunks++
				return chunk.Message.Content, nil
			}
			return "", io.EOF
		}
		if chunk.Message.Content == "" {
			continue
		}
		s.chunks++
		return chunk.Message.Content, nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", s.fail(fmt.Errorf("reading Ollama stream: %w", err))
	}
	return "", s.fail(errors.New("ollama stream ended before completion"))
}

func (s *ollamaStream) fail(err error) error {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
	return err
}

func (s *ollamaStream) Close() error {
	s.span.SetAttributes(attribute.Int64("llm.stream_ms", time.Since(s.started).Milliseconds()))
	s.span.End()
	instruments.streamEnded("ollama", s.model, s.chunks, s.started)
	return s.body.Close()
}

var (
	_ ChatClient  = (*OllamaClient)(nil)
	_ TokenStream = (*ollamaStream)(nil)
)
