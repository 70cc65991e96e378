// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	// BaseURL points at an OpenAI-compatible API. Empty uses api.openai.com.
	BaseURL string
	// Model is the default chat model. Default: gpt-4o-mini.
	Model string
	// EmbeddingModel is used by Embed. Default: text-embedding-3-small.
	EmbeddingModel string
	// Credential authenticates requests. Nil sends no Authorization header.
	Credential *Credential
	// HTTPClient overrides the transport. Used by tests.
	HTTPClient *http.Client
}

// OpenAIClient streams chat completions and computes embeddings through
// go-openai.
type OpenAIClient struct {
	client         *openai.Client
	model          string
	embeddingModel openai.EmbeddingModel
}

// NewOpenAIClient builds a client. The credential is injected per request
// by the HTTP transport, so it never sits in go-openai's config.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = string(openai.SmallEmbedding3)
	}

	conf := openai.DefaultConfig("")
	if cfg.BaseURL != "" {
		conf.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 5 * time.Minute}
	}
	conf.HTTPClient = newAuthorizedHTTPClient(cfg.Credential, base)

	slog.Info("Initializing OpenAI client", "model", cfg.Model, "base_url", conf.BaseURL)
	return &OpenAIClient{
		client:         openai.NewClientWithConfig(conf),
		model:          cfg.Model,
		embeddingModel: openai.EmbeddingModel(cfg.EmbeddingModel),
	}
}

// Chat implements ChatClient.
func (o *OpenAIClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (TokenStream, error) {
	model := o.model
	if params.Model != "" {
		model = params.Model
	}

	ctx, span := tracer.Start(ctx, "OpenAIClient.Chat")
	span.SetAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
		Stream:   true,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if params.Temperature != nil {
		// Temperature is omitempty in the request type; a literal zero
		// would be dropped and the server default used instead.
		req.Temperature = *params.Temperature
		if req.Temperature == 0 {
			req.Temperature = math.SmallestNonzeroFloat32
		}
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	started := time.Now()
	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	instruments.chatStarted(ctx, "openai", model, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		slog.Error("OpenAI API call failed", "error", err)
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	return &openAIStream{stream: stream, span: span, model: model, started: started}, nil
}

// Embed returns one embedding per text, in order.
func (o *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := tracer.Start(ctx, "OpenAIClient.Embed")
	defer span.End()
	span.SetAttributes(attribute.Int("llm.num_texts", len(texts)))

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: o.embeddingModel,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("OpenAI embeddings call failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("OpenAI returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("OpenAI returned embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// openAIStream adapts go-openai's stream to TokenStream. The span covers
// the whole completion and ends on Close.
type openAIStream struct {
	stream  *openai.ChatCompletionStream
	span    trace.Span
	model   string
	started time.Time
	tokens  int
}

func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			s.span.RecordError(err)
			s.span.SetStatus(codes.Error, err.Error())
			return "", fmt.Errorf("OpenAI stream failed: %w", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		s.tokens++
		return resp.Choices[0].Delta.Content, nil
	}
}

func (s *openAIStream) Close() error {
	s.span.SetAttributes(attribute.Int("llm.stream_chunks", s.tokens))
	s.span.End()
	instruments.streamEnded("openai", s.model, s.tokens, s.started)
	return s.stream.Close()
}

var (
	_ ChatClient  = (*OpenAIClient)(nil)
	_ TokenStream = (*openAIStream)(nil)
)
