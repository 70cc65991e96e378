// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package index

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultChunkClass is the Weaviate class holding code chunks.
const DefaultChunkClass = "CodeChunk"

// chunkNamespace scopes deterministic chunk ids.
var chunkNamespace = uuid.MustParse("6f1c8a52-3d2e-4b8f-9a61-0c5e7d4b2a90")

// Embedder turns text into vectors. *llm.OpenAIClient satisfies it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Chunk is a contiguous range of lines from one file.
type Chunk struct {
	RepoRef   string
	Path      string
	StartLine int
	EndLine   int
	Snippet   string
}

// ID returns a stable object id derived from the chunk's location, so
// re-indexing a file overwrites its previous chunks.
func (c Chunk) ID() strfmt.UUID {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d", c.RepoRef, c.Path, c.StartLine)))
	return strfmt.UUID(uuid.NewSHA1(chunkNamespace, sum[:]).String())
}

// WeaviateSearcher implements SemanticSearcher over a Weaviate class of
// code chunks whose vectors are computed client-side.
type WeaviateSearcher struct {
	client   *weaviate.Client
	embedder Embedder
	class    string
	logger   *slog.Logger
}

// NewWeaviateSearcher creates a searcher. An empty class uses
// DefaultChunkClass.
func NewWeaviateSearcher(client *weaviate.Client, embedder Embedder, class string, logger *slog.Logger) *WeaviateSearcher {
	if class == "" {
		class = DefaultChunkClass
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WeaviateSearcher{client: client, embedder: embedder, class: class, logger: logger}
}

// chunkClass returns the schema for code chunks.
func chunkClass(name string) *models.Class {
	return &models.Class{
		Class:       name,
		Description: "A range of lines from a source file",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{Name: PayloadRepo, DataType: []string{"text"}, Tokenization: "field", IndexFilterable: boolPtr(true)},
			{Name: PayloadPath, DataType: []string{"text"}, Tokenization: "field", IndexFilterable: boolPtr(true)},
			{Name: PayloadSnippet, DataType: []string{"text"}},
			{Name: PayloadStartLine, DataType: []string{"int"}},
			{Name: PayloadEndLine, DataType: []string{"int"}},
		},
	}
}

func boolPtr(b bool) *bool { return &b }

// EnsureSchema creates the chunk class if it does not exist.
func (s *WeaviateSearcher) EnsureSchema(ctx context.Context) error {
	existing, err := s.client.Schema().ClassGetter().WithClassName(s.class).Do(ctx)
	if err == nil && existing != nil {
		return nil
	}
	if err := s.client.Schema().ClassCreator().WithClass(chunkClass(s.class)).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", s.class, err)
	}
	s.logger.Info("created weaviate class", "class", s.class)
	return nil
}

type chunkQueryResponse struct {
	Get map[string][]struct {
		RelativePath string `json:"relative_path"`
		Snippet      string `json:"snippet"`
		StartLine    int    `json:"start_line"`
		EndLine      int    `json:"end_line"`
		RepoRef      string `json:"repo_ref"`
	} `json:"Get"`
}

// Search implements SemanticSearcher.
func (s *WeaviateSearcher) Search(ctx context.Context, query string, limit int) ([]Payload, error) {
	ctx, span := tracer.Start(ctx, "WeaviateSearcher.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("index.limit", limit))

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors, want 1", len(vectors))
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vectors[0])
	fields := []graphql.Field{
		{Name: PayloadPath},
		{Name: PayloadSnippet},
		{Name: PayloadStartLine},
		{Name: PayloadEndLine},
		{Name: PayloadRepo},
	}
	resp, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "nearVector query failed")
		return nil, fmt.Errorf("weaviate query: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("weaviate query: %s", resp.Errors[0].Message)
	}

	parsed, err := parseGraphQL[chunkQueryResponse](resp)
	if err != nil {
		return nil, err
	}

	hits := parsed.Get[s.class]
	out := make([]Payload, 0, len(hits))
	for _, h := range hits {
		out = append(out, Payload{
			PayloadPath:      h.RelativePath,
			PayloadSnippet:   h.Snippet,
			PayloadStartLine: strconv.Itoa(h.StartLine),
			PayloadEndLine:   strconv.Itoa(h.EndLine),
			PayloadRepo:      h.RepoRef,
		})
	}
	span.SetAttributes(attribute.Int("index.results", len(out)))
	return out, nil
}

// UpsertChunks embeds and stores chunks in one batch.
func (s *WeaviateSearcher) UpsertChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "WeaviateSearcher.UpsertChunks")
	defer span.End()

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Snippet
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	objects := make([]*models.Object, len(chunks))
	for i, c := range chunks {
		objects[i] = &models.Object{
			Class:  s.class,
			ID:     c.ID(),
			Vector: vectors[i],
			Properties: map[string]interface{}{
				PayloadRepo:      c.RepoRef,
				PayloadPath:      c.Path,
				PayloadSnippet:   c.Snippet,
				PayloadStartLine: c.StartLine,
				PayloadEndLine:   c.EndLine,
			},
		}
	}

	results, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("weaviate batch: %w", err)
	}
	failed := 0
	for _, r := range results {
		if r.Result != nil && r.Result.Status != nil && *r.Result.Status != "SUCCESS" {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("weaviate batch: %d of %d objects failed", failed, len(objects))
	}
	return nil
}

// DeleteChunks removes every chunk of one file.
func (s *WeaviateSearcher) DeleteChunks(ctx context.Context, repoRef, path string) error {
	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().WithPath([]string{PayloadRepo}).WithOperator(filters.Equal).WithValueString(repoRef),
			filters.Where().WithPath([]string{PayloadPath}).WithOperator(filters.Equal).WithValueString(path),
		})

	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.class).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("delete chunks for %s: %w", path, err)
	}
	return nil
}

// parseGraphQL converts Weaviate's dynamic response into T.
func parseGraphQL[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, errors.New("nil GraphQL response")
	}
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal GraphQL data: %w", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal GraphQL data: %w", err)
	}
	return &out, nil
}

var (
	_ SemanticSearcher = (*WeaviateSearcher)(nil)
	_ ChunkStore       = (*WeaviateSearcher)(nil)
)
