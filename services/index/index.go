// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package index provides the repository indexes the answer engine queries.
//
// # Components
//
//   - BadgerFileIndex: file contents keyed by repository and path, stored in
//     BadgerDB. Serves file reads and lexical path search.
//   - WeaviateSearcher: code chunks with embeddings stored in Weaviate.
//     Serves semantic search.
//   - LoadDirectory / Watcher: fill both indexes from a working tree and
//     keep them current.
//
// The engine depends only on the FileReader, PathSearcher and
// SemanticSearcher interfaces.
package index

import (
	"context"
	"errors"
)

var (
	// ErrFileNotFound is returned when a path is not in the index.
	ErrFileNotFound = errors.New("file not found")

	// ErrSemanticUnavailable is returned when semantic search is not
	// configured for this deployment.
	ErrSemanticUnavailable = errors.New("semantic search is not enabled")
)

// File is one indexed file.
type File struct {
	RepoRef string
	Path    string
	Content string
}

// Payload is one semantic search hit. Keys include relative_path,
// snippet, start_line, end_line and repo_ref; line numbers are decimal
// strings.
type Payload map[string]string

// Payload keys.
const (
	PayloadPath      = "relative_path"
	PayloadSnippet   = "snippet"
	PayloadStartLine = "start_line"
	PayloadEndLine   = "end_line"
	PayloadRepo      = "repo_ref"
)

// FileReader returns file contents.
type FileReader interface {
	ReadFile(ctx context.Context, repoRef, path string) (File, error)
}

// PathSearcher finds files whose path contains the search text.
type PathSearcher interface {
	SearchPaths(ctx context.Context, repoRef, text string) ([]string, error)
}

// SemanticSearcher finds code snippets related to a natural-language query.
type SemanticSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]Payload, error)
}

// DisabledSearcher is the SemanticSearcher used when no vector store is
// configured.
type DisabledSearcher struct{}

// Search always fails with ErrSemanticUnavailable.
func (DisabledSearcher) Search(context.Context, string, int) ([]Payload, error) {
	return nil, ErrSemanticUnavailable
}

var _ SemanticSearcher = DisabledSearcher{}
