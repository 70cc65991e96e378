// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package index

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
	"github.com/tmc/langchaingo/textsplitter"
)

// Chunker splits one file into semantic search chunks.
type Chunker interface {
	Chunk(ctx context.Context, repoRef, path, content string) ([]Chunk, error)
}

// =============================================================================
// Line windows
// =============================================================================

// LineChunker cuts fixed windows of lines.
type LineChunker struct {
	Lines int
}

func (c LineChunker) Chunk(_ context.Context, repoRef, path, content string) ([]Chunk, error) {
	return ChunkFile(repoRef, path, content, c.Lines), nil
}

// =============================================================================
// Syntax-aware chunks
// =============================================================================

var syntaxLanguages = map[string]func() *sitter.Language{
	".go":  golang.GetLanguage,
	".py":  python.GetLanguage,
	".js":  javascript.GetLanguage,
	".mjs": javascript.GetLanguage,
	".jsx": javascript.GetLanguage,
	".ts":  typescript.GetLanguage,
}

// SyntaxChunker keeps top-level declarations together.
//
// # Description
//
// The file is parsed with tree-sitter and its top-level nodes are packed
// greedily into chunks of at most MaxLines lines, so that a chunk never
// starts or ends in the middle of a function that fits. A declaration
// longer than MaxLines is cut into line windows. Files in unsupported
// languages, and files tree-sitter cannot parse, use line windows.
//
// # Thread Safety
//
// Safe for concurrent use; every call creates its own parser.
type SyntaxChunker struct {
	MaxLines int
}

func (c SyntaxChunker) maxLines() int {
	if c.MaxLines <= 0 {
		return DefaultChunkLines
	}
	return c.MaxLines
}

// Supports reports whether path has a tree-sitter grammar.
func (c SyntaxChunker) Supports(path string) bool {
	_, ok := syntaxLanguages[strings.ToLower(filepath.Ext(path))]
	return ok
}

func (c SyntaxChunker) Chunk(ctx context.Context, repoRef, path, content string) ([]Chunk, error) {
	lang, ok := syntaxLanguages[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return ChunkFile(repoRef, path, content, c.maxLines()), nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang())

	src := []byte(content)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || root.NamedChildCount() == 0 {
		return ChunkFile(repoRef, path, content, c.maxLines()), nil
	}

	spans := make([]lineSpan, 0, int(root.NamedChildCount()))
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		spans = append(spans, lineSpan{
			start: int(n.StartPoint().Row) + 1,
			end:   endLine(n),
		})
	}

	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	var chunks []Chunk
	for _, s := range packSpans(spans, c.maxLines()) {
		s.end = min(s.end, len(lines))
		if s.start > s.end {
			continue
		}
		chunks = append(chunks, windowChunks(repoRef, path, lines, s, c.maxLines())...)
	}
	return chunks, nil
}

// endLine is the 1-based last line of n. A node ending at column 0 ends
// on the previous line.
func endLine(n *sitter.Node) int {
	end := n.EndPoint()
	if end.Column == 0 && end.Row > n.StartPoint().Row {
		return int(end.Row)
	}
	return int(end.Row) + 1
}

type lineSpan struct {
	start, end int
}

// packSpans merges consecutive spans while the merged span stays within
// max lines. Spans are in source order and do not overlap.
func packSpans(spans []lineSpan, max int) []lineSpan {
	var out []lineSpan
	for _, s := range spans {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if s.end-last.start+1 <= max {
				last.end = s.end
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

// windowChunks emits span as one chunk, or as line windows when it is
// longer than max.
func windowChunks(repoRef, path string, lines []string, span lineSpan, max int) []Chunk {
	var out []Chunk
	for start := span.start; start <= span.end; start += max {
		end := min(start+max-1, span.end)
		snippet := strings.Join(lines[start-1:end], "\n")
		if strings.TrimSpace(snippet) == "" {
			continue
		}
		out = append(out, Chunk{
			RepoRef:   repoRef,
			Path:      path,
			StartLine: start,
			EndLine:   end,
			Snippet:   snippet,
		})
	}
	return out
}

// =============================================================================
// Prose chunks
// =============================================================================

const (
	proseChunkSize    = 1000
	proseChunkOverlap = proseChunkSize / 10
)

var (
	proseExtensions    = map[string]bool{".md": true, ".markdown": true, ".txt": true, ".rst": true, ".adoc": true}
	markdownSeparators = []string{"\n## ", "\n### ", "\n#### ", "\n\n", "\n", " ", ""}
	defaultSeparators  = []string{"\n\n", "\n", " ", ""}
)

// TextChunker splits documentation with a recursive character splitter.
// Chunks overlap by a tenth of their size. Each chunk's line range is
// recovered by locating it in the original text.
type TextChunker struct{}

// Supports reports whether path is prose.
func (TextChunker) Supports(path string) bool {
	return proseExtensions[strings.ToLower(filepath.Ext(path))]
}

func (TextChunker) Chunk(_ context.Context, repoRef, path, content string) ([]Chunk, error) {
	separators := defaultSeparators
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".md" || ext == ".markdown" {
		separators = markdownSeparators
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(proseChunkSize),
		textsplitter.WithChunkOverlap(proseChunkOverlap),
		textsplitter.WithSeparators(separators),
		textsplitter.WithKeepSeparator(true),
	)

	parts, err := splitter.SplitText(content)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", path, err)
	}

	var (
		chunks []Chunk
		from   int
	)
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		off := strings.Index(content[from:], part)
		if off < 0 {
			off = strings.Index(content, part)
			if off < 0 {
				continue
			}
		} else {
			off += from
		}
		start := strings.Count(content[:off], "\n") + 1
		end := start + strings.Count(part, "\n")
		chunks = append(chunks, Chunk{
			RepoRef:   repoRef,
			Path:      path,
			StartLine: start,
			EndLine:   end,
			Snippet:   part,
		})
		from = off + 1
	}
	return chunks, nil
}

// =============================================================================
// Dispatch
// =============================================================================

// DefaultChunker picks the chunker for a file by extension: syntax-aware
// for supported source languages, recursive splitting for prose, and
// line windows for everything else.
type DefaultChunker struct {
	Lines int
}

func (c DefaultChunker) Chunk(ctx context.Context, repoRef, path, content string) ([]Chunk, error) {
	syntax := SyntaxChunker{MaxLines: c.Lines}
	switch {
	case syntax.Supports(path):
		return syntax.Chunk(ctx, repoRef, path, content)
	case TextChunker{}.Supports(path):
		return TextChunker{}.Chunk(ctx, repoRef, path, content)
	default:
		return LineChunker{Lines: c.Lines}.Chunk(ctx, repoRef, path, content)
	}
}

var (
	_ Chunker = LineChunker{}
	_ Chunker = SyntaxChunker{}
	_ Chunker = TextChunker{}
	_ Chunker = DefaultChunker{}
)
