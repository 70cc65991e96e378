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
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"golang.org/x/mod/modfile"

	"github.com/AleutianAI/AleutianAnswer/pkg/ux"
	"github.com/AleutianAI/AleutianAnswer/services/answer/datatypes"
	"github.com/AleutianAI/AleutianAnswer/services/index"
	"github.com/AleutianAI/AleutianAnswer/services/llm"
)

type indexOptions struct {
	repo           string
	indexPath      string
	chunkLines     int
	concurrency    int
	watch          bool
	noScan         bool
	weaviateURL    string
	weaviateClass  string
	embeddingURL   string
	embeddingModel string
}

func newIndexCmd(g *globalFlags) *cobra.Command {
	o := &indexOptions{}

	cmd := &cobra.Command{
		Use:   "index [dir]",
		Short: "Index a working tree for path, file and semantic search",
		Long: `Load every text file under dir (default ".") into the badger file index,
and, when --weaviate-url is set, embed syntax-aware chunks into Weaviate.

The repo_ref defaults to the module path in dir/go.mod, or
local/<absolute dir> when there is none. With --watch the index follows
changes until interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			logger, err := g.logger("answer-index")
			if err != nil {
				return err
			}
			defer logger.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runIndex(ctx, o, dir, logger.Slog())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.repo, "repo", "r", "", "repo_ref to index under (default: inferred)")
	f.StringVar(&o.indexPath, "index-path", getEnvString("ANSWER_INDEX_PATH", defaultIndexPath()), "Badger index directory")
	f.IntVar(&o.chunkLines, "chunk-lines", index.DefaultChunkLines, "Maximum lines per semantic chunk")
	f.IntVar(&o.concurrency, "concurrency", 0, "Files indexed in parallel (default: number of CPUs)")
	f.BoolVar(&o.noScan, "no-secret-scan", false, "Index files even when they appear to contain credentials")
	f.BoolVarP(&o.watch, "watch", "w", false, "Keep the index current until interrupted")
	f.StringVar(&o.weaviateURL, "weaviate-url", os.Getenv("WEAVIATE_SERVICE_URL"), "Weaviate URL; empty skips semantic chunks")
	f.StringVar(&o.weaviateClass, "weaviate-class", getEnvString("WEAVIATE_CLASS", "CodeChunk"), "Weaviate class")
	f.StringVar(&o.embeddingURL, "embedding-url", getEnvString("EMBEDDING_URL_BASE", os.Getenv("OPENAI_URL_BASE")), "OpenAI-compatible embeddings base URL")
	f.StringVar(&o.embeddingModel, "embedding-model", os.Getenv("EMBEDDING_MODEL"), "Embedding model")
	return cmd
}

func defaultIndexPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aleutian/index"
	}
	return filepath.Join(home, ".aleutian", "index")
}

func runIndex(ctx context.Context, o *indexOptions, dir string, logger *slog.Logger) error {
	out := ux.Std

	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	repo := o.repo
	if repo == "" {
		repo = inferRepoRef(root)
	}

	files, err := index.Open(index.DefaultConfig(o.indexPath))
	if err != nil {
		return err
	}
	defer files.Close()

	ix := &index.Indexer{
		Files:       files,
		ChunkLines:  o.chunkLines,
		Concurrency: o.concurrency,
		Chunker:     index.DefaultChunker{Lines: o.chunkLines},
		Logger:      logger,
	}
	if !o.noScan {
		if ix.Policy, err = index.DefaultPolicy(); err != nil {
			return err
		}
	}
	if o.weaviateURL != "" {
		searcher, err := openSearcher(ctx, o, logger)
		if err != nil {
			return fmt.Errorf("connect to Weaviate: %w", err)
		}
		ix.Chunks = searcher
	}

	out.Title("Indexing " + datatypes.RepoDisplayName(repo))
	var stats index.LoadStats
	err = out.WithSpinner("Loading "+root, func() error {
		stats, err = ix.LoadDirectory(ctx, root, repo)
		return err
	})
	if err != nil {
		return err
	}
	out.IndexSummary(stats.Indexed, stats.Skipped, stats.Chunks)
	out.Muted("repo_ref " + repo)

	if !o.watch {
		return nil
	}

	w, err := index.NewWatcher(root, repo, ix, nil)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()
	out.Info("Watching for changes, Ctrl+C to stop")
	logger.Info("Watching working tree", "root", root, "repo_ref", repo)
	<-ctx.Done()
	return nil
}

func openSearcher(ctx context.Context, o *indexOptions, logger *slog.Logger) (*index.WeaviateSearcher, error) {
	raw := strings.Trim(o.weaviateURL, "\"' ")
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %s", raw)
	}
	if o.embeddingURL == "" {
		return nil, errors.New("--embedding-url is required with --weaviate-url")
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: u.Host, Scheme: u.Scheme})
	if err != nil {
		return nil, err
	}
	cred, err := llm.LoadCredential("OPENAI_API_KEY", "openai_api_key")
	if err != nil {
		return nil, err
	}
	embedder := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL:        o.embeddingURL,
		EmbeddingModel: o.embeddingModel,
		Credential:     cred,
	})
	searcher := index.NewWeaviateSearcher(client, embedder, o.weaviateClass, logger)
	if err := searcher.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return searcher, nil
}

// inferRepoRef uses the module path of root/go.mod, falling back to
// local/<root>.
func inferRepoRef(root string) string {
	data, err := os.ReadFile(filepath.Join(root, "go.mod"))
	if err == nil {
		if path := modfile.ModulePath(data); path != "" {
			return path
		}
	}
	return "local/" + filepath.ToSlash(root)
}
