// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package answer

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAnswer/pkg/extensions"
)

func testConfig() Config {
	return Config{
		GinMode:        gin.TestMode,
		LLMBackend:     BackendOllama,
		OllamaBaseURL:  "http://127.0.0.1:1",
		MetricExporter: "none",
	}
}

func TestApplyConfigDefaults(t *testing.T) {
	cfg := applyConfigDefaults(Config{LLMBackend: " OpenAI ", OpenAIBaseURL: "http://llm", WatchDir: "/src/demo/"})

	assert.Equal(t, 12230, cfg.Port)
	assert.Equal(t, BackendOpenAI, cfg.LLMBackend)
	assert.Equal(t, "http://llm", cfg.EmbeddingBaseURL)
	assert.Equal(t, "CodeChunk", cfg.WeaviateClass)
	assert.Equal(t, 24*time.Hour, cfg.SessionIdleTTL)
	assert.Equal(t, "local//src/demo", cfg.WatchRepo)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, DefaultOpenAICheckModel, cfg.CheckModel)
}

func TestApplyConfigDefaults_CheckModelPerBackend(t *testing.T) {
	cfg := applyConfigDefaults(Config{LLMBackend: BackendOllama, OllamaBaseURL: "http://ollama:11434"})
	assert.Empty(t, cfg.CheckModel, "ollama checks use the client's model")

	cfg = applyConfigDefaults(Config{LLMBackend: BackendOllama, CheckModel: "llama3.1"})
	assert.Equal(t, "llama3.1", cfg.CheckModel)

	cfg = applyConfigDefaults(Config{CheckModel: "gpt-4o"})
	assert.Equal(t, "gpt-4o", cfg.CheckModel)
}

func TestNew_ServesHealthAndMetrics(t *testing.T) {
	svc, err := New(testConfig(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "aleutian_answer_sessions")
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestNew_AnswerRequiresAuth(t *testing.T) {
	provider, err := extensions.NewStaticTokenAuthProvider(map[string]string{"secret": "alice"})
	require.NoError(t, err)
	opts := extensions.DefaultOptions().WithAuth(provider)

	svc, err := New(testConfig(), &opts, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/answer?q=hi&repo_ref=r", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.LLMBackend = "llamafile"
	_, err := New(cfg, nil, nil)
	assert.ErrorContains(t, err, "unknown LLM backend")

	cfg = testConfig()
	cfg.CheckFailurePolicy = "explode"
	_, err = New(cfg, nil, nil)
	assert.ErrorContains(t, err, "check failure policy")

	cfg = testConfig()
	cfg.OllamaBaseURL = ""
	_, err = New(cfg, nil, nil)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.PromptsPath = t.TempDir() + "/missing.yaml"
	_, err = New(cfg, nil, nil)
	assert.ErrorContains(t, err, "prompts")
}

func TestNew_WeaviateFailureDisablesSemanticSearch(t *testing.T) {
	cfg := testConfig()
	cfg.WeaviateURL = "not a url"

	svc, err := New(cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	assert.Nil(t, svc.(*service).searcher)
}

func TestRun_StopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg := testConfig()
	cfg.Port = port
	cfg.WatchDir = t.TempDir()

	svc, err := New(cfg, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
