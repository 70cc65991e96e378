// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAnswer/pkg/extensions"
	"github.com/AleutianAI/AleutianAnswer/services/answer/conversation"
	"github.com/AleutianAI/AleutianAnswer/services/answer/datatypes"
	"github.com/AleutianAI/AleutianAnswer/services/answer/handlers"
	"github.com/AleutianAI/AleutianAnswer/services/answer/middleware"
	"github.com/AleutianAI/AleutianAnswer/services/answer/observability"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type doneRunner struct{ users []string }

func (r *doneRunner) Run(_ context.Context, key datatypes.SessionKey, _, _ string, sink conversation.UpdateSink) error {
	r.users = append(r.users, key.UserID)
	return sink.Done()
}

func newTestRouter(t *testing.T, opts extensions.ServiceOptions, limiter *middleware.UserRateLimiter) (*gin.Engine, *doneRunner) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	runner := &doneRunner{}

	router := gin.New()
	SetupRoutes(router, Deps{
		Answer:      handlers.NewAnswerHandler(runner, metrics, nil),
		Gatherer:    reg,
		RateLimiter: limiter,
	}, opts)
	return router, runner
}

func TestSetupRoutes_Registered(t *testing.T) {
	router, _ := newTestRouter(t, extensions.DefaultOptions(), nil)

	want := map[string]bool{
		"GET /health":       false,
		"GET /metrics":      false,
		"GET /v1/answer":    false,
		"GET /v1/answer/ws": false,
	}
	for _, r := range router.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		assert.True(t, found, "route %s not registered", route)
	}
}

func TestSetupRoutes_DefaultAuthIsLocalUser(t *testing.T) {
	router, runner := newTestRouter(t, extensions.DefaultOptions(), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/answer?q=x&repo_ref=r", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"local-user"}, runner.users)
	assert.Contains(t, w.Body.String(), "data: [DONE]")
}

func TestSetupRoutes_StaticTokenAuth(t *testing.T) {
	provider, err := extensions.NewStaticTokenAuthProvider(map[string]string{"tok": "alice"})
	require.NoError(t, err)
	router, runner := newTestRouter(t, extensions.DefaultOptions().WithAuth(provider), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/answer?q=x&repo_ref=r", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/answer?q=x&repo_ref=r", nil)
	req.Header.Set("Authorization", "Bearer tok")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"alice"}, runner.users)
}

func TestSetupRoutes_RateLimit(t *testing.T) {
	limiter := middleware.NewUserRateLimiter(middleware.RateLimitConfig{RequestsPerMinute: 1})
	router, _ := newTestRouter(t, extensions.DefaultOptions(), limiter)

	codes := []int{}
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/answer?q=x&repo_ref=r", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code, "health is not rate limited")
}

func TestSetupRoutes_MetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, extensions.DefaultOptions(), nil)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/answer?q=x&repo_ref=r", nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, `aleutian_answer_requests_total{endpoint="sse",status="success"} 1`), body)
}
