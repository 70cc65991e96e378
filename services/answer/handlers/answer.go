// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers serves answer streams over SSE and websockets.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianAnswer/services/answer/conversation"
	"github.com/AleutianAI/AleutianAnswer/services/answer/datatypes"
	"github.com/AleutianAI/AleutianAnswer/services/answer/middleware"
	"github.com/AleutianAI/AleutianAnswer/services/answer/observability"
)

// DefaultKeepAlive is the interval between keepalive pings.
const DefaultKeepAlive = 15 * time.Second

// Runner answers one query into a sink. *conversation.Driver implements it.
type Runner interface {
	Run(ctx context.Context, key datatypes.SessionKey, repoRef, q string, sink conversation.UpdateSink) error
}

// AnswerHandler serves the answer endpoints.
type AnswerHandler struct {
	runner    Runner
	metrics   *observability.Metrics
	logger    *slog.Logger
	keepAlive time.Duration
	sanitize  bool
}

// NewAnswerHandler creates a handler. metrics and logger may be nil.
func NewAnswerHandler(runner Runner, metrics *observability.Metrics, logger *slog.Logger) *AnswerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnswerHandler{
		runner:    runner,
		metrics:   metrics,
		logger:    logger,
		keepAlive: DefaultKeepAlive,
	}
}

// WithKeepAlive overrides the keepalive interval.
func (h *AnswerHandler) WithKeepAlive(d time.Duration) *AnswerHandler {
	h.keepAlive = d
	return h
}

// WithSanitizedErrors hides collaborator error details from clients.
func (h *AnswerHandler) WithSanitizedErrors(on bool) *AnswerHandler {
	h.sanitize = on
	return h
}

// HandleSSE streams the answer to one query.
//
// # Description
//
// GET /v1/answer?q=&repo_ref=&thread_id=
//
// Parameters are validated before the stream opens; failures are plain
// 400 JSON responses. Once the stream is open every event's data is a
// FullUpdate snapshot, or {"error": "..."} when the request fails, and
// the final event's data is [DONE]. A comment line is sent every
// keepalive interval while the request runs. The thread id is echoed in
// the X-Thread-Id header so that clients can continue the thread.
//
// # Assumptions
//
//   - AuthMiddleware ran before this handler.
func (h *AnswerHandler) HandleSSE(c *gin.Context) {
	key, req, ok := h.bind(c, c.ShouldBindQuery)
	if !ok {
		return
	}

	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		h.logger.Error("streaming not supported", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("X-Thread-Id", key.ThreadID)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()

	h.streamStarted(observability.EndpointSSE)
	defer h.streamEnded(observability.EndpointSSE)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stop := h.startKeepAlive(ctx, observability.EndpointSSE, writer.WriteKeepAlive)
	defer stop()

	err = h.runner.Run(ctx, key, req.RepoRef, req.Query, &sseSink{w: writer, sanitize: h.sanitize})
	h.recordRequest(observability.EndpointSSE, err)
}

// bind parses and validates the request and resolves the session key.
// It writes the error response and returns ok=false on failure.
func (h *AnswerHandler) bind(c *gin.Context, bindFn func(any) error) (datatypes.SessionKey, datatypes.AnswerRequest, bool) {
	var req datatypes.AnswerRequest
	if err := bindFn(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request parameters"})
		return datatypes.SessionKey{}, req, false
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return datatypes.SessionKey{}, req, false
	}

	info := middleware.GetAuthInfo(c)
	if info == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return datatypes.SessionKey{}, req, false
	}

	if req.ThreadID == "" {
		req.ThreadID = uuid.NewString()
	}
	return datatypes.SessionKey{UserID: info.UserID, ThreadID: req.ThreadID}, req, true
}

// startKeepAlive calls ping every keepalive interval until the returned
// stop function is called or ctx ends. stop waits for the ticker
// goroutine so that no ping is written after the handler returns.
func (h *AnswerHandler) startKeepAlive(ctx context.Context, endpoint observability.Endpoint, ping func() error) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(h.keepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ping(); err != nil {
					h.logger.Debug("keepalive failed", "endpoint", endpoint, "error", err)
					return
				}
				if h.metrics != nil {
					h.metrics.RecordKeepAlive(endpoint)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (h *AnswerHandler) streamStarted(e observability.Endpoint) {
	if h.metrics != nil {
		h.metrics.StreamStarted(e)
	}
}

func (h *AnswerHandler) streamEnded(e observability.Endpoint) {
	if h.metrics != nil {
		h.metrics.StreamEnded(e)
	}
}

func (h *AnswerHandler) recordRequest(e observability.Endpoint, err error) {
	if h.metrics != nil {
		h.metrics.RecordRequest(e, err)
	}
}
