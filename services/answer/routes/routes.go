// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes registers the answer service's HTTP endpoints.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianAnswer/pkg/extensions"
	"github.com/AleutianAI/AleutianAnswer/services/answer/handlers"
	"github.com/AleutianAI/AleutianAnswer/services/answer/middleware"
)

// Deps are the components the routes dispatch to.
type Deps struct {
	// Answer serves the answer streams. Required.
	Answer *handlers.AnswerHandler

	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// RateLimiter limits /v1 requests per user. Optional.
	RateLimiter *middleware.UserRateLimiter
}

// SetupRoutes registers:
//
//	GET /health          liveness, unauthenticated
//	GET /metrics         Prometheus, unauthenticated
//	GET /v1/answer       SSE answer stream
//	GET /v1/answer/ws    websocket answer stream
//
// Everything under /v1 requires authentication through
// opts.AuthProvider.
func SetupRoutes(router *gin.Engine, deps Deps, opts extensions.ServiceOptions) {
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	provider := opts.AuthProvider
	if provider == nil {
		provider = &extensions.NopAuthProvider{}
	}

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(provider))
	if deps.RateLimiter != nil {
		v1.Use(deps.RateLimiter.Middleware())
	}
	{
		v1.GET("/answer", deps.Answer.HandleSSE)
		v1.GET("/answer/ws", deps.Answer.HandleWebSocket)
	}
}
