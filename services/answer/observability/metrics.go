// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the answer service.
//
// # Description
//
// Metrics cover answer requests per endpoint, the actions executed inside
// each request, open streams and stored sessions. Errors are labeled with
// the classes from conversation.ErrorClass: protocol, unavailable,
// collaborator and client_disconnect.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianAnswer/services/answer/conversation"
)

const (
	metricsNamespace = "aleutian"
	answerSubsystem  = "answer"
)

// Endpoint labels a streaming transport.
type Endpoint string

const (
	EndpointSSE       Endpoint = "sse"
	EndpointWebSocket Endpoint = "websocket"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	// RequestsTotal counts answer requests.
	// Labels: endpoint, status (success, error)
	RequestsTotal *prometheus.CounterVec

	// ErrorsTotal counts failed requests by error class.
	// Labels: endpoint, error_class
	ErrorsTotal *prometheus.CounterVec

	// TurnDurationSeconds measures a request from query to final prompt.
	// Labels: status
	TurnDurationSeconds *prometheus.HistogramVec

	// StepsPerTurn counts the actions executed per request.
	StepsPerTurn prometheus.Histogram

	// ActionsTotal counts executed actions.
	// Labels: action, error_class
	ActionsTotal *prometheus.CounterVec

	// ActionDurationSeconds measures action execution, excluding the wait
	// for the model's next action.
	// Labels: action
	ActionDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks open answer streams.
	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// KeepAlivesTotal counts keepalive pings sent.
	// Labels: endpoint
	KeepAlivesTotal *prometheus.CounterVec

	// RateLimitedTotal counts requests rejected by the rate limiter.
	RateLimitedTotal prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
//
// Panics if the collectors are already registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: answerSubsystem,
				Name:      "requests_total",
				Help:      "Total answer requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: answerSubsystem,
				Name:      "errors_total",
				Help:      "Total failed answer requests by endpoint and error class",
			},
			[]string{"endpoint", "error_class"},
		),

		TurnDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: answerSubsystem,
				Name:      "turn_duration_seconds",
				Help:      "Duration of an answer request in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),

		StepsPerTurn: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: answerSubsystem,
				Name:      "steps_per_turn",
				Help:      "Number of actions executed per answer request",
				Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16, 24},
			},
		),

		ActionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: answerSubsystem,
				Name:      "actions_total",
				Help:      "Total executed actions by kind and error class",
			},
			[]string{"action", "error_class"},
		),

		ActionDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: answerSubsystem,
				Name:      "action_duration_seconds",
				Help:      "Action execution time in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"action"},
		),

		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: answerSubsystem,
				Name:      "active_streams",
				Help:      "Number of open answer streams",
			},
			[]string{"endpoint"},
		),

		KeepAlivesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: answerSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive pings sent",
			},
			[]string{"endpoint"},
		),

		RateLimitedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: answerSubsystem,
				Name:      "rate_limited_total",
				Help:      "Total requests rejected by the per-user rate limiter",
			},
		),
	}
}

// RegisterSessionGauge exports the number of stored conversations.
func RegisterSessionGauge(reg prometheus.Registerer, size func() int) {
	promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: answerSubsystem,
			Name:      "sessions",
			Help:      "Number of conversations held in memory",
		},
		func() float64 { return float64(size()) },
	)
}

// ObserveAction implements conversation.Observer.
func (m *Metrics) ObserveAction(kind string, elapsed time.Duration, err error) {
	m.ActionsTotal.WithLabelValues(kind, conversation.ErrorClass(err)).Inc()
	m.ActionDurationSeconds.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveTurn implements conversation.TurnObserver.
func (m *Metrics) ObserveTurn(elapsed time.Duration, steps int, err error) {
	m.TurnDurationSeconds.WithLabelValues(status(err)).Observe(elapsed.Seconds())
	m.StepsPerTurn.Observe(float64(steps))
}

// RecordRequest records a finished request on endpoint.
func (m *Metrics) RecordRequest(endpoint Endpoint, err error) {
	m.RequestsTotal.WithLabelValues(string(endpoint), status(err)).Inc()
	if err != nil {
		m.ErrorsTotal.WithLabelValues(string(endpoint), conversation.ErrorClass(err)).Inc()
	}
}

// StreamStarted increments the active stream gauge.
func (m *Metrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active stream gauge.
func (m *Metrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordKeepAlive counts a keepalive ping.
func (m *Metrics) RecordKeepAlive(endpoint Endpoint) {
	m.KeepAlivesTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordRateLimited counts a rejected request.
func (m *Metrics) RecordRateLimited() {
	m.RateLimitedTotal.Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

var (
	_ conversation.Observer     = (*Metrics)(nil)
	_ conversation.TurnObserver = (*Metrics)(nil)
)
