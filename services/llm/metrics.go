// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// chatInstruments are created against the global meter provider, which
// forwards to the provider installed later by the service.
type chatInstruments struct {
	requests metric.Int64Counter
	chunks   metric.Int64Counter
	duration metric.Float64Histogram
}

var instruments = newChatInstruments(otel.Meter("aleutian.answer.llm"))

func newChatInstruments(meter metric.Meter) chatInstruments {
	// Instrument constructors return a usable no-op alongside any error.
	requests, _ := meter.Int64Counter("llm_chat_requests",
		metric.WithDescription("Chat completion requests by backend, model and outcome"))
	chunks, _ := meter.Int64Counter("llm_stream_chunks",
		metric.WithDescription("Streamed completion chunks received"))
	duration, _ := meter.Float64Histogram("llm_stream_duration",
		metric.WithDescription("Time from request to end of stream"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 30, 60, 120))
	return chatInstruments{requests: requests, chunks: chunks, duration: duration}
}

func (i chatInstruments) chatStarted(ctx context.Context, backend, model string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	i.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("model", model),
		attribute.String("outcome", outcome),
	))
}

func (i chatInstruments) streamEnded(backend, model string, chunks int, started time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("model", model),
	)
	ctx := context.Background()
	i.chunks.Add(ctx, int64(chunks), attrs)
	i.duration.Record(ctx, time.Since(started).Seconds(), attrs)
}
