// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter writes Server-Sent Events to an HTTP response.
//
// # Description
//
// Every event carries a fresh UUID v4 id and a single data line. Payloads
// are JSON-encoded without HTML escaping. The writer flushes after every
// event so that clients see progress as it happens.
//
// # Thread Safety
//
// Safe for concurrent use. The keepalive ticker and the answer stream
// write from different goroutines.
//
// # Assumptions
//
//   - Caller has set Content-Type: text/event-stream before the first write
type SSEWriter interface {
	// WriteJSON writes v as the event's data.
	WriteJSON(v any) error

	// WriteRaw writes data verbatim. data must not contain a newline.
	WriteRaw(data string) error

	// WriteKeepAlive writes an SSE comment line.
	WriteKeepAlive() error
}

// =============================================================================
// Struct Definition
// =============================================================================

type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter wraps w.
//
// Returns an error if w does not implement http.Flusher.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// =============================================================================
// Methods
// =============================================================================

func (w *sseWriter) WriteJSON(v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return w.WriteRaw(string(bytes.TrimRight(buf.Bytes(), "\n")))
}

func (w *sseWriter) WriteRaw(data string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, "id: %s\ndata: %s\n\n", uuid.NewString(), data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// SSE comment lines start with ':' and are ignored by clients.
	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}
