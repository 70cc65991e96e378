// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianAnswer/services/answer/datatypes"
)

// EventType classifies one server-sent event of an answer stream.
type EventType string

const (
	EventUpdate EventType = "update"
	EventError  EventType = "error"
	EventDone   EventType = "done"
)

// doneSentinel is the raw payload that ends every answer stream.
const doneSentinel = "[DONE]"

// Event is one decoded server-sent event.
type Event struct {
	Type   EventType
	ID     string
	Update *datatypes.FullUpdate
	Error  string
}

// ErrMalformedEvent is returned for data lines that are neither a
// conversation snapshot, an error payload, nor the end sentinel.
var ErrMalformedEvent = errors.New("malformed answer event")

// eventParser accumulates SSE lines into events.
//
// Lines follow the text/event-stream format: "id:" and "data:" fields,
// ":" comments used as keepalives, and a blank line ending each event.
// Multiple data lines of one event are joined with newlines.
//
// Not safe for concurrent use.
type eventParser struct {
	id   string
	data []string
}

// ParseLine feeds one line without its trailing newline. It returns a
// non-nil Event when the line completes one.
func (p *eventParser) ParseLine(line string) (*Event, error) {
	line = strings.TrimRight(line, "\r")

	if line == "" {
		return p.dispatch()
	}
	if strings.HasPrefix(line, ":") {
		return nil, nil
	}

	field, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")
	switch field {
	case "id":
		p.id = value
	case "data":
		p.data = append(p.data, value)
	}
	return nil, nil
}

// Flush dispatches an event left without a trailing blank line.
func (p *eventParser) Flush() (*Event, error) {
	return p.dispatch()
}

func (p *eventParser) dispatch() (*Event, error) {
	if len(p.data) == 0 {
		p.id = ""
		return nil, nil
	}
	id, data := p.id, strings.Join(p.data, "\n")
	p.id, p.data = "", nil

	ev, err := decodePayload([]byte(data))
	if err != nil {
		return nil, err
	}
	ev.ID = id
	return ev, nil
}

// decodePayload classifies one data payload.
func decodePayload(data []byte) (*Event, error) {
	if strings.TrimSpace(string(data)) == doneSentinel {
		return &Event{Type: EventDone}, nil
	}

	var shape struct {
		Error    *string         `json:"error"`
		ThreadID *string         `json:"thread_id"`
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch {
	case shape.Error != nil:
		return &Event{Type: EventError, Error: *shape.Error}, nil
	case shape.ThreadID != nil && shape.Messages != nil:
		var u datatypes.FullUpdate
		if err := json.Unmarshal(data, &u); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		return &Event{Type: EventUpdate, Update: &u}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrMalformedEvent, data)
	}
}
