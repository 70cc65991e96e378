// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianAnswer/services/answer/action"
	"github.com/AleutianAI/AleutianAnswer/services/answer/conversation"
	"github.com/AleutianAI/AleutianAnswer/services/answer/datatypes"
	"github.com/AleutianAI/AleutianAnswer/services/index"
)

// errorPayload is the body of a failed stream's error event.
type errorPayload struct {
	Error string `json:"error"`
}

// clientError returns the message shown to the client for err.
//
// Every error is passed through verbatim unless sanitize is set. With
// sanitize, protocol and unavailable-feature errors are still passed
// through, while collaborator errors, which can carry backend addresses,
// are replaced with a generic message. The driver logs the full error
// either way.
func clientError(err error, sanitize bool) errorPayload {
	switch {
	case !sanitize:
		return errorPayload{Error: err.Error()}
	case errors.Is(err, action.ErrProtocol), errors.Is(err, index.ErrSemanticUnavailable):
		return errorPayload{Error: err.Error()}
	case errors.Is(err, index.ErrFileNotFound):
		return errorPayload{Error: "file not found"}
	default:
		return errorPayload{Error: "the answer could not be completed"}
	}
}

// sseSink streams snapshots as SSE events.
type sseSink struct {
	w        SSEWriter
	sanitize bool
}

func (s *sseSink) Update(snapshot *datatypes.FullUpdate) error { return s.w.WriteJSON(snapshot) }
func (s *sseSink) Error(err error) error                       { return s.w.WriteJSON(clientError(err, s.sanitize)) }
func (s *sseSink) Done() error                                 { return s.w.WriteRaw(conversation.DoneSentinel) }

// wsSink streams snapshots as websocket text messages. Only the driver's
// goroutine writes data frames; pings go through WriteControl, which
// gorilla allows concurrently.
type wsSink struct {
	conn      *websocket.Conn
	writeWait time.Duration
	sanitize  bool
}

func (s *wsSink) deadline() {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
}

func (s *wsSink) Update(snapshot *datatypes.FullUpdate) error {
	s.deadline()
	return s.conn.WriteJSON(snapshot)
}

func (s *wsSink) Error(err error) error {
	s.deadline()
	return s.conn.WriteJSON(clientError(err, s.sanitize))
}

func (s *wsSink) Done() error {
	s.deadline()
	return s.conn.WriteMessage(websocket.TextMessage, []byte(conversation.DoneSentinel))
}

var (
	_ conversation.UpdateSink = (*sseSink)(nil)
	_ conversation.UpdateSink = (*wsSink)(nil)
)
