// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianAnswer/services/answer/datatypes"
	"github.com/AleutianAI/AleutianAnswer/services/answer/middleware"
	"github.com/AleutianAI/AleutianAnswer/services/answer/observability"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 2 * datatypes.MaxQueryBytes
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 64 * 1024,
}

// wsMessage is one decoded client message, or the reason it could not be
// decoded.
type wsMessage struct {
	req datatypes.AnswerRequest
	err error
}

// HandleWebSocket serves answers over a websocket.
//
// # Description
//
// GET /v1/answer/ws
//
// Each text message from the client is a JSON object
// {"q": ..., "repo_ref": ..., "thread_id": ...}. Requests on one
// connection run one at a time. Every request receives the same JSON
// payloads as the SSE endpoint followed by a [DONE] message. Without a
// thread_id, requests on the same connection share one generated thread.
// Closing the connection cancels the running request.
func (h *AnswerHandler) HandleWebSocket(c *gin.Context) {
	info := middleware.GetAuthInfo(c)
	if info == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(wsMaxMessageSize)

	h.streamStarted(observability.EndpointWebSocket)
	defer h.streamEnded(observability.EndpointWebSocket)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	messages := make(chan wsMessage)
	go h.readMessages(ctx, cancel, ws, messages)

	stop := h.startKeepAlive(ctx, observability.EndpointWebSocket, func() error {
		return ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
	})
	defer stop()

	sink := &wsSink{conn: ws, writeWait: wsWriteWait, sanitize: h.sanitize}
	connThread := uuid.NewString()
	log := h.logger.With("user_id", info.UserID)
	log.Info("websocket client connected")

	for msg := range messages {
		req := msg.req
		if msg.err == nil {
			msg.err = req.Validate()
		}
		if msg.err != nil {
			if err := sink.reject(msg.err); err != nil {
				return
			}
			continue
		}

		if req.ThreadID == "" {
			req.ThreadID = connThread
		}
		key := datatypes.SessionKey{UserID: info.UserID, ThreadID: req.ThreadID}

		err := h.runner.Run(ctx, key, req.RepoRef, req.Query, sink)
		h.recordRequest(observability.EndpointWebSocket, err)
		if ctx.Err() != nil {
			return
		}
	}
	log.Info("websocket client disconnected")
}

// readMessages forwards decoded client messages until the connection
// fails, then cancels ctx so that a running request stops.
func (h *AnswerHandler) readMessages(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, out chan<- wsMessage) {
	defer close(out)
	defer cancel()

	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read failed", "error", err)
			}
			return
		}

		var msg wsMessage
		if kind != websocket.TextMessage {
			msg.err = fmt.Errorf("expected a text message")
		} else if err := json.Unmarshal(data, &msg.req); err != nil {
			msg.err = fmt.Errorf("invalid request: %w", err)
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// reject answers an invalid message with an error payload and [DONE].
func (s *wsSink) reject(err error) error {
	s.deadline()
	if werr := s.conn.WriteJSON(errorPayload{Error: err.Error()}); werr != nil {
		return werr
	}
	return s.Done()
}
