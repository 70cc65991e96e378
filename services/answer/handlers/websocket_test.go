// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAnswer/services/answer/action"
	"github.com/AleutianAI/AleutianAnswer/services/answer/datatypes"
)

func dialAnswerWS(t *testing.T, runner Runner, user string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(newRouter(NewAnswerHandler(runner, nil, nil), user))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/answer/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntilDone collects text messages up to and excluding [DONE].
func readUntilDone(t *testing.T, conn *websocket.Conn) []string {
	t.Helper()
	var out []string
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if string(data) == "[DONE]" {
			return out
		}
		out = append(out, string(data))
	}
}

func TestHandleWebSocket_StreamsThenDone(t *testing.T) {
	runner := &fakeRunner{updates: []*datatypes.FullUpdate{sampleUpdate()}}
	conn := dialAnswerWS(t, runner, "alice")

	require.NoError(t, conn.WriteJSON(map[string]string{"q": "where is auth", "repo_ref": "github.com/acme/api", "thread_id": "t9"}))
	msgs := readUntilDone(t, conn)

	require.Len(t, msgs, 1)
	var u map[string]any
	require.NoError(t, json.Unmarshal([]byte(msgs[0]), &u))
	assert.Equal(t, "t1", u["thread_id"])

	calls := runner.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, datatypes.SessionKey{UserID: "alice", ThreadID: "t9"}, calls[0].key)
	assert.Equal(t, "where is auth", calls[0].q)
}

func TestHandleWebSocket_ConnectionSharesDefaultThread(t *testing.T) {
	runner := &fakeRunner{}
	conn := dialAnswerWS(t, runner, "alice")

	for _, q := range []string{"first", "second"} {
		require.NoError(t, conn.WriteJSON(map[string]string{"q": q, "repo_ref": "r"}))
		readUntilDone(t, conn)
	}

	calls := runner.recorded()
	require.Len(t, calls, 2)
	assert.NotEmpty(t, calls[0].key.ThreadID)
	assert.Equal(t, calls[0].key.ThreadID, calls[1].key.ThreadID)
}

func TestHandleWebSocket_InvalidMessageKeepsConnection(t *testing.T) {
	runner := &fakeRunner{}
	conn := dialAnswerWS(t, runner, "alice")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	msgs := readUntilDone(t, conn)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], `"error"`)

	require.NoError(t, conn.WriteJSON(map[string]string{"repo_ref": "r"}))
	msgs = readUntilDone(t, conn)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Query")

	require.NoError(t, conn.WriteJSON(map[string]string{"q": "ok", "repo_ref": "r"}))
	readUntilDone(t, conn)
	assert.Len(t, runner.recorded(), 1)
}

func TestHandleWebSocket_ErrorPayload(t *testing.T) {
	conn := dialAnswerWS(t, &fakeRunner{err: action.NewProtocolError("bad action")}, "alice")

	require.NoError(t, conn.WriteJSON(map[string]string{"q": "x", "repo_ref": "r"}))
	msgs := readUntilDone(t, conn)

	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"error":"protocol error: bad action"}`, msgs[0])
}

func TestHandleWebSocket_RequiresIdentity(t *testing.T) {
	srv := httptest.NewServer(newRouter(NewAnswerHandler(&fakeRunner{}, nil, nil), ""))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/answer/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
