// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package client talks to the answer service over its streaming HTTP API.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianAnswer/services/answer/datatypes"
)

// maxEventBytes bounds a single data line. Snapshots carry whole result
// lists, so lines can be large.
const maxEventBytes = 4 << 20

// Config configures a Client.
type Config struct {
	// BaseURL is the service root, e.g. http://localhost:12230.
	BaseURL string
	// Token is sent as a bearer token when set.
	Token string
	// HTTPClient defaults to a client without a timeout; answers stream for
	// as long as the model works.
	HTTPClient *http.Client
}

// Client asks questions of an answer service.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// ServerError is an error event sent by the service mid-stream.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return "answer service: " + e.Message }

// ErrStreamTruncated means the connection closed before the end sentinel.
var ErrStreamTruncated = errors.New("answer stream ended without [DONE]")

// New validates cfg and builds a Client.
func New(cfg Config) (*Client, error) {
	raw := strings.Trim(cfg.BaseURL, "\"' ")
	if raw == "" {
		return nil, errors.New("client: base URL is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("client: parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("client: unsupported scheme %q", base.Scheme)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: http.DefaultTransport}
	}
	return &Client{base: base, token: cfg.Token, http: hc}, nil
}

// Result is the outcome of one Ask.
type Result struct {
	ThreadID string
	// Final is the last snapshot received, nil if the turn produced none.
	Final    *datatypes.FullUpdate
	Updates  int
	Duration time.Duration
}

// Ask sends one question and calls onUpdate for every snapshot until the
// stream ends.
//
// # Description
//
// The request goes to GET /v1/answer. Each data event is either a full
// conversation snapshot, an error payload, or the [DONE] sentinel. An
// error payload is returned as *ServerError once [DONE] arrives. A stream
// that closes without [DONE] returns ErrStreamTruncated.
//
// # Inputs
//
//   - ctx: cancels the request and the stream
//   - req: question, repository and optional thread id
//   - onUpdate: may be nil; a non-nil error from it aborts the stream
func (c *Client) Ask(ctx context.Context, req datatypes.AnswerRequest, onUpdate func(*datatypes.FullUpdate) error) (*Result, error) {
	started := time.Now()

	resp, err := c.open(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	res := &Result{ThreadID: resp.Header.Get("X-Thread-Id")}
	if res.ThreadID == "" {
		res.ThreadID = req.ThreadID
	}

	var (
		parser    eventParser
		serverErr *ServerError
	)
	handle := func(ev *Event) (bool, error) {
		switch ev.Type {
		case EventDone:
			return true, nil
		case EventError:
			serverErr = &ServerError{Message: ev.Error}
		case EventUpdate:
			res.Final = ev.Update
			res.Updates++
			if ev.Update.ThreadID != "" {
				res.ThreadID = ev.Update.ThreadID
			}
			if onUpdate != nil {
				if err := onUpdate(ev.Update); err != nil {
					return false, err
				}
			}
		}
		return false, nil
	}

	finish := func() (*Result, error) {
		res.Duration = time.Since(started)
		if serverErr != nil {
			return res, serverErr
		}
		return res, nil
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)
	for scanner.Scan() {
		ev, err := parser.ParseLine(scanner.Text())
		if err != nil {
			return res, err
		}
		if ev == nil {
			continue
		}
		done, err := handle(ev)
		if err != nil {
			return res, err
		}
		if done {
			return finish()
		}
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("read answer stream: %w", err)
	}

	ev, err := parser.Flush()
	if err != nil {
		return res, err
	}
	if ev != nil {
		done, err := handle(ev)
		if err != nil {
			return res, err
		}
		if done {
			return finish()
		}
	}
	if serverErr != nil {
		return res, serverErr
	}
	return res, ErrStreamTruncated
}

func (c *Client) open(ctx context.Context, req datatypes.AnswerRequest) (*http.Response, error) {
	u := c.base.JoinPath("v1", "answer")
	q := url.Values{}
	q.Set("q", req.Query)
	q.Set("repo_ref", req.RepoRef)
	if req.ThreadID != "" {
		q.Set("thread_id", req.ThreadID)
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build answer request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("answer request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

// StatusError is a non-200 response to the initial request.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("answer service returned %d", e.Code)
	}
	return fmt.Sprintf("answer service returned %d: %s", e.Code, e.Body)
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.JoinPath("health").String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}
