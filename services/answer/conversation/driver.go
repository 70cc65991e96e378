// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianAnswer/services/answer/action"
	"github.com/AleutianAI/AleutianAnswer/services/answer/datatypes"
	"github.com/AleutianAI/AleutianAnswer/services/index"
)

// updateBuffer is the capacity of the per-step update channel.
const updateBuffer = 100

// DoneSentinel is the final payload of every answer stream.
const DoneSentinel = "[DONE]"

// UpdateSink receives the snapshots of one answer request.
//
// Update is called once per applied update, in production order. Error is
// called at most once, when the request fails. Done is always called last.
type UpdateSink interface {
	Update(snapshot *datatypes.FullUpdate) error
	Error(err error) error
	Done() error
}

// SessionStore loads and saves conversations between requests.
type SessionStore interface {
	Get(key datatypes.SessionKey, repoRef string) *Conversation
	Put(key datatypes.SessionKey, conv *Conversation)
}

// TurnObserver receives per-request outcomes.
type TurnObserver interface {
	ObserveTurn(elapsed time.Duration, steps int, err error)
}

// Driver runs answer requests.
type Driver struct {
	Env      *Env
	Sessions SessionStore
	Observer TurnObserver
}

type stepResult struct {
	next *ActionStream
	err  error
}

// Run answers one user query.
//
// # Description
//
// Loads the thread's conversation, then alternates steps until the model
// hands the turn back to the user. Each step runs on its own goroutine
// and reports progress on a bounded channel; Run folds every update into
// the FullUpdate and passes a snapshot to the sink as it arrives. On
// success the conversation is saved for the next request. On failure the
// sink receives the error. The sink always receives Done.
//
// # Outputs
//
//   - error: The error that ended the request, if any. A failure writing
//     to the sink cancels the remaining work and is returned.
func (d *Driver) Run(ctx context.Context, key datatypes.SessionKey, repoRef, q string, sink UpdateSink) error {
	start := time.Now()
	log := d.Env.logger().With("thread_id", key.ThreadID, "user_id", key.UserID)

	conv := d.Sessions.Get(key, repoRef)
	full := datatypes.NewFullUpdate(key, conv.RepoRef)

	steps, err := d.loop(ctx, conv, full, q, sink)
	if d.Observer != nil {
		d.Observer.ObserveTurn(time.Since(start), steps, err)
	}

	if err != nil {
		log.Warn("answer request failed", "error", err, "steps", steps)
		if !errors.Is(err, errSinkClosed) {
			_ = sink.Error(err)
		}
	} else {
		d.Sessions.Put(key, conv)
		log.Info("answer request finished", "steps", steps, "duration", time.Since(start))
	}

	if doneErr := sink.Done(); doneErr != nil && err == nil {
		err = doneErr
	}
	return err
}

var errSinkClosed = errors.New("update sink closed")

func (d *Driver) loop(ctx context.Context, conv *Conversation, full *datatypes.FullUpdate, q string, sink UpdateSink) (int, error) {
	stream, err := Resolved(action.Query(q))
	if err != nil {
		return 0, err
	}

	steps := 0
	for stream != nil {
		steps++
		next, err := d.turn(ctx, conv, full, stream, sink)
		if err != nil {
			return steps, err
		}
		stream = next
	}
	return steps, nil
}

// turn runs one step and multiplexes its updates and its result.
func (d *Driver) turn(ctx context.Context, conv *Conversation, full *datatypes.FullUpdate, in *ActionStream, sink UpdateSink) (*ActionStream, error) {
	stepCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := make(chan datatypes.Update, updateBuffer)
	result := make(chan stepResult, 1)

	go func() {
		defer close(updates)
		defer func() {
			if r := recover(); r != nil {
				result <- stepResult{err: fmt.Errorf("step panicked: %v", r)}
			}
		}()
		next, err := conv.Step(stepCtx, d.Env, in, updates)
		result <- stepResult{next: next, err: err}
	}()

	var (
		res     stepResult
		sinkErr error
	)
	updatesCh, resultCh := updates, result
	for updatesCh != nil || resultCh != nil {
		select {
		case u, ok := <-updatesCh:
			if !ok {
				updatesCh = nil
				continue
			}
			if sinkErr != nil {
				continue
			}
			full.Apply(u)
			if err := sink.Update(full.Clone()); err != nil {
				sinkErr = fmt.Errorf("%w: %v", errSinkClosed, err)
				cancel()
			}
		case r := <-resultCh:
			res = r
			resultCh = nil
		}
	}

	if sinkErr != nil {
		return nil, sinkErr
	}
	return res.next, res.err
}

// Error classes used for metrics labels.
const (
	ErrorClassNone             = "none"
	ErrorClassProtocol         = "protocol"
	ErrorClassUnavailable      = "unavailable"
	ErrorClassClientDisconnect = "client_disconnect"
	ErrorClassCollaborator     = "collaborator"
)

// ErrorClass buckets an error for metrics.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ErrorClassNone
	case errors.Is(err, action.ErrProtocol):
		return ErrorClassProtocol
	case errors.Is(err, index.ErrSemanticUnavailable):
		return ErrorClassUnavailable
	case errors.Is(err, errSinkClosed), errors.Is(err, context.Canceled):
		return ErrorClassClientDisconnect
	default:
		return ErrorClassCollaborator
	}
}
