// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package action

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrProtocol matches every error caused by model output that does not
// follow the action protocol.
var ErrProtocol = errors.New("protocol error")

// ProtocolError describes malformed model output.
type ProtocolError struct {
	// Reason is a short human-readable description.
	Reason string
	// Input is the offending text, when available.
	Input string
	// Err is the underlying decode error, if any.
	Err error
}

// NewProtocolError builds a ProtocolError with a formatted reason.
func NewProtocolError(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrProtocol) true for every ProtocolError.
func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// =============================================================================
// Decode
// =============================================================================

// Decode parses one model turn into an Action.
//
// # Description
//
// The text must be a JSON array whose first element is a string tag. The
// remaining elements are reshaped into a single value (null, the sole
// argument, or an array of all arguments) and matched against the shape
// the tag requires.
//
// # Outputs
//
//   - Action: the decoded action
//   - error: *ProtocolError for any malformed input; never panics
func Decode(text string) (Action, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(text), &arr); err != nil {
		return Action{}, &ProtocolError{Reason: "model response was not a JSON array", Input: text, Err: err}
	}
	if len(arr) == 0 {
		return Action{}, &ProtocolError{Reason: "model response was an empty array", Input: text}
	}

	var tag string
	if !isJSONString(arr[0]) {
		return Action{}, &ProtocolError{Reason: "model action was not a string", Input: text}
	}
	if err := json.Unmarshal(arr[0], &tag); err != nil {
		return Action{}, &ProtocolError{Reason: "model action was not a string", Input: text, Err: err}
	}

	var value json.RawMessage
	switch rest := arr[1:]; len(rest) {
	case 0:
		value = json.RawMessage("null")
	case 1:
		value = rest[0]
	default:
		joined, err := json.Marshal(rest)
		if err != nil {
			return Action{}, &ProtocolError{Reason: "could not reshape arguments", Input: text, Err: err}
		}
		value = joined
	}

	a, err := fromObject(map[string]json.RawMessage{tag: value})
	if err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) && pe.Input == "" {
			pe.Input = text
		}
		return Action{}, err
	}
	return a, nil
}

// fromObject matches the single-key object form against each variant.
func fromObject(obj map[string]json.RawMessage) (Action, error) {
	for tag, value := range obj {
		switch Kind(tag) {
		case KindQuery, KindPrompt, KindPath, KindCode, KindAnswer:
			s, err := decodeString(value)
			if err != nil {
				return Action{}, &ProtocolError{Reason: fmt.Sprintf("%q expects a single string argument", tag), Err: err}
			}
			return Action{Kind: Kind(tag), Text: s}, nil

		case KindFile:
			ref, err := decodeFileRef(value)
			if err != nil {
				return Action{}, &ProtocolError{Reason: `"file" expects a path string or an alias number`, Err: err}
			}
			return Action{Kind: KindFile, File: ref}, nil

		case KindCheck:
			question, aliases, err := decodeCheck(value)
			if err != nil {
				return Action{}, &ProtocolError{Reason: `"check" expects a question and a list of aliases`, Err: err}
			}
			return Action{Kind: KindCheck, Text: question, Aliases: aliases}, nil

		default:
			return Action{}, NewProtocolError("unknown action %q", tag)
		}
	}
	return Action{}, NewProtocolError("missing action")
}

func isJSONString(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '"'
}

func decodeString(raw json.RawMessage) (string, error) {
	if !isJSONString(raw) {
		return "", errors.New("not a string")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

func decodeAlias(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] < '0' || raw[0] > '9' {
		return 0, errors.New("not an unsigned integer")
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	if n > math.MaxInt {
		return 0, fmt.Errorf("alias %d out of range", n)
	}
	return int(n), nil
}

func decodeFileRef(raw json.RawMessage) (FileRef, error) {
	if isJSONString(raw) {
		p, err := decodeString(raw)
		if err != nil {
			return FileRef{}, err
		}
		return FileRef{Path: p}, nil
	}
	alias, err := decodeAlias(raw)
	if err != nil {
		return FileRef{}, err
	}
	return FileRef{Alias: alias, IsAlias: true}, nil
}

func decodeCheck(raw json.RawMessage) (string, []int, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", nil, err
	}
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("got %d arguments, want 2", len(parts))
	}
	question, err := decodeString(parts[0])
	if err != nil {
		return "", nil, err
	}

	var rawAliases []json.RawMessage
	if err := json.Unmarshal(parts[1], &rawAliases); err != nil {
		return "", nil, err
	}
	if rawAliases == nil {
		return "", nil, errors.New("aliases must be an array")
	}
	aliases := make([]int, 0, len(rawAliases))
	for _, r := range rawAliases {
		n, err := decodeAlias(r)
		if err != nil {
			return "", nil, err
		}
		aliases = append(aliases, n)
	}
	return question, aliases, nil
}

// =============================================================================
// Encode
// =============================================================================

// Encode serializes an Action into the array form Decode accepts.
//
// Returns an error for unknown kinds and negative aliases.
func Encode(a Action) (string, error) {
	elems := []any{string(a.Kind)}

	switch a.Kind {
	case KindQuery, KindPrompt, KindPath, KindCode, KindAnswer:
		elems = append(elems, a.Text)
	case KindFile:
		if a.File.IsAlias {
			if a.File.Alias < 0 {
				return "", fmt.Errorf("encode action: negative alias %d", a.File.Alias)
			}
			elems = append(elems, a.File.Alias)
		} else {
			elems = append(elems, a.File.Path)
		}
	case KindCheck:
		aliases := a.Aliases
		if aliases == nil {
			aliases = []int{}
		}
		for _, n := range aliases {
			if n < 0 {
				return "", fmt.Errorf("encode action: negative alias %d", n)
			}
		}
		elems = append(elems, a.Text, aliases)
	default:
		return "", fmt.Errorf("encode action: unknown kind %q", a.Kind)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(elems); err != nil {
		return "", fmt.Errorf("encode action: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// MustEncode is Encode for actions built by the engine itself.
func MustEncode(a Action) string {
	s, err := Encode(a)
	if err != nil {
		panic(err)
	}
	return s
}
