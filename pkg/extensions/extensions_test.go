// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	_, ok := opts.AuthProvider.(*NopAuthProvider)
	assert.True(t, ok, "default provider should be *NopAuthProvider")
}

func TestServiceOptions_WithAuth(t *testing.T) {
	original := DefaultOptions()
	custom := &StaticTokenAuthProvider{}

	updated := original.WithAuth(custom)

	assert.Same(t, custom, updated.AuthProvider)
	_, stillNop := original.AuthProvider.(*NopAuthProvider)
	assert.True(t, stillNop, "WithAuth must not modify the receiver")
}

func TestNopAuthProvider_Validate(t *testing.T) {
	info, err := (&NopAuthProvider{}).Validate(context.Background(), "")

	require.NoError(t, err)
	assert.Equal(t, "local-user", info.UserID)
	assert.True(t, info.HasRole("admin"))
	assert.False(t, info.HasRole("auditor"))
}

func TestStaticTokenAuthProvider_Validate(t *testing.T) {
	p, err := NewStaticTokenAuthProvider(map[string]string{
		"tok-alice": "alice",
		"tok-bob":   "bob",
	})
	require.NoError(t, err)

	info, err := p.Validate(context.Background(), "tok-bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", info.UserID)

	_, err = p.Validate(context.Background(), "tok-eve")
	assert.True(t, errors.Is(err, ErrUnauthorized))

	_, err = p.Validate(context.Background(), "")
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestStaticTokenAuthProvider_ZeroValueRejects(t *testing.T) {
	_, err := (&StaticTokenAuthProvider{}).Validate(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNewStaticTokenAuthProvider_RejectsEmpty(t *testing.T) {
	_, err := NewStaticTokenAuthProvider(map[string]string{"": "alice"})
	assert.Error(t, err)

	_, err = NewStaticTokenAuthProvider(map[string]string{"tok": ""})
	assert.Error(t, err)
}

func TestParseStaticTokens(t *testing.T) {
	tokens, err := ParseStaticTokens("alice:tok-a, bob:tok-b,")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"tok-a": "alice", "tok-b": "bob"}, tokens)

	_, err = ParseStaticTokens("alice")
	assert.Error(t, err)

	tokens, err = ParseStaticTokens("")
	require.NoError(t, err)
	assert.Empty(t, tokens)
}
