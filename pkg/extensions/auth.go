// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions holds the pluggable identity layer of the answer
// service. Deployments swap the AuthProvider to integrate with their own
// identity system; the service only relies on AuthInfo.UserID, which keys
// every conversation.
package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnauthorized is returned when authentication fails.
// Providers should wrap it with additional context.
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo contains identity information returned after successful
// authentication.
type AuthInfo struct {
	// UserID is the unique identifier for the authenticated user.
	// This is the only required field and must never be empty.
	UserID string

	// Email may be empty if not provided by the auth provider.
	Email string

	// Roles contains the user's role memberships.
	Roles []string
}

// HasRole checks if the user has a specific role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates authentication tokens and returns user identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type AuthProvider interface {
	// Validate checks if the token is valid and returns the user's identity.
	//
	// Returns ErrUnauthorized (or a wrapped form) for invalid tokens and
	// other errors for infrastructure failures.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider is the default provider for single-user deployments.
//
// It accepts any token and returns the same local user, so every request
// shares one conversation namespace.
type NopAuthProvider struct{}

// Validate always returns the local user.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: "local-user",
		Roles:  []string{"admin"},
	}, nil
}

// StaticTokenAuthProvider maps fixed bearer tokens to user IDs.
//
// Tokens are compared in constant time. The zero value rejects every
// token.
type StaticTokenAuthProvider struct {
	tokens map[string]string
}

// NewStaticTokenAuthProvider builds a provider from a token -> user ID map.
//
// Returns an error if any token or user ID is empty.
func NewStaticTokenAuthProvider(tokens map[string]string) (*StaticTokenAuthProvider, error) {
	copied := make(map[string]string, len(tokens))
	for token, user := range tokens {
		if token == "" || user == "" {
			return nil, fmt.Errorf("static token provider: empty token or user id")
		}
		copied[token] = user
	}
	return &StaticTokenAuthProvider{tokens: copied}, nil
}

// ParseStaticTokens parses "user1:token1,user2:token2" into the
// token -> user ID map accepted by NewStaticTokenAuthProvider.
func ParseStaticTokens(raw string) (map[string]string, error) {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		user, token, ok := strings.Cut(pair, ":")
		if !ok || user == "" || token == "" {
			return nil, fmt.Errorf("invalid token entry %q, want user:token", pair)
		}
		tokens[token] = user
	}
	return tokens, nil
}

// Validate returns the user that owns token.
func (p *StaticTokenAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	// Walk every entry so the time taken does not depend on which token
	// matched.
	keys := make([]string, 0, len(p.tokens))
	for k := range p.tokens {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var user string
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(token)) == 1 {
			user = p.tokens[k]
		}
	}
	if user == "" {
		return nil, fmt.Errorf("%w: unknown token", ErrUnauthorized)
	}
	return &AuthInfo{UserID: user, Roles: []string{"user"}}, nil
}

// Compile-time interface compliance checks.
var (
	_ AuthProvider = (*NopAuthProvider)(nil)
	_ AuthProvider = (*StaticTokenAuthProvider)(nil)
)
