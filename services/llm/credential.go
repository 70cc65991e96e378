// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/awnumar/memguard"
)

// DefaultSecretsDir is where container secrets are mounted.
const DefaultSecretsDir = "/run/secrets"

// Credential holds the process-wide model API token in an encrypted
// memguard enclave. The plaintext only exists in locked memory while a
// request header is being built.
type Credential struct {
	enclave *memguard.Enclave
}

// NewCredential seals token. The empty token yields nil, meaning "no
// authentication".
func NewCredential(token string) *Credential {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	warnLowMlockLimit()
	return &Credential{enclave: memguard.NewEnclave([]byte(token))}
}

// LoadCredential reads a token from envVar, falling back to the secret
// file DefaultSecretsDir/secretName. Returns nil when neither is set.
func LoadCredential(envVar, secretName string) (*Credential, error) {
	if v := os.Getenv(envVar); v != "" {
		return NewCredential(v), nil
	}
	if secretName == "" {
		return nil, nil
	}
	secretPath := DefaultSecretsDir + "/" + secretName
	data, err := os.ReadFile(secretPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read secret %s: %w", secretPath, err)
	}
	slog.Info("Read model API token from secrets", "path", secretPath)
	c := NewCredential(string(data))
	memguard.WipeBytes(data)
	return c, nil
}

// authorize sets the bearer Authorization header on req.
func (c *Credential) authorize(req *http.Request) error {
	if c == nil {
		return nil
	}
	buf, err := c.enclave.Open()
	if err != nil {
		return fmt.Errorf("open credential enclave: %w", err)
	}
	defer buf.Destroy()
	req.Header.Set("Authorization", "Bearer "+buf.String())
	return nil
}

// bearerTransport injects the credential into every outgoing request.
type bearerTransport struct {
	cred *Credential
	base http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.cred == nil {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	if err := t.cred.authorize(clone); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(clone)
}

// newAuthorizedHTTPClient returns a client that authenticates with cred.
func newAuthorizedHTTPClient(cred *Credential, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	c := *base
	c.Transport = &bearerTransport{cred: cred, base: transport}
	return &c
}
