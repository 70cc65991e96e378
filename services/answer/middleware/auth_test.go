// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAnswer/pkg/extensions"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

// mockAuthProvider is a configurable mock for testing.
type mockAuthProvider struct {
	authInfo  *extensions.AuthInfo
	err       error
	lastToken string
}

func (m *mockAuthProvider) Validate(_ context.Context, token string) (*extensions.AuthInfo, error) {
	m.lastToken = token
	if m.err != nil {
		return nil, m.err
	}
	return m.authInfo, nil
}

func newAuthRouter(provider extensions.AuthProvider) *gin.Engine {
	r := gin.New()
	r.Use(AuthMiddleware(provider))
	r.GET("/whoami", func(c *gin.Context) {
		info := GetAuthInfo(c)
		c.String(http.StatusOK, info.UserID)
	})
	return r
}

// =============================================================================
// extractBearerToken Tests
// =============================================================================

func TestExtractBearerToken_ValidToken(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)
	c.Request.Header.Set("Authorization", "Bearer abc123")

	assert.Equal(t, "abc123", extractBearerToken(c))
}

func TestExtractBearerToken_CaseInsensitiveScheme(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)
	c.Request.Header.Set("Authorization", "bEaReR  abc123 ")

	assert.Equal(t, "abc123", extractBearerToken(c))
}

func TestExtractBearerToken_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"no bearer prefix", "abc123"},
		{"basic auth", "Basic abc123"},
		{"empty bearer", "Bearer "},
		{"only bearer", "Bearer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			assert.Empty(t, extractBearerToken(c))
		})
	}
}

// =============================================================================
// AuthMiddleware Tests
// =============================================================================

func TestAuthMiddleware_Success(t *testing.T) {
	provider := &mockAuthProvider{authInfo: &extensions.AuthInfo{UserID: "alice"}}
	r := newAuthRouter(provider)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set("Authorization", "Bearer tok")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())
	assert.Equal(t, "tok", provider.lastToken)
}

func TestAuthMiddleware_QueryTokenFallback(t *testing.T) {
	provider := &mockAuthProvider{authInfo: &extensions.AuthInfo{UserID: "bob"}}
	r := newAuthRouter(provider)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/whoami?access_token=qtok", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "qtok", provider.lastToken)
}

func TestAuthMiddleware_HeaderWinsOverQuery(t *testing.T) {
	provider := &mockAuthProvider{authInfo: &extensions.AuthInfo{UserID: "bob"}}
	r := newAuthRouter(provider)

	req := httptest.NewRequest("GET", "/whoami?access_token=qtok", nil)
	req.Header.Set("Authorization", "Bearer htok")
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "htok", provider.lastToken)
}

func TestAuthMiddleware_Failures(t *testing.T) {
	tests := []struct {
		name     string
		provider *mockAuthProvider
		wantBody string
	}{
		{"unauthorized", &mockAuthProvider{err: fmt.Errorf("%w: bad", extensions.ErrUnauthorized)}, `{"error":"unauthorized"}`},
		{"provider failure", &mockAuthProvider{err: errors.New("idp down")}, `{"error":"authentication failed"}`},
		{"nil identity", &mockAuthProvider{}, `{"error":"authentication failed"}`},
		{"empty user", &mockAuthProvider{authInfo: &extensions.AuthInfo{}}, `{"error":"authentication failed"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newAuthRouter(tt.provider)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest("GET", "/whoami", nil))

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestAuthMiddleware_StaticTokens(t *testing.T) {
	provider, err := extensions.NewStaticTokenAuthProvider(map[string]string{"s3cret": "carol"})
	require.NoError(t, err)
	r := newAuthRouter(provider)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	r.ServeHTTP(w, req)
	assert.Equal(t, "carol", w.Body.String())

	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetAuthInfo_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, GetAuthInfo(c))

	c.Set(authInfoKey, "not auth info")
	assert.Nil(t, GetAuthInfo(c))
}
