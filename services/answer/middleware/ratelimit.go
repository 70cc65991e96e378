// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-user request limiting.
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained rate per user. Zero disables
	// limiting.
	RequestsPerMinute int

	// Burst is the bucket size. Defaults to RequestsPerMinute.
	Burst int

	// IdleTTL evicts limiters for users that have been quiet this long.
	// Default: 10m
	IdleTTL time.Duration

	// OnLimited is called for every rejected request. Optional.
	OnLimited func()
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UserRateLimiter hands out one token bucket per user.
//
// # Thread Safety
//
// Safe for concurrent use.
type UserRateLimiter struct {
	cfg   RateLimitConfig
	mu    sync.Mutex
	users map[string]*userLimiter
	now   func() time.Time
}

// NewUserRateLimiter creates a limiter. A zero RequestsPerMinute yields a
// limiter that allows everything.
func NewUserRateLimiter(cfg RateLimitConfig) *UserRateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RequestsPerMinute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &UserRateLimiter{
		cfg:   cfg,
		users: make(map[string]*userLimiter),
		now:   time.Now,
	}
}

// Allow reports whether userID may make another request now.
func (l *UserRateLimiter) Allow(userID string) bool {
	if l.cfg.RequestsPerMinute <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)

	u, ok := l.users[userID]
	if !ok {
		every := time.Minute / time.Duration(l.cfg.RequestsPerMinute)
		u = &userLimiter{limiter: rate.NewLimiter(rate.Every(every), l.cfg.Burst)}
		l.users[userID] = u
	}
	u.lastSeen = now
	return u.limiter.AllowN(now, 1)
}

// evict drops idle users. Caller holds mu.
func (l *UserRateLimiter) evict(now time.Time) {
	for id, u := range l.users {
		if now.Sub(u.lastSeen) > l.cfg.IdleTTL {
			delete(l.users, id)
		}
	}
}

// Middleware rejects requests over the user's rate with 429.
//
// Must run after AuthMiddleware; requests without an identity are keyed
// by client IP.
func (l *UserRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if info := GetAuthInfo(c); info != nil {
			key = info.UserID
		}

		if !l.Allow(key) {
			if l.cfg.OnLimited != nil {
				l.cfg.OnLimited()
			}
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
