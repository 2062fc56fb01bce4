// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/opentrusty/tenantcore/internal/autherr"
	"github.com/opentrusty/tenantcore/internal/cache"
	"github.com/opentrusty/tenantcore/internal/observability/logger"
	"github.com/opentrusty/tenantcore/internal/tenant"
)

const (
	scopeIP     = "ip"
	scopeTenant = "tenant"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages rate limiting for IPs
type RateLimiter struct {
	ips     map[string]*visitor
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		ips:     make(map[string]*visitor),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: 10 * time.Minute,
	}
}

// GetLimiter returns a limiter for an IP
func (rl *RateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.ips[ip]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.ips[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// Run evicts idle visitors until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(rl.idleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.evictIdle(now)
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, v := range rl.ips {
		if now.Sub(v.lastSeen) > rl.idleTTL {
			delete(rl.ips, ip)
		}
	}
}

func (rl *RateLimiter) retryAfter() time.Duration {
	if rl.rps <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / float64(rl.rps))
}

// RateLimitMiddleware creates a middleware for rate limiting
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := rl.GetLimiter(ClientIP(r))
			allowed := limiter.Allow()
			setRateHeaders(w, scopeIP, rl.burst, int(limiter.Tokens()))
			if !allowed {
				rejectRate(w, rl.retryAfter())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TenantQuota is a fixed-window request quota per tenant. Counters live
// in the shared cache so every instance draws from the same window.
type TenantQuota struct {
	store  cache.Store
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewTenantQuota allows limit requests per tenant per window.
func NewTenantQuota(store cache.Store, limit int, window time.Duration) *TenantQuota {
	return &TenantQuota{store: store, limit: limit, window: window, now: time.Now}
}

// Middleware enforces the quota for requests carrying a well-formed
// tenant id. Cache failures let the request through.
func (q *TenantQuota) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if q == nil || q.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		slug, err := tenant.ResolveID(r.Context())
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		now := q.now()
		start := now.Truncate(q.window)
		key := fmt.Sprintf("ratelimit:tenant:%s:%d", slug, start.Unix())
		count, err := q.store.Incr(r.Context(), key, q.window)
		if err != nil {
			slog.WarnContext(r.Context(), "tenant quota unavailable",
				logger.Component("ratelimit"),
				logger.TenantID(slug),
				logger.Error(err),
			)
			next.ServeHTTP(w, r)
			return
		}

		setRateHeaders(w, scopeTenant, q.limit, q.limit-int(count))
		if count > int64(q.limit) {
			rejectRate(w, start.Add(q.window).Sub(now))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func setRateHeaders(w http.ResponseWriter, scope string, limit, remaining int) {
	if remaining < 0 {
		remaining = 0
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Scope", scope)
}

func rejectRate(w http.ResponseWriter, wait time.Duration) {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	respondKind(w, autherr.RateLimited)
}
