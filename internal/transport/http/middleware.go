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
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/opentrusty/tenantcore/internal/observability/logger"
	"github.com/opentrusty/tenantcore/internal/tenant"
)

// Tenant Context Principles:
// 1. The tenant is resolved once per request, before any handler runs
// 2. The resolved value is immutable for the rest of the request
// 3. Resolution never fails; validation happens where a namespace is needed
//
// Anti-Patterns (FORBIDDEN):
// - Reading X-Tenant-ID in handlers instead of the request context
// - Treating an empty tenant as the platform on tenant routes
// - Trusting the tenant claim of a token without TenantOwned

// TenantResolver publishes the request's tenant context from the
// X-Tenant-ID header or the leftmost host label.
func TenantResolver(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := tenant.Extract(r.Header.Get(tenant.HeaderTenantID), r.Host)
		ctx := tenant.NewContext(r.Context(), tenant.Context{ID: id})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				attrs := []any{
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(ClientIP(r)),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				}
				if tc, ok := tenant.FromContext(r.Context()); ok && tc.ID != "" {
					attrs = append(attrs, logger.TenantID(tc.ID))
				}
				slog.InfoContext(r.Context(), "http_request", attrs...)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// CORSMiddleware allows browser clients from origins. With no origins
// configured cross-origin requests are not allowed.
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", tenant.HeaderTenantID},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Scope", "Retry-After"},
		MaxAge:         600,
	})
	return c.Handler
}
