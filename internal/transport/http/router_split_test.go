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

package http_test

import (
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	transportHTTP "github.com/opentrusty/tenantcore/internal/transport/http"
)

// TestRouterSeparation verifies that 'auth' and 'admin' modes
// strictly segregate their respective endpoints.
func TestRouterSeparation(t *testing.T) {
	// Route matching never runs the handlers, so no services are needed.
	h := transportHTTP.NewHandler(nil, nil, nil, transportHTTP.NewGuard(nil, nil))

	tests := []struct {
		name        string
		mode        string
		path        string
		method      string
		expectFound bool
	}{
		{"Auth Mode should have Login", "auth", "/api/v1/auth/login", "POST", true},
		{"Auth Mode should have Platform Login", "auth", "/api/v1/auth/platform/login", "POST", true},
		{"Auth Mode should have Refresh", "auth", "/api/v1/auth/refresh", "POST", true},
		{"Auth Mode should have Session Check", "auth", "/api/v1/auth/me", "GET", true},
		{"Auth Mode should NOT have Tenants", "auth", "/api/v1/platform/tenants", "GET", false},
		{"Auth Mode should NOT have Identity Admin", "auth", "/api/v1/tenant/identities", "GET", false},
		{"Auth Mode should have Health", "auth", "/health", "GET", true},

		{"Admin Mode should have Tenants", "admin", "/api/v1/platform/tenants", "GET", true},
		{"Admin Mode should have Pending Devices", "admin", "/api/v1/tenant/devices/pending", "GET", true},
		{"Admin Mode should have Session Check", "admin", "/api/v1/auth/me", "GET", true},
		{"Admin Mode should NOT have Login", "admin", "/api/v1/auth/login", "POST", false},
		{"Admin Mode should NOT have Refresh", "admin", "/api/v1/auth/refresh", "POST", false},
		{"Admin Mode should have Health", "admin", "/health", "GET", true},

		{"All Mode should have Login", "all", "/api/v1/auth/login", "POST", true},
		{"All Mode should have Tenants", "all", "/api/v1/platform/tenants", "GET", true},
		{"All Mode should have OpenAPI", "all", "/swagger/doc.json", "GET", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := transportHTTP.NewRateLimiter(100, 100)
			r := transportHTTP.NewRouter(h, rl, transportHTTP.RouterOptions{Mode: tt.mode})

			req := httptest.NewRequest(tt.method, tt.path, nil)

			rctx := chi.NewRouteContext()
			if r.Match(rctx, req.Method, req.URL.Path) {
				if !tt.expectFound {
					t.Errorf("Mode %s: Route %s %s SHOULD NOT exist", tt.mode, tt.method, tt.path)
				}
			} else {
				if tt.expectFound {
					t.Errorf("Mode %s: Route %s %s SHOULD exist", tt.mode, tt.method, tt.path)
				}
			}
		})
	}
}
