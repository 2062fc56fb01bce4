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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opentrusty/tenantcore/internal/audit"
	"github.com/opentrusty/tenantcore/internal/auth"
	"github.com/opentrusty/tenantcore/internal/cache"
	"github.com/opentrusty/tenantcore/internal/device"
	"github.com/opentrusty/tenantcore/internal/identity"
	"github.com/opentrusty/tenantcore/internal/mfa"
	"github.com/opentrusty/tenantcore/internal/store/memory"
	"github.com/opentrusty/tenantcore/internal/tenant"
	"github.com/opentrusty/tenantcore/internal/token"
)

const (
	testPassword  = "correct-horse-battery"
	platformEmail = "root@platform.test"
)

type testServer struct {
	router http.Handler
	store  *memory.Store
	cache  *cache.Memory
	issuer *token.Issuer
	admin  *auth.AdminService
}

func newTestServer(t *testing.T, opts RouterOptions) *testServer {
	t.Helper()
	st := memory.New()
	kv := cache.NewMemory(0)
	t.Cleanup(kv.Close)

	auditLog := audit.NewSlogLogger()
	hasher := identity.NewPasswordHasher(1024, 1, 1, 16, 32)
	issuer, err := token.NewIssuer(token.Config{
		AccessSecret:  []byte("access-secret-for-tests-0123456789abcdef"),
		RefreshSecret: []byte("refresh-secret-for-tests-0123456789abcdef"),
		Issuer:        "tenantcore-test",
	}, auditLog)
	require.NoError(t, err)

	deps := auth.Dependencies{
		Access:        st,
		Tenants:       st,
		Identities:    identity.NewService(hasher, auditLog),
		Authenticator: identity.NewAuthenticator(hasher, auditLog, 5, 15*time.Minute),
		Mfa:           mfa.NewVerifier("tenantcore", kv),
		Devices:       device.NewRegistry(auditLog),
		Issuer:        issuer,
		AuditLogger:   auditLog,
	}
	admin := auth.NewAdminService(deps, tenant.NewService(st, st, auditLog))
	guard := NewGuard(issuer, st)
	h := NewHandler(auth.NewOrchestrator(deps), auth.NewAccountService(deps), admin, guard)

	return &testServer{
		router: NewRouter(h, NewRateLimiter(1000, 1000), opts),
		store:  st,
		cache:  kv,
		issuer: issuer,
		admin:  admin,
	}
}

type reqOpt func(*http.Request)

func withTenant(slug string) reqOpt {
	return func(r *http.Request) { r.Header.Set(tenant.HeaderTenantID, slug) }
}

func withBearer(tok string) reqOpt {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func withHost(host string) reqOpt {
	return func(r *http.Request) { r.Host = host }
}

func withRemote(addr string) reqOpt {
	return func(r *http.Request) { r.RemoteAddr = addr }
}

// do sends a request with Host "localhost" so no tenant is derived from
// the host unless a test asks for one.
func (s *testServer) do(t *testing.T, method, path string, body any, opts ...reqOpt) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Host = "localhost"
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) createTenant(t *testing.T, slug string, policy *tenant.Policy) {
	t.Helper()
	_, _, err := s.admin.CreateTenant(context.Background(), auth.CreateTenantInput{
		Slug:          slug,
		Name:          slug,
		Policy:        policy,
		AdminEmail:    "admin@" + slug + ".test",
		AdminPassword: testPassword,
	}, audit.ActorSystem)
	require.NoError(t, err)
}

func (s *testServer) login(t *testing.T, slug, email string) LoginResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/auth/login",
		LoginRequest{Email: email, Password: testPassword}, withTenant(slug))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func (s *testServer) platformToken(t *testing.T) string {
	t.Helper()
	_, err := s.admin.BootstrapPlatformAdmin(context.Background(), platformEmail, testPassword)
	require.NoError(t, err)
	w := s.do(t, http.MethodPost, "/api/v1/auth/platform/login",
		LoginRequest{Email: platformEmail, Password: testPassword})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.AccessToken
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func ptr[T any](v T) *T { return &v }
