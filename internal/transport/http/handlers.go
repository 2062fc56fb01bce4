// @title tenantcore API
// @version 1.0.0
// @description Multi-tenant authentication and tenant isolation core
// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/swaggo/swag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opentrusty/tenantcore/internal/auth"
	"github.com/opentrusty/tenantcore/internal/identity"
	"github.com/opentrusty/tenantcore/internal/token"
)

// Router modes
const (
	ModeAuth  = "auth"
	ModeAdmin = "admin"
	ModeAll   = "all"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	orchestrator *auth.Orchestrator
	accounts     *auth.AccountService
	admin        *auth.AdminService
	guard        *Guard
}

// NewHandler creates a new HTTP handler
func NewHandler(orchestrator *auth.Orchestrator, accounts *auth.AccountService, admin *auth.AdminService, guard *Guard) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		accounts:     accounts,
		admin:        admin,
		guard:        guard,
	}
}

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	// Mode selects the mounted planes: "auth", "admin" or "all".
	Mode              string
	AllowedOrigins    []string
	TrustProxyHeaders bool
	RequestTimeout    time.Duration
	TenantQuota       *TenantQuota
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter, opts RouterOptions) *chi.Mux {
	if opts.Mode == "" {
		opts.Mode = ModeAll
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(ClientIPMiddleware(opts.TrustProxyHeaders))
	r.Use(CORSMiddleware(opts.AllowedOrigins))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(TenantResolver)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(opts.TenantQuota.Middleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/swagger/doc.json", h.OpenAPI)

	authPlane := opts.Mode == ModeAuth || opts.Mode == ModeAll
	adminPlane := opts.Mode == ModeAdmin || opts.Mode == ModeAll

	r.Route("/api/v1", func(r chi.Router) {
		if authPlane {
			r.Route("/auth", func(r chi.Router) {
				r.Post("/platform/login", h.LoginPlatform)
				r.Post("/login", h.Login)
				r.Post("/refresh", h.Refresh)
				r.Post("/password/forgot", h.ForgotPassword)
				r.Post("/password/reset", h.ResetPassword)
				r.Post("/email/verification", h.RequestEmailVerification)
				r.Post("/email/verify", h.VerifyEmail)

				r.Group(func(r chi.Router) {
					r.Use(h.guard.Authenticated)
					r.Get("/me", h.GetCurrentUser)
					r.Post("/logout", h.Logout)
					r.Post("/password/change", h.ChangePassword)
				})

				r.Group(func(r chi.Router) {
					r.Use(h.guard.AuthenticatedFor(token.PurposeMfaSetup))
					r.Post("/mfa/setup", h.SetupMfa)
					r.Post("/mfa/confirm", h.ConfirmMfa)
				})
			})
		}

		if adminPlane {
			if !authPlane {
				// Session check for admin consoles.
				r.With(h.guard.Authenticated).Get("/auth/me", h.GetCurrentUser)
			}

			r.Route("/platform/tenants", func(r chi.Router) {
				r.Use(h.guard.PlatformChain()...)
				r.Post("/", h.CreateTenant)
				r.Get("/", h.ListTenants)
				r.Get("/{slug}", h.GetTenant)
				r.Put("/{slug}/policy", h.UpdateTenantPolicy)
				r.Post("/{slug}/deactivate", h.DeactivateTenant)
				r.Post("/{slug}/activate", h.ActivateTenant)
			})

			r.Route("/tenant", func(r chi.Router) {
				r.Use(h.guard.Chain(identity.RoleTenantAdmin)...)
				r.Post("/identities", h.ProvisionIdentity)
				r.Get("/identities", h.ListIdentities)
				r.Post("/identities/{identityID}/unlock", h.UnlockIdentity)
				r.Post("/identities/{identityID}/deactivate", h.DeactivateIdentity)
				r.Post("/identities/{identityID}/activate", h.ActivateIdentity)
				r.Delete("/identities/{identityID}/sessions", h.RevokeSessions)
				r.Get("/identities/{identityID}/devices", h.ListIdentityDevices)
				r.Get("/devices/pending", h.ListPendingDevices)
				r.Post("/devices/{bindingID}/approve", h.ApproveDevice)
				r.Delete("/devices/{bindingID}", h.RevokeDevice)
			})
		}
	})

	return r
}

// HealthResponse is the body of the health check.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// HealthCheck returns the health status
// @Summary Health Check
// @Description Checks if the service is up and running
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Service: "tenantcore",
	})
}

// OpenAPI serves the registered OpenAPI document.
func (h *Handler) OpenAPI(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		respondError(w, http.StatusNotFound, "api documentation not available")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

func actorOf(r *http.Request) string {
	if c, ok := ClaimsFromContext(r.Context()); ok {
		return c.Subject
	}
	return ""
}
