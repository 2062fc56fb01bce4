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
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opentrusty/tenantcore/internal/autherr"
	"github.com/opentrusty/tenantcore/internal/identity"
	"github.com/opentrusty/tenantcore/internal/observability/logger"
	"github.com/opentrusty/tenantcore/internal/tenant"
	"github.com/opentrusty/tenantcore/internal/token"
)

// Guard is the ordered access check for protected routes. Each stage
// short-circuits with a classified error; later stages rely on the
// context published by earlier ones.
type Guard struct {
	issuer  *token.Issuer
	tenants tenant.Repository
}

// NewGuard creates a guard that verifies access tokens with issuer and
// reads tenant policy from tenants.
func NewGuard(issuer *token.Issuer, tenants tenant.Repository) *Guard {
	return &Guard{issuer: issuer, tenants: tenants}
}

// Chain is Authenticated, Authorized(roles), TenantPresent, TenantOwned.
func (g *Guard) Chain(roles ...identity.Role) chi.Middlewares {
	return chi.Middlewares{g.Authenticated, g.Authorized(roles...), g.TenantPresent, g.TenantOwned}
}

// PlatformChain guards platform administration routes.
func (g *Guard) PlatformChain() chi.Middlewares {
	return chi.Middlewares{g.Authenticated, g.Authorized(identity.RolePlatformAdmin)}
}

// Authenticated accepts ordinary session access tokens only.
func (g *Guard) Authenticated(next http.Handler) http.Handler {
	return g.authenticate("", next)
}

// AuthenticatedFor accepts ordinary session tokens and tokens minted for
// purpose. Purpose tokens are refused everywhere else.
func (g *Guard) AuthenticatedFor(purpose string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return g.authenticate(purpose, next)
	}
}

func (g *Guard) authenticate(purpose string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			respondKind(w, autherr.Unauthenticated)
			return
		}
		claims, err := g.issuer.ParseAccess(raw)
		if err != nil {
			respondKind(w, autherr.Unauthenticated)
			return
		}
		if claims.Purpose != "" && claims.Purpose != purpose {
			respondKind(w, autherr.Unauthenticated)
			return
		}
		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

// Authorized requires the caller's role to be one of roles.
func (g *Guard) Authorized(roles ...identity.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				respondKind(w, autherr.Unauthenticated)
				return
			}
			if !slices.Contains(roles, claims.Role) {
				respondKind(w, autherr.InsufficientRole)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TenantPresent requires a valid tenant identifier on the request.
func (g *Guard) TenantPresent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := tenant.ResolveID(r.Context()); err != nil {
			respondKind(w, autherr.KindOf(err))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// TenantOwned requires the token's tenant to be the requested one, the
// tenant to be active and the caller's address to pass its allow-list.
// Denials never name the tenant the token belongs to.
func (g *Guard) TenantOwned(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		claims, ok := ClaimsFromContext(ctx)
		if !ok {
			respondKind(w, autherr.Unauthenticated)
			return
		}
		slug, err := tenant.ResolveID(ctx)
		if err != nil {
			respondKind(w, autherr.KindOf(err))
			return
		}
		if claims.TenantID == nil || *claims.TenantID != slug {
			slog.WarnContext(ctx, "cross-tenant request denied",
				logger.Component("guard"),
				logger.UserID(claims.Subject),
				logger.TenantID(slug),
			)
			respondKind(w, autherr.TenantAccessDenied)
			return
		}

		t, err := g.tenants.GetBySlug(ctx, slug)
		if err != nil {
			if errors.Is(err, tenant.ErrTenantNotFound) {
				respondKind(w, autherr.TenantAccessDenied)
				return
			}
			writeError(w, r, err)
			return
		}
		if !t.IsActive {
			respondKind(w, autherr.TenantInactive)
			return
		}
		if !t.Policy.AllowsIP(ClientIP(r)) {
			respondKind(w, autherr.IpNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(h[len(prefix):])
	return tok, tok != ""
}
