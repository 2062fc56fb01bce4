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

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/tenantcore/internal/autherr"
	"github.com/opentrusty/tenantcore/internal/identity"
	"github.com/opentrusty/tenantcore/internal/store"
	"github.com/opentrusty/tenantcore/internal/tenant"
	"github.com/opentrusty/tenantcore/internal/token"
)

// TestPurpose: Validates tenant creation with its initial administrator.
// Scope: Unit Test
// Security: Namespace provisioning
// Expected: The tenant namespace exists and the admin can log in to it; a duplicate slug is rejected.
// Test Case ID: ADM-01
func TestAdmin_CreateTenant(t *testing.T) {
	e := newTestEnv(t)
	e.createTenant(t, "acme", nil)
	ctx := tenant.WithID(context.Background(), "acme")

	res, err := e.orch.LoginTenant(ctx, loginAs("admin@acme.test"))
	require.NoError(t, err)
	assert.Equal(t, identity.RoleTenantAdmin, res.Identity.Role)

	_, _, err = e.admin.CreateTenant(context.Background(), CreateTenantInput{Slug: "acme", Name: "Acme again"}, "root")
	assert.ErrorIs(t, err, tenant.ErrTenantExists)

	_, _, err = e.admin.CreateTenant(context.Background(), CreateTenantInput{
		Slug: "initech", Name: "Initech", AdminEmail: "admin@initech.test", AdminPassword: "short",
	}, "root")
	assert.ErrorIs(t, err, identity.ErrWeakPassword)
	_, err = e.admin.Tenants().GetTenant(context.Background(), "initech")
	assert.ErrorIs(t, err, autherr.ErrTenantNotFound, "ADM-01: no tenant is left behind when the admin is invalid")
}

// TestPurpose: Validates the per-tenant quota on tenant users.
// Scope: Unit Test
// Security: Resource quota enforcement
// Expected: Provisioning beyond MaxDrivers fails; tenant admins do not count against it.
// Test Case ID: ADM-02
func TestAdmin_ProvisionQuota(t *testing.T) {
	e := newTestEnv(t)
	policy := tenant.DefaultPolicy()
	policy.MaxDrivers = 1
	e.createTenant(t, "acme", &policy)
	ctx := tenant.WithID(context.Background(), "acme")

	e.addUser(t, "acme", "one@acme.test")
	_, err := e.admin.ProvisionIdentity(ctx, ProvisionInput{Email: "two@acme.test", Password: testPassword, Role: identity.RoleTenantUser}, "admin")
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	_, err = e.admin.ProvisionIdentity(ctx, ProvisionInput{Email: "boss@acme.test", Password: testPassword, Role: identity.RoleTenantAdmin}, "admin")
	assert.NoError(t, err)

	_, err = e.admin.ProvisionIdentity(ctx, ProvisionInput{Email: "root@acme.test", Password: testPassword, Role: identity.RolePlatformAdmin}, "admin")
	assert.ErrorIs(t, err, ErrRoleNotAllowed)

	all, err := e.admin.ListIdentities(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

// TestPurpose: Validates administrative session revocation and identity deactivation.
// Scope: Unit Test
// Security: Incident response
// Expected: Revoked sessions cannot refresh; a deactivated identity can neither log in nor refresh.
// Test Case ID: ADM-03
func TestAdmin_RevokeAndDeactivate(t *testing.T) {
	e := newTestEnv(t)
	e.createTenant(t, "acme", nil)
	user := e.addUser(t, "acme", "driver@acme.test")
	ctx := tenant.WithID(context.Background(), "acme")

	first, err := e.orch.LoginTenant(ctx, loginAs("driver@acme.test"))
	require.NoError(t, err)
	n, err := e.admin.RevokeSessions(ctx, user.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, _, err = e.orch.Refresh(ctx, first.Tokens.RefreshToken)
	assert.ErrorIs(t, err, autherr.ErrInvalidRefreshToken)

	second, err := e.orch.LoginTenant(ctx, loginAs("driver@acme.test"))
	require.NoError(t, err)
	require.NoError(t, e.admin.SetIdentityActive(ctx, user.ID, false, "admin"))

	_, err = e.orch.LoginTenant(ctx, loginAs("driver@acme.test"))
	assert.ErrorIs(t, err, autherr.ErrInvalidCredentials)
	_, _, err = e.orch.Refresh(ctx, second.Tokens.RefreshToken)
	assert.ErrorIs(t, err, autherr.ErrInvalidRefreshToken)
}

// TestPurpose: Validates that the expired-token sweep covers the platform and every tenant namespace.
// Scope: Unit Test
// Expected: Expired rows are deleted everywhere and active rows are kept.
// Test Case ID: ADM-04
func TestAdmin_PurgeExpiredTokens(t *testing.T) {
	e := newTestEnv(t)
	e.createTenant(t, "acme", nil)
	e.createTenant(t, "globex", nil)
	ctx := context.Background()

	expired := time.Now().Add(-time.Hour)
	seed := func(tenantID *string, tokenID string, expiresAt time.Time) {
		require.NoError(t, store.ForTenantID(ctx, e.store, tenantID, func(ctx context.Context, s store.Scope) error {
			return s.RefreshTokens().Create(ctx, &token.RefreshToken{
				TokenID: tokenID, UserID: "u", UserRole: identity.RoleTenantUser, TenantID: tenantID, ExpiresAt: expiresAt,
			})
		}))
	}
	acme, globex := "acme", "globex"
	seed(nil, "p-old", expired)
	seed(&acme, "a-old", expired)
	seed(&globex, "g-old", expired)
	seed(&globex, "g-new", time.Now().Add(time.Hour))

	n, err := e.admin.PurgeExpiredTokens(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, store.ForTenantID(ctx, e.store, &globex, func(ctx context.Context, s store.Scope) error {
		_, err := s.RefreshTokens().GetByTokenID(ctx, "g-new")
		return err
	}))
}
