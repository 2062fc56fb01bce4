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
	"fmt"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/opentrusty/tenantcore/internal/audit"
	"github.com/opentrusty/tenantcore/internal/autherr"
	"github.com/opentrusty/tenantcore/internal/identity"
	"github.com/opentrusty/tenantcore/internal/notify"
	"github.com/opentrusty/tenantcore/internal/observability/metrics"
	"github.com/opentrusty/tenantcore/internal/tenant"
	"github.com/opentrusty/tenantcore/internal/token"
)

// TestPurpose: Validates the full tenant login path with a device registration.
// Scope: Unit Test
// Security: Session establishment bound to one tenant
// Expected: Tokens carry the tenant id and role, the device is bound and the login is audited.
// Test Case ID: AUTH-01
func TestOrchestrator_LoginTenant(t *testing.T) {
	e := newTestEnv(t)
	e.createTenant(t, "acme", nil)
	user := e.addUser(t, "acme", "driver@acme.test")
	ctx := tenant.WithID(context.Background(), "acme")

	name := "Pixel 9"
	req := loginAs("Driver@Acme.test")
	req.DeviceID = "dev-1"
	req.DeviceName = &name

	res, err := e.orch.LoginTenant(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, user.ID, res.Identity.ID)
	require.NotNil(t, res.DeviceBindingID, "AUTH-01: device must be bound")

	claims, err := e.deps.Issuer.ParseAccess(res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "acme", claims.Tenant())
	assert.Equal(t, identity.RoleTenantUser, claims.Role)
	assert.Empty(t, claims.Purpose)
	assert.WithinDuration(t, time.Now().Add(time.Hour), res.Tokens.AccessExpiresAt, time.Minute)
	assert.Equal(t, 1, e.audit.count(audit.TypeLoginSuccess))

	// Without a device id the login still succeeds, unbound.
	res, err = e.orch.LoginTenant(ctx, loginAs("driver@acme.test"))
	require.NoError(t, err)
	assert.Nil(t, res.DeviceBindingID)
}

// TestPurpose: Validates that tenant resolution failures stop the login before credentials are checked.
// Scope: Unit Test
// Security: Fail-closed tenant resolution (CWE-284)
// Expected: Missing, malformed and unknown tenants fail with their own kinds; no login_failed audit is written.
// Test Case ID: AUTH-02
func TestOrchestrator_TenantResolution(t *testing.T) {
	e := newTestEnv(t)
	e.createTenant(t, "acme", nil)
	e.addUser(t, "acme", "driver@acme.test")
	req := loginAs("driver@acme.test")

	_, err := e.orch.LoginTenant(context.Background(), req)
	assert.ErrorIs(t, err, autherr.ErrTenantContextMissing)

	_, err = e.orch.LoginTenant(tenant.WithID(context.Background(), "Bad_Slug"), req)
	assert.ErrorIs(t, err, autherr.ErrInvalidTenantIdentifier)

	_, err = e.orch.LoginTenant(tenant.WithID(context.Background(), "ghost"), req)
	assert.ErrorIs(t, err, autherr.ErrTenantNotFound)

	assert.Zero(t, e.audit.count(audit.TypeLoginFailed))
}

// TestPurpose: Validates that identities cannot log in through another tenant or the platform.
// Scope: Unit Test
// Security: Cross-tenant isolation (CWE-639)
// Expected: The same credentials fail with InvalidCredentials outside the owning namespace.
// Test Case ID: AUTH-03
func TestOrchestrator_CrossNamespaceLogin(t *testing.T) {
	e := newTestEnv(t)
	e.createTenant(t, "acme", nil)
	e.createTenant(t, "globex", nil)
	e.addUser(t, "acme", "driver@acme.test")
	req := loginAs("driver@acme.test")

	_, err := e.orch.LoginTenant(tenant.WithID(context.Background(), "globex"), req)
	assert.ErrorIs(t, err, autherr.ErrInvalidCredentials)

	_, err = e.orch.LoginPlatform(context.Background(), req)
	assert.ErrorIs(t, err, autherr.ErrInvalidCredentials)
}

// TestPurpose: Validates the device allow-list approval scenario end to end.
// Scope: Unit Test
// Security: Device allow-listing
// Expected: First attempt records a pending binding and fails; after approval the same device logs in with its binding id.
// Test Case ID: AUTH-04
func TestOrchestrator_DeviceAllowlist(t *testing.T) {
	e := newTestEnv(t)
	policy := tenant.DefaultPolicy()
	policy.EnforceDeviceAllowlist = true
	e.createTenant(t, "acme", &policy)
	e.addUser(t, "acme", "driver@acme.test")
	ctx := tenant.WithID(context.Background(), "acme")

	req := loginAs("driver@acme.test")
	req.DeviceID = "dev-1"

	_, err := e.orch.LoginTenant(ctx, req)
	require.ErrorIs(t, err, autherr.ErrDeviceApprovalRequired)
	assert.Len(t, e.notes.ofType(notify.TypeDevicePending), 1)

	pending, err := e.admin.ListPendingDevices(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "dev-1", pending[0].DeviceID)

	_, err = e.admin.ApproveDevice(ctx, pending[0].ID, "admin")
	require.NoError(t, err)

	res, err := e.orch.LoginTenant(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, res.DeviceBindingID)
	assert.Equal(t, pending[0].ID, *res.DeviceBindingID)

	req.DeviceID = ""
	_, err = e.orch.LoginTenant(ctx, req)
	assert.ErrorIs(t, err, autherr.ErrDeviceApprovalRequired, "AUTH-04: a missing device id cannot pass the allow-list")
}

// TestPurpose: Validates that deactivating a tenant blocks login and refresh, and reactivation restores them.
// Scope: Unit Test
// Security: Tenant suspension
// Expected: Correct credentials and a valid refresh token both fail with TenantInactive while deactivated.
// Test Case ID: AUTH-05
func TestOrchestrator_TenantDeactivated(t *testing.T) {
	e := newTestEnv(t)
	e.createTenant(t, "acme", nil)
	e.addUser(t, "acme", "driver@acme.test")
	ctx := tenant.WithID(context.Background(), "acme")

	res, err := e.orch.LoginTenant(ctx, loginAs("driver@acme.test"))
	require.NoError(t, err)

	require.NoError(t, e.admin.Tenants().Deactivate(ctx, "acme", "root"))

	_, err = e.orch.LoginTenant(ctx, loginAs("driver@acme.test"))
	assert.ErrorIs(t, err, autherr.ErrTenantInactive)
	_, _, err = e.orch.Refresh(ctx, res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, autherr.ErrTenantInactive)

	require.NoError(t, e.admin.Tenants().Activate(ctx, "acme", "root"))
	_, _, err = e.orch.Refresh(ctx, res.Tokens.RefreshToken)
	assert.NoError(t, err)
}

// TestPurpose: Validates lockout after repeated failures and administrative unlock.
// Scope: Unit Test
// Security: Brute force protection (CWE-307)
// Expected: Five wrong passwords lock the account so the correct one fails with AccountLocked until unlocked.
// Test Case ID: AUTH-06
func TestOrchestrator_Lockout(t *testing.T) {
	e := newTestEnv(t)
	e.createTenant(t, "acme", nil)
	user := e.addUser(t, "acme", "driver@acme.test")
	ctx := tenant.WithID(context.Background(), "acme")

	wrong := loginAs("driver@acme.test")
	wrong.Password = "wrong-password"
	for i := 0; i < 5; i++ {
		_, err := e.orch.LoginTenant(ctx, wrong)
		require.ErrorIs(t, err, autherr.ErrInvalidCredentials)
	}

	_, err := e.orch.LoginTenant(ctx, loginAs("driver@acme.test"))
	assert.ErrorIs(t, err, autherr.ErrAccountLocked)

	require.NoError(t, e.admin.UnlockIdentity(ctx, user.ID, "admin"))
	_, err = e.orch.LoginTenant(ctx, loginAs("driver@acme.test"))
	assert.NoError(t, err)
}

// TestPurpose: Validates the MFA step for an enrolled identity.
// Scope: Unit Test
// Security: Second factor enforcement
// Expected: No code fails with MfaRequired, a wrong code with InvalidMfaToken, a current code succeeds.
// Test Case ID: AUTH-07
func TestOrchestrator_MfaStep(t *testing.T) {
	e := newTestEnv(t)
	e.createTenant(t, "acme", nil)
	e.addUser(t, "acme", "driver@acme.test")
	ctx := tenant.WithID(context.Background(), "acme")

	res, err := e.orch.LoginTenant(ctx, loginAs("driver@acme.test"))
	require.NoError(t, err)
	claims, err := e.deps.Issuer.ParseAccess(res.Tokens.AccessToken)
	require.NoError(t, err)

	enrollment, err := e.account.SetupMfa(ctx, claims)
	require.NoError(t, err)
	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, e.account.ConfirmMfa(ctx, claims, code))

	req := loginAs("driver@acme.test")
	_, err = e.orch.LoginTenant(ctx, req)
	assert.ErrorIs(t, err, autherr.ErrMfaRequired)

	req.MfaCode, err = totp.GenerateCode(enrollment.Secret, time.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	_, err = e.orch.LoginTenant(ctx, req)
	assert.ErrorIs(t, err, autherr.ErrInvalidMfaToken)

	// The confirmation consumed the current step; the next one is still
	// inside the window.
	req.MfaCode, err = totp.GenerateCode(enrollment.Secret, time.Now().Add(30*time.Second))
	require.NoError(t, err)
	_, err = e.orch.LoginTenant(ctx, req)
	assert.NoError(t, err)
}

// TestPurpose: Validates that repeated wrong codes at login exhaust the second factor for that identity.
// Scope: Unit Test
// Security: Second-factor brute force after password compromise (CWE-307)
// Expected: After 5 logins with wrong codes, a login with a valid code still fails with InvalidMfaToken.
// Test Case ID: AUTH-16
func TestOrchestrator_MfaFailureLimit(t *testing.T) {
	e := newTestEnv(t)
	e.createTenant(t, "acme", nil)
	e.addUser(t, "acme", "driver@acme.test")
	ctx := tenant.WithID(context.Background(), "acme")

	res, err := e.orch.LoginTenant(ctx, loginAs("driver@acme.test"))
	require.NoError(t, err)
	claims, err := e.deps.Issuer.ParseAccess(res.Tokens.AccessToken)
	require.NoError(t, err)
	enrollment, err := e.account.SetupMfa(ctx, claims)
	require.NoError(t, err)
	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, e.account.ConfirmMfa(ctx, claims, code))

	req := loginAs("driver@acme.test")
	req.MfaCode, err = totp.GenerateCode(enrollment.Secret, time.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = e.orch.LoginTenant(ctx, req)
		assert.ErrorIs(t, err, autherr.ErrInvalidMfaToken, "AUTH-16: attempt %d", i+1)
	}

	req.MfaCode, err = totp.GenerateCode(enrollment.Secret, time.Now().Add(30*time.Second))
	require.NoError(t, err)
	_, err = e.orch.LoginTenant(ctx, req)
	assert.ErrorIs(t, err, autherr.ErrInvalidMfaToken)
}

// TestPurpose: Validates that an enforcing tenant policy sends unenrolled identities to MFA setup.
// Scope: Unit Test
// Security: Policy-mandated MFA
// Expected: Login fails with MfaSetupRequired carrying a setup-only token; enrolling with it unlocks login.
// Test Case ID: AUTH-08
func TestOrchestrator_MfaSetupRequired(t *testing.T) {
	e := newTestEnv(t)
	policy := tenant.DefaultPolicy()
	policy.RequireMfaForUsers = true
	e.createTenant(t, "acme", &policy)
	e.addUser(t, "acme", "driver@acme.test")
	ctx := tenant.WithID(context.Background(), "acme")

	_, err := e.orch.LoginTenant(ctx, loginAs("driver@acme.test"))
	require.ErrorIs(t, err, autherr.ErrMfaSetupRequired)
	assert.Equal(t, autherr.MfaSetupRequired, autherr.KindOf(err))

	var setupErr *MfaSetupRequiredError
	require.ErrorAs(t, err, &setupErr)
	claims, err := e.deps.Issuer.ParseAccess(setupErr.SetupToken)
	require.NoError(t, err)
	assert.Equal(t, token.PurposeMfaSetup, claims.Purpose)

	enrollment, err := e.account.SetupMfa(ctx, claims)
	require.NoError(t, err)
	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, e.account.ConfirmMfa(ctx, claims, code))

	req := loginAs("driver@acme.test")
	req.MfaCode, err = totp.GenerateCode(enrollment.Secret, time.Now().Add(30*time.Second))
	require.NoError(t, err)
	_, err = e.orch.LoginTenant(ctx, req)
	assert.NoError(t, err)
}

// TestPurpose: Validates the tenant IP allow-list at login.
// Scope: Unit Test
// Security: Network-level access restriction
// Expected: An address outside the allowed prefix fails with IpNotAllowed; one inside succeeds.
// Test Case ID: AUTH-09
func TestOrchestrator_IPAllowlist(t *testing.T) {
	e := newTestEnv(t)
	policy := tenant.DefaultPolicy()
	policy.EnforceIPAllowlist = true
	policy.AllowedIPs = []string{"10.0.0.0/8"}
	e.createTenant(t, "acme", &policy)
	e.addUser(t, "acme", "driver@acme.test")
	ctx := tenant.WithID(context.Background(), "acme")

	req := loginAs("driver@acme.test")
	req.IP = "192.168.1.10"
	_, err := e.orch.LoginTenant(ctx, req)
	assert.ErrorIs(t, err, autherr.ErrIpNotAllowed)

	req.IP = "10.2.3.4"
	_, err = e.orch.LoginTenant(ctx, req)
	assert.NoError(t, err)
}

// TestPurpose: Validates that a login from a new address is flagged without being blocked.
// Scope: Unit Test
// Security: Suspicious login detection
// Expected: Only the login whose address differs from the previous one produces a suspicious audit event and notification.
// Test Case ID: AUTH-10
func TestOrchestrator_SuspiciousLogin(t *testing.T) {
	e := newTestEnv(t)
	e.createTenant(t, "acme", nil)
	e.addUser(t, "acme", "driver@acme.test")
	ctx := tenant.WithID(context.Background(), "acme")

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.2"} {
		req := loginAs("driver@acme.test")
		req.IP = ip
		_, err := e.orch.LoginTenant(ctx, req)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, e.audit.count(audit.TypeLoginSuspicious))
	assert.Equal(t, 2, e.audit.count(audit.TypeLoginSuccess))
	events := e.notes.ofType(notify.TypeLoginSuspicious)
	require.Len(t, events, 1)
	assert.Equal(t, "10.0.0.1", events[0].Payload["previous_ip"])
	assert.Equal(t, "acme", events[0].TenantID)
}

// TestPurpose: Validates refresh rotation and reuse detection through the orchestrator.
// Scope: Unit Test
// Security: Refresh token replay (CWE-294)
// Expected: The first rotation succeeds; replaying the old token fails, revokes the family and raises a notification.
// Test Case ID: AUTH-11
func TestOrchestrator_RefreshReuse(t *testing.T) {
	e := newTestEnv(t)
	e.createTenant(t, "acme", nil)
	e.addUser(t, "acme", "driver@acme.test")
	ctx := tenant.WithID(context.Background(), "acme")

	res, err := e.orch.LoginTenant(ctx, loginAs("driver@acme.test"))
	require.NoError(t, err)

	next, claims, err := e.orch.Refresh(ctx, res.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "acme", claims.Tenant())

	_, _, err = e.orch.Refresh(ctx, res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, autherr.ErrInvalidRefreshToken)
	assert.ErrorIs(t, err, token.ErrRefreshTokenReused)
	assert.Len(t, e.notes.ofType(notify.TypeTokenReuseDetected), 1)

	_, _, err = e.orch.Refresh(ctx, next.RefreshToken)
	assert.ErrorIs(t, err, autherr.ErrInvalidRefreshToken, "AUTH-11: the successor must be revoked with the family")
}

// TestPurpose: Validates that a refresh token cannot be used through another tenant's endpoint.
// Scope: Unit Test
// Security: Cross-tenant token use (CWE-639)
// Expected: A request resolved to another tenant fails with TenantAccessDenied; one without tenant context uses the token's own namespace.
// Test Case ID: AUTH-12
func TestOrchestrator_RefreshCrossTenant(t *testing.T) {
	e := newTestEnv(t)
	e.createTenant(t, "acme", nil)
	e.createTenant(t, "globex", nil)
	e.addUser(t, "acme", "driver@acme.test")

	res, err := e.orch.LoginTenant(tenant.WithID(context.Background(), "acme"), loginAs("driver@acme.test"))
	require.NoError(t, err)

	_, _, err = e.orch.Refresh(tenant.WithID(context.Background(), "globex"), res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, autherr.ErrTenantAccessDenied)

	_, claims, err := e.orch.Refresh(context.Background(), res.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "acme", claims.Tenant())
}

// TestPurpose: Validates that unclassified storage failures never reach the caller.
// Scope: Unit Test
// Security: Information disclosure (CWE-209)
// Expected: A database failure during login surfaces as LoginFailed.
// Test Case ID: AUTH-13
func TestOrchestrator_StorageFailureIsGeneric(t *testing.T) {
	e := newTestEnv(t)
	e.createTenant(t, "acme", nil)

	deps := e.deps
	deps.Access = brokenAccess{}
	orch := NewOrchestrator(deps)

	_, err := orch.LoginTenant(tenant.WithID(context.Background(), "acme"), loginAs("driver@acme.test"))
	assert.ErrorIs(t, err, autherr.ErrLoginFailed)
	assert.NotContains(t, err.Error(), "10.0.0.5")

	_, err = orch.LoginPlatform(context.Background(), loginAs("root@platform.test"))
	assert.ErrorIs(t, err, autherr.ErrLoginFailed)
}

// TestPurpose: Validates platform administrator bootstrap and login.
// Scope: Unit Test
// Security: Platform scope separation
// Expected: Bootstrap runs once; the admin logs in with platform claims and no tenant id.
// Test Case ID: AUTH-14
func TestOrchestrator_LoginPlatform(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	created, err := e.admin.BootstrapPlatformAdmin(ctx, "root@platform.test", testPassword)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = e.admin.BootstrapPlatformAdmin(ctx, "other@platform.test", testPassword)
	require.NoError(t, err)
	assert.False(t, created)

	res, err := e.orch.LoginPlatform(ctx, loginAs("root@platform.test"))
	require.NoError(t, err)
	claims, err := e.deps.Issuer.ParseAccess(res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Nil(t, claims.TenantID)
	assert.Equal(t, identity.RolePlatformAdmin, claims.Role)

	require.NoError(t, e.orch.Logout(ctx, claims))
	_, _, err = e.orch.Refresh(ctx, res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, autherr.ErrInvalidRefreshToken, "AUTH-14: logout revokes refresh tokens")
}

// TestPurpose: Validates that login and refresh outcomes are counted.
// Scope: Unit Test
// Expected: Attempts are counted per outcome and a replayed refresh increments the reuse counter.
// Test Case ID: AUTH-15
func TestOrchestrator_Metrics(t *testing.T) {
	e := newTestEnv(t)
	reader := sdkmetric.NewManualReader()
	in, err := metrics.NewAuthInstruments(metrics.NewWithProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), "tenantcore-test"))
	require.NoError(t, err)
	deps := e.deps
	deps.Instruments = in
	orch := NewOrchestrator(deps)

	e.createTenant(t, "acme", nil)
	e.addUser(t, "acme", "driver@acme.test")
	ctx := tenant.WithID(context.Background(), "acme")

	bad := loginAs("driver@acme.test")
	bad.Password = "wrong-password"
	_, err = orch.LoginTenant(ctx, bad)
	require.Error(t, err)
	res, err := orch.LoginTenant(ctx, loginAs("driver@acme.test"))
	require.NoError(t, err)
	_, _, err = orch.Refresh(ctx, res.Tokens.RefreshToken)
	require.NoError(t, err)
	_, _, err = orch.Refresh(ctx, res.Tokens.RefreshToken)
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(2), totals["auth.login.attempts"])
	assert.Equal(t, int64(2), totals["auth.refresh.rotations"])
	assert.Equal(t, int64(1), totals["auth.refresh.reuse_detected"], fmt.Sprintf("totals: %v", totals))
}
