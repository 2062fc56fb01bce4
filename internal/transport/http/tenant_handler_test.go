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
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/tenantcore/internal/tenant"
)

// TestPurpose: Validates authorization rules for creating tenants (only platform admins).
// Scope: Unit Test
// Security: RBAC enforcement (prevents unauthorized tenant creation)
// Expected: 401 without a token, 403 for a tenant admin, 201 for a platform admin; the new admin can log in.
// Test Case ID: TEN-07
func TestTenant_Create_AuthorizationEnforcement(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.createTenant(t, "acme", nil)
	body := CreateTenantRequest{
		Slug:          "globex",
		Name:          "Globex",
		AdminEmail:    "admin@globex.test",
		AdminPassword: testPassword,
	}

	t.Run("Unauthenticated", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/v1/platform/tenants", body)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Forbidden for tenant admin", func(t *testing.T) {
		acme := s.login(t, "acme", "admin@acme.test")
		w := s.do(t, http.MethodPost, "/api/v1/platform/tenants", body, withBearer(acme.AccessToken))
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "insufficient_role", decodeError(t, w).Code)
	})

	t.Run("Success for platform admin", func(t *testing.T) {
		root := s.platformToken(t)
		w := s.do(t, http.MethodPost, "/api/v1/platform/tenants", body, withBearer(root))
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var resp CreateTenantResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "globex", resp.Tenant.Slug)
		assert.True(t, resp.Tenant.IsActive)
		require.NotNil(t, resp.Admin)
		assert.Equal(t, "tenant_admin", resp.Admin.Role)

		login := s.login(t, "globex", "admin@globex.test")
		assert.NotEmpty(t, login.AccessToken)
	})
}

// TestPurpose: Validates input validation and conflict handling of tenant administration.
// Scope: Unit Test
// Security: Input validation on namespace names (CWE-20)
// Expected: Missing name 400; malformed slug 400; duplicate slug 409; invalid policy and session timeout above one day 400; unknown tenant 404.
// Test Case ID: TEN-04
func TestTenant_Admin_Validation(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.createTenant(t, "acme", nil)
	root := s.platformToken(t)

	w := s.do(t, http.MethodPost, "/api/v1/platform/tenants", CreateTenantRequest{Slug: "initech"}, withBearer(root))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/platform/tenants", CreateTenantRequest{Slug: "Bad Slug", Name: "x"}, withBearer(root))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_tenant_identifier", decodeError(t, w).Code)

	w = s.do(t, http.MethodPost, "/api/v1/platform/tenants", CreateTenantRequest{Slug: "acme", Name: "Acme again"}, withBearer(root))
	assert.Equal(t, http.StatusConflict, w.Code)

	bad := tenant.DefaultPolicy()
	bad.EnforceIPAllowlist = true
	w = s.do(t, http.MethodPut, "/api/v1/platform/tenants/acme/policy", bad, withBearer(root))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	longLived := tenant.DefaultPolicy()
	longLived.SessionTimeoutMinutes = tenant.MaxSessionTimeoutMinutes + 1
	w = s.do(t, http.MethodPut, "/api/v1/platform/tenants/acme/policy", longLived, withBearer(root))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/platform/tenants/ghost", nil, withBearer(root))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestPurpose: Validates that deactivating a tenant blocks its logins and live sessions.
// Scope: Unit Test
// Security: Immediate effect of tenant suspension
// Expected: After deactivation, login returns 403 tenant_inactive and refresh fails; after activation login works again.
// Test Case ID: TEN-08
func TestTenant_DeactivateActivate(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.createTenant(t, "acme", nil)
	root := s.platformToken(t)
	session := s.login(t, "acme", "admin@acme.test")

	w := s.do(t, http.MethodPost, "/api/v1/platform/tenants/acme/deactivate", nil, withBearer(root))
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/auth/login",
		LoginRequest{Email: "admin@acme.test", Password: testPassword}, withTenant("acme"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "tenant_inactive", decodeError(t, w).Code)

	w = s.do(t, http.MethodPost, "/api/v1/auth/refresh", RefreshRequest{RefreshToken: session.RefreshToken})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/tenant/identities", nil, withTenant("acme"), withBearer(session.AccessToken))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/platform/tenants/acme/activate", nil, withBearer(root))
	require.Equal(t, http.StatusOK, w.Code)
	s.login(t, "acme", "admin@acme.test")
}

// TestPurpose: Validates tenant administrator operations on identities and devices.
// Scope: Unit Test
// Security: Administrative actions stay inside the administrator's tenant
// Expected: Provisioning works in the admin's tenant; the same token cannot list another tenant's identities; platform_admin cannot be provisioned.
// Test Case ID: TEN-09
func TestTenant_IdentityAdministration(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.createTenant(t, "acme", nil)
	s.createTenant(t, "globex", nil)
	admin := s.login(t, "acme", "admin@acme.test")

	// Issued tokens stay valid when the allow-list is switched on.
	policy := tenant.DefaultPolicy()
	policy.EnforceDeviceAllowlist = true
	w := s.do(t, http.MethodPut, "/api/v1/platform/tenants/acme/policy", policy, withBearer(s.platformToken(t)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/tenant/identities",
		ProvisionIdentityRequest{Email: "driver@acme.test", Password: testPassword},
		withTenant("acme"), withBearer(admin.AccessToken))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var driver IdentityView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &driver))
	assert.Equal(t, "tenant_user", driver.Role)

	w = s.do(t, http.MethodPost, "/api/v1/tenant/identities",
		ProvisionIdentityRequest{Email: "root2@acme.test", Password: testPassword, Role: "platform_admin"},
		withTenant("acme"), withBearer(admin.AccessToken))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/tenant/identities", nil, withTenant("globex"), withBearer(admin.AccessToken))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "tenant_access_denied", decodeError(t, w).Code)

	// The driver's unknown device is held for approval.
	w = s.do(t, http.MethodPost, "/api/v1/auth/login",
		LoginRequest{Email: "driver@acme.test", Password: testPassword, DeviceID: "truck-7"}, withTenant("acme"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "device_approval_required", decodeError(t, w).Code)

	w = s.do(t, http.MethodGet, "/api/v1/tenant/devices/pending", nil, withTenant("acme"), withBearer(admin.AccessToken))
	require.Equal(t, http.StatusOK, w.Code)
	var pending []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pending))
	require.Len(t, pending, 1)
	bindingID, _ := pending[0]["id"].(string)

	w = s.do(t, http.MethodPost, "/api/v1/tenant/devices/"+bindingID+"/approve", nil, withTenant("acme"), withBearer(admin.AccessToken))
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/auth/login",
		LoginRequest{Email: "driver@acme.test", Password: testPassword, DeviceID: "truck-7"}, withTenant("acme"))
	require.Equal(t, http.StatusOK, w.Code)
	var login LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	require.NotNil(t, login.DeviceBindingID)
	assert.Equal(t, bindingID, *login.DeviceBindingID)

	w = s.do(t, http.MethodDelete, "/api/v1/tenant/identities/"+driver.ID+"/sessions", nil, withTenant("acme"), withBearer(admin.AccessToken))
	require.Equal(t, http.StatusOK, w.Code)
	var revoked map[string]int64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &revoked))
	assert.Equal(t, int64(1), revoked["revoked"])
}
