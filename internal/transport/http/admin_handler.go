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

	"github.com/go-chi/chi/v5"

	"github.com/opentrusty/tenantcore/internal/auth"
	"github.com/opentrusty/tenantcore/internal/identity"
)

// ProvisionIdentityRequest represents identity provisioning data
type ProvisionIdentityRequest struct {
	Email    string `json:"email" example:"driver@acme.example"`
	Password string `json:"password"`
	Role     string `json:"role" example:"tenant_user"`
}

// ProvisionIdentity creates an identity in the caller's tenant
// @Summary Provision Identity
// @Description Create a tenant_user or tenant_admin. tenant_user creation is bounded by the tenant's max_drivers quota.
// @Tags Tenant Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param X-Tenant-ID header string true "Tenant identifier"
// @Param request body ProvisionIdentityRequest true "Identity data"
// @Success 201 {object} IdentityView
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /tenant/identities [post]
func (h *Handler) ProvisionIdentity(w http.ResponseWriter, r *http.Request) {
	var req ProvisionIdentityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role := identity.Role(req.Role)
	if role == "" {
		role = identity.RoleTenantUser
	}

	ident, err := h.admin.ProvisionIdentity(r.Context(), auth.ProvisionInput{
		Email:    req.Email,
		Password: req.Password,
		Role:     role,
	}, actorOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, viewOf(ident))
}

// ListIdentities lists identities of the caller's tenant
// @Summary List Identities
// @Tags Tenant Admin
// @Produce json
// @Security BearerAuth
// @Param X-Tenant-ID header string true "Tenant identifier"
// @Param limit query int false "Page size (max 100)"
// @Param offset query int false "Offset"
// @Success 200 {array} IdentityView
// @Router /tenant/identities [get]
func (h *Handler) ListIdentities(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	idents, err := h.admin.ListIdentities(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]*IdentityView, 0, len(idents))
	for _, ident := range idents {
		views = append(views, viewOf(ident))
	}
	respondJSON(w, http.StatusOK, views)
}

// UnlockIdentity clears a lockout
// @Summary Unlock Identity
// @Tags Tenant Admin
// @Produce json
// @Security BearerAuth
// @Param X-Tenant-ID header string true "Tenant identifier"
// @Param identityID path string true "Identity ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /tenant/identities/{identityID}/unlock [post]
func (h *Handler) UnlockIdentity(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.UnlockIdentity(r.Context(), chi.URLParam(r, "identityID"), actorOf(r)); err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

// DeactivateIdentity disables an identity and revokes its sessions
// @Summary Deactivate Identity
// @Tags Tenant Admin
// @Produce json
// @Security BearerAuth
// @Param X-Tenant-ID header string true "Tenant identifier"
// @Param identityID path string true "Identity ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /tenant/identities/{identityID}/deactivate [post]
func (h *Handler) DeactivateIdentity(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.SetIdentityActive(r.Context(), chi.URLParam(r, "identityID"), false, actorOf(r)); err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// ActivateIdentity re-enables an identity
// @Summary Activate Identity
// @Tags Tenant Admin
// @Produce json
// @Security BearerAuth
// @Param X-Tenant-ID header string true "Tenant identifier"
// @Param identityID path string true "Identity ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /tenant/identities/{identityID}/activate [post]
func (h *Handler) ActivateIdentity(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.SetIdentityActive(r.Context(), chi.URLParam(r, "identityID"), true, actorOf(r)); err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "activated"})
}

// RevokeSessions revokes every refresh token of an identity
// @Summary Revoke Sessions
// @Tags Tenant Admin
// @Produce json
// @Security BearerAuth
// @Param X-Tenant-ID header string true "Tenant identifier"
// @Param identityID path string true "Identity ID"
// @Success 200 {object} map[string]int64
// @Failure 404 {object} ErrorResponse
// @Router /tenant/identities/{identityID}/sessions [delete]
func (h *Handler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	n, err := h.admin.RevokeSessions(r.Context(), chi.URLParam(r, "identityID"), actorOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

// ListIdentityDevices lists the device bindings of one identity
// @Summary List Identity Devices
// @Tags Tenant Admin
// @Produce json
// @Security BearerAuth
// @Param X-Tenant-ID header string true "Tenant identifier"
// @Param identityID path string true "Identity ID"
// @Success 200 {array} device.Binding
// @Router /tenant/identities/{identityID}/devices [get]
func (h *Handler) ListIdentityDevices(w http.ResponseWriter, r *http.Request) {
	bindings, err := h.admin.ListUserDevices(r.Context(), chi.URLParam(r, "identityID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, bindings)
}

// ListPendingDevices lists devices waiting for approval
// @Summary List Pending Devices
// @Tags Tenant Admin
// @Produce json
// @Security BearerAuth
// @Param X-Tenant-ID header string true "Tenant identifier"
// @Param limit query int false "Page size (max 100)"
// @Param offset query int false "Offset"
// @Success 200 {array} device.Binding
// @Router /tenant/devices/pending [get]
func (h *Handler) ListPendingDevices(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	bindings, err := h.admin.ListPendingDevices(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, bindings)
}

// ApproveDevice trusts a pending device
// @Summary Approve Device
// @Tags Tenant Admin
// @Produce json
// @Security BearerAuth
// @Param X-Tenant-ID header string true "Tenant identifier"
// @Param bindingID path string true "Binding ID"
// @Success 200 {object} device.Binding
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /tenant/devices/{bindingID}/approve [post]
func (h *Handler) ApproveDevice(w http.ResponseWriter, r *http.Request) {
	b, err := h.admin.ApproveDevice(r.Context(), chi.URLParam(r, "bindingID"), actorOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

// RevokeDevice revokes a device binding
// @Summary Revoke Device
// @Tags Tenant Admin
// @Produce json
// @Security BearerAuth
// @Param X-Tenant-ID header string true "Tenant identifier"
// @Param bindingID path string true "Binding ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /tenant/devices/{bindingID} [delete]
func (h *Handler) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.RevokeDevice(r.Context(), chi.URLParam(r, "bindingID"), actorOf(r)); err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
