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
	"github.com/opentrusty/tenantcore/internal/tenant"
)

// CreateTenantRequest represents tenant creation data
type CreateTenantRequest struct {
	Slug          string         `json:"slug" example:"acme-logistics"`
	Name          string         `json:"name" example:"Acme Logistics"`
	Policy        *tenant.Policy `json:"policy,omitempty"`
	AdminEmail    string         `json:"admin_email,omitempty" example:"admin@acme.example"`
	AdminPassword string         `json:"admin_password,omitempty"`
}

// CreateTenantResponse is the created tenant and its first administrator.
type CreateTenantResponse struct {
	Tenant *tenant.Tenant `json:"tenant"`
	Admin  *IdentityView  `json:"admin,omitempty"`
}

// CreateTenant handles tenant creation
// @Summary Create Tenant
// @Description Register a tenant, provision its namespace and optionally its first administrator
// @Tags Tenant
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateTenantRequest true "Tenant Data"
// @Success 201 {object} CreateTenantResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /platform/tenants [post]
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	t, admin, err := h.admin.CreateTenant(r.Context(), auth.CreateTenantInput{
		Slug:          req.Slug,
		Name:          req.Name,
		Policy:        req.Policy,
		AdminEmail:    req.AdminEmail,
		AdminPassword: req.AdminPassword,
	}, actorOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, CreateTenantResponse{Tenant: t, Admin: viewOf(admin)})
}

// ListTenants pages through all tenants, active or not
// @Summary List Tenants
// @Tags Tenant
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size (max 100)"
// @Param offset query int false "Offset"
// @Success 200 {array} tenant.Tenant
// @Failure 403 {object} ErrorResponse
// @Router /platform/tenants [get]
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	tenants, err := h.admin.Tenants().ListTenants(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tenants == nil {
		tenants = []*tenant.Tenant{}
	}
	respondJSON(w, http.StatusOK, tenants)
}

// GetTenant returns one tenant
// @Summary Get Tenant
// @Tags Tenant
// @Produce json
// @Security BearerAuth
// @Param slug path string true "Tenant slug"
// @Success 200 {object} tenant.Tenant
// @Failure 404 {object} ErrorResponse
// @Router /platform/tenants/{slug} [get]
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.admin.Tenants().GetTenant(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// UpdateTenantPolicy replaces the tenant's security policy
// @Summary Update Tenant Policy
// @Tags Tenant
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param slug path string true "Tenant slug"
// @Param request body tenant.Policy true "Policy"
// @Success 200 {object} tenant.Tenant
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /platform/tenants/{slug}/policy [put]
func (h *Handler) UpdateTenantPolicy(w http.ResponseWriter, r *http.Request) {
	var policy tenant.Policy
	if !decodeJSON(w, r, &policy) {
		return
	}
	slug := chi.URLParam(r, "slug")
	if err := tenant.ValidateSlug(slug); err != nil {
		writeError(w, r, err)
		return
	}

	t, err := h.admin.Tenants().UpdatePolicy(r.Context(), slug, policy, actorOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// DeactivateTenant blocks logins and refreshes for a tenant
// @Summary Deactivate Tenant
// @Description Data is kept; existing refresh tokens stop working
// @Tags Tenant
// @Produce json
// @Security BearerAuth
// @Param slug path string true "Tenant slug"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /platform/tenants/{slug}/deactivate [post]
func (h *Handler) DeactivateTenant(w http.ResponseWriter, r *http.Request) {
	h.setTenantActive(w, r, false)
}

// ActivateTenant re-enables a tenant
// @Summary Activate Tenant
// @Tags Tenant
// @Produce json
// @Security BearerAuth
// @Param slug path string true "Tenant slug"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /platform/tenants/{slug}/activate [post]
func (h *Handler) ActivateTenant(w http.ResponseWriter, r *http.Request) {
	h.setTenantActive(w, r, true)
}

func (h *Handler) setTenantActive(w http.ResponseWriter, r *http.Request, active bool) {
	slug := chi.URLParam(r, "slug")
	if err := tenant.ValidateSlug(slug); err != nil {
		writeError(w, r, err)
		return
	}

	var err error
	status := "activated"
	if active {
		err = h.admin.Tenants().Activate(r.Context(), slug, actorOf(r))
	} else {
		status = "deactivated"
		err = h.admin.Tenants().Deactivate(r.Context(), slug, actorOf(r))
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": status})
}
