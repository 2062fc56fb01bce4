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

	"github.com/opentrusty/tenantcore/internal/auth"
	"github.com/opentrusty/tenantcore/internal/autherr"
	"github.com/opentrusty/tenantcore/internal/identity"
	"github.com/opentrusty/tenantcore/internal/token"
)

const genericAccountMessage = "if the account exists, instructions have been sent"

// LoginRequest represents login credentials
type LoginRequest struct {
	Email      string  `json:"email" example:"driver@acme.example"`
	Password   string  `json:"password" example:"correct-horse-battery"`
	MfaCode    string  `json:"mfa_code,omitempty" example:"123456"`
	DeviceID   string  `json:"device_id,omitempty"`
	DeviceName *string `json:"device_name,omitempty"`
	PushToken  *string `json:"push_token,omitempty"`
}

// IdentityView is the client-facing projection of an identity.
type IdentityView struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Role          string     `json:"role"`
	TenantID      *string    `json:"tenant_id"`
	IsActive      bool       `json:"is_active"`
	EmailVerified bool       `json:"email_verified"`
	MfaEnabled    bool       `json:"mfa_enabled"`
	LockedUntil   *time.Time `json:"locked_until,omitempty"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func viewOf(ident *identity.Identity) *IdentityView {
	if ident == nil {
		return nil
	}
	return &IdentityView{
		ID:            ident.ID,
		Email:         ident.Email,
		Role:          string(ident.Role),
		TenantID:      ident.TenantID,
		IsActive:      ident.IsActive,
		EmailVerified: ident.EmailVerified,
		MfaEnabled:    ident.MfaEnabled,
		LockedUntil:   ident.LockedUntil,
		LastLoginAt:   ident.LastLoginAt,
		CreatedAt:     ident.CreatedAt,
	}
}

// LoginResponse is returned by both login endpoints.
type LoginResponse struct {
	*token.Pair
	DeviceBindingID *string       `json:"device_binding_id"`
	User            *IdentityView `json:"user"`
}

func (req LoginRequest) toLogin(r *http.Request) auth.LoginRequest {
	return auth.LoginRequest{
		Email:      req.Email,
		Password:   req.Password,
		MfaCode:    req.MfaCode,
		DeviceID:   req.DeviceID,
		DeviceName: req.DeviceName,
		PushToken:  req.PushToken,
		IP:         ClientIP(r),
		UserAgent:  r.UserAgent(),
	}
}

// LoginPlatform authenticates a platform administrator
// @Summary Platform Login
// @Description Authenticate a platform-scope identity. No tenant is involved.
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} LoginResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/platform/login [post]
func (h *Handler) LoginPlatform(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.orchestrator.LoginPlatform(r.Context(), req.toLogin(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondLogin(w, res)
}

// Login authenticates an identity of the request's tenant
// @Summary Tenant Login
// @Description Authenticate within the tenant named by X-Tenant-ID or the host's first label
// @Tags Auth
// @Accept json
// @Produce json
// @Param X-Tenant-ID header string false "Tenant identifier"
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} MfaSetupResponse
// @Router /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.orchestrator.LoginTenant(r.Context(), req.toLogin(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondLogin(w, res)
}

func respondLogin(w http.ResponseWriter, res *auth.LoginResult) {
	respondJSON(w, http.StatusOK, LoginResponse{
		Pair:            res.Tokens,
		DeviceBindingID: res.DeviceBindingID,
		User:            viewOf(res.Identity),
	})
}

// RefreshRequest carries the refresh token to rotate.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh rotates a refresh token
// @Summary Refresh
// @Description Exchange a refresh token for a new pair. Presenting a spent token revokes the whole family.
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "Refresh token"
// @Success 200 {object} token.Pair
// @Failure 401 {object} ErrorResponse
// @Router /auth/refresh [post]
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		respondKind(w, autherr.InvalidRefreshToken)
		return
	}
	pair, _, err := h.orchestrator.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, pair)
}

// Logout handles user logout
// @Summary Logout
// @Description Revoke every refresh token of the caller
// @Tags Auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]string
// @Failure 401 {object} ErrorResponse
// @Router /auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	if err := h.orchestrator.Logout(r.Context(), claims); err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "logged out successfully",
	})
}

// GetCurrentUser returns the current authenticated user identity
// @Summary Get Current User
// @Description Retrieve details of the caller
// @Tags User
// @Produce json
// @Security BearerAuth
// @Success 200 {object} IdentityView
// @Failure 401 {object} ErrorResponse
// @Router /auth/me [get]
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	ident, err := h.accounts.Me(r.Context(), claims)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOf(ident))
}

// ChangePasswordRequest represents password change data
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ChangePassword changes the user password
// @Summary Change Password
// @Description Update the password for the caller
// @Tags User
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ChangePasswordRequest true "Password Change Data"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/password/change [post]
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	claims, _ := ClaimsFromContext(r.Context())
	if err := h.accounts.ChangePassword(r.Context(), claims, req.OldPassword, req.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "password changed successfully",
	})
}

// EmailRequest names the account a recovery flow is for.
type EmailRequest struct {
	Email string `json:"email"`
}

// ForgotPassword starts a password reset
// @Summary Forgot Password
// @Description Sends reset instructions if the account exists. The response never reveals whether it does.
// @Tags Account
// @Accept json
// @Produce json
// @Param request body EmailRequest true "Account email"
// @Success 202 {object} map[string]string
// @Router /auth/password/forgot [post]
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.accounts.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"message": genericAccountMessage})
}

// ResetPasswordRequest completes a password reset.
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// ResetPassword completes a password reset
// @Summary Reset Password
// @Description Set a new password with a reset token. Every session of the identity is revoked.
// @Tags Account
// @Accept json
// @Produce json
// @Param request body ResetPasswordRequest true "Reset data"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Router /auth/password/reset [post]
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.accounts.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "password has been reset"})
}

// RequestEmailVerification sends a verification token
// @Summary Request Email Verification
// @Tags Account
// @Accept json
// @Produce json
// @Param X-Tenant-ID header string false "Tenant identifier"
// @Param request body EmailRequest true "Account email"
// @Success 202 {object} map[string]string
// @Router /auth/email/verification [post]
func (h *Handler) RequestEmailVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.accounts.RequestEmailVerification(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"message": genericAccountMessage})
}

// TokenRequest carries a one-time token.
type TokenRequest struct {
	Token string `json:"token"`
}

// VerifyEmail marks the address as verified
// @Summary Verify Email
// @Tags Account
// @Accept json
// @Produce json
// @Param X-Tenant-ID header string false "Tenant identifier"
// @Param request body TokenRequest true "Verification token"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Router /auth/email/verify [post]
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.accounts.VerifyEmail(r.Context(), req.Token); err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "email verified"})
}

// SetupMfa provisions a TOTP secret
// @Summary MFA Setup
// @Description Provision a TOTP secret. Accepts a session token or the setup token returned by login.
// @Tags MFA
// @Produce json
// @Security BearerAuth
// @Success 200 {object} mfa.Enrollment
// @Failure 401 {object} ErrorResponse
// @Router /auth/mfa/setup [post]
func (h *Handler) SetupMfa(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	enrollment, err := h.accounts.SetupMfa(r.Context(), claims)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, enrollment)
}

// MfaConfirmRequest carries the first code from the authenticator app.
type MfaConfirmRequest struct {
	Code string `json:"code"`
}

// ConfirmMfa enables MFA
// @Summary MFA Confirm
// @Tags MFA
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body MfaConfirmRequest true "TOTP code"
// @Success 200 {object} map[string]string
// @Failure 401 {object} ErrorResponse
// @Router /auth/mfa/confirm [post]
func (h *Handler) ConfirmMfa(w http.ResponseWriter, r *http.Request) {
	var req MfaConfirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	claims, _ := ClaimsFromContext(r.Context())
	if err := h.accounts.ConfirmMfa(r.Context(), claims, req.Code); err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "mfa enabled"})
}
