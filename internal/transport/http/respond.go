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
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/opentrusty/tenantcore/internal/auth"
	"github.com/opentrusty/tenantcore/internal/autherr"
	"github.com/opentrusty/tenantcore/internal/device"
	"github.com/opentrusty/tenantcore/internal/identity"
	"github.com/opentrusty/tenantcore/internal/mfa"
	"github.com/opentrusty/tenantcore/internal/observability/logger"
	"github.com/opentrusty/tenantcore/internal/tenant"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every failed request. Code is the stable
// machine-readable kind when the failure is classified.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// MfaSetupResponse is returned when the tenant requires MFA and the
// identity has not enrolled yet.
type MfaSetupResponse struct {
	ErrorResponse
	SetupToken string    `json:"setup_token"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

func respondKind(w http.ResponseWriter, k autherr.Kind) {
	respondJSON(w, autherr.HTTPStatus(k), ErrorResponse{
		Error: autherr.PublicMessage(k),
		Code:  k.String(),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeError maps err to a response. Classified failures use their public
// message only; domain validation errors map to 4xx; anything else is
// logged and reported as an internal error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var setup *auth.MfaSetupRequiredError
	if errors.As(err, &setup) {
		respondJSON(w, http.StatusForbidden, MfaSetupResponse{
			ErrorResponse: ErrorResponse{
				Error: autherr.PublicMessage(autherr.MfaSetupRequired),
				Code:  autherr.MfaSetupRequired.String(),
			},
			SetupToken: setup.SetupToken,
			ExpiresAt:  setup.ExpiresAt,
		})
		return
	}
	if k := autherr.KindOf(err); k != autherr.Unknown {
		respondKind(w, k)
		return
	}

	switch {
	case errors.Is(err, identity.ErrIdentityExists),
		errors.Is(err, tenant.ErrTenantExists),
		errors.Is(err, device.ErrBindingExists),
		errors.Is(err, device.ErrBindingRevoked),
		errors.Is(err, mfa.ErrMfaAlreadyEnabled):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, identity.ErrInvalidEmail),
		errors.Is(err, identity.ErrWeakPassword),
		errors.Is(err, identity.ErrInvalidRole),
		errors.Is(err, tenant.ErrInvalidPolicy),
		errors.Is(err, auth.ErrRoleNotAllowed),
		errors.Is(err, auth.ErrInvalidResetToken),
		errors.Is(err, auth.ErrInvalidVerificationToken),
		errors.Is(err, device.ErrDeviceIDRequired),
		errors.Is(err, mfa.ErrMfaNotProvisioned):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrIdentityNotFound):
		respondError(w, http.StatusNotFound, "identity not found")
	case errors.Is(err, device.ErrBindingNotFound):
		respondError(w, http.StatusNotFound, "device binding not found")
	case errors.Is(err, auth.ErrQuotaExceeded):
		respondError(w, http.StatusForbidden, err.Error())
	default:
		slog.ErrorContext(r.Context(), "request failed",
			logger.RequestID(middleware.GetReqID(r.Context())),
			logger.Path(r.URL.Path),
			logger.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// pageParams reads limit and offset from the query. Missing or malformed
// values are passed as zero and the services apply their defaults.
func pageParams(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
