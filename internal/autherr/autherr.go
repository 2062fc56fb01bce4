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

// Package autherr defines the error kinds surfaced by tenant isolation,
// credential, token and guard checks.
//
// Every failure leaving those components is one of the kinds below. Callers
// match with errors.Is against the exported sentinels or switch on KindOf.
// Raw storage and network errors never cross this boundary; they are logged
// where they occur and mapped to LoginFailed.
package autherr

import (
	"errors"
	"net/http"
)

// Kind enumerates the failure classes.
type Kind int

const (
	Unknown Kind = iota
	InvalidCredentials
	AccountLocked
	MfaRequired
	MfaSetupRequired
	InvalidMfaToken
	DeviceApprovalRequired
	TenantContextMissing
	InvalidTenantIdentifier
	TenantNotFound
	TenantInactive
	TenantAccessDenied
	InvalidRefreshToken
	IpNotAllowed
	LoginFailed
	Unauthenticated
	InsufficientRole
	RateLimited
)

var kindNames = map[Kind]string{
	Unknown:                 "unknown",
	InvalidCredentials:      "invalid_credentials",
	AccountLocked:           "account_locked",
	MfaRequired:             "mfa_required",
	MfaSetupRequired:        "mfa_setup_required",
	InvalidMfaToken:         "invalid_mfa_token",
	DeviceApprovalRequired:  "device_approval_required",
	TenantContextMissing:    "tenant_context_missing",
	InvalidTenantIdentifier: "invalid_tenant_identifier",
	TenantNotFound:          "tenant_not_found",
	TenantInactive:          "tenant_inactive",
	TenantAccessDenied:      "tenant_access_denied",
	InvalidRefreshToken:     "invalid_refresh_token",
	IpNotAllowed:            "ip_not_allowed",
	LoginFailed:             "login_failed",
	Unauthenticated:         "unauthenticated",
	InsufficientRole:        "insufficient_role",
	RateLimited:             "rate_limited",
}

// String returns the stable machine-readable code of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[Unknown]
}

// publicMessages are the only texts ever returned to clients.
var publicMessages = map[Kind]string{
	InvalidCredentials:      "invalid credentials",
	AccountLocked:           "account is temporarily locked",
	MfaRequired:             "mfa token required",
	MfaSetupRequired:        "mfa setup required",
	InvalidMfaToken:         "invalid mfa token",
	DeviceApprovalRequired:  "device requires administrator approval",
	TenantContextMissing:    "tenant context required",
	InvalidTenantIdentifier: "invalid tenant identifier",
	TenantNotFound:          "tenant not found",
	TenantInactive:          "tenant is inactive",
	TenantAccessDenied:      "access denied",
	InvalidRefreshToken:     "invalid refresh token",
	IpNotAllowed:            "access denied from this network",
	LoginFailed:             "login failed",
	Unauthenticated:         "authentication required",
	InsufficientRole:        "insufficient role",
	RateLimited:             "rate limit exceeded",
}

// Error is a classified failure. Message is the client-safe text.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is an *Error of the same kind, so wrapped
// errors match the sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an error of kind k with its public message.
func New(k Kind) *Error {
	return &Error{Kind: k, Message: PublicMessage(k)}
}

// Sentinels for errors.Is matching.
var (
	ErrInvalidCredentials      = New(InvalidCredentials)
	ErrAccountLocked           = New(AccountLocked)
	ErrMfaRequired             = New(MfaRequired)
	ErrMfaSetupRequired        = New(MfaSetupRequired)
	ErrInvalidMfaToken         = New(InvalidMfaToken)
	ErrDeviceApprovalRequired  = New(DeviceApprovalRequired)
	ErrTenantContextMissing    = New(TenantContextMissing)
	ErrInvalidTenantIdentifier = New(InvalidTenantIdentifier)
	ErrTenantNotFound          = New(TenantNotFound)
	ErrTenantInactive          = New(TenantInactive)
	ErrTenantAccessDenied      = New(TenantAccessDenied)
	ErrInvalidRefreshToken     = New(InvalidRefreshToken)
	ErrIpNotAllowed            = New(IpNotAllowed)
	ErrLoginFailed             = New(LoginFailed)
	ErrUnauthenticated         = New(Unauthenticated)
	ErrInsufficientRole        = New(InsufficientRole)
	ErrRateLimited             = New(RateLimited)
)

// KindOf returns the kind of the first classified error in err's chain,
// or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// IsClassified reports whether err carries one of the kinds above.
func IsClassified(err error) bool {
	return KindOf(err) != Unknown
}

// PublicMessage returns the client-safe message for k.
func PublicMessage(k Kind) string {
	if m, ok := publicMessages[k]; ok {
		return m
	}
	return "internal server error"
}

// HTTPStatus maps k to a response status code.
func HTTPStatus(k Kind) int {
	switch k {
	case InvalidCredentials, AccountLocked, MfaRequired, InvalidMfaToken,
		InvalidRefreshToken, Unauthenticated:
		return http.StatusUnauthorized
	case MfaSetupRequired, DeviceApprovalRequired, TenantInactive,
		TenantAccessDenied, IpNotAllowed, InsufficientRole:
		return http.StatusForbidden
	case TenantContextMissing, InvalidTenantIdentifier:
		return http.StatusBadRequest
	case TenantNotFound:
		return http.StatusNotFound
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
