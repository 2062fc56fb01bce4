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

package identity

import (
	"errors"
	"time"

	"github.com/opentrusty/tenantcore/internal/autherr"
)

// Domain errors
var (
	ErrIdentityNotFound   = errors.New("identity not found")
	ErrIdentityExists     = errors.New("identity already exists")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password does not meet security requirements")
	ErrInvalidRole        = errors.New("invalid role for scope")
	ErrInvalidCredentials = autherr.ErrInvalidCredentials
	ErrAccountLocked      = autherr.ErrAccountLocked
)

// Role is the single role an identity holds.
type Role string

const (
	RolePlatformAdmin Role = "platform_admin"
	RoleTenantAdmin   Role = "tenant_admin"
	RoleTenantUser    Role = "tenant_user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePlatformAdmin, RoleTenantAdmin, RoleTenantUser:
		return true
	}
	return false
}

// IsAdmin reports whether tenant policy treats r as an administrator.
func (r Role) IsAdmin() bool {
	return r == RolePlatformAdmin || r == RoleTenantAdmin
}

// IsPlatform reports whether r lives in the platform namespace.
func (r Role) IsPlatform() bool {
	return r == RolePlatformAdmin
}

// Identity is a credentialed principal. TenantID is nil for platform
// identities. The namespace holding the row is authoritative; TenantID
// is carried for claims and audit attribution.
type Identity struct {
	ID                  string
	TenantID            *string
	Email               string
	PasswordHash        string
	Role                Role
	MfaEnabled          bool
	MfaSecret           *string
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLoginIP         *string
	LastLoginAt         *time.Time
	IsActive            bool
	EmailVerified       bool

	PasswordResetTokenHash     *string
	PasswordResetExpiresAt     *time.Time
	EmailVerificationTokenHash *string
	EmailVerificationExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Tenant returns the owning tenant id or "" for platform identities.
func (i *Identity) Tenant() string {
	if i.TenantID == nil {
		return ""
	}
	return *i.TenantID
}

// IsLocked reports whether a lock is in force at now.
func (i *Identity) IsLocked(now time.Time) bool {
	return i.LockedUntil != nil && i.LockedUntil.After(now)
}
