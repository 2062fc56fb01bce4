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

package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/opentrusty/tenantcore/internal/autherr"
	"github.com/opentrusty/tenantcore/internal/identity"
)

var (
	ErrTokenNotFound       = errors.New("refresh token not found")
	ErrInvalidRefreshToken = autherr.ErrInvalidRefreshToken
	ErrUnauthenticated     = autherr.ErrUnauthenticated
	// ErrRefreshTokenReused matches ErrInvalidRefreshToken and marks the
	// failures that revoked the whole token family.
	ErrRefreshTokenReused = fmt.Errorf("%w: reuse detected", ErrInvalidRefreshToken)
)

// Purposes restrict what a token may be used for. Ordinary session
// tokens carry no purpose.
const (
	PurposeMfaSetup = "mfa_setup"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

// Claims is the typed view of a verified token.
type Claims struct {
	Subject   string
	Email     string
	Role      identity.Role
	TenantID  *string
	Purpose   string
	TokenID   string
	ExpiresAt time.Time
}

// ClaimsFor returns the session claims of ident.
func ClaimsFor(ident *identity.Identity) Claims {
	return Claims{
		Subject:  ident.ID,
		Email:    ident.Email,
		Role:     ident.Role,
		TenantID: ident.TenantID,
	}
}

// Tenant returns the claimed tenant id or "".
func (c Claims) Tenant() string {
	if c.TenantID == nil {
		return ""
	}
	return *c.TenantID
}

// wireClaims is the signed JSON body of both token kinds.
type wireClaims struct {
	Email    string  `json:"email"`
	Role     string  `json:"role"`
	TenantID *string `json:"tenantId"`
	Purpose  string  `json:"purpose,omitempty"`
	Type     string  `json:"typ"`
	jwt.RegisteredClaims
}

func (w *wireClaims) toClaims() *Claims {
	c := &Claims{
		Subject:  w.Subject,
		Email:    w.Email,
		Role:     identity.Role(w.Role),
		TenantID: w.TenantID,
		Purpose:  w.Purpose,
		TokenID:  w.ID,
	}
	if w.ExpiresAt != nil {
		c.ExpiresAt = w.ExpiresAt.Time
	}
	return c
}

// RefreshToken is the persisted record of an issued refresh token. Rows
// are never deleted by rotation; the chain is followed through
// ReplacedByTokenID.
type RefreshToken struct {
	TokenID           string
	UserID            string
	UserRole          identity.Role
	TenantID          *string
	IsRevoked         bool
	ReplacedByTokenID *string
	ExpiresAt         time.Time
	LastUsedAt        *time.Time
	CreatedAt         time.Time
}

// Repository persists refresh token records of one namespace.
type Repository interface {
	Create(ctx context.Context, t *RefreshToken) error
	GetByTokenID(ctx context.Context, tokenID string) (*RefreshToken, error)
	// MarkReplaced revokes tokenID only if it is still active and reports
	// whether this call performed the transition.
	MarkReplaced(ctx context.Context, tokenID, replacedBy string, usedAt time.Time) (bool, error)
	RevokeAll(ctx context.Context, userID string, role identity.Role, tenantID *string) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Pair is the result of a successful login or rotation.
type Pair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	TokenID          string    `json:"-"`
}
