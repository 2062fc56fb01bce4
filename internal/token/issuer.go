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

	"github.com/opentrusty/tenantcore/internal/audit"
	"github.com/opentrusty/tenantcore/internal/id"
	"github.com/opentrusty/tenantcore/internal/identity"
)

// Defaults
const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
	minSecretLength   = 32
)

// Config configures an Issuer.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Issuer mints HS256 access and refresh tokens with distinct secrets and
// manages the refresh token chain.
type Issuer struct {
	cfg         Config
	auditLogger audit.Logger
	nowF        func() time.Time
}

// NewIssuer validates cfg and returns an issuer.
func NewIssuer(cfg Config, auditLogger audit.Logger) (*Issuer, error) {
	if len(cfg.AccessSecret) < minSecretLength || len(cfg.RefreshSecret) < minSecretLength {
		return nil, fmt.Errorf("token secrets must be at least %d bytes", minSecretLength)
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	return &Issuer{cfg: cfg, auditLogger: auditLogger, nowF: time.Now}, nil
}

// WithAccessTTL returns a copy issuing access tokens valid for d. A
// non-positive d returns the receiver unchanged.
func (i *Issuer) WithAccessTTL(d time.Duration) *Issuer {
	if d <= 0 {
		return i
	}
	c := *i
	c.cfg.AccessTTL = d
	return &c
}

// RefreshTTL returns the configured refresh lifetime.
func (i *Issuer) RefreshTTL() time.Duration {
	return i.cfg.RefreshTTL
}

// Issue signs a new access/refresh pair for c and persists the refresh
// record. A non-positive refreshTTL uses the configured default.
func (i *Issuer) Issue(ctx context.Context, repo Repository, c Claims, refreshTTL time.Duration) (*Pair, error) {
	if refreshTTL <= 0 {
		refreshTTL = i.cfg.RefreshTTL
	}
	now := i.nowF()

	pair, rec, err := i.mint(c, now, refreshTTL)
	if err != nil {
		return nil, err
	}
	if err := repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist refresh token: %w", err)
	}
	return pair, nil
}

func (i *Issuer) mint(c Claims, now time.Time, refreshTTL time.Duration) (*Pair, *RefreshToken, error) {
	c.Purpose = ""
	access, accessExp, err := i.sign(c, typeAccess, "", now, i.cfg.AccessTTL, i.cfg.AccessSecret)
	if err != nil {
		return nil, nil, err
	}

	tokenID := id.NewUUIDv7()
	refresh, refreshExp, err := i.sign(c, typeRefresh, tokenID, now, refreshTTL, i.cfg.RefreshSecret)
	if err != nil {
		return nil, nil, err
	}

	pair := &Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		TokenID:          tokenID,
	}
	rec := &RefreshToken{
		TokenID:   tokenID,
		UserID:    c.Subject,
		UserRole:  c.Role,
		TenantID:  c.TenantID,
		ExpiresAt: refreshExp,
		CreatedAt: now,
	}
	return pair, rec, nil
}

// IssuePurpose signs a short-lived access token limited to purpose. No
// refresh token accompanies it.
func (i *Issuer) IssuePurpose(c Claims, purpose string, ttl time.Duration) (string, error) {
	c.Purpose = purpose
	tok, _, err := i.sign(c, typeAccess, "", i.nowF(), ttl, i.cfg.AccessSecret)
	return tok, err
}

func (i *Issuer) sign(c Claims, typ, jti string, now time.Time, ttl time.Duration, secret []byte) (string, time.Time, error) {
	exp := now.Add(ttl)
	wc := wireClaims{
		Email:    c.Email,
		Role:     string(c.Role),
		TenantID: c.TenantID,
		Purpose:  c.Purpose,
		Type:     typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.Subject,
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, wc).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign %s token: %w", typ, err)
	}
	return signed, exp, nil
}

// ParseAccess verifies an access token. Any failure is ErrUnauthenticated.
func (i *Issuer) ParseAccess(tokenStr string) (*Claims, error) {
	wc, err := i.parse(tokenStr, typeAccess, i.cfg.AccessSecret)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	return wc.toClaims(), nil
}

// ParseRefresh verifies a refresh token. Any failure is
// ErrInvalidRefreshToken.
func (i *Issuer) ParseRefresh(tokenStr string) (*Claims, error) {
	wc, err := i.parse(tokenStr, typeRefresh, i.cfg.RefreshSecret)
	if err != nil || wc.ID == "" {
		return nil, ErrInvalidRefreshToken
	}
	return wc.toClaims(), nil
}

func (i *Issuer) parse(tokenStr, typ string, secret []byte) (*wireClaims, error) {
	var wc wireClaims
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.nowF),
	}
	if i.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.cfg.Issuer))
	}
	_, err := jwt.ParseWithClaims(tokenStr, &wc, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if wc.Type != typ || wc.Subject == "" || !identity.Role(wc.Role).Valid() {
		return nil, errors.New("token claims mismatch")
	}
	return &wc, nil
}

// Rotate exchanges a refresh token for a new pair. Presenting a token
// that is unknown or already rotated revokes every active token of its
// owner. Two concurrent rotations of one token yield one success: the
// successor row is written first and the old row is then revoked with a
// conditional update, so the loser sees zero rows and revokes the
// family, the winner's successor included.
func (i *Issuer) Rotate(ctx context.Context, repo Repository, presented string) (*Pair, *Claims, error) {
	claims, err := i.ParseRefresh(presented)
	if err != nil {
		return nil, nil, err
	}
	now := i.nowF()

	rec, err := repo.GetByTokenID(ctx, claims.TokenID)
	if err != nil && !errors.Is(err, ErrTokenNotFound) {
		return nil, nil, fmt.Errorf("failed to load refresh token: %w", err)
	}
	if rec == nil || rec.IsRevoked {
		i.reuseDetected(ctx, repo, claims)
		return nil, nil, ErrRefreshTokenReused
	}
	if rec.UserID != claims.Subject || rec.UserRole != claims.Role {
		return nil, nil, ErrInvalidRefreshToken
	}
	if !now.Before(rec.ExpiresAt) {
		return nil, nil, ErrInvalidRefreshToken
	}

	next := *claims
	next.TokenID = ""
	pair, succ, err := i.mint(next, now, i.cfg.RefreshTTL)
	if err != nil {
		return nil, nil, err
	}
	if err := repo.Create(ctx, succ); err != nil {
		return nil, nil, fmt.Errorf("failed to persist refresh token: %w", err)
	}

	swapped, err := repo.MarkReplaced(ctx, rec.TokenID, succ.TokenID, now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	if !swapped {
		i.reuseDetected(ctx, repo, claims)
		return nil, nil, ErrRefreshTokenReused
	}

	i.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenRotated,
		TenantID: claims.Tenant(),
		ActorID:  claims.Subject,
		Resource: audit.ResourceSession,
		Metadata: map[string]any{audit.AttrTokenID: succ.TokenID},
	})

	issued := next
	issued.TokenID = succ.TokenID
	issued.ExpiresAt = pair.AccessExpiresAt
	return pair, &issued, nil
}

func (i *Issuer) reuseDetected(ctx context.Context, repo Repository, c *Claims) {
	n, err := repo.RevokeAll(ctx, c.Subject, c.Role, c.TenantID)
	meta := map[string]any{audit.AttrTokenID: c.TokenID, audit.AttrRevoked: n}
	if err != nil {
		meta[audit.AttrReason] = "revoke_failed"
	}
	i.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenReuseDetected,
		TenantID: c.Tenant(),
		ActorID:  c.Subject,
		Resource: audit.ResourceSession,
		Metadata: meta,
	})
}

// RevokeAll revokes every active refresh token of the identity.
func (i *Issuer) RevokeAll(ctx context.Context, repo Repository, userID string, role identity.Role, tenantID *string) (int64, error) {
	n, err := repo.RevokeAll(ctx, userID, role, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}

	tenant := ""
	if tenantID != nil {
		tenant = *tenantID
	}
	i.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenRevoked,
		TenantID: tenant,
		ActorID:  userID,
		Resource: audit.ResourceSession,
		Metadata: map[string]any{audit.AttrRevoked: n},
	})
	return n, nil
}

// PurgeExpired deletes refresh records that expired before cutoff.
func (i *Issuer) PurgeExpired(ctx context.Context, repo Repository, cutoff time.Time) (int64, error) {
	n, err := repo.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge refresh tokens: %w", err)
	}
	return n, nil
}
