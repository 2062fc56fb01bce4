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

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/opentrusty/tenantcore/internal/identity"
	"github.com/opentrusty/tenantcore/internal/token"
)

// refreshTokenRepository implements token.Repository
type refreshTokenRepository struct {
	s *Scope
}

// Create records an issued refresh token
func (r *refreshTokenRepository) Create(ctx context.Context, t *token.RefreshToken) error {
	q, err := r.s.querier()
	if err != nil {
		return err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	_, err = q.Exec(ctx, `
		INSERT INTO refresh_tokens (
			token_id, user_id, user_role, tenant_id, is_revoked,
			replaced_by_token_id, expires_at, last_used_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		t.TokenID, t.UserID, string(t.UserRole), t.TenantID, t.IsRevoked,
		t.ReplacedByTokenID, t.ExpiresAt, t.LastUsedAt, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert refresh token: %w", mapPostgresError(err))
	}
	return nil
}

// GetByTokenID retrieves a refresh token record
func (r *refreshTokenRepository) GetByTokenID(ctx context.Context, tokenID string) (*token.RefreshToken, error) {
	q, err := r.s.querier()
	if err != nil {
		return nil, err
	}

	var t token.RefreshToken
	var role string
	err = q.QueryRow(ctx, `
		SELECT token_id, user_id, user_role, tenant_id, is_revoked,
			replaced_by_token_id, expires_at, last_used_at, created_at
		FROM refresh_tokens
		WHERE token_id = $1
	`, tokenID).Scan(
		&t.TokenID, &t.UserID, &role, &t.TenantID, &t.IsRevoked,
		&t.ReplacedByTokenID, &t.ExpiresAt, &t.LastUsedAt, &t.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err, token.ErrTokenNotFound, "get refresh token")
	}
	t.UserRole = identity.Role(role)
	return &t, nil
}

// MarkReplaced is the rotation compare-and-swap: only one caller can
// move a token from active to replaced.
func (r *refreshTokenRepository) MarkReplaced(ctx context.Context, tokenID, replacedBy string, usedAt time.Time) (bool, error) {
	q, err := r.s.querier()
	if err != nil {
		return false, err
	}

	tag, err := q.Exec(ctx, `
		UPDATE refresh_tokens
		SET is_revoked = true, replaced_by_token_id = $2, last_used_at = $3
		WHERE token_id = $1 AND is_revoked = false
	`, tokenID, replacedBy, usedAt)
	if err != nil {
		return false, fmt.Errorf("failed to rotate refresh token: %w", mapPostgresError(err))
	}
	return tag.RowsAffected() == 1, nil
}

// RevokeAll revokes every active token of the identity
func (r *refreshTokenRepository) RevokeAll(ctx context.Context, userID string, role identity.Role, tenantID *string) (int64, error) {
	q, err := r.s.querier()
	if err != nil {
		return 0, err
	}

	tag, err := q.Exec(ctx, `
		UPDATE refresh_tokens SET is_revoked = true
		WHERE user_id = $1 AND user_role = $2 AND tenant_id IS NOT DISTINCT FROM $3
			AND is_revoked = false
	`, userID, string(role), tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke refresh tokens: %w", mapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired purges records that expired before the cutoff
func (r *refreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	q, err := r.s.querier()
	if err != nil {
		return 0, err
	}

	tag, err := q.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", mapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}
