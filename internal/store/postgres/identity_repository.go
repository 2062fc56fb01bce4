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
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/opentrusty/tenantcore/internal/identity"
)

// identityRepository implements identity.Repository against the
// identities table of the scope's schema.
type identityRepository struct {
	s *Scope
}

const identityColumns = `
	id, tenant_id, email, password_hash, role,
	mfa_enabled, mfa_secret, failed_login_attempts, locked_until,
	last_login_ip, last_login_at, is_active, email_verified,
	password_reset_token_hash, password_reset_expires_at,
	email_verification_token_hash, email_verification_expires_at,
	created_at, updated_at`

func scanIdentity(row pgx.Row) (*identity.Identity, error) {
	var i identity.Identity
	var role string
	err := row.Scan(
		&i.ID, &i.TenantID, &i.Email, &i.PasswordHash, &role,
		&i.MfaEnabled, &i.MfaSecret, &i.FailedLoginAttempts, &i.LockedUntil,
		&i.LastLoginIP, &i.LastLoginAt, &i.IsActive, &i.EmailVerified,
		&i.PasswordResetTokenHash, &i.PasswordResetExpiresAt,
		&i.EmailVerificationTokenHash, &i.EmailVerificationExpiresAt,
		&i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	i.Role = identity.Role(role)
	return &i, nil
}

// Create inserts a new identity
func (r *identityRepository) Create(ctx context.Context, in *identity.Identity) error {
	q, err := r.s.querier()
	if err != nil {
		return err
	}

	now := time.Now()
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	in.UpdatedAt = now

	_, err = q.Exec(ctx, `
		INSERT INTO identities (`+identityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`,
		in.ID, in.TenantID, in.Email, in.PasswordHash, string(in.Role),
		in.MfaEnabled, in.MfaSecret, in.FailedLoginAttempts, in.LockedUntil,
		in.LastLoginIP, in.LastLoginAt, in.IsActive, in.EmailVerified,
		in.PasswordResetTokenHash, in.PasswordResetExpiresAt,
		in.EmailVerificationTokenHash, in.EmailVerificationExpiresAt,
		in.CreatedAt, in.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert identity: %w", mapPostgresError(err))
	}
	return nil
}

func (r *identityRepository) getOne(ctx context.Context, where string, arg any) (*identity.Identity, error) {
	q, err := r.s.querier()
	if err != nil {
		return nil, err
	}
	i, err := scanIdentity(q.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE `+where, arg))
	if err != nil {
		return nil, notFound(err, identity.ErrIdentityNotFound, "get identity")
	}
	return i, nil
}

// GetByID retrieves an identity by ID
func (r *identityRepository) GetByID(ctx context.Context, id string) (*identity.Identity, error) {
	return r.getOne(ctx, "id = $1", id)
}

// GetByEmail retrieves an identity by email
func (r *identityRepository) GetByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	return r.getOne(ctx, "email = $1", email)
}

func (r *identityRepository) GetByPasswordResetToken(ctx context.Context, tokenHash string) (*identity.Identity, error) {
	return r.getOne(ctx, "password_reset_token_hash = $1", tokenHash)
}

func (r *identityRepository) GetByEmailVerificationToken(ctx context.Context, tokenHash string) (*identity.Identity, error) {
	return r.getOne(ctx, "email_verification_token_hash = $1", tokenHash)
}

// List returns identities ordered by id
func (r *identityRepository) List(ctx context.Context, limit, offset int) ([]*identity.Identity, error) {
	q, err := r.s.querier()
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `SELECT `+identityColumns+` FROM identities ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var out []*identity.Identity
	for rows.Next() {
		i, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		out = append(out, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", mapPostgresError(err))
	}
	return out, nil
}

// update runs a single-row UPDATE and reports ErrIdentityNotFound when
// no row matched.
func (r *identityRepository) update(ctx context.Context, op, set string, args ...any) error {
	q, err := r.s.querier()
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `UPDATE identities SET `+set+`, updated_at = NOW() WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, mapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrIdentityNotFound
	}
	return nil
}

func (r *identityRepository) UpdateLockout(ctx context.Context, id string, failedAttempts int, lockedUntil *time.Time) error {
	return r.update(ctx, "update lockout",
		"failed_login_attempts = $2, locked_until = $3",
		id, failedAttempts, lockedUntil)
}

func (r *identityRepository) ClaimLoginAttempt(ctx context.Context, id string, maxAttempts int, lockUntil, now time.Time) (int, *time.Time, error) {
	q, err := r.s.querier()
	if err != nil {
		return 0, nil, err
	}

	var (
		attempts    int
		lockedUntil *time.Time
	)
	err = q.QueryRow(ctx, `
		UPDATE identities SET
			failed_login_attempts = failed_login_attempts + 1,
			locked_until = CASE WHEN failed_login_attempts + 1 >= $2 THEN $3::timestamptz ELSE NULL END,
			updated_at = NOW()
		WHERE id = $1 AND (locked_until IS NULL OR locked_until <= $4)
		RETURNING failed_login_attempts, locked_until
	`, id, maxAttempts, lockUntil, now).Scan(&attempts, &lockedUntil)
	if err == nil {
		return attempts, lockedUntil, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, fmt.Errorf("failed to claim login attempt: %w", mapPostgresError(err))
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM identities WHERE id = $1)`, id).Scan(&exists); err != nil {
		return 0, nil, fmt.Errorf("failed to claim login attempt: %w", mapPostgresError(err))
	}
	if !exists {
		return 0, nil, identity.ErrIdentityNotFound
	}
	return 0, nil, identity.ErrAccountLocked
}

func (r *identityRepository) RecordLogin(ctx context.Context, id, ip string, at time.Time) error {
	return r.update(ctx, "record login",
		"last_login_ip = $2, last_login_at = $3",
		id, ip, at)
}

func (r *identityRepository) UpdateMfa(ctx context.Context, id string, secret *string, enabled bool) error {
	return r.update(ctx, "update mfa",
		"mfa_secret = $2, mfa_enabled = $3",
		id, secret, enabled)
}

func (r *identityRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.update(ctx, "update password", `
		password_hash = $2,
		failed_login_attempts = 0,
		locked_until = NULL,
		password_reset_token_hash = NULL,
		password_reset_expires_at = NULL`,
		id, passwordHash)
}

func (r *identityRepository) SetPasswordReset(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	return r.update(ctx, "set password reset",
		"password_reset_token_hash = $2, password_reset_expires_at = $3",
		id, tokenHash, expiresAt)
}

func (r *identityRepository) SetEmailVerification(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	return r.update(ctx, "set email verification",
		"email_verification_token_hash = $2, email_verification_expires_at = $3",
		id, tokenHash, expiresAt)
}

func (r *identityRepository) MarkEmailVerified(ctx context.Context, id string) error {
	return r.update(ctx, "mark email verified", `
		email_verified = true,
		email_verification_token_hash = NULL,
		email_verification_expires_at = NULL`,
		id)
}

func (r *identityRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.update(ctx, "set active", "is_active = $2", id, active)
}

// CountByRole counts identities holding role
func (r *identityRepository) CountByRole(ctx context.Context, role identity.Role) (int, error) {
	q, err := r.s.querier()
	if err != nil {
		return 0, err
	}
	var n int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM identities WHERE role = $1`, string(role)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count identities: %w", mapPostgresError(err))
	}
	return n, nil
}
