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
	"context"
	"time"
)

// Repository persists identities of one namespace. Implementations are
// bound to a namespace by the scoped data access layer, so email is
// unique within the repository.
type Repository interface {
	Create(ctx context.Context, identity *Identity) error
	GetByID(ctx context.Context, id string) (*Identity, error)
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	List(ctx context.Context, limit, offset int) ([]*Identity, error)

	UpdateLockout(ctx context.Context, id string, failedAttempts int, lockedUntil *time.Time) error
	// ClaimLoginAttempt atomically increments failedLoginAttempts of an
	// identity that is not locked at now, setting lockedUntil = lockUntil
	// once the count reaches maxAttempts. It returns the new count and
	// lock, or ErrAccountLocked when a lock is still in force.
	ClaimLoginAttempt(ctx context.Context, id string, maxAttempts int, lockUntil, now time.Time) (int, *time.Time, error)
	RecordLogin(ctx context.Context, id, ip string, at time.Time) error
	UpdateMfa(ctx context.Context, id string, secret *string, enabled bool) error

	// UpdatePassword sets a new hash and clears lockout state and any
	// pending reset token.
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetPasswordReset(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	GetByPasswordResetToken(ctx context.Context, tokenHash string) (*Identity, error)

	SetEmailVerification(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	GetByEmailVerificationToken(ctx context.Context, tokenHash string) (*Identity, error)
	MarkEmailVerified(ctx context.Context, id string) error

	CountByRole(ctx context.Context, role Role) (int, error)
	SetActive(ctx context.Context, id string, active bool) error
}
