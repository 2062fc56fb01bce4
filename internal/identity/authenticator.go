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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opentrusty/tenantcore/internal/audit"
)

// Lockout defaults
const (
	DefaultLockoutMaxAttempts = 5
	DefaultLockoutDuration    = 15 * time.Minute
)

// Authenticator validates email and password against one namespace and
// enforces progressive lockout. An identity moves between Active and
// Locked; the lock expires by timestamp comparison alone.
type Authenticator struct {
	hasher          *PasswordHasher
	auditLogger     audit.Logger
	maxAttempts     int
	lockoutDuration time.Duration
	nowF            func() time.Time
	dummyHash       string
}

// NewAuthenticator creates an authenticator. Non-positive limits fall
// back to the defaults.
func NewAuthenticator(hasher *PasswordHasher, auditLogger audit.Logger, maxAttempts int, lockoutDuration time.Duration) *Authenticator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultLockoutMaxAttempts
	}
	if lockoutDuration <= 0 {
		lockoutDuration = DefaultLockoutDuration
	}
	// Compared against for unknown emails so both paths cost one hash.
	dummy, _ := hasher.Hash("tenantcore-dummy-password")
	return &Authenticator{
		hasher:          hasher,
		auditLogger:     auditLogger,
		maxAttempts:     maxAttempts,
		lockoutDuration: lockoutDuration,
		nowF:            time.Now,
		dummyHash:       dummy,
	}
}

// Validate returns the identity owning email if password matches.
// Unknown, inactive and wrong-password outcomes all yield
// ErrInvalidCredentials; a lock in force yields ErrAccountLocked.
// Storage failures are returned wrapped and unclassified.
func (a *Authenticator) Validate(ctx context.Context, repo Repository, email, password string) (*Identity, error) {
	email = NormalizeEmail(email)
	now := a.nowF()

	ident, err := repo.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrIdentityNotFound) {
			return nil, fmt.Errorf("failed to load identity: %w", err)
		}
		_, _ = a.hasher.Verify(password, a.dummyHash)
		a.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			Resource: audit.ResourceLogin,
			Metadata: map[string]any{audit.AttrReason: "identity_not_found"},
		})
		return nil, ErrInvalidCredentials
	}

	if !ident.IsActive {
		_, _ = a.hasher.Verify(password, a.dummyHash)
		a.logFailure(ctx, ident, "inactive", ident.FailedLoginAttempts)
		return nil, ErrInvalidCredentials
	}

	if ident.IsLocked(now) {
		a.logFailure(ctx, ident, "locked_out", ident.FailedLoginAttempts)
		return nil, ErrAccountLocked
	}

	// Counted before the compare so concurrent guesses never share a
	// counter value; at most maxAttempts guesses reach the hasher.
	attempts, lockedUntil, err := repo.ClaimLoginAttempt(ctx, ident.ID, a.maxAttempts, now.Add(a.lockoutDuration), now)
	if err != nil {
		if errors.Is(err, ErrAccountLocked) {
			a.logFailure(ctx, ident, "locked_out", ident.FailedLoginAttempts)
			return nil, ErrAccountLocked
		}
		return nil, fmt.Errorf("failed to record failed attempt: %w", err)
	}

	valid, verr := a.hasher.Verify(password, ident.PasswordHash)
	if verr != nil || !valid {
		ident.FailedLoginAttempts = attempts
		ident.LockedUntil = lockedUntil

		if lockedUntil != nil {
			a.auditLogger.Log(ctx, audit.Event{
				Type:     audit.TypeUserLocked,
				TenantID: ident.Tenant(),
				ActorID:  ident.ID,
				Resource: audit.ResourceLogin,
				Metadata: map[string]any{audit.AttrAttempts: attempts},
			})
		}
		a.logFailure(ctx, ident, "invalid_password", attempts)
		return nil, ErrInvalidCredentials
	}

	if err := repo.UpdateLockout(ctx, ident.ID, 0, nil); err != nil {
		return nil, fmt.Errorf("failed to reset lockout: %w", err)
	}
	ident.FailedLoginAttempts = 0
	ident.LockedUntil = nil

	return ident, nil
}

func (a *Authenticator) logFailure(ctx context.Context, ident *Identity, reason string, attempts int) {
	a.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeLoginFailed,
		TenantID: ident.Tenant(),
		ActorID:  ident.ID,
		Resource: audit.ResourceLogin,
		Metadata: map[string]any{
			audit.AttrReason:   reason,
			audit.AttrAttempts: attempts,
		},
	})
}

// NormalizeEmail lower-cases and trims an address for lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
