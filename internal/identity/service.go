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
	"net/mail"
	"time"

	"github.com/opentrusty/tenantcore/internal/audit"
	"github.com/opentrusty/tenantcore/internal/id"
)

// Service provides identity-related business logic. Every method takes
// the namespace-bound repository to operate on.
type Service struct {
	hasher      *PasswordHasher
	auditLogger audit.Logger
}

// NewService creates a new identity service
func NewService(hasher *PasswordHasher, auditLogger audit.Logger) *Service {
	return &Service{
		hasher:      hasher,
		auditLogger: auditLogger,
	}
}

// Hasher exposes the password hasher.
func (s *Service) Hasher() *PasswordHasher {
	return s.hasher
}

// NewIdentity describes an identity to provision.
type NewIdentity struct {
	Email         string
	Password      string
	Role          Role
	TenantID      *string
	EmailVerified bool
}

// Provision creates an active identity with a password credential.
func (s *Service) Provision(ctx context.Context, repo Repository, in NewIdentity, actorID string) (*Identity, error) {
	email := NormalizeEmail(in.Email)
	if !isValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if !in.Role.Valid() {
		return nil, ErrInvalidRole
	}
	if in.Role.IsPlatform() != (in.TenantID == nil) {
		return nil, ErrInvalidRole
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	if _, err := repo.GetByEmail(ctx, email); err == nil {
		return nil, ErrIdentityExists
	} else if !errors.Is(err, ErrIdentityNotFound) {
		return nil, fmt.Errorf("failed to check identity: %w", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	ident := &Identity{
		ID:            id.NewUUIDv7(),
		TenantID:      in.TenantID,
		Email:         email,
		PasswordHash:  hash,
		Role:          in.Role,
		IsActive:      true,
		EmailVerified: in.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := repo.Create(ctx, ident); err != nil {
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeUserCreated,
		TenantID: ident.Tenant(),
		ActorID:  actorID,
		Resource: audit.ResourceIdentity,
		Metadata: map[string]any{
			"identity_id":  ident.ID,
			audit.AttrRole: string(ident.Role),
		},
	})

	return ident, nil
}

// ChangePassword replaces the password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, repo Repository, identityID, oldPassword, newPassword string) error {
	ident, err := repo.GetByID(ctx, identityID)
	if err != nil {
		return err
	}

	valid, err := s.hasher.Verify(oldPassword, ident.PasswordHash)
	if err != nil || !valid {
		return ErrInvalidCredentials
	}

	if err := s.SetPassword(ctx, repo, ident, newPassword); err != nil {
		return err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypePasswordChanged,
		TenantID: ident.Tenant(),
		ActorID:  ident.ID,
		Resource: audit.ResourceIdentity,
	})
	return nil
}

// SetPassword hashes and stores a new password without checking the old
// one. Lockout state and any pending reset token are cleared.
func (s *Service) SetPassword(ctx context.Context, repo Repository, ident *Identity, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := repo.UpdatePassword(ctx, ident.ID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	ident.PasswordHash = hash
	ident.FailedLoginAttempts = 0
	ident.LockedUntil = nil
	return nil
}

// Unlock clears the lockout of an identity ahead of expiry.
func (s *Service) Unlock(ctx context.Context, repo Repository, identityID, actorID string) error {
	ident, err := repo.GetByID(ctx, identityID)
	if err != nil {
		return err
	}
	if err := repo.UpdateLockout(ctx, ident.ID, 0, nil); err != nil {
		return fmt.Errorf("failed to unlock identity: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeUserUnlocked,
		TenantID: ident.Tenant(),
		ActorID:  actorID,
		Resource: audit.ResourceIdentity,
		Metadata: map[string]any{"identity_id": ident.ID},
	})
	return nil
}

// ValidatePassword enforces the minimum password policy.
func ValidatePassword(password string) error {
	if len(password) < 8 || len(password) > 256 {
		return ErrWeakPassword
	}
	return nil
}

func isValidEmail(email string) bool {
	if len(email) < 3 || len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
