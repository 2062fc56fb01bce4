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

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/opentrusty/tenantcore/internal/audit"
	"github.com/opentrusty/tenantcore/internal/autherr"
	"github.com/opentrusty/tenantcore/internal/identity"
	"github.com/opentrusty/tenantcore/internal/mfa"
	"github.com/opentrusty/tenantcore/internal/notify"
	"github.com/opentrusty/tenantcore/internal/store"
	"github.com/opentrusty/tenantcore/internal/token"
)

// AccountService holds the self-service flows: password reset, email
// verification, password change and MFA enrollment.
//
// Request* methods return nil whether or not the account exists so the
// response cannot be used to enumerate accounts.
type AccountService struct {
	deps            Dependencies
	resetTTL        time.Duration
	verificationTTL time.Duration
	nowF            func() time.Time
}

// NewAccountService creates an account service.
func NewAccountService(deps Dependencies) *AccountService {
	return &AccountService{
		deps:            deps.withDefaults(),
		resetTTL:        DefaultResetTTL,
		verificationTTL: DefaultVerificationTTL,
		nowF:            time.Now,
	}
}

// newOneTimeToken returns a random URL-safe token and the hash stored in
// its place.
func newOneTimeToken() (string, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}
	raw := base64.RawURLEncoding.EncodeToString(buf)
	return raw, hashToken(raw), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// RequestPasswordReset issues a one-hour reset token to the identity
// owning email in the request's namespace and hands it to the
// notification boundary.
func (a *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	return withRequestScope(ctx, a.deps.Access, func(ctx context.Context, s store.Scope) error {
		ident, err := s.Identities().GetByEmail(ctx, identity.NormalizeEmail(email))
		if errors.Is(err, identity.ErrIdentityNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load identity: %w", err)
		}
		if !ident.IsActive {
			return nil
		}

		raw, hash, err := newOneTimeToken()
		if err != nil {
			return err
		}
		expiresAt := a.nowF().Add(a.resetTTL)
		if err := s.Identities().SetPasswordReset(ctx, ident.ID, hash, expiresAt); err != nil {
			return fmt.Errorf("failed to store reset token: %w", err)
		}

		a.deps.Notifier.Dispatch(ctx, notify.Event{
			Type:     notify.TypePasswordResetRequested,
			TenantID: ident.Tenant(),
			UserID:   ident.ID,
			Email:    ident.Email,
			Payload: map[string]string{
				"reset_token": raw,
				"expires_at":  expiresAt.UTC().Format(time.RFC3339),
			},
		})
		return nil
	})
}

// ResetPassword sets a new password for the owner of a valid reset token
// and revokes all of its sessions.
func (a *AccountService) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if rawToken == "" {
		return ErrInvalidResetToken
	}
	return withRequestScope(ctx, a.deps.Access, func(ctx context.Context, s store.Scope) error {
		ident, err := s.Identities().GetByPasswordResetToken(ctx, hashToken(rawToken))
		if errors.Is(err, identity.ErrIdentityNotFound) {
			return ErrInvalidResetToken
		}
		if err != nil {
			return fmt.Errorf("failed to load identity: %w", err)
		}
		if ident.PasswordResetExpiresAt == nil || !a.nowF().Before(*ident.PasswordResetExpiresAt) {
			return ErrInvalidResetToken
		}

		if err := a.deps.Identities.SetPassword(ctx, s.Identities(), ident, newPassword); err != nil {
			return err
		}
		if _, err := a.deps.Issuer.RevokeAll(ctx, s.RefreshTokens(), ident.ID, ident.Role, ident.TenantID); err != nil {
			return err
		}

		a.deps.AuditLogger.Log(ctx, audit.Event{
			Type:     audit.TypePasswordReset,
			TenantID: ident.Tenant(),
			ActorID:  ident.ID,
			Resource: audit.ResourceIdentity,
		})
		return nil
	})
}

// RequestEmailVerification issues a verification token to an unverified
// tenant user of the request's tenant.
func (a *AccountService) RequestEmailVerification(ctx context.Context, email string) error {
	return a.deps.Access.WithTenant(ctx, func(ctx context.Context, s store.Scope) error {
		ident, err := s.Identities().GetByEmail(ctx, identity.NormalizeEmail(email))
		if errors.Is(err, identity.ErrIdentityNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load identity: %w", err)
		}
		if ident.Role != identity.RoleTenantUser || ident.EmailVerified || !ident.IsActive {
			return nil
		}

		raw, hash, err := newOneTimeToken()
		if err != nil {
			return err
		}
		expiresAt := a.nowF().Add(a.verificationTTL)
		if err := s.Identities().SetEmailVerification(ctx, ident.ID, hash, expiresAt); err != nil {
			return fmt.Errorf("failed to store verification token: %w", err)
		}

		a.deps.Notifier.Dispatch(ctx, notify.Event{
			Type:     notify.TypeEmailVerificationRequested,
			TenantID: ident.Tenant(),
			UserID:   ident.ID,
			Email:    ident.Email,
			Payload: map[string]string{
				"verification_token": raw,
				"expires_at":         expiresAt.UTC().Format(time.RFC3339),
			},
		})
		return nil
	})
}

// VerifyEmail marks the owner of a valid verification token verified.
func (a *AccountService) VerifyEmail(ctx context.Context, rawToken string) error {
	if rawToken == "" {
		return ErrInvalidVerificationToken
	}
	return a.deps.Access.WithTenant(ctx, func(ctx context.Context, s store.Scope) error {
		ident, err := s.Identities().GetByEmailVerificationToken(ctx, hashToken(rawToken))
		if errors.Is(err, identity.ErrIdentityNotFound) {
			return ErrInvalidVerificationToken
		}
		if err != nil {
			return fmt.Errorf("failed to load identity: %w", err)
		}
		if ident.EmailVerificationExpiresAt == nil || !a.nowF().Before(*ident.EmailVerificationExpiresAt) {
			return ErrInvalidVerificationToken
		}
		if err := s.Identities().MarkEmailVerified(ctx, ident.ID); err != nil {
			return fmt.Errorf("failed to mark email verified: %w", err)
		}

		a.deps.AuditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeEmailVerified,
			TenantID: ident.Tenant(),
			ActorID:  ident.ID,
			Resource: audit.ResourceIdentity,
		})
		return nil
	})
}

// Me returns the identity behind claims.
func (a *AccountService) Me(ctx context.Context, claims *token.Claims) (*identity.Identity, error) {
	var ident *identity.Identity
	err := store.ForTenantID(ctx, a.deps.Access, claims.TenantID, func(ctx context.Context, s store.Scope) error {
		var err error
		ident, err = s.Identities().GetByID(ctx, claims.Subject)
		return err
	})
	if errors.Is(err, identity.ErrIdentityNotFound) {
		return nil, autherr.ErrUnauthenticated
	}
	return ident, err
}

// ChangePassword replaces the caller's password after checking the
// current one.
func (a *AccountService) ChangePassword(ctx context.Context, claims *token.Claims, oldPassword, newPassword string) error {
	return store.ForTenantID(ctx, a.deps.Access, claims.TenantID, func(ctx context.Context, s store.Scope) error {
		return a.deps.Identities.ChangePassword(ctx, s.Identities(), claims.Subject, oldPassword, newPassword)
	})
}

// SetupMfa provisions a fresh TOTP secret for the caller. MFA stays
// disabled until ConfirmMfa succeeds.
func (a *AccountService) SetupMfa(ctx context.Context, claims *token.Claims) (*mfa.Enrollment, error) {
	var enrollment *mfa.Enrollment
	err := store.ForTenantID(ctx, a.deps.Access, claims.TenantID, func(ctx context.Context, s store.Scope) error {
		ident, err := s.Identities().GetByID(ctx, claims.Subject)
		if err != nil {
			return err
		}
		enrollment, err = a.deps.Mfa.Provision(ctx, s.Identities(), ident)
		if err != nil {
			return err
		}

		a.deps.AuditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeMfaProvisioned,
			TenantID: ident.Tenant(),
			ActorID:  ident.ID,
			Resource: audit.ResourceMfa,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return enrollment, nil
}

// ConfirmMfa enables MFA for the caller when code matches the
// provisioned secret.
func (a *AccountService) ConfirmMfa(ctx context.Context, claims *token.Claims, code string) error {
	return store.ForTenantID(ctx, a.deps.Access, claims.TenantID, func(ctx context.Context, s store.Scope) error {
		ident, err := s.Identities().GetByID(ctx, claims.Subject)
		if err != nil {
			return err
		}
		if ident.MfaEnabled {
			return mfa.ErrMfaAlreadyEnabled
		}
		if err := a.deps.Mfa.Confirm(ctx, s.Identities(), ident, code); err != nil {
			return err
		}

		a.deps.AuditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeMfaEnabled,
			TenantID: ident.Tenant(),
			ActorID:  ident.ID,
			Resource: audit.ResourceMfa,
		})
		return nil
	})
}
