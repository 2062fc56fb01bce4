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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opentrusty/tenantcore/internal/audit"
	"github.com/opentrusty/tenantcore/internal/device"
	"github.com/opentrusty/tenantcore/internal/identity"
	"github.com/opentrusty/tenantcore/internal/observability/logger"
	"github.com/opentrusty/tenantcore/internal/store"
	"github.com/opentrusty/tenantcore/internal/tenant"
)

// AdminService holds platform and tenant administration. Tenant-level
// methods act on the tenant resolved for the request; the guard chain
// has already checked the caller owns it.
type AdminService struct {
	deps      Dependencies
	tenants   *tenant.Service
	bootstrap *identity.BootstrapService
}

// NewAdminService creates an admin service.
func NewAdminService(deps Dependencies, tenants *tenant.Service) *AdminService {
	deps = deps.withDefaults()
	return &AdminService{
		deps:      deps,
		tenants:   tenants,
		bootstrap: identity.NewBootstrapService(deps.Identities, deps.AuditLogger),
	}
}

// Tenants exposes the tenant registry service.
func (a *AdminService) Tenants() *tenant.Service {
	return a.tenants
}

// CreateTenantInput describes a new tenant and, optionally, its first
// administrator.
type CreateTenantInput struct {
	Slug          string
	Name          string
	Policy        *tenant.Policy
	AdminEmail    string
	AdminPassword string
}

// CreateTenant registers the tenant, provisions its namespace and
// creates the initial tenant administrator when one is given.
func (a *AdminService) CreateTenant(ctx context.Context, in CreateTenantInput, actorID string) (*tenant.Tenant, *identity.Identity, error) {
	withAdmin := in.AdminEmail != ""
	if withAdmin {
		if err := identity.ValidatePassword(in.AdminPassword); err != nil {
			return nil, nil, err
		}
	}

	t, err := a.tenants.CreateTenant(ctx, in.Slug, in.Name, in.Policy, actorID)
	if err != nil {
		return nil, nil, err
	}
	if !withAdmin {
		return t, nil, nil
	}

	slug := t.Slug
	var admin *identity.Identity
	err = store.ForTenantID(ctx, a.deps.Access, &slug, func(ctx context.Context, s store.Scope) error {
		var err error
		admin, err = a.deps.Identities.Provision(ctx, s.Identities(), identity.NewIdentity{
			Email:         in.AdminEmail,
			Password:      in.AdminPassword,
			Role:          identity.RoleTenantAdmin,
			TenantID:      &slug,
			EmailVerified: true,
		}, actorID)
		return err
	})
	if err != nil {
		return t, nil, fmt.Errorf("tenant created but initial admin failed: %w", err)
	}
	return t, admin, nil
}

// ProvisionInput describes an identity created by a tenant administrator.
type ProvisionInput struct {
	Email    string
	Password string
	Role     identity.Role
}

// ProvisionIdentity creates a tenant admin or tenant user in the
// request's tenant. Tenant users count against the tenant's MaxDrivers.
func (a *AdminService) ProvisionIdentity(ctx context.Context, in ProvisionInput, actorID string) (*identity.Identity, error) {
	if in.Role != identity.RoleTenantAdmin && in.Role != identity.RoleTenantUser {
		return nil, ErrRoleNotAllowed
	}
	slug, err := tenant.ResolveID(ctx)
	if err != nil {
		return nil, err
	}
	t, err := a.deps.Tenants.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	var ident *identity.Identity
	err = a.deps.Access.WithTenant(ctx, func(ctx context.Context, s store.Scope) error {
		// The count and the insert are not atomic; the quota is soft
		// under concurrent provisioning.
		if in.Role == identity.RoleTenantUser && t.Policy.MaxDrivers > 0 {
			n, err := s.Identities().CountByRole(ctx, identity.RoleTenantUser)
			if err != nil {
				return fmt.Errorf("failed to count identities: %w", err)
			}
			if n >= t.Policy.MaxDrivers {
				return ErrQuotaExceeded
			}
		}

		var err error
		ident, err = a.deps.Identities.Provision(ctx, s.Identities(), identity.NewIdentity{
			Email:    in.Email,
			Password: in.Password,
			Role:     in.Role,
			TenantID: &slug,
		}, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ident, nil
}

// ListIdentities pages through the identities of the request's tenant.
func (a *AdminService) ListIdentities(ctx context.Context, limit, offset int) ([]*identity.Identity, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var out []*identity.Identity
	err := a.deps.Access.WithTenant(ctx, func(ctx context.Context, s store.Scope) error {
		var err error
		out, err = s.Identities().List(ctx, limit, max(offset, 0))
		return err
	})
	return out, err
}

// UnlockIdentity clears a lockout ahead of expiry.
func (a *AdminService) UnlockIdentity(ctx context.Context, identityID, actorID string) error {
	return a.deps.Access.WithTenant(ctx, func(ctx context.Context, s store.Scope) error {
		return a.deps.Identities.Unlock(ctx, s.Identities(), identityID, actorID)
	})
}

// SetIdentityActive enables or disables an identity. Disabling also
// revokes its sessions.
func (a *AdminService) SetIdentityActive(ctx context.Context, identityID string, active bool, actorID string) error {
	return a.deps.Access.WithTenant(ctx, func(ctx context.Context, s store.Scope) error {
		ident, err := s.Identities().GetByID(ctx, identityID)
		if err != nil {
			return err
		}
		if err := s.Identities().SetActive(ctx, ident.ID, active); err != nil {
			return fmt.Errorf("failed to update identity: %w", err)
		}
		if active {
			return nil
		}
		if _, err := a.deps.Issuer.RevokeAll(ctx, s.RefreshTokens(), ident.ID, ident.Role, ident.TenantID); err != nil {
			return err
		}

		a.deps.AuditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeUserDeactivated,
			TenantID: ident.Tenant(),
			ActorID:  actorID,
			Resource: audit.ResourceIdentity,
			Metadata: map[string]any{"identity_id": ident.ID},
		})
		return nil
	})
}

// RevokeSessions revokes every refresh token of an identity.
func (a *AdminService) RevokeSessions(ctx context.Context, identityID, actorID string) (int64, error) {
	var n int64
	err := a.deps.Access.WithTenant(ctx, func(ctx context.Context, s store.Scope) error {
		ident, err := s.Identities().GetByID(ctx, identityID)
		if err != nil {
			return err
		}
		n, err = a.deps.Issuer.RevokeAll(ctx, s.RefreshTokens(), ident.ID, ident.Role, ident.TenantID)
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "sessions revoked by administrator",
			logger.Component("admin"),
			logger.TenantID(ident.Tenant()),
			logger.UserID(ident.ID),
			slog.String("actor_id", actorID),
			slog.Int64("revoked", n),
		)
		return nil
	})
	return n, err
}

// ListPendingDevices returns devices awaiting approval in the request's
// tenant.
func (a *AdminService) ListPendingDevices(ctx context.Context, limit, offset int) ([]*device.Binding, error) {
	var out []*device.Binding
	err := a.deps.Access.WithTenant(ctx, func(ctx context.Context, s store.Scope) error {
		var err error
		out, err = a.deps.Devices.ListPending(ctx, s.Devices(), limit, offset)
		return err
	})
	return out, err
}

// ListUserDevices returns the active bindings of one identity.
func (a *AdminService) ListUserDevices(ctx context.Context, userID string) ([]*device.Binding, error) {
	var out []*device.Binding
	err := a.deps.Access.WithTenant(ctx, func(ctx context.Context, s store.Scope) error {
		var err error
		out, err = a.deps.Devices.ListForUser(ctx, s.Devices(), userID)
		return err
	})
	return out, err
}

// ApproveDevice trusts a pending binding.
func (a *AdminService) ApproveDevice(ctx context.Context, bindingID, actorID string) (*device.Binding, error) {
	var b *device.Binding
	err := a.deps.Access.WithTenant(ctx, func(ctx context.Context, s store.Scope) error {
		var err error
		b, err = a.deps.Devices.Approve(ctx, s.Devices(), bindingID, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// RevokeDevice retires a binding.
func (a *AdminService) RevokeDevice(ctx context.Context, bindingID, actorID string) error {
	return a.deps.Access.WithTenant(ctx, func(ctx context.Context, s store.Scope) error {
		return a.deps.Devices.Revoke(ctx, s.Devices(), bindingID, actorID)
	})
}

// BootstrapPlatformAdmin creates the first platform administrator and
// reports whether it did.
func (a *AdminService) BootstrapPlatformAdmin(ctx context.Context, email, password string) (bool, error) {
	var created bool
	err := a.deps.Access.WithPlatform(ctx, func(ctx context.Context, s store.Scope) error {
		var err error
		created, err = a.bootstrap.Bootstrap(ctx, s.Identities(), email, password)
		return err
	})
	return created, err
}

// BootstrapFromEnv runs BootstrapPlatformAdmin with credentials from the
// environment, if any.
func (a *AdminService) BootstrapFromEnv(ctx context.Context) error {
	return a.deps.Access.WithPlatform(ctx, func(ctx context.Context, s store.Scope) error {
		return a.bootstrap.BootstrapFromEnv(ctx, s.Identities())
	})
}

// PurgeExpiredTokens deletes refresh records that expired before cutoff
// in the platform namespace and in every tenant namespace. A failing
// tenant does not stop the sweep.
func (a *AdminService) PurgeExpiredTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	var (
		total int64
		errs  []error
	)
	purge := func(tenantID *string) {
		err := store.ForTenantID(ctx, a.deps.Access, tenantID, func(ctx context.Context, s store.Scope) error {
			n, err := a.deps.Issuer.PurgeExpired(ctx, s.RefreshTokens(), cutoff)
			total += n
			return err
		})
		if err != nil {
			slug := ""
			if tenantID != nil {
				slug = *tenantID
			}
			slog.WarnContext(ctx, "token purge failed",
				logger.Component("admin"),
				logger.TenantID(slug),
				logger.Error(err),
			)
			errs = append(errs, err)
		}
	}

	purge(nil)
	const pageSize = 100
	for offset := 0; ; offset += pageSize {
		page, err := a.deps.Tenants.List(ctx, pageSize, offset)
		if err != nil {
			return total, errors.Join(append(errs, fmt.Errorf("failed to list tenants: %w", err))...)
		}
		for _, t := range page {
			slug := t.Slug
			purge(&slug)
		}
		if len(page) < pageSize {
			break
		}
	}
	return total, errors.Join(errs...)
}
