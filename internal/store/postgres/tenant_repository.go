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

	"github.com/jackc/pgx/v5"

	"github.com/opentrusty/tenantcore/internal/tenant"
)

// TenantRepository implements tenant.Repository. The registry lives in
// the platform schema and every statement names it explicitly, so it is
// safe to use from any connection regardless of its search_path.
type TenantRepository struct {
	db *DB
}

var _ tenant.Repository = (*TenantRepository)(nil)

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db}
}

const tenantColumns = `
	id, slug, name, is_active,
	require_mfa_for_admins, require_mfa_for_users, require_biometrics,
	session_timeout_minutes, enforce_ip_allowlist, allowed_ips,
	enforce_device_allowlist, max_drivers, max_storage_mb,
	created_at, updated_at`

func scanTenant(row pgx.Row) (*tenant.Tenant, error) {
	var t tenant.Tenant
	p := &t.Policy
	err := row.Scan(
		&t.ID, &t.Slug, &t.Name, &t.IsActive,
		&p.RequireMfaForAdmins, &p.RequireMfaForUsers, &p.RequireBiometrics,
		&p.SessionTimeoutMinutes, &p.EnforceIPAllowlist, &p.AllowedIPs,
		&p.EnforceDeviceAllowlist, &p.MaxDrivers, &p.MaxStorageMB,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.AllowedIPs == nil {
		p.AllowedIPs = []string{}
	}
	return &t, nil
}

// Create inserts a tenant row
func (r *TenantRepository) Create(ctx context.Context, t *tenant.Tenant) error {
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	p := t.Policy
	allowed := p.AllowedIPs
	if allowed == nil {
		allowed = []string{}
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO public.tenants (`+tenantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		t.ID, t.Slug, t.Name, t.IsActive,
		p.RequireMfaForAdmins, p.RequireMfaForUsers, p.RequireBiometrics,
		p.SessionTimeoutMinutes, p.EnforceIPAllowlist, allowed,
		p.EnforceDeviceAllowlist, p.MaxDrivers, p.MaxStorageMB,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tenant: %w", mapPostgresError(err))
	}
	return nil
}

// GetBySlug retrieves a tenant by slug
func (r *TenantRepository) GetBySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	t, err := scanTenant(r.db.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM public.tenants WHERE slug = $1`, slug))
	if err != nil {
		return nil, notFound(err, tenant.ErrTenantNotFound, "get tenant")
	}
	return t, nil
}

// List lists tenants ordered by slug
func (r *TenantRepository) List(ctx context.Context, limit, offset int) ([]*tenant.Tenant, error) {
	rows, err := r.db.pool.Query(ctx,
		`SELECT `+tenantColumns+` FROM public.tenants ORDER BY slug LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var tenants []*tenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", mapPostgresError(err))
	}
	return tenants, nil
}

// UpdatePolicy replaces the policy columns of a tenant
func (r *TenantRepository) UpdatePolicy(ctx context.Context, slug string, p tenant.Policy) error {
	allowed := p.AllowedIPs
	if allowed == nil {
		allowed = []string{}
	}
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE public.tenants SET
			require_mfa_for_admins = $2,
			require_mfa_for_users = $3,
			require_biometrics = $4,
			session_timeout_minutes = $5,
			enforce_ip_allowlist = $6,
			allowed_ips = $7,
			enforce_device_allowlist = $8,
			max_drivers = $9,
			max_storage_mb = $10,
			updated_at = NOW()
		WHERE slug = $1
	`,
		slug,
		p.RequireMfaForAdmins, p.RequireMfaForUsers, p.RequireBiometrics,
		p.SessionTimeoutMinutes, p.EnforceIPAllowlist, allowed,
		p.EnforceDeviceAllowlist, p.MaxDrivers, p.MaxStorageMB,
	)
	if err != nil {
		return fmt.Errorf("failed to update tenant policy: %w", mapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return tenant.ErrTenantNotFound
	}
	return nil
}

// SetActive flips the tenant's active flag
func (r *TenantRepository) SetActive(ctx context.Context, slug string, active bool) error {
	tag, err := r.db.pool.Exec(ctx,
		`UPDATE public.tenants SET is_active = $2, updated_at = NOW() WHERE slug = $1`, slug, active)
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", mapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return tenant.ErrTenantNotFound
	}
	return nil
}
