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

package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opentrusty/tenantcore/internal/audit"
	"github.com/opentrusty/tenantcore/internal/id"
)

// Service provides tenant management business logic
type Service struct {
	repo        Repository
	provisioner Provisioner
	auditLogger audit.Logger
}

// NewService creates a new tenant service
func NewService(repo Repository, provisioner Provisioner, auditLogger audit.Logger) *Service {
	return &Service{
		repo:        repo,
		provisioner: provisioner,
		auditLogger: auditLogger,
	}
}

// CreateTenant registers a tenant and provisions its namespace.
// A nil policy applies DefaultPolicy.
func (s *Service) CreateTenant(ctx context.Context, slug, name string, policy *Policy, actorID string) (*Tenant, error) {
	slug = strings.TrimSpace(slug)
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("tenant name is required")
	}

	p := DefaultPolicy()
	if policy != nil {
		p = *policy
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetBySlug(ctx, slug); err == nil {
		return nil, ErrTenantExists
	} else if !errors.Is(err, ErrTenantNotFound) {
		return nil, fmt.Errorf("failed to check tenant: %w", err)
	}

	now := time.Now()
	t := &Tenant{
		ID:        id.NewUUIDv7(),
		Slug:      slug,
		Name:      name,
		IsActive:  true,
		Policy:    p,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	if s.provisioner != nil {
		if err := s.provisioner.ProvisionSchema(ctx, slug); err != nil {
			return nil, fmt.Errorf("failed to provision tenant schema: %w", err)
		}
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantCreated,
		TenantID: slug,
		ActorID:  actorID,
		Resource: audit.ResourceTenant,
		Metadata: map[string]any{"name": name},
	})

	return t, nil
}

// GetTenant retrieves a tenant by slug
func (s *Service) GetTenant(ctx context.Context, slug string) (*Tenant, error) {
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}
	return s.repo.GetBySlug(ctx, slug)
}

// Resolve loads the tenant named by the request's tenant context.
func (s *Service) Resolve(ctx context.Context) (*Tenant, error) {
	slug, err := ResolveID(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.GetBySlug(ctx, slug)
}

// ListTenants lists tenants with pagination
func (s *Service) ListTenants(ctx context.Context, limit, offset int) ([]*Tenant, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, limit, offset)
}

// UpdatePolicy replaces the policy bundle of a tenant.
func (s *Service) UpdatePolicy(ctx context.Context, slug string, policy Policy, actorID string) (*Tenant, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.UpdatePolicy(ctx, slug, policy); err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantPolicyUpdated,
		TenantID: slug,
		ActorID:  actorID,
		Resource: audit.ResourceTenant,
		Metadata: map[string]any{
			"enforce_ip_allowlist":     policy.EnforceIPAllowlist,
			"enforce_device_allowlist": policy.EnforceDeviceAllowlist,
			"require_mfa_for_admins":   policy.RequireMfaForAdmins,
			"require_mfa_for_users":    policy.RequireMfaForUsers,
		},
	})

	return s.repo.GetBySlug(ctx, slug)
}

// Deactivate blocks every login and refresh for the tenant. Data is kept.
func (s *Service) Deactivate(ctx context.Context, slug, actorID string) error {
	return s.setActive(ctx, slug, false, actorID)
}

// Activate reverses Deactivate.
func (s *Service) Activate(ctx context.Context, slug, actorID string) error {
	return s.setActive(ctx, slug, true, actorID)
}

func (s *Service) setActive(ctx context.Context, slug string, active bool, actorID string) error {
	if err := s.repo.SetActive(ctx, slug, active); err != nil {
		return err
	}

	eventType := audit.TypeTenantDeactivated
	if active {
		eventType = audit.TypeTenantActivated
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type:     eventType,
		TenantID: slug,
		ActorID:  actorID,
		Resource: audit.ResourceTenant,
	})
	return nil
}
