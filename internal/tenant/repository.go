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

	"github.com/opentrusty/tenantcore/internal/autherr"
)

var (
	ErrTenantNotFound = autherr.ErrTenantNotFound
	ErrTenantExists   = errors.New("tenant already exists")
	ErrInvalidPolicy  = errors.New("invalid tenant policy")
)

// Repository defines the interface for tenant storage. Tenants live in
// the platform namespace and are addressed by slug.
type Repository interface {
	Create(ctx context.Context, tenant *Tenant) error
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	List(ctx context.Context, limit, offset int) ([]*Tenant, error)
	UpdatePolicy(ctx context.Context, slug string, policy Policy) error
	SetActive(ctx context.Context, slug string, active bool) error
}

// Provisioner creates and migrates the namespace of a new tenant.
type Provisioner interface {
	ProvisionSchema(ctx context.Context, slug string) error
}
