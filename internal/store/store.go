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

// Package store defines scoped data access. A unit of work runs against
// exactly one namespace: the requesting tenant's schema or the platform
// schema. Handles passed to the callback must not escape it.
package store

import (
	"context"
	"errors"

	"github.com/opentrusty/tenantcore/internal/device"
	"github.com/opentrusty/tenantcore/internal/identity"
	"github.com/opentrusty/tenantcore/internal/tenant"
	"github.com/opentrusty/tenantcore/internal/token"
)

var (
	// ErrNamespaceNotProvisioned is returned when the resolved namespace
	// has no storage behind it.
	ErrNamespaceNotProvisioned = errors.New("namespace is not provisioned")
	// ErrScopeClosed is returned by a handle used after its unit of work.
	ErrScopeClosed = errors.New("scope used outside its unit of work")
)

// Scope is a namespace-bound handle valid for one unit of work. It is
// owned by a single goroutine.
type Scope interface {
	Namespace() string
	Identities() identity.Repository
	Devices() device.Repository
	RefreshTokens() token.Repository
}

// Access opens units of work.
type Access interface {
	// WithTenant binds to the namespace resolved from the tenant context
	// in ctx and fails before touching storage if it cannot be resolved.
	WithTenant(ctx context.Context, fn func(ctx context.Context, s Scope) error) error
	// WithPlatform binds to the platform namespace.
	WithPlatform(ctx context.Context, fn func(ctx context.Context, s Scope) error) error
}

// ForTenantID runs fn in the platform namespace when tenantID is nil and
// in the namespace of *tenantID otherwise.
func ForTenantID(ctx context.Context, a Access, tenantID *string, fn func(ctx context.Context, s Scope) error) error {
	if tenantID == nil {
		return a.WithPlatform(ctx, fn)
	}
	if tc, ok := tenant.FromContext(ctx); !ok || tc.ID != *tenantID {
		ctx = tenant.WithID(ctx, *tenantID)
	}
	return a.WithTenant(ctx, fn)
}
