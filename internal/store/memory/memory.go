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

// Package memory is an in-process implementation of the store contracts.
// It is valid only for single-process deployments and tests: nothing is
// shared across instances and nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opentrusty/tenantcore/internal/device"
	"github.com/opentrusty/tenantcore/internal/identity"
	"github.com/opentrusty/tenantcore/internal/store"
	"github.com/opentrusty/tenantcore/internal/tenant"
	"github.com/opentrusty/tenantcore/internal/token"
)

var (
	ErrNamespaceNotProvisioned = store.ErrNamespaceNotProvisioned
	ErrScopeClosed             = store.ErrScopeClosed
)

type namespace struct {
	identities map[string]*identity.Identity
	bindings   map[string]*device.Binding
	tokens     map[string]*token.RefreshToken
}

func newNamespace() *namespace {
	return &namespace{
		identities: make(map[string]*identity.Identity),
		bindings:   make(map[string]*device.Binding),
		tokens:     make(map[string]*token.RefreshToken),
	}
}

// Store holds every namespace and the tenant registry.
type Store struct {
	mu         sync.Mutex
	namespaces map[string]*namespace
	tenants    map[string]*tenant.Tenant
}

var (
	_ store.Access       = (*Store)(nil)
	_ tenant.Repository  = (*Store)(nil)
	_ tenant.Provisioner = (*Store)(nil)
)

// New returns an empty store with the platform namespace provisioned.
func New() *Store {
	return &Store{
		namespaces: map[string]*namespace{tenant.PlatformSchema: newNamespace()},
		tenants:    make(map[string]*tenant.Tenant),
	}
}

// WithTenant implements store.Access.
func (s *Store) WithTenant(ctx context.Context, fn func(ctx context.Context, sc store.Scope) error) error {
	schema, err := tenant.ResolveSchema(ctx)
	if err != nil {
		return err
	}
	return s.run(ctx, schema, fn)
}

// WithPlatform implements store.Access.
func (s *Store) WithPlatform(ctx context.Context, fn func(ctx context.Context, sc store.Scope) error) error {
	return s.run(ctx, tenant.PlatformSchema, fn)
}

func (s *Store) run(ctx context.Context, schema string, fn func(ctx context.Context, sc store.Scope) error) error {
	s.mu.Lock()
	_, ok := s.namespaces[schema]
	s.mu.Unlock()
	if !ok {
		return ErrNamespaceNotProvisioned
	}

	sc := &scope{store: s, name: schema}
	defer sc.close()
	return fn(ctx, sc)
}

// ProvisionSchema implements tenant.Provisioner.
func (s *Store) ProvisionSchema(_ context.Context, slug string) error {
	schema, err := tenant.SchemaName(slug)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[schema]; !ok {
		s.namespaces[schema] = newNamespace()
	}
	return nil
}

// scope is bound to one namespace until close.
type scope struct {
	store  *Store
	name   string
	mu     sync.Mutex
	closed bool
}

func (sc *scope) close() {
	sc.mu.Lock()
	sc.closed = true
	sc.mu.Unlock()
}

// lock returns the bound namespace with the store locked. The caller
// must call the returned unlock.
func (sc *scope) lock() (*namespace, func(), error) {
	sc.mu.Lock()
	closed := sc.closed
	sc.mu.Unlock()
	if closed {
		return nil, nil, ErrScopeClosed
	}
	sc.store.mu.Lock()
	return sc.store.namespaces[sc.name], sc.store.mu.Unlock, nil
}

func (sc *scope) Namespace() string               { return sc.name }
func (sc *scope) Identities() identity.Repository { return &identities{sc: sc} }
func (sc *scope) Devices() device.Repository      { return &devices{sc: sc} }
func (sc *scope) RefreshTokens() token.Repository { return &tokens{sc: sc} }

// Tenant registry. Always lives beside the platform namespace.

func (s *Store) Create(_ context.Context, t *tenant.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[t.Slug]; ok {
		return tenant.ErrTenantExists
	}
	c := *t
	c.Policy.AllowedIPs = append([]string(nil), t.Policy.AllowedIPs...)
	s.tenants[t.Slug] = &c
	return nil
}

func (s *Store) GetBySlug(_ context.Context, slug string) (*tenant.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[slug]
	if !ok {
		return nil, tenant.ErrTenantNotFound
	}
	c := *t
	c.Policy.AllowedIPs = append([]string(nil), t.Policy.AllowedIPs...)
	return &c, nil
}

func (s *Store) List(_ context.Context, limit, offset int) ([]*tenant.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]*tenant.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		c := *t
		all = append(all, &c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Slug < all[j].Slug })
	return page(all, limit, offset), nil
}

func (s *Store) UpdatePolicy(_ context.Context, slug string, policy tenant.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[slug]
	if !ok {
		return tenant.ErrTenantNotFound
	}
	t.Policy = policy
	t.Policy.AllowedIPs = append([]string(nil), policy.AllowedIPs...)
	t.UpdatedAt = time.Now()
	return nil
}

func (s *Store) SetActive(_ context.Context, slug string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[slug]
	if !ok {
		return tenant.ErrTenantNotFound
	}
	t.IsActive = active
	t.UpdatedAt = time.Now()
	return nil
}

func page[T any](all []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []T{}
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}
