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

//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/opentrusty/tenantcore/internal/audit"
	"github.com/opentrusty/tenantcore/internal/autherr"
	"github.com/opentrusty/tenantcore/internal/id"
	"github.com/opentrusty/tenantcore/internal/identity"
	"github.com/opentrusty/tenantcore/internal/store"
	"github.com/opentrusty/tenantcore/internal/tenant"
	"github.com/opentrusty/tenantcore/internal/token"
)

// setupPostgres starts a PostgreSQL container and migrates the platform schema.
func setupPostgres(t *testing.T, ctx context.Context) string {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connString := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
	require.NoError(t, NewMigrator(connString).MigratePlatform(ctx))
	return connString
}

type fixture struct {
	db      *DB
	access  *ScopedAccess
	tenants *TenantRepository
}

func newFixture(t *testing.T, ctx context.Context, connString string) *fixture {
	db, err := NewFromURL(ctx, connString)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	return &fixture{
		db:      db,
		access:  NewScopedAccess(db, NewMigrator(connString), nil),
		tenants: NewTenantRepository(db),
	}
}

func (f *fixture) createTenant(t *testing.T, ctx context.Context, slug string) {
	now := time.Now()
	require.NoError(t, f.tenants.Create(ctx, &tenant.Tenant{
		ID: id.NewUUIDv7(), Slug: slug, Name: slug, IsActive: true,
		Policy: tenant.DefaultPolicy(), CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, f.access.ProvisionSchema(ctx, slug))
}

func newUser(tenantID, email string) *identity.Identity {
	tid := tenantID
	return &identity.Identity{
		ID:           id.NewUUIDv7(),
		TenantID:     &tid,
		Email:        email,
		PasswordHash: "$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$aGFzaA",
		Role:         identity.RoleTenantUser,
		IsActive:     true,
	}
}

// TestPurpose: Validates that scoped access keeps each tenant's rows in its own schema.
// Scope: Database Integration Test
// Security: Multi-tenant Data Separation (CWE-284)
// Expected: The same email exists independently in two tenants and each unit of work sees only its own row.
// Test Case ID: ISO-01
// Metadata:
//   - Category: Tenant
//   - Priority: High
//   - Tags: multi-tenancy, security, data-isolation
func TestScopedAccess_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx, setupPostgres(t, ctx))
	f.createTenant(t, ctx, "acme")
	f.createTenant(t, ctx, "globex")

	email := "shared@example.com"
	userA := newUser("acme", email)
	userB := newUser("globex", email)

	require.NoError(t, f.access.WithTenant(tenant.WithID(ctx, "acme"), func(ctx context.Context, s store.Scope) error {
		assert.Equal(t, "tenant_acme", s.Namespace())
		return s.Identities().Create(ctx, userA)
	}))
	require.NoError(t, f.access.WithTenant(tenant.WithID(ctx, "globex"), func(ctx context.Context, s store.Scope) error {
		return s.Identities().Create(ctx, userB)
	}))

	require.NoError(t, f.access.WithTenant(tenant.WithID(ctx, "acme"), func(ctx context.Context, s store.Scope) error {
		found, err := s.Identities().GetByEmail(ctx, email)
		require.NoError(t, err)
		assert.Equal(t, userA.ID, found.ID)

		_, err = s.Identities().GetByID(ctx, userB.ID)
		assert.ErrorIs(t, err, identity.ErrIdentityNotFound)
		return nil
	}))

	require.NoError(t, f.access.WithPlatform(ctx, func(ctx context.Context, s store.Scope) error {
		_, err := s.Identities().GetByEmail(ctx, email)
		assert.ErrorIs(t, err, identity.ErrIdentityNotFound)
		return nil
	}))

	err := f.access.WithTenant(tenant.WithID(ctx, "acme"), func(ctx context.Context, s store.Scope) error {
		return s.Identities().Create(ctx, newUser("acme", email))
	})
	assert.ErrorIs(t, err, identity.ErrIdentityExists)
}

// TestPurpose: Validates that a pooled connection never carries a tenant binding into the next unit of work.
// Scope: Database Integration Test
// Security: Connection reuse cannot leak a namespace binding
// Expected: With a single pooled connection, search_path is back to the server default after every unit of work, including failed ones.
// Test Case ID: ISO-02
func TestScopedAccess_ResetsBindingOnRelease(t *testing.T) {
	ctx := context.Background()
	connString := setupPostgres(t, ctx)
	f := newFixture(t, ctx, connString+"&pool_max_conns=1")
	f.createTenant(t, ctx, "acme")

	var defaultPath string
	require.NoError(t, f.db.Pool().QueryRow(ctx, "SHOW search_path").Scan(&defaultPath))

	_ = f.access.WithTenant(tenant.WithID(ctx, "acme"), func(ctx context.Context, s store.Scope) error {
		return fmt.Errorf("unit of work failed")
	})

	var after string
	require.NoError(t, f.db.Pool().QueryRow(ctx, "SHOW search_path").Scan(&after))
	assert.Equal(t, defaultPath, after)

	var leaked store.Scope
	require.NoError(t, f.access.WithTenant(tenant.WithID(ctx, "acme"), func(ctx context.Context, s store.Scope) error {
		leaked = s
		return nil
	}))
	_, err := leaked.Identities().GetByEmail(ctx, "x@example.com")
	assert.ErrorIs(t, err, store.ErrScopeClosed)
}

// TestPurpose: Validates that a tenant without a provisioned schema cannot be read through the platform tables.
// Scope: Database Integration Test
// Security: Fail closed on unknown namespaces
// Expected: Queries against an unprovisioned tenant fail with ErrNamespaceNotProvisioned.
// Test Case ID: ISO-03
func TestScopedAccess_UnprovisionedTenant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx, setupPostgres(t, ctx))

	err := f.access.WithTenant(tenant.WithID(ctx, "ghost"), func(ctx context.Context, s store.Scope) error {
		_, err := s.Identities().GetByEmail(ctx, "admin@example.com")
		return err
	})
	assert.ErrorIs(t, err, store.ErrNamespaceNotProvisioned)
}

// TestPurpose: Validates that concurrent rotations of the same refresh token have exactly one winner.
// Scope: Database Integration Test
// Security: Refresh token replay (CWE-294)
// Expected: Of many concurrent compare-and-swap attempts on separate connections, exactly one succeeds.
// Test Case ID: ROT-01
func TestRefreshTokenRepository_ConcurrentRotation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx, setupPostgres(t, ctx))
	f.createTenant(t, ctx, "acme")
	tctx := tenant.WithID(ctx, "acme")

	user := newUser("acme", "driver@example.com")
	tokenID := id.NewUUIDv7()
	require.NoError(t, f.access.WithTenant(tctx, func(ctx context.Context, s store.Scope) error {
		if err := s.Identities().Create(ctx, user); err != nil {
			return err
		}
		return s.RefreshTokens().Create(ctx, &token.RefreshToken{
			TokenID: tokenID, UserID: user.ID, UserRole: user.Role, TenantID: user.TenantID,
			ExpiresAt: time.Now().Add(time.Hour),
		})
	}))

	const attempts = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.access.WithTenant(tctx, func(ctx context.Context, s store.Scope) error {
				ok, err := s.RefreshTokens().MarkReplaced(ctx, tokenID, id.NewUUIDv7(), time.Now())
				if err == nil && ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
				return err
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	require.NoError(t, f.access.WithTenant(tctx, func(ctx context.Context, s store.Scope) error {
		rt, err := s.RefreshTokens().GetByTokenID(ctx, tokenID)
		require.NoError(t, err)
		assert.True(t, rt.IsRevoked)
		assert.NotNil(t, rt.ReplacedByTokenID)
		return nil
	}))
}

// TestPurpose: Validates transactions on a bound scope commit and roll back under the same namespace.
// Scope: Database Integration Test
// Expected: A failed transaction leaves no row behind; a committed one is visible through the raw query escape hatch.
// Test Case ID: ISO-04
func TestScope_InTxAndQuery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx, setupPostgres(t, ctx))
	f.createTenant(t, ctx, "acme")
	tctx := tenant.WithID(ctx, "acme")

	require.NoError(t, f.access.WithTenant(tctx, func(ctx context.Context, s store.Scope) error {
		sc := s.(*Scope)

		err := sc.InTx(ctx, func(ctx context.Context, tx *Scope) error {
			if err := tx.Identities().Create(ctx, newUser("acme", "rolled@example.com")); err != nil {
				return err
			}
			return fmt.Errorf("abort")
		})
		require.Error(t, err)

		require.NoError(t, sc.InTx(ctx, func(ctx context.Context, tx *Scope) error {
			return tx.Identities().Create(ctx, newUser("acme", "kept@example.com"))
		}))

		rows, err := sc.Query(ctx, "SELECT email FROM identities ORDER BY email")
		require.NoError(t, err)
		defer rows.Close()
		var emails []string
		for rows.Next() {
			var e string
			require.NoError(t, rows.Scan(&e))
			emails = append(emails, e)
		}
		assert.Equal(t, []string{"kept@example.com"}, emails)
		return rows.Err()
	}))
}

// TestPurpose: Validates that the lockout counter is incremented in one statement across pooled connections.
// Scope: Database Integration Test
// Security: Brute-force protection under concurrency (CWE-307, CWE-362)
// Expected: 20 parallel wrong-password logins evaluate exactly 5 guesses; the row ends with 5 attempts and a lock, and a locked row refuses further claims.
// Test Case ID: ISO-05
func TestIdentityRepository_ConcurrentLockout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx, setupPostgres(t, ctx))
	f.createTenant(t, ctx, "acme")
	tctx := tenant.WithID(ctx, "acme")

	hasher := identity.NewPasswordHasher(1024, 1, 1, 16, 32)
	hash, err := hasher.Hash("SecurePassword123")
	require.NoError(t, err)
	user := newUser("acme", "driver@example.com")
	user.PasswordHash = hash
	require.NoError(t, f.access.WithTenant(tctx, func(ctx context.Context, s store.Scope) error {
		return s.Identities().Create(ctx, user)
	}))

	a := identity.NewAuthenticator(hasher, audit.NewSlogLogger(), 5, 15*time.Minute)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		invalid int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.access.WithTenant(tctx, func(ctx context.Context, s store.Scope) error {
				_, err := a.Validate(ctx, s.Identities(), "driver@example.com", "wrong")
				return err
			})
			if errors.Is(err, autherr.ErrInvalidCredentials) {
				mu.Lock()
				invalid++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, invalid)

	require.NoError(t, f.access.WithTenant(tctx, func(ctx context.Context, s store.Scope) error {
		got, err := s.Identities().GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, got.FailedLoginAttempts)
		require.NotNil(t, got.LockedUntil)

		_, _, err = s.Identities().ClaimLoginAttempt(ctx, user.ID, 5, time.Now().Add(time.Hour), time.Now())
		assert.ErrorIs(t, err, identity.ErrAccountLocked)
		_, _, err = s.Identities().ClaimLoginAttempt(ctx, id.NewUUIDv7(), 5, time.Now(), time.Now())
		assert.ErrorIs(t, err, identity.ErrIdentityNotFound)
		return nil
	}))
}
