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
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/tenantcore/internal/device"
	"github.com/opentrusty/tenantcore/internal/identity"
	"github.com/opentrusty/tenantcore/internal/store"
	"github.com/opentrusty/tenantcore/internal/tenant"
	"github.com/opentrusty/tenantcore/internal/token"
)

// TestPurpose: Validates that unique violations surface as domain conflict errors without losing the driver error.
// Scope: Unit Test
// Security: Storage errors wrapped without changing their meaning
// Expected: Known constraints map to their domain sentinel and the PgError stays reachable through errors.As.
// Test Case ID: PG-01
func TestMapPostgresError_UniqueViolations(t *testing.T) {
	tests := []struct {
		constraint string
		want       error
	}{
		{"identities_email_key", identity.ErrIdentityExists},
		{"device_bindings_active_key", device.ErrBindingExists},
		{"tenants_slug_key", tenant.ErrTenantExists},
	}

	for _, tt := range tests {
		t.Run(tt.constraint, func(t *testing.T) {
			raw := &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: tt.constraint}
			err := mapPostgresError(fmt.Errorf("exec: %w", raw))

			assert.ErrorIs(t, err, tt.want)
			var pgErr *pgconn.PgError
			require.True(t, errors.As(err, &pgErr))
			assert.Equal(t, tt.constraint, pgErr.ConstraintName)
		})
	}

	other := mapPostgresError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "refresh_tokens_token_id_key"})
	assert.NotErrorIs(t, other, identity.ErrIdentityExists)
	assert.Contains(t, other.Error(), "refresh_tokens_token_id_key")
}

// TestPurpose: Validates classification of missing relations, missing rows and non-postgres errors.
// Scope: Unit Test
// Security: Unprovisioned tenant schemas fail closed
// Expected: undefined_table maps to ErrNamespaceNotProvisioned; ErrNoRows maps to the entity's not-found error; other errors pass through.
// Test Case ID: PG-02
func TestMapPostgresError_Classification(t *testing.T) {
	assert.Nil(t, mapPostgresError(nil))

	plain := errors.New("dial tcp: refused")
	assert.Equal(t, plain, mapPostgresError(plain))

	missing := mapPostgresError(&pgconn.PgError{Code: pgerrcode.UndefinedTable, Message: `relation "identities" does not exist`})
	assert.ErrorIs(t, missing, store.ErrNamespaceNotProvisioned)

	assert.ErrorIs(t, notFound(pgx.ErrNoRows, token.ErrTokenNotFound, "get refresh token"), token.ErrTokenNotFound)

	wrapped := notFound(&pgconn.PgError{Code: pgerrcode.QueryCanceled}, token.ErrTokenNotFound, "get refresh token")
	assert.NotErrorIs(t, wrapped, token.ErrTokenNotFound)
	assert.Contains(t, wrapped.Error(), "failed to get refresh token")
}

// TestPurpose: Validates the migration DSN pins the session to the target schema.
// Scope: Unit Test
// Security: Tenant migrations never land in another schema
// Expected: search_path is set on the URL and existing parameters are preserved.
// Test Case ID: PG-03
func TestMigrate_WithSearchPath(t *testing.T) {
	cfg := Config{Host: "db", Port: "5432", User: "tc", Password: "p@ss", Database: "tenantcore", SSLMode: "disable"}
	u := cfg.URL()
	assert.Contains(t, u, "postgres://tc:p%40ss@db:5432/tenantcore")

	schema, err := tenant.SchemaName("acme-co")
	require.NoError(t, err)
	dsn, err := withSearchPath(u, schema)
	require.NoError(t, err)
	assert.Contains(t, dsn, "search_path=tenant_acme_co")
	assert.Contains(t, dsn, "sslmode=disable")
}
