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
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/opentrusty/tenantcore/internal/observability/logger"
	"github.com/opentrusty/tenantcore/internal/tenant"
)

//go:embed migrations/platform/*.sql migrations/tenant/*.sql
var migrationFS embed.FS

const (
	platformMigrations = "migrations/platform"
	tenantMigrations   = "migrations/tenant"
)

// Migrator applies the embedded schema migrations. The platform schema
// and every tenant schema keep their own schema_migrations table.
type Migrator struct {
	databaseURL string
}

// NewMigrator creates a migrator for a postgres:// URL.
func NewMigrator(databaseURL string) *Migrator {
	return &Migrator{databaseURL: databaseURL}
}

// MigratePlatform brings the platform schema up to date.
func (m *Migrator) MigratePlatform(ctx context.Context) error {
	return m.up(ctx, platformMigrations, tenant.PlatformSchema)
}

// MigrateTenant brings one tenant schema up to date. The schema must
// already exist.
func (m *Migrator) MigrateTenant(ctx context.Context, slug string) error {
	schema, err := tenant.SchemaName(slug)
	if err != nil {
		return err
	}
	return m.up(ctx, tenantMigrations, schema)
}

// MigrateAll migrates the platform schema and then every registered
// tenant. It stops at the first failure.
func (m *Migrator) MigrateAll(ctx context.Context, tenants tenant.Repository) error {
	if err := m.MigratePlatform(ctx); err != nil {
		return err
	}

	const page = 100
	for offset := 0; ; offset += page {
		list, err := tenants.List(ctx, page, offset)
		if err != nil {
			return fmt.Errorf("failed to list tenants: %w", err)
		}
		for _, t := range list {
			if err := m.MigrateTenant(ctx, t.Slug); err != nil {
				return fmt.Errorf("tenant %s: %w", t.Slug, err)
			}
		}
		if len(list) < page {
			return nil
		}
	}
}

func (m *Migrator) up(ctx context.Context, dir, schema string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dsn, err := withSearchPath(m.databaseURL, schema)
	if err != nil {
		return err
	}

	src, err := iofs.New(migrationFS, dir)
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}

	mg, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = mg.Close() }()

	if err := mg.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("migrate %s: %w", schema, err)
	}

	slog.InfoContext(ctx, "schema migrated", logger.Component("migrate"), logger.Namespace(schema))
	return nil
}

// withSearchPath pins the migration session to schema. Schema names
// are validated slugs, so no quoting is needed.
func withSearchPath(databaseURL, schema string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid database url: %w", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
