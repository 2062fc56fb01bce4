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
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opentrusty/tenantcore/internal/device"
	"github.com/opentrusty/tenantcore/internal/identity"
	"github.com/opentrusty/tenantcore/internal/observability/logger"
	"github.com/opentrusty/tenantcore/internal/observability/metrics"
	"github.com/opentrusty/tenantcore/internal/store"
	"github.com/opentrusty/tenantcore/internal/tenant"
	"github.com/opentrusty/tenantcore/internal/token"
)

const defaultResetTimeout = 2 * time.Second

// querier is what repositories need from a bound connection or a
// transaction on it.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ScopedAccess implements store.Access on a connection pool. Each unit of
// work holds one pooled connection whose search_path names exactly one
// schema; the binding is session level so writes made before a failure
// (lockout counters) are kept.
type ScopedAccess struct {
	db           *DB
	migrator     *Migrator
	instruments  *metrics.AuthInstruments
	resetTimeout time.Duration
}

var (
	_ store.Access       = (*ScopedAccess)(nil)
	_ tenant.Provisioner = (*ScopedAccess)(nil)
)

// NewScopedAccess creates the scoped access layer. migrator may be nil
// when schemas are provisioned out of band.
func NewScopedAccess(db *DB, migrator *Migrator, instruments *metrics.AuthInstruments) *ScopedAccess {
	return &ScopedAccess{
		db:           db,
		migrator:     migrator,
		instruments:  instruments,
		resetTimeout: defaultResetTimeout,
	}
}

// WithTenant implements store.Access.
func (a *ScopedAccess) WithTenant(ctx context.Context, fn func(ctx context.Context, s store.Scope) error) error {
	schema, err := tenant.ResolveSchema(ctx)
	if err != nil {
		return err
	}
	a.instruments.RecordScope(ctx, "tenant")
	return a.run(ctx, schema, fn)
}

// WithPlatform implements store.Access.
func (a *ScopedAccess) WithPlatform(ctx context.Context, fn func(ctx context.Context, s store.Scope) error) error {
	a.instruments.RecordScope(ctx, "platform")
	return a.run(ctx, tenant.PlatformSchema, fn)
}

// ProvisionSchema creates the tenant schema and applies the tenant
// migrations to it.
func (a *ScopedAccess) ProvisionSchema(ctx context.Context, slug string) error {
	schema, err := tenant.SchemaName(slug)
	if err != nil {
		return err
	}

	if _, err := a.db.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
		return fmt.Errorf("failed to create schema: %w", mapPostgresError(err))
	}
	if a.migrator == nil {
		return nil
	}
	return a.migrator.MigrateTenant(ctx, slug)
}

func (a *ScopedAccess) run(ctx context.Context, schema string, fn func(ctx context.Context, s store.Scope) error) error {
	conn, err := a.db.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", mapPostgresError(err))
	}

	if _, err := conn.Exec(ctx, "SELECT set_config('search_path', $1, false)", pgx.Identifier{schema}.Sanitize()); err != nil {
		a.discard(conn)
		return fmt.Errorf("failed to bind namespace: %w", mapPostgresError(err))
	}

	s := &Scope{namespace: schema, conn: conn, q: conn}
	defer func() {
		s.closed.Store(true)
		a.release(ctx, conn)
	}()

	return fn(ctx, s)
}

// release resets the binding before the connection goes back to the
// pool. A connection that cannot be reset is closed instead.
func (a *ScopedAccess) release(ctx context.Context, conn *pgxpool.Conn) {
	resetCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.resetTimeout)
	defer cancel()

	if _, err := conn.Exec(resetCtx, "RESET search_path"); err != nil {
		slog.WarnContext(ctx, "failed to reset search_path, closing connection",
			logger.Component("postgres"),
			logger.Error(err),
		)
		a.discard(conn)
		return
	}
	conn.Release()
}

func (a *ScopedAccess) discard(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), a.resetTimeout)
	defer cancel()
	_ = conn.Hijack().Close(ctx)
}

// Scope is the bound handle passed to a unit of work. It must not be
// used after the callback returns or from more than one goroutine.
type Scope struct {
	namespace string
	conn      *pgxpool.Conn
	q         querier
	closed    atomic.Bool
	parent    *Scope
}

var _ store.Scope = (*Scope)(nil)

// Namespace implements store.Scope.
func (s *Scope) Namespace() string { return s.namespace }

// Identities implements store.Scope.
func (s *Scope) Identities() identity.Repository { return &identityRepository{s: s} }

// Devices implements store.Scope.
func (s *Scope) Devices() device.Repository { return &deviceRepository{s: s} }

// RefreshTokens implements store.Scope.
func (s *Scope) RefreshTokens() token.Repository { return &refreshTokenRepository{s: s} }

func (s *Scope) querier() (querier, error) {
	if s.closed.Load() || (s.parent != nil && s.parent.closed.Load()) {
		return nil, store.ErrScopeClosed
	}
	return s.q, nil
}

// Query runs a parameterized read under the scope's binding. It is the
// escape hatch for aggregate reporting.
func (s *Scope) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	q, err := s.querier()
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	return rows, nil
}

// Exec runs a parameterized statement under the scope's binding.
func (s *Scope) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q, err := s.querier()
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return tag, mapPostgresError(err)
	}
	return tag, nil
}

// InTx runs fn in a transaction on the scope's connection. The binding
// is unchanged inside the transaction.
func (s *Scope) InTx(ctx context.Context, fn func(ctx context.Context, tx *Scope) error) error {
	if _, err := s.querier(); err != nil {
		return err
	}
	if s.parent != nil {
		return fmt.Errorf("nested transactions are not supported")
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapPostgresError(err))
	}

	txScope := &Scope{namespace: s.namespace, conn: s.conn, q: tx, parent: s}
	defer txScope.closed.Store(true)

	if err := fn(ctx, txScope); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			slog.WarnContext(ctx, "rollback failed", logger.Component("postgres"), logger.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapPostgresError(err))
	}
	return nil
}
