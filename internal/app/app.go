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

// Package app wires configuration into the running services. Both the
// server and the admin CLI build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/opentrusty/tenantcore/internal/audit"
	"github.com/opentrusty/tenantcore/internal/auth"
	"github.com/opentrusty/tenantcore/internal/cache"
	"github.com/opentrusty/tenantcore/internal/config"
	"github.com/opentrusty/tenantcore/internal/device"
	"github.com/opentrusty/tenantcore/internal/identity"
	"github.com/opentrusty/tenantcore/internal/mfa"
	"github.com/opentrusty/tenantcore/internal/notify"
	"github.com/opentrusty/tenantcore/internal/observability/logger"
	"github.com/opentrusty/tenantcore/internal/observability/metrics"
	"github.com/opentrusty/tenantcore/internal/observability/tracing"
	"github.com/opentrusty/tenantcore/internal/store/postgres"
	"github.com/opentrusty/tenantcore/internal/tenant"
	"github.com/opentrusty/tenantcore/internal/token"
	transportHTTP "github.com/opentrusty/tenantcore/internal/transport/http"
)

// App holds the long-lived components of one process.
type App struct {
	Config       *config.Config
	DB           *postgres.DB
	Migrator     *postgres.Migrator
	Access       *postgres.ScopedAccess
	Tenants      *postgres.TenantRepository
	Cache        cache.Store
	Dispatcher   *notify.Dispatcher
	Issuer       *token.Issuer
	Orchestrator *auth.Orchestrator
	Accounts     *auth.AccountService
	Admin        *auth.AdminService
	Tracer       *tracing.Tracer

	closers []func(context.Context) error
}

// New connects to the database and the optional cache and broker, then
// builds the services. Call Close on every path once New succeeds.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	if err := a.init(ctx); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   cfg.Observability.SamplingRate,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
		tracer = tracing.Noop()
	}
	a.Tracer = tracer
	a.onClose(tracer.Shutdown)

	meter, err := metrics.New(ctx, metrics.Config{Enabled: cfg.Observability.OTELEnabled}, cfg.Observability.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize meter: %w", err)
	}
	a.onClose(meter.Shutdown)
	instruments, err := metrics.NewAuthInstruments(meter)
	if err != nil {
		return fmt.Errorf("failed to register instruments: %w", err)
	}

	dbConfig := postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	}
	db, err := postgres.New(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = db
	a.onClose(func(context.Context) error { db.Close(); return nil })
	slog.Info("connected to database", logger.Component("app"))

	a.Migrator = postgres.NewMigrator(dbConfig.URL())
	a.Access = postgres.NewScopedAccess(db, a.Migrator, instruments)
	a.Tenants = postgres.NewTenantRepository(db)

	if err := a.initCache(ctx); err != nil {
		return err
	}
	if err := a.initNotifier(instruments); err != nil {
		return err
	}

	auditLogger := audit.NewSlogLogger()
	hasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)
	a.Issuer, err = token.NewIssuer(token.Config{
		AccessSecret:  []byte(cfg.Token.AccessSecret),
		RefreshSecret: []byte(cfg.Token.RefreshSecret),
		Issuer:        cfg.Token.Issuer,
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshTTL:    cfg.Token.RefreshTTL,
	}, auditLogger)
	if err != nil {
		return err
	}

	deps := auth.Dependencies{
		Access:        a.Access,
		Tenants:       a.Tenants,
		Identities:    identity.NewService(hasher, auditLogger),
		Authenticator: identity.NewAuthenticator(hasher, auditLogger, cfg.Security.LockoutMaxAttempts, cfg.Security.LockoutDuration),
		Mfa:           mfa.NewVerifier(cfg.MFA.Issuer, a.Cache).WithFailureLimit(cfg.MFA.MaxFailures, cfg.MFA.FailureWindow),
		Devices:       device.NewRegistry(auditLogger),
		Issuer:        a.Issuer,
		Notifier:      a.Dispatcher,
		AuditLogger:   auditLogger,
		Instruments:   instruments,
		Tracer:        tracer,
	}
	a.Orchestrator = auth.NewOrchestrator(deps)
	a.Accounts = auth.NewAccountService(deps)
	a.Admin = auth.NewAdminService(deps, tenant.NewService(a.Tenants, a.Access, auditLogger))
	return nil
}

// initCache picks Redis when an address is configured. The in-process
// store is only correct for a single instance.
func (a *App) initCache(ctx context.Context) error {
	cfg := a.Config.Redis
	if cfg.Addr == "" {
		mem := cache.NewMemory(time.Minute)
		a.Cache = mem
		a.onClose(func(context.Context) error { mem.Close(); return nil })
		slog.Warn("REDIS_ADDR not set, using in-process cache", logger.Component("app"))
		return nil
	}
	rdb, err := cache.DialRedis(ctx, cfg.Addr, cfg.Password, cfg.DB, cfg.Prefix)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.Cache = rdb
	a.onClose(func(context.Context) error { return rdb.Close() })
	return nil
}

func (a *App) initNotifier(instruments *metrics.AuthInstruments) error {
	cfg := a.Config.Kafka
	var pub notify.Publisher = notify.NewLog()
	if len(cfg.Brokers) > 0 {
		k, err := notify.NewKafka(cfg.Brokers, cfg.Topic)
		if err != nil {
			return err
		}
		pub = k
	}
	a.Dispatcher = notify.NewDispatcher(pub,
		notify.WithPublishTimeout(cfg.PublishTimeout),
		notify.WithMaxInFlight(cfg.MaxInFlight),
		notify.WithInstruments(instruments),
	)
	a.onClose(a.Dispatcher.Drain)
	return nil
}

// Router builds the HTTP surface for mode along with the limiter whose
// janitor the caller must run.
func (a *App) Router(mode string) (http.Handler, *transportHTTP.RateLimiter) {
	cfg := a.Config
	guard := transportHTTP.NewGuard(a.Issuer, a.Tenants)
	h := transportHTTP.NewHandler(a.Orchestrator, a.Accounts, a.Admin, guard)
	rl := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	var quota *transportHTTP.TenantQuota
	if cfg.RateLimit.TenantQuota > 0 {
		quota = transportHTTP.NewTenantQuota(a.Cache, cfg.RateLimit.TenantQuota, cfg.RateLimit.TenantWindow)
	}
	return transportHTTP.NewRouter(h, rl, transportHTTP.RouterOptions{
		Mode:              mode,
		AllowedOrigins:    cfg.CORS.AllowedOrigins,
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
		RequestTimeout:    cfg.Server.WriteTimeout,
		TenantQuota:       quota,
	}), rl
}

// Migrate applies platform migrations and then every tenant's.
func (a *App) Migrate(ctx context.Context) error {
	if err := a.Migrator.MigrateAll(ctx, a.Tenants); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// PurgeLoop deletes expired refresh records every interval until ctx is
// done.
func (a *App) PurgeLoop(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := a.Admin.PurgeExpiredTokens(ctx, now)
			if err != nil {
				slog.ErrorContext(ctx, "failed to purge expired tokens",
					logger.Component("app"),
					logger.Error(err),
				)
				continue
			}
			if n > 0 {
				slog.InfoContext(ctx, "expired tokens purged",
					logger.Component("app"),
					slog.Int64("purged", n),
				)
			}
		}
	}
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition. Pending
// notifications are drained before the cache and database go away.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
