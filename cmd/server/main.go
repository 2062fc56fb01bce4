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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/opentrusty/tenantcore/docs"
	"github.com/opentrusty/tenantcore/internal/app"
	"github.com/opentrusty/tenantcore/internal/config"
	"github.com/opentrusty/tenantcore/internal/observability/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Phase: CLI Commands
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			if err := runOnce(ctx, cfg, (*app.App).Migrate); err != nil {
				fmt.Printf("Migration failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("Migration successful.")
			return
		case "bootstrap":
			if err := runOnce(ctx, cfg, func(a *app.App, ctx context.Context) error {
				return a.Admin.BootstrapFromEnv(ctx)
			}); err != nil {
				fmt.Printf("Bootstrap failed: %v\n", err)
				os.Exit(1)
			}
			return
		case "serve":
		default:
			fmt.Printf("unknown command %q (expected serve, migrate or bootstrap)\n", os.Args[1])
			os.Exit(2)
		}
	}

	if err := serve(ctx, cfg); err != nil {
		slog.Error("server error", logger.Error(err))
		os.Exit(1)
	}
}

func runOnce(ctx context.Context, cfg *config.Config, fn func(*app.App, context.Context) error) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(a, ctx)
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting tenantcore", slog.String("mode", cfg.Server.Mode))

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}

	// Schema first: every tenant namespace must be current before traffic.
	if err := a.Migrate(ctx); err != nil {
		_ = a.Close(context.Background())
		return err
	}

	// Run Bootstrap (ENV driven)
	if err := a.Admin.BootstrapFromEnv(ctx); err != nil {
		slog.Error("bootstrap failed", logger.Error(err))
	}

	router, rateLimiter := a.Router(cfg.Server.Mode)
	go rateLimiter.Run(ctx)
	go a.PurgeLoop(ctx, cfg.Token.PurgeInterval)

	server := &http.Server{
		Addr:         cfg.Server.ListenAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting http server",
			logger.Component("server"),
			logger.Operation("listen"),
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			_ = a.Close(context.Background())
			return err
		}
	}

	slog.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		slog.Error("shutdown cleanup error", logger.Error(err))
	}

	slog.Info("server stopped")
	return nil
}
