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

// Package commands implements the tenantctl subcommands.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/opentrusty/tenantcore/internal/app"
	"github.com/opentrusty/tenantcore/internal/audit"
	"github.com/opentrusty/tenantcore/internal/config"
	"github.com/opentrusty/tenantcore/internal/observability/logger"
)

// Globals are flags shared by every command.
type Globals struct {
	EnvFile string
	Version string

	out io.Writer
}

func (g *Globals) stdout() io.Writer {
	if g.out != nil {
		return g.out
	}
	return os.Stdout
}

// actor is recorded in audit events raised from the command line.
const actor = audit.ActorSystem

// withApp loads configuration, builds the services and closes them once
// fn returns.
func withApp(ctx context.Context, g *Globals, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.LoadFile(g.EnvFile)
	if err != nil {
		return err
	}
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      "text",
		ServiceName: cfg.Observability.ServiceName + "-cli",
	})

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)
	if err := a.Close(context.Background()); err != nil && runErr == nil {
		return fmt.Errorf("failed to close: %w", err)
	}
	return runErr
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
