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
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/opentrusty/tenantcore/cmd/tenantctl/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Migrate commands.MigrateCmd `cmd:"" help:"Apply platform and tenant schema migrations"`
		Tenant  commands.TenantCmd  `cmd:"" help:"Manage tenants"`
		Device  commands.DeviceCmd  `cmd:"" help:"Review device bindings of a tenant"`
		Admin   commands.AdminCmd   `cmd:"" help:"Manage platform administrators"`
		Tokens  commands.TokensCmd  `cmd:"" help:"Maintain refresh token storage"`
		EnvFile string              `name:"env-file" default:".env" help:"Env file read before the environment."`
		Version kong.VersionFlag
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("tenantctl"),
		kong.Description("Operator tooling for tenantcore."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{EnvFile: cli.EnvFile, Version: version})
	cmd.FatalIfErrorf(err)
}
