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

package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/opentrusty/tenantcore/internal/app"
)

// AdminCmd manages platform administrators.
type AdminCmd struct {
	Bootstrap AdminBootstrapCmd `cmd:"" help:"Create the first platform administrator"`
}

// AdminBootstrapCmd creates the first platform administrator. It does
// nothing once one exists.
type AdminBootstrapCmd struct {
	Email    string `required:"" env:"TC_BOOTSTRAP_ADMIN_EMAIL" help:"Administrator email"`
	Password string `required:"" env:"TC_BOOTSTRAP_ADMIN_PASSWORD" help:"Administrator password"`
}

func (c *AdminBootstrapCmd) Run(ctx context.Context, globals *Globals) error {
	return withApp(ctx, globals, func(ctx context.Context, a *app.App) error {
		created, err := a.Admin.BootstrapPlatformAdmin(ctx, c.Email, c.Password)
		if err != nil {
			return err
		}
		if !created {
			fmt.Fprintln(globals.stdout(), "A platform administrator already exists, nothing to do.")
			return nil
		}
		fmt.Fprintf(globals.stdout(), "Platform administrator %s created\n", c.Email)
		return nil
	})
}

// TokensCmd maintains refresh token storage.
type TokensCmd struct {
	Purge TokensPurgeCmd `cmd:"" help:"Delete refresh tokens that have expired"`
}

// TokensPurgeCmd deletes expired refresh records in every namespace.
type TokensPurgeCmd struct {
	Grace time.Duration `default:"0s" help:"Keep records that expired less than this long ago"`
}

func (c *TokensPurgeCmd) Run(ctx context.Context, globals *Globals) error {
	return withApp(ctx, globals, func(ctx context.Context, a *app.App) error {
		n, err := a.Admin.PurgeExpiredTokens(ctx, time.Now().Add(-c.Grace))
		if err != nil {
			return err
		}
		fmt.Fprintf(globals.stdout(), "Purged %d expired refresh tokens\n", n)
		return nil
	})
}
