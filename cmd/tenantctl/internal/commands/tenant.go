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
	"text/tabwriter"
	"time"

	"github.com/opentrusty/tenantcore/internal/app"
	"github.com/opentrusty/tenantcore/internal/auth"
	"github.com/opentrusty/tenantcore/internal/tenant"
)

// MigrateCmd applies all pending migrations.
type MigrateCmd struct{}

func (c *MigrateCmd) Run(ctx context.Context, globals *Globals) error {
	return withApp(ctx, globals, func(ctx context.Context, a *app.App) error {
		if err := a.Migrate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(globals.stdout(), "Migration successful.")
		return nil
	})
}

// TenantCmd manages tenants.
type TenantCmd struct {
	Create     TenantCreateCmd     `cmd:"" help:"Create a tenant and its first administrator"`
	List       TenantListCmd       `cmd:"" help:"List tenants"`
	Show       TenantShowCmd       `cmd:"" help:"Show one tenant"`
	Deactivate TenantDeactivateCmd `cmd:"" help:"Block logins and refreshes for a tenant"`
	Activate   TenantActivateCmd   `cmd:"" help:"Re-enable a deactivated tenant"`
}

// TenantCreateCmd creates a tenant.
type TenantCreateCmd struct {
	Slug          string `arg:"" help:"Tenant identifier (lowercase letters, digits and hyphens)"`
	Name          string `required:"" help:"Display name"`
	AdminEmail    string `name:"admin-email" help:"Email of the initial tenant administrator"`
	AdminPassword string `name:"admin-password" env:"TC_TENANT_ADMIN_PASSWORD" help:"Password of the initial tenant administrator"`
	EnforceDevice bool   `name:"enforce-device-allowlist" help:"Require approved devices for login"`
}

func (c *TenantCreateCmd) Run(ctx context.Context, globals *Globals) error {
	return withApp(ctx, globals, func(ctx context.Context, a *app.App) error {
		var policy *tenant.Policy
		if c.EnforceDevice {
			p := tenant.DefaultPolicy()
			p.EnforceDeviceAllowlist = true
			policy = &p
		}
		t, admin, err := a.Admin.CreateTenant(ctx, auth.CreateTenantInput{
			Slug:          c.Slug,
			Name:          c.Name,
			Policy:        policy,
			AdminEmail:    c.AdminEmail,
			AdminPassword: c.AdminPassword,
		}, actor)
		if err != nil {
			return err
		}
		fmt.Fprintf(globals.stdout(), "Created tenant %s (%s)\n", t.Slug, t.ID)
		if admin != nil {
			fmt.Fprintf(globals.stdout(), "Created tenant admin %s (%s)\n", admin.Email, admin.ID)
		}
		return nil
	})
}

// TenantListCmd lists tenants.
type TenantListCmd struct {
	Limit  int `default:"50" help:"Page size"`
	Offset int `default:"0" help:"Page offset"`
}

func (c *TenantListCmd) Run(ctx context.Context, globals *Globals) error {
	return withApp(ctx, globals, func(ctx context.Context, a *app.App) error {
		list, err := a.Admin.Tenants().ListTenants(ctx, c.Limit, c.Offset)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(globals.stdout(), "No tenants found.")
			return nil
		}

		w := tabwriter.NewWriter(globals.stdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SLUG\tNAME\tACTIVE\tCREATED")
		for _, t := range list {
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", t.Slug, t.Name, t.IsActive, t.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	})
}

// TenantShowCmd prints a tenant with its policy.
type TenantShowCmd struct {
	Slug string `arg:""`
}

func (c *TenantShowCmd) Run(ctx context.Context, globals *Globals) error {
	return withApp(ctx, globals, func(ctx context.Context, a *app.App) error {
		t, err := a.Admin.Tenants().GetTenant(ctx, c.Slug)
		if err != nil {
			return err
		}
		return printJSON(globals.stdout(), t)
	})
}

// TenantDeactivateCmd deactivates a tenant.
type TenantDeactivateCmd struct {
	Slug string `arg:""`
}

func (c *TenantDeactivateCmd) Run(ctx context.Context, globals *Globals) error {
	return withApp(ctx, globals, func(ctx context.Context, a *app.App) error {
		if err := a.Admin.Tenants().Deactivate(ctx, c.Slug, actor); err != nil {
			return err
		}
		fmt.Fprintf(globals.stdout(), "Tenant %s deactivated\n", c.Slug)
		return nil
	})
}

// TenantActivateCmd activates a tenant.
type TenantActivateCmd struct {
	Slug string `arg:""`
}

func (c *TenantActivateCmd) Run(ctx context.Context, globals *Globals) error {
	return withApp(ctx, globals, func(ctx context.Context, a *app.App) error {
		if err := a.Admin.Tenants().Activate(ctx, c.Slug, actor); err != nil {
			return err
		}
		fmt.Fprintf(globals.stdout(), "Tenant %s activated\n", c.Slug)
		return nil
	})
}
