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
	"github.com/opentrusty/tenantcore/internal/tenant"
)

// DeviceCmd reviews device bindings.
type DeviceCmd struct {
	Pending DevicePendingCmd `cmd:"" help:"List devices awaiting approval"`
	Approve DeviceApproveCmd `cmd:"" help:"Approve a pending device"`
	Revoke  DeviceRevokeCmd  `cmd:"" help:"Revoke a device binding"`
}

// TenantScope selects the tenant a command acts in.
type TenantScope struct {
	Tenant string `required:"" short:"t" help:"Tenant slug"`
}

func (s TenantScope) bind(ctx context.Context) (context.Context, error) {
	if err := tenant.ValidateSlug(s.Tenant); err != nil {
		return nil, err
	}
	return tenant.WithID(ctx, s.Tenant), nil
}

// DevicePendingCmd lists pending bindings.
type DevicePendingCmd struct {
	TenantScope `embed:""`
	Limit       int `default:"50" help:"Page size"`
}

func (c *DevicePendingCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, err := c.bind(ctx)
	if err != nil {
		return err
	}
	return withApp(ctx, globals, func(ctx context.Context, a *app.App) error {
		list, err := a.Admin.ListPendingDevices(ctx, c.Limit, 0)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(globals.stdout(), "No pending devices.")
			return nil
		}
		w := tabwriter.NewWriter(globals.stdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "BINDING\tUSER\tDEVICE\tREQUESTED")
		for _, b := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.ID, b.UserID, b.DeviceID, b.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	})
}

// DeviceApproveCmd approves a binding.
type DeviceApproveCmd struct {
	TenantScope `embed:""`
	BindingID   string `arg:"" name:"binding-id"`
}

func (c *DeviceApproveCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, err := c.bind(ctx)
	if err != nil {
		return err
	}
	return withApp(ctx, globals, func(ctx context.Context, a *app.App) error {
		b, err := a.Admin.ApproveDevice(ctx, c.BindingID, actor)
		if err != nil {
			return err
		}
		fmt.Fprintf(globals.stdout(), "Device %s approved for user %s\n", b.DeviceID, b.UserID)
		return nil
	})
}

// DeviceRevokeCmd revokes a binding.
type DeviceRevokeCmd struct {
	TenantScope `embed:""`
	BindingID   string `arg:"" name:"binding-id"`
}

func (c *DeviceRevokeCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, err := c.bind(ctx)
	if err != nil {
		return err
	}
	return withApp(ctx, globals, func(ctx context.Context, a *app.App) error {
		if err := a.Admin.RevokeDevice(ctx, c.BindingID, actor); err != nil {
			return err
		}
		fmt.Fprintf(globals.stdout(), "Binding %s revoked\n", c.BindingID)
		return nil
	})
}
