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

package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opentrusty/tenantcore/internal/audit"
	"github.com/opentrusty/tenantcore/internal/id"
)

// Registry tracks known devices per identity and enforces the tenant
// device allow-list.
type Registry struct {
	auditLogger audit.Logger
	nowF        func() time.Time
}

// NewRegistry creates a device registry
func NewRegistry(auditLogger audit.Logger) *Registry {
	return &Registry{auditLogger: auditLogger, nowF: time.Now}
}

// Upsert refreshes the existing binding of s for the device or creates
// one with IsTrusted set to trustByDefault.
func (r *Registry) Upsert(ctx context.Context, repo Repository, s Subject, reg Registration, trustByDefault bool) (*Binding, error) {
	deviceID := strings.TrimSpace(reg.DeviceID)
	if deviceID == "" {
		return nil, ErrDeviceIDRequired
	}

	b, created, err := r.findOrCreate(ctx, repo, s, deviceID, reg, trustByDefault)
	if err != nil {
		return nil, err
	}
	if created {
		return b, nil
	}

	now := r.nowF()
	if err := repo.Touch(ctx, b.ID, reg.DeviceName, reg.PushToken, now); err != nil {
		return nil, fmt.Errorf("failed to touch device binding: %w", err)
	}
	b.LastSeenAt = now
	if reg.DeviceName != nil {
		b.DeviceName = reg.DeviceName
	}
	if reg.PushToken != nil {
		b.PushToken = reg.PushToken
	}
	return b, nil
}

// AssertAllowed admits only a trusted, non-revoked binding. An unknown
// device is recorded as an untrusted binding so an administrator can
// approve it, and the call fails with ErrDeviceApprovalRequired.
func (r *Registry) AssertAllowed(ctx context.Context, repo Repository, s Subject, reg Registration) (*Binding, error) {
	deviceID := strings.TrimSpace(reg.DeviceID)
	if deviceID == "" {
		return nil, ErrDeviceApprovalRequired
	}

	b, created, err := r.findOrCreate(ctx, repo, s, deviceID, reg, false)
	if err != nil {
		return nil, err
	}

	if created {
		r.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeDevicePending,
			TenantID: s.tenant(),
			ActorID:  s.UserID,
			Resource: audit.ResourceDevice,
			Metadata: map[string]any{
				audit.AttrDeviceID:  deviceID,
				audit.AttrBindingID: b.ID,
			},
		})
	}
	if !b.IsTrusted {
		return nil, ErrDeviceApprovalRequired
	}

	now := r.nowF()
	if err := repo.Touch(ctx, b.ID, reg.DeviceName, reg.PushToken, now); err != nil {
		return nil, fmt.Errorf("failed to touch device binding: %w", err)
	}
	b.LastSeenAt = now
	return b, nil
}

func (r *Registry) findOrCreate(ctx context.Context, repo Repository, s Subject, deviceID string, reg Registration, trusted bool) (*Binding, bool, error) {
	b, err := repo.FindActive(ctx, s, deviceID)
	if err == nil {
		return b, false, nil
	}
	if !errors.Is(err, ErrBindingNotFound) {
		return nil, false, fmt.Errorf("failed to find device binding: %w", err)
	}

	now := r.nowF()
	b = &Binding{
		ID:         id.NewUUIDv7(),
		UserID:     s.UserID,
		UserRole:   s.Role,
		TenantID:   s.TenantID,
		DeviceID:   deviceID,
		DeviceName: reg.DeviceName,
		PushToken:  reg.PushToken,
		IsTrusted:  trusted,
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := repo.Create(ctx, b); err != nil {
		if !errors.Is(err, ErrBindingExists) {
			return nil, false, fmt.Errorf("failed to create device binding: %w", err)
		}
		// Lost a first-insert race; the winner's row is authoritative.
		existing, ferr := repo.FindActive(ctx, s, deviceID)
		if ferr != nil {
			return nil, false, fmt.Errorf("failed to reload device binding: %w", ferr)
		}
		return existing, false, nil
	}
	return b, true, nil
}

// Approve marks a pending binding trusted.
func (r *Registry) Approve(ctx context.Context, repo Repository, bindingID, actorID string) (*Binding, error) {
	b, err := repo.GetByID(ctx, bindingID)
	if err != nil {
		return nil, err
	}
	if b.RevokedAt != nil {
		return nil, ErrBindingRevoked
	}
	if err := repo.SetTrusted(ctx, b.ID, true); err != nil {
		return nil, fmt.Errorf("failed to approve device binding: %w", err)
	}
	b.IsTrusted = true

	r.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeDeviceApproved,
		TenantID: Subject{TenantID: b.TenantID}.tenant(),
		ActorID:  actorID,
		Resource: audit.ResourceDevice,
		Metadata: map[string]any{
			audit.AttrBindingID: b.ID,
			audit.AttrDeviceID:  b.DeviceID,
			"user_id":           b.UserID,
		},
	})
	return b, nil
}

// Revoke retires a binding. A later login from the device starts over
// as an unknown device.
func (r *Registry) Revoke(ctx context.Context, repo Repository, bindingID, actorID string) error {
	b, err := repo.GetByID(ctx, bindingID)
	if err != nil {
		return err
	}
	if b.RevokedAt != nil {
		return nil
	}
	if err := repo.Revoke(ctx, b.ID, r.nowF()); err != nil {
		return fmt.Errorf("failed to revoke device binding: %w", err)
	}

	r.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeDeviceRevoked,
		TenantID: Subject{TenantID: b.TenantID}.tenant(),
		ActorID:  actorID,
		Resource: audit.ResourceDevice,
		Metadata: map[string]any{
			audit.AttrBindingID: b.ID,
			audit.AttrDeviceID:  b.DeviceID,
		},
	})
	return nil
}

// ListPending returns untrusted, non-revoked bindings awaiting approval.
func (r *Registry) ListPending(ctx context.Context, repo Repository, limit, offset int) ([]*Binding, error) {
	return repo.List(ctx, ListFilter{PendingOnly: true, Limit: clampLimit(limit), Offset: offset})
}

// ListForUser returns the non-revoked bindings of one identity.
func (r *Registry) ListForUser(ctx context.Context, repo Repository, userID string) ([]*Binding, error) {
	return repo.List(ctx, ListFilter{UserID: userID, Limit: 100})
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 50
	}
	return limit
}
