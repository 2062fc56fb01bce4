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
	"time"

	"github.com/opentrusty/tenantcore/internal/autherr"
	"github.com/opentrusty/tenantcore/internal/identity"
)

var (
	ErrBindingNotFound        = errors.New("device binding not found")
	ErrBindingExists          = errors.New("device binding already exists")
	ErrBindingRevoked         = errors.New("device binding is revoked")
	ErrDeviceIDRequired       = errors.New("device id is required")
	ErrDeviceApprovalRequired = autherr.ErrDeviceApprovalRequired
)

// Binding records a device seen for one identity. At most one
// non-revoked binding exists per (UserID, UserRole, TenantID, DeviceID).
type Binding struct {
	ID         string        `json:"id"`
	UserID     string        `json:"user_id"`
	UserRole   identity.Role `json:"user_role"`
	TenantID   *string       `json:"tenant_id"`
	DeviceID   string        `json:"device_id"`
	DeviceName *string       `json:"device_name,omitempty"`
	PushToken  *string       `json:"-"`
	IsTrusted  bool          `json:"is_trusted"`
	LastSeenAt time.Time     `json:"last_seen_at"`
	RevokedAt  *time.Time    `json:"revoked_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Subject is the identity triple a binding belongs to.
type Subject struct {
	UserID   string
	Role     identity.Role
	TenantID *string
}

// SubjectOf returns the binding subject of ident.
func SubjectOf(ident *identity.Identity) Subject {
	return Subject{UserID: ident.ID, Role: ident.Role, TenantID: ident.TenantID}
}

func (s Subject) tenant() string {
	if s.TenantID == nil {
		return ""
	}
	return *s.TenantID
}

// Registration is what a client reports about its device at login.
type Registration struct {
	DeviceID   string
	DeviceName *string
	PushToken  *string
}

// ListFilter narrows List results.
type ListFilter struct {
	UserID         string
	PendingOnly    bool
	IncludeRevoked bool
	Limit          int
	Offset         int
}

// Repository persists bindings of one namespace.
type Repository interface {
	// FindActive returns the non-revoked binding of s for deviceID.
	FindActive(ctx context.Context, s Subject, deviceID string) (*Binding, error)
	// Create fails with ErrBindingExists if a non-revoked binding exists.
	Create(ctx context.Context, b *Binding) error
	Touch(ctx context.Context, id string, name, pushToken *string, seenAt time.Time) error
	SetTrusted(ctx context.Context, id string, trusted bool) error
	Revoke(ctx context.Context, id string, at time.Time) error
	GetByID(ctx context.Context, id string) (*Binding, error)
	List(ctx context.Context, filter ListFilter) ([]*Binding, error)
}
