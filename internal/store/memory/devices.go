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

package memory

import (
	"context"
	"sort"
	"time"

	"github.com/opentrusty/tenantcore/internal/device"
)

type devices struct {
	sc *scope
}

func sameTenant(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func matches(b *device.Binding, s device.Subject, deviceID string) bool {
	return b.RevokedAt == nil &&
		b.UserID == s.UserID &&
		b.UserRole == s.Role &&
		sameTenant(b.TenantID, s.TenantID) &&
		b.DeviceID == deviceID
}

func (r *devices) FindActive(_ context.Context, s device.Subject, deviceID string) (*device.Binding, error) {
	ns, unlock, err := r.sc.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	for _, b := range ns.bindings {
		if matches(b, s, deviceID) {
			c := *b
			return &c, nil
		}
	}
	return nil, device.ErrBindingNotFound
}

func (r *devices) Create(_ context.Context, in *device.Binding) error {
	ns, unlock, err := r.sc.lock()
	if err != nil {
		return err
	}
	defer unlock()
	s := device.Subject{UserID: in.UserID, Role: in.UserRole, TenantID: in.TenantID}
	for _, b := range ns.bindings {
		if matches(b, s, in.DeviceID) {
			return device.ErrBindingExists
		}
	}
	c := *in
	ns.bindings[in.ID] = &c
	return nil
}

func (r *devices) update(id string, fn func(*device.Binding)) error {
	ns, unlock, err := r.sc.lock()
	if err != nil {
		return err
	}
	defer unlock()
	b, ok := ns.bindings[id]
	if !ok {
		return device.ErrBindingNotFound
	}
	fn(b)
	b.UpdatedAt = time.Now()
	return nil
}

func (r *devices) Touch(_ context.Context, id string, name, pushToken *string, seenAt time.Time) error {
	return r.update(id, func(b *device.Binding) {
		b.LastSeenAt = seenAt
		if name != nil {
			b.DeviceName = name
		}
		if pushToken != nil {
			b.PushToken = pushToken
		}
	})
}

func (r *devices) SetTrusted(_ context.Context, id string, trusted bool) error {
	return r.update(id, func(b *device.Binding) { b.IsTrusted = trusted })
}

func (r *devices) Revoke(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(b *device.Binding) {
		if b.RevokedAt == nil {
			b.RevokedAt = &at
		}
	})
}

func (r *devices) GetByID(_ context.Context, id string) (*device.Binding, error) {
	ns, unlock, err := r.sc.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	b, ok := ns.bindings[id]
	if !ok {
		return nil, device.ErrBindingNotFound
	}
	c := *b
	return &c, nil
}

func (r *devices) List(_ context.Context, f device.ListFilter) ([]*device.Binding, error) {
	ns, unlock, err := r.sc.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	var out []*device.Binding
	for _, b := range ns.bindings {
		if b.RevokedAt != nil && !f.IncludeRevoked {
			continue
		}
		if f.PendingOnly && (b.IsTrusted || b.RevokedAt != nil) {
			continue
		}
		if f.UserID != "" && b.UserID != f.UserID {
			continue
		}
		c := *b
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, f.Limit, f.Offset), nil
}
