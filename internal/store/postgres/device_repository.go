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

package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/opentrusty/tenantcore/internal/device"
	"github.com/opentrusty/tenantcore/internal/identity"
)

// deviceRepository implements device.Repository
type deviceRepository struct {
	s *Scope
}

const bindingColumns = `
	id, user_id, user_role, tenant_id, device_id, device_name, push_token,
	is_trusted, last_seen_at, revoked_at, created_at, updated_at`

func scanBinding(row pgx.Row) (*device.Binding, error) {
	var b device.Binding
	var role string
	err := row.Scan(
		&b.ID, &b.UserID, &role, &b.TenantID, &b.DeviceID, &b.DeviceName, &b.PushToken,
		&b.IsTrusted, &b.LastSeenAt, &b.RevokedAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.UserRole = identity.Role(role)
	return &b, nil
}

// FindActive returns the live binding of s for deviceID
func (r *deviceRepository) FindActive(ctx context.Context, s device.Subject, deviceID string) (*device.Binding, error) {
	q, err := r.s.querier()
	if err != nil {
		return nil, err
	}
	b, err := scanBinding(q.QueryRow(ctx, `
		SELECT `+bindingColumns+`
		FROM device_bindings
		WHERE user_id = $1 AND user_role = $2 AND tenant_id IS NOT DISTINCT FROM $3
			AND device_id = $4 AND revoked_at IS NULL
	`, s.UserID, string(s.Role), s.TenantID, deviceID))
	if err != nil {
		return nil, notFound(err, device.ErrBindingNotFound, "find device binding")
	}
	return b, nil
}

// Create inserts a binding. The partial unique index turns a duplicate
// live binding into device.ErrBindingExists.
func (r *deviceRepository) Create(ctx context.Context, b *device.Binding) error {
	q, err := r.s.querier()
	if err != nil {
		return err
	}

	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.LastSeenAt.IsZero() {
		b.LastSeenAt = now
	}
	b.UpdatedAt = now

	_, err = q.Exec(ctx, `
		INSERT INTO device_bindings (`+bindingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		b.ID, b.UserID, string(b.UserRole), b.TenantID, b.DeviceID, b.DeviceName, b.PushToken,
		b.IsTrusted, b.LastSeenAt, b.RevokedAt, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert device binding: %w", mapPostgresError(err))
	}
	return nil
}

func (r *deviceRepository) update(ctx context.Context, op, set string, args ...any) error {
	q, err := r.s.querier()
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx, `UPDATE device_bindings SET `+set+`, updated_at = NOW() WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, mapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return device.ErrBindingNotFound
	}
	return nil
}

// Touch records a sighting. Nil name or push token keep the stored value.
func (r *deviceRepository) Touch(ctx context.Context, id string, name, pushToken *string, seenAt time.Time) error {
	return r.update(ctx, "touch device binding", `
		last_seen_at = $2,
		device_name = COALESCE($3, device_name),
		push_token = COALESCE($4, push_token)`,
		id, seenAt, name, pushToken)
}

func (r *deviceRepository) SetTrusted(ctx context.Context, id string, trusted bool) error {
	return r.update(ctx, "set device trust", "is_trusted = $2", id, trusted)
}

// Revoke keeps the first revocation time.
func (r *deviceRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, "revoke device binding", "revoked_at = COALESCE(revoked_at, $2)", id, at)
}

func (r *deviceRepository) GetByID(ctx context.Context, id string) (*device.Binding, error) {
	q, err := r.s.querier()
	if err != nil {
		return nil, err
	}
	b, err := scanBinding(q.QueryRow(ctx, `SELECT `+bindingColumns+` FROM device_bindings WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, device.ErrBindingNotFound, "get device binding")
	}
	return b, nil
}

// List returns bindings matching f, oldest first
func (r *deviceRepository) List(ctx context.Context, f device.ListFilter) ([]*device.Binding, error) {
	q, err := r.s.querier()
	if err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if !f.IncludeRevoked || f.PendingOnly {
		where = append(where, "revoked_at IS NULL")
	}
	if f.PendingOnly {
		where = append(where, "is_trusted = false")
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}

	sql := `SELECT ` + bindingColumns + ` FROM device_bindings`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	sql += fmt.Sprintf(` ORDER BY created_at LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list device bindings: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var out []*device.Binding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device binding: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list device bindings: %w", mapPostgresError(err))
	}
	return out, nil
}
