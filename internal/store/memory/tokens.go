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
	"time"

	"github.com/opentrusty/tenantcore/internal/identity"
	"github.com/opentrusty/tenantcore/internal/token"
)

type tokens struct {
	sc *scope
}

func (r *tokens) Create(_ context.Context, t *token.RefreshToken) error {
	ns, unlock, err := r.sc.lock()
	if err != nil {
		return err
	}
	defer unlock()
	c := *t
	ns.tokens[t.TokenID] = &c
	return nil
}

func (r *tokens) GetByTokenID(_ context.Context, tokenID string) (*token.RefreshToken, error) {
	ns, unlock, err := r.sc.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	t, ok := ns.tokens[tokenID]
	if !ok {
		return nil, token.ErrTokenNotFound
	}
	c := *t
	return &c, nil
}

func (r *tokens) MarkReplaced(_ context.Context, tokenID, replacedBy string, usedAt time.Time) (bool, error) {
	ns, unlock, err := r.sc.lock()
	if err != nil {
		return false, err
	}
	defer unlock()
	t, ok := ns.tokens[tokenID]
	if !ok || t.IsRevoked {
		return false, nil
	}
	t.IsRevoked = true
	t.ReplacedByTokenID = &replacedBy
	t.LastUsedAt = &usedAt
	return true, nil
}

func (r *tokens) RevokeAll(_ context.Context, userID string, role identity.Role, tenantID *string) (int64, error) {
	ns, unlock, err := r.sc.lock()
	if err != nil {
		return 0, err
	}
	defer unlock()
	var n int64
	for _, t := range ns.tokens {
		if !t.IsRevoked && t.UserID == userID && t.UserRole == role && sameTenant(t.TenantID, tenantID) {
			t.IsRevoked = true
			n++
		}
	}
	return n, nil
}

func (r *tokens) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	ns, unlock, err := r.sc.lock()
	if err != nil {
		return 0, err
	}
	defer unlock()
	var n int64
	for id, t := range ns.tokens {
		if t.ExpiresAt.Before(before) {
			delete(ns.tokens, id)
			n++
		}
	}
	return n, nil
}
