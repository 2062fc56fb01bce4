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

	"github.com/opentrusty/tenantcore/internal/identity"
)

type identities struct {
	sc *scope
}

func copyIdentity(i *identity.Identity) *identity.Identity {
	c := *i
	return &c
}

func (r *identities) find(ns *namespace, match func(*identity.Identity) bool) *identity.Identity {
	for _, i := range ns.identities {
		if match(i) {
			return i
		}
	}
	return nil
}

func (r *identities) update(id string, fn func(*identity.Identity)) error {
	ns, unlock, err := r.sc.lock()
	if err != nil {
		return err
	}
	defer unlock()
	i, ok := ns.identities[id]
	if !ok {
		return identity.ErrIdentityNotFound
	}
	fn(i)
	i.UpdatedAt = time.Now()
	return nil
}

func (r *identities) Create(_ context.Context, in *identity.Identity) error {
	ns, unlock, err := r.sc.lock()
	if err != nil {
		return err
	}
	defer unlock()
	if r.find(ns, func(i *identity.Identity) bool { return i.Email == in.Email }) != nil {
		return identity.ErrIdentityExists
	}
	ns.identities[in.ID] = copyIdentity(in)
	return nil
}

func (r *identities) GetByID(_ context.Context, id string) (*identity.Identity, error) {
	ns, unlock, err := r.sc.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	i, ok := ns.identities[id]
	if !ok {
		return nil, identity.ErrIdentityNotFound
	}
	return copyIdentity(i), nil
}

func (r *identities) getBy(match func(*identity.Identity) bool) (*identity.Identity, error) {
	ns, unlock, err := r.sc.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	if i := r.find(ns, match); i != nil {
		return copyIdentity(i), nil
	}
	return nil, identity.ErrIdentityNotFound
}

func (r *identities) GetByEmail(_ context.Context, email string) (*identity.Identity, error) {
	return r.getBy(func(i *identity.Identity) bool { return i.Email == email })
}

func (r *identities) List(_ context.Context, limit, offset int) ([]*identity.Identity, error) {
	ns, unlock, err := r.sc.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	all := make([]*identity.Identity, 0, len(ns.identities))
	for _, i := range ns.identities {
		all = append(all, copyIdentity(i))
	}
	sort.Slice(all, func(a, b int) bool { return all[a].ID < all[b].ID })
	return page(all, limit, offset), nil
}

func (r *identities) UpdateLockout(_ context.Context, id string, failedAttempts int, lockedUntil *time.Time) error {
	return r.update(id, func(i *identity.Identity) {
		i.FailedLoginAttempts = failedAttempts
		i.LockedUntil = lockedUntil
	})
}

func (r *identities) ClaimLoginAttempt(_ context.Context, id string, maxAttempts int, lockUntil, now time.Time) (int, *time.Time, error) {
	var (
		attempts    int
		lockedUntil *time.Time
		locked      bool
	)
	err := r.update(id, func(i *identity.Identity) {
		if i.IsLocked(now) {
			locked = true
			return
		}
		i.FailedLoginAttempts++
		i.LockedUntil = nil
		if i.FailedLoginAttempts >= maxAttempts {
			until := lockUntil
			i.LockedUntil = &until
		}
		attempts, lockedUntil = i.FailedLoginAttempts, i.LockedUntil
	})
	if err != nil {
		return 0, nil, err
	}
	if locked {
		return 0, nil, identity.ErrAccountLocked
	}
	return attempts, lockedUntil, nil
}

func (r *identities) RecordLogin(_ context.Context, id, ip string, at time.Time) error {
	return r.update(id, func(i *identity.Identity) {
		i.LastLoginIP = &ip
		i.LastLoginAt = &at
	})
}

func (r *identities) UpdateMfa(_ context.Context, id string, secret *string, enabled bool) error {
	return r.update(id, func(i *identity.Identity) {
		i.MfaSecret = secret
		i.MfaEnabled = enabled
	})
}

func (r *identities) UpdatePassword(_ context.Context, id, passwordHash string) error {
	return r.update(id, func(i *identity.Identity) {
		i.PasswordHash = passwordHash
		i.FailedLoginAttempts = 0
		i.LockedUntil = nil
		i.PasswordResetTokenHash = nil
		i.PasswordResetExpiresAt = nil
	})
}

func (r *identities) SetPasswordReset(_ context.Context, id, tokenHash string, expiresAt time.Time) error {
	return r.update(id, func(i *identity.Identity) {
		i.PasswordResetTokenHash = &tokenHash
		i.PasswordResetExpiresAt = &expiresAt
	})
}

func (r *identities) GetByPasswordResetToken(_ context.Context, tokenHash string) (*identity.Identity, error) {
	return r.getBy(func(i *identity.Identity) bool {
		return i.PasswordResetTokenHash != nil && *i.PasswordResetTokenHash == tokenHash
	})
}

func (r *identities) SetEmailVerification(_ context.Context, id, tokenHash string, expiresAt time.Time) error {
	return r.update(id, func(i *identity.Identity) {
		i.EmailVerificationTokenHash = &tokenHash
		i.EmailVerificationExpiresAt = &expiresAt
	})
}

func (r *identities) GetByEmailVerificationToken(_ context.Context, tokenHash string) (*identity.Identity, error) {
	return r.getBy(func(i *identity.Identity) bool {
		return i.EmailVerificationTokenHash != nil && *i.EmailVerificationTokenHash == tokenHash
	})
}

func (r *identities) MarkEmailVerified(_ context.Context, id string) error {
	return r.update(id, func(i *identity.Identity) {
		i.EmailVerified = true
		i.EmailVerificationTokenHash = nil
		i.EmailVerificationExpiresAt = nil
	})
}

func (r *identities) CountByRole(_ context.Context, role identity.Role) (int, error) {
	ns, unlock, err := r.sc.lock()
	if err != nil {
		return 0, err
	}
	defer unlock()
	n := 0
	for _, i := range ns.identities {
		if i.Role == role {
			n++
		}
	}
	return n, nil
}

func (r *identities) SetActive(_ context.Context, id string, active bool) error {
	return r.update(id, func(i *identity.Identity) {
		i.IsActive = active
	})
}
