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

package identity

import (
	"context"
	"sync"
	"time"
)

// MockRepository is a simple in-memory implementation of Repository
type MockRepository struct {
	mu         sync.Mutex
	identities map[string]*Identity
	failWrites error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{identities: make(map[string]*Identity)}
}

func (m *MockRepository) get(id string) (*Identity, error) {
	i, ok := m.identities[id]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return i, nil
}

func (m *MockRepository) Create(_ context.Context, identity *Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.identities {
		if i.Email == identity.Email {
			return ErrIdentityExists
		}
	}
	c := *identity
	m.identities[identity.ID] = &c
	return nil
}

func (m *MockRepository) GetByID(_ context.Context, id string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.get(id)
	if err != nil {
		return nil, err
	}
	c := *i
	return &c, nil
}

func (m *MockRepository) GetByEmail(_ context.Context, email string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.identities {
		if i.Email == email {
			c := *i
			return &c, nil
		}
	}
	return nil, ErrIdentityNotFound
}

func (m *MockRepository) List(_ context.Context, _, _ int) ([]*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Identity, 0, len(m.identities))
	for _, i := range m.identities {
		c := *i
		out = append(out, &c)
	}
	return out, nil
}

func (m *MockRepository) UpdateLockout(_ context.Context, id string, failedAttempts int, lockedUntil *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return m.failWrites
	}
	i, err := m.get(id)
	if err != nil {
		return err
	}
	i.FailedLoginAttempts = failedAttempts
	i.LockedUntil = lockedUntil
	return nil
}

func (m *MockRepository) RecordLogin(_ context.Context, id, ip string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.get(id)
	if err != nil {
		return err
	}
	i.LastLoginIP = &ip
	i.LastLoginAt = &at
	return nil
}

func (m *MockRepository) ClaimLoginAttempt(_ context.Context, id string, maxAttempts int, lockUntil, now time.Time) (int, *time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return 0, nil, m.failWrites
	}
	i, err := m.get(id)
	if err != nil {
		return 0, nil, err
	}
	if i.IsLocked(now) {
		return 0, nil, ErrAccountLocked
	}
	i.FailedLoginAttempts++
	i.LockedUntil = nil
	if i.FailedLoginAttempts >= maxAttempts {
		until := lockUntil
		i.LockedUntil = &until
	}
	return i.FailedLoginAttempts, i.LockedUntil, nil
}

func (m *MockRepository) UpdateMfa(_ context.Context, id string, secret *string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.get(id)
	if err != nil {
		return err
	}
	i.MfaSecret = secret
	i.MfaEnabled = enabled
	return nil
}

func (m *MockRepository) UpdatePassword(_ context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.get(id)
	if err != nil {
		return err
	}
	i.PasswordHash = passwordHash
	i.FailedLoginAttempts = 0
	i.LockedUntil = nil
	i.PasswordResetTokenHash = nil
	i.PasswordResetExpiresAt = nil
	return nil
}

func (m *MockRepository) SetPasswordReset(_ context.Context, id, tokenHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.get(id)
	if err != nil {
		return err
	}
	i.PasswordResetTokenHash = &tokenHash
	i.PasswordResetExpiresAt = &expiresAt
	return nil
}

func (m *MockRepository) GetByPasswordResetToken(_ context.Context, tokenHash string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.identities {
		if i.PasswordResetTokenHash != nil && *i.PasswordResetTokenHash == tokenHash {
			c := *i
			return &c, nil
		}
	}
	return nil, ErrIdentityNotFound
}

func (m *MockRepository) SetEmailVerification(_ context.Context, id, tokenHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.get(id)
	if err != nil {
		return err
	}
	i.EmailVerificationTokenHash = &tokenHash
	i.EmailVerificationExpiresAt = &expiresAt
	return nil
}

func (m *MockRepository) GetByEmailVerificationToken(_ context.Context, tokenHash string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.identities {
		if i.EmailVerificationTokenHash != nil && *i.EmailVerificationTokenHash == tokenHash {
			c := *i
			return &c, nil
		}
	}
	return nil, ErrIdentityNotFound
}

func (m *MockRepository) MarkEmailVerified(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.get(id)
	if err != nil {
		return err
	}
	i.EmailVerified = true
	i.EmailVerificationTokenHash = nil
	i.EmailVerificationExpiresAt = nil
	return nil
}

func (m *MockRepository) CountByRole(_ context.Context, role Role) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, i := range m.identities {
		if i.Role == role {
			n++
		}
	}
	return n, nil
}

func (m *MockRepository) SetActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.get(id)
	if err != nil {
		return err
	}
	i.IsActive = active
	return nil
}
