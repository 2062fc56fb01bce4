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

package mfa

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/tenantcore/internal/autherr"
	"github.com/opentrusty/tenantcore/internal/cache"
	"github.com/opentrusty/tenantcore/internal/identity"
)

type mockRepo struct {
	identity.Repository
	mock.Mock
}

func (m *mockRepo) UpdateMfa(ctx context.Context, id string, secret *string, enabled bool) error {
	args := m.Called(ctx, id, secret, enabled)
	return args.Error(0)
}

func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    period,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func inWindow(t *testing.T, secret string, now time.Time, code string) bool {
	for _, d := range []time.Duration{-period * time.Second, 0, period * time.Second} {
		if codeAt(t, secret, now.Add(d)) == code {
			return true
		}
	}
	return false
}

func newTestVerifier(now time.Time) (*Verifier, *cache.Memory) {
	store := cache.NewMemory(0)
	v := NewVerifier("tenantcore", store)
	v.nowF = func() time.Time { return now }
	return v, store
}

// TestPurpose: Validates that provisioning stores an unconfirmed secret and returns enrollment material.
// Scope: Unit Test
// Security: MFA enrollment
// Expected: Secret stored with mfaEnabled=false, otpauth URL and PNG data URL returned.
// Test Case ID: MFA-01
func TestMfa_Provision(t *testing.T) {
	v, store := newTestVerifier(time.Now())
	defer store.Close()
	repo := new(mockRepo)
	ident := &identity.Identity{ID: "u1", Email: "driver@acme.test"}

	repo.On("UpdateMfa", mock.Anything, "u1", mock.AnythingOfType("*string"), false).Return(nil)

	enr, err := v.Provision(context.Background(), repo, ident)
	require.NoError(t, err)
	assert.NotEmpty(t, enr.Secret)
	assert.True(t, strings.HasPrefix(enr.OTPAuthURL, "otpauth://totp/"))
	assert.True(t, strings.HasPrefix(enr.QRImage, "data:image/png;base64,"))
	require.NotNil(t, ident.MfaSecret)
	assert.Equal(t, enr.Secret, *ident.MfaSecret)
	assert.False(t, ident.MfaEnabled)
	repo.AssertExpectations(t)

	ident.MfaEnabled = true
	_, err = v.Provision(context.Background(), repo, ident)
	assert.ErrorIs(t, err, ErrMfaAlreadyEnabled)
}

// TestPurpose: Validates that provision followed by confirm with the current code succeeds exactly once.
// Scope: Unit Test
// Security: OTP replay prevention (CWE-294)
// Expected: First confirm enables MFA; replaying the same code fails with InvalidMfaToken.
// Test Case ID: MFA-02
func TestMfa_ConfirmOnce(t *testing.T) {
	now := time.Now()
	v, store := newTestVerifier(now)
	defer store.Close()
	repo := new(mockRepo)
	ident := &identity.Identity{ID: "u1", Email: "driver@acme.test"}
	ctx := context.Background()

	repo.On("UpdateMfa", ctx, "u1", mock.Anything, false).Return(nil)
	repo.On("UpdateMfa", ctx, "u1", mock.Anything, true).Return(nil)

	enr, err := v.Provision(ctx, repo, ident)
	require.NoError(t, err)

	code := codeAt(t, enr.Secret, now)
	require.NoError(t, v.Confirm(ctx, repo, ident, code))
	assert.True(t, ident.MfaEnabled)

	err = v.Verify(ctx, ident, code)
	assert.ErrorIs(t, err, autherr.ErrInvalidMfaToken, "MFA-02: replayed code must fail")
}

// TestPurpose: Validates the one-step tolerance window.
// Scope: Unit Test
// Security: OTP validity window
// Expected: Codes from the adjacent steps pass, codes two steps away fail.
// Test Case ID: MFA-03
func TestMfa_Window(t *testing.T) {
	now := time.Unix(1_800_000_015, 0)
	v, store := newTestVerifier(now)
	defer store.Close()
	secret := "JBSWY3DPEHPK3PXP"
	ctx := context.Background()

	for _, offset := range []time.Duration{-period * time.Second, 0, period * time.Second} {
		ident := &identity.Identity{ID: "u-" + offset.String(), MfaSecret: &secret}
		assert.NoError(t, v.Verify(ctx, ident, codeAt(t, secret, now.Add(offset))), "MFA-03: offset %s", offset)
	}

	for _, offset := range []time.Duration{-2 * period * time.Second, 2 * period * time.Second} {
		ident := &identity.Identity{ID: "far", MfaSecret: &secret}
		code := codeAt(t, secret, now.Add(offset))
		if inWindow(t, secret, now, code) {
			continue
		}
		assert.ErrorIs(t, v.Verify(ctx, ident, code), autherr.ErrInvalidMfaToken, "MFA-03: offset %s", offset)
	}
}

// TestPurpose: Validates that a failed confirm leaves MFA disabled.
// Scope: Unit Test
// Security: MFA state integrity
// Expected: Wrong or malformed code fails InvalidMfaToken and UpdateMfa(enabled=true) is never called.
// Test Case ID: MFA-04
func TestMfa_ConfirmFailureLeavesState(t *testing.T) {
	v, store := newTestVerifier(time.Now())
	defer store.Close()
	repo := new(mockRepo)
	secret := "JBSWY3DPEHPK3PXP"
	ident := &identity.Identity{ID: "u1", MfaSecret: &secret}
	ctx := context.Background()

	for _, code := range []string{"", "12345", "1234567", "abcdef"} {
		assert.ErrorIs(t, v.Confirm(ctx, repo, ident, code), autherr.ErrInvalidMfaToken, "MFA-04: %q", code)
	}
	assert.False(t, ident.MfaEnabled)
	repo.AssertNotCalled(t, "UpdateMfa", mock.Anything, mock.Anything, mock.Anything, true)

	assert.ErrorIs(t, v.Confirm(ctx, repo, &identity.Identity{ID: "u2"}, "123456"), ErrMfaNotProvisioned)
}

func wrongCode(t *testing.T, secret string, now time.Time) string {
	for i := 0; i < 1_000_000; i++ {
		c := fmt.Sprintf("%06d", i)
		if !inWindow(t, secret, now, c) {
			return c
		}
	}
	t.Fatal("no code outside the window")
	return ""
}

// TestPurpose: Validates that wrong codes are counted per identity and stop further checks once the limit is reached.
// Scope: Unit Test
// Security: Second-factor brute force (CWE-307)
// Expected: After 5 wrong codes even the current code fails InvalidMfaToken for that identity; other identities are unaffected; an accepted code clears the count.
// Test Case ID: MFA-05
func TestMfa_FailureLimit(t *testing.T) {
	now := time.Unix(1_800_000_015, 0)
	v, store := newTestVerifier(now)
	defer store.Close()
	secret := "JBSWY3DPEHPK3PXP"
	ctx := context.Background()
	bad := wrongCode(t, secret, now)

	tenantID := "acme"
	guessed := &identity.Identity{ID: "u1", TenantID: &tenantID, MfaSecret: &secret}
	for i := 0; i < DefaultMaxFailures; i++ {
		assert.ErrorIs(t, v.Verify(ctx, guessed, bad), autherr.ErrInvalidMfaToken)
	}
	assert.ErrorIs(t, v.Verify(ctx, guessed, codeAt(t, secret, now)), autherr.ErrInvalidMfaToken,
		"MFA-05: the current code must not be checked past the limit")

	other := &identity.Identity{ID: "u2", TenantID: &tenantID, MfaSecret: &secret}
	for i := 0; i < DefaultMaxFailures-1; i++ {
		assert.ErrorIs(t, v.Verify(ctx, other, bad), autherr.ErrInvalidMfaToken)
	}
	require.NoError(t, v.Verify(ctx, other, codeAt(t, secret, now)))
	_, err := store.Get(ctx, failureKey(other))
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

// TestPurpose: Validates the configurable failure limit.
// Scope: Unit Test
// Security: Second-factor brute force (CWE-307)
// Expected: With a limit of 2 the third check fails without comparing; non-positive settings keep the defaults.
// Test Case ID: MFA-06
func TestMfa_WithFailureLimit(t *testing.T) {
	now := time.Unix(1_800_000_015, 0)
	v, store := newTestVerifier(now)
	defer store.Close()
	v.WithFailureLimit(2, time.Minute)
	secret := "JBSWY3DPEHPK3PXP"
	ident := &identity.Identity{ID: "u1", MfaSecret: &secret}
	ctx := context.Background()

	bad := wrongCode(t, secret, now)
	assert.ErrorIs(t, v.Verify(ctx, ident, bad), autherr.ErrInvalidMfaToken)
	assert.ErrorIs(t, v.Verify(ctx, ident, bad), autherr.ErrInvalidMfaToken)
	assert.ErrorIs(t, v.Verify(ctx, ident, codeAt(t, secret, now)), autherr.ErrInvalidMfaToken)

	d := NewVerifier("tenantcore", nil).WithFailureLimit(0, -time.Second)
	assert.Equal(t, DefaultMaxFailures, d.maxFailures)
	assert.Equal(t, DefaultFailureWindow, d.failureWindow)
}
