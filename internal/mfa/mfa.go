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

// Package mfa provisions and checks RFC 6238 time-based one-time codes.
package mfa

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"strconv"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/opentrusty/tenantcore/internal/autherr"
	"github.com/opentrusty/tenantcore/internal/cache"
	"github.com/opentrusty/tenantcore/internal/identity"
	"github.com/opentrusty/tenantcore/internal/observability/logger"
)

const (
	period     = 30
	skewSteps  = 1
	codeDigits = 6
	qrSize     = 200

	DefaultMaxFailures   = 5
	DefaultFailureWindow = 15 * time.Minute
)

var (
	ErrInvalidMfaToken   = autherr.ErrInvalidMfaToken
	ErrMfaAlreadyEnabled = errors.New("mfa is already enabled")
	ErrMfaNotProvisioned = errors.New("mfa is not provisioned")
)

// Enrollment is returned once at provisioning time.
type Enrollment struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauth_url"`
	QRImage    string `json:"qr_image"`
}

// Verifier checks codes within one step either side of now. Every
// accepted step is consumed through the replay store so a code works
// at most once per identity, and each identity gets maxFailures checks
// per failureWindow until a code is accepted.
type Verifier struct {
	issuer        string
	replay        cache.Store
	maxFailures   int
	failureWindow time.Duration
	nowF          func() time.Time
}

// NewVerifier creates a verifier. A nil replay store disables replay
// protection and is meant for tests only.
func NewVerifier(issuer string, replay cache.Store) *Verifier {
	return &Verifier{
		issuer:        issuer,
		replay:        replay,
		maxFailures:   DefaultMaxFailures,
		failureWindow: DefaultFailureWindow,
		nowF:          time.Now,
	}
}

// WithFailureLimit sets how many codes an identity may try per window.
// Non-positive values keep the defaults.
func (v *Verifier) WithFailureLimit(maxFailures int, window time.Duration) *Verifier {
	if maxFailures > 0 {
		v.maxFailures = maxFailures
	}
	if window > 0 {
		v.failureWindow = window
	}
	return v
}

// Provision generates and stores a new secret with MFA still disabled.
func (v *Verifier) Provision(ctx context.Context, repo identity.Repository, ident *identity.Identity) (*Enrollment, error) {
	if ident.MfaEnabled {
		return nil, ErrMfaAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      v.issuer,
		AccountName: ident.Email,
		Period:      period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp secret: %w", err)
	}

	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return nil, fmt.Errorf("failed to render qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}

	secret := key.Secret()
	if err := repo.UpdateMfa(ctx, ident.ID, &secret, false); err != nil {
		return nil, fmt.Errorf("failed to store mfa secret: %w", err)
	}
	ident.MfaSecret = &secret
	ident.MfaEnabled = false

	return &Enrollment{
		Secret:     secret,
		OTPAuthURL: key.URL(),
		QRImage:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// Confirm verifies code against the provisioned secret and enables MFA.
// A failed check leaves the identity unchanged.
func (v *Verifier) Confirm(ctx context.Context, repo identity.Repository, ident *identity.Identity, code string) error {
	if ident.MfaSecret == nil {
		return ErrMfaNotProvisioned
	}
	if err := v.Verify(ctx, ident, code); err != nil {
		return err
	}
	if err := repo.UpdateMfa(ctx, ident.ID, ident.MfaSecret, true); err != nil {
		return fmt.Errorf("failed to enable mfa: %w", err)
	}
	ident.MfaEnabled = true
	return nil
}

// Verify checks code without changing the identity.
func (v *Verifier) Verify(ctx context.Context, ident *identity.Identity, code string) error {
	if ident.MfaSecret == nil || !wellFormed(code) {
		return ErrInvalidMfaToken
	}
	if err := v.claimCheck(ctx, ident); err != nil {
		return err
	}

	now := v.nowF()
	current := now.Unix() / period
	for offset := int64(-skewSteps); offset <= skewSteps; offset++ {
		step := current + offset
		expected, err := totp.GenerateCodeCustom(*ident.MfaSecret, time.Unix(step*period, 0).UTC(), totp.ValidateOpts{
			Period:    period,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil {
			return ErrInvalidMfaToken
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) != 1 {
			continue
		}
		if err := v.consume(ctx, ident, step); err != nil {
			return err
		}
		v.resetChecks(ctx, ident)
		return nil
	}
	return ErrInvalidMfaToken
}

func failureKey(ident *identity.Identity) string {
	return "totp:fail:" + ident.Tenant() + ":" + ident.ID
}

// claimCheck counts the check before the code is compared so parallel
// guesses cannot share one count. Past the limit no code is compared.
func (v *Verifier) claimCheck(ctx context.Context, ident *identity.Identity) error {
	if v.replay == nil {
		return nil
	}
	n, err := v.replay.Incr(ctx, failureKey(ident), v.failureWindow)
	if err != nil {
		return fmt.Errorf("failed to count totp check: %w", err)
	}
	if n > int64(v.maxFailures) {
		return ErrInvalidMfaToken
	}
	return nil
}

func (v *Verifier) resetChecks(ctx context.Context, ident *identity.Identity) {
	if v.replay == nil {
		return
	}
	if err := v.replay.Delete(ctx, failureKey(ident)); err != nil {
		slog.WarnContext(ctx, "failed to reset totp failure count",
			logger.Component("mfa"),
			logger.UserID(ident.ID),
			logger.Error(err),
		)
	}
}

func (v *Verifier) consume(ctx context.Context, ident *identity.Identity, step int64) error {
	if v.replay == nil {
		return nil
	}
	key := "totp:used:" + ident.Tenant() + ":" + ident.ID + ":" + strconv.FormatInt(step, 10)
	fresh, err := v.replay.SetNX(ctx, key, "1", time.Duration(period*(2*skewSteps+2))*time.Second)
	if err != nil {
		return fmt.Errorf("failed to record totp step: %w", err)
	}
	if !fresh {
		return ErrInvalidMfaToken
	}
	return nil
}

func wellFormed(code string) bool {
	if len(code) != codeDigits {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
