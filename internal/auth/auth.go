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

// Package auth runs login, refresh and account flows across the
// credential, device, MFA and token components. Every flow binds to
// exactly one namespace through the scoped data access layer.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/opentrusty/tenantcore/internal/audit"
	"github.com/opentrusty/tenantcore/internal/autherr"
	"github.com/opentrusty/tenantcore/internal/device"
	"github.com/opentrusty/tenantcore/internal/identity"
	"github.com/opentrusty/tenantcore/internal/mfa"
	"github.com/opentrusty/tenantcore/internal/notify"
	"github.com/opentrusty/tenantcore/internal/observability/logger"
	"github.com/opentrusty/tenantcore/internal/observability/metrics"
	"github.com/opentrusty/tenantcore/internal/observability/tracing"
	"github.com/opentrusty/tenantcore/internal/store"
	"github.com/opentrusty/tenantcore/internal/tenant"
	"github.com/opentrusty/tenantcore/internal/token"
)

// Flow defaults
const (
	DefaultMfaSetupTTL     = 10 * time.Minute
	DefaultResetTTL        = time.Hour
	DefaultVerificationTTL = 24 * time.Hour
)

var (
	ErrInvalidResetToken        = errors.New("invalid or expired password reset token")
	ErrInvalidVerificationToken = errors.New("invalid or expired email verification token")
	ErrQuotaExceeded            = errors.New("tenant identity quota exceeded")
	ErrRoleNotAllowed           = errors.New("role cannot be provisioned here")
)

// Notifier hands events to the notification boundary without blocking.
// *notify.Dispatcher implements it.
type Notifier interface {
	Dispatch(ctx context.Context, event notify.Event)
}

type discardNotifier struct{}

func (discardNotifier) Dispatch(context.Context, notify.Event) {}

// Dependencies wires the components shared by the flows in this package.
// Notifier, Instruments and Tracer are optional.
type Dependencies struct {
	Access        store.Access
	Tenants       tenant.Repository
	Identities    *identity.Service
	Authenticator *identity.Authenticator
	Mfa           *mfa.Verifier
	Devices       *device.Registry
	Issuer        *token.Issuer
	Notifier      Notifier
	AuditLogger   audit.Logger
	Instruments   *metrics.AuthInstruments
	Tracer        *tracing.Tracer
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Notifier == nil {
		d.Notifier = discardNotifier{}
	}
	if d.Tracer == nil {
		d.Tracer = tracing.Noop()
	}
	return d
}

// withRequestScope binds to the tenant named by the request or to the
// platform namespace when the request carries no tenant.
func withRequestScope(ctx context.Context, access store.Access, fn func(ctx context.Context, s store.Scope) error) error {
	if tc, ok := tenant.FromContext(ctx); ok && tc.ID != "" {
		return access.WithTenant(ctx, fn)
	}
	return access.WithPlatform(ctx, fn)
}

// classify passes taxonomy errors through and logs anything else before
// replacing it with ErrLoginFailed.
func classify(ctx context.Context, op string, err error) error {
	if err == nil || autherr.IsClassified(err) {
		return err
	}
	slog.ErrorContext(ctx, "authentication flow failed",
		logger.Component("auth"),
		logger.Operation(op),
		logger.Error(err),
	)
	return autherr.ErrLoginFailed
}

func outcomeOf(err error) (string, string) {
	if err == nil {
		return metrics.OutcomeSuccess, ""
	}
	return metrics.OutcomeFailure, autherr.KindOf(err).String()
}
