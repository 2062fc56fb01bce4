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

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/opentrusty/tenantcore/internal/audit"
	"github.com/opentrusty/tenantcore/internal/autherr"
	"github.com/opentrusty/tenantcore/internal/device"
	"github.com/opentrusty/tenantcore/internal/identity"
	"github.com/opentrusty/tenantcore/internal/notify"
	"github.com/opentrusty/tenantcore/internal/observability/logger"
	"github.com/opentrusty/tenantcore/internal/observability/metrics"
	"github.com/opentrusty/tenantcore/internal/observability/tracing"
	"github.com/opentrusty/tenantcore/internal/store"
	"github.com/opentrusty/tenantcore/internal/tenant"
	"github.com/opentrusty/tenantcore/internal/token"
)

// LoginRequest is one login attempt as received from the client.
type LoginRequest struct {
	Email      string
	Password   string
	MfaCode    string
	DeviceID   string
	DeviceName *string
	PushToken  *string
	IP         string
	UserAgent  string
}

// LoginResult is an established session.
type LoginResult struct {
	Tokens          *token.Pair
	DeviceBindingID *string
	Identity        *identity.Identity
}

// MfaSetupRequiredError is returned when tenant policy demands MFA from
// an identity that has not enrolled. SetupToken is accepted only by the
// enrollment endpoints. It matches autherr.ErrMfaSetupRequired.
type MfaSetupRequiredError struct {
	SetupToken string
	ExpiresAt  time.Time
}

func (e *MfaSetupRequiredError) Error() string { return autherr.ErrMfaSetupRequired.Error() }
func (e *MfaSetupRequiredError) Unwrap() error { return autherr.ErrMfaSetupRequired }

// Orchestrator runs the login state machine:
//
//	credentials -> tenant policy -> device -> mfa -> tokens
//
// Each step short-circuits on failure and nothing is returned to the
// caller until every step passed.
type Orchestrator struct {
	deps        Dependencies
	mfaSetupTTL time.Duration
	nowF        func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(deps Dependencies) *Orchestrator {
	return &Orchestrator{
		deps:        deps.withDefaults(),
		mfaSetupTTL: DefaultMfaSetupTTL,
		nowF:        time.Now,
	}
}

// LoginPlatform authenticates a platform administrator.
func (o *Orchestrator) LoginPlatform(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	return o.observe(ctx, "platform", "", func(ctx context.Context) (*LoginResult, error) {
		var res *LoginResult
		err := o.deps.Access.WithPlatform(ctx, func(ctx context.Context, s store.Scope) error {
			var err error
			res, err = o.login(ctx, s, req, nil)
			return err
		})
		return res, err
	})
}

// LoginTenant authenticates an identity of the tenant resolved for the
// request.
func (o *Orchestrator) LoginTenant(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	slug, resolveErr := tenant.ResolveID(ctx)
	return o.observe(ctx, "tenant", slug, func(ctx context.Context) (*LoginResult, error) {
		if resolveErr != nil {
			return nil, resolveErr
		}
		t, err := o.deps.Tenants.GetBySlug(ctx, slug)
		if err != nil {
			return nil, err
		}

		var res *LoginResult
		err = o.deps.Access.WithTenant(ctx, func(ctx context.Context, s store.Scope) error {
			var err error
			res, err = o.login(ctx, s, req, t)
			return err
		})
		return res, err
	})
}

func (o *Orchestrator) observe(ctx context.Context, scope, tenantID string, fn func(ctx context.Context) (*LoginResult, error)) (*LoginResult, error) {
	start := o.nowF()
	ctx, span := o.deps.Tracer.StartTenant(ctx, "auth.login", tenantID)

	res, err := fn(ctx)
	err = classify(ctx, "login", err)

	outcome, kind := outcomeOf(err)
	o.deps.Instruments.RecordLogin(ctx, scope, outcome, kind, o.nowF().Sub(start))
	tracing.End(span, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// login runs every step against one bound scope. t is nil for platform
// logins.
func (o *Orchestrator) login(ctx context.Context, s store.Scope, req LoginRequest, t *tenant.Tenant) (*LoginResult, error) {
	ident, err := o.deps.Authenticator.Validate(ctx, s.Identities(), req.Email, req.Password)
	if err != nil {
		return nil, err
	}
	if !belongs(ident, t) {
		return nil, autherr.ErrInvalidCredentials
	}

	var policy tenant.Policy
	if t != nil {
		if err := o.checkPolicy(ctx, ident, t, req); err != nil {
			return nil, err
		}
		policy = t.Policy
	}

	bindingID, err := o.checkDevice(ctx, s, ident, policy, req)
	if err != nil {
		return nil, err
	}

	if err := o.checkMfa(ctx, ident, req.MfaCode); err != nil {
		return nil, err
	}

	pair, err := o.deps.Issuer.WithAccessTTL(policy.SessionTimeout()).Issue(ctx, s.RefreshTokens(), token.ClaimsFor(ident), 0)
	if err != nil {
		return nil, err
	}

	o.recordLogin(ctx, s, ident, req)
	return &LoginResult{Tokens: pair, DeviceBindingID: bindingID, Identity: ident}, nil
}

// belongs guards against a row whose claims disagree with the namespace
// it was read from.
func belongs(ident *identity.Identity, t *tenant.Tenant) bool {
	if t == nil {
		return ident.Role.IsPlatform() && ident.TenantID == nil
	}
	return !ident.Role.IsPlatform() && ident.Tenant() == t.Slug
}

func (o *Orchestrator) checkPolicy(ctx context.Context, ident *identity.Identity, t *tenant.Tenant, req LoginRequest) error {
	if !t.IsActive {
		o.denied(ctx, ident, req, "tenant_inactive")
		return autherr.ErrTenantInactive
	}
	if !t.Policy.AllowsIP(req.IP) {
		o.denied(ctx, ident, req, "ip_not_allowed")
		return autherr.ErrIpNotAllowed
	}
	if t.Policy.RequiresMfa(ident.Role.IsAdmin()) && !ident.MfaEnabled {
		setup, err := o.deps.Issuer.IssuePurpose(token.ClaimsFor(ident), token.PurposeMfaSetup, o.mfaSetupTTL)
		if err != nil {
			return err
		}
		return &MfaSetupRequiredError{SetupToken: setup, ExpiresAt: o.nowF().Add(o.mfaSetupTTL)}
	}
	return nil
}

func (o *Orchestrator) denied(ctx context.Context, ident *identity.Identity, req LoginRequest, reason string) {
	o.deps.AuditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeAccessDenied,
		TenantID:  ident.Tenant(),
		ActorID:   ident.ID,
		Resource:  audit.ResourceLogin,
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
		Metadata:  map[string]any{audit.AttrReason: reason},
	})
}

// checkDevice returns the binding id of the device, or nil when none
// could be recorded. Only an enforcing allow-list makes it fatal.
func (o *Orchestrator) checkDevice(ctx context.Context, s store.Scope, ident *identity.Identity, policy tenant.Policy, req LoginRequest) (*string, error) {
	reg := device.Registration{DeviceID: req.DeviceID, DeviceName: req.DeviceName, PushToken: req.PushToken}
	subject := device.SubjectOf(ident)
	deviceID := strings.TrimSpace(req.DeviceID)

	if policy.EnforceDeviceAllowlist {
		b, err := o.deps.Devices.AssertAllowed(ctx, s.Devices(), subject, reg)
		if err != nil {
			if errors.Is(err, device.ErrDeviceApprovalRequired) && deviceID != "" {
				o.deps.Notifier.Dispatch(ctx, notify.Event{
					Type:     notify.TypeDevicePending,
					TenantID: ident.Tenant(),
					UserID:   ident.ID,
					Email:    ident.Email,
					Payload:  map[string]string{"device_id": deviceID},
				})
			}
			return nil, err
		}
		return &b.ID, nil
	}

	if deviceID == "" {
		return nil, nil
	}
	b, err := o.deps.Devices.Upsert(ctx, s.Devices(), subject, reg, true)
	if err != nil {
		slog.WarnContext(ctx, "device binding skipped",
			logger.Component("auth"),
			logger.TenantID(ident.Tenant()),
			logger.UserID(ident.ID),
			logger.DeviceID(deviceID),
			logger.Error(err),
		)
		return nil, nil
	}
	return &b.ID, nil
}

func (o *Orchestrator) checkMfa(ctx context.Context, ident *identity.Identity, code string) error {
	if !ident.MfaEnabled {
		return nil
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return autherr.ErrMfaRequired
	}
	return o.deps.Mfa.Verify(ctx, ident, code)
}

// recordLogin stamps the login and tells a repeat address apart from a
// new one. Neither outcome can fail the login.
func (o *Orchestrator) recordLogin(ctx context.Context, s store.Scope, ident *identity.Identity, req LoginRequest) {
	now := o.nowF()
	previous := ""
	if ident.LastLoginIP != nil {
		previous = *ident.LastLoginIP
	}
	suspicious := previous != "" && req.IP != "" && previous != req.IP

	if err := s.Identities().RecordLogin(ctx, ident.ID, req.IP, now); err != nil {
		slog.WarnContext(ctx, "failed to record login",
			logger.Component("auth"),
			logger.TenantID(ident.Tenant()),
			logger.UserID(ident.ID),
			logger.Error(err),
		)
	} else {
		ip := req.IP
		ident.LastLoginIP = &ip
		ident.LastLoginAt = &now
	}

	event := audit.Event{
		Type:      audit.TypeLoginSuccess,
		TenantID:  ident.Tenant(),
		ActorID:   ident.ID,
		Resource:  audit.ResourceLogin,
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
		Metadata:  map[string]any{audit.AttrNamespace: s.Namespace()},
	}
	if suspicious {
		event.Type = audit.TypeLoginSuspicious
		event.Metadata[audit.AttrPrevIP] = previous
		o.deps.Notifier.Dispatch(ctx, notify.Event{
			Type:     notify.TypeLoginSuspicious,
			TenantID: ident.Tenant(),
			UserID:   ident.ID,
			Email:    ident.Email,
			Payload:  map[string]string{"ip": req.IP, "previous_ip": previous},
		})
	}
	o.deps.AuditLogger.Log(ctx, event)
}

// Refresh exchanges a refresh token for a new pair in the namespace the
// token names. A request that resolved a tenant may only refresh that
// tenant's tokens, and tokens of a deactivated tenant stop working.
func (o *Orchestrator) Refresh(ctx context.Context, refreshToken string) (*token.Pair, *token.Claims, error) {
	ctx, span := o.deps.Tracer.Start(ctx, "auth.refresh")

	pair, claims, err := o.refresh(ctx, refreshToken)
	err = classify(ctx, "refresh", err)

	switch {
	case err == nil:
		o.deps.Instruments.RecordRotation(ctx, metrics.OutcomeSuccess)
	case errors.Is(err, token.ErrRefreshTokenReused):
		o.deps.Instruments.RecordRotation(ctx, metrics.OutcomeReuse)
	default:
		o.deps.Instruments.RecordRotation(ctx, metrics.OutcomeFailure)
	}
	tracing.End(span, err)
	if err != nil {
		return nil, nil, err
	}
	return pair, claims, nil
}

func (o *Orchestrator) refresh(ctx context.Context, refreshToken string) (*token.Pair, *token.Claims, error) {
	presented, err := o.deps.Issuer.ParseRefresh(refreshToken)
	if err != nil {
		return nil, nil, err
	}
	if tc, ok := tenant.FromContext(ctx); ok && tc.ID != "" && tc.ID != presented.Tenant() {
		return nil, nil, autherr.ErrTenantAccessDenied
	}

	issuer := o.deps.Issuer
	if presented.TenantID != nil {
		t, err := o.deps.Tenants.GetBySlug(ctx, *presented.TenantID)
		if err != nil {
			if errors.Is(err, tenant.ErrTenantNotFound) {
				return nil, nil, autherr.ErrInvalidRefreshToken
			}
			return nil, nil, err
		}
		if !t.IsActive {
			return nil, nil, autherr.ErrTenantInactive
		}
		issuer = issuer.WithAccessTTL(t.Policy.SessionTimeout())
	}

	var (
		pair   *token.Pair
		claims *token.Claims
	)
	err = store.ForTenantID(ctx, o.deps.Access, presented.TenantID, func(ctx context.Context, s store.Scope) error {
		ident, err := s.Identities().GetByID(ctx, presented.Subject)
		if err != nil && !errors.Is(err, identity.ErrIdentityNotFound) {
			return err
		}
		if ident == nil || !ident.IsActive {
			if _, err := issuer.RevokeAll(ctx, s.RefreshTokens(), presented.Subject, presented.Role, presented.TenantID); err != nil {
				return err
			}
			return autherr.ErrInvalidRefreshToken
		}

		pair, claims, err = issuer.Rotate(ctx, s.RefreshTokens(), refreshToken)
		return err
	})
	if errors.Is(err, token.ErrRefreshTokenReused) {
		o.deps.Notifier.Dispatch(ctx, notify.Event{
			Type:     notify.TypeTokenReuseDetected,
			TenantID: presented.Tenant(),
			UserID:   presented.Subject,
			Email:    presented.Email,
		})
	}
	if err != nil {
		return nil, nil, err
	}
	return pair, claims, nil
}

// Logout revokes every refresh token of the caller. Access tokens
// already issued stay valid until they expire.
func (o *Orchestrator) Logout(ctx context.Context, claims *token.Claims) error {
	return store.ForTenantID(ctx, o.deps.Access, claims.TenantID, func(ctx context.Context, s store.Scope) error {
		_, err := o.deps.Issuer.RevokeAll(ctx, s.RefreshTokens(), claims.Subject, claims.Role, claims.TenantID)
		return err
	})
}
