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

package audit

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Event types
const (
	TypeLoginSuccess        = "login_success"
	TypeLoginSuspicious     = "login_suspicious"
	TypeLoginFailed         = "login_failed"
	TypeUserLocked          = "user_locked"
	TypeUserUnlocked        = "user_unlocked"
	TypeUserCreated         = "user_created"
	TypeUserDeactivated     = "user_deactivated"
	TypePasswordChanged     = "password_changed"
	TypePasswordReset       = "password_reset"
	TypeEmailVerified       = "email_verified"
	TypeMfaProvisioned      = "mfa_provisioned"
	TypeMfaEnabled          = "mfa_enabled"
	TypeTokenIssued         = "token_issued"
	TypeTokenRotated        = "token_rotated"
	TypeTokenReuseDetected  = "token_reuse_detected"
	TypeTokenRevoked        = "token_revoked"
	TypeDevicePending       = "device_pending"
	TypeDeviceApproved      = "device_approved"
	TypeDeviceRevoked       = "device_revoked"
	TypeTenantCreated       = "tenant_created"
	TypeTenantPolicyUpdated = "tenant_policy_updated"
	TypeTenantDeactivated   = "tenant_deactivated"
	TypeTenantActivated     = "tenant_activated"
	TypeAccessDenied        = "access_denied"
	TypePlatformBootstrap   = "platform_admin_bootstrap"
)

// Metadata keys
const (
	AttrReason    = "reason"
	AttrAttempts  = "attempts"
	AttrEmail     = "email"
	AttrRole      = "role"
	AttrDeviceID  = "device_id"
	AttrBindingID = "binding_id"
	AttrTokenID   = "token_id"
	AttrRevoked   = "revoked"
	AttrPrevIP    = "previous_ip"
	AttrNamespace = "namespace"
)

// Actors that are not identities
const (
	ActorSystem          = "system"
	ActorSystemBootstrap = "system:bootstrap"
)

// Resources
const (
	ResourceLogin    = "login"
	ResourceSession  = "session"
	ResourceDevice   = "device"
	ResourceTenant   = "tenant"
	ResourceIdentity = "identity"
	ResourceMfa      = "mfa"
	ResourcePlatform = "platform"
)

// Event represents an auditable action
type Event struct {
	Type      string
	TenantID  string
	ActorID   string
	Resource  string
	Metadata  map[string]any
	Timestamp time.Time
	IPAddress string
	UserAgent string
}

// Logger defines the interface for audit logging
type Logger interface {
	Log(ctx context.Context, event Event)
}

// SlogLogger writes audit events as structured log records under the
// "AUDIT_EVENT" message.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger creates an audit logger on the default slog logger.
func NewSlogLogger() *SlogLogger {
	return &SlogLogger{}
}

// NewSlogLoggerWith writes to log instead of the default logger.
func NewSlogLoggerWith(log *slog.Logger) *SlogLogger {
	return &SlogLogger{log: log}
}

// warnTypes are the events a security operator should see without
// raising the log level.
var warnTypes = map[string]bool{
	TypeLoginSuspicious:    true,
	TypeUserLocked:         true,
	TypeTokenReuseDetected: true,
	TypeAccessDenied:       true,
}

// Log records an audit event. It never fails the caller.
func (l *SlogLogger) Log(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	scope := "tenant"
	if event.TenantID == "" {
		scope = "platform"
	}

	attrs := []slog.Attr{
		slog.String("component", "audit"),
		slog.String("audit_type", event.Type),
		slog.String("audit_scope", scope),
		slog.String("tenant_id", event.TenantID),
		slog.String("actor_id", event.ActorID),
		slog.String("resource", event.Resource),
		slog.Time("timestamp", event.Timestamp),
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, metadataGroup(event.Metadata))
	}

	level := slog.LevelInfo
	if warnTypes[event.Type] {
		level = slog.LevelWarn
	}
	l.logger().LogAttrs(ctx, level, "AUDIT_EVENT", attrs...)
}

func (l *SlogLogger) logger() *slog.Logger {
	if l.log != nil {
		return l.log
	}
	return slog.Default()
}

// metadataGroup renders metadata in key order with secrets masked.
func metadataGroup(md map[string]any) slog.Attr {
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	group := make([]any, 0, len(keys))
	for _, k := range keys {
		v := md[k]
		if isSecret(k) {
			v = "[REDACTED]"
		}
		group = append(group, slog.Any(k, v))
	}
	return slog.Group("metadata", group...)
}

var secretMarkers = []string{"password", "secret", "token", "key", "hash", "credential", "authorization", "otp", "code"}

// isSecret reports whether a metadata key likely holds a credential.
// token_id is a revocation handle, not a credential.
func isSecret(key string) bool {
	k := strings.ToLower(key)
	if k == AttrTokenID {
		return false
	}
	for _, s := range secretMarkers {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
