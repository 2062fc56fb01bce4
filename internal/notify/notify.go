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

// Package notify is the outbound notification boundary. Delivery
// (email, push, webhooks) happens downstream of the publisher; this
// package only hands events off and never blocks the caller on it.
package notify

import (
	"context"
	"time"
)

// Event types
const (
	TypeLoginSuspicious            = "login.suspicious"
	TypePasswordResetRequested     = "password_reset.requested"
	TypeEmailVerificationRequested = "email_verification.requested"
	TypeDevicePending              = "device.pending"
	TypeTokenReuseDetected         = "token.reuse_detected"
)

// Event is one notification. TenantID travels with the event because
// delivery happens outside the request that raised it.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	TenantID   string            `json:"tenant_id,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	Email      string            `json:"email,omitempty"`
	Payload    map[string]string `json:"payload,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Publisher hands an event to the delivery pipeline.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}
