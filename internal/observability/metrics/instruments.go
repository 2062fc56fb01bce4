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

package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeReuse   = "reuse"
)

// AuthInstruments are the counters recorded by the login, refresh and
// scoped access paths. A nil *AuthInstruments records nothing.
type AuthInstruments struct {
	loginAttempts   metric.Int64Counter
	loginDuration   metric.Float64Histogram
	rotations       metric.Int64Counter
	reuseDetected   metric.Int64Counter
	scopesAcquired  metric.Int64Counter
	notifyDelivered metric.Int64Counter
}

// NewAuthInstruments registers the instruments on m.
func NewAuthInstruments(m *Meter) (*AuthInstruments, error) {
	var (
		in  AuthInstruments
		err error
	)
	if in.loginAttempts, err = m.CreateCounter("auth.login.attempts", "Login attempts by outcome and kind"); err != nil {
		return nil, err
	}
	if in.loginDuration, err = m.CreateHistogram("auth.login.duration", "Login latency", "ms"); err != nil {
		return nil, err
	}
	if in.rotations, err = m.CreateCounter("auth.refresh.rotations", "Refresh token rotations by outcome"); err != nil {
		return nil, err
	}
	if in.reuseDetected, err = m.CreateCounter("auth.refresh.reuse_detected", "Refresh token families revoked after reuse"); err != nil {
		return nil, err
	}
	if in.scopesAcquired, err = m.CreateCounter("store.scope.acquired", "Scoped units of work by namespace class"); err != nil {
		return nil, err
	}
	if in.notifyDelivered, err = m.CreateCounter("notify.events", "Notification events by type and outcome"); err != nil {
		return nil, err
	}
	return &in, nil
}

// RecordLogin counts one login attempt. kind is the error kind code on
// failure and empty on success.
func (in *AuthInstruments) RecordLogin(ctx context.Context, scope, outcome, kind string, elapsed time.Duration) {
	if in == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("outcome", outcome),
		attribute.String("kind", kind),
	)
	in.loginAttempts.Add(ctx, 1, attrs)
	in.loginDuration.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(attribute.String("scope", scope)))
}

// RecordRotation counts one refresh attempt.
func (in *AuthInstruments) RecordRotation(ctx context.Context, outcome string) {
	if in == nil {
		return
	}
	in.rotations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if outcome == OutcomeReuse {
		in.reuseDetected.Add(ctx, 1)
	}
}

// RecordScope counts one scoped unit of work. scope is "tenant" or
// "platform"; tenant names are not used as labels.
func (in *AuthInstruments) RecordScope(ctx context.Context, scope string) {
	if in == nil {
		return
	}
	in.scopesAcquired.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
}

// RecordNotification counts one notification publish outcome.
func (in *AuthInstruments) RecordNotification(ctx context.Context, eventType, outcome string) {
	if in == nil {
		return
	}
	in.notifyDelivered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", eventType),
		attribute.String("outcome", outcome),
	))
}
