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

package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/opentrusty/tenantcore/internal/id"
	"github.com/opentrusty/tenantcore/internal/observability/logger"
	"github.com/opentrusty/tenantcore/internal/observability/metrics"
)

const (
	defaultPublishTimeout = 5 * time.Second
	defaultMaxInFlight    = 256
	defaultMaxTries       = 3
)

// Dispatcher publishes events in the background. Dispatch never blocks
// and never fails the caller: when the publisher is slow or down the
// event is retried a few times, then dropped with a log line.
type Dispatcher struct {
	pub         Publisher
	instruments *metrics.AuthInstruments
	timeout     time.Duration
	maxTries    uint
	sem         chan struct{}

	// mu orders wg.Add in Dispatch against closing in Drain.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	newBackOff func() backoff.BackOff
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPublishTimeout bounds each publish, retries included.
func WithPublishTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) { disp.timeout = d }
}

// WithMaxInFlight bounds the number of pending events.
func WithMaxInFlight(n int) DispatcherOption {
	return func(disp *Dispatcher) { disp.sem = make(chan struct{}, n) }
}

// WithInstruments records publish outcomes.
func WithInstruments(in *metrics.AuthInstruments) DispatcherOption {
	return func(disp *Dispatcher) { disp.instruments = in }
}

// NewDispatcher creates a dispatcher over pub.
func NewDispatcher(pub Publisher, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		pub:      pub,
		timeout:  defaultPublishTimeout,
		maxTries: defaultMaxTries,
		sem:      make(chan struct{}, defaultMaxInFlight),
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 100 * time.Millisecond
			return bo
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch queues event for publishing. The request context only
// contributes its values; cancellation of the request does not cancel
// delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = id.NewUUIDv7()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.drop(ctx, event, "dispatcher closed")
		return
	}
	select {
	case d.sem <- struct{}{}:
	default:
		d.mu.Unlock()
		d.drop(ctx, event, "too many pending notifications")
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() { <-d.sem }()

		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		_, err := backoff.Retry(pubCtx, func() (struct{}, error) {
			return struct{}{}, d.pub.Publish(pubCtx, event)
		}, backoff.WithBackOff(d.newBackOff()), backoff.WithMaxTries(d.maxTries))
		if err != nil {
			d.instruments.RecordNotification(ctx, event.Type, metrics.OutcomeFailure)
			slog.WarnContext(ctx, "notification publish failed",
				logger.Component("notify"),
				slog.String("event_id", event.ID),
				slog.String("event_type", event.Type),
				logger.TenantID(event.TenantID),
				logger.Error(err),
			)
			return
		}
		d.instruments.RecordNotification(ctx, event.Type, metrics.OutcomeSuccess)
	}()
}

func (d *Dispatcher) drop(ctx context.Context, event Event, reason string) {
	d.instruments.RecordNotification(ctx, event.Type, "dropped")
	slog.WarnContext(ctx, "notification dropped",
		logger.Component("notify"),
		slog.String("event_type", event.Type),
		logger.TenantID(event.TenantID),
		slog.String("reason", reason),
	)
}

// Drain stops accepting events and waits for pending ones until ctx is
// done. It then closes the publisher.
func (d *Dispatcher) Drain(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return d.pub.Close()
}
