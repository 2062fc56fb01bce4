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
	"sort"

	"github.com/opentrusty/tenantcore/internal/observability/logger"
)

// Log is a Publisher that only writes a log line. Payload values are
// never logged since they may carry one-time tokens.
type Log struct{}

// NewLog creates a log publisher.
func NewLog() *Log { return &Log{} }

// Publish implements Publisher.
func (Log) Publish(ctx context.Context, event Event) error {
	keys := make([]string, 0, len(event.Payload))
	for k := range event.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	slog.InfoContext(ctx, "notification",
		logger.Component("notify"),
		slog.String("event_id", event.ID),
		slog.String("event_type", event.Type),
		logger.TenantID(event.TenantID),
		logger.UserID(event.UserID),
		slog.Any("payload_keys", keys),
	)
	return nil
}

// Close implements Publisher.
func (Log) Close() error { return nil }
