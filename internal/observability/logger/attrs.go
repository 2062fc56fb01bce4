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

package logger

import "log/slog"

// Attribute keys shared by every component. Tenant ids are always logged
// under keyTenantID so log queries can filter a tenant's activity.
const keyTenantID = "tenant_id"

// HTTP request attributes

func RequestID(id string) slog.Attr { return slog.String("request_id", id) }

func Method(method string) slog.Attr { return slog.String("method", method) }

func Path(path string) slog.Attr { return slog.String("path", path) }

// RemoteAddr is the resolved client address, not the socket peer.
func RemoteAddr(addr string) slog.Attr { return slog.String("remote_addr", addr) }

func UserAgent(ua string) slog.Attr { return slog.String("user_agent", ua) }

func StatusCode(code int) slog.Attr { return slog.Int("status_code", code) }

func Duration(ms int64) slog.Attr { return slog.Int64("duration_ms", ms) }

// Tenancy and identity attributes

// TenantID is empty for platform operations.
func TenantID(id string) slog.Attr { return slog.String(keyTenantID, id) }

// Namespace is the storage schema a unit of work was bound to.
func Namespace(name string) slog.Attr { return slog.String("namespace", name) }

func UserID(id string) slog.Attr { return slog.String("user_id", id) }

func DeviceID(id string) slog.Attr { return slog.String("device_id", id) }

// Error attributes

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Component attributes

func Component(name string) slog.Attr { return slog.String("component", name) }

func Operation(op string) slog.Attr { return slog.String("operation", op) }
