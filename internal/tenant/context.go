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

package tenant

import (
	"context"
	"net"
	"strings"
)

// HeaderTenantID is the explicit tenant selector header.
const HeaderTenantID = "X-Tenant-ID"

// Context is the tenant resolved for one inbound request. It is immutable
// once published; an empty ID means no tenant was supplied.
type Context struct {
	ID string
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying tc.
func NewContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext returns the tenant context published for the request.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(contextKey{}).(Context)
	return tc, ok
}

// WithID is shorthand for NewContext with a known tenant id. Background
// work derived from a request uses it to carry the tenant explicitly.
func WithID(ctx context.Context, id string) context.Context {
	return NewContext(ctx, Context{ID: id})
}

// Extract derives the tenant identifier from the explicit header value,
// falling back to the leftmost label of host. A bare "localhost", an IP
// literal or a single-label host yields "". No validation happens here.
func Extract(header, host string) string {
	if v := strings.TrimSpace(header); v != "" {
		return strings.ToLower(v)
	}

	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(strings.ToLower(host), "[]")
	if host == "" || host == "localhost" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return ""
	}

	label, _, found := strings.Cut(host, ".")
	if !found {
		return ""
	}
	return label
}
