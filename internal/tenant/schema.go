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
	"regexp"
	"strings"

	"github.com/opentrusty/tenantcore/internal/autherr"
)

// PlatformSchema is the namespace holding platform-scope identities and
// the tenant registry.
const PlatformSchema = "public"

// SchemaPrefix prefixes every tenant namespace.
const SchemaPrefix = "tenant_"

// slugPattern is the only gate between a request header and an SQL
// identifier. Keep it strict.
var slugPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{1,30}[a-z0-9])$`)

// ValidateSlug fails with ErrInvalidTenantIdentifier unless slug is 3-32
// lowercase alphanumerics or hyphens, not starting or ending with a hyphen.
func ValidateSlug(slug string) error {
	if !slugPattern.MatchString(slug) {
		return autherr.ErrInvalidTenantIdentifier
	}
	return nil
}

// SchemaName derives the namespace of a validated slug.
func SchemaName(slug string) (string, error) {
	if err := ValidateSlug(slug); err != nil {
		return "", err
	}
	return SchemaPrefix + strings.ReplaceAll(slug, "-", "_"), nil
}

// ResolveSchema maps the request's tenant context to its namespace.
func ResolveSchema(ctx context.Context) (string, error) {
	tc, ok := FromContext(ctx)
	if !ok || tc.ID == "" {
		return "", autherr.ErrTenantContextMissing
	}
	return SchemaName(tc.ID)
}

// ResolveID returns the validated tenant id of the request.
func ResolveID(ctx context.Context) (string, error) {
	tc, ok := FromContext(ctx)
	if !ok || tc.ID == "" {
		return "", autherr.ErrTenantContextMissing
	}
	if err := ValidateSlug(tc.ID); err != nil {
		return "", err
	}
	return tc.ID, nil
}
