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
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Tenant represents an isolated customer organization.
// Slug is immutable and doubles as the tenant identifier carried in
// requests and token claims.
type Tenant struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	Policy    Policy    `json:"policy"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MaxSessionTimeoutMinutes bounds the access token lifetime a tenant may
// request.
const MaxSessionTimeoutMinutes = 24 * 60

// Policy is the security bundle a platform administrator sets per tenant.
type Policy struct {
	RequireMfaForAdmins    bool     `json:"require_mfa_for_admins"`
	RequireMfaForUsers     bool     `json:"require_mfa_for_users"`
	RequireBiometrics      bool     `json:"require_biometrics"`
	SessionTimeoutMinutes  int      `json:"session_timeout_minutes"`
	EnforceIPAllowlist     bool     `json:"enforce_ip_allowlist"`
	AllowedIPs             []string `json:"allowed_ips"`
	EnforceDeviceAllowlist bool     `json:"enforce_device_allowlist"`
	MaxDrivers             int      `json:"max_drivers"`
	MaxStorageMB           int      `json:"max_storage_mb"`
}

// DefaultPolicy returns the policy applied to newly created tenants.
func DefaultPolicy() Policy {
	return Policy{
		SessionTimeoutMinutes: 60,
		AllowedIPs:            []string{},
		MaxDrivers:            50,
		MaxStorageMB:          1024,
	}
}

// Validate checks that the policy is internally consistent.
func (p Policy) Validate() error {
	if p.SessionTimeoutMinutes < 0 {
		return fmt.Errorf("%w: session timeout must not be negative", ErrInvalidPolicy)
	}
	if p.SessionTimeoutMinutes > MaxSessionTimeoutMinutes {
		return fmt.Errorf("%w: session timeout must not exceed %d minutes", ErrInvalidPolicy, MaxSessionTimeoutMinutes)
	}
	if p.MaxDrivers < 0 || p.MaxStorageMB < 0 {
		return fmt.Errorf("%w: quotas must not be negative", ErrInvalidPolicy)
	}
	for _, entry := range p.AllowedIPs {
		if _, err := parseAllowEntry(entry); err != nil {
			return fmt.Errorf("%w: allowed ip %q: %v", ErrInvalidPolicy, entry, err)
		}
	}
	if p.EnforceIPAllowlist && len(p.AllowedIPs) == 0 {
		return fmt.Errorf("%w: ip allow-list is enforced but empty", ErrInvalidPolicy)
	}
	return nil
}

// AllowsIP reports whether ip may reach the tenant. Entries are single
// addresses or CIDR prefixes. A policy that does not enforce the
// allow-list admits everyone; an unparseable caller address is refused.
func (p Policy) AllowsIP(ip string) bool {
	if !p.EnforceIPAllowlist {
		return true
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, entry := range p.AllowedIPs {
		prefix, err := parseAllowEntry(entry)
		if err != nil {
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// RequiresMfa reports whether the policy forces MFA for the given class
// of identity.
func (p Policy) RequiresMfa(isAdmin bool) bool {
	if isAdmin {
		return p.RequireMfaForAdmins
	}
	return p.RequireMfaForUsers
}

// SessionTimeout returns the access token lifetime the tenant asks for,
// or zero when the issuer default applies.
func (p Policy) SessionTimeout() time.Duration {
	if p.SessionTimeoutMinutes <= 0 {
		return 0
	}
	return time.Duration(p.SessionTimeoutMinutes) * time.Minute
}

func parseAllowEntry(entry string) (netip.Prefix, error) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, err
		}
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
