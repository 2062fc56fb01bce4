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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opentrusty/tenantcore/internal/audit"
	"github.com/opentrusty/tenantcore/internal/cache"
	"github.com/opentrusty/tenantcore/internal/device"
	"github.com/opentrusty/tenantcore/internal/identity"
	"github.com/opentrusty/tenantcore/internal/mfa"
	"github.com/opentrusty/tenantcore/internal/notify"
	"github.com/opentrusty/tenantcore/internal/store"
	"github.com/opentrusty/tenantcore/internal/store/memory"
	"github.com/opentrusty/tenantcore/internal/tenant"
	"github.com/opentrusty/tenantcore/internal/token"
)

const testPassword = "correct-horse-battery"

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Dispatch(_ context.Context, e notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) ofType(typ string) []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Event
	for _, e := range n.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *recordingAudit) Log(_ context.Context, e audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *recordingAudit) count(typ string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// brokenAccess fails every unit of work the way an unreachable database
// would.
type brokenAccess struct{}

func (brokenAccess) WithTenant(context.Context, func(context.Context, store.Scope) error) error {
	return errors.New("dial tcp 10.0.0.5:5432: connection refused")
}

func (brokenAccess) WithPlatform(context.Context, func(context.Context, store.Scope) error) error {
	return errors.New("dial tcp 10.0.0.5:5432: connection refused")
}

type testEnv struct {
	store   *memory.Store
	deps    Dependencies
	orch    *Orchestrator
	account *AccountService
	admin   *AdminService
	notes   *recordingNotifier
	audit   *recordingAudit
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := memory.New()
	replay := cache.NewMemory(0)
	t.Cleanup(replay.Close)

	auditLog := &recordingAudit{}
	notes := &recordingNotifier{}
	hasher := identity.NewPasswordHasher(1024, 1, 1, 16, 32)

	issuer, err := token.NewIssuer(token.Config{
		AccessSecret:  []byte("access-secret-for-tests-0123456789abcdef"),
		RefreshSecret: []byte("refresh-secret-for-tests-0123456789abcdef"),
		Issuer:        "tenantcore-test",
	}, auditLog)
	require.NoError(t, err)

	deps := Dependencies{
		Access:        st,
		Tenants:       st,
		Identities:    identity.NewService(hasher, auditLog),
		Authenticator: identity.NewAuthenticator(hasher, auditLog, 5, 15*time.Minute),
		Mfa:           mfa.NewVerifier("tenantcore", replay),
		Devices:       device.NewRegistry(auditLog),
		Issuer:        issuer,
		Notifier:      notes,
		AuditLogger:   auditLog,
	}

	return &testEnv{
		store:   st,
		deps:    deps,
		orch:    NewOrchestrator(deps),
		account: NewAccountService(deps),
		admin:   NewAdminService(deps, tenant.NewService(st, st, auditLog)),
		notes:   notes,
		audit:   auditLog,
	}
}

func (e *testEnv) createTenant(t *testing.T, slug string, policy *tenant.Policy) {
	t.Helper()
	_, admin, err := e.admin.CreateTenant(context.Background(), CreateTenantInput{
		Slug:          slug,
		Name:          slug,
		Policy:        policy,
		AdminEmail:    "admin@" + slug + ".test",
		AdminPassword: testPassword,
	}, audit.ActorSystem)
	require.NoError(t, err)
	require.NotNil(t, admin)
}

func (e *testEnv) addUser(t *testing.T, slug, email string) *identity.Identity {
	t.Helper()
	ident, err := e.admin.ProvisionIdentity(tenant.WithID(context.Background(), slug), ProvisionInput{
		Email:    email,
		Password: testPassword,
		Role:     identity.RoleTenantUser,
	}, "admin")
	require.NoError(t, err)
	return ident
}

func loginAs(email string) LoginRequest {
	return LoginRequest{Email: email, Password: testPassword, IP: "10.0.0.1", UserAgent: "test"}
}
