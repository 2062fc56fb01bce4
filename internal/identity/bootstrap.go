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

package identity

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/opentrusty/tenantcore/internal/audit"
)

const (
	EnvBootstrapAdminEmail    = "TC_BOOTSTRAP_ADMIN_EMAIL"
	EnvBootstrapAdminPassword = "TC_BOOTSTRAP_ADMIN_PASSWORD"
)

// BootstrapService creates the first platform administrator
type BootstrapService struct {
	identityService *Service
	auditLogger     audit.Logger
}

// NewBootstrapService creates a new bootstrap service
func NewBootstrapService(identityService *Service, auditLogger audit.Logger) *BootstrapService {
	return &BootstrapService{
		identityService: identityService,
		auditLogger:     auditLogger,
	}
}

// BootstrapFromEnv runs Bootstrap with the credentials in the
// environment. It is a no-op when they are absent.
func (s *BootstrapService) BootstrapFromEnv(ctx context.Context, repo Repository) error {
	email := os.Getenv(EnvBootstrapAdminEmail)
	password := os.Getenv(EnvBootstrapAdminPassword)
	if email == "" || password == "" {
		return nil
	}
	_, err := s.Bootstrap(ctx, repo, email, password)
	return err
}

// Bootstrap provisions a platform administrator in repo, which must be
// bound to the platform namespace. It does nothing and returns false if
// any platform administrator already exists.
func (s *BootstrapService) Bootstrap(ctx context.Context, repo Repository, email, password string) (bool, error) {
	count, err := repo.CountByRole(ctx, RolePlatformAdmin)
	if err != nil {
		return false, fmt.Errorf("failed to check for existing platform admin: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	ident, err := s.identityService.Provision(ctx, repo, NewIdentity{
		Email:         email,
		Password:      password,
		Role:          RolePlatformAdmin,
		EmailVerified: true,
	}, audit.ActorSystemBootstrap)
	if err != nil {
		return false, fmt.Errorf("failed to provision platform admin during bootstrap: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypePlatformBootstrap,
		ActorID:  audit.ActorSystemBootstrap,
		Resource: audit.ResourcePlatform,
		Metadata: map[string]any{
			audit.AttrEmail: ident.Email,
			audit.AttrRole:  string(ident.Role),
		},
	})

	slog.InfoContext(ctx, "bootstrapped initial platform admin", slog.String("identity_id", ident.ID))
	return true, nil
}
