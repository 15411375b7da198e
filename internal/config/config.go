// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

// Package config loads layered configuration for Viewgate: struct
// defaults, then an optional YAML file, then environment variables.
// Malformed configuration aborts startup; there is no runtime fallback.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/viewgate/viewgate/internal/logging"
	"github.com/viewgate/viewgate/internal/policy"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig         `koanf:"server"`
	Auth     AuthConfig           `koanf:"auth"`
	Resolver ResolverConfig       `koanf:"resolver"`
	Sync     SyncConfig           `koanf:"sync"`
	Store    StoreConfig          `koanf:"store"`
	Log      logging.Config       `koanf:"log"`
	Policy   []policy.EntryConfig `koanf:"policy"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimit       int           `koanf:"rate_limit"`
	RateWindow      time.Duration `koanf:"rate_window"`
}

// AuthConfig holds token and redirect settings.
type AuthConfig struct {
	// TokenSecret signs session tokens. Minimum 32 characters.
	TokenSecret string `koanf:"token_secret" validate:"required,min=32"`

	// TokenTTL is the session token lifetime.
	TokenTTL time.Duration `koanf:"token_ttl"`

	// SignInURL is the redirect target for unauthenticated callers.
	SignInURL string `koanf:"sign_in_url" validate:"required"`

	// RoleHomes optionally maps a role to its home surface for
	// role-mismatch redirects.
	RoleHomes map[string]string `koanf:"role_homes"`
}

// ResolverConfig holds role resolver tuning.
type ResolverConfig struct {
	// ClaimTTL bounds how long a mirrored role claim may be served
	// without consulting the record store.
	ClaimTTL time.Duration `koanf:"claim_ttl"`

	// FetchTimeout bounds a single slow-path store fetch.
	FetchTimeout time.Duration `koanf:"fetch_timeout"`

	// DefaultRole is assigned on first-touch provisioning.
	DefaultRole string `koanf:"default_role" validate:"required"`

	// BreakerThreshold opens the store circuit breaker after this many
	// consecutive failures.
	BreakerThreshold uint32 `koanf:"breaker_threshold"`
}

// SyncConfig holds role sync service tuning.
type SyncConfig struct {
	KnownRoles         []string      `koanf:"known_roles" validate:"required,min=1"`
	MirrorRetryInitial time.Duration `koanf:"mirror_retry_initial"`
	MirrorRetryElapsed time.Duration `koanf:"mirror_retry_elapsed"`
}

// StoreConfig holds role record store settings.
type StoreConfig struct {
	// Path is the BadgerDB directory. Empty means in-memory.
	Path string `koanf:"path"`
}

// Default returns the configuration defaults applied before file and
// environment overrides.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8480,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       100,
			RateWindow:      time.Minute,
		},
		Auth: AuthConfig{
			TokenTTL:  24 * time.Hour,
			SignInURL: "/signin",
		},
		Resolver: ResolverConfig{
			ClaimTTL:         5 * time.Minute,
			FetchTimeout:     2 * time.Second,
			DefaultRole:      "student",
			BreakerThreshold: 5,
		},
		Sync: SyncConfig{
			KnownRoles:         []string{"admin", "teacher", "student", "parent"},
			MirrorRetryInitial: 100 * time.Millisecond,
			MirrorRetryElapsed: 30 * time.Second,
		},
		Log: logging.DefaultConfig(),
		Policy: []policy.EntryConfig{
			{PathPrefix: "/admin", AllowedRoles: []string{"admin"}},
			{PathPrefix: "/teacher", AllowedRoles: []string{"teacher"}},
			{PathPrefix: "/student", AllowedRoles: []string{"student"}},
			{PathPrefix: "/parent", AllowedRoles: []string{"parent"}},
		},
	}
}

var validate = validator.New()

// Validate checks the configuration. The policy table itself is validated
// separately by policy.NewTable; both must pass before startup proceeds.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := policy.NewTable(c.Policy); err != nil {
		return fmt.Errorf("invalid policy configuration: %w", err)
	}

	known := make(map[string]struct{}, len(c.Sync.KnownRoles))
	for _, r := range c.Sync.KnownRoles {
		known[r] = struct{}{}
	}
	if _, ok := known[c.Resolver.DefaultRole]; !ok {
		return fmt.Errorf("default role %q is not in sync.known_roles", c.Resolver.DefaultRole)
	}
	for _, entry := range c.Policy {
		for _, role := range entry.AllowedRoles {
			if _, ok := known[role]; !ok {
				return fmt.Errorf("policy entry %q allows unknown role %q", entry.PathPrefix, role)
			}
		}
	}
	return nil
}
