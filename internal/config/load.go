// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, first hit wins.
var DefaultConfigPaths = []string{
	"viewgate.yaml",
	"viewgate.yml",
	"/etc/viewgate/config.yaml",
	"/etc/viewgate/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "VIEWGATE_CONFIG"

// envPrefix is stripped from environment variables before mapping.
const envPrefix = "VIEWGATE_"

// Load builds the configuration from defaults, an optional YAML file, and
// VIEWGATE_* environment variables, in that precedence order, then
// validates it.
func Load() (*Config, error) {
	return loadFrom(findConfigFile())
}

// LoadFile loads from an explicit file path plus environment overrides.
func LoadFile(path string) (*Config, error) {
	return loadFrom(path)
}

func loadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %q: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		return envPath
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransform maps VIEWGATE_* environment variables to config paths.
// Multi-word leaf keys make a naive underscore-to-dot split ambiguous, so
// the known variables are mapped explicitly; unknown variables are
// ignored rather than guessed at.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	mappings := map[string]string{
		"server_host":             "server.host",
		"server_port":             "server.port",
		"server_read_timeout":     "server.read_timeout",
		"server_write_timeout":    "server.write_timeout",
		"server_shutdown_timeout": "server.shutdown_timeout",
		"server_cors_origins":     "server.cors_origins",
		"server_rate_limit":       "server.rate_limit",
		"server_rate_window":      "server.rate_window",

		"token_secret": "auth.token_secret",
		"token_ttl":    "auth.token_ttl",
		"sign_in_url":  "auth.sign_in_url",

		"claim_ttl":         "resolver.claim_ttl",
		"fetch_timeout":     "resolver.fetch_timeout",
		"default_role":      "resolver.default_role",
		"breaker_threshold": "resolver.breaker_threshold",

		"known_roles":          "sync.known_roles",
		"mirror_retry_initial": "sync.mirror_retry_initial",
		"mirror_retry_elapsed": "sync.mirror_retry_elapsed",

		"store_path": "store.path",

		"log_level":  "log.level",
		"log_format": "log.format",
		"log_caller": "log.caller",
	}

	if mapped, ok := mappings[key]; ok {
		return mapped
	}
	return ""
}
