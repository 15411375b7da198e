// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

// Package main is the entry point for the Viewgate server.
//
// Viewgate decides, per navigation, whether the caller may see a
// protected surface. An edge gate redirects anonymous hits before any
// work happens; authenticated navigations run a per-session state
// machine that resolves the caller's role, checks it against the route
// policy table, and drives a single loading flag the render layer
// subscribes to. Failure semantics are fail-closed throughout: an
// unresolvable role is a denial, never a pass.
//
// Startup order:
//
//  1. Configuration: koanf layering of defaults, YAML file, environment
//  2. Policy table: parsed and validated; ambiguity aborts startup
//  3. Role record store: BadgerDB (or in-memory when no path is set)
//  4. Resolver, coordinator, role sync, identity event router
//  5. Supervisor tree: event router and HTTP server under suture
//
// Graceful shutdown on SIGINT/SIGTERM drains in-flight requests, stops
// the router, and closes the store.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/viewgate/viewgate/internal/api"
	"github.com/viewgate/viewgate/internal/authflow"
	"github.com/viewgate/viewgate/internal/broadcast"
	"github.com/viewgate/viewgate/internal/config"
	"github.com/viewgate/viewgate/internal/events"
	"github.com/viewgate/viewgate/internal/gate"
	"github.com/viewgate/viewgate/internal/logging"
	"github.com/viewgate/viewgate/internal/policy"
	"github.com/viewgate/viewgate/internal/resolver"
	"github.com/viewgate/viewgate/internal/rolestore"
	"github.com/viewgate/viewgate/internal/rolesync"
	"github.com/viewgate/viewgate/internal/supervisor"
	"github.com/viewgate/viewgate/internal/token"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logging is not configured yet; write to stderr and exit.
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.Init(cfg.Log)
	logging.Info().Str("version", version).Msg("Starting Viewgate")

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Server failed")
	}
	logging.Info().Msg("Stopped gracefully")
}

func run(cfg *config.Config) error {
	table, err := policy.NewTable(cfg.Policy)
	if err != nil {
		// Validate already checked this; a failure here means the config
		// changed between load and run.
		return fmt.Errorf("policy table: %w", err)
	}
	logging.Info().Int("entries", len(cfg.Policy)).Msg("Policy table loaded")

	tokens, err := token.NewManager(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("token manager: %w", err)
	}

	store, err := rolestore.OpenBadger(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("role store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Closing role store")
		}
	}()
	if cfg.Store.Path == "" {
		logging.Warn().Msg("Role store is in-memory; records will not survive restart")
	} else {
		logging.Info().Str("path", cfg.Store.Path).Msg("Role store opened")
	}

	mirror := token.NewMirror(cfg.Resolver.ClaimTTL)
	res := resolver.New(resolver.Config{
		DefaultRole:      cfg.Resolver.DefaultRole,
		FetchTimeout:     cfg.Resolver.FetchTimeout,
		BreakerThreshold: cfg.Resolver.BreakerThreshold,
	}, store, mirror)

	flag := broadcast.NewFlag()

	probe := func(ctx context.Context, credential string) (*token.Identity, error) {
		if credential == "" {
			return nil, nil
		}
		ident, err := tokens.Verify(credential)
		if err != nil {
			// Malformed and expired tokens are anonymous, not errors.
			if errors.Is(err, token.ErrTokenExpired) || errors.Is(err, token.ErrTokenInvalid) {
				return nil, nil
			}
			return nil, err
		}
		return ident, nil
	}

	coord := authflow.NewCoordinator(authflow.Config{
		SignInURL: cfg.Auth.SignInURL,
		RoleHomes: cfg.Auth.RoleHomes,
	}, table, res, flag, probe)

	sync := rolesync.New(rolesync.Config{
		DefaultRole:        cfg.Resolver.DefaultRole,
		KnownRoles:         cfg.Sync.KnownRoles,
		MirrorRetryInitial: cfg.Sync.MirrorRetryInitial,
		MirrorRetryElapsed: cfg.Sync.MirrorRetryElapsed,
	}, store, mirror)

	bus := events.NewBus()
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Closing event bus")
		}
	}()

	router, err := events.NewRouter(bus, sync.HandleIdentityEvent)
	if err != nil {
		return fmt.Errorf("event router: %w", err)
	}

	edge := gate.New(table, gate.ManagerProbe(tokens), cfg.Auth.SignInURL)

	srv := api.NewServer(api.Config{
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimit:   cfg.Server.RateLimit,
		RateWindow:  cfg.Server.RateWindow,
	}, coord, res, sync, bus, edge, flag, tokens)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddMessagingService(supervisor.NewRouterService(router))
	tree.AddMessagingService(supervisor.NewMaintenanceService("rolesync-mirror-retry", sync.RunMirrorRetries))
	if cfg.Store.Path != "" {
		tree.AddMessagingService(supervisor.NewMaintenanceService("rolestore-gc", func(ctx context.Context) error {
			return store.RunGC(ctx, 5*time.Minute)
		}))
	}
	tree.AddAPIService(supervisor.NewHTTPService(httpServer, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", addr).Msg("HTTP server service added")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}
	return nil
}
