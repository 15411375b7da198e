// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

// Package resolver maps an authenticated identity to its role.
//
// The fast path reads the claims mirror (role embedded in the session
// token, subject to the claim TTL). The slow path queries the role record
// store behind a circuit breaker; an absent record triggers first-touch
// provisioning with the least-privileged default role. Which path served a
// resolution is observational only and never changes the outcome.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/viewgate/viewgate/internal/logging"
	"github.com/viewgate/viewgate/internal/metrics"
	"github.com/viewgate/viewgate/internal/rolestore"
	"github.com/viewgate/viewgate/internal/token"
)

// Source identifies which resolver path served a resolution.
type Source string

const (
	// SourceFast means the role came from the claims mirror.
	SourceFast Source = "fast"

	// SourceSlow means the role came from the record store.
	SourceSlow Source = "slow"
)

// ErrUnresolved indicates the store was unreachable and no role could be
// derived. Callers fail closed.
var ErrUnresolved = errors.New("role unresolved")

// Config holds resolver tuning.
type Config struct {
	// DefaultRole is assigned on first-touch provisioning.
	// Least-privileged by convention.
	DefaultRole string

	// FetchTimeout bounds a single slow-path store fetch.
	FetchTimeout time.Duration

	// BreakerThreshold is the consecutive-failure count that opens the
	// store circuit breaker.
	BreakerThreshold uint32
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultRole:      "student",
		FetchTimeout:     2 * time.Second,
		BreakerThreshold: 5,
	}
}

// Resolver resolves identities to roles.
type Resolver struct {
	cfg     Config
	store   rolestore.Store
	mirror  *token.Mirror
	breaker *gobreaker.CircuitBreaker[rolestore.Record]
}

// New creates a resolver over the given record store and claims mirror.
func New(cfg Config, store rolestore.Store, mirror *token.Mirror) *Resolver {
	if cfg.DefaultRole == "" {
		cfg.DefaultRole = "student"
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 2 * time.Second
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}

	breaker := gobreaker.NewCircuitBreaker[rolestore.Record](gobreaker.Settings{
		Name: "rolestore",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("role store circuit breaker state change")
		},
	})

	return &Resolver{cfg: cfg, store: store, mirror: mirror, breaker: breaker}
}

// Resolve returns the role for an authenticated identity.
//
// The token's embedded role claim is seeded into the mirror first, so a
// fresh token serves the fast path without a store hit. A mirror miss
// (absent, expired, or invalidated claim) falls through to the store;
// an absent record is provisioned with the default role rather than
// denied. Store errors surface as ErrUnresolved; the caller owns retry
// and fail-closed semantics.
func (r *Resolver) Resolve(ctx context.Context, ident *token.Identity) (string, Source, error) {
	if ident == nil || ident.ID == "" {
		return "", "", errors.New("resolve: nil identity")
	}

	if ident.Role != "" && !ident.IssuedAt.IsZero() {
		r.mirror.Seed(ident.ID, ident.Role, ident.IssuedAt)
	}

	if role, ok := r.mirror.Get(ident.ID); ok {
		metrics.RecordResolverLookup(string(SourceFast))
		return role, SourceFast, nil
	}

	role, err := r.resolveSlow(ctx, ident.ID)
	if err != nil {
		return "", SourceSlow, err
	}
	metrics.RecordResolverLookup(string(SourceSlow))
	return role, SourceSlow, nil
}

func (r *Resolver) resolveSlow(ctx context.Context, identityID string) (string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	rec, err := r.breaker.Execute(func() (rolestore.Record, error) {
		rec, err := r.store.Get(fetchCtx, identityID)
		if errors.Is(err, rolestore.ErrNotFound) {
			// Absent is a valid answer, not a store failure; it must not
			// trip the breaker. Signalled by the empty identity id.
			return rolestore.Record{}, nil
		}
		return rec, err
	})
	if err != nil {
		// Cancellation must be distinguishable from store failure so the
		// state machine can transition to CANCELLED instead of DENY.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %w", ErrUnresolved, err)
	}

	if rec.IdentityID == "" {
		return r.provision(fetchCtx, identityID)
	}

	if err := r.mirror.Set(ctx, identityID, rec.Role); err != nil {
		return "", err
	}
	return rec.Role, nil
}

// provision creates a least-privileged role record on first touch and
// mirrors it to claims. First access never denies solely because
// provisioning has not happened.
func (r *Resolver) provision(ctx context.Context, identityID string) (string, error) {
	rec := rolestore.Record{
		IdentityID: identityID,
		Role:       r.cfg.DefaultRole,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := r.store.Put(ctx, rec); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: provision: %w", ErrUnresolved, err)
	}
	if err := r.mirror.Set(ctx, identityID, rec.Role); err != nil {
		return "", err
	}

	metrics.ProvisionsTotal.Inc()
	logging.Ctx(ctx).Info().
		Str("identity_id", identityID).
		Str("role", rec.Role).
		Msg("first-touch role provisioned")
	return rec.Role, nil
}

// Invalidate drops the mirrored claim for an identity, forcing the next
// resolve onto the slow path. Called on sign-out and role deletion.
func (r *Resolver) Invalidate(identityID string) {
	r.mirror.Invalidate(identityID)
}
