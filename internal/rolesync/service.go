// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

// Package rolesync propagates role changes into both the persistent role
// record store and the claims mirror. The record write is authoritative;
// a failed mirror write is retried with backoff and, in the worst case,
// the inconsistency window is bounded by the claim TTL, after which the
// resolver's slow path re-derives the correct role.
package rolesync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/viewgate/viewgate/internal/events"
	"github.com/viewgate/viewgate/internal/logging"
	"github.com/viewgate/viewgate/internal/metrics"
	"github.com/viewgate/viewgate/internal/rolestore"
)

// ErrUnknownRole indicates an update with a role outside the configured set.
var ErrUnknownRole = errors.New("unknown role")

// ClaimsMirror is the claims-side write interface. The in-process mirror
// never fails, but the interface admits remote mirrors that can.
type ClaimsMirror interface {
	Set(ctx context.Context, identityID, role string) error
	Invalidate(identityID string)
}

// Config holds role sync tuning.
type Config struct {
	// DefaultRole is assigned to newly created identities without an
	// explicit role attribute.
	DefaultRole string

	// KnownRoles is the set of roles updates may assign.
	KnownRoles []string

	// MirrorRetryInitial is the first retry interval for mirror writes.
	MirrorRetryInitial time.Duration

	// MirrorRetryElapsed bounds total mirror retry time. Keep it below
	// the claim TTL; past that the TTL converges on its own.
	MirrorRetryElapsed time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultRole:        "student",
		KnownRoles:         []string{"admin", "teacher", "student", "parent"},
		MirrorRetryInitial: 100 * time.Millisecond,
		MirrorRetryElapsed: 30 * time.Second,
	}
}

// Service is the role sync service.
type Service struct {
	cfg     Config
	store   rolestore.Store
	mirror  ClaimsMirror
	known   map[string]struct{}
	retries chan mirrorWrite
}

// mirrorWrite is a claims-mirror write handed to the retry worker after
// the synchronous attempt failed.
type mirrorWrite struct {
	identityID string
	role       string
}

// New creates a role sync service over the record store and claims mirror.
func New(cfg Config, store rolestore.Store, mirror ClaimsMirror) *Service {
	if cfg.DefaultRole == "" {
		cfg.DefaultRole = "student"
	}
	if cfg.MirrorRetryInitial <= 0 {
		cfg.MirrorRetryInitial = 100 * time.Millisecond
	}
	if cfg.MirrorRetryElapsed <= 0 {
		cfg.MirrorRetryElapsed = 30 * time.Second
	}
	known := make(map[string]struct{}, len(cfg.KnownRoles))
	for _, r := range cfg.KnownRoles {
		known[r] = struct{}{}
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		mirror:  mirror,
		known:   known,
		retries: make(chan mirrorWrite, 256),
	}
}

// Update writes the role record and the claims mirror as one logical
// operation. Privileged callers only; the API layer enforces that. The
// record write is the success criterion: once it lands, a mirror failure
// degrades to a bounded staleness window rather than failing the update.
func (s *Service) Update(ctx context.Context, identityID, newRole string) (rolestore.Record, error) {
	if identityID == "" {
		return rolestore.Record{}, errors.New("update: empty identity id")
	}
	if len(s.known) > 0 {
		if _, ok := s.known[newRole]; !ok {
			return rolestore.Record{}, fmt.Errorf("%w: %q", ErrUnknownRole, newRole)
		}
	}

	rec := rolestore.Record{
		IdentityID: identityID,
		Role:       newRole,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := s.store.Put(ctx, rec); err != nil {
		return rolestore.Record{}, fmt.Errorf("write role record: %w", err)
	}

	s.writeMirror(ctx, identityID, newRole)
	return rec, nil
}

// writeMirror attempts the claims-mirror write once and hands a failure
// to the retry worker, so callers are never held for the backoff window.
// When the retry queue is full the entry is invalidated immediately; the
// slow path will re-derive the role on the next resolve.
func (s *Service) writeMirror(ctx context.Context, identityID, role string) {
	err := s.mirror.Set(ctx, identityID, role)
	if err == nil {
		return
	}
	select {
	case s.retries <- mirrorWrite{identityID: identityID, role: role}:
		logging.Ctx(ctx).Warn().Err(err).
			Str("identity_id", identityID).
			Msg("claims mirror write failed; queued for retry")
	default:
		s.mirror.Invalidate(identityID)
		logging.Ctx(ctx).Error().Err(err).
			Str("identity_id", identityID).
			Msg("claims mirror retry queue full; mirror invalidated, slow path will re-derive")
	}
}

// RunMirrorRetries drains failed claims-mirror writes, retrying each with
// exponential backoff. It blocks until ctx is cancelled and is meant to
// run under the supervision tree alongside the event router.
func (s *Service) RunMirrorRetries(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case w := <-s.retries:
			s.mirrorWithRetry(ctx, w.identityID, w.role)
		}
	}
}

// mirrorWithRetry pushes the role into the claims mirror, retrying with
// exponential backoff. On exhaustion the mirror entry is invalidated so
// the next resolve takes the slow path instead of serving the stale claim
// for the full TTL. Every attempt here is a retry: the synchronous write
// already failed before the work was queued.
func (s *Service) mirrorWithRetry(ctx context.Context, identityID, role string) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.MirrorRetryInitial
	bo.MaxElapsedTime = s.cfg.MirrorRetryElapsed

	attempt := 0
	err := backoff.Retry(func() error {
		metrics.RoleSyncRetriesTotal.Inc()
		attempt++
		return s.mirror.Set(ctx, identityID, role)
	}, backoff.WithContext(bo, ctx))

	if err != nil {
		s.mirror.Invalidate(identityID)
		logging.Ctx(ctx).Error().Err(err).
			Str("identity_id", identityID).
			Int("attempts", attempt).
			Msg("claims mirror write failed; mirror invalidated, slow path will re-derive")
	}
}

// HandleIdentityEvent applies one identity lifecycle notification to the
// role record store and the claims mirror.
func (s *Service) HandleIdentityEvent(ctx context.Context, ev *events.IdentityEvent) error {
	switch ev.Type {
	case events.IdentityCreated:
		return s.handleCreated(ctx, ev)
	case events.IdentityUpdated:
		return s.handleUpdated(ctx, ev)
	case events.IdentityDeleted:
		if err := s.store.Delete(ctx, ev.IdentityID); err != nil {
			return fmt.Errorf("delete role record: %w", err)
		}
		s.mirror.Invalidate(ev.IdentityID)
		return nil
	default:
		return fmt.Errorf("unhandled identity event type %q", ev.Type)
	}
}

func (s *Service) handleCreated(ctx context.Context, ev *events.IdentityEvent) error {
	// An existing record wins over a replayed creation event.
	if _, err := s.store.Get(ctx, ev.IdentityID); err == nil {
		return nil
	} else if !errors.Is(err, rolestore.ErrNotFound) {
		return fmt.Errorf("check existing record: %w", err)
	}

	role := s.cfg.DefaultRole
	if r, ok := ev.Attributes["role"]; ok && r != "" {
		if _, known := s.known[r]; known || len(s.known) == 0 {
			role = r
		}
	}
	_, err := s.Update(ctx, ev.IdentityID, role)
	return err
}

func (s *Service) handleUpdated(ctx context.Context, ev *events.IdentityEvent) error {
	if r, ok := ev.Attributes["role"]; ok && r != "" {
		_, err := s.Update(ctx, ev.IdentityID, r)
		return err
	}

	// No role change: refresh the mirror from the record so attribute
	// updates do not extend a stale claim.
	rec, err := s.store.Get(ctx, ev.IdentityID)
	if errors.Is(err, rolestore.ErrNotFound) {
		return s.handleCreated(ctx, ev)
	}
	if err != nil {
		return fmt.Errorf("read role record: %w", err)
	}
	s.writeMirror(ctx, ev.IdentityID, rec.Role)
	return nil
}
