// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

package authflow

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/viewgate/viewgate/internal/broadcast"
	"github.com/viewgate/viewgate/internal/logging"
	"github.com/viewgate/viewgate/internal/metrics"
	"github.com/viewgate/viewgate/internal/policy"
	"github.com/viewgate/viewgate/internal/resolver"
	"github.com/viewgate/viewgate/internal/token"
)

// IdentityProbe checks whether the caller is authenticated. It may
// suspend (the provider owns its own timeout) and must honor context
// cancellation. A nil identity with nil error means anonymous.
type IdentityProbe func(ctx context.Context, credential string) (*token.Identity, error)

// Config holds coordinator configuration.
type Config struct {
	// SignInURL is the redirect target for unauthenticated callers and
	// role mismatches without a per-role home.
	SignInURL string

	// RoleHomes optionally maps a role to its home surface; a role
	// mismatch redirects there instead of the sign-in page.
	RoleHomes map[string]string
}

// Outcome is the result of a navigation session handed to the transport
// layer. By the time an Outcome with DecisionAllow exists, the loading
// flag is already false: flag first, content second, never the reverse.
type Outcome struct {
	State    State
	Decision Decision
	Role     string
	Redirect string

	// cause is internal only; see Cause().
	cause Cause
}

// Cause exposes the internal denial cause for logging and metrics.
// Transport layers must not serialize it to clients.
func (o *Outcome) Cause() Cause {
	return o.cause
}

// Coordinator runs navigation sessions. It is the sole owner of the
// loading flag's generation sequence: each Navigate claims a fresh
// generation, which cancels the still-pending predecessor and strips it of
// write access before any new work starts.
type Coordinator struct {
	cfg      Config
	table    *policy.Table
	resolver *resolver.Resolver
	flag     *broadcast.Flag
	probe    IdentityProbe

	mu         sync.Mutex
	active     *Session
	cancelPrev context.CancelFunc
}

// NewCoordinator creates a coordinator over the policy table, resolver,
// and loading flag.
func NewCoordinator(cfg Config, table *policy.Table, res *resolver.Resolver, flag *broadcast.Flag, probe IdentityProbe) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		table:    table,
		resolver: res,
		flag:     flag,
		probe:    probe,
	}
}

// Navigate runs one authorization session for the target path and returns
// its outcome. Failure semantics are fail-closed: every failure resolves
// to a terminal DENY plus redirect, nothing propagates as a panic or
// renders as content.
func (c *Coordinator) Navigate(ctx context.Context, path, credential string) *Outcome {
	s, navCtx, cancel := c.begin(ctx, path)
	defer cancel()

	outcome := c.run(navCtx, s, credential)

	metricsDone(s, outcome)
	return outcome
}

// begin claims a fresh generation, cancels the still-pending predecessor,
// and registers the new session as the sole flag writer. Claim and
// registration happen in one critical section: two racing navigations
// must agree on which of them holds the newest generation, or the older
// one could cancel the newer and leave the flag with no live writer.
func (c *Coordinator) begin(ctx context.Context, path string) (*Session, context.Context, context.CancelFunc) {
	navCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	gen := c.flag.Claim()
	s := newSession(gen, path)
	if c.active != nil && !c.active.State().Terminal() && c.cancelPrev != nil {
		c.cancelPrev()
	}
	c.active = s
	c.cancelPrev = cancel
	c.mu.Unlock()

	return s, navCtx, cancel
}

func (c *Coordinator) run(ctx context.Context, s *Session, credential string) *Outcome {
	entry := c.table.Lookup(s.TargetPath)
	if entry == nil {
		// Public path: terminal ALLOW, flag drops immediately.
		s.to(StateAllow)
		s.Decision = DecisionAllow
		c.flag.Set(s.Generation, false)
		return &Outcome{State: StateAllow, Decision: DecisionAllow}
	}

	s.to(StateAuthPending)
	c.flag.Set(s.Generation, true)

	ident, err := c.probe(ctx, credential)
	if cancelled(ctx, c.flag, s.Generation) {
		return c.cancel(s)
	}
	if err != nil || ident == nil {
		return c.deny(ctx, s, CauseAuthInvalid, c.cfg.SignInURL, err)
	}
	s.IdentityPresent = true
	s.IdentityID = ident.ID

	s.to(StateRolePending)
	c.flag.Set(s.Generation, true)

	role, err := c.resolveWithRetry(ctx, ident)
	if cancelled(ctx, c.flag, s.Generation) {
		return c.cancel(s)
	}
	if err != nil {
		return c.deny(ctx, s, CauseRoleUnresolved, c.cfg.SignInURL, err)
	}
	s.RoleResolved = true
	s.Role = role

	if !entry.Allows(role) {
		return c.deny(ctx, s, CauseRoleMismatch, c.redirectForRole(role), nil)
	}

	// Flag down first, then the protected subtree may mount. Never the
	// reverse order.
	s.to(StateAllow)
	s.Decision = DecisionAllow
	c.flag.Set(s.Generation, false)
	logging.Ctx(ctx).Info().
		Str("path", s.TargetPath).
		Str("actor", s.IdentityID).
		Str("role", role).
		Dur("elapsed", s.Elapsed()).
		Msg("navigation allowed")
	return &Outcome{State: StateAllow, Decision: DecisionAllow, Role: role}
}

// resolveWithRetry performs the role fetch with exactly one bounded retry.
// Context cancellation aborts without a retry; any other second failure
// fails closed at the caller.
func (c *Coordinator) resolveWithRetry(ctx context.Context, ident *token.Identity) (string, error) {
	role, _, err := c.resolver.Resolve(ctx, ident)
	if err == nil {
		return role, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "", err
	}

	role, _, err = c.resolver.Resolve(ctx, ident)
	if err != nil {
		return "", err
	}
	return role, nil
}

// deny reaches the terminal DENY state: flag down and redirect issued in
// the same step, so the user perceives loader then redirect, never
// loader then content then redirect.
func (c *Coordinator) deny(ctx context.Context, s *Session, cause Cause, redirect string, err error) *Outcome {
	s.to(StateDeny)
	s.Decision = DecisionDeny
	c.flag.Set(s.Generation, false)

	var ev *zerolog.Event
	if cause == CauseRoleUnresolved {
		// Store unreachability is operationally actionable; mismatches
		// and anonymous hits are routine.
		ev = logging.Ctx(ctx).Error().Err(err)
	} else {
		ev = logging.Ctx(ctx).Info()
	}
	ev.Str("path", s.TargetPath).
		Str("actor", s.IdentityID).
		Str("cause", string(cause)).
		Str("redirect", redirect).
		Dur("elapsed", s.Elapsed()).
		Msg("navigation denied")

	return &Outcome{State: StateDeny, Decision: DecisionDeny, Redirect: redirect, cause: cause}
}

// cancel reaches the terminal CANCELLED state with zero flag mutations.
func (c *Coordinator) cancel(s *Session) *Outcome {
	s.to(StateCancelled)
	metrics.SessionsCancelledTotal.Inc()
	return &Outcome{State: StateCancelled, Decision: DecisionPending}
}

func (c *Coordinator) redirectForRole(role string) string {
	if home, ok := c.cfg.RoleHomes[role]; ok && home != "" {
		return home
	}
	return c.cfg.SignInURL
}

// cancelled reports whether the session has been superseded or its context
// cancelled. Checked after every suspension point, before any further flag
// mutation.
func cancelled(ctx context.Context, flag *broadcast.Flag, gen broadcast.Generation) bool {
	if ctx.Err() != nil {
		return true
	}
	return !flag.Current(gen)
}

func metricsDone(s *Session, o *Outcome) {
	if o.State == StateCancelled {
		return
	}
	metrics.RecordDecision(string(o.Decision), string(o.cause), s.Elapsed())
}
