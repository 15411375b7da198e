// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

// Package authflow implements the per-navigation authorization state
// machine. One session is created per navigation; it consults the route
// policy table and the role resolver, and drives the loading flag that the
// render layer obeys. The render layer gates solely on the flag value,
// never on the presence of a session instance.
package authflow

import (
	"time"

	"github.com/viewgate/viewgate/internal/broadcast"
)

// State is a state of the authorization state machine.
type State string

const (
	StateInit        State = "INIT"
	StateAuthPending State = "AUTH_PENDING"
	StateRolePending State = "ROLE_PENDING"
	StateAllow       State = "ALLOW"
	StateDeny        State = "DENY"
	StateCancelled   State = "CANCELLED"
)

// Terminal reports whether the state is terminal.
func (s State) Terminal() bool {
	switch s {
	case StateAllow, StateDeny, StateCancelled:
		return true
	}
	return false
}

// Decision is the session's authorization decision.
type Decision string

const (
	DecisionPending Decision = "PENDING"
	DecisionAllow   Decision = "ALLOW"
	DecisionDeny    Decision = "DENY"
)

// Session is the ephemeral per-navigation record. It is created at
// navigation start and reaches exactly one terminal state; a session
// superseded by a newer navigation ends CANCELLED and never mutates the
// loading flag again.
type Session struct {
	Generation      broadcast.Generation
	TargetPath      string
	IdentityPresent bool
	IdentityID      string
	RoleResolved    bool
	Role            string
	Decision        Decision

	state   State
	started time.Time
	history []State
}

func newSession(gen broadcast.Generation, path string) *Session {
	s := &Session{
		Generation: gen,
		TargetPath: path,
		Decision:   DecisionPending,
		state:      StateInit,
		started:    time.Now(),
		history:    []State{StateInit},
	}
	return s
}

func (s *Session) to(next State) {
	s.state = next
	s.history = append(s.history, next)
}

// State returns the session's current state.
func (s *Session) State() State {
	return s.state
}

// History returns the sequence of states the session passed through.
func (s *Session) History() []State {
	out := make([]State, len(s.history))
	copy(out, s.history)
	return out
}

// Elapsed returns time since the session started.
func (s *Session) Elapsed() time.Duration {
	return time.Since(s.started)
}
