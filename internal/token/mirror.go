// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

package token

import (
	"context"
	"sync"
	"time"
)

// Mirror is the process-local claims mirror: the cached role claim per
// identity, stamped with mint time. The role resolver's fast path reads it;
// the role sync service rewrites it after record updates; sign-out
// invalidates it.
//
// Entries older than the claim TTL are treated as absent, which bounds how
// long a stale claim can outlive a role change. A stale entry can be
// observed at most until its TTL elapses, after which the slow path
// re-derives the role from the record store.
type Mirror struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]mirrorEntry

	// now is swappable for TTL tests.
	now func() time.Time
}

type mirrorEntry struct {
	role     string
	mintedAt time.Time
}

// NewMirror creates a claims mirror with the given claim TTL.
func NewMirror(ttl time.Duration) *Mirror {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Mirror{
		ttl:     ttl,
		entries: make(map[string]mirrorEntry),
		now:     time.Now,
	}
}

// Get returns the mirrored role for an identity. ok is false when the
// entry is absent, invalidated, or older than the claim TTL.
func (m *Mirror) Get(identityID string) (role string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, found := m.entries[identityID]
	if !found {
		return "", false
	}
	if m.now().Sub(e.mintedAt) >= m.ttl {
		return "", false
	}
	return e.role, true
}

// Set writes the mirrored role for an identity, minted now. Context is
// accepted for interface parity with remote mirrors; the local mirror
// never blocks.
func (m *Mirror) Set(ctx context.Context, identityID, role string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[identityID] = mirrorEntry{role: role, mintedAt: m.now()}
	return nil
}

// Seed installs a role claim carried by a verified token, stamped with the
// token's issue time. An existing newer entry wins; seeding never moves a
// claim backward in time.
func (m *Mirror) Seed(identityID, role string, mintedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, found := m.entries[identityID]; found && !e.mintedAt.Before(mintedAt) {
		return
	}
	m.entries[identityID] = mirrorEntry{role: role, mintedAt: mintedAt}
}

// Invalidate drops the mirrored claim for an identity. Used on sign-out
// and identity deletion; the next resolve takes the slow path.
func (m *Mirror) Invalidate(identityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, identityID)
}

// SetClock overrides the mirror's clock. Test hook.
func (m *Mirror) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
