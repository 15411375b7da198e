// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

package rolestore

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and ephemeral deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record

	// FailGets forces Get to return FailErr while set. Test hook for
	// exercising fail-closed behavior upstream.
	FailGets bool
	FailErr  error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Get returns the record for an identity, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, identityID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailGets {
		return Record{}, s.FailErr
	}
	rec, ok := s.records[identityID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Put creates or replaces the record for its identity.
func (s *MemoryStore) Put(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.IdentityID] = rec
	return nil
}

// Delete removes the record for an identity.
func (s *MemoryStore) Delete(ctx context.Context, identityID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, identityID)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// SetFailure toggles forced Get failures. Test hook.
func (s *MemoryStore) SetFailure(fail bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailGets = fail
	s.FailErr = err
}
