// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

// Package rolestore persists role records, the source of truth for an
// identity's role. Records are mutated only through the role sync service;
// the resolver's slow path reads them.
package rolestore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates no role record exists for the identity.
var ErrNotFound = errors.New("role record not found")

// Record is the persistent role assignment for one identity.
type Record struct {
	IdentityID string    `json:"identity_id"`
	Role       string    `json:"role"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store is the role record storage interface.
type Store interface {
	// Get returns the record for an identity, or ErrNotFound.
	Get(ctx context.Context, identityID string) (Record, error)

	// Put creates or replaces the record for its identity.
	Put(ctx context.Context, rec Record) error

	// Delete removes the record for an identity. Deleting an absent
	// record is not an error.
	Delete(ctx context.Context, identityID string) error

	// Close releases underlying resources.
	Close() error
}
