// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

package rolestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// roleKeyPrefix namespaces role records in the shared BadgerDB.
const roleKeyPrefix = "role:"

// BadgerStore implements Store on BadgerDB for durable role records that
// survive restarts.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a BadgerDB at path and wraps it in a
// store. An empty path opens an in-memory database, used by tests.
func OpenBadger(path string) (*BadgerStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	// Badger's default logger writes unstructured lines to stderr.
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

// NewBadgerStore wraps an existing BadgerDB handle.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Get returns the record for an identity, or ErrNotFound.
func (s *BadgerStore) Get(ctx context.Context, identityID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(roleKeyPrefix + identityID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get role record: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Put creates or replaces the record for its identity.
func (s *BadgerStore) Put(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.IdentityID == "" {
		return errors.New("role record has empty identity id")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal role record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(roleKeyPrefix+rec.IdentityID), data); err != nil {
			return fmt.Errorf("set role record: %w", err)
		}
		return nil
	})
}

// Delete removes the record for an identity.
func (s *BadgerStore) Delete(ctx context.Context, identityID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(roleKeyPrefix + identityID)); err != nil {
			return fmt.Errorf("delete role record: %w", err)
		}
		return nil
	})
}

// RunGC runs badger value-log garbage collection on the given interval
// until the context is cancelled. badger.ErrNoRewrite means there was
// nothing to reclaim and is not an error.
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for {
				err := s.db.RunValueLogGC(0.5)
				if errors.Is(err, badger.ErrNoRewrite) {
					break
				}
				if err != nil {
					return fmt.Errorf("badger value log gc: %w", err)
				}
			}
		}
	}
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
