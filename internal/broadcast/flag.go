// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

// Package broadcast implements the loading flag: a single process-wide
// boolean that the render layer obeys. True means the protected subtree
// must stay hidden behind the loader; false reveals it.
//
// Exactly one navigation session is authorized to write the flag at a
// time, enforced by a monotonic generation id rather than caller-visible
// locking. Claiming a new generation makes every earlier writer stale, so
// an out-of-order late completion of a superseded check can never set the
// final flag value. Subscriber notification is synchronous and never
// debounced: the first transition to false reveals content immediately.
package broadcast

import (
	"sync"

	"github.com/viewgate/viewgate/internal/metrics"
)

// Generation identifies the navigation session authorized to write the
// flag. Monotonic; zero is never issued.
type Generation uint64

// Subscriber receives flag transitions. Called synchronously with the
// flag's internal lock held; subscribers must not call back into the flag.
type Subscriber func(loading bool)

// Flag is the loading broadcast flag. The zero value is not usable; use
// NewFlag.
type Flag struct {
	mu      sync.Mutex
	value   bool
	current Generation
	subs    []subscription
	nextSub uint64
}

type subscription struct {
	id uint64
	fn Subscriber
}

// NewFlag creates the flag in its default state: loading (true).
// Default-true means nothing protected can render before the first
// session finishes its checks.
func NewFlag() *Flag {
	return &Flag{value: true}
}

// Get returns the current flag value. This is the only input the render
// layer may gate on.
func (f *Flag) Get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// Claim issues a new generation, making all earlier generations stale.
// Called once per navigation, before any other work for that navigation.
func (f *Flag) Claim() Generation {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current++
	return f.current
}

// Set writes the flag on behalf of a generation. Returns false without
// mutating anything when the generation is stale; superseded sessions
// cannot touch the flag. Setting the current value again is an accepted
// no-op (idempotent entry actions) and does not notify.
func (f *Flag) Set(gen Generation, loading bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if gen != f.current {
		metrics.StaleFlagWritesTotal.Inc()
		return false
	}
	if f.value == loading {
		return true
	}

	f.value = loading
	metrics.RecordFlagTransition(loading)
	for _, sub := range f.subs {
		sub.fn(loading)
	}
	return true
}

// Current reports whether the generation is still the authorized writer.
// Sessions check this after every suspension point before proceeding.
func (f *Flag) Current(gen Generation) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return gen == f.current
}

// Subscribe registers a synchronous subscriber and returns its removal
// function. The subscriber is invoked with the current value before the
// lock is released, so the snapshot and subsequent Set notifications
// reach it in value order: the last delivery always agrees with the flag.
func (f *Flag) Subscribe(sub Subscriber) (unsubscribe func()) {
	f.mu.Lock()
	f.nextSub++
	id := f.nextSub
	f.subs = append(f.subs, subscription{id: id, fn: sub})
	sub(f.value)
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, s := range f.subs {
			if s.id == id {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				return
			}
		}
	}
}
