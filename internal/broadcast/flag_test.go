// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

package broadcast

import (
	"sync"
	"testing"
)

func TestFlagDefaultsToLoading(t *testing.T) {
	f := NewFlag()
	if !f.Get() {
		t.Error("new flag must default to loading=true")
	}
}

func TestSetRequiresCurrentGeneration(t *testing.T) {
	f := NewFlag()
	old := f.Claim()
	newer := f.Claim()

	if f.Set(old, false) {
		t.Error("stale generation must not be allowed to write")
	}
	if !f.Get() {
		t.Error("stale write must not mutate the flag")
	}

	if !f.Set(newer, false) {
		t.Error("current generation write should succeed")
	}
	if f.Get() {
		t.Error("flag should be false after current-generation write")
	}
}

func TestSetIdempotent(t *testing.T) {
	f := NewFlag()
	gen := f.Claim()

	notifications := 0
	f.Subscribe(func(bool) { notifications++ })
	notifications = 0 // discard the initial snapshot delivery

	// Flag starts true; setting true again must not notify.
	if !f.Set(gen, true) {
		t.Error("idempotent write should be accepted")
	}
	if notifications != 0 {
		t.Errorf("idempotent write notified %d times, want 0", notifications)
	}

	if !f.Set(gen, false) {
		t.Error("transition write should be accepted")
	}
	if notifications != 1 {
		t.Errorf("transition notified %d times, want 1", notifications)
	}
}

func TestSubscribeDeliversCurrentValue(t *testing.T) {
	f := NewFlag()
	var got []bool
	f.Subscribe(func(v bool) { got = append(got, v) })

	if len(got) != 1 || got[0] != true {
		t.Errorf("initial delivery = %v, want [true]", got)
	}
}

func TestSubscriberSeesTransitionsInOrder(t *testing.T) {
	f := NewFlag()
	gen := f.Claim()

	var seen []bool
	f.Subscribe(func(v bool) { seen = append(seen, v) })

	f.Set(gen, false)
	f.Set(gen, true)
	f.Set(gen, false)

	want := []bool{true, false, true, false}
	if len(seen) != len(want) {
		t.Fatalf("seen %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen %v, want %v", seen, want)
		}
	}
}

// TestSubscribeSnapshotNotReorderedWithConcurrentSet: the initial
// snapshot and a racing Set must reach the subscriber in value order;
// the last delivery always agrees with the flag, in particular a
// subscriber must never end on loading=false while the flag is true.
func TestSubscribeSnapshotNotReorderedWithConcurrentSet(t *testing.T) {
	for i := 0; i < 10000; i++ {
		f := NewFlag()
		gen := f.Claim()
		f.Set(gen, false)

		var mu sync.Mutex
		var seen []bool

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.Set(gen, true)
		}()
		unsub := f.Subscribe(func(v bool) {
			mu.Lock()
			seen = append(seen, v)
			mu.Unlock()
		})
		wg.Wait()
		unsub()

		last := seen[len(seen)-1]
		if last != f.Get() {
			t.Fatalf("iteration %d: subscriber last saw loading=%v but flag is %v (%d deliveries)",
				i, last, f.Get(), len(seen))
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	f := NewFlag()
	gen := f.Claim()

	count := 0
	unsub := f.Subscribe(func(bool) { count++ })
	unsub()
	count = 0

	f.Set(gen, false)
	if count != 0 {
		t.Errorf("unsubscribed subscriber received %d notifications", count)
	}
}

func TestCurrentReportsStaleness(t *testing.T) {
	f := NewFlag()
	a := f.Claim()
	if !f.Current(a) {
		t.Error("freshly claimed generation should be current")
	}
	b := f.Claim()
	if f.Current(a) {
		t.Error("superseded generation should not be current")
	}
	if !f.Current(b) {
		t.Error("newest generation should be current")
	}
}
