// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

package events

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestIdentityEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		ev      IdentityEvent
		wantErr bool
	}{
		{"valid created", IdentityEvent{Type: IdentityCreated, IdentityID: "u1"}, false},
		{"valid deleted", IdentityEvent{Type: IdentityDeleted, IdentityID: "u1"}, false},
		{"unknown type", IdentityEvent{Type: "renamed", IdentityID: "u1"}, true},
		{"missing id", IdentityEvent{Type: IdentityUpdated}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublishRejectsInvalid(t *testing.T) {
	bus := NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	if err := bus.Publish(&IdentityEvent{Type: "bogus", IdentityID: "u1"}); err == nil {
		t.Error("Publish() of invalid event should fail")
	}
}

func TestRouterDeliversEvents(t *testing.T) {
	bus := NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	var mu sync.Mutex
	var got []*IdentityEvent
	received := make(chan struct{}, 10)

	router, err := NewRouter(bus, func(ctx context.Context, ev *IdentityEvent) error {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		received <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = router.Run(ctx)
	}()
	<-router.Running()

	ev := &IdentityEvent{Type: IdentityCreated, IdentityID: "u9", Attributes: map[string]string{"name": "Kim"}}
	if err := bus.Publish(ev); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("received %d events, want 1", len(got))
	}
	if got[0].IdentityID != "u9" || got[0].Type != IdentityCreated {
		t.Errorf("event = %+v, want created/u9", got[0])
	}
	if got[0].Attributes["name"] != "Kim" {
		t.Errorf("attributes = %v, want name=Kim", got[0].Attributes)
	}
}

// TestEventPublishedBeforeRouterStartIsDelivered: ingress can accept an
// event while the supervised router is still starting; the persistent
// bus must hold it for the router's subscription instead of dropping it.
func TestEventPublishedBeforeRouterStartIsDelivered(t *testing.T) {
	bus := NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	ev := &IdentityEvent{Type: IdentityCreated, IdentityID: "u10"}
	if err := bus.Publish(ev); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	received := make(chan *IdentityEvent, 1)
	router, err := NewRouter(bus, func(ctx context.Context, ev *IdentityEvent) error {
		received <- ev
		return nil
	})
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = router.Run(ctx)
	}()
	<-router.Running()

	select {
	case got := <-received:
		if got.IdentityID != "u10" {
			t.Errorf("event = %+v, want u10", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event published before router start was never delivered")
	}
}
