// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

package rolesync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/viewgate/viewgate/internal/events"
	"github.com/viewgate/viewgate/internal/rolestore"
	"github.com/viewgate/viewgate/internal/token"
)

// flakyMirror fails the first failFirst Set calls, then delegates to the
// real mirror. Counts attempts and invalidations.
type flakyMirror struct {
	*token.Mirror
	mu            sync.Mutex
	sets          int
	failFirst     int
	invalidations int
}

func (m *flakyMirror) Set(ctx context.Context, identityID, role string) error {
	m.mu.Lock()
	m.sets++
	fail := m.sets <= m.failFirst
	m.mu.Unlock()
	if fail {
		return errors.New("mirror unavailable")
	}
	return m.Mirror.Set(ctx, identityID, role)
}

func (m *flakyMirror) Invalidate(identityID string) {
	m.mu.Lock()
	m.invalidations++
	m.mu.Unlock()
	m.Mirror.Invalidate(identityID)
}

func (m *flakyMirror) counts() (sets, invalidations int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets, m.invalidations
}

func setupService(t *testing.T, failFirst int) (*Service, *rolestore.MemoryStore, *flakyMirror) {
	t.Helper()
	store := rolestore.NewMemoryStore()
	mirror := &flakyMirror{Mirror: token.NewMirror(time.Minute), failFirst: failFirst}

	cfg := DefaultConfig()
	cfg.MirrorRetryInitial = time.Millisecond
	cfg.MirrorRetryElapsed = 200 * time.Millisecond
	return New(cfg, store, mirror), store, mirror
}

// startRetryWorker runs the mirror retry worker for the test's lifetime.
func startRetryWorker(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.RunMirrorRetries(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func TestUpdateWritesRecordAndMirror(t *testing.T) {
	svc, store, mirror := setupService(t, 0)
	ctx := context.Background()

	rec, err := svc.Update(ctx, "u1", "teacher")
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if rec.Role != "teacher" {
		t.Errorf("record role = %q, want teacher", rec.Role)
	}

	stored, err := store.Get(ctx, "u1")
	if err != nil || stored.Role != "teacher" {
		t.Errorf("stored record = %+v, err %v; want teacher", stored, err)
	}

	role, ok := mirror.Get("u1")
	if !ok || role != "teacher" {
		t.Errorf("mirror = %q, %v; want teacher, true", role, ok)
	}
}

func TestUpdateRejectsUnknownRole(t *testing.T) {
	svc, _, _ := setupService(t, 0)

	if _, err := svc.Update(context.Background(), "u1", "superuser"); !errors.Is(err, ErrUnknownRole) {
		t.Errorf("Update() error = %v, want ErrUnknownRole", err)
	}
}

func TestUpdateRetriesMirrorWrite(t *testing.T) {
	svc, _, mirror := setupService(t, 2)
	startRetryWorker(t, svc)

	if _, err := svc.Update(context.Background(), "u1", "parent"); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	ok := waitFor(t, time.Second, func() bool {
		role, present := mirror.Get("u1")
		return present && role == "parent"
	})
	if !ok {
		t.Fatal("mirror never converged to parent after retries")
	}
	sets, _ := mirror.counts()
	if sets != 3 {
		t.Errorf("mirror sets = %d, want 3 (two failures, one success)", sets)
	}
}

func TestUpdateSucceedsDespiteMirrorExhaustion(t *testing.T) {
	svc, store, mirror := setupService(t, 1000)
	startRetryWorker(t, svc)

	rec, err := svc.Update(context.Background(), "u1", "admin")
	if err != nil {
		t.Fatalf("Update() error = %v; record write is the success criterion", err)
	}
	if rec.Role != "admin" {
		t.Errorf("record role = %q, want admin", rec.Role)
	}

	// Record landed even though the mirror never did.
	stored, err := store.Get(context.Background(), "u1")
	if err != nil || stored.Role != "admin" {
		t.Errorf("stored record = %+v, err %v", stored, err)
	}

	// Exhaustion invalidates the mirror entry so the slow path re-derives.
	ok := waitFor(t, time.Second, func() bool {
		_, invalidations := mirror.counts()
		return invalidations > 0
	})
	if !ok {
		t.Fatal("mirror should be invalidated after retry exhaustion")
	}
	if _, present := mirror.Get("u1"); present {
		t.Error("mirror entry should be absent after exhaustion")
	}
}

func TestUpdateReturnsBeforeMirrorRetriesFinish(t *testing.T) {
	svc, _, _ := setupService(t, 1000)
	startRetryWorker(t, svc)

	// The retry window is 200ms; the caller must not be held for it.
	start := time.Now()
	if _, err := svc.Update(context.Background(), "u1", "teacher"); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Update() took %v with the mirror down; retries must run in the worker", elapsed)
	}
}

func TestQueueOverflowInvalidatesImmediately(t *testing.T) {
	// No worker running, so queued writes are never drained.
	svc, _, mirror := setupService(t, 1000)

	for i := 0; i < cap(svc.retries)+5; i++ {
		if _, err := svc.Update(context.Background(), "u1", "teacher"); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	}

	_, invalidations := mirror.counts()
	if invalidations == 0 {
		t.Error("overflowing the retry queue should invalidate the mirror entry")
	}
}

func TestHandleCreatedProvisionsDefaultRole(t *testing.T) {
	svc, store, _ := setupService(t, 0)
	ctx := context.Background()

	err := svc.HandleIdentityEvent(ctx, &events.IdentityEvent{
		Type: events.IdentityCreated, IdentityID: "u2",
	})
	if err != nil {
		t.Fatalf("HandleIdentityEvent() error = %v", err)
	}

	rec, err := store.Get(ctx, "u2")
	if err != nil || rec.Role != "student" {
		t.Errorf("record = %+v, err %v; want default student", rec, err)
	}
}

func TestHandleCreatedHonorsRoleAttribute(t *testing.T) {
	svc, store, _ := setupService(t, 0)
	ctx := context.Background()

	err := svc.HandleIdentityEvent(ctx, &events.IdentityEvent{
		Type: events.IdentityCreated, IdentityID: "u3",
		Attributes: map[string]string{"role": "teacher"},
	})
	if err != nil {
		t.Fatalf("HandleIdentityEvent() error = %v", err)
	}

	rec, _ := store.Get(ctx, "u3")
	if rec.Role != "teacher" {
		t.Errorf("record role = %q, want teacher", rec.Role)
	}
}

func TestHandleCreatedDoesNotOverwriteExisting(t *testing.T) {
	svc, store, _ := setupService(t, 0)
	ctx := context.Background()

	if _, err := svc.Update(ctx, "u4", "admin"); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	// A replayed creation event must not reset the role.
	err := svc.HandleIdentityEvent(ctx, &events.IdentityEvent{
		Type: events.IdentityCreated, IdentityID: "u4",
	})
	if err != nil {
		t.Fatalf("HandleIdentityEvent() error = %v", err)
	}

	rec, _ := store.Get(ctx, "u4")
	if rec.Role != "admin" {
		t.Errorf("record role = %q, want admin preserved", rec.Role)
	}
}

func TestHandleUpdatedWithRoleChanges(t *testing.T) {
	svc, store, _ := setupService(t, 0)
	ctx := context.Background()

	if _, err := svc.Update(ctx, "u5", "student"); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	err := svc.HandleIdentityEvent(ctx, &events.IdentityEvent{
		Type: events.IdentityUpdated, IdentityID: "u5",
		Attributes: map[string]string{"role": "teacher"},
	})
	if err != nil {
		t.Fatalf("HandleIdentityEvent() error = %v", err)
	}

	rec, _ := store.Get(ctx, "u5")
	if rec.Role != "teacher" {
		t.Errorf("record role = %q, want teacher", rec.Role)
	}
}

func TestHandleDeletedRemovesRecordAndClaim(t *testing.T) {
	svc, store, mirror := setupService(t, 0)
	ctx := context.Background()

	if _, err := svc.Update(ctx, "u6", "parent"); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	err := svc.HandleIdentityEvent(ctx, &events.IdentityEvent{
		Type: events.IdentityDeleted, IdentityID: "u6",
	})
	if err != nil {
		t.Fatalf("HandleIdentityEvent() error = %v", err)
	}

	if _, err := store.Get(ctx, "u6"); !errors.Is(err, rolestore.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if _, ok := mirror.Get("u6"); ok {
		t.Error("mirror entry should be invalidated on deletion")
	}
}
