// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/viewgate/viewgate/internal/authflow"
	"github.com/viewgate/viewgate/internal/broadcast"
	"github.com/viewgate/viewgate/internal/events"
	"github.com/viewgate/viewgate/internal/gate"
	"github.com/viewgate/viewgate/internal/policy"
	"github.com/viewgate/viewgate/internal/resolver"
	"github.com/viewgate/viewgate/internal/rolestore"
	"github.com/viewgate/viewgate/internal/rolesync"
	"github.com/viewgate/viewgate/internal/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testServer struct {
	server  *Server
	handler http.Handler
	tokens  *token.Manager
	store   *rolestore.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	table, err := policy.NewTable([]policy.EntryConfig{
		{PathPrefix: "/admin", AllowedRoles: []string{"admin"}},
		{PathPrefix: "/teacher", AllowedRoles: []string{"teacher", "admin"}},
		{PathPrefix: "/student", AllowedRoles: []string{"student", "admin"}},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	tokens, err := token.NewManager(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	mirror := token.NewMirror(5 * time.Minute)
	store := rolestore.NewMemoryStore()
	res := resolver.New(resolver.Config{DefaultRole: "student"}, store, mirror)
	flag := broadcast.NewFlag()

	probe := func(ctx context.Context, credential string) (*token.Identity, error) {
		if credential == "" {
			return nil, nil
		}
		return tokens.Verify(credential)
	}
	coord := authflow.NewCoordinator(authflow.Config{SignInURL: "/signin"}, table, res, flag, probe)

	sync := rolesync.New(rolesync.DefaultConfig(), store, mirror)
	bus := events.NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	g := gate.New(table, gate.ManagerProbe(tokens), "/signin")
	srv := NewServer(Config{}, coord, res, sync, bus, g, flag, tokens)

	return &testServer{server: srv, handler: srv.Router(), tokens: tokens, store: store}
}

func (ts *testServer) issue(t *testing.T, identityID, role string) string {
	t.Helper()
	tok, err := ts.tokens.Issue(identityID, role, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestNavigateRequiresPath(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/navigate", "", navigateRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestNavigateDecisions(t *testing.T) {
	ts := newTestServer(t)
	studentTok := ts.issue(t, "u-student", "student")

	tests := []struct {
		name         string
		path         string
		bearer       string
		wantDecision string
		wantRedirect string
		wantRole     string
	}{
		{name: "public path allows anonymous", path: "/about", wantDecision: "ALLOW"},
		{name: "anonymous denied on protected", path: "/student", wantDecision: "DENY", wantRedirect: "/signin"},
		{name: "student allowed on own surface", path: "/student", bearer: studentTok, wantDecision: "ALLOW", wantRole: "student"},
		{name: "student denied on admin surface", path: "/admin", bearer: studentTok, wantDecision: "DENY", wantRedirect: "/signin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/v1/navigate", tt.bearer, navigateRequest{Path: tt.path})
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			resp := decode[navigateResponse](t, rec)
			if resp.Decision != tt.wantDecision {
				t.Errorf("decision = %q, want %q", resp.Decision, tt.wantDecision)
			}
			if resp.Redirect != tt.wantRedirect {
				t.Errorf("redirect = %q, want %q", resp.Redirect, tt.wantRedirect)
			}
			if resp.Role != tt.wantRole {
				t.Errorf("role = %q, want %q", resp.Role, tt.wantRole)
			}
		})
	}
}

func TestEdgeGateRedirectsAnonymousPageHit(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/admin", "", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/signin" {
		t.Fatalf("location = %q, want /signin", loc)
	}
}

func TestRoleFetchProvisionsFirstTouch(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/v1/roles/u-new", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode[roleResponse](t, rec)
	if resp.Role != "student" {
		t.Fatalf("role = %q, want student", resp.Role)
	}
	if _, err := ts.store.Get(context.Background(), "u-new"); err != nil {
		t.Fatalf("record not provisioned: %v", err)
	}
}

func TestRoleUpdate(t *testing.T) {
	ts := newTestServer(t)
	adminTok := ts.issue(t, "u-admin", "admin")
	studentTok := ts.issue(t, "u-student", "student")

	tests := []struct {
		name     string
		bearer   string
		role     string
		wantCode int
	}{
		{name: "anonymous forbidden", bearer: "", role: "teacher", wantCode: http.StatusForbidden},
		{name: "non-admin forbidden", bearer: studentTok, role: "teacher", wantCode: http.StatusForbidden},
		{name: "unknown role rejected", bearer: adminTok, role: "superuser", wantCode: http.StatusBadRequest},
		{name: "admin updates role", bearer: adminTok, role: "teacher", wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPut, "/v1/roles/u-target", tt.bearer, roleUpdateRequest{Role: tt.role})
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}

	rec, err := ts.store.Get(context.Background(), "u-target")
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if rec.Role != "teacher" {
		t.Fatalf("stored role = %q, want teacher", rec.Role)
	}
}

func TestDecisionHubFanOut(t *testing.T) {
	hub := newDecisionHub()
	ch1, unsub1 := hub.subscribe()
	ch2, unsub2 := hub.subscribe()
	defer unsub2()

	hub.publish(streamMessage{Event: "decision", Path: "/student", Decision: "ALLOW"})
	for i, ch := range []<-chan streamMessage{ch1, ch2} {
		select {
		case msg := <-ch:
			if msg.Path != "/student" || msg.Decision != "ALLOW" {
				t.Errorf("subscriber %d got %+v", i, msg)
			}
		default:
			t.Errorf("subscriber %d got nothing", i)
		}
	}

	unsub1()
	hub.publish(streamMessage{Event: "decision", Path: "/admin", Decision: "DENY"})
	select {
	case msg := <-ch1:
		t.Errorf("unsubscribed channel got %+v", msg)
	default:
	}
	select {
	case msg := <-ch2:
		if msg.Path != "/admin" {
			t.Errorf("second publish = %+v", msg)
		}
	default:
		t.Error("active subscriber missed second publish")
	}
}

func TestNavigatePublishesDecisionToStreamSubscribers(t *testing.T) {
	ts := newTestServer(t)
	ch, unsub := ts.server.decisions.subscribe()
	defer unsub()

	rec := ts.do(t, http.MethodPost, "/v1/navigate", "", navigateRequest{Path: "/about"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	select {
	case msg := <-ch:
		if msg.Event != "decision" || msg.Decision != "ALLOW" || msg.Path != "/about" {
			t.Fatalf("decision message = %+v", msg)
		}
	default:
		t.Fatal("no decision pushed to stream subscribers")
	}
}

func TestIdentityEventIngress(t *testing.T) {
	ts := newTestServer(t)
	adminTok := ts.issue(t, "u-admin", "admin")

	tests := []struct {
		name     string
		bearer   string
		body     any
		wantCode int
	}{
		{name: "anonymous forbidden", bearer: "", body: events.IdentityEvent{Type: events.IdentityCreated, IdentityID: "u1"}, wantCode: http.StatusForbidden},
		{name: "missing type rejected", bearer: adminTok, body: events.IdentityEvent{IdentityID: "u1"}, wantCode: http.StatusBadRequest},
		{name: "valid event accepted", bearer: adminTok, body: events.IdentityEvent{Type: events.IdentityCreated, IdentityID: "u1"}, wantCode: http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/v1/identity-events", tt.bearer, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}
