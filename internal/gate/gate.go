// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

// Package gate implements the edge gate: a per-request, stateless check
// of whether the caller is authenticated at all. It runs before the
// authorization state machine and must stay synchronous — no store or
// network lookups — because any latency here reopens the flash window the
// state machine exists to close.
package gate

import (
	"net/http"
	"strings"

	"github.com/viewgate/viewgate/internal/logging"
	"github.com/viewgate/viewgate/internal/metrics"
	"github.com/viewgate/viewgate/internal/policy"
	"github.com/viewgate/viewgate/internal/token"
)

// Result is the edge gate's verdict.
type Result int

const (
	// Allow means the request may proceed to the state machine.
	Allow Result = iota

	// DenyUnauthenticated means no valid identity was presented for a
	// protected path. The caller is redirected to sign-in.
	DenyUnauthenticated
)

// Probe verifies a raw credential locally and returns the identity, or an
// error for malformed/expired tokens. Must be pure computation.
type Probe func(credential string) (*token.Identity, error)

// ManagerProbe adapts a token manager into a gate probe.
func ManagerProbe(m *token.Manager) Probe {
	return func(credential string) (*token.Identity, error) {
		return m.Verify(credential)
	}
}

// Gate is the edge authentication gate.
type Gate struct {
	table     *policy.Table
	probe     Probe
	signInURL string
}

// New creates an edge gate over the policy table.
func New(table *policy.Table, probe Probe, signInURL string) *Gate {
	return &Gate{table: table, probe: probe, signInURL: signInURL}
}

// Check decides whether the caller may proceed. Public paths always pass.
// For protected paths a missing, malformed, or expired credential denies;
// there is no default-allow path.
func (g *Gate) Check(path, credential string) (Result, *token.Identity) {
	if g.table.Lookup(path) == nil {
		return Allow, nil
	}
	if credential == "" {
		metrics.EdgeGateDeniesTotal.Inc()
		return DenyUnauthenticated, nil
	}
	ident, err := g.probe(credential)
	if err != nil || ident == nil {
		metrics.EdgeGateDeniesTotal.Inc()
		return DenyUnauthenticated, nil
	}
	return Allow, ident
}

// SignInURL returns the configured sign-in redirect target.
func (g *Gate) SignInURL() string {
	return g.signInURL
}

// Middleware runs the edge gate on every request. Denied requests are
// redirected to sign-in before any handler work happens.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, _ := g.Check(r.URL.Path, CredentialFromRequest(r))
		if result == DenyUnauthenticated {
			logging.Ctx(r.Context()).Debug().
				Str("path", r.URL.Path).
				Msg("edge gate denied anonymous request")
			http.Redirect(w, r, g.signInURL, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CredentialFromRequest extracts the session token from the Authorization
// bearer header or the session cookie, in that order.
func CredentialFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie("viewgate_session"); err == nil {
		return c.Value
	}
	return ""
}
