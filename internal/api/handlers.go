// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/viewgate/viewgate/internal/authflow"
	"github.com/viewgate/viewgate/internal/events"
	"github.com/viewgate/viewgate/internal/gate"
	"github.com/viewgate/viewgate/internal/logging"
	"github.com/viewgate/viewgate/internal/token"
)

// adminRole may call the privileged role update and lifecycle endpoints.
const adminRole = "admin"

type navigateRequest struct {
	Path string `json:"path"`
}

type navigateResponse struct {
	Decision string `json:"decision"`
	Redirect string `json:"redirect,omitempty"`
	Role     string `json:"role,omitempty"`
}

type roleResponse struct {
	IdentityID string `json:"identity_id"`
	Role       string `json:"role"`
}

type roleUpdateRequest struct {
	Role string `json:"role"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleNavigate runs one navigation session. The internal denial cause is
// never serialized; clients see the uniform decision/redirect pair.
func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "path is required"})
		return
	}

	outcome := s.coord.Navigate(r.Context(), req.Path, gate.CredentialFromRequest(r))
	if outcome.State == authflow.StateCancelled {
		// Superseded by a newer navigation; the client that caused the
		// supersession holds the authoritative answer.
		writeJSON(w, http.StatusConflict, errorResponse{Error: "superseded"})
		return
	}

	s.decisions.publish(streamMessage{
		Event:    "decision",
		Path:     req.Path,
		Decision: string(outcome.Decision),
		Redirect: outcome.Redirect,
		Role:     outcome.Role,
	})

	writeJSON(w, http.StatusOK, navigateResponse{
		Decision: string(outcome.Decision),
		Redirect: outcome.Redirect,
		Role:     outcome.Role,
	})
}

// handleRoleFetch resolves an identity's role. Idempotent except for
// first-touch provisioning.
func (s *Server) handleRoleFetch(w http.ResponseWriter, r *http.Request) {
	identityID := chi.URLParam(r, "identityID")
	if identityID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "identity id is required"})
		return
	}

	role, _, err := s.resolver.Resolve(r.Context(), &token.Identity{ID: identityID})
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).
			Str("identity_id", identityID).
			Msg("role fetch failed")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "role unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, roleResponse{IdentityID: identityID, Role: role})
}

// handleRoleUpdate changes an identity's role. Privileged callers only;
// the update flows through the role sync service.
func (s *Server) handleRoleUpdate(w http.ResponseWriter, r *http.Request) {
	if !s.callerIsAdmin(r) {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
		return
	}

	identityID := chi.URLParam(r, "identityID")
	var req roleUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Role == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "role is required"})
		return
	}

	rec, err := s.sync.Update(r.Context(), identityID, req.Role)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, roleResponse{IdentityID: rec.IdentityID, Role: rec.Role})
}

// handleIdentityEvent accepts one identity lifecycle notification from
// the identity provider and publishes it onto the bus.
func (s *Server) handleIdentityEvent(w http.ResponseWriter, r *http.Request) {
	if !s.callerIsAdmin(r) {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
		return
	}

	var ev events.IdentityEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed event"})
		return
	}
	if err := s.bus.Publish(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// callerIsAdmin verifies the caller's token and resolves its role through
// the same resolver the state machine uses.
func (s *Server) callerIsAdmin(r *http.Request) bool {
	cred := gate.CredentialFromRequest(r)
	if cred == "" {
		return false
	}
	ident, err := s.tokens.Verify(cred)
	if err != nil || ident == nil {
		return false
	}
	role, _, err := s.resolver.Resolve(r.Context(), ident)
	if err != nil {
		return false
	}
	return role == adminRole
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("write response")
	}
}
