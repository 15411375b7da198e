// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

// Package api exposes Viewgate over HTTP: the navigation endpoint that
// drives the authorization state machine, role fetch/update, identity
// lifecycle ingress, and a websocket stream of loading-flag transitions
// for the render layer.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/viewgate/viewgate/internal/authflow"
	"github.com/viewgate/viewgate/internal/broadcast"
	"github.com/viewgate/viewgate/internal/events"
	"github.com/viewgate/viewgate/internal/gate"
	"github.com/viewgate/viewgate/internal/logging"
	"github.com/viewgate/viewgate/internal/resolver"
	"github.com/viewgate/viewgate/internal/rolesync"
	"github.com/viewgate/viewgate/internal/token"
)

// Config holds HTTP server settings.
type Config struct {
	CORSOrigins []string
	RateLimit   int
	RateWindow  time.Duration
}

// Server wires the HTTP surface over the domain services.
type Server struct {
	cfg       Config
	coord     *authflow.Coordinator
	resolver  *resolver.Resolver
	sync      *rolesync.Service
	bus       *events.Bus
	gate      *gate.Gate
	flag      *broadcast.Flag
	tokens    *token.Manager
	decisions *decisionHub
}

// NewServer creates the HTTP server facade.
func NewServer(cfg Config, coord *authflow.Coordinator, res *resolver.Resolver, sync *rolesync.Service, bus *events.Bus, g *gate.Gate, flag *broadcast.Flag, tokens *token.Manager) *Server {
	return &Server{
		cfg:       cfg,
		coord:     coord,
		resolver:  res,
		sync:      sync,
		bus:       bus,
		gate:      g,
		flag:      flag,
		tokens:    tokens,
		decisions: newDecisionHub(),
	}
}

// Router builds the chi router. The edge gate runs first on every
// request; anonymous hits on protected page prefixes are redirected
// before any handler work.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(requestIDMiddleware)
	r.Use(chimiddleware.Recoverer)
	if s.cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RateLimit, s.cfg.RateWindow))
	}
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(s.gate.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/navigate", s.handleNavigate)
		r.Get("/roles/{identityID}", s.handleRoleFetch)
		r.Put("/roles/{identityID}", s.handleRoleUpdate)
		r.Post("/identity-events", s.handleIdentityEvent)
		r.Get("/stream", s.handleStream)
	})

	return r
}

// requestIDMiddleware attaches a request id to the context and response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = logging.GenerateRequestID()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}
