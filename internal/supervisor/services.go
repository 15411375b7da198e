// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// HTTPServer matches the *http.Server lifecycle methods the service
// needs; tests substitute a mock.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService wraps an HTTP server as a supervised service, translating
// the blocking ListenAndServe pattern into suture's context-aware Serve.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPService wraps the server. shutdownTimeout bounds graceful
// shutdown once the context is cancelled.
func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service.
func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		// The original context is already cancelled; shutdown gets its
		// own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string { return "http-server" }

// RouterService runs a watermill message router under supervision.
type RouterService struct {
	router *message.Router
}

// NewRouterService wraps the identity lifecycle router.
func NewRouterService(router *message.Router) *RouterService {
	return &RouterService{router: router}
}

// Serve implements suture.Service. Run blocks until the context is
// cancelled and shuts the router down cleanly.
func (r *RouterService) Serve(ctx context.Context) error {
	if err := r.router.Run(ctx); err != nil {
		return fmt.Errorf("event router failed: %w", err)
	}
	return ctx.Err()
}

func (r *RouterService) String() string { return "event-router" }

// MaintenanceFunc is a long-running maintenance loop, such as role store
// garbage collection. It returns when its context is cancelled.
type MaintenanceFunc func(ctx context.Context) error

// MaintenanceService adapts a maintenance loop into a supervised
// service.
type MaintenanceService struct {
	name string
	run  MaintenanceFunc
}

// NewMaintenanceService wraps the loop under the given service name.
func NewMaintenanceService(name string, run MaintenanceFunc) *MaintenanceService {
	return &MaintenanceService{name: name, run: run}
}

// Serve implements suture.Service.
func (m *MaintenanceService) Serve(ctx context.Context) error {
	return m.run(ctx)
}

func (m *MaintenanceService) String() string { return m.name }
