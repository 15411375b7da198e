// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
)

// Handler processes one decoded identity lifecycle event.
type Handler func(ctx context.Context, ev *IdentityEvent) error

// NewRouter builds a Watermill router that feeds lifecycle events from the
// bus into the handler, with retry and panic recovery middleware.
func NewRouter(bus *Bus, handler Handler) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{}, bus.Logger())
	if err != nil {
		return nil, fmt.Errorf("create event router: %w", err)
	}

	router.AddMiddleware(
		middleware.Recoverer,
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     time.Second,
			Multiplier:      2.0,
			Logger:          bus.Logger(),
		}.Middleware,
	)

	router.AddNoPublisherHandler(
		"identity_lifecycle",
		TopicIdentityLifecycle,
		bus.Subscriber(),
		func(msg *message.Message) error {
			ev, err := DecodeIdentityEvent(msg)
			if err != nil {
				// Malformed payloads are dropped, not retried; retrying
				// cannot repair them.
				bus.Logger().Error("dropping malformed identity event", err, nil)
				return nil
			}
			return handler(msg.Context(), ev)
		},
	)

	return router, nil
}
