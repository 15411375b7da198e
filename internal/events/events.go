// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

// Package events carries identity lifecycle notifications over a Watermill
// in-process bus. The identity provider reports created/updated/deleted
// identities; the role sync service consumes them to keep role records and
// the claims mirror aligned.
package events

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/viewgate/viewgate/internal/logging"
)

// TopicIdentityLifecycle is the identity lifecycle topic.
const TopicIdentityLifecycle = "identity.lifecycle"

// EventType is the lifecycle notification type.
type EventType string

const (
	IdentityCreated EventType = "created"
	IdentityUpdated EventType = "updated"
	IdentityDeleted EventType = "deleted"
)

// Valid reports whether the event type is known.
func (t EventType) Valid() bool {
	switch t {
	case IdentityCreated, IdentityUpdated, IdentityDeleted:
		return true
	}
	return false
}

// IdentityEvent is one identity lifecycle notification.
type IdentityEvent struct {
	Type       EventType         `json:"type"`
	IdentityID string            `json:"identity_id"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Validate checks the event shape before it is published.
func (e *IdentityEvent) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("unknown identity event type %q", e.Type)
	}
	if e.IdentityID == "" {
		return fmt.Errorf("identity event missing identity id")
	}
	return nil
}

// Bus is the in-process identity lifecycle bus.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger watermill.LoggerAdapter
}

// NewBus creates the bus on Watermill's gochannel pub/sub. Persistence
// keeps events published before the router's subscription is up; without
// it an ingress hit during startup would be silently dropped.
func NewBus() *Bus {
	logger := newZerologAdapter()
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			Persistent:          true,
			OutputChannelBuffer: 64,
		}, logger),
		logger: logger,
	}
}

// Publish validates and publishes one identity lifecycle event.
func (b *Bus) Publish(ev *IdentityEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal identity event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(TopicIdentityLifecycle, msg); err != nil {
		return fmt.Errorf("publish identity event: %w", err)
	}
	return nil
}

// Subscriber exposes the underlying subscriber for router wiring.
func (b *Bus) Subscriber() message.Subscriber {
	return b.pubsub
}

// Logger exposes the bus's Watermill logger for router wiring.
func (b *Bus) Logger() watermill.LoggerAdapter {
	return b.logger
}

// Close shuts the bus down, closing all subscriptions.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// DecodeIdentityEvent unmarshals and validates an event payload.
func DecodeIdentityEvent(msg *message.Message) (*IdentityEvent, error) {
	var ev IdentityEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return nil, fmt.Errorf("decode identity event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// zerologAdapter bridges Watermill logging onto the global zerolog logger.
type zerologAdapter struct {
	fields watermill.LogFields
}

func newZerologAdapter() watermill.LoggerAdapter {
	return &zerologAdapter{}
}

func (a *zerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	logging.Error().Err(err).Fields(map[string]any(a.merged(fields))).Msg(msg)
}

func (a *zerologAdapter) Info(msg string, fields watermill.LogFields) {
	logging.Info().Fields(map[string]any(a.merged(fields))).Msg(msg)
}

func (a *zerologAdapter) Debug(msg string, fields watermill.LogFields) {
	logging.Debug().Fields(map[string]any(a.merged(fields))).Msg(msg)
}

func (a *zerologAdapter) Trace(msg string, fields watermill.LogFields) {
	logging.Debug().Fields(map[string]any(a.merged(fields))).Msg(msg)
}

func (a *zerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &zerologAdapter{fields: a.merged(fields)}
}

func (a *zerologAdapter) merged(fields watermill.LogFields) watermill.LogFields {
	if len(a.fields) == 0 {
		return fields
	}
	out := make(watermill.LogFields, len(a.fields)+len(fields))
	for k, v := range a.fields {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}
