// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/viewgate/viewgate/internal/logging"
)

// streamMessage is one event pushed to the render layer: either a
// loading-flag transition ("loading") or a terminal navigation decision
// ("decision").
type streamMessage struct {
	Event    string `json:"event"`
	Loading  bool   `json:"loading"`
	Path     string `json:"path,omitempty"`
	Decision string `json:"decision,omitempty"`
	Redirect string `json:"redirect,omitempty"`
	Role     string `json:"role,omitempty"`
}

// decisionHub fans terminal decisions out to stream connections. Slow
// subscribers are dropped, not blocked on.
type decisionHub struct {
	mu   sync.Mutex
	next int
	subs map[int]chan streamMessage
}

func newDecisionHub() *decisionHub {
	return &decisionHub{subs: make(map[int]chan streamMessage)}
}

func (h *decisionHub) subscribe() (<-chan streamMessage, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan streamMessage, 16)
	h.subs[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

func (h *decisionHub) publish(msg streamMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin policy is enforced by the CORS middleware; the
	// upgrader itself accepts the already-filtered request.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStream upgrades to a websocket and pushes every loading-flag
// transition, starting with the current value, plus terminal navigation
// decisions. Flag transitions are never coalesced or debounced: the
// render layer sees each one in order.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// The flag notifies synchronously under its own lock, so the
	// subscriber only enqueues; this goroutine owns the socket writes.
	transitions := make(chan bool, 64)
	overflow := make(chan struct{})
	var overflowOnce sync.Once
	unsubscribe := s.flag.Subscribe(func(loading bool) {
		select {
		case transitions <- loading:
		default:
			// A reader this far behind is beyond saving in order; drop
			// the connection rather than reorder or coalesce.
			overflowOnce.Do(func() { close(overflow) })
		}
	})
	defer unsubscribe()

	decisions, unsubDecisions := s.decisions.subscribe()
	defer unsubDecisions()

	// Reader goroutine: detect client disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		var msg streamMessage
		select {
		case loading := <-transitions:
			msg = streamMessage{Event: "loading", Loading: loading}
		case msg = <-decisions:
		case <-overflow:
			return
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
		if err := writeStreamMessage(conn, msg); err != nil {
			return
		}
	}
}

func writeStreamMessage(conn *websocket.Conn, msg streamMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}
