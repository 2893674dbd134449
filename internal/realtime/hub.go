// Package realtime is the publish/subscribe channel transport: a websocket
// hub that fans protocol events out to every connection subscribed to the
// event's channel.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/beacon-im/beacon/internal/event"
)

// Hub manages active connections and their channel subscriptions.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*Conn
	channels map[string]map[string]*Conn // channel -> conn id -> conn

	register   chan *Conn
	unregister chan *Conn
	done       chan struct{}
	log        *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		conns:      make(map[string]*Conn),
		channels:   make(map[string]map[string]*Conn),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run starts the hub's main loop. It should be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.conns[conn.id] = conn
			h.mu.Unlock()
			h.log.Debug("connection registered", "conn", conn.id, "user", conn.identity.UserID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.conns[conn.id]; ok {
				delete(h.conns, conn.id)
				for channel := range conn.subscriptions {
					h.dropLocked(channel, conn.id)
				}
			}
			h.mu.Unlock()
			h.log.Debug("connection unregistered", "conn", conn.id)

		case <-h.done:
			return
		}
	}
}

// Stop signals the hub to stop its run loop.
func (h *Hub) Stop() {
	close(h.done)
}

// Register adds a connection to the hub. After Stop it is a no-op, so
// connections racing a shutdown never block.
func (h *Hub) Register(conn *Conn) {
	select {
	case h.register <- conn:
	case <-h.done:
	}
}

// Unregister removes a connection and all its subscriptions. After Stop it
// is a no-op.
func (h *Hub) Unregister(conn *Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Subscribe adds a connection to a channel. Callers authorize first.
func (h *Hub) Subscribe(channel string, conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[conn.id]; !ok {
		return
	}
	subs := h.channels[channel]
	if subs == nil {
		subs = make(map[string]*Conn)
		h.channels[channel] = subs
	}
	subs[conn.id] = conn
	conn.subscriptions[channel] = struct{}{}
}

// Unsubscribe removes a connection from a channel. Delivery to the
// connection stops as soon as this returns.
func (h *Hub) Unsubscribe(channel string, conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(channel, conn.id)
	delete(conn.subscriptions, channel)
}

// Publish encodes the event once and delivers it to every subscriber of its
// channel, returning the delivery count. A subscriber with a full send
// buffer misses the event rather than blocking the fan-out.
func (h *Hub) Publish(ctx context.Context, ev event.Event) (int, error) {
	frame, err := ev.Encode()
	if err != nil {
		return 0, err
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return 0, fmt.Errorf("marshal frame: %w", err)
	}

	h.mu.RLock()
	subs := make([]*Conn, 0, len(h.channels[ev.Channel]))
	for _, conn := range h.channels[ev.Channel] {
		subs = append(subs, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range subs {
		if conn.Send(data) {
			delivered++
		}
	}
	return delivered, nil
}

// Count returns the number of active connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Subscribers returns the number of connections subscribed to a channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

func (h *Hub) dropLocked(channel, connID string) {
	subs := h.channels[channel]
	if subs == nil {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(h.channels, channel)
	}
}
