// Package hub fans messages out to dashboard websocket clients. A single
// goroutine owns the client set; slow clients are disconnected rather than
// allowed to stall the broadcaster.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Stats holds hub counters.
type Stats struct {
	Clients     int    `json:"clients"`
	Broadcasts  uint64 `json:"broadcasts"`
	Dropped     uint64 `json:"dropped"`
	SlowClients uint64 `json:"slow_clients"`
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	name   string
	logger *slog.Logger

	clients    map[*Client]struct{}
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client

	count   atomic.Int64
	running atomic.Bool

	broadcasts  atomic.Uint64
	dropped     atomic.Uint64
	slowClients atomic.Uint64

	// dropLog throttles full-queue warnings while a burst is being shed.
	dropLog rate.Sometimes

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a new Hub
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:       name,
		logger:     logger.With("component", "hub", "hub", name),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		dropLog:    rate.Sometimes{First: 1, Interval: 5 * time.Second},
		done:       make(chan struct{}),
	}
}

// Name returns the hub name.
func (h *Hub) Name() string {
	return h.name
}

// Run owns the client set until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		for c := range h.clients {
			delete(h.clients, c)
			close(c.send)
		}
		h.count.Store(0)
		h.running.Store(false)
		h.stopOnce.Do(func() { close(h.done) })
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			n := h.count.Add(1)
			h.logger.Info("client connected", "clients", n)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				n := h.count.Add(-1)
				h.logger.Info("client disconnected", "clients", n)
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					delete(h.clients, c)
					close(c.send)
					h.count.Add(-1)
					h.slowClients.Add(1)
					h.logger.Warn("dropped slow client")
				}
			}
		}
	}
}

// Done is closed when Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Broadcast queues msg for every client. It never blocks; when the queue is
// full the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
		h.broadcasts.Add(1)
	default:
		h.dropped.Add(1)
		h.dropLog.Do(func() {
			h.logger.Warn("broadcast queue full, dropping messages", "dropped", h.dropped.Load())
		})
	}
}

// BroadcastJSON encodes and broadcasts a JSON message
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(TextMessage(data))
	return nil
}

// BroadcastBinary broadcasts binary data such as JPEG previews
func (h *Hub) BroadcastBinary(data []byte) {
	h.Broadcast(BinaryMessage(data))
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// IsRunning returns whether the hub is running
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// Stats returns hub counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Clients:     h.ClientCount(),
		Broadcasts:  h.broadcasts.Load(),
		Dropped:     h.dropped.Load(),
		SlowClients: h.slowClients.Load(),
	}
}
