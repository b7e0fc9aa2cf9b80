// Package telemetry streams simulation events and navigator snapshots to
// local websocket observers.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/milk9111/drivesim/ecs"
	"github.com/milk9111/drivesim/nav"
)

const (
	FrameEvent = "event"
	FrameState = "state"
)

const (
	clientBuffer = 256
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait / 3
)

// Frame is one JSON message on the observer feed.
type Frame struct {
	Type   string               `json:"type"`
	Tick   uint64               `json:"tick"`
	Time   float64              `json:"time"`
	Entity ecs.Entity           `json:"entity,omitempty"`
	Name   string               `json:"name,omitempty"`
	Event  ecs.EventType        `json:"event,omitempty"`
	Data   any                  `json:"data,omitempty"`
	State  *nav.NavigationState `json:"state,omitempty"`
}

type client struct {
	id  uint64
	out chan []byte
}

// Hub fans frames out to every connected observer. A client that cannot
// keep up loses frames rather than stalling the simulation.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[uint64]*client
	closed  bool

	nextID  atomic.Uint64
	dropped atomic.Uint64
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[uint64]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Clients returns the number of connected observers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many frames were discarded for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// PublishEvent forwards a world event.
func (h *Hub) PublishEvent(tick uint64, simTime float64, evt ecs.Event) {
	h.Broadcast(Frame{
		Type:   FrameEvent,
		Tick:   tick,
		Time:   simTime,
		Entity: evt.Entity,
		Name:   evt.Name,
		Event:  evt.Type,
		Data:   evt.Data,
	})
}

// PublishState forwards a navigator snapshot for the named vehicle.
func (h *Hub) PublishState(tick uint64, simTime float64, e ecs.Entity, name string, state nav.NavigationState) {
	h.Broadcast(Frame{
		Type:   FrameState,
		Tick:   tick,
		Time:   simTime,
		Entity: e,
		Name:   name,
		State:  &state,
	})
}

// Broadcast encodes f once and queues it on every client.
func (h *Hub) Broadcast(f Frame) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.clients) == 0 {
		return
	}

	b, err := json.Marshal(f)
	if err != nil {
		h.logger.Warn("telemetry: encode frame", "type", f.Type, "name", f.Name, "err", err)
		return
	}
	for _, c := range h.clients {
		select {
		case c.out <- b:
		default:
			h.dropped.Add(1)
		}
	}
}

// Close disconnects every observer. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, c := range h.clients {
		close(c.out)
		delete(h.clients, id)
	}
}

func (h *Hub) register(buffer int) *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	c := &client{id: h.nextID.Add(1), out: make(chan []byte, buffer)}
	h.clients[c.id] = c
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.out)
}

// Handler upgrades loopback requests to a read-only observer feed.
func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := h.register(clientBuffer)
		if c == nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
			return
		}
		h.logger.Debug("telemetry: observer joined", "client", c.id, "remote", r.RemoteAddr)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() {
			writeErr <- h.writeLoop(ctx, conn, c)
		}()

		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		// observers only listen; anything they send is discarded
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		h.unregister(c)
		cancel()

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		h.logger.Debug("telemetry: observer left", "client", c.id)
	}
}

func (h *Hub) writeLoop(ctx context.Context, conn *websocket.Conn, c *client) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-c.out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// hub closed; tell the peer so its reads end
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
				return nil
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return err
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
