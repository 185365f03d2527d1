package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"im-service/internal/models"
	"im-service/internal/observability"
)

// Conn is one client connection as seen by the hub.
type Conn interface {
	ID() string
	UserID() string
	// Send queues an event without blocking.
	Send(event models.Event) error
	Close() error
}

// Hub tracks open connections and the conversation rooms they joined.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]Conn
	infos  map[string]ConnInfo
	rooms  map[string]map[string]struct{}
	joined map[string]map[string]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns:  make(map[string]Conn),
		infos:  make(map[string]ConnInfo),
		rooms:  make(map[string]map[string]struct{}),
		joined: make(map[string]map[string]struct{}),
	}
}

// Add registers an open connection.
func (h *Hub) Add(conn Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn.ID()] = conn
	h.infos[conn.ID()] = info
}

// Remove forgets a connection and its room memberships. It reports whether
// the connection was still registered.
func (h *Hub) Remove(connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; !ok {
		return false
	}
	delete(h.conns, connID)
	delete(h.infos, connID)
	for room := range h.joined[connID] {
		if members, ok := h.rooms[room]; ok {
			delete(members, connID)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	delete(h.joined, connID)
	return true
}

// Conn returns a registered connection.
func (h *Hub) Conn(connID string) (Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.conns[connID]
	return conn, ok
}

// Len reports the number of open connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Join subscribes a registered connection to a room. Joining twice is a no-op.
func (h *Hub) Join(room, connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; !ok {
		return false
	}
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[string]struct{})
	}
	h.rooms[room][connID] = struct{}{}
	if _, ok := h.joined[connID]; !ok {
		h.joined[connID] = make(map[string]struct{})
	}
	h.joined[connID][room] = struct{}{}
	return true
}

// RoomSize reports how many connections joined room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// SendTo delivers event to the given connections, ignoring unknown ids and
// repeats. It returns the number of successful sends.
func (h *Hub) SendTo(event models.Event, connIDs ...string) int {
	return h.Multicast("", connIDs, event)
}

// Broadcast delivers event to every open connection.
func (h *Hub) Broadcast(event models.Event) int {
	h.mu.RLock()
	targets := make([]Conn, 0, len(h.conns))
	for _, conn := range h.conns {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()
	return h.deliver(targets, event)
}

// BroadcastRoom delivers event once to every connection joined to room.
func (h *Hub) BroadcastRoom(room string, event models.Event) int {
	return h.Multicast(room, nil, event)
}

// Multicast delivers event to the union of room members and connIDs, each
// connection at most once.
func (h *Hub) Multicast(room string, connIDs []string, event models.Event) int {
	h.mu.RLock()
	seen := make(map[string]struct{}, len(h.rooms[room])+len(connIDs))
	targets := make([]Conn, 0, len(seen))
	add := func(id string) {
		if _, dup := seen[id]; dup {
			return
		}
		conn, ok := h.conns[id]
		if !ok {
			return
		}
		seen[id] = struct{}{}
		targets = append(targets, conn)
	}
	if room != "" {
		for id := range h.rooms[room] {
			add(id)
		}
	}
	for _, id := range connIDs {
		add(id)
	}
	h.mu.RUnlock()
	return h.deliver(targets, event)
}

// deliver runs outside the hub lock; a failing connection is closed and dropped.
func (h *Hub) deliver(targets []Conn, event models.Event) int {
	sent := 0
	for _, conn := range targets {
		if err := conn.Send(event); err != nil {
			slog.Warn("websocket send failed", "conn_id", conn.ID(), "user_id", conn.UserID(), "event", event.Event, "err", err)
			if errors.Is(err, ErrSlowConsumer) {
				observability.IncSlowConsumerDrop()
			}
			info, _ := h.info(conn.ID())
			_ = conn.Close()
			h.Remove(conn.ID())
			h.publishWSError(info, err)
			continue
		}
		sent++
	}
	return sent
}

func (h *Hub) info(connID string) (ConnInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	info, ok := h.infos[connID]
	return info, ok
}

func (h *Hub) publishWSError(info ConnInfo, err error) {
	if info.ConnID == "" {
		return
	}
	publishWSEvent(context.Background(), info, "ws_error", err.Error())
	observability.IncWSEvent("ws_error", "error")
}

func publishWSEvent(ctx context.Context, info ConnInfo, name, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       name,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(ctx, observability.RoutingWS, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: name,
		Payload:   payload,
	}, headers)
}
