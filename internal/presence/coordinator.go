package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"im-service/internal/models"
	"im-service/internal/observability"
	"im-service/internal/repositories"
)

// Broadcaster pushes an event to every open connection.
type Broadcaster interface {
	Broadcast(event models.Event) int
}

// Coordinator owns the presence lifecycle: registry updates, the persisted
// online flag and the online_users snapshot.
type Coordinator struct {
	registry *Registry
	users    repositories.UserRepository
	hub      Broadcaster
	locks    *keyedMutex
	// snapshotMu keeps snapshots from reaching clients out of order.
	snapshotMu sync.Mutex
	now        func() time.Time
}

// NewCoordinator wires a coordinator around an existing registry.
func NewCoordinator(registry *Registry, users repositories.UserRepository, hub Broadcaster) *Coordinator {
	return &Coordinator{
		registry: registry,
		users:    users,
		hub:      hub,
		locks:    newKeyedMutex(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// MarkOnline registers connID as the user's connection, persists the online
// flag and broadcasts the snapshot. It returns the broadcast snapshot.
func (c *Coordinator) MarkOnline(ctx context.Context, userID, connID string) []string {
	unlock := c.locks.Lock(userID)
	c.registry.Set(userID, connID)
	if err := c.users.SetOnlineStatus(ctx, userID, models.StatusOnline, nil); err != nil {
		slog.WarnContext(ctx, "persist online status failed", "user_id", userID, "conn_id", connID, "err", err)
	}
	unlock()

	observability.IncPresenceTransition(string(models.StatusOnline))
	c.publish(ctx, "presence.online", userID, connID)
	return c.broadcastSnapshot()
}

// MarkOffline demotes the user owning connID. A connection that no longer
// owns its user is ignored, so a stale disconnect never demotes a user who
// already reconnected.
func (c *Coordinator) MarkOffline(ctx context.Context, connID string) (string, bool) {
	userID, ok := c.registry.OwnerOf(connID)
	if !ok {
		return "", false
	}

	unlock := c.locks.Lock(userID)
	if !c.registry.RemoveIfCurrent(userID, connID) {
		unlock()
		slog.DebugContext(ctx, "stale disconnect ignored", "user_id", userID, "conn_id", connID)
		return userID, false
	}
	lastSeen := c.now()
	if err := c.users.SetOnlineStatus(ctx, userID, models.StatusOffline, &lastSeen); err != nil {
		slog.WarnContext(ctx, "persist offline status failed", "user_id", userID, "conn_id", connID, "err", err)
	}
	unlock()

	observability.IncPresenceTransition(string(models.StatusOffline))
	c.publish(ctx, "presence.offline", userID, connID)
	c.broadcastSnapshot()
	return userID, true
}

// Snapshot returns the sorted online user ids.
func (c *Coordinator) Snapshot() []string {
	return c.registry.UserIDs()
}

func (c *Coordinator) broadcastSnapshot() []string {
	c.snapshotMu.Lock()
	defer c.snapshotMu.Unlock()
	ids := c.registry.UserIDs()
	observability.SetOnlineUsers(len(ids))
	sent := c.hub.Broadcast(models.Event{Event: models.EventOnlineUsers, Data: ids})
	observability.AddDeliveries(models.EventOnlineUsers, sent)
	return ids
}

func (c *Coordinator) publish(ctx context.Context, name, userID, connID string) {
	err := observability.PublishEvent(ctx, observability.RoutingPresence, observability.EventEnvelope{
		EventType: "presence",
		EventName: name,
		Payload: map[string]interface{}{
			"user_id": userID,
			"conn_id": connID,
		},
	}, nil)
	if err != nil {
		slog.WarnContext(ctx, "publish presence event failed", "user_id", userID, "err", err)
	}
}
