package ws

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"im-service/internal/models"
)

type stubConn struct {
	id     string
	userID string
	err    error

	mu     sync.Mutex
	events []models.Event
	closed bool
}

func (c *stubConn) ID() string     { return c.id }
func (c *stubConn) UserID() string { return c.userID }

func (c *stubConn) Send(event models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, event)
	return nil
}

func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubConn) received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func addConn(h *Hub, id, user string) *stubConn {
	conn := &stubConn{id: id, userID: user}
	h.Add(conn, ConnInfo{ConnID: id, UserID: user})
	return conn
}

func TestHubRoomsAndRemove(t *testing.T) {
	h := NewHub()
	c1 := addConn(h, "c1", "u1")
	addConn(h, "c2", "u2")

	assert.True(t, h.Join("room", "c1"))
	assert.True(t, h.Join("room", "c1"))
	assert.True(t, h.Join("room", "c2"))
	assert.False(t, h.Join("room", "missing"))
	assert.Equal(t, 2, h.RoomSize("room"))

	assert.Equal(t, 2, h.BroadcastRoom("room", models.Event{Event: "x"}))
	assert.Equal(t, 1, c1.received())

	assert.True(t, h.Remove("c2"))
	assert.False(t, h.Remove("c2"))
	assert.Equal(t, 1, h.RoomSize("room"))
	assert.True(t, h.Remove("c1"))
	assert.Equal(t, 0, h.RoomSize("room"))
	assert.Equal(t, 0, h.Len())
}

func TestHubMulticastDeduplicates(t *testing.T) {
	h := NewHub()
	c1 := addConn(h, "c1", "u1")
	c2 := addConn(h, "c2", "u2")
	c3 := addConn(h, "c3", "u3")
	require.True(t, h.Join("room", "c1"))

	sent := h.Multicast("room", []string{"c1", "c2", "c2", "gone"}, models.Event{Event: "x"})
	assert.Equal(t, 2, sent)
	assert.Equal(t, 1, c1.received())
	assert.Equal(t, 1, c2.received())
	assert.Equal(t, 0, c3.received())

	assert.Equal(t, 1, h.SendTo(models.Event{Event: "y"}, "c3", "c3"))
	assert.Equal(t, 1, c3.received())
}

func TestHubDropsFailingConnection(t *testing.T) {
	h := NewHub()
	good := addConn(h, "c1", "u1")
	bad := &stubConn{id: "c2", userID: "u2", err: ErrSlowConsumer}
	h.Add(bad, ConnInfo{ConnID: "c2", UserID: "u2"})
	require.True(t, h.Join("room", "c2"))

	assert.Equal(t, 1, h.Broadcast(models.Event{Event: "x"}))
	assert.Equal(t, 1, good.received())
	assert.True(t, bad.closed)

	_, ok := h.Conn("c2")
	assert.False(t, ok)
	assert.Equal(t, 0, h.RoomSize("room"))
}

func TestAckCode(t *testing.T) {
	cases := map[error]string{
		errUnknownEvent:       CodeInvalidPayload,
		errRateLimited:        CodeRateLimited,
		errors.New("db down"): CodeInternal,
		ErrSlowConsumer:       CodeInternal,
	}
	for err, want := range cases {
		assert.Equal(t, want, ackCode(err), err.Error())
	}
}

func TestDecodeID(t *testing.T) {
	id, err := decodeID([]byte(`"u1"`), "userId")
	require.NoError(t, err)
	assert.Equal(t, "u1", id)

	id, err = decodeID([]byte(`{"userId":"u2"}`), "userId")
	require.NoError(t, err)
	assert.Equal(t, "u2", id)

	for _, raw := range []string{``, `""`, `{}`, `{"userId":""}`, `{"userId":5}`, `[1]`} {
		_, err := decodeID([]byte(raw), "userId")
		assert.Error(t, err, raw)
	}
}
