package repositories

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"im-service/internal/models"
)

func TestMemoryGetOrCreatePrivateConcurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 20)
	created := make([]bool, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "u1", "u2"
			if i%2 == 0 {
				a, b = b, a
			}
			conv, c, err := store.GetOrCreatePrivate(ctx, a, b)
			assert.NoError(t, err)
			ids[i], created[i] = conv.ID, c
		}(i)
	}
	wg.Wait()

	createdCount := 0
	for i, id := range ids {
		assert.Equal(t, ids[0], id)
		if created[i] {
			createdCount++
		}
	}
	assert.Equal(t, 1, createdCount)

	_, _, err := store.GetOrCreatePrivate(ctx, "u1", "u1")
	assert.ErrorIs(t, err, ErrSelfConversation)
}

func TestMemoryMessageLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	conv, _, err := store.GetOrCreatePrivate(ctx, "u1", "u2")
	require.NoError(t, err)

	_, err = store.CreateMessage(ctx, models.Message{ConversationID: "missing", SenderID: "u1", Content: models.TextContent("x")})
	assert.ErrorIs(t, err, ErrConversationNotFound)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m1, err := store.CreateMessage(ctx, models.Message{ConversationID: conv.ID, SenderID: "u1", ReceiverID: "u2", Content: models.TextContent("one"), Timestamp: base})
	require.NoError(t, err)
	m2, err := store.CreateMessage(ctx, models.Message{ConversationID: conv.ID, SenderID: "u2", ReceiverID: "u1", Content: models.TextContent("two"), Timestamp: base.Add(time.Second)})
	require.NoError(t, err)
	assert.Equal(t, models.MessageSent, m1.Status)

	ok, err := store.MarkDelivered(ctx, m1.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.MarkDelivered(ctx, m1.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	changes, err := store.MarkRead(ctx, []string{m1.ID, m2.ID}, "u2")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, m1.ID, changes[0].MessageID)

	changes, err = store.MarkRead(ctx, []string{m1.ID}, "u2")
	require.NoError(t, err)
	assert.Empty(t, changes)

	require.NoError(t, store.DeleteForUser(ctx, m2.ID, "u1"))
	require.NoError(t, store.DeleteForUser(ctx, m2.ID, "u1"))
	got, err := store.GetMessage(ctx, m2.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, []string(got.DeletedFor))

	list, err := store.ListMessages(ctx, conv.ID, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, m1.ID, list[0].ID)

	summaries, err := store.ListConversations(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, m2.ID, summaries[0].LastMessage.ID)

	require.NoError(t, store.DeleteForAll(ctx, m1.ID))
	list, err = store.ListMessages(ctx, conv.ID, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, store.DeleteForAll(ctx, "nope"), ErrMessageNotFound)
}

func TestMemoryReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	conv, err := store.CreateGroup(ctx, "u1", "team", "", []string{"u2", "u3", "u2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "u3"}, []string(conv.ParticipantIDs))

	conv.ParticipantIDs[0] = "mallory"
	again, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", again.ParticipantIDs[0])

	_, err = store.UpdateGroupImage(ctx, conv.ID, "https://cdn/g.png")
	require.NoError(t, err)
	again, err = store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/g.png", again.GroupImage)
}

func TestMemoryPresence(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.PutUser(models.User{ID: "u1", Name: "Ann"})

	user, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, user.OnlineStatus)

	seen := time.Now().UTC()
	require.NoError(t, store.SetOnlineStatus(ctx, "u1", models.StatusOffline, &seen))
	user, err = store.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, user.LastSeen)
	assert.True(t, seen.Equal(*user.LastSeen))

	_, err = store.GetUser(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
	require.NoError(t, store.SetOnlineStatus(ctx, "ghost", models.StatusOnline, nil))
	user, err = store.GetUser(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, user.OnlineStatus)
	assert.Nil(t, user.LastSeen)

	offline, err := store.ListOfflineUsers(ctx)
	require.NoError(t, err)
	require.Len(t, offline, 1)
	assert.Equal(t, "u1", offline[0].ID)
	require.NotNil(t, offline[0].LastSeen)
	assert.True(t, seen.Equal(*offline[0].LastSeen))
}
