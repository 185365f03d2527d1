package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"im-service/internal/models"
)

// MemoryStore implements the user, conversation and message repositories in
// process memory. Every operation runs under a single lock, which makes the
// read-modify-write paths atomic the same way the Postgres statements are.
type MemoryStore struct {
	mu            sync.Mutex
	users         map[string]models.User
	conversations map[string]models.Conversation
	pairs         map[string]string
	messages      map[string]models.Message
	now           func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         map[string]models.User{},
		conversations: map[string]models.Conversation{},
		pairs:         map[string]string{},
		messages:      map[string]models.Message{},
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// PutUser seeds or replaces a user record.
func (s *MemoryStore) PutUser(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.OnlineStatus == "" {
		user.OnlineStatus = models.StatusOffline
	}
	s.users[user.ID] = user
}

func (s *MemoryStore) GetUser(_ context.Context, userID string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return copyUser(user), nil
}

func (s *MemoryStore) SetOnlineStatus(_ context.Context, userID string, status models.OnlineStatus, lastSeen *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		user = models.User{ID: userID}
	}
	user.OnlineStatus = status
	user.LastSeen = nil
	if lastSeen != nil {
		ts := *lastSeen
		user.LastSeen = &ts
	}
	s.users[userID] = user
	return nil
}

func (s *MemoryStore) ListOfflineUsers(_ context.Context) ([]models.LastSeen, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.LastSeen{}
	for _, u := range s.users {
		if u.OnlineStatus != models.StatusOffline {
			continue
		}
		u = copyUser(u)
		out = append(out, models.LastSeen{ID: u.ID, LastSeen: u.LastSeen})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, conversationID string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	return copyConversation(conv), nil
}

func (s *MemoryStore) GetOrCreatePrivate(_ context.Context, userID, otherID string) (models.Conversation, bool, error) {
	if userID == otherID {
		return models.Conversation{}, false, ErrSelfConversation
	}
	key := models.PairKey(userID, otherID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.pairs[key]; ok {
		return copyConversation(s.conversations[id]), false, nil
	}
	conv := models.Conversation{
		ID:             uuid.NewString(),
		Type:           models.ConversationPrivate,
		ParticipantIDs: []string{userID, otherID},
		CreatedAt:      s.now(),
	}
	s.conversations[conv.ID] = conv
	s.pairs[key] = conv.ID
	return copyConversation(conv), true, nil
}

func (s *MemoryStore) CreateGroup(_ context.Context, adminID, name, groupImage string, memberIDs []string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := models.Conversation{
		ID:             uuid.NewString(),
		Type:           models.ConversationGroup,
		ParticipantIDs: uniqueIDs(append([]string{adminID}, memberIDs...)),
		Name:           name,
		GroupImage:     groupImage,
		AdminIDs:       []string{adminID},
		CreatedAt:      s.now(),
	}
	s.conversations[conv.ID] = conv
	return copyConversation(conv), nil
}

func (s *MemoryStore) UpdateGroupImage(_ context.Context, conversationID, groupImage string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok || conv.Type != models.ConversationGroup {
		return models.Conversation{}, ErrConversationNotFound
	}
	conv.GroupImage = groupImage
	s.conversations[conversationID] = conv
	return copyConversation(conv), nil
}

func (s *MemoryStore) ListConversations(_ context.Context, userID string) ([]models.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := []models.ConversationSummary{}
	for _, conv := range s.conversations {
		if !conv.HasParticipant(userID) {
			continue
		}
		summary := models.ConversationSummary{Conversation: copyConversation(conv)}
		var last *models.Message
		for _, m := range s.messages {
			if m.ConversationID != conv.ID || m.HiddenFor(userID) {
				continue
			}
			if last == nil || messageBefore(*last, m) {
				msg := m
				last = &msg
			}
		}
		if last != nil {
			msg := copyMessage(*last)
			summary.LastMessage = &msg
		}
		result = append(result, summary)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, msg models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return models.Message{}, ErrConversationNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	msg.Status = models.MessageSent
	msg.DeletedForAll = false
	msg.DeletedFor = []string{}
	msg.Reactions = models.Reactions{}
	s.messages[msg.ID] = msg
	return copyMessage(msg), nil
}

func (s *MemoryStore) GetMessage(_ context.Context, messageID string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	return copyMessage(msg), nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID, viewerID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := []models.Message{}
	for _, m := range s.messages {
		if m.ConversationID == conversationID && !m.HiddenFor(viewerID) {
			msgs = append(msgs, copyMessage(m))
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return messageBefore(msgs[i], msgs[j]) })
	return msgs, nil
}

func (s *MemoryStore) MarkDelivered(_ context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return false, ErrMessageNotFound
	}
	if msg.Status != models.MessageSent {
		return false, nil
	}
	msg.Status = msg.Status.Advance(models.MessageDelivered)
	s.messages[messageID] = msg
	return true, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, messageIDs []string, readerID string) ([]StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changes := []StatusChange{}
	for _, id := range messageIDs {
		msg, ok := s.messages[id]
		if !ok || msg.Status == models.MessageRead || msg.SenderID == readerID {
			continue
		}
		conv, ok := s.conversations[msg.ConversationID]
		if !ok || !conv.HasParticipant(readerID) {
			continue
		}
		msg.Status = msg.Status.Advance(models.MessageRead)
		s.messages[id] = msg
		changes = append(changes, StatusChange{MessageID: id, ConversationID: msg.ConversationID})
	}
	return changes, nil
}

func (s *MemoryStore) ToggleReaction(_ context.Context, messageID, emoji, userID string, at time.Time) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	msg.Reactions, _ = msg.Reactions.Toggle(emoji, userID, at)
	s.messages[messageID] = msg
	return copyMessage(msg), nil
}

func (s *MemoryStore) DeleteForAll(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return ErrMessageNotFound
	}
	msg.DeletedForAll = true
	s.messages[messageID] = msg
	return nil
}

func (s *MemoryStore) DeleteForUser(_ context.Context, messageID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return ErrMessageNotFound
	}
	msg.DeletedFor = uniqueIDs(append(append([]string{}, msg.DeletedFor...), userID))
	s.messages[messageID] = msg
	return nil
}

func messageBefore(a, b models.Message) bool {
	if a.Timestamp.Equal(b.Timestamp) {
		return a.ID < b.ID
	}
	return a.Timestamp.Before(b.Timestamp)
}

func copyUser(u models.User) models.User {
	if u.LastSeen != nil {
		ts := *u.LastSeen
		u.LastSeen = &ts
	}
	return u
}

func copyConversation(c models.Conversation) models.Conversation {
	c.ParticipantIDs = append([]string{}, c.ParticipantIDs...)
	c.AdminIDs = append([]string{}, c.AdminIDs...)
	return c
}

func copyMessage(m models.Message) models.Message {
	m.DeletedFor = append([]string{}, m.DeletedFor...)
	m.Reactions = append(models.Reactions{}, m.Reactions...)
	if m.Content.Attachment != nil {
		att := *m.Content.Attachment
		m.Content.Attachment = &att
	}
	return m
}
