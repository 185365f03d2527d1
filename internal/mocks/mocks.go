package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"im-service/internal/models"
	"im-service/internal/repositories"
)

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) GetUser(ctx context.Context, userID string) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) SetOnlineStatus(ctx context.Context, userID string, status models.OnlineStatus, lastSeen *time.Time) error {
	args := m.Called(ctx, userID, status, lastSeen)
	return args.Error(0)
}

func (m *UserRepositoryMock) ListOfflineUsers(ctx context.Context) ([]models.LastSeen, error) {
	args := m.Called(ctx)
	var list []models.LastSeen
	if val := args.Get(0); val != nil {
		list = val.([]models.LastSeen)
	}
	return list, args.Error(1)
}

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) GetOrCreatePrivate(ctx context.Context, userID, otherID string) (models.Conversation, bool, error) {
	args := m.Called(ctx, userID, otherID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Bool(1), args.Error(2)
}

func (m *ConversationRepositoryMock) CreateGroup(ctx context.Context, adminID, name, groupImage string, memberIDs []string) (models.Conversation, error) {
	args := m.Called(ctx, adminID, name, groupImage, memberIDs)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) UpdateGroupImage(ctx context.Context, conversationID, groupImage string) (models.Conversation, error) {
	args := m.Called(ctx, conversationID, groupImage)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.ConversationSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationSummary)
	}
	return list, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, conversationID, viewerID string) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, viewerID)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *MessageRepositoryMock) MarkDelivered(ctx context.Context, messageID string) (bool, error) {
	args := m.Called(ctx, messageID)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, messageIDs []string, readerID string) ([]repositories.StatusChange, error) {
	args := m.Called(ctx, messageIDs, readerID)
	var list []repositories.StatusChange
	if val := args.Get(0); val != nil {
		list = val.([]repositories.StatusChange)
	}
	return list, args.Error(1)
}

func (m *MessageRepositoryMock) ToggleReaction(ctx context.Context, messageID, emoji, userID string, at time.Time) (models.Message, error) {
	args := m.Called(ctx, messageID, emoji, userID, at)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) DeleteForAll(ctx context.Context, messageID string) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) DeleteForUser(ctx context.Context, messageID, userID string) error {
	args := m.Called(ctx, messageID, userID)
	return args.Error(0)
}
