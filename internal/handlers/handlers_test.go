package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"im-service/internal/delivery"
	"im-service/internal/mocks"
	"im-service/internal/models"
	"im-service/internal/presence"
	"im-service/internal/repositories"
	"im-service/internal/telemetry"
	"im-service/internal/ws"
)

type fixture struct {
	convs    *mocks.ConversationRepositoryMock
	msgs     *mocks.MessageRepositoryMock
	users    *mocks.UserRepositoryMock
	pub      *mocks.PublisherMock
	registry *presence.Registry
	router   *gin.Engine
}

func setupRouter(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		convs:    new(mocks.ConversationRepositoryMock),
		msgs:     new(mocks.MessageRepositoryMock),
		users:    new(mocks.UserRepositoryMock),
		pub:      new(mocks.PublisherMock),
		registry: presence.NewRegistry(),
	}
	hub := ws.NewHub()
	audit := telemetry.NewAuditEmitter(f.pub, "audit.log", "im-service", "test")
	router := delivery.NewRouter(f.convs, f.msgs, f.users, f.registry, hub)
	tracker := delivery.NewTracker(f.convs, f.msgs, f.registry, hub)
	convHandler := NewConversationHandler(f.convs, f.msgs, router, audit)
	msgHandler := NewMessageHandler(router, tracker, audit)
	userHandler := NewUserHandler(f.users)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "u1")
		c.Next()
	})
	r.GET("/conversation/messages/:id", convHandler.GetMessages)
	r.POST("/conversation/messages", msgHandler.PostMessage)
	r.POST("/messages/delete", msgHandler.DeleteMessage)
	r.GET("/conversation/get-or-create", convHandler.GetOrCreate)
	r.POST("/conversation/group", convHandler.CreateGroup)
	r.POST("/conversation/update-group-image", convHandler.UpdateGroupImage)
	r.GET("/conversation/list", convHandler.List)
	r.GET("/conversation/:conversationId", convHandler.Get)
	r.GET("/users/online", OnlineUsers(f.registry))
	r.GET("/users/offline-status", userHandler.OfflineStatus)
	r.GET("/users/:id/status", userHandler.Status)
	f.router = r

	t.Cleanup(func() {
		f.convs.AssertExpectations(t)
		f.msgs.AssertExpectations(t)
		f.users.AssertExpectations(t)
		f.pub.AssertExpectations(t)
	})
	return f
}

// expectAudit expects exactly one audit record of action with outcome from u1.
func (f *fixture) expectAudit(action, outcome string) {
	f.pub.On("Publish", mock.Anything, "audit.log", mock.MatchedBy(func(ev any) bool {
		env, ok := ev.(telemetry.AuditEnvelope)
		return ok && env.Payload.Action == action && env.Payload.Outcome == outcome &&
			env.UserID != nil && *env.UserID == "u1" && env.RequestID != ""
	}), mock.Anything).Return(nil).Once()
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

var privateConv = models.Conversation{ID: "k1", Type: models.ConversationPrivate, ParticipantIDs: []string{"u1", "u2"}}

func TestGetMessagesSuccess(t *testing.T) {
	f := setupRouter(t)
	f.convs.On("GetConversation", mock.Anything, "k1").Return(privateConv, nil).Once()
	f.msgs.On("ListMessages", mock.Anything, "k1", "u1").Return([]models.Message{{ID: "m1", ConversationID: "k1", SenderID: "u2", Content: models.TextContent("hi")}}, nil).Once()

	rec := f.do(http.MethodGet, "/conversation/messages/k1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "hi", resp.Messages[0].Content.Text)
}

func TestGetMessagesNotParticipant(t *testing.T) {
	f := setupRouter(t)
	f.convs.On("GetConversation", mock.Anything, "k2").Return(models.Conversation{ID: "k2", ParticipantIDs: []string{"u7", "u8"}}, nil).Once()

	rec := f.do(http.MethodGet, "/conversation/messages/k2", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetMessagesNotFound(t *testing.T) {
	f := setupRouter(t)
	f.convs.On("GetConversation", mock.Anything, "nope").Return(nil, repositories.ErrConversationNotFound).Once()

	rec := f.do(http.MethodGet, "/conversation/messages/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostMessageRoutes(t *testing.T) {
	f := setupRouter(t)
	f.convs.On("GetConversation", mock.Anything, "k1").Return(privateConv, nil).Once()
	f.msgs.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.ConversationID == "k1" && m.SenderID == "u1" && m.ReceiverID == "u2" && m.Content.Text == "hi"
	})).Return(models.Message{ID: "m1", ConversationID: "k1", SenderID: "u1", ReceiverID: "u2", Content: models.TextContent("hi"), Status: models.MessageSent}, nil).Once()
	f.users.On("GetUser", mock.Anything, "u1").Return(models.User{ID: "u1", Name: "Ann"}, nil).Once()
	f.expectAudit(telemetry.ActionMessageSend, telemetry.OutcomeOK)

	rec := f.do(http.MethodPost, "/conversation/messages", `{"conversationId":"k1","content":"hi"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Message models.Message `json:"message"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Message.Sender)
	assert.Equal(t, "Ann", resp.Message.Sender.Name)
}

func TestPostMessageUnknownConversation(t *testing.T) {
	f := setupRouter(t)
	f.convs.On("GetConversation", mock.Anything, "nope").Return(nil, repositories.ErrConversationNotFound).Once()
	f.expectAudit(telemetry.ActionMessageSend, "not_found")

	rec := f.do(http.MethodPost, "/conversation/messages", `{"conversationId":"nope","content":"hi"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostMessageSenderMismatch(t *testing.T) {
	f := setupRouter(t)
	f.expectAudit(telemetry.ActionMessageSend, "forbidden")
	rec := f.do(http.MethodPost, "/conversation/messages", `{"conversationId":"k1","senderId":"u2","content":"hi"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPostMessageEmptyContent(t *testing.T) {
	f := setupRouter(t)
	f.expectAudit(telemetry.ActionMessageSend, "invalid_payload")
	rec := f.do(http.MethodPost, "/conversation/messages", `{"conversationId":"k1","content":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteMessageForEveryoneForbidden(t *testing.T) {
	f := setupRouter(t)
	f.msgs.On("GetMessage", mock.Anything, "m1").Return(models.Message{ID: "m1", ConversationID: "k1", SenderID: "u2"}, nil).Once()
	f.convs.On("GetConversation", mock.Anything, "k1").Return(privateConv, nil).Once()
	f.expectAudit(telemetry.ActionMessageDelete, "forbidden")

	rec := f.do(http.MethodPost, "/messages/delete", `{"messageId":"m1","deleteForEveryone":true}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeleteMessageForMe(t *testing.T) {
	f := setupRouter(t)
	f.msgs.On("GetMessage", mock.Anything, "m1").Return(models.Message{ID: "m1", ConversationID: "k1", SenderID: "u2"}, nil).Once()
	f.convs.On("GetConversation", mock.Anything, "k1").Return(privateConv, nil).Once()
	f.msgs.On("DeleteForUser", mock.Anything, "m1", "u1").Return(nil).Once()
	f.expectAudit(telemetry.ActionMessageDelete, telemetry.OutcomeOK)

	rec := f.do(http.MethodPost, "/messages/delete", `{"messageId":"m1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.MessageDeleted
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "u1", resp.UserID)
	assert.False(t, resp.DeleteForEveryone)
}

func TestDeleteMessageMissingID(t *testing.T) {
	f := setupRouter(t)
	f.expectAudit(telemetry.ActionMessageDelete, "invalid_payload")
	rec := f.do(http.MethodPost, "/messages/delete", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOrCreate(t *testing.T) {
	f := setupRouter(t)
	f.convs.On("GetOrCreatePrivate", mock.Anything, "u1", "u2").Return(privateConv, true, nil).Once()
	f.convs.On("GetOrCreatePrivate", mock.Anything, "u1", "u2").Return(privateConv, false, nil).Once()

	assert.Equal(t, http.StatusCreated, f.do(http.MethodGet, "/conversation/get-or-create?user2=u2", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/conversation/get-or-create?user2=u2", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/conversation/get-or-create", "").Code)
}

func TestGetOrCreateSelf(t *testing.T) {
	f := setupRouter(t)
	f.convs.On("GetOrCreatePrivate", mock.Anything, "u1", "u1").Return(nil, false, repositories.ErrSelfConversation).Once()

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/conversation/get-or-create?user2=u1", "").Code)
}

func TestCreateGroup(t *testing.T) {
	f := setupRouter(t)
	group := models.Conversation{ID: "g1", Type: models.ConversationGroup, Name: "team", ParticipantIDs: []string{"u1", "u2", "u3"}, AdminIDs: []string{"u1"}}
	f.convs.On("CreateGroup", mock.Anything, "u1", "team", "", []string{"u2", "u3"}).Return(group, nil).Once()
	f.expectAudit(telemetry.ActionGroupCreate, telemetry.OutcomeOK)

	rec := f.do(http.MethodPost, "/conversation/group", `{"name":"team","participants":["u2","u3","u2","u1"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateGroupWithOneOtherMember(t *testing.T) {
	f := setupRouter(t)
	group := models.Conversation{ID: "g2", Type: models.ConversationGroup, Name: "pair", ParticipantIDs: []string{"u1", "u2"}, AdminIDs: []string{"u1"}}
	f.convs.On("CreateGroup", mock.Anything, "u1", "pair", "", []string{"u2"}).Return(group, nil).Once()
	f.expectAudit(telemetry.ActionGroupCreate, telemetry.OutcomeOK)

	rec := f.do(http.MethodPost, "/conversation/group", `{"name":"pair","participants":["u1","u2"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateGroupTooSmall(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"single participant", `{"name":"team","participants":["u2"]}`},
		{"duplicates only", `{"name":"team","participants":["u2","u2"," "]}`},
		{"only the caller", `{"name":"team","participants":["u1","u1"]}`},
		{"blank name", `{"name":"  ","participants":["u2","u3"]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := setupRouter(t)
			f.expectAudit(telemetry.ActionGroupCreate, "invalid_payload")
			rec := f.do(http.MethodPost, "/conversation/group", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateGroupStoreFailure(t *testing.T) {
	f := setupRouter(t)
	f.convs.On("CreateGroup", mock.Anything, "u1", "team", "", []string{"u2", "u3"}).Return(nil, assert.AnError).Once()
	f.expectAudit(telemetry.ActionGroupCreate, "internal")

	rec := f.do(http.MethodPost, "/conversation/group", `{"name":"team","participants":["u2","u3"]}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUpdateGroupImageAdminOnly(t *testing.T) {
	f := setupRouter(t)
	group := models.Conversation{ID: "g1", Type: models.ConversationGroup, ParticipantIDs: []string{"u1", "u2"}, AdminIDs: []string{"u2"}}
	f.convs.On("GetConversation", mock.Anything, "g1").Return(group, nil).Once()
	f.expectAudit(telemetry.ActionGroupImage, "forbidden")

	rec := f.do(http.MethodPost, "/conversation/update-group-image", `{"conversationId":"g1","groupImage":"https://cdn/i.png"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUpdateGroupImage(t *testing.T) {
	f := setupRouter(t)
	group := models.Conversation{ID: "g1", Type: models.ConversationGroup, ParticipantIDs: []string{"u1", "u2"}, AdminIDs: []string{"u1"}}
	updated := group
	updated.GroupImage = "https://cdn/i.png"
	f.convs.On("GetConversation", mock.Anything, "g1").Return(group, nil).Once()
	f.convs.On("UpdateGroupImage", mock.Anything, "g1", "https://cdn/i.png").Return(updated, nil).Once()
	f.expectAudit(telemetry.ActionGroupImage, telemetry.OutcomeOK)

	rec := f.do(http.MethodPost, "/conversation/update-group-image", `{"conversationId":"g1","groupImage":"https://cdn/i.png"}`)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListConversations(t *testing.T) {
	f := setupRouter(t)
	f.convs.On("ListConversations", mock.Anything, "u1").Return([]models.ConversationSummary{{Conversation: privateConv}}, nil).Once()
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/conversation/list", "").Code)
}

func TestListConversationsError(t *testing.T) {
	f := setupRouter(t)
	f.convs.On("ListConversations", mock.Anything, "u1").Return(nil, assert.AnError).Once()
	require.Equal(t, http.StatusInternalServerError, f.do(http.MethodGet, "/conversation/list", "").Code)
}

func TestGetConversation(t *testing.T) {
	f := setupRouter(t)
	f.convs.On("GetConversation", mock.Anything, "k1").Return(privateConv, nil).Once()
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/conversation/k1", "").Code)
}

func TestOnlineUsers(t *testing.T) {
	f := setupRouter(t)
	f.registry.Set("u2", "c2")
	f.registry.Set("u1", "c1")

	rec := f.do(http.MethodGet, "/users/online", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Users []string `json:"users"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, []string{"u1", "u2"}, resp.Users)
}

func TestUserStatus(t *testing.T) {
	f := setupRouter(t)
	seen := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	f.users.On("GetUser", mock.Anything, "u2").Return(models.User{ID: "u2", OnlineStatus: models.StatusOffline, LastSeen: &seen}, nil).Once()

	rec := f.do(http.MethodGet, "/users/u2/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		OnlineStatus models.OnlineStatus `json:"onlineStatus"`
		LastSeen     *time.Time          `json:"lastSeen"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, models.StatusOffline, resp.OnlineStatus)
	require.NotNil(t, resp.LastSeen)
	assert.True(t, seen.Equal(*resp.LastSeen))
}

func TestUserStatusNotFound(t *testing.T) {
	f := setupRouter(t)
	f.users.On("GetUser", mock.Anything, "ghost").Return(nil, repositories.ErrUserNotFound).Once()
	require.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/users/ghost/status", "").Code)
}

func TestUserStatusStoreFailure(t *testing.T) {
	f := setupRouter(t)
	f.users.On("GetUser", mock.Anything, "u2").Return(nil, assert.AnError).Once()
	require.Equal(t, http.StatusInternalServerError, f.do(http.MethodGet, "/users/u2/status", "").Code)
}

func TestOfflineStatus(t *testing.T) {
	f := setupRouter(t)
	seen := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	f.users.On("ListOfflineUsers", mock.Anything).Return([]models.LastSeen{{ID: "u2", LastSeen: &seen}}, nil).Once()

	rec := f.do(http.MethodGet, "/users/offline-status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Users []models.LastSeen `json:"users"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Users, 1)
	assert.Equal(t, "u2", resp.Users[0].ID)
}

func TestOfflineStatusStoreFailure(t *testing.T) {
	f := setupRouter(t)
	f.users.On("ListOfflineUsers", mock.Anything).Return(nil, assert.AnError).Once()
	require.Equal(t, http.StatusInternalServerError, f.do(http.MethodGet, "/users/offline-status", "").Code)
}
