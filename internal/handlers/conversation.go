package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"im-service/internal/delivery"
	"im-service/internal/models"
	"im-service/internal/repositories"
	"im-service/internal/telemetry"
)

// ConversationHandler serves conversation lookups and group management.
type ConversationHandler struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	router        *delivery.Router
	audit         *telemetry.AuditEmitter
}

// NewConversationHandler builds a ConversationHandler. audit may be nil.
func NewConversationHandler(conversations repositories.ConversationRepository, messages repositories.MessageRepository,
	router *delivery.Router, audit *telemetry.AuditEmitter) *ConversationHandler {
	return &ConversationHandler{conversations: conversations, messages: messages, router: router, audit: audit}
}

// GetMessages is the reconciliation fetch: the conversation history visible
// to the caller, oldest first.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	userID := c.GetString("userID")
	conv, ok := h.loadForParticipant(c, c.Param("id"), userID)
	if !ok {
		return
	}

	msgs, err := h.messages.ListMessages(c.Request.Context(), conv.ID, userID)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "list messages failed", "conversation_id", conv.ID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// GetOrCreate returns the private conversation between the caller and user2.
func (h *ConversationHandler) GetOrCreate(c *gin.Context) {
	userID := c.GetString("userID")
	otherID := strings.TrimSpace(c.Query("user2"))
	if otherID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user2 is required"})
		return
	}

	conv, created, err := h.conversations.GetOrCreatePrivate(c.Request.Context(), userID, otherID)
	if err != nil {
		respondError(c, err, "could not create conversation")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"conversation": conv, "created": created})
}

// CreateGroup creates a group administered by the caller. The request must
// name at least two participants; the caller joins as admin whether listed
// or not.
func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name         string   `json:"name" binding:"required"`
		Participants []string `json:"participants" binding:"required"`
		GroupImage   string   `json:"groupImage"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		emitAudit(c, h.audit, telemetry.Record{Action: telemetry.ActionGroupCreate, Outcome: outcomeInvalid})
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	requested := 0
	members := make([]string, 0, len(req.Participants))
	seen := map[string]struct{}{}
	for _, id := range req.Participants {
		id = strings.TrimSpace(id)
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		requested++
		if id != userID {
			members = append(members, id)
		}
	}
	if strings.TrimSpace(req.Name) == "" || requested < 2 || len(members) == 0 {
		emitAudit(c, h.audit, telemetry.Record{Action: telemetry.ActionGroupCreate, Outcome: outcomeInvalid})
		c.JSON(http.StatusBadRequest, gin.H{"error": "a group needs a name and at least two participants"})
		return
	}

	conv, err := h.conversations.CreateGroup(c.Request.Context(), userID, strings.TrimSpace(req.Name), req.GroupImage, members)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "create group failed", "user_id", userID, "err", err)
		emitAudit(c, h.audit, telemetry.Record{Action: telemetry.ActionGroupCreate, Outcome: outcomeInternal})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create group"})
		return
	}
	h.router.AnnounceGroup(c.Request.Context(), conv)
	emitAudit(c, h.audit, telemetry.Record{Action: telemetry.ActionGroupCreate, Outcome: telemetry.OutcomeOK, ConversationID: conv.ID})
	c.JSON(http.StatusCreated, gin.H{"conversation": conv})
}

// UpdateGroupImage replaces the image of a group the caller administers.
func (h *ConversationHandler) UpdateGroupImage(c *gin.Context) {
	var req struct {
		ConversationID string `json:"conversationId" binding:"required"`
		GroupImage     string `json:"groupImage" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		emitAudit(c, h.audit, telemetry.Record{Action: telemetry.ActionGroupImage, Outcome: outcomeInvalid})
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	rec := telemetry.Record{Action: telemetry.ActionGroupImage, ConversationID: req.ConversationID}
	conv, err := h.conversations.GetConversation(c.Request.Context(), req.ConversationID)
	if err != nil {
		rec.Outcome = respondError(c, err, "failed to load conversation")
		emitAudit(c, h.audit, rec)
		return
	}
	if conv.Type != models.ConversationGroup {
		rec.Outcome = outcomeInvalid
		emitAudit(c, h.audit, rec)
		c.JSON(http.StatusBadRequest, gin.H{"error": "not a group conversation"})
		return
	}
	if !conv.IsAdmin(userID) {
		rec.Outcome = outcomeForbidden
		emitAudit(c, h.audit, rec)
		c.JSON(http.StatusForbidden, gin.H{"error": "only group admins can change the image"})
		return
	}

	conv, err = h.conversations.UpdateGroupImage(c.Request.Context(), conv.ID, req.GroupImage)
	if err != nil {
		rec.Outcome = respondError(c, err, "could not update group image")
		emitAudit(c, h.audit, rec)
		return
	}
	h.router.AnnounceGroupImage(c.Request.Context(), conv)
	rec.Outcome = telemetry.OutcomeOK
	emitAudit(c, h.audit, rec)
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// List returns the caller's conversations with their latest message.
func (h *ConversationHandler) List(c *gin.Context) {
	userID := c.GetString("userID")
	list, err := h.conversations.ListConversations(c.Request.Context(), userID)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "list conversations failed", "user_id", userID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

// Get returns a single conversation.
func (h *ConversationHandler) Get(c *gin.Context) {
	conv, ok := h.loadForParticipant(c, c.Param("conversationId"), c.GetString("userID"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h *ConversationHandler) loadForParticipant(c *gin.Context, conversationID, userID string) (models.Conversation, bool) {
	conv, err := h.conversations.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		respondError(c, err, "failed to load conversation")
		return models.Conversation{}, false
	}
	if !conv.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return models.Conversation{}, false
	}
	return conv, true
}
