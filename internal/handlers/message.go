package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"im-service/internal/delivery"
	"im-service/internal/telemetry"
)

// MessageHandler is the HTTP twin of the socket send and delete events.
type MessageHandler struct {
	router  *delivery.Router
	tracker *delivery.Tracker
	audit   *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler. audit may be nil.
func NewMessageHandler(router *delivery.Router, tracker *delivery.Tracker, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{router: router, tracker: tracker, audit: audit}
}

// PostMessage persists a message through the router, so connected
// participants receive it exactly as if it had been sent over the socket.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	var in delivery.SendMessageInput
	if err := c.ShouldBindJSON(&in); err != nil {
		emitAudit(c, h.audit, telemetry.Record{Action: telemetry.ActionMessageSend, Outcome: outcomeInvalid})
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec := telemetry.Record{Action: telemetry.ActionMessageSend, ConversationID: in.ConversationID}
	userID := c.GetString("userID")
	if in.SenderID == "" {
		in.SenderID = userID
	}
	if in.SenderID != userID {
		rec.Outcome = outcomeForbidden
		emitAudit(c, h.audit, rec)
		c.JSON(http.StatusForbidden, gin.H{"error": "sender does not match token"})
		return
	}

	msg, err := h.router.Route(c.Request.Context(), in)
	if err != nil {
		rec.Outcome = respondError(c, err, "could not send message")
		emitAudit(c, h.audit, rec)
		return
	}
	rec.Outcome = telemetry.OutcomeOK
	rec.MessageID = msg.ID
	emitAudit(c, h.audit, rec)
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// DeleteMessage deletes for the caller or, for the sender, for everyone.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	var req struct {
		MessageID         string `json:"messageId" binding:"required"`
		DeleteForEveryone bool   `json:"deleteForEveryone"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		emitAudit(c, h.audit, telemetry.Record{Action: telemetry.ActionMessageDelete, Outcome: outcomeInvalid})
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec := telemetry.Record{Action: telemetry.ActionMessageDelete, MessageID: req.MessageID}
	deleted, err := h.tracker.Delete(c.Request.Context(), req.MessageID, c.GetString("userID"), req.DeleteForEveryone)
	if err != nil {
		rec.Outcome = respondError(c, err, "could not delete message")
		emitAudit(c, h.audit, rec)
		return
	}
	rec.Outcome = telemetry.OutcomeOK
	rec.ConversationID = deleted.ConversationID
	emitAudit(c, h.audit, rec)
	c.JSON(http.StatusOK, deleted)
}
