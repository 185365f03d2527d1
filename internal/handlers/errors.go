package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"im-service/internal/delivery"
	"im-service/internal/repositories"
)

// Outcome codes reported in audit records.
const (
	outcomeInvalid   = "invalid_payload"
	outcomeForbidden = "forbidden"
	outcomeNotFound  = "not_found"
	outcomeInternal  = "internal"
)

// respondError maps domain errors onto HTTP status codes and returns the
// outcome code of the failure.
func respondError(c *gin.Context, err error, fallback string) string {
	switch {
	case errors.Is(err, delivery.ErrInvalidPayload), errors.Is(err, repositories.ErrSelfConversation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return outcomeInvalid
	case errors.Is(err, delivery.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return outcomeForbidden
	case errors.Is(err, delivery.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return outcomeForbidden
	case errors.Is(err, repositories.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return outcomeNotFound
	case errors.Is(err, repositories.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return outcomeNotFound
	case errors.Is(err, repositories.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return outcomeNotFound
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
		return outcomeInternal
	}
}
