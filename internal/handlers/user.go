package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"im-service/internal/repositories"
)

// UserHandler serves the persisted presence fields behind "last seen".
type UserHandler struct {
	users repositories.UserRepository
}

// NewUserHandler builds a UserHandler.
func NewUserHandler(users repositories.UserRepository) *UserHandler {
	return &UserHandler{users: users}
}

// Status returns onlineStatus and lastSeen of one user.
func (h *UserHandler) Status(c *gin.Context) {
	user, err := h.users.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		if respondError(c, err, "failed to load user status") == outcomeInternal {
			slog.ErrorContext(c.Request.Context(), "load user status failed", "user_id", c.Param("id"), "err", err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"onlineStatus": user.OnlineStatus, "lastSeen": user.LastSeen})
}

// OfflineStatus lists every offline user with its last-seen time.
func (h *UserHandler) OfflineStatus(c *gin.Context) {
	users, err := h.users.ListOfflineUsers(c.Request.Context())
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "list offline users failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load offline users"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}
