package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// OnlineLister exposes the online user snapshot.
type OnlineLister interface {
	UserIDs() []string
}

// OnlineUsers serves the current presence snapshot.
func OnlineUsers(presence OnlineLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"users": presence.UserIDs()})
	}
}
