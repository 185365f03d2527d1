package models

import (
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
)

// ConversationType distinguishes one-to-one chats from groups.
type ConversationType string

const (
	ConversationPrivate ConversationType = "private"
	ConversationGroup   ConversationType = "group"
)

// Conversation is a private chat between two users or a group.
type Conversation struct {
	ID             string           `db:"id" json:"id"`
	Type           ConversationType `db:"type" json:"type"`
	ParticipantIDs pq.StringArray   `db:"participant_ids" json:"participantIds"`
	Name           string           `db:"name" json:"name,omitempty"`
	GroupImage     string           `db:"group_image" json:"groupImage,omitempty"`
	AdminIDs       pq.StringArray   `db:"admin_ids" json:"adminIds,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"createdAt"`
}

// HasParticipant reports whether userID belongs to the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	return contains(c.ParticipantIDs, userID)
}

// IsAdmin reports whether userID administers a group conversation.
func (c Conversation) IsAdmin(userID string) bool {
	return contains(c.AdminIDs, userID)
}

// OtherParticipant returns the counterpart of userID in a private conversation.
func (c Conversation) OtherParticipant(userID string) (string, bool) {
	if c.Type != ConversationPrivate || !c.HasParticipant(userID) {
		return "", false
	}
	for _, id := range c.ParticipantIDs {
		if id != userID {
			return id, true
		}
	}
	return "", false
}

// ConversationSummary is a conversation as listed for one user.
type ConversationSummary struct {
	Conversation
	LastMessage *Message `json:"lastMessage"`
}

// PairKey is the order-independent identity of a private conversation.
func PairKey(userA, userB string) string {
	ids := []string{userA, userB}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
