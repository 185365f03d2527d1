package models

import "encoding/json"

// Client to server socket events.
const (
	EventUserOnline       = "user_online"
	EventJoinConversation = "join_conversation"
	EventSendMessage      = "send_message"
	EventMarkAsRead       = "mark_as_read"
	EventReactMessage     = "react_message"
	EventDeleteMessage    = "delete_message"
)

// Server to client socket events.
const (
	EventOnlineUsers       = "online_users"
	EventReceiveMessage    = "receive_message"
	EventMessagesRead      = "messages_read"
	EventMessageReacted    = "message_reacted"
	EventMessageDeleted    = "message_deleted"
	EventGroupCreated      = "group_created"
	EventGroupImageUpdated = "group_image_updated"
	EventAck               = "ack"
)

// Event is an outbound socket frame.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// InboundFrame is a socket frame sent by a client. AckID is an optional
// client nonce echoed back in the matching ack.
type InboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	AckID string          `json:"ackId,omitempty"`
}

// Ack reports the outcome of one inbound frame.
type Ack struct {
	AckID string `json:"ackId"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

type MessagesRead struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
	ReaderID       string   `json:"readerId"`
}

type MessageReacted struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	Reactions      Reactions `json:"reactions"`
}

type MessageDeleted struct {
	MessageID         string `json:"messageId"`
	ConversationID    string `json:"conversationId"`
	DeleteForEveryone bool   `json:"deleteForEveryone"`
	UserID            string `json:"userId,omitempty"`
}

type GroupCreated struct {
	ConversationID string           `json:"conversationId"`
	Name           string           `json:"name"`
	GroupImage     string           `json:"groupImage,omitempty"`
	ParticipantIDs []string         `json:"participantIds"`
	Type           ConversationType `json:"type"`
}

type GroupImageUpdated struct {
	ConversationID string `json:"conversationId"`
	GroupImage     string `json:"groupImage"`
}
