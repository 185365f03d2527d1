package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// MessageStatus is the delivery state of a message. It only moves forward.
type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

func (s MessageStatus) rank() int {
	switch s {
	case MessageSent:
		return 1
	case MessageDelivered:
		return 2
	case MessageRead:
		return 3
	default:
		return 0
	}
}

// Advance returns the later of s and next, so status never regresses.
func (s MessageStatus) Advance(next MessageStatus) MessageStatus {
	if next.rank() > s.rank() {
		return next
	}
	return s
}

// AttachmentKind enumerates the media an attachment can carry.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentVideo AttachmentKind = "video"
	AttachmentAudio AttachmentKind = "audio"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment describes an uploaded file relayed by URL.
type Attachment struct {
	Type AttachmentKind `json:"type"`
	URL  string         `json:"url"`
	Name string         `json:"name,omitempty"`
}

var ErrInvalidContent = errors.New("invalid message content")

// MessageContent is either plain text or an attachment descriptor.
// It is encoded as a JSON string or object respectively.
type MessageContent struct {
	Text       string
	Attachment *Attachment
}

// TextContent builds a plain text content.
func TextContent(text string) MessageContent {
	return MessageContent{Text: text}
}

// Validate rejects empty text and incomplete attachments.
func (c MessageContent) Validate() error {
	if c.Attachment == nil {
		if strings.TrimSpace(c.Text) == "" {
			return ErrInvalidContent
		}
		return nil
	}
	switch c.Attachment.Type {
	case AttachmentImage, AttachmentVideo, AttachmentAudio, AttachmentFile:
	default:
		return fmt.Errorf("%w: unknown attachment type %q", ErrInvalidContent, c.Attachment.Type)
	}
	if strings.TrimSpace(c.Attachment.URL) == "" {
		return fmt.Errorf("%w: attachment url is required", ErrInvalidContent)
	}
	return nil
}

// Preview is a short text form used in conversation listings.
func (c MessageContent) Preview() string {
	if c.Attachment != nil {
		if c.Attachment.Name != "" {
			return c.Attachment.Name
		}
		return string(c.Attachment.Type)
	}
	return c.Text
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Attachment != nil {
		return json.Marshal(c.Attachment)
	}
	return json.Marshal(c.Text)
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = MessageContent{}
		return nil
	}
	if data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*c = MessageContent{Text: text}
		return nil
	}
	var att Attachment
	if err := json.Unmarshal(data, &att); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	*c = MessageContent{Attachment: &att}
	return nil
}

// Value stores the content as JSONB. lib/pq sends []byte as bytea, so the
// document goes out as text.
func (c MessageContent) Value() (driver.Value, error) {
	data, err := c.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan reads the JSONB representation back.
func (c *MessageContent) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return c.UnmarshalJSON(v)
	case string:
		return c.UnmarshalJSON([]byte(v))
	case nil:
		*c = MessageContent{}
		return nil
	default:
		return fmt.Errorf("scan message content: unsupported type %T", src)
	}
}

// Reaction is one user's emoji on a message.
type Reaction struct {
	Emoji     string    `json:"emoji"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Reactions is the ordered reaction list of a message, unique per (emoji, user).
type Reactions []Reaction

// Toggle removes the (emoji, userID) reaction when present and appends it
// otherwise. The receiver is left untouched.
func (r Reactions) Toggle(emoji, userID string, at time.Time) (Reactions, bool) {
	out := make(Reactions, 0, len(r)+1)
	removed := false
	for _, reaction := range r {
		if reaction.Emoji == emoji && reaction.UserID == userID {
			removed = true
			continue
		}
		out = append(out, reaction)
	}
	if removed {
		return out, false
	}
	return append(out, Reaction{Emoji: emoji, UserID: userID, CreatedAt: at}), true
}

func (r Reactions) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]Reaction(r))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (r *Reactions) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case nil:
		*r = Reactions{}
		return nil
	default:
		return fmt.Errorf("scan reactions: unsupported type %T", src)
	}
	var list []Reaction
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*r = list
	return nil
}

// Message is a chat message in a private or group conversation.
type Message struct {
	ID             string         `db:"id" json:"id"`
	ConversationID string         `db:"conversation_id" json:"conversationId"`
	SenderID       string         `db:"sender_id" json:"senderId"`
	ReceiverID     string         `db:"receiver_id" json:"receiverId,omitempty"`
	Content        MessageContent `db:"content" json:"content"`
	Status         MessageStatus  `db:"status" json:"status"`
	Timestamp      time.Time      `db:"created_at" json:"timestamp"`
	DeletedForAll  bool           `db:"deleted_for_all" json:"deletedForAll"`
	DeletedFor     pq.StringArray `db:"deleted_for" json:"deletedFor"`
	Reactions      Reactions      `db:"reactions" json:"reactions"`
	ReplyToID      string         `db:"reply_to_id" json:"replyToId,omitempty"`
	ForwardedFrom  string         `db:"forwarded_from" json:"forwardedFrom,omitempty"`
	// Sender is attached to live deliveries only; it is never stored.
	Sender *UserSummary `db:"-" json:"sender,omitempty"`
}

// HiddenFor reports whether the message is excluded from userID's listing.
func (m Message) HiddenFor(userID string) bool {
	return m.DeletedForAll || contains(m.DeletedFor, userID)
}
