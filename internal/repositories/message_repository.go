package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"im-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// StatusChange identifies a message whose status was advanced.
type StatusChange struct {
	MessageID      string `db:"id"`
	ConversationID string `db:"conversation_id"`
}

// MessageRepository defines interactions for messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	// ListMessages returns the conversation history visible to viewerID.
	ListMessages(ctx context.Context, conversationID, viewerID string) ([]models.Message, error)
	// MarkDelivered advances a sent message to delivered. It reports false
	// when the message was already past sent.
	MarkDelivered(ctx context.Context, messageID string) (bool, error)
	// MarkRead advances to read the given messages that readerID received in
	// a conversation it belongs to, returning only those that changed.
	MarkRead(ctx context.Context, messageIDs []string, readerID string) ([]StatusChange, error)
	// ToggleReaction atomically adds or removes (emoji, userID).
	ToggleReaction(ctx context.Context, messageID, emoji, userID string, at time.Time) (models.Message, error)
	DeleteForAll(ctx context.Context, messageID string) error
	DeleteForUser(ctx context.Context, messageID, userID string) error
}

const messageColumns = `id, conversation_id, sender_id, receiver_id, content, status, created_at, deleted_for_all, deleted_for, reactions, reply_to_id, forwarded_from`

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message with status sent. Id and timestamp are
// assigned here unless the caller set them.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	var out models.Message
	err := r.db.GetContext(ctx, &out, `INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, status, created_at, reply_to_id, forwarded_from)
        VALUES ($1, $2, $3, $4, $5, 'sent', $6, $7, $8)
        RETURNING `+messageColumns,
		msg.ID, msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Content, msg.Timestamp, msg.ReplyToID, msg.ForwardedFrom)
	return out, err
}

// GetMessage retrieves a single message, tombstones included.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListMessages returns ordered messages excluding tombstones and the viewer's own soft deletes.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID, viewerID string) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + `
        FROM messages
        WHERE conversation_id=$1
        AND deleted_for_all = FALSE
        AND NOT ($2::text = ANY(deleted_for))
        ORDER BY created_at ASC, id ASC`
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, query, conversationID, viewerID)
	return msgs, err
}

// MarkDelivered only touches messages still in sent.
func (r *MessageRepo) MarkDelivered(ctx context.Context, messageID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET status='delivered' WHERE id=$1 AND status='sent'`, messageID)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkRead is a single conditional update, so a message already read is
// never rewritten and never reported twice.
func (r *MessageRepo) MarkRead(ctx context.Context, messageIDs []string, readerID string) ([]StatusChange, error) {
	changes := []StatusChange{}
	if len(messageIDs) == 0 {
		return changes, nil
	}
	err := r.db.SelectContext(ctx, &changes, `UPDATE messages m SET status='read'
        FROM conversations c
        WHERE m.id = ANY($1)
        AND m.status <> 'read'
        AND m.sender_id <> $2::text
        AND c.id = m.conversation_id
        AND $2::text = ANY(c.participant_ids)
        RETURNING m.id, m.conversation_id`, pq.Array(messageIDs), readerID)
	return changes, err
}

// ToggleReaction locks the row for the read-modify-write of the reaction list.
func (r *MessageRepo) ToggleReaction(ctx context.Context, messageID, emoji, userID string, at time.Time) (msg models.Message, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = tx.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1 FOR UPDATE`, messageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrMessageNotFound
		}
		return models.Message{}, err
	}

	msg.Reactions, _ = msg.Reactions.Toggle(emoji, userID, at)
	if _, err = tx.ExecContext(ctx, `UPDATE messages SET reactions=$2 WHERE id=$1`, messageID, msg.Reactions); err != nil {
		return models.Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// DeleteForAll sets the tombstone flag; the row is kept for replies and forwards.
func (r *MessageRepo) DeleteForAll(ctx context.Context, messageID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET deleted_for_all = TRUE WHERE id=$1`, messageID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// DeleteForUser hides the message for one user. Repeating it is a no-op.
func (r *MessageRepo) DeleteForUser(ctx context.Context, messageID, userID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages
        SET deleted_for = CASE WHEN $2::text = ANY(deleted_for) THEN deleted_for ELSE array_append(deleted_for, $2::text) END
        WHERE id=$1`, messageID, userID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}
