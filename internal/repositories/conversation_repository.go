package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"im-service/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrSelfConversation     = errors.New("cannot create conversation with self")
)

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)
	// GetOrCreatePrivate returns the single private conversation of the pair,
	// creating it when absent. created reports whether this call inserted it.
	GetOrCreatePrivate(ctx context.Context, userID, otherID string) (conv models.Conversation, created bool, err error)
	CreateGroup(ctx context.Context, adminID, name, groupImage string, memberIDs []string) (models.Conversation, error)
	UpdateGroupImage(ctx context.Context, conversationID, groupImage string) (models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error)
}

const conversationColumns = `id, type, participant_ids, name, group_image, admin_ids, created_at`

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// GetOrCreatePrivate relies on the unique pair_key so that concurrent callers
// converge on one row.
func (r *ConversationRepo) GetOrCreatePrivate(ctx context.Context, userID, otherID string) (models.Conversation, bool, error) {
	if userID == otherID {
		return models.Conversation{}, false, ErrSelfConversation
	}
	key := models.PairKey(userID, otherID)

	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `INSERT INTO conversations (id, type, participant_ids, pair_key)
        VALUES ($1, 'private', $2, $3)
        ON CONFLICT (pair_key) DO NOTHING
        RETURNING `+conversationColumns,
		uuid.NewString(), pq.Array([]string{userID, otherID}), key)
	if err == nil {
		return conv, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, false, err
	}

	if err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE pair_key=$1`, key); err != nil {
		return models.Conversation{}, false, err
	}
	return conv, false, nil
}

// CreateGroup creates a group with the admin as first participant.
func (r *ConversationRepo) CreateGroup(ctx context.Context, adminID, name, groupImage string, memberIDs []string) (models.Conversation, error) {
	participants := uniqueIDs(append([]string{adminID}, memberIDs...))

	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `INSERT INTO conversations (id, type, participant_ids, name, group_image, admin_ids)
        VALUES ($1, 'group', $2, $3, $4, $5)
        RETURNING `+conversationColumns,
		uuid.NewString(), pq.Array(participants), name, groupImage, pq.Array([]string{adminID}))
	return conv, err
}

// UpdateGroupImage replaces the image of a group conversation.
func (r *ConversationRepo) UpdateGroupImage(ctx context.Context, conversationID, groupImage string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `UPDATE conversations SET group_image=$2 WHERE id=$1 AND type='group' RETURNING `+conversationColumns,
		conversationID, groupImage)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// ListConversations returns the user's conversations, newest first, each with
// the latest message visible to that user.
func (r *ConversationRepo) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	var convs []models.Conversation
	if err := r.db.SelectContext(ctx, &convs, `SELECT `+conversationColumns+` FROM conversations
        WHERE $1::text = ANY(participant_ids)
        ORDER BY created_at DESC`, userID); err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return []models.ConversationSummary{}, nil
	}

	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}

	var last []models.Message
	if err := r.db.SelectContext(ctx, &last, `SELECT DISTINCT ON (conversation_id) `+messageColumns+` FROM messages
        WHERE conversation_id = ANY($1)
        AND deleted_for_all = FALSE
        AND NOT ($2::text = ANY(deleted_for))
        ORDER BY conversation_id, created_at DESC, id DESC`, pq.Array(ids), userID); err != nil {
		return nil, err
	}
	lastByConv := make(map[string]models.Message, len(last))
	for _, m := range last {
		lastByConv[m.ConversationID] = m
	}

	result := make([]models.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		summary := models.ConversationSummary{Conversation: c}
		if m, ok := lastByConv[c.ID]; ok {
			msg := m
			summary.LastMessage = &msg
		}
		result = append(result, summary)
	}
	return result, nil
}

// uniqueIDs drops empty and repeated ids, keeping first-seen order.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
