package delivery

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"im-service/internal/models"
	"im-service/internal/observability"
	"im-service/internal/repositories"
)

// Tracker applies read receipts, reaction toggles and deletions, and emits
// the resulting deltas to the conversation audience.
type Tracker struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	locator       Locator
	emitter       Emitter
	now           func() time.Time
}

// NewTracker constructs a Tracker.
func NewTracker(conversations repositories.ConversationRepository, messages repositories.MessageRepository, locator Locator, emitter Emitter) *Tracker {
	return &Tracker{
		conversations: conversations,
		messages:      messages,
		locator:       locator,
		emitter:       emitter,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// MarkRead moves the given messages to read on behalf of readerID. Messages
// already read, sent by the reader, or outside the reader's conversations are
// left alone, and only the ids that changed are emitted.
func (t *Tracker) MarkRead(ctx context.Context, messageIDs []string, readerID string) ([]models.MessagesRead, error) {
	ids := dedupe(messageIDs)
	if readerID == "" || len(ids) == 0 {
		return nil, ErrInvalidPayload
	}

	changes, err := t.messages.MarkRead(ctx, ids, readerID)
	if err != nil {
		slog.ErrorContext(ctx, "mark read failed", "user_id", readerID, "err", err)
		return nil, err
	}

	var order []string
	byConv := map[string][]string{}
	for _, ch := range changes {
		if _, ok := byConv[ch.ConversationID]; !ok {
			order = append(order, ch.ConversationID)
		}
		byConv[ch.ConversationID] = append(byConv[ch.ConversationID], ch.MessageID)
	}

	receipts := make([]models.MessagesRead, 0, len(order))
	for _, convID := range order {
		receipt := models.MessagesRead{ConversationID: convID, MessageIDs: byConv[convID], ReaderID: readerID}
		receipts = append(receipts, receipt)
		t.emitToConversation(ctx, convID, models.Event{Event: models.EventMessagesRead, Data: receipt})
	}
	return receipts, nil
}

// React toggles (emoji, userID) on a message.
func (t *Tracker) React(ctx context.Context, messageID, emoji, userID string) (models.MessageReacted, error) {
	if messageID == "" || strings.TrimSpace(emoji) == "" || userID == "" {
		return models.MessageReacted{}, ErrInvalidPayload
	}

	msg, conv, err := t.load(ctx, messageID, userID)
	if err != nil {
		return models.MessageReacted{}, err
	}
	if msg.HiddenFor(userID) {
		return models.MessageReacted{}, repositories.ErrMessageNotFound
	}

	msg, err = t.messages.ToggleReaction(ctx, messageID, emoji, userID, t.now())
	if err != nil {
		slog.ErrorContext(ctx, "toggle reaction failed", "message_id", messageID, "user_id", userID, "err", err)
		return models.MessageReacted{}, err
	}

	reacted := models.MessageReacted{MessageID: msg.ID, ConversationID: msg.ConversationID, Reactions: msg.Reactions}
	t.emit(conv, models.Event{Event: models.EventMessageReacted, Data: reacted})
	return reacted, nil
}

// Delete hides a message. Deleting for everyone is reserved to the sender and
// leaves a tombstone; deleting for oneself is only announced to that user.
func (t *Tracker) Delete(ctx context.Context, messageID, userID string, forEveryone bool) (models.MessageDeleted, error) {
	if messageID == "" || userID == "" {
		return models.MessageDeleted{}, ErrInvalidPayload
	}

	msg, conv, err := t.load(ctx, messageID, userID)
	if err != nil {
		return models.MessageDeleted{}, err
	}

	deleted := models.MessageDeleted{MessageID: msg.ID, ConversationID: msg.ConversationID, DeleteForEveryone: forEveryone}
	if forEveryone {
		if msg.SenderID != userID {
			return models.MessageDeleted{}, ErrForbidden
		}
		if err := t.messages.DeleteForAll(ctx, messageID); err != nil {
			slog.ErrorContext(ctx, "delete for all failed", "message_id", messageID, "err", err)
			return models.MessageDeleted{}, err
		}
		t.emit(conv, models.Event{Event: models.EventMessageDeleted, Data: deleted})
		return deleted, nil
	}

	if err := t.messages.DeleteForUser(ctx, messageID, userID); err != nil {
		slog.ErrorContext(ctx, "delete for user failed", "message_id", messageID, "user_id", userID, "err", err)
		return models.MessageDeleted{}, err
	}
	deleted.UserID = userID
	if connID, ok := t.locator.Get(userID); ok {
		sent := t.emitter.SendTo(models.Event{Event: models.EventMessageDeleted, Data: deleted}, connID)
		observability.AddDeliveries(models.EventMessageDeleted, sent)
	}
	return deleted, nil
}

// load fetches a message and its conversation and checks that userID takes part in it.
func (t *Tracker) load(ctx context.Context, messageID, userID string) (models.Message, models.Conversation, error) {
	msg, err := t.messages.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			slog.InfoContext(ctx, "message not found", "message_id", messageID, "user_id", userID)
		}
		return models.Message{}, models.Conversation{}, err
	}
	conv, err := t.conversations.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		slog.WarnContext(ctx, "load conversation failed", "conversation_id", msg.ConversationID, "message_id", messageID, "err", err)
		return models.Message{}, models.Conversation{}, err
	}
	if !conv.HasParticipant(userID) {
		return models.Message{}, models.Conversation{}, ErrNotParticipant
	}
	return msg, conv, nil
}

func (t *Tracker) emitToConversation(ctx context.Context, conversationID string, event models.Event) {
	conv, err := t.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		slog.WarnContext(ctx, "load conversation for emit failed", "conversation_id", conversationID, "event", event.Event, "err", err)
		return
	}
	t.emit(conv, event)
}

func (t *Tracker) emit(conv models.Conversation, event models.Event) {
	sent := t.emitter.Multicast(conv.ID, participantConns(t.locator, conv), event)
	observability.AddDeliveries(event.Event, sent)
}

func dedupe(ids []string) []string {
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
