package delivery

import (
	"context"
	"errors"
	"log/slog"

	"im-service/internal/models"
	"im-service/internal/observability"
	"im-service/internal/repositories"
)

var (
	ErrInvalidPayload = errors.New("invalid payload")
	ErrNotParticipant = errors.New("not a conversation participant")
	ErrForbidden      = errors.New("forbidden")
)

// Locator resolves a user to its active connection.
type Locator interface {
	Get(userID string) (string, bool)
}

// Emitter pushes events to connections and rooms.
type Emitter interface {
	SendTo(event models.Event, connIDs ...string) int
	BroadcastRoom(room string, event models.Event) int
	Multicast(room string, connIDs []string, event models.Event) int
}

// SendMessageInput is the send_message payload.
type SendMessageInput struct {
	ConversationID string                `json:"conversationId"`
	SenderID       string                `json:"senderId"`
	ReceiverID     string                `json:"receiverId,omitempty"`
	Content        models.MessageContent `json:"content"`
	ReplyToID      string                `json:"replyToId,omitempty"`
	ForwardedFrom  string                `json:"forwardedFrom,omitempty"`
}

func (in SendMessageInput) validate() error {
	if in.ConversationID == "" || in.SenderID == "" {
		return ErrInvalidPayload
	}
	if err := in.Content.Validate(); err != nil {
		return errors.Join(ErrInvalidPayload, err)
	}
	return nil
}

// Router persists messages and fans them out by conversation type.
type Router struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	users         repositories.UserRepository
	locator       Locator
	emitter       Emitter
}

// NewRouter constructs a Router.
func NewRouter(conversations repositories.ConversationRepository, messages repositories.MessageRepository,
	users repositories.UserRepository, locator Locator, emitter Emitter) *Router {
	return &Router{conversations: conversations, messages: messages, users: users, locator: locator, emitter: emitter}
}

// Route validates, persists and delivers one message. Private messages go to
// the receiver and echo to the sender through the presence registry; group
// messages go to the conversation room. Offline receivers reconcile by fetching
// history later. Nothing is persisted or emitted when an error is returned.
func (r *Router) Route(ctx context.Context, in SendMessageInput) (models.Message, error) {
	if err := in.validate(); err != nil {
		return models.Message{}, err
	}

	conv, err := r.conversations.GetConversation(ctx, in.ConversationID)
	if err != nil {
		slog.WarnContext(ctx, "route message: load conversation failed", "conversation_id", in.ConversationID, "user_id", in.SenderID, "err", err)
		return models.Message{}, err
	}
	if !conv.HasParticipant(in.SenderID) {
		return models.Message{}, ErrNotParticipant
	}

	msg := models.Message{
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		ReplyToID:      in.ReplyToID,
		ForwardedFrom:  in.ForwardedFrom,
	}
	if conv.Type == models.ConversationPrivate {
		receiverID, ok := conv.OtherParticipant(in.SenderID)
		if !ok || (in.ReceiverID != "" && in.ReceiverID != receiverID) {
			return models.Message{}, ErrInvalidPayload
		}
		msg.ReceiverID = receiverID
	}

	msg, err = r.messages.CreateMessage(ctx, msg)
	if err != nil {
		slog.ErrorContext(ctx, "route message: persist failed", "conversation_id", conv.ID, "user_id", in.SenderID, "err", err)
		return models.Message{}, err
	}
	msg.Sender = r.senderSummary(ctx, msg.SenderID)

	var sent int
	if conv.Type == models.ConversationGroup {
		sent = r.emitter.BroadcastRoom(conv.ID, models.Event{Event: models.EventReceiveMessage, Data: msg})
	} else {
		sent = r.routePrivate(ctx, &msg)
	}

	observability.IncMessageRouted(string(conv.Type))
	observability.AddDeliveries(models.EventReceiveMessage, sent)
	r.publish(ctx, msg, conv.Type, sent)
	return msg, nil
}

// routePrivate sends to the receiver first and promotes the stored status to
// delivered only when that send succeeded. The sender echo carries the
// resulting status.
func (r *Router) routePrivate(ctx context.Context, msg *models.Message) int {
	sent := 0
	if connID, ok := r.locator.Get(msg.ReceiverID); ok {
		view := *msg
		view.Status = view.Status.Advance(models.MessageDelivered)
		if r.emitter.SendTo(models.Event{Event: models.EventReceiveMessage, Data: view}, connID) > 0 {
			sent++
			delivered, err := r.messages.MarkDelivered(ctx, msg.ID)
			if err != nil {
				slog.WarnContext(ctx, "mark delivered failed", "message_id", msg.ID, "err", err)
			} else if delivered {
				msg.Status = view.Status
			}
		}
	}
	if connID, ok := r.locator.Get(msg.SenderID); ok {
		sent += r.emitter.SendTo(models.Event{Event: models.EventReceiveMessage, Data: *msg}, connID)
	}
	return sent
}

// senderSummary resolves the sender profile shown with a delivery. A sender
// unknown to the user store is delivered without one.
func (r *Router) senderSummary(ctx context.Context, userID string) *models.UserSummary {
	if r.users == nil {
		return nil
	}
	user, err := r.users.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, repositories.ErrUserNotFound) {
			slog.WarnContext(ctx, "load sender failed", "user_id", userID, "err", err)
		}
		return nil
	}
	summary := user.Summary()
	return &summary
}

// AnnounceGroup tells every online participant about a new group.
func (r *Router) AnnounceGroup(ctx context.Context, conv models.Conversation) int {
	event := models.Event{Event: models.EventGroupCreated, Data: models.GroupCreated{
		ConversationID: conv.ID,
		Name:           conv.Name,
		GroupImage:     conv.GroupImage,
		ParticipantIDs: conv.ParticipantIDs,
		Type:           conv.Type,
	}}
	sent := r.emitter.SendTo(event, participantConns(r.locator, conv)...)
	observability.AddDeliveries(models.EventGroupCreated, sent)
	slog.DebugContext(ctx, "group announced", "conversation_id", conv.ID, "sent", sent)
	return sent
}

// AnnounceGroupImage tells the conversation audience about a new group image.
func (r *Router) AnnounceGroupImage(ctx context.Context, conv models.Conversation) int {
	event := models.Event{Event: models.EventGroupImageUpdated, Data: models.GroupImageUpdated{
		ConversationID: conv.ID,
		GroupImage:     conv.GroupImage,
	}}
	sent := r.emitter.Multicast(conv.ID, participantConns(r.locator, conv), event)
	observability.AddDeliveries(models.EventGroupImageUpdated, sent)
	slog.DebugContext(ctx, "group image announced", "conversation_id", conv.ID, "sent", sent)
	return sent
}

func (r *Router) publish(ctx context.Context, msg models.Message, convType models.ConversationType, sent int) {
	err := observability.PublishEvent(ctx, observability.RoutingMessages, observability.EventEnvelope{
		EventType: "messages",
		EventName: "message.sent",
		Payload: map[string]interface{}{
			"message_id":        msg.ID,
			"conversation_id":   msg.ConversationID,
			"conversation_type": convType,
			"sender_id":         msg.SenderID,
			"status":            msg.Status,
			"deliveries":        sent,
		},
	}, nil)
	if err != nil {
		slog.WarnContext(ctx, "publish message event failed", "message_id", msg.ID, "err", err)
	}
}

// participantConns resolves the online participants of conv.
func participantConns(locator Locator, conv models.Conversation) []string {
	conns := make([]string, 0, len(conv.ParticipantIDs))
	for _, userID := range conv.ParticipantIDs {
		if connID, ok := locator.Get(userID); ok {
			conns = append(conns, connID)
		}
	}
	return conns
}
