package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"im-service/internal/auth"
	"im-service/internal/delivery"
	"im-service/internal/models"
	"im-service/internal/observability"
	"im-service/internal/presence"
	"im-service/internal/repositories"
)

const tracerName = "im-service/ws"

// Handler serves the realtime socket endpoint.
type Handler struct {
	hub           *Hub
	coordinator   *presence.Coordinator
	router        *delivery.Router
	tracker       *delivery.Tracker
	conversations repositories.ConversationRepository
	validator     auth.Validator
	opts          Options
	upgrader      websocket.Upgrader
}

// NewHandler constructs the socket handler.
func NewHandler(hub *Hub, coordinator *presence.Coordinator, router *delivery.Router, tracker *delivery.Tracker,
	conversations repositories.ConversationRepository, validator auth.Validator, opts Options) *Handler {
	return &Handler{
		hub:           hub,
		coordinator:   coordinator,
		router:        router,
		tracker:       tracker,
		conversations: conversations,
		validator:     validator,
		opts:          opts.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle authenticates the handshake, upgrades the connection and starts its
// reader and writer goroutines.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer(tracerName).Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	userID, err := h.validator.Validate(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.WarnContext(ctx, "websocket upgrade failed", "user_id", userID, "err", err)
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     observability.TraceIDFromRequest(c.Request),
		ConnectedAt: time.Now(),
	}
	span.SetAttributes(attribute.String("ws.conn_id", info.ConnID), attribute.String("user.id", userID))

	client := newClient(conn, info.ConnID, userID, h.opts)
	h.hub.Add(client, info)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect", "ok")
	connCtx := context.WithoutCancel(ctx)
	publishWSEvent(connCtx, info, "ws_connect", "")
	slog.InfoContext(ctx, "websocket connected", "conn_id", info.ConnID, "user_id", userID)

	go client.writePump()
	go h.readLoop(connCtx, client, info)
}

func (h *Handler) readLoop(ctx context.Context, client *Client, info ConnInfo) {
	var closeReason string
	defer func() {
		h.hub.Remove(client.ID())
		h.coordinator.MarkOffline(ctx, client.ID())
		_ = client.Close()

		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect", "ok")
		publishWSEvent(ctx, info, "ws_disconnect", closeReason)
		slog.InfoContext(ctx, "websocket disconnected", "conn_id", info.ConnID, "user_id", info.UserID, "reason", closeReason)
	}()

	client.prepareRead()
	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error", "error")
				publishWSEvent(ctx, info, "ws_error", closeReason)
			}
			return
		}
		h.handleFrame(ctx, client, data)
	}
}

// handleFrame processes one inbound frame to completion before the next is read.
func (h *Handler) handleFrame(ctx context.Context, client *Client, data []byte) {
	var frame models.InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		slog.DebugContext(ctx, "malformed frame", "conn_id", client.ID(), "err", err)
		observability.IncWSEvent("unknown", CodeInvalidPayload)
		return
	}

	var (
		result any
		err    error
	)
	if !client.allow() {
		err = errRateLimited
	} else {
		spanCtx, span := otel.Tracer(tracerName).Start(ctx, "ws."+frame.Event)
		result, err = h.dispatch(spanCtx, client, frame)
		span.End()
	}

	outcome := "ok"
	if err != nil {
		outcome = ackCode(err)
		if outcome == CodeInternal {
			slog.ErrorContext(ctx, "socket event failed", "event", frame.Event, "conn_id", client.ID(), "user_id", client.UserID(), "err", err)
		} else {
			slog.DebugContext(ctx, "socket event rejected", "event", frame.Event, "conn_id", client.ID(), "code", outcome, "err", err)
		}
	}
	observability.IncWSEvent(frame.Event, outcome)

	if frame.AckID == "" {
		return
	}
	ack := models.Ack{AckID: frame.AckID, OK: err == nil, Data: result}
	if err != nil {
		ack.Error = outcome
		ack.Data = nil
	}
	if sendErr := client.Send(models.Event{Event: models.EventAck, Data: ack}); sendErr != nil {
		slog.WarnContext(ctx, "ack send failed", "conn_id", client.ID(), "err", sendErr)
		_ = client.Close()
	}
}

func (h *Handler) dispatch(ctx context.Context, client *Client, frame models.InboundFrame) (any, error) {
	switch frame.Event {
	case models.EventUserOnline:
		userID, err := decodeID(frame.Data, "userId")
		if err != nil {
			return nil, err
		}
		if err := checkIdentity(client, userID); err != nil {
			return nil, err
		}
		return h.coordinator.MarkOnline(ctx, userID, client.ID()), nil

	case models.EventJoinConversation:
		convID, err := decodeID(frame.Data, "conversationId")
		if err != nil {
			return nil, err
		}
		conv, err := h.conversations.GetConversation(ctx, convID)
		if err != nil {
			return nil, err
		}
		if !conv.HasParticipant(client.UserID()) {
			return nil, delivery.ErrNotParticipant
		}
		h.hub.Join(conv.ID, client.ID())
		return gin.H{"conversationId": conv.ID}, nil

	case models.EventSendMessage:
		var in delivery.SendMessageInput
		if err := decode(frame.Data, &in); err != nil {
			return nil, err
		}
		if err := checkIdentity(client, in.SenderID); err != nil {
			return nil, err
		}
		return h.router.Route(ctx, in)

	case models.EventMarkAsRead:
		var in struct {
			MessageIDs []string `json:"messageIds"`
			ReaderID   string   `json:"readerId"`
		}
		if err := decode(frame.Data, &in); err != nil {
			return nil, err
		}
		if err := checkIdentity(client, in.ReaderID); err != nil {
			return nil, err
		}
		return h.tracker.MarkRead(ctx, in.MessageIDs, in.ReaderID)

	case models.EventReactMessage:
		var in struct {
			MessageID string `json:"messageId"`
			Emoji     string `json:"emoji"`
			UserID    string `json:"userId"`
		}
		if err := decode(frame.Data, &in); err != nil {
			return nil, err
		}
		if err := checkIdentity(client, in.UserID); err != nil {
			return nil, err
		}
		return h.tracker.React(ctx, in.MessageID, in.Emoji, in.UserID)

	case models.EventDeleteMessage:
		var in struct {
			MessageID         string `json:"messageId"`
			DeleteForEveryone bool   `json:"deleteForEveryone"`
			UserID            string `json:"userId"`
		}
		if err := decode(frame.Data, &in); err != nil {
			return nil, err
		}
		if in.UserID == "" {
			in.UserID = client.UserID()
		}
		if err := checkIdentity(client, in.UserID); err != nil {
			return nil, err
		}
		return h.tracker.Delete(ctx, in.MessageID, in.UserID, in.DeleteForEveryone)

	default:
		return nil, fmt.Errorf("%w: %q", errUnknownEvent, frame.Event)
	}
}

// checkIdentity rejects payloads that claim to act for another user.
func checkIdentity(client *Client, claimed string) error {
	if claimed == "" {
		return delivery.ErrInvalidPayload
	}
	if claimed != client.UserID() {
		return delivery.ErrForbidden
	}
	return nil
}

func decode(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return delivery.ErrInvalidPayload
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", delivery.ErrInvalidPayload, err)
	}
	return nil
}

// decodeID accepts either a bare JSON string or an object carrying the id under key.
func decodeID(data json.RawMessage, key string) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		if id == "" {
			return "", delivery.ErrInvalidPayload
		}
		return id, nil
	}
	var obj map[string]json.RawMessage
	if err := decode(data, &obj); err != nil {
		return "", err
	}
	raw, ok := obj[key]
	if !ok {
		return "", delivery.ErrInvalidPayload
	}
	if err := json.Unmarshal(raw, &id); err != nil || id == "" {
		return "", delivery.ErrInvalidPayload
	}
	return id, nil
}
