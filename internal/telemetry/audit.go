package telemetry

import (
	"context"
	"log/slog"
	"time"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// Audited actions.
const (
	ActionMessageSend   = "message.send"
	ActionMessageDelete = "message.delete"
	ActionGroupCreate   = "group.create"
	ActionGroupImage    = "group.image_update"
)

// OutcomeOK marks a successful action. Any other outcome is an error code.
const OutcomeOK = "ok"

// Record is the audited outcome of one client operation.
type Record struct {
	Action         string
	Outcome        string
	RequestID      string
	UserID         string
	ConversationID string
	MessageID      string
}

func (r Record) level() string {
	if r.Outcome == OutcomeOK {
		return "INFO"
	}
	return "ERROR"
}

// AuditEmitter publishes audit_log envelopes for conversation and message operations.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	now         func() time.Time
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level          string `json:"level"`
	Action         string `json:"action"`
	Outcome        string `json:"outcome"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Emit publishes rec. Publish failures are logged, never returned.
func (e *AuditEmitter) Emit(ctx context.Context, rec Record) {
	if e == nil || e.publisher == nil {
		return
	}
	if rec.Outcome == "" {
		rec.Outcome = OutcomeOK
	}

	envelope := AuditEnvelope{
		SchemaVersion: 2,
		EventType:     "audit_log",
		OccurredAt:    e.now().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     rec.RequestID,
		Payload: AuditPayload{
			Level:          rec.level(),
			Action:         rec.Action,
			Outcome:        rec.Outcome,
			ConversationID: rec.ConversationID,
			MessageID:      rec.MessageID,
		},
	}
	if rec.UserID != "" {
		userID := rec.UserID
		envelope.UserID = &userID
	}

	headers := map[string]string{"x-audit-action": rec.Action}
	if rec.RequestID != "" {
		headers["x-request-id"] = rec.RequestID
	}
	if err := e.publisher.Publish(ctx, e.routingKey, envelope, headers); err != nil {
		slog.WarnContext(ctx, "audit publish failed", "action", rec.Action, "request_id", rec.RequestID, "err", err)
	}
}
