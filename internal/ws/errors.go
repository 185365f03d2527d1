package ws

import (
	"errors"

	"im-service/internal/delivery"
	"im-service/internal/repositories"
)

// Ack error codes.
const (
	CodeInvalidPayload = "invalid_payload"
	CodeNotFound       = "not_found"
	CodeForbidden      = "forbidden"
	CodeRateLimited    = "rate_limited"
	CodeInternal       = "internal"
)

var (
	errUnknownEvent = errors.New("unknown event")
	errRateLimited  = errors.New("rate limited")
)

func ackCode(err error) string {
	switch {
	case errors.Is(err, delivery.ErrInvalidPayload),
		errors.Is(err, errUnknownEvent),
		errors.Is(err, repositories.ErrSelfConversation):
		return CodeInvalidPayload
	case errors.Is(err, repositories.ErrConversationNotFound),
		errors.Is(err, repositories.ErrMessageNotFound):
		return CodeNotFound
	case errors.Is(err, delivery.ErrForbidden),
		errors.Is(err, delivery.ErrNotParticipant):
		return CodeForbidden
	case errors.Is(err, errRateLimited):
		return CodeRateLimited
	default:
		return CodeInternal
	}
}
