package webhook

import "errors"

// Domain errors.
var (
	ErrSubscriptionNotFound = errors.New("webhook subscription not found")
	ErrInvalidURL           = errors.New("invalid subscriber url")
	ErrUnknownEventType     = errors.New("unknown event type")
	ErrNoEventTypes         = errors.New("at least one event type is required")
)
