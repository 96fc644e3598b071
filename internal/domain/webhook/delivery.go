package webhook

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/paygate/server/internal/domain/signature"
	"github.com/paygate/server/internal/model"
	"github.com/paygate/server/internal/port/outbound"
)

const (
	maxStoredResponse  = 1000
	maxErrorBody       = 500
	truncationSuffix   = "... (truncated)"
	timeoutMessage     = "Request timeout"
	signatureHeaderPfx = "sha256="
)

// Headers sent with every delivery. X-Webhook-Id names the receiving
// subscription; X-Webhook-Event-Id is shared by every delivery of one event
// and lets subscribers drop duplicates.
const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderID        = "X-Webhook-Id"
	HeaderEventID   = "X-Webhook-Event-Id"
	HeaderSignature = "X-Webhook-Signature"
)

// dispatchEvent identifies one dispatch across its deliveries.
type dispatchEvent struct {
	id        uuid.UUID
	eventType string
}

// SignBody returns the X-Webhook-Signature value for body under secret.
func SignBody(secret string, body []byte) string {
	return signatureHeaderPfx + hex.EncodeToString(signature.HMACSHA256([]byte(secret), body))
}

// truncateRunes keeps at most n characters of s.
func truncateRunes(s string, n int) (string, bool) {
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:n]), true
}

func truncateResponse(body string) string {
	head, cut := truncateRunes(body, maxStoredResponse)
	if cut {
		return head + truncationSuffix
	}
	return head
}

// networkResult is what the concurrent phase hands to the recording phase.
type networkResult struct {
	sub        *model.WebhookSubscription
	statusCode *int
	body       *string
	err        error
	attempts   int
	durationMs int64
}

// retryable reports whether the last attempt hit a connection error, a timeout or a 5xx.
func (r *networkResult) retryable() bool {
	if r.err != nil {
		return !errors.Is(r.err, outbound.ErrDeliveryRequest) &&
			!errors.Is(r.err, context.Canceled)
	}
	return r.statusCode != nil && *r.statusCode >= 500
}

func (r *networkResult) outcome() (model.DeliveryOutcome, *string) {
	if r.err != nil {
		msg := r.err.Error()
		if errors.Is(r.err, outbound.ErrDeliveryTimeout) {
			msg = timeoutMessage
		}
		return model.DeliveryOutcomeFailed, &msg
	}
	if *r.statusCode >= 200 && *r.statusCode < 300 {
		return model.DeliveryOutcomeSuccess, nil
	}
	body := ""
	if r.body != nil {
		body, _ = truncateRunes(*r.body, maxErrorBody)
	}
	msg := fmt.Sprintf("HTTP %d: %s", *r.statusCode, body)
	return model.DeliveryOutcomeFailed, &msg
}
