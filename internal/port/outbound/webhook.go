package outbound

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/paygate/server/internal/model"
)

// SubscriptionDatabasePort defines webhook subscription persistence operations.
type SubscriptionDatabasePort interface {
	Create(ctx context.Context, sub *model.WebhookSubscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.WebhookSubscription, error)
	List(ctx context.Context, activeOnly bool) ([]*model.WebhookSubscription, error)

	// FindActiveByEventType lists active subscriptions registered for eventType.
	FindActiveByEventType(ctx context.Context, eventType string) ([]*model.WebhookSubscription, error)

	Update(ctx context.Context, sub *model.WebhookSubscription) error
	Delete(ctx context.Context, id uuid.UUID) error

	// RecordOutcome bumps the rolling counters after a delivery.
	RecordOutcome(ctx context.Context, id uuid.UUID, success bool, at time.Time) error

	// Count returns total and active subscription counts.
	Count(ctx context.Context) (total int64, active int64, err error)
}

// DeliveryDatabasePort appends and reads delivery attempts.
type DeliveryDatabasePort interface {
	Append(ctx context.Context, attempt *model.DeliveryAttempt) error
	FindByFilter(ctx context.Context, filter model.DeliveryFilter) ([]*model.DeliveryAttempt, int64, error)
	CountByOutcome(ctx context.Context) (success int64, failed int64, err error)
}

var (
	// ErrDeliveryTimeout is returned by a sender when the subscriber did not answer in time.
	ErrDeliveryTimeout = errors.New("webhook delivery timed out")
	// ErrDeliveryRequest marks a request that could not be built; retrying cannot help.
	ErrDeliveryRequest = errors.New("webhook request invalid")
)

// WebhookRequest is one outbound delivery.
type WebhookRequest struct {
	URL     string
	Headers map[string]string
	Body    []byte
}

// WebhookResponse is what a subscriber answered.
type WebhookResponse struct {
	StatusCode int
	Body       string
}

// WebhookSenderPort performs a single delivery with its own timeout.
type WebhookSenderPort interface {
	Send(ctx context.Context, req *WebhookRequest) (*WebhookResponse, error)
}
