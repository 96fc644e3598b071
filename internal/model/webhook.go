package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Event types published to subscribers.
const (
	EventTypePaymentSettled = "payment.settled"
	EventTypePaymentFailed  = "payment.failed"
	EventTypePaymentExpired = "payment.expired"
)

// WebhookSubscription is a third-party endpoint registered for outbound events.
type WebhookSubscription struct {
	ID                      uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Name                    string         `json:"name" gorm:"type:varchar(255);not null"`
	URL                     string         `json:"url" gorm:"type:text;not null"`
	Secret                  string         `json:"-" gorm:"type:varchar(255)"`
	EventTypes              pq.StringArray `json:"event_types" gorm:"type:text[];not null"`
	Description             string         `json:"description,omitempty"`
	IsActive                bool           `json:"is_active" gorm:"not null;default:true;index"`
	ConsecutiveFailureCount int            `json:"consecutive_failure_count" gorm:"not null;default:0"`
	SuccessCount            int64          `json:"success_count" gorm:"not null;default:0"`
	FailureCount            int64          `json:"failure_count" gorm:"not null;default:0"`
	LastDeliveryAt          *time.Time     `json:"last_delivery_at,omitempty"`
	CreatedAt               time.Time      `json:"created_at"`
	UpdatedAt               time.Time      `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (WebhookSubscription) TableName() string {
	return "webhook_subscriptions"
}

// Subscribes returns true if the subscription wants the event type.
func (s *WebhookSubscription) Subscribes(eventType string) bool {
	for _, t := range s.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// DeliveryOutcome is the result of one delivery.
type DeliveryOutcome string

const (
	DeliveryOutcomeSuccess DeliveryOutcome = "success"
	DeliveryOutcomeFailed  DeliveryOutcome = "failed"
)

// DeliveryAttempt records one delivery of one event to one subscription. Rows are never updated.
type DeliveryAttempt struct {
	ID              uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	SubscriptionID  uuid.UUID       `json:"subscription_id" gorm:"type:uuid;not null;index"`
	EventID         uuid.UUID       `json:"event_id" gorm:"type:uuid;not null;index"`
	EventType       string          `json:"event_type" gorm:"type:varchar(64);not null"`
	PayloadSnapshot string          `json:"payload" gorm:"type:jsonb;not null"`
	HTTPStatus      *int            `json:"http_status,omitempty"`
	ResponseBody    *string         `json:"response_body,omitempty" gorm:"type:text"`
	Outcome         DeliveryOutcome `json:"outcome" gorm:"type:varchar(16);not null;index"`
	ErrorMessage    *string         `json:"error_message,omitempty" gorm:"type:text"`
	AttemptNumber   int             `json:"attempt_number" gorm:"not null;default:1"`
	DurationMs      int64           `json:"duration_ms"`
	AttemptedAt     time.Time       `json:"attempted_at" gorm:"not null;index"`
}

// TableName returns the table name for GORM.
func (DeliveryAttempt) TableName() string {
	return "webhook_deliveries"
}

// DeliveryFilter represents delivery history query filters.
type DeliveryFilter struct {
	SubscriptionID *uuid.UUID       `json:"subscription_id"`
	Outcome        *DeliveryOutcome `json:"outcome" form:"outcome"`
	EventType      *string          `json:"event_type" form:"event_type"`
	PaginationRequest
}

// --- Request/Response DTOs ---

// CreateSubscriptionRequest registers a subscriber endpoint.
type CreateSubscriptionRequest struct {
	Name        string   `json:"name" binding:"required,max=255"`
	URL         string   `json:"url" binding:"required,url"`
	EventTypes  []string `json:"event_types" binding:"required,min=1"`
	Secret      string   `json:"secret"`
	Description string   `json:"description"`
}

// UpdateSubscriptionRequest changes a subscriber endpoint.
type UpdateSubscriptionRequest struct {
	Name        *string  `json:"name"`
	URL         *string  `json:"url" binding:"omitempty,url"`
	EventTypes  []string `json:"event_types"`
	Secret      *string  `json:"secret"`
	Description *string  `json:"description"`
	IsActive    *bool    `json:"is_active"`
}

// DispatchSummary reports how a fan-out went.
type DispatchSummary struct {
	EventID   uuid.UUID `json:"event_id"`
	EventType string    `json:"event_type"`
	Delivered int       `json:"delivered"`
	Failed    int       `json:"failed"`
}

// WebhookStats aggregates delivery statistics.
type WebhookStats struct {
	TotalSubscriptions   int64   `json:"total_subscriptions"`
	ActiveSubscriptions  int64   `json:"active_subscriptions"`
	TotalDeliveries      int64   `json:"total_deliveries"`
	SuccessfulDeliveries int64   `json:"successful_deliveries"`
	FailedDeliveries     int64   `json:"failed_deliveries"`
	SuccessRate          float64 `json:"success_rate"`
}

