package model

import (
	"time"

	"github.com/google/uuid"
)

// Provider identifies an upstream payment processor.
type Provider string

const (
	ProviderCryptoBot Provider = "cryptobot"
	ProviderMulenPay  Provider = "mulenpay"
	ProviderFreekassa Provider = "freekassa"
	ProviderKassaAI   Provider = "kassaai"
	ProviderRobokassa Provider = "robokassa"
)

// AllProviders lists every supported processor in routing order.
var AllProviders = []Provider{
	ProviderCryptoBot,
	ProviderMulenPay,
	ProviderFreekassa,
	ProviderKassaAI,
	ProviderRobokassa,
}

// IsValid returns true if the provider is known.
func (p Provider) IsValid() bool {
	for _, known := range AllProviders {
		if p == known {
			return true
		}
	}
	return false
}

// PaymentStatus represents the status of a payment.
type PaymentStatus string

const (
	PaymentStatusCreated PaymentStatus = "created"
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
	PaymentStatusExpired PaymentStatus = "expired"
)

// IsTerminal returns true if the status is a terminal state.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusPaid || s == PaymentStatusFailed || s == PaymentStatusExpired
}

// CanTransitionTo returns true if the status can transition to the target status.
func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	switch s {
	case PaymentStatusCreated:
		return target == PaymentStatusPending || target == PaymentStatusPaid ||
			target == PaymentStatusFailed || target == PaymentStatusExpired
	case PaymentStatusPending:
		return target == PaymentStatusPaid || target == PaymentStatusFailed ||
			target == PaymentStatusExpired
	default:
		return false
	}
}

// Payment represents a payment tracked against an upstream processor.
// SettledTransactionID is non-nil exactly when Status is paid and is never rewritten.
type Payment struct {
	ID                   uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey"`
	Provider             Provider      `json:"provider" gorm:"type:varchar(32);not null;uniqueIndex:idx_payments_provider_ref,priority:1"`
	ExternalReference    string        `json:"external_reference" gorm:"type:varchar(128);not null;uniqueIndex:idx_payments_provider_ref,priority:2"`
	InternalOrderID      string        `json:"internal_order_id" gorm:"type:varchar(128);not null;index"`
	UserID               int64         `json:"user_id" gorm:"not null;index"`
	AmountMinorUnits     int64         `json:"amount_minor_units" gorm:"not null"`
	Currency             string        `json:"currency" gorm:"type:varchar(8);not null;default:RUB"`
	Description          string        `json:"description,omitempty"`
	Status               PaymentStatus `json:"status" gorm:"type:varchar(16);not null;default:created;index"`
	PaymentURL           string        `json:"payment_url,omitempty"`
	RawCallbackPayload   *string       `json:"-" gorm:"type:text"`
	SettledTransactionID *uuid.UUID    `json:"settled_transaction_id,omitempty" gorm:"type:uuid;uniqueIndex"`
	ReceiptID            *string       `json:"receipt_id,omitempty" gorm:"type:varchar(128)"`
	ReviewReason         *string       `json:"review_reason,omitempty"`
	RetryCount           int           `json:"retry_count" gorm:"not null;default:0"`
	ExpiresAt            *time.Time    `json:"expires_at,omitempty"`
	PaidAt               *time.Time    `json:"paid_at,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Payment) TableName() string {
	return "payments"
}

// IsPaid returns true if the payment was settled.
func (p *Payment) IsPaid() bool {
	return p.Status == PaymentStatusPaid
}

// PaymentFilter represents payment query filters.
type PaymentFilter struct {
	UserID   *int64         `json:"user_id" form:"user_id"`
	Status   *PaymentStatus `json:"status" form:"status"`
	Provider *Provider      `json:"provider" form:"provider"`
	PaginationRequest
}

// EventStatus is the normalized outcome a processor reports in a callback.
type EventStatus string

const (
	EventStatusPaid    EventStatus = "paid"
	EventStatusFailed  EventStatus = "failed"
	EventStatusPending EventStatus = "pending"
)

// WebhookEvent is a verified inbound callback mapped into provider-neutral form.
type WebhookEvent struct {
	Provider          Provider
	ExternalReference string
	AmountMinorUnits  int64
	Currency          string
	Status            EventStatus
	// UserID is only known for processors that push payments we never originated.
	UserID     int64
	RawPayload []byte
}

// SettlementOutcome describes what a settle call did.
type SettlementOutcome string

const (
	SettlementSettled        SettlementOutcome = "settled"
	SettlementAlreadySettled SettlementOutcome = "already_settled"
)

// SettlementResult is returned by a successful settle call.
type SettlementResult struct {
	Outcome       SettlementOutcome
	PaymentID     uuid.UUID
	TransactionID uuid.UUID
}

// --- Gateway DTOs ---

// GatewayOrderRequest asks an upstream processor to open an order.
type GatewayOrderRequest struct {
	InternalOrderID  string
	AmountMinorUnits int64
	Currency         string
	Description      string
	Email            string
	ReturnURL        string
}

// GatewayOrder is the upstream view of an order.
type GatewayOrder struct {
	ExternalReference string
	PaymentURL        string
	Status            EventStatus
	AmountMinorUnits  int64
	// Confirmed is false when the order only exists locally until the payer acts.
	Confirmed bool
}

// UpstreamOperation is one entry of a processor's own ledger.
type UpstreamOperation struct {
	ExternalReference string
	ReceiptID         string
	AmountMinorUnits  int64
	Status            string
	OccurredAt        time.Time
}

// --- Request/Response DTOs ---

// CreatePaymentRequest represents a request to originate a payment.
type CreatePaymentRequest struct {
	Provider         Provider `json:"provider" binding:"required"`
	UserID           int64    `json:"user_id" binding:"required"`
	AmountMinorUnits int64    `json:"amount_minor_units" binding:"required,gt=0"`
	Currency         string   `json:"currency"`
	Description      string   `json:"description"`
	Email            string   `json:"email"`
}

// CreatePaymentResponse represents an originated payment.
type CreatePaymentResponse struct {
	PaymentID         uuid.UUID     `json:"payment_id"`
	Provider          Provider      `json:"provider"`
	ExternalReference string        `json:"external_reference"`
	PaymentURL        string        `json:"payment_url"`
	Status            PaymentStatus `json:"status"`
	ExpiresAt         *time.Time    `json:"expires_at,omitempty"`
}
