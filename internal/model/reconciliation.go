package model

import (
	"time"

	"github.com/google/uuid"
)

// SettlementLogEntry is appended inside every settlement transaction.
type SettlementLogEntry struct {
	ID                uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	PaymentID         uuid.UUID `json:"payment_id" gorm:"type:uuid;not null;uniqueIndex"`
	Provider          Provider  `json:"provider" gorm:"type:varchar(32);not null"`
	ExternalReference string    `json:"external_reference" gorm:"type:varchar(128);not null"`
	AmountMinorUnits  int64     `json:"amount_minor_units" gorm:"not null"`
	TransactionID     uuid.UUID `json:"transaction_id" gorm:"type:uuid;not null"`
	SettledAt         time.Time `json:"settled_at" gorm:"not null;index"`
}

// TableName returns the table name for GORM.
func (SettlementLogEntry) TableName() string {
	return "settlement_log"
}

// ReceiptLogEntry is appended when the downstream receipt system issues a receipt.
type ReceiptLogEntry struct {
	ID               uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	ReceiptID        string     `json:"receipt_id" gorm:"type:varchar(128);not null;uniqueIndex"`
	PaymentID        *uuid.UUID `json:"payment_id,omitempty" gorm:"type:uuid;index"`
	AmountMinorUnits int64      `json:"amount_minor_units" gorm:"not null"`
	IssuedAt         time.Time  `json:"issued_at" gorm:"not null;index"`
	CreatedAt        time.Time  `json:"created_at"`
}

// TableName returns the table name for GORM.
func (ReceiptLogEntry) TableName() string {
	return "receipt_log"
}

// TimeWindow is a half-open [From, To) interval.
type TimeWindow struct {
	From time.Time `json:"from" form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To   time.Time `json:"to" form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
}

// Contains returns true if t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// ReconciliationReport is the set difference between the settlement and receipt logs.
type ReconciliationReport struct {
	Window                    TimeWindow            `json:"window"`
	SettledWithoutReceipt     []*SettlementLogEntry `json:"settled_without_receipt"`
	ReceiptsWithoutSettlement []*ReceiptLogEntry    `json:"receipts_without_settlement"`
	Matched                   int                   `json:"matched"`
}

// BackfillResult reports what a metadata backfill attached.
type BackfillResult struct {
	Examined int `json:"examined"`
	Attached int `json:"attached"`
	Skipped  int `json:"skipped"`
}

// RecordReceiptRequest appends a downstream receipt.
type RecordReceiptRequest struct {
	ReceiptID        string     `json:"receipt_id" binding:"required"`
	PaymentID        *uuid.UUID `json:"payment_id"`
	AmountMinorUnits int64      `json:"amount_minor_units" binding:"required,gt=0"`
	IssuedAt         time.Time  `json:"issued_at" binding:"required"`
}

// BackfillRequest asks for a metadata backfill against one processor.
type BackfillRequest struct {
	Provider Provider  `json:"provider" binding:"required"`
	From     time.Time `json:"from" binding:"required"`
	To       time.Time `json:"to" binding:"required"`
}

// CallbackOutcome classifies an inbound callback for the audit log.
type CallbackOutcome string

const (
	CallbackOutcomeSettled          CallbackOutcome = "settled"
	CallbackOutcomeAlreadySettled   CallbackOutcome = "already_settled"
	CallbackOutcomeFailed           CallbackOutcome = "failed"
	CallbackOutcomeIgnored          CallbackOutcome = "ignored"
	CallbackOutcomeSignatureInvalid CallbackOutcome = "signature_invalid"
	CallbackOutcomeMalformed        CallbackOutcome = "malformed"
	CallbackOutcomeForbidden        CallbackOutcome = "forbidden"
	CallbackOutcomeUnknownPayment   CallbackOutcome = "unknown_payment"
	CallbackOutcomeAmountMismatch   CallbackOutcome = "amount_mismatch"
	CallbackOutcomeError            CallbackOutcome = "error"
)

// CallbackLog is the append-only audit trail of inbound callbacks.
type CallbackLog struct {
	ID                uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	Provider          Provider        `json:"provider" gorm:"type:varchar(32);not null;index"`
	ExternalReference string          `json:"external_reference,omitempty" gorm:"type:varchar(128);index"`
	RemoteIP          string          `json:"remote_ip" gorm:"type:varchar(64)"`
	Outcome           CallbackOutcome `json:"outcome" gorm:"type:varchar(32);not null;index"`
	Error             *string         `json:"error,omitempty" gorm:"type:text"`
	BodySize          int             `json:"body_size"`
	ArchiveKey        *string         `json:"archive_key,omitempty"`
	ReceivedAt        time.Time       `json:"received_at" gorm:"not null;index"`
}

// TableName returns the table name for GORM.
func (CallbackLog) TableName() string {
	return "payment_callback_log"
}
