package model

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType represents the kind of ledger transaction.
type TransactionType string

const (
	TransactionTypeDeposit        TransactionType = "deposit"
	TransactionTypeReferralReward TransactionType = "referral_reward"
)

// Transaction is a completed ledger entry crediting a user.
type Transaction struct {
	ID                uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	UserID            int64           `json:"user_id" gorm:"not null;index"`
	Type              TransactionType `json:"type" gorm:"type:varchar(32);not null"`
	AmountMinorUnits  int64           `json:"amount_minor_units" gorm:"not null"`
	Provider          Provider        `json:"provider,omitempty" gorm:"type:varchar(32)"`
	ExternalReference string          `json:"external_reference,omitempty" gorm:"type:varchar(128);index"`
	Description       string          `json:"description,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// TableName returns the table name for GORM.
func (Transaction) TableName() string {
	return "transactions"
}

// UserAccount is the balance-bearing view of a bot user.
type UserAccount struct {
	ID                int64     `json:"id" gorm:"primaryKey"`
	TelegramID        int64     `json:"telegram_id" gorm:"uniqueIndex"`
	BalanceMinorUnits int64     `json:"balance_minor_units" gorm:"not null;default:0"`
	ReferrerID        *int64    `json:"referrer_id,omitempty" gorm:"index"`
	HasMadeFirstTopup bool      `json:"has_made_first_topup" gorm:"not null;default:false"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (UserAccount) TableName() string {
	return "users"
}

// Notification is a message for a user or the operators.
type Notification struct {
	UserID           int64
	PaymentID        uuid.UUID
	TransactionID    uuid.UUID
	Provider         Provider
	AmountMinorUnits int64
	Text             string
}
