package outbound

import (
	"context"

	"github.com/google/uuid"
	"github.com/paygate/server/internal/model"
)

// TransactionStorePort records completed ledger transactions.
type TransactionStorePort interface {
	// RecordDeposit records a completed deposit and returns its id.
	RecordDeposit(ctx context.Context, userID, amountMinorUnits int64, provider model.Provider, externalRef string) (uuid.UUID, error)

	// CountByReference counts deposits recorded for an external reference.
	CountByReference(ctx context.Context, provider model.Provider, externalRef string) (int64, error)
}

// BalanceLedgerPort mutates user balances.
type BalanceLedgerPort interface {
	// Credit adds amountMinorUnits to the user's balance.
	Credit(ctx context.Context, userID, amountMinorUnits int64) error
}

// ReferralPort runs referral bonus processing after a top-up.
type ReferralPort interface {
	ProcessTopUp(ctx context.Context, userID, amountMinorUnits int64) error
}

// NotifierPort notifies users and operators.
type NotifierPort interface {
	NotifyUser(ctx context.Context, n *model.Notification) error
	NotifyOperators(ctx context.Context, n *model.Notification) error
}

// UserDirectoryPort resolves a user's chat address.
type UserDirectoryPort interface {
	// TelegramID returns 0 when the user has no chat.
	TelegramID(ctx context.Context, userID int64) (int64, error)
}
