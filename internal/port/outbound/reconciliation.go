package outbound

import (
	"context"

	"github.com/paygate/server/internal/model"
)

// SettlementLogPort is the append-only log of settlements.
type SettlementLogPort interface {
	Append(ctx context.Context, entry *model.SettlementLogEntry) error
	FindInWindow(ctx context.Context, window model.TimeWindow) ([]*model.SettlementLogEntry, error)
}

// ReceiptLogPort is the append-only log of downstream receipts.
type ReceiptLogPort interface {
	Append(ctx context.Context, entry *model.ReceiptLogEntry) error
	FindInWindow(ctx context.Context, window model.TimeWindow) ([]*model.ReceiptLogEntry, error)
}
