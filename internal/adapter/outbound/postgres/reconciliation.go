package postgres

import (
	"context"
	"fmt"

	"github.com/paygate/server/internal/model"
	"github.com/paygate/server/internal/port/outbound"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// settlementLogAdapter implements outbound.SettlementLogPort.
type settlementLogAdapter struct {
	db *gorm.DB
}

// NewSettlementLogAdapter creates a new settlement log adapter.
func NewSettlementLogAdapter(db *gorm.DB) outbound.SettlementLogPort {
	return &settlementLogAdapter{db: db}
}

func (a *settlementLogAdapter) Append(ctx context.Context, entry *model.SettlementLogEntry) error {
	if err := dbFromContext(ctx, a.db).Create(entry).Error; err != nil {
		return fmt.Errorf("append settlement log: %w", err)
	}
	return nil
}

func (a *settlementLogAdapter) FindInWindow(ctx context.Context, window model.TimeWindow) ([]*model.SettlementLogEntry, error) {
	var entries []*model.SettlementLogEntry
	err := dbFromContext(ctx, a.db).
		Where("settled_at >= ? AND settled_at < ?", window.From, window.To).
		Order("settled_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("find settlement log: %w", err)
	}
	return entries, nil
}

// receiptLogAdapter implements outbound.ReceiptLogPort.
type receiptLogAdapter struct {
	db *gorm.DB
}

// NewReceiptLogAdapter creates a new receipt log adapter.
func NewReceiptLogAdapter(db *gorm.DB) outbound.ReceiptLogPort {
	return &receiptLogAdapter{db: db}
}

// Append is idempotent on receipt id; a replayed receipt is ignored.
func (a *receiptLogAdapter) Append(ctx context.Context, entry *model.ReceiptLogEntry) error {
	err := dbFromContext(ctx, a.db).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "receipt_id"}}, DoNothing: true}).
		Create(entry).Error
	if err != nil {
		return fmt.Errorf("append receipt log: %w", err)
	}
	return nil
}

func (a *receiptLogAdapter) FindInWindow(ctx context.Context, window model.TimeWindow) ([]*model.ReceiptLogEntry, error) {
	var entries []*model.ReceiptLogEntry
	err := dbFromContext(ctx, a.db).
		Where("issued_at >= ? AND issued_at < ?", window.From, window.To).
		Order("issued_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("find receipt log: %w", err)
	}
	return entries, nil
}

// callbackLogAdapter implements outbound.CallbackLogPort.
type callbackLogAdapter struct {
	db *gorm.DB
}

// NewCallbackLogAdapter creates a new callback audit log adapter.
func NewCallbackLogAdapter(db *gorm.DB) outbound.CallbackLogPort {
	return &callbackLogAdapter{db: db}
}

func (a *callbackLogAdapter) Append(ctx context.Context, entry *model.CallbackLog) error {
	if err := a.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("append callback log: %w", err)
	}
	return nil
}

var (
	_ outbound.SettlementLogPort = (*settlementLogAdapter)(nil)
	_ outbound.ReceiptLogPort    = (*receiptLogAdapter)(nil)
	_ outbound.CallbackLogPort   = (*callbackLogAdapter)(nil)
)
