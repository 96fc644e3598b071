package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/paygate/server/internal/model"
	"github.com/paygate/server/internal/port/outbound"
	"gorm.io/gorm"
)

// ErrUserNotFound is returned when a balance change targets a missing user.
var ErrUserNotFound = errors.New("user not found")

// transactionStoreAdapter implements outbound.TransactionStorePort.
type transactionStoreAdapter struct {
	db *gorm.DB
}

// NewTransactionStoreAdapter creates a new ledger transaction adapter.
func NewTransactionStoreAdapter(db *gorm.DB) outbound.TransactionStorePort {
	return &transactionStoreAdapter{db: db}
}

func (a *transactionStoreAdapter) RecordDeposit(ctx context.Context, userID, amountMinorUnits int64, provider model.Provider, externalRef string) (uuid.UUID, error) {
	tx := &model.Transaction{
		ID:                uuid.New(),
		UserID:            userID,
		Type:              model.TransactionTypeDeposit,
		AmountMinorUnits:  amountMinorUnits,
		Provider:          provider,
		ExternalReference: externalRef,
		Description:       fmt.Sprintf("Top-up via %s", provider),
	}
	if err := dbFromContext(ctx, a.db).Create(tx).Error; err != nil {
		return uuid.Nil, fmt.Errorf("record deposit: %w", err)
	}
	return tx.ID, nil
}

func (a *transactionStoreAdapter) CountByReference(ctx context.Context, provider model.Provider, externalRef string) (int64, error) {
	var count int64
	err := dbFromContext(ctx, a.db).
		Model(&model.Transaction{}).
		Where("type = ? AND provider = ? AND external_reference = ?", model.TransactionTypeDeposit, provider, externalRef).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count deposits: %w", err)
	}
	return count, nil
}

// balanceLedgerAdapter implements outbound.BalanceLedgerPort.
type balanceLedgerAdapter struct {
	db *gorm.DB
}

// NewBalanceLedgerAdapter creates a new balance ledger adapter.
func NewBalanceLedgerAdapter(db *gorm.DB) outbound.BalanceLedgerPort {
	return &balanceLedgerAdapter{db: db}
}

func (a *balanceLedgerAdapter) Credit(ctx context.Context, userID, amountMinorUnits int64) error {
	return credit(dbFromContext(ctx, a.db), userID, amountMinorUnits)
}

func credit(db *gorm.DB, userID, amountMinorUnits int64) error {
	res := db.Model(&model.UserAccount{}).
		Where("id = ?", userID).
		Update("balance_minor_units", gorm.Expr("balance_minor_units + ?", amountMinorUnits))
	if res.Error != nil {
		return fmt.Errorf("credit user %d: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("credit user %d: %w", userID, ErrUserNotFound)
	}
	return nil
}

var (
	_ outbound.TransactionStorePort = (*transactionStoreAdapter)(nil)
	_ outbound.BalanceLedgerPort    = (*balanceLedgerAdapter)(nil)
)

// userDirectoryAdapter implements outbound.UserDirectoryPort.
type userDirectoryAdapter struct {
	db *gorm.DB
}

// NewUserDirectoryAdapter creates a new user directory adapter.
func NewUserDirectoryAdapter(db *gorm.DB) outbound.UserDirectoryPort {
	return &userDirectoryAdapter{db: db}
}

func (a *userDirectoryAdapter) TelegramID(ctx context.Context, userID int64) (int64, error) {
	var ids []int64
	err := a.db.WithContext(ctx).
		Model(&model.UserAccount{}).
		Where("id = ?", userID).
		Limit(1).
		Pluck("telegram_id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("find telegram id: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return ids[0], nil
}

var _ outbound.UserDirectoryPort = (*userDirectoryAdapter)(nil)
