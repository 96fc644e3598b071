package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/paygate/server/internal/model"
	"github.com/paygate/server/internal/port/outbound"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReferralConfig controls referral rewards.
type ReferralConfig struct {
	// RewardPercent of every referee top-up is credited to the referrer.
	RewardPercent int64
}

// referralAdapter implements outbound.ReferralPort.
type referralAdapter struct {
	db     *gorm.DB
	cfg    ReferralConfig
	logger *zap.Logger
}

// NewReferralAdapter creates a new referral adapter.
func NewReferralAdapter(db *gorm.DB, cfg ReferralConfig, logger *zap.Logger) outbound.ReferralPort {
	return &referralAdapter{db: db, cfg: cfg, logger: logger}
}

func (a *referralAdapter) ProcessTopUp(ctx context.Context, userID, amountMinorUnits int64) error {
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user model.UserAccount
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("referral top-up for user %d: %w", userID, ErrUserNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock user: %w", err)
		}

		if user.ReferrerID != nil && a.cfg.RewardPercent > 0 {
			reward := amountMinorUnits * a.cfg.RewardPercent / 100
			if reward > 0 {
				if err := a.reward(tx, *user.ReferrerID, userID, reward); err != nil {
					return err
				}
			}
		}

		if !user.HasMadeFirstTopup {
			if err := tx.Model(&model.UserAccount{}).
				Where("id = ?", userID).
				Update("has_made_first_topup", true).Error; err != nil {
				return fmt.Errorf("mark first top-up: %w", err)
			}
		}
		return nil
	})
}

func (a *referralAdapter) reward(tx *gorm.DB, referrerID, refereeID, amount int64) error {
	if err := tx.Create(&model.Transaction{
		ID:               uuid.New(),
		UserID:           referrerID,
		Type:             model.TransactionTypeReferralReward,
		AmountMinorUnits: amount,
		Description:      fmt.Sprintf("Referral reward for user %d", refereeID),
	}).Error; err != nil {
		return fmt.Errorf("record referral reward: %w", err)
	}
	if err := credit(tx, referrerID, amount); err != nil {
		return err
	}
	a.logger.Info("referral reward credited",
		zap.Int64("referrer_id", referrerID),
		zap.Int64("referee_id", refereeID),
		zap.Int64("amount", amount),
	)
	return nil
}

var _ outbound.ReferralPort = (*referralAdapter)(nil)
