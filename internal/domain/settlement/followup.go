package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/paygate/server/internal/model"
	"github.com/paygate/server/internal/port/outbound"
	"github.com/paygate/server/internal/utils/money"
	"go.uber.org/zap"
)

const followUpTimeout = 15 * time.Second

// FollowUps runs the best-effort work that follows a committed settlement:
// referral rewards and user/operator notifications. It is driven by
// payment.settled events, off the callback's request path.
type FollowUps struct {
	referral outbound.ReferralPort
	notifier outbound.NotifierPort
	logger   *zap.Logger
}

// NewFollowUps creates the post-settlement follow-up runner.
func NewFollowUps(referral outbound.ReferralPort, notifier outbound.NotifierPort, logger *zap.Logger) *FollowUps {
	return &FollowUps{
		referral: referral,
		notifier: notifier,
		logger:   logger,
	}
}

// Run processes the referral reward and sends notifications for a settled payment.
// Failures are logged and never touch the committed credit.
func (f *FollowUps) Run(ctx context.Context, payment *model.Payment) {
	if payment == nil || !payment.IsPaid() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, followUpTimeout)
	defer cancel()

	log := f.logger.With(zap.String("payment_id", payment.ID.String()))

	if err := f.referral.ProcessTopUp(ctx, payment.UserID, payment.AmountMinorUnits); err != nil {
		log.Error("referral processing failed", zap.Error(err))
	}

	n := &model.Notification{
		UserID:           payment.UserID,
		PaymentID:        payment.ID,
		Provider:         payment.Provider,
		AmountMinorUnits: payment.AmountMinorUnits,
		Text: fmt.Sprintf("Balance topped up by %s %s via %s",
			money.FormatMajor(payment.AmountMinorUnits), payment.Currency, payment.Provider),
	}
	if payment.SettledTransactionID != nil {
		n.TransactionID = *payment.SettledTransactionID
	}
	if err := f.notifier.NotifyUser(ctx, n); err != nil {
		log.Error("user notification failed", zap.Error(err))
	}
	if err := f.notifier.NotifyOperators(ctx, n); err != nil {
		log.Error("operator notification failed", zap.Error(err))
	}
}
