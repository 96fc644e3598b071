package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paygate/server/internal/model"
	"github.com/paygate/server/internal/port/outbound"
	"go.uber.org/zap"
)

// SettlementDomain defines the payment settlement service interface.
type SettlementDomain interface {
	// Settle credits the payment behind a verified paid callback at most once.
	Settle(ctx context.Context, event *model.WebhookEvent) (*model.SettlementResult, error)

	// Fail records an explicit negative callback.
	Fail(ctx context.Context, event *model.WebhookEvent) error

	// Expire moves an unsettled payment to expired. It reports whether a transition happened.
	Expire(ctx context.Context, paymentID uuid.UUID) (bool, error)
}

// Config holds settlement behaviour switches.
type Config struct {
	// PushOnlyProviders create the payment on first callback instead of at origination.
	PushOnlyProviders []model.Provider
}

// settlementDomain implements SettlementDomain.
type settlementDomain struct {
	paymentDB     outbound.PaymentDatabasePort
	transactions  outbound.TransactionStorePort
	ledger        outbound.BalanceLedgerPort
	settlementLog outbound.SettlementLogPort
	txPort        outbound.TransactionPort
	publisher     outbound.EventPublisherPort
	pushOnly      map[model.Provider]bool
	now           func() time.Time
	logger        *zap.Logger
}

// NewSettlementDomain creates a new settlement domain service.
func NewSettlementDomain(
	paymentDB outbound.PaymentDatabasePort,
	transactions outbound.TransactionStorePort,
	ledger outbound.BalanceLedgerPort,
	settlementLog outbound.SettlementLogPort,
	txPort outbound.TransactionPort,
	publisher outbound.EventPublisherPort,
	cfg Config,
	logger *zap.Logger,
) SettlementDomain {
	pushOnly := make(map[model.Provider]bool, len(cfg.PushOnlyProviders))
	for _, p := range cfg.PushOnlyProviders {
		pushOnly[p] = true
	}
	return &settlementDomain{
		paymentDB:     paymentDB,
		transactions:  transactions,
		ledger:        ledger,
		settlementLog: settlementLog,
		txPort:        txPort,
		publisher:     publisher,
		pushOnly:      pushOnly,
		now:           time.Now,
		logger:        logger,
	}
}

func (d *settlementDomain) Settle(ctx context.Context, event *model.WebhookEvent) (*model.SettlementResult, error) {
	if event == nil || event.ExternalReference == "" || !event.Provider.IsValid() {
		return nil, ErrInvalidEvent
	}

	log := d.logger.With(
		zap.String("provider", string(event.Provider)),
		zap.String("external_reference", event.ExternalReference),
	)

	if d.pushOnly[event.Provider] && event.UserID != 0 {
		if err := d.createPushedPayment(ctx, event); err != nil {
			return nil, err
		}
	}

	var (
		result  *model.SettlementResult
		settled *model.Payment
	)
	err := d.txPort.RunInTransaction(ctx, func(ctx context.Context) error {
		payment, err := d.paymentDB.FindByReferenceForUpdate(ctx, event.Provider, event.ExternalReference)
		if err != nil {
			return fmt.Errorf("lock payment: %w", err)
		}
		if payment == nil {
			return ErrPaymentUnknown
		}

		if payment.IsPaid() {
			result = alreadySettled(payment)
			return nil
		}
		if payment.Status.IsTerminal() {
			return fmt.Errorf("%w: %s", ErrPaymentNotSettleable, payment.Status)
		}
		if event.AmountMinorUnits != payment.AmountMinorUnits {
			return fmt.Errorf("%w: expected %d, received %d",
				ErrAmountMismatch, payment.AmountMinorUnits, event.AmountMinorUnits)
		}

		txID, err := d.transactions.RecordDeposit(ctx, payment.UserID, payment.AmountMinorUnits, payment.Provider, payment.ExternalReference)
		if err != nil {
			return fmt.Errorf("record deposit: %w", err)
		}
		if err := d.ledger.Credit(ctx, payment.UserID, payment.AmountMinorUnits); err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}

		paidAt := d.now()
		ok, err := d.paymentDB.MarkPaid(ctx, payment.ID, txID, paidAt, string(event.RawPayload))
		if err != nil {
			return fmt.Errorf("mark paid: %w", err)
		}
		if !ok {
			return errSettlementRace
		}

		if err := d.settlementLog.Append(ctx, &model.SettlementLogEntry{
			ID:                uuid.New(),
			PaymentID:         payment.ID,
			Provider:          payment.Provider,
			ExternalReference: payment.ExternalReference,
			AmountMinorUnits:  payment.AmountMinorUnits,
			TransactionID:     txID,
			SettledAt:         paidAt,
		}); err != nil {
			return fmt.Errorf("append settlement log: %w", err)
		}

		payment.Status = model.PaymentStatusPaid
		payment.SettledTransactionID = &txID
		payment.PaidAt = &paidAt
		settled = payment
		result = &model.SettlementResult{
			Outcome:       model.SettlementSettled,
			PaymentID:     payment.ID,
			TransactionID: txID,
		}
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, errSettlementRace):
		return d.resolveRace(ctx, event)
	case errors.Is(err, ErrPaymentUnknown):
		log.Error("callback for unknown payment")
		return nil, err
	case errors.Is(err, ErrAmountMismatch):
		log.Error("amount mismatch, payment held for review", zap.Int64("received", event.AmountMinorUnits), zap.Error(err))
		d.flagForReview(ctx, event, err.Error())
		return nil, err
	case errors.Is(err, ErrPaymentNotSettleable):
		log.Error("paid callback for a closed payment, payment held for review", zap.Error(err))
		d.flagForReview(ctx, event, err.Error())
		return nil, err
	default:
		log.Error("settlement rolled back", zap.Error(err))
		return nil, err
	}

	if result.Outcome == model.SettlementAlreadySettled {
		log.Info("payment already settled", zap.String("payment_id", result.PaymentID.String()))
		return result, nil
	}

	log.Info("payment settled",
		zap.String("payment_id", result.PaymentID.String()),
		zap.String("transaction_id", result.TransactionID.String()),
		zap.Int64("amount", settled.AmountMinorUnits),
	)
	d.afterSettlement(ctx, settled)
	return result, nil
}

func (d *settlementDomain) Fail(ctx context.Context, event *model.WebhookEvent) error {
	if event == nil || event.ExternalReference == "" {
		return ErrInvalidEvent
	}

	var failed *model.Payment
	err := d.txPort.RunInTransaction(ctx, func(ctx context.Context) error {
		payment, err := d.paymentDB.FindByReferenceForUpdate(ctx, event.Provider, event.ExternalReference)
		if err != nil {
			return fmt.Errorf("lock payment: %w", err)
		}
		if payment == nil {
			return ErrPaymentUnknown
		}
		if !payment.Status.CanTransitionTo(model.PaymentStatusFailed) {
			d.logger.Warn("ignoring failure callback for closed payment",
				zap.String("payment_id", payment.ID.String()),
				zap.String("status", string(payment.Status)),
			)
			return nil
		}

		raw := string(event.RawPayload)
		payment.Status = model.PaymentStatusFailed
		payment.RawCallbackPayload = &raw
		if err := d.paymentDB.Update(ctx, payment); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
		failed = payment
		return nil
	})
	if err != nil {
		return err
	}

	if failed != nil {
		d.logger.Info("payment failed",
			zap.String("payment_id", failed.ID.String()),
			zap.String("provider", string(failed.Provider)),
		)
		d.publisher.Publish(context.WithoutCancel(ctx), model.EventTypePaymentFailed, failed.ID, failed)
	}
	return nil
}

func (d *settlementDomain) Expire(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	existing, err := d.paymentDB.FindByID(ctx, paymentID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, ErrPaymentNotFound
	}

	var expired *model.Payment
	err = d.txPort.RunInTransaction(ctx, func(ctx context.Context) error {
		payment, err := d.paymentDB.FindByReferenceForUpdate(ctx, existing.Provider, existing.ExternalReference)
		if err != nil {
			return fmt.Errorf("lock payment: %w", err)
		}
		if payment == nil || !payment.Status.CanTransitionTo(model.PaymentStatusExpired) {
			return nil
		}
		payment.Status = model.PaymentStatusExpired
		if err := d.paymentDB.Update(ctx, payment); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
		expired = payment
		return nil
	})
	if err != nil || expired == nil {
		return false, err
	}

	d.publisher.Publish(context.WithoutCancel(ctx), model.EventTypePaymentExpired, expired.ID, expired)
	return true, nil
}

func (d *settlementDomain) createPushedPayment(ctx context.Context, event *model.WebhookEvent) error {
	currency := event.Currency
	if currency == "" {
		currency = "RUB"
	}
	payment := &model.Payment{
		ID:                uuid.New(),
		Provider:          event.Provider,
		ExternalReference: event.ExternalReference,
		InternalOrderID:   event.ExternalReference,
		UserID:            event.UserID,
		AmountMinorUnits:  event.AmountMinorUnits,
		Currency:          currency,
		Status:            model.PaymentStatusPending,
	}
	if err := d.paymentDB.CreateIfAbsent(ctx, payment); err != nil {
		return fmt.Errorf("create pushed payment: %w", err)
	}
	return nil
}

// resolveRace re-reads a payment whose conditional update matched no row.
func (d *settlementDomain) resolveRace(ctx context.Context, event *model.WebhookEvent) (*model.SettlementResult, error) {
	payment, err := d.paymentDB.FindByReference(ctx, event.Provider, event.ExternalReference)
	if err != nil {
		return nil, err
	}
	if payment != nil && payment.IsPaid() {
		return alreadySettled(payment), nil
	}
	return nil, errSettlementRace
}

func (d *settlementDomain) flagForReview(ctx context.Context, event *model.WebhookEvent, reason string) {
	payment, err := d.paymentDB.FindByReference(ctx, event.Provider, event.ExternalReference)
	if err != nil || payment == nil || payment.IsPaid() {
		return
	}
	if payment.Status == model.PaymentStatusCreated {
		payment.Status = model.PaymentStatusPending
	}
	payment.ReviewReason = &reason
	payment.RetryCount++
	if err := d.paymentDB.Update(ctx, payment); err != nil {
		d.logger.Error("failed to flag payment for review",
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err),
		)
	}
}

// afterSettlement announces the settlement. Referral rewards, notifications
// and webhook dispatch subscribe to payment.settled and run off the request path.
func (d *settlementDomain) afterSettlement(ctx context.Context, payment *model.Payment) {
	d.publisher.Publish(context.WithoutCancel(ctx), model.EventTypePaymentSettled, payment.ID, payment)
}

func alreadySettled(payment *model.Payment) *model.SettlementResult {
	result := &model.SettlementResult{
		Outcome:   model.SettlementAlreadySettled,
		PaymentID: payment.ID,
	}
	if payment.SettledTransactionID != nil {
		result.TransactionID = *payment.SettledTransactionID
	}
	return result
}
