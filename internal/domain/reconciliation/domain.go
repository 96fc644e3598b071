package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/paygate/server/internal/domain/settlement"
	"github.com/paygate/server/internal/model"
	"github.com/paygate/server/internal/port/outbound"
	"go.uber.org/zap"
)

// ReconciliationDomain audits settlements against downstream receipts.
type ReconciliationDomain interface {
	// Reconcile reports settlements without receipts and receipts without settlements.
	Reconcile(ctx context.Context, window model.TimeWindow) (*model.ReconciliationReport, error)

	// RecordReceipt appends a receipt issued by the downstream receipt system.
	RecordReceipt(ctx context.Context, req *model.RecordReceiptRequest) (*model.ReceiptLogEntry, error)

	// Backfill attaches receipt ids to paid payments by matching the processor's own ledger.
	// It only writes metadata.
	Backfill(ctx context.Context, provider model.Provider, window model.TimeWindow) (*model.BackfillResult, error)

	// ExpireStale expires unsettled payments created before olderThan.
	ExpireStale(ctx context.Context, olderThan time.Time) (int, error)
}

// Config holds reconciliation settings.
type Config struct {
	// MatchTolerance is the largest gap between a receipt and an upstream operation.
	MatchTolerance time.Duration
	// SweepBatchSize caps payments expired per sweep.
	SweepBatchSize int
}

// reconciliationDomain implements ReconciliationDomain.
type reconciliationDomain struct {
	settlementLog outbound.SettlementLogPort
	receiptLog    outbound.ReceiptLogPort
	paymentDB     outbound.PaymentDatabasePort
	gateways      outbound.PaymentGatewayRegistryPort
	settlement    settlement.SettlementDomain
	cfg           Config
	logger        *zap.Logger
}

// NewReconciliationDomain creates a new reconciliation domain service.
func NewReconciliationDomain(
	settlementLog outbound.SettlementLogPort,
	receiptLog outbound.ReceiptLogPort,
	paymentDB outbound.PaymentDatabasePort,
	gateways outbound.PaymentGatewayRegistryPort,
	settlementDomain settlement.SettlementDomain,
	cfg Config,
	logger *zap.Logger,
) ReconciliationDomain {
	if cfg.MatchTolerance <= 0 {
		cfg.MatchTolerance = 10 * time.Minute
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 500
	}
	return &reconciliationDomain{
		settlementLog: settlementLog,
		receiptLog:    receiptLog,
		paymentDB:     paymentDB,
		gateways:      gateways,
		settlement:    settlementDomain,
		cfg:           cfg,
		logger:        logger,
	}
}

func (d *reconciliationDomain) Reconcile(ctx context.Context, window model.TimeWindow) (*model.ReconciliationReport, error) {
	if !window.From.Before(window.To) {
		return nil, ErrInvalidWindow
	}

	settled, err := d.settlementLog.FindInWindow(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("load settlement log: %w", err)
	}
	receipts, err := d.receiptLog.FindInWindow(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("load receipt log: %w", err)
	}

	receiptByPayment := make(map[uuid.UUID]bool, len(receipts))
	for _, r := range receipts {
		if r.PaymentID != nil {
			receiptByPayment[*r.PaymentID] = true
		}
	}
	settledPayments := make(map[uuid.UUID]bool, len(settled))
	for _, s := range settled {
		settledPayments[s.PaymentID] = true
	}

	report := &model.ReconciliationReport{
		Window:                    window,
		SettledWithoutReceipt:     []*model.SettlementLogEntry{},
		ReceiptsWithoutSettlement: []*model.ReceiptLogEntry{},
	}
	for _, s := range settled {
		if receiptByPayment[s.PaymentID] {
			report.Matched++
			continue
		}
		report.SettledWithoutReceipt = append(report.SettledWithoutReceipt, s)
	}
	for _, r := range receipts {
		if r.PaymentID == nil || !settledPayments[*r.PaymentID] {
			report.ReceiptsWithoutSettlement = append(report.ReceiptsWithoutSettlement, r)
		}
	}

	if len(report.SettledWithoutReceipt) > 0 || len(report.ReceiptsWithoutSettlement) > 0 {
		d.logger.Warn("reconciliation found differences",
			zap.Time("from", window.From),
			zap.Time("to", window.To),
			zap.Int("settled_without_receipt", len(report.SettledWithoutReceipt)),
			zap.Int("receipts_without_settlement", len(report.ReceiptsWithoutSettlement)),
		)
	}
	return report, nil
}

func (d *reconciliationDomain) RecordReceipt(ctx context.Context, req *model.RecordReceiptRequest) (*model.ReceiptLogEntry, error) {
	if req.ReceiptID == "" || req.AmountMinorUnits <= 0 || req.IssuedAt.IsZero() {
		return nil, ErrInvalidReceipt
	}
	entry := &model.ReceiptLogEntry{
		ID:               uuid.New(),
		ReceiptID:        req.ReceiptID,
		PaymentID:        req.PaymentID,
		AmountMinorUnits: req.AmountMinorUnits,
		IssuedAt:         req.IssuedAt,
	}
	if err := d.receiptLog.Append(ctx, entry); err != nil {
		return nil, err
	}

	if req.PaymentID != nil {
		if _, err := d.paymentDB.AttachReceipt(ctx, *req.PaymentID, req.ReceiptID); err != nil {
			d.logger.Warn("failed to attach receipt to payment",
				zap.String("payment_id", req.PaymentID.String()),
				zap.String("receipt_id", req.ReceiptID),
				zap.Error(err),
			)
		}
	}
	return entry, nil
}

func (d *reconciliationDomain) Backfill(ctx context.Context, provider model.Provider, window model.TimeWindow) (*model.BackfillResult, error) {
	if !window.From.Before(window.To) {
		return nil, ErrInvalidWindow
	}
	gateway, err := d.gateways.Get(provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, provider)
	}

	receipts, err := d.receiptLog.FindInWindow(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("load receipt log: %w", err)
	}
	var orphans []*model.ReceiptLogEntry
	for _, r := range receipts {
		if r.PaymentID == nil {
			orphans = append(orphans, r)
		}
	}
	result := &model.BackfillResult{Examined: len(orphans)}
	if len(orphans) == 0 {
		return result, nil
	}

	// Widen the upstream query so operations just outside the window can still match.
	upstreamWindow := model.TimeWindow{
		From: window.From.Add(-d.cfg.MatchTolerance),
		To:   window.To.Add(d.cfg.MatchTolerance),
	}
	operations, err := gateway.ListOperations(ctx, upstreamWindow)
	if err != nil {
		return nil, fmt.Errorf("%w: list operations: %w", ErrUpstreamFailed, err)
	}

	used := make(map[string]bool, len(operations))
	for _, receipt := range orphans {
		op := d.closestOperation(receipt, operations, used)
		if op == nil {
			result.Skipped++
			continue
		}
		used[op.ExternalReference] = true

		payment, err := d.paymentDB.FindByReference(ctx, provider, op.ExternalReference)
		if err != nil {
			return result, err
		}
		if payment == nil || !payment.IsPaid() || payment.ReceiptID != nil {
			result.Skipped++
			continue
		}

		attached, err := d.paymentDB.AttachReceipt(ctx, payment.ID, receipt.ReceiptID)
		if err != nil {
			return result, err
		}
		if !attached {
			result.Skipped++
			continue
		}
		result.Attached++
		d.logger.Info("receipt backfilled",
			zap.String("payment_id", payment.ID.String()),
			zap.String("receipt_id", receipt.ReceiptID),
			zap.String("provider", string(provider)),
		)
	}
	return result, nil
}

// closestOperation picks the unused operation with the exact amount nearest in time.
func (d *reconciliationDomain) closestOperation(receipt *model.ReceiptLogEntry, ops []*model.UpstreamOperation, used map[string]bool) *model.UpstreamOperation {
	var candidates []*model.UpstreamOperation
	for _, op := range ops {
		if used[op.ExternalReference] || op.AmountMinorUnits != receipt.AmountMinorUnits {
			continue
		}
		if absDuration(op.OccurredAt.Sub(receipt.IssuedAt)) > d.cfg.MatchTolerance {
			continue
		}
		candidates = append(candidates, op)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return absDuration(candidates[i].OccurredAt.Sub(receipt.IssuedAt)) <
			absDuration(candidates[j].OccurredAt.Sub(receipt.IssuedAt))
	})
	return candidates[0]
}

func (d *reconciliationDomain) ExpireStale(ctx context.Context, olderThan time.Time) (int, error) {
	stale, err := d.paymentDB.FindStale(ctx, olderThan, d.cfg.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("find stale payments: %w", err)
	}

	expired := 0
	for _, p := range stale {
		changed, err := d.settlement.Expire(ctx, p.ID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return expired, err
			}
			d.logger.Warn("failed to expire payment",
				zap.String("payment_id", p.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if changed {
			expired++
		}
	}

	if expired > 0 {
		d.logger.Info("stale payments expired", zap.Int("count", expired))
	}
	return expired, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
