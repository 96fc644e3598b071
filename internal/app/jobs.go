package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/paygate/server/internal/model"
)

// Job names, also accepted by RunJob.
const (
	JobExpireStale = "expire_stale"
	JobReconcile   = "reconcile"
)

// initJobs registers the expiry sweep and the reconciliation audit.
func (a *App) initJobs() error {
	rc := a.config.Reconciliation
	if !rc.Enabled {
		return nil
	}

	if err := a.scheduler.Register(JobExpireStale, rc.Interval, a.expireStale); err != nil {
		return err
	}
	return a.scheduler.Register(JobReconcile, rc.Interval, a.reconcile)
}

// RunJob runs one background job immediately.
func (a *App) RunJob(ctx context.Context, name string) error {
	return a.scheduler.RunNow(ctx, name)
}

func (a *App) expireStale(ctx context.Context) error {
	expired, err := a.reconciliationDomain.ExpireStale(ctx, time.Now().Add(-a.config.Reconciliation.StaleAfter))
	if err != nil {
		return fmt.Errorf("expire stale payments: %w", err)
	}
	a.metrics.RecordExpired(expired)
	if expired > 0 {
		a.zapLogger.Info("expired stale payments", zap.Int("count", expired))
	}
	return nil
}

func (a *App) reconcile(ctx context.Context) error {
	now := time.Now()
	report, err := a.reconciliationDomain.Reconcile(ctx, model.TimeWindow{
		From: now.Add(-a.config.Reconciliation.Lookback),
		To:   now,
	})
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	a.metrics.SetReconciliationGaps(len(report.SettledWithoutReceipt), len(report.ReceiptsWithoutSettlement))
	if len(report.SettledWithoutReceipt) > 0 || len(report.ReceiptsWithoutSettlement) > 0 {
		a.zapLogger.Warn("reconciliation gaps found",
			zap.Int("settled_without_receipt", len(report.SettledWithoutReceipt)),
			zap.Int("receipts_without_settlement", len(report.ReceiptsWithoutSettlement)),
			zap.Int("matched", report.Matched),
		)
	}
	return nil
}
