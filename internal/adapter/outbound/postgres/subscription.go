package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paygate/server/internal/model"
	"github.com/paygate/server/internal/port/outbound"
	"gorm.io/gorm"
)

// subscriptionAdapter implements outbound.SubscriptionDatabasePort.
type subscriptionAdapter struct {
	db *gorm.DB
}

// NewSubscriptionAdapter creates a new webhook subscription adapter.
func NewSubscriptionAdapter(db *gorm.DB) outbound.SubscriptionDatabasePort {
	return &subscriptionAdapter{db: db}
}

func (a *subscriptionAdapter) Create(ctx context.Context, sub *model.WebhookSubscription) error {
	if err := a.db.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

func (a *subscriptionAdapter) FindByID(ctx context.Context, id uuid.UUID) (*model.WebhookSubscription, error) {
	var sub model.WebhookSubscription
	err := a.db.WithContext(ctx).First(&sub, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	return &sub, nil
}

func (a *subscriptionAdapter) List(ctx context.Context, activeOnly bool) ([]*model.WebhookSubscription, error) {
	var subs []*model.WebhookSubscription
	query := a.db.WithContext(ctx)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	if err := query.Order("created_at ASC").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

func (a *subscriptionAdapter) FindActiveByEventType(ctx context.Context, eventType string) ([]*model.WebhookSubscription, error) {
	var subs []*model.WebhookSubscription
	err := a.db.WithContext(ctx).
		Where("is_active = ? AND ? = ANY(event_types)", true, eventType).
		Order("created_at ASC").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("find subscriptions for %s: %w", eventType, err)
	}
	return subs, nil
}

func (a *subscriptionAdapter) Update(ctx context.Context, sub *model.WebhookSubscription) error {
	if err := a.db.WithContext(ctx).Save(sub).Error; err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}

func (a *subscriptionAdapter) Delete(ctx context.Context, id uuid.UUID) error {
	if err := a.db.WithContext(ctx).Delete(&model.WebhookSubscription{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

func (a *subscriptionAdapter) RecordOutcome(ctx context.Context, id uuid.UUID, success bool, at time.Time) error {
	updates := map[string]any{
		"last_delivery_at": at,
		"updated_at":       at,
	}
	if success {
		updates["success_count"] = gorm.Expr("success_count + 1")
		updates["consecutive_failure_count"] = 0
	} else {
		updates["failure_count"] = gorm.Expr("failure_count + 1")
		updates["consecutive_failure_count"] = gorm.Expr("consecutive_failure_count + 1")
	}
	err := a.db.WithContext(ctx).
		Model(&model.WebhookSubscription{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("record delivery outcome: %w", err)
	}
	return nil
}

func (a *subscriptionAdapter) Count(ctx context.Context) (int64, int64, error) {
	var total, active int64
	db := a.db.WithContext(ctx).Model(&model.WebhookSubscription{})
	if err := db.Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("count subscriptions: %w", err)
	}
	if err := a.db.WithContext(ctx).
		Model(&model.WebhookSubscription{}).
		Where("is_active = ?", true).
		Count(&active).Error; err != nil {
		return 0, 0, fmt.Errorf("count active subscriptions: %w", err)
	}
	return total, active, nil
}

// deliveryAdapter implements outbound.DeliveryDatabasePort.
type deliveryAdapter struct {
	db *gorm.DB
}

// NewDeliveryAdapter creates a new webhook delivery adapter.
func NewDeliveryAdapter(db *gorm.DB) outbound.DeliveryDatabasePort {
	return &deliveryAdapter{db: db}
}

func (a *deliveryAdapter) Append(ctx context.Context, attempt *model.DeliveryAttempt) error {
	if err := a.db.WithContext(ctx).Create(attempt).Error; err != nil {
		return fmt.Errorf("append delivery: %w", err)
	}
	return nil
}

func (a *deliveryAdapter) FindByFilter(ctx context.Context, filter model.DeliveryFilter) ([]*model.DeliveryAttempt, int64, error) {
	var attempts []*model.DeliveryAttempt
	var total int64

	query := a.db.WithContext(ctx).Model(&model.DeliveryAttempt{})

	if filter.SubscriptionID != nil {
		query = query.Where("subscription_id = ?", *filter.SubscriptionID)
	}
	if filter.Outcome != nil {
		query = query.Where("outcome = ?", *filter.Outcome)
	}
	if filter.EventType != nil {
		query = query.Where("event_type = ?", *filter.EventType)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count deliveries: %w", err)
	}

	filter.DefaultPagination()
	err := query.
		Offset(filter.Offset()).
		Limit(filter.PageSize).
		Order("attempted_at DESC").
		Find(&attempts).Error
	if err != nil {
		return nil, 0, fmt.Errorf("find deliveries: %w", err)
	}

	return attempts, total, nil
}

func (a *deliveryAdapter) CountByOutcome(ctx context.Context) (int64, int64, error) {
	var rows []struct {
		Outcome model.DeliveryOutcome
		Count   int64
	}
	err := a.db.WithContext(ctx).
		Model(&model.DeliveryAttempt{}).
		Select("outcome, COUNT(*) AS count").
		Group("outcome").
		Scan(&rows).Error
	if err != nil {
		return 0, 0, fmt.Errorf("count deliveries by outcome: %w", err)
	}

	var success, failed int64
	for _, r := range rows {
		switch r.Outcome {
		case model.DeliveryOutcomeSuccess:
			success = r.Count
		case model.DeliveryOutcomeFailed:
			failed = r.Count
		}
	}
	return success, failed, nil
}

var (
	_ outbound.SubscriptionDatabasePort = (*subscriptionAdapter)(nil)
	_ outbound.DeliveryDatabasePort     = (*deliveryAdapter)(nil)
)
