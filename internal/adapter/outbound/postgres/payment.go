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
	"gorm.io/gorm/clause"
)

// paymentAdapter implements outbound.PaymentDatabasePort.
type paymentAdapter struct {
	db *gorm.DB
}

// NewPaymentAdapter creates a new payment database adapter.
func NewPaymentAdapter(db *gorm.DB) outbound.PaymentDatabasePort {
	return &paymentAdapter{db: db}
}

func (a *paymentAdapter) Create(ctx context.Context, payment *model.Payment) error {
	if err := dbFromContext(ctx, a.db).Create(payment).Error; err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (a *paymentAdapter) CreateIfAbsent(ctx context.Context, payment *model.Payment) error {
	err := dbFromContext(ctx, a.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "external_reference"}},
			DoNothing: true,
		}).
		Create(payment).Error
	if err != nil {
		return fmt.Errorf("create payment if absent: %w", err)
	}
	return nil
}

func (a *paymentAdapter) FindByID(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	var payment model.Payment
	err := dbFromContext(ctx, a.db).First(&payment, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find payment by id: %w", err)
	}
	return &payment, nil
}

func (a *paymentAdapter) FindByReference(ctx context.Context, provider model.Provider, externalRef string) (*model.Payment, error) {
	var payment model.Payment
	err := dbFromContext(ctx, a.db).
		First(&payment, "provider = ? AND external_reference = ?", provider, externalRef).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find payment by reference: %w", err)
	}
	return &payment, nil
}

func (a *paymentAdapter) FindByReferenceForUpdate(ctx context.Context, provider model.Provider, externalRef string) (*model.Payment, error) {
	var payment model.Payment
	err := dbFromContext(ctx, a.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&payment, "provider = ? AND external_reference = ?", provider, externalRef).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock payment by reference: %w", err)
	}
	return &payment, nil
}

func (a *paymentAdapter) FindByFilter(ctx context.Context, filter model.PaymentFilter) ([]*model.Payment, int64, error) {
	var payments []*model.Payment
	var total int64

	query := dbFromContext(ctx, a.db).Model(&model.Payment{})

	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Provider != nil {
		query = query.Where("provider = ?", *filter.Provider)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}

	filter.DefaultPagination()
	err := query.
		Offset(filter.Offset()).
		Limit(filter.PageSize).
		Order("created_at DESC").
		Find(&payments).Error
	if err != nil {
		return nil, 0, fmt.Errorf("find payments: %w", err)
	}

	return payments, total, nil
}

func (a *paymentAdapter) FindStale(ctx context.Context, createdBefore time.Time, limit int) ([]*model.Payment, error) {
	var payments []*model.Payment
	err := dbFromContext(ctx, a.db).
		Where("status IN ?", []model.PaymentStatus{model.PaymentStatusCreated, model.PaymentStatusPending}).
		Where("created_at < ? OR (expires_at IS NOT NULL AND expires_at < ?)", createdBefore, time.Now()).
		Where("review_reason IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("find stale payments: %w", err)
	}
	return payments, nil
}

func (a *paymentAdapter) Update(ctx context.Context, payment *model.Payment) error {
	if err := dbFromContext(ctx, a.db).Save(payment).Error; err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return nil
}

func (a *paymentAdapter) MarkPaid(ctx context.Context, paymentID, transactionID uuid.UUID, paidAt time.Time, rawPayload string) (bool, error) {
	res := dbFromContext(ctx, a.db).
		Model(&model.Payment{}).
		Where("id = ? AND status <> ? AND settled_transaction_id IS NULL", paymentID, model.PaymentStatusPaid).
		Updates(map[string]any{
			"status":                 model.PaymentStatusPaid,
			"settled_transaction_id": transactionID,
			"paid_at":                paidAt,
			"raw_callback_payload":   rawPayload,
			"review_reason":          nil,
			"updated_at":             paidAt,
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark payment paid: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (a *paymentAdapter) AttachReceipt(ctx context.Context, paymentID uuid.UUID, receiptID string) (bool, error) {
	res := dbFromContext(ctx, a.db).
		Model(&model.Payment{}).
		Where("id = ? AND status = ? AND receipt_id IS NULL", paymentID, model.PaymentStatusPaid).
		Update("receipt_id", receiptID)
	if res.Error != nil {
		return false, fmt.Errorf("attach receipt: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

var _ outbound.PaymentDatabasePort = (*paymentAdapter)(nil)
