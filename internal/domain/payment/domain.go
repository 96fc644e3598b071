package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paygate/server/internal/domain/settlement"
	"github.com/paygate/server/internal/model"
	"github.com/paygate/server/internal/port/outbound"
	"go.uber.org/zap"
)

// PaymentDomain defines payment origination and query operations.
type PaymentDomain interface {
	// CreatePayment opens an order with the processor and records the payment.
	CreatePayment(ctx context.Context, req *model.CreatePaymentRequest) (*model.CreatePaymentResponse, error)

	// GetPayment returns a payment by ID.
	GetPayment(ctx context.Context, id uuid.UUID) (*model.Payment, error)

	// ListPayments lists payments by filter.
	ListPayments(ctx context.Context, filter model.PaymentFilter) ([]*model.Payment, int64, error)

	// RefreshPayment re-queries the processor and settles the payment if it reports paid.
	RefreshPayment(ctx context.Context, id uuid.UUID) (*model.Payment, error)
}

// Limits bounds originated amounts per provider.
type Limits struct {
	MinMinorUnits int64
	MaxMinorUnits int64
}

// Config holds payment origination settings.
type Config struct {
	Limits       map[model.Provider]Limits
	PaymentTTL   time.Duration
	ReturnURL    string
	DefaultTitle string
}

// paymentDomain implements PaymentDomain.
type paymentDomain struct {
	paymentDB  outbound.PaymentDatabasePort
	gateways   outbound.PaymentGatewayRegistryPort
	settlement settlement.SettlementDomain
	cfg        Config
	logger     *zap.Logger
}

// NewPaymentDomain creates a new payment domain service.
func NewPaymentDomain(
	paymentDB outbound.PaymentDatabasePort,
	gateways outbound.PaymentGatewayRegistryPort,
	settlementDomain settlement.SettlementDomain,
	cfg Config,
	logger *zap.Logger,
) PaymentDomain {
	if cfg.PaymentTTL <= 0 {
		cfg.PaymentTTL = time.Hour
	}
	if cfg.DefaultTitle == "" {
		cfg.DefaultTitle = "Balance top-up"
	}
	return &paymentDomain{
		paymentDB:  paymentDB,
		gateways:   gateways,
		settlement: settlementDomain,
		cfg:        cfg,
		logger:     logger,
	}
}

func (d *paymentDomain) CreatePayment(ctx context.Context, req *model.CreatePaymentRequest) (*model.CreatePaymentResponse, error) {
	if req.AmountMinorUnits <= 0 {
		return nil, ErrInvalidAmount
	}
	if limits, ok := d.cfg.Limits[req.Provider]; ok {
		if (limits.MinMinorUnits > 0 && req.AmountMinorUnits < limits.MinMinorUnits) ||
			(limits.MaxMinorUnits > 0 && req.AmountMinorUnits > limits.MaxMinorUnits) {
			return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrAmountOutOfRange,
				req.AmountMinorUnits, limits.MinMinorUnits, limits.MaxMinorUnits)
		}
	}

	gateway, err := d.gateways.Get(req.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotAvailable, req.Provider)
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = "RUB"
	}
	description := req.Description
	if description == "" {
		description = d.cfg.DefaultTitle
	}
	internalOrderID := uuid.NewString()

	order, err := gateway.CreateOrder(ctx, &model.GatewayOrderRequest{
		InternalOrderID:  internalOrderID,
		AmountMinorUnits: req.AmountMinorUnits,
		Currency:         currency,
		Description:      description,
		Email:            req.Email,
		ReturnURL:        d.cfg.ReturnURL,
	})
	if err != nil {
		d.logger.Error("upstream order creation failed",
			zap.String("provider", string(req.Provider)),
			zap.String("internal_order_id", internalOrderID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: create order: %w", ErrUpstreamFailed, err)
	}

	status := model.PaymentStatusCreated
	if order.Confirmed {
		status = model.PaymentStatusPending
	}
	expiresAt := time.Now().Add(d.cfg.PaymentTTL)
	payment := &model.Payment{
		ID:                uuid.New(),
		Provider:          req.Provider,
		ExternalReference: order.ExternalReference,
		InternalOrderID:   internalOrderID,
		UserID:            req.UserID,
		AmountMinorUnits:  req.AmountMinorUnits,
		Currency:          currency,
		Description:       description,
		Status:            status,
		PaymentURL:        order.PaymentURL,
		ExpiresAt:         &expiresAt,
	}
	if err := d.paymentDB.Create(ctx, payment); err != nil {
		return nil, err
	}

	d.logger.Info("payment created",
		zap.String("payment_id", payment.ID.String()),
		zap.String("provider", string(payment.Provider)),
		zap.String("external_reference", payment.ExternalReference),
		zap.Int64("amount", payment.AmountMinorUnits),
	)

	return &model.CreatePaymentResponse{
		PaymentID:         payment.ID,
		Provider:          payment.Provider,
		ExternalReference: payment.ExternalReference,
		PaymentURL:        payment.PaymentURL,
		Status:            payment.Status,
		ExpiresAt:         payment.ExpiresAt,
	}, nil
}

func (d *paymentDomain) GetPayment(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	payment, err := d.paymentDB.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

func (d *paymentDomain) ListPayments(ctx context.Context, filter model.PaymentFilter) ([]*model.Payment, int64, error) {
	filter.DefaultPagination()
	return d.paymentDB.FindByFilter(ctx, filter)
}

func (d *paymentDomain) RefreshPayment(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	payment, err := d.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.Status.IsTerminal() {
		return payment, nil
	}

	gateway, err := d.gateways.Get(payment.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotAvailable, payment.Provider)
	}
	order, err := gateway.GetOrder(ctx, payment.ExternalReference)
	if err != nil {
		return nil, fmt.Errorf("%w: query order: %w", ErrUpstreamFailed, err)
	}

	event := &model.WebhookEvent{
		Provider:          payment.Provider,
		ExternalReference: payment.ExternalReference,
		AmountMinorUnits:  order.AmountMinorUnits,
		Currency:          payment.Currency,
		Status:            order.Status,
	}
	switch order.Status {
	case model.EventStatusPaid:
		if _, err := d.settlement.Settle(ctx, event); err != nil && !errors.Is(err, settlement.ErrAmountMismatch) {
			return nil, err
		}
	case model.EventStatusFailed:
		if err := d.settlement.Fail(ctx, event); err != nil {
			return nil, err
		}
	default:
		return payment, nil
	}

	return d.GetPayment(ctx, id)
}
