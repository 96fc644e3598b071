package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/paygate/server/internal/model"
	"github.com/paygate/server/internal/port/outbound"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WebhookDomain defines outbound event delivery and subscriber management.
type WebhookDomain interface {
	// Dispatch delivers one event to every active subscriber of eventType.
	Dispatch(ctx context.Context, eventType string, data any) (*model.DispatchSummary, error)

	CreateSubscription(ctx context.Context, req *model.CreateSubscriptionRequest) (*model.WebhookSubscription, error)
	GetSubscription(ctx context.Context, id uuid.UUID) (*model.WebhookSubscription, error)
	ListSubscriptions(ctx context.Context, activeOnly bool) ([]*model.WebhookSubscription, error)
	UpdateSubscription(ctx context.Context, id uuid.UUID, req *model.UpdateSubscriptionRequest) (*model.WebhookSubscription, error)
	DeleteSubscription(ctx context.Context, id uuid.UUID) error

	ListDeliveries(ctx context.Context, filter model.DeliveryFilter) ([]*model.DeliveryAttempt, int64, error)
	GetStats(ctx context.Context) (*model.WebhookStats, error)
}

// Config holds dispatcher settings.
type Config struct {
	// MaxParallel bounds concurrent deliveries per dispatch.
	MaxParallel int
	// MaxAttempts bounds tries per subscriber for connection errors, timeouts and 5xx.
	MaxAttempts int
	// RetryBackoff is multiplied by the attempt number between tries.
	RetryBackoff time.Duration
}

const (
	defaultMaxParallel  = 8
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 500 * time.Millisecond
)

var knownEventTypes = map[string]bool{
	model.EventTypePaymentSettled: true,
	model.EventTypePaymentFailed:  true,
	model.EventTypePaymentExpired: true,
}

// webhookDomain implements WebhookDomain.
type webhookDomain struct {
	subscriptions outbound.SubscriptionDatabasePort
	deliveries    outbound.DeliveryDatabasePort
	sender        outbound.WebhookSenderPort
	maxParallel   int
	maxAttempts   int
	retryBackoff  time.Duration
	now           func() time.Time
	logger        *zap.Logger
}

// NewWebhookDomain creates a new webhook domain service.
func NewWebhookDomain(
	subscriptions outbound.SubscriptionDatabasePort,
	deliveries outbound.DeliveryDatabasePort,
	sender outbound.WebhookSenderPort,
	cfg Config,
	logger *zap.Logger,
) WebhookDomain {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = defaultMaxParallel
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	return &webhookDomain{
		subscriptions: subscriptions,
		deliveries:    deliveries,
		sender:        sender,
		maxParallel:   cfg.MaxParallel,
		maxAttempts:   cfg.MaxAttempts,
		retryBackoff:  cfg.RetryBackoff,
		now:           time.Now,
		logger:        logger,
	}
}

// ===== Dispatch =====

func (d *webhookDomain) Dispatch(ctx context.Context, eventType string, data any) (*model.DispatchSummary, error) {
	subs, err := d.subscriptions.FindActiveByEventType(ctx, eventType)
	if err != nil {
		return nil, fmt.Errorf("find subscribers: %w", err)
	}

	// Subscribers receive the payload itself; the signature covers these exact bytes.
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}

	ev := dispatchEvent{id: uuid.New(), eventType: eventType}
	summary := &model.DispatchSummary{EventID: ev.id, EventType: eventType}
	if len(subs) == 0 {
		return summary, nil
	}

	// Network phase: one goroutine per subscriber, each writing its own slot.
	results := make([]networkResult, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.maxParallel)
	for i, sub := range subs {
		g.Go(func() error {
			results[i] = d.deliver(gctx, sub, ev, body)
			return nil
		})
	}
	_ = g.Wait()

	// Recording phase runs sequentially on the caller's goroutine.
	for i := range results {
		r := &results[i]
		outcome, errMsg := r.outcome()
		if outcome == model.DeliveryOutcomeSuccess {
			summary.Delivered++
		} else {
			summary.Failed++
		}
		d.record(ctx, r, ev, string(body), outcome, errMsg)
	}

	d.logger.Info("event dispatched",
		zap.String("event_id", ev.id.String()),
		zap.String("event_type", eventType),
		zap.Int("delivered", summary.Delivered),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// deliver posts body to one subscriber, retrying connection errors, timeouts
// and 5xx responses up to maxAttempts with linear backoff.
func (d *webhookDomain) deliver(ctx context.Context, sub *model.WebhookSubscription, ev dispatchEvent, body []byte) networkResult {
	headers := map[string]string{
		"Content-Type": "application/json",
		HeaderEvent:    ev.eventType,
		HeaderID:       sub.ID.String(),
		HeaderEventID:  ev.id.String(),
	}
	if sub.Secret != "" {
		headers[HeaderSignature] = SignBody(sub.Secret, body)
	}
	log := d.logger.With(
		zap.String("subscription_id", sub.ID.String()),
		zap.String("event_id", ev.id.String()),
	)

	start := d.now()
	result := networkResult{sub: sub}
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		result.attempts = attempt
		result.statusCode, result.body = nil, nil

		resp, err := d.sender.Send(ctx, &outbound.WebhookRequest{URL: sub.URL, Headers: headers, Body: body})
		result.err = err
		if err == nil {
			status := resp.StatusCode
			stored := truncateResponse(resp.Body)
			result.statusCode = &status
			result.body = &stored
		}

		if !result.retryable() || attempt == d.maxAttempts || ctx.Err() != nil {
			break
		}
		log.Warn("webhook delivery failed, retrying",
			zap.Int("attempt", attempt),
			zap.Any("status", result.statusCode),
			zap.Error(err),
		)
		if err := sleepCtx(ctx, time.Duration(attempt)*d.retryBackoff); err != nil {
			break
		}
	}
	result.durationMs = d.now().Sub(start).Milliseconds()

	if result.err != nil {
		log.Warn("webhook delivery failed",
			zap.Int("attempts", result.attempts),
			zap.Error(result.err),
		)
	}
	return result
}

func sleepCtx(ctx context.Context, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *webhookDomain) record(ctx context.Context, r *networkResult, ev dispatchEvent, snapshot string, outcome model.DeliveryOutcome, errMsg *string) {
	attemptedAt := d.now()
	attempt := &model.DeliveryAttempt{
		ID:              uuid.New(),
		SubscriptionID:  r.sub.ID,
		EventID:         ev.id,
		EventType:       ev.eventType,
		PayloadSnapshot: snapshot,
		HTTPStatus:      r.statusCode,
		ResponseBody:    r.body,
		Outcome:         outcome,
		ErrorMessage:    errMsg,
		AttemptNumber:   r.attempts,
		DurationMs:      r.durationMs,
		AttemptedAt:     attemptedAt,
	}
	if err := d.deliveries.Append(ctx, attempt); err != nil {
		d.logger.Error("failed to record delivery",
			zap.String("subscription_id", r.sub.ID.String()),
			zap.String("event_id", ev.id.String()),
			zap.Error(err),
		)
		return
	}
	if err := d.subscriptions.RecordOutcome(ctx, r.sub.ID, outcome == model.DeliveryOutcomeSuccess, attemptedAt); err != nil {
		d.logger.Error("failed to update subscription counters",
			zap.String("subscription_id", r.sub.ID.String()),
			zap.Error(err),
		)
	}
}

// ===== Subscriptions =====

func (d *webhookDomain) CreateSubscription(ctx context.Context, req *model.CreateSubscriptionRequest) (*model.WebhookSubscription, error) {
	if err := validateURL(req.URL); err != nil {
		return nil, err
	}
	if err := validateEventTypes(req.EventTypes); err != nil {
		return nil, err
	}

	sub := &model.WebhookSubscription{
		ID:          uuid.New(),
		Name:        req.Name,
		URL:         req.URL,
		Secret:      req.Secret,
		EventTypes:  req.EventTypes,
		Description: req.Description,
		IsActive:    true,
	}
	if err := d.subscriptions.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	d.logger.Info("webhook subscription created",
		zap.String("subscription_id", sub.ID.String()),
		zap.Strings("event_types", sub.EventTypes),
	)
	return sub, nil
}

func (d *webhookDomain) GetSubscription(ctx context.Context, id uuid.UUID) (*model.WebhookSubscription, error) {
	sub, err := d.subscriptions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

func (d *webhookDomain) ListSubscriptions(ctx context.Context, activeOnly bool) ([]*model.WebhookSubscription, error) {
	return d.subscriptions.List(ctx, activeOnly)
}

func (d *webhookDomain) UpdateSubscription(ctx context.Context, id uuid.UUID, req *model.UpdateSubscriptionRequest) (*model.WebhookSubscription, error) {
	sub, err := d.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		sub.Name = *req.Name
	}
	if req.URL != nil {
		if err := validateURL(*req.URL); err != nil {
			return nil, err
		}
		sub.URL = *req.URL
	}
	if req.EventTypes != nil {
		if err := validateEventTypes(req.EventTypes); err != nil {
			return nil, err
		}
		sub.EventTypes = req.EventTypes
	}
	if req.Secret != nil {
		sub.Secret = *req.Secret
	}
	if req.Description != nil {
		sub.Description = *req.Description
	}
	if req.IsActive != nil {
		sub.IsActive = *req.IsActive
		if sub.IsActive {
			sub.ConsecutiveFailureCount = 0
		}
	}

	if err := d.subscriptions.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	return sub, nil
}

func (d *webhookDomain) DeleteSubscription(ctx context.Context, id uuid.UUID) error {
	if _, err := d.GetSubscription(ctx, id); err != nil {
		return err
	}
	return d.subscriptions.Delete(ctx, id)
}

// ===== History =====

func (d *webhookDomain) ListDeliveries(ctx context.Context, filter model.DeliveryFilter) ([]*model.DeliveryAttempt, int64, error) {
	if filter.SubscriptionID != nil {
		if _, err := d.GetSubscription(ctx, *filter.SubscriptionID); err != nil {
			return nil, 0, err
		}
	}
	filter.DefaultPagination()
	return d.deliveries.FindByFilter(ctx, filter)
}

func (d *webhookDomain) GetStats(ctx context.Context) (*model.WebhookStats, error) {
	total, active, err := d.subscriptions.Count(ctx)
	if err != nil {
		return nil, err
	}
	success, failed, err := d.deliveries.CountByOutcome(ctx)
	if err != nil {
		return nil, err
	}

	stats := &model.WebhookStats{
		TotalSubscriptions:   total,
		ActiveSubscriptions:  active,
		TotalDeliveries:      success + failed,
		SuccessfulDeliveries: success,
		FailedDeliveries:     failed,
	}
	if stats.TotalDeliveries > 0 {
		stats.SuccessRate = float64(success) / float64(stats.TotalDeliveries) * 100
	}
	return stats, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return nil
}

func validateEventTypes(types []string) error {
	if len(types) == 0 {
		return ErrNoEventTypes
	}
	for _, t := range types {
		if !knownEventTypes[t] {
			return fmt.Errorf("%w: %s", ErrUnknownEventType, t)
		}
	}
	return nil
}
