package gin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/paygate/server/internal/domain/settlement"
	"github.com/paygate/server/internal/domain/signature"
	"github.com/paygate/server/internal/model"
	"github.com/paygate/server/internal/port/inbound"
	"github.com/paygate/server/internal/port/outbound"
	"github.com/paygate/server/internal/utils/metrics"
	"github.com/paygate/server/internal/utils/middleware"
	"go.uber.org/zap"
)

// maxCallbackBody caps how much of a callback body is read.
const maxCallbackBody = 1 << 20

var (
	errSignatureInvalid = errors.New("signature invalid")
	errPayloadMalformed = errors.New("payload malformed")
)

// ShopCallbackConfig holds callback settings for Freekassa-style shops.
type ShopCallbackConfig struct {
	Enabled    bool
	ShopID     int64
	Secret2    string
	CheckIP    bool
	AllowedIPs []string
}

// CallbackConfig holds per-processor callback verification settings.
type CallbackConfig struct {
	CryptoBotEnabled bool
	CryptoBotSecret  string

	MulenPayEnabled bool
	MulenPaySecret  string
	// MulenPayTokenFallback accepts the secret as a bearer token when no signature header is sent.
	MulenPayTokenFallback bool

	Freekassa ShopCallbackConfig
	KassaAI   ShopCallbackConfig

	RobokassaEnabled    bool
	RobokassaPassword2  string
	RobokassaTrustedIPs []string
}

type ackStyle int

const (
	ackJSON ackStyle = iota
	ackText
	ackRobokassa
)

// callbackRoute is the per-processor strategy selected at setup.
type callbackRoute struct {
	provider model.Provider
	enabled  bool
	ack      ackStyle
	// allowed is nil when any source address may call.
	allowed map[string]bool
	parse   func(c *gin.Context, body []byte) (*parsedCallback, error)
}

// parsedCallback is a verified callback. A nil event is acknowledged without side effects.
type parsedCallback struct {
	event  *model.WebhookEvent
	ackRef string
}

// callbackAdapter implements inbound.CallbackHttpPort.
type callbackAdapter struct {
	settlement settlement.SettlementDomain
	verifier   signature.Verifier
	callbacks  outbound.CallbackLogPort
	archive    outbound.CallbackArchivePort
	metrics    *metrics.Metrics
	cfg        CallbackConfig
	routes     map[model.Provider]*callbackRoute
	now        func() time.Time
	logger     *zap.Logger
}

// NewCallbackAdapter creates the inbound callback router. archive and m may be nil.
func NewCallbackAdapter(
	settlementDomain settlement.SettlementDomain,
	verifier signature.Verifier,
	callbacks outbound.CallbackLogPort,
	archive outbound.CallbackArchivePort,
	m *metrics.Metrics,
	cfg CallbackConfig,
	logger *zap.Logger,
) inbound.CallbackHttpPort {
	a := &callbackAdapter{
		settlement: settlementDomain,
		verifier:   verifier,
		callbacks:  callbacks,
		archive:    archive,
		metrics:    m,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger.Named("callback"),
	}
	a.routes = map[model.Provider]*callbackRoute{
		model.ProviderCryptoBot: {
			provider: model.ProviderCryptoBot,
			enabled:  cfg.CryptoBotEnabled,
			ack:      ackJSON,
			parse:    a.parseCryptoBot,
		},
		model.ProviderMulenPay: {
			provider: model.ProviderMulenPay,
			enabled:  cfg.MulenPayEnabled,
			ack:      ackJSON,
			parse:    a.parseMulenPay,
		},
		model.ProviderFreekassa: {
			provider: model.ProviderFreekassa,
			enabled:  cfg.Freekassa.Enabled,
			ack:      ackText,
			allowed:  ipSet(cfg.Freekassa.CheckIP, cfg.Freekassa.AllowedIPs),
			parse:    a.shopParser(model.ProviderFreekassa, cfg.Freekassa),
		},
		model.ProviderKassaAI: {
			provider: model.ProviderKassaAI,
			enabled:  cfg.KassaAI.Enabled,
			ack:      ackText,
			allowed:  ipSet(cfg.KassaAI.CheckIP, cfg.KassaAI.AllowedIPs),
			parse:    a.shopParser(model.ProviderKassaAI, cfg.KassaAI),
		},
		model.ProviderRobokassa: {
			provider: model.ProviderRobokassa,
			enabled:  cfg.RobokassaEnabled,
			ack:      ackRobokassa,
			allowed:  ipSet(len(cfg.RobokassaTrustedIPs) > 0, cfg.RobokassaTrustedIPs),
			parse:    a.parseRobokassa,
		},
	}
	return a
}

// RegisterCallbackRoutes registers processor callback routes.
func RegisterCallbackRoutes(r gin.IRouter, adapter inbound.CallbackHttpPort) {
	webhooks := r.Group("/webhooks")
	webhooks.Use(middleware.CORS(middleware.WebhookCORSConfig()))
	{
		webhooks.POST("/cryptobot", adapter.HandleCryptoBot)
		webhooks.POST("/mulenpay", adapter.HandleMulenPay)
		webhooks.POST("/freekassa", adapter.HandleFreekassa)
		webhooks.POST("/kassaai", adapter.HandleKassaAI)
		webhooks.POST("/robokassa", adapter.HandleRobokassa)
		// Preflights are answered by the CORS middleware; this route only gives it a match.
		webhooks.OPTIONS("/:provider", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	}
	r.GET("/health/webhooks", adapter.Health)
}

func (a *callbackAdapter) HandleCryptoBot(c *gin.Context) { a.handle(c, a.routes[model.ProviderCryptoBot]) }
func (a *callbackAdapter) HandleMulenPay(c *gin.Context)  { a.handle(c, a.routes[model.ProviderMulenPay]) }
func (a *callbackAdapter) HandleFreekassa(c *gin.Context) { a.handle(c, a.routes[model.ProviderFreekassa]) }
func (a *callbackAdapter) HandleKassaAI(c *gin.Context)   { a.handle(c, a.routes[model.ProviderKassaAI]) }
func (a *callbackAdapter) HandleRobokassa(c *gin.Context) { a.handle(c, a.routes[model.ProviderRobokassa]) }

func (a *callbackAdapter) Health(c *gin.Context) {
	providers := make(map[string]bool, len(model.AllProviders))
	for _, p := range model.AllProviders {
		providers[string(p)] = a.routes[p].enabled
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"providers": providers,
	})
}

// callbackResult carries what the audit log and the ack need.
type callbackResult struct {
	outcome model.CallbackOutcome
	status  int
	reason  string
	ackRef  string
	ref     string
	err     error
}

func (a *callbackAdapter) handle(c *gin.Context, route *callbackRoute) {
	start := a.now()
	remoteIP := middleware.GetClientIP(c)
	log := a.logger.With(
		zap.String("provider", string(route.provider)),
		zap.String("remote_ip", remoteIP),
		zap.String("request_id", middleware.GetRequestID(c)),
	)

	if !route.enabled {
		c.JSON(http.StatusNotFound, model.ErrorResponse{Code: "not_found", Message: "provider not enabled"})
		return
	}

	var body []byte
	res := a.process(c, route, remoteIP, &body, log)

	a.respond(c, route.ack, res)
	a.audit(c.Request.Context(), route.provider, remoteIP, body, res, start, log)
}

func (a *callbackAdapter) process(c *gin.Context, route *callbackRoute, remoteIP string, bodyOut *[]byte, log *zap.Logger) callbackResult {
	if route.allowed != nil && !route.allowed[remoteIP] {
		log.Warn("callback from disallowed address")
		return callbackResult{outcome: model.CallbackOutcomeForbidden, status: http.StatusForbidden, reason: "forbidden"}
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		return callbackResult{outcome: model.CallbackOutcomeMalformed, status: http.StatusBadRequest, reason: "empty_body", err: err}
	}
	*bodyOut = body
	if len(body) == 0 {
		log.Warn("empty callback body")
		return callbackResult{outcome: model.CallbackOutcomeMalformed, status: http.StatusBadRequest, reason: "empty_body"}
	}

	parsed, err := route.parse(c, body)
	switch {
	case errors.Is(err, errSignatureInvalid):
		log.Warn("callback signature rejected", zap.Error(err))
		return callbackResult{outcome: model.CallbackOutcomeSignatureInvalid, status: http.StatusUnauthorized, reason: "invalid_signature", err: err}
	case err != nil:
		log.Warn("malformed callback", zap.Error(err))
		return callbackResult{outcome: model.CallbackOutcomeMalformed, status: http.StatusBadRequest, reason: "invalid_json", err: err}
	}

	if parsed.event == nil {
		return callbackResult{outcome: model.CallbackOutcomeIgnored, status: http.StatusOK, ackRef: parsed.ackRef}
	}

	event := parsed.event
	event.RawPayload = body
	res := a.apply(c.Request.Context(), event, log)
	res.ackRef = parsed.ackRef
	res.ref = event.ExternalReference
	return res
}

// apply hands a verified event to settlement and classifies the result.
func (a *callbackAdapter) apply(ctx context.Context, event *model.WebhookEvent, log *zap.Logger) callbackResult {
	log = log.With(zap.String("external_reference", event.ExternalReference))

	switch event.Status {
	case model.EventStatusPaid:
		result, err := a.settlement.Settle(ctx, event)
		if err != nil {
			return a.settlementFailure(event.Provider, err)
		}
		if a.metrics != nil {
			a.metrics.RecordSettlement(string(event.Provider), string(result.Outcome), event.AmountMinorUnits)
		}
		if result.Outcome == model.SettlementAlreadySettled {
			return callbackResult{outcome: model.CallbackOutcomeAlreadySettled, status: http.StatusOK}
		}
		return callbackResult{outcome: model.CallbackOutcomeSettled, status: http.StatusOK}

	case model.EventStatusFailed:
		if err := a.settlement.Fail(ctx, event); err != nil {
			return a.settlementFailure(event.Provider, err)
		}
		return callbackResult{outcome: model.CallbackOutcomeFailed, status: http.StatusOK}

	default:
		log.Debug("non-final callback acknowledged", zap.String("status", string(event.Status)))
		return callbackResult{outcome: model.CallbackOutcomeIgnored, status: http.StatusOK}
	}
}

// settlementFailure maps settlement errors to acks. Unknown payments and
// amount mismatches are acknowledged so the processor stops redelivering;
// the callback log and the payment's review flag keep them visible.
func (a *callbackAdapter) settlementFailure(provider model.Provider, err error) callbackResult {
	switch {
	case errors.Is(err, settlement.ErrPaymentUnknown):
		if a.metrics != nil {
			a.metrics.RecordUnknownPayment(string(provider))
		}
		return callbackResult{outcome: model.CallbackOutcomeUnknownPayment, status: http.StatusOK, err: err}
	case errors.Is(err, settlement.ErrAmountMismatch), errors.Is(err, settlement.ErrPaymentNotSettleable):
		return callbackResult{outcome: model.CallbackOutcomeAmountMismatch, status: http.StatusOK, err: err}
	case errors.Is(err, settlement.ErrInvalidEvent):
		return callbackResult{outcome: model.CallbackOutcomeMalformed, status: http.StatusBadRequest, reason: "invalid_json", err: err}
	default:
		return callbackResult{outcome: model.CallbackOutcomeError, status: http.StatusInternalServerError, reason: "internal_error", err: err}
	}
}

func (a *callbackAdapter) respond(c *gin.Context, style ackStyle, res callbackResult) {
	ok := res.status == http.StatusOK
	switch style {
	case ackText:
		if ok {
			c.String(http.StatusOK, "YES")
			return
		}
		c.String(res.status, "NO")
	case ackRobokassa:
		if ok {
			c.String(http.StatusOK, "OK"+res.ackRef)
			return
		}
		c.String(res.status, res.reason)
	default:
		if ok {
			c.JSON(http.StatusOK, model.WebhookAck{Status: "ok"})
			return
		}
		c.JSON(res.status, model.WebhookAck{Status: "error", Reason: res.reason})
	}
}

// audit appends the callback log entry and records metrics. Failures here never change the ack.
func (a *callbackAdapter) audit(ctx context.Context, provider model.Provider, remoteIP string, body []byte, res callbackResult, start time.Time, log *zap.Logger) {
	ctx = context.WithoutCancel(ctx)

	entry := &model.CallbackLog{
		ID:                uuid.New(),
		Provider:          provider,
		ExternalReference: res.ref,
		RemoteIP:          remoteIP,
		Outcome:           res.outcome,
		BodySize:          len(body),
		ReceivedAt:        start,
	}
	if res.err != nil {
		msg := res.err.Error()
		entry.Error = &msg
	}

	if a.archive != nil && len(body) > 0 {
		key, err := a.archive.Archive(ctx, provider, start, body)
		if err != nil {
			log.Warn("failed to archive callback body", zap.Error(err))
		} else {
			entry.ArchiveKey = &key
		}
	}

	if err := a.callbacks.Append(ctx, entry); err != nil {
		log.Error("failed to append callback log", zap.Error(err))
	}

	if a.metrics != nil {
		a.metrics.RecordCallback(string(provider), string(res.outcome), a.now().Sub(start))
	}

	switch res.outcome {
	case model.CallbackOutcomeError:
		log.Error("callback processing failed", zap.Error(res.err))
	case model.CallbackOutcomeUnknownPayment, model.CallbackOutcomeAmountMismatch:
		log.Warn("callback acknowledged without settlement, needs review",
			zap.String("outcome", string(res.outcome)),
			zap.Error(res.err),
		)
	}
}

func ipSet(enabled bool, ips []string) map[string]bool {
	if !enabled {
		return nil
	}
	set := make(map[string]bool, len(ips))
	for _, ip := range ips {
		set[ip] = true
	}
	return set
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errPayloadMalformed, fmt.Sprintf(format, args...))
}

// Compile-time check
var _ inbound.CallbackHttpPort = (*callbackAdapter)(nil)
