package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	// Domains
	"github.com/paygate/server/internal/domain/payment"
	"github.com/paygate/server/internal/domain/reconciliation"
	"github.com/paygate/server/internal/domain/settlement"
	"github.com/paygate/server/internal/domain/signature"
	"github.com/paygate/server/internal/domain/webhook"
	"github.com/paygate/server/internal/model"

	// Inbound adapters (HTTP handlers)
	ginadapter "github.com/paygate/server/internal/adapter/inbound/gin"

	// Outbound adapters
	eventsadapter "github.com/paygate/server/internal/adapter/outbound/events"
	"github.com/paygate/server/internal/adapter/outbound/postgres"
	redisadapter "github.com/paygate/server/internal/adapter/outbound/redis"
	"github.com/paygate/server/internal/adapter/outbound/storage"
	"github.com/paygate/server/internal/adapter/outbound/telegram"
	webhookadapter "github.com/paygate/server/internal/adapter/outbound/webhook"
	"github.com/paygate/server/internal/port/outbound"

	// Shared infrastructure
	"github.com/paygate/server/internal/infra/config"
	"github.com/paygate/server/internal/infra/events"
	"github.com/paygate/server/internal/infra/task"
	sharedcache "github.com/paygate/server/internal/shared/cache"
	"github.com/paygate/server/internal/shared/database"
	"github.com/paygate/server/internal/shared/logger"
	"github.com/paygate/server/internal/utils/metrics"
	"github.com/paygate/server/internal/utils/middleware"
)

const idempotencyTTL = 24 * time.Hour

// App wires configuration, adapters and domain services into an HTTP router.
type App struct {
	config    *config.Config
	db        *gorm.DB
	redis     goredis.UniversalClient
	router    *gin.Engine
	logger    *logger.Logger
	zapLogger *zap.Logger
	metrics   *metrics.Metrics
	registry  *prometheus.Registry

	bus       *events.Bus
	scheduler *task.Scheduler

	// Domain services
	settlementDomain     settlement.SettlementDomain
	paymentDomain        payment.PaymentDomain
	webhookDomain        webhook.WebhookDomain
	reconciliationDomain reconciliation.ReconciliationDomain

	// Shared outbound adapters
	paymentDB       outbound.PaymentDatabasePort
	gateways        outbound.PaymentGatewayRegistryPort
	callbackArchive outbound.CallbackArchivePort
	rateLimiter     outbound.RateLimiterPort

	// Cleanup functions
	cleanupFuncs []func()
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logCfg := &logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}
	log := logger.New(logCfg)

	zapLog, err := logger.NewZapLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("init zap logger: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app := &App{
		config:       cfg,
		logger:       log,
		zapLogger:    zapLog,
		registry:     registry,
		metrics:      metrics.New("paygate", registry),
		bus:          events.NewBus(zapLog.Named("events")),
		scheduler:    task.NewScheduler(zapLog, task.DefaultConfig()),
		cleanupFuncs: make([]func(), 0),
	}

	// Initialize infrastructure
	if err := app.initInfrastructure(); err != nil {
		app.Stop()
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	// Initialize domains with adapters
	if err := app.initDomains(); err != nil {
		app.Stop()
		return nil, fmt.Errorf("init domains: %w", err)
	}

	// Initialize router
	app.router = app.setupRouter()
	app.registerRoutes()

	// Register background jobs
	if err := app.initJobs(); err != nil {
		app.Stop()
		return nil, fmt.Errorf("init jobs: %w", err)
	}

	return app, nil
}

// initInfrastructure initializes database, cache and archive connections.
func (a *App) initInfrastructure() error {
	db, err := database.New(&a.config.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	a.db = db

	// Redis is optional: rate limiting, idempotency and the public IP cache turn off without it.
	if a.config.Redis.Address != "" {
		redisClient, err := sharedcache.NewRedisClient(context.Background(), &a.config.Redis)
		if err != nil {
			a.zapLogger.Warn("Redis connection failed, continuing without cache", zap.Error(err))
		} else {
			a.redis = redisClient
			a.rateLimiter = redisadapter.NewRateLimiter(redisClient)
		}
	}

	if a.config.Archive.Enabled {
		archive, err := storage.NewCallbackArchive(context.Background(), storage.ArchiveConfig{
			Endpoint:        a.config.Archive.Endpoint,
			Region:          a.config.Archive.Region,
			AccessKeyID:     a.config.Archive.AccessKeyID,
			SecretAccessKey: a.config.Archive.SecretAccessKey,
			Bucket:          a.config.Archive.Bucket,
			Prefix:          a.config.Archive.Prefix,
		})
		if err != nil {
			return fmt.Errorf("init callback archive: %w", err)
		}
		a.callbackArchive = archive
	}

	return nil
}

// initDomains initializes all domain services with their adapters.
func (a *App) initDomains() error {
	a.paymentDB = postgres.NewPaymentAdapter(a.db)

	gateways, err := a.buildGateways()
	if err != nil {
		return fmt.Errorf("init gateways: %w", err)
	}
	a.gateways = gateways

	if err := a.initSettlementDomain(); err != nil {
		return fmt.Errorf("init settlement domain: %w", err)
	}

	a.initPaymentDomain()
	a.initWebhookDomain()
	a.initReconciliationDomain()

	return nil
}

// initSettlementDomain initializes the settlement domain with its adapters.
func (a *App) initSettlementDomain() error {
	users := postgres.NewUserDirectoryAdapter(a.db)

	var notifier outbound.NotifierPort
	if a.config.Telegram.Enabled {
		bot, err := telegram.NewBot(a.config.Telegram.BotToken)
		if err != nil {
			return err
		}
		notifier = telegram.NewNotifier(bot, users, a.config.Telegram.AdminChatID, a.zapLogger.Named("telegram"))
	} else {
		notifier = telegram.NewNoopNotifier(a.zapLogger.Named("telegram"))
	}

	pushOnly := make([]model.Provider, 0, len(a.config.Payments.PushOnlyProviders))
	for _, p := range a.config.Payments.PushOnlyProviders {
		provider := model.Provider(p)
		if !provider.IsValid() {
			return fmt.Errorf("unknown push-only provider %q", p)
		}
		pushOnly = append(pushOnly, provider)
	}

	a.settlementDomain = settlement.NewSettlementDomain(
		a.paymentDB,
		postgres.NewTransactionStoreAdapter(a.db),
		postgres.NewBalanceLedgerAdapter(a.db),
		postgres.NewSettlementLogAdapter(a.db),
		postgres.NewTransactionAdapter(a.db),
		eventsadapter.NewPublisher(a.bus),
		settlement.Config{PushOnlyProviders: pushOnly},
		a.zapLogger.Named("settlement"),
	)

	followUps := settlement.NewFollowUps(
		postgres.NewReferralAdapter(a.db, postgres.ReferralConfig{
			RewardPercent: a.config.Referral.RewardPercent,
		}, a.zapLogger.Named("referral")),
		notifier,
		a.zapLogger.Named("settlement"),
	)
	a.bus.Register(events.NewHandlerFunc([]string{model.EventTypePaymentSettled}, func(ctx context.Context, e events.Event) error {
		if p, ok := e.Data().(*model.Payment); ok {
			followUps.Run(ctx, p)
		}
		return nil
	}))

	return nil
}

// initPaymentDomain initializes the payment domain with its adapters.
func (a *App) initPaymentDomain() {
	p := a.config.Providers
	limits := map[model.Provider]payment.Limits{
		model.ProviderCryptoBot: limitsOf(p.CryptoBot.AmountLimits),
		model.ProviderMulenPay:  limitsOf(p.MulenPay.AmountLimits),
		model.ProviderFreekassa: limitsOf(p.Freekassa.AmountLimits),
		model.ProviderKassaAI:   limitsOf(p.KassaAI.AmountLimits),
		model.ProviderRobokassa: limitsOf(p.Robokassa.AmountLimits),
	}

	a.paymentDomain = payment.NewPaymentDomain(
		a.paymentDB,
		a.gateways,
		a.settlementDomain,
		payment.Config{
			Limits:       limits,
			PaymentTTL:   a.config.Payments.TTL,
			ReturnURL:    a.config.Payments.ReturnURL,
			DefaultTitle: a.config.Payments.DefaultTitle,
		},
		a.zapLogger.Named("payment"),
	)
}

// initWebhookDomain initializes the dispatcher and subscribes it to domain events.
func (a *App) initWebhookDomain() {
	sender := webhookadapter.NewHTTPSender(webhookadapter.SenderConfig{
		Timeout:        a.config.Webhooks.Timeout,
		ConnectTimeout: a.config.Webhooks.ConnectTimeout,
	})

	a.webhookDomain = webhook.NewWebhookDomain(
		postgres.NewSubscriptionAdapter(a.db),
		postgres.NewDeliveryAdapter(a.db),
		webhookadapter.WithMetrics(sender, a.metrics),
		webhook.Config{
			MaxParallel:  a.config.Webhooks.MaxParallel,
			MaxAttempts:  a.config.Webhooks.MaxAttempts,
			RetryBackoff: a.config.Webhooks.RetryBackoff,
		},
		a.zapLogger.Named("webhook"),
	)

	eventTypes := []string{
		model.EventTypePaymentSettled,
		model.EventTypePaymentFailed,
		model.EventTypePaymentExpired,
	}
	a.bus.Register(events.NewHandlerFunc(eventTypes, func(ctx context.Context, e events.Event) error {
		_, err := a.webhookDomain.Dispatch(ctx, e.EventType(), e.Data())
		return err
	}))
}

// initReconciliationDomain initializes the reconciliation domain with its adapters.
func (a *App) initReconciliationDomain() {
	a.reconciliationDomain = reconciliation.NewReconciliationDomain(
		postgres.NewSettlementLogAdapter(a.db),
		postgres.NewReceiptLogAdapter(a.db),
		a.paymentDB,
		a.gateways,
		a.settlementDomain,
		reconciliation.Config{
			MatchTolerance: a.config.Reconciliation.MatchTolerance,
			SweepBatchSize: a.config.Reconciliation.SweepBatchSize,
		},
		a.zapLogger.Named("reconciliation"),
	)
}

// setupRouter creates and configures the Gin router.
func (a *App) setupRouter() *gin.Engine {
	if a.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Apply global middleware
	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID(a.logger))
	r.Use(middleware.ClientIP(a.config.Server.TrustForwardedFor))
	r.Use(middleware.Logging(a.logger, a.metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", a.ready)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	return r
}

// ready reports whether the database and cache answer.
func (a *App) ready(c *gin.Context) {
	checks := gin.H{"database": "ok"}
	status := http.StatusOK

	if err := database.Ping(a.db); err != nil {
		checks["database"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	if a.redis != nil {
		checks["redis"] = "ok"
		if err := a.redis.Ping(c.Request.Context()).Err(); err != nil {
			checks["redis"] = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, gin.H{"status": http.StatusText(status), "checks": checks})
}

// registerRoutes registers all HTTP routes.
func (a *App) registerRoutes() {
	// Processor callbacks
	callbacks := a.router.Group("")
	if a.rateLimiter != nil && a.config.RateLimit.Enabled {
		callbacks.Use(middleware.RateLimitByIP(a.rateLimiter, "callback",
			a.config.RateLimit.WebhookLimit, a.config.RateLimit.WebhookWindow))
	}
	callbackAdapter := ginadapter.NewCallbackAdapter(
		a.settlementDomain,
		signature.NewVerifier(),
		postgres.NewCallbackLogAdapter(a.db),
		a.callbackArchive,
		a.metrics,
		a.callbackConfig(),
		a.zapLogger,
	)
	ginadapter.RegisterCallbackRoutes(callbacks, callbackAdapter)

	// Operator API
	v1 := a.router.Group("/api/v1")
	v1.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	v1.Use(middleware.OperatorAuth(a.config.Operator.APIKeys))
	if a.rateLimiter != nil && a.config.RateLimit.Enabled {
		v1.Use(middleware.RateLimitByIP(a.rateLimiter, "api",
			a.config.RateLimit.APILimit, a.config.RateLimit.APIWindow))
	}

	idempotency := func(c *gin.Context) { c.Next() }
	if a.redis != nil {
		idempotency = middleware.Idempotency(a.redis, idempotencyTTL)
	}

	ginadapter.RegisterPaymentRoutes(v1, ginadapter.NewPaymentAdapter(a.paymentDomain), idempotency)
	ginadapter.RegisterWebhookRoutes(v1, ginadapter.NewWebhookAdapter(a.webhookDomain))
	ginadapter.RegisterReconciliationRoutes(v1, ginadapter.NewReconciliationAdapter(a.reconciliationDomain))
}

// callbackConfig maps provider credentials to callback verification settings.
func (a *App) callbackConfig() ginadapter.CallbackConfig {
	p := a.config.Providers
	return ginadapter.CallbackConfig{
		CryptoBotEnabled:      p.CryptoBot.Enabled,
		CryptoBotSecret:       p.CryptoBot.Secret(),
		MulenPayEnabled:       p.MulenPay.Enabled,
		MulenPaySecret:        p.MulenPay.SecretKey,
		MulenPayTokenFallback: p.MulenPay.AllowTokenFallback,
		Freekassa:             shopCallbackConfig(p.Freekassa),
		KassaAI:               shopCallbackConfig(p.KassaAI),
		RobokassaEnabled:      p.Robokassa.Enabled,
		RobokassaPassword2:    p.Robokassa.Password2,
		RobokassaTrustedIPs:   p.Robokassa.TrustedIPs,
	}
}

func shopCallbackConfig(c config.ShopConfig) ginadapter.ShopCallbackConfig {
	return ginadapter.ShopCallbackConfig{
		Enabled:    c.Enabled,
		ShopID:     c.ShopID,
		Secret2:    c.Secret2,
		CheckIP:    c.CheckIP,
		AllowedIPs: c.AllowedIPs,
	}
}

func limitsOf(l config.AmountLimits) payment.Limits {
	return payment.Limits{MinMinorUnits: l.MinAmount, MaxMinorUnits: l.MaxAmount}
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Start launches background jobs.
func (a *App) Start(ctx context.Context) {
	a.scheduler.Start(ctx)
}

// Stop stops the application and releases resources. Pending event
// deliveries get a bounded grace period.
func (a *App) Stop() {
	a.scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.bus.Wait(ctx); err != nil {
		a.zapLogger.Warn("pending event handlers abandoned", zap.Error(err))
	}

	// Run cleanup functions
	for _, cleanup := range a.cleanupFuncs {
		cleanup()
	}

	// Sync zap logger
	if a.zapLogger != nil {
		_ = a.zapLogger.Sync()
	}

	// Close Redis connection
	if a.redis != nil {
		_ = a.redis.Close()
	}

	// Close database connection
	if a.db != nil {
		_ = database.Close(a.db)
	}
}
