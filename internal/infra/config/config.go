package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "PAYGATE"

// Config holds all application configuration.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	HTTPClient     HTTPClientConfig     `mapstructure:"http_client"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	Log            LogConfig            `mapstructure:"log"`
	Operator       OperatorConfig       `mapstructure:"operator"`
	Payments       PaymentsConfig       `mapstructure:"payments"`
	Gateway        GatewayConfig        `mapstructure:"gateway"`
	Webhooks       WebhooksConfig       `mapstructure:"webhooks"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Referral       ReferralConfig       `mapstructure:"referral"`
	Telegram       TelegramConfig       `mapstructure:"telegram"`
	Archive        ArchiveConfig        `mapstructure:"archive"`
	Providers      ProvidersConfig      `mapstructure:"providers"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `mapstructure:"address" validate:"required"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	// TrustForwardedFor takes the client IP from the first X-Forwarded-For entry.
	TrustForwardedFor bool `mapstructure:"trust_forwarded_for"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"required"`
	User            string        `mapstructure:"user" validate:"required"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database" validate:"required"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Database, c.SSLMode,
	)
	if c.Password != "" {
		dsn += fmt.Sprintf(" password=%s", c.Password)
	}
	return dsn
}

// URL returns the connection string in URL form, as golang-migrate expects it.
func (c *DatabaseConfig) URL() string {
	userinfo := c.User
	if c.Password != "" {
		userinfo += ":" + c.Password
	}
	return fmt.Sprintf("postgres://%s@%s:%d/%s?sslmode=%s", userinfo, c.Host, c.Port, c.Database, c.SSLMode)
}

// RedisConfig holds Redis configuration. An empty address disables Redis.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// HTTPClientConfig holds HTTP client configuration for connection pooling.
type HTTPClientConfig struct {
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `mapstructure:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
	DialTimeout         time.Duration `mapstructure:"dial_timeout"`
	TLSHandshakeTimeout time.Duration `mapstructure:"tls_handshake_timeout"`
	ResponseTimeout     time.Duration `mapstructure:"response_timeout"`
	KeepAlive           time.Duration `mapstructure:"keep_alive"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// WebhookLimit is the number of callbacks accepted per IP per window.
	WebhookLimit  int           `mapstructure:"webhook_limit"`
	WebhookWindow time.Duration `mapstructure:"webhook_window"`
	APILimit      int           `mapstructure:"api_limit"`
	APIWindow     time.Duration `mapstructure:"api_window"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=json text console"`
}

// OperatorConfig guards the operator API.
type OperatorConfig struct {
	APIKeys []string `mapstructure:"api_keys"`
}

// PaymentsConfig holds origination settings.
type PaymentsConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`
	ReturnURL    string        `mapstructure:"return_url"`
	DefaultTitle string        `mapstructure:"default_title"`
	// PushOnlyProviders settle callbacks for payments this server never originated.
	PushOnlyProviders []string `mapstructure:"push_only_providers"`
}

// GatewayConfig holds the outbound client retry policy shared by all processors.
type GatewayConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts" validate:"min=1"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	RetryableStatuses []int         `mapstructure:"retryable_statuses"`
	BreakerFailures   uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout    time.Duration `mapstructure:"breaker_timeout"`
	// PublicIP overrides public IP discovery for processors that require it.
	PublicIP string `mapstructure:"public_ip"`
}

// WebhooksConfig holds outbound dispatcher settings.
type WebhooksConfig struct {
	MaxParallel    int           `mapstructure:"max_parallel"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
}

// ReconciliationConfig holds sweep and audit settings.
type ReconciliationConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
	Lookback       time.Duration `mapstructure:"lookback"`
	MatchTolerance time.Duration `mapstructure:"match_tolerance"`
	SweepBatchSize int           `mapstructure:"sweep_batch_size"`
}

// ReferralConfig holds referral reward settings.
type ReferralConfig struct {
	RewardPercent int64 `mapstructure:"reward_percent" validate:"min=0,max=100"`
}

// TelegramConfig holds notifier settings.
type TelegramConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BotToken    string `mapstructure:"bot_token" validate:"required_if=Enabled true"`
	AdminChatID int64  `mapstructure:"admin_chat_id"`
}

// ArchiveConfig holds raw callback archive settings.
type ArchiveConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket" validate:"required_if=Enabled true"`
	Prefix          string `mapstructure:"prefix"`
}

// ProvidersConfig holds per-processor credentials.
type ProvidersConfig struct {
	CryptoBot CryptoBotConfig `mapstructure:"cryptobot"`
	MulenPay  MulenPayConfig  `mapstructure:"mulenpay"`
	Freekassa ShopConfig      `mapstructure:"freekassa"`
	KassaAI   ShopConfig      `mapstructure:"kassaai"`
	Robokassa RobokassaConfig `mapstructure:"robokassa"`
}

// AmountLimits bounds a single payment, in minor units.
type AmountLimits struct {
	MinAmount int64 `mapstructure:"min_amount"`
	MaxAmount int64 `mapstructure:"max_amount"`
}

// CryptoBotConfig holds CryptoBot credentials.
type CryptoBotConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BaseURL       string        `mapstructure:"base_url" validate:"required_if=Enabled true"`
	APIToken      string        `mapstructure:"api_token" validate:"required_if=Enabled true"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	ExpiresIn     time.Duration `mapstructure:"expires_in"`
	AmountLimits  `mapstructure:",squash"`
}

// Secret returns the material callbacks are signed with. The API token signs
// callbacks unless a dedicated webhook secret is configured.
func (c CryptoBotConfig) Secret() string {
	if c.WebhookSecret != "" {
		return c.WebhookSecret
	}
	return c.APIToken
}

// MulenPayConfig holds MulenPay credentials.
type MulenPayConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	BaseURL   string `mapstructure:"base_url" validate:"required_if=Enabled true"`
	APIKey    string `mapstructure:"api_key" validate:"required_if=Enabled true"`
	SecretKey string `mapstructure:"secret_key" validate:"required_if=Enabled true"`
	ShopID    string `mapstructure:"shop_id" validate:"required_if=Enabled true"`
	Language  string `mapstructure:"language"`
	// AllowTokenFallback accepts the shared secret as a bearer token when no
	// signature header is present.
	AllowTokenFallback bool `mapstructure:"allow_token_fallback"`
	AmountLimits       `mapstructure:",squash"`
}

// ShopConfig holds Freekassa-style shop credentials.
type ShopConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	BaseURL         string   `mapstructure:"base_url" validate:"required_if=Enabled true"`
	ShopID          int64    `mapstructure:"shop_id" validate:"required_if=Enabled true"`
	APIKey          string   `mapstructure:"api_key" validate:"required_if=Enabled true"`
	Secret2         string   `mapstructure:"secret2" validate:"required_if=Enabled true"`
	PaymentSystemID int      `mapstructure:"payment_system_id"`
	DefaultEmail    string   `mapstructure:"default_email"`
	CheckIP         bool     `mapstructure:"check_ip"`
	AllowedIPs      []string `mapstructure:"allowed_ips"`
	FallbackIP      string   `mapstructure:"fallback_ip"`
	AmountLimits    `mapstructure:",squash"`
}

// RobokassaConfig holds Robokassa credentials.
type RobokassaConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	CheckoutURL    string   `mapstructure:"checkout_url"`
	Login          string   `mapstructure:"login" validate:"required_if=Enabled true"`
	Password1      string   `mapstructure:"password1" validate:"required_if=Enabled true"`
	Password2      string   `mapstructure:"password2" validate:"required_if=Enabled true"`
	Culture        string   `mapstructure:"culture"`
	IsTest         bool     `mapstructure:"is_test"`
	TrustedIPs     []string `mapstructure:"trusted_ips"`
	ReceiptEnabled bool     `mapstructure:"receipt_enabled"`
	ReceiptSNO     string   `mapstructure:"receipt_sno"`
	ReceiptTax     string   `mapstructure:"receipt_tax"`
	PaymentMethod  string   `mapstructure:"payment_method"`
	PaymentObject  string   `mapstructure:"payment_object"`
	AmountLimits   `mapstructure:",squash"`
}

// DefaultFreekassaIPs are the notification source addresses Freekassa publishes.
var DefaultFreekassaIPs = []string{
	"168.119.157.136",
	"168.119.60.227",
	"178.154.197.79",
	"51.250.54.238",
}

// Load loads configuration from .env, file and environment, then validates it.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/paygate")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if s := os.Getenv(EnvPrefix + "_OPERATOR_API_KEYS"); s != "" {
		cfg.Operator.APIKeys = parseCommaSeparatedList(s)
	}
	if len(cfg.Providers.Freekassa.AllowedIPs) == 0 {
		cfg.Providers.Freekassa.AllowedIPs = DefaultFreekassaIPs
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required settings. An enabled processor without its secrets fails here.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func parseCommaSeparatedList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.trust_forwarded_for", true)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "paygate")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// HTTP client defaults
	v.SetDefault("http_client.max_idle_conns", 100)
	v.SetDefault("http_client.max_idle_conns_per_host", 20)
	v.SetDefault("http_client.max_conns_per_host", 50)
	v.SetDefault("http_client.idle_conn_timeout", 90*time.Second)
	v.SetDefault("http_client.dial_timeout", 10*time.Second)
	v.SetDefault("http_client.tls_handshake_timeout", 10*time.Second)
	v.SetDefault("http_client.response_timeout", 30*time.Second)
	v.SetDefault("http_client.keep_alive", 30*time.Second)

	// Rate limit defaults
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.webhook_limit", 120)
	v.SetDefault("rate_limit.webhook_window", time.Minute)
	v.SetDefault("rate_limit.api_limit", 60)
	v.SetDefault("rate_limit.api_window", time.Minute)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Payments defaults
	v.SetDefault("payments.ttl", 24*time.Hour)
	v.SetDefault("payments.default_title", "Balance top-up")
	v.SetDefault("payments.push_only_providers", []string{})

	// Gateway defaults
	v.SetDefault("gateway.max_attempts", 3)
	v.SetDefault("gateway.base_delay", 500*time.Millisecond)
	v.SetDefault("gateway.retryable_statuses", []int{500, 502, 503, 504})
	v.SetDefault("gateway.breaker_failures", 5)
	v.SetDefault("gateway.breaker_timeout", 30*time.Second)
	v.SetDefault("gateway.public_ip", "")

	// Webhook dispatcher defaults
	v.SetDefault("webhooks.max_parallel", 8)
	v.SetDefault("webhooks.timeout", 10*time.Second)
	v.SetDefault("webhooks.connect_timeout", 5*time.Second)
	v.SetDefault("webhooks.max_attempts", 3)
	v.SetDefault("webhooks.retry_backoff", 500*time.Millisecond)

	// Reconciliation defaults
	v.SetDefault("reconciliation.enabled", true)
	v.SetDefault("reconciliation.interval", 15*time.Minute)
	v.SetDefault("reconciliation.stale_after", 24*time.Hour)
	v.SetDefault("reconciliation.lookback", 24*time.Hour)
	v.SetDefault("reconciliation.match_tolerance", 10*time.Minute)
	v.SetDefault("reconciliation.sweep_batch_size", 500)

	// Referral defaults
	v.SetDefault("referral.reward_percent", 10)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.admin_chat_id", 0)

	// Archive defaults
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.region", "auto")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "callbacks/")

	// Provider defaults
	v.SetDefault("providers.cryptobot.enabled", false)
	v.SetDefault("providers.cryptobot.base_url", "https://pay.crypt.bot")
	v.SetDefault("providers.cryptobot.api_token", "")
	v.SetDefault("providers.cryptobot.webhook_secret", "")
	v.SetDefault("providers.cryptobot.expires_in", time.Hour)
	v.SetDefault("providers.cryptobot.min_amount", 10000)
	v.SetDefault("providers.cryptobot.max_amount", 10000000)

	v.SetDefault("providers.mulenpay.enabled", false)
	v.SetDefault("providers.mulenpay.base_url", "https://mulenpay.ru/api")
	v.SetDefault("providers.mulenpay.api_key", "")
	v.SetDefault("providers.mulenpay.secret_key", "")
	v.SetDefault("providers.mulenpay.shop_id", "")
	v.SetDefault("providers.mulenpay.language", "ru")
	v.SetDefault("providers.mulenpay.allow_token_fallback", false)
	v.SetDefault("providers.mulenpay.min_amount", 10000)
	v.SetDefault("providers.mulenpay.max_amount", 10000000)

	for _, shop := range []string{"freekassa", "kassaai"} {
		v.SetDefault("providers."+shop+".enabled", false)
		v.SetDefault("providers."+shop+".shop_id", 0)
		v.SetDefault("providers."+shop+".api_key", "")
		v.SetDefault("providers."+shop+".secret2", "")
		v.SetDefault("providers."+shop+".payment_system_id", 0)
		v.SetDefault("providers."+shop+".default_email", "")
		v.SetDefault("providers."+shop+".min_amount", 10000)
		v.SetDefault("providers."+shop+".max_amount", 10000000)
	}
	v.SetDefault("providers.freekassa.base_url", "https://api.fk.life/v1")
	v.SetDefault("providers.freekassa.check_ip", true)
	v.SetDefault("providers.freekassa.fallback_ip", "185.92.183.173")
	v.SetDefault("providers.kassaai.base_url", "https://api.fk.life/v1")
	v.SetDefault("providers.kassaai.check_ip", false)
	v.SetDefault("providers.kassaai.fallback_ip", "127.0.0.1")

	v.SetDefault("providers.robokassa.enabled", false)
	v.SetDefault("providers.robokassa.checkout_url", "https://auth.robokassa.ru/Merchant/Index.aspx")
	v.SetDefault("providers.robokassa.login", "")
	v.SetDefault("providers.robokassa.password1", "")
	v.SetDefault("providers.robokassa.password2", "")
	v.SetDefault("providers.robokassa.culture", "ru")
	v.SetDefault("providers.robokassa.is_test", false)
	v.SetDefault("providers.robokassa.receipt_enabled", false)
	v.SetDefault("providers.robokassa.receipt_sno", "usn_income")
	v.SetDefault("providers.robokassa.receipt_tax", "none")
	v.SetDefault("providers.robokassa.payment_method", "full_payment")
	v.SetDefault("providers.robokassa.payment_object", "service")
	v.SetDefault("providers.robokassa.min_amount", 10000)
	v.SetDefault("providers.robokassa.max_amount", 10000000)
}
