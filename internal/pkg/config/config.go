// Package config builds the single immutable configuration value that is
// created at process start and handed to every component.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/LeadHub/internal/pkg/env"
)

const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"

	MailTransportAPI  = "api"
	MailTransportSMTP = "smtp"
	MailTransportLog  = "log"
)

type Config struct {
	AppEnv         string
	Host           string
	Port           string
	PublicBaseURL  string
	InternalSecret string
	StoreDriver    string

	MetricsUser     string
	MetricsPassword string

	DB        DBConfig
	Cache     CacheConfig
	Mail      MailConfig
	Payment   PaymentConfig
	Alerts    AlertsConfig
	Scheduler SchedulerConfig
	Outbox    OutboxConfig
	Tokens    TokenConfig
	RateLimit RateLimitConfig
}

type DBConfig struct {
	User       string
	Password   string
	Host       string
	Port       string
	Name       string
	MaxRetries int
	RetryDelay time.Duration
}

type CacheConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type MailConfig struct {
	Transport    string
	APIURL       string
	APIKey       string
	Sender       string
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	Timeout      time.Duration
}

type PaymentConfig struct {
	Gateway         string
	WebhookSecret   string
	SignatureHeader string
	Currency        string
}

type AlertsConfig struct {
	KafkaBrokers []string
	Topic        string
}

type SchedulerConfig struct {
	Enabled              bool
	ExpiryInterval       time.Duration
	ReminderInterval     time.Duration
	MatchInterval        time.Duration
	OutboxInterval       time.Duration
	SubscriptionInterval time.Duration
	TokenPurgeInterval   time.Duration
	ReminderLookahead    time.Duration
	LockTTL              time.Duration
	BatchSize            int
}

type OutboxConfig struct {
	BatchSize   int
	MaxAttempts int
}

type TokenConfig struct {
	LeadTTLDays         int
	ProposalTTLDays     int
	ConversationTTLDays int
	PurgeAfter          time.Duration
}

type RateLimitConfig struct {
	Max        int
	Expiration time.Duration
}

// Lookup resolves a key to its value or the given default.
type Lookup func(key, def string) string

// FromEnv loads the .env file (if any) and builds the configuration from it
// and the process environment.
func FromEnv() (Config, error) {
	_ = env.SetupEnvFile()
	return Load(env.GetEnv)
}

// Load builds and validates a Config from the lookup function.
func Load(get Lookup) (Config, error) {
	p := parser{get: get}

	cfg := Config{
		AppEnv:          get("APP_ENV", "prod"),
		Host:            get("APP_HOST", "localhost"),
		Port:            get("APP_PORT", "4000"),
		PublicBaseURL:   strings.TrimRight(get("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
		InternalSecret:  get("INTERNAL_SECRET", ""),
		StoreDriver:     strings.ToLower(get("STORE_DRIVER", StoreMySQL)),
		MetricsUser:     get("METRICS_USER", "admin"),
		MetricsPassword: get("METRICS_PASSWORD", ""),
		DB:              p.db(),
		Cache: CacheConfig{
			Host:     get("CACHE_HOST", "localhost"),
			Port:     p.intValue("CACHE_PORT", 6379),
			Password: get("CACHE_PASSWORD", ""),
			DB:       p.intValue("CACHE_DB", 0),
		},
		Mail: MailConfig{
			Transport:    strings.ToLower(get("MAIL_TRANSPORT", MailTransportAPI)),
			APIURL:       get("MAIL_API_URL", "https://api.resend.com/emails"),
			APIKey:       get("MAIL_API_KEY", ""),
			Sender:       get("MAIL_SENDER", "no-reply@localhost"),
			SMTPHost:     get("SMTP_HOST", ""),
			SMTPPort:     get("SMTP_PORT", "587"),
			SMTPUsername: get("SMTP_USERNAME", ""),
			SMTPPassword: get("SMTP_PASSWORD", ""),
			Timeout:      p.durationValue("MAIL_TIMEOUT", 10*time.Second),
		},
		Payment: PaymentConfig{
			Gateway:         strings.ToLower(get("PAYMENT_GATEWAY", "payrexx")),
			WebhookSecret:   get("PAYMENT_WEBHOOK_SECRET", ""),
			SignatureHeader: get("PAYMENT_SIGNATURE_HEADER", "X-Webhook-Signature"),
			Currency:        strings.ToUpper(get("PAYMENT_CURRENCY", "CHF")),
		},
		Alerts: AlertsConfig{
			KafkaBrokers: splitList(get("KAFKA_BROKERS", "")),
			Topic:        get("ALERTS_TOPIC", "leadhub.ops-alerts"),
		},
		Scheduler: SchedulerConfig{
			Enabled:              p.boolValue("SCHEDULER_ENABLED", true),
			ExpiryInterval:       p.durationValue("SCHEDULER_EXPIRY_INTERVAL", 24*time.Hour),
			ReminderInterval:     p.durationValue("SCHEDULER_REMINDER_INTERVAL", 24*time.Hour),
			MatchInterval:        p.durationValue("SCHEDULER_MATCH_INTERVAL", 5*time.Minute),
			OutboxInterval:       p.durationValue("SCHEDULER_OUTBOX_INTERVAL", 15*time.Second),
			SubscriptionInterval: p.durationValue("SCHEDULER_SUBSCRIPTION_INTERVAL", time.Hour),
			TokenPurgeInterval:   p.durationValue("SCHEDULER_TOKEN_PURGE_INTERVAL", 24*time.Hour),
			ReminderLookahead:    p.durationValue("SCHEDULER_REMINDER_LOOKAHEAD", 48*time.Hour),
			LockTTL:              p.durationValue("SCHEDULER_LOCK_TTL", 10*time.Minute),
			BatchSize:            p.intValue("SCHEDULER_BATCH_SIZE", 200),
		},
		Outbox: OutboxConfig{
			BatchSize:   p.intValue("OUTBOX_BATCH_SIZE", 50),
			MaxAttempts: p.intValue("OUTBOX_MAX_ATTEMPTS", 8),
		},
		Tokens: TokenConfig{
			LeadTTLDays:         p.intValue("TOKEN_LEAD_TTL_DAYS", 7),
			ProposalTTLDays:     p.intValue("TOKEN_PROPOSAL_TTL_DAYS", 14),
			ConversationTTLDays: p.intValue("TOKEN_CONVERSATION_TTL_DAYS", 30),
			PurgeAfter:          p.durationValue("TOKEN_PURGE_AFTER", 30*24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Max:        p.intValue("RATE_LIMIT_MAX", 60),
			Expiration: p.durationValue("RATE_LIMIT_EXPIRATION", time.Minute),
		},
	}

	if len(p.errs) > 0 {
		return Config{}, errors.Join(p.errs...)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsDev reports whether the process runs in development mode.
func (c Config) IsDev() bool { return c.AppEnv == "dev" }

// ListenAddr is the address the HTTP server binds to.
func (c Config) ListenAddr() string { return fmt.Sprintf("%s:%s", c.Host, c.Port) }

func (c Config) validate() error {
	var errs []error
	if c.Payment.WebhookSecret == "" {
		errs = append(errs, errors.New("PAYMENT_WEBHOOK_SECRET is required"))
	}
	if c.InternalSecret == "" && !c.IsDev() {
		errs = append(errs, errors.New("INTERNAL_SECRET is required outside dev"))
	}
	switch c.StoreDriver {
	case StoreMySQL, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver))
	}
	switch c.Mail.Transport {
	case MailTransportAPI, MailTransportSMTP, MailTransportLog:
	default:
		errs = append(errs, fmt.Errorf("unsupported MAIL_TRANSPORT %q", c.Mail.Transport))
	}
	if c.Tokens.LeadTTLDays <= 0 {
		errs = append(errs, errors.New("TOKEN_LEAD_TTL_DAYS must be positive"))
	}
	if c.Outbox.MaxAttempts <= 0 {
		errs = append(errs, errors.New("OUTBOX_MAX_ATTEMPTS must be positive"))
	}
	return errors.Join(errs...)
}

// LoadDB builds only the database settings, for tools that do not need
// the rest of the configuration.
func LoadDB(get Lookup) (DBConfig, error) {
	p := parser{get: get}
	cfg := p.db()
	return cfg, errors.Join(p.errs...)
}

func (p *parser) db() DBConfig {
	return DBConfig{
		User:       p.get("DB_USER", ""),
		Password:   p.get("DB_PASSWORD", ""),
		Host:       p.get("DB_HOST", "127.0.0.1"),
		Port:       p.get("DB_PORT", "3306"),
		Name:       p.get("DB_NAME", "leadhub"),
		MaxRetries: p.intValue("DB_MAX_RETRIES", 5),
		RetryDelay: p.durationValue("DB_RETRY_DELAY", 5*time.Second),
	}
}

type parser struct {
	get  Lookup
	errs []error
}

func (p *parser) intValue(key string, def int) int {
	raw := strings.TrimSpace(p.get(key, ""))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (p *parser) boolValue(key string, def bool) bool {
	raw := strings.TrimSpace(p.get(key, ""))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (p *parser) durationValue(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(p.get(key, ""))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
