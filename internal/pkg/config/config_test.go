package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(values map[string]string) Lookup {
	return func(key, def string) string {
		if v, ok := values[key]; ok {
			return v
		}
		return def
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(lookupFrom(map[string]string{
		"PAYMENT_WEBHOOK_SECRET": "whsec",
		"INTERNAL_SECRET":        "internal",
	}))
	require.NoError(t, err)

	assert.Equal(t, StoreMySQL, cfg.StoreDriver)
	assert.Equal(t, "CHF", cfg.Payment.Currency)
	assert.Equal(t, "X-Webhook-Signature", cfg.Payment.SignatureHeader)
	assert.Equal(t, 7, cfg.Tokens.LeadTTLDays)
	assert.Equal(t, 48*time.Hour, cfg.Scheduler.ReminderLookahead)
	assert.Equal(t, "localhost:4000", cfg.ListenAddr())
	assert.Empty(t, cfg.Alerts.KafkaBrokers)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(lookupFrom(map[string]string{
		"APP_ENV":                      "dev",
		"PAYMENT_WEBHOOK_SECRET":       "whsec",
		"STORE_DRIVER":                 "MEMORY",
		"KAFKA_BROKERS":                "kafka-1:9092, kafka-2:9092,",
		"SCHEDULER_EXPIRY_INTERVAL":    "1h",
		"PUBLIC_BASE_URL":              "https://app.example.ch/",
		"TOKEN_LEAD_TTL_DAYS":          "3",
		"SCHEDULER_ENABLED":            "false",
		"PAYMENT_SIGNATURE_HEADER":     "Payrexx-Signature",
		"OUTBOX_MAX_ATTEMPTS":          "4",
		"SCHEDULER_REMINDER_LOOKAHEAD": "24h",
	}))
	require.NoError(t, err)

	assert.True(t, cfg.IsDev())
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Alerts.KafkaBrokers)
	assert.Equal(t, time.Hour, cfg.Scheduler.ExpiryInterval)
	assert.Equal(t, "https://app.example.ch", cfg.PublicBaseURL)
	assert.Equal(t, 3, cfg.Tokens.LeadTTLDays)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "Payrexx-Signature", cfg.Payment.SignatureHeader)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.ReminderLookahead)
}

func TestLoadRejectsMissingSecrets(t *testing.T) {
	_, err := Load(lookupFrom(map[string]string{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PAYMENT_WEBHOOK_SECRET")
	assert.Contains(t, err.Error(), "INTERNAL_SECRET")
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	_, err := Load(lookupFrom(map[string]string{
		"PAYMENT_WEBHOOK_SECRET": "whsec",
		"INTERNAL_SECRET":        "internal",
		"CACHE_PORT":             "not-a-port",
		"MAIL_TIMEOUT":           "soon",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CACHE_PORT")
	assert.Contains(t, err.Error(), "MAIL_TIMEOUT")
}
