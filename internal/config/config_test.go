package config

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"TRANSPORT", "TELEGRAM_TOKEN", "TELEGRAM_WEBHOOK_URL", "TELEGRAM_WEBHOOK_SECRET",
	"NOTION_TOKEN", "NOTION_DB_ID", "NOTION_API_URL", "ALLOWED_USER_IDS",
	"DEFAULT_PHONE_REGION", "HOST", "PORT", "API_TOKEN", "CONTACTPIPE_STATE_DIR",
	"DATABASE_URL", "SESSION_TTL", "DEDUP_RETENTION", "PRUNE_SCHEDULE", "NATS_URL", "NATS_TOKEN", "LOG_LEVEL", "LOG_FILE",
	"TWILIO_WEBHOOK_URL", "TWILIO_VALIDATE_SIGNATURE", "TWILIO_ACCOUNT_SID",
	"TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER", "WHATSAPP_DB_DSN",
	"WHATSAPP_QR_OUTPUT", "WHATSAPP_NUMERIC_CODE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	c := FromEnv()

	assert.Equal(t, TransportTelegram, c.Transport)
	assert.Equal(t, "FR", c.PhoneRegion)
	assert.Equal(t, "0.0.0.0", c.Host)
	assert.Equal(t, 8000, c.Port)
	assert.Equal(t, "0.0.0.0:8000", c.Addr())
	assert.Equal(t, DefaultSessionTTL, c.SessionTTL)
	assert.Equal(t, DefaultDedupRetention, c.DedupRetention)
	assert.Equal(t, DefaultPruneSchedule, c.PruneSchedule)
	assert.Equal(t, filepath.Join(DefaultStateDir, DefaultDBFileName), c.DatabaseURL)
	assert.Equal(t, filepath.Join(DefaultStateDir, "whatsmeow.db"), c.WhatsAppDSN)
	assert.True(t, c.TwilioValidateSignature)
	assert.False(t, c.WhatsAppNumericCode)
	assert.Empty(t, c.AllowedUserIDs)
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRANSPORT", "Twilio")
	t.Setenv("ALLOWED_USER_IDS", " 42, 43 ,,42")
	t.Setenv("DEFAULT_PHONE_REGION", "be")
	t.Setenv("PORT", "9090")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("DATABASE_URL", "postgres://bot@db/contacts")
	t.Setenv("TWILIO_VALIDATE_SIGNATURE", "off")

	c := FromEnv()
	assert.Equal(t, TransportTwilio, c.Transport)
	assert.Equal(t, []string{"42", "43"}, c.AllowedUserIDs)
	assert.Equal(t, "BE", c.PhoneRegion)
	assert.Equal(t, 9090, c.Port)
	assert.Equal(t, 30*time.Minute, c.SessionTTL)
	assert.Equal(t, "postgres://bot@db/contacts", c.DatabaseURL)
	assert.False(t, c.TwilioValidateSignature)
}

func TestFromEnvInvalidNumbersFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "eighty")
	t.Setenv("SESSION_TTL", "forever")
	c := FromEnv()
	assert.Equal(t, 8000, c.Port)
	assert.Equal(t, DefaultSessionTTL, c.SessionTTL)
}

func TestSetStateDir(t *testing.T) {
	clearEnv(t)
	c := FromEnv()
	c.SetStateDir("/srv/bot")
	assert.Equal(t, "/srv/bot", c.StateDir)
	assert.Equal(t, "/srv/bot/contactpipe.db", c.DatabaseURL)
	assert.Equal(t, "/srv/bot/whatsmeow.db", c.WhatsAppDSN)

	t.Setenv("DATABASE_URL", "/data/explicit.db")
	c = FromEnv()
	c.SetStateDir("/srv/bot")
	assert.Equal(t, "/data/explicit.db", c.DatabaseURL)
}

func validConfig() Config {
	return Config{
		Transport:      TransportTelegram,
		TelegramToken:  "123:abc",
		NotionToken:    "secret_x",
		NotionDBID:     "db",
		AllowedUserIDs: []string{"42"},
		PhoneRegion:    "FR",
		Host:           "0.0.0.0",
		Port:           8000,
		SessionTTL:     time.Hour,
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	require.NoError(t, validConfig().Validate(true))

	c := validConfig()
	c.TelegramToken = ""
	c.NotionDBID = " "
	c.AllowedUserIDs = nil
	err := c.Validate(true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_TOKEN is not set")
	assert.Contains(t, err.Error(), "NOTION_DB_ID is not set")
	assert.Contains(t, err.Error(), "ALLOWED_USER_IDS is empty")

	// Schema verification needs Notion only.
	c = validConfig()
	c.TelegramToken = ""
	c.AllowedUserIDs = nil
	assert.NoError(t, c.Validate(false))

	c = validConfig()
	c.Transport = "sms"
	assert.ErrorContains(t, c.Validate(true), `TRANSPORT "sms"`)

	c = validConfig()
	c.Transport = TransportTwilio
	c.TwilioValidateSignature = true
	err = c.Validate(true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TWILIO_ACCOUNT_SID is not set")
	assert.Contains(t, err.Error(), "TWILIO_WEBHOOK_URL is not set")

	c = validConfig()
	c.Transport = TransportWhatsApp
	c.TelegramToken = ""
	assert.NoError(t, c.Validate(true))

	c = validConfig()
	c.PhoneRegion = "FRA"
	c.Port = 0
	c.SessionTTL = 0
	err = c.Validate(true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEFAULT_PHONE_REGION")
	assert.Contains(t, err.Error(), "PORT 0")
	assert.Contains(t, err.Error(), "SESSION_TTL")
}

func TestParseAllowList(t *testing.T) {
	assert.Nil(t, ParseAllowList(""))
	assert.Nil(t, ParseAllowList(" , ,"))
	assert.Equal(t, []string{"1", "2"}, ParseAllowList("1,2,1"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" WARN "))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}
