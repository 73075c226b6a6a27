// Package config loads ContactPipe settings from a .env file and the
// environment.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/ContactPipe/internal/util"
)

const (
	// DefaultStateDir holds the lock file and the SQLite databases.
	DefaultStateDir = "/var/lib/contactpipe"
	// DefaultDBFileName is the SQLite file used when DATABASE_URL is unset.
	DefaultDBFileName = "contactpipe.db"
	// DefaultRegion is used to read phone numbers typed without a country code.
	DefaultRegion = "FR"
	// DefaultSessionTTL bounds how long an idle conversation is kept.
	DefaultSessionTTL = 24 * time.Hour
	// DefaultDedupRetention is how long inbound update ids are remembered.
	DefaultDedupRetention = 7 * 24 * time.Hour
	// DefaultPruneSchedule is the cron expression of the nightly cleanup.
	DefaultPruneSchedule = "17 3 * * *"

	TransportTelegram = "telegram"
	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
)

// Config is the process configuration.
type Config struct {
	Transport string

	TelegramToken         string
	TelegramWebhookURL    string
	TelegramWebhookSecret string

	NotionToken  string
	NotionDBID   string
	NotionAPIURL string

	AllowedUserIDs []string
	PhoneRegion    string

	Host     string
	Port     int
	APIToken string

	StateDir    string
	DatabaseURL string
	SessionTTL  time.Duration

	DedupRetention time.Duration
	PruneSchedule  string

	NATSURL   string
	NATSToken string

	LogLevel string
	LogFile  string

	TwilioWebhookURL        string
	TwilioValidateSignature bool

	WhatsAppDSN         string
	WhatsAppQROutput    string
	WhatsAppNumericCode bool
}

// Load reads .env when present, then the environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("Config Load: no .env file loaded", "error", err)
	} else {
		slog.Debug("Config Load: .env file loaded")
	}
	return FromEnv()
}

// FromEnv builds a Config from the environment only.
func FromEnv() Config {
	c := Config{
		Transport:               strings.ToLower(util.EnvString("TRANSPORT", TransportTelegram)),
		TelegramToken:           os.Getenv("TELEGRAM_TOKEN"),
		TelegramWebhookURL:      os.Getenv("TELEGRAM_WEBHOOK_URL"),
		TelegramWebhookSecret:   os.Getenv("TELEGRAM_WEBHOOK_SECRET"),
		NotionToken:             os.Getenv("NOTION_TOKEN"),
		NotionDBID:              os.Getenv("NOTION_DB_ID"),
		NotionAPIURL:            os.Getenv("NOTION_API_URL"),
		AllowedUserIDs:          ParseAllowList(os.Getenv("ALLOWED_USER_IDS")),
		PhoneRegion:             strings.ToUpper(util.EnvString("DEFAULT_PHONE_REGION", DefaultRegion)),
		Host:                    util.EnvString("HOST", "0.0.0.0"),
		Port:                    util.EnvInt("PORT", 8000),
		APIToken:                os.Getenv("API_TOKEN"),
		StateDir:                util.EnvString("CONTACTPIPE_STATE_DIR", DefaultStateDir),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		SessionTTL:              util.EnvDuration("SESSION_TTL", DefaultSessionTTL),
		DedupRetention:          util.EnvDuration("DEDUP_RETENTION", DefaultDedupRetention),
		PruneSchedule:           util.EnvString("PRUNE_SCHEDULE", DefaultPruneSchedule),
		NATSURL:                 os.Getenv("NATS_URL"),
		NATSToken:               os.Getenv("NATS_TOKEN"),
		LogLevel:                util.EnvString("LOG_LEVEL", "info"),
		LogFile:                 os.Getenv("LOG_FILE"),
		TwilioWebhookURL:        os.Getenv("TWILIO_WEBHOOK_URL"),
		TwilioValidateSignature: util.ParseBoolEnv("TWILIO_VALIDATE_SIGNATURE", true),
		WhatsAppDSN:             os.Getenv("WHATSAPP_DB_DSN"),
		WhatsAppQROutput:        os.Getenv("WHATSAPP_QR_OUTPUT"),
		WhatsAppNumericCode:     util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", false),
	}
	c.applyDefaults()

	slog.Debug("Config FromEnv: environment loaded",
		"transport", c.Transport,
		"telegram_token_set", c.TelegramToken != "",
		"webhook_url", c.TelegramWebhookURL,
		"notion_token_set", c.NotionToken != "",
		"notion_db_id", c.NotionDBID,
		"allowed_users", len(c.AllowedUserIDs),
		"phone_region", c.PhoneRegion,
		"state_dir", c.StateDir,
		"database_url_set", c.DatabaseURL != "",
		"nats_url", c.NATSURL,
		"session_ttl", c.SessionTTL)
	return c
}

// applyDefaults fills the paths derived from the state directory.
func (c *Config) applyDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = filepath.Join(c.StateDir, DefaultDBFileName)
	}
	if c.WhatsAppDSN == "" {
		c.WhatsAppDSN = filepath.Join(c.StateDir, "whatsmeow.db")
	}
}

// SetStateDir moves the derived paths that still point into the old state
// directory.
func (c *Config) SetStateDir(dir string) {
	if dir == "" || dir == c.StateDir {
		return
	}
	if c.DatabaseURL == filepath.Join(c.StateDir, DefaultDBFileName) {
		c.DatabaseURL = ""
	}
	if c.WhatsAppDSN == filepath.Join(c.StateDir, "whatsmeow.db") {
		c.WhatsAppDSN = ""
	}
	c.StateDir = dir
	c.applyDefaults()
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate reports every missing or invalid setting at once. needTransport
// is false for commands that never talk to a chat transport.
func (c Config) Validate(needTransport bool) error {
	var problems []string
	missing := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			problems = append(problems, key+" is not set")
		}
	}
	missing("NOTION_TOKEN", c.NotionToken)
	missing("NOTION_DB_ID", c.NotionDBID)

	if needTransport {
		switch c.Transport {
		case TransportTelegram:
			missing("TELEGRAM_TOKEN", c.TelegramToken)
		case TransportTwilio:
			missing("TWILIO_ACCOUNT_SID", os.Getenv("TWILIO_ACCOUNT_SID"))
			missing("TWILIO_AUTH_TOKEN", os.Getenv("TWILIO_AUTH_TOKEN"))
			missing("TWILIO_FROM_NUMBER", os.Getenv("TWILIO_FROM_NUMBER"))
			if c.TwilioValidateSignature {
				missing("TWILIO_WEBHOOK_URL", c.TwilioWebhookURL)
			}
		case TransportWhatsApp:
		default:
			problems = append(problems, fmt.Sprintf("TRANSPORT %q is not one of telegram, whatsapp, twilio", c.Transport))
		}
		if len(c.AllowedUserIDs) == 0 {
			problems = append(problems, "ALLOWED_USER_IDS is empty: nobody could use the bot")
		}
		missing("HOST", c.Host)
		if c.Port <= 0 || c.Port > 65535 {
			problems = append(problems, fmt.Sprintf("PORT %d is out of range", c.Port))
		}
	}
	if len(c.PhoneRegion) != 2 {
		problems = append(problems, fmt.Sprintf("DEFAULT_PHONE_REGION %q is not a two-letter region code", c.PhoneRegion))
	}
	if c.SessionTTL <= 0 {
		problems = append(problems, "SESSION_TTL must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ParseAllowList splits a comma-separated list of user ids, dropping blanks
// and repeats.
func ParseAllowList(raw string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		id := strings.TrimSpace(part)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// ParseLevel maps LOG_LEVEL to a slog level. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
