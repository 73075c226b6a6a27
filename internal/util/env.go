// Package util holds the environment parsing helpers used by the config
// loader. Invalid values fall back to the default with a warning so that a
// typo in one variable does not stop the bot.
package util

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString returns the trimmed value of key, or fallback when it is unset
// or blank.
func EnvString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// EnvInt parses key as a decimal integer.
func EnvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Env: invalid integer, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

// EnvDuration parses key with time.ParseDuration ("30m", "168h").
func EnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("Env: invalid duration, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}

// ParseBoolEnv parses key as a boolean. Accepts true/1/yes/on and
// false/0/no/off, case-insensitive.
func ParseBoolEnv(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	slog.Warn("Env: invalid boolean, using default", "key", key, "value", v, "default", fallback)
	return fallback
}
