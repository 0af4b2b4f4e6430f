package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "MIRRORRELAY_"

func applyEnv(cfg *Config) {
	cfg.GitHub.Token = stringEnv(envPrefix+"GITHUB_TOKEN", cfg.GitHub.Token)
	cfg.GitHub.APIBase = stringEnv(envPrefix+"GITHUB_API_BASE", cfg.GitHub.APIBase)
	cfg.GitHub.RawBase = stringEnv(envPrefix+"GITHUB_RAW_BASE", cfg.GitHub.RawBase)
	cfg.GitHub.PrimaryBranch = stringEnv(envPrefix+"GITHUB_PRIMARY_BRANCH", cfg.GitHub.PrimaryBranch)
	cfg.GitHub.FallbackBranch = stringEnv(envPrefix+"GITHUB_FALLBACK_BRANCH", cfg.GitHub.FallbackBranch)
	cfg.GitHub.Mirrors = listEnv(envPrefix+"GITHUB_MIRRORS", cfg.GitHub.Mirrors)

	cfg.Telegram.BotToken = stringEnv(envPrefix+"TELEGRAM_BOT_TOKEN", cfg.Telegram.BotToken)
	cfg.Telegram.ChatID = stringEnv(envPrefix+"TELEGRAM_CHAT_ID", cfg.Telegram.ChatID)
	cfg.Telegram.WebhookSecret = stringEnv(envPrefix+"TELEGRAM_WEBHOOK_SECRET", cfg.Telegram.WebhookSecret)

	cfg.Schedule.Enabled = boolEnv(envPrefix+"SCHEDULE_ENABLED", cfg.Schedule.Enabled)
	cfg.Schedule.Interval.Duration = durationEnv(envPrefix+"SCHEDULE_INTERVAL", cfg.Schedule.Interval.Duration)
	cfg.Schedule.Jitter = floatEnv(envPrefix+"SCHEDULE_JITTER", cfg.Schedule.Jitter)

	cfg.Server.Addr = stringEnv(envPrefix+"ADDR", cfg.Server.Addr)
	cfg.Server.InternalHMACSecret = stringEnv(envPrefix+"INTERNAL_HMAC_SECRET", cfg.Server.InternalHMACSecret)
	cfg.Server.InternalMaxSkew.Duration = durationEnv(envPrefix+"INTERNAL_MAX_SKEW", cfg.Server.InternalMaxSkew.Duration)
	cfg.Server.MaxBodyBytes = int64Env(envPrefix+"MAX_BODY_BYTES", cfg.Server.MaxBodyBytes)
	cfg.Server.RateLimitMax = intEnv(envPrefix+"RATE_LIMIT_MAX", cfg.Server.RateLimitMax)
	cfg.Server.RateLimitWindow.Duration = durationEnv(envPrefix+"RATE_LIMIT_WINDOW", cfg.Server.RateLimitWindow.Duration)
	cfg.Server.StreamInterval.Duration = durationEnv(envPrefix+"STREAM_INTERVAL", cfg.Server.StreamInterval.Duration)

	cfg.Queue.DSN = stringEnv(envPrefix+"QUEUE_DSN", cfg.Queue.DSN)
	cfg.Queue.Capacity = intEnv(envPrefix+"QUEUE_CAPACITY", cfg.Queue.Capacity)
	cfg.Queue.Workers = intEnv(envPrefix+"QUEUE_WORKERS", cfg.Queue.Workers)

	cfg.Log.Level = stringEnv(envPrefix+"LOG_LEVEL", cfg.Log.Level)
	cfg.Timezone = stringEnv(envPrefix+"TIMEZONE", cfg.Timezone)
}

func stringEnv(name, fallback string) string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	return raw
}

// listEnv splits a comma-separated value.
func listEnv(name string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func boolEnv(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %t", name, raw, fallback)
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %f", name, raw, fallback)
		return fallback
	}
	return value
}
