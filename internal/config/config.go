// Package config loads the relay configuration from a TOML file with
// environment overrides and keeps the current snapshot for hot reload.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/BurntSushi/toml"

	"github.com/agentworkforce/mirrorrelay/internal/mirror"
)

var ErrInvalidConfig = errors.New("invalid config")

// Duration decodes TOML strings such as "2m" or "150ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type GitHubConfig struct {
	Token          string   `toml:"token"`
	APIBase        string   `toml:"api_base"`
	RawBase        string   `toml:"raw_base"`
	Workflow       string   `toml:"workflow"`
	PrimaryBranch  string   `toml:"primary_branch"`
	FallbackBranch string   `toml:"fallback_branch"`
	StatePath      string   `toml:"state_path"`
	StateBranch    string   `toml:"state_branch"`
	Mirrors        []string `toml:"mirrors"`
}

type TelegramConfig struct {
	BotToken      string `toml:"bot_token"`
	ChatID        string `toml:"chat_id"`
	WebhookSecret string `toml:"webhook_secret"`
	APIBase       string `toml:"api_base"`
}

type ScheduleConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval Duration `toml:"interval"`
	// Jitter is a ratio in [0,1] applied to Interval on every tick.
	Jitter float64 `toml:"jitter"`
}

type ServerConfig struct {
	Addr               string   `toml:"addr"`
	InternalHMACSecret string   `toml:"internal_hmac_secret"`
	InternalMaxSkew    Duration `toml:"internal_max_skew"`
	MaxBodyBytes       int64    `toml:"max_body_bytes"`
	RateLimitMax       int      `toml:"rate_limit_max"`
	RateLimitWindow    Duration `toml:"rate_limit_window"`
	StreamInterval     Duration `toml:"stream_interval"`
}

type QueueConfig struct {
	DSN      string `toml:"dsn"`
	Capacity int    `toml:"capacity"`
	Workers  int    `toml:"workers"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type Config struct {
	GitHub   GitHubConfig   `toml:"github"`
	Telegram TelegramConfig `toml:"telegram"`
	Schedule ScheduleConfig `toml:"schedule"`
	Server   ServerConfig   `toml:"server"`
	Queue    QueueConfig    `toml:"queue"`
	Log      LogConfig      `toml:"log"`
	Timezone string         `toml:"timezone"`

	mirrors  []mirror.Mirror
	location *time.Location
}

func Default() *Config {
	return &Config{
		GitHub: GitHubConfig{
			APIBase:        "https://api.github.com",
			RawBase:        "https://raw.githubusercontent.com",
			Workflow:       "sync.yml",
			PrimaryBranch:  "main",
			FallbackBranch: "master",
			StatePath:      "state.json",
			StateBranch:    "main",
		},
		Telegram: TelegramConfig{
			APIBase: "https://api.telegram.org",
		},
		Schedule: ScheduleConfig{
			Enabled:  true,
			Interval: Duration{2 * time.Minute},
			Jitter:   0.1,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			InternalMaxSkew: Duration{5 * time.Minute},
			MaxBodyBytes:    1 << 20,
			RateLimitWindow: Duration{time.Minute},
			StreamInterval:  Duration{30 * time.Second},
		},
		Queue: QueueConfig{
			DSN:      "memory://",
			Capacity: 256,
			Workers:  2,
		},
		Log:      LogConfig{Level: "info"},
		Timezone: "UTC",
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path != "" {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, key := range undecoded {
				keys = append(keys, key.String())
			}
			return nil, fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(keys, ", "))
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks shape only. An empty token is legal; dispatch reports it.
func (c *Config) Validate() error {
	if c == nil {
		return ErrInvalidConfig
	}
	mirrors, err := mirror.ParseList(c.GitHub.Mirrors)
	if err != nil {
		return fmt.Errorf("%w: github.mirrors: %v", ErrInvalidConfig, err)
	}
	if len(mirrors) == 0 {
		return fmt.Errorf("%w: github.mirrors must list at least one owner/name", ErrInvalidConfig)
	}
	if c.Schedule.Interval.Duration <= 0 {
		return fmt.Errorf("%w: schedule.interval must be positive", ErrInvalidConfig)
	}
	if c.Schedule.Jitter < 0 || c.Schedule.Jitter > 1 {
		return fmt.Errorf("%w: schedule.jitter must be within [0,1]", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.GitHub.PrimaryBranch) == "" {
		return fmt.Errorf("%w: github.primary_branch is required", ErrInvalidConfig)
	}
	if c.Queue.Workers < 0 || c.Queue.Capacity < 0 {
		return fmt.Errorf("%w: queue sizes must not be negative", ErrInvalidConfig)
	}
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("%w: timezone: %v", ErrInvalidConfig, err)
	}
	c.mirrors = mirrors
	c.location = loc
	return nil
}

// MirrorList returns the parsed, deduplicated mirror registry.
func (c *Config) MirrorList() []mirror.Mirror {
	if c == nil {
		return nil
	}
	if c.mirrors == nil {
		mirrors, _ := mirror.ParseList(c.GitHub.Mirrors)
		return mirrors
	}
	return append([]mirror.Mirror(nil), c.mirrors...)
}

func (c *Config) Location() *time.Location {
	if c == nil || c.location == nil {
		return time.UTC
	}
	return c.location
}
