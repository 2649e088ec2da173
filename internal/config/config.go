// Package config handles application configuration from defaults, an optional
// TOML file, a .env file and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // Timezone database for hosts without one.

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration written as a string such as "90s" in TOML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string   `toml:"telegram_bot_token"`
	DatabasePath     string   `toml:"database_path"`
	LogLevel         string   `toml:"log_level"`
	AllowedUsers     []int64  `toml:"allowed_users"`
	DefaultLink      string   `toml:"default_link"`
	KnownClasses     []string `toml:"known_classes"`
	Timezone         string   `toml:"timezone"`
	DocumentFormat   string   `toml:"document_format"` // "csv" or "xlsx"
	FetchCacheTTL    Duration `toml:"fetch_cache_ttl"`
	RetryDelay       Duration `toml:"retry_delay"`
	IntervalHours    int      `toml:"interval_hours"`
	IntervalMinutes  int      `toml:"interval_minutes"`
	HTTPAddr         string   `toml:"http_addr"` // empty disables the status server
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		DatabasePath:   "./data/bot.db",
		LogLevel:       "info",
		Timezone:       "Europe/Moscow",
		DocumentFormat: "csv",
		FetchCacheTTL:  Duration(time.Minute),
		RetryDelay:     Duration(time.Minute),
		IntervalHours:  1,
	}
}

// Load reads .env (if present), then the TOML file named by CONFIG_FILE (if
// set), then environment variables, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return LoadFrom(os.Getenv("CONFIG_FILE"))
}

// LoadFrom builds the configuration from defaults, the TOML file at path and
// environment variables. An empty path skips the file.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("TELEGRAM_BOT_TOKEN", &cfg.TelegramBotToken)
	setString("DATABASE_PATH", &cfg.DatabasePath)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("DEFAULT_LINK", &cfg.DefaultLink)
	setString("TIMEZONE", &cfg.Timezone)
	setString("DOCUMENT_FORMAT", &cfg.DocumentFormat)
	setString("HTTP_ADDR", &cfg.HTTPAddr)

	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		users, err := parseUserIDs(raw)
		if err != nil {
			return err
		}
		cfg.AllowedUsers = users
	}
	if raw := os.Getenv("KNOWN_CLASSES"); raw != "" {
		cfg.KnownClasses = splitList(raw)
	}

	for key, dst := range map[string]*Duration{
		"FETCH_CACHE_TTL": &cfg.FetchCacheTTL,
		"RETRY_DELAY":     &cfg.RetryDelay,
	} {
		if raw := os.Getenv(key); raw != "" {
			if err := dst.UnmarshalText([]byte(raw)); err != nil {
				return fmt.Errorf("invalid %s %q: %w", key, raw, err)
			}
		}
	}

	if raw := os.Getenv("DEFAULT_INTERVAL"); raw != "" {
		h, m, err := ParseInterval(raw)
		if err != nil {
			return fmt.Errorf("invalid DEFAULT_INTERVAL: %w", err)
		}
		cfg.IntervalHours, cfg.IntervalMinutes = h, m
	}
	return nil
}

func parseUserIDs(raw string) ([]int64, error) {
	var out []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
		}
		out = append(out, uid)
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ParseInterval parses "hours,minutes" or "hours minutes".
func ParseInterval(raw string) (int, int, error) {
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' })
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected <hours> <minutes>, got %q", raw)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, 0, fmt.Errorf("invalid hours %q", parts[0])
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minutes %q", parts[1])
	}
	if h == 0 && m == 0 {
		return 0, 0, fmt.Errorf("interval must be positive")
	}
	return h, m, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	switch c.DocumentFormat {
	case "csv", "xlsx":
	default:
		return fmt.Errorf("unknown document format %q, use csv or xlsx", c.DocumentFormat)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.FetchCacheTTL < 0 {
		return fmt.Errorf("fetch cache ttl must not be negative")
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("retry delay must be positive")
	}
	if c.IntervalHours < 0 || c.IntervalMinutes < 0 || c.IntervalHours == 0 && c.IntervalMinutes == 0 {
		return fmt.Errorf("default interval must be positive")
	}
	return nil
}

// Location returns the time zone used to decide which day is today.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	return len(c.AllowedUsers) == 0 || slices.Contains(c.AllowedUsers, userID)
}

// IsKnownClass reports whether name is one of the configured classes.
// Returns true if no classes are configured.
func (c *Config) IsKnownClass(name string) bool {
	return len(c.KnownClasses) == 0 || slices.Contains(c.KnownClasses, name)
}
