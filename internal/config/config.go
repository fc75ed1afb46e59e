package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config keeps runtime settings for the planner.
type Config struct {
	Environment string `mapstructure:"ENVIRONMENT"`
	HTTPAddr    string `mapstructure:"HTTP_ADDR"`

	TelegramToken string `mapstructure:"TELEGRAM_TOKEN"`

	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`

	InternalAuthToken string `mapstructure:"INTERNAL_AUTH_TOKEN"`

	Timezone               string `mapstructure:"TIMEZONE"`
	DefaultStartTime       string `mapstructure:"DEFAULT_START_TIME"`
	DefaultDurationMinutes int    `mapstructure:"DEFAULT_DURATION_MINUTES"`
	SweepTime              string `mapstructure:"SWEEP_TIME"`
	ReportIntervalHours    string `mapstructure:"REPORT_INTERVAL_HOURS"`
	SessionTTLHours        int    `mapstructure:"SESSION_TTL_HOURS"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	LogDir   string `mapstructure:"LOG_DIR"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
}

var defaults = map[string]interface{}{
	"ENVIRONMENT":              "development",
	"HTTP_ADDR":                ":8080",
	"TELEGRAM_TOKEN":           "",
	"DATABASE_DRIVER":          "sqlite",
	"DATABASE_URL":             "timeplanner.db",
	"INTERNAL_AUTH_TOKEN":      "",
	"TIMEZONE":                 "Local",
	"DEFAULT_START_TIME":       "09:00",
	"DEFAULT_DURATION_MINUTES": 60,
	"SWEEP_TIME":               "00:05",
	"REPORT_INTERVAL_HOURS":    "5",
	"SESSION_TTL_HOURS":        12,
	"REDIS_ADDR":               "",
	"REDIS_PASSWORD":           "",
	"REDIS_DB":                 0,
	"LOG_DIR":                  "logs",
	"LOG_LEVEL":                "info",
}

// Load reads an optional .env file in path; environment variables win.
// Every key has a sane default, so an empty environment is a valid setup.
func Load(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	return cfg, cfg.Validate()
}

func (c *Config) normalize() {
	c.TelegramToken = strings.TrimSpace(c.TelegramToken)
	c.DatabaseDriver = strings.ToLower(strings.TrimSpace(c.DatabaseDriver))
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.DefaultStartTime = strings.TrimSpace(c.DefaultStartTime)
	c.SweepTime = strings.TrimSpace(c.SweepTime)
	if c.DefaultDurationMinutes <= 0 {
		c.DefaultDurationMinutes = 60
	}
	if c.SessionTTLHours <= 0 {
		c.SessionTTLHours = 12
	}
}

// Validate rejects settings the services cannot run with.
func (c Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.DatabaseDriver == "mysql" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for mysql")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	for key, value := range map[string]string{"DEFAULT_START_TIME": c.DefaultStartTime, "SWEEP_TIME": c.SweepTime} {
		if _, err := time.Parse("15:04", value); err != nil {
			return fmt.Errorf("invalid %s %q, expected HH:MM", key, value)
		}
	}
	return nil
}

// Location resolves TIMEZONE.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ReportInterval is how often the agenda is pushed to chat users; zero disables it.
func (c Config) ReportInterval() time.Duration {
	return parseInterval(strings.TrimSpace(c.ReportIntervalHours))
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func parseInterval(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	hours, err := time.ParseDuration(raw + "h")
	if err != nil || hours <= 0 {
		return 0
	}
	return hours
}
