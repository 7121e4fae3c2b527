package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config keeps runtime settings for the planner.
type Config struct {
	TelegramToken string `yaml:"telegram_token"`
	DatabaseURL   string `yaml:"database_url"`
	HTTPAddr      string `yaml:"http_addr"`
	// FrontendURL is the only origin allowed to call the API from a browser.
	FrontendURL   string `yaml:"frontend_url"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ReminderInterval time.Duration `yaml:"reminder_interval"`
	DigestInterval   time.Duration `yaml:"digest_interval"`
	ReminderFallback time.Duration `yaml:"reminder_fallback"`
	DispatchWorkers  int           `yaml:"dispatch_workers"`
	PushRatePerSec   int           `yaml:"push_rate_per_sec"`

	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	VAPIDSubject    string `yaml:"vapid_subject"`
	PushTTL         int    `yaml:"push_ttl"`

	// Timezone is the location cron evaluates schedules in.
	Timezone          string `yaml:"timezone"`
	DefaultDigestTime string `yaml:"default_digest_time"`
	DefaultTimezone   string `yaml:"default_timezone"`

	// File is the YAML file the values were read from, if any.
	File string `yaml:"-"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		DatabaseURL:       "planner.db",
		HTTPAddr:          ":8080",
		FrontendURL:       "http://localhost:5173",
		LogLevel:          "info",
		LogFormat:         "console",
		ReminderInterval:  time.Minute,
		DigestInterval:    5 * time.Minute,
		ReminderFallback:  5 * time.Minute,
		DispatchWorkers:   4,
		PushRatePerSec:    10,
		PushTTL:           86400,
		DefaultDigestTime: "08:00",
		DefaultTimezone:   "UTC",
	}
}

// Load reads defaults, then the YAML file named by CONFIG_FILE, then
// environment variables.
func Load() (Config, error) {
	return load(os.Getenv)
}

// LoadFile is Load with an explicit YAML path; an empty path skips the file.
func LoadFile(path string) (Config, error) {
	return loadFrom(path, os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	return loadFrom(strings.TrimSpace(getenv("CONFIG_FILE")), getenv)
}

func loadFrom(path string, getenv func(string) string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := readFile(path, &cfg); err != nil {
			return cfg, err
		}
		cfg.File = path
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("TELEGRAM_TOKEN", &cfg.TelegramToken)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("FRONTEND_URL", &cfg.FrontendURL)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("VAPID_PUBLIC_KEY", &cfg.VAPIDPublicKey)
	str("VAPID_PRIVATE_KEY", &cfg.VAPIDPrivateKey)
	str("VAPID_SUBJECT", &cfg.VAPIDSubject)
	str("TIMEZONE", &cfg.Timezone)
	str("DEFAULT_DIGEST_TIME", &cfg.DefaultDigestTime)
	str("DEFAULT_TIMEZONE", &cfg.DefaultTimezone)

	var errs []error
	dur := func(key string, dst *time.Duration) {
		raw := strings.TrimSpace(getenv(key))
		if raw == "" {
			return
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
	num := func(key string, dst *int) {
		raw := strings.TrimSpace(getenv(key))
		if raw == "" {
			return
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
	dur("REMINDER_INTERVAL", &cfg.ReminderInterval)
	dur("DIGEST_INTERVAL", &cfg.DigestInterval)
	dur("REMINDER_FALLBACK", &cfg.ReminderFallback)
	num("DISPATCH_WORKERS", &cfg.DispatchWorkers)
	num("PUSH_RATE_PER_SEC", &cfg.PushRatePerSec)
	num("PUSH_TTL", &cfg.PushTTL)
	return errors.Join(errs...)
}

// Validate rejects settings the schedulers cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.ReminderInterval <= 0 {
		errs = append(errs, fmt.Errorf("reminder interval must be positive"))
	}
	if c.DigestInterval <= 0 {
		errs = append(errs, fmt.Errorf("digest interval must be positive"))
	}
	if c.ReminderFallback <= 0 {
		errs = append(errs, fmt.Errorf("reminder fallback must be positive"))
	}
	if c.DispatchWorkers <= 0 {
		errs = append(errs, fmt.Errorf("dispatch workers must be positive"))
	}
	if c.PushRatePerSec <= 0 {
		errs = append(errs, fmt.Errorf("push rate must be positive"))
	}
	if !validClock(c.DefaultDigestTime) {
		errs = append(errs, fmt.Errorf("default digest time %q is not HH:MM", c.DefaultDigestTime))
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		errs = append(errs, fmt.Errorf("default timezone: %w", err))
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("timezone: %w", err))
		}
	}
	if c.FrontendURL != "" && !strings.HasPrefix(c.FrontendURL, "http://") && !strings.HasPrefix(c.FrontendURL, "https://") {
		errs = append(errs, fmt.Errorf("frontend url %q must start with http:// or https://", c.FrontendURL))
	}
	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		errs = append(errs, fmt.Errorf("VAPID public and private keys must be set together"))
	}
	return errors.Join(errs...)
}

// PushEnabled reports whether VAPID credentials are configured.
func (c Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// Location returns the cron location, falling back to the local zone.
func (c Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func validClock(s string) bool {
	_, err := time.Parse("15:04", strings.TrimSpace(s))
	return err == nil
}
