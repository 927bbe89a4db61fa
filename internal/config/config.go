package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	insecureAccessSecret  = "insecure-dev-access-secret-change-me"
	insecureRefreshSecret = "insecure-dev-refresh-secret-change-me"
)

type Config struct {
	DatabaseURL string
	Location    *time.Location
	HTTPAddr    string
	LogLevel    string
	Env         string // dev|prod
	SentryDSN   string
	Release     string

	JWT        JWTConfig
	SessionTTL time.Duration
	BcryptCost int

	AutoSubmitInterval time.Duration
	SessionGCInterval  time.Duration
	PermissionsFile    string

	// Warnings — некритичные проблемы конфигурации; main пишет их в лог после инициализации логгера.
	Warnings []string
}

type JWTConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

func (c *Config) IsProd() bool { return strings.ToLower(c.Env) == "prod" }

func Load() (*Config, error) {
	tz := getenv("TZ", "Europe/Moscow")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.Local
	}

	cfg := &Config{
		DatabaseURL: mustEnv("DATABASE_URL"),
		Location:    loc,
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		Env:         getenv("ENV", "dev"),
		SentryDSN:   os.Getenv("SENTRY_DSN"),
		Release:     getenv("RELEASE", "dev"),
		JWT: JWTConfig{
			AccessSecret:  os.Getenv("JWT_ACCESS_SECRET"),
			RefreshSecret: os.Getenv("JWT_REFRESH_SECRET"),
			Issuer:        getenv("JWT_ISSUER", "school-backend"),
			Audience:      getenv("JWT_AUDIENCE", "school-backend-clients"),
		},
		PermissionsFile: os.Getenv("PERMISSIONS_FILE"),
	}

	var errs []error
	if cfg.JWT.AccessTTL, err = ttlEnv("JWT_ACCESS_TTL", "15m"); err != nil {
		errs = append(errs, err)
	}
	if cfg.JWT.RefreshTTL, err = ttlEnv("JWT_REFRESH_TTL", "7d"); err != nil {
		errs = append(errs, err)
	}
	if cfg.SessionTTL, err = ttlEnv("SESSION_TTL", "30d"); err != nil {
		errs = append(errs, err)
	}
	if cfg.AutoSubmitInterval, err = ttlEnv("AUTO_SUBMIT_INTERVAL", "1m"); err != nil {
		errs = append(errs, err)
	}
	if cfg.SessionGCInterval, err = ttlEnv("SESSION_GC_INTERVAL", "1h"); err != nil {
		errs = append(errs, err)
	}
	if cfg.BcryptCost, err = intEnv("BCRYPT_COST", 12); err != nil {
		errs = append(errs, err)
	}
	if err := cfg.applySecrets(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// applySecrets: в prod отсутствие секрета — ошибка, в dev — небезопасный дефолт с предупреждением.
func (c *Config) applySecrets() error {
	if c.IsProd() {
		var errs []error
		if c.JWT.AccessSecret == "" {
			errs = append(errs, errors.New("JWT_ACCESS_SECRET is required in prod"))
		}
		if c.JWT.RefreshSecret == "" {
			errs = append(errs, errors.New("JWT_REFRESH_SECRET is required in prod"))
		}
		if c.JWT.AccessSecret != "" && c.JWT.AccessSecret == c.JWT.RefreshSecret {
			errs = append(errs, errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ"))
		}
		return errors.Join(errs...)
	}

	if c.JWT.AccessSecret == "" {
		c.JWT.AccessSecret = insecureAccessSecret
		c.Warnings = append(c.Warnings, "JWT_ACCESS_SECRET is empty, using INSECURE development default")
	}
	if c.JWT.RefreshSecret == "" {
		c.JWT.RefreshSecret = insecureRefreshSecret
		c.Warnings = append(c.Warnings, "JWT_REFRESH_SECRET is empty, using INSECURE development default")
	}
	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		c.Warnings = append(c.Warnings, "JWT access and refresh secrets are equal, refresh tokens are only separated by token type")
	}
	return nil
}

func mustEnv(k string) string {
	v := os.Getenv(k)
	if v == "" {
		panic("required env " + k + " is empty")
	}
	return v
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func intEnv(k string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return n, nil
}

func ttlEnv(k, def string) (time.Duration, error) {
	d, err := ParseTTL(getenv(k, def))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return d, nil
}

// ParseTTL понимает всё, что умеет time.ParseDuration, плюс суффикс "d" (дни): "7d", "30d".
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty duration")
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("bad duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %q", s)
	}
	return d, nil
}
