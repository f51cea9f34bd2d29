package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the guard API process needs. Values come from the
// environment only; nothing else in the server reads env vars.
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	Guard  GuardConfig
	Twilio TwilioConfig
}

type AppConfig struct {
	Env  string
	Port int

	// ShutdownTimeout bounds graceful shutdown of the HTTP server and workers.
	ShutdownTimeout time.Duration
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	// SSLMode accepts disable, require, verify-ca, verify-full.
	SSLMode string

	// Pool sizing; zero means the pkg/utils default.
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig backs the shared live status store. Addrs, when set, replaces
// Host:Port and selects cluster mode, or sentinel mode with MasterName.
type RedisConfig struct {
	Host       string
	Port       int
	Addrs      []string
	MasterName string
	Password   string
	DB         int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

// GuardConfig tunes the concurrency guard and live status store.
type GuardConfig struct {
	// Cooldown is the minimum time between two attempts on the same contact.
	Cooldown time.Duration
	// StaleLockAfter is the age at which a lock is considered abandoned.
	StaleLockAfter time.Duration
	// ReclaimInterval is how often the reclaimer scans for stale locks.
	ReclaimInterval time.Duration
	// LiveStatusTTL expires live call-status entries nobody updated.
	LiveStatusTTL time.Duration
}

type TwilioConfig struct {
	// AuthToken signs status callbacks (X-Twilio-Signature). Empty disables verification.
	AuthToken string
	// WebhookBaseURL is the public origin Twilio calls, e.g. https://dialer.example.com.
	// Signatures cover the full URL, so it must match what Twilio sees behind proxies.
	WebhookBaseURL string
}

const (
	DefaultCooldown        = 5 * time.Minute
	DefaultStaleLockAfter  = time.Hour
	DefaultReclaimInterval = time.Minute
	DefaultLiveStatusTTL   = 2 * time.Hour
	// DefaultAccessTokenTTL covers one agent shift.
	DefaultAccessTokenTTL = 12 * time.Hour

	defaultShutdownTimeout = 10 * time.Second
)

// env reads typed values and keeps every parse error for one combined report.
type env struct {
	errs []error
}

func (e *env) str(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func (e *env) integer(key string, required bool) int {
	v := e.str(key)
	if v == "" {
		if required {
			e.errs = append(e.errs, fmt.Errorf("%s is required", key))
		}
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n
}

// duration returns 0 for an unset key; Validate fills the default.
func (e *env) duration(key string) time.Duration {
	v := e.str(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s must be a duration, got %q", key, v))
	}
	return d
}

func (e *env) list(key string) []string {
	var out []string
	for _, p := range strings.Split(e.str(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func Load() (Config, error) {
	var e env
	c := Config{
		App: AppConfig{
			Env:             e.str("APP_ENV"),
			Port:            e.integer("APP_PORT", true),
			ShutdownTimeout: e.duration("APP_SHUTDOWN_TIMEOUT"),
		},
		DB: DBConfig{
			Host:         e.str("DB_HOST"),
			Port:         e.integer("DB_PORT", true),
			User:         e.str("DB_USER"),
			Password:     os.Getenv("DB_PASSWORD"),
			Name:         e.str("DB_NAME"),
			SSLMode:      e.str("DB_SSLMODE"),
			MaxOpenConns: e.integer("DB_MAX_OPEN_CONNS", false),
			MaxIdleConns: e.integer("DB_MAX_IDLE_CONNS", false),
		},
		Redis: RedisConfig{
			Host:       e.str("REDIS_HOST"),
			Addrs:      e.list("REDIS_ADDRS"),
			MasterName: e.str("REDIS_MASTER_NAME"),
			Password:   os.Getenv("REDIS_PASSWORD"),
			DB:         e.integer("REDIS_DB", false),
		},
		Auth: AuthConfig{
			JWTSecret:      os.Getenv("JWT_SECRET"),
			JWTIssuer:      e.str("JWT_ISSUER"),
			JWTAudience:    e.str("JWT_AUDIENCE"),
			AccessTokenTTL: e.duration("JWT_ACCESS_TTL"),
		},
		Guard: GuardConfig{
			Cooldown:        e.duration("GUARD_COOLDOWN"),
			StaleLockAfter:  e.duration("GUARD_STALE_LOCK_AFTER"),
			ReclaimInterval: e.duration("GUARD_RECLAIM_INTERVAL"),
			LiveStatusTTL:   e.duration("LIVE_STATUS_TTL"),
		},
		Twilio: TwilioConfig{
			AuthToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
			WebhookBaseURL: strings.TrimRight(e.str("TWILIO_WEBHOOK_BASE_URL"), "/"),
		},
	}
	// a single-node port is only required without REDIS_ADDRS
	c.Redis.Port = e.integer("REDIS_PORT", len(c.Redis.Addrs) == 0)

	if err := errors.Join(e.errs...); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate applies defaults and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch {
	case c.App.Env == "":
		bad("APP_ENV is required")
	case !isValidEnv(c.App.Env):
		bad("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env)
	}
	if !validPort(c.App.Port) {
		bad("APP_PORT must be a valid port, got %d", c.App.Port)
	}
	if c.App.ShutdownTimeout <= 0 {
		c.App.ShutdownTimeout = defaultShutdownTimeout
	}

	if c.DB.Host == "" {
		bad("DB_HOST is required")
	}
	if !validPort(c.DB.Port) {
		bad("DB_PORT must be a valid port, got %d", c.DB.Port)
	}
	if c.DB.User == "" {
		bad("DB_USER is required")
	}
	if c.DB.Name == "" {
		bad("DB_NAME is required")
	}
	switch {
	case c.DB.SSLMode == "" && c.IsProduction():
		bad("DB_SSLMODE is required in production")
	case c.DB.SSLMode == "":
		c.DB.SSLMode = "disable"
	case !isValidSSLMode(c.DB.SSLMode):
		bad("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode)
	}
	if c.DB.MaxOpenConns < 0 || c.DB.MaxIdleConns < 0 {
		bad("DB_MAX_OPEN_CONNS and DB_MAX_IDLE_CONNS must be >= 0")
	}

	if len(c.Redis.Addrs) == 0 {
		if c.Redis.Host == "" {
			bad("REDIS_HOST is required")
		}
		if !validPort(c.Redis.Port) {
			bad("REDIS_PORT must be a valid port, got %d", c.Redis.Port)
		}
	}
	if c.Redis.DB < 0 {
		bad("REDIS_DB must be >= 0, got %d", c.Redis.DB)
	}

	if c.Auth.JWTSecret == "" {
		bad("JWT_SECRET is required")
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			bad("JWT_ISSUER is required in production")
		}
		if c.Auth.JWTAudience == "" {
			bad("JWT_AUDIENCE is required in production")
		}
		if c.Twilio.AuthToken == "" {
			bad("TWILIO_AUTH_TOKEN is required in production")
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = DefaultAccessTokenTTL
	}

	g := &c.Guard
	g.Cooldown = orDefault(g.Cooldown, DefaultCooldown)
	g.StaleLockAfter = orDefault(g.StaleLockAfter, DefaultStaleLockAfter)
	g.ReclaimInterval = orDefault(g.ReclaimInterval, DefaultReclaimInterval)
	g.LiveStatusTTL = orDefault(g.LiveStatusTTL, DefaultLiveStatusTTL)
	if g.StaleLockAfter <= g.Cooldown {
		bad("GUARD_STALE_LOCK_AFTER must be greater than GUARD_COOLDOWN")
	}
	if g.ReclaimInterval > g.StaleLockAfter {
		bad("GUARD_RECLAIM_INTERVAL must not exceed GUARD_STALE_LOCK_AFTER")
	}

	return errors.Join(errs...)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

// PostgresDSN contains the password; never log it.
func (c Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

// RedisAddrs lists the seed addresses for the Redis client.
func (c Config) RedisAddrs() []string {
	if len(c.Redis.Addrs) > 0 {
		return c.Redis.Addrs
	}
	return []string{net.JoinHostPort(c.Redis.Host, strconv.Itoa(c.Redis.Port))}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}
