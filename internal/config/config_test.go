package config

import (
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "dialer"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	// Ensure a clean env by not setting anything and calling validation directly.
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "DB_HOST is required") || !strings.Contains(err.Error(), "JWT_SECRET is required") {
		t.Fatalf("expected all errors accumulated, got %v", err)
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "dialer"
	c.Auth.JWTAudience = "agents"
	c.Twilio.AuthToken = "token"
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "DB_SSLMODE") {
		t.Fatalf("expected error for production without DB_SSLMODE, got %v", err)
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Guard.Cooldown != 5*time.Minute {
		t.Fatalf("expected 5m cooldown default, got %v", c.Guard.Cooldown)
	}
	if c.Guard.StaleLockAfter != time.Hour {
		t.Fatalf("expected 1h stale threshold default, got %v", c.Guard.StaleLockAfter)
	}
	if c.Guard.ReclaimInterval <= 0 || c.Guard.LiveStatusTTL <= 0 || c.App.ShutdownTimeout <= 0 {
		t.Fatalf("expected defaults applied, got %+v / %+v", c.Guard, c.App)
	}
}

func TestValidate_StaleThresholdMustExceedCooldown(t *testing.T) {
	c := validLocal()
	c.Guard.Cooldown = 2 * time.Hour
	c.Guard.StaleLockAfter = time.Hour
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error when stale threshold <= cooldown")
	}
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "postgres")
	t.Setenv("DB_NAME", "dialer")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("GUARD_COOLDOWN", "five minutes")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "GUARD_COOLDOWN") {
		t.Fatalf("expected duration parse error, got %v", err)
	}

	t.Setenv("GUARD_COOLDOWN", "90s")
	c, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Guard.Cooldown != 90*time.Second {
		t.Fatalf("expected 90s cooldown, got %v", c.Guard.Cooldown)
	}
}

func TestLoad_RedisAddrsReplaceHostPort(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "postgres")
	t.Setenv("DB_NAME", "dialer")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("REDIS_ADDRS", "10.0.0.1:26379, 10.0.0.2:26379")
	t.Setenv("REDIS_MASTER_NAME", "dialer")
	t.Setenv("DB_MAX_OPEN_CONNS", "40")

	c, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.RedisAddrs(); len(got) != 2 || got[1] != "10.0.0.2:26379" {
		t.Fatalf("unexpected redis addrs %v", got)
	}
	if c.Redis.MasterName != "dialer" || c.DB.MaxOpenConns != 40 {
		t.Fatalf("unexpected config %+v / %+v", c.Redis, c.DB)
	}
}

func TestRedisAddrs_SingleNode(t *testing.T) {
	c := validLocal()
	if got := c.RedisAddrs(); len(got) != 1 || got[0] != "localhost:6379" {
		t.Fatalf("unexpected redis addrs %v", got)
	}
}

func TestValidate_DefaultTokenTTL(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Auth.AccessTokenTTL != DefaultAccessTokenTTL {
		t.Fatalf("expected %v, got %v", DefaultAccessTokenTTL, c.Auth.AccessTokenTTL)
	}
}
