package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig describes the live status Redis. One address is a single node;
// several are a cluster, or sentinels when MasterName is set.
type RedisConfig struct {
	Addrs      []string
	MasterName string
	Password   string
	DB         int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	setDuration(&out.DialTimeout, 3*time.Second)
	setDuration(&out.ReadTimeout, 2*time.Second)
	setDuration(&out.WriteTimeout, 2*time.Second)
	setDuration(&out.PoolTimeout, 4*time.Second)
	setDuration(&out.ConnMaxIdleTime, 5*time.Minute)
	setDuration(&out.PingTimeout, 2*time.Second)
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	return out
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

func (c RedisConfig) options() *redis.UniversalOptions {
	return &redis.UniversalOptions{
		Addrs:           c.Addrs,
		MasterName:      c.MasterName,
		Password:        c.Password,
		DB:              c.DB,
		DialTimeout:     c.DialTimeout,
		ReadTimeout:     c.ReadTimeout,
		WriteTimeout:    c.WriteTimeout,
		PoolSize:        c.PoolSize,
		MinIdleConns:    c.MinIdleConns,
		PoolTimeout:     c.PoolTimeout,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
	}
}

// OpenRedis builds a client for cfg and fails unless it answers PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (redis.UniversalClient, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("redis addr is required")
	}
	cfg = cfg.withDefaults()
	rdb := redis.NewUniversalClient(cfg.options())

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %v: %w", cfg.Addrs, err)
	}
	return rdb, nil
}
