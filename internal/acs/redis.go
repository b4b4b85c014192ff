package acs

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config configures the Redis-backed ACS connection pool: small struct,
// defaults applied in Open rather than scattered across call sites.
type Config struct {
	URL             string
	EventsEnabled   bool
	EventsStream    string
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PoolSize        int
	MinIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c Config) withDefaults() Config {
	if c.EventsStream == "" {
		c.EventsStream = "inv:events"
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 2 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 2 * time.Second
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 50
	}
	if c.MinIdleConns <= 0 {
		c.MinIdleConns = 5
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	return c
}

// RedisStore is the production ACS: every mutating operation is one EVAL
// of a named Lua script.
type RedisStore struct {
	rdb    *redis.Client
	cfg    Config
	script map[string]*redis.Script
}

// Open connects to Redis and prepares the named scripts. No explicit
// SCRIPT LOAD is done; go-redis's *redis.Script.Run sends EVALSHA and
// falls back to EVAL when the server replies NOSCRIPT.
func Open(ctx context.Context, cfg Config) (*RedisStore, error) {
	cfg = cfg.withDefaults()
	if cfg.URL == "" {
		return nil, fmt.Errorf("acs: counter_store_url is required")
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("acs: parse counter_store_url: %w", err)
	}
	opt.DialTimeout = cfg.DialTimeout
	opt.ReadTimeout = cfg.ReadTimeout
	opt.WriteTimeout = cfg.WriteTimeout
	opt.PoolSize = cfg.PoolSize
	opt.MinIdleConns = cfg.MinIdleConns
	opt.ConnMaxLifetime = cfg.ConnMaxLifetime

	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("acs: ping: %w", err)
	}

	return &RedisStore{
		rdb: rdb,
		cfg: cfg,
		script: map[string]*redis.Script{
			"reserve":      redis.NewScript(reserveScript),
			"extend":       redis.NewScript(extendScript),
			"commit_local": redis.NewScript(commitLocalScript),
			"release":      redis.NewScript(releaseScript),
		},
	}, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) eventsArg() string {
	if s.cfg.EventsEnabled {
		return "1"
	}
	return "0"
}

func (s *RedisStore) eventsKey() string {
	return s.cfg.EventsStream
}
