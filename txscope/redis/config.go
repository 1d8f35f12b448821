package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/LerianStudio/lib-txscope/txscope/backoff"
	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/internal/validation"
	"github.com/LerianStudio/lib-txscope/txscope/log"
	"github.com/redis/go-redis/v9"
)

const (
	defaultConnectAttempts = 3
	defaultConnectBackoff  = 200 * time.Millisecond
	defaultDialTimeout     = 5 * time.Second
)

// Config describes a standalone Redis endpoint.
type Config struct {
	Address  string `validate:"notblank"`
	Username string
	Password string
	DB       int `validate:"gte=0"`

	PoolSize     int `validate:"gte=0"`
	MinIdleConns int `validate:"gte=0"`
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ConnectAttempts bounds the pings NewClient tries before giving up.
	ConnectAttempts int
	Logger          log.Logger `validate:"-"`
}

func (cfg Config) withDefaults() Config {
	if nilcheck.Interface(cfg.Logger) {
		cfg.Logger = log.NewNop()
	}

	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = defaultConnectAttempts
	}

	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	return cfg
}

func (cfg Config) validate() error {
	if err := validation.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}

func (cfg Config) options() *redis.Options {
	return &redis.Options{
		Addr:         cfg.Address,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

// NewClient opens a client for cfg and pings it, backing off between
// attempts. The client is closed when every attempt fails.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(cfg.options())
	policy := backoff.Policy{Base: defaultConnectBackoff, MaxAttempts: cfg.ConnectAttempts}

	var lastErr error

	for attempt := 0; policy.Allows(attempt); attempt++ {
		if attempt > 0 {
			if err := backoff.Wait(ctx, policy.Delay(attempt-1)); err != nil {
				lastErr = err

				break
			}
		}

		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			cfg.Logger.Log(ctx, log.LevelInfo, "connected to redis",
				log.String("address", cfg.Address), log.Int("attempts", attempt+1))

			return client, nil
		}

		cfg.Logger.Log(ctx, log.LevelWarn, "redis ping failed",
			log.String("address", cfg.Address), log.Int("attempt", attempt+1), log.Err(lastErr))
	}

	_ = client.Close()

	return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Address, lastErr)
}
