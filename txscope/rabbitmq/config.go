package rabbitmq

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/LerianStudio/lib-txscope/txscope/backoff"
	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/internal/validation"
	"github.com/LerianStudio/lib-txscope/txscope/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultConnectAttempts = 3
	defaultConnectBackoff  = 250 * time.Millisecond
	defaultDialTimeout     = 10 * time.Second
	defaultHeartbeat       = 10 * time.Second
)

// Config describes a broker endpoint.
type Config struct {
	// URL is an amqp:// or amqps:// connection string.
	URL             string `validate:"notblank,url"`
	DialTimeout     time.Duration
	Heartbeat       time.Duration
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

	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}

	return cfg
}

func (cfg Config) validate() error {
	if err := validation.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}

// Dial connects to the broker, retrying with jittered backoff.
func Dial(ctx context.Context, cfg Config) (*amqp.Connection, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg = cfg.withDefaults()
	policy := backoff.Policy{Base: defaultConnectBackoff, Max: 5 * time.Second, MaxAttempts: cfg.ConnectAttempts}
	endpoint := redactURL(cfg.URL)

	var lastErr error

	for attempt := 0; policy.Allows(attempt); attempt++ {
		if attempt > 0 {
			if err := backoff.Wait(ctx, policy.Delay(attempt-1)); err != nil {
				return nil, err
			}
		}

		conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
			Heartbeat: cfg.Heartbeat,
			Dial:      amqp.DefaultDial(cfg.DialTimeout),
		})
		if err == nil {
			cfg.Logger.Log(ctx, log.LevelInfo, "connected to rabbitmq", log.String("endpoint", endpoint))

			return conn, nil
		}

		lastErr = err

		cfg.Logger.Log(ctx, log.LevelWarn, "rabbitmq dial failed",
			log.String("endpoint", endpoint), log.Int("attempt", attempt+1), log.Err(err))
	}

	return nil, fmt.Errorf("connecting to rabbitmq at %s: %w", endpoint, lastErr)
}

// redactURL hides the password of raw for logs and errors.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}

	return u.Redacted()
}
