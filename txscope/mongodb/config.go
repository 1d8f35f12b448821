package mongodb

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/internal/validation"
	"github.com/LerianStudio/lib-txscope/txscope/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	defaultConnectTimeout         = 10 * time.Second
	defaultServerSelectionTimeout = 5 * time.Second
)

// Config describes a deployment.
type Config struct {
	URI                    string `validate:"notblank"`
	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
	MaxPoolSize            uint64
	Logger                 log.Logger `validate:"-"`
}

func (cfg Config) withDefaults() Config {
	if nilcheck.Interface(cfg.Logger) {
		cfg.Logger = log.NewNop()
	}

	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}

	if cfg.ServerSelectionTimeout <= 0 {
		cfg.ServerSelectionTimeout = defaultServerSelectionTimeout
	}

	return cfg
}

func (cfg Config) validate() error {
	if err := validation.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}

func (cfg Config) options() *options.ClientOptions {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ServerSelectionTimeout)

	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	return opts
}

// Connect opens a client and pings the primary. The client is disconnected
// again when the ping fails.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg = cfg.withDefaults()
	endpoint := redactURI(cfg.URI)

	client, err := mongo.Connect(ctx, cfg.options())
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb at %s: %w", endpoint, err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		if discErr := client.Disconnect(context.WithoutCancel(ctx)); discErr != nil {
			cfg.Logger.Log(ctx, log.LevelWarn, "mongodb disconnect after failed ping", log.Err(discErr))
		}

		return nil, fmt.Errorf("pinging mongodb at %s: %w", endpoint, err)
	}

	cfg.Logger.Log(ctx, log.LevelInfo, "connected to mongodb", log.String("endpoint", endpoint))

	return client, nil
}

func redactURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid uri>"
	}

	return u.Redacted()
}
