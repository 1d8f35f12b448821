package postgres

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/log"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

// Config describes a primary/replica pair. ReplicaDSN defaults to
// PrimaryDSN. Migrations run only when MigrationsPath or Component is set,
// and then PrimaryDBName is required.
type Config struct {
	PrimaryDSN           string
	ReplicaDSN           string
	PrimaryDBName        string
	MigrationsPath       string
	Component            string
	AllowMultiStatements bool
	MaxOpenConnections   int
	MaxIdleConnections   int
	ConnMaxLifetime      time.Duration
	ConnMaxIdleTime      time.Duration
	Logger               log.Logger
}

func (cfg Config) withDefaults() Config {
	if nilcheck.Interface(cfg.Logger) {
		cfg.Logger = log.NewNop()
	}

	if strings.TrimSpace(cfg.ReplicaDSN) == "" {
		cfg.ReplicaDSN = cfg.PrimaryDSN
	}

	if cfg.MaxOpenConnections <= 0 {
		cfg.MaxOpenConnections = defaultMaxOpenConns
	}

	if cfg.MaxIdleConnections <= 0 {
		cfg.MaxIdleConnections = defaultMaxIdleConns
	}

	if cfg.MaxIdleConnections > cfg.MaxOpenConnections {
		cfg.MaxIdleConnections = cfg.MaxOpenConnections
	}

	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = defaultConnMaxLifetime
	}

	if cfg.ConnMaxIdleTime <= 0 {
		cfg.ConnMaxIdleTime = defaultConnMaxIdleTime
	}

	return cfg
}

func (cfg Config) validate() error {
	if strings.TrimSpace(cfg.PrimaryDSN) == "" {
		return fmt.Errorf("%w: primary dsn is required", ErrInvalidConfig)
	}

	if !cfg.migrates() {
		return nil
	}

	if err := validateDBName(cfg.PrimaryDBName); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}

func (cfg Config) migrates() bool {
	return strings.TrimSpace(cfg.MigrationsPath) != "" || strings.TrimSpace(cfg.Component) != ""
}

// LoadConfigFromEnv reads a Config from <PREFIX>_PRIMARY_DSN,
// <PREFIX>_REPLICA_DSN, <PREFIX>_PRIMARY_DB_NAME, <PREFIX>_MIGRATIONS_PATH,
// <PREFIX>_COMPONENT, <PREFIX>_ALLOW_MULTI_STATEMENTS,
// <PREFIX>_MAX_OPEN_CONNECTIONS, <PREFIX>_MAX_IDLE_CONNECTIONS,
// <PREFIX>_CONN_MAX_LIFETIME and <PREFIX>_CONN_MAX_IDLE_TIME. Unset
// variables keep their zero value; malformed ones are errors.
func LoadConfigFromEnv(prefix string) (Config, error) {
	prefix = strings.ToUpper(strings.TrimSuffix(strings.TrimSpace(prefix), "_"))
	if prefix != "" {
		prefix += "_"
	}

	env := func(name string) string {
		return strings.TrimSpace(os.Getenv(prefix + name))
	}

	cfg := Config{
		PrimaryDSN:     env("PRIMARY_DSN"),
		ReplicaDSN:     env("REPLICA_DSN"),
		PrimaryDBName:  env("PRIMARY_DB_NAME"),
		MigrationsPath: env("MIGRATIONS_PATH"),
		Component:      env("COMPONENT"),
	}

	var err error

	if raw := env("ALLOW_MULTI_STATEMENTS"); raw != "" {
		if cfg.AllowMultiStatements, err = strconv.ParseBool(raw); err != nil {
			return Config{}, fmt.Errorf("%w: %sALLOW_MULTI_STATEMENTS: %w", ErrInvalidConfig, prefix, err)
		}
	}

	if raw := env("MAX_OPEN_CONNECTIONS"); raw != "" {
		if cfg.MaxOpenConnections, err = strconv.Atoi(raw); err != nil {
			return Config{}, fmt.Errorf("%w: %sMAX_OPEN_CONNECTIONS: %w", ErrInvalidConfig, prefix, err)
		}
	}

	if raw := env("MAX_IDLE_CONNECTIONS"); raw != "" {
		if cfg.MaxIdleConnections, err = strconv.Atoi(raw); err != nil {
			return Config{}, fmt.Errorf("%w: %sMAX_IDLE_CONNECTIONS: %w", ErrInvalidConfig, prefix, err)
		}
	}

	if raw := env("CONN_MAX_LIFETIME"); raw != "" {
		if cfg.ConnMaxLifetime, err = time.ParseDuration(raw); err != nil {
			return Config{}, fmt.Errorf("%w: %sCONN_MAX_LIFETIME: %w", ErrInvalidConfig, prefix, err)
		}
	}

	if raw := env("CONN_MAX_IDLE_TIME"); raw != "" {
		if cfg.ConnMaxIdleTime, err = time.ParseDuration(raw); err != nil {
			return Config{}, fmt.Errorf("%w: %sCONN_MAX_IDLE_TIME: %w", ErrInvalidConfig, prefix, err)
		}
	}

	return cfg, nil
}
