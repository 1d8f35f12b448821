package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/LerianStudio/lib-txscope/txscope/log"
	"github.com/bxcodec/dbresolver/v2"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// migration source
	_ "github.com/jackc/pgx/v5/stdlib"                   // pgx database/sql driver
)

const driverName = "pgx"

var (
	dbOpenFn = sql.Open

	createResolverFn = func(primaryDB, replicaDB *sql.DB) (_ dbresolver.DB, err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				err = fmt.Errorf("failed to create resolver: %v", recovered)
			}
		}()

		connectionDB := dbresolver.New(
			dbresolver.WithPrimaryDBs(primaryDB),
			dbresolver.WithReplicaDBs(replicaDB),
			dbresolver.WithLoadBalancer(dbresolver.RoundRobinLB),
		)

		if connectionDB == nil {
			return nil, errors.New("resolver returned nil connection")
		}

		return connectionDB, nil
	}

	runMigrationsFn = runMigrations

	connectionStringCredentialsPattern = regexp.MustCompile(`://[^@\s]+@`)
	connectionStringPasswordPattern    = regexp.MustCompile(`(?i)(password=)([^\s&]+)`)
	dbNamePattern                      = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)
)

// Client owns the primary and replica pools behind a dbresolver.DB.
type Client struct {
	cfg Config

	mu       sync.RWMutex
	resolver dbresolver.DB
	primary  *sql.DB
}

// New validates cfg and returns an unconnected Client.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Client{cfg: cfg}, nil
}

// Connect opens both pools, migrates the primary and pings the resolver.
// An existing connection is replaced only once the new one is healthy.
func (c *Client) Connect(ctx context.Context) error {
	if c == nil {
		return ErrNilClient
	}

	if ctx == nil {
		return ErrNilContext
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	logger := c.cfg.Logger

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context done before database connection: %w", err)
	}

	logger.Log(ctx, log.LevelInfo, "connecting to primary and replica databases")

	dbPrimary, err := c.open(ctx, "primary", c.cfg.PrimaryDSN)
	if err != nil {
		return err
	}

	var success bool

	defer func() {
		if !success {
			_ = dbPrimary.Close()
		}
	}()

	dbReplica, err := c.open(ctx, "replica", c.cfg.ReplicaDSN)
	if err != nil {
		return err
	}

	defer func() {
		if !success {
			_ = dbReplica.Close()
		}
	}()

	resolver, err := createResolverFn(dbPrimary, dbReplica)
	if err != nil {
		logger.Log(ctx, log.LevelError, "failed to create resolver", log.Err(err))

		return fmt.Errorf("failed to create resolver: %w", err)
	}

	if c.cfg.migrates() {
		migrationsPath, err := c.migrationsPath()
		if err != nil {
			logger.Log(ctx, log.LevelError, "failed to resolve migrations path", log.Err(err))

			return err
		}

		if err := runMigrationsFn(ctx, dbPrimary, migrationsPath, c.cfg.PrimaryDBName, c.cfg.AllowMultiStatements, logger); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context done before ping: %w", err)
	}

	if err := resolver.PingContext(ctx); err != nil {
		logger.Log(ctx, log.LevelError, "failed to ping database", log.String("error", sanitizeSensitiveError(err)))

		return fmt.Errorf("failed to ping database: %s", sanitizeSensitiveError(err))
	}

	previous := c.resolver

	c.resolver = resolver
	c.primary = dbPrimary
	success = true

	if previous != nil {
		if err := previous.Close(); err != nil {
			logger.Log(ctx, log.LevelWarn, "failed to close previous connection after reconnect", log.Err(err))
		}
	}

	logger.Log(ctx, log.LevelInfo, "connected to postgres")

	return nil
}

func (c *Client) open(ctx context.Context, role, dsn string) (*sql.DB, error) {
	db, err := dbOpenFn(driverName, dsn)
	if err != nil {
		sanitized := sanitizeSensitiveError(err)
		c.cfg.Logger.Log(ctx, log.LevelError, "failed to open database", log.String("role", role), log.String("error", sanitized))

		return nil, fmt.Errorf("failed to connect to %s database: %s", role, sanitized)
	}

	db.SetMaxOpenConns(c.cfg.MaxOpenConnections)
	db.SetMaxIdleConns(c.cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(c.cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(c.cfg.ConnMaxIdleTime)

	return db, nil
}

// Resolver returns the primary/replica resolver, connecting on first use.
//
//nolint:ireturn
func (c *Client) Resolver(ctx context.Context) (dbresolver.DB, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.resolver, nil
}

// Primary returns the primary pool, connecting on first use. Transactions
// always run on the primary.
func (c *Client) Primary(ctx context.Context) (*sql.DB, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.primary != nil {
		return c.primary, nil
	}

	if dbs := c.resolver.PrimaryDBs(); len(dbs) > 0 && dbs[0] != nil {
		return dbs[0], nil
	}

	return nil, ErrNoPrimary
}

func (c *Client) ensureConnected(ctx context.Context) error {
	if c == nil {
		return ErrNilClient
	}

	if ctx == nil {
		return ErrNilContext
	}

	c.mu.RLock()
	connected := c.resolver != nil
	c.mu.RUnlock()

	if connected {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolver != nil {
		return nil
	}

	return c.connectLocked(ctx)
}

// Close releases both pools. Closing an unconnected client is a no-op.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.resolver == nil {
		return nil
	}

	err := c.resolver.Close()
	c.resolver = nil
	c.primary = nil

	return err
}

// IsConnected reports whether the resolver is initialised.
func (c *Client) IsConnected() bool {
	if c == nil {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.resolver != nil
}

func (c *Client) migrationsPath() (string, error) {
	if c.cfg.MigrationsPath != "" {
		return sanitizePath(c.cfg.MigrationsPath)
	}

	// filepath.Base strips traversal: "../../etc" becomes "etc".
	component := filepath.Base(c.cfg.Component)
	if component == "." || component == string(filepath.Separator) {
		return "", fmt.Errorf("invalid component name: %q", c.cfg.Component)
	}

	return filepath.Abs(filepath.Join("components", component, "migrations"))
}

func sanitizeSensitiveError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := connectionStringCredentialsPattern.ReplaceAllString(err.Error(), "://***@")

	return connectionStringPasswordPattern.ReplaceAllString(sanitized, "${1}***")
}

func sanitizePath(path string) (string, error) {
	cleaned := filepath.Clean(path)

	for _, part := range strings.Split(cleaned, string(filepath.Separator)) {
		if part == ".." {
			return "", fmt.Errorf("invalid migrations path: %q", path)
		}
	}

	absPath, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("failed to resolve migrations path: %w", err)
	}

	return absPath, nil
}

func validateDBName(name string) error {
	if !dbNamePattern.MatchString(name) {
		return fmt.Errorf("invalid database name: %q", name)
	}

	return nil
}

func runMigrations(ctx context.Context, dbPrimary *sql.DB, migrationsPath, primaryDBName string,
	allowMultiStatements bool, logger log.Logger,
) error {
	sourceURL, err := url.Parse(filepath.ToSlash(migrationsPath))
	if err != nil {
		return fmt.Errorf("failed to parse migrations url: %w", err)
	}

	sourceURL.Scheme = "file"

	driver, err := migratepg.WithInstance(dbPrimary, &migratepg.Config{
		MultiStatementEnabled: allowMultiStatements,
		DatabaseName:          primaryDBName,
		SchemaName:            "public",
	})
	if err != nil {
		logger.Log(ctx, log.LevelError, "failed to create migration driver", log.String("error", sanitizeSensitiveError(err)))

		return fmt.Errorf("failed to create postgres driver instance: %s", sanitizeSensitiveError(err))
	}

	m, err := migrate.NewWithDatabaseInstance(sourceURL.String(), primaryDBName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	err = m.Up()

	switch {
	case err == nil:
		logger.Log(ctx, log.LevelInfo, "migrations applied", log.String("path", migrationsPath))

		return nil
	case errors.Is(err, migrate.ErrNoChange):
		logger.Log(ctx, log.LevelInfo, "no new migrations found")

		return nil
	case errors.Is(err, os.ErrNotExist):
		logger.Log(ctx, log.LevelWarn, "no migration files found, skipping migration step", log.String("path", migrationsPath))

		return nil
	}

	var dirtyErr migrate.ErrDirty
	if errors.As(err, &dirtyErr) {
		logger.Log(ctx, log.LevelError, "migration left a dirty version", log.Int("version", dirtyErr.Version))

		return fmt.Errorf("migration failed: dirty database version %d", dirtyErr.Version)
	}

	logger.Log(ctx, log.LevelError, "migration failed", log.Err(err))

	return fmt.Errorf("migration failed: %w", err)
}
