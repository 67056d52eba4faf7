// Package storage opens the relational database behind the products
// repository. Postgres is used in deployments; sqlite serves local
// development and tests.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/Sternrassler/catalog-cache/pkg/retry"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ErrUnsupportedDriver is returned for drivers other than postgres and sqlite.
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// Config selects and tunes the database.
type Config struct {
	// Driver is DriverPostgres or DriverSQLite.
	Driver string

	// DSN is a postgres URL or a sqlite file path (":memory:" allowed).
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// Connect retries the initial ping.
	Connect retry.Options
}

// DefaultConfig returns a local sqlite configuration.
func DefaultConfig() Config {
	return Config{
		Driver:          DriverSQLite,
		DSN:             "file:catalog.db?cache=shared&_busy_timeout=5000",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		Connect: retry.Options{
			Name:      "db_connect",
			Retries:   5,
			BaseDelay: 200 * time.Millisecond,
			MaxDelay:  3 * time.Second,
		},
	}
}

// Open connects to the configured database and pings it, retrying with
// backoff while the server comes up.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*bun.DB, error) {
	var (
		driverName string
		db         *bun.DB
	)

	switch cfg.Driver {
	case DriverPostgres:
		driverName = "postgres"
	case DriverSQLite:
		driverName = "sqlite3"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}

	sqldb, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite && isMemory(cfg.DSN) {
		// Every connection to :memory: is a separate database.
		sqldb.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}
	if cfg.ConnMaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if cfg.Driver == DriverPostgres {
		db = bun.NewDB(sqldb, pgdialect.New())
	} else {
		db = bun.NewDB(sqldb, sqlitedialect.New())
	}

	opts := cfg.Connect
	if opts.Name == "" {
		opts.Name = "db_connect"
	}
	err = retry.DoErr(ctx, opts, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}

	logger.Info().Str("driver", cfg.Driver).Msg("Database connected")
	return db, nil
}

// Ping checks the connection for readiness probes.
func Ping(ctx context.Context, db *bun.DB) error {
	if db == nil {
		return errors.New("database not configured")
	}
	return db.PingContext(ctx)
}

func isMemory(dsn string) bool {
	return strings.Contains(dsn, ":memory:")
}
