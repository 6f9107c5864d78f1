// Package database is the SQL store for cameras, events, worker heartbeats and
// validation logs. SQLite is the default; a postgres DSN is also accepted.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var (
	ErrCameraNotFound = errors.New("camera not found")
	ErrWorkerNotFound = errors.New("worker state not found")
	ErrEventNotFound  = errors.New("event not found")
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects the driver and connection string
type Config struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`
}

// Database handles SQL operations for both dialects
type Database struct {
	db     *sqlx.DB
	driver string
	logger *zap.Logger
}

// Open connects to the database. SQLite gets WAL and a busy timeout so that
// worker heartbeats and API reads do not block each other.
func Open(cfg Config, logger *zap.Logger) (*Database, error) {
	if logger == nil {
		logger = zap.L()
	}
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA foreign_keys=ON",
		} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
			}
		}
	} else if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &Database{
		db:     db,
		driver: driver,
		logger: logger.Named("database").With(zap.String("driver", driver)),
	}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Driver returns the active driver name
func (d *Database) Driver() string { return d.driver }

// Ping checks connectivity
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// q rewrites ? placeholders for the active driver.
func (d *Database) q(query string) string {
	if d.driver == DriverPostgres {
		return sqlx.Rebind(sqlx.DOLLAR, query)
	}
	return query
}

// utc normalizes timestamps before they are written.
func utc(t time.Time) time.Time {
	return t.UTC().Round(time.Microsecond)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := utc(*t)
	return &v
}

func nullable(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
