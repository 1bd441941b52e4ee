// Package sqldb implements the repository interfaces on database/sql.
//
// Two drivers are supported:
//   - postgres (github.com/lib/pq), the production store
//   - sqlite (modernc.org/sqlite), pure Go, for local runs and tests (":memory:")
//
// sql.DB is the shared connection pool. It is created once at startup and
// bounded by DatabaseSettings.MaxConnections. Every Insert waits at most
// DatabaseSettings.AcquireTimeout for a free connection.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// Registers the "postgres" driver.
	_ "github.com/lib/pq"
	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/sakif/newsletter/internal/config"
)

// dialect holds the SQL that differs between drivers.
type dialect struct {
	driver    string
	insertSQL string
	schema    []string
}

var dialects = map[string]dialect{
	config.DriverPostgres: {
		driver: config.DriverPostgres,
		insertSQL: `INSERT INTO subscriptions (id, email, name, subscribed_at)
		 VALUES ($1, $2, $3, $4)`,
		schema: []string{`
			CREATE TABLE IF NOT EXISTS subscriptions (
				id            uuid PRIMARY KEY,
				email         TEXT NOT NULL UNIQUE,
				name          TEXT NOT NULL,
				subscribed_at timestamptz NOT NULL
			)`,
		},
	},
	config.DriverSQLite: {
		driver: config.DriverSQLite,
		insertSQL: `INSERT INTO subscriptions (id, email, name, subscribed_at)
		 VALUES (?, ?, ?, ?)`,
		schema: []string{`
			CREATE TABLE IF NOT EXISTS subscriptions (
				id            TEXT PRIMARY KEY,
				email         TEXT NOT NULL UNIQUE,
				name          TEXT NOT NULL,
				subscribed_at DATETIME NOT NULL
			)`,
		},
	},
}

// DB wraps the sql.DB pool and implements repository.SubscriptionRepository.
type DB struct {
	conn           *sql.DB
	dialect        dialect
	logger         *slog.Logger
	acquireTimeout time.Duration
}

// Open creates the pool described by cfg and verifies it can reach the
// database within cfg.AcquireTimeout.
func Open(ctx context.Context, cfg config.DatabaseSettings, logger *slog.Logger) (*DB, error) {
	if _, ok := dialects[cfg.Driver]; !ok {
		return nil, fmt.Errorf("sqldb: unsupported driver %q", cfg.Driver)
	}

	conn, err := sql.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("sqldb: opening database: %w", err)
	}

	db, err := New(conn, cfg, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := db.Ping(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	if cfg.Driver == config.DriverSQLite {
		if err := db.sqlitePragmas(ctx); err != nil {
			conn.Close()
			return nil, err
		}
	}

	return db, nil
}

// New wraps an existing pool. It applies the pool limits from cfg but does
// not touch the network.
//
// SQLite gets a single connection: it has one writer anyway, and every
// connection to ":memory:" would otherwise be a separate empty database.
func New(conn *sql.DB, cfg config.DatabaseSettings, logger *slog.Logger) (*DB, error) {
	d, ok := dialects[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("sqldb: unsupported driver %q", cfg.Driver)
	}
	if cfg.AcquireTimeout <= 0 {
		return nil, fmt.Errorf("sqldb: acquire timeout must be positive, got %s", cfg.AcquireTimeout)
	}

	// database/sql reads a zero limit as unlimited.
	if cfg.Driver != config.DriverSQLite && cfg.MaxConnections <= 0 {
		return nil, fmt.Errorf("sqldb: max connections must be positive, got %d", cfg.MaxConnections)
	}

	if cfg.Driver == config.DriverSQLite {
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
	} else {
		conn.SetMaxOpenConns(cfg.MaxConnections)
		conn.SetMaxIdleConns(min(cfg.MaxIdleConnections, cfg.MaxConnections))
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return &DB{
		conn:           conn,
		dialect:        d,
		logger:         logger.With(slog.String("component", "sqldb")),
		acquireTimeout: cfg.AcquireTimeout,
	}, nil
}

// Close closes the pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that a connection can be established within the acquire timeout.
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, db.acquireTimeout)
	defer cancel()
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("sqldb: pinging %s: %w", db.dialect.driver, err)
	}
	return nil
}

// EnsureSchema creates the subscriptions table if it does not exist. It is
// safe to run on every start.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range db.dialect.schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqldb: creating schema: %w", err)
		}
	}
	return nil
}

// Count returns the number of stored subscriptions.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqldb: counting subscriptions: %w", err)
	}
	return n, nil
}

// sqlitePragmas configures the single sqlite connection. WAL lets readers
// proceed during a write; busy_timeout makes a locked file wait instead of
// failing at once.
func (db *DB) sqlitePragmas(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("sqldb: setting WAL mode: %w", err)
	}
	busy := fmt.Sprintf("PRAGMA busy_timeout=%d", db.acquireTimeout.Milliseconds())
	if _, err := db.conn.ExecContext(ctx, busy); err != nil {
		return fmt.Errorf("sqldb: setting busy timeout: %w", err)
	}
	return nil
}
