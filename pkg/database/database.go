// Package database provides PostgreSQL connection and migration utilities.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	_ "github.com/lib/pq"

	"github.com/DhavalThkkar/langfuse/pkg/config"
)

// Config holds database connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns sensible defaults for database configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		User:            "langfuse",
		Password:        "langfuse",
		Database:        "langfuse",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// FromBase applies the connection settings of the shared service config
// on top of the defaults.
func FromBase(base *config.Base) *Config {
	cfg := DefaultConfig()
	cfg.Host = base.DBHost
	cfg.Port = base.DBPort
	cfg.User = base.DBUser
	cfg.Password = base.DBPassword
	cfg.Database = base.DBName
	cfg.SSLMode = base.DBSSLMode
	return cfg
}

// DSN returns the PostgreSQL keyword/value connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the connection as a postgres:// URL, the form the migrator expects.
func (c *Config) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// DB wraps sql.DB with a logger.
type DB struct {
	*sql.DB
	logger *slog.Logger
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, cfg *Config) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{
		DB:     db,
		logger: slog.Default(),
	}, nil
}

// WithLogger sets the logger for the database.
func (db *DB) WithLogger(logger *slog.Logger) *DB {
	db.logger = logger
	return db
}

// Logger returns the database logger.
func (db *DB) Logger() *slog.Logger {
	return db.logger
}

// InTx runs fn inside a transaction, rolling back when fn fails.
func (db *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
