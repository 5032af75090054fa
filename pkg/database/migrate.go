package database

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Migrator applies embedded SQL migrations with golang-migrate.
// Files follow the golang-migrate naming: 000001_create_x.up.sql / .down.sql.
type Migrator struct {
	m      *migrate.Migrate
	logger *slog.Logger
}

// NewMigrator creates a migrator reading dir from fsys. Each schema keeps its
// own version table, <schema>_schema_migrations.
func NewMigrator(databaseURL string, fsys fs.FS, dir, schema string) (*Migrator, error) {
	src, err := iofs.New(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	target, err := withMigrationsTable(databaseURL, schema+"_schema_migrations")
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, target)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return &Migrator{m: m, logger: slog.Default()}, nil
}

func withMigrationsTable(databaseURL, table string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse database url: %w", err)
	}
	q := u.Query()
	q.Set("x-migrations-table", table)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// WithLogger sets the logger for the migrator.
func (m *Migrator) WithLogger(logger *slog.Logger) *Migrator {
	m.logger = logger
	return m
}

// Up applies all pending migrations. An up-to-date schema is not an error.
func (m *Migrator) Up() error {
	err := m.m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("no migrations to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	m.logger.Info("applied migrations")
	return nil
}

// Down rolls back the last applied migration.
func (m *Migrator) Down() error {
	err := m.m.Steps(-1)
	if errors.Is(err, migrate.ErrNoChange) || errors.Is(err, fs.ErrNotExist) {
		m.logger.Info("no migrations to rollback")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}
	m.logger.Info("rolled back migration")
	return nil
}

// Version returns the current version; 0 when nothing was applied.
func (m *Migrator) Version() (uint, bool, error) {
	v, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read migration version: %w", err)
	}
	return v, dirty, nil
}

// Close releases the migrator's source and database connections.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}
