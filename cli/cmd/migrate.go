package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	pkgconfig "github.com/DhavalThkkar/langfuse/pkg/config"
	"github.com/DhavalThkkar/langfuse/pkg/database"
	"github.com/DhavalThkkar/langfuse/services/batchaction"
)

const migrationSchema = "batchaction"

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the batch action database schema",
	Long: `Apply or roll back the batch action schema.

The database is taken from the LANGFUSE_DB_* environment variables.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd, func(m *database.Migrator) error {
			if err := m.Up(); err != nil {
				return err
			}
			writer(cmd).Success("Schema is up to date")
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back all migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd, func(m *database.Migrator) error {
			if err := m.Down(); err != nil {
				return err
			}
			writer(cmd).Success("Schema rolled back")
			return nil
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd, func(m *database.Migrator) error {
			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			w := writer(cmd)
			if version == 0 && !dirty {
				w.Info("No migrations applied")
				return nil
			}
			if dirty {
				w.Info("Version %d (dirty)", version)
				return nil
			}
			w.Info("Version %d", version)
			return nil
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
}

func withMigrator(cmd *cobra.Command, fn func(m *database.Migrator) error) error {
	base, err := pkgconfig.Load(migrationSchema)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	m, err := database.NewMigrator(base.DatabaseURL(), batchaction.Migrations, batchaction.MigrationsDir, migrationSchema)
	if err != nil {
		return err
	}
	defer m.Close()

	if cfg.Verbose {
		m.WithLogger(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil)))
	}
	return fn(m)
}
