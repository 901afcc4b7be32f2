package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/ckd-screening-service/internal/config"
	"github.com/ckd-screening-service/internal/database"
	"github.com/ckd-screening-service/internal/domain"
	"github.com/ckd-screening-service/internal/repository"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}
	cmd.PersistentFlags().String("dir", "", "Migrations directory (defaults to the embedded schema)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := newMigrationRunner(cmd)
			if err != nil {
				return err
			}
			defer runner.Close()

			if err := runner.Up(cmd.Context()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			return printVersion(cmd, runner)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := newMigrationRunner(cmd)
			if err != nil {
				return err
			}
			defer runner.Close()

			if err := runner.Down(cmd.Context()); err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All migrations rolled back.")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := newMigrationRunner(cmd)
			if err != nil {
				return err
			}
			defer runner.Close()
			return printVersion(cmd, runner)
		},
	})

	return cmd
}

func newMigrationRunner(cmd *cobra.Command) (*database.MigrationRunner, error) {
	dir, _ := cmd.Flags().GetString("dir")

	configManager, err := config.NewManager()
	if err != nil {
		return nil, err
	}
	logger, err := cliLogger(configManager.GetConfig().Logging)
	if err != nil {
		return nil, err
	}
	return database.NewMigrationRunner(configManager.GetDatabaseURL(), dir, logger)
}

func printVersion(cmd *cobra.Command, runner *database.MigrationRunner) error {
	version, dirty, err := runner.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Fprintln(cmd.OutOrStdout(), "No migrations applied.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema version %d (dirty: %t)\n", version, dirty)
	return nil
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load patients and observations from a JSON document into PostgreSQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			input, _ := cmd.Flags().GetString("input")

			data, err := os.ReadFile(input)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", input, err)
			}
			var doc domain.ScreeningInput
			if err := json.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("failed to parse %s: %w", input, err)
			}
			patients, observations, err := doc.Decode()
			if err != nil {
				return err
			}

			configManager, err := config.NewManager()
			if err != nil {
				return err
			}
			cfg := configManager.GetConfig()
			logger, err := cliLogger(cfg.Logging)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, err := database.NewConnection(ctx, database.ConfigFrom(cfg.Database), logger)
			if err != nil {
				return err
			}
			defer db.Close()

			source := repository.NewPostgresSource(db.Pool, logger)
			if err := source.Import(ctx, patients, observations); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d patients and %d observations.\n", len(patients), len(observations))
			return nil
		},
	}
	cmd.Flags().String("input", "", "JSON document with patients and observations")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}
