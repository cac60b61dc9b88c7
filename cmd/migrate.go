package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/facemark/facemark/internal/config"
	"github.com/facemark/facemark/internal/database/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply any pending schema migrations to the PostgreSQL database
and print the versions currently applied. The serve command runs
migrations automatically on startup, so this is mainly useful for
deploy pipelines that migrate before rolling the server.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	ctx := context.Background()
	if err := pool.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	applied, err := pool.MigrationsApplied(ctx)
	if err != nil {
		return fmt.Errorf("failed to list applied migrations: %w", err)
	}

	fmt.Printf("Database schema up to date (%d migrations applied)\n", len(applied))
	for _, v := range applied {
		fmt.Printf("  %s\n", v)
	}
	return nil
}
