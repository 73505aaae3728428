package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/elisa/internal/config"
	"github.com/haasonsaas/elisa/internal/storage"
)

// runMigrate creates the engine tables in the configured database.
func runMigrate(cmd *cobra.Command, configPath string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.Driver == "memory" {
		fmt.Fprintln(cmd.OutOrStdout(), "Database driver is memory; nothing to migrate.")
		return nil
	}
	slog.Info("running database migrations", "config", configPath, "driver", cfg.Database.Driver)

	db, err := openDB(cmd.Context(), cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.Migrate(cmd.Context(), db); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
	return nil
}
