package main

import (
	"fmt"
	"io"

	"chat-relay/internal/config"
	"chat-relay/internal/infrastructure/database"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the chat tables",
		Long:  "Creates the chat_sessions and chat_messages tables in DB_CONNECTION_STRING. Safe to run multiple times.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.OutOrStdout(), config.LoadConfig())
		},
	}
}

func runMigrate(out io.Writer, cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseDSN, false)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer closeDB(db)

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintln(out, "Migrations applied.")
	return nil
}
