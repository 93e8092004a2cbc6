package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentprovision/agentprovision/internal/db"
	"github.com/agentprovision/agentprovision/internal/logger"
)

var migrateSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back database migrations",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn, err := migrationDSN()
		if err != nil {
			return err
		}
		return db.MigrateUp(logger.L, dsn)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if migrateSteps <= 0 {
			return fmt.Errorf("--steps must be positive")
		}
		dsn, err := migrationDSN()
		if err != nil {
			return err
		}
		return db.MigrateDown(logger.L, dsn, migrateSteps)
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&migrateSteps, "steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

// migrationDSN loads config only for the database settings; the secret and
// vault key are not needed to migrate.
func migrationDSN() (string, error) {
	cfg, err := provideConfigUnchecked()
	if err != nil {
		return "", err
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	dsn := strings.TrimSpace(cfg.Postgres.DSN())
	if dsn == "" {
		return "", fmt.Errorf("postgres is not configured")
	}
	return dsn, nil
}
