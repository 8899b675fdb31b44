package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if err := ensureDatabase(cfg.Database); err != nil {
			return err
		}
		if err := runMigrations(cfg); err != nil {
			return err
		}

		log.Info().Msg("Migrations applied")
		return nil
	},
}
