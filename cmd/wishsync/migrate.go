package main

import (
	"github.com/spf13/cobra"

	"github.com/Kerhoff/wishsync/internal/config"
)

var migrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back the remote store schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, l, err := setup()
		if err != nil {
			return err
		}
		if err := cfg.ValidateMigrate(); err != nil {
			return err
		}

		db, err := config.NewDatabase(cfg.DatabaseURL, l)
		if err != nil {
			return err
		}
		defer db.Close()

		if migrateDown {
			return db.Rollback(cfg.MigrationsPath)
		}
		return db.Migrate(cfg.MigrationsPath)
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "roll back every migration")
	rootCmd.AddCommand(migrateCmd)
}
