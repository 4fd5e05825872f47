package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Kerhoff/wishsync/internal/config"
	"github.com/Kerhoff/wishsync/internal/repository/postgres"
)

var confirmCmd = &cobra.Command{
	Use:   "confirm <email>",
	Short: "Mark an account's email address as verified",
	Args:  cobra.ExactArgs(1),
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

		ctx := context.Background()
		email := strings.TrimSpace(strings.ToLower(args[0]))
		accounts := postgres.NewAccountRepository(db.DB)
		account, err := accounts.GetByEmail(ctx, email)
		if err != nil {
			return err
		}
		if account == nil {
			return fmt.Errorf("no account registered for %s", email)
		}
		if account.EmailConfirmedAt != nil {
			l.WithField("user_id", account.ID).Info("Email already verified")
			return nil
		}

		if _, err := accounts.ConfirmEmail(ctx, account.ID); err != nil {
			return err
		}
		l.WithField("user_id", account.ID).Info("Email verified")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(confirmCmd)
}
