package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Kerhoff/wishsync/internal/config"
	"github.com/Kerhoff/wishsync/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "wishsync",
	Short: "Wishlist sync agent",
	Long: `wishsync keeps wishlists and wishes in a local cache, synchronizes them
with the remote store and shares open lists with collaborators in realtime.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger every command uses
func setup() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, logger.New(cfg.LogLevel, cfg.LogFormat), nil
}
