package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Kerhoff/wishsync/internal/collab"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the websocket relay collaborators meet on",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, l, err := setup()
		if err != nil {
			return err
		}

		relay := collab.NewRelay(cfg.RelayPort, l)
		if err := relay.Start(); err != nil {
			return err
		}
		l.Infof("Relay listening on %s", relay.Addr())

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		l.Info("Received shutdown signal...")
		return relay.Stop()
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)
}
