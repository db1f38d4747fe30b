package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cdcrelay/internal/engine"
	"cdcrelay/internal/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the relay until SIGINT or SIGTERM",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := engine.Bootstrap(ctx, cfg)
		if err != nil {
			return err
		}
		if err := e.Run(ctx); err != nil {
			return err
		}
		logging.L().Info("relay stopped")
		return nil
	},
}
