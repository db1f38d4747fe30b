package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cdcrelay/internal/config"
)

var version = "dev"

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "relay",
	Short:         "relay streams person change records between Kafka topics",
	Long:          `relay consumes person CDC records, maps them to the sink schema and produces them to the sink topic with at-least-once delivery.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "relay.yml", "config file (RELAY__* env vars override it)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "L", "", "override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd, configCmd, healthCmd)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cfg, fmt.Errorf("config %s: %w", cfgFile, err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}
