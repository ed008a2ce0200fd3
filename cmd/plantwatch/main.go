// Package main provides the plantwatch command: the HTTP service plus
// one-shot day and export commands against the same cache and upstream.
package main

import (
	"fmt"
	"os"

	"github.com/Sternrassler/plantwatch/pkg/config"
	"github.com/Sternrassler/plantwatch/pkg/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Global flags
var (
	configPath string
	logLevel   string
	logPretty  bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "plantwatch",
		Short:         "Solar plant monitoring backend",
		Long:          `plantwatch proxies a plant-telemetry API, caches per-day telemetry and exports it as CSV or XLSX.`,
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides config")
	root.PersistentFlags().BoolVar(&logPretty, "pretty", false, "Human-readable console logs")

	root.AddCommand(newServeCmd())
	root.AddCommand(newDayCmd())
	root.AddCommand(newExportCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// loadConfig reads the config file and environment and sets up logging.
func loadConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logPretty {
		cfg.Log.Pretty = true
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: cmd.ErrOrStderr(),
	})
	return cfg, logger, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
