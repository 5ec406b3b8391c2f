// Package main implements the beacon CLI: a reference collector, a replay
// tool feeding recorded observations through a session, and a debug store
// inspector.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/beaconkit/beacon"
	"github.com/beaconkit/beacon/internal/config"
)

// configPath is the YAML file given with --config.
var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "beacon",
		Short: "Tools around the beacon telemetry delivery engine",
		Long: `beacon runs a reference collector, replays recorded observations through a
delivery session, and inspects debug stores.

Settings come from an optional YAML file (--config) and BEACON_* environment
variables, e.g. BEACON_ENDPOINT or BEACON_COLLECTOR_ADDR.`,
		Version:      beacon.Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.AddCommand(newCollectCmd(), newReplayCmd(), newInspectCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
