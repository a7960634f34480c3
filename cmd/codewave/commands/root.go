// Package commands provides the CLI commands for the Codewave backend.
package commands

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/codewave-dev/codewave/internal/config"
	"github.com/codewave-dev/codewave/internal/logging"
	"github.com/codewave-dev/codewave/pkg/types"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	logLevel  string
	logPretty bool
	dataDir   string
)

var rootCmd = &cobra.Command{
	Use:   "codewave",
	Short: "Codewave - collaborative development environment backend",
	Long: `Codewave is the backend for a multi-user cloud development
environment: realtime document synchronization plus queue-driven
command execution.

Run 'codewave serve' to start the realtime gateway, 'codewave worker'
to consume the command queue, or 'codewave orchestrate' to autoscale
the worker fleet.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "log-pretty", false, "Human-readable log output")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory for the object store and queue")

	rootCmd.SetVersionTemplate(fmt.Sprintf("codewave %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(orchestrateCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads layered configuration and initializes logging from it
// plus any overriding flags.
func loadConfig() (*types.Config, error) {
	// Optional .env file for local development.
	godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		return nil, err
	}

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logPretty {
		cfg.LogPretty = true
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(cfg.LogLevel)
	logCfg.Pretty = cfg.LogPretty
	logging.Init(logCfg)

	return cfg, nil
}
