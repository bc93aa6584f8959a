package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/devmehmetakifv/gem5-pipeline/sweep"
)

var (
	configPath string // Path to config.yaml
	logLevel   string // Log verbosity level
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "gem5-pipeline",
	Short: "Parameter sweep harness for gem5 architectural simulations",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads and resolves config.yaml, exiting on failure.
func loadConfig() *sweep.Config {
	cfg, err := sweep.LoadConfig(configPath)
	if err != nil {
		logrus.Fatalf("Could not load config: %v", err)
	}
	return cfg
}

// loadSpace loads the configuration space next to config.yaml.
func loadSpace(cfg *sweep.Config) *sweep.Space {
	space, err := sweep.LoadSpace(cfg.SpacePath())
	if err != nil {
		logrus.Fatalf("Could not load configuration space: %v", err)
	}
	return space
}

// init sets up persistent CLI flags
func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to the pipeline config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
}
