// Package commands provides the CLI commands for pincer.
package commands

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pincersec/pincer/internal/config"
	"github.com/pincersec/pincer/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	logLevel   string
	logPretty  bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "pincer",
	Short: "pincer - sandboxed security tool orchestrator",
	Long: `Pincer runs security tooling inside throwaway containers and gates
every invocation behind an operator approval workflow.

Run 'pincer serve' to start the control API, 'pincer tools' to inspect
the tool catalog, or 'pincer call' for a one-shot tool invocation.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Missing .env is the normal case.
		godotenv.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "log-pretty", false, "Human-readable console logs")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.SetVersionTemplate(fmt.Sprintf("pincer %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(callCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads the configuration and initializes logging. CLI flags
// win over config file values.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("log-pretty") {
		cfg.Log.Pretty = logPretty
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(cfg.Log.Level)
	logCfg.Pretty = cfg.Log.Pretty
	logging.Init(logCfg)

	return cfg, nil
}
