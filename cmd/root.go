// Package cmd defines and implements the CLI commands for the scrapeflow executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrapeflow/internal/config"
	"github.com/JakeFAU/scrapeflow/internal/logging"
)

// configKeyType is the key for storing the loaded Config in the context.
type configKeyType string

const configKey configKeyType = "config"

// loadConfig is a variable so tests can inject a config without touching
// the environment.
var loadConfig = config.Load

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "scrapeflow",
		Short: "Submit website crawls to a crawl provider and track them to completion.",
		Long: `scrapeflow runs the crawl task API and the client that drives it.

"serve" accepts authenticated crawl submissions, forwards them to the configured
crawl provider and stores the task and its scraped pages. "watch" submits a URL
to a running server and polls the task until it finishes.`,
		SilenceUsage: true,

		// Loads config before any subcommand so each one reads the same values.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, &cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); SCRAPEFLOW_* env vars override it")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newTasksCmd())
	cmd.AddCommand(newVerifyKeyCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func resolveConfig(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// clientLogger builds the logger for client-side commands. Client commands
// log at warn unless the config asks for more.
func clientLogger(cfg *config.Config) (*zap.Logger, error) {
	level := cfg.Logging.Level
	if level == "" || level == "info" {
		level = "warn"
	}
	logger, err := logging.New(cfg.Logging.Development, level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}
