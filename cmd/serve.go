package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/scrapeflow/internal/server"
)

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the crawl task HTTP API",
		Long: `Starts the HTTP API. Submissions are authenticated, forwarded to the
configured crawl provider and recorded in the task store. The process drains
in-flight requests on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			app, err := server.Build(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			if err := app.Run(cmd.Context()); err != nil {
				return fmt.Errorf("run server: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 8080, "listen port (overrides server.port)")
	return cmd
}
