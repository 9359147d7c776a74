package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrapeflow/internal/client"
	"github.com/JakeFAU/scrapeflow/internal/config"
)

// clientFlags are shared by the commands that talk to a running server.
type clientFlags struct {
	server string
	token  string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", "", "server base URL (overrides poller.server_url)")
	cmd.Flags().StringVar(&f.token, "token", "", "bearer credential (overrides poller.token)")
}

func (f *clientFlags) newClient(cmd *cobra.Command, cfg *config.Config, logger *zap.Logger) (*client.Client, error) {
	serverURL, token := cfg.Poller.ServerURL, cfg.Poller.Token
	if cmd.Flags().Changed("server") {
		serverURL = f.server
	}
	if cmd.Flags().Changed("token") {
		token = f.token
	}
	c, err := client.New(serverURL, token, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("init client: %w", err)
	}
	return c, nil
}
