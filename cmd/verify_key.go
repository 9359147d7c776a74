package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVerifyKeyCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "verify-key <api-key>",
		Short: "Resolve the user an API key belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			logger, err := clientLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			cl, err := flags.newClient(cmd, cfg, logger)
			if err != nil {
				return err
			}
			owner, err := cl.VerifyKey(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("verify key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), owner)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
