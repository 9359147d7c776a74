package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/scrapeflow/internal/status"
)

func newTasksCmd() *cobra.Command {
	var flags clientFlags
	var limit int
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List your most recent crawl tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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
			tasks, err := cl.Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tPAGES\tCREATED\tURL")
			for _, t := range tasks {
				fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\n",
					t.ID, t.Status, t.Completed, t.Total, t.CreatedAt.Format(time.RFC3339), t.URL)
			}
			if err := tw.Flush(); err != nil {
				return fmt.Errorf("write table: %w", err)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", status.DefaultRecentLimit, "number of tasks to list")
	return cmd
}
