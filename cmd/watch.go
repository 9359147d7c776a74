package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrapeflow/internal/poller"
)

type watchOptions struct {
	clientFlags
	interval    time.Duration
	maxAttempts int
	exportPath  string
	quiet       bool
}

func newWatchCmd() *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch <url>",
		Short: "Submit a URL and poll the crawl task until it finishes",
		Long: `Submits the URL to a running scrapeflow server, then polls the task status
at a fixed interval until the task completes, fails, or the attempt cap is
reached. With --export the finished task's pages are written to a JSON file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, args[0])
		},
	}
	opts.register(cmd)
	cmd.Flags().DurationVar(&opts.interval, "interval", poller.DefaultInterval, "delay between status polls (overrides poller.interval)")
	cmd.Flags().IntVar(&opts.maxAttempts, "max-attempts", poller.DefaultMaxAttempts, "status polls before giving up (overrides poller.max_attempts)")
	cmd.Flags().StringVar(&opts.exportPath, "export", "", "write the finished task's pages to this file")
	cmd.Flags().BoolVar(&opts.quiet, "quiet", false, "disable the progress spinner")
	return cmd
}

func runWatch(cmd *cobra.Command, opts *watchOptions, rawURL string) error {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	logger, err := clientLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cl, err := opts.newClient(cmd, cfg, logger)
	if err != nil {
		return err
	}

	pcfg := poller.Config{Interval: cfg.Poller.Interval, MaxAttempts: cfg.Poller.MaxAttempts}
	if cmd.Flags().Changed("interval") {
		pcfg.Interval = opts.interval
	}
	if cmd.Flags().Changed("max-attempts") {
		pcfg.MaxAttempts = opts.maxAttempts
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var spin *spinner.Spinner
	if !opts.quiet {
		spin = spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
		spin.Suffix = " submitting " + rawURL
		spin.Start()
	}
	observer := func(evt poller.Event) {
		if spin == nil {
			return
		}
		spin.Lock()
		spin.Suffix = describeEvent(evt, pcfg.MaxAttempts)
		spin.Unlock()
	}

	out, runErr := poller.New(cl, pcfg, observer, logger).Run(ctx, rawURL)
	if spin != nil {
		spin.Stop()
	}

	w := cmd.OutOrStdout()
	if out.State != poller.Succeeded {
		if runErr == nil {
			runErr = errors.New(out.State.String())
		}
		if out.TaskID != "" {
			return fmt.Errorf("task %s %s: %w", out.TaskID, out.State, runErr)
		}
		return fmt.Errorf("submit %s: %w", rawURL, runErr)
	}

	pages := 0
	if out.Snapshot != nil {
		pages = len(out.Snapshot.Items)
	}
	fmt.Fprintf(w, "task %s completed: %d pages after %d polls\n", out.TaskID, pages, out.Attempts)

	if opts.exportPath == "" {
		return nil
	}
	f, err := os.Create(opts.exportPath)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := cl.Export(ctx, out.TaskID, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("export task %s: %w", out.TaskID, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}
	logger.Info("export written", zap.String("task_id", out.TaskID), zap.String("path", opts.exportPath))
	fmt.Fprintf(w, "export written to %s\n", opts.exportPath)
	return nil
}

func describeEvent(evt poller.Event, maxAttempts int) string {
	switch {
	case evt.State == poller.Submitting:
		return " submitting"
	case evt.Err != nil:
		return fmt.Sprintf(" task %s: poll %d/%d failed: %v", evt.TaskID, evt.Attempt, maxAttempts, evt.Err)
	case evt.Snapshot != nil:
		t := evt.Snapshot.Task
		return fmt.Sprintf(" task %s: %s, %d/%d pages (poll %d/%d)", evt.TaskID, t.Status, t.Completed, t.Total, evt.Attempt, maxAttempts)
	default:
		return fmt.Sprintf(" task %s: %s", evt.TaskID, evt.State)
	}
}
