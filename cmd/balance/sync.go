package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation pass",
		Long: `Pull recent transactions from the ledger and purchase records from every
configured provider, match them, classify line items, and either apply
splits automatically or send suggestions to the configured channel.`,
		RunE: runSync,
	}

	cmd.Flags().Bool("quiet", false, "Suppress the progress bar")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	quiet, _ := cmd.Flags().GetBool("quiet")
	logger := slog.Default()

	eng, store, err := initEngine(ctx, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var bar *progressbar.ProgressBar
	progress := func(done, total int) {
		if quiet {
			return
		}
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetDescription("Reconciling transactions..."),
			)
		}
		_ = bar.Set(done)
	}

	stats, err := eng.Sync(ctx, progress)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return fmt.Errorf("sync pass failed: %w", err)
	}

	logger.Info("sync complete",
		"seen", stats.Seen,
		"matched", stats.Matched,
		"unmatched", stats.Unmatched,
		"suggested", stats.Suggested,
		"auto_applied", stats.AutoApplied,
		"refunds_found", stats.RefundsFound,
		"deferred", stats.Deferred,
		"duration", stats.Duration)
	return nil
}
