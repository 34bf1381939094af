package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-books-must-balance/internal/ledger"
)

func undoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undo <transaction-id>",
		Short: "Restore a transaction to its pre-split state",
		Long: `Reverse an applied split directly by ledger transaction ID. Unlike
"balance reply undo N" this works even after the suggestion batch that
referenced the transaction has been superseded, as long as the snapshot
is still stored.`,
		Args: cobra.ExactArgs(1),
		RunE: runUndo,
	}
}

func runUndo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := slog.Default()

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ledgerClient, err := initLedger(logger)
	if err != nil {
		return err
	}

	writer := ledger.NewWriter(ledgerClient, store, logger)
	if err := writer.Undo(ctx, args[0]); err != nil {
		return fmt.Errorf("undo failed: %w", err)
	}

	fmt.Printf("Restored %s to its original state.\n", args[0])
	return nil
}
