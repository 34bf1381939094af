package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-books-must-balance/internal/engine"
)

func replyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reply <text>...",
		Short: "Resolve a reply against the pending suggestion batch",
		Long: `Apply a reply the way the chat channel would:

  balance reply 3              accept suggestion 3 as proposed
  balance reply 3 Groceries    accept 3 with a different category
  balance reply skip 3         decline suggestion 3
  balance reply undo 2         reverse an applied split
  balance reply auto on        enable auto-apply`,
		Args: cobra.MinimumNArgs(1),
		RunE: runReply,
	}
}

func runReply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := slog.Default()

	eng, store, err := initEngine(ctx, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	text := strings.Join(args, " ")
	response, err := eng.HandleReply(ctx, text)
	if err != nil {
		if errors.Is(err, engine.ErrNotOurs) {
			return fmt.Errorf("%q is not a suggestion action", text)
		}
		return err
	}

	fmt.Println(response)
	return nil
}
