package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-books-must-balance/internal/policy"
)

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and control automation policies",
	}

	cmd.AddCommand(policyShowCmd())
	cmd.AddCommand(policySetCmd("enable", "Enable auto-apply for a provider group", true))
	cmd.AddCommand(policySetCmd("disable", "Disable auto-apply for a provider group", false))

	return cmd
}

func policyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <group>...",
		Short: "Show policy state and acceptance stats",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := slog.Default()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			manager := policy.NewManager(store, logger)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "GROUP\tSTATE\tSUGGESTED\tACCEPTED\tMODIFIED\tSKIPPED\tRATIO")
			for _, group := range args {
				pol, getErr := manager.Get(ctx, group)
				if getErr != nil {
					return getErr
				}
				win := pol.Window
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%.2f\n",
					group, pol.State,
					win.Suggested, win.AcceptedUnmodified, win.AcceptedModified, win.Skipped,
					win.AcceptanceRatio())
			}
			return w.Flush()
		},
	}
}

func policySetCmd(use, short string, enable bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <group>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := slog.Default()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			manager := policy.NewManager(store, logger)

			group := args[0]
			if enable {
				if err := manager.ConfirmAuto(ctx, group); err != nil {
					return err
				}
				fmt.Printf("Auto-apply enabled for %s.\n", group)
				return nil
			}
			if err := manager.Disable(ctx, group); err != nil {
				return err
			}
			fmt.Printf("Auto-apply disabled for %s; acceptance window reset.\n", group)
			return nil
		},
	}
}
