package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newEnrichCommand(configFlag *string) *cobra.Command {
	var overrides []string
	var metadataOnly bool

	cmd := &cobra.Command{
		Use:   "enrich <item-id>",
		Short: "Enrich one item synchronously and print the outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid item id %q: %w", args[0], err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configFlag)
			if err != nil {
				return err
			}
			defer a.Close()

			outcome, err := a.enrichHandler().Run(ctx, itemID, overrides, metadataOnly)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(outcome)
		},
	}
	cmd.Flags().StringSliceVar(&overrides, "override", nil, "Fields to refresh even when locked (\"*\" for all)")
	cmd.Flags().BoolVar(&metadataOnly, "metadata-only", false, "Skip media analysis follow-up jobs")
	return cmd
}
