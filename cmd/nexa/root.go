package main

import (
	"github.com/spf13/cobra"

	"github.com/nexamediaserver/server-sub005/internal/version"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "nexa",
		Short:         "Nexa media metadata and artwork server",
		Version:       version.Load().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (defaults to $NEXA_CONFIG)")

	rootCmd.AddCommand(newServeCommand(&configFlag))
	rootCmd.AddCommand(newWorkerCommand(&configFlag))
	rootCmd.AddCommand(newEnrichCommand(&configFlag))
	return rootCmd
}
