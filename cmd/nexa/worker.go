package main

import (
	"github.com/spf13/cobra"
)

func newWorkerCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume enrichment and media analysis jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configFlag)
			if err != nil {
				return err
			}
			defer a.Close()

			lock, err := a.workerLock()
			if err != nil {
				return err
			}
			defer lock.Unlock()

			refresh, err := a.refreshScheduler()
			if err != nil {
				return err
			}
			if refresh != nil {
				refresh.Start(cmd.Context())
				defer refresh.Stop()
			}

			a.registerHandlers()
			// Run blocks until SIGINT or SIGTERM.
			return a.queue.Run()
		},
	}
}
