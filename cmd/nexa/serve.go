package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand(configFlag *string) *cobra.Command {
	var httpOnly bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, unless another worker owns the data dir, the queue worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configFlag)
			if err != nil {
				return err
			}
			defer a.Close()

			if !httpOnly {
				lock, err := a.workerLock()
				if err != nil {
					a.logger.Warn("queue worker not started", zap.Error(err))
				} else {
					defer lock.Unlock()
					a.registerHandlers()
					if err := a.queue.Start(); err != nil {
						return err
					}
					refresh, err := a.refreshScheduler()
					if err != nil {
						return err
					}
					if refresh != nil {
						refresh.Start(ctx)
						defer refresh.Stop()
					}
				}
			}

			httpServer := &http.Server{
				Addr:              ":" + strconv.Itoa(a.cfg.Server.Port),
				Handler:           a.server(),
				ReadHeaderTimeout: 15 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("listening", zap.String("addr", httpServer.Addr))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&httpOnly, "http-only", false, "Do not consume the job queue")
	return cmd
}
