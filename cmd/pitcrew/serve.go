package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/pitcrew"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine and the HTTP status API",
	Long: `Starts the bus, the timeout watchdog and the workflow engine, and serves
the status API (workflows, statistics, bus audit, /metrics) until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		sys, err := pitcrew.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize pitcrew: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return sys.Run(gctx) })

		if cfg.HTTP.Address != "" {
			api := sys.HTTPServer()
			defer api.Close()

			srv := &http.Server{
				Addr:              cfg.HTTP.Address,
				Handler:           api.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			g.Go(func() error {
				sys.Logger.Info("HTTP server listening", "address", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					sys.Logger.Warn("graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
					return srv.Close()
				}
				return nil
			})
		}

		err = g.Wait()
		sys.Logger.Info("pitcrew stopped")
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "HTTP listen address (overrides http.address)")
	serveCmd.Flags().Int("workers", 0, "number of engine workers (overrides engine.workers)")
	bindFlag("http.address", serveCmd, "addr")
	bindFlag("engine.workers", serveCmd, "workers")
}
