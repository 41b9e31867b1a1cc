package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/datallboy/mediafetch/internal/api"
	"github.com/datallboy/mediafetch/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the acquisition queue behind the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadEnvironment()
			if err != nil {
				return err
			}
			defer log.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.NewContext(ctx, cfg, log, app.Options{ResumeJobs: true})
			if err != nil {
				return err
			}
			defer a.Close()

			e := echo.New()
			api.RegisterRoutes(e, a)

			srv := &http.Server{
				Addr:        ":" + cfg.Port,
				Handler:     e,
				ReadTimeout: 30 * time.Second,
				IdleTimeout: 120 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return a.Queue.Start(gctx)
			})
			g.Go(func() error {
				log.Info("Server listening on :%s (capture enabled: %t)", cfg.Port, a.CaptureEnabled)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Info("Shutting down server...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			return g.Wait()
		},
	}
}
