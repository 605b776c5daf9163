package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobharvest/internal/api"
	"github.com/JakeFAU/jobharvest/internal/schedule"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scans on a schedule",
		Long: `Starts the HTTP API (health, metrics, stored jobs and run control) and,
when schedule.enabled is set, triggers a pipeline run on the configured
cron spec. Only one run is in progress at a time.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), appInstance)
		},
	}
}

func serve(ctx context.Context, a App) error {
	cfg := a.Config()
	logger := a.Logger()

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	a.StartBackground(ctx)

	apiServer := api.NewServer(api.Deps{
		Jobs:       a.Store(),
		Runs:       a.Runner(),
		Ready:      a.Ready,
		RunContext: ctx,
	}, api.Config{
		APIKey:         cfg.Server.APIKey,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
	}, logger)

	var sched *schedule.Scheduler
	if cfg.Schedule.Enabled {
		s, err := schedule.New(cfg.Schedule.Cron, a.Runner(), logger)
		if err != nil {
			return fmt.Errorf("build scheduler: %w", err)
		}
		if err := s.Start(ctx, cfg.Schedule.RunNow); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		sched = s
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if sched != nil {
		sched.Stop(shutdownCtx)
	}
	a.Runner().Wait()

	if err := <-serveErr; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
