// Package cmd defines the jobharvest CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobharvest/internal/app"
	"github.com/JakeFAU/jobharvest/internal/config"
	"github.com/JakeFAU/jobharvest/internal/crawler"
	"github.com/JakeFAU/jobharvest/internal/logging"
	"github.com/JakeFAU/jobharvest/internal/schedule"
)

// Version is stamped at build time.
var Version = "dev"

type appKeyType string

const appKey appKeyType = "app"

// App is the part of the application container the commands use. Tests
// swap in a fake through newApp.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Store() crawler.JobStore
	Runner() *schedule.Runner
	Ready(ctx context.Context) error
	StartBackground(ctx context.Context)
	Close(ctx context.Context)
}

var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, app.Options{Logger: logger, Version: Version})
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "jobharvest",
		Short: "Scans employer job boards and keeps the postings worth reading.",
		Long: `jobharvest scans career sites and job aggregators, drops postings that
match the keyword denylist, stores the rest once per job id and can classify
and email the relevant ones after every run.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
				Service:     cfg.Tracing.ServiceName,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close(context.WithoutCancel(cmd.Context()))
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./jobharvest.yaml, /etc/jobharvest, $HOME/.jobharvest)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
