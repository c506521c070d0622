// Package cmd defines the b3data command line interface.
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

	"github.com/JakeFAU/b3-market-data/internal/api"
	"github.com/JakeFAU/b3-market-data/internal/app"
	"github.com/JakeFAU/b3-market-data/internal/config"
	"github.com/JakeFAU/b3-market-data/internal/loader"
	"github.com/JakeFAU/b3-market-data/internal/market"
	"github.com/JakeFAU/b3-market-data/internal/pipeline"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the set of services the commands use.
type App interface {
	GetConfig() config.Config
	GetLogger() *zap.Logger
	NewPipeline(ctx context.Context, progress market.Progress) (*pipeline.Pipeline, error)
	NewLoader(ctx context.Context, progress market.Progress, reset bool) (*loader.Loader, error)
	NewServer(ctx context.Context) (*api.Server, error)
	StartMetricsServer(addr string) (string, error)
	Close()
}

// newApp is the application factory. Tests replace it.
var newApp = func(_ context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return app.New(cfg, nil)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "b3data",
		Short: "Download and serve B3 historical trade data.",
		Long: `b3data retrieves the daily trade archives published on the B3 quotes
portal, unpacks the trade files, loads them into Postgres and serves
per-ticker summaries over HTTP.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newLoadCmd())
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

// Execute runs the root command until it finishes or the process receives
// SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "b3data:", err)
		os.Exit(1)
	}
}
