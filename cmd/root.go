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

	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/aggregator"
	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/app"
	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/config"
	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/fetcher"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use, so tests can
// inject a fake.
type App interface {
	Close()
	GetLogger() *zap.Logger
	RunFetch(ctx context.Context) (fetcher.Result, error)
	RunAggregate(ctx context.Context) (aggregator.Result, error)
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(path string) (App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.NewApp(cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "census-crawler",
		Short: "Fetches 2016 Census Profiles for SafeGraph visitor home areas and flattens them.",
		Long: `census-crawler resolves the census block groups named in SafeGraph weekly
patterns, downloads each group's 2016 Census Profile from the Statistics Canada
API into a local cache, and flattens the cache into one indicator table.

Run "fetch" first, then "aggregate". Both stages can be re-run safely: fetch
skips profiles already cached and aggregate rewrites its output.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Build the application after flags are parsed and before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml, /etc/census-crawler or $HOME/.census-crawler)")

	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newAggregateCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp resolves the App for a subcommand and closes it when the stage
// returns, whether or not it failed.
func withApp(run func(ctx context.Context, appInstance App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer appInstance.Close()
		return run(cmd.Context(), appInstance)
	}
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running stage.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logger, lerr := zap.NewProduction()
		if lerr != nil {
			fmt.Fprintf(os.Stderr, "command execution failed: %v\n", err)
			os.Exit(1)
		}
		logger.Error("command execution failed", zap.Error(err))
		_ = logger.Sync()
		stop()
		os.Exit(1)
	}
}
