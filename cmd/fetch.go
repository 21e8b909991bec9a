// Package cmd defines and implements the CLI commands for the census-crawler executable.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newFetchCmd creates the 'fetch' subcommand.
func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Downloads and caches the census profile of every visitor home area",
		Long: `Reads the SafeGraph weekly patterns table, derives one census profile id per
visitor home block group and downloads every profile not already in the cache
directory. Malformed ids and unparsable API responses are logged and skipped;
transport failures stop the run.`,
		Args: cobra.NoArgs,
		RunE: withApp(runFetch),
	}
}

func runFetch(ctx context.Context, appInstance App) error {
	res, err := appInstance.RunFetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	appInstance.GetLogger().Info("fetch command finished",
		zap.Int("fetched", res.Fetched),
		zap.Int("cache_size", res.Cache.Len()),
	)
	return nil
}
