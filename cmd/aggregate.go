package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newAggregateCmd creates the 'aggregate' subcommand.
func newAggregateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate",
		Short: "Flattens cached census profiles into one indicator table",
		Long: `Reads every cached profile, extracts the crosswalk indicators and writes the
combined table next to the cache. Configured GCS, Postgres and Pub/Sub sinks
run afterwards.`,
		Args: cobra.NoArgs,
		RunE: withApp(runAggregate),
	}
}

func runAggregate(ctx context.Context, appInstance App) error {
	res, err := appInstance.RunAggregate(ctx)
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	appInstance.GetLogger().Info("aggregate command finished",
		zap.String("output", res.OutputPath),
		zap.Int("rows", len(res.Table.Records)),
		zap.Int("blanked", res.Blanked),
	)
	return nil
}
