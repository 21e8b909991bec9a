// Package app initializes and holds long-lived services for one CLI run,
// acting as a dependency injection container for the fetch and aggregate stages.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/aggregator"
	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/census"
	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/config"
	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/export/gcs"
	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/export/postgres"
	pubsubexport "github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/export/pubsub"
	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/fetcher"
	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/id/uuid"
	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/logging"
	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/metrics"
	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/profilecache"
	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/statcan"
	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/visits"
)

// App holds the shared services for one process.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	clock   clockwork.Clock
	runID   string

	extraExporters []aggregator.Exporter
	notifier       aggregator.Notifier
	storageOpts    []option.ClientOption
	pubsubOpts     []option.ClientOption

	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// Option customizes an App, mainly for tests.
type Option func(*App)

// WithLogger replaces the logger built from config.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithClock replaces the real clock.
func WithClock(clock clockwork.Clock) Option {
	return func(a *App) { a.clock = clock }
}

// WithExporter adds a sink that runs after the configured ones.
func WithExporter(exp aggregator.Exporter) Option {
	return func(a *App) { a.extraExporters = append(a.extraExporters, exp) }
}

// WithNotifier replaces the Pub/Sub notifier.
func WithNotifier(n aggregator.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithStorageOptions passes client options to the GCS client.
func WithStorageOptions(opts ...option.ClientOption) Option {
	return func(a *App) { a.storageOpts = append(a.storageOpts, opts...) }
}

// WithPubSubOptions passes client options to the Pub/Sub client.
func WithPubSubOptions(opts ...option.ClientOption) Option {
	return func(a *App) { a.pubsubOpts = append(a.pubsubOpts, opts...) }
}

// NewApp builds the logger, metrics registry and run id for one CLI run.
// Stage dependencies are built lazily by RunFetch and RunAggregate so a fetch
// run never dials the export sinks.
func NewApp(cfg config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, metrics: metrics.New(), clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(a)
	}

	if a.logger == nil {
		logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
		a.logger = logger
	}

	runID, err := uuid.NewUUIDGenerator().NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	a.runID = runID
	a.logger = a.logger.With(zap.String("run_id", runID))
	return a, nil
}

// GetLogger returns the run-scoped logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetMetrics returns the run's metrics registry.
func (a *App) GetMetrics() *metrics.Metrics {
	return a.metrics
}

// RunID returns the UUIDv7 identifying this process run.
func (a *App) RunID() string {
	return a.runID
}

func (a *App) store() (*profilecache.Store, error) {
	store, err := profilecache.New(profilecache.Config{
		Dir:          a.cfg.Cache.Dir,
		CombinedFile: a.cfg.Cache.CombinedFile,
	})
	if err != nil {
		return nil, fmt.Errorf("init profile cache: %w", err)
	}
	return store, nil
}

// RunFetch reads the source table, seeds the cache set from disk and
// downloads every profile not cached yet.
func (a *App) RunFetch(ctx context.Context) (fetcher.Result, error) {
	logger := a.logger.Named("fetch")

	table, err := visits.ReadFile(a.cfg.Source.Path, logger.Named("source"))
	if err != nil {
		return fetcher.Result{}, err
	}
	a.metrics.ObserveSourceRows(len(table.Records), table.MalformedRows)
	logger.Info("source table loaded",
		zap.String("path", a.cfg.Source.Path),
		zap.Int("rows", table.TotalRows),
		zap.Int("malformed_rows", table.MalformedRows),
	)

	store, err := a.store()
	if err != nil {
		return fetcher.Result{}, err
	}
	seed, err := store.Seed()
	if err != nil {
		return fetcher.Result{}, err
	}

	client := statcan.New(statcan.Config{
		BaseURL:   a.cfg.API.BaseURL,
		UserAgent: a.cfg.API.UserAgent,
		Timeout:   a.cfg.APITimeout(),
	})
	f := fetcher.New(client, store, a.clock, a.metrics,
		fetcher.Config{DGUIDPrefix: a.cfg.API.DGUIDPrefix}, logger)
	return f.Run(ctx, table.Records, seed)
}

// RunAggregate flattens the cache into the combined table and ships it to
// every configured sink.
func (a *App) RunAggregate(ctx context.Context) (aggregator.Result, error) {
	logger := a.logger.Named("aggregate")

	policy, err := aggregator.ParsePolicy(a.cfg.Aggregate.OnLookupError)
	if err != nil {
		return aggregator.Result{}, err
	}
	crosswalk := census.DefaultCrosswalk()
	if a.cfg.Aggregate.CorrectedAgeBands {
		crosswalk = census.CorrectedAgeCrosswalk()
	}

	store, err := a.store()
	if err != nil {
		return aggregator.Result{}, err
	}
	exporters, err := a.exporters(ctx, logger)
	if err != nil {
		return aggregator.Result{}, err
	}
	notifier, err := a.buildNotifier(ctx, logger)
	if err != nil {
		return aggregator.Result{}, err
	}

	agg := aggregator.New(store, exporters, notifier, a.clock, a.metrics, aggregator.Config{
		Crosswalk: crosswalk,
		Policy:    policy,
		RunID:     a.runID,
	}, logger)
	return agg.Run(ctx)
}

func (a *App) exporters(ctx context.Context, logger *zap.Logger) ([]aggregator.Exporter, error) {
	var out []aggregator.Exporter

	if bucket := a.cfg.Export.GCS.Bucket; bucket != "" {
		client, err := storage.NewClient(ctx, a.storageOpts...)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.addCloser("gcs", client.Close)
		exp, err := gcs.New(client, gcs.Config{Bucket: bucket, Prefix: a.cfg.Export.GCS.Prefix})
		if err != nil {
			return nil, err
		}
		logger.Info("gcs export enabled", zap.String("bucket", bucket))
		out = append(out, exp)
	}

	if dsn := a.cfg.Export.Postgres.DSN; dsn != "" {
		exp, err := postgres.New(ctx, postgres.Config{DSN: dsn, Table: a.cfg.Export.Postgres.Table})
		if err != nil {
			return nil, err
		}
		a.addCloser("postgres", func() error { exp.Close(); return nil })
		logger.Info("postgres export enabled", zap.String("table", a.cfg.Export.Postgres.Table))
		out = append(out, exp)
	}

	return append(out, a.extraExporters...), nil
}

func (a *App) buildNotifier(ctx context.Context, logger *zap.Logger) (aggregator.Notifier, error) {
	if a.notifier != nil {
		return a.notifier, nil
	}
	ps := a.cfg.Export.PubSub
	if ps.ProjectID == "" || ps.Topic == "" {
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, ps.ProjectID, a.pubsubOpts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	a.addCloser("pubsub", client.Close)
	n := pubsubexport.New(client.Topic(ps.Topic))
	a.addCloser("pubsub topic", func() error { n.Stop(); return nil })
	logger.Info("pubsub notice enabled", zap.String("topic", ps.Topic))
	return n, nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Close releases clients in reverse creation order, writes the metrics
// textfile and flushes the logger.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("error closing client", zap.String("client", c.name), zap.Error(err))
		}
	}
	a.closers = nil

	if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		a.logger.Warn("error writing metrics textfile", zap.Error(err))
	}

	_ = a.logger.Sync() // fails on console sinks such as /dev/stderr
}
