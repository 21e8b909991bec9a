// Package fetcher implements the fetch-and-cache stage: it walks the visitor
// maps of the source table, derives one census profile id per geo unit and
// downloads every profile that is not cached yet.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/census"
	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/metrics"
	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/statcan"
)

// ErrTransport marks failures talking to the API or the cache. It aborts the run.
var ErrTransport = errors.New("census api transport failure")

// ProfileSource downloads a census profile.
type ProfileSource interface {
	FetchProfile(ctx context.Context, id census.ProfileID) (*census.Profile, error)
}

// ProfileSink persists a downloaded profile and returns where it was written.
type ProfileSink interface {
	Put(ctx context.Context, profile *census.Profile) (string, error)
}

// Config controls Fetcher behavior.
type Config struct {
	// DGUIDPrefix is prepended to each area code; defaults to census.DefaultProfilePrefix.
	DGUIDPrefix string
}

// Result summarizes one run. Cache is the grown cache set.
type Result struct {
	Cache        census.CacheSet
	Records      int
	Keys         int
	Fetched      int
	Cached       int
	MalformedIDs int
	Unparsable   int
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Fetcher downloads missing profiles one at a time.
type Fetcher struct {
	source  ProfileSource
	sink    ProfileSink
	clock   clockwork.Clock
	metrics *metrics.Metrics
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Fetcher. A nil clock uses the real clock; nil metrics and
// logger disable instrumentation.
func New(
	source ProfileSource,
	sink ProfileSink,
	clock clockwork.Clock,
	m *metrics.Metrics,
	cfg Config,
	logger *zap.Logger,
) *Fetcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DGUIDPrefix == "" {
		cfg.DGUIDPrefix = census.DefaultProfilePrefix
	}
	return &Fetcher{
		source:  source,
		sink:    sink,
		clock:   clock,
		metrics: m,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run processes records in order and, within a record, geo unit keys in the
// order they appeared in the visitor map. The cached set is not modified; the
// grown set is returned in Result.Cache.
func (f *Fetcher) Run(ctx context.Context, records []census.VisitRecord, cached census.CacheSet) (Result, error) {
	res := Result{
		Cache:     cached.Clone(),
		Records:   len(records),
		StartedAt: f.clock.Now(),
	}
	if res.Cache == nil {
		res.Cache = census.NewCacheSet()
	}

	f.logger.Info("fetch started",
		zap.Int("records", len(records)),
		zap.Int("cache_size", res.Cache.Len()),
	)

	for i, rec := range records {
		for _, visitor := range rec.VisitorHomeCBGs {
			res.Keys++
			if err := f.processKey(ctx, i, len(records), rec, visitor.GeoUnitID, &res); err != nil {
				res.FinishedAt = f.clock.Now()
				return res, err
			}
		}
	}

	res.FinishedAt = f.clock.Now()
	f.metrics.MarkSuccess(metrics.StageFetch, res.FinishedAt)
	f.logger.Info("fetch finished",
		zap.Int("keys", res.Keys),
		zap.Int("fetched", res.Fetched),
		zap.Int("cached", res.Cached),
		zap.Int("malformed_ids", res.MalformedIDs),
		zap.Int("unparsable", res.Unparsable),
		zap.Int("cache_size", res.Cache.Len()),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
	)
	return res, nil
}

func (f *Fetcher) processKey(
	ctx context.Context,
	pos, total int,
	rec census.VisitRecord,
	geoUnitID string,
	res *Result,
) error {
	if err := ctx.Err(); err != nil {
		f.metrics.ObserveFetch(metrics.OutcomeTransportError)
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	area, err := census.ParseGeoUnitID(geoUnitID)
	if err != nil {
		res.MalformedIDs++
		f.metrics.ObserveFetch(metrics.OutcomeMalformedID)
		f.logger.Warn("malformed geo unit id",
			zap.Int("row", rec.Row),
			zap.String("cbg", geoUnitID),
			zap.Error(err),
		)
		return nil
	}

	id := census.NewProfileID(f.cfg.DGUIDPrefix, area)
	if res.Cache.Has(id) {
		res.Cached++
		f.metrics.ObserveFetch(metrics.OutcomeCached)
		f.logger.Debug("profile already cached", zap.Int("row", rec.Row), zap.String("dguid", id.String()))
		return nil
	}

	start := f.clock.Now()
	profile, err := f.source.FetchProfile(ctx, id)
	f.metrics.ObserveAPIRequest(f.clock.Since(start))
	if err != nil {
		if errors.Is(err, statcan.ErrUnparsableResponse) {
			res.Unparsable++
			f.metrics.ObserveFetch(metrics.OutcomeUnparsable)
			f.logger.Warn("unparsable census profile response",
				zap.Int("row", rec.Row),
				zap.String("dguid", id.String()),
				zap.Error(err),
			)
			return nil
		}
		f.metrics.ObserveFetch(metrics.OutcomeTransportError)
		return fmt.Errorf("%w: fetch %s: %w", ErrTransport, id, err)
	}

	path, err := f.sink.Put(ctx, profile)
	if err != nil {
		return fmt.Errorf("cache profile %s: %w", id, err)
	}
	res.Cache.Add(id)
	res.Fetched++
	f.metrics.ObserveFetch(metrics.OutcomeFetched)
	f.logger.Info("profile cached",
		zap.String("progress", fmt.Sprintf("%d/%d", pos+1, total)),
		zap.Int("row", rec.Row),
		zap.String("poi_id", rec.PlaceID),
		zap.String("cbg", geoUnitID),
		zap.String("path", path),
		zap.Int("cache_size", res.Cache.Len()),
	)
	return nil
}
