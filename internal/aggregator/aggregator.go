// Package aggregator implements the extract-and-flatten stage: every cached
// census profile becomes one row of the combined indicator table.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/census"
	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/metrics"
)

// Policy selects what happens when an indicator lookup fails.
type Policy string

const (
	// PolicyFail aborts the run on the first failed lookup.
	PolicyFail Policy = "fail"
	// PolicyBlank logs the failure and leaves the cell blank.
	PolicyBlank Policy = "blank"
)

// ParsePolicy validates a configured policy name. Empty means PolicyFail.
func ParsePolicy(raw string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PolicyFail:
		return PolicyFail, nil
	case PolicyBlank:
		return PolicyBlank, nil
	default:
		return "", fmt.Errorf("unknown lookup error policy %q", raw)
	}
}

// LookupError names the cached file and crosswalk entry a lookup failed for.
type LookupError struct {
	File  string
	Field string
	Theme string
	Codes []string
	Err   error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s: field %s (theme %q, codes %s): %v",
		e.File, e.Field, e.Theme, strings.Join(e.Codes, ","), e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// ProfileStore is the cache the aggregator reads from and writes its output to.
type ProfileStore interface {
	Keys() ([]string, error)
	Get(key string) (*census.Profile, error)
	PutCombined(ctx context.Context, table *census.CombinedTable) (string, error)
}

// Exporter ships the combined table somewhere beyond the local cache.
type Exporter interface {
	Name() string
	Export(ctx context.Context, table *census.CombinedTable, localPath string) (string, error)
}

// Notice announces a finished aggregate run.
type Notice struct {
	RunID       string    `json:"run_id"`
	Rows        int       `json:"rows"`
	Fields      []string  `json:"fields"`
	OutputPath  string    `json:"output_path"`
	ExportURIs  []string  `json:"export_uris,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Notifier publishes a Notice after every export succeeded.
type Notifier interface {
	Notify(ctx context.Context, notice Notice) error
}

// Config controls Aggregator behavior.
type Config struct {
	// Crosswalk defaults to census.DefaultCrosswalk().
	Crosswalk []census.Indicator
	Policy    Policy
	RunID     string
}

// Result summarizes one run.
type Result struct {
	Table      *census.CombinedTable
	OutputPath string
	ExportURIs []string
	Blanked    int
}

// Aggregator flattens cached profiles into a CombinedTable.
type Aggregator struct {
	store     ProfileStore
	exporters []Exporter
	notifier  Notifier
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Aggregator. exporters and notifier may be empty.
func New(
	store ProfileStore,
	exporters []Exporter,
	notifier Notifier,
	clock clockwork.Clock,
	m *metrics.Metrics,
	cfg Config,
	logger *zap.Logger,
) *Aggregator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Crosswalk) == 0 {
		cfg.Crosswalk = census.DefaultCrosswalk()
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyFail
	}
	return &Aggregator{
		store:     store,
		exporters: exporters,
		notifier:  notifier,
		clock:     clock,
		metrics:   m,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run extracts every cached profile in directory order, writes the combined
// table and hands it to the configured exporters.
func (a *Aggregator) Run(ctx context.Context) (Result, error) {
	for _, group := range census.DuplicateBindings(a.cfg.Crosswalk) {
		a.logger.Warn("crosswalk fields share one indicator binding", zap.Strings("fields", group))
	}

	keys, err := a.store.Keys()
	if err != nil {
		return Result{}, fmt.Errorf("list cached profiles: %w", err)
	}
	a.logger.Info("aggregate started", zap.Int("profiles", len(keys)), zap.String("policy", string(a.cfg.Policy)))

	table := &census.CombinedTable{
		Fields:  census.Fields(a.cfg.Crosswalk),
		Records: make([]census.IndicatorRecord, 0, len(keys)),
	}
	var res Result
	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		profile, err := a.store.Get(key)
		if err != nil {
			return res, fmt.Errorf("read cached profile: %w", err)
		}
		rec, blanked, err := a.extract(key, profile)
		if err != nil {
			return res, err
		}
		res.Blanked += blanked
		table.Records = append(table.Records, rec)
		a.metrics.ObserveExtracted()
		a.logger.Info("profile extracted",
			zap.String("progress", fmt.Sprintf("%d/%d", i+1, len(keys))),
			zap.String("key", key),
		)
	}

	table.GeneratedAt = a.clock.Now()
	res.Table = table
	res.OutputPath, err = a.store.PutCombined(ctx, table)
	if err != nil {
		return res, fmt.Errorf("write combined table: %w", err)
	}
	a.logger.Info("combined table written", zap.String("path", res.OutputPath), zap.Int("rows", len(table.Records)))

	for _, exp := range a.exporters {
		uri, err := exp.Export(ctx, table, res.OutputPath)
		a.metrics.ObserveExport(exp.Name(), err)
		if err != nil {
			return res, fmt.Errorf("export %s: %w", exp.Name(), err)
		}
		a.logger.Info("combined table exported", zap.String("sink", exp.Name()), zap.String("uri", uri))
		res.ExportURIs = append(res.ExportURIs, uri)
	}

	if a.notifier != nil {
		notice := Notice{
			RunID:       a.cfg.RunID,
			Rows:        len(table.Records),
			Fields:      table.Fields,
			OutputPath:  res.OutputPath,
			ExportURIs:  res.ExportURIs,
			GeneratedAt: table.GeneratedAt,
		}
		if err := a.notifier.Notify(ctx, notice); err != nil {
			return res, fmt.Errorf("publish completion notice: %w", err)
		}
	}

	a.metrics.MarkSuccess(metrics.StageAggregate, a.clock.Now())
	return res, nil
}

func (a *Aggregator) extract(key string, profile *census.Profile) (census.IndicatorRecord, int, error) {
	geoUID, geoID, err := profile.Identity()
	if err != nil {
		return census.IndicatorRecord{}, 0, fmt.Errorf("%s: %w", key, err)
	}
	rec := census.IndicatorRecord{
		ProfileID: profile.ID,
		GeoUID:    geoUID,
		GeoID:     geoID,
		Values:    make([]census.Value, 0, len(a.cfg.Crosswalk)),
	}
	blanked := 0
	for _, ind := range a.cfg.Crosswalk {
		v, err := census.Lookup(profile, ind.Theme, ind.Codes...)
		if err != nil {
			if errors.Is(err, census.ErrMalformedProfile) {
				return rec, blanked, fmt.Errorf("%s: %w", key, err)
			}
			a.metrics.ObserveLookupError(ind.Field)
			lerr := &LookupError{File: key, Field: ind.Field, Theme: ind.Theme, Codes: ind.Codes, Err: err}
			if a.cfg.Policy == PolicyFail {
				return rec, blanked, lerr
			}
			a.logger.Warn("indicator lookup failed; leaving cell blank", zap.Error(lerr))
			v = census.MissingValue
			blanked++
		}
		rec.Values = append(rec.Values, v)
	}
	return rec, blanked, nil
}
