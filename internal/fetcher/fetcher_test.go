package fetcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/census"
	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/metrics"
	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/profilecache"
	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/statcan"
)

type fakeSource struct {
	calls []census.ProfileID
	errs  map[census.ProfileID]error
}

func (s *fakeSource) FetchProfile(_ context.Context, id census.ProfileID) (*census.Profile, error) {
	s.calls = append(s.calls, id)
	if err, ok := s.errs[id]; ok {
		return nil, err
	}
	return &census.Profile{
		ID:      id,
		Columns: []string{"GEO_UID", "GEO_ID", "TOPIC_THEME", "HIER_ID", "T_DATA_DONNEE"},
		Rows:    [][]string{{string(id), string(id[len(census.DefaultProfilePrefix):]), "Population", "1.1.1", "10"}},
	}, nil
}

type memorySink struct {
	puts []census.ProfileID
	err  error
}

func (s *memorySink) Put(_ context.Context, p *census.Profile) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.puts = append(s.puts, p.ID)
	return "mem://" + p.ID.String(), nil
}

func record(row int, place string, keys ...string) census.VisitRecord {
	rec := census.VisitRecord{Row: row, PlaceID: place}
	for _, k := range keys {
		rec.VisitorHomeCBGs = append(rec.VisitorHomeCBGs, census.VisitorCount{GeoUnitID: k, Count: 4})
	}
	return rec
}

func TestRunFetchesUncachedKeysInOrder(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	sink := &memorySink{}
	f := New(src, sink, nil, nil, Config{}, nil)

	res, err := f.Run(context.Background(), []census.VisitRecord{
		record(0, "sg:a", "CA:56789012", "CA:11111111"),
		record(1, "sg:b", "CA:22222222"),
	}, census.NewCacheSet())
	require.NoError(t, err)

	want := []census.ProfileID{"2016S051256789012", "2016S051211111111", "2016S051222222222"}
	assert.Equal(t, want, src.calls)
	assert.Equal(t, want, sink.puts)
	assert.Equal(t, 3, res.Fetched)
	assert.Equal(t, 3, res.Keys)
	assert.Equal(t, 3, res.Cache.Len())
}

func TestRunSkipsMalformedIDWithoutCallingAPI(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	src := &fakeSource{}
	f := New(src, &memorySink{}, nil, nil, Config{}, zap.New(core))

	res, err := f.Run(context.Background(), []census.VisitRecord{
		record(3, "sg:a", "CA_56789012", "CA:", "CA:12ab"),
	}, nil)
	require.NoError(t, err)

	assert.Empty(t, src.calls)
	assert.Equal(t, 3, res.MalformedIDs)
	assert.Equal(t, 0, res.Cache.Len())

	entries := logs.FilterMessage("malformed geo unit id").All()
	require.Len(t, entries, 3)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(3), fields["row"])
	assert.Equal(t, "CA_56789012", fields["cbg"])
}

func TestRunSkipsCachedIDs(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	seed := census.NewCacheSet("2016S051256789012")
	f := New(src, &memorySink{}, nil, nil, Config{}, nil)

	res, err := f.Run(context.Background(), []census.VisitRecord{
		record(0, "sg:a", "CA:56789012", "CA:56789013"),
		record(1, "sg:b", "CA:56789013"),
	}, seed)
	require.NoError(t, err)

	assert.Equal(t, []census.ProfileID{"2016S051256789013"}, src.calls)
	assert.Equal(t, 2, res.Cached)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 1, seed.Len(), "input set must not be mutated")
	assert.True(t, res.Cache.Has("2016S051256789012"))
	assert.True(t, res.Cache.Has("2016S051256789013"))
}

func TestRunIsIdempotentAgainstDiskCache(t *testing.T) {
	t.Parallel()

	store, err := profilecache.New(profilecache.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	records := []census.VisitRecord{
		record(0, "sg:a", "CA:56789012", "CA:11111111"),
		record(1, "sg:b", "CA:56789012"),
	}

	for run, wantCalls := range []int{2, 0, 0} {
		seed, err := store.Seed()
		require.NoError(t, err)
		src := &fakeSource{}
		_, err = New(src, store, nil, nil, Config{}, nil).Run(context.Background(), records, seed)
		require.NoError(t, err)
		assert.Len(t, src.calls, wantCalls, "run %d", run+1)
	}

	keys, err := store.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"2016S051211111111.csv", "2016S051256789012.csv"}, keys)
}

func TestRunUnparsableResponseIsRetriedLater(t *testing.T) {
	t.Parallel()

	bad := census.ProfileID("2016S051256789012")
	src := &fakeSource{errs: map[census.ProfileID]error{
		bad: fmt.Errorf("%w: no DATA", statcan.ErrUnparsableResponse),
	}}
	sink := &memorySink{}
	m := metrics.New()
	f := New(src, sink, nil, m, Config{}, nil)
	records := []census.VisitRecord{record(0, "sg:a", "CA:56789012", "CA:11111111")}

	res, err := f.Run(context.Background(), records, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unparsable)
	assert.False(t, res.Cache.Has(bad))
	assert.Equal(t, []census.ProfileID{"2016S051211111111"}, sink.puts)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchOutcomes.WithLabelValues(metrics.OutcomeUnparsable)))

	delete(src.errs, bad)
	res, err = f.Run(context.Background(), records, res.Cache)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetched)
	assert.True(t, res.Cache.Has(bad))
}

func TestRunTransportFailureIsFatal(t *testing.T) {
	t.Parallel()

	src := &fakeSource{errs: map[census.ProfileID]error{
		"2016S051211111111": errors.New("census api returned status 503: Service Unavailable"),
	}}
	sink := &memorySink{}
	f := New(src, sink, nil, nil, Config{}, nil)

	res, err := f.Run(context.Background(), []census.VisitRecord{
		record(0, "sg:a", "CA:56789012", "CA:11111111", "CA:22222222"),
	}, nil)
	require.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, []census.ProfileID{"2016S051256789012"}, sink.puts)
	assert.Len(t, src.calls, 2)
	assert.Equal(t, 1, res.Cache.Len())
}

func TestRunCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &fakeSource{}
	_, err := New(src, &memorySink{}, nil, nil, Config{}, nil).Run(ctx, []census.VisitRecord{
		record(0, "sg:a", "CA:56789012"),
	}, nil)
	require.ErrorIs(t, err, ErrTransport)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, src.calls)
}

func TestRunSinkFailureAborts(t *testing.T) {
	t.Parallel()

	sink := &memorySink{err: errors.New("disk full")}
	res, err := New(&fakeSource{}, sink, nil, nil, Config{}, nil).Run(context.Background(), []census.VisitRecord{
		record(0, "sg:a", "CA:56789012"),
	}, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTransport)
	assert.Equal(t, 0, res.Cache.Len())
}

func TestRunLogsProgressAndUsesClock(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	clock := clockwork.NewFakeClockAt(time.Date(2024, time.April, 26, 15, 10, 0, 0, time.UTC))
	m := metrics.New()
	f := New(&fakeSource{}, &memorySink{}, clock, m, Config{DGUIDPrefix: "2016S0512"}, zap.New(core))

	res, err := f.Run(context.Background(), []census.VisitRecord{
		record(0, "sg:a", "CA:56789012"),
		record(4, "sg:b", "CA:11111111"),
	}, nil)
	require.NoError(t, err)

	entries := logs.FilterMessage("profile cached").All()
	require.Len(t, entries, 2)
	second := entries[1].ContextMap()
	assert.Equal(t, "2/2", second["progress"])
	assert.Equal(t, int64(4), second["row"])
	assert.Equal(t, "sg:b", second["poi_id"])
	assert.Equal(t, "CA:11111111", second["cbg"])
	assert.Equal(t, int64(2), second["cache_size"])

	assert.Equal(t, clock.Now(), res.FinishedAt)
	assert.Equal(t, float64(clock.Now().Unix()), testutil.ToFloat64(m.LastSuccess.WithLabelValues(metrics.StageFetch)))
	assert.Equal(t, uint64(2), histogramCount(t, m))
}

func histogramCount(t *testing.T, m *metrics.Metrics) uint64 {
	t.Helper()
	families, err := m.Registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "census_crawler_api_request_duration_seconds" {
			return mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	t.Fatal("api duration histogram not gathered")
	return 0
}
