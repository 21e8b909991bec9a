package profilecache_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/census"
	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/profilecache"
)

func sampleProfile(id census.ProfileID) *census.Profile {
	return &census.Profile{
		ID:      id,
		Columns: []string{"GEO_UID", "GEO_ID", "TOPIC_THEME", "HIER_ID", "T_DATA_DONNEE"},
		Rows: [][]string{
			{string(id), "56789012", "Population", "1.1.1", "512"},
			{string(id), "56789012", "Income", "4.1.3.1.1", ""},
		},
	}
}

func newStore(t *testing.T) (*profilecache.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := profilecache.New(profilecache.Config{Dir: dir})
	require.NoError(t, err)
	return store, dir
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func TestNew(t *testing.T) {
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "cache")
		store, err := profilecache.New(profilecache.Config{Dir: dir})
		require.NoError(t, err)
		assert.Equal(t, dir, store.Dir())
		assert.Equal(t, filepath.Join(dir, profilecache.DefaultCombinedFile), store.CombinedPath())
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingDir", func(t *testing.T) {
		_, err := profilecache.New(profilecache.Config{})
		assert.Error(t, err)
	})

	t.Run("DirIsAFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(file, nil, 0o600))
		_, err := profilecache.New(profilecache.Config{Dir: file})
		assert.Error(t, err)
	})

	t.Run("CombinedFileWithPath", func(t *testing.T) {
		_, err := profilecache.New(profilecache.Config{Dir: t.TempDir(), CombinedFile: "../out.csv"})
		assert.Error(t, err)
	})

	t.Run("NotWritable", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("permission bits are not enforced for root")
		}
		dir := t.TempDir()
		// #nosec G302 -- directory permissions adjusted intentionally for test coverage.
		require.NoError(t, os.Chmod(dir, 0o500))
		t.Cleanup(func() {
			// #nosec G302 -- reverting permissions to allow cleanup.
			_ = os.Chmod(dir, 0o700)
		})
		_, err := profilecache.New(profilecache.Config{Dir: dir})
		assert.Error(t, err)
	})
}

func TestPutThenGet(t *testing.T) {
	store, dir := newStore(t)
	profile := sampleProfile("2016S051256789012")

	path, err := store.Put(context.Background(), profile)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2016S051256789012.csv"), path)

	got, err := store.Get("2016S051256789012.csv")
	require.NoError(t, err)
	assert.Equal(t, profile, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files should remain")
}

func TestPutRejectsCanceledContext(t *testing.T) {
	store, dir := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Put(ctx, sampleProfile("2016S051256789012"))
	require.ErrorIs(t, err, context.Canceled)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSeed(t *testing.T) {
	store, dir := newStore(t)
	writeFile(t, dir, "2016S051256789012.csv", "x")
	writeFile(t, dir, "2016S051200000001.csv.bak", "x")
	writeFile(t, dir, "notes", "x")
	writeFile(t, dir, ".2016S051299999999.csv.tmp-1", "x")
	writeFile(t, dir, profilecache.DefaultCombinedFile, "x")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir.csv"), 0o750))

	set, err := store.Seed()
	require.NoError(t, err)
	assert.Equal(t, []census.ProfileID{"2016S051200000001", "2016S051256789012", "notes"}, set.IDs())
}

func TestSeedGrowsWithPut(t *testing.T) {
	store, _ := newStore(t)
	_, err := store.Put(context.Background(), sampleProfile("2016S051256789012"))
	require.NoError(t, err)

	set, err := store.Seed()
	require.NoError(t, err)
	assert.True(t, set.Has("2016S051256789012"))
	assert.Equal(t, 1, set.Len())
}

func TestKeys(t *testing.T) {
	store, dir := newStore(t)
	writeFile(t, dir, "b.csv", "x")
	writeFile(t, dir, "a.csv", "x")
	writeFile(t, dir, "c.json", "x")
	writeFile(t, dir, ".hidden.csv", "x")
	writeFile(t, dir, profilecache.DefaultCombinedFile, "x")

	keys, err := store.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.csv", "b.csv"}, keys)
}

func TestGetToleratesIndexColumn(t *testing.T) {
	store, dir := newStore(t)
	writeFile(t, dir, "2016S051256789012.csv",
		",GEO_UID,GEO_ID,TOPIC_THEME,HIER_ID,T_DATA_DONNEE\n"+
			"0,2016S051256789012,56789012,Population,1.1.1,512\n")

	profile, err := store.Get("2016S051256789012.csv")
	require.NoError(t, err)
	assert.Equal(t, census.ProfileID("2016S051256789012"), profile.ID)
	v, err := census.Lookup(profile, "Population", "1.1.1")
	require.NoError(t, err)
	assert.Equal(t, 512.0, v.Number)
}

func TestGetMalformed(t *testing.T) {
	store, dir := newStore(t)
	cases := map[string]string{
		"empty.csv":     "",
		"header.csv":    "GEO_UID,GEO_ID,TOPIC_THEME,HIER_ID,T_DATA_DONNEE\n",
		"missing.csv":   "GEO_UID,GEO_ID,TOPIC_THEME,HIER_ID\na,b,c,d\n",
		"ragged.csv":    "GEO_UID,GEO_ID,TOPIC_THEME,HIER_ID,T_DATA_DONNEE\na,b\n",
		"badquotes.csv": "GEO_UID,GEO_ID,TOPIC_THEME,HIER_ID,T_DATA_DONNEE\n\"a,b,c,d,e\n",
	}
	for name, body := range cases {
		writeFile(t, dir, name, body)
	}
	for name := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(name)
			require.ErrorIs(t, err, census.ErrMalformedProfile)
		})
	}
}

func TestGetRejectsTraversal(t *testing.T) {
	store, _ := newStore(t)
	for _, key := range []string{"", "../escape.csv", "sub/inner.csv", "."} {
		_, err := store.Get(key)
		assert.Error(t, err, key)
	}
}

func TestPutCombined(t *testing.T) {
	store, dir := newStore(t)
	table := &census.CombinedTable{
		Fields: []string{"population", "land_area"},
		Records: []census.IndicatorRecord{
			{
				ProfileID: "2016S051256789012",
				GeoUID:    "2016S051256789012",
				GeoID:     "56789012",
				Values:    []census.Value{{Number: 512}, census.MissingValue},
			},
		},
		GeneratedAt: time.Unix(0, 0).UTC(),
	}

	path, err := store.PutCombined(context.Background(), table)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, profilecache.DefaultCombinedFile), path)

	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "geo_uid,geo_id,population,land_area\n2016S051256789012,56789012,512,\n", string(data))

	keys, err := store.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}
