// Package profilecache persists census profiles as one CSV file per dguid
// and writes the combined indicator table next to them.
package profilecache

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/census"
)

// DefaultCombinedFile is the name of the aggregated output inside the cache directory.
const DefaultCombinedFile = "cbgs-census.csv"

const profileExt = ".csv"

// Config captures the parameters for the profile cache.
type Config struct {
	// Dir is the directory holding one "<dguid>.csv" file per profile.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// CombinedFile is the aggregated output name; it is never treated as a profile.
	CombinedFile string `mapstructure:"combined_file" yaml:"combined_file"`
}

// Store reads and writes cached profiles on the local filesystem.
type Store struct {
	dir          string
	combinedFile string
}

// New creates the cache directory if needed and verifies it is writable.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if cfg.CombinedFile == "" {
		cfg.CombinedFile = DefaultCombinedFile
	}
	if filepath.Base(cfg.CombinedFile) != cfg.CombinedFile {
		return nil, fmt.Errorf("combined file %q must be a bare file name", cfg.CombinedFile)
	}

	info, err := os.Stat(cfg.Dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat cache directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.Dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("cache directory path %q is not a directory", cfg.Dir)
	}

	probe, err := os.CreateTemp(cfg.Dir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("cache directory is not writable: %w", err)
	}
	name := probe.Name()
	if err := probe.Close(); err != nil {
		return nil, fmt.Errorf("failed to close probe file: %w", err)
	}
	if err := os.Remove(name); err != nil {
		return nil, fmt.Errorf("failed to clean up probe file: %w", err)
	}

	return &Store{dir: cfg.Dir, combinedFile: cfg.CombinedFile}, nil
}

// Dir returns the cache directory.
func (s *Store) Dir() string {
	return s.dir
}

// CombinedPath returns the full path of the aggregated output file.
func (s *Store) CombinedPath() string {
	return filepath.Join(s.dir, s.combinedFile)
}

// Seed lists the cache directory and returns the ids already present. An id
// is a file name with everything from its first '.' removed. Hidden files and
// the combined output are ignored.
func (s *Store) Seed() (census.CacheSet, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache directory: %w", err)
	}
	set := census.NewCacheSet()
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || s.ignored(name) {
			continue
		}
		id, _, _ := strings.Cut(name, ".")
		set.Add(census.ProfileID(id))
	}
	return set, nil
}

// Keys returns the cached profile file names in directory order.
func (s *Store) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache directory: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || s.ignored(name) || filepath.Ext(name) != profileExt {
			continue
		}
		keys = append(keys, name)
	}
	return keys, nil
}

// Get reads one cached profile by file name.
func (s *Store) Get(key string) (*census.Profile, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- key is confined to the cache directory by resolve.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cached profile %s: %w", key, err)
	}
	defer func() { _ = f.Close() }()

	id, _, _ := strings.Cut(key, ".")
	profile, err := readProfile(census.ProfileID(id), f)
	if err != nil {
		return nil, fmt.Errorf("cached profile %s: %w", key, err)
	}
	return profile, nil
}

// Put writes profile to "<id>.csv" through a temporary file so readers never
// observe a partial file.
func (s *Store) Put(ctx context.Context, profile *census.Profile) (string, error) {
	if profile == nil || profile.ID == "" {
		return "", fmt.Errorf("profile id is required")
	}
	rows := make([][]string, 0, len(profile.Rows)+1)
	rows = append(rows, profile.Columns)
	rows = append(rows, profile.Rows...)
	return s.writeAtomic(ctx, profile.ID.String()+profileExt, rows)
}

// PutCombined writes the aggregated table, replacing any previous output.
func (s *Store) PutCombined(ctx context.Context, table *census.CombinedTable) (string, error) {
	if table == nil {
		return "", fmt.Errorf("combined table is required")
	}
	rows := make([][]string, 0, len(table.Records)+1)
	rows = append(rows, table.Header())
	rows = append(rows, table.Rows()...)
	return s.writeAtomic(ctx, s.combinedFile, rows)
}

func (s *Store) writeAtomic(ctx context.Context, name string, rows [][]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.resolve(name)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	w := csv.NewWriter(tmp)
	if err := w.WriteAll(rows); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return "", fmt.Errorf("failed to publish %s: %w", name, err)
	}
	return path, nil
}

// resolve joins name onto the cache directory, rejecting anything that
// would escape it.
func (s *Store) resolve(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("file name is required")
	}
	full := filepath.Clean(filepath.Join(s.dir, name))
	if !strings.HasPrefix(full, filepath.Clean(s.dir)+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected for %q", name)
	}
	if filepath.Dir(full) != filepath.Clean(s.dir) {
		return "", fmt.Errorf("nested path %q is not allowed", name)
	}
	return full, nil
}

func (s *Store) ignored(name string) bool {
	return strings.HasPrefix(name, ".") || name == s.combinedFile
}

func readProfile(id census.ProfileID, r io.Reader) (*census.Profile, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", census.ErrMalformedProfile)
		}
		return nil, fmt.Errorf("%w: %v", census.ErrMalformedProfile, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", census.ErrMalformedProfile, err)
	}
	profile := &census.Profile{ID: id, Columns: header, Rows: rows}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}
