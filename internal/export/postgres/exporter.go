// Package postgres upserts combined indicator records into Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/census"
)

const defaultTable = "census_indicators"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for indicator rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Exporter writes one row per profile keyed by profile id.
type Exporter struct {
	pool  pool
	table string
}

// New creates a Postgres-backed exporter using the provided config.
func New(ctx context.Context, cfg Config) (*Exporter, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("export.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Exporter{pool: p, table: table}, nil
}

// NewWithPool constructs an exporter from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Exporter, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Exporter{pool: p, table: name}, nil
}

func tableName(raw string) (string, error) {
	if raw == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(raw) {
		return "", fmt.Errorf("invalid table name %q", raw)
	}
	return raw, nil
}

// Name identifies the sink in logs and metrics.
func (*Exporter) Name() string {
	return "postgres"
}

// Close releases the underlying pool resources.
func (e *Exporter) Close() {
	if e == nil || e.pool == nil {
		return
	}
	e.pool.Close()
}

// Export creates the table if needed and upserts every record in a single
// transaction. Indicator values are stored as a JSONB object; missing values
// are JSON null.
func (e *Exporter) Export(ctx context.Context, table *census.CombinedTable, _ string) (string, error) {
	if e == nil || e.pool == nil {
		return "", fmt.Errorf("postgres exporter is not configured")
	}
	if table == nil {
		return "", fmt.Errorf("combined table is required")
	}
	if _, err := e.pool.Exec(ctx, e.schemaSQL()); err != nil {
		return "", fmt.Errorf("ensure table %s: %w", e.table, err)
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := e.upsertSQL()
	for _, rec := range table.Records {
		values, err := json.Marshal(table.ValueMap(rec))
		if err != nil {
			return "", fmt.Errorf("marshal indicators for %s: %w", rec.ProfileID, err)
		}
		if _, err := tx.Exec(ctx, query,
			rec.ProfileID.String(),
			rec.GeoUID,
			rec.GeoID,
			values,
			table.GeneratedAt,
		); err != nil {
			return "", fmt.Errorf("upsert %s: %w", rec.ProfileID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit indicators: %w", err)
	}
	return fmt.Sprintf("postgres://%s", e.table), nil
}

func (e *Exporter) schemaSQL() string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	profile_id   TEXT PRIMARY KEY,
	geo_uid      TEXT NOT NULL,
	geo_id       TEXT NOT NULL,
	indicators   JSONB NOT NULL,
	extracted_at TIMESTAMPTZ NOT NULL
)`, e.table)
}

func (e *Exporter) upsertSQL() string {
	return fmt.Sprintf(`
INSERT INTO %s (
	profile_id,
	geo_uid,
	geo_id,
	indicators,
	extracted_at
) VALUES (
	$1,$2,$3,$4,$5
)
ON CONFLICT (profile_id) DO UPDATE SET
	geo_uid = EXCLUDED.geo_uid,
	geo_id = EXCLUDED.geo_id,
	indicators = EXCLUDED.indicators,
	extracted_at = EXCLUDED.extracted_at`, e.table)
}
