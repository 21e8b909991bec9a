// Package main hosts the census-crawler entrypoint.
//
// Architecture overview:
//   - Fetch stage: internal/visits reads the SafeGraph weekly patterns table and parses each visitor_home_cbgs map.
//     internal/fetcher turns every block group id into a 2016 Census Profile dguid, skips ids already in the cache
//     set seeded from disk, and downloads the rest one at a time through the Colly-based internal/statcan client.
//     Each profile is written atomically to <cache dir>/<dguid>.csv by internal/profilecache.
//   - Aggregate stage: internal/aggregator reads every cached profile in directory order, resolves the crosswalk in
//     internal/census to one value per field, and writes <cache dir>/cbgs-census.csv. Optional sinks in
//     internal/export upload the file to GCS, upsert rows into Postgres and publish a completion notice to Pub/Sub.
//   - Configuration & plumbing: Viper populates config from a YAML file and CENSUS_* env vars; zap provides
//     structured logging tagged with a UUIDv7 run_id; Prometheus collectors are written to a node-exporter textfile
//     when metrics.textfile is set.
//
// Operational notes:
//   - Both stages are single-threaded and idempotent. Re-running fetch only requests profiles that are still missing;
//     unparsable API responses are skipped and retried on the next run. Transport failures stop the run.
//   - SIGINT/SIGTERM cancel the running stage; profiles already cached stay cached.
//
// Quick checklist:
//   - Configure data_dir (or source.path and cache.dir), api.user_agent and optionally export.* and metrics.textfile.
//   - Run: go run ./cmd/census-crawler --config config.yaml fetch, then ... aggregate.
package main
