// Package main hosts the harvester entrypoint.
//
// Architecture overview:
//   - CLI: cobra commands (works, composers, replay, serve) share one set of services built from the Viper config
//     in the root command's PersistentPreRunE and torn down in PersistentPostRun.
//   - Fetch pipeline: pages are fetched with the Colly-based fetcher and, when the heuristic detector flags a
//     script-rendered shell, promoted to a Chromedp fetch bounded by its own semaphore.
//   - Harvesting: every table row becomes a raw record streamed to raw-info-<composer>.json; accepted canonical
//     records are appended to the shared compositions file. Each stream has a single consumer goroutine.
//   - Persistence & fanout: finished files are archived to GCS (or a local archive directory), run summaries are
//     upserted to Postgres when a DSN is configured, and a run-completed message is published to Pub/Sub when a
//     topic is configured.
//   - HTTP API: serve exposes /healthz, /readyz, /metrics, and POST /v1/works and /v1/composers.
//
// Quick checklist:
//   - Configure env vars: HARVESTER_OUTPUT_DIR, HARVESTER_HEADLESS_ENABLED, HARVESTER_STORAGE_GCS_BUCKET,
//     HARVESTER_DB_DSN, HARVESTER_PUBSUB_PROJECT_ID and HARVESTER_PUBSUB_TOPIC_NAME as needed.
//   - Run locally: go run ./cmd/harvester works "Ludwig van Beethoven" (or serve --config config.yaml).
package main
