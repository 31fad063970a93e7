// Package postgres records harvesting run history in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/worklist-harvester/internal/catalog"
)

const defaultTable = "harvest_runs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RunStoreConfig controls the Postgres connection pool used for run rows.
type RunStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RunStore writes one row per harvesting run.
type RunStore struct {
	pool  execCloser
	table string
}

// NewRunStore creates a Postgres-backed RunStore using the provided config.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: pool, table: table}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool execCloser, table string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// RecordRun upserts the summary row keyed by run id.
func (s *RunStore) RecordRun(ctx context.Context, run catalog.RunSummary) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("run store is not configured")
	}
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	outputs, err := json.Marshal(nonNil(run.Outputs))
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}
	archived, err := json.Marshal(nonNil(run.Archived))
	if err != nil {
		return fmt.Errorf("marshal archived: %w", err)
	}
	var errText *string
	if run.ErrorText != "" {
		errText = &run.ErrorText
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	kind,
	subject,
	source_url,
	started_at,
	finished_at,
	raw_records,
	accepted_records,
	rejected_records,
	dropped_records,
	content_hash,
	used_headless,
	outputs,
	archived,
	status,
	error_text
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)
ON CONFLICT (id) DO UPDATE SET
	finished_at = EXCLUDED.finished_at,
	raw_records = EXCLUDED.raw_records,
	accepted_records = EXCLUDED.accepted_records,
	rejected_records = EXCLUDED.rejected_records,
	dropped_records = EXCLUDED.dropped_records,
	outputs = EXCLUDED.outputs,
	archived = EXCLUDED.archived,
	status = EXCLUDED.status,
	error_text = EXCLUDED.error_text`, s.table)

	args := []any{
		run.ID,
		string(run.Kind),
		run.Subject,
		run.SourceURL,
		run.StartedAt,
		run.FinishedAt,
		run.RawRecords,
		run.AcceptedRecords,
		run.RejectedRecords,
		run.DroppedRecords,
		run.ContentHash,
		run.UsedHeadless,
		outputs,
		archived,
		string(run.Status),
		errText,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
