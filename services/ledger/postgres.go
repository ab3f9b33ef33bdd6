package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperr "priceowl/scrapeworker/pkg/errors"
)

// PostgresStore keeps the run ledger in a scrape_runs table
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing connection pool
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS scrape_runs (
	id           BIGSERIAL PRIMARY KEY,
	source_id    TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ,
	found        INTEGER NOT NULL DEFAULT 0,
	created      INTEGER NOT NULL DEFAULT 0,
	updated      INTEGER NOT NULL DEFAULT 0,
	unchanged    INTEGER NOT NULL DEFAULT 0,
	deactivated  INTEGER NOT NULL DEFAULT 0,
	errors       JSONB NOT NULL DEFAULT '[]',
	message      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_scrape_runs_source
	ON scrape_runs (source_id, started_at DESC);
`

// EnsureSchema creates the scrape_runs table when missing
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return apperr.NewStorage("", "failed to create ledger schema", err)
	}
	return nil
}

// Start implements Store
func (p *PostgresStore) Start(ctx context.Context, sourceID string) (int64, error) {
	if sourceID == "" {
		return 0, apperr.NewValidation("", "source id is required")
	}
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO scrape_runs (source_id, status, started_at)
		 VALUES ($1, $2, $3) RETURNING id`,
		sourceID, StatusStarted, time.Now()).Scan(&id)
	if err != nil {
		return 0, apperr.NewStorage(sourceID, "failed to open ledger entry", err)
	}
	return id, nil
}

// RecordError implements Store
func (p *PostgresStore) RecordError(ctx context.Context, runID int64, stage string, recErr error) error {
	entry := ErrorEntry{Time: time.Now(), Context: stage, Message: recErr.Error()}
	payload, err := json.Marshal(entry)
	if err != nil {
		return apperr.NewStorage("", "failed to encode error entry", err)
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE scrape_runs SET errors = errors || $2::jsonb WHERE id = $1`,
		runID, payload)
	if err != nil {
		return apperr.NewStorage("", "failed to record run error", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NewStorage("", "unknown run id", nil)
	}
	return nil
}

// Complete implements Store
func (p *PostgresStore) Complete(ctx context.Context, runID int64, counts Counts, status Status) error {
	if status != StatusCompleted && status != StatusPartial {
		return apperr.NewValidation("", "complete requires a completed or partial status")
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE scrape_runs SET
			status = $2, finished_at = $3,
			found = $4, created = $5, updated = $6, unchanged = $7, deactivated = $8
		WHERE id = $1 AND status = $9`,
		runID, status, time.Now(),
		counts.Found, counts.Created, counts.Updated, counts.Unchanged, counts.Deactivated,
		StatusStarted)
	if err != nil {
		return apperr.NewStorage("", "failed to finalize ledger entry", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NewStorage("", "run already finalized or unknown", nil)
	}
	return nil
}

// Fail implements Store
func (p *PostgresStore) Fail(ctx context.Context, runID int64, counts Counts, message string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE scrape_runs SET
			status = $2, finished_at = $3, message = $4,
			found = $5, created = $6, updated = $7, unchanged = $8, deactivated = $9
		WHERE id = $1 AND status = $10`,
		runID, StatusFailed, time.Now(), message,
		counts.Found, counts.Created, counts.Updated, counts.Unchanged, counts.Deactivated,
		StatusStarted)
	if err != nil {
		return apperr.NewStorage("", "failed to finalize ledger entry", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NewStorage("", "run already finalized or unknown", nil)
	}
	return nil
}

const selectSQL = `
SELECT id, source_id, status, started_at, finished_at,
       found, created, updated, unchanged, deactivated, errors, message
FROM scrape_runs`

// Get implements Store
func (p *PostgresStore) Get(ctx context.Context, runID int64) (*Entry, error) {
	entry, err := scanEntry(p.pool.QueryRow(ctx, selectSQL+` WHERE id = $1`, runID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.NewStorage("", "failed to load ledger entry", err)
	}
	return entry, nil
}

// Recent implements Store
func (p *PostgresStore) Recent(ctx context.Context, sourceID string, limit int) ([]*Entry, error) {
	rows, err := p.pool.Query(ctx,
		selectSQL+` WHERE source_id = $1 ORDER BY started_at DESC LIMIT $2`,
		sourceID, limit)
	if err != nil {
		return nil, apperr.NewStorage(sourceID, "failed to list ledger entries", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, apperr.NewStorage(sourceID, "failed to scan ledger entry", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// StatsFor implements Store
func (p *PostgresStore) StatsFor(ctx context.Context, sourceID string, since time.Time) (*Stats, error) {
	stats := &Stats{SourceID: sourceID}
	var avgSeconds *float64
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status IN ($3, $4)),
		       COUNT(*) FILTER (WHERE status = $5),
		       AVG(EXTRACT(EPOCH FROM finished_at - started_at))
		FROM scrape_runs
		WHERE source_id = $1 AND finished_at IS NOT NULL AND started_at >= $2`,
		sourceID, since, StatusCompleted, StatusPartial, StatusFailed).
		Scan(&stats.TotalRuns, &stats.Completed, &stats.Failed, &avgSeconds)
	if err != nil {
		return nil, apperr.NewStorage(sourceID, "failed to aggregate run stats", err)
	}
	if stats.TotalRuns > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(stats.TotalRuns)
	}
	if avgSeconds != nil {
		stats.AvgDuration = time.Duration(*avgSeconds * float64(time.Second))
	}
	return stats, nil
}

// Cleanup implements Store
func (p *PostgresStore) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM scrape_runs WHERE finished_at IS NOT NULL AND finished_at < $1`,
		cutoff)
	if err != nil {
		return 0, apperr.NewStorage("", "failed to clean up ledger", err)
	}
	return tag.RowsAffected(), nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var entry Entry
	var errs []byte
	err := row.Scan(
		&entry.ID, &entry.SourceID, &entry.Status, &entry.StartedAt, &entry.FinishedAt,
		&entry.Counts.Found, &entry.Counts.Created, &entry.Counts.Updated,
		&entry.Counts.Unchanged, &entry.Counts.Deactivated, &errs, &entry.Message)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(errs, &entry.Errors); err != nil {
		return nil, err
	}
	return &entry, nil
}
