package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kizashi/subsidy-radar/internal/radar"
)

// UpsertSource inserts a source or refreshes the name and URL of the existing
// (pref_code, source_type) row.
func (s *Store) UpsertSource(ctx context.Context, src radar.Source) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO sources (id, pref_code, source_type, name, url, enabled, interval_minutes)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (pref_code, source_type) DO UPDATE SET
	name = EXCLUDED.name,
	url = EXCLUDED.url,
	updated_at = now()`,
		src.ID, src.PrefCode, string(src.SourceType), src.Name, src.URL, src.Enabled, src.IntervalMinutes)
	if err != nil {
		return fmt.Errorf("upsert source %s/%s: %w", src.PrefCode, src.SourceType, err)
	}
	return nil
}

// ListEnabledSources returns enabled sources ordered by prefecture and type.
func (s *Store) ListEnabledSources(ctx context.Context) ([]radar.Source, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, pref_code, source_type, name, url, enabled, interval_minutes
FROM sources
WHERE enabled
ORDER BY pref_code, source_type`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []radar.Source
	for rows.Next() {
		var (
			src        radar.Source
			sourceType string
		)
		if err := rows.Scan(&src.ID, &src.PrefCode, &sourceType, &src.Name, &src.URL, &src.Enabled, &src.IntervalMinutes); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		src.SourceType = radar.SourceType(sourceType)
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

// LastRunStart returns the start time of the most recent fetch run of the
// source, or nil when it never ran.
func (s *Store) LastRunStart(ctx context.Context, sourceID string) (*time.Time, error) {
	var started *time.Time
	err := s.pool.QueryRow(ctx, `SELECT max(started_at) FROM fetch_runs WHERE source_id = $1`, sourceID).Scan(&started)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("last run of %s: %w", sourceID, err)
	}
	return started, nil
}

// CreateFetchRun records the start of a fetch run.
func (s *Store) CreateFetchRun(ctx context.Context, run radar.FetchRun) error {
	status := run.Status
	if status == "" {
		status = radar.RunFailed
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO fetch_runs (id, source_id, started_at, status)
VALUES ($1, $2, $3, $4)`,
		run.ID, run.SourceID, run.StartedAt, string(status))
	if err != nil {
		return fmt.Errorf("create fetch run: %w", err)
	}
	return nil
}

// FinishFetchRun stores the outcome of a fetch run.
func (s *Store) FinishFetchRun(ctx context.Context, run radar.FetchRun) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE fetch_runs SET
	finished_at = $2,
	status = $3,
	http_status = $4,
	bytes = $5,
	item_count = $6,
	error = $7,
	raw_path = $8,
	content_type = $9
WHERE id = $1`,
		run.ID, run.FinishedAt, string(run.Status), nullInt(run.HTTPStatus), run.Bytes, run.ItemCount,
		nullString(run.Error), nullString(run.RawPath), nullString(run.ContentType))
	if err != nil {
		return fmt.Errorf("finish fetch run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish fetch run %s: %w", run.ID, radar.ErrNotFound)
	}
	return nil
}

// SourceRunStats summarises the fetch history of every enabled source.
func (s *Store) SourceRunStats(ctx context.Context, since time.Time) ([]radar.SourceRunStats, error) {
	rows, err := s.pool.Query(ctx, `
WITH last_success AS (
	SELECT source_id, max(started_at) AS started_at
	FROM fetch_runs
	WHERE status = 'success'
	GROUP BY source_id
)
SELECT
	s.id,
	s.pref_code,
	count(r.id) FILTER (WHERE r.status = 'success' AND r.started_at >= $1),
	count(r.id) FILTER (WHERE r.status = 'failed' AND r.started_at >= $1),
	(SELECT f.finished_at FROM fetch_runs f
		WHERE f.source_id = s.id AND f.status = 'success'
		ORDER BY f.started_at DESC LIMIT 1),
	count(r.id) FILTER (WHERE r.status = 'failed' AND (ls.started_at IS NULL OR r.started_at > ls.started_at))
FROM sources s
LEFT JOIN fetch_runs r ON r.source_id = s.id
LEFT JOIN last_success ls ON ls.source_id = s.id
WHERE s.enabled
GROUP BY s.id, s.pref_code, ls.started_at
ORDER BY s.pref_code, s.id`, since)
	if err != nil {
		return nil, fmt.Errorf("source run stats: %w", err)
	}
	defer rows.Close()

	var out []radar.SourceRunStats
	for rows.Next() {
		var st radar.SourceRunStats
		if err := rows.Scan(&st.SourceID, &st.PrefCode, &st.Success24h, &st.Failed24h, &st.LastSuccessAt, &st.FailStreak); err != nil {
			return nil, fmt.Errorf("scan run stats: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run stats: %w", err)
	}
	return out, nil
}
