package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/kizashi/subsidy-radar/internal/radar"
)

const pendingWhere = `
FROM discovered_items d
JOIN sources s ON s.id = d.source_id
WHERE s.enabled AND s.source_type = 'subsidy' AND d.status IN ('new', 'seen')`

// UpsertDiscoveredItem inserts the item unless its fingerprint already exists.
func (s *Store) UpsertDiscoveredItem(ctx context.Context, item radar.DiscoveredItem) (bool, error) {
	status := item.Status
	if status == "" {
		status = radar.ItemNew
	}
	tag, err := s.pool.Exec(ctx, `
INSERT INTO discovered_items (id, source_id, url, fingerprint, title, status, discovered_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (fingerprint) DO NOTHING`,
		item.ID, item.SourceID, item.URL, item.Fingerprint, nullString(item.Title), string(status), item.DiscoveredAt)
	if err != nil {
		return false, fmt.Errorf("upsert discovered item %s: %w", item.URL, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountPendingItems counts the detail queue.
func (s *Store) CountPendingItems(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*)`+pendingWhere).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending items: %w", err)
	}
	return n, nil
}

// ListPendingItems returns the oldest pending items with their prefecture.
func (s *Store) ListPendingItems(ctx context.Context, limit int) ([]radar.PendingItem, error) {
	rows, err := s.pool.Query(ctx, `
SELECT d.id, d.source_id, d.url, d.fingerprint, d.title, d.status, d.discovered_at, s.pref_code`+pendingWhere+`
ORDER BY d.discovered_at, d.id
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending items: %w", err)
	}
	defer rows.Close()

	var out []radar.PendingItem
	for rows.Next() {
		var (
			it     radar.PendingItem
			title  *string
			status string
		)
		if err := rows.Scan(&it.ID, &it.SourceID, &it.URL, &it.Fingerprint, &title, &status, &it.DiscoveredAt, &it.PrefCode); err != nil {
			return nil, fmt.Errorf("scan pending item: %w", err)
		}
		it.Title = deref(title)
		it.Status = radar.ItemStatus(status)
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending items: %w", err)
	}
	return out, nil
}

// MarkItemFetched moves an item out of the queue.
func (s *Store) MarkItemFetched(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
UPDATE discovered_items SET status = 'fetched', last_fetched_at = $2, last_error = NULL
WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark item %s fetched: %w", id, err)
	}
	return nil
}

// MarkItemFailed records a terminal failure for an item.
func (s *Store) MarkItemFailed(ctx context.Context, id string, reason string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE discovered_items SET status = 'failed', last_error = $2
WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("mark item %s failed: %w", id, err)
	}
	return nil
}
