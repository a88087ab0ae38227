package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kizashi/subsidy-radar/internal/radar"
)

const subsidyColumns = `id, pref_code, municipality_name, title, summary, start_date, end_date, deadline_date,
	status, category, parse_confidence, source_url, raw_path, last_crawled_at, updated_at`

// UpsertSubsidy writes an extracted record keyed by source URL. Dates that were
// not found keep their stored value.
func (s *Store) UpsertSubsidy(ctx context.Context, item radar.SubsidyItem) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO subsidy_items (id, pref_code, municipality_name, title, summary, start_date, end_date, deadline_date,
	status, category, parse_confidence, source_url, raw_path, last_crawled_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
ON CONFLICT (source_url) DO UPDATE SET
	municipality_name = EXCLUDED.municipality_name,
	title = EXCLUDED.title,
	summary = EXCLUDED.summary,
	start_date = COALESCE(EXCLUDED.start_date, subsidy_items.start_date),
	end_date = COALESCE(EXCLUDED.end_date, subsidy_items.end_date),
	deadline_date = COALESCE(EXCLUDED.deadline_date, subsidy_items.deadline_date),
	status = EXCLUDED.status,
	category = EXCLUDED.category,
	parse_confidence = EXCLUDED.parse_confidence,
	raw_path = EXCLUDED.raw_path,
	last_crawled_at = EXCLUDED.last_crawled_at,
	updated_at = EXCLUDED.last_crawled_at`,
		item.ID, item.PrefCode, nullString(item.MunicipalityName), item.Title, nullString(item.Summary),
		item.StartDate, item.EndDate, item.DeadlineDate, string(item.Status), item.Category,
		item.ParseConfidence, item.SourceURL, nullString(item.RawPath), item.LastCrawledAt)
	if err != nil {
		return fmt.Errorf("upsert subsidy %s: %w", item.SourceURL, err)
	}
	return nil
}

// UpsertSubsidyPDF creates a placeholder record for a PDF announcement or
// refreshes the crawl timestamp and raw path of an existing one.
func (s *Store) UpsertSubsidyPDF(ctx context.Context, item radar.SubsidyItem) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO subsidy_items (id, pref_code, title, status, category, parse_confidence, source_url, raw_path,
	last_crawled_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
ON CONFLICT (source_url) DO UPDATE SET
	last_crawled_at = EXCLUDED.last_crawled_at,
	raw_path = EXCLUDED.raw_path`,
		item.ID, item.PrefCode, item.Title, string(item.Status), item.Category, item.ParseConfidence,
		item.SourceURL, nullString(item.RawPath), item.LastCrawledAt)
	if err != nil {
		return fmt.Errorf("upsert pdf subsidy %s: %w", item.SourceURL, err)
	}
	return nil
}

// ListSubsidiesAfter pages through all records ordered by id.
func (s *Store) ListSubsidiesAfter(ctx context.Context, afterID string, limit int) ([]radar.SubsidyItem, error) {
	return s.querySubsidies(ctx, "list subsidies", `
SELECT `+subsidyColumns+`
FROM subsidy_items
WHERE id > $1
ORDER BY id
LIMIT $2`, afterID, limit)
}

// UpdateSubsidyCategory overwrites the category of one record.
func (s *Store) UpdateSubsidyCategory(ctx context.Context, id, category string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE subsidy_items SET category = $2 WHERE id = $1`, id, category)
	if err != nil {
		return fmt.Errorf("update category of %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update category of %s: %w", id, radar.ErrNotFound)
	}
	return nil
}

// ListScorableSubsidies returns active and upcoming records.
func (s *Store) ListScorableSubsidies(ctx context.Context) ([]radar.SubsidyItem, error) {
	return s.querySubsidies(ctx, "list scorable subsidies", `
SELECT `+subsidyColumns+`
FROM subsidy_items
WHERE status IN ('active', 'upcoming')
ORDER BY pref_code, id`)
}

// ListDeadlineSubsidies returns active records of a prefecture whose deadline
// or end date falls within [from, to]. A limit of zero returns all of them.
func (s *Store) ListDeadlineSubsidies(ctx context.Context, prefCode string, from, to time.Time, limit int) ([]radar.SubsidyItem, error) {
	query := `
SELECT ` + subsidyColumns + `
FROM subsidy_items
WHERE pref_code = $1 AND status = 'active'
	AND ((deadline_date BETWEEN $2 AND $3) OR (end_date BETWEEN $2 AND $3))
ORDER BY deadline_date ASC NULLS LAST, end_date ASC NULLS LAST, id`
	args := []any{prefCode, from, to}
	if limit > 0 {
		query += "\nLIMIT $4"
		args = append(args, limit)
	}
	return s.querySubsidies(ctx, "list deadline subsidies", query, args...)
}

// ListSubsidies returns records matching the filter, most recently updated first.
func (s *Store) ListSubsidies(ctx context.Context, filter radar.SubsidyFilter) ([]radar.SubsidyItem, error) {
	var (
		where []string
		args  []any
	)
	if filter.PrefCode != "" {
		args = append(args, filter.PrefCode)
		where = append(where, fmt.Sprintf("pref_code = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := "\nSELECT " + subsidyColumns + "\nFROM subsidy_items"
	if len(where) > 0 {
		query += "\nWHERE " + strings.Join(where, " AND ")
	}
	query += "\nORDER BY updated_at DESC, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf("\nLIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf("\nOFFSET $%d", len(args))
	}
	return s.querySubsidies(ctx, "list subsidies", query, args...)
}

// ListMunicipalitySubsidies returns active and upcoming records of one
// municipality. An empty municipality selects prefecture-wide records and an
// empty category disables category filtering.
func (s *Store) ListMunicipalitySubsidies(ctx context.Context, prefCode, municipality, category string) ([]radar.SubsidyItem, error) {
	args := []any{prefCode}
	query := `
SELECT ` + subsidyColumns + `
FROM subsidy_items
WHERE pref_code = $1 AND status IN ('active', 'upcoming')`
	if municipality == "" {
		query += " AND municipality_name IS NULL"
	} else {
		args = append(args, municipality)
		query += fmt.Sprintf(" AND municipality_name = $%d", len(args))
	}
	if category != "" {
		args = append(args, category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	query += "\nORDER BY deadline_date ASC NULLS LAST, end_date ASC NULLS LAST, updated_at DESC"
	return s.querySubsidies(ctx, "list municipality subsidies", query, args...)
}

func (s *Store) querySubsidies(ctx context.Context, op, query string, args ...any) ([]radar.SubsidyItem, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []radar.SubsidyItem
	for rows.Next() {
		item, err := scanSubsidy(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func scanSubsidy(row pgx.Row) (radar.SubsidyItem, error) {
	var (
		item                  radar.SubsidyItem
		municipality, summary *string
		rawPath               *string
		status                string
	)
	err := row.Scan(&item.ID, &item.PrefCode, &municipality, &item.Title, &summary,
		&item.StartDate, &item.EndDate, &item.DeadlineDate, &status, &item.Category,
		&item.ParseConfidence, &item.SourceURL, &rawPath, &item.LastCrawledAt, &item.UpdatedAt)
	if err != nil {
		return radar.SubsidyItem{}, fmt.Errorf("scan subsidy: %w", err)
	}
	item.MunicipalityName = deref(municipality)
	item.Summary = deref(summary)
	item.RawPath = deref(rawPath)
	item.Status = radar.SubsidyStatus(status)
	return item, nil
}
