package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kizashi/subsidy-radar/internal/radar"
)

const scoreColumns = `pref_code, municipality_name, category, active_count, upcoming_count,
	nearest_deadline_date, nearest_deadline_days, score, computed_at`

// UpsertScore writes one aggregation row.
func (s *Store) UpsertScore(ctx context.Context, score radar.MunicipalityScore) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO municipality_scores (`+scoreColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (pref_code, municipality_name, category) DO UPDATE SET
	active_count = EXCLUDED.active_count,
	upcoming_count = EXCLUDED.upcoming_count,
	nearest_deadline_date = EXCLUDED.nearest_deadline_date,
	nearest_deadline_days = EXCLUDED.nearest_deadline_days,
	score = EXCLUDED.score,
	computed_at = EXCLUDED.computed_at`,
		score.PrefCode, score.MunicipalityName, score.Category, score.ActiveCount, score.UpcomingCount,
		score.NearestDeadlineDate, score.NearestDeadlineDays, score.Score, score.ComputedAt)
	if err != nil {
		return fmt.Errorf("upsert score %s/%s/%s: %w", score.PrefCode, score.MunicipalityName, score.Category, err)
	}
	return nil
}

// UpsertBrief writes one brief row with its representative subsidies as JSON.
func (s *Store) UpsertBrief(ctx context.Context, brief radar.MunicipalityBrief) error {
	top := brief.TopSubsidies
	if top == nil {
		top = []radar.TopSubsidy{}
	}
	topJSON, err := json.Marshal(top)
	if err != nil {
		return fmt.Errorf("marshal top subsidies: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO municipality_briefs (pref_code, municipality_name, category, brief_text, top_subsidies_json, computed_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (pref_code, municipality_name, category) DO UPDATE SET
	brief_text = EXCLUDED.brief_text,
	top_subsidies_json = EXCLUDED.top_subsidies_json,
	computed_at = EXCLUDED.computed_at`,
		brief.PrefCode, brief.MunicipalityName, brief.Category, brief.BriefText, topJSON, brief.ComputedAt)
	if err != nil {
		return fmt.Errorf("upsert brief %s/%s/%s: %w", brief.PrefCode, brief.MunicipalityName, brief.Category, err)
	}
	return nil
}

// ZeroStaleScores clears rows the latest aggregation did not produce.
func (s *Store) ZeroStaleScores(ctx context.Context, computedBefore time.Time) ([]radar.ScoreKey, error) {
	rows, err := s.pool.Query(ctx, `
UPDATE municipality_scores SET
	active_count = 0,
	upcoming_count = 0,
	nearest_deadline_date = NULL,
	nearest_deadline_days = NULL,
	score = 0
WHERE computed_at < $1
	AND (active_count <> 0 OR upcoming_count <> 0 OR score <> 0 OR nearest_deadline_date IS NOT NULL)
RETURNING pref_code, municipality_name, category`, computedBefore)
	if err != nil {
		return nil, fmt.Errorf("zero stale scores: %w", err)
	}
	defer rows.Close()

	var keys []radar.ScoreKey
	for rows.Next() {
		var k radar.ScoreKey
		if err := rows.Scan(&k.PrefCode, &k.MunicipalityName, &k.Category); err != nil {
			return nil, fmt.Errorf("scan stale score: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("zero stale scores: %w", err)
	}
	return keys, nil
}

// ListScores returns score rows ranked by score, then municipality name.
// Empty prefCode or category match every value; limit <= 0 returns all rows.
func (s *Store) ListScores(ctx context.Context, prefCode, category string, limit int) ([]radar.MunicipalityScore, error) {
	var (
		where []string
		args  []any
	)
	if prefCode != "" {
		args = append(args, prefCode)
		where = append(where, fmt.Sprintf("pref_code = $%d", len(args)))
	}
	if category != "" {
		args = append(args, category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	query := "\nSELECT " + scoreColumns + "\nFROM municipality_scores"
	if len(where) > 0 {
		query += "\nWHERE " + strings.Join(where, " AND ")
	}
	query += "\nORDER BY score DESC, municipality_name ASC, category ASC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}
	defer rows.Close()

	var out []radar.MunicipalityScore
	for rows.Next() {
		var sc radar.MunicipalityScore
		if err := rows.Scan(&sc.PrefCode, &sc.MunicipalityName, &sc.Category, &sc.ActiveCount, &sc.UpcomingCount,
			&sc.NearestDeadlineDate, &sc.NearestDeadlineDays, &sc.Score, &sc.ComputedAt); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}
	return out, nil
}

// GetScore returns one score row or radar.ErrNotFound.
func (s *Store) GetScore(ctx context.Context, prefCode, municipality, category string) (radar.MunicipalityScore, error) {
	var sc radar.MunicipalityScore
	err := s.pool.QueryRow(ctx, `
SELECT `+scoreColumns+`
FROM municipality_scores
WHERE pref_code = $1 AND municipality_name = $2 AND category = $3`, prefCode, municipality, category).
		Scan(&sc.PrefCode, &sc.MunicipalityName, &sc.Category, &sc.ActiveCount, &sc.UpcomingCount,
			&sc.NearestDeadlineDate, &sc.NearestDeadlineDays, &sc.Score, &sc.ComputedAt)
	if err != nil {
		return radar.MunicipalityScore{}, fmt.Errorf("get score: %w", notFound(err))
	}
	return sc, nil
}

// ListBriefs returns every brief of a prefecture and category.
func (s *Store) ListBriefs(ctx context.Context, prefCode, category string) ([]radar.MunicipalityBrief, error) {
	rows, err := s.pool.Query(ctx, `
SELECT pref_code, municipality_name, category, brief_text, top_subsidies_json, computed_at
FROM municipality_briefs
WHERE pref_code = $1 AND category = $2
ORDER BY municipality_name`, prefCode, category)
	if err != nil {
		return nil, fmt.Errorf("list briefs: %w", err)
	}
	defer rows.Close()

	var out []radar.MunicipalityBrief
	for rows.Next() {
		var (
			b       radar.MunicipalityBrief
			topJSON []byte
		)
		if err := rows.Scan(&b.PrefCode, &b.MunicipalityName, &b.Category, &b.BriefText, &topJSON, &b.ComputedAt); err != nil {
			return nil, fmt.Errorf("scan brief: %w", err)
		}
		if err := decodeTop(topJSON, &b); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list briefs: %w", err)
	}
	return out, nil
}

// GetBrief returns one brief row or radar.ErrNotFound.
func (s *Store) GetBrief(ctx context.Context, prefCode, municipality, category string) (radar.MunicipalityBrief, error) {
	var (
		b       radar.MunicipalityBrief
		topJSON []byte
	)
	err := s.pool.QueryRow(ctx, `
SELECT pref_code, municipality_name, category, brief_text, top_subsidies_json, computed_at
FROM municipality_briefs
WHERE pref_code = $1 AND municipality_name = $2 AND category = $3`, prefCode, municipality, category).
		Scan(&b.PrefCode, &b.MunicipalityName, &b.Category, &b.BriefText, &topJSON, &b.ComputedAt)
	if err != nil {
		return radar.MunicipalityBrief{}, fmt.Errorf("get brief: %w", notFound(err))
	}
	if err := decodeTop(topJSON, &b); err != nil {
		return radar.MunicipalityBrief{}, err
	}
	return b, nil
}

func decodeTop(raw []byte, b *radar.MunicipalityBrief) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &b.TopSubsidies); err != nil {
		return fmt.Errorf("decode top subsidies of %s/%s: %w", b.PrefCode, b.MunicipalityName, err)
	}
	return nil
}

// UpsertPriority writes the daily pick of a prefecture.
func (s *Store) UpsertPriority(ctx context.Context, row radar.PriorityMunicipality) error {
	reason, err := json.Marshal(row.Reason)
	if err != nil {
		return fmt.Errorf("marshal priority reason: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO priority_municipalities (pref_code, municipality_name, score, reason_json, computed_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (pref_code) DO UPDATE SET
	municipality_name = EXCLUDED.municipality_name,
	score = EXCLUDED.score,
	reason_json = EXCLUDED.reason_json,
	computed_at = EXCLUDED.computed_at`,
		row.PrefCode, row.MunicipalityName, row.Score, reason, row.ComputedAt)
	if err != nil {
		return fmt.Errorf("upsert priority %s: %w", row.PrefCode, err)
	}
	return nil
}

// GetPriority returns the pick of a prefecture or radar.ErrNotFound.
func (s *Store) GetPriority(ctx context.Context, prefCode string) (radar.PriorityMunicipality, error) {
	var (
		row    radar.PriorityMunicipality
		reason []byte
	)
	err := s.pool.QueryRow(ctx, `
SELECT pref_code, municipality_name, score, reason_json, computed_at
FROM priority_municipalities
WHERE pref_code = $1`, prefCode).
		Scan(&row.PrefCode, &row.MunicipalityName, &row.Score, &reason, &row.ComputedAt)
	if err != nil {
		return radar.PriorityMunicipality{}, fmt.Errorf("get priority %s: %w", prefCode, notFound(err))
	}
	if len(reason) > 0 {
		if err := json.Unmarshal(reason, &row.Reason); err != nil {
			return radar.PriorityMunicipality{}, fmt.Errorf("decode priority reason %s: %w", prefCode, err)
		}
	}
	return row, nil
}
