// Package health summarises source fetch runs and digest delivery for the
// admin endpoints.
package health

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/kizashi/subsidy-radar/internal/radar"
	"github.com/kizashi/subsidy-radar/internal/region"
)

// Windows and caps of the reports.
const (
	SourceWindow   = 24 * time.Hour
	DigestDays     = 7
	TopErrorLimit  = 10
	ErrorTextRunes = 200
)

// Store is the read surface of the reports.
type Store interface {
	SourceRunStats(ctx context.Context, since time.Time) ([]radar.SourceRunStats, error)
	ListDigestLogsSince(ctx context.Context, since time.Time) ([]radar.DigestLog, error)
}

// PrefectureSources is the source health of one prefecture.
type PrefectureSources struct {
	PrefCode       string     `json:"pref_code"`
	PrefName       string     `json:"pref_name"`
	EnabledSources int        `json:"enabled_sources"`
	Success24h     int        `json:"success_24h"`
	Failed24h      int        `json:"failed_24h"`
	LastSuccessAt  *time.Time `json:"last_success_at"`
	FailStreak     int        `json:"fail_streak"`
}

// ErrorCount is one grouped failure reason.
type ErrorCount struct {
	Error string `json:"error"`
	Count int    `json:"count"`
}

// Digest is the delivery summary of the last days.
type Digest struct {
	Since     string       `json:"since"`
	Sent      int          `json:"sent"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	TopErrors []ErrorCount `json:"top_errors"`
}

// Reporter builds health reports.
type Reporter struct {
	store Store
	clock radar.Clock
	loc   *time.Location
}

// New constructs a Reporter. Digest windows start at midnight in loc.
func New(store Store, clock radar.Clock, loc *time.Location) *Reporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Reporter{store: store, clock: clock, loc: loc}
}

// Sources returns one row per prefecture in code order, including
// prefectures without enabled sources.
func (r *Reporter) Sources(ctx context.Context) ([]PrefectureSources, error) {
	stats, err := r.store.SourceRunStats(ctx, r.clock.Now().Add(-SourceWindow))
	if err != nil {
		return nil, fmt.Errorf("load source stats: %w", err)
	}
	byPref := make(map[string][]radar.SourceRunStats)
	for _, st := range stats {
		byPref[st.PrefCode] = append(byPref[st.PrefCode], st)
	}

	prefs := region.All()
	out := make([]PrefectureSources, 0, len(prefs))
	for _, p := range prefs {
		row := PrefectureSources{PrefCode: p.Code, PrefName: p.Name}
		for _, st := range byPref[p.Code] {
			row.EnabledSources++
			row.Success24h += st.Success24h
			row.Failed24h += st.Failed24h
			if st.LastSuccessAt != nil && (row.LastSuccessAt == nil || st.LastSuccessAt.After(*row.LastSuccessAt)) {
				t := *st.LastSuccessAt
				row.LastSuccessAt = &t
			}
			row.FailStreak = max(row.FailStreak, st.FailStreak)
		}
		out = append(out, row)
	}
	return out, nil
}

// Digest counts log rows created since midnight DigestDays ago and groups
// failure reasons by their first ErrorTextRunes runes.
func (r *Reporter) Digest(ctx context.Context) (Digest, error) {
	y, m, d := r.clock.Now().In(r.loc).Date()
	since := time.Date(y, m, d-DigestDays, 0, 0, 0, 0, r.loc)
	logs, err := r.store.ListDigestLogsSince(ctx, since)
	if err != nil {
		return Digest{}, fmt.Errorf("load digest logs: %w", err)
	}

	out := Digest{Since: since.Format(radar.DateLayout), TopErrors: []ErrorCount{}}
	counts := make(map[string]int)
	for _, l := range logs {
		switch l.Status {
		case radar.DigestSent:
			out.Sent++
		case radar.DigestSkipped:
			out.Skipped++
		case radar.DigestFailed:
			out.Failed++
			if l.Error != "" {
				counts[prefix(l.Error, ErrorTextRunes)]++
			}
		}
	}
	for msg, n := range counts {
		out.TopErrors = append(out.TopErrors, ErrorCount{Error: msg, Count: n})
	}
	slices.SortFunc(out.TopErrors, func(a, b ErrorCount) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Error, b.Error))
	})
	if len(out.TopErrors) > TopErrorLimit {
		out.TopErrors = out.TopErrors[:TopErrorLimit]
	}
	return out, nil
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
