// Package scoring aggregates subsidies into municipality scores, briefs and
// the daily priority pick of each prefecture.
package scoring

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kizashi/subsidy-radar/internal/radar"
	"github.com/kizashi/subsidy-radar/internal/taxonomy"
)

// Score weights.
const (
	ActiveWeight      = 10
	UpcomingWeight    = 4
	DeadlineBonusDays = 30
	TopSubsidyCount   = 3
)

// ScoreRow pairs a score with the brief of the same key.
type ScoreRow struct {
	Score radar.MunicipalityScore
	Brief radar.MunicipalityBrief
}

// MunicipalityOf returns the aggregation label of an item.
func MunicipalityOf(item radar.SubsidyItem) string {
	if name := strings.TrimSpace(item.MunicipalityName); name != "" {
		return name
	}
	return radar.PrefectureWide
}

// DaysFromToday returns the rounded day distance from today to d, clamped at 0.
func DaysFromToday(d, today time.Time) int {
	return max(radar.DaysBetween(today, d), 0)
}

// DeadlineBonus is 30 minus the days left when the deadline is within 0..30
// days, otherwise 0.
func DeadlineBonus(days *int) int {
	if days == nil || *days < 0 || *days > DeadlineBonusDays {
		return 0
	}
	return DeadlineBonusDays - *days
}

// Score applies the municipality score formula.
func Score(active, upcoming int, nearestDays *int) int {
	return active*ActiveWeight + upcoming*UpcomingWeight + DeadlineBonus(nearestDays)
}

// BriefText renders the sales brief of one score key.
func BriefText(municipality string, active, upcoming int, nearest *time.Time) string {
	date := "未定"
	if nearest != nil {
		date = radar.FormatDate(nearest)
	}
	return fmt.Sprintf("%sで募集中の補助金が%d件、これから募集のものが%d件。直近締切は%s。関連する工事・片付け系の需要が発生しやすいので早めの提案推奨。",
		municipality, active, upcoming, date)
}

type bucket struct {
	active    int
	upcoming  int
	nearest   *time.Time
	subsidies []radar.TopSubsidy
}

// ComputeMunicipalityScores groups active and upcoming items by prefecture,
// municipality and category (ALL plus each main category) and returns one row
// per key, ordered by key. today is a UTC midnight date; now stamps the rows.
func ComputeMunicipalityScores(items []radar.SubsidyItem, today, now time.Time) []ScoreRow {
	buckets := make(map[radar.ScoreKey]*bucket)
	add := func(key radar.ScoreKey, item radar.SubsidyItem) {
		b, ok := buckets[key]
		if !ok {
			b = &bucket{}
			buckets[key] = b
		}
		switch item.Status {
		case radar.StatusActive:
			b.active++
		case radar.StatusUpcoming:
			b.upcoming++
		}
		d := item.EffectiveDeadline()
		if d != nil && (b.nearest == nil || d.Before(*b.nearest)) {
			nearest := *d
			b.nearest = &nearest
		}
		var deadline *string
		if d != nil {
			s := radar.FormatDate(d)
			deadline = &s
		}
		b.subsidies = append(b.subsidies, radar.TopSubsidy{
			Title:    item.Title,
			URL:      item.SourceURL,
			Deadline: deadline,
			Status:   string(item.Status),
		})
	}

	for _, item := range items {
		if item.Status != radar.StatusActive && item.Status != radar.StatusUpcoming {
			continue
		}
		mun := MunicipalityOf(item)
		add(radar.ScoreKey{PrefCode: item.PrefCode, MunicipalityName: mun, Category: taxonomy.All}, item)
		category := cmp.Or(item.Category, taxonomy.Other)
		if taxonomy.IsMain(category) {
			add(radar.ScoreKey{PrefCode: item.PrefCode, MunicipalityName: mun, Category: category}, item)
		}
	}

	rows := make([]ScoreRow, 0, len(buckets))
	for key, b := range buckets {
		var days *int
		if b.nearest != nil {
			n := DaysFromToday(*b.nearest, today)
			days = &n
		}
		rows = append(rows, ScoreRow{
			Score: radar.MunicipalityScore{
				PrefCode:            key.PrefCode,
				MunicipalityName:    key.MunicipalityName,
				Category:            key.Category,
				ActiveCount:         b.active,
				UpcomingCount:       b.upcoming,
				NearestDeadlineDate: b.nearest,
				NearestDeadlineDays: days,
				Score:               Score(b.active, b.upcoming, days),
				ComputedAt:          now,
			},
			Brief: radar.MunicipalityBrief{
				PrefCode:         key.PrefCode,
				MunicipalityName: key.MunicipalityName,
				Category:         key.Category,
				BriefText:        BriefText(key.MunicipalityName, b.active, b.upcoming, b.nearest),
				TopSubsidies:     topSubsidies(b.subsidies),
				ComputedAt:       now,
			},
		})
	}
	slices.SortFunc(rows, func(a, b ScoreRow) int { return compareKeys(a.Score.Key(), b.Score.Key()) })
	return rows
}

// ZeroBrief is the brief written for a key that no longer has items.
func ZeroBrief(key radar.ScoreKey, now time.Time) radar.MunicipalityBrief {
	return radar.MunicipalityBrief{
		PrefCode:         key.PrefCode,
		MunicipalityName: key.MunicipalityName,
		Category:         key.Category,
		BriefText:        BriefText(key.MunicipalityName, 0, 0, nil),
		TopSubsidies:     []radar.TopSubsidy{},
		ComputedAt:       now,
	}
}

func topSubsidies(all []radar.TopSubsidy) []radar.TopSubsidy {
	sorted := slices.Clone(all)
	slices.SortStableFunc(sorted, func(a, b radar.TopSubsidy) int {
		switch {
		case a.Deadline == nil && b.Deadline == nil:
		case a.Deadline == nil:
			return 1
		case b.Deadline == nil:
			return -1
		default:
			if c := cmp.Compare(*a.Deadline, *b.Deadline); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.Title, b.Title)
	})
	if len(sorted) > TopSubsidyCount {
		sorted = sorted[:TopSubsidyCount]
	}
	return sorted
}

func compareKeys(a, b radar.ScoreKey) int {
	return cmp.Or(
		cmp.Compare(a.PrefCode, b.PrefCode),
		cmp.Compare(a.MunicipalityName, b.MunicipalityName),
		cmp.Compare(a.Category, b.Category),
	)
}
