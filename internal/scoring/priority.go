package scoring

import (
	"slices"
	"strings"
	"time"

	"github.com/kizashi/subsidy-radar/internal/radar"
	"github.com/kizashi/subsidy-radar/internal/taxonomy"
)

// Priority weights.
const (
	PriorityActiveWeight    = 3
	PriorityUpcomingWeight  = 1
	PriorityDeadline7Weight = 5
	PriorityDeadline3Weight = 8
)

type categoryWeight struct {
	category string
	weight   int
}

// boostOrder is scanned top to bottom; the first category with items wins.
var boostOrder = []categoryWeight{
	{taxonomy.Demolition, 5},
	{taxonomy.VacantHouse, 4},
	{taxonomy.EstateClearing, 4},
	{taxonomy.ElderlyReform, 2},
	{taxonomy.Energy, 1},
}

// CategoryBoost returns the boost category and weight for the per-category
// scores of one municipality, or OTHER with weight 0.
func CategoryBoost(byCategory map[string]radar.MunicipalityScore) (string, int) {
	for _, cw := range boostOrder {
		s, ok := byCategory[cw.category]
		if ok && (s.ActiveCount > 0 || s.UpcomingCount > 0) {
			return cw.category, cw.weight
		}
	}
	return taxonomy.Other, 0
}

// PriorityScore applies the priority formula to a reason.
func PriorityScore(r radar.PriorityReason, weight int) int {
	return r.Active*PriorityActiveWeight +
		r.Upcoming*PriorityUpcomingWeight +
		r.Deadline7*PriorityDeadline7Weight +
		r.Deadline3*PriorityDeadline3Weight +
		weight
}

// DeadlineCounts counts items whose effective deadline falls within
// [today, today+7] and [today, today+3], per municipality label.
func DeadlineCounts(items []radar.SubsidyItem, today time.Time) (within7, within3 map[string]int) {
	within7 = make(map[string]int)
	within3 = make(map[string]int)
	in7 := today.AddDate(0, 0, 7)
	in3 := today.AddDate(0, 0, 3)
	for _, item := range items {
		if item.Status != radar.StatusActive {
			continue
		}
		d := item.EffectiveDeadline()
		if d == nil || d.Before(today) || d.After(in7) {
			continue
		}
		mun := MunicipalityOf(item)
		within7[mun]++
		if !d.After(in3) {
			within3[mun]++
		}
	}
	return within7, within3
}

// PickPriority selects the municipality with the strictly highest priority
// score from the ALL-category scores of one prefecture. Candidates are visited
// by name ascending, so the lexicographically first name wins ties. Rows
// without active or upcoming items are not candidates. It returns false when
// no candidate exists.
func PickPriority(prefCode string, allScores, categoryScores []radar.MunicipalityScore, deadlineItems []radar.SubsidyItem, today time.Time) (radar.PriorityMunicipality, bool) {
	byMunicipality := make(map[string]map[string]radar.MunicipalityScore)
	for _, s := range categoryScores {
		if s.PrefCode != prefCode || s.Category == taxonomy.All {
			continue
		}
		m, ok := byMunicipality[s.MunicipalityName]
		if !ok {
			m = make(map[string]radar.MunicipalityScore)
			byMunicipality[s.MunicipalityName] = m
		}
		m[s.Category] = s
	}
	within7, within3 := DeadlineCounts(deadlineItems, today)

	candidates := make([]radar.MunicipalityScore, 0, len(allScores))
	for _, s := range allScores {
		if s.PrefCode == prefCode && s.Category == taxonomy.All && (s.ActiveCount > 0 || s.UpcomingCount > 0) {
			candidates = append(candidates, s)
		}
	}
	slices.SortStableFunc(candidates, func(a, b radar.MunicipalityScore) int {
		return strings.Compare(a.MunicipalityName, b.MunicipalityName)
	})

	var (
		best  radar.PriorityMunicipality
		found bool
	)
	for _, s := range candidates {
		boost, weight := CategoryBoost(byMunicipality[s.MunicipalityName])
		reason := radar.PriorityReason{
			Active:        s.ActiveCount,
			Upcoming:      s.UpcomingCount,
			Deadline7:     within7[s.MunicipalityName],
			Deadline3:     within3[s.MunicipalityName],
			CategoryBoost: boost,
		}
		score := PriorityScore(reason, weight)
		if !found || score > best.Score {
			best = radar.PriorityMunicipality{
				PrefCode:         prefCode,
				MunicipalityName: s.MunicipalityName,
				Score:            score,
				Reason:           reason,
				ComputedAt:       today,
			}
			found = true
		}
	}
	return best, found
}
