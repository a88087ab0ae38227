// Package taxonomy maps subsidy text to a fixed category list using ordered
// keyword dictionaries.
package taxonomy

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Category codes. All is only used as an aggregation bucket.
const (
	All             = "ALL"
	Demolition      = "DEMOLITION"
	VacantHouse     = "VACANT_HOUSE"
	EstateClearing  = "ESTATE_CLEARING"
	ElderlyReform   = "ELDERLY_REFORM"
	Seismic         = "SEISMIC"
	Energy          = "ENERGY"
	BusinessSupport = "BUSINESS_SUPPORT"
	Other           = "OTHER"
)

// Categories lists every classifiable category in priority order.
var Categories = []string{
	Demolition,
	VacantHouse,
	EstateClearing,
	ElderlyReform,
	Seismic,
	Energy,
	BusinessSupport,
	Other,
}

// MainCategoriesForScores are the categories that get their own score buckets
// alongside All.
var MainCategoriesForScores = []string{
	Demolition,
	VacantHouse,
	EstateClearing,
	ElderlyReform,
	Energy,
}

var labels = map[string]string{
	All:             "全体",
	Demolition:      "解体",
	VacantHouse:     "空き家",
	EstateClearing:  "残置物・片付け",
	ElderlyReform:   "高齢者改修",
	Seismic:         "耐震",
	Energy:          "省エネ・エネルギー",
	BusinessSupport: "事業者支援",
	Other:           "その他",
}

type rule struct {
	category string
	keywords []string
}

// rules are evaluated top to bottom; the first keyword hit wins.
var rules = compile([]rule{
	{Demolition, []string{"解体", "除却", "撤去", "老朽", "ブロック塀撤去", "建物撤去"}},
	{VacantHouse, []string{"空き家", "空家", "特定空家", "利活用", "空き家除却", "空き家対策"}},
	{EstateClearing, []string{"残置物", "家財", "片付け", "整理", "遺品", "ごみ屋敷", "遺品整理", "生前整理"}},
	{ElderlyReform, []string{"高齢者", "バリアフリー", "手すり", "段差解消", "介護", "住宅改修", "在宅"}},
	{Seismic, []string{"耐震", "耐震改修", "耐震診断", "耐震化"}},
	{Energy, []string{"省エネ", "断熱", "ゼロカーボン", "太陽光", "蓄電池", "窓改修", "ZEH", "リフォーム"}},
	{BusinessSupport, []string{"事業者", "中小企業", "設備投資", "補助", "助成", "創業", "販路", "DX", "小規模事業者", "経営"}},
})

func compile(in []rule) []rule {
	out := make([]rule, len(in))
	for i, r := range in {
		kws := make([]string, len(r.keywords))
		for j, kw := range r.keywords {
			kws[j] = norm.NFKC.String(kw)
		}
		out[i] = rule{category: r.category, keywords: kws}
	}
	return out
}

// Classify returns the category for a subsidy title and summary.
func Classify(title, summary string) string {
	text := norm.NFKC.String(title + "\n" + summary)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return r.category
			}
		}
	}
	return Other
}

// Label returns the display label for a category code, or the code itself.
func Label(category string) string {
	if l, ok := labels[category]; ok {
		return l
	}
	return category
}

// IsAllowed reports whether category is All or a classifiable category.
func IsAllowed(category string) bool {
	_, ok := labels[category]
	return ok
}

// IsMain reports whether category gets its own score bucket.
func IsMain(category string) bool {
	for _, c := range MainCategoriesForScores {
		if c == category {
			return true
		}
	}
	return false
}
