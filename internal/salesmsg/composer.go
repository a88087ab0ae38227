// Package salesmsg renders copy-ready outreach messages from aggregated
// municipality data. Messages are fixed templates with field substitution only.
package salesmsg

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kizashi/subsidy-radar/internal/radar"
	"github.com/kizashi/subsidy-radar/internal/taxonomy"
)

// Disclaimer closes every generated message.
const Disclaimer = "※制度内容・条件は自治体の公式ページで必ずご確認ください。"

const noSubsidiesLine = "（該当する補助金の詳細は自治体ページでご確認ください）"

// Input is the data a message is built from.
type Input struct {
	PrefName            string
	MunicipalityName    string
	Category            string
	ActiveCount         int
	UpcomingCount       int
	NearestDeadlineDate string
	TopSubsidies        []radar.TopSubsidy
}

// Output carries the short (SMS/DM) and long (mail/proposal) variants.
type Output struct {
	Short string `json:"message_short"`
	Long  string `json:"message_long"`
}

type messageTemplate struct {
	short func(v vars) string
	long  func(v vars) string
}

type vars struct {
	pref, mun         string
	total, active, up int
	deadline          string
	list              string
}

var ymdPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// FormatDeadline renders YYYY-MM-DD as YYYY年MM月DD日 and empty as 未定.
// Other strings are returned unchanged.
func FormatDeadline(d string) string {
	if d == "" {
		return "未定"
	}
	ymd := d
	if len(ymd) > 10 {
		ymd = ymd[:10]
	}
	if ymdPattern.MatchString(ymd) {
		return ymd[0:4] + "年" + ymd[5:7] + "月" + ymd[8:10] + "日"
	}
	return d
}

func subsidyLines(subsidies []radar.TopSubsidy) string {
	if len(subsidies) == 0 {
		return noSubsidiesLine
	}
	lines := make([]string, 0, len(subsidies))
	for _, s := range subsidies {
		deadline := ""
		if s.Deadline != nil {
			deadline = *s.Deadline
		}
		lines = append(lines, fmt.Sprintf("・%s（締切：%s）", s.Title, FormatDeadline(deadline)))
	}
	return strings.Join(lines, "\n")
}

// longMessage lays out the proposal-length variant. deadlineLead differs
// between the overview template and the category templates.
func longMessage(heading, intro, deadlineLead, listLabel, closing string, v vars) string {
	return strings.Join([]string{
		heading,
		"",
		intro,
		fmt.Sprintf("%s%sです。", deadlineLead, v.deadline),
		"",
		listLabel,
		v.list,
		"",
		closing,
		"",
		Disclaimer,
	}, "\n")
}

var templates = map[string]messageTemplate{
	taxonomy.All: {
		short: func(v vars) string {
			return fmt.Sprintf("%s%sで補助金が%d件あります。募集中%d件、これから%d件。直近締切は%sです。詳しくは自治体ページをご確認ください。\n%s",
				v.pref, v.mun, v.total, v.active, v.up, v.deadline, Disclaimer)
		},
		long: func(v vars) string {
			return longMessage(
				fmt.Sprintf("【%s %s 補助金のご案内】", v.pref, v.mun),
				fmt.Sprintf("%sでは現在、補助金が%d件あります（募集中%d件、これから募集%d件）。", v.mun, v.total, v.active, v.up),
				"直近の締切は",
				"代表的な補助金：",
				"制度の条件・申請方法は自治体の公式ページで必ずご確認のうえ、お客様へご案内ください。",
				v)
		},
	},
	taxonomy.Demolition: {
		short: func(v vars) string {
			return fmt.Sprintf("%sで解体・除却関連の補助金が%d件。募集中%d件。直近締切%s。該当するお客様への案内にご利用ください。\n%s",
				v.mun, v.total, v.active, v.deadline, Disclaimer)
		},
		long: func(v vars) string {
			return longMessage(
				fmt.Sprintf("【%s 解体・除却関連補助のご案内】", v.mun),
				fmt.Sprintf("現在、%sで解体・除却に関連する補助金が%d件あります（募集中%d件）。", v.mun, v.total, v.active),
				"直近締切は",
				"主な制度：",
				"老朽建物の解体やブロック塀撤去などでご検討中の方への案内材料としてご利用ください。条件は自治体ページでご確認ください。",
				v)
		},
	},
	taxonomy.VacantHouse: {
		short: func(v vars) string {
			return fmt.Sprintf("%sの空き家対策・除却等の補助が%d件。募集中%d件、締切%s。空き家でお困りの方への提案にどうぞ。\n%s",
				v.mun, v.total, v.active, v.deadline, Disclaimer)
		},
		long: func(v vars) string {
			return longMessage(
				fmt.Sprintf("【%s 空き家対策補助のご案内】", v.mun),
				fmt.Sprintf("%sでは空き家の除却・利活用等の補助が%d件あります（募集中%d件）。", v.mun, v.total, v.active),
				"直近締切は",
				"主な制度：",
				"空き家でお困りのお客様への提案の参考にしてください。制度内容は自治体の公式ページで必ずご確認ください。",
				v)
		},
	},
	taxonomy.EstateClearing: {
		short: func(v vars) string {
			return fmt.Sprintf("%sで片付け・遺品整理等の補助が%d件。募集中%d件、締切%s。ご依頼検討中の方への一案として。\n%s",
				v.mun, v.total, v.active, v.deadline, Disclaimer)
		},
		long: func(v vars) string {
			return longMessage(
				fmt.Sprintf("【%s 片付け・整理関連補助のご案内】", v.mun),
				fmt.Sprintf("%sで残置物・片付け・遺品整理等に関連する補助が%d件あります（募集中%d件）。", v.mun, v.total, v.active),
				"直近締切は",
				"主な制度：",
				"ご依頼検討中のお客様への一案としてご利用ください。条件は自治体ページでご確認ください。",
				v)
		},
	},
	taxonomy.ElderlyReform: {
		short: func(v vars) string {
			return fmt.Sprintf("%sで高齢者向け住宅改修の補助が%d件。募集中%d件、締切%s。バリアフリー改修の提案に。\n%s",
				v.mun, v.total, v.active, v.deadline, Disclaimer)
		},
		long: func(v vars) string {
			return longMessage(
				fmt.Sprintf("【%s 高齢者向け住宅改修補助のご案内】", v.mun),
				fmt.Sprintf("%sでは高齢者向けの住宅改修（手すり・段差解消等）の補助が%d件あります（募集中%d件）。", v.mun, v.total, v.active),
				"直近締切は",
				"主な制度：",
				"バリアフリー改修のご提案の材料としてご利用ください。制度内容は自治体の公式ページで必ずご確認ください。",
				v)
		},
	},
	taxonomy.Energy: {
		short: func(v vars) string {
			return fmt.Sprintf("%sで省エネ・断熱等の補助が%d件。募集中%d件、締切%s。リフォーム提案の材料に。\n%s",
				v.mun, v.total, v.active, v.deadline, Disclaimer)
		},
		long: func(v vars) string {
			return longMessage(
				fmt.Sprintf("【%s 省エネ・断熱等補助のご案内】", v.mun),
				fmt.Sprintf("%sで省エネ・断熱・太陽光等の補助が%d件あります（募集中%d件）。", v.mun, v.total, v.active),
				"直近締切は",
				"主な制度：",
				"リフォーム提案の参考にしてください。条件は自治体ページでご確認ください。",
				v)
		},
	},
	taxonomy.Seismic: {
		short: func(v vars) string {
			return fmt.Sprintf("%sで耐震関連の補助が%d件。募集中%d件、締切%s。耐震改修の案内にご利用ください。\n%s",
				v.mun, v.total, v.active, v.deadline, Disclaimer)
		},
		long: func(v vars) string {
			return longMessage(
				fmt.Sprintf("【%s 耐震関連補助のご案内】", v.mun),
				fmt.Sprintf("%sで耐震改修・耐震診断等の補助が%d件あります（募集中%d件）。", v.mun, v.total, v.active),
				"直近締切は",
				"主な制度：",
				"耐震改修のご案内にご利用ください。制度内容は自治体の公式ページで必ずご確認ください。",
				v)
		},
	},
	taxonomy.BusinessSupport: {
		short: func(v vars) string {
			return fmt.Sprintf("%sで事業者向け補助が%d件。募集中%d件、締切%s。条件は自治体ページでご確認ください。\n%s",
				v.mun, v.total, v.active, v.deadline, Disclaimer)
		},
		long: func(v vars) string {
			return longMessage(
				fmt.Sprintf("【%s 事業者向け補助のご案内】", v.mun),
				fmt.Sprintf("%sで事業者向けの補助が%d件あります（募集中%d件）。", v.mun, v.total, v.active),
				"直近締切は",
				"主な制度：",
				"条件・申請方法は自治体の公式ページで必ずご確認ください。",
				v)
		},
	},
	taxonomy.Other: {
		short: func(v vars) string {
			return fmt.Sprintf("%sで補助金が%d件。募集中%d件、締切%s。詳細は自治体ページでご確認ください。\n%s",
				v.mun, v.total, v.active, v.deadline, Disclaimer)
		},
		long: func(v vars) string {
			return longMessage(
				fmt.Sprintf("【%s %s 補助金のご案内】", v.pref, v.mun),
				fmt.Sprintf("%sで補助金が%d件あります（募集中%d件）。", v.mun, v.total, v.active),
				"直近締切は",
				"代表的な制度：",
				"制度内容・条件は自治体の公式ページで必ずご確認ください。",
				v)
		},
	},
}

// Compose builds both message variants. Unknown categories use the All
// templates.
func Compose(in Input) Output {
	tpl, ok := templates[in.Category]
	if !ok {
		tpl = templates[taxonomy.All]
	}
	v := vars{
		pref:     in.PrefName,
		mun:      in.MunicipalityName,
		total:    in.ActiveCount + in.UpcomingCount,
		active:   in.ActiveCount,
		up:       in.UpcomingCount,
		deadline: FormatDeadline(in.NearestDeadlineDate),
		list:     subsidyLines(in.TopSubsidies),
	}
	return Output{Short: tpl.short(v), Long: tpl.long(v)}
}
