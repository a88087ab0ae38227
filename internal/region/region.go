// Package region holds the static prefecture reference table.
package region

// Prefecture is one entry of the JIS prefecture table.
type Prefecture struct {
	Code      string
	Name      string
	Neighbors []string
	Region    string
}

// MaxTrialPrefectures bounds the trial access list.
const MaxTrialPrefectures = 5

var prefectures = []Prefecture{
	{Code: "01", Name: "北海道", Neighbors: nil, Region: "北海道"},
	{Code: "02", Name: "青森県", Neighbors: []string{"01", "03", "05"}, Region: "東北"},
	{Code: "03", Name: "岩手県", Neighbors: []string{"02", "04", "05", "06"}, Region: "東北"},
	{Code: "04", Name: "宮城県", Neighbors: []string{"03", "06", "07"}, Region: "東北"},
	{Code: "05", Name: "秋田県", Neighbors: []string{"02", "03", "06", "07"}, Region: "東北"},
	{Code: "06", Name: "山形県", Neighbors: []string{"03", "04", "05", "07", "15"}, Region: "東北"},
	{Code: "07", Name: "福島県", Neighbors: []string{"04", "05", "06", "08", "09", "10", "15"}, Region: "東北"},
	{Code: "08", Name: "茨城県", Neighbors: []string{"07", "09", "11", "12"}, Region: "関東"},
	{Code: "09", Name: "栃木県", Neighbors: []string{"07", "08", "10", "11", "20"}, Region: "関東"},
	{Code: "10", Name: "群馬県", Neighbors: []string{"07", "09", "11", "15", "20"}, Region: "関東"},
	{Code: "11", Name: "埼玉県", Neighbors: []string{"08", "09", "10", "12", "13", "20"}, Region: "関東"},
	{Code: "12", Name: "千葉県", Neighbors: []string{"08", "11", "13", "14"}, Region: "関東"},
	{Code: "13", Name: "東京都", Neighbors: []string{"11", "12", "14", "19"}, Region: "関東"},
	{Code: "14", Name: "神奈川県", Neighbors: []string{"12", "13", "19", "22"}, Region: "関東"},
	{Code: "15", Name: "新潟県", Neighbors: []string{"06", "07", "10", "16", "20"}, Region: "中部"},
	{Code: "16", Name: "富山県", Neighbors: []string{"15", "17", "20", "21"}, Region: "中部"},
	{Code: "17", Name: "石川県", Neighbors: []string{"16", "18", "21"}, Region: "中部"},
	{Code: "18", Name: "福井県", Neighbors: []string{"17", "21", "25"}, Region: "中部"},
	{Code: "19", Name: "山梨県", Neighbors: []string{"11", "13", "14", "20", "22"}, Region: "中部"},
	{Code: "20", Name: "長野県", Neighbors: []string{"09", "10", "15", "16", "19", "21", "22", "23"}, Region: "中部"},
	{Code: "21", Name: "岐阜県", Neighbors: []string{"16", "17", "18", "20", "23", "24", "25"}, Region: "中部"},
	{Code: "22", Name: "静岡県", Neighbors: []string{"14", "19", "20", "23"}, Region: "中部"},
	{Code: "23", Name: "愛知県", Neighbors: []string{"20", "21", "22", "24"}, Region: "中部"},
	{Code: "24", Name: "三重県", Neighbors: []string{"21", "23", "25", "26", "30"}, Region: "近畿"},
	{Code: "25", Name: "滋賀県", Neighbors: []string{"18", "21", "24", "26", "27"}, Region: "近畿"},
	{Code: "26", Name: "京都府", Neighbors: []string{"24", "25", "27", "28", "30"}, Region: "近畿"},
	{Code: "27", Name: "大阪府", Neighbors: []string{"25", "26", "28", "29", "30"}, Region: "近畿"},
	{Code: "28", Name: "兵庫県", Neighbors: []string{"26", "27", "31", "33", "36"}, Region: "近畿"},
	{Code: "29", Name: "奈良県", Neighbors: []string{"24", "26", "27", "30"}, Region: "近畿"},
	{Code: "30", Name: "和歌山県", Neighbors: []string{"24", "26", "27", "29"}, Region: "近畿"},
	{Code: "31", Name: "鳥取県", Neighbors: []string{"28", "32", "33", "34"}, Region: "中国"},
	{Code: "32", Name: "島根県", Neighbors: []string{"31", "33", "35"}, Region: "中国"},
	{Code: "33", Name: "岡山県", Neighbors: []string{"28", "31", "32", "34", "37"}, Region: "中国"},
	{Code: "34", Name: "広島県", Neighbors: []string{"31", "33", "35", "38"}, Region: "中国"},
	{Code: "35", Name: "山口県", Neighbors: []string{"32", "34", "40"}, Region: "中国"},
	{Code: "36", Name: "徳島県", Neighbors: []string{"28", "37", "39"}, Region: "四国"},
	{Code: "37", Name: "香川県", Neighbors: []string{"33", "36", "38"}, Region: "四国"},
	{Code: "38", Name: "愛媛県", Neighbors: []string{"34", "37", "39"}, Region: "四国"},
	{Code: "39", Name: "高知県", Neighbors: []string{"36", "38"}, Region: "四国"},
	{Code: "40", Name: "福岡県", Neighbors: []string{"35", "41", "43"}, Region: "九州"},
	{Code: "41", Name: "佐賀県", Neighbors: []string{"40", "42", "43"}, Region: "九州"},
	{Code: "42", Name: "長崎県", Neighbors: []string{"41"}, Region: "九州"},
	{Code: "43", Name: "熊本県", Neighbors: []string{"40", "41", "44", "45", "46"}, Region: "九州"},
	{Code: "44", Name: "大分県", Neighbors: []string{"43", "45"}, Region: "九州"},
	{Code: "45", Name: "宮崎県", Neighbors: []string{"43", "44", "46"}, Region: "九州"},
	{Code: "46", Name: "鹿児島県", Neighbors: []string{"43", "45"}, Region: "九州"},
	{Code: "47", Name: "沖縄県", Neighbors: nil, Region: "沖縄"},
}

var (
	byCode   = make(map[string]Prefecture, len(prefectures))
	byRegion = make(map[string][]Prefecture)
)

func init() {
	for _, p := range prefectures {
		byCode[p.Code] = p
		byRegion[p.Region] = append(byRegion[p.Region], p)
	}
}

// All returns the 47 prefectures in code order.
func All() []Prefecture {
	out := make([]Prefecture, len(prefectures))
	copy(out, prefectures)
	return out
}

// ByCode looks up a prefecture by its two-digit code.
func ByCode(code string) (Prefecture, bool) {
	p, ok := byCode[code]
	return p, ok
}

// IsValidCode reports whether code names a known prefecture.
func IsValidCode(code string) bool {
	_, ok := byCode[code]
	return ok
}

// NameOf returns the prefecture name, or the code itself when unknown.
func NameOf(code string) string {
	if p, ok := byCode[code]; ok {
		return p.Name
	}
	return code
}

// AccessCodesForTrial returns the home prefecture followed by its neighbours,
// topped up from the same region, up to MaxTrialPrefectures codes.
func AccessCodesForTrial(home string) []string {
	p, ok := byCode[home]
	if !ok {
		return []string{home}
	}
	result := []string{home}
	used := map[string]bool{home: true}
	add := func(code string) {
		if len(result) >= MaxTrialPrefectures || used[code] {
			return
		}
		result = append(result, code)
		used[code] = true
	}
	for _, code := range p.Neighbors {
		add(code)
	}
	for _, other := range byRegion[p.Region] {
		add(other.Code)
	}
	return result
}
