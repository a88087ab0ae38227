package taxonomy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		title   string
		summary string
		want    string
	}{
		{name: "demolition beats energy", title: "老朽住宅の解体と省エネ改修", want: Demolition},
		{name: "energy in summary", title: "住宅支援", summary: "断熱窓への交換", want: Energy},
		{name: "vacant house", title: "空き家活用支援", want: VacantHouse},
		{name: "estate clearing", title: "家財の片付け費用", want: EstateClearing},
		{name: "elderly reform", title: "手すり設置", want: ElderlyReform},
		{name: "seismic", title: "木造住宅耐震診断", want: Seismic},
		{name: "business support", title: "創業支援金", want: BusinessSupport},
		{name: "full width latin normalised", title: "ＺＥＨ住宅", want: Energy},
		{name: "half width katakana normalised", title: "ﾘﾌｫｰﾑ", want: Energy},
		{name: "no keyword", title: "子育て世帯向け給付", want: Other},
		{name: "empty", want: Other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Classify(tt.title, tt.summary))
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	t.Parallel()

	title := "ブロック塀撤去と太陽光パネル設置の補助"
	first := Classify(title, "中小企業向け")
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Classify(title, "中小企業向け"))
	}
	assert.Equal(t, Demolition, first)
}

func TestLabelsAndMembership(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "全体", Label(All))
	assert.Equal(t, "残置物・片付け", Label(EstateClearing))
	assert.Equal(t, "UNKNOWN", Label("UNKNOWN"))
	assert.True(t, IsAllowed(All))
	assert.True(t, IsAllowed(Other))
	assert.False(t, IsAllowed("demolition"))
	assert.True(t, IsMain(Energy))
	assert.False(t, IsMain(Seismic))
	assert.False(t, IsMain(All))
}
