package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestExtractDatesReiwa(t *testing.T) {
	t.Parallel()

	r := ExtractDates("申請期限：令和6年5月1日")
	require.True(t, r.Found())
	assert.Equal(t, day(2024, time.May, 1), *r.Start)
	assert.Equal(t, day(2024, time.May, 1), *r.Deadline)
}

func TestExtractDatesFamilies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want time.Time
	}{
		{name: "reiwa with spaces", text: "令和 7 年 3 月 31 日", want: day(2025, time.March, 31)},
		{name: "reiwa without day suffix", text: "令和5年10月2", want: day(2023, time.October, 2)},
		{name: "reiwa short", text: "締切 R6.9.30 必着", want: day(2024, time.September, 30)},
		{name: "reiwa short no dot after R", text: "R7. 1. 15", want: day(2025, time.January, 15)},
		{name: "kanji gregorian", text: "2024年6月3日", want: day(2024, time.June, 3)},
		{name: "slash", text: "2024/06/03", want: day(2024, time.June, 3)},
		{name: "dash", text: "2024-6-3", want: day(2024, time.June, 3)},
		{name: "full width digits", text: "令和６年５月１日", want: day(2024, time.May, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := ExtractDates(tt.text)
			require.True(t, r.Found())
			assert.Equal(t, tt.want, *r.Start)
		})
	}
}

func TestExtractDatesRange(t *testing.T) {
	t.Parallel()

	r := ExtractDates("受付 2024/04/01 〜 令和6年6月28日 掲載日 2024-03-15")
	require.True(t, r.Found())
	assert.Equal(t, day(2024, time.March, 15), *r.Start)
	assert.Equal(t, day(2024, time.June, 28), *r.End)
	assert.Equal(t, *r.End, *r.Deadline)
}

func TestExtractDatesRejectsNoise(t *testing.T) {
	t.Parallel()

	for _, text := range []string{
		"",
		"お問い合わせ 0120-12-34",
		"2024/13/01",
		"2023-02-29",
		"令和0年1月1日",
		"PR1.2.3",
	} {
		r := ExtractDates(text)
		assert.False(t, r.Found(), text)
		assert.Nil(t, r.Start, text)
	}
}
