package seed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kizashi/subsidy-radar/internal/radar"
	"github.com/kizashi/subsidy-radar/internal/storage/memory"
)

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("src-%02d", s.n), nil
}

// TestDefaultsCoverEveryPrefecture confirms the portal catalogue shape.
func TestDefaultsCoverEveryPrefecture(t *testing.T) {
	t.Parallel()
	entries := Defaults()
	require.Len(t, entries, 47)

	first := entries[0].Source("x")
	assert.Equal(t, "01", first.PrefCode)
	assert.Equal(t, "https://hojyokin-portal.jp/subsidies/list?pref_id=1", first.URL)
	assert.Equal(t, "北海道 補助金一覧", first.Name)
	assert.Equal(t, radar.SourceTypeSubsidy, first.SourceType)
	assert.True(t, first.Enabled)
	assert.Equal(t, DefaultIntervalMinutes, first.IntervalMinutes)

	assert.Equal(t, "https://hojyokin-portal.jp/subsidies/list?pref_id=47", entries[46].URL)
}

// TestParseRejectsInvalidEntries confirms catalogue validation.
func TestParseRejectsInvalidEntries(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "bad pref", yaml: "sources:\n  - pref_code: \"99\"\n    url: https://a.example\n", want: "unknown pref_code"},
		{name: "missing url", yaml: "sources:\n  - pref_code: \"13\"\n", want: "url is required"},
		{name: "bad type", yaml: "sources:\n  - pref_code: \"13\"\n    url: https://a.example\n    source_type: news\n", want: "unknown source_type"},
		{name: "not yaml", yaml: "sources: [", want: "decode catalogue"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

// TestMergeOverridesAndAppends confirms overlay semantics by key.
func TestMergeOverridesAndAppends(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`sources:
  - pref_code: "13"
    url: https://www.city.example.tokyo.jp/hojo/
    enabled: false
  - pref_code: "13"
    source_type: tender
    name: 東京都 入札
    url: https://www.city.example.tokyo.jp/nyusatsu/
`), 0o600))

	extra, err := LoadFile(path)
	require.NoError(t, err)
	merged := Merge(Defaults(), extra)
	require.Len(t, merged, 48)

	tokyo := merged[12].Source("id")
	assert.Equal(t, "https://www.city.example.tokyo.jp/hojo/", tokyo.URL)
	assert.Equal(t, "東京都 補助金一覧", tokyo.Name)
	assert.False(t, tokyo.Enabled)

	tender := merged[47].Source("id")
	assert.Equal(t, radar.SourceTypeTender, tender.SourceType)
	assert.Equal(t, DefaultIntervalMinutes, tender.IntervalMinutes)
}

// TestRunKeepsExistingIdentity confirms re-seeding refreshes rows in place.
func TestRunKeepsExistingIdentity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewStore()
	s := New(store, &seqIDs{}, nil)

	n, err := s.Run(ctx, Defaults())
	require.NoError(t, err)
	assert.Equal(t, 47, n)

	_, err = s.Run(ctx, Merge(Defaults(), []Entry{{PrefCode: "01", URL: "https://example.hokkaido.jp/"}}))
	require.NoError(t, err)

	sources, err := store.ListEnabledSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 47)
	assert.Equal(t, "src-01", sources[0].ID)
	assert.Equal(t, "https://example.hokkaido.jp/", sources[0].URL)
}

// TestLoadFileMissing confirms a readable error for a bad path.
func TestLoadFileMissing(t *testing.T) {
	t.Parallel()
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "read catalogue")
}
