package fetcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kizashi/subsidy-radar/internal/radar"
)

func TestHeuristic_ShouldPromote(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		threshold int
		resp      radar.FetchResponse
		want      bool
	}{
		{"empty body", 100, radar.FetchResponse{StatusCode: 200, Body: nil}, true},
		{"spa marker", 100, radar.FetchResponse{StatusCode: 200, Body: []byte(`<div id="__next"></div>`)}, true},
		{"script density", 1000, radar.FetchResponse{StatusCode: 200, Body: []byte(`<html><script>var a=1;</script><p>t</p></html>`)}, true},
		{"plain page", 100, radar.FetchResponse{StatusCode: 200, Body: []byte(`<html><body><p>令和6年度 空き家解体補助金のご案内</p></body></html>`)}, false},
		{"non 2xx", 100, radar.FetchResponse{StatusCode: 404, Body: []byte("not found")}, false},
		{"pdf", 100, radar.FetchResponse{StatusCode: 200, ContentType: "application/pdf", Body: nil}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, NewHeuristic(tc.threshold).ShouldPromote(tc.resp))
		})
	}
}

func TestNewHeuristicDefaultThreshold(t *testing.T) {
	t.Parallel()

	require.Equal(t, 2048, NewHeuristic(0).BodyLengthThreshold)
}

type stubFetcher struct {
	resp  radar.FetchResponse
	err   error
	calls int
}

func (s *stubFetcher) Fetch(_ context.Context, _ radar.FetchRequest) (radar.FetchResponse, error) {
	s.calls++
	return s.resp, s.err
}

func TestPromotingFetch(t *testing.T) {
	t.Parallel()

	shell := radar.FetchResponse{StatusCode: 200, ContentType: "text/html", Body: []byte(`<div id="app"></div>`)}
	rendered := radar.FetchResponse{StatusCode: 200, ContentType: "text/html", Body: []byte(`<div id="app"><a href="/x">補助金</a></div>`), UsedHeadless: true}

	t.Run("promotes spa shell", func(t *testing.T) {
		t.Parallel()
		primary := &stubFetcher{resp: shell}
		headless := &stubFetcher{resp: rendered}
		got, err := NewPromoting(primary, headless, nil, nil).Fetch(context.Background(), radar.FetchRequest{URL: "https://a.example"})
		require.NoError(t, err)
		assert.True(t, got.UsedHeadless)
		assert.Equal(t, 1, headless.calls)
	})

	t.Run("keeps static page when headless fails", func(t *testing.T) {
		t.Parallel()
		primary := &stubFetcher{resp: shell}
		headless := &stubFetcher{err: errors.New("chrome missing")}
		got, err := NewPromoting(primary, headless, nil, nil).Fetch(context.Background(), radar.FetchRequest{URL: "https://a.example"})
		require.NoError(t, err)
		assert.False(t, got.UsedHeadless)
		assert.Equal(t, shell.Body, got.Body)
	})

	t.Run("no headless configured", func(t *testing.T) {
		t.Parallel()
		primary := &stubFetcher{resp: shell}
		got, err := NewPromoting(primary, nil, nil, nil).Fetch(context.Background(), radar.FetchRequest{URL: "https://a.example"})
		require.NoError(t, err)
		assert.Equal(t, shell.Body, got.Body)
	})

	t.Run("static error propagates", func(t *testing.T) {
		t.Parallel()
		primary := &stubFetcher{err: errors.New("dial tcp: refused")}
		headless := &stubFetcher{resp: rendered}
		_, err := NewPromoting(primary, headless, nil, nil).Fetch(context.Background(), radar.FetchRequest{URL: "https://a.example"})
		require.Error(t, err)
		assert.Zero(t, headless.calls)
	})
}
