package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kizashi/subsidy-radar/internal/radar"
)

func radarRequest(url string) radar.FetchRequest {
	return radar.FetchRequest{URL: url}
}

// TestNewChromedpDefaults confirms validation and the Japanese defaults.
func TestNewChromedpDefaults(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	f, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	defer f.Close()
	assert.NotNil(t, f.tabs)
	assert.Equal(t, defaultNavTimeout, f.cfg.NavigationTimeout)
	assert.Equal(t, defaultSettle, f.cfg.SettleDelay)
	assert.Equal(t, "ja-JP", f.cfg.Locale)
	assert.Equal(t, "Asia/Tokyo", f.cfg.Timezone)

	unbounded, err := NewChromedp(Config{SettleDelay: time.Second, Locale: "en-US"})
	require.NoError(t, err)
	defer unbounded.Close()
	assert.Nil(t, unbounded.tabs)
	assert.Equal(t, time.Second, unbounded.cfg.SettleDelay)
	assert.Equal(t, "en-US", unbounded.cfg.Locale)
}

// TestFetchWaitsForTab confirms a full tab pool honors the caller's context.
func TestFetchWaitsForTab(t *testing.T) {
	t.Parallel()

	f, err := NewChromedp(Config{MaxParallel: 1})
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.tabs.Acquire(context.Background(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Fetch(ctx, radarRequest("https://www.city.example.lg.jp/"))
	require.ErrorIs(t, err, context.Canceled)
}

// TestNetworkHeaders confirms repeated values are joined for CDP.
func TestNetworkHeaders(t *testing.T) {
	t.Parallel()

	got := networkHeaders(http.Header{
		"Accept":    {"text/html", "application/xhtml+xml"},
		"X-Request": {"abc"},
		"X-Empty":   {},
	})
	assert.Equal(t, network.Headers{
		"Accept":    "text/html, application/xhtml+xml",
		"X-Request": "abc",
	}, got)
}

// TestDocumentResponse confirms only document responses are captured and that
// missing data falls back to the navigation result.
func TestDocumentResponse(t *testing.T) {
	t.Parallel()

	d := &documentResponse{}
	d.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://cdn.example/app.js"},
	})
	status, headers, url := d.result("https://req.example/", "https://final.example/")
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, headers)
	assert.Equal(t, "https://final.example/", url)

	d.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  404,
			URL:     "https://www.pref.example.lg.jp/hojo/index.html",
			Headers: network.Headers{"Content-Type": "text/html; charset=Shift_JIS", "Vary": []any{"a", "b"}},
		},
	})
	status, headers, url = d.result("https://req.example/", "")
	assert.Equal(t, 404, status)
	assert.Equal(t, "text/html; charset=Shift_JIS", headers.Get("Content-Type"))
	assert.Equal(t, []string{"a", "b"}, headers.Values("Vary"))
	assert.Equal(t, "https://www.pref.example.lg.jp/hojo/index.html", url)

	empty := &documentResponse{}
	_, _, url = empty.result("https://req.example/", "")
	assert.Equal(t, "https://req.example/", url)
}
