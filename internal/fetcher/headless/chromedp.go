// Package headless renders JavaScript-built subsidy listings through Chrome.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/kizashi/subsidy-radar/internal/radar"
)

const (
	defaultNavTimeout = 45 * time.Second
	defaultSettle     = 500 * time.Millisecond
	defaultLocale     = "ja-JP"
	defaultTimezone   = "Asia/Tokyo"
	acceptLanguage    = "ja,en;q=0.5"

	// renderedContentType describes the serialized DOM, which is UTF-8
	// whatever charset the page was served in.
	renderedContentType = "text/html; charset=utf-8"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxParallel bounds open tabs; 0 means unbounded.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait after DOM ready for client rendering.
	SettleDelay time.Duration
	// Locale and Timezone are emulated so date widgets render the way a
	// visitor in Japan sees them. Empty values use ja-JP and Asia/Tokyo.
	Locale   string
	Timezone string
}

// Fetcher implements radar.Fetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	tabs        *semaphore.Weighted
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp starts a Chrome allocator shared by every fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettle
	}
	if cfg.Locale == "" {
		cfg.Locale = defaultLocale
	}
	if cfg.Timezone == "" {
		cfg.Timezone = defaultTimezone
	}

	f := &Fetcher{cfg: cfg}
	if cfg.MaxParallel > 0 {
		f.tabs = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("lang", cfg.Locale),
	)
	f.allocator, f.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	return f, nil
}

// Close stops the browser.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch renders the page and returns the serialized DOM. The status and
// headers are those of the main document response.
func (f *Fetcher) Fetch(ctx context.Context, request radar.FetchRequest) (radar.FetchResponse, error) {
	if f.tabs != nil {
		if err := f.tabs.Acquire(ctx, 1); err != nil {
			return radar.FetchResponse{}, fmt.Errorf("wait for headless tab: %w", err)
		}
		defer f.tabs.Release(1)
	}

	tabCtx, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	// Navigation must also stop when the caller gives up.
	stop := context.AfterFunc(ctx, closeTab)
	defer stop()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()

	doc := &documentResponse{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	start := time.Now()
	var html, finalURL string
	err := chromedp.Run(tabCtx,
		f.prepareTab(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return radar.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, err)
	}

	status, headers, url := doc.result(request.URL, finalURL)
	return radar.FetchResponse{
		URL:          url,
		StatusCode:   status,
		ContentType:  renderedContentType,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

// prepareTab applies the user agent, locale, time zone and request headers
// before navigation.
func (f *Fetcher) prepareTab(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			ua := emulation.SetUserAgentOverride(f.cfg.UserAgent).WithAcceptLanguage(acceptLanguage)
			if err := ua.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if err := emulation.SetLocaleOverride().WithLocale(f.cfg.Locale).Do(ctx); err != nil {
			return fmt.Errorf("set locale: %w", err)
		}
		if err := emulation.SetTimezoneOverride(f.cfg.Timezone).Do(ctx); err != nil {
			return fmt.Errorf("set timezone: %w", err)
		}
		if extra := networkHeaders(headers); len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// documentResponse records the last main-document response of a tab.
type documentResponse struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (d *documentResponse) observe(ev any) {
	e, ok := ev.(*network.EventResponseReceived)
	if !ok || e.Type != network.ResourceTypeDocument || e.Response == nil {
		return
	}
	headers := make(http.Header, len(e.Response.Headers))
	for key, value := range e.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = int(e.Response.Status)
	d.headers = headers
	d.url = e.Response.URL
}

// result returns the captured status, headers and URL. Without a captured
// response the page is reported as 200 at its final or requested URL.
func (d *documentResponse) result(requestURL, finalURL string) (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, url := d.status, d.url
	headers := d.headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	if url == "" {
		url = finalURL
	}
	if url == "" {
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func networkHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			// CDP takes one string per header; repeated values are comma joined.
			joined := values[0]
			for _, v := range values[1:] {
				joined += ", " + v
			}
			out[key] = joined
		}
	}
	return out
}
