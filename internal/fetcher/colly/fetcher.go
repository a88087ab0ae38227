// Package collyfetcher implements radar.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gocolly/colly/v2"
	"golang.org/x/net/html/charset"

	"github.com/kizashi/subsidy-radar/internal/radar"
	"github.com/kizashi/subsidy-radar/internal/retry"
)

const (
	defaultTimeout = 30 * time.Second
	acceptLanguage = "ja,en;q=0.5"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxBodySize caps the response body in bytes; 0 keeps colly's default.
	MaxBodySize int
}

// Fetcher performs one GET per Fetch on a clone of a preconfigured collector.
// HTML served as Shift_JIS or EUC-JP is returned as UTF-8; every other body,
// PDFs included, is returned byte for byte.
type Fetcher struct {
	cfg  Config
	base *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	// Source pages are polled repeatedly, so colly's visited set must not block them.
	c.AllowURLRevisit = true
	// Non-2xx responses are recorded with their status rather than surfaced as errors.
	c.ParseHTTPErrorResponse = true
	// Sniffing would transcode binary bodies; HTML is decoded in onResponse.
	c.DetectCharset = false
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)
	return &Fetcher{cfg: cfg, base: c}
}

// exchange collects what the collector callbacks observe for one visit.
type exchange struct {
	start time.Time
	resp  radar.FetchResponse
	err   error
}

func (x *exchange) onResponse(r *colly.Response) {
	headers := http.Header{}
	if r.Headers != nil {
		headers = r.Headers.Clone()
	}
	contentType := headers.Get("Content-Type")
	x.resp = radar.FetchResponse{
		URL:         r.Request.URL.String(),
		StatusCode:  r.StatusCode,
		ContentType: contentType,
		Headers:     headers,
		Body:        decodeHTML(append([]byte(nil), r.Body...), contentType),
		Duration:    time.Since(x.start),
	}
}

// decodeHTML converts an HTML body whose charset is declared only in a meta
// tag to UTF-8. colly already converts bodies whose Content-Type names a
// charset, and feeds are decoded by the feed parser from their XML
// declaration, so both pass through unchanged.
func decodeHTML(body []byte, contentType string) []byte {
	ct := strings.ToLower(contentType)
	if len(body) == 0 || strings.Contains(ct, "charset=") || utf8.Valid(body) {
		return body
	}
	if ct == "" {
		ct = http.DetectContentType(body)
	}
	if !strings.Contains(ct, "text/html") && !strings.Contains(ct, "application/xhtml") {
		return body
	}
	enc, name, _ := charset.DetermineEncoding(body, "text/html")
	// windows-1252 is the fallback when no meta declaration was found.
	if name == "utf-8" || name == "windows-1252" {
		return body
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return decoded
}

func (x *exchange) onError(_ *colly.Response, err error) {
	x.err = err
}

// requestHeaders returns the headers sent with every request, letting the
// caller's values win.
func requestHeaders(req radar.FetchRequest) http.Header {
	h := http.Header{}
	h.Set("Accept-Language", acceptLanguage)
	for key, values := range req.Headers {
		h.Del(key)
		for _, v := range values {
			h.Add(key, v)
		}
	}
	return h
}

// Fetch executes a single HTTP GET. Robots refusals are permanent so the
// retry loop does not repeat them.
func (f *Fetcher) Fetch(ctx context.Context, request radar.FetchRequest) (radar.FetchResponse, error) {
	x := &exchange{start: time.Now()}
	c := f.base.Clone()
	c.OnResponse(x.onResponse)
	c.OnError(x.onError)

	done := make(chan error, 1)
	go func() {
		done <- c.Request(http.MethodGet, request.URL, nil, colly.NewContext(), requestHeaders(request))
	}()

	select {
	case <-ctx.Done():
		return radar.FetchResponse{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		switch {
		case errors.Is(err, colly.ErrRobotsTxtBlocked), errors.Is(err, colly.ErrMissingURL):
			return radar.FetchResponse{}, retry.Permanent(fmt.Errorf("colly visit refused: %w", err))
		case err != nil:
			return radar.FetchResponse{}, fmt.Errorf("colly visit failed: %w", err)
		case x.err != nil:
			return radar.FetchResponse{}, fmt.Errorf("colly response failed: %w", x.err)
		}
		return x.resp, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
