// Package fetcher composes the static and headless fetchers.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kizashi/subsidy-radar/internal/extract"
	"github.com/kizashi/subsidy-radar/internal/metrics"
	"github.com/kizashi/subsidy-radar/internal/radar"
)

// Heuristic decides when a static response looks like an unrendered SPA shell.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-app"),
}

// ShouldPromote decides whether a headless fetch is required. Only
// successful HTML responses are candidates.
func (h *Heuristic) ShouldPromote(resp radar.FetchResponse) bool {
	if !resp.OK() {
		return false
	}
	if resp.ContentType != "" && !extract.IsHTML(resp.ContentType, nil) {
		return false
	}
	body := resp.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Malformed tag: count the rest of the document.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		nextSearch := total
		if relativeEnd != -1 {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	return scriptCoverage*100/total >= 25
}

// Promoting fetches statically first and re-fetches through a headless
// browser when the Heuristic flags the page. A failed headless attempt
// falls back to the static response.
type Promoting struct {
	primary  radar.Fetcher
	headless radar.Fetcher
	detector *Heuristic
	logger   *zap.Logger
}

// NewPromoting wires a promoting fetcher. A nil headless fetcher disables promotion.
func NewPromoting(primary, headless radar.Fetcher, detector *Heuristic, logger *zap.Logger) *Promoting {
	if detector == nil {
		detector = NewHeuristic(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{primary: primary, headless: headless, detector: detector, logger: logger}
}

// Fetch implements radar.Fetcher.
func (p *Promoting) Fetch(ctx context.Context, req radar.FetchRequest) (radar.FetchResponse, error) {
	resp, err := p.primary.Fetch(ctx, req)
	if err != nil {
		return radar.FetchResponse{}, fmt.Errorf("static fetch: %w", err)
	}
	if p.headless == nil || !p.detector.ShouldPromote(resp) {
		return resp, nil
	}

	metrics.ObserveHeadlessPromotion()
	rendered, err := p.headless.Fetch(ctx, req)
	if err != nil {
		p.logger.Warn("headless fetch failed, keeping static response",
			zap.String("url", req.URL), zap.Error(err))
		return resp, nil
	}
	if !rendered.OK() {
		p.logger.Warn("headless fetch returned non-2xx, keeping static response",
			zap.String("url", req.URL), zap.Int("status", rendered.StatusCode))
		return resp, nil
	}
	return rendered, nil
}
