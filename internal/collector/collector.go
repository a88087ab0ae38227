// Package collector polls registered sources, stores the raw payload of each
// run and records every same-origin link as a discovered item.
package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kizashi/subsidy-radar/internal/extract"
	"github.com/kizashi/subsidy-radar/internal/fingerprint"
	"github.com/kizashi/subsidy-radar/internal/metrics"
	"github.com/kizashi/subsidy-radar/internal/radar"
	"github.com/kizashi/subsidy-radar/internal/retry"
)

// Store is the persistence surface the collector needs.
type Store interface {
	radar.SourceRepository
	radar.DiscoveryRepository
}

// Config controls pacing and retries.
type Config struct {
	// Delay is the pause before every source but the first.
	Delay time.Duration
	Retry retry.Policy
}

// Summary reports the outcome of one collection pass.
type Summary struct {
	Enabled   int `json:"enabled"`
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	NewItems  int `json:"new_items"`
}

// Collector runs the source fetch stage.
type Collector struct {
	store   Store
	fetcher radar.Fetcher
	blobs   radar.BlobStore
	parser  extract.Parser
	clock   radar.Clock
	ids     radar.IDGenerator
	sleeper retry.Sleeper
	cfg     Config
	logger  *zap.Logger
}

// Option customises a Collector.
type Option func(*Collector)

// WithSleeper replaces the timer used for pacing and retry waits.
func WithSleeper(s retry.Sleeper) Option {
	return func(c *Collector) { c.sleeper = s }
}

// New constructs a Collector.
func New(
	store Store,
	fetcher radar.Fetcher,
	blobs radar.BlobStore,
	parser extract.Parser,
	clock radar.Clock,
	ids radar.IDGenerator,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if parser == nil {
		parser = extract.RegexParser{}
	}
	c := &Collector{
		store:   store,
		fetcher: fetcher,
		blobs:   blobs,
		parser:  parser,
		clock:   clock,
		ids:     ids,
		sleeper: retry.TimerSleeper{},
		cfg:     cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Due returns the enabled sources whose polling interval has elapsed, and the
// number of enabled sources.
func (c *Collector) Due(ctx context.Context, now time.Time) ([]radar.Source, int, error) {
	sources, err := c.store.ListEnabledSources(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list enabled sources: %w", err)
	}
	var due []radar.Source
	for _, src := range sources {
		last, err := c.store.LastRunStart(ctx, src.ID)
		if err != nil {
			return nil, 0, fmt.Errorf("last run of %s: %w", src.ID, err)
		}
		if last == nil || !now.Before(last.Add(time.Duration(src.IntervalMinutes)*time.Minute)) {
			due = append(due, src)
		}
	}
	return due, len(sources), nil
}

// Run polls every due source once. Per-source failures are logged and
// counted; only store failures while selecting sources abort the pass.
func (c *Collector) Run(ctx context.Context) (Summary, error) {
	due, enabled, err := c.Due(ctx, c.clock.Now())
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Enabled: enabled, Total: len(due)}
	c.logger.Info("collect sources",
		zap.Int("enabled", enabled),
		zap.Int("due", len(due)),
		zap.Duration("delay", c.cfg.Delay),
		zap.Int("retry", c.cfg.Retry.MaxAttempts),
	)

	for i, src := range due {
		if i > 0 && c.cfg.Delay > 0 {
			if err := c.sleeper.Sleep(ctx, c.cfg.Delay); err != nil {
				return summary, err
			}
		}
		progress := fmt.Sprintf("%d/%d", i+1, len(due))
		res, err := retry.Do(ctx, c.cfg.Retry, func(ctx context.Context, _ int) (Outcome, error) {
			return c.RunSource(ctx, src)
		},
			retry.WithSleeper(c.sleeper),
			retry.OnRetry(func(attempt int, err error, wait time.Duration) {
				c.logger.Warn("source retry",
					zap.String("progress", progress),
					zap.String("source_id", src.ID),
					zap.String("pref_code", src.PrefCode),
					zap.Int("attempt", attempt),
					zap.Duration("wait", wait),
					zap.Error(err),
				)
			}),
		)
		switch {
		case err != nil:
			summary.Failed++
			c.logger.Error("source failed",
				zap.String("progress", progress),
				zap.String("source_id", src.ID),
				zap.String("pref_code", src.PrefCode),
				zap.String("name", src.Name),
				zap.Error(err),
			)
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
		case res.Run.Status == radar.RunSuccess:
			summary.Succeeded++
			summary.NewItems += res.NewItems
			c.logger.Info("source ok",
				zap.String("progress", progress),
				zap.String("source_id", src.ID),
				zap.String("pref_code", src.PrefCode),
				zap.Int("http_status", res.Run.HTTPStatus),
				zap.Int("items", res.Run.ItemCount),
				zap.Int("new_items", res.NewItems),
			)
		default:
			summary.Failed++
			summary.NewItems += res.NewItems
			c.logger.Warn("source answered with error status",
				zap.String("progress", progress),
				zap.String("source_id", src.ID),
				zap.String("pref_code", src.PrefCode),
				zap.Int("http_status", res.Run.HTTPStatus),
			)
		}
	}
	c.logger.Info("collect sources done",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("new_items", summary.NewItems),
	)
	return summary, nil
}

// Outcome is the result of one fetch run.
type Outcome struct {
	Run      radar.FetchRun
	NewItems int
}

// RunSource performs one fetch run against src and records it. A completed
// HTTP exchange is never an error, whatever its status; transport and storage
// failures are returned after the run row is finalised as failed.
func (c *Collector) RunSource(ctx context.Context, src radar.Source) (Outcome, error) {
	runID, err := c.ids.NewID()
	if err != nil {
		return Outcome{}, fmt.Errorf("new run id: %w", err)
	}
	started := c.clock.Now()
	run := radar.FetchRun{ID: runID, SourceID: src.ID, StartedAt: started, Status: radar.RunFailed}
	if err := c.store.CreateFetchRun(ctx, run); err != nil {
		return Outcome{}, fmt.Errorf("create fetch run: %w", err)
	}

	resp, err := c.fetcher.Fetch(ctx, radar.FetchRequest{URL: src.URL})
	if err != nil {
		metrics.ObserveFetch("source", src.URL, "error", 0, c.clock.Now().Sub(started))
		return Outcome{Run: run}, c.fail(ctx, run, fmt.Errorf("fetch %s: %w", src.URL, err))
	}
	metrics.ObserveFetch("source", src.URL, outcomeLabel(resp), len(resp.Body), resp.Duration)

	rawPath := RawPath(src, started)
	uri, err := c.blobs.PutObject(ctx, rawPath, resp.ContentType, resp.Body)
	if err != nil {
		return Outcome{Run: run}, c.fail(ctx, run, fmt.Errorf("store raw payload: %w", err))
	}

	links := c.links(src, resp)
	newItems, err := c.recordLinks(ctx, src, links)
	if err != nil {
		return Outcome{Run: run}, c.fail(ctx, run, err)
	}

	finished := c.clock.Now()
	run.FinishedAt = &finished
	run.HTTPStatus = resp.StatusCode
	run.Bytes = int64(len(resp.Body))
	run.ItemCount = len(links)
	run.RawPath = uri
	run.ContentType = resp.ContentType
	if resp.OK() {
		run.Status = radar.RunSuccess
	} else {
		run.Status = radar.RunFailed
		run.Error = (&radar.StatusError{Code: resp.StatusCode}).Error()
	}
	if err := c.store.FinishFetchRun(ctx, run); err != nil {
		return Outcome{Run: run, NewItems: newItems}, fmt.Errorf("finish fetch run: %w", err)
	}
	return Outcome{Run: run, NewItems: newItems}, nil
}

func (c *Collector) fail(ctx context.Context, run radar.FetchRun, cause error) error {
	finished := c.clock.Now()
	run.FinishedAt = &finished
	run.Status = radar.RunFailed
	run.Error = cause.Error()
	if err := c.store.FinishFetchRun(ctx, run); err != nil {
		return errors.Join(cause, fmt.Errorf("finish fetch run: %w", err))
	}
	return cause
}

// links extracts the deduplicated same-origin links of a payload.
func (c *Collector) links(src radar.Source, resp radar.FetchResponse) []extract.Link {
	var all []extract.Link
	switch {
	case extract.IsFeed(resp.ContentType):
		feedLinks, err := extract.FeedLinks(resp.Body, src.URL)
		if err != nil {
			c.logger.Warn("feed parse failed", zap.String("source_id", src.ID), zap.Error(err))
			return nil
		}
		all = feedLinks
	case extract.IsHTML(resp.ContentType, resp.Body):
		all = c.parser.Links(string(resp.Body), src.URL)
	default:
		return nil
	}

	origin, err := fingerprint.Origin(src.URL)
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{}, len(all))
	out := make([]extract.Link, 0, len(all))
	for _, l := range all {
		if o, err := fingerprint.Origin(l.URL); err != nil || o != origin {
			continue
		}
		key := fingerprint.Key(l.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, l)
	}
	return out
}

func (c *Collector) recordLinks(ctx context.Context, src radar.Source, links []extract.Link) (int, error) {
	inserted := 0
	for _, l := range links {
		id, err := c.ids.NewID()
		if err != nil {
			return inserted, fmt.Errorf("new item id: %w", err)
		}
		ok, err := c.store.UpsertDiscoveredItem(ctx, radar.DiscoveredItem{
			ID:           id,
			SourceID:     src.ID,
			URL:          l.URL,
			Fingerprint:  fingerprint.Key(l.URL),
			Title:        l.Text,
			Status:       radar.ItemNew,
			DiscoveredAt: c.clock.Now(),
		})
		if err != nil {
			return inserted, fmt.Errorf("record link: %w", err)
		}
		metrics.ObserveDiscovered(ok)
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// RawPath returns the blob path of a source payload:
// <pref>/<sourceType>/<YYYYMMDD>/<unix ms>.<html|pdf>.
func RawPath(src radar.Source, at time.Time) string {
	ext := "html"
	if strings.Contains(strings.ToLower(src.URL), ".pdf") {
		ext = "pdf"
	}
	at = at.UTC()
	return fmt.Sprintf("%s/%s/%s/%d.%s", src.PrefCode, src.SourceType, at.Format("20060102"), at.UnixMilli(), ext)
}

func outcomeLabel(resp radar.FetchResponse) string {
	if resp.OK() {
		return "ok"
	}
	return "http_error"
}
