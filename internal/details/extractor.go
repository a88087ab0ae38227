// Package details drains the discovered-item queue: it fetches each detail
// page, extracts subsidy facts and upserts them by source URL.
package details

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kizashi/subsidy-radar/internal/extract"
	"github.com/kizashi/subsidy-radar/internal/metrics"
	"github.com/kizashi/subsidy-radar/internal/radar"
	"github.com/kizashi/subsidy-radar/internal/retry"
)

// Store is the persistence surface the extractor needs.
type Store interface {
	radar.DiscoveryRepository
	radar.SubsidyRepository
}

// Limiter paces requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls batching, pacing and retries.
type Config struct {
	BatchSize int
	// Delay is the pause after every processed item.
	Delay time.Duration
	// MaxRounds caps the number of batches; zero or less means one round.
	MaxRounds int
	Retry     retry.Policy
	// Location defines the calendar day used for status derivation.
	Location *time.Location
}

func (c Config) rounds() int {
	if c.MaxRounds <= 0 {
		return 1
	}
	return c.MaxRounds
}

// State is a phase of the extraction loop.
type State string

// Loop states. Running covers every round; Report.Rounds tells which.
const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateDone     State = "done"
	StateFailed   State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Report exposes progress, including partial completion after a failure.
type Report struct {
	State     State  `json:"state"`
	Rounds    int    `json:"rounds"`
	Processed int    `json:"processed"`
	Fetched   int    `json:"fetched"`
	Failed    int    `json:"failed"`
	PDFs      int    `json:"pdfs"`
	Remaining int    `json:"remaining"`
	Error     string `json:"error,omitempty"`
}

// Extractor is the detail extraction state machine. It is single-use: once
// terminal, Step and Run return the final state.
type Extractor struct {
	store   Store
	fetcher radar.Fetcher
	blobs   radar.BlobStore
	parser  extract.Parser
	limiter Limiter
	clock   radar.Clock
	ids     radar.IDGenerator
	sleeper retry.Sleeper
	cfg     Config
	logger  *zap.Logger

	mu     sync.Mutex
	report Report
	err    error
}

// Option customises an Extractor.
type Option func(*Extractor)

// WithSleeper replaces the timer used for pacing and retry waits.
func WithSleeper(s retry.Sleeper) Option {
	return func(e *Extractor) { e.sleeper = s }
}

// WithLimiter installs a per-host rate limiter.
func WithLimiter(l Limiter) Option {
	return func(e *Extractor) { e.limiter = l }
}

// New constructs an Extractor in the Idle state.
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
) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if parser == nil {
		parser = extract.RegexParser{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	e := &Extractor{
		store:   store,
		fetcher: fetcher,
		blobs:   blobs,
		parser:  parser,
		clock:   clock,
		ids:     ids,
		sleeper: retry.TimerSleeper{},
		cfg:     cfg,
		logger:  logger,
		report:  Report{State: StateIdle},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Report returns a snapshot of the progress so far.
func (e *Extractor) Report() Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.report
}

func (e *Extractor) update(fn func(r *Report)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.report)
}

func (e *Extractor) fail(err error) (State, error) {
	e.update(func(r *Report) {
		r.State = StateFailed
		r.Error = err.Error()
	})
	e.err = err
	e.logger.Error("detail extraction failed", zap.Error(err))
	return StateFailed, err
}

// Run steps the machine until it reaches a terminal state.
func (e *Extractor) Run(ctx context.Context) (Report, error) {
	for {
		state, err := e.Step(ctx)
		if state.Terminal() {
			return e.Report(), err
		}
	}
}

// Step performs one transition and returns the new state.
func (e *Extractor) Step(ctx context.Context) (State, error) {
	current := e.Report()
	switch current.State {
	case StateIdle:
		e.logger.Info("collect details",
			zap.Int("batch", e.cfg.BatchSize),
			zap.Int("max_rounds", e.cfg.rounds()),
			zap.Duration("delay", e.cfg.Delay),
		)
		e.update(func(r *Report) { r.State = StateRunning })
		return StateRunning, nil
	case StateRunning:
		return e.round(ctx, current.Rounds+1)
	case StateDraining:
		remaining, err := e.store.CountPendingItems(ctx)
		if err != nil {
			return e.fail(fmt.Errorf("count pending items: %w", err))
		}
		e.update(func(r *Report) {
			r.Remaining = remaining
			r.State = StateDone
		})
		rep := e.Report()
		e.logger.Info("collect details done",
			zap.Int("rounds", rep.Rounds),
			zap.Int("processed", rep.Processed),
			zap.Int("fetched", rep.Fetched),
			zap.Int("failed", rep.Failed),
			zap.Int("remaining", rep.Remaining),
		)
		return StateDone, nil
	default:
		return current.State, e.err
	}
}

func (e *Extractor) round(ctx context.Context, n int) (State, error) {
	remaining, err := e.store.CountPendingItems(ctx)
	if err != nil {
		return e.fail(fmt.Errorf("count pending items: %w", err))
	}
	if remaining == 0 {
		e.logger.Info("detail queue empty", zap.Int("round", n))
		e.update(func(r *Report) { r.State = StateDraining })
		return StateDraining, nil
	}

	items, err := e.store.ListPendingItems(ctx, e.cfg.BatchSize)
	if err != nil {
		return e.fail(fmt.Errorf("list pending items: %w", err))
	}
	e.logger.Info("detail round",
		zap.Int("round", n),
		zap.Int("max_rounds", e.cfg.rounds()),
		zap.Int("remaining", remaining),
		zap.Int("batch", len(items)),
	)
	e.update(func(r *Report) { r.Rounds = n })

	for i, item := range items {
		res, err := e.ProcessItem(ctx, item)
		if err != nil {
			return e.fail(err)
		}
		e.update(func(r *Report) {
			r.Processed++
			switch res {
			case OutcomeFailed:
				r.Failed++
			case OutcomePDF:
				r.Fetched++
				r.PDFs++
			default:
				r.Fetched++
			}
		})
		e.logger.Info("detail item",
			zap.String("progress", fmt.Sprintf("%d/%d", i+1, len(items))),
			zap.Int("round", n),
			zap.String("item_id", item.ID),
			zap.String("url", item.URL),
			zap.String("status", string(res)),
		)
		if e.cfg.Delay > 0 {
			if err := e.sleeper.Sleep(ctx, e.cfg.Delay); err != nil {
				return e.fail(err)
			}
		}
	}

	if len(items) == 0 || n >= e.cfg.rounds() {
		e.update(func(r *Report) { r.State = StateDraining })
		return StateDraining, nil
	}
	return StateRunning, nil
}

// Outcome is the per-item result.
type Outcome string

// Item outcomes.
const (
	OutcomeFetched Outcome = "fetched"
	OutcomePDF     Outcome = "pdf"
	OutcomeFailed  Outcome = "failed"
)

// ProcessItem fetches and extracts one discovered item. Item level failures
// are recorded on the item and reported as OutcomeFailed; an error is
// returned only when the failure cannot be recorded or ctx is done.
func (e *Extractor) ProcessItem(ctx context.Context, item radar.PendingItem) (Outcome, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, item.URL); err != nil {
			return OutcomeFailed, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var lastErr error
	resp, err := retry.Do(ctx, e.cfg.Retry, func(ctx context.Context, _ int) (radar.FetchResponse, error) {
		resp, err := e.fetcher.Fetch(ctx, radar.FetchRequest{URL: item.URL})
		if err == nil && !resp.OK() {
			err = &radar.StatusError{Code: resp.StatusCode}
		}
		lastErr = err
		return resp, err
	},
		retry.WithSleeper(e.sleeper),
		retry.OnRetry(func(attempt int, err error, wait time.Duration) {
			e.logger.Warn("detail retry",
				zap.String("item_id", item.ID),
				zap.String("url", item.URL),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return OutcomeFailed, ctx.Err()
		}
		metrics.ObserveFetch("detail", item.URL, "error", 0, resp.Duration)
		return e.markFailed(ctx, item, lastErr)
	}
	metrics.ObserveFetch("detail", item.URL, "ok", len(resp.Body), resp.Duration)

	res, err := e.persist(ctx, item, resp)
	if err != nil {
		if ctx.Err() != nil {
			return OutcomeFailed, ctx.Err()
		}
		return e.markFailed(ctx, item, err)
	}
	metrics.ObserveDetail(string(res))
	return res, nil
}

func (e *Extractor) markFailed(ctx context.Context, item radar.PendingItem, cause error) (Outcome, error) {
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	e.logger.Warn("detail failed", zap.String("item_id", item.ID), zap.String("url", item.URL), zap.String("error", reason))
	metrics.ObserveDetail(string(OutcomeFailed))
	if err := e.store.MarkItemFailed(ctx, item.ID, reason); err != nil {
		return OutcomeFailed, errors.Join(cause, fmt.Errorf("mark item failed: %w", err))
	}
	return OutcomeFailed, nil
}
