package scoring

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kizashi/subsidy-radar/internal/radar"
	"github.com/kizashi/subsidy-radar/internal/region"
)

// Store is the persistence surface of the aggregation jobs.
type Store interface {
	ListScorableSubsidies(ctx context.Context) ([]radar.SubsidyItem, error)
	ListDeadlineSubsidies(ctx context.Context, prefCode string, from, to time.Time, limit int) ([]radar.SubsidyItem, error)
	UpsertScore(ctx context.Context, score radar.MunicipalityScore) error
	UpsertBrief(ctx context.Context, brief radar.MunicipalityBrief) error
	ZeroStaleScores(ctx context.Context, computedBefore time.Time) ([]radar.ScoreKey, error)
	ListScores(ctx context.Context, prefCode, category string, limit int) ([]radar.MunicipalityScore, error)
	UpsertPriority(ctx context.Context, row radar.PriorityMunicipality) error
}

// Config controls the aggregation jobs.
type Config struct {
	// Location defines "today".
	Location *time.Location
	// ZeroStale zeroes score rows the current run did not produce.
	ZeroStale bool
}

// ScoresResult summarises a score computation.
type ScoresResult struct {
	Items    int `json:"items"`
	Upserted int `json:"upserted"`
	Zeroed   int `json:"zeroed"`
}

// PriorityResult summarises a priority computation.
type PriorityResult struct {
	Prefectures int `json:"prefectures"`
	Upserted    int `json:"upserted"`
}

// Engine runs the aggregation jobs against a store.
type Engine struct {
	store  Store
	clock  radar.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs an Engine.
func New(store Store, clock radar.Clock, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Engine{store: store, clock: clock, cfg: cfg, logger: logger}
}

// ComputeScores recomputes every score and brief row from scratch.
func (e *Engine) ComputeScores(ctx context.Context) (ScoresResult, error) {
	now := e.clock.Now().UTC()
	today := radar.Day(now, e.cfg.Location)

	items, err := e.store.ListScorableSubsidies(ctx)
	if err != nil {
		return ScoresResult{}, fmt.Errorf("load scorable subsidies: %w", err)
	}
	res := ScoresResult{Items: len(items)}
	e.logger.Info("compute scores", zap.Int("items", len(items)), zap.Time("today", today))

	for _, row := range ComputeMunicipalityScores(items, today, now) {
		if err := e.store.UpsertScore(ctx, row.Score); err != nil {
			return res, err
		}
		if err := e.store.UpsertBrief(ctx, row.Brief); err != nil {
			return res, err
		}
		res.Upserted++
	}

	if e.cfg.ZeroStale {
		keys, err := e.store.ZeroStaleScores(ctx, now)
		if err != nil {
			return res, err
		}
		for _, key := range keys {
			if err := e.store.UpsertBrief(ctx, ZeroBrief(key, now)); err != nil {
				return res, err
			}
		}
		res.Zeroed = len(keys)
	}

	e.logger.Info("compute scores done",
		zap.Int("upserted", res.Upserted),
		zap.Int("zeroed", res.Zeroed),
	)
	return res, nil
}

// ComputePriority picks the priority municipality of every prefecture that
// has candidates. Prefectures without candidates keep their previous row.
func (e *Engine) ComputePriority(ctx context.Context) (PriorityResult, error) {
	today := radar.Day(e.clock.Now(), e.cfg.Location)
	var res PriorityResult
	for _, pref := range region.All() {
		res.Prefectures++
		scores, err := e.store.ListScores(ctx, pref.Code, "", 0)
		if err != nil {
			return res, err
		}
		if len(scores) == 0 {
			continue
		}
		items, err := e.store.ListDeadlineSubsidies(ctx, pref.Code, today, today.AddDate(0, 0, 7), 0)
		if err != nil {
			return res, err
		}
		pick, ok := PickPriority(pref.Code, scores, scores, items, today)
		if !ok {
			continue
		}
		if err := e.store.UpsertPriority(ctx, pick); err != nil {
			return res, err
		}
		res.Upserted++
		e.logger.Info("priority municipality",
			zap.String("pref_code", pref.Code),
			zap.String("municipality", pick.MunicipalityName),
			zap.Int("score", pick.Score),
			zap.String("category_boost", pick.Reason.CategoryBoost),
		)
	}
	e.logger.Info("compute priority done", zap.Int("upserted", res.Upserted))
	return res, nil
}
