// Package classify re-derives the category of every stored subsidy.
package classify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kizashi/subsidy-radar/internal/metrics"
	"github.com/kizashi/subsidy-radar/internal/radar"
	"github.com/kizashi/subsidy-radar/internal/taxonomy"
)

// LogEvery is the progress logging interval in items.
const LogEvery = 500

// Store is the subsidy surface the job needs.
type Store interface {
	ListSubsidiesAfter(ctx context.Context, afterID string, limit int) ([]radar.SubsidyItem, error)
	UpdateSubsidyCategory(ctx context.Context, id, category string) error
}

// Result summarises one classification pass.
type Result struct {
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
}

// Job pages through subsidies by id and rewrites changed categories.
type Job struct {
	store     Store
	batchSize int
	logger    *zap.Logger
}

// New constructs a Job. A non-positive batch size falls back to 200.
func New(store Store, batchSize int, logger *zap.Logger) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Job{store: store, batchSize: batchSize, logger: logger}
}

// Run classifies every record once.
func (j *Job) Run(ctx context.Context) (Result, error) {
	var (
		res    Result
		cursor string
	)
	j.logger.Info("classify subsidies", zap.Int("batch", j.batchSize))
	for {
		page, err := j.store.ListSubsidiesAfter(ctx, cursor, j.batchSize)
		if err != nil {
			return res, fmt.Errorf("list subsidies after %q: %w", cursor, err)
		}
		if len(page) == 0 {
			break
		}
		for _, item := range page {
			category := taxonomy.Classify(item.Title, item.Summary)
			if category != item.Category {
				if err := j.store.UpdateSubsidyCategory(ctx, item.ID, category); err != nil {
					return res, err
				}
				res.Updated++
			}
			metrics.ObserveClassified(category)
			res.Processed++
			if res.Processed%LogEvery == 0 {
				j.logger.Info("classify progress", zap.Int("processed", res.Processed), zap.Int("updated", res.Updated))
			}
		}
		cursor = page[len(page)-1].ID
		if len(page) < j.batchSize {
			break
		}
	}
	j.logger.Info("classify done", zap.Int("processed", res.Processed), zap.Int("updated", res.Updated))
	return res, nil
}
