package digest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kizashi/subsidy-radar/internal/metrics"
	"github.com/kizashi/subsidy-radar/internal/radar"
	"github.com/kizashi/subsidy-radar/internal/region"
)

// Concurrency bounds for the send fan-out.
const (
	MinConcurrency     = 2
	MaxConcurrency     = 5
	DefaultConcurrency = 3
)

// ErrNoPrefecture marks a subscriber without a usable home prefecture.
var ErrNoPrefecture = errors.New("subscriber has no valid home prefecture")

// SenderStore is the recipient and log surface the sender needs.
type SenderStore interface {
	ListSubscribers(ctx context.Context) ([]radar.Subscriber, error)
	ListDigestUserIDs(ctx context.Context, digestDate time.Time) ([]string, error)
	UpsertDigestLog(ctx context.Context, log radar.DigestLog) error
}

// Builder renders the digest of a prefecture.
type Builder interface {
	Build(ctx context.Context, prefCode string) (Payload, error)
}

// Message is the JSON document handed to the mail transport.
type Message struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	PrefCode   string `json:"pref_code"`
	DigestDate string `json:"digest_date"`
	Subject    string `json:"subject"`
	Text       string `json:"text"`
	HTML       string `json:"html"`
}

// Attributes implements the optional attribute hook of message transports.
func (m Message) Attributes() map[string]string {
	return map[string]string{
		"user_id":     m.UserID,
		"pref_code":   m.PrefCode,
		"digest_date": m.DigestDate,
	}
}

// SenderConfig tunes the sender.
type SenderConfig struct {
	Topic       string
	Concurrency int
	DryRun      bool
	Location    *time.Location
}

// Result summarises one send pass.
type Result struct {
	Subscribers int      `json:"subscribers"`
	AlreadySent int      `json:"already_sent"`
	Sent        int      `json:"sent"`
	Failed      int      `json:"failed"`
	Skipped     int      `json:"skipped"`
	DryRun      bool     `json:"dry_run"`
	Sample      *Payload `json:"sample,omitempty"`
}

// Sender fans digests out to subscribers through a publisher.
type Sender struct {
	store     SenderStore
	builder   Builder
	publisher radar.Publisher
	clock     radar.Clock
	cfg       SenderConfig
	logger    *zap.Logger
}

// NewSender constructs a Sender. Concurrency is clamped to 2..5.
func NewSender(store SenderStore, builder Builder, publisher radar.Publisher, clock radar.Clock, cfg SenderConfig, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	cfg.Concurrency = max(MinConcurrency, min(MaxConcurrency, cfg.Concurrency))
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Sender{store: store, builder: builder, publisher: publisher, clock: clock, cfg: cfg, logger: logger}
}

// Run sends today's digest to every subscriber without a log row for today.
func (s *Sender) Run(ctx context.Context) (Result, error) {
	digestDate := radar.Day(s.clock.Now(), s.cfg.Location)
	res := Result{DryRun: s.cfg.DryRun}

	subscribers, err := s.store.ListSubscribers(ctx)
	if err != nil {
		return res, fmt.Errorf("list subscribers: %w", err)
	}
	res.Subscribers = len(subscribers)
	done, err := s.store.ListDigestUserIDs(ctx, digestDate)
	if err != nil {
		return res, fmt.Errorf("list digest logs: %w", err)
	}
	seen := make(map[string]struct{}, len(done))
	for _, id := range done {
		seen[id] = struct{}{}
	}

	var pending []radar.Subscriber
	for _, sub := range subscribers {
		if _, ok := seen[sub.UserID]; ok {
			res.AlreadySent++
			continue
		}
		pending = append(pending, sub)
	}
	if len(pending) == 0 {
		s.logger.Info("no digest recipients", zap.Time("digest_date", digestDate))
		return res, nil
	}

	if s.cfg.DryRun {
		return s.dryRun(ctx, pending, res)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, sub := range pending {
		g.Go(func() error {
			status, err := s.deliver(gctx, sub, digestDate)
			mu.Lock()
			defer mu.Unlock()
			switch status {
			case radar.DigestSent:
				res.Sent++
			case radar.DigestSkipped:
				res.Skipped++
			default:
				res.Failed++
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	s.logger.Info("digest done",
		zap.Time("digest_date", digestDate),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Int("already_sent", res.AlreadySent),
	)
	return res, nil
}

func (s *Sender) dryRun(ctx context.Context, pending []radar.Subscriber, res Result) (Result, error) {
	for _, sub := range pending {
		if !region.IsValidCode(sub.HomePrefCode) {
			continue
		}
		payload, err := s.builder.Build(ctx, sub.HomePrefCode)
		if err != nil {
			return res, fmt.Errorf("build sample digest: %w", err)
		}
		res.Sample = &payload
		s.logger.Info("digest dry run",
			zap.Int("recipients", len(pending)),
			zap.String("sample_user", sub.UserID),
			zap.String("subject", payload.Subject),
			zap.String("text", payload.Text),
		)
		break
	}
	return res, nil
}

// deliver sends one digest and records its log row. Only a failure to write
// the log row is returned as an error.
func (s *Sender) deliver(ctx context.Context, sub radar.Subscriber, digestDate time.Time) (radar.DigestStatus, error) {
	entry := radar.DigestLog{UserID: sub.UserID, PrefCode: sub.HomePrefCode, DigestDate: digestDate}

	if !region.IsValidCode(sub.HomePrefCode) {
		entry.Status = radar.DigestSkipped
		entry.Error = ErrNoPrefecture.Error()
		return s.record(ctx, entry)
	}

	firstErr := s.send(ctx, sub, digestDate)
	if firstErr != nil {
		s.logger.Warn("digest send retry", zap.String("user_id", sub.UserID), zap.Error(firstErr))
		if err := s.send(ctx, sub, digestDate); err == nil {
			firstErr = nil
		}
	}
	if firstErr != nil {
		s.logger.Error("digest send failed", zap.String("user_id", sub.UserID), zap.String("pref_code", sub.HomePrefCode), zap.Error(firstErr))
		entry.Status = radar.DigestFailed
		entry.Error = firstErr.Error()
		return s.record(ctx, entry)
	}

	sentAt := s.clock.Now().UTC()
	entry.Status = radar.DigestSent
	entry.SentAt = &sentAt
	return s.record(ctx, entry)
}

func (s *Sender) send(ctx context.Context, sub radar.Subscriber, digestDate time.Time) error {
	payload, err := s.builder.Build(ctx, sub.HomePrefCode)
	if err != nil {
		return fmt.Errorf("build digest: %w", err)
	}
	msg := Message{
		UserID:     sub.UserID,
		Email:      sub.Email,
		PrefCode:   sub.HomePrefCode,
		DigestDate: digestDate.Format(radar.DateLayout),
		Subject:    payload.Subject,
		Text:       payload.Text,
		HTML:       payload.HTML,
	}
	if _, err := s.publisher.Publish(ctx, s.cfg.Topic, msg); err != nil {
		return err
	}
	return nil
}

func (s *Sender) record(ctx context.Context, entry radar.DigestLog) (radar.DigestStatus, error) {
	entry.CreatedAt = s.clock.Now().UTC()
	metrics.ObserveDigest(string(entry.Status))
	if err := s.store.UpsertDigestLog(ctx, entry); err != nil {
		return entry.Status, fmt.Errorf("record digest log for %s: %w", entry.UserID, err)
	}
	return entry.Status, nil
}
