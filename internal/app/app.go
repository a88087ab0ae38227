// Package app builds the long-lived services of the pipeline from one Config
// and hands out the batch jobs and the read API wired to them.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/kizashi/subsidy-radar/internal/api"
	"github.com/kizashi/subsidy-radar/internal/classify"
	"github.com/kizashi/subsidy-radar/internal/clock"
	"github.com/kizashi/subsidy-radar/internal/collector"
	"github.com/kizashi/subsidy-radar/internal/config"
	"github.com/kizashi/subsidy-radar/internal/details"
	"github.com/kizashi/subsidy-radar/internal/digest"
	"github.com/kizashi/subsidy-radar/internal/extract"
	"github.com/kizashi/subsidy-radar/internal/fetcher"
	collyfetcher "github.com/kizashi/subsidy-radar/internal/fetcher/colly"
	headlessfetcher "github.com/kizashi/subsidy-radar/internal/fetcher/headless"
	"github.com/kizashi/subsidy-radar/internal/health"
	"github.com/kizashi/subsidy-radar/internal/id/uuid"
	"github.com/kizashi/subsidy-radar/internal/lock"
	"github.com/kizashi/subsidy-radar/internal/logging"
	"github.com/kizashi/subsidy-radar/internal/metrics"
	"github.com/kizashi/subsidy-radar/internal/policy/ratelimit"
	memorypublisher "github.com/kizashi/subsidy-radar/internal/publisher/memory"
	gcppublisher "github.com/kizashi/subsidy-radar/internal/publisher/pubsub"
	"github.com/kizashi/subsidy-radar/internal/radar"
	"github.com/kizashi/subsidy-radar/internal/retry"
	"github.com/kizashi/subsidy-radar/internal/scoring"
	"github.com/kizashi/subsidy-radar/internal/seed"
	gcsstorage "github.com/kizashi/subsidy-radar/internal/storage/gcs"
	localstorage "github.com/kizashi/subsidy-radar/internal/storage/local"
	memorystorage "github.com/kizashi/subsidy-radar/internal/storage/memory"
	pgstore "github.com/kizashi/subsidy-radar/internal/storage/postgres"
	s3storage "github.com/kizashi/subsidy-radar/internal/storage/s3"
)

// App holds the shared services of one process.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  radar.Clock
	ids    radar.IDGenerator
	parser extract.Parser

	store     radar.Store
	pgStore   *pgstore.Store
	blobs     radar.BlobStore
	gcs       *storage.Client
	publisher radar.Publisher
	pubsub    *gcppublisher.Publisher
	locker    lock.Locker
	redisLock *lock.Redis
	headless  *headlessfetcher.Fetcher
	limiter   *ratelimit.Limiter

	// fetcherFor builds the fetch chain for a per-request timeout.
	fetcherFor func(timeout time.Duration) radar.Fetcher
}

// Option overrides a service Build would otherwise create.
type Option func(*App)

// WithLogger replaces the logger built from the logging config.
func WithLogger(l *zap.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithClock replaces the system clock.
func WithClock(c radar.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithFetcher replaces the colly/headless fetch chain for every stage.
func WithFetcher(f radar.Fetcher) Option {
	return func(a *App) {
		a.fetcherFor = func(time.Duration) radar.Fetcher { return f }
	}
}

// WithStore replaces the configured store.
func WithStore(s radar.Store) Option {
	return func(a *App) { a.store = s }
}

// Build creates the application's dependencies. Close must be called on the
// returned App even when a later command fails.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		a.logger = logger
	}
	if a.clock == nil {
		a.clock = clock.New()
	}
	a.ids = uuid.New()
	metrics.Init()

	parser, err := extract.NewParser(cfg.Extract.Parser)
	if err != nil {
		return nil, fmt.Errorf("parser init failed: %w", err)
	}
	a.parser = parser
	a.logger.Info("building application dependencies",
		zap.String("storage", cfg.Storage.Provider),
		zap.String("blob", cfg.Blob.Provider),
		zap.String("publisher", cfg.Publisher.Provider),
		zap.String("lock", cfg.Lock.Provider),
		zap.String("parser", cfg.Extract.Parser),
	)

	steps := []func(context.Context) error{
		a.setupStore,
		a.setupBlobs,
		a.setupPublisher,
		a.setupLocker,
		a.setupFetchers,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.limiter = ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Details.HostRPS, DefaultBurst: 1})
	return a, nil
}

func (a *App) setupStore(ctx context.Context) error {
	if a.store != nil {
		a.logger.Info("using injected store")
		return nil
	}
	switch a.cfg.Storage.Provider {
	case "postgres":
		s, err := pgstore.New(ctx, pgstore.Config{
			DSN:      a.cfg.DB.DSN,
			MaxConns: int32(a.cfg.DB.MaxConns), //nolint:gosec // max_conns is a small pool size
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.pgStore = s
		a.store = s
		a.logger.Info("postgres store connected", zap.Int("max_conns", a.cfg.DB.MaxConns))
		if a.cfg.DB.Migrate {
			if _, err := a.Migrate(); err != nil {
				return err
			}
		}
	default:
		a.logger.Warn("using in-memory store, data is lost on exit")
		a.store = memorystorage.NewStore()
	}
	return nil
}

func (a *App) setupBlobs(ctx context.Context) error {
	var err error
	switch a.cfg.Blob.Provider {
	case "gcs":
		a.gcs, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.blobs, err = gcsstorage.New(a.gcs, gcsstorage.Config{
			Bucket: a.cfg.Blob.GCSBucket,
			Prefix: a.cfg.Blob.Prefix,
		})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS blob store", zap.String("bucket", a.cfg.Blob.GCSBucket))
	case "s3":
		s3 := a.cfg.Blob.S3
		a.blobs, err = s3storage.New(ctx, s3storage.Config{
			Bucket:          s3.Bucket,
			Prefix:          a.cfg.Blob.Prefix,
			Region:          s3.Region,
			Endpoint:        s3.Endpoint,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
			UsePathStyle:    s3.UsePathStyle,
		})
		if err != nil {
			return fmt.Errorf("s3 blob store init failed: %w", err)
		}
		a.logger.Info("using S3 blob store", zap.String("bucket", s3.Bucket), zap.String("region", s3.Region))
	case "local":
		a.blobs, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.RawDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local blob store", zap.String("path", a.cfg.RawDir))
	default:
		a.logger.Info("using in-memory blob store")
		a.blobs = memorystorage.NewBlobStore()
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.Publisher.Provider != "pubsub" {
		a.logger.Info("using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	p, err := gcppublisher.Dial(ctx, a.cfg.Publisher.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.pubsub = p
	a.publisher = p
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.Publisher.ProjectID),
		zap.String("topic", a.cfg.Publisher.Topic),
	)
	return nil
}

func (a *App) setupLocker(ctx context.Context) error {
	switch a.cfg.Lock.Provider {
	case "postgres":
		if a.pgStore == nil {
			return errors.New("lock.provider postgres requires a postgres store")
		}
		a.locker = a.pgStore.Locker()
	case "redis":
		r, err := lock.NewRedis(ctx, lock.RedisConfig{
			Addr:     a.cfg.Lock.Redis.Addr,
			Password: a.cfg.Lock.Redis.Password,
			DB:       a.cfg.Lock.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("redis lock init failed: %w", err)
		}
		a.redisLock = r
		a.locker = r
	default:
		a.locker = lock.NewMemory()
	}
	a.logger.Info("run lock ready", zap.String("provider", a.cfg.Lock.Provider), zap.Int("ttl_seconds", a.cfg.Lock.TTLSeconds))
	return nil
}

func (a *App) setupFetchers(context.Context) error {
	if a.fetcherFor != nil {
		return nil
	}
	fetch := a.cfg.Fetch
	if fetch.Headless.Enabled {
		h, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       fetch.Headless.MaxParallel,
			UserAgent:         a.cfg.UserAgent,
			NavigationTimeout: config.Millis(fetch.Headless.NavTimeoutMS),
		})
		if err != nil {
			// Sources still work over plain HTTP; JS-heavy pages come back thin.
			a.logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			a.headless = h
			a.logger.Info("using headless fallback", zap.Int("max_parallel", fetch.Headless.MaxParallel))
		}
	}
	a.fetcherFor = func(timeout time.Duration) radar.Fetcher {
		primary := collyfetcher.New(collyfetcher.Config{
			UserAgent:     a.cfg.UserAgent,
			RespectRobots: fetch.RespectRobots,
			Timeout:       timeout,
		})
		if a.headless == nil {
			return primary
		}
		return fetcher.NewPromoting(primary, a.headless, fetcher.NewHeuristic(fetch.Headless.PromotionThreshold), a.logger.Named("promote"))
	}
	a.logger.Info("using colly fetcher", zap.String("user_agent", a.cfg.UserAgent), zap.Bool("respect_robots", fetch.RespectRobots))
	return nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the pipeline store.
func (a *App) Store() radar.Store { return a.store }

// Publisher returns the digest transport.
func (a *App) Publisher() radar.Publisher { return a.publisher }

// Migrate applies the embedded schema migrations.
func (a *App) Migrate() (uint, error) {
	if a.pgStore == nil || a.pgStore.Pool() == nil {
		return 0, errors.New("migrate requires storage.provider postgres")
	}
	version, err := pgstore.Migrate(a.pgStore.Pool())
	if err != nil {
		return 0, err
	}
	a.logger.Info("schema migrated", zap.Uint("version", version))
	return version, nil
}

func (a *App) policy(stage config.AttemptConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts: stage.Attempts + 1,
		Delay:       config.Millis(stage.DelayMS),
		Strategy:    retry.ParseStrategy(a.cfg.Retry.Strategy),
		MaxDelay:    config.Millis(a.cfg.Retry.MaxDelayMS),
		Jitter:      a.cfg.Retry.Jitter,
	}
}

// Collector returns the source fetcher job.
func (a *App) Collector() *collector.Collector {
	c := a.cfg.Sources
	return collector.New(a.store, a.fetcherFor(config.Millis(c.TimeoutMS)), a.blobs, a.parser, a.clock, a.ids,
		collector.Config{Delay: config.Millis(c.DelayMS), Retry: a.policy(c.Retry)},
		a.logger.Named("collect_sources"))
}

// Extractor returns the detail extractor job. maxRounds <= 0 uses the
// configured round limit.
func (a *App) Extractor(maxRounds int) *details.Extractor {
	d := a.cfg.Details
	if maxRounds <= 0 {
		maxRounds = d.EffectiveMaxRounds()
	}
	return details.New(a.store, a.fetcherFor(config.Millis(d.TimeoutMS)), a.blobs, a.parser, a.clock, a.ids,
		details.Config{
			BatchSize: d.BatchSize,
			Delay:     config.Millis(d.DelayMS),
			MaxRounds: maxRounds,
			Retry:     a.policy(d.Retry),
			Location:  a.cfg.Location(),
		},
		a.logger.Named("collect_details"),
		details.WithLimiter(a.limiter),
	)
}

// Classifier returns the category re-classification job.
func (a *App) Classifier() *classify.Job {
	return classify.New(a.store, a.cfg.Classify.BatchSize, a.logger.Named("classify"))
}

// Scoring returns the aggregation engine.
func (a *App) Scoring() *scoring.Engine {
	return scoring.New(a.store, a.clock, scoring.Config{
		Location:  a.cfg.Location(),
		ZeroStale: a.cfg.Scoring.ZeroStale,
	}, a.logger.Named("scoring"))
}

// SeedEntries returns the default catalogue overlaid with the seed file.
func (a *App) SeedEntries() ([]seed.Entry, error) {
	entries := seed.Defaults()
	if a.cfg.Seed.File == "" {
		return entries, nil
	}
	extra, err := seed.LoadFile(a.cfg.Seed.File)
	if err != nil {
		return nil, err
	}
	return seed.Merge(entries, extra), nil
}

// Seeder returns the source catalogue writer.
func (a *App) Seeder() *seed.Seeder {
	return seed.New(a.store, a.ids, a.logger.Named("seed"))
}

// Sender returns the digest fan-out job.
func (a *App) Sender(dryRun bool) *digest.Sender {
	loc := a.cfg.Location()
	builder := digest.NewAssembler(a.store, a.clock, a.cfg.Digest.AppURL, loc)
	return digest.NewSender(a.store, builder, a.publisher, a.clock, digest.SenderConfig{
		Topic:       a.cfg.Publisher.Topic,
		Concurrency: a.cfg.Digest.Concurrency,
		DryRun:      dryRun || a.cfg.Digest.DryRun,
		Location:    loc,
	}, a.logger.Named("digest"))
}

// API returns the read API server.
func (a *App) API() *api.Server {
	reporter := health.New(a.store, a.clock, a.cfg.Location())
	return api.NewServer(a.store, reporter, api.Config{
		APIKey:         a.cfg.Server.APIKey,
		AppURL:         a.cfg.Digest.AppURL,
		RequestTimeout: config.Millis(a.cfg.Server.RequestTimeoutMS),
	}, a.logger.Named("api"))
}

// RunJob runs fn under the named run lock and records its outcome.
func (a *App) RunJob(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	logger := a.logger.With(zap.String("job", name))
	logger.Info("job started")

	err := lock.With(ctx, a.locker, name, time.Duration(a.cfg.Lock.TTLSeconds)*time.Second, fn)
	status := "success"
	switch {
	case errors.Is(err, lock.ErrHeld):
		status = "skipped"
		logger.Warn("job already running elsewhere")
	case err != nil:
		status = "failed"
		logger.Error("job failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
	default:
		logger.Info("job finished", zap.Duration("elapsed", time.Since(start)))
	}
	metrics.ObserveJob(name, status, time.Since(start))
	return err
}

// Close releases every service. It is safe to call on a partially built App.
func (a *App) Close() {
	if a.logger == nil {
		return
	}
	a.logger.Info("shutting down application services")
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redisLock != nil {
		if err := a.redisLock.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	// Sync fails on stderr/stdout for some platforms; nothing to do about it.
	_ = a.logger.Sync() //nolint:errcheck
}
