// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultUserAgent identifies the crawler to remote sites.
const DefaultUserAgent = "KIZASHI-Bot/1.0 (compatible; data collection)"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	UserAgent string          `mapstructure:"user_agent"`
	RawDir    string          `mapstructure:"raw_dir"`
	Timezone  string          `mapstructure:"timezone"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Details   DetailsConfig   `mapstructure:"details"`
	Classify  ClassifyConfig  `mapstructure:"classify"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Blob      BlobConfig      `mapstructure:"blob"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Lock      LockConfig      `mapstructure:"lock"`
	Digest    DigestConfig    `mapstructure:"digest"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Seed      SeedConfig      `mapstructure:"seed"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls the read API.
type ServerConfig struct {
	Port             int    `mapstructure:"port"`
	APIKey           string `mapstructure:"api_key"`
	RequestTimeoutMS int    `mapstructure:"request_timeout_ms"`
}

// AttemptConfig is the per-stage retry count and delay.
type AttemptConfig struct {
	Attempts int `mapstructure:"attempts"`
	DelayMS  int `mapstructure:"delay_ms"`
}

// SourcesConfig tunes the source collector.
type SourcesConfig struct {
	TimeoutMS int           `mapstructure:"timeout_ms"`
	DelayMS   int           `mapstructure:"delay_ms"`
	Retry     AttemptConfig `mapstructure:"retry"`
}

// DetailsConfig tunes the detail extractor.
type DetailsConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	DelayMS   int           `mapstructure:"delay_ms"`
	MaxRounds int           `mapstructure:"max_rounds"`
	TimeoutMS int           `mapstructure:"timeout_ms"`
	HostRPS   float64       `mapstructure:"host_rps"`
	Retry     AttemptConfig `mapstructure:"retry"`
}

// ClassifyConfig tunes the classifier job.
type ClassifyConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

// PipelineConfig tunes the full-run command.
type PipelineConfig struct {
	DetailsRounds int `mapstructure:"details_rounds"`
}

// RetryConfig selects the shared backoff strategy.
type RetryConfig struct {
	Strategy   string `mapstructure:"strategy"`
	MaxDelayMS int    `mapstructure:"max_delay_ms"`
	Jitter     bool   `mapstructure:"jitter"`
}

// ExtractConfig selects the HTML parser implementation.
type ExtractConfig struct {
	Parser string `mapstructure:"parser"`
}

// FetchConfig configures the HTTP and headless fetchers.
type FetchConfig struct {
	RespectRobots bool           `mapstructure:"respect_robots"`
	Headless      HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig configures the chromedp fallback.
type HeadlessConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	MaxParallel        int  `mapstructure:"max_parallel"`
	NavTimeoutMS       int  `mapstructure:"nav_timeout_ms"`
	PromotionThreshold int  `mapstructure:"promotion_threshold"`
}

// StorageConfig selects the relational store.
type StorageConfig struct {
	Provider string `mapstructure:"provider"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// BlobConfig selects where raw payloads are written.
type BlobConfig struct {
	Provider  string   `mapstructure:"provider"`
	Prefix    string   `mapstructure:"prefix"`
	GCSBucket string   `mapstructure:"gcs_bucket"`
	S3        S3Config `mapstructure:"s3"`
}

// S3Config configures the S3 compatible blob store.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// PublisherConfig selects the digest transport hand-off.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LockConfig selects the run lock backend.
type LockConfig struct {
	Provider   string      `mapstructure:"provider"`
	TTLSeconds int         `mapstructure:"ttl_seconds"`
	Redis      RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DigestConfig tunes the daily digest sender.
type DigestConfig struct {
	AppURL      string `mapstructure:"app_url"`
	DryRun      bool   `mapstructure:"dry_run"`
	Concurrency int    `mapstructure:"concurrency"`
}

// ScoringConfig tunes the aggregation engine.
type ScoringConfig struct {
	ZeroStale bool `mapstructure:"zero_stale"`
}

// SeedConfig points at an optional source catalogue file.
type SeedConfig struct {
	File string `mapstructure:"file"`
}

// legacyEnv maps keys to the environment names used by the batch scripts
// this service replaces. KIZASHI_ prefixed names take precedence.
var legacyEnv = map[string]string{
	"sources.timeout_ms":        "COLLECT_SOURCES_TIMEOUT_MS",
	"sources.delay_ms":          "COLLECT_SOURCES_DELAY_MS",
	"sources.retry.attempts":    "COLLECT_SOURCES_RETRY",
	"sources.retry.delay_ms":    "COLLECT_SOURCES_RETRY_DELAY_MS",
	"details.batch_size":        "SUBSIDY_DETAILS_BATCH",
	"details.delay_ms":          "SUBSIDY_DETAILS_DELAY_MS",
	"details.retry.attempts":    "SUBSIDY_DETAILS_RETRY",
	"details.retry.delay_ms":    "SUBSIDY_DETAILS_RETRY_DELAY_MS",
	"details.max_rounds":        "SUBSIDY_DETAILS_MAX_ROUNDS",
	"details.timeout_ms":        "SUBSIDY_DETAILS_TIMEOUT_MS",
	"classify.batch_size":       "CLASSIFY_BATCH_SIZE",
	"pipeline.details_rounds":   "DATA_FULL_RUN_DETAILS_ROUNDS",
	"digest.concurrency":        "DIGEST_CONCURRENCY",
	"digest.app_url":            "APP_URL",
	"digest.dry_run":            "DRY_RUN",
	"db.dsn":                    "DATABASE_URL",
	"lock.redis.addr":           "REDIS_ADDR",
	"publisher.project_id":      "GOOGLE_CLOUD_PROJECT",
	"blob.s3.access_key_id":     "AWS_ACCESS_KEY_ID",
	"blob.s3.secret_access_key": "AWS_SECRET_ACCESS_KEY",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KIZASHI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := "KIZASHI_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	// Non-numeric values for bounded keys fall back to their defaults
	// instead of failing the decode.
	for _, b := range (&Config{}).bounds() {
		if _, err := strconv.Atoi(strings.TrimSpace(v.GetString(b.key))); err != nil {
			v.Set(b.key, b.def)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.RawDir = expandHome(cfg.RawDir)
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("user_agent", DefaultUserAgent)
	v.SetDefault("raw_dir", "~/kizashi/raw")
	v.SetDefault("timezone", "Asia/Tokyo")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_ms", 10000)
	for _, b := range (&Config{}).bounds() {
		v.SetDefault(b.key, b.def)
	}
	v.SetDefault("details.host_rps", 0.5)
	v.SetDefault("retry.strategy", "fixed")
	v.SetDefault("retry.max_delay_ms", 120000)
	v.SetDefault("retry.jitter", false)
	v.SetDefault("extract.parser", "regex")
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("fetch.headless.enabled", false)
	v.SetDefault("fetch.headless.max_parallel", 1)
	v.SetDefault("fetch.headless.nav_timeout_ms", 45000)
	v.SetDefault("fetch.headless.promotion_threshold", 2048)
	v.SetDefault("storage.provider", "postgres")
	v.SetDefault("db.max_conns", 5)
	v.SetDefault("db.migrate", false)
	v.SetDefault("blob.provider", "local")
	v.SetDefault("blob.s3.region", "ap-northeast-1")
	v.SetDefault("publisher.provider", "memory")
	v.SetDefault("publisher.topic", "kizashi-digest")
	v.SetDefault("lock.provider", "postgres")
	v.SetDefault("lock.ttl_seconds", 6*60*60)
	v.SetDefault("digest.app_url", "https://kizashi.officet2.jp")
	v.SetDefault("digest.dry_run", false)
	v.SetDefault("scoring.zero_stale", true)
}

type bound struct {
	key           string
	field         *int
	def, min, max int
}

func (c *Config) bounds() []bound {
	return []bound{
		{"sources.timeout_ms", &c.Sources.TimeoutMS, 30000, 5000, 120000},
		{"sources.delay_ms", &c.Sources.DelayMS, 1000, 0, 60000},
		{"sources.retry.attempts", &c.Sources.Retry.Attempts, 2, 0, 5},
		{"sources.retry.delay_ms", &c.Sources.Retry.DelayMS, 5000, 1000, 60000},
		{"details.batch_size", &c.Details.BatchSize, 100, 1, 500},
		{"details.delay_ms", &c.Details.DelayMS, 2000, 500, 30000},
		{"details.retry.attempts", &c.Details.Retry.Attempts, 2, 0, 5},
		{"details.retry.delay_ms", &c.Details.Retry.DelayMS, 10000, 2000, 120000},
		{"details.max_rounds", &c.Details.MaxRounds, 0, 0, 200},
		{"details.timeout_ms", &c.Details.TimeoutMS, 30000, 5000, 120000},
		{"classify.batch_size", &c.Classify.BatchSize, 200, 1, 1000},
		{"pipeline.details_rounds", &c.Pipeline.DetailsRounds, 50, 0, 200},
		{"digest.concurrency", &c.Digest.Concurrency, 3, 2, 5},
	}
}

// Normalize clamps every bounded numeric knob into its documented range.
func (c *Config) Normalize() {
	for _, b := range c.bounds() {
		*b.field = clamp(*b.field, b.min, b.max)
	}
}

func clamp(n, lo, hi int) int {
	return max(lo, min(hi, n))
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = os.TempDir()
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Validate enforces required values for the selected providers.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q is invalid: %w", c.Timezone, err)
	}
	switch c.Storage.Provider {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when storage.provider is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.provider %q is not supported", c.Storage.Provider)
	}
	switch c.Blob.Provider {
	case "local":
		if c.RawDir == "" {
			return fmt.Errorf("raw_dir must be set when blob.provider is local")
		}
	case "gcs":
		if c.Blob.GCSBucket == "" {
			return fmt.Errorf("blob.gcs_bucket must be set when blob.provider is gcs")
		}
	case "s3":
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("blob.s3.bucket must be set when blob.provider is s3")
		}
	case "memory":
	default:
		return fmt.Errorf("blob.provider %q is not supported", c.Blob.Provider)
	}
	switch c.Publisher.Provider {
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic must be set when publisher.provider is pubsub")
		}
	case "memory":
	default:
		return fmt.Errorf("publisher.provider %q is not supported", c.Publisher.Provider)
	}
	switch c.Lock.Provider {
	case "postgres":
		if c.Storage.Provider != "postgres" {
			return fmt.Errorf("lock.provider postgres requires storage.provider postgres")
		}
	case "redis":
		if c.Lock.Redis.Addr == "" {
			return fmt.Errorf("lock.redis.addr must be set when lock.provider is redis")
		}
	case "memory":
	default:
		return fmt.Errorf("lock.provider %q is not supported", c.Lock.Provider)
	}
	if c.Lock.TTLSeconds <= 0 {
		return fmt.Errorf("lock.ttl_seconds must be > 0")
	}
	if c.Extract.Parser != "regex" && c.Extract.Parser != "dom" {
		return fmt.Errorf("extract.parser %q is not supported", c.Extract.Parser)
	}
	if c.Retry.Strategy != "fixed" && c.Retry.Strategy != "exponential" {
		return fmt.Errorf("retry.strategy %q is not supported", c.Retry.Strategy)
	}
	if c.Fetch.Headless.Enabled && c.Fetch.Headless.MaxParallel <= 0 {
		return fmt.Errorf("fetch.headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Details.HostRPS < 0 {
		return fmt.Errorf("details.host_rps must be >= 0")
	}
	return nil
}

// Location returns the time zone used to decide what "today" is.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// EffectiveMaxRounds returns the detail round limit, where 0 means one round.
func (d DetailsConfig) EffectiveMaxRounds() int {
	if d.MaxRounds <= 0 {
		return 1
	}
	return d.MaxRounds
}

// Millis converts a millisecond knob into a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
