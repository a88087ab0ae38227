package radar

import (
	"context"
	"time"
)

// SourceRepository persists registered sources and their fetch runs.
type SourceRepository interface {
	UpsertSource(ctx context.Context, src Source) error
	ListEnabledSources(ctx context.Context) ([]Source, error)
	LastRunStart(ctx context.Context, sourceID string) (*time.Time, error)
	CreateFetchRun(ctx context.Context, run FetchRun) error
	FinishFetchRun(ctx context.Context, run FetchRun) error
	SourceRunStats(ctx context.Context, since time.Time) ([]SourceRunStats, error)
}

// DiscoveryRepository persists the discovered-item frontier.
type DiscoveryRepository interface {
	// UpsertDiscoveredItem creates the item when its fingerprint is new and
	// reports whether a row was inserted.
	UpsertDiscoveredItem(ctx context.Context, item DiscoveredItem) (bool, error)
	CountPendingItems(ctx context.Context) (int, error)
	ListPendingItems(ctx context.Context, limit int) ([]PendingItem, error)
	MarkItemFetched(ctx context.Context, id string, at time.Time) error
	MarkItemFailed(ctx context.Context, id string, reason string) error
}

// SubsidyRepository persists normalized subsidy records.
type SubsidyRepository interface {
	UpsertSubsidy(ctx context.Context, item SubsidyItem) error
	// UpsertSubsidyPDF creates a placeholder record or, when one exists,
	// refreshes only its crawl timestamp and raw path.
	UpsertSubsidyPDF(ctx context.Context, item SubsidyItem) error
	ListSubsidiesAfter(ctx context.Context, afterID string, limit int) ([]SubsidyItem, error)
	UpdateSubsidyCategory(ctx context.Context, id, category string) error
	ListScorableSubsidies(ctx context.Context) ([]SubsidyItem, error)
	ListDeadlineSubsidies(ctx context.Context, prefCode string, from, to time.Time, limit int) ([]SubsidyItem, error)
	ListSubsidies(ctx context.Context, filter SubsidyFilter) ([]SubsidyItem, error)
	ListMunicipalitySubsidies(ctx context.Context, prefCode, municipality, category string) ([]SubsidyItem, error)
}

// ScoreRepository persists aggregation output.
type ScoreRepository interface {
	UpsertScore(ctx context.Context, score MunicipalityScore) error
	UpsertBrief(ctx context.Context, brief MunicipalityBrief) error
	// ZeroStaleScores zeroes non-empty score rows computed before the given
	// instant and returns their keys.
	ZeroStaleScores(ctx context.Context, computedBefore time.Time) ([]ScoreKey, error)
	ListScores(ctx context.Context, prefCode, category string, limit int) ([]MunicipalityScore, error)
	GetScore(ctx context.Context, prefCode, municipality, category string) (MunicipalityScore, error)
	ListBriefs(ctx context.Context, prefCode, category string) ([]MunicipalityBrief, error)
	GetBrief(ctx context.Context, prefCode, municipality, category string) (MunicipalityBrief, error)
	UpsertPriority(ctx context.Context, row PriorityMunicipality) error
	GetPriority(ctx context.Context, prefCode string) (PriorityMunicipality, error)
}

// DigestRepository persists digest recipients and send logs.
type DigestRepository interface {
	ListSubscribers(ctx context.Context) ([]Subscriber, error)
	ListDigestUserIDs(ctx context.Context, digestDate time.Time) ([]string, error)
	UpsertDigestLog(ctx context.Context, log DigestLog) error
	ListDigestLogsSince(ctx context.Context, since time.Time) ([]DigestLog, error)
}

// Store is the full persistence surface used by the application.
type Store interface {
	SourceRepository
	DiscoveryRepository
	SubsidyRepository
	ScoreRepository
	DigestRepository
	Close()
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher hands payloads to an external transport.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces row identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
