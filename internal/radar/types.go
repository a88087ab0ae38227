// Package radar defines the domain types and ports shared by the pipeline stages.
package radar

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// PrefectureWide is the municipality label used for items with no municipality.
const PrefectureWide = "県全域"

// SourceType classifies what a registered source publishes.
type SourceType string

// Source types known to the pipeline.
const (
	SourceTypeSubsidy SourceType = "subsidy"
	SourceTypeTender  SourceType = "tender"
)

// Source is a registered origin polled for announcement links.
type Source struct {
	ID              string     `json:"id"`
	PrefCode        string     `json:"pref_code"`
	SourceType      SourceType `json:"source_type"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	Enabled         bool       `json:"enabled"`
	IntervalMinutes int        `json:"interval_minutes"`
}

// RunStatus is the terminal status of a fetch run.
type RunStatus string

// Fetch run statuses.
const (
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// FetchRun records one polling attempt against a Source.
type FetchRun struct {
	ID          string     `json:"id"`
	SourceID    string     `json:"source_id"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Status      RunStatus  `json:"status"`
	HTTPStatus  int        `json:"http_status,omitempty"`
	Bytes       int64      `json:"bytes"`
	ItemCount   int        `json:"item_count"`
	Error       string     `json:"error,omitempty"`
	RawPath     string     `json:"raw_path,omitempty"`
	ContentType string     `json:"content_type,omitempty"`
}

// ItemStatus tracks a discovered link through detail extraction.
type ItemStatus string

// Discovered item statuses. Seen is accepted as pending for compatibility with
// rows written by older collectors.
const (
	ItemNew     ItemStatus = "new"
	ItemSeen    ItemStatus = "seen"
	ItemFetched ItemStatus = "fetched"
	ItemFailed  ItemStatus = "failed"
)

// DiscoveredItem is a candidate detail URL found on a source page.
type DiscoveredItem struct {
	ID            string     `json:"id"`
	SourceID      string     `json:"source_id"`
	URL           string     `json:"url"`
	Fingerprint   string     `json:"fingerprint"`
	Title         string     `json:"title,omitempty"`
	Status        ItemStatus `json:"status"`
	DiscoveredAt  time.Time  `json:"discovered_at"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// PendingItem is a discovered item joined with the prefecture of its source.
type PendingItem struct {
	DiscoveredItem
	PrefCode string
}

// SubsidyStatus is the lifecycle status derived from extracted dates.
type SubsidyStatus string

// Subsidy statuses.
const (
	StatusUpcoming SubsidyStatus = "upcoming"
	StatusActive   SubsidyStatus = "active"
	StatusExpired  SubsidyStatus = "expired"
	StatusUnknown  SubsidyStatus = "unknown"
)

// SubsidyItem is the normalized fact record, unique by SourceURL.
// An empty MunicipalityName means the item applies prefecture-wide.
type SubsidyItem struct {
	ID               string        `json:"id"`
	PrefCode         string        `json:"pref_code"`
	MunicipalityName string        `json:"municipality_name,omitempty"`
	Title            string        `json:"title"`
	Summary          string        `json:"summary,omitempty"`
	StartDate        *time.Time    `json:"start_date,omitempty"`
	EndDate          *time.Time    `json:"end_date,omitempty"`
	DeadlineDate     *time.Time    `json:"deadline_date,omitempty"`
	Status           SubsidyStatus `json:"status"`
	Category         string        `json:"category"`
	ParseConfidence  int           `json:"parse_confidence"`
	SourceURL        string        `json:"source_url"`
	RawPath          string        `json:"raw_path,omitempty"`
	LastCrawledAt    time.Time     `json:"last_crawled_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// EffectiveDeadline returns the deadline, falling back to the end date.
func (s SubsidyItem) EffectiveDeadline() *time.Time {
	if s.DeadlineDate != nil {
		return s.DeadlineDate
	}
	return s.EndDate
}

// MunicipalityScore aggregates counters per (prefecture, municipality, category).
type MunicipalityScore struct {
	PrefCode            string     `json:"pref_code"`
	MunicipalityName    string     `json:"municipality_name"`
	Category            string     `json:"category"`
	ActiveCount         int        `json:"active_count"`
	UpcomingCount       int        `json:"upcoming_count"`
	NearestDeadlineDate *time.Time `json:"nearest_deadline_date,omitempty"`
	NearestDeadlineDays *int       `json:"nearest_deadline_days,omitempty"`
	Score               int        `json:"score"`
	ComputedAt          time.Time  `json:"computed_at"`
}

// ScoreKey identifies one score or brief row.
type ScoreKey struct {
	PrefCode         string
	MunicipalityName string
	Category         string
}

// Key returns the row key of the score.
func (s MunicipalityScore) Key() ScoreKey {
	return ScoreKey{PrefCode: s.PrefCode, MunicipalityName: s.MunicipalityName, Category: s.Category}
}

// TopSubsidy is one representative subsidy serialized into a brief.
type TopSubsidy struct {
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Deadline *string `json:"deadline"`
	Status   string  `json:"status"`
}

// MunicipalityBrief is the human readable summary for a score key.
type MunicipalityBrief struct {
	PrefCode         string       `json:"pref_code"`
	MunicipalityName string       `json:"municipality_name"`
	Category         string       `json:"category"`
	BriefText        string       `json:"brief_text"`
	TopSubsidies     []TopSubsidy `json:"top_subsidies"`
	ComputedAt       time.Time    `json:"computed_at"`
}

// PriorityReason explains how a priority score was built.
type PriorityReason struct {
	Active        int    `json:"active"`
	Upcoming      int    `json:"upcoming"`
	Deadline7     int    `json:"deadline7"`
	Deadline3     int    `json:"deadline3"`
	CategoryBoost string `json:"categoryBoost"`
}

// PriorityMunicipality is the single daily pick for a prefecture.
type PriorityMunicipality struct {
	PrefCode         string         `json:"pref_code"`
	MunicipalityName string         `json:"municipality_name"`
	Score            int            `json:"score"`
	Reason           PriorityReason `json:"reason"`
	ComputedAt       time.Time      `json:"computed_at"`
}

// Subscriber is a digest recipient managed outside the pipeline.
type Subscriber struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	HomePrefCode string `json:"home_pref_code"`
}

// DigestStatus is the outcome recorded per (user, day).
type DigestStatus string

// Digest log statuses.
const (
	DigestSent    DigestStatus = "sent"
	DigestFailed  DigestStatus = "failed"
	DigestSkipped DigestStatus = "skipped"
)

// DigestLog is the idempotency record of one daily digest.
type DigestLog struct {
	UserID     string       `json:"user_id"`
	PrefCode   string       `json:"pref_code"`
	DigestDate time.Time    `json:"digest_date"`
	Status     DigestStatus `json:"status"`
	Error      string       `json:"error,omitempty"`
	SentAt     *time.Time   `json:"sent_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// SourceRunStats summarises the fetch history of one enabled source.
type SourceRunStats struct {
	SourceID      string
	PrefCode      string
	Success24h    int
	Failed24h     int
	LastSuccessAt *time.Time
	FailStreak    int
}

// SubsidyFilter narrows subsidy listings.
type SubsidyFilter struct {
	PrefCode string
	Status   SubsidyStatus
	Limit    int
	Offset   int
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the outcome of a completed HTTP exchange.
type FetchResponse struct {
	URL          string
	StatusCode   int
	ContentType  string
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// OK reports whether the response carried a 2xx status.
func (r FetchResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Code)
}
