package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/kizashi/subsidy-radar/internal/radar"
)

type sourceKey struct {
	pref string
	typ  radar.SourceType
}

type digestKey struct {
	user string
	day  time.Time
}

type subscriber struct {
	radar.Subscriber
	status string
}

// Store is an in-memory radar.Store for development and pipeline tests. It
// mirrors the ordering and conflict rules of the Postgres store.
type Store struct {
	mu           sync.RWMutex
	sources      map[string]radar.Source
	sourceKeys   map[sourceKey]string
	runs         []radar.FetchRun
	items        map[string]radar.DiscoveredItem
	fingerprints map[string]string
	subsidies    map[string]radar.SubsidyItem
	scores       map[radar.ScoreKey]radar.MunicipalityScore
	briefs       map[radar.ScoreKey]radar.MunicipalityBrief
	priorities   map[string]radar.PriorityMunicipality
	subscribers  []subscriber
	digestLogs   map[digestKey]radar.DigestLog
	now          func() time.Time
}

var _ radar.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		sources:      make(map[string]radar.Source),
		sourceKeys:   make(map[sourceKey]string),
		items:        make(map[string]radar.DiscoveredItem),
		fingerprints: make(map[string]string),
		subsidies:    make(map[string]radar.SubsidyItem),
		scores:       make(map[radar.ScoreKey]radar.MunicipalityScore),
		briefs:       make(map[radar.ScoreKey]radar.MunicipalityBrief),
		priorities:   make(map[string]radar.PriorityMunicipality),
		digestLogs:   make(map[digestKey]radar.DigestLog),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Close is a no-op.
func (s *Store) Close() {}

// UpsertSource inserts a source or refreshes the name and URL of the existing
// (pref_code, source_type) entry.
func (s *Store) UpsertSource(_ context.Context, src radar.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sourceKey{src.PrefCode, src.SourceType}
	if id, ok := s.sourceKeys[key]; ok {
		cur := s.sources[id]
		cur.Name = src.Name
		cur.URL = src.URL
		s.sources[id] = cur
		return nil
	}
	s.sources[src.ID] = src
	s.sourceKeys[key] = src.ID
	return nil
}

// SetSourceEnabled toggles a source.
func (s *Store) SetSourceEnabled(id string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if src, ok := s.sources[id]; ok {
		src.Enabled = enabled
		s.sources[id] = src
	}
}

// ListEnabledSources returns enabled sources ordered by prefecture and type.
func (s *Store) ListEnabledSources(context.Context) ([]radar.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []radar.Source
	for _, src := range s.sources {
		if src.Enabled {
			out = append(out, src)
		}
	}
	slices.SortFunc(out, func(a, b radar.Source) int {
		return cmp.Or(cmp.Compare(a.PrefCode, b.PrefCode), cmp.Compare(a.SourceType, b.SourceType))
	})
	return out, nil
}

// LastRunStart returns the start of the latest run of the source.
func (s *Store) LastRunStart(_ context.Context, sourceID string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last *time.Time
	for _, r := range s.runs {
		if r.SourceID == sourceID && (last == nil || r.StartedAt.After(*last)) {
			t := r.StartedAt
			last = &t
		}
	}
	return last, nil
}

// CreateFetchRun records the start of a run.
func (s *Store) CreateFetchRun(_ context.Context, run radar.FetchRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.Status == "" {
		run.Status = radar.RunFailed
	}
	s.runs = append(s.runs, run)
	return nil
}

// FinishFetchRun stores the outcome of a run.
func (s *Store) FinishFetchRun(_ context.Context, run radar.FetchRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs {
		if s.runs[i].ID == run.ID {
			run.SourceID = s.runs[i].SourceID
			run.StartedAt = s.runs[i].StartedAt
			s.runs[i] = run
			return nil
		}
	}
	return radar.ErrNotFound
}

// FetchRuns returns the runs of a source in start order.
func (s *Store) FetchRuns(sourceID string) []radar.FetchRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []radar.FetchRun
	for _, r := range s.runs {
		if r.SourceID == sourceID {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b radar.FetchRun) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// SourceRunStats summarises the run history of every enabled source.
func (s *Store) SourceRunStats(_ context.Context, since time.Time) ([]radar.SourceRunStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []radar.SourceRunStats
	for _, src := range s.sources {
		if !src.Enabled {
			continue
		}
		var runs []radar.FetchRun
		for _, r := range s.runs {
			if r.SourceID == src.ID {
				runs = append(runs, r)
			}
		}
		slices.SortStableFunc(runs, func(a, b radar.FetchRun) int { return b.StartedAt.Compare(a.StartedAt) })

		st := radar.SourceRunStats{SourceID: src.ID, PrefCode: src.PrefCode}
		streakOpen := true
		for _, r := range runs {
			if !r.StartedAt.Before(since) {
				switch r.Status {
				case radar.RunSuccess:
					st.Success24h++
				case radar.RunFailed:
					st.Failed24h++
				}
			}
			if r.Status == radar.RunSuccess {
				if st.LastSuccessAt == nil && r.FinishedAt != nil {
					t := *r.FinishedAt
					st.LastSuccessAt = &t
				}
				streakOpen = false
			}
			if streakOpen && r.Status == radar.RunFailed {
				st.FailStreak++
			}
		}
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b radar.SourceRunStats) int {
		return cmp.Or(cmp.Compare(a.PrefCode, b.PrefCode), cmp.Compare(a.SourceID, b.SourceID))
	})
	return out, nil
}

// UpsertDiscoveredItem inserts the item unless its fingerprint is known.
func (s *Store) UpsertDiscoveredItem(_ context.Context, item radar.DiscoveredItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fingerprints[item.Fingerprint]; ok {
		return false, nil
	}
	if item.Status == "" {
		item.Status = radar.ItemNew
	}
	s.items[item.ID] = item
	s.fingerprints[item.Fingerprint] = item.ID
	return true, nil
}

// DiscoveredItem returns one item by id.
func (s *Store) DiscoveredItem(id string) (radar.DiscoveredItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	return it, ok
}

// DiscoveredItems returns every item ordered by discovery time.
func (s *Store) DiscoveredItems() []radar.DiscoveredItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]radar.DiscoveredItem, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	slices.SortFunc(out, compareDiscovered)
	return out
}

func compareDiscovered(a, b radar.DiscoveredItem) int {
	return cmp.Or(a.DiscoveredAt.Compare(b.DiscoveredAt), cmp.Compare(a.ID, b.ID))
}

func (s *Store) pendingLocked() []radar.PendingItem {
	var out []radar.PendingItem
	for _, it := range s.items {
		if it.Status != radar.ItemNew && it.Status != radar.ItemSeen {
			continue
		}
		src, ok := s.sources[it.SourceID]
		if !ok || !src.Enabled || src.SourceType != radar.SourceTypeSubsidy {
			continue
		}
		out = append(out, radar.PendingItem{DiscoveredItem: it, PrefCode: src.PrefCode})
	}
	slices.SortFunc(out, func(a, b radar.PendingItem) int { return compareDiscovered(a.DiscoveredItem, b.DiscoveredItem) })
	return out
}

// CountPendingItems counts the detail queue.
func (s *Store) CountPendingItems(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pendingLocked()), nil
}

// ListPendingItems returns the oldest pending items.
func (s *Store) ListPendingItems(_ context.Context, limit int) ([]radar.PendingItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.pendingLocked()
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkItemFetched moves an item out of the queue.
func (s *Store) MarkItemFetched(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil
	}
	it.Status = radar.ItemFetched
	it.LastFetchedAt = &at
	it.LastError = ""
	s.items[id] = it
	return nil
}

// MarkItemFailed records a terminal failure.
func (s *Store) MarkItemFailed(_ context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil
	}
	it.Status = radar.ItemFailed
	it.LastError = reason
	s.items[id] = it
	return nil
}

func keepDate(next, cur *time.Time) *time.Time {
	if next != nil {
		return next
	}
	return cur
}

// UpsertSubsidy writes a record keyed by source URL. Missing dates keep their
// stored value.
func (s *Store) UpsertSubsidy(_ context.Context, item radar.SubsidyItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.UpdatedAt = item.LastCrawledAt
	if cur, ok := s.subsidies[item.SourceURL]; ok {
		item.ID = cur.ID
		item.PrefCode = cur.PrefCode
		item.StartDate = keepDate(item.StartDate, cur.StartDate)
		item.EndDate = keepDate(item.EndDate, cur.EndDate)
		item.DeadlineDate = keepDate(item.DeadlineDate, cur.DeadlineDate)
	}
	s.subsidies[item.SourceURL] = item
	return nil
}

// UpsertSubsidyPDF creates a placeholder record or refreshes the crawl
// timestamp and raw path of an existing one.
func (s *Store) UpsertSubsidyPDF(_ context.Context, item radar.SubsidyItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.subsidies[item.SourceURL]; ok {
		cur.LastCrawledAt = item.LastCrawledAt
		cur.RawPath = item.RawPath
		s.subsidies[item.SourceURL] = cur
		return nil
	}
	item.UpdatedAt = item.LastCrawledAt
	s.subsidies[item.SourceURL] = item
	return nil
}

// Subsidy returns the record stored for a source URL.
func (s *Store) Subsidy(sourceURL string) (radar.SubsidyItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.subsidies[sourceURL]
	return it, ok
}

// PutSubsidy stores a record verbatim, including its UpdatedAt.
func (s *Store) PutSubsidy(item radar.SubsidyItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subsidies[item.SourceURL] = item
}

func (s *Store) subsidiesLocked(keep func(radar.SubsidyItem) bool) []radar.SubsidyItem {
	var out []radar.SubsidyItem
	for _, it := range s.subsidies {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

// ListSubsidiesAfter pages through records ordered by id.
func (s *Store) ListSubsidiesAfter(_ context.Context, afterID string, limit int) ([]radar.SubsidyItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.subsidiesLocked(func(it radar.SubsidyItem) bool { return it.ID > afterID })
	slices.SortFunc(out, func(a, b radar.SubsidyItem) int { return cmp.Compare(a.ID, b.ID) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateSubsidyCategory overwrites the category of one record.
func (s *Store) UpdateSubsidyCategory(_ context.Context, id, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for url, it := range s.subsidies {
		if it.ID == id {
			it.Category = category
			s.subsidies[url] = it
			return nil
		}
	}
	return radar.ErrNotFound
}

func scorable(it radar.SubsidyItem) bool {
	return it.Status == radar.StatusActive || it.Status == radar.StatusUpcoming
}

// ListScorableSubsidies returns active and upcoming records.
func (s *Store) ListScorableSubsidies(context.Context) ([]radar.SubsidyItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.subsidiesLocked(scorable)
	slices.SortFunc(out, func(a, b radar.SubsidyItem) int {
		return cmp.Or(cmp.Compare(a.PrefCode, b.PrefCode), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func within(d *time.Time, from, to time.Time) bool {
	return d != nil && !d.Before(from) && !d.After(to)
}

// compareDates orders nil after any date.
func compareDates(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return a.Compare(*b)
	}
}

// ListDeadlineSubsidies returns active records whose deadline or end date is in [from, to].
func (s *Store) ListDeadlineSubsidies(_ context.Context, prefCode string, from, to time.Time, limit int) ([]radar.SubsidyItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.subsidiesLocked(func(it radar.SubsidyItem) bool {
		return it.PrefCode == prefCode && it.Status == radar.StatusActive &&
			(within(it.DeadlineDate, from, to) || within(it.EndDate, from, to))
	})
	slices.SortFunc(out, func(a, b radar.SubsidyItem) int {
		return cmp.Or(compareDates(a.DeadlineDate, b.DeadlineDate), compareDates(a.EndDate, b.EndDate), cmp.Compare(a.ID, b.ID))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListSubsidies returns records matching the filter, most recently updated first.
func (s *Store) ListSubsidies(_ context.Context, filter radar.SubsidyFilter) ([]radar.SubsidyItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.subsidiesLocked(func(it radar.SubsidyItem) bool {
		return (filter.PrefCode == "" || it.PrefCode == filter.PrefCode) &&
			(filter.Status == "" || it.Status == filter.Status)
	})
	slices.SortFunc(out, func(a, b radar.SubsidyItem) int {
		return cmp.Or(b.UpdatedAt.Compare(a.UpdatedAt), cmp.Compare(a.ID, b.ID))
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListMunicipalitySubsidies returns active and upcoming records of one
// municipality; an empty municipality selects prefecture-wide records.
func (s *Store) ListMunicipalitySubsidies(_ context.Context, prefCode, municipality, category string) ([]radar.SubsidyItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.subsidiesLocked(func(it radar.SubsidyItem) bool {
		return it.PrefCode == prefCode && scorable(it) && it.MunicipalityName == municipality &&
			(category == "" || it.Category == category)
	})
	slices.SortFunc(out, func(a, b radar.SubsidyItem) int {
		return cmp.Or(compareDates(a.DeadlineDate, b.DeadlineDate), compareDates(a.EndDate, b.EndDate),
			b.UpdatedAt.Compare(a.UpdatedAt))
	})
	return out, nil
}

// UpsertScore writes one aggregation row.
func (s *Store) UpsertScore(_ context.Context, score radar.MunicipalityScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[score.Key()] = score
	return nil
}

// UpsertBrief writes one brief row.
func (s *Store) UpsertBrief(_ context.Context, brief radar.MunicipalityBrief) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if brief.TopSubsidies == nil {
		brief.TopSubsidies = []radar.TopSubsidy{}
	}
	s.briefs[radar.ScoreKey{PrefCode: brief.PrefCode, MunicipalityName: brief.MunicipalityName, Category: brief.Category}] = brief
	return nil
}

// ZeroStaleScores zeroes non-empty rows computed before the instant.
func (s *Store) ZeroStaleScores(_ context.Context, computedBefore time.Time) ([]radar.ScoreKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []radar.ScoreKey
	for k, sc := range s.scores {
		if !sc.ComputedAt.Before(computedBefore) {
			continue
		}
		if sc.ActiveCount == 0 && sc.UpcomingCount == 0 && sc.Score == 0 && sc.NearestDeadlineDate == nil {
			continue
		}
		sc.ActiveCount, sc.UpcomingCount, sc.Score = 0, 0, 0
		sc.NearestDeadlineDate, sc.NearestDeadlineDays = nil, nil
		s.scores[k] = sc
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b radar.ScoreKey) int {
		return cmp.Or(cmp.Compare(a.PrefCode, b.PrefCode), cmp.Compare(a.MunicipalityName, b.MunicipalityName),
			cmp.Compare(a.Category, b.Category))
	})
	return keys, nil
}

// ListScores returns rows ranked by score, then municipality name.
func (s *Store) ListScores(_ context.Context, prefCode, category string, limit int) ([]radar.MunicipalityScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []radar.MunicipalityScore
	for _, sc := range s.scores {
		if (prefCode == "" || sc.PrefCode == prefCode) && (category == "" || sc.Category == category) {
			out = append(out, sc)
		}
	}
	slices.SortFunc(out, func(a, b radar.MunicipalityScore) int {
		return cmp.Or(cmp.Compare(b.Score, a.Score), cmp.Compare(a.MunicipalityName, b.MunicipalityName),
			cmp.Compare(a.Category, b.Category))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetScore returns one row or radar.ErrNotFound.
func (s *Store) GetScore(_ context.Context, prefCode, municipality, category string) (radar.MunicipalityScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scores[radar.ScoreKey{PrefCode: prefCode, MunicipalityName: municipality, Category: category}]
	if !ok {
		return radar.MunicipalityScore{}, radar.ErrNotFound
	}
	return sc, nil
}

// ListBriefs returns the briefs of a prefecture and category by name.
func (s *Store) ListBriefs(_ context.Context, prefCode, category string) ([]radar.MunicipalityBrief, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []radar.MunicipalityBrief
	for _, b := range s.briefs {
		if b.PrefCode == prefCode && b.Category == category {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b radar.MunicipalityBrief) int { return cmp.Compare(a.MunicipalityName, b.MunicipalityName) })
	return out, nil
}

// GetBrief returns one brief or radar.ErrNotFound.
func (s *Store) GetBrief(_ context.Context, prefCode, municipality, category string) (radar.MunicipalityBrief, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.briefs[radar.ScoreKey{PrefCode: prefCode, MunicipalityName: municipality, Category: category}]
	if !ok {
		return radar.MunicipalityBrief{}, radar.ErrNotFound
	}
	return b, nil
}

// UpsertPriority writes the daily pick of a prefecture.
func (s *Store) UpsertPriority(_ context.Context, row radar.PriorityMunicipality) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priorities[row.PrefCode] = row
	return nil
}

// GetPriority returns the pick of a prefecture or radar.ErrNotFound.
func (s *Store) GetPriority(_ context.Context, prefCode string) (radar.PriorityMunicipality, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.priorities[prefCode]
	if !ok {
		return radar.PriorityMunicipality{}, radar.ErrNotFound
	}
	return row, nil
}

// AddSubscriber registers a digest recipient with a subscription status.
func (s *Store) AddSubscriber(sub radar.Subscriber, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, subscriber{Subscriber: sub, status: status})
}

// ListSubscribers returns trialing and active recipients by user id.
func (s *Store) ListSubscribers(context.Context) ([]radar.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []radar.Subscriber
	for _, sub := range s.subscribers {
		if sub.status == "trialing" || sub.status == "active" {
			out = append(out, sub.Subscriber)
		}
	}
	slices.SortFunc(out, func(a, b radar.Subscriber) int { return cmp.Compare(a.UserID, b.UserID) })
	return out, nil
}

// ListDigestUserIDs returns users holding a log row for the date.
func (s *Store) ListDigestUserIDs(_ context.Context, digestDate time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.digestLogs {
		if k.day.Equal(digestDate) {
			out = append(out, k.user)
		}
	}
	slices.Sort(out)
	return out, nil
}

// UpsertDigestLog records the outcome for (user, digest date).
func (s *Store) UpsertDigestLog(_ context.Context, log radar.DigestLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := digestKey{user: log.UserID, day: log.DigestDate.UTC()}
	if cur, ok := s.digestLogs[key]; ok {
		cur.Status = log.Status
		cur.Error = log.Error
		cur.SentAt = log.SentAt
		s.digestLogs[key] = cur
		return nil
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now()
	}
	s.digestLogs[key] = log
	return nil
}

// ListDigestLogsSince returns log rows created at or after since.
func (s *Store) ListDigestLogsSince(_ context.Context, since time.Time) ([]radar.DigestLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []radar.DigestLog
	for _, l := range s.digestLogs {
		if !l.CreatedAt.Before(since) {
			out = append(out, l)
		}
	}
	slices.SortFunc(out, func(a, b radar.DigestLog) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.UserID, b.UserID))
	})
	return out, nil
}
