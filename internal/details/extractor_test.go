package details

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kizashi/subsidy-radar/internal/clock"
	"github.com/kizashi/subsidy-radar/internal/extract"
	idgen "github.com/kizashi/subsidy-radar/internal/id/uuid"
	"github.com/kizashi/subsidy-radar/internal/radar"
	"github.com/kizashi/subsidy-radar/internal/retry"
	"github.com/kizashi/subsidy-radar/internal/storage/memory"
	"github.com/kizashi/subsidy-radar/internal/taxonomy"
)

const detailPage = `<!DOCTYPE html><html><head><title>解体工事補助金のご案内</title></head><body>
<p>川口市 では老朽化した空き家の解体費用を補助します。受付期間は令和７年４月１日から令和7年6月30日までです。対象は市内に建物を所有する個人の方です。</p>
</body></html>`

type stubFetcher struct {
	mu    sync.Mutex
	resp  map[string]radar.FetchResponse
	errs  map[string]error
	calls map[string]int
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		resp:  make(map[string]radar.FetchResponse),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (s *stubFetcher) Fetch(_ context.Context, req radar.FetchRequest) (radar.FetchResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[req.URL]++
	if err, ok := s.errs[req.URL]; ok {
		return radar.FetchResponse{}, err
	}
	resp, ok := s.resp[req.URL]
	if !ok {
		return radar.FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	return resp, nil
}

func (s *stubFetcher) html(url, body string) {
	s.resp[url] = radar.FetchResponse{URL: url, StatusCode: http.StatusOK, ContentType: "text/html; charset=utf-8", Body: []byte(body)}
}

type recordingSleeper struct {
	waits []time.Duration
}

func (r *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

type recordingLimiter struct {
	urls []string
}

func (l *recordingLimiter) Wait(_ context.Context, url string) error {
	l.urls = append(l.urls, url)
	return nil
}

type fixture struct {
	store   *memory.Store
	blobs   *memory.BlobStore
	fetcher *stubFetcher
	clock   *clock.Fixed
	sleeper *recordingSleeper
	limiter *recordingLimiter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   memory.NewStore(),
		blobs:   memory.NewBlobStore(),
		fetcher: newStubFetcher(),
		clock:   clock.NewFixed(time.Date(2025, 4, 10, 3, 0, 0, 0, time.UTC)),
		sleeper: &recordingSleeper{},
		limiter: &recordingLimiter{},
	}
	src := radar.Source{ID: "src-11", PrefCode: "11", SourceType: radar.SourceTypeSubsidy, Name: "埼玉県 補助金一覧", URL: "https://pref.example.jp/list", Enabled: true, IntervalMinutes: 720}
	require.NoError(t, f.store.UpsertSource(context.Background(), src))
	return f
}

func (f *fixture) extractor(store Store, cfg Config) *Extractor {
	return New(store, f.fetcher, f.blobs, extract.RegexParser{}, f.clock, idgen.New(), cfg, nil,
		WithSleeper(f.sleeper), WithLimiter(f.limiter))
}

func (f *fixture) addItem(t *testing.T, id, url string, minute int) {
	t.Helper()
	inserted, err := f.store.UpsertDiscoveredItem(context.Background(), radar.DiscoveredItem{
		ID:           id,
		SourceID:     "src-11",
		URL:          url,
		Fingerprint:  "fp-" + id,
		Status:       radar.ItemNew,
		DiscoveredAt: time.Date(2025, 4, 9, 0, minute, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.True(t, inserted)
}

func tokyo(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	return loc
}

// TestRunExtractsHTMLDetail confirms the extracted record and queue transition for an HTML page.
func TestRunExtractsHTMLDetail(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	url := "https://city.example.jp/subsidy/1"
	f.addItem(t, "0193f1aa-0000-7000-8000-00000000abcd", url, 0)
	f.fetcher.html(url, detailPage)

	report, err := f.extractor(f.store, Config{BatchSize: 10, Delay: 300 * time.Millisecond, Location: tokyo(t)}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{State: StateDone, Rounds: 1, Processed: 1, Fetched: 1}, report)

	rec, ok := f.store.Subsidy(url)
	require.True(t, ok)
	assert.Equal(t, "11", rec.PrefCode)
	assert.Equal(t, "解体工事補助金のご案内", rec.Title)
	assert.Equal(t, "川口市", rec.MunicipalityName)
	assert.Equal(t, "2025-04-01", radar.FormatDate(rec.StartDate))
	assert.Equal(t, "2025-06-30", radar.FormatDate(rec.EndDate))
	assert.Equal(t, "2025-06-30", radar.FormatDate(rec.DeadlineDate))
	assert.Equal(t, radar.StatusActive, rec.Status)
	assert.Equal(t, taxonomy.Demolition, rec.Category)
	assert.Equal(t, 100, rec.ParseConfidence)
	assert.Contains(t, rec.Summary, "川口市")
	assert.Equal(t, "memory://subsidy_details/11/20250410/1744254000000_0000abcd.html", rec.RawPath)

	item, ok := f.store.DiscoveredItem("0193f1aa-0000-7000-8000-00000000abcd")
	require.True(t, ok)
	assert.Equal(t, radar.ItemFetched, item.Status)
	assert.Equal(t, []string{url}, f.limiter.urls)
	assert.Equal(t, []time.Duration{300 * time.Millisecond}, f.sleeper.waits)
}

// TestRunUsesPlaceholdersForBarePages confirms untitled pages still produce a record.
func TestRunUsesPlaceholdersForBarePages(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	url := "https://city.example.jp/subsidy/bare"
	f.addItem(t, "item-bare", url, 0)
	f.fetcher.html(url, `<html><body><p>準備中</p></body></html>`)

	_, err := f.extractor(f.store, Config{}).Run(context.Background())
	require.NoError(t, err)

	rec, ok := f.store.Subsidy(url)
	require.True(t, ok)
	assert.Equal(t, extract.UntitledPlaceholder, rec.Title)
	assert.Empty(t, rec.MunicipalityName)
	assert.Equal(t, radar.StatusUnknown, rec.Status)
	assert.Equal(t, taxonomy.Other, rec.Category)
	assert.Zero(t, rec.ParseConfidence)
}

// TestRunStoresPDFPlaceholder confirms PDFs are archived but not parsed.
func TestRunStoresPDFPlaceholder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	url := "https://city.example.jp/files/youkou.pdf"
	f.addItem(t, "item-pdf-1", url, 0)
	f.fetcher.resp[url] = radar.FetchResponse{URL: url, StatusCode: http.StatusOK, ContentType: "application/pdf", Body: []byte("%PDF-1.7")}

	report, err := f.extractor(f.store, Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.PDFs)
	assert.Equal(t, 1, report.Fetched)

	rec, ok := f.store.Subsidy(url)
	require.True(t, ok)
	assert.Equal(t, extract.PDFTitlePlaceholder, rec.Title)
	assert.Equal(t, radar.StatusUnknown, rec.Status)
	assert.Zero(t, rec.ParseConfidence)
	assert.Contains(t, rec.RawPath, "_em-pdf-1.pdf")

	body, contentType, ok := f.blobs.Get("subsidy_details/11/20250410/1744254000000_em-pdf-1.pdf")
	require.True(t, ok)
	assert.Equal(t, "%PDF-1.7", string(body))
	assert.Equal(t, "application/pdf", contentType)
}

// TestRunRetriesThenMarksFailed confirms non-2xx answers are retried and recorded on the item.
func TestRunRetriesThenMarksFailed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	url := "https://city.example.jp/subsidy/gone"
	f.addItem(t, "item-gone", url, 0)

	cfg := Config{Retry: retry.Policy{MaxAttempts: 2, Delay: 2 * time.Second}}
	report, err := f.extractor(f.store, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Fetched)
	assert.Equal(t, 3, f.fetcher.calls[url])
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, f.sleeper.waits)

	item, ok := f.store.DiscoveredItem("item-gone")
	require.True(t, ok)
	assert.Equal(t, radar.ItemFailed, item.Status)
	assert.Equal(t, "HTTP 404", item.LastError)
	_, ok = f.store.Subsidy(url)
	assert.False(t, ok)
}

// TestRunRecordsTransportError confirms the transport message becomes the failure reason.
func TestRunRecordsTransportError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	url := "https://city.example.jp/subsidy/timeout"
	f.addItem(t, "item-timeout", url, 0)
	f.fetcher.errs[url] = errors.New("context deadline exceeded (Client.Timeout exceeded)")

	report, err := f.extractor(f.store, Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	item, _ := f.store.DiscoveredItem("item-timeout")
	assert.Equal(t, "context deadline exceeded (Client.Timeout exceeded)", item.LastError)
}

// TestRunStopsAtMaxRounds confirms batching and the round cap.
func TestRunStopsAtMaxRounds(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	urls := []string{
		"https://city.example.jp/subsidy/a",
		"https://city.example.jp/subsidy/b",
		"https://city.example.jp/subsidy/c",
	}
	for i, u := range urls {
		f.addItem(t, "item-"+string(rune('a'+i)), u, i)
		f.fetcher.html(u, detailPage)
	}

	report, err := f.extractor(f.store, Config{BatchSize: 1, MaxRounds: 2}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{State: StateDone, Rounds: 2, Processed: 2, Fetched: 2, Remaining: 1}, report)

	// Oldest items first.
	assert.Equal(t, 1, f.fetcher.calls[urls[0]])
	assert.Equal(t, 1, f.fetcher.calls[urls[1]])
	assert.Zero(t, f.fetcher.calls[urls[2]])
}

// TestRunDefaultsToOneRound confirms a non-positive round cap means a single batch.
func TestRunDefaultsToOneRound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	for i, u := range []string{"https://city.example.jp/subsidy/x", "https://city.example.jp/subsidy/y"} {
		f.addItem(t, "item-"+string(rune('x'+i)), u, i)
		f.fetcher.html(u, detailPage)
	}

	report, err := f.extractor(f.store, Config{BatchSize: 1, MaxRounds: 0}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rounds)
	assert.Equal(t, 1, report.Remaining)
}

// TestStepWalksStates confirms the transition order of the state machine.
func TestStepWalksStates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	for i, u := range []string{"https://city.example.jp/subsidy/1", "https://city.example.jp/subsidy/2"} {
		f.addItem(t, "item-"+string(rune('1'+i)), u, i)
		f.fetcher.html(u, detailPage)
	}
	e := f.extractor(f.store, Config{BatchSize: 1, MaxRounds: 5})
	ctx := context.Background()

	var states []State
	for {
		state, err := e.Step(ctx)
		require.NoError(t, err)
		states = append(states, state)
		if state.Terminal() {
			break
		}
	}
	// Two rounds drain the queue and the third finds it empty.
	assert.Equal(t, []State{StateRunning, StateRunning, StateRunning, StateDraining, StateDone}, states)
	assert.Equal(t, 2, e.Report().Rounds)

	state, err := e.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)
}

// TestRunEmptyQueue confirms an empty queue finishes without fetching.
func TestRunEmptyQueue(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	report, err := f.extractor(f.store, Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{State: StateDone}, report)
	assert.Empty(t, f.fetcher.calls)
}

type failingStore struct {
	*memory.Store
	listErr   error
	upsertErr error
	markErr   error
}

func (s *failingStore) ListPendingItems(ctx context.Context, limit int) ([]radar.PendingItem, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.Store.ListPendingItems(ctx, limit)
}

func (s *failingStore) UpsertSubsidy(ctx context.Context, item radar.SubsidyItem) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	return s.Store.UpsertSubsidy(ctx, item)
}

func (s *failingStore) MarkItemFailed(ctx context.Context, id, reason string) error {
	if s.markErr != nil {
		return s.markErr
	}
	return s.Store.MarkItemFailed(ctx, id, reason)
}

// TestRunFailsOnStoreError confirms a queue read error is terminal and reported.
func TestRunFailsOnStoreError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addItem(t, "item-1", "https://city.example.jp/subsidy/1", 0)
	store := &failingStore{Store: f.store, listErr: errors.New("connection refused")}

	report, err := f.extractor(store, Config{}).Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection refused")
	assert.Equal(t, StateFailed, report.State)
	assert.Contains(t, report.Error, "list pending items")
}

// TestRunMarksItemFailedOnUpsertError confirms a write error fails the item but not the run.
func TestRunMarksItemFailedOnUpsertError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	url := "https://city.example.jp/subsidy/1"
	f.addItem(t, "item-1", url, 0)
	f.fetcher.html(url, detailPage)
	store := &failingStore{Store: f.store, upsertErr: errors.New("value too long for type")}

	report, err := f.extractor(store, Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	item, _ := f.store.DiscoveredItem("item-1")
	assert.Equal(t, radar.ItemFailed, item.Status)
	assert.Equal(t, "value too long for type", item.LastError)
}

// TestRunFailsWhenFailureCannotBeRecorded confirms partial progress survives a terminal failure.
func TestRunFailsWhenFailureCannotBeRecorded(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addItem(t, "item-ok", "https://city.example.jp/subsidy/ok", 0)
	f.fetcher.html("https://city.example.jp/subsidy/ok", detailPage)
	f.addItem(t, "item-bad", "https://city.example.jp/subsidy/bad", 1)
	store := &failingStore{Store: f.store, markErr: errors.New("database is closed")}

	report, err := f.extractor(store, Config{}).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, report.State)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Fetched)
}

// TestRawPath confirms the detail archive layout.
func TestRawPath(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 1, 2, 23, 30, 0, 0, time.FixedZone("JST", 9*3600))
	assert.Equal(t, "subsidy_details/01/20250102/1735828200000_short.html", RawPath("01", "short", at, false))
	assert.Equal(t, "subsidy_details/01/20250102/1735828200000_89abcdef.pdf", RawPath("01", "0123456789abcdef", at, true))
}
