package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kizashi/subsidy-radar/internal/lock"
	"github.com/kizashi/subsidy-radar/internal/radar"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.ErrorContains(t, err, "db.dsn")
}

// TestUpsertSourceUpdatesNameAndURL confirms the conflict target and arguments.
func TestUpsertSourceUpdatesNameAndURL(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	src := radar.Source{
		ID: "src-1", PrefCode: "13", SourceType: radar.SourceTypeSubsidy,
		Name: "東京都 補助金一覧", URL: "https://hojyokin-portal.jp/subsidies/list?pref_id=13",
		Enabled: true, IntervalMinutes: 720,
	}
	mock.ExpectExec(`INSERT INTO sources .* ON CONFLICT \(pref_code, source_type\) DO UPDATE SET\s+name = EXCLUDED.name,\s+url = EXCLUDED.url`).
		WithArgs(src.ID, src.PrefCode, "subsidy", src.Name, src.URL, true, 720).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertSource(context.Background(), src))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestFetchRunLifecycle confirms runs start as failed and store nullable outcome fields.
func TestFetchRunLifecycle(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	ctx := context.Background()
	started := time.Date(2025, 4, 1, 1, 0, 0, 0, time.UTC)
	finished := started.Add(3 * time.Second)

	mock.ExpectExec("INSERT INTO fetch_runs").
		WithArgs("run-1", "src-1", started, "failed").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE fetch_runs SET").
		WithArgs("run-1", &finished, "failed", nil, int64(0), 0, "dial tcp: timeout", nil, nil).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE fetch_runs SET").
		WithArgs("run-2", &finished, "success", 200, int64(10), 3, nil, "/raw/13/subsidy/x.html", "text/html").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.CreateFetchRun(ctx, radar.FetchRun{ID: "run-1", SourceID: "src-1", StartedAt: started}))
	require.NoError(t, store.FinishFetchRun(ctx, radar.FetchRun{
		ID: "run-1", FinishedAt: &finished, Status: radar.RunFailed, Error: "dial tcp: timeout",
	}))
	err := store.FinishFetchRun(ctx, radar.FetchRun{
		ID: "run-2", FinishedAt: &finished, Status: radar.RunSuccess, HTTPStatus: 200, Bytes: 10, ItemCount: 3,
		RawPath: "/raw/13/subsidy/x.html", ContentType: "text/html",
	})
	require.ErrorIs(t, err, radar.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLastRunStart(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	started := time.Date(2025, 4, 1, 1, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT max\(started_at\) FROM fetch_runs`).WithArgs("src-1").
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(timePtr(started)))
	mock.ExpectQuery(`SELECT max\(started_at\) FROM fetch_runs`).WithArgs("src-2").
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow((*time.Time)(nil)))

	got, err := store.LastRunStart(context.Background(), "src-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Equal(started))

	got, err = store.LastRunStart(context.Background(), "src-2")
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestUpsertDiscoveredItemReportsInsert confirms fingerprint conflicts are not inserts.
func TestUpsertDiscoveredItemReportsInsert(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	at := time.Date(2025, 4, 1, 1, 0, 0, 0, time.UTC)
	item := radar.DiscoveredItem{ID: "d1", SourceID: "src-1", URL: "https://a.example/x", Fingerprint: "fp", DiscoveredAt: at}

	mock.ExpectExec(`INSERT INTO discovered_items .* ON CONFLICT \(fingerprint\) DO NOTHING`).
		WithArgs("d1", "src-1", item.URL, "fp", nil, "new", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO discovered_items`).
		WithArgs("d1", "src-1", item.URL, "fp", nil, "new", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := store.UpsertDiscoveredItem(context.Background(), item)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.UpsertDiscoveredItem(context.Background(), item)
	require.NoError(t, err)
	assert.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestPendingQueue confirms the queue is restricted to enabled subsidy sources.
func TestPendingQueue(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	at := time.Date(2025, 4, 1, 1, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT count\(\*\)\s+FROM discovered_items d\s+JOIN sources s .*s.source_type = 'subsidy' AND d.status IN \('new', 'seen'\)`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`SELECT d.id, .* ORDER BY d.discovered_at, d.id\s+LIMIT \$1`).
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "source_id", "url", "fingerprint", "title", "status", "discovered_at", "pref_code"}).
			AddRow("d1", "src-1", "https://a.example/1", "fp1", strPtr("募集"), "new", at, "13").
			AddRow("d2", "src-1", "https://a.example/2", "fp2", (*string)(nil), "seen", at, "13"))

	n, err := store.CountPendingItems(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items, err := store.ListPendingItems(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "募集", items[0].Title)
	assert.Equal(t, "13", items[1].PrefCode)
	assert.Equal(t, radar.ItemSeen, items[1].Status)
	assert.Empty(t, items[1].Title)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkItem(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	at := time.Date(2025, 4, 1, 1, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE discovered_items SET status = 'fetched'`).WithArgs("d1", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE discovered_items SET status = 'failed'`).WithArgs("d2", "HTTP 404").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkItemFetched(context.Background(), "d1", at))
	require.NoError(t, store.MarkItemFailed(context.Background(), "d2", "HTTP 404"))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestUpsertSubsidyKeepsKnownDates confirms missing dates do not overwrite stored ones.
func TestUpsertSubsidyKeepsKnownDates(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	crawled := time.Date(2025, 4, 1, 1, 0, 0, 0, time.UTC)
	end := time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC)
	item := radar.SubsidyItem{
		ID: "s1", PrefCode: "13", Title: "解体補助", EndDate: &end,
		Status: radar.StatusActive, Category: "DEMOLITION", ParseConfidence: 80,
		SourceURL: "https://a.example/1", RawPath: "/raw/x.html", LastCrawledAt: crawled,
	}

	mock.ExpectExec(`ON CONFLICT \(source_url\) DO UPDATE SET.*start_date = COALESCE\(EXCLUDED.start_date, subsidy_items.start_date\)`).
		WithArgs("s1", "13", nil, "解体補助", nil, (*time.Time)(nil), &end, (*time.Time)(nil),
			"active", "DEMOLITION", 80, item.SourceURL, "/raw/x.html", crawled).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertSubsidy(context.Background(), item))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestUpsertSubsidyPDFOnlyRefreshesCrawlFields confirms the PDF conflict branch.
func TestUpsertSubsidyPDFOnlyRefreshesCrawlFields(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	crawled := time.Date(2025, 4, 1, 1, 0, 0, 0, time.UTC)

	mock.ExpectExec(`ON CONFLICT \(source_url\) DO UPDATE SET\s+last_crawled_at = EXCLUDED.last_crawled_at,\s+raw_path = EXCLUDED.raw_path$`).
		WithArgs("s1", "13", "(PDF)", "unknown", "OTHER", 0, "https://a.example/a.pdf", "/raw/a.pdf", crawled).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertSubsidyPDF(context.Background(), radar.SubsidyItem{
		ID: "s1", PrefCode: "13", Title: "(PDF)", Status: radar.StatusUnknown, Category: "OTHER",
		SourceURL: "https://a.example/a.pdf", RawPath: "/raw/a.pdf", LastCrawledAt: crawled,
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func subsidyRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "pref_code", "municipality_name", "title", "summary", "start_date", "end_date",
		"deadline_date", "status", "category", "parse_confidence", "source_url", "raw_path", "last_crawled_at", "updated_at"})
}

// TestListMunicipalitySubsidiesPrefectureWide confirms an empty municipality matches NULL rows.
func TestListMunicipalitySubsidiesPrefectureWide(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	at := time.Date(2025, 4, 1, 1, 0, 0, 0, time.UTC)
	deadline := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`municipality_name IS NULL AND category = \$2\s+ORDER BY deadline_date ASC NULLS LAST, end_date ASC NULLS LAST, updated_at DESC`).
		WithArgs("13", "DEMOLITION").
		WillReturnRows(subsidyRows().AddRow("s1", "13", (*string)(nil), "解体補助", strPtr("概要"), (*time.Time)(nil), (*time.Time)(nil),
			&deadline, "active", "DEMOLITION", 80, "https://a.example/1", (*string)(nil), at, at))
	mock.ExpectQuery(`municipality_name = \$2\s+ORDER BY`).
		WithArgs("13", "新宿区").
		WillReturnRows(subsidyRows())

	items, err := store.ListMunicipalitySubsidies(context.Background(), "13", "", "DEMOLITION")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Empty(t, items[0].MunicipalityName)
	assert.Equal(t, "概要", items[0].Summary)
	assert.Equal(t, &deadline, items[0].DeadlineDate)

	items, err = store.ListMunicipalitySubsidies(context.Background(), "13", "新宿区", "")
	require.NoError(t, err)
	assert.Empty(t, items)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSubsidiesBuildsFilter(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(`WHERE pref_code = \$1 AND status = \$2\s+ORDER BY updated_at DESC, id\s+LIMIT \$3\s+OFFSET \$4`).
		WithArgs("13", "active", 20, 40).
		WillReturnRows(subsidyRows())
	mock.ExpectQuery(`FROM subsidy_items\s+ORDER BY updated_at DESC, id$`).
		WillReturnRows(subsidyRows())

	_, err := store.ListSubsidies(context.Background(), radar.SubsidyFilter{PrefCode: "13", Status: radar.StatusActive, Limit: 20, Offset: 40})
	require.NoError(t, err)
	_, err = store.ListSubsidies(context.Background(), radar.SubsidyFilter{})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSubsidyCategoryMissing(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE subsidy_items SET category`).WithArgs("nope", "ENERGY").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateSubsidyCategory(context.Background(), "nope", "ENERGY")
	require.ErrorIs(t, err, radar.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestBriefRoundTripsTopSubsidies confirms the JSON column encoding.
func TestBriefRoundTripsTopSubsidies(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	at := time.Date(2025, 4, 1, 1, 0, 0, 0, time.UTC)
	top := `[{"title":"解体補助","url":"https://a.example/1","deadline":"2025-04-10","status":"active"}]`

	mock.ExpectExec(`INSERT INTO municipality_briefs`).
		WithArgs("13", "新宿区", "ALL", "brief", []byte(top), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO municipality_briefs`).
		WithArgs("13", "渋谷区", "ALL", "empty", []byte(`[]`), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`FROM municipality_briefs`).WithArgs("13", "新宿区", "ALL").
		WillReturnRows(pgxmock.NewRows([]string{"pref_code", "municipality_name", "category", "brief_text", "top_subsidies_json", "computed_at"}).
			AddRow("13", "新宿区", "ALL", "brief", []byte(top), at))

	deadline := "2025-04-10"
	require.NoError(t, store.UpsertBrief(context.Background(), radar.MunicipalityBrief{
		PrefCode: "13", MunicipalityName: "新宿区", Category: "ALL", BriefText: "brief", ComputedAt: at,
		TopSubsidies: []radar.TopSubsidy{{Title: "解体補助", URL: "https://a.example/1", Deadline: &deadline, Status: "active"}},
	}))
	require.NoError(t, store.UpsertBrief(context.Background(), radar.MunicipalityBrief{
		PrefCode: "13", MunicipalityName: "渋谷区", Category: "ALL", BriefText: "empty", ComputedAt: at,
	}))

	b, err := store.GetBrief(context.Background(), "13", "新宿区", "ALL")
	require.NoError(t, err)
	require.Len(t, b.TopSubsidies, 1)
	assert.Equal(t, "2025-04-10", *b.TopSubsidies[0].Deadline)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetScoreNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(`FROM municipality_scores`).WithArgs("13", "新宿区", "ALL").
		WillReturnRows(pgxmock.NewRows([]string{"pref_code"}))

	_, err := store.GetScore(context.Background(), "13", "新宿区", "ALL")
	require.ErrorIs(t, err, radar.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestZeroStaleScoresReturnsKeys confirms already-zero rows are excluded.
func TestZeroStaleScoresReturnsKeys(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	at := time.Date(2025, 4, 1, 1, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`UPDATE municipality_scores SET.*WHERE computed_at < \$1\s+AND \(active_count <> 0`).
		WithArgs(at).
		WillReturnRows(pgxmock.NewRows([]string{"pref_code", "municipality_name", "category"}).
			AddRow("13", "新宿区", "ALL"))

	keys, err := store.ZeroStaleScores(context.Background(), at)
	require.NoError(t, err)
	assert.Equal(t, []radar.ScoreKey{{PrefCode: "13", MunicipalityName: "新宿区", Category: "ALL"}}, keys)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListScoresOptionalFilters(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	at := time.Date(2025, 4, 1, 1, 0, 0, 0, time.UTC)
	days := 9

	mock.ExpectQuery(`WHERE pref_code = \$1 AND category = \$2\s+ORDER BY score DESC, municipality_name ASC, category ASC\s+LIMIT \$3`).
		WithArgs("13", "ALL", 5).
		WillReturnRows(pgxmock.NewRows([]string{"pref_code", "municipality_name", "category", "active_count", "upcoming_count",
			"nearest_deadline_date", "nearest_deadline_days", "score", "computed_at"}).
			AddRow("13", "新宿区", "ALL", 1, 0, timePtr(at), &days, 36, at))

	rows, err := store.ListScores(context.Background(), "13", "ALL", 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 36, rows[0].Score)
	assert.Equal(t, 9, *rows[0].NearestDeadlineDays)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPriorityRoundTrip(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	at := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	reason := `{"active":1,"upcoming":0,"deadline7":1,"deadline3":0,"categoryBoost":"DEMOLITION"}`

	mock.ExpectExec(`INSERT INTO priority_municipalities`).
		WithArgs("13", "新宿区", 32, []byte(reason), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`FROM priority_municipalities`).WithArgs("13").
		WillReturnRows(pgxmock.NewRows([]string{"pref_code", "municipality_name", "score", "reason_json", "computed_at"}).
			AddRow("13", "新宿区", 32, []byte(reason), at))
	mock.ExpectQuery(`FROM priority_municipalities`).WithArgs("01").
		WillReturnRows(pgxmock.NewRows([]string{"pref_code"}))

	row := radar.PriorityMunicipality{
		PrefCode: "13", MunicipalityName: "新宿区", Score: 32, ComputedAt: at,
		Reason: radar.PriorityReason{Active: 1, Deadline7: 1, CategoryBoost: "DEMOLITION"},
	}
	require.NoError(t, store.UpsertPriority(context.Background(), row))

	got, err := store.GetPriority(context.Background(), "13")
	require.NoError(t, err)
	assert.Equal(t, row, got)

	_, err = store.GetPriority(context.Background(), "01")
	require.ErrorIs(t, err, radar.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDigestLogs(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	day := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	at := day.Add(time.Hour)

	mock.ExpectQuery(`FROM digest_subscribers\s+WHERE status IN \('trialing', 'active'\)`).
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "email", "home_pref_code"}).AddRow("u1", "a@example.com", "13"))
	mock.ExpectQuery(`SELECT user_id FROM email_digest_logs WHERE digest_date = \$1`).WithArgs(day).
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow("u2"))
	mock.ExpectExec(`INSERT INTO email_digest_logs .* ON CONFLICT \(user_id, digest_date\)`).
		WithArgs("u1", "13", day, "failed", "smtp down", (*time.Time)(nil), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`FROM email_digest_logs\s+WHERE created_at >= \$1`).WithArgs(day).
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "pref_code", "digest_date", "status", "error", "sent_at", "created_at"}).
			AddRow("u1", "13", day, "failed", strPtr("smtp down"), (*time.Time)(nil), at))

	ctx := context.Background()
	subs, err := store.ListSubscribers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []radar.Subscriber{{UserID: "u1", Email: "a@example.com", HomePrefCode: "13"}}, subs)

	ids, err := store.ListDigestUserIDs(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, ids)

	require.NoError(t, store.UpsertDigestLog(ctx, radar.DigestLog{
		UserID: "u1", PrefCode: "13", DigestDate: day, Status: radar.DigestFailed, Error: "smtp down", CreatedAt: at,
	}))

	logs, err := store.ListDigestLogsSince(ctx, day)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "smtp down", logs[0].Error)
	assert.Equal(t, radar.DigestFailed, logs[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceRunStats(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	since := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`WITH last_success AS`).WithArgs(since).
		WillReturnRows(pgxmock.NewRows([]string{"id", "pref_code", "success", "failed", "last_success", "streak"}).
			AddRow("src-1", "13", 2, 1, timePtr(since), 1).
			AddRow("src-2", "14", 0, 0, (*time.Time)(nil), 0))

	stats, err := store.SourceRunStats(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, 2, stats[0].Success24h)
	assert.Equal(t, 1, stats[0].FailStreak)
	assert.Nil(t, stats[1].LastSuccessAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestLockerLease confirms a live lease reports lock.ErrHeld and release deletes by token.
func TestLockerLease(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	locker := store.Locker()

	mock.ExpectExec(`INSERT INTO job_locks .* WHERE job_locks.expires_at < now\(\)`).
		WithArgs("full-run", pgxmock.AnyArg(), float64(3600)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO job_locks`).
		WithArgs("full-run", pgxmock.AnyArg(), float64(3600)).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec(`DELETE FROM job_locks WHERE name = \$1 AND token = \$2`).
		WithArgs("full-run", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	ctx := context.Background()
	release, err := locker.Acquire(ctx, "full-run", time.Hour)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "full-run", time.Hour)
	require.ErrorIs(t, err, lock.ErrHeld)

	require.NoError(t, release(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}
