package sync

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"usagecache/internal/adapters/cursor"
	"usagecache/internal/domain/event"
	sqliterepo "usagecache/internal/repository/sqlite"
	"usagecache/pkg/errors"
	"usagecache/pkg/logger"
)

const hour = int64(3_600_000)

type pageCall struct {
	start, end int64
	page       int
}

// fakeSource serves a fixed raw dataset, filtered by the requested range
// and split into pages like the remote does
type fakeSource struct {
	pageSize  int
	events    []event.Raw
	failPage  int // fail requests for this page number, 0 never
	failCall  int // fail the Nth FetchPage call overall, 0 never
	callCount int
	calls     []pageCall
}

func (f *fakeSource) PageSize() int { return f.pageSize }

func (f *fakeSource) FetchPage(_ context.Context, start, end int64, page int) (*cursor.Page, error) {
	f.callCount++
	f.calls = append(f.calls, pageCall{start: start, end: end, page: page})

	if f.failPage != 0 && page == f.failPage {
		return nil, errors.Wrap(errors.ErrNetwork, "fetch usage events")
	}
	if f.failCall != 0 && f.callCount == f.failCall {
		return nil, errors.Wrap(errors.ErrNetwork, "fetch usage events")
	}

	var inRange []event.Raw
	for _, r := range f.events {
		ts := int64(r.Timestamp)
		if ts >= start && ts <= end {
			inRange = append(inRange, r)
		}
	}

	lo := (page - 1) * f.pageSize
	if lo > len(inRange) {
		lo = len(inRange)
	}
	hi := lo + f.pageSize
	if hi > len(inRange) {
		hi = len(inRange)
	}

	return &cursor.Page{Events: inRange[lo:hi], TotalCount: len(inRange)}, nil
}

func rawEvent(ts int64, model string) event.Raw {
	cost := 1.0
	return event.Raw{
		Timestamp:     event.Millis(ts),
		Model:         model,
		Kind:          "USAGE_EVENT_KIND_COMPOSER",
		RequestsCosts: &cost,
	}
}

func newTestStore(t *testing.T) event.Repository {
	t.Helper()

	db, err := sqlx.Connect("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := sqliterepo.NewEventRepository(db)
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

func newTestService(store event.Repository, source Source) *Service {
	return NewService(store, source, time.Minute, logger.Get())
}

func mustBoundary(t *testing.T, store event.Repository, key string) int64 {
	t.Helper()
	value, ok, err := store.GetMetadata(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok, "boundary %s not set", key)
	ms, err := strconv.ParseInt(value, 10, 64)
	require.NoError(t, err)
	return ms
}

func setBoundaries(t *testing.T, store event.Repository, start, end int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SetMetadata(ctx, event.MetaCacheStart, strconv.FormatInt(start, 10)))
	require.NoError(t, store.SetMetadata(ctx, event.MetaCacheEnd, strconv.FormatInt(end, 10)))
}

func TestRequiredRange(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	firstOfMonth := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	// Billing cycle started mid-February: it wins over the calendar month
	billing := time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)
	start, end := RequiredRange(billing, now)
	assert.Equal(t, billing.UnixMilli(), start)
	assert.Equal(t, now.UnixMilli(), end)

	// Billing cycle started after the first of the month: calendar wins
	billing = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	start, end = RequiredRange(billing, now)
	assert.Equal(t, firstOfMonth.UnixMilli(), start)
	assert.Equal(t, now.UnixMilli(), end)
}

func TestReconcile_Bootstrap(t *testing.T) {
	base := int64(1_700_000_000_000)
	source := &fakeSource{pageSize: 300}
	for i := int64(0); i < 10; i++ {
		source.events = append(source.events, rawEvent(base+i*hour, "claude-4-sonnet"))
	}

	store := newTestStore(t)
	svc := newTestService(store, source)

	requiredStart := base
	requiredEnd := base + 12*hour
	require.NoError(t, svc.Reconcile(context.Background(), requiredStart, requiredEnd))

	// Both legs fetched the full window; the upsert resolved the overlap
	got, err := store.GetEvents(context.Background(), 0, requiredEnd)
	require.NoError(t, err)
	assert.Len(t, got, 10)

	assert.Equal(t, requiredStart, mustBoundary(t, store, event.MetaCacheStart))
	assert.Equal(t, requiredEnd, mustBoundary(t, store, event.MetaCacheEnd))
}

func TestReconcile_Idempotent(t *testing.T) {
	base := int64(1_700_000_000_000)
	source := &fakeSource{pageSize: 300}
	for i := int64(0); i < 10; i++ {
		source.events = append(source.events, rawEvent(base+i*hour, "claude-4-sonnet"))
	}

	store := newTestStore(t)
	svc := newTestService(store, source)

	requiredStart := base
	requiredEnd := base + 12*hour
	require.NoError(t, svc.Reconcile(context.Background(), requiredStart, requiredEnd))
	require.NoError(t, svc.Reconcile(context.Background(), requiredStart, requiredEnd))

	got, err := store.GetEvents(context.Background(), 0, requiredEnd)
	require.NoError(t, err)
	assert.Len(t, got, 10)

	assert.Equal(t, requiredStart, mustBoundary(t, store, event.MetaCacheStart))
	assert.Equal(t, requiredEnd, mustBoundary(t, store, event.MetaCacheEnd))
}

func TestReconcile_HistoricalGapFill(t *testing.T) {
	base := int64(1_700_000_000_000)
	cacheStart := base + 10*hour
	cacheEnd := base + 20*hour

	source := &fakeSource{pageSize: 300, events: []event.Raw{
		rawEvent(base+5*hour, "old-a"),
		rawEvent(base+7*hour, "old-b"),
		rawEvent(base+21*hour, "new-a"),
	}}

	store := newTestStore(t)
	setBoundaries(t, store, cacheStart, cacheEnd)

	svc := newTestService(store, source)
	require.NoError(t, svc.Reconcile(context.Background(), base+5*hour, base+22*hour))

	// Historical fetch covered exactly [requiredStart, old cacheStart]
	require.NotEmpty(t, source.calls)
	assert.Equal(t, pageCall{start: base + 5*hour, end: cacheStart, page: 1}, source.calls[0])

	assert.Equal(t, base+5*hour, mustBoundary(t, store, event.MetaCacheStart))
	assert.Equal(t, base+22*hour, mustBoundary(t, store, event.MetaCacheEnd))

	got, err := store.GetEvents(context.Background(), 0, base+22*hour)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestReconcile_OverlapReplacesUpdatedEvents(t *testing.T) {
	base := int64(1_700_000_000_000)
	cacheStart := base
	cacheEnd := base + 20*hour
	updatedTS := cacheEnd - 30_000 // inside the one-minute overlap

	store := newTestStore(t)
	setBoundaries(t, store, cacheStart, cacheEnd)

	stale := event.UsageEvent{Timestamp: updatedTS, Model: "stale", Kind: "composer"}
	require.NoError(t, store.SaveEvents(context.Background(), []event.UsageEvent{stale}))

	source := &fakeSource{pageSize: 300, events: []event.Raw{
		rawEvent(updatedTS, "refreshed"),
	}}

	svc := newTestService(store, source)
	require.NoError(t, svc.Reconcile(context.Background(), cacheStart, base+21*hour))

	got, err := store.GetEvents(context.Background(), updatedTS, updatedTS)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "refreshed", got[0].Model)
}

func TestReconcile_PaginatesInOrder(t *testing.T) {
	base := int64(1_700_000_000_000)
	source := &fakeSource{pageSize: 300}
	for i := int64(0); i < 650; i++ {
		source.events = append(source.events, rawEvent(base+i*1000, "m"))
	}

	store := newTestStore(t)
	svc := newTestService(store, source)

	requiredStart := base
	requiredEnd := base + hour
	require.NoError(t, svc.Reconcile(context.Background(), requiredStart, requiredEnd))

	// 650 events at page size 300 means pages 1, 2, 3 per leg, in order
	require.Len(t, source.calls, 6)
	for leg := 0; leg < 2; leg++ {
		for i, wantPage := range []int{1, 2, 3} {
			assert.Equal(t, wantPage, source.calls[leg*3+i].page)
		}
	}

	got, err := store.GetEvents(context.Background(), 0, requiredEnd)
	require.NoError(t, err)
	assert.Len(t, got, 650)
}

func TestReconcile_FetchFailureAdvancesNothing(t *testing.T) {
	base := int64(1_700_000_000_000)
	source := &fakeSource{pageSize: 300, failPage: 1,
		events: []event.Raw{rawEvent(base, "m")}}

	store := newTestStore(t)
	svc := newTestService(store, source)

	err := svc.Reconcile(context.Background(), base, base+hour)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNetwork))

	_, ok, err := store.GetMetadata(context.Background(), event.MetaCacheStart)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = store.GetMetadata(context.Background(), event.MetaCacheEnd)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.GetEvents(context.Background(), 0, base+hour)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReconcile_HistoricalCommitSurvivesRecentFailure(t *testing.T) {
	base := int64(1_700_000_000_000)
	cacheStart := base + 10*hour
	cacheEnd := base + 20*hour

	// First call is the historical leg, second call the recent refresh
	source := &fakeSource{pageSize: 300, failCall: 2, events: []event.Raw{
		rawEvent(base+5*hour, "old"),
	}}

	store := newTestStore(t)
	setBoundaries(t, store, cacheStart, cacheEnd)

	svc := newTestService(store, source)
	err := svc.Reconcile(context.Background(), base+5*hour, base+22*hour)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNetwork))

	// The completed historical half keeps its boundary; the failed recent
	// half advances nothing
	assert.Equal(t, base+5*hour, mustBoundary(t, store, event.MetaCacheStart))
	assert.Equal(t, cacheEnd, mustBoundary(t, store, event.MetaCacheEnd))
}

func TestReconcile_BoundariesAreMonotonic(t *testing.T) {
	base := int64(1_700_000_000_000)
	cacheStart := base
	cacheEnd := base + 20*hour

	store := newTestStore(t)
	setBoundaries(t, store, cacheStart, cacheEnd)

	// Remote has nothing new: no boundary moves
	source := &fakeSource{pageSize: 300}
	svc := newTestService(store, source)
	require.NoError(t, svc.Reconcile(context.Background(), base+2*hour, base+22*hour))

	assert.Equal(t, cacheStart, mustBoundary(t, store, event.MetaCacheStart))
	assert.Equal(t, cacheEnd, mustBoundary(t, store, event.MetaCacheEnd))
}
