package identity

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

	"usagecache/internal/domain/event"
	sqliterepo "usagecache/internal/repository/sqlite"
	"usagecache/pkg/errors"
	"usagecache/pkg/logger"
)

type fakeSource struct {
	sub          string
	billingMS    int64
	meCalls      int
	billingCalls int
	meErr        error
	billingErr   error
}

func (f *fakeSource) FetchMe(context.Context) (string, error) {
	f.meCalls++
	if f.meErr != nil {
		return "", f.meErr
	}
	return f.sub, nil
}

func (f *fakeSource) FetchBillingCycle(_ context.Context, _ string) (int64, error) {
	f.billingCalls++
	if f.billingErr != nil {
		return 0, f.billingErr
	}
	return f.billingMS, nil
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

func TestUserSub_CachedAfterFirstResolve(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{sub: "user_abc"}
	svc := NewService(store, source, logger.Get())

	sub, err := svc.UserSub(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user_abc", sub)
	assert.Equal(t, 1, source.meCalls)

	// Second call is served from metadata
	sub, err = svc.UserSub(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user_abc", sub)
	assert.Equal(t, 1, source.meCalls)
}

func TestUserSub_RemoteFailure(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{meErr: errors.Wrap(errors.ErrNetwork, "auth me")}
	svc := NewService(store, source, logger.Get())

	_, err := svc.UserSub(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNetwork))
}

func TestBillingStart_FreshCachedValueHonored(t *testing.T) {
	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	cached := time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)

	store := newTestStore(t)
	require.NoError(t, store.SetMetadata(context.Background(),
		event.MetaBillingStartDate, strconv.FormatInt(cached.UnixMilli(), 10)))

	source := &fakeSource{}
	svc := NewService(store, source, logger.Get())

	got, err := svc.BillingStart(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, cached.UnixMilli(), got.UnixMilli())
	assert.Zero(t, source.billingCalls)
}

func TestBillingStart_StaleCachedValueRefetched(t *testing.T) {
	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	stale := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	fresh := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	store := newTestStore(t)
	require.NoError(t, store.SetMetadata(context.Background(),
		event.MetaBillingStartDate, strconv.FormatInt(stale.UnixMilli(), 10)))

	source := &fakeSource{sub: "user_abc", billingMS: fresh.UnixMilli()}
	svc := NewService(store, source, logger.Get())

	got, err := svc.BillingStart(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, fresh.UnixMilli(), got.UnixMilli())
	assert.Equal(t, 1, source.billingCalls)

	// Fresh value cached for next time
	value, ok, err := store.GetMetadata(context.Background(), event.MetaBillingStartDate)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, strconv.FormatInt(fresh.UnixMilli(), 10), value)
}

func TestBillingStart_StaleRemoteValueNotCached(t *testing.T) {
	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	remote := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)

	store := newTestStore(t)
	source := &fakeSource{sub: "user_abc", billingMS: remote.UnixMilli()}
	svc := NewService(store, source, logger.Get())

	got, err := svc.BillingStart(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, remote.UnixMilli(), got.UnixMilli())

	// Out-of-cycle dates are returned but never cached
	_, ok, err := store.GetMetadata(context.Background(), event.MetaBillingStartDate)
	require.NoError(t, err)
	assert.False(t, ok)
}
