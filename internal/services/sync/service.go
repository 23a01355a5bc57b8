package sync

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"usagecache/internal/adapters/cursor"
	"usagecache/internal/domain/event"
	"usagecache/internal/metrics"
	"usagecache/pkg/errors"
	"usagecache/pkg/logger"
	"usagecache/pkg/timeutil"
)

// Source is the paginated remote event source consumed by the engine
type Source interface {
	FetchPage(ctx context.Context, start, end int64, page int) (*cursor.Page, error)
	PageSize() int
}

// Service keeps the local event store synchronized with the required
// time window. It owns the coverage boundaries (cache_start, cache_end):
// cache_start only ever decreases and cache_end only ever increases,
// except through admin clears.
type Service struct {
	store   event.Repository
	source  Source
	overlap time.Duration

	// serializes Reconcile; interleaved boundary reads and writes can
	// corrupt the coverage metadata
	mu sync.Mutex

	log *logger.Logger
}

// NewService creates a new synchronization engine
func NewService(store event.Repository, source Source, overlap time.Duration, log *logger.Logger) *Service {
	if overlap <= 0 {
		overlap = 30 * time.Minute
	}
	return &Service{
		store:   store,
		source:  source,
		overlap: overlap,
		log:     log.With("component", "sync"),
	}
}

// RequiredRange returns the window the cache must cover:
// [min(billingStart, firstOfMonth(now)), now] in epoch milliseconds
func RequiredRange(billingStart, now time.Time) (int64, int64) {
	start := timeutil.FirstOfMonth(now)
	if billingStart.Before(start) {
		start = billingStart
	}
	return timeutil.Millis(start), timeutil.Millis(now)
}

// Reconcile makes the store cover [requiredStart, requiredEnd], fetching
// only missing spans. The historical gap-fill and the recent-window
// refresh are independent units of atomicity: a failed half advances no
// boundary, a completed half keeps its committed state.
func (s *Service) Reconcile(ctx context.Context, requiredStart, requiredEnd int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.log.With("run_id", uuid.NewString()[:8])

	started := time.Now()
	err := s.reconcile(ctx, log, requiredStart, requiredEnd)
	metrics.RecordSync(time.Since(started), err)

	if err != nil {
		log.Errorw("Reconcile failed", "error", err)
		return err
	}

	log.Infow("Reconcile complete", "duration", time.Since(started))
	return nil
}

func (s *Service) reconcile(ctx context.Context, log *logger.Logger, requiredStart, requiredEnd int64) error {
	cacheStart, haveStart, err := s.boundary(ctx, event.MetaCacheStart)
	if err != nil {
		return err
	}
	cacheEnd, haveEnd, err := s.boundary(ctx, event.MetaCacheEnd)
	if err != nil {
		return err
	}

	log.Debugw("Cache boundaries",
		"cache_start", cacheStart, "cache_end", cacheEnd,
		"required_start", requiredStart, "required_end", requiredEnd,
	)

	// Historical gap-fill: extend coverage backward to requiredStart
	if !haveStart || requiredStart < cacheStart {
		fetchEnd := requiredEnd
		if haveStart {
			fetchEnd = cacheStart
		}

		events, err := s.fetchAll(ctx, log, requiredStart, fetchEnd)
		if err != nil {
			return errors.Wrap(err, "historical gap fill")
		}

		if len(events) > 0 {
			if err := s.store.SaveEvents(ctx, events); err != nil {
				return err
			}
			metrics.EventsSaved.Add(float64(len(events)))
		}
		if len(events) > 0 || !haveStart {
			if err := s.setBoundary(ctx, event.MetaCacheStart, requiredStart); err != nil {
				return err
			}
		}
		log.Infow("Historical gap filled", "events", len(events), "start", requiredStart, "end", fetchEnd)
	}

	// Recent-window refresh: re-fetch the trailing overlap so events
	// whose status changed upstream get replaced, not complemented
	recentStart := requiredStart
	if haveEnd {
		recentStart = cacheEnd - s.overlap.Milliseconds()
	}

	events, err := s.fetchAll(ctx, log, recentStart, requiredEnd)
	if err != nil {
		return errors.Wrap(err, "recent window refresh")
	}

	if len(events) > 0 {
		if haveEnd {
			deleted, err := s.store.DeleteEvents(ctx, recentStart, cacheEnd)
			if err != nil {
				return err
			}
			metrics.EventsDeleted.Add(float64(deleted))
		}
		if err := s.store.SaveEvents(ctx, events); err != nil {
			return err
		}
		metrics.EventsSaved.Add(float64(len(events)))
		if err := s.setBoundary(ctx, event.MetaCacheEnd, requiredEnd); err != nil {
			return err
		}
		log.Infow("Recent window refreshed", "events", len(events), "start", recentStart, "end", requiredEnd)
	}

	// Bootstrap fallback: if no cache existed at all when this call
	// started, pin both boundaries. Deliberately checked against the
	// values captured above, so it can redo work the fills already did;
	// the rewrite is idempotent.
	if !haveStart && !haveEnd {
		if err := s.setBoundary(ctx, event.MetaCacheStart, requiredStart); err != nil {
			return err
		}
		if err := s.setBoundary(ctx, event.MetaCacheEnd, requiredEnd); err != nil {
			return err
		}
	}

	return nil
}

// boundary reads a millisecond boundary from metadata
func (s *Service) boundary(ctx context.Context, key string) (int64, bool, error) {
	value, ok, err := s.store.GetMetadata(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false, errors.Wrapf(errors.ErrStorage, "parse %s %q: %v", key, value, err)
	}
	return ms, true, nil
}

func (s *Service) setBoundary(ctx context.Context, key string, ms int64) error {
	if err := s.store.SetMetadata(ctx, key, strconv.FormatInt(ms, 10)); err != nil {
		return err
	}
	switch key {
	case event.MetaCacheStart:
		metrics.CacheStart.Set(float64(ms))
	case event.MetaCacheEnd:
		metrics.CacheEnd.Set(float64(ms))
	}
	return nil
}
