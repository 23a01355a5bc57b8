package admin

import (
	"context"
	"strconv"
	"time"

	"usagecache/internal/domain/event"
	"usagecache/internal/metrics"
	"usagecache/pkg/logger"
	"usagecache/pkg/timeutil"
)

// Service implements explicit cache invalidation, the user-triggered
// recovery path when cached data looks wrong
type Service struct {
	store event.Repository
	log   *logger.Logger
}

// NewService creates a new cache admin service
func NewService(store event.Repository, log *logger.Logger) *Service {
	return &Service{
		store: store,
		log:   log.With("component", "admin"),
	}
}

// ClearCurrentMonth deletes all events from the first instant of the
// current calendar month onward and pulls cache_end back to that
// instant, forcing a re-fetch of the month on the next reconcile.
// cache_start and earlier events are untouched.
func (s *Service) ClearCurrentMonth(ctx context.Context, now time.Time) error {
	monthStart := timeutil.Millis(timeutil.FirstOfMonth(now))

	deleted, err := s.store.DeleteEvents(ctx, monthStart, timeutil.Millis(now))
	if err != nil {
		return err
	}
	metrics.EventsDeleted.Add(float64(deleted))

	if err := s.store.SetMetadata(ctx, event.MetaCacheEnd, strconv.FormatInt(monthStart, 10)); err != nil {
		return err
	}
	metrics.CacheEnd.Set(float64(monthStart))

	s.log.Infow("Cleared current month", "deleted", deleted, "cache_end", monthStart)
	return nil
}

// ClearAll wipes the entire store and metadata, forcing a full
// re-bootstrap on the next reconcile
func (s *Service) ClearAll(ctx context.Context) error {
	if err := s.store.ClearAll(ctx); err != nil {
		return err
	}

	s.log.Info("Cleared all cached data")
	return nil
}
