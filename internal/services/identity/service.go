package identity

import (
	"context"
	"strconv"
	"time"

	"usagecache/internal/domain/event"
	"usagecache/pkg/errors"
	"usagecache/pkg/logger"
	"usagecache/pkg/timeutil"
)

// Source resolves identity and billing facts from the dashboard API
type Source interface {
	FetchMe(ctx context.Context) (string, error)
	FetchBillingCycle(ctx context.Context, userSub string) (int64, error)
}

// Service resolves the user identity and billing cycle start, caching
// both in store metadata so repeat loads skip the remote calls
type Service struct {
	store  event.Repository
	source Source
	log    *logger.Logger
}

// NewService creates a new identity service
func NewService(store event.Repository, source Source, log *logger.Logger) *Service {
	return &Service{
		store:  store,
		source: source,
		log:    log.With("component", "identity"),
	}
}

// UserSub returns the authenticated user's subject identifier, from
// cache metadata when present
func (s *Service) UserSub(ctx context.Context) (string, error) {
	cached, ok, err := s.store.GetMetadata(ctx, event.MetaUserSub)
	if err != nil {
		return "", err
	}
	if ok && cached != "" {
		return cached, nil
	}

	sub, err := s.source.FetchMe(ctx)
	if err != nil {
		return "", errors.Wrap(err, "resolve user")
	}

	if err := s.store.SetMetadata(ctx, event.MetaUserSub, sub); err != nil {
		return "", err
	}

	s.log.Infow("Resolved user identity", "user_sub", sub)
	return sub, nil
}

// BillingStart returns the start of the user's current billing cycle.
// A cached value is honored only while it is within one month of now;
// older values mean a new cycle has started and must be refetched. The
// refreshed value is cached under the same rule.
func (s *Service) BillingStart(ctx context.Context, now time.Time) (time.Time, error) {
	oneMonthAgo := now.AddDate(0, -1, 0)

	cached, ok, err := s.store.GetMetadata(ctx, event.MetaBillingStartDate)
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		ms, perr := strconv.ParseInt(cached, 10, 64)
		if perr == nil {
			billingStart := timeutil.FromMillis(ms)
			if !billingStart.Before(oneMonthAgo) {
				return billingStart, nil
			}
		}
	}

	sub, err := s.UserSub(ctx)
	if err != nil {
		return time.Time{}, err
	}

	ms, err := s.source.FetchBillingCycle(ctx, sub)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "resolve billing cycle")
	}
	billingStart := timeutil.FromMillis(ms)

	if !billingStart.Before(oneMonthAgo) {
		if err := s.store.SetMetadata(ctx, event.MetaBillingStartDate, strconv.FormatInt(ms, 10)); err != nil {
			return time.Time{}, err
		}
	}

	s.log.Infow("Resolved billing cycle start", "billing_start", billingStart)
	return billingStart, nil
}
