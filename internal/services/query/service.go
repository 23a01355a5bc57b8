package query

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"usagecache/internal/domain/event"
	"usagecache/pkg/logger"
	"usagecache/pkg/timeutil"
)

// Service is the read path over the persistent event store
type Service struct {
	store event.Repository
	log   *logger.Logger
}

// NewService creates a new range query service
func NewService(store event.Repository, log *logger.Logger) *Service {
	return &Service{
		store: store,
		log:   log.With("component", "query"),
	}
}

// Events returns all cached events in [start, end], most recent first
func (s *Service) Events(ctx context.Context, start, end int64) ([]event.UsageEvent, error) {
	events, err := s.store.GetEvents(ctx, start, end)
	if err != nil {
		return nil, err
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp > events[j].Timestamp
	})

	return events, nil
}

// TimeframeSummary aggregates usage over one lookback window
type TimeframeSummary struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Start          int64           `json:"start"`
	EventCount     int             `json:"eventCount"`
	RequestsCost   decimal.Decimal `json:"requestsCost"`
	TokenCostUSD   decimal.Decimal `json:"tokenCostUsd"`
	UsageBasedCost decimal.Decimal `json:"usageBasedCost"`
}

// Summary aggregates the cached events over the standard lookback
// windows: last 4/24/48 hours, last 7 days, current billing cycle and
// current calendar month
func (s *Service) Summary(ctx context.Context, billingStart, now time.Time) ([]TimeframeSummary, error) {
	timeframes := []TimeframeSummary{
		{ID: "4h", Name: "Last 4 Hours", Start: timeutil.Millis(now.Add(-4 * time.Hour))},
		{ID: "24h", Name: "Last 24 Hours", Start: timeutil.Millis(now.Add(-24 * time.Hour))},
		{ID: "48h", Name: "Last 48 Hours", Start: timeutil.Millis(now.Add(-48 * time.Hour))},
		{ID: "7d", Name: "Last 7 Days", Start: timeutil.Millis(now.Add(-7 * 24 * time.Hour))},
		{ID: "billing", Name: "Current Month (Billing)", Start: timeutil.Millis(billingStart)},
		{ID: "calendar", Name: "Current Month (Calendar)", Start: timeutil.Millis(timeutil.FirstOfMonth(now))},
	}

	earliest := timeframes[0].Start
	for _, tf := range timeframes[1:] {
		if tf.Start < earliest {
			earliest = tf.Start
		}
	}

	events, err := s.store.GetEvents(ctx, earliest, timeutil.Millis(now))
	if err != nil {
		return nil, err
	}

	cents := decimal.NewFromInt(100)
	for i := range timeframes {
		tf := &timeframes[i]
		tf.RequestsCost = decimal.Zero
		tf.TokenCostUSD = decimal.Zero
		tf.UsageBasedCost = decimal.Zero

		for _, ev := range events {
			if ev.Timestamp < tf.Start {
				continue
			}
			tf.EventCount++
			tf.RequestsCost = tf.RequestsCost.Add(ev.RequestsCost)
			tf.TokenCostUSD = tf.TokenCostUSD.Add(decimal.NewFromInt(ev.TotalCents).Div(cents))
			tf.UsageBasedCost = tf.UsageBasedCost.Add(ev.UsageBasedCost)
		}
	}

	return timeframes, nil
}
