package sync

import (
	"context"

	"usagecache/internal/domain/event"
	"usagecache/pkg/errors"
	"usagecache/pkg/logger"
)

// fetchAll retrieves every page for [start, end] and normalizes the
// result. Page 1 reports the total count for the whole range; remaining
// pages are fetched sequentially, throttled by the source's limiter.
// All-or-nothing: a failure on any page discards the whole fetch, so no
// boundary ever advances over a partially fetched span.
func (s *Service) fetchAll(ctx context.Context, log *logger.Logger, start, end int64) ([]event.UsageEvent, error) {
	first, err := s.source.FetchPage(ctx, start, end, 1)
	if err != nil {
		return nil, err
	}

	raws := make([]event.Raw, 0, first.TotalCount)
	raws = append(raws, first.Events...)

	pageSize := s.source.PageSize()
	totalPages := (first.TotalCount + pageSize - 1) / pageSize

	// The first response's count is treated as authoritative even if the
	// remote set changes while we page through it.
	for page := 2; page <= totalPages; page++ {
		p, err := s.source.FetchPage(ctx, start, end, page)
		if err != nil {
			return nil, errors.Wrapf(err, "page %d of %d", page, totalPages)
		}
		raws = append(raws, p.Events...)

		log.Debugw("Fetched page", "page", page, "total_pages", totalPages, "accumulated", len(raws))
	}

	events, err := event.NormalizeAll(raws)
	if err != nil {
		return nil, err
	}

	return events, nil
}
