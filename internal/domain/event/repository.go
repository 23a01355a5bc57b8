package event

import (
	"context"
)

// Repository defines the interface for the persistent event store.
// Events are keyed by timestamp; ranges are inclusive on both ends.
// Implementations report backing-store failures wrapped in errors.ErrStorage;
// callers must not assume partial writes were rolled back.
type Repository interface {
	// GetMetadata returns the value for a metadata key, with ok=false when absent
	GetMetadata(ctx context.Context, key string) (value string, ok bool, err error)

	// SetMetadata upserts a metadata key
	SetMetadata(ctx context.Context, key, value string) error

	// GetEvents returns all events with timestamp in [start, end],
	// in no particular order
	GetEvents(ctx context.Context, start, end int64) ([]UsageEvent, error)

	// SaveEvents upserts each event by timestamp. The batch is not atomic
	// across entries; each entry-level upsert is.
	SaveEvents(ctx context.Context, events []UsageEvent) error

	// DeleteEvents removes all events in [start, end] and returns the count
	DeleteEvents(ctx context.Context, start, end int64) (int64, error)

	// ClearAll empties both the event collection and the metadata map
	ClearAll(ctx context.Context) error
}
