package sqlite

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"usagecache/internal/domain/event"
	"usagecache/pkg/errors"
)

// Compile-time check
var _ event.Repository = (*EventRepository)(nil)

// EventRepository implements event.Repository using sqlx over SQLite.
// Two tables mirror the cache layout: events keyed by timestamp (unique)
// and a string-keyed metadata map.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Init creates the schema if it does not exist
func (r *EventRepository) Init(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS events (
			timestamp           INTEGER PRIMARY KEY,
			model               TEXT NOT NULL DEFAULT '',
			kind                TEXT NOT NULL DEFAULT '',
			requests_cost       TEXT NOT NULL DEFAULT '0',
			input_tokens        INTEGER NOT NULL DEFAULT 0,
			output_tokens       INTEGER NOT NULL DEFAULT 0,
			cache_write_tokens  INTEGER NOT NULL DEFAULT 0,
			cache_read_tokens   INTEGER NOT NULL DEFAULT 0,
			total_cents         INTEGER NOT NULL DEFAULT 0,
			usage_based_cost    TEXT NOT NULL DEFAULT '0',
			is_token_based_call INTEGER NOT NULL DEFAULT 0,
			max_mode            INTEGER NOT NULL DEFAULT 0,
			owning_user         TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(errors.ErrStorage, "create schema: %v", err)
		}
	}
	return nil
}

// GetMetadata returns the value for a metadata key, with ok=false when absent
func (r *EventRepository) GetMetadata(ctx context.Context, key string) (string, bool, error) {
	var value string

	query := `SELECT value FROM metadata WHERE key = ?`

	err := r.db.GetContext(ctx, &value, query, key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(errors.ErrStorage, "get metadata %s: %v", key, err)
	}

	return value, true, nil
}

// SetMetadata upserts a metadata key
func (r *EventRepository) SetMetadata(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`

	if _, err := r.db.ExecContext(ctx, query, key, value); err != nil {
		return errors.Wrapf(errors.ErrStorage, "set metadata %s: %v", key, err)
	}
	return nil
}

// GetEvents returns all events with timestamp in [start, end], unordered
func (r *EventRepository) GetEvents(ctx context.Context, start, end int64) ([]event.UsageEvent, error) {
	var events []event.UsageEvent

	query := `SELECT * FROM events WHERE timestamp >= ? AND timestamp <= ?`

	err := r.db.SelectContext(ctx, &events, query, start, end)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "get events: %v", err)
	}

	return events, nil
}

// SaveEvents upserts each event by timestamp, last write wins
func (r *EventRepository) SaveEvents(ctx context.Context, events []event.UsageEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "begin tx: %v", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO events (
			timestamp, model, kind, requests_cost,
			input_tokens, output_tokens, cache_write_tokens, cache_read_tokens,
			total_cents, usage_based_cost, is_token_based_call, max_mode, owning_user
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(timestamp) DO UPDATE SET
			model               = excluded.model,
			kind                = excluded.kind,
			requests_cost       = excluded.requests_cost,
			input_tokens        = excluded.input_tokens,
			output_tokens       = excluded.output_tokens,
			cache_write_tokens  = excluded.cache_write_tokens,
			cache_read_tokens   = excluded.cache_read_tokens,
			total_cents         = excluded.total_cents,
			usage_based_cost    = excluded.usage_based_cost,
			is_token_based_call = excluded.is_token_based_call,
			max_mode            = excluded.max_mode,
			owning_user         = excluded.owning_user`

	for _, ev := range events {
		_, err := tx.ExecContext(ctx, query,
			ev.Timestamp, ev.Model, ev.Kind, ev.RequestsCost,
			ev.InputTokens, ev.OutputTokens, ev.CacheWriteTokens, ev.CacheReadTokens,
			ev.TotalCents, ev.UsageBasedCost, ev.IsTokenBasedCall, ev.MaxMode, ev.OwningUser,
		)
		if err != nil {
			return errors.Wrapf(errors.ErrStorage, "save event %d: %v", ev.Timestamp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(errors.ErrStorage, "commit save: %v", err)
	}
	return nil
}

// DeleteEvents removes all events in [start, end] and returns the count
func (r *EventRepository) DeleteEvents(ctx context.Context, start, end int64) (int64, error) {
	query := `DELETE FROM events WHERE timestamp >= ? AND timestamp <= ?`

	res, err := r.db.ExecContext(ctx, query, start, end)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "delete events: %v", err)
	}

	count, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "delete events count: %v", err)
	}
	return count, nil
}

// ClearAll empties both the event collection and the metadata map
func (r *EventRepository) ClearAll(ctx context.Context) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "begin tx: %v", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{`DELETE FROM events`, `DELETE FROM metadata`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(errors.ErrStorage, "clear all: %v", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(errors.ErrStorage, "commit clear: %v", err)
	}
	return nil
}
