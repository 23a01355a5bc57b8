package workers

import (
	"context"
	"time"

	"usagecache/internal/services/identity"
	"usagecache/internal/services/sync"
	"usagecache/pkg/errors"
)

// SyncWorker periodically reconciles the local cache with the required
// time window, the daemon analogue of the extension's load-on-open flow
type SyncWorker struct {
	*BaseWorker
	identity *identity.Service
	engine   *sync.Service
}

// NewSyncWorker creates a new background sync worker
func NewSyncWorker(identitySvc *identity.Service, engine *sync.Service, interval time.Duration, enabled bool) *SyncWorker {
	return &SyncWorker{
		BaseWorker: NewBaseWorker("sync", interval, enabled),
		identity:   identitySvc,
		engine:     engine,
	}
}

// Run resolves the billing cycle, computes the required range and
// reconciles the cache against it
func (w *SyncWorker) Run(ctx context.Context) error {
	now := time.Now()

	billingStart, err := w.identity.BillingStart(ctx, now)
	if err != nil {
		w.RecordError(err)
		return errors.Wrap(err, "resolve billing start")
	}

	requiredStart, requiredEnd := sync.RequiredRange(billingStart, now)

	if err := w.engine.Reconcile(ctx, requiredStart, requiredEnd); err != nil {
		w.RecordError(err)
		return err
	}

	w.RecordRun()
	return nil
}
