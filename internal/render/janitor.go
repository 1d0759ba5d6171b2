package render

import (
	"context"
	"time"

	"weaver/internal/pkg/logger"
	"weaver/internal/ports"
)

// Janitor evicts terminal jobs once they have been finished for longer than
// the TTL, so state does not grow for the life of the process.
type Janitor struct {
	store    ports.JobStore
	ttl      time.Duration
	interval time.Duration
	log      *logger.Logger
	now      func() time.Time
}

func NewJanitor(store ports.JobStore, ttl, interval time.Duration, log *logger.Logger) *Janitor {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Janitor{store: store, ttl: ttl, interval: interval, log: log.WithComponent("janitor"), now: time.Now}
}

// Run sweeps every interval until ctx ends.
func (j *Janitor) Run(ctx context.Context) {
	t := time.NewTicker(j.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
				j.log.Warn("eviction sweep failed", "error", err.Error())
			}
		}
	}
}

// Sweep evicts once and reports how many jobs were removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	n, err := j.store.Evict(ctx, j.now().Add(-j.ttl))
	if err != nil {
		return n, err
	}
	if n > 0 {
		j.log.Info("evicted finished render jobs", "count", n)
	}
	return n, nil
}
