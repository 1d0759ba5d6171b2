package ports

import (
	"context"

	"weaver/internal/models"
)

// QueuedRender is the unit of work handed from submission to the executor.
type QueuedRender struct {
	ID            string        `json:"id"`
	CompositionID string        `json:"compositionId"`
	Params        models.Params `json:"params"`
}

// Queue is a bounded FIFO between Submit and the worker pool.
type Queue interface {
	// Push never blocks; a full queue is RESOURCE_EXHAUSTED.
	Push(ctx context.Context, r QueuedRender) error
	// Pop blocks until work arrives or ctx ends. ok is false when nothing
	// was received before a backend poll timeout.
	Pop(ctx context.Context) (r QueuedRender, ok bool, err error)
	Len(ctx context.Context) (int, error)
}

// Drainer is implemented by queues whose contents do not outlive the
// process. Drain empties the queue without blocking.
type Drainer interface {
	Drain() []QueuedRender
}
