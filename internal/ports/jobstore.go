package ports

import (
	"context"
	"time"

	"weaver/internal/models"
)

// JobStore holds render job state. Every method is safe for concurrent use
// and each write is atomic per job: readers never see half a transition.
//
// Errors: unknown ids are NOT_FOUND; a transition or progress write on a job
// that is already terminal is CONFLICT and leaves the record untouched.
type JobStore interface {
	Seed(ctx context.Context, job models.RenderJob) error
	// UpdateProgress records p (clamped to [0,1]); the stored value never decreases.
	UpdateProgress(ctx context.Context, id string, p float64) error
	Complete(ctx context.Context, id string, artifact models.Artifact) error
	Fail(ctx context.Context, id string, message string) error
	Cancel(ctx context.Context, id string, reason string) error

	Get(ctx context.Context, id string) (models.RenderJob, error)
	// List returns up to limit jobs, newest first.
	List(ctx context.Context, limit int) ([]models.RenderJob, error)
	// Evict removes terminal jobs that finished before cutoff and reports how many.
	Evict(ctx context.Context, cutoff time.Time) (int, error)

	Backend() string
}

// Pinger is implemented by stores backed by a network service.
type Pinger interface {
	Ping(ctx context.Context) error
}
