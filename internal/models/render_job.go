package models

import (
	"math"
	"time"
)

// Status is the lifecycle state of a render job.
type Status string

const (
	StatusRendering Status = "rendering"
	StatusDone      Status = "done"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError || s == StatusCancelled
}

func (s Status) Valid() bool {
	return s == StatusRendering || s.Terminal()
}

// RenderJob is the record clients poll. ResultURL, ResultKey and
// ResultSizeBytes are only set once Status is done; Error only when it is
// error or cancelled.
type RenderJob struct {
	ID              string     `json:"jobId"`
	CompositionID   string     `json:"compositionId"`
	Status          Status     `json:"status"`
	Progress        float64    `json:"progress"`
	Error           string     `json:"error,omitempty"`
	ResultURL       string     `json:"resultUrl,omitempty"`
	ResultKey       string     `json:"-"`
	ResultSizeBytes int64      `json:"resultSizeBytes,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
}

// NewRenderJob returns the seed record for a fresh submission.
func NewRenderJob(id, compositionID string, now time.Time) RenderJob {
	return RenderJob{
		ID:            id,
		CompositionID: compositionID,
		Status:        StatusRendering,
		Progress:      0,
		CreatedAt:     now.UTC(),
	}
}

// Artifact describes a published render output.
type Artifact struct {
	Key       string
	URL       string
	SizeBytes int64
}

// ClampProgress forces p into [0, 1]. NaN becomes 0.
func ClampProgress(p float64) float64 {
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
