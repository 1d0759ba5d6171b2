// Package memory is the in-process JobStore. State lives as long as the
// process; the janitor evicts finished jobs after their TTL.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"weaver/internal/models"
	"weaver/internal/pkg/errors"
)

type Store struct {
	mu   sync.RWMutex
	jobs map[string]*models.RenderJob
	now  func() time.Time
}

func New() *Store {
	return &Store{
		jobs: make(map[string]*models.RenderJob),
		now:  time.Now,
	}
}

func (s *Store) Backend() string { return "memory" }

func (s *Store) Seed(_ context.Context, job models.RenderJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return errors.New(errors.CodeAlreadyExists, "render job already exists: "+job.ID)
	}
	j := job
	s.jobs[job.ID] = &j
	return nil
}

func (s *Store) UpdateProgress(_ context.Context, id string, p float64) error {
	return s.mutate(id, func(j *models.RenderJob) {
		if p = models.ClampProgress(p); p > j.Progress {
			j.Progress = p
		}
	})
}

func (s *Store) Complete(_ context.Context, id string, a models.Artifact) error {
	return s.mutate(id, func(j *models.RenderJob) {
		j.Status = models.StatusDone
		j.Progress = 1
		j.ResultURL = a.URL
		j.ResultKey = a.Key
		j.ResultSizeBytes = a.SizeBytes
		s.finish(j)
	})
}

func (s *Store) Fail(_ context.Context, id string, message string) error {
	return s.mutate(id, func(j *models.RenderJob) {
		j.Status = models.StatusError
		j.Error = message
		s.finish(j)
	})
}

func (s *Store) Cancel(_ context.Context, id string, reason string) error {
	return s.mutate(id, func(j *models.RenderJob) {
		j.Status = models.StatusCancelled
		j.Error = reason
		s.finish(j)
	})
}

func (s *Store) finish(j *models.RenderJob) {
	t := s.now().UTC()
	j.FinishedAt = &t
}

// mutate applies fn to a job that is still rendering, under the write lock.
func (s *Store) mutate(id string, fn func(*models.RenderJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return errors.NotFound("render job", id)
	}
	if j.Status.Terminal() {
		return errors.Conflict("render job is already " + string(j.Status)).WithField("id", id)
	}
	fn(j)
	return nil
}

func (s *Store) Get(_ context.Context, id string) (models.RenderJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return models.RenderJob{}, errors.NotFound("render job", id)
	}
	return copyJob(j), nil
}

func (s *Store) List(_ context.Context, limit int) ([]models.RenderJob, error) {
	s.mu.RLock()
	out := make([]models.RenderJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, copyJob(j))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID > out[k].ID
		}
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Evict(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, j := range s.jobs {
		if j.Status.Terminal() && j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func copyJob(j *models.RenderJob) models.RenderJob {
	out := *j
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
