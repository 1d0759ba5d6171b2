package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"weaver/internal/adapters/jobstore/storetest"
	"weaver/internal/models"
	"weaver/internal/ports"
)

// Set WEAVER_TEST_DATABASE_URL to a disposable database to run these.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("WEAVER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("WEAVER_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := Connect(ctx, url, 4)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	s := New(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE render_jobs`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.JobStore { return newTestStore(t) })
}

func TestFinishUsesProcessClock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// A process clock far from the database clock must still drive the TTL.
	fixed := time.Now().Add(-48 * time.Hour).UTC().Truncate(time.Millisecond)
	s.now = func() time.Time { return fixed }

	if err := s.Seed(ctx, models.NewRenderJob("render_skew", "intro", fixed)); err != nil {
		t.Fatal(err)
	}
	if err := s.Fail(ctx, "render_skew", "boom"); err != nil {
		t.Fatal(err)
	}

	job, err := s.Get(ctx, "render_skew")
	if err != nil {
		t.Fatal(err)
	}
	if job.FinishedAt == nil || !job.FinishedAt.Equal(fixed) {
		t.Fatalf("expected finishedAt %v, got %v", fixed, job.FinishedAt)
	}

	n, err := s.Evict(ctx, fixed.Add(time.Hour))
	if err != nil || n != 1 {
		t.Errorf("expected the job to be evicted an hour after the process clock, got n=%d err=%v", n, err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if isUniqueViolation(context.Canceled) {
		t.Error("a plain error is not a unique violation")
	}
}
