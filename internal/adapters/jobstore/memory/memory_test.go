package memory

import (
	"context"
	"testing"
	"time"

	"weaver/internal/adapters/jobstore/storetest"
	"weaver/internal/models"
	"weaver/internal/ports"
)

func TestContract(t *testing.T) {
	storetest.Run(t, func(*testing.T) ports.JobStore { return New() })
}

func TestGetReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Seed(ctx, models.NewRenderJob("render_1", "intro", time.Now()))
	_ = s.Fail(ctx, "render_1", "boom")

	j, _ := s.Get(ctx, "render_1")
	j.Error = "mutated"
	*j.FinishedAt = time.Time{}

	again, _ := s.Get(ctx, "render_1")
	if again.Error != "boom" || again.FinishedAt.IsZero() {
		t.Errorf("caller mutation leaked into the store: %+v", again)
	}
}

func TestEvictUsesFinishTime(t *testing.T) {
	s := New()
	ctx := context.Background()
	clock := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	_ = s.Seed(ctx, models.NewRenderJob("render_1", "intro", clock.Add(-48*time.Hour)))
	_ = s.Complete(ctx, "render_1", models.Artifact{URL: "u", Key: "k", SizeBytes: 1})

	if n, _ := s.Evict(ctx, clock.Add(-time.Minute)); n != 0 {
		t.Errorf("an old CreatedAt alone must not evict, got %d", n)
	}
	if n, _ := s.Evict(ctx, clock.Add(time.Minute)); n != 1 {
		t.Errorf("expected eviction after finish, got %d", n)
	}
}
