// Package storetest holds the behaviour every ports.JobStore must share.
// Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"weaver/internal/models"
	"weaver/internal/pkg/errors"
	"weaver/internal/ports"
)

// Run exercises store against the JobStore contract. newStore must return an
// empty store each call.
func Run(t *testing.T, newStore func(t *testing.T) ports.JobStore) {
	t.Run("seed then get", func(t *testing.T) { testSeedGet(t, newStore(t)) })
	t.Run("unknown id", func(t *testing.T) { testUnknown(t, newStore(t)) })
	t.Run("duplicate seed", func(t *testing.T) { testDuplicate(t, newStore(t)) })
	t.Run("progress", func(t *testing.T) { testProgress(t, newStore(t)) })
	t.Run("complete", func(t *testing.T) { testComplete(t, newStore(t)) })
	t.Run("fail", func(t *testing.T) { testFail(t, newStore(t)) })
	t.Run("terminal is final", func(t *testing.T) { testTerminalFinal(t, newStore(t)) })
	t.Run("list newest first", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("evict", func(t *testing.T) { testEvict(t, newStore(t)) })
	t.Run("concurrent writers", func(t *testing.T) { testConcurrent(t, newStore(t)) })
}

func seed(t *testing.T, s ports.JobStore, id string, created time.Time) {
	t.Helper()
	if err := s.Seed(context.Background(), models.NewRenderJob(id, "intro", created)); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func get(t *testing.T, s ports.JobStore, id string) models.RenderJob {
	t.Helper()
	j, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return j
}

func testSeedGet(t *testing.T, s ports.JobStore) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seed(t, s, "render_a", created)

	j := get(t, s, "render_a")
	if j.Status != models.StatusRendering || j.Progress != 0 {
		t.Errorf("expected rendering/0, got %s/%v", j.Status, j.Progress)
	}
	if j.CompositionID != "intro" || !j.CreatedAt.Equal(created) {
		t.Errorf("unexpected seed record %+v", j)
	}
	if j.ResultURL != "" || j.ResultSizeBytes != 0 || j.Error != "" || j.FinishedAt != nil {
		t.Errorf("seed must not carry result fields: %+v", j)
	}
}

func testUnknown(t *testing.T, s ports.JobStore) {
	ctx := context.Background()
	if _, err := s.Get(ctx, "render_missing"); !errors.IsNotFound(err) {
		t.Errorf("Get: expected NOT_FOUND, got %v", err)
	}
	if err := s.UpdateProgress(ctx, "render_missing", 0.5); !errors.IsNotFound(err) {
		t.Errorf("UpdateProgress: expected NOT_FOUND, got %v", err)
	}
	if err := s.Fail(ctx, "render_missing", "x"); !errors.IsNotFound(err) {
		t.Errorf("Fail: expected NOT_FOUND, got %v", err)
	}
}

func testDuplicate(t *testing.T, s ports.JobStore) {
	seed(t, s, "render_dup", time.Now())
	err := s.Seed(context.Background(), models.NewRenderJob("render_dup", "intro", time.Now()))
	if !errors.IsCode(err, errors.CodeAlreadyExists) {
		t.Errorf("expected ALREADY_EXISTS on reused id, got %v", err)
	}
}

func testProgress(t *testing.T, s ports.JobStore) {
	ctx := context.Background()
	seed(t, s, "render_p", time.Now())

	steps := []struct {
		in   float64
		want float64
	}{
		{0.25, 0.25},
		{0.5, 0.5},
		{0.4, 0.5},
		{0.5, 0.5},
		{3, 1},
		{-1, 1},
	}
	for _, st := range steps {
		if err := s.UpdateProgress(ctx, "render_p", st.in); err != nil {
			t.Fatalf("UpdateProgress(%v): %v", st.in, err)
		}
		if got := get(t, s, "render_p").Progress; got != st.want {
			t.Errorf("after %v: expected %v, got %v", st.in, st.want, got)
		}
	}
}

func testComplete(t *testing.T, s ports.JobStore) {
	ctx := context.Background()
	seed(t, s, "render_c", time.Now())

	a := models.Artifact{Key: "renders/render_c.mp4", URL: "https://cdn.test/renders/render_c.mp4", SizeBytes: 2048}
	if err := s.Complete(ctx, "render_c", a); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	j := get(t, s, "render_c")
	if j.Status != models.StatusDone || j.ResultURL != a.URL || j.ResultKey != a.Key || j.ResultSizeBytes != 2048 {
		t.Errorf("unexpected done record %+v", j)
	}
	if j.Error != "" || j.FinishedAt == nil {
		t.Errorf("done record must have FinishedAt and no error: %+v", j)
	}
}

func testFail(t *testing.T, s ports.JobStore) {
	ctx := context.Background()
	seed(t, s, "render_f", time.Now())

	if err := s.Fail(ctx, "render_f", "bundling failed"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	j := get(t, s, "render_f")
	if j.Status != models.StatusError || j.Error != "bundling failed" {
		t.Errorf("unexpected error record %+v", j)
	}
	if j.ResultURL != "" || j.ResultSizeBytes != 0 {
		t.Errorf("error record must not carry results: %+v", j)
	}
}

func testTerminalFinal(t *testing.T, s ports.JobStore) {
	ctx := context.Background()
	seed(t, s, "render_t", time.Now())

	if err := s.Cancel(ctx, "render_t", "cancelled by client"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	before := get(t, s, "render_t")

	writes := map[string]error{
		"progress": s.UpdateProgress(ctx, "render_t", 0.9),
		"complete": s.Complete(ctx, "render_t", models.Artifact{URL: "u", Key: "k", SizeBytes: 1}),
		"fail":     s.Fail(ctx, "render_t", "late failure"),
		"cancel":   s.Cancel(ctx, "render_t", "again"),
	}
	for name, err := range writes {
		if !errors.IsConflict(err) {
			t.Errorf("%s on a terminal job: expected CONFLICT, got %v", name, err)
		}
	}

	after := get(t, s, "render_t")
	if after.Status != models.StatusCancelled || after.Error != before.Error || after.Progress != before.Progress || after.ResultURL != "" {
		t.Errorf("terminal record changed: before %+v after %+v", before, after)
	}
}

func testList(t *testing.T, s ports.JobStore) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seed(t, s, fmt.Sprintf("render_%d", i), base.Add(time.Duration(i)*time.Minute))
	}

	jobs, err := s.List(context.Background(), 3)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"render_4", "render_3", "render_2"}
	if len(jobs) != len(want) {
		t.Fatalf("expected %d jobs, got %d", len(want), len(jobs))
	}
	for i, id := range want {
		if jobs[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, jobs[i].ID)
		}
	}
}

func testEvict(t *testing.T, s ports.JobStore) {
	ctx := context.Background()
	seed(t, s, "render_old", time.Now())
	seed(t, s, "render_running", time.Now())
	if err := s.Fail(ctx, "render_old", "boom"); err != nil {
		t.Fatal(err)
	}

	n, err := s.Evict(ctx, time.Now().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("nothing is old enough yet: n=%d err=%v", n, err)
	}

	n, err = s.Evict(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 eviction, got %d", n)
	}
	if _, err := s.Get(ctx, "render_old"); !errors.IsNotFound(err) {
		t.Errorf("evicted job should be gone, got %v", err)
	}
	if get(t, s, "render_running").Status != models.StatusRendering {
		t.Error("running jobs must never be evicted")
	}
}

func testConcurrent(t *testing.T, s ports.JobStore) {
	ctx := context.Background()
	seed(t, s, "render_race", time.Now())

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.UpdateProgress(ctx, "render_race", float64(i)/50)
		}(i)
	}
	var (
		mu        sync.Mutex
		completed int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Complete(ctx, "render_race", models.Artifact{URL: "u", Key: "k", SizeBytes: 10}); err == nil {
				mu.Lock()
				completed++
				mu.Unlock()
			}
		}()
	}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j, err := s.Get(ctx, "render_race")
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			if j.Progress < 0 || j.Progress > 1 {
				t.Errorf("progress out of range: %v", j.Progress)
			}
			if j.Status == models.StatusDone && j.ResultURL == "" {
				t.Errorf("observed a half-written done record: %+v", j)
			}
		}()
	}
	wg.Wait()

	if completed != 1 {
		t.Errorf("expected exactly one terminal transition, got %d", completed)
	}
}
