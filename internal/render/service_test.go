package render

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"weaver/internal/adapters/jobstore/memory"
	"weaver/internal/adapters/queue/memqueue"
	"weaver/internal/models"
	"weaver/internal/pkg/errors"
	"weaver/internal/pkg/logger"
	"weaver/internal/ports"
)

func newTestService(t *testing.T, capacity int, schemas map[string]models.Schema) (*Service, *memory.Store, *memqueue.Queue, *fakeStorage) {
	t.Helper()
	store := memory.New()
	q := memqueue.New(capacity)
	sp := newFakeStorage()
	svc := NewService(ServiceDeps{Store: store, Queue: q, Storage: sp, Schemas: schemas, Log: logger.Discard()})
	return svc, store, q, sp
}

func TestSubmitSeedsRendering(t *testing.T) {
	svc, store, q, _ := newTestService(t, 10, nil)
	ctx := context.Background()

	params := models.Params{"durationInFrames": 150, "width": 1920, "height": 1080}
	id, err := svc.Submit(ctx, "intro", params)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !strings.HasPrefix(id, "render_") {
		t.Errorf("unexpected id %q", id)
	}

	job, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("job must exist right after Submit: %v", err)
	}
	if job.Status != models.StatusRendering || job.Progress != 0 || job.CompositionID != "intro" {
		t.Errorf("expected rendering/0 seed, got %+v", job)
	}

	r, ok, err := q.Pop(ctx)
	if err != nil || !ok {
		t.Fatalf("expected queued work: ok=%v err=%v", ok, err)
	}
	if r.ID != id || r.CompositionID != "intro" || r.Params["width"] != 1920 {
		t.Errorf("unexpected queued render %+v", r)
	}

	params["width"] = 1
	if r.Params["width"] != 1920 {
		t.Error("queued params must not alias the caller's bag")
	}
}

func TestSubmitIDsAreUnique(t *testing.T) {
	svc, _, _, _ := newTestService(t, 100, nil)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, err := svc.Submit(context.Background(), "intro", nil)
		if err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("id %s reused", id)
		}
		seen[id] = true
	}
}

func TestSubmitQueueFull(t *testing.T) {
	svc, store, _, _ := newTestService(t, 1, nil)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, "intro", nil); err != nil {
		t.Fatal(err)
	}
	id, err := svc.Submit(ctx, "intro", nil)
	if !errors.IsCode(err, errors.CodeResourceExhausted) {
		t.Fatalf("expected RESOURCE_EXHAUSTED, got %v", err)
	}

	job, gerr := store.Get(ctx, id)
	if gerr != nil {
		t.Fatalf("rejected job should still be recorded: %v", gerr)
	}
	if job.Status != models.StatusError || job.Error != "render queue is full" {
		t.Errorf("unexpected rejected job %+v", job)
	}
}

func TestValidate(t *testing.T) {
	schemas := map[string]models.Schema{
		"intro": {Fields: map[string]models.FieldSpec{"title": {Type: models.TypeString, Required: true}}},
	}
	svc, store, _, _ := newTestService(t, 10, schemas)
	ctx := context.Background()

	tests := []struct {
		name   string
		comp   string
		params models.Params
		field  string
	}{
		{"missing composition", "  ", nil, "compositionId"},
		{"required field", "intro", models.Params{}, "parameters.title"},
		{"wrong base type", "outro", models.Params{"width": "wide"}, "parameters.width"},
		{"fractional frames", "outro", models.Params{"durationInFrames": 1.5}, "parameters.durationInFrames"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Validate(tt.comp, tt.params)
			if !errors.IsValidation(err) {
				t.Fatalf("expected VALIDATION_ERROR, got %v", err)
			}
			if f := errors.GetFields(err)["field"]; f != tt.field {
				t.Errorf("expected field %s, got %v", tt.field, f)
			}
		})
	}

	if jobs, _ := store.List(ctx, 0); len(jobs) != 0 {
		t.Errorf("validation must not create jobs, got %d", len(jobs))
	}
	if err := svc.Validate("intro", models.Params{"title": "Hello"}); err != nil {
		t.Errorf("valid submission rejected: %v", err)
	}
}

func TestSubmitDoesNotValidate(t *testing.T) {
	schemas := map[string]models.Schema{
		"intro": {Fields: map[string]models.FieldSpec{"title": {Type: models.TypeString, Required: true}}},
	}
	svc, store, q, _ := newTestService(t, 10, schemas)
	ctx := context.Background()

	// In-process callers get an id for any bag; a bad one fails during rendering.
	id, err := svc.Submit(ctx, "intro", models.Params{"width": "wide"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	job, err := store.Get(ctx, id)
	if err != nil || job.Status != models.StatusRendering {
		t.Errorf("expected a seeded rendering job, got %+v err=%v", job, err)
	}
	if n, _ := q.Len(ctx); n != 1 {
		t.Errorf("expected the render to be queued, got %d", n)
	}
}

func TestProgressUnknown(t *testing.T) {
	svc, _, _, _ := newTestService(t, 10, nil)

	job, err := svc.Progress(context.Background(), "render_never")
	if !errors.IsNotFound(err) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	if job.Status != "" {
		t.Errorf("unknown ids must not produce a record, got %+v", job)
	}
}

func TestCancel(t *testing.T) {
	svc, store, _, _ := newTestService(t, 10, nil)
	ctx := context.Background()

	id, _ := svc.Submit(ctx, "intro", nil)
	job, err := svc.Cancel(ctx, id)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if job.Status != models.StatusCancelled || job.FinishedAt == nil {
		t.Errorf("expected cancelled, got %+v", job)
	}

	if _, err := svc.Cancel(ctx, id); !errors.IsConflict(err) {
		t.Errorf("cancelling twice: expected CONFLICT, got %v", err)
	}
	if _, err := svc.Cancel(ctx, "render_never"); !errors.IsNotFound(err) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}

	other, _ := svc.Submit(ctx, "intro", nil)
	_ = store.Complete(ctx, other, models.Artifact{URL: "u", Key: "k", SizeBytes: 1})
	if _, err := svc.Cancel(ctx, other); !errors.IsConflict(err) {
		t.Errorf("cancelling a done job: expected CONFLICT, got %v", err)
	}
}

func TestList(t *testing.T) {
	svc, store, _, _ := newTestService(t, 500, nil)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 250; i++ {
		_ = store.Seed(ctx, models.NewRenderJob(fmt.Sprintf("render_%03d", i), "intro", base.Add(time.Duration(i)*time.Second)))
	}

	tests := []struct {
		limit int
		want  int
	}{
		{0, DefaultListLimit},
		{-4, DefaultListLimit},
		{10, 10},
		{1000, MaxListLimit},
	}
	for _, tt := range tests {
		jobs, err := svc.List(ctx, tt.limit)
		if err != nil {
			t.Fatal(err)
		}
		if len(jobs) != tt.want {
			t.Errorf("limit %d: expected %d jobs, got %d", tt.limit, tt.want, len(jobs))
		}
	}

	jobs, _ := svc.List(ctx, 1)
	if jobs[0].ID != "render_249" {
		t.Errorf("expected newest first, got %s", jobs[0].ID)
	}
}

func TestOpenArtifact(t *testing.T) {
	svc, store, _, sp := newTestService(t, 10, nil)
	ctx := context.Background()

	id, _ := svc.Submit(ctx, "intro", nil)
	if _, err := svc.OpenArtifact(ctx, id); !errors.IsConflict(err) {
		t.Errorf("rendering job: expected CONFLICT, got %v", err)
	}
	if _, err := svc.OpenArtifact(ctx, "render_never"); !errors.IsNotFound(err) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}

	key := ArtifactKey(id, "mp4")
	_, _ = sp.PutObject(ctx, ports.PutObjectInput{ObjectKey: key, ContentType: "video/mp4", Reader: strings.NewReader("video")})
	_ = store.Complete(ctx, id, models.Artifact{Key: key, URL: "https://cdn.test/" + key, SizeBytes: 5})

	a, err := svc.OpenArtifact(ctx, id)
	if err != nil {
		t.Fatalf("OpenArtifact: %v", err)
	}
	defer a.Body.Close()
	body, _ := io.ReadAll(a.Body)
	if string(body) != "video" || a.ContentType != "video/mp4" || a.Filename != id+".mp4" {
		t.Errorf("unexpected artifact %q %s %s", body, a.ContentType, a.Filename)
	}
}

func TestReadyAndBackends(t *testing.T) {
	svc, _, _, _ := newTestService(t, 10, nil)

	for name, err := range svc.Ready(context.Background()) {
		if err != nil {
			t.Errorf("%s not ready: %v", name, err)
		}
	}
	store, storage := svc.Backends()
	if store != "memory" || storage != "fake" {
		t.Errorf("unexpected backends %s/%s", store, storage)
	}
}
