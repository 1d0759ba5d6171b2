package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"weaver/internal/adapters/jobstore/memory"
	"weaver/internal/adapters/queue/memqueue"
	"weaver/internal/adapters/storage/localfs"
	"weaver/internal/models"
	"weaver/internal/pkg/errors"
	"weaver/internal/pkg/logger"
	"weaver/internal/ports"
	"weaver/internal/render"
)

type fixture struct {
	handler http.Handler
	store   *memory.Store
	queue   *memqueue.Queue
	storage *localfs.LocalFS
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newFixture(t *testing.T, capacity int, renderer pingFunc) *fixture {
	t.Helper()
	store := memory.New()
	q := memqueue.New(capacity)
	sp := localfs.New(t.TempDir(), "")
	svc := render.NewService(render.ServiceDeps{
		Store:   store,
		Queue:   q,
		Storage: sp,
		Schemas: map[string]models.Schema{
			"caption": {Fields: map[string]models.FieldSpec{"text": {Type: models.TypeString, Required: true}}},
		},
		Log: logger.Discard(),
	})
	d := Deps{Renders: svc, Log: logger.Discard(), Version: "test"}
	if renderer != nil {
		d.Renderer = renderer
	}
	return &fixture{handler: NewRouter(d), store: store, queue: q, storage: sp}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("bad JSON body %q: %v", rec.Body.String(), err)
	}
	return v
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func TestSubmitRender(t *testing.T) {
	f := newFixture(t, 10, nil)

	rec := f.do(t, "POST", "/renders", `{"compositionId":"intro","parameters":{"durationInFrames":150,"width":1920}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[struct {
		JobID string `json:"jobId"`
	}](t, rec)
	if resp.JobID == "" {
		t.Fatal("expected a job id")
	}
	if loc := rec.Header().Get("Location"); loc != "/renders/"+resp.JobID {
		t.Errorf("unexpected Location %q", loc)
	}

	// Polling right after submission must find the job.
	rec = f.do(t, "GET", "/renders/"+resp.JobID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	job := decode[models.RenderJob](t, rec)
	if job.Status != models.StatusRendering || job.Progress != 0 || job.CompositionID != "intro" {
		t.Errorf("unexpected job %+v", job)
	}

	queued, ok, err := f.queue.Pop(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected queued work, ok=%v err=%v", ok, err)
	}
	if queued.Params["durationInFrames"] != json.Number("150") {
		t.Errorf("expected numbers to stay json.Number, got %T", queued.Params["durationInFrames"])
	}
}

func TestSubmitRenderRejects(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed json", `{"compositionId":`, 400, "VALIDATION_ERROR"},
		{"unknown field", `{"compositionId":"intro","extra":1}`, 400, "VALIDATION_ERROR"},
		{"missing composition", `{"parameters":{}}`, 400, "VALIDATION_ERROR"},
		{"bad width type", `{"compositionId":"intro","parameters":{"width":"wide"}}`, 400, "VALIDATION_ERROR"},
		{"missing required field", `{"compositionId":"caption","parameters":{}}`, 400, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 10, nil)
			rec := f.do(t, "POST", "/renders", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if env := decode[errorEnvelope](t, rec); env.Error.Code != tt.code {
				t.Errorf("expected %s, got %+v", tt.code, env.Error)
			}
			if n, _ := f.queue.Len(context.Background()); n != 0 {
				t.Errorf("rejected submissions must not be queued, got %d", n)
			}
		})
	}
}

func TestSubmitRenderQueueFull(t *testing.T) {
	f := newFixture(t, 1, nil)

	if rec := f.do(t, "POST", "/renders", `{"compositionId":"intro"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("first submit: %d", rec.Code)
	}
	rec := f.do(t, "POST", "/renders", `{"compositionId":"intro"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", rec.Code, rec.Body.String())
	}

	id := rec.Header().Get("X-Render-Job-ID")
	if id == "" {
		t.Fatal("expected the rejected job id in a header")
	}
	job, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("rejected job should be recorded: %v", err)
	}
	if job.Status != models.StatusError || job.Error != "render queue is full" {
		t.Errorf("unexpected rejected job %+v", job)
	}
}

func TestGetRenderUnknown(t *testing.T) {
	f := newFixture(t, 10, nil)
	rec := f.do(t, "GET", "/renders/render_missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if env := decode[errorEnvelope](t, rec); env.Error.Code != "NOT_FOUND" {
		t.Errorf("unexpected envelope %+v", env.Error)
	}
}

func TestCancelRender(t *testing.T) {
	f := newFixture(t, 10, nil)
	id := decode[struct {
		JobID string `json:"jobId"`
	}](t, f.do(t, "POST", "/renders", `{"compositionId":"intro"}`)).JobID

	rec := f.do(t, "POST", "/renders/"+id+"/cancel", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	job := decode[models.RenderJob](t, rec)
	if job.Status != models.StatusCancelled || job.Error == "" {
		t.Errorf("expected cancelled job with a reason, got %+v", job)
	}

	rec = f.do(t, "POST", "/renders/"+id+"/cancel", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("cancelling twice should conflict, got %d", rec.Code)
	}
	if rec := f.do(t, "POST", "/renders/render_missing/cancel", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", rec.Code)
	}
}

func TestListRenders(t *testing.T) {
	f := newFixture(t, 10, nil)
	for i := 0; i < 3; i++ {
		f.do(t, "POST", "/renders", `{"compositionId":"intro"}`)
	}

	rec := f.do(t, "GET", "/renders?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode[struct {
		Items []models.RenderJob `json:"items"`
		Count int                `json:"count"`
	}](t, rec)
	if body.Count != 2 || len(body.Items) != 2 {
		t.Errorf("expected 2 items, got %+v", body)
	}

	for _, bad := range []string{"0", "-1", "abc"} {
		if rec := f.do(t, "GET", "/renders?limit="+bad, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: expected 400, got %d", bad, rec.Code)
		}
	}
}

func TestDownloadRender(t *testing.T) {
	f := newFixture(t, 10, nil)
	ctx := context.Background()

	id := decode[struct {
		JobID string `json:"jobId"`
	}](t, f.do(t, "POST", "/renders", `{"compositionId":"intro"}`)).JobID

	if rec := f.do(t, "GET", "/renders/"+id+"/download", ""); rec.Code != http.StatusConflict {
		t.Fatalf("downloading a rendering job should conflict, got %d", rec.Code)
	}

	payload := []byte("fake mp4 bytes")
	out, err := f.storage.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   render.ArtifactKey(id, "mp4"),
		ContentType: "video/mp4",
		Reader:      bytes.NewReader(payload),
		Size:        int64(len(payload)),
	})
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if err := f.store.Complete(ctx, id, models.Artifact{Key: out.ObjectKey, URL: out.URL, SizeBytes: int64(len(payload))}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	rec := f.do(t, "GET", "/renders/"+id+"/download", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !bytes.Equal(rec.Body.Bytes(), payload) {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, id+".mp4") {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}
	if rec.Header().Get("Content-Type") == "" {
		t.Error("expected a Content-Type")
	}
}

func TestHealth(t *testing.T) {
	t.Run("shallow", func(t *testing.T) {
		f := newFixture(t, 10, nil)
		rec := f.do(t, "GET", "/health", "")
		body := decode[map[string]any](t, rec)
		if body["status"] != "ok" || body["store"] != "memory" || body["storage"] != "localfs" {
			t.Errorf("unexpected health %v", body)
		}
		if _, ok := body["checks"]; ok {
			t.Error("shallow health must not run checks")
		}
	})

	t.Run("deep ok", func(t *testing.T) {
		f := newFixture(t, 10, func(context.Context) error { return nil })
		body := decode[map[string]any](t, f.do(t, "GET", "/health?deep=true", ""))
		if body["status"] != "ok" {
			t.Errorf("expected ok, got %v", body)
		}
		checks, _ := body["checks"].(map[string]any)
		for _, name := range []string{"store", "queue", "renderer"} {
			c, _ := checks[name].(map[string]any)
			if c["status"] != "ok" {
				t.Errorf("check %s: %v", name, c)
			}
		}
	})

	t.Run("deep degraded", func(t *testing.T) {
		f := newFixture(t, 10, func(context.Context) error { return errors.Unavailable("renderer") })
		rec := f.do(t, "GET", "/health?deep=true", "")
		if rec.Code != http.StatusOK {
			t.Errorf("health always answers 200, got %d", rec.Code)
		}
		body := decode[map[string]any](t, rec)
		if body["status"] != "degraded" {
			t.Errorf("expected degraded, got %v", body)
		}
	})
}

func TestRouting(t *testing.T) {
	f := newFixture(t, 10, nil)

	if rec := f.do(t, "GET", "/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := f.do(t, "DELETE", "/renders", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}

	req := httptest.NewRequest("OPTIONS", "/renders", nil)
	req.Header.Set("Origin", "https://studio.example")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "https://studio.example" {
		t.Errorf("unexpected preflight %d %v", rec.Code, rec.Header())
	}
}
