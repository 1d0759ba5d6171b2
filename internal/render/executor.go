// Package render runs render jobs: submission, the per-job pipeline, the
// worker pool that drains the queue, and eviction of finished jobs.
package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"weaver/internal/models"
	"weaver/internal/pkg/errors"
	"weaver/internal/pkg/logger"
	"weaver/internal/ports"
)

const (
	// DefaultTimeout bounds a single engine render.
	DefaultTimeout = 300_000 * time.Millisecond

	maxErrorLen = 2000

	loadAttempts = 3

	// abandonGrace is how long an engine gets to return once its context
	// has ended before it is reported as abandoned.
	abandonGrace = 100 * time.Millisecond

	shutdownMessage = "render service shutting down"
)

// DefaultEncoding is the fixed maximum-quality encoder configuration.
func DefaultEncoding() ports.EncodingConfig {
	return ports.EncodingConfig{
		Codec:       "h264",
		CRF:         1,
		ImageFormat: "png",
		ColorSpace:  "bt709",
		X264Preset:  "veryslow",
		JpegQuality: 100,
	}
}

type ExecutorConfig struct {
	EntryPoint string
	WorkDir    string
	// AppBaseURL is passed as the baseUrl parameter when a job has none.
	AppBaseURL string
	Timeout    time.Duration
	Encoding   ports.EncodingConfig
	// CleanupOnPublishFailure removes the rendered file when publishing
	// fails. By default it is kept for manual recovery.
	CleanupOnPublishFailure bool
}

type Executor struct {
	store     ports.JobStore
	engine    ports.RenderEngine
	publisher *Publisher
	cfg       ExecutorConfig
	log       *logger.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc

	loadRetryDelay time.Duration
}

func NewExecutor(store ports.JobStore, engine ports.RenderEngine, sp ports.StorageProvider, cfg ExecutorConfig, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.NewDefault()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Encoding == (ports.EncodingConfig{}) {
		cfg.Encoding = DefaultEncoding()
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &Executor{
		store:     store,
		engine:    engine,
		publisher: NewPublisher(sp),
		cfg:       cfg,
		log:       log.WithComponent("executor"),
		active:    make(map[string]context.CancelFunc),

		loadRetryDelay: 500 * time.Millisecond,
	}
}

// Execute runs one queued render to a terminal state. Failures, panics
// included, end up in the job store; the returned error is for logging only.
func (e *Executor) Execute(ctx context.Context, r ports.QueuedRender) (err error) {
	ctx = logger.ContextWithJobID(ctx, r.ID)
	log := e.log.WithJobID(r.ID)

	job, err := e.loadJob(ctx, r.ID)
	if errors.IsNotFound(err) {
		log.Warn("queued render has no job record, skipping", "error", err.Error())
		return err
	}
	if err != nil {
		// The render was popped and will not come back; record the loss so
		// pollers see a terminal state.
		cause := errors.Wrap(err, "render.Execute", "failed to load render job")
		if ctx.Err() != nil {
			cause = errors.New(errors.CodeUnavailable, shutdownMessage)
		}
		e.failJob(ctx, r.ID, cause)
		return err
	}
	if job.Status.Terminal() {
		log.Info("queued render already terminal, skipping", "status", string(job.Status))
		return nil
	}

	jobCtx, cancel := context.WithCancel(ctx)
	e.track(r.ID, cancel)
	defer func() {
		e.untrack(r.ID)
		cancel()
	}()

	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf(errors.CodeInternal, "render panicked: %v", p)
			log.Error("render panicked", "panic", fmt.Sprint(p))
			e.failJob(ctx, r.ID, err)
		}
	}()

	log.Info("render started", "composition_id", r.CompositionID)
	start := time.Now()

	artifact, err := e.run(jobCtx, r, log)
	if err != nil {
		e.failJob(ctx, r.ID, err)
		return err
	}

	if err := e.store.Complete(context.WithoutCancel(ctx), r.ID, artifact); err != nil {
		if errors.IsConflict(err) {
			log.Info("job finished elsewhere before completion was recorded", "url", artifact.URL)
			return nil
		}
		log.Error("failed to record completion", "error", err.Error())
		return err
	}
	log.Info("render completed",
		"url", artifact.URL,
		"size_bytes", artifact.SizeBytes,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// loadJob reads the job record, retrying transient store errors. NOT_FOUND
// is returned at once.
func (e *Executor) loadJob(ctx context.Context, id string) (models.RenderJob, error) {
	var err error
	for attempt := 1; attempt <= loadAttempts; attempt++ {
		var job models.RenderJob
		job, err = e.store.Get(ctx, id)
		if err == nil || errors.IsNotFound(err) {
			return job, err
		}
		if attempt == loadAttempts {
			break
		}
		e.log.WithJobID(id).Warn("job lookup failed, retrying", "attempt", attempt, "error", err.Error())
		select {
		case <-ctx.Done():
			return models.RenderJob{}, err
		case <-time.After(e.loadRetryDelay * time.Duration(attempt)):
		}
	}
	return models.RenderJob{}, err
}

// Abandon fails a queued render that will never run, such as one still
// buffered in process memory at shutdown. Terminal jobs are left alone.
func (e *Executor) Abandon(ctx context.Context, id string) {
	e.failJob(ctx, id, errors.New(errors.CodeUnavailable, shutdownMessage))
}

// Cancel stops an in-process render of id. It reports whether one was running.
func (e *Executor) Cancel(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cancel, ok := e.active[id]
	if ok {
		cancel()
	}
	return ok
}

// Active is the number of renders running in this process.
func (e *Executor) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

func (e *Executor) track(id string, cancel context.CancelFunc) {
	e.mu.Lock()
	e.active[id] = cancel
	e.mu.Unlock()
}

func (e *Executor) untrack(id string) {
	e.mu.Lock()
	delete(e.active, id)
	e.mu.Unlock()
}

func (e *Executor) run(ctx context.Context, r ports.QueuedRender, log *logger.Logger) (models.Artifact, error) {
	// 1. Bundle
	if err := checkpoint(ctx); err != nil {
		return models.Artifact{}, err
	}
	log.Debug("bundling", "entry_point", e.cfg.EntryPoint)
	serveURL, err := e.engine.Bundle(ctx, e.cfg.EntryPoint)
	if err != nil {
		return models.Artifact{}, stepError(ctx, err, "render.bundle", "bundling failed")
	}

	// 2. Resolve composition
	if err := checkpoint(ctx); err != nil {
		return models.Artifact{}, err
	}
	props := e.inputProps(r.Params)
	log.Debug("selecting composition", "serve_url", serveURL)
	comp, err := e.engine.SelectComposition(ctx, ports.SelectCompositionInput{
		ServeURL:      serveURL,
		CompositionID: r.CompositionID,
		InputProps:    props,
	})
	if err != nil {
		return models.Artifact{}, stepError(ctx, err, "render.select", "composition resolution failed")
	}
	resolved := Resolve(r.Params, comp)
	log.Debug("composition resolved",
		"duration_in_frames", resolved.DurationInFrames,
		"width", resolved.Width,
		"height", resolved.Height,
	)

	// 3. Render
	if err := checkpoint(ctx); err != nil {
		return models.Artifact{}, err
	}
	if err := os.MkdirAll(e.cfg.WorkDir, 0o755); err != nil {
		return models.Artifact{}, errors.Wrap(err, "render.workdir", "create work dir")
	}
	ext, _ := ExtFromCodec(e.cfg.Encoding.Codec)
	output := filepath.Join(e.cfg.WorkDir, r.ID+"."+ext)
	log.Debug("rendering", "output", output, "timeout_ms", e.cfg.Timeout.Milliseconds())
	if err := e.render(ctx, r.ID, ports.RenderInput{
		ServeURL:    serveURL,
		Composition: resolved,
		InputProps:  props,
		OutputPath:  output,
		Encoding:    e.cfg.Encoding,
	}); err != nil {
		return models.Artifact{}, err
	}

	// 4. Publish
	if err := checkpoint(ctx); err != nil {
		return models.Artifact{}, err
	}
	log.Debug("publishing", "output", output)
	artifact, err := e.publisher.Publish(ctx, r.ID, output, e.cfg.Encoding.Codec)
	if err != nil {
		if e.cfg.CleanupOnPublishFailure {
			removeLocal(log, output)
		} else {
			log.Warn("publish failed, keeping local render file", "path", output)
		}
		return models.Artifact{}, stepError(ctx, err, "render.publish", "publishing failed")
	}

	// 5. Cleanup
	removeLocal(log, output)
	return artifact, nil
}

// render invokes the engine under the configured timeout. The engine runs in
// its own goroutine so a client that ignores its context still times out.
func (e *Executor) render(ctx context.Context, id string, in ports.RenderInput) error {
	rctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	storeCtx := context.WithoutCancel(ctx)
	in.TimeoutMs = e.cfg.Timeout.Milliseconds()
	in.OnProgress = func(p float64) {
		err := e.store.UpdateProgress(storeCtx, id, p)
		switch {
		case err == nil:
		case errors.IsConflict(err):
			// Terminal elsewhere, most likely cancelled from another process.
			cancel()
		default:
			e.log.WithJobID(id).Debug("progress write failed", "error", err.Error())
		}
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- errors.Newf(errors.CodeInternal, "render engine panicked: %v", p)
			}
		}()
		done <- e.engine.Render(rctx, in)
	}()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if ctx.Err() == nil && rctx.Err() == context.DeadlineExceeded {
			return timeoutError(e.cfg.Timeout)
		}
		return stepError(rctx, err, "render.render", "rendering failed")
	case <-rctx.Done():
		select {
		case <-done:
		case <-time.After(abandonGrace):
			e.log.WithJobID(id).Warn("render engine did not return after its context ended, output may be left behind",
				"path", in.OutputPath,
			)
		}
		if ctx.Err() == nil && rctx.Err() == context.DeadlineExceeded {
			return timeoutError(e.cfg.Timeout)
		}
		return canceledError(rctx)
	}
}

func (e *Executor) inputProps(params models.Params) models.Params {
	props := params.Clone()
	if _, ok := props[models.ParamBaseURL]; !ok && e.cfg.AppBaseURL != "" {
		props[models.ParamBaseURL] = e.cfg.AppBaseURL
	}
	return props
}

// failJob records cause on the job. A job that is already terminal (for
// example cancelled by a client) keeps its state.
func (e *Executor) failJob(ctx context.Context, id string, cause error) {
	log := e.log.WithJobID(id)
	msg := truncate(errors.Describe(cause), maxErrorLen)

	var werr *errors.Error
	switch {
	case errors.IsCode(cause, errors.CodeCanceled):
		log.Info("render stopped", "message", msg)
	case errors.As(cause, &werr):
		log.Error("render failed", "code", string(werr.Code), "op", werr.Op, "message", msg)
	default:
		log.Error("render failed", "message", msg)
	}

	if err := e.store.Fail(context.WithoutCancel(ctx), id, msg); err != nil {
		if errors.IsConflict(err) {
			log.Debug("job already terminal, failure not recorded")
			return
		}
		log.Error("failed to record render failure", "error", err.Error())
	}
}

func checkpoint(ctx context.Context) error {
	if ctx.Err() != nil {
		return canceledError(ctx)
	}
	return nil
}

// stepError wraps a step failure, reporting cancellation instead when the
// step failed because ctx ended.
func stepError(ctx context.Context, err error, op, message string) error {
	if ctx.Err() != nil {
		return canceledError(ctx)
	}
	return errors.Wrap(err, op, message)
}

func canceledError(ctx context.Context) error {
	return errors.WrapWithCode(ctx.Err(), errors.CodeCanceled, "render", "render interrupted")
}

func timeoutError(d time.Duration) error {
	return errors.Wrap(errors.Timeout("render"), "render.render", "rendering failed").
		WithField("timeout_ms", d.Milliseconds())
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
