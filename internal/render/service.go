package render

import (
	"context"
	"io"
	"path"
	"strings"
	"time"

	"weaver/internal/models"
	"weaver/internal/pkg/errors"
	"weaver/internal/pkg/ids"
	"weaver/internal/pkg/logger"
	"weaver/internal/ports"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200

	queueFullMessage = "render queue is full"
	cancelReason     = "cancelled by client"
)

// Service is the client facing side of rendering: submission, polling,
// cancellation and artifact download. It never waits on a render.
type Service struct {
	store   ports.JobStore
	queue   ports.Queue
	sp      ports.StorageProvider
	exec    *Executor
	schemas map[string]models.Schema
	log     *logger.Logger

	newID func() string
	now   func() time.Time
}

type ServiceDeps struct {
	Store   ports.JobStore
	Queue   ports.Queue
	Storage ports.StorageProvider
	// Executor is set when renders run in this process, so Cancel can stop
	// them immediately. Without it cancellation is picked up at the next
	// checkpoint by whichever process runs the job.
	Executor *Executor
	// Schemas holds per composition parameter schemas, layered over
	// models.BaseSchema.
	Schemas map[string]models.Schema
	Log     *logger.Logger
}

func NewService(d ServiceDeps) *Service {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Service{
		store:   d.Store,
		queue:   d.Queue,
		sp:      d.Storage,
		exec:    d.Executor,
		schemas: d.Schemas,
		log:     log.WithComponent("render-service"),
		newID:   func() string { return ids.New("render") },
		now:     time.Now,
	}
}

// Validate checks a submission against the composition's parameter schema.
// Callers that take untrusted input run it before Submit.
func (s *Service) Validate(compositionID string, params models.Params) error {
	compositionID = strings.TrimSpace(compositionID)
	if compositionID == "" {
		return errors.ValidationField("compositionId", "compositionId is required")
	}
	if params == nil {
		params = models.Params{}
	}
	return s.schemaFor(compositionID).Validate(params)
}

// Submit seeds a rendering job and queues it without inspecting params. The
// job is in the store before Submit returns. When the queue is full the
// seeded job is failed and RESOURCE_EXHAUSTED is returned along with its id.
func (s *Service) Submit(ctx context.Context, compositionID string, params models.Params) (string, error) {
	compositionID = strings.TrimSpace(compositionID)
	if params == nil {
		params = models.Params{}
	}

	id := s.newID()
	if err := s.store.Seed(ctx, models.NewRenderJob(id, compositionID, s.now())); err != nil {
		return "", errors.Wrap(err, "render.Submit", "seed render job")
	}

	err := s.queue.Push(ctx, ports.QueuedRender{ID: id, CompositionID: compositionID, Params: params.Clone()})
	if err != nil {
		msg := queueFullMessage
		if !errors.IsCode(err, errors.CodeResourceExhausted) {
			msg = "failed to queue render: " + errors.Describe(err)
		}
		if ferr := s.store.Fail(context.WithoutCancel(ctx), id, msg); ferr != nil {
			s.log.Error("failed to record queue rejection", "job_id", id, "error", ferr.Error())
		}
		s.log.Warn("render rejected", "job_id", id, "composition_id", compositionID, "reason", msg)
		return id, err
	}

	s.log.Info("render queued", "job_id", id, "composition_id", compositionID)
	return id, nil
}

func (s *Service) schemaFor(compositionID string) models.Schema {
	if sc, ok := s.schemas[compositionID]; ok {
		return sc.Merge(models.BaseSchema())
	}
	return models.BaseSchema()
}

// Progress returns the job record. Unknown ids are NOT_FOUND.
func (s *Service) Progress(ctx context.Context, id string) (models.RenderJob, error) {
	return s.store.Get(ctx, id)
}

// Cancel moves a rendering job to cancelled and stops it if it runs here.
// Cancelling a terminal job is a CONFLICT.
func (s *Service) Cancel(ctx context.Context, id string) (models.RenderJob, error) {
	if err := s.store.Cancel(ctx, id, cancelReason); err != nil {
		return models.RenderJob{}, err
	}
	if s.exec != nil && s.exec.Cancel(id) {
		s.log.Info("running render cancelled", "job_id", id)
	} else {
		s.log.Info("render marked cancelled", "job_id", id)
	}
	return s.store.Get(ctx, id)
}

// List returns recent jobs, newest first. limit is clamped to
// [1, MaxListLimit]; zero or negative means DefaultListLimit.
func (s *Service) List(ctx context.Context, limit int) ([]models.RenderJob, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	return s.store.List(ctx, limit)
}

// Artifact is an open published render.
type Artifact struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
	Filename    string
}

// OpenArtifact streams the published output of a done job. Jobs that are not
// done are a CONFLICT.
func (s *Service) OpenArtifact(ctx context.Context, id string) (Artifact, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return Artifact{}, err
	}
	if job.Status != models.StatusDone {
		return Artifact{}, errors.Conflict("render job is " + string(job.Status) + ", not done").WithField("id", id)
	}
	if s.sp == nil || job.ResultKey == "" {
		return Artifact{}, errors.New(errors.CodeUnavailable, "artifact is not downloadable from this service")
	}

	rc, ct, size, err := s.sp.GetObject(ctx, job.ResultKey)
	if err != nil {
		return Artifact{}, errors.Wrap(err, "render.OpenArtifact", "open artifact")
	}
	ext, mime := ExtFromCodec(DefaultEncoding().Codec)
	if ct == "" {
		ct = mime
	}
	name := id + "." + ext
	if e := path.Ext(job.ResultKey); e != "" {
		name = id + e
	}
	return Artifact{Body: rc, ContentType: ct, Size: size, Filename: name}, nil
}

// Ready reports whether the store and queue answer. It is used by the deep
// health check.
func (s *Service) Ready(ctx context.Context) map[string]error {
	out := map[string]error{}
	if p, ok := s.store.(ports.Pinger); ok {
		out["store"] = p.Ping(ctx)
	} else {
		out["store"] = nil
	}
	_, err := s.queue.Len(ctx)
	out["queue"] = err
	return out
}

// Backends names the configured store and storage provider.
func (s *Service) Backends() (store, storage string) {
	store = s.store.Backend()
	if s.sp != nil {
		storage = s.sp.Provider()
	}
	return store, storage
}
