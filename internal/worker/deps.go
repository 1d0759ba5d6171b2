// Package worker assembles the render runtime from configuration: job store,
// queue, renderer client, storage provider, executor, pool and janitor.
package worker

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"weaver/internal/adapters/engine/httpengine"
	"weaver/internal/adapters/jobstore/memory"
	"weaver/internal/adapters/jobstore/postgres"
	"weaver/internal/adapters/jobstore/redisstore"
	"weaver/internal/adapters/queue/memqueue"
	"weaver/internal/adapters/queue/redisqueue"
	"weaver/internal/config"
	"weaver/internal/models"
	"weaver/internal/pkg/errors"
	"weaver/internal/pkg/logger"
	"weaver/internal/ports"
	"weaver/internal/render"
	"weaver/internal/storage"
)

const queuePollTimeout = 5 * time.Second

type Deps struct {
	Store    ports.JobStore
	Queue    ports.Queue
	Engine   *httpengine.Client
	Storage  ports.StorageProvider
	Executor *render.Executor
	Schemas  map[string]models.Schema

	Pool *pgxpool.Pool
	RDB  *redis.Client

	log *logger.Logger
}

// Open connects every backend cfg selects. On error anything already opened
// is closed again.
func Open(ctx context.Context, cfg config.Config, log *logger.Logger) (*Deps, error) {
	if log == nil {
		log = logger.NewDefault()
	}
	d := &Deps{log: log}
	if err := d.open(ctx, cfg); err != nil {
		d.Close()
		return nil, err
	}
	log.Info("render runtime ready",
		"state_backend", d.Store.Backend(),
		"queue_backend", cfg.QueueBackend,
		"renderer", cfg.Render.RendererBaseURL,
	)
	return d, nil
}

func (d *Deps) open(ctx context.Context, cfg config.Config) (err error) {
	log := d.log

	if cfg.StateBackend == config.BackendRedis || cfg.QueueBackend == config.BackendRedis {
		log.Info("connecting to Redis", "addr", cfg.RedisAddr)
		d.RDB = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := d.RDB.Ping(ctx).Err(); err != nil {
			return errors.WrapWithCode(err, errors.CodeUnavailable, "worker.Open", "ping redis")
		}
		log.Info("Redis connected")
	}

	switch cfg.StateBackend {
	case config.BackendPostgres:
		log.Info("connecting to PostgreSQL")
		d.Pool, err = postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
		if err != nil {
			return errors.WrapWithCode(err, errors.CodeUnavailable, "worker.Open", "connect postgres")
		}
		pg := postgres.New(d.Pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		d.Store = pg
		log.Info("PostgreSQL connected")
	case config.BackendRedis:
		d.Store = redisstore.New(d.RDB, cfg.KeyPrefix)
	default:
		d.Store = memory.New()
	}

	if cfg.QueueBackend == config.BackendRedis {
		d.Queue = redisqueue.New(d.RDB, cfg.QueueName, cfg.Render.QueueCapacity, queuePollTimeout)
	} else {
		d.Queue = memqueue.New(cfg.Render.QueueCapacity)
	}

	d.Storage, err = storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		return errors.Wrap(err, "worker.Open", "initialize storage provider")
	}
	log.Info("storage provider initialized", "provider", d.Storage.Provider())

	if cfg.CompositionsFile != "" {
		d.Schemas, err = config.LoadCompositions(cfg.CompositionsFile)
		if err != nil {
			return err
		}
		log.Info("composition schemas loaded", "count", len(d.Schemas))
	}

	d.Engine = httpengine.New(cfg.Render.RendererBaseURL)
	d.Executor = render.NewExecutor(d.Store, d.Engine, d.Storage, render.ExecutorConfig{
		EntryPoint:              cfg.Render.EntryPoint,
		WorkDir:                 cfg.Render.WorkDir,
		AppBaseURL:              cfg.Render.AppBaseURL,
		Timeout:                 cfg.Render.Timeout,
		Encoding:                render.DefaultEncoding(),
		CleanupOnPublishFailure: cfg.Render.CleanupOnPublishFailure,
	}, log)

	return nil
}

// Service returns the client facing render service over these backends.
// The executor is attached only when renders run in this process.
func (d *Deps) Service(inProcess bool) *render.Service {
	sd := render.ServiceDeps{
		Store:   d.Store,
		Queue:   d.Queue,
		Storage: d.Storage,
		Schemas: d.Schemas,
		Log:     d.log,
	}
	if inProcess {
		sd.Executor = d.Executor
	}
	return render.NewService(sd)
}

// Close releases the connections Open made. It is safe on a partial Deps.
func (d *Deps) Close() {
	if d.Pool != nil {
		d.Pool.Close()
	}
	if d.RDB != nil {
		if err := d.RDB.Close(); err != nil {
			d.log.Warn("redis close failed", "error", err.Error())
		}
	}
}
