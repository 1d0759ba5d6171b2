package main

import (
	"context"

	"weaver/internal/config"
	"weaver/internal/pkg/logger"
	"weaver/internal/pkg/shutdown"
	"weaver/internal/worker"
)

func main() {
	cfg, cfgErr := config.Load()

	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: "weaver-worker",
		AddSource:   cfg.LogSource,
	})
	if cfgErr != nil {
		log.LogFatal("invalid configuration", cfgErr)
	}
	if cfg.QueueBackend != config.BackendRedis {
		log.Error("the standalone worker needs QUEUE_BACKEND=redis", "queue_backend", cfg.QueueBackend)
		return
	}

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, cfg.ShutdownTimeout)

	deps, err := worker.Open(ctx, cfg, log)
	if err != nil {
		log.LogFatal("failed to open render runtime", err)
	}
	shutdownMgr.RegisterSimple("backends", deps.Close)

	if err := deps.Engine.Ping(ctx); err != nil {
		log.Warn("renderer not reachable yet", "error", err.Error())
	}

	runCtx, stopRun := context.WithCancel(ctx)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		worker.Run(runCtx, deps, cfg.Render, worker.RunOptions{Workers: cfg.Render.Workers, Janitor: true})
	}()
	shutdownMgr.Register("render-pool", func(ctx context.Context) error {
		stopRun()
		select {
		case <-runDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	shutdownMgr.Wait(ctx)
}
