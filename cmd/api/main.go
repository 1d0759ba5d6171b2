package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"weaver/internal/config"
	"weaver/internal/httpapi"
	"weaver/internal/pkg/logger"
	"weaver/internal/pkg/shutdown"
	"weaver/internal/worker"
)

const version = "0.1.0"

func main() {
	cfg, cfgErr := config.Load()

	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: "weaver-api",
		AddSource:   cfg.LogSource,
	})
	if cfgErr != nil {
		log.LogFatal("invalid configuration", cfgErr)
	}

	log.Info("starting weaver API",
		"version", version,
		"state_backend", cfg.StateBackend,
		"queue_backend", cfg.QueueBackend,
		"storage_provider", cfg.Storage.Provider,
	)

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, cfg.ShutdownTimeout)

	deps, err := worker.Open(ctx, cfg, log)
	if err != nil {
		log.LogFatal("failed to open render runtime", err)
	}
	shutdownMgr.RegisterSimple("backends", deps.Close)

	// With the in-memory queue renders can only run here. With Redis they
	// run in cmd/worker and this process only evicts.
	inProcess := cfg.QueueBackend == config.BackendMemory
	opts := worker.RunOptions{Janitor: true}
	if inProcess {
		opts.Workers = cfg.Render.Workers
	}

	runCtx, stopRun := context.WithCancel(ctx)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		worker.Run(runCtx, deps, cfg.Render, opts)
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

	router := httpapi.NewRouter(httpapi.Deps{
		Renders:     deps.Service(inProcess),
		Renderer:    deps.Engine,
		Log:         log,
		CORSOrigins: cfg.CORSOrigins,
		Version:     version,
	})

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed", "error", err.Error())
			shutdownMgr.Shutdown()
			os.Exit(1)
		}
	}()

	shutdownMgr.Wait(ctx)
}
