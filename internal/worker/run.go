package worker

import (
	"context"
	"sync"

	"weaver/internal/config"
	"weaver/internal/pkg/logger"
	"weaver/internal/render"
)

type RunOptions struct {
	// Workers is the number of concurrent renders. Zero runs no pool,
	// only the janitor.
	Workers int
	Janitor bool
}

// Run drives the pool and janitor until ctx ends. Renders still running at
// that point are failed by the executor before Run returns.
func Run(ctx context.Context, d *Deps, cfg config.Render, opt RunOptions) {
	log := d.log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("worker")

	var wg sync.WaitGroup
	if opt.Workers > 0 {
		pool := render.NewPool(d.Queue, d.Executor, opt.Workers, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Run(ctx)
		}()
	}
	if opt.Janitor {
		janitor := render.NewJanitor(d.Store, cfg.JobTTL, cfg.JanitorInterval, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			janitor.Run(ctx)
		}()
	}

	log.Info("worker started", "workers", opt.Workers, "janitor", opt.Janitor)
	wg.Wait()
	log.Info("worker stopped")
}
