package render

import (
	"context"
	"sync"
	"time"

	"weaver/internal/pkg/logger"
	"weaver/internal/ports"
)

// Pool runs a fixed number of workers that pop queued renders and execute
// them, so at most Workers renders run at once in this process.
type Pool struct {
	queue   ports.Queue
	exec    *Executor
	workers int
	log     *logger.Logger

	retryDelay time.Duration
}

func NewPool(queue ports.Queue, exec *Executor, workers int, log *logger.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Pool{
		queue:      queue,
		exec:       exec,
		workers:    workers,
		log:        log.WithComponent("pool"),
		retryDelay: time.Second,
	}
}

// Run blocks until ctx ends and every worker has returned. Work still in an
// in-process queue is then failed.
func (p *Pool) Run(ctx context.Context) {
	p.log.Info("worker pool started", "workers", p.workers)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.work(ctx, n)
		}(i)
	}
	wg.Wait()
	p.drain(ctx)

	p.log.Info("worker pool stopped")
}

// drain fails renders left in an in-process queue; nothing would ever run
// them. Shared queues keep their work for other workers.
func (p *Pool) drain(ctx context.Context) {
	d, ok := p.queue.(ports.Drainer)
	if !ok {
		return
	}
	left := d.Drain()
	for _, r := range left {
		p.exec.Abandon(ctx, r.ID)
	}
	if len(left) > 0 {
		p.log.Warn("queued renders abandoned at shutdown", "count", len(left))
	}
}

func (p *Pool) work(ctx context.Context, n int) {
	log := p.log.With("worker", n)
	for {
		if ctx.Err() != nil {
			return
		}

		r, ok, err := p.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("queue pop error, retrying", "error", err.Error())
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.retryDelay):
			}
			continue
		}
		if !ok {
			continue
		}

		_ = p.exec.Execute(ctx, r)
	}
}
