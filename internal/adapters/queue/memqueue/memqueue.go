// Package memqueue is the in-process render queue: a buffered channel whose
// capacity is the queue bound.
package memqueue

import (
	"context"

	"weaver/internal/pkg/errors"
	"weaver/internal/ports"
)

type Queue struct {
	ch chan ports.QueuedRender
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan ports.QueuedRender, capacity)}
}

func (q *Queue) Push(_ context.Context, r ports.QueuedRender) error {
	select {
	case q.ch <- r:
		return nil
	default:
		return errors.ResourceExhausted("render queue is full").WithField("capacity", cap(q.ch))
	}
}

func (q *Queue) Pop(ctx context.Context) (ports.QueuedRender, bool, error) {
	select {
	case <-ctx.Done():
		return ports.QueuedRender{}, false, ctx.Err()
	case r := <-q.ch:
		return r, true, nil
	}
}

func (q *Queue) Len(context.Context) (int, error) {
	return len(q.ch), nil
}

// Drain removes and returns everything still buffered.
func (q *Queue) Drain() []ports.QueuedRender {
	var out []ports.QueuedRender
	for {
		select {
		case r := <-q.ch:
			out = append(out, r)
		default:
			return out
		}
	}
}
