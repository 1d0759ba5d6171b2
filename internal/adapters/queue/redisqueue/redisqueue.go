// Package redisqueue is the render queue shared by API and worker processes.
// Producers LPUSH JSON payloads, consumers BRPOP them, giving FIFO order.
package redisqueue

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"weaver/internal/pkg/errors"
	"weaver/internal/ports"
)

// pushScript: KEYS[1]=list; ARGV[1]=capacity, ARGV[2]=payload. Returns 0 when full.
var pushScript = redis.NewScript(`
if redis.call('LLEN', KEYS[1]) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('LPUSH', KEYS[1], ARGV[2])
return 1
`)

type Queue struct {
	rdb         *redis.Client
	name        string
	capacity    int
	pollTimeout time.Duration
}

// New returns a queue on the list name. Pop gives up after pollTimeout so
// callers can re-check their context.
func New(rdb *redis.Client, name string, capacity int, pollTimeout time.Duration) *Queue {
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{rdb: rdb, name: name, capacity: capacity, pollTimeout: pollTimeout}
}

func (q *Queue) Push(ctx context.Context, r ports.QueuedRender) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "redisqueue.Push", "encode queued render")
	}
	pushed, err := pushScript.Run(ctx, q.rdb, []string{q.name}, q.capacity, string(payload)).Int()
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "redisqueue.Push", "render queue unavailable")
	}
	if pushed == 0 {
		return errors.ResourceExhausted("render queue is full").WithField("capacity", q.capacity)
	}
	return nil
}

func (q *Queue) Pop(ctx context.Context) (ports.QueuedRender, bool, error) {
	res, err := q.rdb.BRPop(ctx, q.pollTimeout, q.name).Result()
	if err == redis.Nil {
		return ports.QueuedRender{}, false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return ports.QueuedRender{}, false, ctx.Err()
		}
		return ports.QueuedRender{}, false, errors.WrapWithCode(err, errors.CodeUnavailable, "redisqueue.Pop", "render queue unavailable")
	}
	if len(res) < 2 {
		return ports.QueuedRender{}, false, nil
	}

	var r ports.QueuedRender
	dec := json.NewDecoder(strings.NewReader(res[1]))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return ports.QueuedRender{}, false, errors.WrapWithCode(err, errors.CodeInternal, "redisqueue.Pop", "decode queued render")
	}
	return r, true, nil
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.CodeUnavailable, "redisqueue.Len", "render queue unavailable")
	}
	return int(n), nil
}
