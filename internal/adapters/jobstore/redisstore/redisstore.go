// Package redisstore keeps render job state in Redis so the API and worker
// processes share it. Each job is a hash; a sorted set scored by creation
// time indexes them for List and Evict. Transitions run as Lua scripts so
// the terminal check and the write are one atomic step.
package redisstore

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"weaver/internal/models"
	"weaver/internal/pkg/errors"
)

const (
	replyOK      = "ok"
	replyMissing = "missing"
	replyExists  = "exists"
)

// seed: KEYS[1]=job hash, KEYS[2]=index; ARGV[1]=id, ARGV[2]=created ms, ARGV[3..]=field/value pairs.
var seedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 'exists'
end
for i = 3, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 'ok'
`)

// progress: KEYS[1]=job hash; ARGV[1]=clamped progress.
var progressScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st then
  return 'missing'
end
if st ~= 'rendering' then
  return st
end
local cur = tonumber(redis.call('HGET', KEYS[1], 'progress')) or 0
local p = tonumber(ARGV[1])
if p > cur then
  redis.call('HSET', KEYS[1], 'progress', ARGV[1])
end
return 'ok'
`)

// transition: KEYS[1]=job hash; ARGV = field/value pairs written only while rendering.
var transitionScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st then
  return 'missing'
end
if st ~= 'rendering' then
  return st
end
for i = 1, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 'ok'
`)

// evict: KEYS[1]=job hash, KEYS[2]=index; ARGV[1]=id, ARGV[2]=cutoff ms.
var evictScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st then
  redis.call('ZREM', KEYS[2], ARGV[1])
  return 0
end
if st == 'rendering' then
  return 0
end
local fin = tonumber(redis.call('HGET', KEYS[1], 'finishedAt'))
if fin and fin < tonumber(ARGV[2]) then
  redis.call('DEL', KEYS[1])
  redis.call('ZREM', KEYS[2], ARGV[1])
  return 1
end
return 0
`)

type Store struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

// New returns a store whose keys all start with prefix.
func New(rdb *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "weaver"
	}
	return &Store{rdb: rdb, prefix: prefix, now: time.Now}
}

func (s *Store) Backend() string { return "redis" }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "redisstore.Ping", "redis unavailable")
	}
	return nil
}

func (s *Store) jobKey(id string) string { return s.prefix + ":render:" + id }
func (s *Store) indexKey() string        { return s.prefix + ":renders" }

func (s *Store) Seed(ctx context.Context, job models.RenderJob) error {
	created := job.CreatedAt.UTC().UnixMilli()
	args := []any{
		job.ID, created,
		"id", job.ID,
		"compositionId", job.CompositionID,
		"status", string(job.Status),
		"progress", formatProgress(job.Progress),
		"createdAt", created,
	}
	reply, err := seedScript.Run(ctx, s.rdb, []string{s.jobKey(job.ID), s.indexKey()}, args...).Text()
	if err != nil {
		return unavailable(err, "redisstore.Seed")
	}
	if reply == replyExists {
		return errors.New(errors.CodeAlreadyExists, "render job already exists: "+job.ID)
	}
	return nil
}

func (s *Store) UpdateProgress(ctx context.Context, id string, p float64) error {
	reply, err := progressScript.Run(ctx, s.rdb, []string{s.jobKey(id)}, formatProgress(models.ClampProgress(p))).Text()
	if err != nil {
		return unavailable(err, "redisstore.UpdateProgress")
	}
	return replyErr(reply, id)
}

func (s *Store) Complete(ctx context.Context, id string, a models.Artifact) error {
	return s.transition(ctx, id,
		"status", string(models.StatusDone),
		"progress", "1",
		"resultUrl", a.URL,
		"resultKey", a.Key,
		"resultSizeBytes", a.SizeBytes,
		"finishedAt", s.now().UTC().UnixMilli(),
	)
}

func (s *Store) Fail(ctx context.Context, id string, message string) error {
	return s.transition(ctx, id,
		"status", string(models.StatusError),
		"error", message,
		"finishedAt", s.now().UTC().UnixMilli(),
	)
}

func (s *Store) Cancel(ctx context.Context, id string, reason string) error {
	return s.transition(ctx, id,
		"status", string(models.StatusCancelled),
		"error", reason,
		"finishedAt", s.now().UTC().UnixMilli(),
	)
}

func (s *Store) transition(ctx context.Context, id string, pairs ...any) error {
	reply, err := transitionScript.Run(ctx, s.rdb, []string{s.jobKey(id)}, pairs...).Text()
	if err != nil {
		return unavailable(err, "redisstore.transition")
	}
	return replyErr(reply, id)
}

func (s *Store) Get(ctx context.Context, id string) (models.RenderJob, error) {
	fields, err := s.rdb.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return models.RenderJob{}, unavailable(err, "redisstore.Get")
	}
	if len(fields) == 0 {
		return models.RenderJob{}, errors.NotFound("render job", id)
	}
	return decodeJob(fields), nil
}

func (s *Store) List(ctx context.Context, limit int) ([]models.RenderJob, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	// Equal scores come back in reverse lexical order, matching the memory store.
	ids, err := s.rdb.ZRevRange(ctx, s.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, unavailable(err, "redisstore.List")
	}
	if len(ids) == 0 {
		return []models.RenderJob{}, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.jobKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, unavailable(err, "redisstore.List")
	}

	out := make([]models.RenderJob, 0, len(ids))
	for _, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		out = append(out, decodeJob(fields))
	}
	return out, nil
}

// Evict walks jobs created before cutoff; a job cannot finish before it was
// created, so newer index entries are never candidates.
func (s *Store) Evict(ctx context.Context, cutoff time.Time) (int, error) {
	ms := cutoff.UTC().UnixMilli()
	ids, err := s.rdb.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(ms, 10),
	}).Result()
	if err != nil {
		return 0, unavailable(err, "redisstore.Evict")
	}

	n := 0
	for _, id := range ids {
		removed, err := evictScript.Run(ctx, s.rdb, []string{s.jobKey(id), s.indexKey()}, id, ms).Int()
		if err != nil {
			return n, unavailable(err, "redisstore.Evict")
		}
		n += removed
	}
	return n, nil
}

func replyErr(reply, id string) error {
	switch reply {
	case replyOK:
		return nil
	case replyMissing:
		return errors.NotFound("render job", id)
	default:
		return errors.Conflict("render job is already "+reply).WithField("id", id)
	}
}

func unavailable(err error, op string) error {
	return errors.WrapWithCode(err, errors.CodeUnavailable, op, "job store unavailable")
}

func formatProgress(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func decodeJob(f map[string]string) models.RenderJob {
	j := models.RenderJob{
		ID:            f["id"],
		CompositionID: f["compositionId"],
		Status:        models.Status(f["status"]),
		Error:         f["error"],
		ResultURL:     f["resultUrl"],
		ResultKey:     f["resultKey"],
	}
	j.Progress, _ = strconv.ParseFloat(f["progress"], 64)
	j.ResultSizeBytes, _ = strconv.ParseInt(f["resultSizeBytes"], 10, 64)
	if ms, err := strconv.ParseInt(f["createdAt"], 10, 64); err == nil {
		j.CreatedAt = time.UnixMilli(ms).UTC()
	}
	if ms, err := strconv.ParseInt(f["finishedAt"], 10, 64); err == nil {
		t := time.UnixMilli(ms).UTC()
		j.FinishedAt = &t
	}
	return j
}
