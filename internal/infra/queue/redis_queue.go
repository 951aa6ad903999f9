// Package queue provides the pipeline's delayed job queue and per-page locks.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"kitaabse-pipeline/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "kitaabse:"
	// finishedTTL keeps terminal job records around for inspection.
	finishedTTL = 7 * 24 * time.Hour
	// DefaultVisibilityTimeout is how long a dequeued job stays leased
	// without a heartbeat before it is delivered again. It outlasts the
	// 10 minute page lock so a redelivered page job finds the lock free.
	DefaultVisibilityTimeout = 11 * time.Minute
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisClient connects and pings Redis.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// enqueueScript adds a job only when its key is neither scheduled nor leased,
// so an outstanding job's retry bookkeeping is never overwritten.
var enqueueScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) or redis.call('ZSCORE', KEYS[3], ARGV[1]) then
  return 0
end
redis.call('SET', KEYS[2], ARGV[3])
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
return 1
`)

// dequeueScript returns expired leases to the schedule, then moves the
// earliest due job into the lease set with a fresh deadline.
var dequeueScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, key in ipairs(expired) do
  redis.call('ZREM', KEYS[2], key)
  redis.call('ZADD', KEYS[1], ARGV[1], key)
end
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #due == 0 then
  return false
end
redis.call('ZREM', KEYS[1], due[1])
redis.call('ZADD', KEYS[2], ARGV[2], due[1])
return due[1]
`)

// RedisQueue schedules jobs in a sorted set scored by NextRunAt. A dequeued
// job moves to a lease set scored by its lease deadline until Complete or
// Reschedule settles it; a lease that runs out puts the job back on the
// schedule. Job records live under their own keys as JSON.
type RedisQueue struct {
	client     *redis.Client
	prefix     string
	visibility time.Duration
}

func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisQueue{client: client, prefix: prefix, visibility: DefaultVisibilityTimeout}
}

// WithVisibilityTimeout sets how long a dequeued job stays leased.
func (q *RedisQueue) WithVisibilityTimeout(d time.Duration) *RedisQueue {
	if d > 0 {
		q.visibility = d
	}
	return q
}

func (q *RedisQueue) scheduleKey() string { return q.prefix + "schedule" }
func (q *RedisQueue) leaseKey() string { return q.prefix + "leased" }
func (q *RedisQueue) jobKey(key string) string { return q.prefix + "job:" + key }

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func scoreArg(t time.Time) string {
	return strconv.FormatFloat(score(t), 'f', 0, 64)
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *domain.PipelineJob) (bool, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshal job: %w", err)
	}
	added, err := enqueueScript.Run(ctx, q.client,
		[]string{q.scheduleKey(), q.jobKey(job.Key), q.leaseKey()},
		job.Key, scoreArg(job.NextRunAt), data,
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis enqueue: %w", err)
	}
	return added == 1, nil
}

func (q *RedisQueue) Reschedule(ctx context.Context, job *domain.PipelineJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.jobKey(job.Key), data, 0)
		pipe.ZRem(ctx, q.leaseKey(), job.Key)
		pipe.ZAdd(ctx, q.scheduleKey(), redis.Z{Score: score(job.NextRunAt), Member: job.Key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis reschedule: %w", err)
	}
	return nil
}

// Dequeue leases the earliest due job. The script runs atomically, so
// competing workers never receive the same lease.
func (q *RedisQueue) Dequeue(ctx context.Context, now time.Time) (*domain.PipelineJob, error) {
	for attempt := 0; attempt < 3; attempt++ {
		key, err := dequeueScript.Run(ctx, q.client,
			[]string{q.scheduleKey(), q.leaseKey()},
			scoreArg(now), scoreArg(now.Add(q.visibility)),
		).Text()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("redis dequeue: %w", err)
		}

		job, err := q.Get(ctx, key)
		if errors.Is(err, domain.ErrJobNotFound) {
			// Orphaned member without a record.
			if err := q.client.ZRem(ctx, q.leaseKey(), key).Err(); err != nil {
				return nil, fmt.Errorf("redis dequeue: %w", err)
			}
			continue
		}
		return job, err
	}
	return nil, nil
}

// Extend pushes the lease of a job still held by its worker.
func (q *RedisQueue) Extend(ctx context.Context, key string, now time.Time) error {
	err := q.client.ZAddXX(ctx, q.leaseKey(), redis.Z{Score: score(now.Add(q.visibility)), Member: key}).Err()
	if err != nil {
		return fmt.Errorf("redis extend lease: %w", err)
	}
	return nil
}

func (q *RedisQueue) Complete(ctx context.Context, job *domain.PipelineJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.jobKey(job.Key), data, finishedTTL)
		pipe.ZRem(ctx, q.scheduleKey(), job.Key)
		pipe.ZRem(ctx, q.leaseKey(), job.Key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis complete: %w", err)
	}
	return nil
}

func (q *RedisQueue) Get(ctx context.Context, key string) (*domain.PipelineJob, error) {
	data, err := q.client.Get(ctx, q.jobKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get job: %w", err)
	}
	var job domain.PipelineJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", key, err)
	}
	return &job, nil
}

// PurgeDocument drops every scheduled or leased job of a document and lets
// their records expire.
func (q *RedisQueue) PurgeDocument(ctx context.Context, documentID string) (int, error) {
	var owned []string
	for _, set := range []string{q.scheduleKey(), q.leaseKey()} {
		members, err := q.client.ZRange(ctx, set, 0, -1).Result()
		if err != nil {
			return 0, fmt.Errorf("redis purge: %w", err)
		}
		for _, m := range members {
			if belongsTo(m, documentID) {
				owned = append(owned, m)
			}
		}
	}
	if len(owned) == 0 {
		return 0, nil
	}

	args := make([]interface{}, len(owned))
	for i, m := range owned {
		args[i] = m
	}
	var fromSchedule, fromLeases *redis.IntCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fromSchedule = pipe.ZRem(ctx, q.scheduleKey(), args...)
		fromLeases = pipe.ZRem(ctx, q.leaseKey(), args...)
		for _, m := range owned {
			pipe.Expire(ctx, q.jobKey(m), finishedTTL)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis purge: %w", err)
	}
	return int(fromSchedule.Val() + fromLeases.Val()), nil
}

// belongsTo matches "extract:<doc>" and "page:<doc>:<n>".
func belongsTo(jobKey, documentID string) bool {
	return jobKey == domain.ExtractJobKey(documentID) ||
		strings.HasPrefix(jobKey, "page:"+documentID+":")
}

// releaseScript deletes the lock only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker implements domain.Locker with SET NX PX.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+"lock:"+key, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redis lock: %w", err)
	}
	if !ok {
		return "", domain.ErrLockNotAcquired
	}
	return token, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.prefix + "lock:" + key}, token).Err(); err != nil {
		return fmt.Errorf("redis unlock: %w", err)
	}
	return nil
}
