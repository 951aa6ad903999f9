package queue

import (
	"context"
	"testing"
	"time"

	"kitaabse-pipeline/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

// queueContract runs the same behavior checks against every TaskQueue.
func queueContract(t *testing.T, q domain.TaskQueue) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("enqueue is duplicate tolerant", func(t *testing.T) {
		job := domain.NewPageJob("d1", 1, now)
		added, err := q.Enqueue(ctx, job)
		require.NoError(t, err)
		assert.True(t, added)

		dup := domain.NewPageJob("d1", 1, now)
		dup.Retries = 2
		added, err = q.Enqueue(ctx, dup)
		require.NoError(t, err)
		assert.False(t, added)

		stored, err := q.Get(ctx, job.Key)
		require.NoError(t, err)
		assert.Zero(t, stored.Retries, "outstanding record is not overwritten")
	})

	t.Run("dequeue honors NextRunAt order", func(t *testing.T) {
		later := domain.NewPageJob("d1", 2, now.Add(time.Minute))
		_, err := q.Enqueue(ctx, later)
		require.NoError(t, err)

		got, err := q.Dequeue(ctx, now)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "page:d1:1", got.Key)

		got, err = q.Dequeue(ctx, now)
		require.NoError(t, err)
		assert.Nil(t, got, "page 2 is not due yet")

		got, err = q.Dequeue(ctx, now.Add(time.Minute))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "page:d1:2", got.Key)
	})

	t.Run("reschedule moves the job", func(t *testing.T) {
		job := domain.NewPageJob("d2", 1, now)
		_, err := q.Enqueue(ctx, job)
		require.NoError(t, err)
		got, err := q.Dequeue(ctx, now)
		require.NoError(t, err)
		require.NotNil(t, got)

		require.True(t, got.RecordFailure(assert.AnError, now))
		require.NoError(t, q.Reschedule(ctx, got))

		none, err := q.Dequeue(ctx, now.Add(59*time.Second))
		require.NoError(t, err)
		assert.Nil(t, none)

		again, err := q.Dequeue(ctx, now.Add(60*time.Second))
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, 1, again.Retries)
		assert.Equal(t, domain.JobRetrying, again.Outcome)

		again.Finish(domain.JobSucceeded, now)
		require.NoError(t, q.Complete(ctx, again))
		stored, err := q.Get(ctx, again.Key)
		require.NoError(t, err)
		assert.Equal(t, domain.JobSucceeded, stored.Outcome)

		added, err := q.Enqueue(ctx, domain.NewPageJob("d2", 1, now))
		require.NoError(t, err)
		assert.True(t, added, "a completed key may be enqueued again")
	})

	t.Run("purge drops only the document's jobs", func(t *testing.T) {
		for _, job := range []*domain.PipelineJob{
			domain.NewExtractJob("d3", now),
			domain.NewPageJob("d3", 1, now),
			domain.NewPageJob("d3", 2, now),
			domain.NewPageJob("d30", 1, now),
		} {
			_, err := q.Enqueue(ctx, job)
			require.NoError(t, err)
		}

		n, err := q.PurgeDocument(ctx, "d3")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		var keys []string
		for {
			job, err := q.Dequeue(ctx, now)
			require.NoError(t, err)
			if job == nil {
				break
			}
			keys = append(keys, job.Key)
		}
		assert.Contains(t, keys, "page:d30:1")
		assert.NotContains(t, keys, "page:d3:1")
		assert.NotContains(t, keys, "extract:d3")
	})

	t.Run("missing job", func(t *testing.T) {
		_, err := q.Get(ctx, "page:nope:1")
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
	})
}

// leaseContract checks at-least-once delivery. Each case gets a fresh queue.
func leaseContract(t *testing.T, newQueue func() domain.TaskQueue) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	dequeueNow := func(t *testing.T, q domain.TaskQueue, at time.Time) *domain.PipelineJob {
		t.Helper()
		job, err := q.Dequeue(ctx, at)
		require.NoError(t, err)
		return job
	}

	t.Run("unsettled job is delivered again after the lease runs out", func(t *testing.T) {
		q := newQueue()
		_, err := q.Enqueue(ctx, domain.NewPageJob("d1", 1, now))
		require.NoError(t, err)

		first := dequeueNow(t, q, now)
		require.NotNil(t, first)

		assert.Nil(t, dequeueNow(t, q, now.Add(DefaultVisibilityTimeout-time.Second)), "lease still held")

		added, err := q.Enqueue(ctx, domain.NewPageJob("d1", 1, now))
		require.NoError(t, err)
		assert.False(t, added, "a leased key is outstanding")

		again := dequeueNow(t, q, now.Add(DefaultVisibilityTimeout))
		require.NotNil(t, again)
		assert.Equal(t, first.Key, again.Key)
	})

	t.Run("extend postpones redelivery", func(t *testing.T) {
		q := newQueue()
		_, err := q.Enqueue(ctx, domain.NewPageJob("d1", 1, now))
		require.NoError(t, err)
		require.NotNil(t, dequeueNow(t, q, now))

		require.NoError(t, q.Extend(ctx, "page:d1:1", now.Add(4*time.Minute)))
		assert.Nil(t, dequeueNow(t, q, now.Add(DefaultVisibilityTimeout+time.Minute)))

		again := dequeueNow(t, q, now.Add(4*time.Minute+DefaultVisibilityTimeout))
		require.NotNil(t, again)
		assert.Equal(t, "page:d1:1", again.Key)
	})

	t.Run("extend ignores settled jobs", func(t *testing.T) {
		q := newQueue()
		_, err := q.Enqueue(ctx, domain.NewPageJob("d1", 1, now))
		require.NoError(t, err)
		job := dequeueNow(t, q, now)
		require.NotNil(t, job)

		job.Finish(domain.JobSucceeded, now)
		require.NoError(t, q.Complete(ctx, job))
		require.NoError(t, q.Extend(ctx, job.Key, now))

		assert.Nil(t, dequeueNow(t, q, now.Add(time.Hour)))
		added, err := q.Enqueue(ctx, domain.NewPageJob("d1", 1, now))
		require.NoError(t, err)
		assert.True(t, added)
	})

	t.Run("reschedule ends the lease", func(t *testing.T) {
		q := newQueue()
		_, err := q.Enqueue(ctx, domain.NewPageJob("d1", 1, now))
		require.NoError(t, err)
		job := dequeueNow(t, q, now)
		require.NotNil(t, job)

		require.True(t, job.RecordFailure(assert.AnError, now))
		require.NoError(t, q.Reschedule(ctx, job))

		again := dequeueNow(t, q, job.NextRunAt)
		require.NotNil(t, again)
		assert.Equal(t, 1, again.Retries)
		assert.Nil(t, dequeueNow(t, q, job.NextRunAt), "delivered once per schedule")
	})

	t.Run("purge drops leased jobs", func(t *testing.T) {
		q := newQueue()
		for _, job := range []*domain.PipelineJob{
			domain.NewPageJob("d3", 1, now),
			domain.NewPageJob("d3", 2, now.Add(time.Minute)),
		} {
			_, err := q.Enqueue(ctx, job)
			require.NoError(t, err)
		}
		require.NotNil(t, dequeueNow(t, q, now))

		n, err := q.PurgeDocument(ctx, "d3")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Nil(t, dequeueNow(t, q, now.Add(time.Hour)))
	})
}

func lockerContract(t *testing.T, l domain.Locker) {
	ctx := context.Background()

	token, err := l.Acquire(ctx, "page:d1:1", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	_, err = l.Acquire(ctx, "page:d1:1", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockNotAcquired)

	require.NoError(t, l.Release(ctx, "page:d1:1", "someone-else"))
	_, err = l.Acquire(ctx, "page:d1:1", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockNotAcquired, "foreign token must not release")

	require.NoError(t, l.Release(ctx, "page:d1:1", token))
	_, err = l.Acquire(ctx, "page:d1:1", time.Minute)
	assert.NoError(t, err)
}

func TestRedisQueue(t *testing.T) {
	client, _ := newRedis(t)
	queueContract(t, NewRedisQueue(client, "test:"))
}

func TestMemoryQueue(t *testing.T) {
	queueContract(t, NewMemoryQueue())
}

func TestRedisQueue_Leases(t *testing.T) {
	leaseContract(t, func() domain.TaskQueue {
		client, _ := newRedis(t)
		return NewRedisQueue(client, "test:")
	})
}

func TestMemoryQueue_Leases(t *testing.T) {
	leaseContract(t, func() domain.TaskQueue { return NewMemoryQueue() })
}

func TestMemoryQueue_LeasedCount(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	now := time.Now()
	_, err := q.Enqueue(ctx, domain.NewExtractJob("d1", now))
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 0, q.Scheduled())
	assert.Equal(t, 1, q.Leased())

	require.NoError(t, q.Complete(ctx, job))
	assert.Equal(t, 0, q.Leased())
}

func TestRedisLocker(t *testing.T) {
	client, _ := newRedis(t)
	lockerContract(t, NewRedisLocker(client, "test:"))
}

func TestMemoryLocker(t *testing.T) {
	lockerContract(t, NewMemoryLocker())
}

func TestRedisLocker_Expires(t *testing.T) {
	client, mr := newRedis(t)
	l := NewRedisLocker(client, "test:")
	ctx := context.Background()

	_, err := l.Acquire(ctx, "k", 10*time.Second)
	require.NoError(t, err)
	mr.FastForward(11 * time.Second)

	_, err = l.Acquire(ctx, "k", 10*time.Second)
	assert.NoError(t, err)
}

func TestMemoryLocker_Expires(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Now()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	now = now.Add(2 * time.Second)
	_, err = l.Acquire(ctx, "k", time.Second)
	assert.NoError(t, err)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, client.Close())

	mr.Close()
	_, err = NewRedisClient(context.Background(), RedisConfig{Addr: mr.Addr()})
	assert.Error(t, err)
}
