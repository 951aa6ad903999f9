package queue

import (
	"context"
	"sync"
	"time"

	"kitaabse-pipeline/internal/domain"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process TaskQueue for tests and single-process runs.
// Dequeued jobs are leased the same way RedisQueue leases them.
type MemoryQueue struct {
	mu         sync.Mutex
	jobs       map[string]domain.PipelineJob
	scheduled  map[string]bool
	leased     map[string]time.Time
	visibility time.Duration
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		jobs:       make(map[string]domain.PipelineJob),
		scheduled:  make(map[string]bool),
		leased:     make(map[string]time.Time),
		visibility: DefaultVisibilityTimeout,
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, job *domain.PipelineJob) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, held := q.leased[job.Key]; held || q.scheduled[job.Key] {
		return false, nil
	}
	q.jobs[job.Key] = *job
	q.scheduled[job.Key] = true
	return true, nil
}

func (q *MemoryQueue) Reschedule(_ context.Context, job *domain.PipelineJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.jobs[job.Key] = *job
	delete(q.leased, job.Key)
	q.scheduled[job.Key] = true
	return nil
}

func (q *MemoryQueue) Dequeue(_ context.Context, now time.Time) (*domain.PipelineJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for key, until := range q.leased {
		if !until.After(now) {
			delete(q.leased, key)
			job := q.jobs[key]
			job.NextRunAt = now
			q.jobs[key] = job
			q.scheduled[key] = true
		}
	}

	var next *domain.PipelineJob
	for key := range q.scheduled {
		job := q.jobs[key]
		if job.NextRunAt.After(now) {
			continue
		}
		if next == nil || job.NextRunAt.Before(next.NextRunAt) ||
			(job.NextRunAt.Equal(next.NextRunAt) && job.Key < next.Key) {
			j := job
			next = &j
		}
	}
	if next == nil {
		return nil, nil
	}
	delete(q.scheduled, next.Key)
	q.leased[next.Key] = now.Add(q.visibility)
	return next, nil
}

func (q *MemoryQueue) Extend(_ context.Context, key string, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, held := q.leased[key]; held {
		q.leased[key] = now.Add(q.visibility)
	}
	return nil
}

func (q *MemoryQueue) Complete(_ context.Context, job *domain.PipelineJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.jobs[job.Key] = *job
	delete(q.scheduled, job.Key)
	delete(q.leased, job.Key)
	return nil
}

func (q *MemoryQueue) Get(_ context.Context, key string) (*domain.PipelineJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[key]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

func (q *MemoryQueue) PurgeDocument(_ context.Context, documentID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for key := range q.scheduled {
		if belongsTo(key, documentID) {
			delete(q.scheduled, key)
			n++
		}
	}
	for key := range q.leased {
		if belongsTo(key, documentID) {
			delete(q.leased, key)
			n++
		}
	}
	return n, nil
}

// Scheduled returns the number of jobs waiting to run.
func (q *MemoryQueue) Scheduled() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.scheduled)
}

// Leased returns the number of dequeued jobs not yet settled.
func (q *MemoryQueue) Leased() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.leased)
}

// MemoryLocker is an in-process Locker. Expired locks may be taken over.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLock
	now   func() time.Time
}

type memoryLock struct {
	token   string
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]memoryLock), now: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.locks[key]; ok && now.Before(held.expires) {
		return "", domain.ErrLockNotAcquired
	}
	token := uuid.NewString()
	l.locks[key] = memoryLock{token: token, expires: now.Add(ttl)}
	return token, nil
}

func (l *MemoryLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if held, ok := l.locks[key]; ok && held.token == token {
		delete(l.locks, key)
	}
	return nil
}
