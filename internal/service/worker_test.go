package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"kitaabse-pipeline/internal/domain"
	"kitaabse-pipeline/internal/infra/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_Drain(t *testing.T) {
	f := newPipelineFixture(t, "ek", "do", "teen", "char")
	f.createDocument(t, "b1")
	_, err := f.queue.Enqueue(context.Background(), domain.NewExtractJob("b1", f.clock.Now()))
	require.NoError(t, err)

	w := NewWorker(f.queue, f.pipeline, 3, NewMockLogger())
	w.now = f.clock.Now

	n, err := w.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	doc := f.document(t, "b1")
	assert.Equal(t, domain.DocumentCompleted, doc.Status)
	assert.Equal(t, 100, doc.Progress)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	f := newPipelineFixture(t, "ek", "do")
	f.createDocument(t, "b1")
	_, err := f.queue.Enqueue(context.Background(), domain.NewExtractJob("b1", f.clock.Now()))
	require.NoError(t, err)

	w := NewWorker(f.queue, f.pipeline, 2, NewMockLogger())
	w.now = f.clock.Now
	w.pollInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		doc, err := f.repo.GetDocument(context.Background(), "b1")
		return err == nil && doc.Status == domain.DocumentCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

type extendCountingQueue struct {
	*queue.MemoryQueue
	mu      sync.Mutex
	extends []string
}

func (q *extendCountingQueue) Extend(ctx context.Context, key string, now time.Time) error {
	q.mu.Lock()
	q.extends = append(q.extends, key)
	q.mu.Unlock()
	return q.MemoryQueue.Extend(ctx, key, now)
}

func (q *extendCountingQueue) extended() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.extends)
}

type blockingHandler struct {
	release chan struct{}
}

func (h blockingHandler) HandleJob(ctx context.Context, job *domain.PipelineJob) error {
	<-h.release
	return nil
}

func TestWorker_ExtendsLeaseWhileJobRuns(t *testing.T) {
	q := &extendCountingQueue{MemoryQueue: queue.NewMemoryQueue()}
	h := blockingHandler{release: make(chan struct{})}
	w := NewWorker(q, h, 1, NewMockLogger())
	w.heartbeatInterval = 5 * time.Millisecond

	job := domain.NewPageJob("b1", 1, time.Now())
	done := make(chan struct{})
	go func() {
		w.run(context.Background(), job)
		close(done)
	}()

	require.Eventually(t, func() bool { return q.extended() >= 2 }, 2*time.Second, 5*time.Millisecond)
	close(h.release)
	<-done

	settled := q.extended()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, q.extended(), "heartbeat stops with the job")
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, key := range q.extends {
		assert.Equal(t, "page:b1:1", key)
	}
}
