package service

import (
	"context"
	"time"

	"kitaabse-pipeline/internal/domain"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkerConcurrency = 4
	DefaultPollInterval      = time.Second
	// DefaultHeartbeatInterval renews job leases well inside the queue's
	// visibility timeout.
	DefaultHeartbeatInterval = time.Minute
)

// JobHandler executes one dequeued job, including its queue bookkeeping.
type JobHandler interface {
	HandleJob(ctx context.Context, job *domain.PipelineJob) error
}

// Worker polls the queue and runs due jobs with bounded concurrency.
type Worker struct {
	queue             domain.TaskQueue
	handler           JobHandler
	concurrency       int
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	logger            domain.Logger
	now               func() time.Time
}

func NewWorker(queue domain.TaskQueue, handler JobHandler, concurrency int, logger domain.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = DefaultWorkerConcurrency
	}
	return &Worker{
		queue:             queue,
		handler:           handler,
		concurrency:       concurrency,
		pollInterval:      DefaultPollInterval,
		heartbeatInterval: DefaultHeartbeatInterval,
		logger:            logger,
		now:               time.Now,
	}
}

// Run processes jobs until ctx is cancelled, then waits for in-flight jobs.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Worker started", "concurrency", w.concurrency)

	var g errgroup.Group
	g.SetLimit(w.concurrency)

	for ctx.Err() == nil {
		job, err := w.queue.Dequeue(ctx, w.now())
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.Error("Failed to dequeue job", err)
		}
		if job == nil {
			if err := sleepCtx(ctx, w.pollInterval); err != nil {
				break
			}
			continue
		}

		// Go blocks while the pool is full.
		g.Go(func() error {
			w.run(ctx, job)
			return nil
		})
	}

	_ = g.Wait()
	w.logger.Info("Worker stopped")
	return nil
}

// Drain runs every job due at the worker's current time and returns once the
// queue has nothing due. Jobs rescheduled into the future are left in place.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	var g errgroup.Group
	g.SetLimit(w.concurrency)

	n := 0
	for {
		if err := ctx.Err(); err != nil {
			_ = g.Wait()
			return n, err
		}
		job, err := w.queue.Dequeue(ctx, w.now())
		if err != nil {
			_ = g.Wait()
			return n, err
		}
		if job == nil {
			// In-flight jobs may enqueue more work.
			_ = g.Wait()
			job, err = w.queue.Dequeue(ctx, w.now())
			if err != nil {
				return n, err
			}
			if job == nil {
				return n, nil
			}
		}
		n++
		g.Go(func() error {
			w.run(ctx, job)
			return nil
		})
	}
}

func (w *Worker) run(ctx context.Context, job *domain.PipelineJob) {
	start := time.Now()
	stop := w.heartbeat(ctx, job.Key)
	err := w.handler.HandleJob(ctx, job)
	stop()
	if err != nil {
		w.logger.Warn("Job failed",
			"key", job.Key,
			"retries", job.Retries,
			"outcome", job.Outcome,
			"error", err,
		)
		return
	}
	w.logger.Debug("Job finished", "key", job.Key, "outcome", job.Outcome, "elapsed", time.Since(start))
}

// heartbeat extends the job's lease until the returned stop func is called.
// A worker that dies stops extending, and the job is delivered again.
func (w *Worker) heartbeat(ctx context.Context, key string) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.queue.Extend(ctx, key, w.now()); err != nil && ctx.Err() == nil {
					w.logger.Warn("Failed to extend job lease", "key", key, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
