package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"kitaabse-pipeline/internal/domain"

	"golang.org/x/sync/errgroup"
)

const (
	// StaleAfter is how long a document may sit in processing untouched.
	StaleAfter = 2 * time.Hour
	// RetryWindow limits the failed-page sweep to recently created pages.
	RetryWindow = 24 * time.Hour
	// StaleMessage is stored on documents failed by the staleness sweep.
	StaleMessage = "Processing timeout"

	sweepConcurrency = 4
)

// Sweeper fails stuck documents and gives recently failed pages another go.
type Sweeper struct {
	repo   domain.DocumentRepository
	queue  domain.TaskQueue
	logger domain.Logger
	now    func() time.Time
}

func NewSweeper(repo domain.DocumentRepository, queue domain.TaskQueue, logger domain.Logger) *Sweeper {
	return &Sweeper{repo: repo, queue: queue, logger: logger, now: time.Now}
}

// SweepStale fails documents stuck in processing and drops their queued jobs.
// A document that moved on after it was listed is left alone.
func (s *Sweeper) SweepStale(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-StaleAfter)
	docs, err := s.repo.ListStaleDocuments(ctx, domain.DocumentProcessing, cutoff)
	if err != nil {
		return 0, err
	}

	var swept atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, doc := range docs {
		g.Go(func() error {
			failed, err := s.repo.FailDocument(gctx, doc.ID, StaleMessage, cutoff)
			if errors.Is(err, domain.ErrDocumentNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if !failed {
				s.logger.Debug("Stale document moved on; skipping", "doc_id", doc.ID)
				return nil
			}
			purged, err := s.queue.PurgeDocument(gctx, doc.ID)
			if err != nil {
				return err
			}
			swept.Add(1)
			s.logger.Warn("Document timed out", "doc_id", doc.ID, "purged_jobs", purged)
			return nil
		})
	}
	err = g.Wait()
	return int(swept.Load()), err
}

// RetryFailedPages returns failed pages of live documents to pending and
// schedules a fresh job for each.
func (s *Sweeper) RetryFailedPages(ctx context.Context) (int, error) {
	now := s.now()
	pages, err := s.repo.ListFailedPagesSince(ctx, now.Add(-RetryWindow))
	if err != nil {
		return 0, err
	}

	live := map[string]bool{}
	retried := 0
	for _, page := range pages {
		ok, seen := live[page.DocumentID]
		if !seen {
			doc, err := s.repo.GetDocument(ctx, page.DocumentID)
			switch {
			case errors.Is(err, domain.ErrDocumentNotFound):
				ok = false
			case err != nil:
				return retried, err
			default:
				ok = doc.Status != domain.DocumentFailed
			}
			live[page.DocumentID] = ok
		}
		if !ok {
			continue
		}

		if err := page.Transition(domain.PagePending, now); err != nil {
			continue
		}
		if err := s.repo.UpdatePage(ctx, page); err != nil {
			return retried, err
		}
		if _, err := s.queue.Enqueue(ctx, domain.NewPageJob(page.DocumentID, page.Number, now)); err != nil {
			return retried, err
		}
		retried++
	}
	if retried > 0 {
		s.logger.Info("Retrying failed pages", "count", retried)
	}
	return retried, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.sweepOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	if n, err := s.SweepStale(ctx); err != nil {
		s.logger.Error("Stale sweep failed", err)
	} else if n > 0 {
		s.logger.Info("Stale documents failed", "count", n)
	}
	if _, err := s.RetryFailedPages(ctx); err != nil {
		s.logger.Error("Failed page sweep failed", err)
	}
}
