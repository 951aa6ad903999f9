package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"kitaabse-pipeline/internal/domain"
	apperrors "kitaabse-pipeline/pkg/errors"
)

const (
	// DefaultLockTTL bounds how long one worker may hold a page.
	DefaultLockTTL = 10 * time.Minute
	// DefaultLockRetryDelay reschedules a job whose page is held elsewhere.
	DefaultLockRetryDelay = 30 * time.Second

	audioContentType = "audio/mpeg"
)

// PipelineConfig carries the synthesis knobs applied to every page.
type PipelineConfig struct {
	Gender         string
	Rate           string
	Volume         string
	ScratchDir     string
	LockTTL        time.Duration
	LockRetryDelay time.Duration
}

// Pipeline turns a stored document into per-page audio, either inline for
// one streaming request or one queued job at a time.
type Pipeline struct {
	repo       domain.DocumentRepository
	extractor  domain.PageExtractor
	synth      domain.Synthesizer
	storage    domain.ObjectStorage
	queue      domain.TaskQueue
	locker     domain.Locker
	aggregator *Aggregator
	cfg        PipelineConfig
	logger     domain.Logger
	now        func() time.Time
}

// NewPipeline creates a pipeline. queue and locker may be nil when only the
// inline mode is used.
func NewPipeline(
	repo domain.DocumentRepository,
	extractor domain.PageExtractor,
	synth domain.Synthesizer,
	storage domain.ObjectStorage,
	queue domain.TaskQueue,
	locker domain.Locker,
	cfg PipelineConfig,
	logger domain.Logger,
) *Pipeline {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.LockRetryDelay <= 0 {
		cfg.LockRetryDelay = DefaultLockRetryDelay
	}
	return &Pipeline{
		repo:       repo,
		extractor:  extractor,
		synth:      synth,
		storage:    storage,
		queue:      queue,
		locker:     locker,
		aggregator: NewAggregator(repo, logger),
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// extract runs the configured strategy.
func (p *Pipeline) extract(
	ctx context.Context,
	doc *domain.Document,
	pdf []byte,
	progress chan<- domain.PageProgress,
) (*domain.ExtractionResult, error) {
	start := p.now()
	res, err := p.extractor.Extract(ctx, pdf, doc.Language, progress)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Text extracted",
		"doc_id", doc.ID,
		"strategy", p.extractor.Name(),
		"total_pages", res.TotalPages,
		"elapsed", time.Since(start),
	)
	return res, nil
}

// persistPages stores one pending page per extracted page in a single batch.
func (p *Pipeline) persistPages(ctx context.Context, doc *domain.Document, res *domain.ExtractionResult) ([]*domain.Page, error) {
	now := p.now()
	pages := make([]*domain.Page, 0, len(res.Pages))
	for _, ep := range res.Pages {
		pages = append(pages, &domain.Page{
			DocumentID: doc.ID,
			Number:     ep.Number,
			Text:       ep.Text,
			Status:     domain.PagePending,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	if err := p.repo.CreatePages(ctx, pages); err != nil {
		return nil, err
	}

	doc.TotalPages = len(pages)
	if doc.Author == "" && res.Author != "" {
		doc.Author = res.Author
	}
	doc.UpdatedAt = now
	if err := p.repo.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}
	return pages, nil
}

// synthesizePage moves page to processing and produces its audio. On error the
// page is left in processing for the caller to settle.
func (p *Pipeline) synthesizePage(ctx context.Context, doc *domain.Document, page *domain.Page) error {
	if err := p.claimPage(ctx, page); err != nil {
		return err
	}

	res, err := p.synth.Synthesize(ctx, domain.SynthesisRequest{
		Text:       page.Text,
		Language:   doc.Language,
		Gender:     p.cfg.Gender,
		Rate:       p.cfg.Rate,
		Volume:     p.cfg.Volume,
		ScratchDir: p.cfg.ScratchDir,
	})
	if err != nil {
		return err
	}

	url := ""
	duration := 0
	if !res.Skipped {
		url, err = p.storage.Upload(ctx, AudioKey(doc.ID, page.Number), bytes.NewReader(res.Audio), audioContentType)
		if err != nil {
			return err
		}
		duration = res.Duration
	}

	if err := page.Complete(url, duration, p.now()); err != nil {
		return err
	}
	if err := p.repo.UpdatePage(ctx, page); err != nil {
		return err
	}
	p.logger.Debug("Page synthesized",
		"doc_id", doc.ID,
		"page", page.Number,
		"skipped", res.Skipped,
		"duration", duration,
	)
	return nil
}

// claimPage brings a pending, failed or abandoned processing page to processing.
func (p *Pipeline) claimPage(ctx context.Context, page *domain.Page) error {
	now := p.now()
	if page.Status == domain.PageProcessing {
		if err := page.Transition(domain.PagePending, now); err != nil {
			return err
		}
	}
	if err := page.Transition(domain.PageProcessing, now); err != nil {
		return err
	}
	return p.repo.UpdatePage(ctx, page)
}

// failDocument fails the document unless it already reached a final state,
// then refreshes doc from the store. Errors are logged.
func (p *Pipeline) failDocument(ctx context.Context, doc *domain.Document, reason string) {
	if doc.Status == domain.DocumentFailed {
		return
	}
	failed, err := p.repo.FailDocument(ctx, doc.ID, reason, time.Time{})
	if err != nil {
		p.logger.Error("Failed to mark document failed", err, "doc_id", doc.ID)
		return
	}
	if !failed {
		p.logger.Warn("Document already final; not failing", "doc_id", doc.ID, "reason", reason)
	}

	current, err := p.repo.GetDocument(ctx, doc.ID)
	if err != nil {
		p.logger.Warn("Failed to reload document", "doc_id", doc.ID, "error", err)
		if failed {
			doc.Status = domain.DocumentFailed
			doc.Error = reason
		}
		return
	}
	*doc = *current
}

// startDocument moves an uploaded document to processing.
func (p *Pipeline) startDocument(ctx context.Context, doc *domain.Document) error {
	if doc.Status == domain.DocumentProcessing {
		return nil
	}
	if err := doc.Transition(domain.DocumentProcessing, p.now()); err != nil {
		return err
	}
	doc.Error = ""
	return p.repo.UpdateDocument(ctx, doc)
}

// RunInline processes doc sequentially and reports every stage on events. The
// channel receives exactly one completed or error event and is then closed.
// ctx only gates event delivery: once started, the stages run to the end even
// if the listener goes away.
func (p *Pipeline) RunInline(ctx context.Context, doc *domain.Document, pdf []byte, events chan<- domain.ProgressEvent) {
	defer close(events)
	work := context.WithoutCancel(ctx)

	emit := func(kind domain.EventKind, data interface{}) {
		select {
		case events <- domain.ProgressEvent{Kind: kind, Data: data}:
		case <-ctx.Done():
		}
	}
	abort := func(short, reason string) {
		p.failDocument(work, doc, reason)
		emit(domain.EventError, domain.ErrorPayload{Error: short, Details: doc.Error})
	}

	emit(domain.EventStatus, domain.StatusPayload{Message: "File uploaded successfully. Starting text extraction..."})
	if err := p.startDocument(work, doc); err != nil {
		abort("Processing failed", fmt.Sprintf("Failed to start processing: %v", err))
		return
	}

	emit(domain.EventProcessingStarted, domain.StageStartedPayload{
		TotalPages: doc.TotalPages,
		Message:    fmt.Sprintf("Processing %d pages with %s extraction", doc.TotalPages, p.extractor.Name()),
	})

	res, err := p.extractInline(work, doc, pdf, emit)
	if err != nil {
		abort("Text extraction failed", fmt.Sprintf("Text extraction failed: %v", err))
		return
	}

	emit(domain.EventProcessingCompleted, domain.StageStartedPayload{
		TotalPages: res.TotalPages,
		Message:    fmt.Sprintf("Text extraction completed. Creating %d page records...", res.TotalPages),
	})

	pages, err := p.persistPages(work, doc, res)
	if err != nil {
		abort("Processing failed", fmt.Sprintf("Failed to store pages: %v", err))
		return
	}

	emit(domain.EventAudioGenerationStarted, domain.StageStartedPayload{
		TotalPages: len(pages),
		Message:    fmt.Sprintf("Starting audio generation for %d pages", len(pages)),
	})

	for i, page := range pages {
		if err := p.synthesizePage(work, doc, page); err != nil {
			p.logger.Warn("Page synthesis failed", "doc_id", doc.ID, "page", page.Number, "error", err)
			if page.Status != domain.PageProcessing {
				abort("Processing failed", fmt.Sprintf("Failed to store page %d: %v", page.Number, err))
				return
			}
			_ = page.Fail(err.Error(), p.now())
			if uerr := p.repo.UpdatePage(work, page); uerr != nil {
				abort("Processing failed", fmt.Sprintf("Failed to store page %d: %v", page.Number, uerr))
				return
			}
		}

		progress := domain.Progress(i+1, len(pages))
		if agg, err := p.aggregator.Refresh(work, doc.ID); err != nil {
			p.logger.Warn("Failed to aggregate document", "doc_id", doc.ID, "page", page.Number, "error", err)
		} else {
			progress = agg.Progress
		}
		emit(domain.EventAudioProgress, domain.AudioProgressPayload{
			CurrentPage: page.Number,
			TotalPages:  len(pages),
			Progress:    progress,
			Status:      page.Status,
			Duration:    page.AudioDuration,
		})
	}

	final, err := p.aggregator.Refresh(work, doc.ID)
	if err != nil {
		abort("Processing failed", fmt.Sprintf("Failed to finalize document: %v", err))
		return
	}
	*doc = *final
	if doc.Status == domain.DocumentFailed {
		emit(domain.EventError, domain.ErrorPayload{Error: "Processing failed", Details: doc.Error})
		return
	}

	emit(domain.EventCompleted, domain.CompletedPayload{
		BookID:        doc.ID,
		Title:         doc.Title,
		Author:        doc.Author,
		TotalPages:    doc.TotalPages,
		TotalDuration: doc.TotalDuration,
		Message:       "Processing completed successfully!",
	})
}

// extractInline forwards extractor progress as page_progress events while the
// extraction runs.
func (p *Pipeline) extractInline(
	ctx context.Context,
	doc *domain.Document,
	pdf []byte,
	emit func(domain.EventKind, interface{}),
) (*domain.ExtractionResult, error) {
	progress := make(chan domain.PageProgress)
	var (
		res *domain.ExtractionResult
		err error
	)
	go func() {
		defer close(progress)
		res, err = p.extract(ctx, doc, pdf, progress)
	}()

	for pp := range progress {
		emit(domain.EventPageProgress, domain.PageProgressPayload{
			CurrentPage:    pp.Page,
			TotalPages:     pp.Total,
			Progress:       domain.Progress(pp.Page, pp.Total),
			Message:        fmt.Sprintf("Processing page %d of %d", pp.Page, pp.Total),
			ExtractedChars: pp.Chars,
		})
	}
	return res, err
}

// HandleJob runs one queued job and books its outcome on the queue.
func (p *Pipeline) HandleJob(ctx context.Context, job *domain.PipelineJob) error {
	switch job.Kind {
	case domain.JobExtract:
		return p.handleExtract(ctx, job)
	case domain.JobSynthesize:
		return p.handleSynthesize(ctx, job)
	default:
		job.Finish(domain.JobAbandoned, p.now())
		if err := p.queue.Complete(ctx, job); err != nil {
			return err
		}
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func (p *Pipeline) finishJob(ctx context.Context, job *domain.PipelineJob, outcome domain.JobOutcome) error {
	job.Finish(outcome, p.now())
	if err := p.queue.Complete(ctx, job); err != nil {
		return fmt.Errorf("complete job %s: %w", job.Key, err)
	}
	return nil
}

// loadLiveDocument returns nil when the document is gone or already failed.
func (p *Pipeline) loadLiveDocument(ctx context.Context, id string) (*domain.Document, error) {
	doc, err := p.repo.GetDocument(ctx, id)
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if doc.Status == domain.DocumentFailed {
		return nil, nil
	}
	return doc, nil
}

func (p *Pipeline) handleExtract(ctx context.Context, job *domain.PipelineJob) error {
	doc, err := p.loadLiveDocument(ctx, job.DocumentID)
	if err != nil {
		return p.retryExtract(ctx, job, nil, err)
	}
	if doc == nil {
		p.logger.Info("Abandoning extraction of missing or failed document", "doc_id", job.DocumentID)
		return p.finishJob(ctx, job, domain.JobAbandoned)
	}
	if doc.Status == domain.DocumentCompleted {
		return p.finishJob(ctx, job, domain.JobSucceeded)
	}
	if err := p.startDocument(ctx, doc); err != nil {
		return p.retryExtract(ctx, job, doc, err)
	}

	pages, err := p.repo.ListPages(ctx, doc.ID)
	if err != nil {
		return p.retryExtract(ctx, job, doc, err)
	}

	if len(pages) == 0 {
		pdf, err := p.storage.Download(ctx, doc.PDFKey)
		if err != nil {
			if errors.Is(err, domain.ErrObjectNotFound) {
				p.failDocument(ctx, doc, fmt.Sprintf("Source PDF missing: %v", err))
				return p.finishJob(ctx, job, domain.JobFailed)
			}
			return p.retryExtract(ctx, job, doc, err)
		}

		res, err := p.extract(ctx, doc, pdf, nil)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidDocument) {
				p.failDocument(ctx, doc, fmt.Sprintf("Text extraction failed: %v", err))
				return p.finishJob(ctx, job, domain.JobFailed)
			}
			return p.retryExtract(ctx, job, doc, err)
		}

		pages, err = p.persistPages(ctx, doc, res)
		if err != nil {
			return p.retryExtract(ctx, job, doc, err)
		}
	}

	if len(pages) == 0 {
		if _, err := p.aggregator.Refresh(ctx, doc.ID); err != nil {
			p.logger.Error("Failed to aggregate empty document", err, "doc_id", doc.ID)
		}
		return p.finishJob(ctx, job, domain.JobSucceeded)
	}

	now := p.now()
	scheduled := 0
	for _, page := range pages {
		if page.Status == domain.PageCompleted {
			continue
		}
		added, err := p.queue.Enqueue(ctx, domain.NewPageJob(doc.ID, page.Number, now))
		if err != nil {
			return p.retryExtract(ctx, job, doc, err)
		}
		if added {
			scheduled++
		}
	}
	p.logger.Info("Page jobs scheduled", "doc_id", doc.ID, "pages", len(pages), "scheduled", scheduled)
	return p.finishJob(ctx, job, domain.JobSucceeded)
}

func (p *Pipeline) retryExtract(ctx context.Context, job *domain.PipelineJob, doc *domain.Document, cause error) error {
	if job.RecordFailure(cause, p.now()) {
		p.logger.Warn("Extraction failed; retrying",
			"doc_id", job.DocumentID,
			"retries", job.Retries,
			"next_run_at", job.NextRunAt,
			"error", cause,
		)
		if err := p.queue.Reschedule(ctx, job); err != nil {
			return fmt.Errorf("reschedule %s: %w", job.Key, err)
		}
		return cause
	}

	p.logger.Error("Extraction failed permanently", cause, "doc_id", job.DocumentID, "retries", job.Retries)
	if doc != nil {
		p.failDocument(ctx, doc, fmt.Sprintf("Text extraction failed: %v", cause))
	}
	if err := p.queue.Complete(ctx, job); err != nil {
		return fmt.Errorf("complete job %s: %w", job.Key, err)
	}
	return cause
}

func (p *Pipeline) handleSynthesize(ctx context.Context, job *domain.PipelineJob) error {
	doc, err := p.loadLiveDocument(ctx, job.DocumentID)
	if err != nil {
		return p.deferJob(ctx, job, err)
	}
	if doc == nil {
		p.logger.Info("Abandoning page of missing or failed document", "doc_id", job.DocumentID, "page", job.PageNumber)
		return p.finishJob(ctx, job, domain.JobAbandoned)
	}

	page, err := p.repo.GetPage(ctx, doc.ID, job.PageNumber)
	if errors.Is(err, domain.ErrPageNotFound) {
		return p.finishJob(ctx, job, domain.JobAbandoned)
	}
	if err != nil {
		return p.deferJob(ctx, job, err)
	}
	if page.Status == domain.PageCompleted {
		return p.finishJob(ctx, job, domain.JobSucceeded)
	}

	token, err := p.locker.Acquire(ctx, job.Key, p.cfg.LockTTL)
	if errors.Is(err, domain.ErrLockNotAcquired) {
		p.logger.Debug("Page locked elsewhere; deferring", "doc_id", doc.ID, "page", page.Number)
		job.Defer(p.cfg.LockRetryDelay, p.now())
		return p.queue.Reschedule(ctx, job)
	}
	if err != nil {
		return p.deferJob(ctx, job, err)
	}
	defer func() {
		if err := p.locker.Release(context.WithoutCancel(ctx), job.Key, token); err != nil {
			p.logger.Warn("Failed to release page lock", "key", job.Key, "error", err)
		}
	}()

	// Re-read under the lock: another worker may have finished the page.
	page, err = p.repo.GetPage(ctx, doc.ID, job.PageNumber)
	if err != nil {
		return p.deferJob(ctx, job, err)
	}
	if page.Status == domain.PageCompleted {
		return p.finishJob(ctx, job, domain.JobSucceeded)
	}

	if err := p.synthesizePage(ctx, doc, page); err != nil {
		return p.settleFailedPage(ctx, job, page, err)
	}

	if _, err := p.aggregator.Refresh(ctx, doc.ID); err != nil {
		p.logger.Error("Failed to aggregate document", err, "doc_id", doc.ID)
	}
	return p.finishJob(ctx, job, domain.JobSucceeded)
}

// settleFailedPage books a synthesis failure. While retries remain the page
// goes back to pending with the error detail and the job is rescheduled with
// backoff. Once the budget is spent the page is failed and the document is
// re-aggregated.
func (p *Pipeline) settleFailedPage(ctx context.Context, job *domain.PipelineJob, page *domain.Page, cause error) error {
	now := p.now()
	retry := job.RecordFailure(cause, now)

	if page.Status == domain.PageProcessing {
		var err error
		if retry {
			err = page.Retry(cause.Error(), now)
		} else {
			err = page.Fail(cause.Error(), now)
		}
		if err != nil {
			return err
		}
		if err := p.repo.UpdatePage(ctx, page); err != nil {
			p.logger.Error("Failed to store page failure", err, "doc_id", page.DocumentID, "page", page.Number)
		}
	}

	if retry {
		p.logger.Warn("Page synthesis failed; retrying",
			"doc_id", page.DocumentID,
			"page", page.Number,
			"retries", job.Retries,
			"rate_limited", apperrors.IsRateLimited(cause),
			"next_run_at", job.NextRunAt,
			"error", cause,
		)
		if err := p.queue.Reschedule(ctx, job); err != nil {
			return fmt.Errorf("reschedule %s: %w", job.Key, err)
		}
		return cause
	}

	p.logger.Error("Page synthesis failed permanently", cause, "doc_id", page.DocumentID, "page", page.Number)
	if err := p.queue.Complete(ctx, job); err != nil {
		return fmt.Errorf("complete job %s: %w", job.Key, err)
	}
	if _, err := p.aggregator.Refresh(ctx, page.DocumentID); err != nil {
		p.logger.Error("Failed to aggregate document", err, "doc_id", page.DocumentID)
	}
	return cause
}

// deferJob retries a job after an infrastructure error using the job backoff.
func (p *Pipeline) deferJob(ctx context.Context, job *domain.PipelineJob, cause error) error {
	if job.RecordFailure(cause, p.now()) {
		if err := p.queue.Reschedule(ctx, job); err != nil {
			return fmt.Errorf("reschedule %s: %w", job.Key, err)
		}
		return cause
	}
	if err := p.queue.Complete(ctx, job); err != nil {
		return fmt.Errorf("complete job %s: %w", job.Key, err)
	}
	return cause
}
