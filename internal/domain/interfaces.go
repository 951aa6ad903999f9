package domain

import (
	"context"
	"io"
	"time"
)

// Logger defines the interface for logging operations
type Logger interface {
	Info(msg string, fields ...interface{})
	Error(msg string, err error, fields ...interface{})
	Debug(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
}

// Config defines the settings collaborators read at construction time
type Config interface {
	GetServerPort() string
	GetMaxFileSize() int64
	GetLogLevel() string
	GetSupabaseURL() string
	GetSupabaseKey() string
}

// ExtractedPage is one page of extraction output.
type ExtractedPage struct {
	Number int
	Text   string
}

// ExtractionResult is the output of a single extraction call.
type ExtractionResult struct {
	TotalPages int
	Pages      []ExtractedPage
	Title      string
	Author     string
}

// PageExtractor turns a PDF into ordered page text. Per-page failures yield
// empty text; only an unreadable document returns an error. progress may be nil.
type PageExtractor interface {
	Name() string
	Extract(ctx context.Context, pdf []byte, lang Language, progress chan<- PageProgress) (*ExtractionResult, error)
}

// SynthesisRequest describes one page worth of speech.
type SynthesisRequest struct {
	Text       string
	Language   Language
	Gender     string
	Rate       string
	Volume     string
	ScratchDir string
}

// SynthesisResult is the produced audio. Skipped results carry no audio.
type SynthesisResult struct {
	Skipped  bool
	Audio    []byte
	Duration int
	Voice    string
	Format   string
}

// Synthesizer turns page text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesisResult, error)
}

// DocumentRepository persists documents and pages. Pages are appended in one
// batch per document and never deleted or reordered.
type DocumentRepository interface {
	CreateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	// UpdateDocument writes a document's metadata and status. It never
	// touches the aggregate columns and never rewrites a failed document.
	UpdateDocument(ctx context.Context, doc *Document) error
	// FailDocument fails the document only while it is uploaded or
	// processing and, when updatedBefore is set, untouched since then. It
	// writes status, error and modified time only, and reports whether the
	// document was failed.
	FailDocument(ctx context.Context, id, reason string, updatedBefore time.Time) (bool, error)
	ListStaleDocuments(ctx context.Context, status DocumentStatus, updatedBefore time.Time) ([]*Document, error)

	CreatePages(ctx context.Context, pages []*Page) error
	GetPage(ctx context.Context, documentID string, number int) (*Page, error)
	ListPages(ctx context.Context, documentID string) ([]*Page, error)
	UpdatePage(ctx context.Context, page *Page) error
	ListFailedPagesSince(ctx context.Context, since time.Time) ([]*Page, error)

	// AggregateDocument recomputes progress, status and total duration from
	// the page set in one serialized read-modify-write.
	AggregateDocument(ctx context.Context, documentID string) (*Document, error)
}

// ObjectStorage stores binary assets under deterministic keys. Upload
// overwrites and returns a durable URL.
type ObjectStorage interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	Download(ctx context.Context, key string) ([]byte, error)
}

// TaskQueue holds pipeline jobs with delayed delivery.
type TaskQueue interface {
	// Enqueue schedules a job unless one with the same key is outstanding.
	Enqueue(ctx context.Context, job *PipelineJob) (bool, error)
	// Reschedule stores the job record, ends any lease and moves the job to
	// job.NextRunAt.
	Reschedule(ctx context.Context, job *PipelineJob) error
	// Dequeue leases one job whose NextRunAt is not after now, or returns
	// nil. A lease that is neither settled nor extended in time makes the job
	// due again, so delivery is at least once.
	Dequeue(ctx context.Context, now time.Time) (*PipelineJob, error)
	// Extend renews the lease of a dequeued job. It is a no-op once the job
	// was completed or rescheduled.
	Extend(ctx context.Context, key string, now time.Time) error
	// Complete stores the terminal record and drops the job from the queue.
	Complete(ctx context.Context, job *PipelineJob) error
	Get(ctx context.Context, key string) (*PipelineJob, error)
	// PurgeDocument drops every scheduled or leased job of a document.
	PurgeDocument(ctx context.Context, documentID string) (int, error)
}

// Locker provides a per-key mutual-exclusion token.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)
	Release(ctx context.Context, key, token string) error
}

// TokenValidator resolves a bearer token to a user.
type TokenValidator interface {
	ValidateToken(token string) (*User, error)
}

// User is the authenticated uploader.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}
