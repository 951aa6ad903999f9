package domain

import (
	"fmt"
	"time"
)

// JobKind distinguishes the two queued task types.
type JobKind string

const (
	JobExtract    JobKind = "extract"
	JobSynthesize JobKind = "synthesize"
)

// JobOutcome is the last known result of a job.
type JobOutcome string

const (
	JobPending   JobOutcome = "pending"
	JobRetrying  JobOutcome = "retrying"
	JobSucceeded JobOutcome = "succeeded"
	JobFailed    JobOutcome = "failed"
	JobAbandoned JobOutcome = "abandoned"
)

const (
	// DefaultMaxRetries is the retry budget shared by rate-limit and other errors.
	DefaultMaxRetries = 3
	// BaseBackoff is multiplied by 3^retries: 60s, 180s, 540s.
	BaseBackoff = 60 * time.Second
)

// PipelineJob is one unit of scheduled work keyed by document and page. It
// carries its own retry bookkeeping independent of the broker.
type PipelineJob struct {
	Key        string     `json:"key"`
	Kind       JobKind    `json:"kind"`
	DocumentID string     `json:"document_id"`
	PageNumber int        `json:"page_number,omitempty"`
	Retries    int        `json:"retries"`
	MaxRetries int        `json:"max_retries"`
	NextRunAt  time.Time  `json:"next_run_at"`
	Outcome    JobOutcome `json:"outcome"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ExtractJobKey returns the queue key of a document's extraction job.
func ExtractJobKey(documentID string) string {
	return fmt.Sprintf("extract:%s", documentID)
}

// PageJobKey returns the queue key of a page's synthesis job.
func PageJobKey(documentID string, page int) string {
	return fmt.Sprintf("page:%s:%d", documentID, page)
}

// NewExtractJob schedules extraction for a document, runnable immediately.
func NewExtractJob(documentID string, now time.Time) *PipelineJob {
	return &PipelineJob{
		Key:        ExtractJobKey(documentID),
		Kind:       JobExtract,
		DocumentID: documentID,
		MaxRetries: DefaultMaxRetries,
		NextRunAt:  now,
		Outcome:    JobPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// NewPageJob schedules synthesis for one page, runnable immediately.
func NewPageJob(documentID string, page int, now time.Time) *PipelineJob {
	return &PipelineJob{
		Key:        PageJobKey(documentID, page),
		Kind:       JobSynthesize,
		DocumentID: documentID,
		PageNumber: page,
		MaxRetries: DefaultMaxRetries,
		NextRunAt:  now,
		Outcome:    JobPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Backoff returns the delay before retry number retries+1.
func Backoff(retries int) time.Duration {
	d := BaseBackoff
	for i := 0; i < retries; i++ {
		d *= 3
	}
	return d
}

// CanRetry reports whether the retry budget has room left.
func (j *PipelineJob) CanRetry() bool {
	return j.Retries < j.MaxRetries
}

// RecordFailure books a failed attempt. When retries remain the job is moved
// to retrying with NextRunAt pushed out by the backoff and true is returned;
// otherwise the job is failed for good.
func (j *PipelineJob) RecordFailure(err error, now time.Time) bool {
	j.UpdatedAt = now
	if err != nil {
		j.LastError = err.Error()
	}
	if !j.CanRetry() {
		j.Outcome = JobFailed
		return false
	}
	j.NextRunAt = now.Add(Backoff(j.Retries))
	j.Retries++
	j.Outcome = JobRetrying
	return true
}

// Defer pushes the job out without consuming a retry, used when another
// worker holds the page.
func (j *PipelineJob) Defer(d time.Duration, now time.Time) {
	j.NextRunAt = now.Add(d)
	j.UpdatedAt = now
}

// Finish records a terminal outcome.
func (j *PipelineJob) Finish(outcome JobOutcome, now time.Time) {
	j.Outcome = outcome
	j.UpdatedAt = now
}
