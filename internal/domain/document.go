package domain

import (
	"fmt"
	"strings"
	"time"
)

// Language is the declared language of a document. It drives OCR profiles,
// vision prompts and voice selection.
type Language string

const (
	LanguageHindi    Language = "hindi"
	LanguageEnglish  Language = "english"
	LanguageHinglish Language = "hinglish"
	LanguageUrdu     Language = "urdu"
	LanguageBengali  Language = "bengali"
	LanguageTamil    Language = "tamil"
	LanguageTelugu   Language = "telugu"
	LanguageMarathi  Language = "marathi"
	LanguageGujarati Language = "gujarati"
	LanguageOther    Language = "other"
)

// ParseLanguage maps free-form input onto a known language, defaulting to hindi.
func ParseLanguage(s string) Language {
	switch l := Language(strings.ToLower(strings.TrimSpace(s))); l {
	case LanguageHindi, LanguageEnglish, LanguageHinglish, LanguageUrdu, LanguageBengali,
		LanguageTamil, LanguageTelugu, LanguageMarathi, LanguageGujarati, LanguageOther:
		return l
	default:
		return LanguageHindi
	}
}

// DocumentStatus is the processing status of a whole document.
type DocumentStatus string

const (
	DocumentUploaded   DocumentStatus = "uploaded"
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

var documentTransitions = map[DocumentStatus][]DocumentStatus{
	DocumentUploaded:   {DocumentProcessing, DocumentFailed},
	DocumentProcessing: {DocumentCompleted, DocumentFailed},
	// A retried page finishing after completion re-aggregates in place.
	DocumentCompleted: {DocumentCompleted},
}

// CanTransition reports whether a document may move from s to next.
func (s DocumentStatus) CanTransition(next DocumentStatus) bool {
	for _, allowed := range documentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PageStatus is the processing status of a single page.
type PageStatus string

const (
	PagePending    PageStatus = "pending"
	PageProcessing PageStatus = "processing"
	PageCompleted  PageStatus = "completed"
	PageFailed     PageStatus = "failed"
)

var pageTransitions = map[PageStatus][]PageStatus{
	PagePending: {PageProcessing},
	// processing -> pending schedules a job retry while the budget lasts.
	PageProcessing: {PageCompleted, PageFailed, PagePending},
	// failed -> pending comes from the retry sweep, failed -> processing from
	// a job that finds a page failed by an earlier run.
	PageFailed: {PagePending, PageProcessing},
}

// CanTransition reports whether a page may move from s to next.
func (s PageStatus) CanTransition(next PageStatus) bool {
	for _, allowed := range pageTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends a processing attempt.
func (s PageStatus) IsTerminal() bool {
	return s == PageCompleted || s == PageFailed
}

// NoTextContent is stored on pages that were skipped because they had no text.
const NoTextContent = "No text content"

// Document is one uploaded work being converted to audio.
type Document struct {
	ID          string   `json:"id"`
	UploaderID  string   `json:"uploader_id"`
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	Description string   `json:"description,omitempty"`
	Genre       string   `json:"genre,omitempty"`
	Language    Language `json:"language"`

	PDFKey   string `json:"pdf_key,omitempty"`
	PDFURL   string `json:"pdf_file,omitempty"`
	CoverURL string `json:"cover_image,omitempty"`

	TotalPages    int            `json:"total_pages"`
	TotalDuration int            `json:"total_duration"`
	Status        DocumentStatus `json:"processing_status"`
	Progress      int            `json:"processing_progress"`
	Error         string         `json:"processing_error,omitempty"`

	IsPublic bool `json:"is_public"`
	IsActive bool `json:"is_active"`

	CreatedAt   time.Time  `json:"uploaded_at"`
	UpdatedAt   time.Time  `json:"modified_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Transition moves the document to next, bumping UpdatedAt.
func (d *Document) Transition(next DocumentStatus, now time.Time) error {
	if !d.Status.CanTransition(next) {
		return fmt.Errorf("%w: document %s %s -> %s", ErrInvalidTransition, d.ID, d.Status, next)
	}
	d.Status = next
	d.UpdatedAt = now
	return nil
}

// CanFail reports whether the document may still be failed.
func (s DocumentStatus) CanFail() bool {
	return s == DocumentUploaded || s == DocumentProcessing
}

// Fail marks the document failed with a stored reason.
func (d *Document) Fail(reason string, now time.Time) error {
	if err := d.Transition(DocumentFailed, now); err != nil {
		return err
	}
	d.Error = reason
	return nil
}

// Page is one unit of work within a Document.
type Page struct {
	ID            string     `json:"id,omitempty"`
	DocumentID    string     `json:"book_id"`
	Number        int        `json:"page_number"`
	Text          string     `json:"text_content"`
	AudioURL      string     `json:"audio_file,omitempty"`
	AudioDuration int        `json:"audio_duration"`
	Status        PageStatus `json:"processing_status"`
	Error         string     `json:"processing_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

// Transition moves the page to next, bumping UpdatedAt.
func (p *Page) Transition(next PageStatus, now time.Time) error {
	if !p.Status.CanTransition(next) {
		return fmt.Errorf("%w: page %s/%d %s -> %s", ErrInvalidTransition, p.DocumentID, p.Number, p.Status, next)
	}
	p.Status = next
	p.UpdatedAt = now
	return nil
}

// Complete records a successful synthesis (or a skip when url is empty).
func (p *Page) Complete(url string, duration int, now time.Time) error {
	if err := p.Transition(PageCompleted, now); err != nil {
		return err
	}
	p.AudioURL = url
	p.AudioDuration = duration
	p.Error = ""
	if url == "" && duration == 0 {
		p.Error = NoTextContent
	}
	p.ProcessedAt = &now
	return nil
}

// Fail marks the page failed with the error detail.
func (p *Page) Fail(reason string, now time.Time) error {
	if err := p.Transition(PageFailed, now); err != nil {
		return err
	}
	p.Error = reason
	return nil
}

// Retry returns a page to pending after a failed attempt that will be
// retried, keeping the error detail. The page stays non-terminal so the
// document cannot complete around it.
func (p *Page) Retry(reason string, now time.Time) error {
	if err := p.Transition(PagePending, now); err != nil {
		return err
	}
	p.Error = reason
	return nil
}

// HasText reports whether the page has anything to synthesize.
func (p *Page) HasText() bool {
	return strings.TrimSpace(p.Text) != ""
}

// Progress is floor(100 * completed / total). Zero pages yields zero.
func Progress(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return completed * 100 / total
}

// PageSummary folds page states into the aggregate the Document carries.
type PageSummary struct {
	Total         int
	Completed     int
	Failed        int
	TotalDuration int
}

// SummarizePages counts page outcomes.
func SummarizePages(pages []*Page) PageSummary {
	s := PageSummary{Total: len(pages)}
	for _, p := range pages {
		switch p.Status {
		case PageCompleted:
			s.Completed++
		case PageFailed:
			s.Failed++
		}
		s.TotalDuration += p.AudioDuration
	}
	return s
}

// AllTerminal reports whether no page is still pending or processing.
func (s PageSummary) AllTerminal() bool {
	return s.Completed+s.Failed == s.Total
}

// NoPagesMessage is stored on documents whose extraction produced nothing.
const NoPagesMessage = "Document has no pages"

// ApplySummary recomputes progress and, once every page is terminal, completes
// the document with the total duration. It never touches the Error field
// except for the zero-page case.
func (d *Document) ApplySummary(s PageSummary, now time.Time) error {
	if s.Total == 0 {
		if d.Status == DocumentFailed {
			return nil
		}
		return d.Fail(NoPagesMessage, now)
	}

	d.TotalPages = s.Total
	d.Progress = Progress(s.Completed, s.Total)
	d.TotalDuration = s.TotalDuration
	d.UpdatedAt = now

	if s.AllTerminal() && (d.Status == DocumentProcessing || d.Status == DocumentCompleted) {
		if err := d.Transition(DocumentCompleted, now); err != nil {
			return err
		}
		d.ProcessedAt = &now
	}
	return nil
}
