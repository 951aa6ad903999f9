package domain

// EventKind names a progress stream event.
type EventKind string

const (
	EventStatus                 EventKind = "status"
	EventUploadProgress         EventKind = "upload_progress"
	EventProcessingStarted      EventKind = "processing_started"
	EventPageProgress           EventKind = "page_progress"
	EventProcessingCompleted    EventKind = "processing_completed"
	EventAudioGenerationStarted EventKind = "audio_generation_started"
	EventAudioProgress          EventKind = "audio_progress"
	EventCompleted              EventKind = "completed"
	EventError                  EventKind = "error"
)

// ProgressEvent is one entry of the one-way progress stream.
type ProgressEvent struct {
	Kind EventKind
	Data interface{}
}

// IsTerminal reports whether the event ends the stream.
func (e ProgressEvent) IsTerminal() bool {
	return e.Kind == EventCompleted || e.Kind == EventError
}

type StatusPayload struct {
	Message string `json:"message"`
}

// UploadProgressPayload reports how much of the upload has been stored.
type UploadProgressPayload struct {
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

type StageStartedPayload struct {
	TotalPages int    `json:"total_pages"`
	Message    string `json:"message"`
}

type PageProgressPayload struct {
	CurrentPage    int    `json:"current_page"`
	TotalPages     int    `json:"total_pages"`
	Progress       int    `json:"progress"`
	Message        string `json:"message"`
	ExtractedChars int    `json:"extracted_chars"`
}

type AudioProgressPayload struct {
	CurrentPage int        `json:"current_page"`
	TotalPages  int        `json:"total_pages"`
	Progress    int        `json:"progress"`
	Status      PageStatus `json:"status"`
	Duration    int        `json:"duration"`
}

type CompletedPayload struct {
	BookID        string `json:"book_id"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	TotalPages    int    `json:"total_pages"`
	TotalDuration int    `json:"total_duration"`
	Message       string `json:"message"`
}

// ErrorPayload carries a short reason and the stored detail string.
type ErrorPayload struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// PageProgress is emitted by extractors after each page.
type PageProgress struct {
	Page  int
	Total int
	Chars int
}
