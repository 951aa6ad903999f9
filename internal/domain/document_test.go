package domain

import (
	"errors"
	"testing"
	"time"
)

// TestPageStatus_CanTransition checks the page lifecycle table.
// It tests:
// - The forward path pending -> processing -> completed/failed
// - The processing -> pending back-edge used for rate-limit retries
// - Sweep and job retries leaving failed
// - Illegal jumps
func TestPageStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from PageStatus
		to   PageStatus
		want bool
	}{
		{PagePending, PageProcessing, true},
		{PageProcessing, PageCompleted, true},
		{PageProcessing, PageFailed, true},
		{PageProcessing, PagePending, true},
		{PageFailed, PagePending, true},
		{PageFailed, PageProcessing, true},
		{PagePending, PageCompleted, false},
		{PagePending, PageFailed, false},
		{PageCompleted, PagePending, false},
		{PageCompleted, PageProcessing, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestDocumentStatus_CanTransition checks the document lifecycle table.
func TestDocumentStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from DocumentStatus
		to   DocumentStatus
		want bool
	}{
		{DocumentUploaded, DocumentProcessing, true},
		{DocumentUploaded, DocumentFailed, true},
		{DocumentProcessing, DocumentCompleted, true},
		{DocumentProcessing, DocumentFailed, true},
		{DocumentCompleted, DocumentCompleted, true},
		{DocumentUploaded, DocumentCompleted, false},
		{DocumentFailed, DocumentProcessing, false},
		{DocumentCompleted, DocumentProcessing, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPage_TransitionRejectsIllegalMove(t *testing.T) {
	p := &Page{DocumentID: "doc", Number: 1, Status: PagePending}
	err := p.Complete("https://cdn/audio.mp3", 12, time.Now())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if p.Status != PagePending {
		t.Fatalf("status changed on rejected transition: %s", p.Status)
	}
}

func TestPage_CompleteSkipped(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := &Page{DocumentID: "doc", Number: 1, Status: PageProcessing, Text: "  \n\t"}

	if p.HasText() {
		t.Fatal("whitespace-only page should have no text")
	}
	if err := p.Complete("", 0, now); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if p.Status != PageCompleted || p.AudioDuration != 0 || p.Error != NoTextContent {
		t.Fatalf("unexpected skipped page: %+v", p)
	}
	if p.ProcessedAt == nil || !p.ProcessedAt.Equal(now) {
		t.Fatalf("ProcessedAt not set")
	}
}

func TestPage_RetryKeepsErrorDetail(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := &Page{DocumentID: "doc", Number: 2, Status: PageProcessing}

	if err := p.Retry("tts: connection reset", now); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if p.Status != PagePending || p.Error != "tts: connection reset" || !p.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected retried page: %+v", p)
	}
	if p.Status.IsTerminal() {
		t.Fatal("a page awaiting retry must not count as settled")
	}

	done := &Page{DocumentID: "doc", Number: 3, Status: PageCompleted}
	if err := done.Retry("late", now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if done.Error != "" {
		t.Fatalf("rejected retry wrote error %q", done.Error)
	}
}

func TestDocumentStatus_CanFail(t *testing.T) {
	tests := map[DocumentStatus]bool{
		DocumentUploaded:   true,
		DocumentProcessing: true,
		DocumentCompleted:  false,
		DocumentFailed:     false,
	}
	for status, want := range tests {
		if got := status.CanFail(); got != want {
			t.Errorf("%s.CanFail() = %v, want %v", status, got, want)
		}
	}
}

func TestProgress(t *testing.T) {
	tests := []struct {
		completed, total, want int
	}{
		{0, 10, 0},
		{9, 10, 90},
		{1, 3, 33},
		{2, 3, 66},
		{3, 3, 100},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := Progress(tt.completed, tt.total); got != tt.want {
			t.Errorf("Progress(%d, %d) = %d, want %d", tt.completed, tt.total, got, tt.want)
		}
	}
}

// TestDocument_ApplySummary covers aggregation outcomes.
// It tests:
// - A page still in flight keeps the document processing
// - A permanently failed page does not block completion and leaves Error empty
// - Zero pages is an explicit failure
func TestDocument_ApplySummary(t *testing.T) {
	now := time.Now()

	t.Run("in flight", func(t *testing.T) {
		d := &Document{ID: "d", Status: DocumentProcessing}
		pages := []*Page{
			{Status: PageCompleted, AudioDuration: 10},
			{Status: PageProcessing},
		}
		if err := d.ApplySummary(SummarizePages(pages), now); err != nil {
			t.Fatal(err)
		}
		if d.Status != DocumentProcessing || d.Progress != 50 {
			t.Fatalf("got status=%s progress=%d", d.Status, d.Progress)
		}
	})

	t.Run("one page failed of ten", func(t *testing.T) {
		d := &Document{ID: "d", Status: DocumentProcessing}
		var pages []*Page
		for i := 1; i <= 10; i++ {
			p := &Page{Number: i, Status: PageCompleted, AudioDuration: 5}
			if i == 7 {
				p = &Page{Number: i, Status: PageFailed, Error: "tts down"}
			}
			pages = append(pages, p)
		}
		if err := d.ApplySummary(SummarizePages(pages), now); err != nil {
			t.Fatal(err)
		}
		if d.Status != DocumentCompleted {
			t.Fatalf("expected completed, got %s", d.Status)
		}
		if d.Progress != 90 {
			t.Fatalf("expected progress 90, got %d", d.Progress)
		}
		if d.TotalDuration != 45 {
			t.Fatalf("expected duration 45, got %d", d.TotalDuration)
		}
		if d.Error != "" {
			t.Fatalf("page failure must not set document error, got %q", d.Error)
		}
	})

	t.Run("zero pages", func(t *testing.T) {
		d := &Document{ID: "d", Status: DocumentProcessing}
		if err := d.ApplySummary(SummarizePages(nil), now); err != nil {
			t.Fatal(err)
		}
		if d.Status != DocumentFailed || d.Error != NoPagesMessage {
			t.Fatalf("expected failed with %q, got %s %q", NoPagesMessage, d.Status, d.Error)
		}
	})
}

func TestParseLanguage(t *testing.T) {
	if got := ParseLanguage(" Tamil "); got != LanguageTamil {
		t.Fatalf("got %s", got)
	}
	if got := ParseLanguage("klingon"); got != LanguageHindi {
		t.Fatalf("unknown language should default to hindi, got %s", got)
	}
}
