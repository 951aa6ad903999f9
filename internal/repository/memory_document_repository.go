package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"kitaabse-pipeline/internal/domain"
)

// MemoryDocumentRepository keeps documents and pages in process. One mutex
// serializes every call, which makes AggregateDocument atomic.
type MemoryDocumentRepository struct {
	mu        sync.Mutex
	documents map[string]*domain.Document
	pages     map[string]map[int]*domain.Page
	now       func() time.Time
}

func NewMemoryDocumentRepository() *MemoryDocumentRepository {
	return &MemoryDocumentRepository{
		documents: make(map[string]*domain.Document),
		pages:     make(map[string]map[int]*domain.Page),
		now:       time.Now,
	}
}

func (r *MemoryDocumentRepository) CreateDocument(_ context.Context, doc *domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if doc.ID == "" {
		return fmt.Errorf("document ID is required")
	}
	if _, exists := r.documents[doc.ID]; exists {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	cp := *doc
	r.documents[doc.ID] = &cp
	return nil
}

func (r *MemoryDocumentRepository) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.documents[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	cp := *doc
	return &cp, nil
}

func (r *MemoryDocumentRepository) UpdateDocument(_ context.Context, doc *domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.documents[doc.ID]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	if stored.Status == domain.DocumentFailed {
		return nil
	}
	cp := *doc
	cp.Progress = stored.Progress
	cp.TotalDuration = stored.TotalDuration
	cp.ProcessedAt = stored.ProcessedAt
	r.documents[doc.ID] = &cp
	return nil
}

func (r *MemoryDocumentRepository) FailDocument(_ context.Context, id, reason string, updatedBefore time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.documents[id]
	if !ok {
		return false, domain.ErrDocumentNotFound
	}
	if !doc.Status.CanFail() {
		return false, nil
	}
	if !updatedBefore.IsZero() && !doc.UpdatedAt.Before(updatedBefore) {
		return false, nil
	}
	if err := doc.Fail(reason, r.now()); err != nil {
		return false, err
	}
	return true, nil
}

func (r *MemoryDocumentRepository) ListStaleDocuments(
	_ context.Context,
	status domain.DocumentStatus,
	updatedBefore time.Time,
) ([]*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.Document
	for _, doc := range r.documents {
		if doc.Status == status && doc.UpdatedAt.Before(updatedBefore) {
			cp := *doc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryDocumentRepository) CreatePages(_ context.Context, pages []*domain.Page) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range pages {
		if existing, ok := r.pages[p.DocumentID]; ok {
			if _, dup := existing[p.Number]; dup {
				return fmt.Errorf("page %s/%d already exists", p.DocumentID, p.Number)
			}
		}
	}
	for _, p := range pages {
		if r.pages[p.DocumentID] == nil {
			r.pages[p.DocumentID] = make(map[int]*domain.Page)
		}
		cp := *p
		r.pages[p.DocumentID][p.Number] = &cp
	}
	return nil
}

func (r *MemoryDocumentRepository) GetPage(_ context.Context, documentID string, number int) (*domain.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pages[documentID][number]
	if !ok {
		return nil, domain.ErrPageNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryDocumentRepository) ListPages(_ context.Context, documentID string) ([]*domain.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listPagesLocked(documentID), nil
}

func (r *MemoryDocumentRepository) listPagesLocked(documentID string) []*domain.Page {
	out := make([]*domain.Page, 0, len(r.pages[documentID]))
	for _, p := range r.pages[documentID] {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func (r *MemoryDocumentRepository) UpdatePage(_ context.Context, page *domain.Page) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pages[page.DocumentID][page.Number]; !ok {
		return domain.ErrPageNotFound
	}
	cp := *page
	r.pages[page.DocumentID][page.Number] = &cp
	return nil
}

func (r *MemoryDocumentRepository) ListFailedPagesSince(_ context.Context, since time.Time) ([]*domain.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.Page
	for _, pages := range r.pages {
		for _, p := range pages {
			if p.Status == domain.PageFailed && !p.CreatedAt.Before(since) {
				cp := *p
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].Number < out[j].Number
	})
	return out, nil
}

func (r *MemoryDocumentRepository) AggregateDocument(_ context.Context, documentID string) (*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.documents[documentID]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	summary := domain.SummarizePages(r.listPagesLocked(documentID))
	if err := doc.ApplySummary(summary, r.now()); err != nil {
		return nil, err
	}
	cp := *doc
	return &cp, nil
}
