package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"kitaabse-pipeline/internal/domain"

	"github.com/supabase-community/postgrest-go"
)

const (
	booksTable      = "books"
	pagesTable      = "book_pages"
	aggregateFunc   = "aggregate_document_progress"
	failFunc        = "fail_document"
	timestampLayout = time.RFC3339Nano
)

// RestClient is satisfied by both *supabase.Client and *postgrest.Client.
type RestClient interface {
	From(table string) *postgrest.QueryBuilder
	Rpc(name string, count string, rpcBody interface{}) string
}

// SupabaseDocumentRepository implements domain.DocumentRepository over PostgREST
type SupabaseDocumentRepository struct {
	client RestClient
	logger domain.Logger
}

// NewSupabaseDocumentRepository creates a new Supabase document repository
func NewSupabaseDocumentRepository(client RestClient, logger domain.Logger) *SupabaseDocumentRepository {
	return &SupabaseDocumentRepository{
		client: client,
		logger: logger,
	}
}

// CreateDocument inserts a new book row
func (r *SupabaseDocumentRepository) CreateDocument(ctx context.Context, doc *domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := r.client.From(booksTable).Insert(doc, false, "", "", "").Execute()
	if err != nil {
		r.logger.Error("Failed to insert document in Supabase", err, "doc_id", doc.ID)
		return fmt.Errorf("failed to create document: %w", err)
	}
	r.logger.Info("Document created", "id", doc.ID, "uploader_id", doc.UploaderID)
	return nil
}

// GetDocument retrieves a book by ID
func (r *SupabaseDocumentRepository) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, _, err := r.client.From(booksTable).
		Select("*", "", false).
		Eq("id", id).
		Limit(1, "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	var docs []*domain.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(docs) == 0 {
		return nil, domain.ErrDocumentNotFound
	}
	return docs[0], nil
}

// UpdateDocument writes the metadata and status columns of a book. Progress,
// duration and completion time belong to aggregate_document_progress, and a
// failed book is never rewritten.
func (r *SupabaseDocumentRepository) UpdateDocument(ctx context.Context, doc *domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data := map[string]interface{}{
		"title":             doc.Title,
		"author":            doc.Author,
		"pdf_file":          doc.PDFURL,
		"cover_image":       doc.CoverURL,
		"total_pages":       doc.TotalPages,
		"processing_status": doc.Status,
		"processing_error":  doc.Error,
		"modified_at":       doc.UpdatedAt,
	}
	_, _, err := r.client.From(booksTable).
		Update(data, "", "").
		Eq("id", doc.ID).
		Neq("processing_status", string(domain.DocumentFailed)).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	return nil
}

// FailDocument runs the fail_document function, a single conditional update
// that waits on the row lock aggregate_document_progress holds.
func (r *SupabaseDocumentRepository) FailDocument(ctx context.Context, id, reason string, updatedBefore time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var before interface{}
	if !updatedBefore.IsZero() {
		before = updatedBefore.UTC().Format(timestampLayout)
	}
	raw := strings.TrimSpace(r.client.Rpc(failFunc, "", map[string]interface{}{
		"p_book_id":        id,
		"p_reason":         reason,
		"p_updated_before": before,
	}))
	switch raw {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "", "null":
		return false, domain.ErrDocumentNotFound
	default:
		return false, fmt.Errorf("fail document %s: unexpected response %q", id, truncate(raw, 200))
	}
}

// ListStaleDocuments returns books in status whose last change is older than updatedBefore
func (r *SupabaseDocumentRepository) ListStaleDocuments(
	ctx context.Context,
	status domain.DocumentStatus,
	updatedBefore time.Time,
) ([]*domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, _, err := r.client.From(booksTable).
		Select("*", "", false).
		Eq("processing_status", string(status)).
		Lt("modified_at", updatedBefore.UTC().Format(timestampLayout)).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to list stale documents: %w", err)
	}

	var docs []*domain.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return docs, nil
}

// CreatePages inserts a document's pages in one request
func (r *SupabaseDocumentRepository) CreatePages(ctx context.Context, pages []*domain.Page) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(pages) == 0 {
		return nil
	}
	rows := make([]*domain.Page, 0, len(pages))
	for _, p := range pages {
		row := *p
		row.Text = sanitizeText(row.Text)
		rows = append(rows, &row)
	}

	_, _, err := r.client.From(pagesTable).Insert(rows, false, "", "", "").Execute()
	if err != nil {
		r.logger.Error("Failed to insert pages in Supabase", err, "book_id", pages[0].DocumentID, "count", len(pages))
		return fmt.Errorf("failed to create pages: %w", err)
	}
	return nil
}

// GetPage retrieves one page of a book
func (r *SupabaseDocumentRepository) GetPage(ctx context.Context, documentID string, number int) (*domain.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, _, err := r.client.From(pagesTable).
		Select("*", "", false).
		Eq("book_id", documentID).
		Eq("page_number", strconv.Itoa(number)).
		Limit(1, "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to get page: %w", err)
	}

	var pages []*domain.Page
	if err := json.Unmarshal(data, &pages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(pages) == 0 {
		return nil, domain.ErrPageNotFound
	}
	return pages[0], nil
}

// ListPages returns a book's pages ordered by page number
func (r *SupabaseDocumentRepository) ListPages(ctx context.Context, documentID string) ([]*domain.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, _, err := r.client.From(pagesTable).
		Select("*", "", false).
		Eq("book_id", documentID).
		Order("page_number", &postgrest.OrderOpts{Ascending: true}).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}

	var pages []*domain.Page
	if err := json.Unmarshal(data, &pages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return pages, nil
}

// UpdatePage writes the state columns of a page
func (r *SupabaseDocumentRepository) UpdatePage(ctx context.Context, page *domain.Page) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data := map[string]interface{}{
		"audio_file":        page.AudioURL,
		"audio_duration":    page.AudioDuration,
		"processing_status": page.Status,
		"processing_error":  page.Error,
		"updated_at":        page.UpdatedAt,
		"processed_at":      page.ProcessedAt,
	}
	_, _, err := r.client.From(pagesTable).
		Update(data, "", "").
		Eq("book_id", page.DocumentID).
		Eq("page_number", strconv.Itoa(page.Number)).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to update page: %w", err)
	}
	return nil
}

// ListFailedPagesSince returns failed pages created at or after since
func (r *SupabaseDocumentRepository) ListFailedPagesSince(ctx context.Context, since time.Time) ([]*domain.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, _, err := r.client.From(pagesTable).
		Select("*", "", false).
		Eq("processing_status", string(domain.PageFailed)).
		Gte("created_at", since.UTC().Format(timestampLayout)).
		Order("page_number", &postgrest.OrderOpts{Ascending: true}).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to list failed pages: %w", err)
	}

	var pages []*domain.Page
	if err := json.Unmarshal(data, &pages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return pages, nil
}

// AggregateDocument runs the aggregate_document_progress function, which
// locks the book row, recounts its pages and returns the updated book.
func (r *SupabaseDocumentRepository) AggregateDocument(ctx context.Context, documentID string) (*domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw := r.client.Rpc(aggregateFunc, "", map[string]interface{}{
		"p_book_id":        documentID,
		"p_no_pages_error": domain.NoPagesMessage,
	})

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return nil, domain.ErrDocumentNotFound
	}
	var doc domain.Document
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil || doc.ID == "" {
		return nil, fmt.Errorf("aggregate document %s: unexpected response %q", documentID, truncate(trimmed, 200))
	}
	return &doc, nil
}

// sanitizeText drops characters PostgreSQL refuses in text columns.
func sanitizeText(s string) string {
	if !strings.ContainsRune(s, 0) {
		return s
	}
	return strings.ReplaceAll(s, "\x00", "")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
