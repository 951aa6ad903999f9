// Package handler provides HTTP handlers for the API.
package handler

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"kitaabse-pipeline/internal/domain"
	"kitaabse-pipeline/internal/service"
	apperrors "kitaabse-pipeline/pkg/errors"

	"github.com/gorilla/mux"
)

const multipartMemory = 32 << 20

// Uploader accepts uploads and schedules them.
type Uploader interface {
	Accept(ctx context.Context, req service.UploadRequest) (*domain.Document, error)
	Enqueue(ctx context.Context, doc *domain.Document) error
}

// InlineRunner processes a document start to finish, emitting progress.
type InlineRunner interface {
	RunInline(ctx context.Context, doc *domain.Document, pdf []byte, events chan<- domain.ProgressEvent)
}

// DocumentReader is the read side of the document store.
type DocumentReader interface {
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
	ListPages(ctx context.Context, documentID string) ([]*domain.Page, error)
}

// BookHandler serves uploads, status and the voice catalogue.
type BookHandler struct {
	uploads      Uploader
	runner       InlineRunner
	reporter     *service.ProgressReporter
	documents    DocumentReader
	queued       bool
	maxFileSize  int64
	maxCoverSize int64
	logger       domain.Logger
}

// NewBookHandler creates the book handler. When queued is false, uploads that
// do not ask for a stream are processed in the background by this process.
func NewBookHandler(
	uploads Uploader,
	runner InlineRunner,
	reporter *service.ProgressReporter,
	documents DocumentReader,
	queued bool,
	maxFileSize int64,
	maxCoverSize int64,
	logger domain.Logger,
) *BookHandler {
	return &BookHandler{
		uploads:      uploads,
		runner:       runner,
		reporter:     reporter,
		documents:    documents,
		queued:       queued,
		maxFileSize:  maxFileSize,
		maxCoverSize: maxCoverSize,
		logger:       logger,
	}
}

func wantsStream(r *http.Request) bool {
	if v, err := strconv.ParseBool(r.URL.Query().Get("stream")); err == nil && v {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// UploadBook accepts a multipart upload. Stream requests get the whole run as
// server-sent events; others get 202 with the created document.
func (h *BookHandler) UploadBook(w http.ResponseWriter, r *http.Request) {
	stream := wantsStream(r)

	req, err := h.parseUpload(r)
	if err == nil {
		var doc *domain.Document
		doc, err = h.uploads.Accept(r.Context(), req)
		if err == nil {
			if stream {
				h.streamInline(w, r, doc, req.PDF)
				return
			}
			h.schedule(w, r, doc, req.PDF)
			return
		}
	}

	if stream {
		h.streamError(w, err)
		return
	}
	writeAppError(w, err)
}

func (h *BookHandler) parseUpload(r *http.Request) (service.UploadRequest, error) {
	user, ok := GetUserFromContext(r)
	if !ok {
		return service.UploadRequest{}, apperrors.NewUnauthorizedError("Authentication required")
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return service.UploadRequest{}, apperrors.NewValidationError("Invalid form data", err.Error())
	}

	req := service.UploadRequest{
		UploaderID:  user.ID,
		Title:       r.FormValue("title"),
		Author:      r.FormValue("author"),
		Language:    r.FormValue("language"),
		Genre:       r.FormValue("genre"),
		Description: r.FormValue("description"),
	}
	req.IsPublic, _ = strconv.ParseBool(r.FormValue("is_public"))

	if file, header, err := r.FormFile("pdf_file"); err == nil {
		defer file.Close()
		req.FileName = header.Filename
		if req.PDF, err = readLimited(file, h.maxFileSize); err != nil {
			return req, apperrors.NewValidationError("Invalid form data", err.Error())
		}
	}
	if file, _, err := r.FormFile("cover_image"); err == nil {
		defer file.Close()
		if req.Cover, err = readLimited(file, h.maxCoverSize); err != nil {
			return req, apperrors.NewValidationError("Invalid form data", err.Error())
		}
	}
	return req, nil
}

// readLimited reads at most limit+1 bytes so oversize uploads are still
// reported as too large without buffering the whole body.
func readLimited(f multipart.File, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(f, limit+1))
}

func (h *BookHandler) streamInline(w http.ResponseWriter, r *http.Request, doc *domain.Document, pdf []byte) {
	service.SetSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	// The upload is stored by the time the stream opens.
	events := make(chan domain.ProgressEvent, 1)
	events <- domain.ProgressEvent{
		Kind: domain.EventUploadProgress,
		Data: domain.UploadProgressPayload{Progress: 100, Message: "File uploaded successfully"},
	}
	go h.runner.RunInline(r.Context(), doc, pdf, events)
	if err := h.reporter.Stream(w, events); err != nil {
		h.logger.Warn("Client went away during processing", "doc_id", doc.ID, "error", err)
	}
}

func (h *BookHandler) streamError(w http.ResponseWriter, err error) {
	payload := domain.ErrorPayload{Error: "Upload failed", Details: err.Error()}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		payload = domain.ErrorPayload{Error: appErr.Message, Details: appErr.Details}
	}

	service.SetSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	events := make(chan domain.ProgressEvent, 1)
	events <- domain.ProgressEvent{Kind: domain.EventError, Data: payload}
	close(events)
	_ = h.reporter.Stream(w, events)
}

func (h *BookHandler) schedule(w http.ResponseWriter, r *http.Request, doc *domain.Document, pdf []byte) {
	if h.queued {
		if err := h.uploads.Enqueue(r.Context(), doc); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, doc)
		return
	}

	// No broker: run here, detached from the request.
	events := make(chan domain.ProgressEvent)
	go h.runner.RunInline(context.WithoutCancel(r.Context()), doc, pdf, events)
	go func() {
		for range events {
		}
	}()
	writeJSON(w, http.StatusAccepted, doc)
}

// GetBook returns a document with its processing status.
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.visibleDocument(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// GetBookPages returns the page records of a document in order.
func (h *BookHandler) GetBookPages(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.visibleDocument(w, r)
	if !ok {
		return
	}
	pages, err := h.documents.ListPages(r.Context(), doc.ID)
	if err != nil {
		h.logger.Error("Failed to list pages", err, "doc_id", doc.ID)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve pages")
		return
	}
	if pages == nil {
		pages = make([]*domain.Page, 0)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"book_id":           doc.ID,
		"processing_status": doc.Status,
		"pages":             pages,
	})
}

// visibleDocument loads the {id} document if it is public or owned by the
// caller. Anything else reads as not found.
func (h *BookHandler) visibleDocument(w http.ResponseWriter, r *http.Request) (*domain.Document, bool) {
	id := mux.Vars(r)["id"]
	if id == "" {
		writeError(w, http.StatusBadRequest, "Book ID is required")
		return nil, false
	}
	user, _ := GetUserFromContext(r)

	doc, err := h.documents.GetDocument(r.Context(), id)
	if errors.Is(err, domain.ErrDocumentNotFound) {
		writeError(w, http.StatusNotFound, "Book not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("Failed to load document", err, "doc_id", id)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve book")
		return nil, false
	}
	if !doc.IsPublic && (user == nil || user.ID != doc.UploaderID) {
		writeError(w, http.StatusNotFound, "Book not found")
		return nil, false
	}
	return doc, true
}

// ListVoices returns the voice catalogue.
func (h *BookHandler) ListVoices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"default": service.DefaultVoice,
		"voices":  service.AvailableVoices(),
	})
}
