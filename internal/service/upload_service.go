package service

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"kitaabse-pipeline/internal/domain"
	apperrors "kitaabse-pipeline/pkg/errors"

	"github.com/google/uuid"
)

const (
	DefaultMaxFileSize  = 50 * 1024 * 1024
	DefaultMaxCoverSize = 5 * 1024 * 1024

	defaultAuthor = "Unknown"
	defaultGenre  = "literature"
)

// DocumentInspector checks uploads and renders covers.
type DocumentInspector interface {
	Validate(pdf []byte) (int, error)
	Cover(pdf []byte) ([]byte, error)
}

// UploadRequest is an accepted multipart upload.
type UploadRequest struct {
	UploaderID  string
	FileName    string
	PDF         []byte
	Cover       []byte
	Title       string
	Author      string
	Language    string
	Genre       string
	Description string
	IsPublic    bool
}

// UploadService validates uploads, stores their assets and creates documents.
type UploadService struct {
	repo         domain.DocumentRepository
	storage      domain.ObjectStorage
	inspector    DocumentInspector
	queue        domain.TaskQueue
	maxFileSize  int64
	maxCoverSize int64
	logger       domain.Logger
	now          func() time.Time
}

func NewUploadService(
	repo domain.DocumentRepository,
	storage domain.ObjectStorage,
	inspector DocumentInspector,
	queue domain.TaskQueue,
	maxFileSize int64,
	maxCoverSize int64,
	logger domain.Logger,
) *UploadService {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	if maxCoverSize <= 0 {
		maxCoverSize = DefaultMaxCoverSize
	}
	return &UploadService{
		repo:         repo,
		storage:      storage,
		inspector:    inspector,
		queue:        queue,
		maxFileSize:  maxFileSize,
		maxCoverSize: maxCoverSize,
		logger:       logger,
		now:          time.Now,
	}
}

// Validate rejects an upload before any state is created and returns the
// page count.
func (s *UploadService) Validate(req UploadRequest) (int, error) {
	if req.UploaderID == "" {
		return 0, apperrors.NewUnauthorizedError("Authentication required")
	}
	if len(req.PDF) == 0 {
		return 0, apperrors.NewValidationError("No PDF file provided")
	}
	if !strings.EqualFold(filepath.Ext(req.FileName), ".pdf") {
		return 0, apperrors.NewValidationError("Invalid file type", "Only PDF files are allowed")
	}
	if int64(len(req.PDF)) > s.maxFileSize {
		return 0, apperrors.NewValidationError(
			"File too large",
			fmt.Sprintf("Maximum file size is %dMB", s.maxFileSize/(1024*1024)),
		)
	}
	if int64(len(req.Cover)) > s.maxCoverSize {
		return 0, apperrors.NewValidationError(
			"Cover image too large",
			fmt.Sprintf("Maximum cover size is %dMB", s.maxCoverSize/(1024*1024)),
		)
	}

	pages, err := s.inspector.Validate(req.PDF)
	if err != nil {
		return 0, apperrors.NewValidationError("Invalid PDF", err.Error())
	}
	return pages, nil
}

// Accept validates the upload, stores the PDF and cover and creates the
// document in the uploaded state.
func (s *UploadService) Accept(ctx context.Context, req UploadRequest) (*domain.Document, error) {
	pages, err := s.Validate(req)
	if err != nil {
		return nil, err
	}

	now := s.now()
	doc := &domain.Document{
		ID:          uuid.NewString(),
		UploaderID:  req.UploaderID,
		Title:       orValue(strings.TrimSpace(req.Title), strings.TrimSuffix(req.FileName, filepath.Ext(req.FileName))),
		Author:      orValue(strings.TrimSpace(req.Author), defaultAuthor),
		Description: req.Description,
		Genre:       orValue(strings.TrimSpace(req.Genre), defaultGenre),
		Language:    domain.ParseLanguage(req.Language),
		TotalPages:  pages,
		Status:      domain.DocumentUploaded,
		IsPublic:    req.IsPublic,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	doc.PDFKey = PDFKey(doc.ID)
	doc.PDFURL, err = s.storage.Upload(ctx, doc.PDFKey, bytes.NewReader(req.PDF), "application/pdf")
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to store PDF", err)
	}

	cover := req.Cover
	if len(cover) == 0 {
		cover, err = s.inspector.Cover(req.PDF)
		if err != nil {
			s.logger.Warn("Cover generation failed", "doc_id", doc.ID, "error", err)
		}
	}
	if len(cover) > 0 {
		doc.CoverURL, err = s.storage.Upload(ctx, CoverKey(doc.ID), bytes.NewReader(cover), "image/jpeg")
		if err != nil {
			s.logger.Warn("Cover upload failed", "doc_id", doc.ID, "error", err)
		}
	}

	if err := s.repo.CreateDocument(ctx, doc); err != nil {
		return nil, apperrors.NewInternalError("Failed to create document", err)
	}
	s.logger.Info("Upload accepted", "doc_id", doc.ID, "uploader_id", doc.UploaderID, "pages", pages, "size", len(req.PDF))
	return doc, nil
}

// Enqueue schedules extraction of an accepted document.
func (s *UploadService) Enqueue(ctx context.Context, doc *domain.Document) error {
	if s.queue == nil {
		return apperrors.NewInternalError("Queued processing is not configured", nil)
	}
	if _, err := s.queue.Enqueue(ctx, domain.NewExtractJob(doc.ID, s.now())); err != nil {
		return apperrors.NewInternalError("Failed to schedule processing", err)
	}
	return nil
}

func orValue(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
