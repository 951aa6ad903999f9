package service

import (
	"context"
	"fmt"

	"kitaabse-pipeline/internal/domain"
)

// Aggregator recomputes a document's progress, status and duration from its
// pages. The repository performs the read-modify-write atomically.
type Aggregator struct {
	repo   domain.DocumentRepository
	logger domain.Logger
}

func NewAggregator(repo domain.DocumentRepository, logger domain.Logger) *Aggregator {
	return &Aggregator{repo: repo, logger: logger}
}

func (a *Aggregator) Refresh(ctx context.Context, documentID string) (*domain.Document, error) {
	doc, err := a.repo.AggregateDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("aggregate document %s: %w", documentID, err)
	}
	a.logger.Debug("Document aggregated",
		"doc_id", doc.ID,
		"status", doc.Status,
		"progress", doc.Progress,
		"total_duration", doc.TotalDuration,
	)
	if doc.Status == domain.DocumentCompleted {
		a.logger.Info("Document completed", "doc_id", doc.ID, "total_pages", doc.TotalPages, "total_duration", doc.TotalDuration)
	}
	return doc, nil
}
