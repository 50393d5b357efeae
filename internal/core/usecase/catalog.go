package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
	"github.com/kirillkom/manual-assistant/internal/core/ports"
)

// CatalogService reports what has been indexed and how the image queue is doing.
type CatalogService struct {
	repo    ports.DocumentRepository
	vectors ports.VectorStore
	queue   ports.ImageTaskQueue
}

func NewCatalogService(repo ports.DocumentRepository, vectors ports.VectorStore, queue ports.ImageTaskQueue) *CatalogService {
	return &CatalogService{repo: repo, vectors: vectors, queue: queue}
}

func (s *CatalogService) QueueStatus(ctx context.Context) (domain.QueueStatus, error) {
	status, err := s.queue.Status(ctx)
	if err != nil {
		return domain.QueueStatus{}, fmt.Errorf("queue status: %w", err)
	}
	return status, nil
}

// ListDocuments lists searchable documents. Records whose document metadata
// is missing are still listed, with zero counts.
func (s *CatalogService) ListDocuments(ctx context.Context) ([]domain.DocumentSummary, error) {
	docs, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	indexed, err := s.vectors.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list indexed documents: %w", err)
	}

	out := make([]domain.DocumentSummary, 0, len(docs))
	known := make(map[string]struct{}, len(docs))
	for i := range docs {
		known[docs[i].ID] = struct{}{}
		if docs[i].Status != domain.StatusReady && docs[i].Status != domain.StatusPartial {
			continue
		}
		out = append(out, docs[i].Summary())
	}
	for _, id := range indexed {
		if _, ok := known[id]; ok {
			continue
		}
		slog.Warn("indexed_document_without_metadata", "document_id", id)
		out = append(out, domain.DocumentSummary{DocumentID: id})
	}
	return out, nil
}
