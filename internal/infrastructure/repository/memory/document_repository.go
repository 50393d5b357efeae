package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

// DocumentRepository keeps document metadata for the lifetime of the process.
type DocumentRepository struct {
	mu    sync.RWMutex
	docs  map[string]domain.Document
	order []string
}

func NewDocumentRepository() *DocumentRepository {
	return &DocumentRepository{docs: make(map[string]domain.Document)}
}

func (r *DocumentRepository) Create(_ context.Context, doc *domain.Document) error {
	if doc == nil || doc.ID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "create document", fmt.Errorf("document id is required"))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.docs[doc.ID]; exists {
		return fmt.Errorf("insert document: duplicate id %s", doc.ID)
	}
	r.docs[doc.ID] = cloneDocument(*doc)
	r.order = append(r.order, doc.ID)
	return nil
}

func (r *DocumentRepository) GetByID(_ context.Context, id string) (*domain.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
	}
	out := cloneDocument(doc)
	return &out, nil
}

func (r *DocumentRepository) FindByChecksum(_ context.Context, filename, checksum string) (*domain.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		doc := r.docs[r.order[i]]
		if doc.Filename == filename && doc.Checksum == checksum {
			out := cloneDocument(doc)
			return &out, nil
		}
	}
	return nil, nil
}

func (r *DocumentRepository) UpdateIngestion(_ context.Context, doc *domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.docs[doc.ID]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "update document ingestion", fmt.Errorf("id=%s", doc.ID))
	}
	current.Status = doc.Status
	current.ChunkCount = doc.ChunkCount
	current.ImageCount = doc.ImageCount
	current.ImageTaskIDs = append([]string(nil), doc.ImageTaskIDs...)
	current.Error = doc.Error
	current.UpdatedAt = doc.UpdatedAt
	r.docs[doc.ID] = current
	return nil
}

func (r *DocumentRepository) List(_ context.Context) ([]domain.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Document, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, cloneDocument(r.docs[id]))
	}
	return out, nil
}

func cloneDocument(doc domain.Document) domain.Document {
	doc.ImageTaskIDs = append([]string(nil), doc.ImageTaskIDs...)
	return doc
}
