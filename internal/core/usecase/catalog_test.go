package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
	queuememory "github.com/kirillkom/manual-assistant/internal/infrastructure/queue/memory"
	repomemory "github.com/kirillkom/manual-assistant/internal/infrastructure/repository/memory"
)

func TestListDocumentsSkipsUnfinishedAndAddsOrphans(t *testing.T) {
	ctx := context.Background()
	repo := repomemory.NewDocumentRepository()
	now := time.Now().UTC()
	for _, doc := range []*domain.Document{
		{ID: "ready", Filename: "a.docx", Status: domain.StatusReady, ChunkCount: 3, ImageCount: 1, CreatedAt: now},
		{ID: "busy", Filename: "b.docx", Status: domain.StatusProcessing, CreatedAt: now.Add(time.Second)},
		{ID: "partial", Filename: "c.pdf", Status: domain.StatusPartial, ChunkCount: 1, CreatedAt: now.Add(2 * time.Second)},
	} {
		if err := repo.Create(ctx, doc); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	vectors := &scriptedVectorStore{docs: []string{"ready", "partial", "orphan"}}
	catalog := NewCatalogService(repo, vectors, queuememory.NewQueue(domain.DefaultRetryPolicy()))

	docs, err := catalog.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 documents, got %+v", docs)
	}
	if docs[0].DocumentID != "ready" || docs[0].ChunkCount != 3 || docs[0].ImageCount != 1 {
		t.Fatalf("unexpected first document %+v", docs[0])
	}
	if docs[1].DocumentID != "partial" || docs[2].DocumentID != "orphan" || docs[2].ChunkCount != 0 {
		t.Fatalf("unexpected listing %+v", docs)
	}
}
