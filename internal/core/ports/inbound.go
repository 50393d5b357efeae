package ports

import (
	"context"
	"io"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

// DocumentIngestor indexes one uploaded document. When the returned error is
// an ErrExtraction the result is still non-nil and describes what was indexed.
type DocumentIngestor interface {
	Ingest(ctx context.Context, filename string, body io.Reader) (*domain.IngestionResult, error)
}

type QuestionAnswerer interface {
	Ask(ctx context.Context, question string) (*domain.AnswerStream, error)
}

type QueueStatusReader interface {
	QueueStatus(ctx context.Context) (domain.QueueStatus, error)
}

type DocumentLister interface {
	ListDocuments(ctx context.Context) ([]domain.DocumentSummary, error)
}
