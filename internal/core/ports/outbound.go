package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	FindByChecksum(ctx context.Context, filename, checksum string) (*domain.Document, error)
	UpdateIngestion(ctx context.Context, doc *domain.Document) error
	List(ctx context.Context) ([]domain.Document, error)
}

type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// DocumentExtractor pulls text blocks and embedded images out of raw bytes.
type DocumentExtractor interface {
	Extract(ctx context.Context, filename string, data []byte) (*domain.Extraction, error)
}

type Chunker interface {
	Split(text string) ([]string, error)
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type ImageDescriber interface {
	Describe(ctx context.Context, image domain.ExtractedImage) (string, error)
}

// AnswerGenerator streams model output for prompt through emit. A non-nil
// error from emit aborts generation and is returned unchanged.
type AnswerGenerator interface {
	GenerateStream(ctx context.Context, prompt string, emit func(fragment string) error) error
}

type VectorStore interface {
	Upsert(ctx context.Context, record domain.VectorRecord) (string, error)
	Query(ctx context.Context, embedding []float32, k int, filter domain.RecordFilter) ([]domain.ScoredRecord, error)
	Delete(ctx context.Context, recordID string) error
	ListDocuments(ctx context.Context) ([]string, error)
}

type ImageTaskQueue interface {
	Enqueue(ctx context.Context, task *domain.ImageTask) (string, error)
	// ClaimNext returns nil without error when no task is eligible.
	ClaimNext(ctx context.Context) (*domain.ImageTask, error)
	Complete(ctx context.Context, taskID, recordID string) error
	Fail(ctx context.Context, taskID string, cause error) (domain.TaskState, error)
	Status(ctx context.Context) (domain.QueueStatus, error)
	RequeueStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// TaskNotifier wakes idle workers when new image tasks are enqueued.
type TaskNotifier interface {
	NotifyTaskEnqueued(ctx context.Context, taskID string) error
	SubscribeTaskEnqueued(ctx context.Context) (<-chan string, error)
}
