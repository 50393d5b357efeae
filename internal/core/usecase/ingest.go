package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
	"github.com/kirillkom/manual-assistant/internal/core/ports"
)

// IngestDependencies groups the collaborators of IngestUseCase.
type IngestDependencies struct {
	Repo      ports.DocumentRepository
	Storage   ports.ObjectStorage
	Extractor ports.DocumentExtractor
	Chunker   ports.Chunker
	Embedder  ports.Embedder
	Vectors   ports.VectorStore
	Queue     ports.ImageTaskQueue
	// Notifier is optional; without it workers rely on polling.
	Notifier ports.TaskNotifier

	EmbedTimeout time.Duration
	// MimeType maps a filename to a content type for stored metadata.
	MimeType func(filename string) string
	// ImageExtension maps an image content type to a storage key extension.
	ImageExtension func(mimeType string) string
}

type IngestUseCase struct {
	deps IngestDependencies
	now  func() time.Time
}

func NewIngestUseCase(deps IngestDependencies) *IngestUseCase {
	if deps.MimeType == nil {
		deps.MimeType = func(string) string { return "application/octet-stream" }
	}
	if deps.ImageExtension == nil {
		deps.ImageExtension = func(string) string { return "bin" }
	}
	return &IngestUseCase{deps: deps, now: func() time.Time { return time.Now().UTC() }}
}

func (uc *IngestUseCase) Ingest(ctx context.Context, filename string, body io.Reader) (*domain.IngestionResult, error) {
	filename = strings.TrimSpace(filepath.Base(filepath.Clean("/" + strings.TrimSpace(filename))))
	if filename == "" || filename == "/" || filename == "." {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest", errors.New("filename is required"))
	}
	if body == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest", errors.New("document body is required"))
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read document body: %w", err)
	}
	if len(raw) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest", errors.New("document body is empty"))
	}

	sum := sha256.Sum256(raw)
	checksum := hex.EncodeToString(sum[:])

	existing, err := uc.deps.Repo.FindByChecksum(ctx, filename, checksum)
	if err != nil {
		return nil, fmt.Errorf("lookup existing document: %w", err)
	}
	if existing != nil && existing.Status == domain.StatusReady {
		slog.Info("ingest_reused", "document_id", existing.ID, "filename", filename)
		return &domain.IngestionResult{
			DocumentID:   existing.ID,
			Filename:     existing.Filename,
			ChunkCount:   existing.ChunkCount,
			ImageTaskIDs: append([]string{}, existing.ImageTaskIDs...),
			Reused:       true,
		}, nil
	}

	extraction, extractErr := uc.deps.Extractor.Extract(ctx, filename, raw)
	if extractErr != nil && !domain.IsKind(extractErr, domain.ErrExtraction) {
		return nil, extractErr
	}
	if extraction == nil {
		extraction = &domain.Extraction{}
	}

	now := uc.now()
	doc := &domain.Document{
		ID:           uuid.NewString(),
		Filename:     filename,
		MimeType:     uc.deps.MimeType(filename),
		Checksum:     checksum,
		Status:       domain.StatusProcessing,
		ImageTaskIDs: []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	doc.StoragePath = fmt.Sprintf("documents/%s/%s", doc.ID, sanitizeFilename(filename))

	if err := uc.deps.Storage.Save(ctx, doc.StoragePath, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}
	if err := uc.deps.Repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document metadata: %w", err)
	}

	chunkCount, err := uc.indexText(ctx, doc, extraction.Text())
	if err != nil {
		uc.markFailed(ctx, doc, err)
		return nil, err
	}
	doc.ChunkCount = chunkCount

	taskIDs, imageErr := uc.enqueueImages(ctx, doc, extraction.Images)
	doc.ImageTaskIDs = taskIDs
	doc.ImageCount = len(extraction.Images)

	problems := errors.Join(extractErr, imageErr)
	doc.Status = domain.StatusReady
	if problems != nil {
		doc.Status = domain.StatusPartial
		doc.Error = problems.Error()
	}
	doc.UpdatedAt = uc.now()
	if err := uc.deps.Repo.UpdateIngestion(ctx, doc); err != nil {
		return nil, fmt.Errorf("persist ingestion result: %w", err)
	}

	result := &domain.IngestionResult{
		DocumentID:   doc.ID,
		Filename:     doc.Filename,
		ChunkCount:   doc.ChunkCount,
		ImageTaskIDs: taskIDs,
	}
	slog.Info("ingest_completed",
		"document_id", doc.ID,
		"filename", doc.Filename,
		"chunks", doc.ChunkCount,
		"image_tasks", len(taskIDs),
		"status", string(doc.Status),
	)
	if problems != nil {
		if !domain.IsKind(problems, domain.ErrExtraction) {
			problems = domain.WrapError(domain.ErrExtraction, "ingest", problems)
		}
		return result, problems
	}
	return result, nil
}

func (uc *IngestUseCase) indexText(ctx context.Context, doc *domain.Document, text string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}
	chunks, err := uc.deps.Chunker.Split(text)
	if err != nil {
		return 0, fmt.Errorf("chunk document: %w", err)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	embedCtx, cancel := withOptionalTimeout(ctx, uc.deps.EmbedTimeout)
	vectors, err := uc.deps.Embedder.Embed(embedCtx, chunks)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, domain.WrapError(domain.ErrExternalService, "embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)))
	}

	indexed := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		recordID, err := uc.deps.Vectors.Upsert(ctx, domain.VectorRecord{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Filename:   doc.Filename,
			Kind:       domain.KindTextChunk,
			Position:   i,
			Content:    chunk,
			Embedding:  vectors[i],
			CreatedAt:  uc.now(),
		})
		if err != nil {
			uc.dropRecords(ctx, doc.ID, indexed)
			return 0, fmt.Errorf("index chunk %d: %w", i, err)
		}
		indexed = append(indexed, recordID)
	}
	return len(chunks), nil
}

// dropRecords removes chunks of a document whose indexing did not finish, so
// a failed document contributes no evidence.
func (uc *IngestUseCase) dropRecords(ctx context.Context, documentID string, recordIDs []string) {
	cleanupCtx := context.WithoutCancel(ctx)
	for _, id := range recordIDs {
		if err := uc.deps.Vectors.Delete(cleanupCtx, id); err != nil {
			slog.Warn("orphan_chunk_delete_failed", "document_id", documentID, "record_id", id, "error", err)
		}
	}
}

// enqueueImages stores every image and queues a description task for it.
// Failures are collected so the remaining images still get queued.
func (uc *IngestUseCase) enqueueImages(ctx context.Context, doc *domain.Document, images []domain.ExtractedImage) ([]string, error) {
	taskIDs := make([]string, 0, len(images))
	var problems []error
	for _, img := range images {
		key := fmt.Sprintf("images/%s/%d.%s", doc.ID, img.Position, uc.deps.ImageExtension(img.MimeType))
		if err := uc.deps.Storage.Save(ctx, key, bytes.NewReader(img.Data)); err != nil {
			problems = append(problems, fmt.Errorf("store image %d: %w", img.Position, err))
			continue
		}
		taskID, err := uc.deps.Queue.Enqueue(ctx, &domain.ImageTask{
			DocumentID: doc.ID,
			Filename:   doc.Filename,
			ImageRef:   key,
			MimeType:   img.MimeType,
			Position:   img.Position,
		})
		if err != nil {
			problems = append(problems, fmt.Errorf("enqueue image %d: %w", img.Position, err))
			continue
		}
		taskIDs = append(taskIDs, taskID)
		uc.notify(ctx, taskID)
	}
	return taskIDs, errors.Join(problems...)
}

func (uc *IngestUseCase) notify(ctx context.Context, taskID string) {
	if uc.deps.Notifier == nil {
		return
	}
	if err := uc.deps.Notifier.NotifyTaskEnqueued(ctx, taskID); err != nil {
		slog.Warn("task_notify_failed", "task_id", taskID, "error", err)
	}
}

func (uc *IngestUseCase) markFailed(ctx context.Context, doc *domain.Document, cause error) {
	doc.Status = domain.StatusFailed
	doc.Error = cause.Error()
	doc.UpdatedAt = uc.now()
	if err := uc.deps.Repo.UpdateIngestion(context.WithoutCancel(ctx), doc); err != nil {
		slog.Error("mark_document_failed", "document_id", doc.ID, "error", err)
	}
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == ".." {
		return "document.bin"
	}
	return base
}
