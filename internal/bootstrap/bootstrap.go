package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kirillkom/manual-assistant/internal/config"
	"github.com/kirillkom/manual-assistant/internal/core/domain"
	"github.com/kirillkom/manual-assistant/internal/core/usecase"
	"github.com/kirillkom/manual-assistant/internal/infrastructure/chunking"
	"github.com/kirillkom/manual-assistant/internal/infrastructure/extractor"
	"github.com/kirillkom/manual-assistant/internal/infrastructure/extractor/docx"
	"github.com/kirillkom/manual-assistant/internal/infrastructure/extractor/html"
	"github.com/kirillkom/manual-assistant/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/manual-assistant/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/manual-assistant/internal/infrastructure/extractor/xlsx"
	"github.com/kirillkom/manual-assistant/internal/infrastructure/imaging"
	"github.com/kirillkom/manual-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/manual-assistant/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/manual-assistant/internal/observability/metrics"
)

type App struct {
	Config config.Config

	Ingest  *usecase.IngestUseCase
	Ask     *usecase.AskUseCase
	Catalog *usecase.CatalogService
	Worker  *usecase.ImageWorker

	WorkerMetrics *metrics.WorkerMetrics
	Extractors    *extractor.Registry

	closers []func()

	mu         sync.Mutex
	cancels    []context.CancelFunc
	background sync.WaitGroup
}

func New(ctx context.Context, cfg config.Config) (app *App, err error) {
	app = &App{Config: cfg}
	defer func() {
		if err != nil {
			app.Close()
			app = nil
		}
	}()

	prompts, err := config.LoadPrompts(cfg.PromptsFile)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	if mode := usecase.RetrievalMode(cfg.RAGRetrievalMode); !mode.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "bootstrap", fmt.Errorf("unknown RAG_RETRIEVAL_MODE %q", mode))
	}

	var db *sql.DB
	if cfg.MetadataBackend == "postgres" || cfg.VectorBackend == "pgvector" {
		db, err = openPostgres(cfg)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() { _ = db.Close() })
	}

	meta, err := openMetadata(ctx, cfg, db)
	if err != nil {
		return nil, err
	}
	vectors, closeVectors, err := openVectors(ctx, cfg, db)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, closeVectors)

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())
	models, err := newModels(cfg, prompts, executor)
	if err != nil {
		return nil, err
	}

	notifier, closeNotifier, err := newNotifier(cfg, executor)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, closeNotifier)

	app.Extractors = extractor.NewRegistry().
		Register(docx.NewExtractor(), "docx").
		Register(pdf.NewExtractor(), "pdf").
		Register(xlsx.NewExtractor(), "xlsx").
		Register(html.NewExtractor(), "html", "htm").
		Register(plaintext.NewExtractor(), "txt", "md")

	app.Ingest = usecase.NewIngestUseCase(usecase.IngestDependencies{
		Repo:           meta.documents,
		Storage:        storage,
		Extractor:      app.Extractors,
		Chunker:        chunking.NewSplitter(cfg.ChunkSize),
		Embedder:       models.embedder,
		Vectors:        vectors,
		Queue:          meta.tasks,
		Notifier:       notifier,
		EmbedTimeout:   cfg.EmbedTimeout,
		MimeType:       extractor.DocumentMimeType,
		ImageExtension: extractor.ImageExtension,
	})

	retrieval := usecase.NewRetrievalEngine(models.embedder, vectors, usecase.RetrievalOptions{
		Mode:         usecase.RetrievalMode(cfg.RAGRetrievalMode),
		DefaultK:     cfg.RAGTopK,
		Rerank:       cfg.RAGRerankEnabled,
		RerankTopN:   cfg.RAGRerankTopN,
		EmbedTimeout: cfg.EmbedTimeout,
	})
	synthesizer := usecase.NewSynthesizer(models.generator, prompts, usecase.SynthesizerOptions{
		MinEvidenceScore:  cfg.MinEvidenceScore,
		GenerationTimeout: cfg.GenerationTimeout,
	})
	app.Ask = usecase.NewAskUseCase(retrieval, synthesizer, cfg.RAGTopK)
	app.Catalog = usecase.NewCatalogService(meta.documents, vectors, meta.tasks)

	app.WorkerMetrics = metrics.NewWorkerMetrics("manual-worker")
	app.Worker = usecase.NewImageWorker(usecase.WorkerDependencies{
		Queue:     meta.tasks,
		Storage:   storage,
		Describer: models.describer,
		Embedder:  models.embedder,
		Vectors:   vectors,
		Notifier:  notifier,
		Normalize: imaging.ToPNG,
		Observer:  app.WorkerMetrics,
	}, usecase.WorkerOptions{
		PollInterval:  cfg.WorkerPollInterval,
		TaskLease:     cfg.WorkerTaskLease,
		VisionTimeout: cfg.VisionTimeout,
		EmbedTimeout:  cfg.EmbedTimeout,
	})

	slog.Info("bootstrap_ready",
		"metadata_backend", cfg.MetadataBackend,
		"vector_backend", cfg.VectorBackend,
		"llm_provider", cfg.LLMProvider,
		"notifier_backend", cfg.NotifierBackend,
		"extensions", app.Extractors.Extensions(),
	)
	return app, nil
}

// Close releases backends in reverse order of acquisition.
// Background runs fn on its own goroutine. Close cancels it and waits for it
// to return before any backend is closed.
func (a *App) Background(ctx context.Context, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancels = append(a.cancels, cancel)
	a.mu.Unlock()

	a.background.Add(1)
	go func() {
		defer a.background.Done()
		defer cancel()
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("background_task_failed", "task", name, "error", err)
		}
	}()
}

func (a *App) Close() {
	a.mu.Lock()
	cancels := a.cancels
	a.cancels = nil
	a.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	a.background.Wait()

	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
