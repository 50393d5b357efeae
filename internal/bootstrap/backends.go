package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/manual-assistant/internal/config"
	"github.com/kirillkom/manual-assistant/internal/core/domain"
	"github.com/kirillkom/manual-assistant/internal/core/ports"
	"github.com/kirillkom/manual-assistant/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/manual-assistant/internal/infrastructure/llm/openaicompat"
	queuememory "github.com/kirillkom/manual-assistant/internal/infrastructure/queue/memory"
	"github.com/kirillkom/manual-assistant/internal/infrastructure/queue/nats"
	repomemory "github.com/kirillkom/manual-assistant/internal/infrastructure/repository/memory"
	"github.com/kirillkom/manual-assistant/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/manual-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/manual-assistant/internal/infrastructure/vector/pgvector"
	"github.com/kirillkom/manual-assistant/internal/infrastructure/vector/qdrant"
	vectormemory "github.com/kirillkom/manual-assistant/internal/infrastructure/vector/memory"
)

type metadata struct {
	documents ports.DocumentRepository
	tasks     ports.ImageTaskQueue
}

type models struct {
	embedder  ports.Embedder
	describer ports.ImageDescriber
	generator ports.AnswerGenerator
}

func openPostgres(cfg config.Config) (*sql.DB, error) {
	if cfg.PostgresDSN == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "open postgres", fmt.Errorf("POSTGRES_DSN is required"))
	}
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

func openMetadata(ctx context.Context, cfg config.Config, db *sql.DB) (metadata, error) {
	switch cfg.MetadataBackend {
	case "", "memory":
		return metadata{
			documents: repomemory.NewDocumentRepository(),
			tasks:     queuememory.NewQueue(cfg.RetryPolicy()),
		}, nil
	case "postgres":
		documents := postgres.NewDocumentRepository(db)
		if err := documents.EnsureSchema(ctx); err != nil {
			return metadata{}, fmt.Errorf("ensure schema: %w", err)
		}
		return metadata{
			documents: documents,
			tasks:     postgres.NewImageTaskRepository(db, cfg.RetryPolicy()),
		}, nil
	default:
		return metadata{}, unknownBackend("METADATA_BACKEND", cfg.MetadataBackend)
	}
}

func openVectors(ctx context.Context, cfg config.Config, db *sql.DB) (ports.VectorStore, func(), error) {
	switch cfg.VectorBackend {
	case "", "memory":
		store, err := vectormemory.Open(cfg.VectorLogPath, cfg.EmbeddingDimension)
		if err != nil {
			return nil, nil, fmt.Errorf("open vector store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	case "pgvector":
		store := pgvector.NewStore(db, cfg.EmbeddingDimension)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, nil, fmt.Errorf("ensure vector schema: %w", err)
		}
		return store, func() {}, nil
	case "qdrant":
		return qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, cfg.EmbeddingDimension), func() {}, nil
	default:
		return nil, nil, unknownBackend("VECTOR_BACKEND", cfg.VectorBackend)
	}
}

func newModels(cfg config.Config, prompts domain.Prompts, executor *resilience.Executor) (models, error) {
	switch cfg.LLMProvider {
	case "", "ollama":
		client := ollama.New(cfg.OllamaURL, ollama.Options{
			GenModel:           cfg.OllamaGenModel,
			EmbedModel:         cfg.OllamaEmbedModel,
			VisionModel:        cfg.OllamaVisionModel,
			HeaderTimeout:      cfg.LLMHeaderTimeout,
			ResilienceExecutor: executor,
		})
		return models{
			embedder:  ollama.NewEmbedder(client),
			describer: ollama.NewDescriber(client, prompts.Vision),
			generator: ollama.NewGenerator(client),
		}, nil
	case "openai":
		client, err := openaicompat.New(openaicompat.Options{
			BaseURL:            cfg.OpenAIBaseURL,
			APIKey:             cfg.OpenAIAPIKey,
			ChatModel:          cfg.OpenAIChatModel,
			EmbedModel:         cfg.OpenAIEmbedModel,
			VisionModel:        cfg.OpenAIVisionModel,
			EmbedBatchSize:     cfg.OpenAIEmbedBatchSize,
			HeaderTimeout:      cfg.LLMHeaderTimeout,
			ResilienceExecutor: executor,
		})
		if err != nil {
			return models{}, fmt.Errorf("init openai client: %w", err)
		}
		return models{
			embedder:  openaicompat.NewEmbedder(client),
			describer: openaicompat.NewDescriber(client, prompts.Vision),
			generator: openaicompat.NewGenerator(client),
		}, nil
	default:
		return models{}, unknownBackend("LLM_PROVIDER", cfg.LLMProvider)
	}
}

func newNotifier(cfg config.Config, executor *resilience.Executor) (ports.TaskNotifier, func(), error) {
	switch cfg.NotifierBackend {
	case "", "memory":
		n := queuememory.NewNotifier()
		return n, n.Close, nil
	case "nats":
		n, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{ResilienceExecutor: executor})
		if err != nil {
			return nil, nil, fmt.Errorf("init nats notifier: %w", err)
		}
		return n, n.Close, nil
	default:
		return nil, nil, unknownBackend("NOTIFIER_BACKEND", cfg.NotifierBackend)
	}
}

func unknownBackend(key, value string) error {
	return domain.WrapError(domain.ErrInvalidInput, "bootstrap", fmt.Errorf("unknown %s %q", key, value))
}
