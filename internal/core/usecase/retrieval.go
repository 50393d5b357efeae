package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
	"github.com/kirillkom/manual-assistant/internal/core/ports"
)

const DefaultTopK = 6

type RetrievalMode string

const (
	// RetrievalMerged runs one query over all record kinds.
	RetrievalMerged RetrievalMode = "merged"
	// RetrievalPerKind queries text chunks and image descriptions separately
	// and merges the hits.
	RetrievalPerKind RetrievalMode = "per-kind"
)

func (m RetrievalMode) Valid() bool {
	return m == RetrievalMerged || m == RetrievalPerKind
}

type RetrievalOptions struct {
	Mode         RetrievalMode
	DefaultK     int
	Rerank       bool
	RerankTopN   int
	EmbedTimeout time.Duration
}

type RetrievalEngine struct {
	embedder ports.Embedder
	vectors  ports.VectorStore
	opts     RetrievalOptions
}

func NewRetrievalEngine(embedder ports.Embedder, vectors ports.VectorStore, opts RetrievalOptions) *RetrievalEngine {
	if !opts.Mode.Valid() {
		opts.Mode = RetrievalMerged
	}
	if opts.DefaultK <= 0 {
		opts.DefaultK = DefaultTopK
	}
	if opts.RerankTopN <= 0 {
		opts.RerankTopN = 20
	}
	return &RetrievalEngine{embedder: embedder, vectors: vectors, opts: opts}
}

// Search returns at most k evidence items ranked by similarity to question.
// ErrEmptyIndex is returned when nothing has been indexed.
func (e *RetrievalEngine) Search(ctx context.Context, question string, k int) ([]domain.Evidence, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search", errors.New("question is required"))
	}
	if k <= 0 {
		k = e.opts.DefaultK
	}

	embedCtx, cancel := withOptionalTimeout(ctx, e.opts.EmbedTimeout)
	queryVector, err := e.embedder.EmbedQuery(embedCtx, question)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	limit := k * 2
	if e.opts.Rerank && limit < e.opts.RerankTopN {
		limit = e.opts.RerankTopN
	}

	var lists [][]domain.ScoredRecord
	switch e.opts.Mode {
	case RetrievalPerKind:
		for _, kind := range []domain.RecordKind{domain.KindTextChunk, domain.KindImageDescription} {
			hits, err := e.vectors.Query(ctx, queryVector, limit, domain.RecordFilter{Kind: kind})
			if err != nil {
				return nil, fmt.Errorf("query %s records: %w", kind, err)
			}
			lists = append(lists, hits)
		}
	default:
		hits, err := e.vectors.Query(ctx, queryVector, limit, domain.RecordFilter{})
		if err != nil {
			return nil, fmt.Errorf("query records: %w", err)
		}
		lists = append(lists, hits)
	}

	evidence := mergeEvidence(lists...)
	if len(evidence) == 0 {
		return nil, domain.WrapError(domain.ErrEmptyIndex, "search", errors.New("vector store has no records"))
	}
	if e.opts.Rerank {
		evidence = rerankLexical(question, evidence, e.opts.RerankTopN)
	}
	evidence = trimEvidence(evidence, k)

	slog.Debug("retrieval_completed",
		"mode", string(e.opts.Mode),
		"k", k,
		"evidence", len(evidence),
		"top_score", evidence[0].Score,
	)
	return evidence, nil
}
