package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

// AskUseCase answers a question from the indexed manuals.
type AskUseCase struct {
	retrieval   *RetrievalEngine
	synthesizer *Synthesizer
	topK        int
}

func NewAskUseCase(retrieval *RetrievalEngine, synthesizer *Synthesizer, topK int) *AskUseCase {
	return &AskUseCase{retrieval: retrieval, synthesizer: synthesizer, topK: topK}
}

func (uc *AskUseCase) Ask(ctx context.Context, question string) (*domain.AnswerStream, error) {
	evidence, err := uc.retrieval.Search(ctx, question, uc.topK)
	if err != nil {
		if domain.IsKind(err, domain.ErrEmptyIndex) {
			slog.Info("ask_without_documentation")
			stream := uc.synthesizer.Decline()
			stream.NoDocumentation = true
			return stream, nil
		}
		return nil, fmt.Errorf("retrieve evidence: %w", err)
	}
	return uc.synthesizer.Generate(ctx, question, evidence), nil
}
