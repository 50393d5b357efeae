package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

const testDimension = 3

// keywordEmbedder maps texts onto fixed axes so similarity is predictable:
// texts mentioning "megaphone" point one way, everything else another.
type keywordEmbedder struct {
	mu         sync.Mutex
	embedCalls int
	err        error
}

func (e *keywordEmbedder) vector(text string) []float32 {
	if strings.Contains(strings.ToLower(text), "megaphone") {
		return []float32{1, 0, 0}
	}
	return []float32{0, 1, 0}
}

func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.embedCalls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		out = append(out, e.vector(text))
	}
	return out, nil
}

func (e *keywordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vector(text), nil
}

type fakeDescriber struct {
	description string
	err         error
	calls       int
	lastImage   domain.ExtractedImage
}

func (d *fakeDescriber) Describe(_ context.Context, image domain.ExtractedImage) (string, error) {
	d.calls++
	d.lastImage = image
	if d.err != nil {
		return "", d.err
	}
	return d.description, nil
}

type fakeExtractor struct {
	extraction *domain.Extraction
	err        error
}

func (e *fakeExtractor) Extract(_ context.Context, _ string, _ []byte) (*domain.Extraction, error) {
	return e.extraction, e.err
}

// scriptedGenerator plays back one script per call: the fragments to emit and
// the error to return afterwards.
type scriptedGenerator struct {
	mu        sync.Mutex
	fragments [][]string
	errs      []error
	calls     int
	prompts   []string
	emitErr   error
	ctxErr    error
}

func (g *scriptedGenerator) GenerateStream(ctx context.Context, prompt string, emit func(string) error) error {
	g.mu.Lock()
	i := g.calls
	g.calls++
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()

	if i >= len(g.fragments) {
		return errors.New("unexpected generation call")
	}
	for _, fragment := range g.fragments[i] {
		if err := emit(fragment); err != nil {
			g.emitErr = err
			g.ctxErr = ctx.Err()
			return err
		}
	}
	if i < len(g.errs) {
		return g.errs[i]
	}
	return nil
}

// scriptedVectorStore answers queries from canned hits keyed by record kind.
type scriptedVectorStore struct {
	hits    map[domain.RecordKind][]domain.ScoredRecord
	filters []domain.RecordFilter
	limits  []int
	docs    []string
}

func (s *scriptedVectorStore) Upsert(_ context.Context, record domain.VectorRecord) (string, error) {
	return record.ID, nil
}

func (s *scriptedVectorStore) Query(_ context.Context, _ []float32, k int, filter domain.RecordFilter) ([]domain.ScoredRecord, error) {
	s.filters = append(s.filters, filter)
	s.limits = append(s.limits, k)
	var out []domain.ScoredRecord
	for kind, hits := range s.hits {
		if filter.Kind != "" && filter.Kind != kind {
			continue
		}
		out = append(out, hits...)
	}
	return out, nil
}

func (s *scriptedVectorStore) Delete(context.Context, string) error { return nil }

func (s *scriptedVectorStore) ListDocuments(context.Context) ([]string, error) {
	return s.docs, nil
}

type recordingObserver struct {
	mu       sync.Mutex
	started  int
	outcomes []string
}

func (o *recordingObserver) StartTask() {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *recordingObserver) FinishTask(outcome string, _ time.Duration) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, outcome)
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveQueueLag(time.Duration) {}

func evidenceRecord(id, doc string, kind domain.RecordKind, pos int, text string, score float64) domain.ScoredRecord {
	return domain.ScoredRecord{
		Record: domain.VectorRecord{
			ID:         id,
			DocumentID: doc,
			Filename:   doc + ".docx",
			Kind:       kind,
			Position:   pos,
			Content:    text,
			CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		Score: score,
	}
}
