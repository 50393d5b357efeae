package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
	"github.com/kirillkom/manual-assistant/internal/core/ports"
)

const (
	defaultGenerationAttempts = 3
	defaultGenerationBackoff  = 500 * time.Millisecond
)

// errConsumerStopped aborts generation after the consumer stopped ranging.
var errConsumerStopped = errors.New("answer consumer stopped")

type SynthesizerOptions struct {
	// MinEvidenceScore declines to answer when the best evidence scores below it.
	MinEvidenceScore  float64
	GenerationTimeout time.Duration
	Attempts          uint
	Backoff           time.Duration
}

// Synthesizer turns ranked evidence into a streamed, step-by-step answer.
type Synthesizer struct {
	generator ports.AnswerGenerator
	prompts   domain.Prompts
	opts      SynthesizerOptions
}

func NewSynthesizer(generator ports.AnswerGenerator, prompts domain.Prompts, opts SynthesizerOptions) *Synthesizer {
	if opts.Attempts == 0 {
		opts.Attempts = defaultGenerationAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultGenerationBackoff
	}
	return &Synthesizer{generator: generator, prompts: prompts.Merge(), opts: opts}
}

func (s *Synthesizer) Decline() *domain.AnswerStream {
	return domain.StaticAnswer(s.prompts.Decline)
}

// Generate returns a lazy stream: the model is called when the caller starts
// ranging over the fragments, and stopping early cancels the call.
func (s *Synthesizer) Generate(ctx context.Context, question string, evidence []domain.Evidence) *domain.AnswerStream {
	if len(evidence) == 0 || bestScore(evidence) < s.opts.MinEvidenceScore {
		slog.Info("answer_declined", "evidence", len(evidence))
		return s.Decline()
	}

	prompt := s.prompts.RenderAnswer(question, evidence)
	sources := append([]domain.Evidence(nil), evidence...)

	return domain.NewAnswerStream(sources, func(yield func(string, error) bool) {
		genCtx, cancel := withOptionalTimeout(ctx, s.opts.GenerationTimeout)
		defer cancel()

		started := false
		stopped := false
		emit := func(fragment string) error {
			if stopped {
				return errConsumerStopped
			}
			if fragment == "" {
				return nil
			}
			started = true
			if !yield(fragment, nil) {
				stopped = true
				cancel()
				return errConsumerStopped
			}
			return nil
		}

		err := retry.Do(
			func() error {
				return s.generator.GenerateStream(genCtx, prompt, emit)
			},
			retry.Context(genCtx),
			retry.Attempts(s.opts.Attempts),
			retry.Delay(s.opts.Backoff),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool {
				return !started && !stopped && retryableGeneration(err)
			}),
			retry.OnRetry(func(attempt uint, err error) {
				slog.Warn("generation_retry", "attempt", attempt+1, "error", err)
			}),
		)
		if stopped || err == nil {
			return
		}
		slog.Error("generation_failed", "started", started, "error", err)
		yield("", domain.WrapError(domain.ErrGeneration, "generate answer", err))
	})
}

func retryableGeneration(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !domain.IsKind(err, domain.ErrInvalidInput)
}

func bestScore(evidence []domain.Evidence) float64 {
	best := evidence[0].Score
	for _, ev := range evidence[1:] {
		if ev.Score > best {
			best = ev.Score
		}
	}
	return best
}
