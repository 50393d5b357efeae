package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

func fastConfig(attempts int, breaker bool) Config {
	return Config{
		Retry: RetryPolicy{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
		Breaker: BreakerPolicy{
			Enabled:          breaker,
			MinRequests:      2,
			FailureRatio:     0.5,
			OpenTimeout:      50 * time.Millisecond,
			HalfOpenMaxCalls: 1,
		},
	}
}

func TestExecuteRetriesTransientUpstreamFailure(t *testing.T) {
	exec := NewExecutor(fastConfig(3, false))

	attempts := 0
	err := exec.Execute(context.Background(), "ollama.embed", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return domain.WrapError(domain.ErrExternalService, "embed", errors.New("model loading"))
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryInvalidInput(t *testing.T) {
	exec := NewExecutor(fastConfig(3, false))

	attempts := 0
	errBad := domain.WrapError(domain.ErrInvalidInput, "embed", errors.New("empty text"))
	err := exec.Execute(context.Background(), "ollama.embed", func(context.Context) error {
		attempts++
		return errBad
	}, nil)
	if !errors.Is(err, errBad) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteUsesOperationOverride(t *testing.T) {
	cfg := fastConfig(1, false)
	cfg.Operations = map[string]RetryPolicy{"ollama.describe": {MaxAttempts: 4}}
	exec := NewExecutor(cfg)

	attempts := 0
	_ = exec.Execute(context.Background(), "ollama.describe", func(context.Context) error {
		attempts++
		return domain.ErrExternalService
	}, nil)
	if attempts != 4 {
		t.Fatalf("expected override of 4 attempts, got %d", attempts)
	}

	attempts = 0
	_ = exec.Execute(context.Background(), "ollama.embed", func(context.Context) error {
		attempts++
		return domain.ErrExternalService
	}, nil)
	if attempts != 1 {
		t.Fatalf("expected default of 1 attempt, got %d", attempts)
	}
}

func TestExecuteStopsOnCancelledContext(t *testing.T) {
	exec := NewExecutor(Config{
		Retry:   RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour},
		Breaker: BreakerPolicy{Enabled: false},
	})
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- exec.Execute(ctx, "nats.publish", func(context.Context) error {
			attempts++
			cancel()
			return domain.ErrExternalService
		}, nil)
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected error after cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Execute did not stop on cancelled context")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(fastConfig(1, true))

	errDown := errors.New("connection refused")
	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "ollama.generate", func(context.Context) error {
			return errDown
		}, nil)
		if !errors.Is(err, errDown) {
			t.Fatalf("expected upstream error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "ollama.generate", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, nil)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrExternalService) {
		t.Fatalf("expected open circuit to surface as ErrExternalService, got %v", err)
	}

	// Breakers are per operation.
	if err := exec.Execute(context.Background(), "ollama.embed", func(context.Context) error { return nil }, nil); err != nil {
		t.Fatalf("expected independent breaker for other operation, got %v", err)
	}
}

func TestCallerErrorsDoNotTripBreaker(t *testing.T) {
	exec := NewExecutor(fastConfig(1, true))
	for i := 0; i < 5; i++ {
		_ = exec.Execute(context.Background(), "ollama.embed", func(context.Context) error {
			return domain.WrapError(domain.ErrDimensionMismatch, "embed", fmt.Errorf("got %d", i))
		}, nil)
	}
	called := false
	err := exec.Execute(context.Background(), "ollama.embed", func(context.Context) error {
		called = true
		return nil
	}, nil)
	if err != nil || !called {
		t.Fatalf("expected closed breaker, got called=%v err=%v", called, err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorClassification
	}{
		{"cancelled", context.Canceled, Ignored},
		{"invalid input", domain.ErrInvalidInput, Ignored},
		{"external", domain.WrapError(domain.ErrExternalService, "x", errors.New("503")), Transient},
		{"open circuit", gobreaker.ErrOpenState, Transient},
		{"unknown", errors.New("boom"), Permanent},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("%s: Classify() = %+v, want %+v", tc.name, got, tc.want)
		}
	}
}
