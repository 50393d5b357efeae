package ollama

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

func TestClassifyOllamaError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{name: "canceled", err: context.Canceled},
		{name: "model loading", err: &HTTPStatusError{StatusCode: http.StatusServiceUnavailable}, retryable: true, record: true},
		{name: "throttled", err: &HTTPStatusError{StatusCode: http.StatusTooManyRequests}, retryable: true, record: true},
		{name: "model not pulled", err: &HTTPStatusError{StatusCode: http.StatusNotFound}},
		{name: "bad request", err: &HTTPStatusError{StatusCode: http.StatusBadRequest}},
		{name: "decode failure", err: errors.New("invalid character"), record: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			class := classifyOllamaError(tc.err)
			if class.Retryable != tc.retryable || class.RecordFailure != tc.record {
				t.Fatalf("unexpected classification %+v", class)
			}
		})
	}
}

func TestWrapExternalKeepsCancellation(t *testing.T) {
	if err := wrapExternalIfNeeded("ollama embed", context.Canceled); domain.IsKind(err, domain.ErrExternalService) {
		t.Fatalf("did not expect cancellation to be wrapped, got %v", err)
	}
	err := wrapExternalIfNeeded("ollama embed", &HTTPStatusError{Operation: "embed", StatusCode: 500, Status: "500 Internal Server Error"})
	if !domain.IsKind(err, domain.ErrExternalService) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
}
