package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

var (
	// Transient failures are retried and count against the breaker.
	Transient = ErrorClassification{Retryable: true, RecordFailure: true}
	// Permanent failures count against the breaker but are not retried.
	Permanent = ErrorClassification{Retryable: false, RecordFailure: true}
	// Ignored failures are the caller's fault and leave the breaker alone.
	Ignored = ErrorClassification{Retryable: false, RecordFailure: false}
)

// ClassifyCommon handles the cases every upstream shares. ok is false when
// the caller must classify err itself.
func ClassifyCommon(err error) (class ErrorClassification, ok bool) {
	switch {
	case err == nil:
		return ErrorClassification{}, true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Ignored, true
	case IsCircuitOpen(err):
		return Transient, true
	case domain.IsKind(err, domain.ErrInvalidInput), domain.IsKind(err, domain.ErrDimensionMismatch):
		return Ignored, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient, true
	}
	return ErrorClassification{}, false
}

// Classify is the default classifier: shared cases first, then anything
// tagged ErrExternalService is transient and the rest is permanent.
func Classify(err error) ErrorClassification {
	if class, ok := ClassifyCommon(err); ok {
		return class
	}
	if domain.IsKind(err, domain.ErrExternalService) {
		return Transient
	}
	return Permanent
}

// ClassifyHTTPStatus treats timeouts, throttling and server errors as
// transient. Other statuses are the request's fault.
func ClassifyHTTPStatus(code int) ErrorClassification {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return Transient
	default:
		return Ignored
	}
}

// WrapExternal tags an upstream failure as ErrExternalService. Caller
// cancellation and errors that already carry a domain kind pass through.
func WrapExternal(operation string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrExternalService) || domain.IsKind(err, domain.ErrInvalidInput) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.WrapError(domain.ErrExternalService, operation, err)
}
