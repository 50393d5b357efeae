package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrExtraction        = errors.New("extraction failed")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrEmptyIndex        = errors.New("no documentation indexed")
	ErrExternalService   = errors.New("external service failure")
	ErrGeneration        = errors.New("answer generation failed")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrTaskNotFound      = errors.New("image task not found")
	ErrStreamConsumed    = errors.New("answer stream already consumed")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
