package nats

import (
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
	"github.com/kirillkom/manual-assistant/internal/infrastructure/resilience"
)

// Connection-level failures are worth retrying; nats.go reconnects in the
// background. Everything else is a bad subject or payload.
func classifyNATSError(err error) resilience.ErrorClassification {
	if class, ok := resilience.ClassifyCommon(err); ok {
		return class
	}
	if errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrConnectionReconnecting) ||
		errors.Is(err, nats.ErrDisconnected) {
		return resilience.Transient
	}
	return resilience.Permanent
}

// wrapExternalIfNeeded tags broker outages as ErrExternalService. A lost
// notification is harmless because workers also poll.
func wrapExternalIfNeeded(err error) error {
	if err == nil || domain.IsKind(err, domain.ErrExternalService) {
		return err
	}
	if classifyNATSError(err).Retryable {
		return domain.WrapError(domain.ErrExternalService, "nats", err)
	}
	return err
}
