package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/akarpov/archivarius/internal/core/domain"
	"github.com/akarpov/archivarius/internal/core/ports"
	"github.com/akarpov/archivarius/internal/infrastructure/resilience"
)

func classifyNATSError(err error) ports.RetryClass {
	if err == nil {
		return ports.RetryClass{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ports.RetryClass{
			Retryable:     false,
			RecordFailure: false,
		}
	}
	if resilience.IsCircuitOpen(err) {
		return ports.RetryClass{
			Retryable:     true,
			RecordFailure: true,
		}
	}
	if errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrDisconnected) {
		return ports.RetryClass{
			Retryable:     true,
			RecordFailure: true,
		}
	}

	return ports.RetryClass{
		Retryable:     false,
		RecordFailure: true,
	}
}

func wrapTransientIfNeeded(err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTransientProvider) {
		return err
	}
	class := classifyNATSError(err)
	if class.Retryable || resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTransientProvider, "nats publish", err)
	}
	return err
}
