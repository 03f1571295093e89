package domain

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTransientProvider marks retryable stage failures (network, timeout).
	ErrTransientProvider = errors.New("transient provider failure")
	// ErrPermanentProvider marks failures retrying cannot fix (malformed input).
	ErrPermanentProvider = errors.New("permanent provider failure")

	// ErrLeaseConflict: another worker holds the document's live job.
	ErrLeaseConflict = errors.New("lease conflict")
	// ErrAppendConflict: a ledger append raced for the same sequence number.
	ErrAppendConflict = errors.New("concurrent append conflict")
	// ErrChainIntegrity: verification found a broken hash chain. Fatal,
	// surfaced to administrators, never auto-recovered.
	ErrChainIntegrity = errors.New("audit chain integrity violation")
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
