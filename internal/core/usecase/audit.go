package usecase

import (
	"context"
	"fmt"

	"github.com/akarpov/archivarius/internal/core/domain"
	"github.com/akarpov/archivarius/internal/core/ports"
)

// AuditUseCase exposes ledger verification and compliance export. A failed
// verification is surfaced as ErrChainIntegrity: fatal, for administrators,
// never auto-recovered.
type AuditUseCase struct {
	ledger ports.AuditLedger
}

func NewAuditUseCase(ledger ports.AuditLedger) *AuditUseCase {
	return &AuditUseCase{ledger: ledger}
}

func (uc *AuditUseCase) Verify(ctx context.Context, from, to uint64) (domain.VerifyResult, error) {
	result, err := uc.ledger.VerifyRange(ctx, from, to)
	if err != nil {
		return domain.VerifyResult{}, fmt.Errorf("verify audit range [%d,%d]: %w", from, to, err)
	}
	if !result.OK {
		return result, domain.WrapError(domain.ErrChainIntegrity, "verify audit range",
			fmt.Errorf("chain broken at seq %d", result.FirstBadSeq))
	}
	return result, nil
}

// Export streams matching entries in sequence order through fn. The cursor is
// the sequence number itself, so a consumer can restart from where it left off.
func (uc *AuditUseCase) Export(ctx context.Context, from, to uint64, filter domain.AuditFilter, fn func(domain.AuditEntry) error) error {
	if err := uc.ledger.ExportRange(ctx, from, to, filter, fn); err != nil {
		return fmt.Errorf("export audit range [%d,%d]: %w", from, to, err)
	}
	return nil
}
