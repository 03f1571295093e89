package ports

import (
	"context"

	"github.com/akarpov/archivarius/internal/core/domain"
)

// DocumentEnqueuer is the inbound contract the document service uses to
// submit a document for processing.
type DocumentEnqueuer interface {
	Enqueue(ctx context.Context, documentID, contentRef string) (*domain.Job, error)
}

// DocumentProcessor drives one job from pickup to a resting state.
type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, documentID string) error
}

// JobReader is the inbound read model for job state.
type JobReader interface {
	GetByID(ctx context.Context, documentID string) (*domain.Job, error)
}

// ReviewService handles manual decisions on suspended jobs.
type ReviewService interface {
	Override(ctx context.Context, documentID string, stage domain.Stage, output, actor string) error
	Confirm(ctx context.Context, documentID, actor string) error
	Abort(ctx context.Context, documentID, actor string) error
}

// DeadLetterAdmin is the administrative surface over the dead-letter queue.
type DeadLetterAdmin interface {
	List(ctx context.Context) ([]domain.DeadLetter, error)
	Redrive(ctx context.Context, documentID, actor string) error
	Discard(ctx context.Context, documentID, actor string) error
}

// AuditService exposes ledger verification and compliance export.
type AuditService interface {
	Verify(ctx context.Context, from, to uint64) (domain.VerifyResult, error)
	Export(ctx context.Context, from, to uint64, filter domain.AuditFilter, fn func(domain.AuditEntry) error) error
}
