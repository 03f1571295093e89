package ports

import (
	"context"
	"io"
	"time"

	"github.com/akarpov/archivarius/internal/core/domain"
)

// StageRequest is the uniform input handed to a stage provider: a content
// reference for extraction, upstream text for everything after it.
type StageRequest struct {
	DocumentID string
	ContentRef string
	Text       string
	Translated bool
	Category   string
}

// StageProvider is the uniform contract each AI capability implements.
// Providers must be idempotent-safe to retry: repeated identical calls have
// no side effects beyond their own output.
type StageProvider interface {
	Execute(ctx context.Context, req StageRequest) (domain.StageResult, error)
}

// UntranslatedAware lets a classification provider declare whether it accepts
// original-language text when translation was skipped.
type UntranslatedAware interface {
	AcceptsUntranslated() bool
}

// JobStore is the durable record of each document's pipeline progress.
// Writes are serialized per document by the lease; reads are concurrent.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, documentID string) (*domain.Job, error)
	Update(ctx context.Context, job *domain.Job) error
	// UpdateOwned persists the job only while owner still holds an unexpired
	// lease. Losing the lease mid-flight (administrative abort, expiry
	// takeover) yields ErrLeaseConflict so the stale writer stops.
	UpdateOwned(ctx context.Context, job *domain.Job, owner string) error

	// AcquireLease grants exclusive ownership of the job to owner for ttl.
	// A held, unexpired lease by another owner yields ErrLeaseConflict.
	AcquireLease(ctx context.Context, documentID, owner string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, documentID, owner string) error
	// ClearLease force-releases regardless of owner (administrative abort).
	ClearLease(ctx context.Context, documentID string) error

	// ArchiveSettledBefore moves completed jobs older than cutoff out of the
	// live table. Returns the number of jobs archived.
	ArchiveSettledBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditLedger is the append-only, hash-chained event log. Append is the one
// cross-document serialization point; it is atomic and never leaves a
// partially written entry behind.
type AuditLedger interface {
	Append(ctx context.Context, ev domain.AuditEvent) (domain.AuditEntry, error)
	Head(ctx context.Context) (*domain.AuditEntry, error)
	LastForDocument(ctx context.Context, documentID string) (*domain.AuditEntry, error)
	VerifyRange(ctx context.Context, from, to uint64) (domain.VerifyResult, error)
	ExportRange(ctx context.Context, from, to uint64, filter domain.AuditFilter, fn func(domain.AuditEntry) error) error
	// ArchiveBefore moves entries older than cutoff to the archive wholesale;
	// hashes already emitted are untouched.
	ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DeadLetterQueue holds jobs that exhausted retries until manual intervention.
type DeadLetterQueue interface {
	Push(ctx context.Context, dl domain.DeadLetter) error
	List(ctx context.Context) ([]domain.DeadLetter, error)
	Get(ctx context.Context, documentID string) (*domain.DeadLetter, error)
	Remove(ctx context.Context, documentID string) error
}

// MessageQueue carries enqueued-job events to workers and settled-job
// callbacks to the document service.
type MessageQueue interface {
	PublishJobEnqueued(ctx context.Context, documentID string) error
	SubscribeJobEnqueued(ctx context.Context, handler func(context.Context, string) error) error
	PublishJobSettled(ctx context.Context, settled domain.JobSettled) error
}

// ObjectStorage resolves content references for local stage providers. The
// archive's real blob store sits behind the remote providers.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// RetryClass labels one failed attempt for the retry executor.
type RetryClass struct {
	Retryable     bool
	RecordFailure bool
}

// RetryClassifier maps an attempt error to its retry class.
type RetryClassifier func(err error) RetryClass

// RetryObserver fires after every failed attempt, before any backoff sleep.
// backoff is zero when no further attempt follows.
type RetryObserver func(attempt int, err error, backoff time.Duration)

// RetryExecutor wraps a stage invocation with bounded retries, exponential
// backoff with jitter, and a circuit breaker per operation.
type RetryExecutor interface {
	Execute(ctx context.Context, operation string, fn func(context.Context) error, classify RetryClassifier, observe RetryObserver) error
}
