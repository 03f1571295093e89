package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/akarpov/archivarius/internal/core/domain"
	"github.com/akarpov/archivarius/internal/core/ports"
)

// DeadLetterAdminUseCase is the manual intervention surface over the DLQ.
// Re-drive and discard are both audited; neither deletes partial results.
type DeadLetterAdminUseCase struct {
	jobs   ports.JobStore
	ledger ports.AuditLedger
	dlq    ports.DeadLetterQueue
	queue  ports.MessageQueue
	log    *slog.Logger
}

func NewDeadLetterAdminUseCase(
	jobs ports.JobStore,
	ledger ports.AuditLedger,
	dlq ports.DeadLetterQueue,
	queue ports.MessageQueue,
	log *slog.Logger,
) *DeadLetterAdminUseCase {
	if log == nil {
		log = slog.Default()
	}
	return &DeadLetterAdminUseCase{jobs: jobs, ledger: ledger, dlq: dlq, queue: queue, log: log}
}

func (uc *DeadLetterAdminUseCase) List(ctx context.Context) ([]domain.DeadLetter, error) {
	letters, err := uc.dlq.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return letters, nil
}

// Redrive resets the failing stage's attempt count and re-enqueues the job at
// that stage, letting it reach completion if the failure condition cleared.
func (uc *DeadLetterAdminUseCase) Redrive(ctx context.Context, documentID, actor string) error {
	if actor == "" {
		actor = domain.ActorSystem
	}

	dl, err := uc.dlq.Get(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load dead letter %s: %w", documentID, err)
	}

	job, err := uc.jobs.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", documentID, err)
	}
	if job.Status != domain.StatusDeadLettered {
		return domain.WrapError(domain.ErrInvalidInput, "re-drive job",
			fmt.Errorf("job is %s, re-drive requires dead_lettered", job.Status))
	}

	job.Attempts[dl.Stage] = 0
	job.CurrentStage = dl.Stage
	job.Status = domain.StatusQueued
	job.LastError = ""
	job.UpdatedAt = nowUTC()

	if err := uc.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("persist job %s: %w", documentID, err)
	}
	if err := appendWithRetry(ctx, uc.ledger, domain.AuditEvent{
		DocumentID: documentID,
		Stage:      dl.Stage,
		EventType:  domain.EventRedriven,
		Actor:      actor,
	}); err != nil {
		return err
	}
	if err := uc.dlq.Remove(ctx, documentID); err != nil {
		return fmt.Errorf("remove dead letter %s: %w", documentID, err)
	}
	if err := uc.queue.PublishJobEnqueued(ctx, documentID); err != nil {
		return fmt.Errorf("re-enqueue job %s: %w", documentID, err)
	}
	return nil
}

// Discard permanently abandons automatic processing of a dead-lettered job.
// It requires an authorized actor and leaves the job record (and all partial
// results) in place.
func (uc *DeadLetterAdminUseCase) Discard(ctx context.Context, documentID, actor string) error {
	if actor == "" || actor == domain.ActorSystem {
		return domain.WrapError(domain.ErrUnauthorized, "discard dead letter", errors.New("an authorized actor is required"))
	}

	dl, err := uc.dlq.Get(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load dead letter %s: %w", documentID, err)
	}

	if err := appendWithRetry(ctx, uc.ledger, domain.AuditEvent{
		DocumentID: documentID,
		Stage:      dl.Stage,
		EventType:  domain.EventDiscarded,
		Actor:      actor,
		Payload:    domain.AuditPayload{Error: dl.LastError},
	}); err != nil {
		return err
	}
	if err := uc.dlq.Remove(ctx, documentID); err != nil {
		return fmt.Errorf("remove dead letter %s: %w", documentID, err)
	}
	uc.log.Info("dead_letter_discarded", "document_id", documentID, "actor", actor)
	return nil
}
