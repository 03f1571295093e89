package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/akarpov/archivarius/internal/config"
	"github.com/akarpov/archivarius/internal/core/domain"
	"github.com/akarpov/archivarius/internal/core/ports"
)

// ReviewUseCase carries manual decisions on suspended jobs: overriding a
// stage result, confirming a flagged one, or aborting the job outright.
type ReviewUseCase struct {
	jobs     ports.JobStore
	ledger   ports.AuditLedger
	dlq      ports.DeadLetterQueue
	queue    ports.MessageQueue
	pipeline config.Pipeline
	log      *slog.Logger
}

func NewReviewUseCase(
	jobs ports.JobStore,
	ledger ports.AuditLedger,
	dlq ports.DeadLetterQueue,
	queue ports.MessageQueue,
	pipeline config.Pipeline,
	log *slog.Logger,
) *ReviewUseCase {
	if log == nil {
		log = slog.Default()
	}
	return &ReviewUseCase{jobs: jobs, ledger: ledger, dlq: dlq, queue: queue, pipeline: pipeline, log: log}
}

// Override submits a stage result directly, bypassing the provider. Modeled
// as a synthetic successful result with confidence 1.0 attributed to the
// submitting actor; the state machine resumes at the next stage.
func (uc *ReviewUseCase) Override(ctx context.Context, documentID string, stage domain.Stage, output, actor string) error {
	if actor == "" || actor == domain.ActorSystem {
		return domain.WrapError(domain.ErrUnauthorized, "override stage result", errors.New("an authorized actor is required"))
	}

	job, err := uc.jobs.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", documentID, err)
	}
	if job.Status != domain.StatusNeedsReview && job.Status != domain.StatusDeadLettered {
		return domain.WrapError(domain.ErrInvalidInput, "override stage result",
			fmt.Errorf("job is %s, override requires needs_review or dead_lettered", job.Status))
	}
	if !job.HasStage(stage) {
		return domain.WrapError(domain.ErrInvalidInput, "override stage result",
			fmt.Errorf("stage %s is not part of the job's sequence", stage))
	}

	wasDeadLettered := job.Status == domain.StatusDeadLettered

	applyOutput(job, stage, output)
	job.ConfidenceScores[stage] = 1.0
	job.LastError = ""
	if stage == domain.StageTranslation {
		job.TranslationSkipped = false
	}

	return uc.resume(ctx, job, stage, domain.AuditEvent{
		DocumentID: documentID,
		Stage:      stage,
		EventType:  domain.EventOverridden,
		Actor:      actor,
		Payload:    domain.AuditPayload{Confidence: ptr(1.0)},
	}, wasDeadLettered)
}

// Confirm accepts a flagged stage result as-is. The provider's output was
// already folded into the job when it was flagged; confirmation only unblocks
// the state machine, keeping the original confidence score on record.
func (uc *ReviewUseCase) Confirm(ctx context.Context, documentID, actor string) error {
	if actor == "" || actor == domain.ActorSystem {
		return domain.WrapError(domain.ErrUnauthorized, "confirm stage result", errors.New("an authorized actor is required"))
	}

	job, err := uc.jobs.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", documentID, err)
	}
	if job.Status != domain.StatusNeedsReview {
		return domain.WrapError(domain.ErrInvalidInput, "confirm stage result",
			fmt.Errorf("job is %s, confirm requires needs_review", job.Status))
	}

	stage := job.CurrentStage
	score := job.ConfidenceScores[stage]
	return uc.resume(ctx, job, stage, domain.AuditEvent{
		DocumentID: documentID,
		Stage:      stage,
		EventType:  domain.EventOverridden,
		Actor:      actor,
		Payload:    domain.AuditPayload{Confidence: &score, Note: "flagged result confirmed"},
	}, false)
}

// Abort cancels an in-flight job administratively: straight to dead-lettered
// with an aborted entry, and the lease is force-released so no worker keeps
// driving it.
func (uc *ReviewUseCase) Abort(ctx context.Context, documentID, actor string) error {
	if actor == "" || actor == domain.ActorSystem {
		return domain.WrapError(domain.ErrUnauthorized, "abort job", errors.New("an authorized actor is required"))
	}

	job, err := uc.jobs.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", documentID, err)
	}
	if job.Status == domain.StatusCompleted || job.Status == domain.StatusDeadLettered {
		return domain.WrapError(domain.ErrInvalidInput, "abort job",
			fmt.Errorf("job is already %s", job.Status))
	}

	job.Status = domain.StatusDeadLettered
	job.LastError = "aborted by " + actor
	if err := uc.commit(ctx, job, domain.AuditEvent{
		DocumentID: documentID,
		Stage:      job.CurrentStage,
		EventType:  domain.EventAborted,
		Actor:      actor,
	}); err != nil {
		return err
	}
	if err := uc.dlq.Push(ctx, domain.DeadLetter{
		DocumentID: documentID,
		Stage:      job.CurrentStage,
		LastError:  job.LastError,
		Attempts:   job.Attempts[job.CurrentStage],
		CreatedAt:  job.UpdatedAt,
	}); err != nil {
		return fmt.Errorf("enqueue dead letter for %s: %w", documentID, err)
	}
	if err := uc.jobs.ClearLease(ctx, documentID); err != nil {
		uc.log.Error("clear_lease_failed", "document_id", documentID, "error", err)
	}
	uc.notifySettled(ctx, job)
	return nil
}

// resume moves the job past the decided stage and either completes it or
// re-enqueues it for a worker to pick up the remaining sequence.
func (uc *ReviewUseCase) resume(ctx context.Context, job *domain.Job, stage domain.Stage, ev domain.AuditEvent, wasDeadLettered bool) error {
	job.CurrentStage = job.StageAfter(stage)
	if job.CurrentStage == domain.StageDone {
		job.Status = domain.StatusCompleted
	} else {
		job.Status = domain.StatusQueued
	}

	if err := uc.commit(ctx, job, ev); err != nil {
		return err
	}
	if wasDeadLettered {
		if err := uc.dlq.Remove(ctx, job.DocumentID); err != nil {
			uc.log.Error("remove_dead_letter_failed", "document_id", job.DocumentID, "error", err)
		}
	}

	if job.Status == domain.StatusCompleted {
		uc.notifySettled(ctx, job)
		return nil
	}
	if err := uc.queue.PublishJobEnqueued(ctx, job.DocumentID); err != nil {
		return fmt.Errorf("re-enqueue job %s: %w", job.DocumentID, err)
	}
	return nil
}

func (uc *ReviewUseCase) commit(ctx context.Context, job *domain.Job, ev domain.AuditEvent) error {
	job.UpdatedAt = nowUTC()
	if err := uc.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("persist job %s: %w", job.DocumentID, err)
	}
	return appendWithRetry(ctx, uc.ledger, ev)
}

func (uc *ReviewUseCase) notifySettled(ctx context.Context, job *domain.Job) {
	if err := uc.queue.PublishJobSettled(ctx, domain.Settled(job)); err != nil {
		uc.log.Error("publish_settled_failed", "document_id", job.DocumentID, "status", job.Status, "error", err)
	}
}

func ptr(f float64) *float64 { return &f }
