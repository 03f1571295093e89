package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/akarpov/archivarius/internal/config"
	"github.com/akarpov/archivarius/internal/core/domain"
	"github.com/akarpov/archivarius/internal/core/ports"
)

// Orchestrator drives one document's job through its stage sequence: invoking
// providers through the retry executor, consulting the confidence router,
// persisting every transition to the job store, and appending exactly one
// audit entry per transition, in that order.
type Orchestrator struct {
	jobs      ports.JobStore
	ledger    ports.AuditLedger
	dlq       ports.DeadLetterQueue
	queue     ports.MessageQueue
	providers map[domain.Stage]ports.StageProvider
	exec      ports.RetryExecutor
	pipeline  config.Pipeline
	workerID  string
	log       *slog.Logger
}

func NewOrchestrator(
	jobs ports.JobStore,
	ledger ports.AuditLedger,
	dlq ports.DeadLetterQueue,
	queue ports.MessageQueue,
	providers map[domain.Stage]ports.StageProvider,
	exec ports.RetryExecutor,
	pipeline config.Pipeline,
	workerID string,
	log *slog.Logger,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		jobs:      jobs,
		ledger:    ledger,
		dlq:       dlq,
		queue:     queue,
		providers: providers,
		exec:      exec,
		pipeline:  pipeline,
		workerID:  workerID,
		log:       log,
	}
}

// ProcessDocument owns the job from pickup to a resting state. Stage-local
// failures are absorbed into state transitions; only storage and ledger
// failures (and context cancellation) propagate.
func (o *Orchestrator) ProcessDocument(ctx context.Context, documentID string) error {
	if err := o.jobs.AcquireLease(ctx, documentID, o.workerID, o.pipeline.LeaseTTL.Std()); err != nil {
		return fmt.Errorf("acquire lease for %s: %w", documentID, err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := o.jobs.ReleaseLease(releaseCtx, documentID, o.workerID); err != nil {
			o.log.Error("release_lease_failed", "document_id", documentID, "error", err)
		}
	}()

	job, err := o.jobs.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", documentID, err)
	}
	if err := o.replayMissedAudit(ctx, job); err != nil {
		return err
	}
	if job.Status.Resting() {
		return nil
	}

	for job.CurrentStage != domain.StageDone && !job.Status.Resting() {
		if err := o.runStage(ctx, job); err != nil {
			return err
		}
	}

	if job.Status.Resting() {
		o.notifySettled(ctx, job)
	}
	return nil
}

// runStage executes the job's current stage and applies exactly one outcome
// transition: advance, review, degradation, or dead-letter.
func (o *Orchestrator) runStage(ctx context.Context, job *domain.Job) error {
	stage := job.CurrentStage

	job.Status = domain.RunningStatus(stage)
	if err := o.commit(ctx, job, domain.AuditEvent{
		DocumentID: job.DocumentID,
		Stage:      stage,
		EventType:  domain.EventStarted,
		Actor:      domain.ActorSystem,
	}); err != nil {
		return err
	}

	provider, ok := o.providers[stage]
	if !ok {
		err := domain.WrapError(domain.ErrPermanentProvider, "resolve provider",
			fmt.Errorf("no provider registered for stage %s", stage))
		return o.failStage(ctx, job, err)
	}

	req := o.stageRequest(job)
	var result domain.StageResult
	err := o.exec.Execute(ctx, "stage."+string(stage), func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, o.pipeline.StageTimeout.Std())
		defer cancel()
		r, err := provider.Execute(attemptCtx, req)
		if err != nil {
			return err
		}
		result = r
		return nil
	}, classifyProviderError, func(_ int, attemptErr error, _ time.Duration) {
		job.Attempts[stage]++
		job.LastError = attemptErr.Error()
		if commitErr := o.commit(ctx, job, domain.AuditEvent{
			DocumentID: job.DocumentID,
			Stage:      stage,
			EventType:  domain.EventRetried,
			Actor:      domain.ActorSystem,
			Payload:    domain.AuditPayload{Attempt: job.Attempts[stage], Error: attemptErr.Error()},
		}); commitErr != nil {
			o.log.Error("record_retry_failed", "document_id", job.DocumentID, "stage", stage, "error", commitErr)
		}
	})

	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			// Shutdown, not a stage verdict. The lease expires and another
			// worker resumes from the last committed state.
			return err
		}
		return o.failStage(ctx, job, err)
	}

	return o.succeedStage(ctx, job, result)
}

// succeedStage folds a provider success into the job and routes on confidence.
func (o *Orchestrator) succeedStage(ctx context.Context, job *domain.Job, result domain.StageResult) error {
	stage := job.CurrentStage
	job.ConfidenceScores[stage] = result.Confidence
	job.LastError = ""
	applyOutput(job, stage, result.Output)

	threshold, blocking := o.pipeline.ThresholdFor(stage)
	if blocking && Route(stage, result.Confidence, threshold) == DecisionReview {
		job.Status = domain.StatusNeedsReview
		return o.commit(ctx, job, domain.AuditEvent{
			DocumentID: job.DocumentID,
			Stage:      stage,
			EventType:  domain.EventFlagged,
			Actor:      domain.ActorSystem,
			Payload:    domain.AuditPayload{Confidence: &result.Confidence},
		})
	}

	o.advance(job)
	return o.commit(ctx, job, domain.AuditEvent{
		DocumentID: job.DocumentID,
		Stage:      stage,
		EventType:  domain.EventSucceeded,
		Actor:      domain.ActorSystem,
		Payload:    domain.AuditPayload{Confidence: &result.Confidence},
	})
}

// failStage applies the stage-specific degradation rules after retries are
// exhausted or the failure is permanent.
func (o *Orchestrator) failStage(ctx context.Context, job *domain.Job, stageErr error) error {
	stage := job.CurrentStage
	job.LastError = stageErr.Error()
	permanent := domain.IsKind(stageErr, domain.ErrPermanentProvider)

	switch {
	case stage == domain.StageTranslation && permanent:
		// The original-language text stays authoritative; classification
		// proceeds on it when the classifier can take untranslated input.
		job.TranslationSkipped = true
		if o.classifierAcceptsUntranslated() {
			o.advance(job)
			return o.commit(ctx, job, domain.AuditEvent{
				DocumentID: job.DocumentID,
				Stage:      stage,
				EventType:  domain.EventSkipped,
				Actor:      domain.ActorSystem,
				Payload:    domain.AuditPayload{Error: stageErr.Error(), Note: "original-language text kept authoritative"},
			})
		}
		job.Status = domain.StatusNeedsReview
		return o.commit(ctx, job, domain.AuditEvent{
			DocumentID: job.DocumentID,
			Stage:      stage,
			EventType:  domain.EventFlagged,
			Actor:      domain.ActorSystem,
			Payload:    domain.AuditPayload{Error: stageErr.Error(), Note: "manual translation required"},
		})

	case stage == domain.StageClassification:
		// Classification failure never blocks archival: assign the fallback
		// category and hand the document to a reviewer. CurrentStage stays at
		// classification, like any other flag, so a confirm or override
		// resumes into finalize rather than past it.
		job.Category = o.pipeline.FallbackCategory
		job.Status = domain.StatusNeedsReview
		return o.commit(ctx, job, domain.AuditEvent{
			DocumentID: job.DocumentID,
			Stage:      stage,
			EventType:  domain.EventFlagged,
			Actor:      domain.ActorSystem,
			Payload:    domain.AuditPayload{Error: stageErr.Error(), Note: "fallback category assigned: " + job.Category},
		})

	default:
		job.Status = domain.StatusDeadLettered
		if err := o.commit(ctx, job, domain.AuditEvent{
			DocumentID: job.DocumentID,
			Stage:      stage,
			EventType:  domain.EventDeadLettered,
			Actor:      domain.ActorSystem,
			Payload:    domain.AuditPayload{Attempt: job.Attempts[stage], Error: stageErr.Error()},
		}); err != nil {
			return err
		}
		if err := o.dlq.Push(ctx, domain.DeadLetter{
			DocumentID: job.DocumentID,
			Stage:      stage,
			LastError:  stageErr.Error(),
			Attempts:   job.Attempts[stage],
			CreatedAt:  time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("enqueue dead letter for %s: %w", job.DocumentID, err)
		}
		return nil
	}
}

func (o *Orchestrator) advance(job *domain.Job) {
	job.CurrentStage = job.StageAfter(job.CurrentStage)
	if job.CurrentStage == domain.StageDone {
		job.Status = domain.StatusCompleted
	}
}

// commit persists the transition and then appends its audit entry. The order
// guarantees the ledger never documents a state the job store does not also
// reflect; a crash between the two steps is caught by replayMissedAudit.
// The write is lease-guarded: if an abort cleared the lease mid-flight, the
// update fails with ErrLeaseConflict and the worker stops instead of
// overwriting the aborted job.
func (o *Orchestrator) commit(ctx context.Context, job *domain.Job, ev domain.AuditEvent) error {
	job.UpdatedAt = nowUTC()
	if err := o.jobs.UpdateOwned(ctx, job, o.workerID); err != nil {
		return fmt.Errorf("persist job %s: %w", job.DocumentID, err)
	}
	return appendWithRetry(ctx, o.ledger, ev)
}

// appendWithRetry retries ConcurrentAppendConflict, the ledger contract's
// only retryable failure.
func appendWithRetry(ctx context.Context, ledger ports.AuditLedger, ev domain.AuditEvent) error {
	var err error
	for i := 0; i < 3; i++ {
		if _, err = ledger.Append(ctx, ev); err == nil {
			return nil
		}
		if !domain.IsKind(err, domain.ErrAppendConflict) {
			break
		}
	}
	return fmt.Errorf("append audit entry for %s: %w", ev.DocumentID, err)
}

// replayMissedAudit closes the crash window between a job store write and its
// audit append: a job state newer than the document's latest ledger entry
// means the entry for that transition was lost and must be replayed.
func (o *Orchestrator) replayMissedAudit(ctx context.Context, job *domain.Job) error {
	last, err := o.ledger.LastForDocument(ctx, job.DocumentID)
	if err != nil {
		return fmt.Errorf("scan ledger for %s: %w", job.DocumentID, err)
	}
	if last == nil {
		if job.Status == domain.StatusQueued {
			return nil
		}
	} else if !job.UpdatedAt.After(last.Timestamp) {
		return nil
	}

	return appendWithRetry(ctx, o.ledger, domain.AuditEvent{
		DocumentID: job.DocumentID,
		Stage:      job.CurrentStage,
		EventType:  eventForStatus(job.Status),
		Actor:      domain.ActorSystem,
		Payload:    domain.AuditPayload{Note: "replayed after recovery"},
	})
}

// nowUTC truncates to microseconds, matching ledger timestamp precision so
// the replay check in replayMissedAudit compares like with like.
func nowUTC() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

func eventForStatus(status domain.JobStatus) domain.EventType {
	switch status {
	case domain.StatusNeedsReview:
		return domain.EventFlagged
	case domain.StatusDeadLettered:
		return domain.EventDeadLettered
	case domain.StatusCompleted:
		return domain.EventSucceeded
	default:
		return domain.EventStarted
	}
}

func (o *Orchestrator) notifySettled(ctx context.Context, job *domain.Job) {
	if err := o.queue.PublishJobSettled(ctx, domain.Settled(job)); err != nil {
		o.log.Error("publish_settled_failed", "document_id", job.DocumentID, "status", job.Status, "error", err)
	}
}

func (o *Orchestrator) stageRequest(job *domain.Job) ports.StageRequest {
	req := ports.StageRequest{
		DocumentID: job.DocumentID,
		ContentRef: job.ContentRef,
		Category:   job.Category,
	}
	switch job.CurrentStage {
	case domain.StageExtraction:
	case domain.StageTranslation:
		req.Text = job.ExtractedText
	default:
		req.Text, req.Translated = job.SourceText()
	}
	return req
}

func (o *Orchestrator) classifierAcceptsUntranslated() bool {
	provider, ok := o.providers[domain.StageClassification]
	if !ok {
		return false
	}
	aware, ok := provider.(ports.UntranslatedAware)
	if !ok {
		return false
	}
	return aware.AcceptsUntranslated()
}

func applyOutput(job *domain.Job, stage domain.Stage, output string) {
	switch stage {
	case domain.StageExtraction:
		job.ExtractedText = output
	case domain.StageTranslation:
		job.TranslatedText = output
	case domain.StageClassification:
		job.Category = output
	}
}

// classifyProviderError maps the error taxonomy onto retry behavior:
// transient failures and timeouts retry, permanent failures return
// immediately, cancellation neither retries nor counts against the breaker.
func classifyProviderError(err error) ports.RetryClass {
	switch {
	case errors.Is(err, context.Canceled):
		return ports.RetryClass{Retryable: false, RecordFailure: false}
	case errors.Is(err, context.DeadlineExceeded):
		return ports.RetryClass{Retryable: true, RecordFailure: true}
	case domain.IsKind(err, domain.ErrPermanentProvider):
		return ports.RetryClass{Retryable: false, RecordFailure: false}
	case domain.IsKind(err, domain.ErrTransientProvider):
		return ports.RetryClass{Retryable: true, RecordFailure: true}
	default:
		return ports.RetryClass{Retryable: true, RecordFailure: true}
	}
}
