package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/akarpov/archivarius/internal/core/domain"
	"github.com/akarpov/archivarius/internal/core/ports"
)

// EnqueueDocumentUseCase validates a submission, creates the job record, and
// hands the document id to the work queue. Validation failures are rejected
// before any job exists.
type EnqueueDocumentUseCase struct {
	jobs  ports.JobStore
	queue ports.MessageQueue
}

func NewEnqueueDocumentUseCase(jobs ports.JobStore, queue ports.MessageQueue) *EnqueueDocumentUseCase {
	return &EnqueueDocumentUseCase{jobs: jobs, queue: queue}
}

// Enqueue creates the single live job for documentID. An empty documentID is
// replaced with a generated one; a duplicate surfaces as a lease conflict so
// the caller never ends up with two concurrent orchestrations.
func (uc *EnqueueDocumentUseCase) Enqueue(ctx context.Context, documentID, contentRef string) (*domain.Job, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		documentID = uuid.NewString()
	}
	if strings.TrimSpace(contentRef) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "enqueue document", errors.New("content reference is required"))
	}

	job := domain.NewJob(documentID, contentRef)
	if err := uc.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := uc.queue.PublishJobEnqueued(ctx, job.DocumentID); err != nil {
		return nil, fmt.Errorf("publish enqueued event: %w", err)
	}
	return job, nil
}
