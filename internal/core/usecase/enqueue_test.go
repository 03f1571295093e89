package usecase

import (
	"context"
	"testing"

	"github.com/akarpov/archivarius/internal/core/domain"
)

func TestEnqueueCreatesAndPublishesJob(t *testing.T) {
	jobs := newJobStoreFake()
	queue := &queueFake{}
	uc := NewEnqueueDocumentUseCase(jobs, queue)

	job, err := uc.Enqueue(context.Background(), "doc-1", "blob/doc-1.pdf")
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if job.DocumentID != "doc-1" || job.Status != domain.StatusQueued {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.CurrentStage != domain.StageExtraction {
		t.Fatalf("new job must start at extraction, got %s", job.CurrentStage)
	}
	if stored := jobs.snapshot("doc-1"); stored == nil {
		t.Fatalf("job not persisted")
	}
	if len(queue.enqueued) != 1 || queue.enqueued[0] != "doc-1" {
		t.Fatalf("expected one enqueued message, got %v", queue.enqueued)
	}
}

func TestEnqueueGeneratesDocumentID(t *testing.T) {
	jobs := newJobStoreFake()
	uc := NewEnqueueDocumentUseCase(jobs, &queueFake{})

	job, err := uc.Enqueue(context.Background(), "  ", "blob/scan.pdf")
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if job.DocumentID == "" {
		t.Fatalf("expected a generated document id")
	}
}

func TestEnqueueRejectsMissingContentRef(t *testing.T) {
	jobs := newJobStoreFake()
	uc := NewEnqueueDocumentUseCase(jobs, &queueFake{})

	_, err := uc.Enqueue(context.Background(), "doc-1", "   ")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if jobs.snapshot("doc-1") != nil {
		t.Fatalf("rejected submission must not create a job")
	}
}

func TestEnqueueDuplicateDocumentConflicts(t *testing.T) {
	jobs := newJobStoreFake()
	uc := NewEnqueueDocumentUseCase(jobs, &queueFake{})

	if _, err := uc.Enqueue(context.Background(), "doc-1", "blob/a.pdf"); err != nil {
		t.Fatalf("first Enqueue() error = %v", err)
	}
	_, err := uc.Enqueue(context.Background(), "doc-1", "blob/b.pdf")
	if !domain.IsKind(err, domain.ErrLeaseConflict) {
		t.Fatalf("expected lease conflict for duplicate document, got %v", err)
	}
}
