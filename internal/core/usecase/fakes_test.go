package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/akarpov/archivarius/internal/core/domain"
	"github.com/akarpov/archivarius/internal/core/ports"
)

// jobStoreFake keeps jobs in memory with a real per-document lease so
// isolation tests can run documents concurrently.
type jobStoreFake struct {
	mu     sync.Mutex
	jobs   map[string]*domain.Job
	leases map[string]leaseFake

	createErr error
	updateErr error
}

type leaseFake struct {
	owner   string
	expires time.Time
}

func newJobStoreFake() *jobStoreFake {
	return &jobStoreFake{
		jobs:   make(map[string]*domain.Job),
		leases: make(map[string]leaseFake),
	}
}

func (f *jobStoreFake) Create(_ context.Context, job *domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.jobs[job.DocumentID]; ok {
		return domain.WrapError(domain.ErrLeaseConflict, "create job", domain.ErrInvalidInput)
	}
	f.jobs[job.DocumentID] = cloneJob(job)
	return nil
}

func (f *jobStoreFake) GetByID(_ context.Context, documentID string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[documentID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (f *jobStoreFake) Update(_ context.Context, job *domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.jobs[job.DocumentID]; !ok {
		return domain.ErrJobNotFound
	}
	f.jobs[job.DocumentID] = cloneJob(job)
	return nil
}

func (f *jobStoreFake) UpdateOwned(_ context.Context, job *domain.Job, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.jobs[job.DocumentID]; !ok {
		return domain.ErrJobNotFound
	}
	lease, held := f.leases[job.DocumentID]
	if !held || lease.owner != owner || !lease.expires.After(time.Now()) {
		return domain.WrapError(domain.ErrLeaseConflict, "update job", errors.New("lease not held"))
	}
	f.jobs[job.DocumentID] = cloneJob(job)
	return nil
}

func (f *jobStoreFake) AcquireLease(_ context.Context, documentID, owner string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	lease, held := f.leases[documentID]
	if held && lease.owner != owner && lease.expires.After(time.Now()) {
		return domain.ErrLeaseConflict
	}
	f.leases[documentID] = leaseFake{owner: owner, expires: time.Now().Add(ttl)}
	return nil
}

func (f *jobStoreFake) ReleaseLease(_ context.Context, documentID, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lease, held := f.leases[documentID]; held && lease.owner == owner {
		delete(f.leases, documentID)
	}
	return nil
}

func (f *jobStoreFake) ClearLease(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.leases, documentID)
	return nil
}

func (f *jobStoreFake) ArchiveSettledBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func (f *jobStoreFake) snapshot(documentID string) *domain.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneJob(f.jobs[documentID])
}

func cloneJob(job *domain.Job) *domain.Job {
	if job == nil {
		return nil
	}
	out := *job
	out.StageSequence = append([]domain.Stage(nil), job.StageSequence...)
	out.Attempts = make(map[domain.Stage]int, len(job.Attempts))
	for k, v := range job.Attempts {
		out.Attempts[k] = v
	}
	out.ConfidenceScores = make(map[domain.Stage]float64, len(job.ConfidenceScores))
	for k, v := range job.ConfidenceScores {
		out.ConfidenceScores[k] = v
	}
	return &out
}

// ledgerFake is an in-memory hash-chained ledger built on the same chain
// helpers as the real one.
type ledgerFake struct {
	mu      sync.Mutex
	entries []domain.AuditEntry

	appendErrs []error // consumed one per Append call before succeeding
}

func (f *ledgerFake) Append(_ context.Context, ev domain.AuditEvent) (domain.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.appendErrs) > 0 {
		err := f.appendErrs[0]
		f.appendErrs = f.appendErrs[1:]
		if err != nil {
			return domain.AuditEntry{}, err
		}
	}
	var prev *domain.AuditEntry
	if len(f.entries) > 0 {
		prev = &f.entries[len(f.entries)-1]
	}
	entry := domain.NextEntry(prev, ev, time.Now())
	f.entries = append(f.entries, entry)
	return entry, nil
}

func (f *ledgerFake) Head(context.Context) (*domain.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return nil, nil
	}
	head := f.entries[len(f.entries)-1]
	return &head, nil
}

func (f *ledgerFake) LastForDocument(_ context.Context, documentID string) (*domain.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.entries) - 1; i >= 0; i-- {
		if f.entries[i].DocumentID == documentID {
			entry := f.entries[i]
			return &entry, nil
		}
	}
	return nil, nil
}

func (f *ledgerFake) VerifyRange(context.Context, uint64, uint64) (domain.VerifyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.VerifyChain(f.entries, domain.GenesisHash), nil
}

func (f *ledgerFake) ExportRange(_ context.Context, from, to uint64, filter domain.AuditFilter, fn func(domain.AuditEntry) error) error {
	f.mu.Lock()
	entries := append([]domain.AuditEntry(nil), f.entries...)
	f.mu.Unlock()
	for _, e := range entries {
		if e.Seq < from || e.Seq > to {
			continue
		}
		if !filter.Matches(e) {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (f *ledgerFake) ArchiveBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func (f *ledgerFake) forDocument(documentID string) []domain.AuditEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range f.entries {
		if e.DocumentID == documentID {
			out = append(out, e)
		}
	}
	return out
}

func eventTypes(entries []domain.AuditEntry) []domain.EventType {
	out := make([]domain.EventType, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.EventType)
	}
	return out
}

type dlqFake struct {
	mu      sync.Mutex
	letters map[string]domain.DeadLetter
}

func newDLQFake() *dlqFake {
	return &dlqFake{letters: make(map[string]domain.DeadLetter)}
}

func (f *dlqFake) Push(_ context.Context, dl domain.DeadLetter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.letters[dl.DocumentID] = dl
	return nil
}

func (f *dlqFake) List(context.Context) ([]domain.DeadLetter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.DeadLetter, 0, len(f.letters))
	for _, dl := range f.letters {
		out = append(out, dl)
	}
	return out, nil
}

func (f *dlqFake) Get(_ context.Context, documentID string) (*domain.DeadLetter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dl, ok := f.letters[documentID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &dl, nil
}

func (f *dlqFake) Remove(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.letters, documentID)
	return nil
}

type queueFake struct {
	mu       sync.Mutex
	enqueued []string
	settled  []domain.JobSettled
}

func (f *queueFake) PublishJobEnqueued(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, documentID)
	return nil
}

func (f *queueFake) SubscribeJobEnqueued(context.Context, func(context.Context, string) error) error {
	return nil
}

func (f *queueFake) PublishJobSettled(_ context.Context, settled domain.JobSettled) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settled = append(f.settled, settled)
	return nil
}

func (f *queueFake) lastSettled() *domain.JobSettled {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.settled) == 0 {
		return nil
	}
	s := f.settled[len(f.settled)-1]
	return &s
}

// providerFake returns queued results/errors in call order, repeating the
// last element once exhausted.
type providerFake struct {
	mu      sync.Mutex
	results []providerCall
	calls   int

	acceptsUntranslated bool
}

type providerCall struct {
	result domain.StageResult
	err    error
}

func (f *providerFake) Execute(context.Context, ports.StageRequest) (domain.StageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) == 0 {
		return domain.StageResult{}, nil
	}
	idx := f.calls - 1
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	call := f.results[idx]
	return call.result, call.err
}

func (f *providerFake) AcceptsUntranslated() bool { return f.acceptsUntranslated }

func (f *providerFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func ok(output string, confidence float64) providerCall {
	return providerCall{result: domain.StageResult{Output: output, Confidence: confidence}}
}

func fail(err error) providerCall {
	return providerCall{err: err}
}

// inlineExecutor runs attempts without sleeping, honoring maxAttempts and the
// classifier the same way the resilience executor does.
type inlineExecutor struct {
	maxAttempts int
}

func (e *inlineExecutor) Execute(
	ctx context.Context,
	_ string,
	fn func(context.Context) error,
	classify ports.RetryClassifier,
	observe ports.RetryObserver,
) error {
	maxAttempts := e.maxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		class := classify(err)
		if !class.Retryable || attempt == maxAttempts {
			if observe != nil {
				observe(attempt, err, 0)
			}
			return err
		}
		if observe != nil {
			observe(attempt, err, time.Millisecond)
		}
	}
	return nil
}
