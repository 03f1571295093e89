package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/akarpov/archivarius/internal/config"
	"github.com/akarpov/archivarius/internal/core/domain"
)

type enqueuerFake struct {
	err  error
	last struct{ documentID, contentRef string }
}

func (f *enqueuerFake) Enqueue(_ context.Context, documentID, contentRef string) (*domain.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.last.documentID = documentID
	f.last.contentRef = contentRef
	if strings.TrimSpace(contentRef) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "enqueue document", errors.New("content reference is required"))
	}
	return domain.NewJob(documentID, contentRef), nil
}

type jobReaderFake struct {
	jobs map[string]*domain.Job
}

func (f *jobReaderFake) GetByID(_ context.Context, documentID string) (*domain.Job, error) {
	job, ok := f.jobs[documentID]
	if !ok {
		return nil, domain.WrapError(domain.ErrJobNotFound, "get job", fmt.Errorf("document_id=%s", documentID))
	}
	return job, nil
}

type reviewFake struct {
	overrideErr error
	calls       []string
}

func (f *reviewFake) Override(_ context.Context, documentID string, stage domain.Stage, output, actor string) error {
	if actor == "" || actor == domain.ActorSystem {
		return domain.WrapError(domain.ErrUnauthorized, "override stage result", errors.New("an authorized actor is required"))
	}
	if f.overrideErr != nil {
		return f.overrideErr
	}
	f.calls = append(f.calls, "override:"+documentID+":"+string(stage)+":"+actor)
	return nil
}

func (f *reviewFake) Confirm(_ context.Context, documentID, actor string) error {
	f.calls = append(f.calls, "confirm:"+documentID+":"+actor)
	return nil
}

func (f *reviewFake) Abort(_ context.Context, documentID, actor string) error {
	f.calls = append(f.calls, "abort:"+documentID+":"+actor)
	return nil
}

type dlqAdminFake struct {
	letters []domain.DeadLetter
	calls   []string
}

func (f *dlqAdminFake) List(context.Context) ([]domain.DeadLetter, error) {
	return f.letters, nil
}

func (f *dlqAdminFake) Redrive(_ context.Context, documentID, actor string) error {
	f.calls = append(f.calls, "redrive:"+documentID+":"+actor)
	return nil
}

func (f *dlqAdminFake) Discard(_ context.Context, documentID, actor string) error {
	f.calls = append(f.calls, "discard:"+documentID+":"+actor)
	return nil
}

type auditFake struct {
	entries   []domain.AuditEntry
	badSeq    uint64
	verifyErr error
}

func (f *auditFake) Verify(_ context.Context, from, to uint64) (domain.VerifyResult, error) {
	if f.verifyErr != nil {
		return domain.VerifyResult{OK: false, FirstBadSeq: f.badSeq}, f.verifyErr
	}
	return domain.VerifyResult{OK: true, Checked: len(f.entries)}, nil
}

func (f *auditFake) Export(_ context.Context, from, to uint64, filter domain.AuditFilter, fn func(domain.AuditEntry) error) error {
	for _, e := range f.entries {
		if e.Seq < from || e.Seq > to || !filter.Matches(e) {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

type routerFixture struct {
	enqueuer *enqueuerFake
	jobs     *jobReaderFake
	review   *reviewFake
	dlq      *dlqAdminFake
	audit    *auditFake
	handler  http.Handler
}

func newRouterFixture(cfg config.Config) *routerFixture {
	f := &routerFixture{
		enqueuer: &enqueuerFake{},
		jobs:     &jobReaderFake{jobs: make(map[string]*domain.Job)},
		review:   &reviewFake{},
		dlq:      &dlqAdminFake{},
		audit:    &auditFake{},
	}
	f.handler = NewRouter(f.enqueuer, f.jobs, f.review, f.dlq, f.audit, cfg).Handler()
	return f
}

func newTestHandler(cfg config.Config) http.Handler {
	return newRouterFixture(cfg).handler
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestEnqueueDocumentReturnsAccepted(t *testing.T) {
	f := newRouterFixture(config.Config{})

	res := doJSON(t, f.handler, http.MethodPost, "/v1/documents",
		map[string]string{"document_id": "doc-1", "content_ref": "blob/doc-1.pdf"})
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}

	var job domain.Job
	if err := json.NewDecoder(res.Body).Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.DocumentID != "doc-1" || job.Status != domain.StatusQueued {
		t.Fatalf("unexpected job: %+v", job)
	}
	if res.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestEnqueueDocumentRejectsMissingContentRef(t *testing.T) {
	f := newRouterFixture(config.Config{})

	res := doJSON(t, f.handler, http.MethodPost, "/v1/documents", map[string]string{"document_id": "doc-1"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestGetJobNotFound(t *testing.T) {
	f := newRouterFixture(config.Config{})

	res := doJSON(t, f.handler, http.MethodGet, "/v1/jobs/missing", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestGetJobReturnsState(t *testing.T) {
	f := newRouterFixture(config.Config{})
	job := domain.NewJob("doc-1", "blob/doc-1.pdf")
	job.Status = domain.StatusNeedsReview
	f.jobs.jobs["doc-1"] = job

	res := doJSON(t, f.handler, http.MethodGet, "/v1/jobs/doc-1", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var got domain.Job
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if got.Status != domain.StatusNeedsReview {
		t.Fatalf("unexpected status: %s", got.Status)
	}
}

func TestOverrideWithoutActorIsUnauthorized(t *testing.T) {
	f := newRouterFixture(config.Config{})

	res := doJSON(t, f.handler, http.MethodPost, "/v1/jobs/doc-1/override",
		map[string]string{"stage": "extraction", "output": "text"})
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestOverrideDispatchesToReviewService(t *testing.T) {
	f := newRouterFixture(config.Config{})

	res := doJSON(t, f.handler, http.MethodPost, "/v1/jobs/doc-1/override",
		map[string]string{"stage": "extraction", "output": "text", "actor": "reviewer@archive"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if len(f.review.calls) != 1 || f.review.calls[0] != "override:doc-1:extraction:reviewer@archive" {
		t.Fatalf("unexpected dispatch: %v", f.review.calls)
	}
}

func TestOverrideConflictMapsTo409(t *testing.T) {
	f := newRouterFixture(config.Config{})
	f.review.overrideErr = domain.WrapError(domain.ErrLeaseConflict, "override stage result", errors.New("worker holds lease"))

	res := doJSON(t, f.handler, http.MethodPost, "/v1/jobs/doc-1/override",
		map[string]string{"stage": "extraction", "output": "text", "actor": "reviewer@archive"})
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
}

func TestDeadLetterEndpoints(t *testing.T) {
	f := newRouterFixture(config.Config{})
	f.dlq.letters = []domain.DeadLetter{{DocumentID: "doc-1", Stage: domain.StageTranslation, Attempts: 3}}

	res := doJSON(t, f.handler, http.MethodGet, "/v1/deadletters", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", res.Code)
	}
	var letters []domain.DeadLetter
	if err := json.NewDecoder(res.Body).Decode(&letters); err != nil {
		t.Fatalf("decode letters: %v", err)
	}
	if len(letters) != 1 || letters[0].Stage != domain.StageTranslation {
		t.Fatalf("unexpected letters: %+v", letters)
	}

	res = doJSON(t, f.handler, http.MethodPost, "/v1/deadletters/doc-1/redrive",
		map[string]string{"actor": "operator@archive"})
	if res.Code != http.StatusOK {
		t.Fatalf("redrive: expected 200, got %d", res.Code)
	}
	res = doJSON(t, f.handler, http.MethodPost, "/v1/deadletters/doc-1/discard",
		map[string]string{"actor": "operator@archive"})
	if res.Code != http.StatusOK {
		t.Fatalf("discard: expected 200, got %d", res.Code)
	}
	want := []string{"redrive:doc-1:operator@archive", "discard:doc-1:operator@archive"}
	for i, call := range want {
		if f.dlq.calls[i] != call {
			t.Fatalf("unexpected dlq calls: %v", f.dlq.calls)
		}
	}
}

func TestVerifyAuditReportsBrokenChainAsConflict(t *testing.T) {
	f := newRouterFixture(config.Config{})
	f.audit.badSeq = 17
	f.audit.verifyErr = domain.WrapError(domain.ErrChainIntegrity, "verify audit range", errors.New("chain broken at seq 17"))

	res := doJSON(t, f.handler, http.MethodGet, "/v1/audit/verify?from=1&to=100", nil)
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409 for broken chain, got %d", res.Code)
	}
	var result domain.VerifyResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.OK || result.FirstBadSeq != 17 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestExportAuditJSONAppliesFilter(t *testing.T) {
	f := newRouterFixture(config.Config{})
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	first := domain.NextEntry(nil, domain.AuditEvent{DocumentID: "doc-1", Stage: domain.StageExtraction, EventType: domain.EventStarted, Actor: domain.ActorSystem}, ts)
	second := domain.NextEntry(&first, domain.AuditEvent{DocumentID: "doc-2", Stage: domain.StageExtraction, EventType: domain.EventStarted, Actor: domain.ActorSystem}, ts)
	f.audit.entries = []domain.AuditEntry{first, second}

	res := doJSON(t, f.handler, http.MethodGet, "/v1/audit/export?document_id=doc-2", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var entries []domain.AuditEntry
	if err := json.NewDecoder(res.Body).Decode(&entries); err != nil {
		t.Fatalf("decode entries: %v", err)
	}
	if len(entries) != 1 || entries[0].DocumentID != "doc-2" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestExportAuditXLSXSetsContentType(t *testing.T) {
	f := newRouterFixture(config.Config{})
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	first := domain.NextEntry(nil, domain.AuditEvent{DocumentID: "doc-1", Stage: domain.StageExtraction, EventType: domain.EventStarted, Actor: domain.ActorSystem}, ts)
	f.audit.entries = []domain.AuditEntry{first}

	res := doJSON(t, f.handler, http.MethodGet, "/v1/audit/export?format=xlsx", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if got := res.Header().Get("Content-Type"); !strings.Contains(got, "spreadsheetml") {
		t.Fatalf("expected xlsx content type, got %q", got)
	}
	if res.Body.Len() == 0 {
		t.Fatalf("expected workbook bytes")
	}
}
