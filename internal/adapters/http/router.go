package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/akarpov/archivarius/internal/config"
	"github.com/akarpov/archivarius/internal/core/domain"
	"github.com/akarpov/archivarius/internal/core/ports"
	"github.com/akarpov/archivarius/internal/infrastructure/report"
)

// Router is the admin/intake HTTP surface: document submission, job state,
// review decisions, dead-letter administration, and ledger access.
type Router struct {
	enqueuer ports.DocumentEnqueuer
	jobs     ports.JobReader
	review   ports.ReviewService
	dlq      ports.DeadLetterAdmin
	audit    ports.AuditService
	cfg      config.Config
}

func NewRouter(
	enqueuer ports.DocumentEnqueuer,
	jobs ports.JobReader,
	review ports.ReviewService,
	dlq ports.DeadLetterAdmin,
	audit ports.AuditService,
	cfg config.Config,
) *Router {
	return &Router{
		enqueuer: enqueuer,
		jobs:     jobs,
		review:   review,
		dlq:      dlq,
		audit:    audit,
		cfg:      cfg,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/documents", rt.enqueueDocument)
	mux.HandleFunc("GET /v1/jobs/{id}", rt.getJob)
	mux.HandleFunc("POST /v1/jobs/{id}/override", rt.overrideStage)
	mux.HandleFunc("POST /v1/jobs/{id}/confirm", rt.confirmStage)
	mux.HandleFunc("POST /v1/jobs/{id}/abort", rt.abortJob)
	mux.HandleFunc("GET /v1/deadletters", rt.listDeadLetters)
	mux.HandleFunc("POST /v1/deadletters/{id}/redrive", rt.redriveDeadLetter)
	mux.HandleFunc("POST /v1/deadletters/{id}/discard", rt.discardDeadLetter)
	mux.HandleFunc("GET /v1/audit/verify", rt.verifyAudit)
	mux.HandleFunc("GET /v1/audit/export", rt.exportAudit)

	handler := trafficControlMiddleware(mux, rt.cfg)
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) enqueueDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentID string `json:"document_id"`
		ContentRef string `json:"content_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	job, err := rt.enqueuer.Enqueue(r.Context(), req.DocumentID, req.ContentRef)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (rt *Router) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := rt.jobs.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (rt *Router) overrideStage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Stage  string `json:"stage"`
		Output string `json:"output"`
		Actor  string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	err := rt.review.Override(r.Context(), r.PathValue("id"), domain.Stage(req.Stage), req.Output, req.Actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "overridden"})
}

func (rt *Router) confirmStage(w http.ResponseWriter, r *http.Request) {
	actor, ok := decodeActor(w, r)
	if !ok {
		return
	}
	if err := rt.review.Confirm(r.Context(), r.PathValue("id"), actor); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

func (rt *Router) abortJob(w http.ResponseWriter, r *http.Request) {
	actor, ok := decodeActor(w, r)
	if !ok {
		return
	}
	if err := rt.review.Abort(r.Context(), r.PathValue("id"), actor); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}

func (rt *Router) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	letters, err := rt.dlq.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, letters)
}

func (rt *Router) redriveDeadLetter(w http.ResponseWriter, r *http.Request) {
	actor, ok := decodeActor(w, r)
	if !ok {
		return
	}
	if err := rt.dlq.Redrive(r.Context(), r.PathValue("id"), actor); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "redriven"})
}

func (rt *Router) discardDeadLetter(w http.ResponseWriter, r *http.Request) {
	actor, ok := decodeActor(w, r)
	if !ok {
		return
	}
	if err := rt.dlq.Discard(r.Context(), r.PathValue("id"), actor); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "discarded"})
}

func (rt *Router) verifyAudit(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseSeqRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	result, err := rt.audit.Verify(r.Context(), from, to)
	if err != nil {
		if domain.IsKind(err, domain.ErrChainIntegrity) {
			// The broken chain is the finding, not a handler failure: report
			// it with the offending sequence number.
			writeJSON(w, http.StatusConflict, result)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) exportAudit(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseSeqRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	filter := domain.AuditFilter{
		DocumentID: r.URL.Query().Get("document_id"),
		Actor:      r.URL.Query().Get("actor"),
		EventType:  domain.EventType(r.URL.Query().Get("event_type")),
	}

	if strings.EqualFold(r.URL.Query().Get("format"), "xlsx") {
		rt.exportAuditXLSX(w, r, from, to, filter)
		return
	}

	entries := make([]domain.AuditEntry, 0)
	err = rt.audit.Export(r.Context(), from, to, filter, func(e domain.AuditEntry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (rt *Router) exportAuditXLSX(w http.ResponseWriter, r *http.Request, from, to uint64, filter domain.AuditFilter) {
	workbook, err := report.NewAuditWorkbook()
	if err != nil {
		writeError(w, err)
		return
	}
	err = rt.audit.Export(r.Context(), from, to, filter, workbook.Add)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-export.xlsx"`)
	if _, err := workbook.WriteTo(w); err != nil {
		slog.Error("audit_export_write_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
	}
}

func parseSeqRange(r *http.Request) (from, to uint64, err error) {
	from = 1
	to = ^uint64(0) >> 1
	if v := r.URL.Query().Get("from"); v != "" {
		from, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, 0, err
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		to, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, 0, err
		}
	}
	return from, to, nil
}

func decodeActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req struct {
		Actor string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return "", false
	}
	return req.Actor, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}
