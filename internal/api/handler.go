package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/smellreg/smellreg/internal/compliance"
	"github.com/smellreg/smellreg/internal/domain"
	"github.com/smellreg/smellreg/internal/reference"
)

const maxBodyBytes = 1 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	engine   *compliance.Engine
	recorder *compliance.Recorder
	ref      *reference.Store
	version  string
}

// NewHandler creates an API handler. A missing Recorder is built from the
// repository, cache and bus.
func NewHandler(deps Deps) *Handler {
	rec := deps.Recorder
	if rec == nil {
		rec = compliance.NewRecorder(deps.Repo, deps.Cache, deps.Bus, 0)
	}
	return &Handler{
		repo:     deps.Repo,
		cache:    deps.Cache,
		bus:      deps.Bus,
		engine:   deps.Engine,
		recorder: rec,
		ref:      deps.Reference,
		version:  deps.Version,
	}
}

// CheckBody is the request body for POST /check and /check/async.
type CheckBody struct {
	Formula domain.Formula `json:"formula"`
	domain.EvaluationRequest
}

// AcceptedResponse is returned by POST /check/async.
type AcceptedResponse struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	ReportURL string `json:"reportUrl"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Check handles POST /check: a synchronous compliance check. With
// ?view=summary only the summary is returned.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	var body CheckBody
	if !decode(w, r, &body) {
		return
	}
	h.runCheck(w, r, &body.Formula, body.EvaluationRequest, "")
}

// CheckAsync handles POST /check/async. Input is validated before the
// request is queued so a 202 always yields a report.
func (h *Handler) CheckAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "async checks are not enabled"})
		return
	}

	var body CheckBody
	if !decode(w, r, &body) {
		return
	}
	if err := body.Formula.Validate(); err != nil {
		writeError(w, err)
		return
	}
	req := body.EvaluationRequest
	req.Markets = append([]domain.Market(nil), req.Markets...)
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}

	msg := domain.CheckRequest{
		RequestID: uuid.New().String(),
		Formula:   body.Formula,
		Request:   body.EvaluationRequest,
	}
	payload, _ := json.Marshal(msg)
	if err := h.bus.Publish(ctx, tenantID, domain.TopicComplianceRequested, payload); err != nil {
		slog.Error("failed to queue check", "request_id", msg.RequestID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "failed to queue check"})
		return
	}

	writeJSON(w, http.StatusAccepted, AcceptedResponse{
		RequestID: msg.RequestID,
		Status:    "accepted",
		ReportURL: fmt.Sprintf("/requests/%s/report", msg.RequestID),
	})
}

// GetRequestReport handles GET /requests/{id}/report.
func (h *Handler) GetRequestReport(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "repository not configured"})
		return
	}
	report, err := h.repo.GetReportByRequestID(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "report not ready or unknown request"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeReport(w, r, http.StatusOK, report)
}

// GetReport handles GET /reports/{certificate}.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.recorder.Lookup(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "certificate"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeReport(w, r, http.StatusOK, report)
}

func (h *Handler) runCheck(w http.ResponseWriter, r *http.Request, formula *domain.Formula, req domain.EvaluationRequest, formulaID string) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "compliance engine not configured"})
		return
	}

	report, err := h.engine.CheckCompliance(ctx, formula, req)
	if err != nil {
		writeError(w, err)
		return
	}
	report.FormulaID = formulaID

	if err := h.recorder.Record(ctx, tenantID, report); err != nil {
		slog.Error("failed to record report", "certificate", report.CertificateNumber, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to store report"})
		return
	}
	writeReport(w, r, http.StatusOK, report)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	components := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			status = "degraded"
			components[name] = err.Error()
			return
		}
		components[name] = "ok"
	}
	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		check("bus", func() error { return h.bus.Ping(ctx) })
	}

	resp := map[string]any{
		"status":     status,
		"version":    h.version,
		"components": components,
	}
	if h.ref != nil && h.ref.Snapshot() != nil {
		resp["referenceRevision"] = h.ref.Snapshot().Revision()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Ready handles GET /ready: ready once reference data is loaded and the
// repository answers.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil || h.ref == nil || h.ref.Snapshot() == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false", "reason": "reference data not loaded"})
		return
	}
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false", "reason": "repository unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON request body"})
		return false
	}
	return true
}

func writeReport(w http.ResponseWriter, r *http.Request, status int, report *domain.ComplianceReport) {
	if r.URL.Query().Get("view") == "summary" {
		writeJSON(w, status, report.Summary())
		return
	}
	writeJSON(w, status, report)
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrInvalidConcentration):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, domain.ErrReferenceDataMissing):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
