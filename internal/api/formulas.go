package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/smellreg/smellreg/internal/domain"
)

// FormulaBody is the request body for POST /formulas.
type FormulaBody struct {
	ID          string              `json:"id,omitempty"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Tags        []string            `json:"tags,omitempty"`
	Ingredients []domain.Ingredient `json:"ingredients"`
}

// CreateFormula handles POST /formulas. Posting an existing ID replaces
// the formula and resets its compliance status.
func (h *Handler) CreateFormula(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()

	var body FormulaBody
	if !decode(w, r, &body) {
		return
	}

	f := &domain.StoredFormula{
		ID:          strings.TrimSpace(body.ID),
		Description: body.Description,
		Tags:        body.Tags,
		Formula:     domain.Formula{Name: body.Name, Ingredients: body.Ingredients},
		Status:      domain.StatusUnchecked,
	}
	if err := f.Formula.Validate(); err != nil {
		writeError(w, err)
		return
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}

	if err := h.repo.SaveFormula(ctx, GetTenantID(ctx), f); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// ListFormulas handles GET /formulas. A q parameter narrows the list to
// formulas whose name, description or tags match.
func (h *Handler) ListFormulas(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()

	var (
		formulas []*domain.StoredFormula
		err      error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		formulas, err = h.repo.SearchFormulas(ctx, GetTenantID(ctx), q)
	} else {
		formulas, err = h.repo.ListFormulas(ctx, GetTenantID(ctx))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"formulas": formulas,
		"count":    len(formulas),
	})
}

// GetFormula handles GET /formulas/{id}.
func (h *Handler) GetFormula(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	f, err := h.repo.GetFormula(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// DuplicateBody is the optional request body for POST /formulas/{id}/duplicate.
type DuplicateBody struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// DuplicateFormula handles POST /formulas/{id}/duplicate. The copy starts
// unchecked; an empty body picks a fresh ID and a "(copy)" name.
func (h *Handler) DuplicateFormula(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()

	var body DuplicateBody
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON request body"})
		return
	}
	newID := strings.TrimSpace(body.ID)
	if newID == "" {
		newID = uuid.New().String()
	}

	dup, err := h.repo.DuplicateFormula(ctx, GetTenantID(ctx), chi.URLParam(r, "id"), newID, strings.TrimSpace(body.Name))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dup)
}

// DeleteFormula handles DELETE /formulas/{id}.
func (h *Handler) DeleteFormula(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	if err := h.repo.DeleteFormula(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckFormula handles POST /formulas/{id}/check: the body is an
// evaluation request for the stored formula.
func (h *Handler) CheckFormula(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	stored, err := h.repo.GetFormula(ctx, GetTenantID(ctx), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var req domain.EvaluationRequest
	if !decode(w, r, &req) {
		return
	}
	h.runCheck(w, r, &stored.Formula, req, stored.ID)
}

// ListFormulaReports handles GET /formulas/{id}/reports, newest first.
func (h *Handler) ListFormulaReports(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	id := chi.URLParam(r, "id")

	reports, err := h.repo.ListReportsByFormula(ctx, tenantID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(reports) == 0 {
		if _, err := h.repo.GetFormula(ctx, tenantID, id); errors.Is(err, domain.ErrNotFound) {
			writeError(w, err)
			return
		}
	}

	summaries := make([]*domain.ReportSummary, len(reports))
	for i, rep := range reports {
		summaries[i] = rep.Summary()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"formulaId": id,
		"reports":   summaries,
		"count":     len(summaries),
	})
}

func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "repository not configured"})
		return false
	}
	return true
}
