package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ayo6706/transfer-core/internal/models"
	"github.com/ayo6706/transfer-core/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ApprovalHandler exposes the review queue used by managers and administrators.
type ApprovalHandler struct {
	workflow *service.ApprovalWorkflow
}

func NewApprovalHandler(workflow *service.ApprovalWorkflow) *ApprovalHandler {
	return &ApprovalHandler{workflow: workflow}
}

type reviewBody struct {
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
	Razon  string `json:"razon"`
}

func (b reviewBody) reason() string {
	if strings.TrimSpace(b.Reason) != "" {
		return b.Reason
	}
	return b.Razon
}

func (h *ApprovalHandler) target(w http.ResponseWriter, r *http.Request) (models.Principal, uuid.UUID, reviewBody, bool) {
	principal, ok := principalOrRespond(w, r)
	if !ok {
		return models.Principal{}, uuid.Nil, reviewBody{}, false
	}
	id, ok := pathUUID(w, r, chi.URLParam(r, "id"), "transfer")
	if !ok {
		return models.Principal{}, uuid.Nil, reviewBody{}, false
	}
	var body reviewBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return models.Principal{}, uuid.Nil, reviewBody{}, false
	}
	return principal, id, body, true
}

// Approve handles PUT /v1/transfers/{id}/approve and its high-value alias.
func (h *ApprovalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	principal, id, body, ok := h.target(w, r)
	if !ok {
		return
	}
	rec, err := h.workflow.Approve(r.Context(), id, principal, body.Notes)
	if err != nil {
		RespondDomainError(w, r, "approve", err)
		return
	}
	RespondJSON(w, http.StatusOK, rec)
}

// Reject handles PUT /v1/transfers/{id}/reject and its high-value alias.
func (h *ApprovalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	principal, id, body, ok := h.target(w, r)
	if !ok {
		return
	}
	rec, err := h.workflow.Reject(r.Context(), id, principal, body.reason())
	if err != nil {
		RespondDomainError(w, r, "reject", err)
		return
	}
	RespondJSON(w, http.StatusOK, rec)
}

// Block rejects the operation and blocks its source account. Administrators only.
func (h *ApprovalHandler) Block(w http.ResponseWriter, r *http.Request) {
	principal, id, body, ok := h.target(w, r)
	if !ok {
		return
	}
	rec, err := h.workflow.Block(r.Context(), id, principal, body.reason())
	if err != nil {
		RespondDomainError(w, r, "block", err)
		return
	}
	RespondJSON(w, http.StatusOK, rec)
}

func (h *ApprovalHandler) AddNotes(w http.ResponseWriter, r *http.Request) {
	principal, id, body, ok := h.target(w, r)
	if !ok {
		return
	}
	rec, err := h.workflow.AddNotes(r.Context(), id, principal, body.Notes)
	if err != nil {
		RespondDomainError(w, r, "add_notes", err)
		return
	}
	RespondJSON(w, http.StatusOK, rec)
}

type listFunc func(*service.ApprovalWorkflow, *http.Request, models.Principal, int32, int32) ([]models.TransferRecord, error)

func (h *ApprovalHandler) list(op string, fn listFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := principalOrRespond(w, r)
		if !ok {
			return
		}
		limit, offset, ok := pagination(w, r)
		if !ok {
			return
		}
		rows, err := fn(h.workflow, r, principal, limit, offset)
		if err != nil {
			RespondDomainError(w, r, op, err)
			return
		}
		if rows == nil {
			rows = []models.TransferRecord{}
		}
		RespondJSON(w, http.StatusOK, map[string]any{
			"items":  rows,
			"count":  len(rows),
			"limit":  limit,
			"offset": offset,
		})
	}
}

// ListHighValue handles GET /v1/high-value-operations.
func (h *ApprovalHandler) ListHighValue() http.HandlerFunc {
	return h.list("list_high_value", func(wf *service.ApprovalWorkflow, r *http.Request, p models.Principal, limit, offset int32) ([]models.TransferRecord, error) {
		return wf.ListHighValue(r.Context(), p, limit, offset)
	})
}

// ListPending handles GET /v1/high-value-operations/pending.
func (h *ApprovalHandler) ListPending() http.HandlerFunc {
	return h.list("list_pending", func(wf *service.ApprovalWorkflow, r *http.Request, p models.Principal, limit, offset int32) ([]models.TransferRecord, error) {
		return wf.ListPending(r.Context(), p, limit, offset)
	})
}

// ListHighRisk handles GET /v1/high-value-operations/high-risk.
func (h *ApprovalHandler) ListHighRisk() http.HandlerFunc {
	return h.list("list_high_risk", func(wf *service.ApprovalWorkflow, r *http.Request, p models.Principal, limit, offset int32) ([]models.TransferRecord, error) {
		return wf.ListHighRisk(r.Context(), p, limit, offset)
	})
}

// ExportCSV handles GET /v1/high-value-operations/export/csv.
func (h *ApprovalHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrRespond(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := h.workflow.ExportCSV(r.Context(), principal, &buf); err != nil {
		RespondDomainError(w, r, "export_csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "high-value-operations.csv"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
