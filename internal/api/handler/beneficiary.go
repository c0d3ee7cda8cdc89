package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/transfer-core/internal/models"
	"github.com/ayo6706/transfer-core/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type BeneficiaryHandler struct {
	svc *service.BeneficiaryService
}

func NewBeneficiaryHandler(svc *service.BeneficiaryService) *BeneficiaryHandler {
	return &BeneficiaryHandler{svc: svc}
}

type registerBeneficiaryRequest struct {
	Alias         string `json:"alias"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency"`
	HolderName    string `json:"holder_name"`
}

// Register handles POST /v1/beneficiaries. New beneficiaries start PENDING.
func (h *BeneficiaryHandler) Register(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrRespond(w, r)
	if !ok {
		return
	}
	var req registerBeneficiaryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	b, err := h.svc.Register(r.Context(), principal, service.RegisterBeneficiaryInput{
		Alias:         req.Alias,
		AccountNumber: req.AccountNumber,
		BankCode:      req.BankCode,
		Currency:      req.Currency,
		HolderName:    req.HolderName,
	})
	if err != nil {
		RespondDomainError(w, r, "register_beneficiary", err)
		return
	}
	RespondJSON(w, http.StatusCreated, b)
}

func (h *BeneficiaryHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrRespond(w, r)
	if !ok {
		return
	}
	rows, err := h.svc.List(r.Context(), principal)
	if err != nil {
		RespondDomainError(w, r, "list_beneficiaries", err)
		return
	}
	if rows == nil {
		rows = []models.Beneficiary{}
	}
	RespondJSON(w, http.StatusOK, map[string]any{"items": rows, "count": len(rows)})
}

func (h *BeneficiaryHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "confirm_beneficiary", h.svc.Confirm)
}

func (h *BeneficiaryHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "reject_beneficiary", h.svc.Reject)
}

func (h *BeneficiaryHandler) decide(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, admin models.Principal, id uuid.UUID) (*models.Beneficiary, error)) {
	principal, ok := principalOrRespond(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, chi.URLParam(r, "id"), "beneficiary")
	if !ok {
		return
	}
	b, err := fn(r.Context(), principal, id)
	if err != nil {
		RespondDomainError(w, r, op, err)
		return
	}
	RespondJSON(w, http.StatusOK, b)
}
