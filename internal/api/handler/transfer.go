package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/transfer-core/internal/domain"
	"github.com/ayo6706/transfer-core/internal/models"
	"github.com/ayo6706/transfer-core/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type TransferHandler struct {
	svc *service.TransferService
}

func NewTransferHandler(svc *service.TransferService) *TransferHandler {
	return &TransferHandler{svc: svc}
}

// TransferRequestBody is the wire shape shared by pre-check and execute.
type TransferRequestBody struct {
	SourceAccountID          string     `json:"source_account_id" validate:"required,uuid"`
	DestinationAccountNumber string     `json:"destination_account_number,omitempty"`
	BeneficiaryID            string     `json:"beneficiary_id,omitempty" validate:"omitempty,uuid"`
	Amount                   int64      `json:"amount"`
	Currency                 string     `json:"currency"`
	Description              string     `json:"description,omitempty"`
	ScheduledAt              *time.Time `json:"scheduled_at,omitempty"`
}

func (b TransferRequestBody) toRequest() (models.TransferRequest, error) {
	if err := validate.Struct(b); err != nil {
		return models.TransferRequest{}, domain.Errorf(domain.ErrInvalidRequest, "source_account_id and beneficiary_id must be UUIDs")
	}
	builder := models.NewTransferRequestBuilder().
		From(uuid.MustParse(b.SourceAccountID)).
		Amount(b.Amount, b.Currency).
		Description(b.Description)
	if strings.TrimSpace(b.DestinationAccountNumber) != "" {
		builder.ToAccount(b.DestinationAccountNumber)
	}
	if b.BeneficiaryID != "" {
		builder.ToBeneficiary(uuid.MustParse(b.BeneficiaryID))
	}
	if b.ScheduledAt != nil {
		builder.ScheduleAt(*b.ScheduledAt)
	}
	return builder.Build()
}

// PreCheck handles POST /v1/transfers/pre-check. Rejections are reported in the body.
func (h *TransferHandler) PreCheck(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrRespond(w, r)
	if !ok {
		return
	}
	var body TransferRequestBody
	if !decodeBody(w, r, &body) {
		return
	}
	req, err := body.toRequest()
	if err != nil {
		if derr, ok := domain.AsError(err); ok {
			RespondJSON(w, http.StatusOK, models.PreCheckResult{Valid: false, Code: derr.Code, Reason: derr.Error()})
			return
		}
		RespondDomainError(w, r, "pre_check", err)
		return
	}

	result, err := h.svc.PreCheck(r.Context(), principal, req)
	if err != nil {
		RespondDomainError(w, r, "pre_check", err)
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

// Execute handles POST /v1/transfers/execute.
func (h *TransferHandler) Execute(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrRespond(w, r)
	if !ok {
		return
	}
	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey == "" {
		RespondError(w, r, http.StatusBadRequest, "idempotency/missing-key", "Idempotency-Key header is required")
		return
	}
	var body TransferRequestBody
	if !decodeBody(w, r, &body) {
		return
	}
	req, err := body.toRequest()
	if err != nil {
		RespondDomainError(w, r, "execute", err)
		return
	}

	rec, err := h.svc.Submit(r.Context(), principal, req, idempotencyKey)
	if err != nil {
		RespondDomainError(w, r, "execute", err)
		return
	}
	RespondJSON(w, submitStatus(rec.Status), rec)
}

// Get handles GET /v1/transfers/{id}.
func (h *TransferHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrRespond(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, chi.URLParam(r, "id"), "transfer")
	if !ok {
		return
	}
	rec, err := h.svc.Get(r.Context(), principal, id)
	if err != nil {
		RespondDomainError(w, r, "get_transfer", err)
		return
	}
	RespondJSON(w, http.StatusOK, rec)
}

// ListMine handles GET /v1/transfers/my-transfers.
func (h *TransferHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrRespond(w, r)
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	rows, err := h.svc.ListMine(r.Context(), principal, limit, offset)
	if err != nil {
		RespondDomainError(w, r, "list_my_transfers", err)
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

// submitStatus maps a submitted or replayed record to its response code. Replays of
// records that already reached another terminal state answer 200.
func submitStatus(status string) int {
	switch status {
	case domain.TransferStatusExecuted:
		return http.StatusCreated
	case domain.TransferStatusPendingApproval, domain.TransferStatusScheduled:
		return http.StatusAccepted
	default:
		return http.StatusOK
	}
}
