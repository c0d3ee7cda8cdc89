package handler

import (
	"net/http"

	"github.com/ayo6706/transfer-core/internal/domain"
	"github.com/ayo6706/transfer-core/internal/models"
	"github.com/ayo6706/transfer-core/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// AccountHandler serves /v1/accounts.
type AccountHandler struct {
	svc *service.AccountService
}

func NewAccountHandler(svc *service.AccountService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

type openAccountBody struct {
	CustomerID string `json:"customer_id" validate:"required,uuid"`
	Number     string `json:"number"`
	HolderName string `json:"holder_name"`
	Currency   string `json:"currency"`
	Balance    int64  `json:"balance" validate:"gte=0"`
	DailyLimit int64  `json:"daily_limit" validate:"gte=0"`
}

func (b openAccountBody) input() (service.CreateAccountInput, error) {
	if err := validate.Struct(b); err != nil {
		return service.CreateAccountInput{}, domain.Errorf(domain.ErrInvalidRequest, "customer_id must be a UUID and amounts must not be negative")
	}
	return service.CreateAccountInput{
		CustomerID: uuid.MustParse(b.CustomerID),
		Number:     b.Number,
		HolderName: b.HolderName,
		Currency:   b.Currency,
		Balance:    b.Balance,
		DailyLimit: b.DailyLimit,
	}, nil
}

// CreateAccount handles POST /v1/accounts. The router restricts it to administrators.
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrRespond(w, r)
	if !ok {
		return
	}
	var body openAccountBody
	if !decodeBody(w, r, &body) {
		return
	}
	in, err := body.input()
	if err != nil {
		RespondDomainError(w, r, "create_account", err)
		return
	}
	account, err := h.svc.CreateAccount(r.Context(), principal, in)
	if err != nil {
		RespondDomainError(w, r, "create_account", err)
		return
	}
	RespondJSON(w, http.StatusCreated, account)
}

// ListMine handles GET /v1/accounts.
func (h *AccountHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrRespond(w, r)
	if !ok {
		return
	}
	rows, err := h.svc.ListMine(r.Context(), principal)
	if err != nil {
		RespondDomainError(w, r, "list_accounts", err)
		return
	}
	if rows == nil {
		rows = []models.Account{}
	}
	RespondJSON(w, http.StatusOK, map[string]any{"items": rows, "count": len(rows)})
}

// GetBalance handles GET /v1/accounts/{id}. Customers only see their own accounts.
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrRespond(w, r)
	if !ok {
		return
	}
	accountID, ok := pathUUID(w, r, chi.URLParam(r, "id"), "account")
	if !ok {
		return
	}
	account, err := h.svc.GetBalance(r.Context(), principal, accountID)
	if err != nil {
		RespondDomainError(w, r, "get_balance", err)
		return
	}
	RespondJSON(w, http.StatusOK, account)
}
