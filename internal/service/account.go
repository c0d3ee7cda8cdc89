package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/transfer-core/internal/domain"
	"github.com/ayo6706/transfer-core/internal/models"
	"github.com/ayo6706/transfer-core/internal/policy"
	"github.com/ayo6706/transfer-core/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type AccountService struct {
	store  QueryStore
	limits *policy.LimitPolicy
	audit  *AuditService
}

func NewAccountService(store QueryStore, limits *policy.LimitPolicy) *AccountService {
	return &AccountService{
		store:  store,
		limits: limits,
		audit:  NewAuditService(store),
	}
}

// CreateAccountInput seeds an account with an opening balance.
type CreateAccountInput struct {
	CustomerID uuid.UUID
	Number     string
	HolderName string
	Currency   string
	Balance    int64
	DailyLimit int64
}

// CreateAccount opens an account. Administrators only.
func (s *AccountService) CreateAccount(ctx context.Context, principal models.Principal, in CreateAccountInput) (*models.Account, error) {
	if principal.Role != domain.RoleAdmin {
		return nil, domain.ErrUnauthorized
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if !s.limits.Supports(currency) {
		return nil, domain.Errorf(domain.ErrInvalidRequest, "currency %s is not supported", currency)
	}
	if in.Balance < 0 || in.DailyLimit < 0 {
		return nil, domain.Errorf(domain.ErrInvalidRequest, "balance and daily limit must not be negative")
	}
	number := strings.TrimSpace(in.Number)
	if number == "" || in.CustomerID == uuid.Nil {
		return nil, domain.Errorf(domain.ErrInvalidRequest, "customer and account number are required")
	}

	var account models.Account
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		account, err = qtx.CreateAccount(ctx, repository.CreateAccountParams{
			ID:         uuid.New(),
			CustomerID: in.CustomerID,
			Number:     number,
			HolderName: strings.TrimSpace(in.HolderName),
			Currency:   currency,
			Balance:    in.Balance,
			DailyLimit: in.DailyLimit,
			Status:     domain.AccountStatusActive,
		})
		if err != nil {
			if repository.IsUniqueViolation(err) {
				return domain.Errorf(domain.ErrInvalidRequest, "account number %s already exists", number)
			}
			return fmt.Errorf("create account: %w", err)
		}
		return s.audit.Record(ctx, qtx, AuditEntry{Entity: "account", EntityID: account.ID, Actor: &principal.ID, Action: "created", To: account.Status})
	})
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetBalance returns the account if principal owns it or is staff.
func (s *AccountService) GetBalance(ctx context.Context, principal models.Principal, accountID uuid.UUID) (*models.Account, error) {
	account, err := s.store.Queries().GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	if !principal.Role.IsStaff() && account.CustomerID != principal.ID {
		return nil, domain.ErrAccountNotFound
	}
	return &account, nil
}

// ListMine returns the caller's accounts.
func (s *AccountService) ListMine(ctx context.Context, principal models.Principal) ([]models.Account, error) {
	rows, err := s.store.Queries().ListAccountsByCustomer(ctx, principal.ID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return rows, nil
}
