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
	"go.uber.org/zap"
)

// BeneficiaryService manages saved destinations. New beneficiaries start PENDING and are
// usable only once an administrator confirms them.
type BeneficiaryService struct {
	store  QueryStore
	limits *policy.LimitPolicy
	audit  *AuditService
}

func NewBeneficiaryService(store QueryStore, limits *policy.LimitPolicy) *BeneficiaryService {
	return &BeneficiaryService{
		store:  store,
		limits: limits,
		audit:  NewAuditService(store),
	}
}

type RegisterBeneficiaryInput struct {
	Alias         string
	AccountNumber string
	BankCode      string
	Currency      string
	HolderName    string
}

func (s *BeneficiaryService) Register(ctx context.Context, principal models.Principal, in RegisterBeneficiaryInput) (*models.Beneficiary, error) {
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if !s.limits.Supports(currency) {
		return nil, domain.Errorf(domain.ErrInvalidRequest, "currency %s is not supported", currency)
	}
	b := models.Beneficiary{
		ID:            uuid.New(),
		CustomerID:    principal.ID,
		Alias:         strings.TrimSpace(in.Alias),
		AccountNumber: strings.TrimSpace(in.AccountNumber),
		BankCode:      strings.ToUpper(strings.TrimSpace(in.BankCode)),
		Currency:      currency,
		HolderName:    strings.TrimSpace(in.HolderName),
		Status:        domain.BeneficiaryStatusPending,
	}
	if b.AccountNumber == "" || b.HolderName == "" {
		return nil, domain.Errorf(domain.ErrInvalidRequest, "account number and holder name are required")
	}

	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		created, err := qtx.CreateBeneficiary(ctx, b)
		if err != nil {
			if repository.IsUniqueViolation(err) {
				return domain.Errorf(domain.ErrInvalidRequest, "beneficiary %s at %s is already registered", b.AccountNumber, b.BankCode)
			}
			return fmt.Errorf("create beneficiary: %w", err)
		}
		b = created
		return s.audit.Record(ctx, qtx, AuditEntry{Entity: "beneficiary", EntityID: b.ID, Actor: &principal.ID, Action: "registered", To: b.Status})
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Confirm makes a beneficiary usable as a destination.
func (s *BeneficiaryService) Confirm(ctx context.Context, admin models.Principal, id uuid.UUID) (*models.Beneficiary, error) {
	return s.transition(ctx, admin, id, domain.BeneficiaryStatusConfirmed, "confirmed")
}

// Reject disables a beneficiary.
func (s *BeneficiaryService) Reject(ctx context.Context, admin models.Principal, id uuid.UUID) (*models.Beneficiary, error) {
	return s.transition(ctx, admin, id, domain.BeneficiaryStatusRejected, "rejected")
}

func (s *BeneficiaryService) transition(ctx context.Context, admin models.Principal, id uuid.UUID, next, action string) (*models.Beneficiary, error) {
	if admin.Role != domain.RoleAdmin {
		return nil, domain.ErrUnauthorized
	}
	var out models.Beneficiary
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		b, err := qtx.GetBeneficiary(ctx, id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrBeneficiaryNotFound
			}
			return fmt.Errorf("get beneficiary: %w", err)
		}
		if !canTransition(beneficiaryTransitions, b.Status, next) {
			return domain.Errorf(domain.ErrInvalidStateTransition, "beneficiary cannot move from %s to %s", b.Status, next)
		}
		rows, err := qtx.UpdateBeneficiaryStatus(ctx, repository.UpdateBeneficiaryStatusParams{ID: id, Status: next})
		if err != nil {
			return fmt.Errorf("update beneficiary status: %w", err)
		}
		if err := requireExactlyOne(rows, "update beneficiary status"); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, qtx, AuditEntry{Entity: "beneficiary", EntityID: id, Actor: &admin.ID, Action: action, From: b.Status, To: next}); err != nil {
			return err
		}
		out, err = qtx.GetBeneficiary(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("beneficiary status changed", zap.String("beneficiary_id", id.String()), zap.String("status", next))
	return &out, nil
}

// List returns the caller's beneficiaries.
func (s *BeneficiaryService) List(ctx context.Context, principal models.Principal) ([]models.Beneficiary, error) {
	rows, err := s.store.Queries().ListBeneficiariesByCustomer(ctx, principal.ID)
	if err != nil {
		return nil, fmt.Errorf("list beneficiaries: %w", err)
	}
	return rows, nil
}
