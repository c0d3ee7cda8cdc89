package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/transfer-core/internal/domain"
	"github.com/ayo6706/transfer-core/internal/models"
	"github.com/ayo6706/transfer-core/internal/policy"
	"github.com/ayo6706/transfer-core/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TransferService is the entry point for customer transfers: validate, route, then execute,
// queue for approval or schedule.
type TransferService struct {
	store     QueryStore
	validator *TransferValidator
	executor  *TransferExecutor
	approvals *ApprovalWorkflow
	scheduler *SchedulingManager
	router    *policy.ApprovalRouter
}

func NewTransferService(store QueryStore, validator *TransferValidator, executor *TransferExecutor, approvals *ApprovalWorkflow, scheduler *SchedulingManager) *TransferService {
	return &TransferService{
		store:     store,
		validator: validator,
		executor:  executor,
		approvals: approvals,
		scheduler: scheduler,
		router:    validator.Router(),
	}
}

// PreCheck quotes req without side effects.
func (s *TransferService) PreCheck(ctx context.Context, principal models.Principal, req models.TransferRequest) (models.PreCheckResult, error) {
	return s.validator.PreCheck(ctx, principal, req)
}

// Submit routes req. Scheduled requests go to the scheduler, amounts within the initiator
// ceiling execute now and the rest are held for review.
func (s *TransferService) Submit(ctx context.Context, principal models.Principal, req models.TransferRequest, idempotencyKey string) (*models.TransferRecord, error) {
	cmd := ExecuteCommand{Principal: principal, Request: req, IdempotencyKey: idempotencyKey}
	if req.Scheduled {
		return s.scheduler.Schedule(ctx, cmd)
	}

	prior, found, err := replayTransfer(ctx, s.store.Queries(), principal.ID, idempotencyKey, req.Hash())
	if err != nil {
		return nil, err
	}
	if found {
		return prior, failedOutcome(prior)
	}

	if s.router.Route(req.Amount, req.Currency, principal.Role).RequiresApproval {
		return s.approvals.Enqueue(ctx, cmd)
	}
	return s.executor.Execute(ctx, cmd)
}

// Get returns a transfer visible to principal. Customers see only their own.
func (s *TransferService) Get(ctx context.Context, principal models.Principal, id uuid.UUID) (*models.TransferRecord, error) {
	rec, err := s.store.Queries().GetTransfer(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, fmt.Errorf("get transfer: %w", err)
	}
	if principal.Role == domain.RoleCustomer && rec.InitiatorID != principal.ID {
		return nil, domain.ErrTransferNotFound
	}
	return &rec, nil
}

// ListMine returns transfers initiated by principal, newest first.
func (s *TransferService) ListMine(ctx context.Context, principal models.Principal, limit, offset int32) ([]models.TransferRecord, error) {
	limit, offset = pageBounds(limit, offset)
	rows, err := s.store.Queries().ListTransfersByInitiator(ctx, repository.ListTransfersByInitiatorParams{
		InitiatorID: principal.ID,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	return rows, nil
}
