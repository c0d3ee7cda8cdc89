package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/transfer-core/internal/domain"
	"github.com/ayo6706/transfer-core/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var transferTransitions = map[string]map[string]struct{}{
	domain.TransferStatusPendingApproval: {
		domain.TransferStatusExecuted: {},
		domain.TransferStatusRejected: {},
	},
	domain.TransferStatusScheduled: {
		domain.TransferStatusExecuted:  {},
		domain.TransferStatusFailed:    {},
		domain.TransferStatusCancelled: {},
	},
	domain.TransferStatusExecuted:  {},
	domain.TransferStatusRejected:  {},
	domain.TransferStatusCancelled: {},
	domain.TransferStatusFailed:    {},
}

var jobTransitions = map[string]map[string]struct{}{
	domain.JobStatusPending: {
		domain.JobStatusExecuted:  {},
		domain.JobStatusCancelled: {},
		domain.JobStatusFailed:    {},
	},
	domain.JobStatusExecuted:  {},
	domain.JobStatusCancelled: {},
	domain.JobStatusFailed:    {},
}

var beneficiaryTransitions = map[string]map[string]struct{}{
	domain.BeneficiaryStatusPending: {
		domain.BeneficiaryStatusConfirmed: {},
		domain.BeneficiaryStatusRejected:  {},
	},
	domain.BeneficiaryStatusConfirmed: {
		domain.BeneficiaryStatusRejected: {},
	},
	domain.BeneficiaryStatusRejected: {},
}

var settlementTransitions = map[string]map[string]struct{}{
	domain.SettlementStatusPending: {
		domain.SettlementStatusProcessing:   {},
		domain.SettlementStatusCompleted:    {},
		domain.SettlementStatusManualReview: {},
	},
	domain.SettlementStatusProcessing: {
		domain.SettlementStatusPending:      {},
		domain.SettlementStatusCompleted:    {},
		domain.SettlementStatusManualReview: {},
	},
	domain.SettlementStatusManualReview: {
		domain.SettlementStatusPending:   {},
		domain.SettlementStatusCompleted: {},
	},
	domain.SettlementStatusCompleted: {},
}

func normalizeState(state string) string {
	return strings.ToUpper(strings.TrimSpace(state))
}

func canTransition(table map[string]map[string]struct{}, current, next string) bool {
	nextStates, ok := table[normalizeState(current)]
	if !ok {
		return false
	}
	_, ok = nextStates[normalizeState(next)]
	return ok
}

// transitionTransferState moves a locked transfer to update.Status and writes the audit row.
func transitionTransferState(ctx context.Context, qtx repository.Querier, audit *AuditService, update repository.UpdateTransferStatusParams, actorID *uuid.UUID, action string, metadata []byte) error {
	current, err := qtx.GetTransferForUpdate(ctx, update.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrTransferNotFound
		}
		return fmt.Errorf("get current transfer state: %w", err)
	}

	if !canTransition(transferTransitions, current.Status, update.Status) {
		return domain.Errorf(domain.ErrInvalidStateTransition, "transfer cannot move from %s to %s", current.Status, update.Status)
	}

	rows, err := qtx.UpdateTransferStatus(ctx, update)
	if err != nil {
		return fmt.Errorf("update transfer state: %w", err)
	}
	if err := requireExactlyOne(rows, "update transfer state"); err != nil {
		return err
	}

	return audit.Record(ctx, qtx, AuditEntry{Entity: "transfer", EntityID: update.ID, Actor: actorID, Action: action, From: current.Status, To: update.Status, Metadata: metadata})
}

func transitionJobState(ctx context.Context, qtx repository.Querier, audit *AuditService, jobID uuid.UUID, current, next string, lastError *string, actorID *uuid.UUID, action string) error {
	if !canTransition(jobTransitions, current, next) {
		return domain.Errorf(domain.ErrInvalidStateTransition, "scheduled job cannot move from %s to %s", current, next)
	}
	rows, err := qtx.UpdateScheduledJobStatus(ctx, repository.UpdateScheduledJobStatusParams{
		ID:        jobID,
		Status:    next,
		LastError: lastError,
	})
	if err != nil {
		return fmt.Errorf("update scheduled job state: %w", err)
	}
	if err := requireExactlyOne(rows, "update scheduled job state"); err != nil {
		return err
	}
	return audit.Record(ctx, qtx, AuditEntry{Entity: "scheduled_job", EntityID: jobID, Actor: actorID, Action: action, From: current, To: next})
}
