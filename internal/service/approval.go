package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ayo6706/transfer-core/internal/domain"
	"github.com/ayo6706/transfer-core/internal/events"
	"github.com/ayo6706/transfer-core/internal/models"
	"github.com/ayo6706/transfer-core/internal/observability"
	"github.com/ayo6706/transfer-core/internal/policy"
	"github.com/ayo6706/transfer-core/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const minReasonLength = 10

// ApprovalWorkflow drives PENDING_APPROVAL records to EXECUTED or REJECTED.
type ApprovalWorkflow struct {
	store    QueryStore
	executor *TransferExecutor
	router   *policy.ApprovalRouter
	audit    *AuditService
	opts     options
}

func NewApprovalWorkflow(store QueryStore, executor *TransferExecutor, router *policy.ApprovalRouter, opts ...Option) *ApprovalWorkflow {
	return &ApprovalWorkflow{
		store:    store,
		executor: executor,
		router:   router,
		audit:    NewAuditService(store),
		opts:     buildOptions(opts),
	}
}

// Enqueue holds the funds and queues the transfer for review.
func (w *ApprovalWorkflow) Enqueue(ctx context.Context, cmd ExecuteCommand) (*models.TransferRecord, error) {
	rec, err := w.executor.PlaceApprovalHold(ctx, cmd)
	if err != nil {
		return rec, err
	}
	if rec.Status == domain.TransferStatusPendingApproval {
		publish(ctx, w.opts.publisher, events.TransferPendingApproval, *rec, &cmd.Principal.ID, "")
		w.refreshQueueGauge(ctx)
	}
	return rec, nil
}

// Approve executes a queued transfer on behalf of reviewer.
func (w *ApprovalWorkflow) Approve(ctx context.Context, id uuid.UUID, reviewer models.Principal, notes string) (*models.TransferRecord, error) {
	var result models.TransferRecord
	err := w.store.RunInTx(ctx, func(qtx repository.Querier) error {
		rec, err := w.lockPending(ctx, qtx, id, reviewer)
		if err != nil {
			return err
		}
		if notes = strings.TrimSpace(notes); notes != "" {
			if err := w.writeNotes(ctx, qtx, rec, reviewer, notes); err != nil {
				return err
			}
		}
		result, err = w.executor.CommitApproved(ctx, qtx, rec, reviewer.ID)
		return err
	})
	if err != nil {
		zap.L().Warn("approval failed", zap.Error(err), zap.String("transfer_id", id.String()), zap.String("reviewer_id", reviewer.ID.String()))
		return nil, err
	}

	observability.IncrementApprovalDecision("approved")
	publish(ctx, w.opts.publisher, events.TransferApproved, result, &reviewer.ID, "")
	publish(ctx, w.opts.publisher, events.TransferExecuted, result, &reviewer.ID, "")
	w.refreshQueueGauge(ctx)
	return &result, nil
}

// Reject releases the hold and stores the reason. The reason must have at least ten
// characters after trimming.
func (w *ApprovalWorkflow) Reject(ctx context.Context, id uuid.UUID, reviewer models.Principal, reason string) (*models.TransferRecord, error) {
	reason = strings.TrimSpace(reason)
	if len([]rune(reason)) < minReasonLength {
		return nil, domain.ErrReasonTooShort
	}

	var result models.TransferRecord
	err := w.store.RunInTx(ctx, func(qtx repository.Querier) error {
		rec, err := w.lockPending(ctx, qtx, id, reviewer)
		if err != nil {
			return err
		}
		result, err = w.executor.ReleaseApprovalHold(ctx, qtx, rec, reviewer.ID, reason, "rejected")
		return err
	})
	if err != nil {
		return nil, err
	}

	observability.IncrementApprovalDecision("rejected")
	publish(ctx, w.opts.publisher, events.TransferRejected, result, &reviewer.ID, reason)
	w.refreshQueueGauge(ctx)
	return &result, nil
}

// Block rejects the operation and blocks its source account. Administrators only.
func (w *ApprovalWorkflow) Block(ctx context.Context, id uuid.UUID, admin models.Principal, reason string) (*models.TransferRecord, error) {
	if admin.Role != domain.RoleAdmin {
		return nil, domain.Errorf(domain.ErrUnauthorized, "only administrators can block operations")
	}
	reason = strings.TrimSpace(reason)
	if len([]rune(reason)) < minReasonLength {
		return nil, domain.ErrReasonTooShort
	}

	var result models.TransferRecord
	err := w.store.RunInTx(ctx, func(qtx repository.Querier) error {
		rec, err := w.lockPending(ctx, qtx, id, admin)
		if err != nil {
			return err
		}
		result, err = w.executor.ReleaseApprovalHold(ctx, qtx, rec, admin.ID, reason, "blocked")
		if err != nil {
			return err
		}
		return w.executor.BlockAccount(ctx, qtx, rec.SourceAccountID, admin.ID, reason)
	})
	if err != nil {
		return nil, err
	}

	observability.IncrementApprovalDecision("blocked")
	publish(ctx, w.opts.publisher, events.TransferRejected, result, &admin.ID, reason)
	w.refreshQueueGauge(ctx)
	return &result, nil
}

// AddNotes attaches reviewer notes to a queued transfer.
func (w *ApprovalWorkflow) AddNotes(ctx context.Context, id uuid.UUID, reviewer models.Principal, notes string) (*models.TransferRecord, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, domain.Errorf(domain.ErrInvalidRequest, "notes must not be empty")
	}

	var result models.TransferRecord
	err := w.store.RunInTx(ctx, func(qtx repository.Querier) error {
		rec, err := qtx.GetTransferForUpdate(ctx, id)
		if err != nil {
			return notFound(err, domain.ErrTransferNotFound)
		}
		if !w.router.CanReview(reviewer.Role, rec.Currency) {
			return domain.ErrUnauthorized
		}
		if rec.Status != domain.TransferStatusPendingApproval {
			return domain.Errorf(domain.ErrInvalidStateTransition, "notes can only be added while pending approval, transfer is %s", rec.Status)
		}
		if err := w.writeNotes(ctx, qtx, rec, reviewer, notes); err != nil {
			return err
		}
		result, err = qtx.GetTransfer(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// lockPending applies the review checks in order: authority to review, pending state,
// ceiling covering the amount, and separation from the initiator.
func (w *ApprovalWorkflow) lockPending(ctx context.Context, qtx repository.Querier, id uuid.UUID, reviewer models.Principal) (models.TransferRecord, error) {
	rec, err := qtx.GetTransferForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, domain.ErrTransferNotFound
		}
		return rec, fmt.Errorf("get transfer for update: %w", err)
	}
	if !w.router.CanReview(reviewer.Role, rec.Currency) {
		return rec, domain.Errorf(domain.ErrUnauthorized, "role %s cannot review transfers", reviewer.Role)
	}
	if rec.Status != domain.TransferStatusPendingApproval {
		return rec, domain.Errorf(domain.ErrInvalidStateTransition, "transfer is %s", rec.Status)
	}
	if !w.router.CanApprove(rec.Amount, rec.Currency, reviewer.Role) {
		return rec, domain.Errorf(domain.ErrInsufficientApprovalAuthority, "%s cannot decide on %s", reviewer.Role, domain.NewMoney(rec.Amount, rec.Currency))
	}
	if rec.InitiatorID == reviewer.ID {
		return rec, domain.ErrSelfApproval
	}
	return rec, nil
}

func (w *ApprovalWorkflow) writeNotes(ctx context.Context, qtx repository.Querier, rec models.TransferRecord, reviewer models.Principal, notes string) error {
	rows, err := qtx.UpdateTransferNotes(ctx, repository.UpdateTransferNotesParams{ID: rec.ID, Notes: notes})
	if err != nil {
		return fmt.Errorf("update review notes: %w", err)
	}
	if err := requireExactlyOne(rows, "update review notes"); err != nil {
		return err
	}
	metadata, err := marshalReasonMetadata(notes)
	if err != nil {
		return fmt.Errorf("marshal notes metadata: %w", err)
	}
	return w.audit.Record(ctx, qtx, AuditEntry{Entity: "transfer", EntityID: rec.ID, Actor: &reviewer.ID, Action: "notes_added", From: rec.Status, To: rec.Status, Metadata: metadata})
}

// ListPending returns every PENDING_APPROVAL record, oldest first.
func (w *ApprovalWorkflow) ListPending(ctx context.Context, reviewer models.Principal, limit, offset int32) ([]models.TransferRecord, error) {
	return w.list(ctx, reviewer, domain.TransferStatusPendingApproval, false, limit, offset)
}

// ListHighRisk returns pending high-value records.
func (w *ApprovalWorkflow) ListHighRisk(ctx context.Context, reviewer models.Principal, limit, offset int32) ([]models.TransferRecord, error) {
	return w.list(ctx, reviewer, domain.TransferStatusPendingApproval, true, limit, offset)
}

// ListHighValue returns high-value records in any status.
func (w *ApprovalWorkflow) ListHighValue(ctx context.Context, reviewer models.Principal, limit, offset int32) ([]models.TransferRecord, error) {
	if !reviewer.Role.IsStaff() {
		return nil, domain.ErrUnauthorized
	}
	limit, offset = pageBounds(limit, offset)
	rows, err := w.store.Queries().ListHighValueTransfers(ctx, repository.ListHighValueTransfersParams{Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("list high value transfers: %w", err)
	}
	return rows, nil
}

func (w *ApprovalWorkflow) list(ctx context.Context, reviewer models.Principal, status string, highValueOnly bool, limit, offset int32) ([]models.TransferRecord, error) {
	if !reviewer.Role.IsStaff() {
		return nil, domain.ErrUnauthorized
	}
	limit, offset = pageBounds(limit, offset)
	rows, err := w.store.Queries().ListTransfersByStatus(ctx, repository.ListTransfersByStatusParams{
		Status:        status,
		HighValueOnly: highValueOnly,
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list transfers by status: %w", err)
	}
	return rows, nil
}

var csvHeader = []string{
	"id", "status", "created_at", "executed_at", "source_account_id", "destination", "amount", "fee", "currency",
	"initiator_id", "initiator_role", "required_approver_role", "approver_id", "rejection_reason", "review_notes",
}

// ExportCSV writes every high-value record to out.
func (w *ApprovalWorkflow) ExportCSV(ctx context.Context, reviewer models.Principal, out io.Writer) error {
	if !reviewer.Role.IsStaff() {
		return domain.ErrUnauthorized
	}
	cw := csv.NewWriter(out)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	var offset int32
	for {
		rows, err := w.store.Queries().ListHighValueTransfers(ctx, repository.ListHighValueTransfersParams{Limit: maxPageSize, Offset: offset})
		if err != nil {
			return fmt.Errorf("list high value transfers: %w", err)
		}
		for _, rec := range rows {
			if err := cw.Write(csvRow(rec)); err != nil {
				return fmt.Errorf("write csv row: %w", err)
			}
		}
		if len(rows) < maxPageSize {
			break
		}
		offset += int32(len(rows))
	}

	cw.Flush()
	return cw.Error()
}

func csvRow(rec models.TransferRecord) []string {
	executedAt := ""
	if rec.ExecutedAt != nil {
		executedAt = rec.ExecutedAt.UTC().Format(time.RFC3339)
	}
	approver := ""
	if rec.ApproverID != nil {
		approver = rec.ApproverID.String()
	}
	destination := rec.DestinationAccountNumber
	if rec.DestinationName != "" {
		destination = fmt.Sprintf("%s (%s)", rec.DestinationName, rec.DestinationAccountNumber)
	}
	return []string{
		rec.ID.String(),
		rec.Status,
		rec.CreatedAt.UTC().Format(time.RFC3339),
		executedAt,
		rec.SourceAccountID.String(),
		destination,
		domain.NewMoney(rec.Amount, rec.Currency).ToDecimal().StringFixed(2),
		domain.NewMoney(rec.Fee, rec.Currency).ToDecimal().StringFixed(2),
		rec.Currency,
		rec.InitiatorID.String(),
		rec.InitiatorRole,
		rec.RequiredApproverRole,
		approver,
		deref(rec.RejectionReason),
		deref(rec.ReviewNotes),
	}
}

// QueueSize counts PENDING_APPROVAL records.
func (w *ApprovalWorkflow) QueueSize(ctx context.Context) (int64, error) {
	count, err := w.store.Queries().CountTransfersByStatus(ctx, domain.TransferStatusPendingApproval)
	if err != nil {
		return 0, fmt.Errorf("count pending approvals: %w", err)
	}
	return count, nil
}

func (w *ApprovalWorkflow) refreshQueueGauge(ctx context.Context) {
	size, err := w.QueueSize(ctx)
	if err != nil {
		zap.L().Warn("approval queue size refresh failed", zap.Error(err))
		return
	}
	observability.SetApprovalQueueSize(size)
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
