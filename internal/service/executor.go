package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/transfer-core/internal/domain"
	"github.com/ayo6706/transfer-core/internal/events"
	"github.com/ayo6706/transfer-core/internal/models"
	"github.com/ayo6706/transfer-core/internal/observability"
	"github.com/ayo6706/transfer-core/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ExecuteCommand is one idempotent submission.
type ExecuteCommand struct {
	Principal      models.Principal
	Request        models.TransferRequest
	IdempotencyKey string
}

// TransferExecutor is the only component that writes account balances, holds and
// account status.
type TransferExecutor struct {
	store     QueryStore
	validator *TransferValidator
	audit     *AuditService
	opts      options
}

func NewTransferExecutor(store QueryStore, validator *TransferValidator, opts ...Option) *TransferExecutor {
	return &TransferExecutor{
		store:     store,
		validator: validator,
		audit:     NewAuditService(store),
		opts:      buildOptions(opts),
	}
}

// Execute moves the funds now. A repeated key with the same request returns the stored
// record; with a different request it fails with IdempotencyConflict.
func (e *TransferExecutor) Execute(ctx context.Context, cmd ExecuteCommand) (*models.TransferRecord, error) {
	return e.commit(ctx, cmd, false)
}

// PlaceApprovalHold records a PENDING_APPROVAL transfer and holds amount plus fee on the source.
func (e *TransferExecutor) PlaceApprovalHold(ctx context.Context, cmd ExecuteCommand) (*models.TransferRecord, error) {
	return e.commit(ctx, cmd, true)
}

func (e *TransferExecutor) commit(ctx context.Context, cmd ExecuteCommand, hold bool) (*models.TransferRecord, error) {
	path := "immediate"
	if hold {
		path = "approval"
	}

	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key == "" {
		return nil, domain.Errorf(domain.ErrInvalidRequest, "idempotency key is required")
	}
	hash := cmd.Request.Hash()

	prior, found, err := replayTransfer(ctx, e.store.Queries(), cmd.Principal.ID, key, hash)
	if err != nil {
		return nil, err
	}
	if found {
		observability.IncrementTransferOutcome(path, "replayed")
		return prior, failedOutcome(prior)
	}

	snap, err := e.validator.Load(ctx, e.store.Queries(), cmd.Principal, cmd.Request, false)
	if err != nil {
		return nil, err
	}
	ev, err := e.validator.Evaluate(snap)
	if err != nil {
		observability.IncrementTransferOutcome(path, "rejected")
		return nil, err
	}
	if ev.Decision.RequiresApproval != hold {
		if hold {
			return nil, domain.Errorf(domain.ErrInvalidRequest, "transfer is within the initiator ceiling and does not need approval")
		}
		return nil, domain.ErrApprovalRequired
	}

	status := domain.TransferStatusExecuted
	if hold {
		status = domain.TransferStatusPendingApproval
	}
	rec := newTransferRecord(cmd.Principal, cmd.Request, key, hash, ev, status)

	var replayed *models.TransferRecord
	err = e.store.RunInTx(ctx, func(qtx repository.Querier) error {
		locked, err := e.validator.Load(ctx, qtx, cmd.Principal, cmd.Request, true)
		if err != nil {
			return err
		}
		prior, found, err := replayTransfer(ctx, qtx, cmd.Principal.ID, key, hash)
		if err != nil {
			return err
		}
		if found {
			replayed = prior
			return nil
		}
		lev, err := e.validator.Evaluate(locked)
		if err != nil {
			return domain.Wrap(domain.ErrConcurrentModification, err)
		}

		rec = newTransferRecord(cmd.Principal, cmd.Request, key, hash, lev, status)
		if !hold {
			now := e.opts.now()
			ref := settlementRef(now, e.opts.location, rec.ID)
			rec.ExecutedAt = &now
			rec.SettlementRef = &ref
		}

		created, err := qtx.CreateTransfer(ctx, rec)
		if err != nil {
			return fmt.Errorf("create transfer: %w", err)
		}

		if hold {
			rows, err := qtx.HoldAccountFunds(ctx, repository.AdjustAccountParams{ID: created.SourceAccountID, Amount: created.TotalDebit})
			if err != nil {
				return fmt.Errorf("hold source funds: %w", err)
			}
			if err := requireExactlyOne(rows, "hold source funds"); err != nil {
				return domain.Wrap(domain.ErrConcurrentModification, err)
			}
		} else if err := e.post(ctx, qtx, created, false); err != nil {
			return err
		}

		if err := e.audit.Record(ctx, qtx, AuditEntry{Entity: "transfer", EntityID: created.ID, Actor: &cmd.Principal.ID, Action: "created", To: created.Status}); err != nil {
			return err
		}
		rec = created
		return nil
	})

	if err != nil {
		if errors.Is(err, domain.ErrIdempotencyConflict) {
			return nil, err
		}
		if repository.IsUniqueViolation(err) {
			prior, found, rerr := replayTransfer(ctx, e.store.Queries(), cmd.Principal.ID, key, hash)
			if rerr != nil {
				return nil, rerr
			}
			if found {
				observability.IncrementTransferOutcome(path, "replayed")
				return prior, failedOutcome(prior)
			}
		}

		failure := err
		if !errors.Is(err, domain.ErrConcurrentModification) {
			failure = domain.Wrap(domain.ErrExecutionFailure, err)
		}
		zap.L().Error("transfer commit failed",
			zap.Error(err),
			zap.String("operation", path),
			zap.String("account_id", cmd.Request.SourceAccountID.String()),
			zap.Int64("amount", cmd.Request.Amount),
			zap.String("transfer_id", rec.ID.String()),
		)
		observability.IncrementTransferOutcome(path, "failed")

		failed, perr := e.persistFailed(context.WithoutCancel(ctx), rec, failure.Error())
		if perr != nil {
			zap.L().Error("persist failed transfer record failed", zap.Error(perr), zap.String("transfer_id", rec.ID.String()))
			return nil, failure
		}
		return failed, failure
	}

	if replayed != nil {
		observability.IncrementTransferOutcome(path, "replayed")
		return replayed, failedOutcome(replayed)
	}

	outcome := "executed"
	if hold {
		outcome = "held"
	} else {
		publish(ctx, e.opts.publisher, events.TransferExecuted, rec, &cmd.Principal.ID, "")
	}
	observability.IncrementTransferOutcome(path, outcome)
	zap.L().Info("transfer committed",
		zap.String("transfer_id", rec.ID.String()),
		zap.String("status", rec.Status),
		zap.String("account_id", rec.SourceAccountID.String()),
		zap.Int64("amount", rec.Amount),
	)
	return &rec, nil
}

// persistFailed stores rec as FAILED in its own transaction so the key keeps its outcome.
func (e *TransferExecutor) persistFailed(ctx context.Context, rec models.TransferRecord, reason string) (*models.TransferRecord, error) {
	rec.Status = domain.TransferStatusFailed
	rec.FailureReason = &reason
	rec.ExecutedAt = nil
	rec.SettlementRef = nil

	var stored models.TransferRecord
	err := e.store.RunInTx(ctx, func(qtx repository.Querier) error {
		created, err := qtx.CreateTransfer(ctx, rec)
		if err != nil {
			return fmt.Errorf("create failed transfer: %w", err)
		}
		metadata, err := marshalReasonMetadata(reason)
		if err != nil {
			return fmt.Errorf("marshal failure metadata: %w", err)
		}
		if err := e.audit.Record(ctx, qtx, AuditEntry{Entity: "transfer", EntityID: created.ID, Actor: &rec.InitiatorID, Action: "failed", To: created.Status, Metadata: metadata}); err != nil {
			return err
		}
		stored = created
		return nil
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			existing, gerr := e.store.Queries().GetTransferByIdempotencyKey(ctx, rec.InitiatorID, rec.IdempotencyKey)
			if gerr == nil {
				return &existing, nil
			}
		}
		return nil, err
	}
	publish(ctx, e.opts.publisher, events.TransferFailed, stored, &rec.InitiatorID, reason)
	return &stored, nil
}

// failedOutcome rebuilds the error a FAILED record was stored with, so a replay answers
// the way the original submission did. Other statuses replay without error.
func failedOutcome(rec *models.TransferRecord) error {
	if rec == nil || rec.Status != domain.TransferStatusFailed {
		return nil
	}
	reason := domain.ErrExecutionFailure.Message
	if rec.FailureReason != nil && *rec.FailureReason != "" {
		reason = *rec.FailureReason
	}
	if strings.HasPrefix(reason, domain.ErrConcurrentModification.Message) {
		return domain.Errorf(domain.ErrConcurrentModification, "%s", reason)
	}
	return domain.Errorf(domain.ErrExecutionFailure, "%s", reason)
}

// CommitApproved settles the held funds of a PENDING_APPROVAL record inside the caller's
// transaction and moves it to EXECUTED.
func (e *TransferExecutor) CommitApproved(ctx context.Context, qtx repository.Querier, rec models.TransferRecord, approverID uuid.UUID) (models.TransferRecord, error) {
	ids := []uuid.UUID{rec.SourceAccountID}
	if rec.DestinationAccountID != nil {
		ids = append(ids, *rec.DestinationAccountID)
	}
	if err := lockAccounts(ctx, qtx, ids); err != nil {
		return rec, err
	}

	src, err := qtx.GetAccount(ctx, rec.SourceAccountID)
	if err != nil {
		return rec, fmt.Errorf("get source account: %w", notFound(err, domain.ErrAccountNotFound))
	}
	if src.Status != domain.AccountStatusActive {
		return rec, domain.Errorf(domain.ErrConcurrentModification, "source account is %s", strings.ToLower(src.Status))
	}
	if rec.DestinationAccountID != nil {
		dst, err := qtx.GetAccount(ctx, *rec.DestinationAccountID)
		if err != nil {
			return rec, fmt.Errorf("get destination account: %w", err)
		}
		if dst.Status == domain.AccountStatusClosed {
			return rec, domain.Errorf(domain.ErrConcurrentModification, "destination account is closed")
		}
	}

	if err := e.post(ctx, qtx, rec, true); err != nil {
		return rec, err
	}

	now := e.opts.now()
	ref := settlementRef(now, e.opts.location, rec.ID)
	if err := transitionTransferState(ctx, qtx, e.audit, repository.UpdateTransferStatusParams{
		ID:            rec.ID,
		Status:        domain.TransferStatusExecuted,
		ApproverID:    &approverID,
		SettlementRef: &ref,
		ExecutedAt:    &now,
	}, &approverID, "approved", nil); err != nil {
		return rec, err
	}
	return qtx.GetTransfer(ctx, rec.ID)
}

// ReleaseApprovalHold returns the held funds of a PENDING_APPROVAL record and rejects it.
func (e *TransferExecutor) ReleaseApprovalHold(ctx context.Context, qtx repository.Querier, rec models.TransferRecord, actorID uuid.UUID, reason, action string) (models.TransferRecord, error) {
	if err := lockAccounts(ctx, qtx, []uuid.UUID{rec.SourceAccountID}); err != nil {
		return rec, err
	}
	rows, err := qtx.ReleaseAccountFunds(ctx, repository.AdjustAccountParams{ID: rec.SourceAccountID, Amount: rec.TotalDebit})
	if err != nil {
		return rec, fmt.Errorf("release held funds: %w", err)
	}
	if err := requireExactlyOne(rows, "release held funds"); err != nil {
		return rec, err
	}

	metadata, err := marshalReasonMetadata(reason)
	if err != nil {
		return rec, fmt.Errorf("marshal rejection metadata: %w", err)
	}
	if err := transitionTransferState(ctx, qtx, e.audit, repository.UpdateTransferStatusParams{
		ID:              rec.ID,
		Status:          domain.TransferStatusRejected,
		ApproverID:      &actorID,
		RejectionReason: &reason,
	}, &actorID, action, metadata); err != nil {
		return rec, err
	}
	return qtx.GetTransfer(ctx, rec.ID)
}

// BlockAccount sets an account to BLOCKED. Blocking an already blocked account is a no-op.
func (e *TransferExecutor) BlockAccount(ctx context.Context, qtx repository.Querier, accountID, actorID uuid.UUID, reason string) error {
	acc, err := qtx.GetAccountForUpdate(ctx, accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrAccountNotFound
		}
		return fmt.Errorf("lock account: %w", err)
	}
	if acc.Status == domain.AccountStatusBlocked {
		return nil
	}
	rows, err := qtx.UpdateAccountStatus(ctx, repository.UpdateAccountStatusParams{ID: accountID, Status: domain.AccountStatusBlocked})
	if err != nil {
		return fmt.Errorf("block account: %w", err)
	}
	if err := requireExactlyOne(rows, "block account"); err != nil {
		return err
	}
	metadata, err := marshalReasonMetadata(reason)
	if err != nil {
		return fmt.Errorf("marshal block metadata: %w", err)
	}
	zap.L().Warn("account blocked", zap.String("account_id", accountID.String()), zap.String("actor_id", actorID.String()))
	return e.audit.Record(ctx, qtx, AuditEntry{Entity: "account", EntityID: accountID, Actor: &actorID, Action: "blocked", From: acc.Status, To: domain.AccountStatusBlocked, Metadata: metadata})
}

// ExecuteScheduled runs a SCHEDULED record inside the caller's transaction. Validation and
// policy failures are returned before anything is written.
func (e *TransferExecutor) ExecuteScheduled(ctx context.Context, qtx repository.Querier, rec models.TransferRecord) (models.TransferRecord, error) {
	principal := models.Principal{ID: rec.InitiatorID, Role: domain.ParseRole(rec.InitiatorRole)}
	req := requestFromRecord(rec)

	snap, err := e.validator.Load(ctx, qtx, principal, req, true)
	if err != nil {
		return rec, err
	}
	ev, err := e.validator.Evaluate(snap)
	if err != nil {
		return rec, err
	}
	if ev.Decision.RequiresApproval {
		return rec, domain.ErrApprovalRequired
	}
	if ev.TotalDebit != rec.TotalDebit && ev.Source.Available < rec.TotalDebit {
		return rec, domain.Errorf(domain.ErrInsufficientFunds, "available %s is below the required %s",
			domain.NewMoney(ev.Source.Available, rec.Currency), domain.NewMoney(rec.TotalDebit, rec.Currency))
	}

	if err := e.post(ctx, qtx, rec, false); err != nil {
		return rec, err
	}

	now := e.opts.now()
	ref := settlementRef(now, e.opts.location, rec.ID)
	if err := transitionTransferState(ctx, qtx, e.audit, repository.UpdateTransferStatusParams{
		ID:            rec.ID,
		Status:        domain.TransferStatusExecuted,
		SettlementRef: &ref,
		ExecutedAt:    &now,
	}, nil, "scheduled_executed", nil); err != nil {
		return rec, err
	}
	return qtx.GetTransfer(ctx, rec.ID)
}

// FailScheduled moves a SCHEDULED record to FAILED with reason.
func (e *TransferExecutor) FailScheduled(ctx context.Context, qtx repository.Querier, transferID uuid.UUID, reason string) error {
	metadata, err := marshalReasonMetadata(reason)
	if err != nil {
		return fmt.Errorf("marshal failure metadata: %w", err)
	}
	return transitionTransferState(ctx, qtx, e.audit, repository.UpdateTransferStatusParams{
		ID:            transferID,
		Status:        domain.TransferStatusFailed,
		FailureReason: &reason,
	}, nil, "scheduled_failed", metadata)
}

// post writes the balance movements and double entries for rec. With fromHold the source
// debit consumes a previous hold.
func (e *TransferExecutor) post(ctx context.Context, qtx repository.Querier, rec models.TransferRecord, fromHold bool) error {
	debit, op := qtx.ApplyAccountDebit, "debit source account"
	if fromHold {
		debit, op = qtx.SettleHeldFunds, "settle held funds"
	}
	rows, err := debit(ctx, repository.AdjustAccountParams{ID: rec.SourceAccountID, Amount: rec.TotalDebit})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := requireExactlyOne(rows, op); err != nil {
		return domain.Wrap(domain.ErrConcurrentModification, err)
	}
	if err := e.entry(ctx, qtx, rec.ID, rec.SourceAccountID, rec.TotalDebit, domain.DirectionDebit); err != nil {
		return err
	}

	target := uuid.Nil
	if rec.DestinationAccountID != nil {
		target = *rec.DestinationAccountID
	} else {
		if target, err = clearingAccountID(rec.Currency); err != nil {
			return err
		}
	}
	if err := e.credit(ctx, qtx, rec.ID, target, rec.Amount); err != nil {
		return err
	}

	if rec.Kind == domain.TransferKindExternal {
		destination, err := settlementDestination(ctx, qtx, rec)
		if err != nil {
			return err
		}
		if _, err := qtx.CreateSettlement(ctx, models.Settlement{
			ID:          uuid.New(),
			TransferID:  rec.ID,
			Amount:      rec.Amount,
			Currency:    rec.Currency,
			Destination: destination,
			Status:      domain.SettlementStatusPending,
		}); err != nil {
			return fmt.Errorf("create settlement: %w", err)
		}
	}

	if rec.Fee > 0 {
		feeAccount, err := feeAccountID(rec.Currency)
		if err != nil {
			return err
		}
		if err := e.credit(ctx, qtx, rec.ID, feeAccount, rec.Fee); err != nil {
			return err
		}
	}
	return nil
}

func (e *TransferExecutor) credit(ctx context.Context, qtx repository.Querier, transferID, accountID uuid.UUID, amount int64) error {
	rows, err := qtx.ApplyAccountCredit(ctx, repository.AdjustAccountParams{ID: accountID, Amount: amount})
	if err != nil {
		return fmt.Errorf("credit account %s: %w", accountID, err)
	}
	if err := requireExactlyOne(rows, "credit account"); err != nil {
		return err
	}
	return e.entry(ctx, qtx, transferID, accountID, amount, domain.DirectionCredit)
}

func (e *TransferExecutor) entry(ctx context.Context, qtx repository.Querier, transferID, accountID uuid.UUID, amount int64, direction string) error {
	if _, err := qtx.CreateEntry(ctx, repository.CreateEntryParams{
		ID:         uuid.New(),
		TransferID: transferID,
		AccountID:  accountID,
		Amount:     amount,
		Direction:  direction,
	}); err != nil {
		return fmt.Errorf("create %s entry: %w", direction, err)
	}
	return nil
}

func settlementDestination(ctx context.Context, qtx repository.Querier, rec models.TransferRecord) (string, error) {
	dest := Destination{Name: rec.DestinationName, Number: rec.DestinationAccountNumber}
	if rec.BeneficiaryID != nil {
		b, err := qtx.GetBeneficiary(ctx, *rec.BeneficiaryID)
		if err != nil {
			return "", fmt.Errorf("get beneficiary for settlement: %w", err)
		}
		dest.BankCode = strings.ToUpper(b.BankCode)
	}
	return dest.describe(), nil
}

// replayTransfer looks up key among the initiator's transfers. A stored record with a
// different request hash is a conflict.
func replayTransfer(ctx context.Context, q repository.Querier, initiatorID uuid.UUID, key, hash string) (*models.TransferRecord, bool, error) {
	rec, err := q.GetTransferByIdempotencyKey(ctx, initiatorID, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("check idempotency key: %w", err)
	}
	if rec.RequestHash != hash {
		observability.IncrementIdempotencyEvent("conflict")
		return nil, true, domain.Errorf(domain.ErrIdempotencyConflict, "idempotency key %q was used with a different request", key)
	}
	observability.IncrementIdempotencyEvent("replay")
	return &rec, true, nil
}

func newTransferRecord(p models.Principal, req models.TransferRequest, key, hash string, ev Evaluation, status string) models.TransferRecord {
	rec := models.TransferRecord{
		ID:                       uuid.New(),
		IdempotencyKey:           key,
		RequestHash:              hash,
		SourceAccountID:          req.SourceAccountID,
		DestinationAccountNumber: ev.Destination.Number,
		BeneficiaryID:            req.BeneficiaryID,
		DestinationName:          ev.Destination.Name,
		Amount:                   req.Amount,
		Fee:                      ev.Fee,
		TotalDebit:               ev.TotalDebit,
		Currency:                 req.Currency,
		Description:              req.Description,
		Kind:                     ev.Destination.Kind,
		Status:                   status,
		InitiatorID:              p.ID,
		InitiatorRole:            string(p.Role),
		HighValue:                ev.Decision.HighValue,
		ScheduledAt:              req.ScheduledAt,
	}
	if ev.Destination.Account != nil {
		id := ev.Destination.Account.ID
		rec.DestinationAccountID = &id
	}
	if ev.Decision.RequiresApproval {
		rec.RequiredApproverRole = string(ev.Decision.ApproverRole)
	}
	return rec
}

func requestFromRecord(rec models.TransferRecord) models.TransferRequest {
	req := models.TransferRequest{
		SourceAccountID: rec.SourceAccountID,
		Amount:          rec.Amount,
		Currency:        rec.Currency,
		Description:     rec.Description,
		Scheduled:       rec.ScheduledAt != nil,
		ScheduledAt:     rec.ScheduledAt,
	}
	if rec.BeneficiaryID != nil {
		id := *rec.BeneficiaryID
		req.BeneficiaryID = &id
	} else {
		req.DestinationAccountNumber = rec.DestinationAccountNumber
	}
	return req
}

func publish(ctx context.Context, p events.Publisher, eventType string, rec models.TransferRecord, actorID *uuid.UUID, reason string) {
	if err := p.Publish(ctx, events.NewTransferEvent(eventType, rec, actorID, reason)); err != nil {
		zap.L().Warn("publish transfer event failed",
			zap.Error(err),
			zap.String("event_type", eventType),
			zap.String("transfer_id", rec.ID.String()),
		)
	}
}
