package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/transfer-core/internal/domain"
	"github.com/ayo6706/transfer-core/internal/events"
	"github.com/ayo6706/transfer-core/internal/models"
	"github.com/ayo6706/transfer-core/internal/observability"
	"github.com/ayo6706/transfer-core/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// DefaultCancelGrace is how long before the due time a scheduled transfer stops being cancellable.
const DefaultCancelGrace = time.Hour

// SchedulingManager stores future-dated transfers and executes them when due.
type SchedulingManager struct {
	store     QueryStore
	validator *TransferValidator
	executor  *TransferExecutor
	audit     *AuditService
	grace     time.Duration
	opts      options
}

func NewSchedulingManager(store QueryStore, validator *TransferValidator, executor *TransferExecutor, grace time.Duration, opts ...Option) *SchedulingManager {
	if grace <= 0 {
		grace = DefaultCancelGrace
	}
	return &SchedulingManager{
		store:     store,
		validator: validator,
		executor:  executor,
		audit:     NewAuditService(store),
		grace:     grace,
		opts:      buildOptions(opts),
	}
}

// RunSummary reports the outcome of one RunDue pass.
type RunSummary struct {
	Executed int `json:"executed"`
	Failed   int `json:"failed"`
}

// Schedule creates a SCHEDULED record and its PENDING job. The execution time must fall
// after tomorrow 00:00 in the business timezone.
func (m *SchedulingManager) Schedule(ctx context.Context, cmd ExecuteCommand) (*models.TransferRecord, error) {
	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key == "" {
		return nil, domain.Errorf(domain.ErrInvalidRequest, "idempotency key is required")
	}
	req := cmd.Request
	if !req.Scheduled || req.ScheduledAt == nil {
		return nil, domain.Errorf(domain.ErrInvalidScheduleDate, "scheduled transfers require an execution date")
	}
	hash := req.Hash()

	prior, found, err := replayTransfer(ctx, m.store.Queries(), cmd.Principal.ID, key, hash)
	if err != nil {
		return nil, err
	}
	if found {
		return prior, nil
	}

	if err := m.validator.CheckScheduleDate(req); err != nil {
		return nil, err
	}

	snap, err := m.validator.Load(ctx, m.store.Queries(), cmd.Principal, req, false)
	if err != nil {
		return nil, err
	}
	snap.Deferred = true
	ev, err := m.validator.Evaluate(snap)
	if err != nil {
		observability.IncrementTransferOutcome("scheduled", "rejected")
		return nil, err
	}
	if err := CheckSchedulable(ev, req.Currency); err != nil {
		return nil, err
	}

	rec := newTransferRecord(cmd.Principal, req, key, hash, ev, domain.TransferStatusScheduled)
	due := req.ScheduledAt.UTC()
	job := models.ScheduledJob{
		ID:                   uuid.New(),
		TransferID:           rec.ID,
		DueAt:                due,
		CancellationDeadline: due.Add(-m.grace),
		Status:               domain.JobStatusPending,
	}

	var replayed *models.TransferRecord
	err = m.store.RunInTx(ctx, func(qtx repository.Querier) error {
		prior, found, err := replayTransfer(ctx, qtx, cmd.Principal.ID, key, hash)
		if err != nil {
			return err
		}
		if found {
			replayed = prior
			return nil
		}
		created, err := qtx.CreateTransfer(ctx, rec)
		if err != nil {
			return fmt.Errorf("create scheduled transfer: %w", err)
		}
		if _, err := qtx.CreateScheduledJob(ctx, job); err != nil {
			return fmt.Errorf("create scheduled job: %w", err)
		}
		if err := m.audit.Record(ctx, qtx, AuditEntry{Entity: "transfer", EntityID: created.ID, Actor: &cmd.Principal.ID, Action: "scheduled", To: created.Status}); err != nil {
			return err
		}
		rec = created
		return nil
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			if prior, found, rerr := replayTransfer(ctx, m.store.Queries(), cmd.Principal.ID, key, hash); rerr == nil && found {
				return prior, nil
			}
		}
		return nil, err
	}
	if replayed != nil {
		return replayed, nil
	}

	observability.IncrementTransferOutcome("scheduled", "scheduled")
	publish(ctx, m.opts.publisher, events.TransferScheduled, rec, &cmd.Principal.ID, "")
	zap.L().Info("transfer scheduled",
		zap.String("transfer_id", rec.ID.String()),
		zap.String("account_id", rec.SourceAccountID.String()),
		zap.Int64("amount", rec.Amount),
		zap.Time("due_at", due),
	)
	return &rec, nil
}

// Cancel stops a PENDING job before its cancellation deadline. Only the initiator or an
// administrator may cancel.
func (m *SchedulingManager) Cancel(ctx context.Context, principal models.Principal, transferID uuid.UUID) (*models.TransferRecord, error) {
	var result models.TransferRecord
	err := m.store.RunInTx(ctx, func(qtx repository.Querier) error {
		rec, err := qtx.GetTransferForUpdate(ctx, transferID)
		if err != nil {
			return notFound(err, domain.ErrTransferNotFound)
		}
		if rec.InitiatorID != principal.ID && principal.Role != domain.RoleAdmin {
			return domain.Errorf(domain.ErrUnauthorized, "only the initiator or an administrator can cancel")
		}
		job, err := qtx.GetScheduledJobByTransferForUpdate(ctx, transferID)
		if err != nil {
			return notFound(err, domain.ErrScheduledJobNotFound)
		}
		if job.Status != domain.JobStatusPending {
			return domain.Errorf(domain.ErrInvalidStateTransition, "scheduled job is %s", job.Status)
		}
		if !m.opts.now().Before(job.CancellationDeadline) {
			return domain.Errorf(domain.ErrCancellationWindowClosed, "cancellation closed at %s", job.CancellationDeadline.In(m.opts.location).Format(time.RFC3339))
		}

		if err := transitionJobState(ctx, qtx, m.audit, job.ID, job.Status, domain.JobStatusCancelled, nil, &principal.ID, "cancelled"); err != nil {
			return err
		}
		if err := transitionTransferState(ctx, qtx, m.audit, repository.UpdateTransferStatusParams{
			ID:     transferID,
			Status: domain.TransferStatusCancelled,
		}, &principal.ID, "cancelled", nil); err != nil {
			return err
		}
		result, err = qtx.GetTransfer(ctx, transferID)
		return err
	})
	if err != nil {
		return nil, err
	}

	publish(ctx, m.opts.publisher, events.TransferCancelled, result, &principal.ID, "")
	return &result, nil
}

// RunDue claims and executes up to batch due jobs, one transaction each. Failed jobs are
// not retried.
func (m *SchedulingManager) RunDue(ctx context.Context, batch int) (RunSummary, error) {
	var summary RunSummary
	for i := 0; i < batch; i++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		ran, executed, err := m.runOne(ctx)
		if err != nil {
			return summary, err
		}
		if !ran {
			break
		}
		if executed {
			summary.Executed++
		} else {
			summary.Failed++
		}
	}
	return summary, nil
}

// runOne reports whether a job was claimed and whether it executed.
func (m *SchedulingManager) runOne(ctx context.Context) (bool, bool, error) {
	var (
		job     models.ScheduledJob
		claimed bool
		result  models.TransferRecord
		failure error
	)

	err := m.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		job, err = qtx.ClaimDueScheduledJob(ctx, m.opts.now())
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("claim due job: %w", err)
		}
		claimed = true

		rec, err := qtx.GetTransferForUpdate(ctx, job.TransferID)
		if err != nil {
			return fmt.Errorf("get scheduled transfer: %w", err)
		}
		if rec.Status != domain.TransferStatusScheduled {
			reason := fmt.Sprintf("transfer is %s", rec.Status)
			failure = domain.Errorf(domain.ErrInvalidStateTransition, "%s", reason)
			result = rec
			return transitionJobState(ctx, qtx, m.audit, job.ID, job.Status, domain.JobStatusFailed, &reason, nil, "failed")
		}

		result, err = m.executor.ExecuteScheduled(ctx, qtx, rec)
		if err != nil {
			if _, ok := domain.AsError(err); !ok {
				return err
			}
			// Nothing was written; record the rejection in this transaction.
			failure = err
			reason := err.Error()
			if err := transitionJobState(ctx, qtx, m.audit, job.ID, job.Status, domain.JobStatusFailed, &reason, nil, "failed"); err != nil {
				return err
			}
			if err := m.executor.FailScheduled(ctx, qtx, rec.ID, reason); err != nil {
				return err
			}
			result, err = qtx.GetTransfer(ctx, rec.ID)
			return err
		}
		return transitionJobState(ctx, qtx, m.audit, job.ID, job.Status, domain.JobStatusExecuted, nil, nil, "executed")
	})

	switch {
	case err != nil && !claimed:
		return false, false, err
	case err != nil:
		failure = domain.Wrap(domain.ErrExecutionFailure, err)
		zap.L().Error("scheduled transfer execution failed", zap.Error(err), zap.String("transfer_id", job.TransferID.String()))
		rec, markErr := m.markFailed(context.WithoutCancel(ctx), job, failure.Error())
		if markErr != nil {
			return true, false, fmt.Errorf("mark scheduled job %s failed: %w", job.ID, markErr)
		}
		result = rec
	case !claimed:
		return false, false, nil
	}

	if failure != nil {
		observability.IncrementScheduledRun("failed")
		publish(ctx, m.opts.publisher, events.TransferScheduleFailed, result, nil, failure.Error())
		zap.L().Warn("scheduled transfer failed",
			zap.String("transfer_id", result.ID.String()),
			zap.String("account_id", result.SourceAccountID.String()),
			zap.Int64("amount", result.Amount),
			zap.String("reason", failure.Error()),
		)
		return true, false, nil
	}

	observability.IncrementScheduledRun("executed")
	publish(ctx, m.opts.publisher, events.TransferExecuted, result, nil, "")
	return true, true, nil
}

func (m *SchedulingManager) markFailed(ctx context.Context, job models.ScheduledJob, reason string) (models.TransferRecord, error) {
	var rec models.TransferRecord
	err := m.store.RunInTx(ctx, func(qtx repository.Querier) error {
		current, err := qtx.GetScheduledJobByTransferForUpdate(ctx, job.TransferID)
		if err != nil {
			return err
		}
		if err := transitionJobState(ctx, qtx, m.audit, current.ID, current.Status, domain.JobStatusFailed, &reason, nil, "failed"); err != nil {
			return err
		}
		if err := m.executor.FailScheduled(ctx, qtx, job.TransferID, reason); err != nil {
			return err
		}
		rec, err = qtx.GetTransfer(ctx, job.TransferID)
		return err
	})
	return rec, err
}

// ListMine returns the caller's scheduled jobs joined with their transfers.
func (m *SchedulingManager) ListMine(ctx context.Context, principal models.Principal) ([]models.ScheduledTransfer, error) {
	q := m.store.Queries()
	jobs, err := q.ListScheduledJobsByInitiator(ctx, principal.ID)
	if err != nil {
		return nil, fmt.Errorf("list scheduled jobs: %w", err)
	}
	now := m.opts.now()
	out := make([]models.ScheduledTransfer, 0, len(jobs))
	for _, job := range jobs {
		rec, err := q.GetTransfer(ctx, job.TransferID)
		if err != nil {
			return nil, fmt.Errorf("get scheduled transfer %s: %w", job.TransferID, err)
		}
		out = append(out, models.ScheduledTransfer{
			Job:         job,
			Transfer:    rec,
			Cancellable: job.Status == domain.JobStatusPending && now.Before(job.CancellationDeadline),
		})
	}
	return out, nil
}
