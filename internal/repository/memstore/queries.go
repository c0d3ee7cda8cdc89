package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/ayo6706/transfer-core/internal/domain"
	"github.com/ayo6706/transfer-core/internal/models"
	"github.com/ayo6706/transfer-core/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const foreignKeyViolation = "23503"

type queries struct {
	store *Store
	st    *state
	inTx  bool
}

var _ repository.Querier = (*queries)(nil)

func (q *queries) with(fn func(st *state) error) error {
	if q.inTx {
		return fn(q.st)
	}
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	return fn(q.store.st)
}

func (q *queries) ts() time.Time {
	return q.store.now().UTC()
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{
		Code:           repository.UniqueViolation,
		Message:        "duplicate key value violates unique constraint",
		ConstraintName: constraint,
	}
}

func missingReference(constraint string) error {
	return &pgconn.PgError{
		Code:           foreignKeyViolation,
		Message:        "insert or update violates foreign key constraint",
		ConstraintName: constraint,
	}
}

func paginate[T any](items []T, limit, offset int32) []T {
	if offset < 0 {
		offset = 0
	}
	if int(offset) >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && int(limit) < len(items) {
		items = items[:limit]
	}
	return items
}

func withAvailable(a models.Account) models.Account {
	a.Available = a.Balance - a.Held
	return a
}

func (q *queries) CreateAccount(_ context.Context, arg repository.CreateAccountParams) (models.Account, error) {
	var out models.Account
	err := q.with(func(st *state) error {
		if _, ok := st.accounts[arg.ID]; ok {
			return uniqueViolation("accounts_pkey")
		}
		if _, ok := st.accountNumbers[arg.Number]; ok {
			return uniqueViolation("accounts_number_key")
		}
		now := q.ts()
		status := arg.Status
		if status == "" {
			status = domain.AccountStatusActive
		}
		a := models.Account{
			ID:             arg.ID,
			CustomerID:     arg.CustomerID,
			Number:         arg.Number,
			HolderName:     arg.HolderName,
			Currency:       arg.Currency,
			Balance:        arg.Balance,
			OpeningBalance: arg.Balance,
			Status:         status,
			DailyLimit:     arg.DailyLimit,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		st.accounts[a.ID] = a
		st.accountNumbers[a.Number] = a.ID
		st.next(a.ID)
		out = withAvailable(a)
		return nil
	})
	return out, err
}

func (q *queries) GetAccount(_ context.Context, id uuid.UUID) (models.Account, error) {
	var out models.Account
	err := q.with(func(st *state) error {
		a, ok := st.accounts[id]
		if !ok {
			return pgx.ErrNoRows
		}
		out = withAvailable(a)
		return nil
	})
	return out, err
}

func (q *queries) GetAccountByNumber(_ context.Context, number string) (models.Account, error) {
	var out models.Account
	err := q.with(func(st *state) error {
		id, ok := st.accountNumbers[number]
		if !ok {
			return pgx.ErrNoRows
		}
		out = withAvailable(st.accounts[id])
		return nil
	})
	return out, err
}

// GetAccountForUpdate is GetAccount; the transaction mutex already excludes other writers.
func (q *queries) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (models.Account, error) {
	return q.GetAccount(ctx, id)
}

func (q *queries) ListAccountsByCustomer(_ context.Context, customerID uuid.UUID) ([]models.Account, error) {
	var out []models.Account
	err := q.with(func(st *state) error {
		for _, a := range st.accounts {
			if a.CustomerID == customerID {
				out = append(out, withAvailable(a))
			}
		}
		sort.Slice(out, func(i, j int) bool { return st.order[out[i].ID] < st.order[out[j].ID] })
		return nil
	})
	return out, err
}

func (q *queries) mutateAccount(id uuid.UUID, fn func(a *models.Account) bool) (int64, error) {
	var rows int64
	err := q.with(func(st *state) error {
		a, ok := st.accounts[id]
		if !ok {
			return nil
		}
		if !fn(&a) {
			return nil
		}
		a.Version++
		a.UpdatedAt = q.ts()
		st.accounts[id] = a
		rows = 1
		return nil
	})
	return rows, err
}

func (q *queries) UpdateAccountStatus(_ context.Context, arg repository.UpdateAccountStatusParams) (int64, error) {
	return q.mutateAccount(arg.ID, func(a *models.Account) bool {
		a.Status = arg.Status
		return true
	})
}

func (q *queries) ApplyAccountDebit(_ context.Context, arg repository.AdjustAccountParams) (int64, error) {
	return q.mutateAccount(arg.ID, func(a *models.Account) bool {
		if a.Balance-a.Held < arg.Amount {
			return false
		}
		a.Balance -= arg.Amount
		return true
	})
}

func (q *queries) ApplyAccountCredit(_ context.Context, arg repository.AdjustAccountParams) (int64, error) {
	return q.mutateAccount(arg.ID, func(a *models.Account) bool {
		a.Balance += arg.Amount
		return true
	})
}

func (q *queries) HoldAccountFunds(_ context.Context, arg repository.AdjustAccountParams) (int64, error) {
	return q.mutateAccount(arg.ID, func(a *models.Account) bool {
		if a.Balance-a.Held < arg.Amount {
			return false
		}
		a.Held += arg.Amount
		return true
	})
}

func (q *queries) ReleaseAccountFunds(_ context.Context, arg repository.AdjustAccountParams) (int64, error) {
	return q.mutateAccount(arg.ID, func(a *models.Account) bool {
		if a.Held < arg.Amount {
			return false
		}
		a.Held -= arg.Amount
		return true
	})
}

func (q *queries) SettleHeldFunds(_ context.Context, arg repository.AdjustAccountParams) (int64, error) {
	return q.mutateAccount(arg.ID, func(a *models.Account) bool {
		if a.Held < arg.Amount || a.Balance < arg.Amount {
			return false
		}
		a.Held -= arg.Amount
		a.Balance -= arg.Amount
		return true
	})
}

func (q *queries) CreateEntry(_ context.Context, arg repository.CreateEntryParams) (models.Entry, error) {
	var out models.Entry
	err := q.with(func(st *state) error {
		if _, ok := st.transfers[arg.TransferID]; !ok {
			return missingReference("entries_transfer_id_fkey")
		}
		if _, ok := st.accounts[arg.AccountID]; !ok {
			return missingReference("entries_account_id_fkey")
		}
		out = models.Entry{
			ID:         arg.ID,
			TransferID: arg.TransferID,
			AccountID:  arg.AccountID,
			Amount:     arg.Amount,
			Direction:  arg.Direction,
			CreatedAt:  q.ts(),
		}
		st.entries = append(st.entries, out)
		return nil
	})
	return out, err
}

func (q *queries) ListEntriesByTransfer(_ context.Context, transferID uuid.UUID) ([]models.Entry, error) {
	var out []models.Entry
	err := q.with(func(st *state) error {
		for _, e := range st.entries {
			if e.TransferID == transferID {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func (q *queries) CreateTransfer(_ context.Context, arg models.TransferRecord) (models.TransferRecord, error) {
	var out models.TransferRecord
	err := q.with(func(st *state) error {
		if _, ok := st.transfers[arg.ID]; ok {
			return uniqueViolation("transfers_pkey")
		}
		if _, ok := st.transferKeys[transferKey{arg.InitiatorID, arg.IdempotencyKey}]; ok {
			return uniqueViolation("transfers_initiator_id_idempotency_key_key")
		}
		if _, ok := st.accounts[arg.SourceAccountID]; !ok {
			return missingReference("transfers_source_account_id_fkey")
		}
		now := q.ts()
		arg.CreatedAt = now
		arg.UpdatedAt = now
		arg.ApproverID = nil
		arg.RejectionReason = nil
		arg.ReviewNotes = nil
		st.transfers[arg.ID] = arg
		st.transferKeys[transferKey{arg.InitiatorID, arg.IdempotencyKey}] = arg.ID
		st.next(arg.ID)
		out = arg
		return nil
	})
	return out, err
}

func (q *queries) GetTransfer(_ context.Context, id uuid.UUID) (models.TransferRecord, error) {
	var out models.TransferRecord
	err := q.with(func(st *state) error {
		t, ok := st.transfers[id]
		if !ok {
			return pgx.ErrNoRows
		}
		out = t
		return nil
	})
	return out, err
}

func (q *queries) GetTransferForUpdate(ctx context.Context, id uuid.UUID) (models.TransferRecord, error) {
	return q.GetTransfer(ctx, id)
}

func (q *queries) GetTransferByIdempotencyKey(_ context.Context, initiatorID uuid.UUID, key string) (models.TransferRecord, error) {
	var out models.TransferRecord
	err := q.with(func(st *state) error {
		id, ok := st.transferKeys[transferKey{initiatorID, key}]
		if !ok {
			return pgx.ErrNoRows
		}
		out = st.transfers[id]
		return nil
	})
	return out, err
}

func (q *queries) filterTransfers(match func(t models.TransferRecord) bool, newestFirst bool, limit, offset int32) ([]models.TransferRecord, error) {
	var out []models.TransferRecord
	err := q.with(func(st *state) error {
		for _, t := range st.transfers {
			if match(t) {
				out = append(out, t)
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if newestFirst {
				return st.order[out[i].ID] > st.order[out[j].ID]
			}
			return st.order[out[i].ID] < st.order[out[j].ID]
		})
		out = paginate(out, limit, offset)
		return nil
	})
	return out, err
}

func (q *queries) ListTransfersByInitiator(_ context.Context, arg repository.ListTransfersByInitiatorParams) ([]models.TransferRecord, error) {
	return q.filterTransfers(func(t models.TransferRecord) bool {
		return t.InitiatorID == arg.InitiatorID
	}, true, arg.Limit, arg.Offset)
}

func (q *queries) ListTransfersByStatus(_ context.Context, arg repository.ListTransfersByStatusParams) ([]models.TransferRecord, error) {
	return q.filterTransfers(func(t models.TransferRecord) bool {
		return t.Status == arg.Status && (!arg.HighValueOnly || t.HighValue)
	}, false, arg.Limit, arg.Offset)
}

func (q *queries) ListHighValueTransfers(_ context.Context, arg repository.ListHighValueTransfersParams) ([]models.TransferRecord, error) {
	return q.filterTransfers(func(t models.TransferRecord) bool {
		return t.HighValue
	}, true, arg.Limit, arg.Offset)
}

func (q *queries) CountTransfersByStatus(_ context.Context, status string) (int64, error) {
	var n int64
	err := q.with(func(st *state) error {
		for _, t := range st.transfers {
			if t.Status == status {
				n++
			}
		}
		return nil
	})
	return n, err
}

func within(ts time.Time, since, until time.Time) bool {
	return !ts.Before(since) && ts.Before(until)
}

func (q *queries) SumDailyUsage(_ context.Context, arg repository.SumDailyUsageParams) (int64, error) {
	var total int64
	err := q.with(func(st *state) error {
		for _, t := range st.transfers {
			if t.SourceAccountID != arg.AccountID {
				continue
			}
			switch t.Status {
			case domain.TransferStatusExecuted:
				if t.ExecutedAt != nil && within(*t.ExecutedAt, arg.Since, arg.Until) {
					total += t.Amount
				}
			case domain.TransferStatusPendingApproval:
				if within(t.CreatedAt, arg.Since, arg.Until) {
					total += t.Amount
				}
			}
		}
		return nil
	})
	return total, err
}

func (q *queries) UpdateTransferStatus(_ context.Context, arg repository.UpdateTransferStatusParams) (int64, error) {
	var rows int64
	err := q.with(func(st *state) error {
		t, ok := st.transfers[arg.ID]
		if !ok {
			return nil
		}
		t.Status = arg.Status
		if arg.ApproverID != nil {
			id := *arg.ApproverID
			t.ApproverID = &id
		}
		if arg.RejectionReason != nil {
			t.RejectionReason = arg.RejectionReason
		}
		if arg.FailureReason != nil {
			t.FailureReason = arg.FailureReason
		}
		if arg.SettlementRef != nil {
			t.SettlementRef = arg.SettlementRef
		}
		if arg.ExecutedAt != nil {
			at := arg.ExecutedAt.UTC()
			t.ExecutedAt = &at
		}
		t.UpdatedAt = q.ts()
		st.transfers[arg.ID] = t
		rows = 1
		return nil
	})
	return rows, err
}

func (q *queries) UpdateTransferNotes(_ context.Context, arg repository.UpdateTransferNotesParams) (int64, error) {
	var rows int64
	err := q.with(func(st *state) error {
		t, ok := st.transfers[arg.ID]
		if !ok {
			return nil
		}
		notes := arg.Notes
		t.ReviewNotes = &notes
		t.UpdatedAt = q.ts()
		st.transfers[arg.ID] = t
		rows = 1
		return nil
	})
	return rows, err
}

func (q *queries) CreateBeneficiary(_ context.Context, arg models.Beneficiary) (models.Beneficiary, error) {
	var out models.Beneficiary
	err := q.with(func(st *state) error {
		for _, b := range st.beneficiaries {
			if b.ID == arg.ID {
				return uniqueViolation("beneficiaries_pkey")
			}
			if b.CustomerID == arg.CustomerID && b.AccountNumber == arg.AccountNumber && b.BankCode == arg.BankCode {
				return uniqueViolation("beneficiaries_customer_id_account_number_bank_code_key")
			}
		}
		now := q.ts()
		arg.CreatedAt = now
		arg.UpdatedAt = now
		st.beneficiaries[arg.ID] = arg
		st.next(arg.ID)
		out = arg
		return nil
	})
	return out, err
}

func (q *queries) GetBeneficiary(_ context.Context, id uuid.UUID) (models.Beneficiary, error) {
	var out models.Beneficiary
	err := q.with(func(st *state) error {
		b, ok := st.beneficiaries[id]
		if !ok {
			return pgx.ErrNoRows
		}
		out = b
		return nil
	})
	return out, err
}

func (q *queries) ListBeneficiariesByCustomer(_ context.Context, customerID uuid.UUID) ([]models.Beneficiary, error) {
	var out []models.Beneficiary
	err := q.with(func(st *state) error {
		for _, b := range st.beneficiaries {
			if b.CustomerID == customerID {
				out = append(out, b)
			}
		}
		sort.Slice(out, func(i, j int) bool { return st.order[out[i].ID] < st.order[out[j].ID] })
		return nil
	})
	return out, err
}

func (q *queries) UpdateBeneficiaryStatus(_ context.Context, arg repository.UpdateBeneficiaryStatusParams) (int64, error) {
	var rows int64
	err := q.with(func(st *state) error {
		b, ok := st.beneficiaries[arg.ID]
		if !ok {
			return nil
		}
		b.Status = arg.Status
		b.UpdatedAt = q.ts()
		st.beneficiaries[arg.ID] = b
		rows = 1
		return nil
	})
	return rows, err
}

func (q *queries) CreateScheduledJob(_ context.Context, arg models.ScheduledJob) (models.ScheduledJob, error) {
	var out models.ScheduledJob
	err := q.with(func(st *state) error {
		if _, ok := st.jobs[arg.ID]; ok {
			return uniqueViolation("scheduled_jobs_pkey")
		}
		if _, ok := st.jobByTransfer[arg.TransferID]; ok {
			return uniqueViolation("scheduled_jobs_transfer_id_key")
		}
		if _, ok := st.transfers[arg.TransferID]; !ok {
			return missingReference("scheduled_jobs_transfer_id_fkey")
		}
		now := q.ts()
		arg.DueAt = arg.DueAt.UTC()
		arg.CancellationDeadline = arg.CancellationDeadline.UTC()
		arg.LastError = nil
		arg.CreatedAt = now
		arg.UpdatedAt = now
		st.jobs[arg.ID] = arg
		st.jobByTransfer[arg.TransferID] = arg.ID
		st.next(arg.ID)
		out = arg
		return nil
	})
	return out, err
}

func (q *queries) GetScheduledJobByTransfer(_ context.Context, transferID uuid.UUID) (models.ScheduledJob, error) {
	var out models.ScheduledJob
	err := q.with(func(st *state) error {
		id, ok := st.jobByTransfer[transferID]
		if !ok {
			return pgx.ErrNoRows
		}
		out = st.jobs[id]
		return nil
	})
	return out, err
}

func (q *queries) GetScheduledJobByTransferForUpdate(ctx context.Context, transferID uuid.UUID) (models.ScheduledJob, error) {
	return q.GetScheduledJobByTransfer(ctx, transferID)
}

func (q *queries) ClaimDueScheduledJob(_ context.Context, now time.Time) (models.ScheduledJob, error) {
	var out models.ScheduledJob
	err := q.with(func(st *state) error {
		found := false
		for _, j := range st.jobs {
			if j.Status != domain.JobStatusPending || j.DueAt.After(now) {
				continue
			}
			if !found || j.DueAt.Before(out.DueAt) || (j.DueAt.Equal(out.DueAt) && st.order[j.ID] < st.order[out.ID]) {
				out = j
				found = true
			}
		}
		if !found {
			return pgx.ErrNoRows
		}
		return nil
	})
	return out, err
}

func (q *queries) UpdateScheduledJobStatus(_ context.Context, arg repository.UpdateScheduledJobStatusParams) (int64, error) {
	var rows int64
	err := q.with(func(st *state) error {
		j, ok := st.jobs[arg.ID]
		if !ok {
			return nil
		}
		j.Status = arg.Status
		if arg.LastError != nil {
			j.LastError = arg.LastError
		}
		j.UpdatedAt = q.ts()
		st.jobs[arg.ID] = j
		rows = 1
		return nil
	})
	return rows, err
}

func (q *queries) ListScheduledJobsByInitiator(_ context.Context, initiatorID uuid.UUID) ([]models.ScheduledJob, error) {
	var out []models.ScheduledJob
	err := q.with(func(st *state) error {
		for _, j := range st.jobs {
			if t, ok := st.transfers[j.TransferID]; ok && t.InitiatorID == initiatorID {
				out = append(out, j)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
		return nil
	})
	return out, err
}

func (q *queries) CreateSettlement(_ context.Context, arg models.Settlement) (models.Settlement, error) {
	var out models.Settlement
	err := q.with(func(st *state) error {
		if _, ok := st.settlements[arg.ID]; ok {
			return uniqueViolation("settlements_pkey")
		}
		if _, ok := st.settlementByTransfer[arg.TransferID]; ok {
			return uniqueViolation("settlements_transfer_id_key")
		}
		if _, ok := st.transfers[arg.TransferID]; !ok {
			return missingReference("settlements_transfer_id_fkey")
		}
		now := q.ts()
		arg.CreatedAt = now
		arg.UpdatedAt = now
		arg.GatewayRef = nil
		st.settlements[arg.ID] = arg
		st.settlementByTransfer[arg.TransferID] = arg.ID
		st.next(arg.ID)
		out = arg
		return nil
	})
	return out, err
}

func (q *queries) GetSettlement(_ context.Context, id uuid.UUID) (models.Settlement, error) {
	var out models.Settlement
	err := q.with(func(st *state) error {
		s, ok := st.settlements[id]
		if !ok {
			return pgx.ErrNoRows
		}
		out = s
		return nil
	})
	return out, err
}

func (q *queries) filterSettlements(match func(s models.Settlement) bool, limit int32) ([]models.Settlement, error) {
	return q.pageSettlements(match, limit, 0)
}

func (q *queries) pageSettlements(match func(s models.Settlement) bool, limit, offset int32) ([]models.Settlement, error) {
	var out []models.Settlement
	err := q.with(func(st *state) error {
		for _, s := range st.settlements {
			if match(s) {
				out = append(out, s)
			}
		}
		sort.Slice(out, func(i, j int) bool { return st.order[out[i].ID] < st.order[out[j].ID] })
		out = paginate(out, limit, offset)
		return nil
	})
	return out, err
}

func (q *queries) GetPendingSettlements(_ context.Context, limit int32) ([]models.Settlement, error) {
	return q.filterSettlements(func(s models.Settlement) bool {
		return s.Status == domain.SettlementStatusPending
	}, limit)
}

func (q *queries) GetStaleProcessingSettlements(_ context.Context, arg repository.GetStaleProcessingSettlementsParams) ([]models.Settlement, error) {
	return q.filterSettlements(func(s models.Settlement) bool {
		return s.Status == domain.SettlementStatusProcessing && s.UpdatedAt.Before(arg.UpdatedBefore)
	}, arg.Limit)
}

func (q *queries) ListSettlementsByStatus(_ context.Context, arg repository.ListSettlementsByStatusParams) ([]models.Settlement, error) {
	return q.pageSettlements(func(s models.Settlement) bool {
		return s.Status == arg.Status
	}, arg.Limit, arg.Offset)
}

func (q *queries) UpdateSettlementStatus(_ context.Context, arg repository.UpdateSettlementStatusParams) (int64, error) {
	var rows int64
	err := q.with(func(st *state) error {
		s, ok := st.settlements[arg.ID]
		if !ok {
			return nil
		}
		s.Status = arg.Status
		s.GatewayRef = arg.GatewayRef
		s.UpdatedAt = q.ts()
		st.settlements[arg.ID] = s
		rows = 1
		return nil
	})
	return rows, err
}

func (q *queries) CountSettlementsByStatus(_ context.Context, status string) (int64, error) {
	var n int64
	err := q.with(func(st *state) error {
		for _, s := range st.settlements {
			if s.Status == status {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (q *queries) InsertAuditLog(_ context.Context, arg repository.InsertAuditLogParams) (models.AuditLog, error) {
	var out models.AuditLog
	err := q.with(func(st *state) error {
		st.seq++
		out = models.AuditLog{
			ID:         st.seq,
			EntityType: arg.EntityType,
			EntityID:   arg.EntityID,
			ActorID:    arg.ActorID,
			Action:     arg.Action,
			PrevState:  arg.PrevState,
			NextState:  arg.NextState,
			Metadata:   append([]byte(nil), arg.Metadata...),
			CreatedAt:  q.ts(),
		}
		st.audit = append(st.audit, out)
		return nil
	})
	return out, err
}

func (q *queries) ListAuditLogByEntity(_ context.Context, arg repository.ListAuditLogByEntityParams) ([]models.AuditLog, error) {
	var out []models.AuditLog
	err := q.with(func(st *state) error {
		for _, a := range st.audit {
			if a.EntityType == arg.EntityType && a.EntityID == arg.EntityID {
				out = append(out, a)
			}
		}
		return nil
	})
	return out, err
}

func (q *queries) ReserveIdempotencyKey(_ context.Context, arg repository.ReserveIdempotencyKeyParams) (repository.IdempotencyKey, error) {
	var out repository.IdempotencyKey
	err := q.with(func(st *state) error {
		if _, ok := st.idempotency[arg.IdempotencyKey]; ok {
			return pgx.ErrNoRows
		}
		now := q.ts()
		out = repository.IdempotencyKey{
			IdempotencyKey: arg.IdempotencyKey,
			RequestHash:    arg.RequestHash,
			Method:         arg.Method,
			Path:           arg.Path,
			InProgress:     true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		st.idempotency[arg.IdempotencyKey] = out
		return nil
	})
	return out, err
}

func (q *queries) GetIdempotencyKey(_ context.Context, key string) (repository.IdempotencyKey, error) {
	var out repository.IdempotencyKey
	err := q.with(func(st *state) error {
		k, ok := st.idempotency[key]
		if !ok {
			return pgx.ErrNoRows
		}
		out = k
		return nil
	})
	return out, err
}

func (q *queries) FinalizeIdempotencyKey(_ context.Context, arg repository.FinalizeIdempotencyKeyParams) (repository.IdempotencyKey, error) {
	var out repository.IdempotencyKey
	err := q.with(func(st *state) error {
		k, ok := st.idempotency[arg.IdempotencyKey]
		if !ok || k.RequestHash != arg.RequestHash {
			return pgx.ErrNoRows
		}
		k.ResponseStatus = arg.ResponseStatus
		k.ResponseBody = append([]byte(nil), arg.ResponseBody...)
		k.ContentType = arg.ContentType
		k.InProgress = false
		k.UpdatedAt = q.ts()
		st.idempotency[arg.IdempotencyKey] = k
		out = k
		return nil
	})
	return out, err
}

func (q *queries) ReleaseIdempotencyKey(_ context.Context, key, requestHash string) (int64, error) {
	var n int64
	err := q.with(func(st *state) error {
		k, ok := st.idempotency[key]
		if ok && k.RequestHash == requestHash && k.InProgress {
			delete(st.idempotency, key)
			n = 1
		}
		return nil
	})
	return n, err
}

func signed(e models.Entry) int64 {
	if e.Direction == domain.DirectionCredit {
		return e.Amount
	}
	return -e.Amount
}

func (q *queries) GetLedgerNet(_ context.Context) (int64, error) {
	var net int64
	err := q.with(func(st *state) error {
		for _, e := range st.entries {
			net += signed(e)
		}
		return nil
	})
	return net, err
}

func (q *queries) GetLedgerCurrencyImbalances(_ context.Context) ([]repository.LedgerCurrencyImbalance, error) {
	var out []repository.LedgerCurrencyImbalance
	err := q.with(func(st *state) error {
		byCurrency := make(map[string]int64)
		for _, e := range st.entries {
			byCurrency[st.accounts[e.AccountID].Currency] += signed(e)
		}
		for currency, net := range byCurrency {
			if net != 0 {
				out = append(out, repository.LedgerCurrencyImbalance{Currency: currency, NetAmount: net})
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
		return nil
	})
	return out, err
}

func (q *queries) ListAccountDrift(_ context.Context) ([]repository.AccountDrift, error) {
	var out []repository.AccountDrift
	err := q.with(func(st *state) error {
		movement := make(map[uuid.UUID]int64)
		for _, e := range st.entries {
			movement[e.AccountID] += signed(e)
		}
		for id, a := range st.accounts {
			expected := a.OpeningBalance + movement[id]
			if a.Balance != expected {
				out = append(out, repository.AccountDrift{
					AccountID: id,
					Currency:  a.Currency,
					Balance:   a.Balance,
					Expected:  expected,
				})
			}
		}
		sort.Slice(out, func(i, j int) bool { return st.order[out[i].AccountID] < st.order[out[j].AccountID] })
		return nil
	})
	return out, err
}
