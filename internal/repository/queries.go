package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/transfer-core/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Queries is the Postgres implementation of Querier.
type Queries struct {
	db DBTX
}

var _ Querier = (*Queries)(nil)

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

func (q *Queries) exec(ctx context.Context, sql string, args ...interface{}) (int64, error) {
	tag, err := q.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const accountColumns = `id, customer_id, number, holder_name, currency, balance, held, status, daily_limit, version, opening_balance, created_at, updated_at`

func scanAccount(row pgx.Row) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.CustomerID, &a.Number, &a.HolderName, &a.Currency, &a.Balance, &a.Held,
		&a.Status, &a.DailyLimit, &a.Version, &a.OpeningBalance, &a.CreatedAt, &a.UpdatedAt)
	a.Available = a.Balance - a.Held
	return a, err
}

func collectAccounts(rows pgx.Rows) ([]models.Account, error) {
	defer rows.Close()
	var out []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const createAccount = `
INSERT INTO accounts (id, customer_id, number, holder_name, currency, balance, opening_balance, status, daily_limit)
VALUES ($1, $2, $3, $4, $5, $6, $6, $7, $8)
RETURNING ` + accountColumns

func (q *Queries) CreateAccount(ctx context.Context, arg CreateAccountParams) (models.Account, error) {
	return scanAccount(q.db.QueryRow(ctx, createAccount,
		arg.ID, arg.CustomerID, arg.Number, arg.HolderName, arg.Currency, arg.Balance, arg.Status, arg.DailyLimit))
}

func (q *Queries) GetAccount(ctx context.Context, id uuid.UUID) (models.Account, error) {
	return scanAccount(q.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

func (q *Queries) GetAccountByNumber(ctx context.Context, number string) (models.Account, error) {
	return scanAccount(q.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE number = $1`, number))
}

func (q *Queries) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (models.Account, error) {
	return scanAccount(q.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) ListAccountsByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Account, error) {
	rows, err := q.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE customer_id = $1 ORDER BY created_at`, customerID)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

func (q *Queries) UpdateAccountStatus(ctx context.Context, arg UpdateAccountStatusParams) (int64, error) {
	return q.exec(ctx, `UPDATE accounts SET status = $1, version = version + 1, updated_at = NOW() WHERE id = $2`, arg.Status, arg.ID)
}

func (q *Queries) ApplyAccountDebit(ctx context.Context, arg AdjustAccountParams) (int64, error) {
	return q.exec(ctx, `
UPDATE accounts SET balance = balance - $1, version = version + 1, updated_at = NOW()
WHERE id = $2 AND balance - held >= $1`, arg.Amount, arg.ID)
}

func (q *Queries) ApplyAccountCredit(ctx context.Context, arg AdjustAccountParams) (int64, error) {
	return q.exec(ctx, `
UPDATE accounts SET balance = balance + $1, version = version + 1, updated_at = NOW()
WHERE id = $2`, arg.Amount, arg.ID)
}

func (q *Queries) HoldAccountFunds(ctx context.Context, arg AdjustAccountParams) (int64, error) {
	return q.exec(ctx, `
UPDATE accounts SET held = held + $1, version = version + 1, updated_at = NOW()
WHERE id = $2 AND balance - held >= $1`, arg.Amount, arg.ID)
}

func (q *Queries) ReleaseAccountFunds(ctx context.Context, arg AdjustAccountParams) (int64, error) {
	return q.exec(ctx, `
UPDATE accounts SET held = held - $1, version = version + 1, updated_at = NOW()
WHERE id = $2 AND held >= $1`, arg.Amount, arg.ID)
}

func (q *Queries) SettleHeldFunds(ctx context.Context, arg AdjustAccountParams) (int64, error) {
	return q.exec(ctx, `
UPDATE accounts SET balance = balance - $1, held = held - $1, version = version + 1, updated_at = NOW()
WHERE id = $2 AND held >= $1 AND balance >= $1`, arg.Amount, arg.ID)
}

const createEntry = `
INSERT INTO entries (id, transfer_id, account_id, amount, direction)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, transfer_id, account_id, amount, direction, created_at`

func (q *Queries) CreateEntry(ctx context.Context, arg CreateEntryParams) (models.Entry, error) {
	var e models.Entry
	err := q.db.QueryRow(ctx, createEntry, arg.ID, arg.TransferID, arg.AccountID, arg.Amount, arg.Direction).
		Scan(&e.ID, &e.TransferID, &e.AccountID, &e.Amount, &e.Direction, &e.CreatedAt)
	return e, err
}

func (q *Queries) ListEntriesByTransfer(ctx context.Context, transferID uuid.UUID) ([]models.Entry, error) {
	rows, err := q.db.Query(ctx, `
SELECT id, transfer_id, account_id, amount, direction, created_at
FROM entries WHERE transfer_id = $1 ORDER BY created_at, direction DESC`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Entry
	for rows.Next() {
		var e models.Entry
		if err := rows.Scan(&e.ID, &e.TransferID, &e.AccountID, &e.Amount, &e.Direction, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const transferColumns = `id, idempotency_key, request_hash, source_account_id, destination_account_id,
destination_account_number, beneficiary_id, destination_name, amount, fee, total_debit, currency,
description, kind, status, initiator_id, initiator_role, required_approver_role, high_value,
approver_id, rejection_reason, failure_reason, review_notes, settlement_ref, scheduled_at,
created_at, executed_at, updated_at`

func scanTransfer(row pgx.Row) (models.TransferRecord, error) {
	var t models.TransferRecord
	err := row.Scan(&t.ID, &t.IdempotencyKey, &t.RequestHash, &t.SourceAccountID, &t.DestinationAccountID,
		&t.DestinationAccountNumber, &t.BeneficiaryID, &t.DestinationName, &t.Amount, &t.Fee, &t.TotalDebit, &t.Currency,
		&t.Description, &t.Kind, &t.Status, &t.InitiatorID, &t.InitiatorRole, &t.RequiredApproverRole, &t.HighValue,
		&t.ApproverID, &t.RejectionReason, &t.FailureReason, &t.ReviewNotes, &t.SettlementRef, &t.ScheduledAt,
		&t.CreatedAt, &t.ExecutedAt, &t.UpdatedAt)
	return t, err
}

func collectTransfers(rows pgx.Rows) ([]models.TransferRecord, error) {
	defer rows.Close()
	var out []models.TransferRecord
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const createTransfer = `
INSERT INTO transfers (
    id, idempotency_key, request_hash, source_account_id, destination_account_id,
    destination_account_number, beneficiary_id, destination_name, amount, fee, total_debit, currency,
    description, kind, status, initiator_id, initiator_role, required_approver_role, high_value,
    failure_reason, settlement_ref, scheduled_at, executed_at
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23
)
RETURNING ` + transferColumns

func (q *Queries) CreateTransfer(ctx context.Context, arg models.TransferRecord) (models.TransferRecord, error) {
	return scanTransfer(q.db.QueryRow(ctx, createTransfer,
		arg.ID, arg.IdempotencyKey, arg.RequestHash, arg.SourceAccountID, arg.DestinationAccountID,
		arg.DestinationAccountNumber, arg.BeneficiaryID, arg.DestinationName, arg.Amount, arg.Fee, arg.TotalDebit, arg.Currency,
		arg.Description, arg.Kind, arg.Status, arg.InitiatorID, arg.InitiatorRole, arg.RequiredApproverRole, arg.HighValue,
		arg.FailureReason, arg.SettlementRef, arg.ScheduledAt, arg.ExecutedAt))
}

func (q *Queries) GetTransfer(ctx context.Context, id uuid.UUID) (models.TransferRecord, error) {
	return scanTransfer(q.db.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id))
}

func (q *Queries) GetTransferForUpdate(ctx context.Context, id uuid.UUID) (models.TransferRecord, error) {
	return scanTransfer(q.db.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) GetTransferByIdempotencyKey(ctx context.Context, initiatorID uuid.UUID, key string) (models.TransferRecord, error) {
	return scanTransfer(q.db.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE initiator_id = $1 AND idempotency_key = $2`, initiatorID, key))
}

func (q *Queries) ListTransfersByInitiator(ctx context.Context, arg ListTransfersByInitiatorParams) ([]models.TransferRecord, error) {
	rows, err := q.db.Query(ctx, `
SELECT `+transferColumns+` FROM transfers
WHERE initiator_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, arg.InitiatorID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return collectTransfers(rows)
}

func (q *Queries) ListTransfersByStatus(ctx context.Context, arg ListTransfersByStatusParams) ([]models.TransferRecord, error) {
	rows, err := q.db.Query(ctx, `
SELECT `+transferColumns+` FROM transfers
WHERE status = $1 AND (NOT $2::boolean OR high_value)
ORDER BY created_at ASC
LIMIT $3 OFFSET $4`, arg.Status, arg.HighValueOnly, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return collectTransfers(rows)
}

func (q *Queries) ListHighValueTransfers(ctx context.Context, arg ListHighValueTransfersParams) ([]models.TransferRecord, error) {
	rows, err := q.db.Query(ctx, `
SELECT `+transferColumns+` FROM transfers
WHERE high_value
ORDER BY created_at DESC
LIMIT $1 OFFSET $2`, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return collectTransfers(rows)
}

func (q *Queries) CountTransfersByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM transfers WHERE status = $1`, status).Scan(&n)
	return n, err
}

const sumDailyUsage = `
SELECT COALESCE(SUM(amount), 0)::bigint FROM transfers
WHERE source_account_id = $1
  AND (
    (status = 'EXECUTED' AND executed_at >= $2 AND executed_at < $3)
    OR (status = 'PENDING_APPROVAL' AND created_at >= $2 AND created_at < $3)
  )`

func (q *Queries) SumDailyUsage(ctx context.Context, arg SumDailyUsageParams) (int64, error) {
	var total int64
	err := q.db.QueryRow(ctx, sumDailyUsage, arg.AccountID, arg.Since, arg.Until).Scan(&total)
	return total, err
}

const updateTransferStatus = `
UPDATE transfers SET
    status = $1,
    approver_id = COALESCE($2, approver_id),
    rejection_reason = COALESCE($3, rejection_reason),
    failure_reason = COALESCE($4, failure_reason),
    settlement_ref = COALESCE($5, settlement_ref),
    executed_at = COALESCE($6, executed_at),
    updated_at = NOW()
WHERE id = $7`

func (q *Queries) UpdateTransferStatus(ctx context.Context, arg UpdateTransferStatusParams) (int64, error) {
	return q.exec(ctx, updateTransferStatus, arg.Status, arg.ApproverID, arg.RejectionReason, arg.FailureReason,
		arg.SettlementRef, arg.ExecutedAt, arg.ID)
}

func (q *Queries) UpdateTransferNotes(ctx context.Context, arg UpdateTransferNotesParams) (int64, error) {
	return q.exec(ctx, `UPDATE transfers SET review_notes = $1, updated_at = NOW() WHERE id = $2`, arg.Notes, arg.ID)
}

const beneficiaryColumns = `id, customer_id, alias, account_number, bank_code, currency, holder_name, status, created_at, updated_at`

func scanBeneficiary(row pgx.Row) (models.Beneficiary, error) {
	var b models.Beneficiary
	err := row.Scan(&b.ID, &b.CustomerID, &b.Alias, &b.AccountNumber, &b.BankCode, &b.Currency, &b.HolderName,
		&b.Status, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (q *Queries) CreateBeneficiary(ctx context.Context, arg models.Beneficiary) (models.Beneficiary, error) {
	return scanBeneficiary(q.db.QueryRow(ctx, `
INSERT INTO beneficiaries (id, customer_id, alias, account_number, bank_code, currency, holder_name, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+beneficiaryColumns,
		arg.ID, arg.CustomerID, arg.Alias, arg.AccountNumber, arg.BankCode, arg.Currency, arg.HolderName, arg.Status))
}

func (q *Queries) GetBeneficiary(ctx context.Context, id uuid.UUID) (models.Beneficiary, error) {
	return scanBeneficiary(q.db.QueryRow(ctx, `SELECT `+beneficiaryColumns+` FROM beneficiaries WHERE id = $1`, id))
}

func (q *Queries) ListBeneficiariesByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Beneficiary, error) {
	rows, err := q.db.Query(ctx, `SELECT `+beneficiaryColumns+` FROM beneficiaries WHERE customer_id = $1 ORDER BY created_at`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Beneficiary
	for rows.Next() {
		b, err := scanBeneficiary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan beneficiary: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (q *Queries) UpdateBeneficiaryStatus(ctx context.Context, arg UpdateBeneficiaryStatusParams) (int64, error) {
	return q.exec(ctx, `UPDATE beneficiaries SET status = $1, updated_at = NOW() WHERE id = $2`, arg.Status, arg.ID)
}

const jobColumns = `id, transfer_id, due_at, cancellation_deadline, status, last_error, created_at, updated_at`

func scanJob(row pgx.Row) (models.ScheduledJob, error) {
	var j models.ScheduledJob
	err := row.Scan(&j.ID, &j.TransferID, &j.DueAt, &j.CancellationDeadline, &j.Status, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	return j, err
}

func (q *Queries) CreateScheduledJob(ctx context.Context, arg models.ScheduledJob) (models.ScheduledJob, error) {
	return scanJob(q.db.QueryRow(ctx, `
INSERT INTO scheduled_jobs (id, transfer_id, due_at, cancellation_deadline, status)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+jobColumns, arg.ID, arg.TransferID, arg.DueAt, arg.CancellationDeadline, arg.Status))
}

func (q *Queries) GetScheduledJobByTransfer(ctx context.Context, transferID uuid.UUID) (models.ScheduledJob, error) {
	return scanJob(q.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE transfer_id = $1`, transferID))
}

func (q *Queries) GetScheduledJobByTransferForUpdate(ctx context.Context, transferID uuid.UUID) (models.ScheduledJob, error) {
	return scanJob(q.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE transfer_id = $1 FOR UPDATE`, transferID))
}

const claimDueScheduledJob = `
SELECT ` + jobColumns + ` FROM scheduled_jobs
WHERE status = 'PENDING' AND due_at <= $1
ORDER BY due_at ASC
LIMIT 1
FOR UPDATE SKIP LOCKED`

func (q *Queries) ClaimDueScheduledJob(ctx context.Context, now time.Time) (models.ScheduledJob, error) {
	return scanJob(q.db.QueryRow(ctx, claimDueScheduledJob, now))
}

func (q *Queries) UpdateScheduledJobStatus(ctx context.Context, arg UpdateScheduledJobStatusParams) (int64, error) {
	return q.exec(ctx, `
UPDATE scheduled_jobs SET status = $1, last_error = COALESCE($2, last_error), updated_at = NOW()
WHERE id = $3`, arg.Status, arg.LastError, arg.ID)
}

func (q *Queries) ListScheduledJobsByInitiator(ctx context.Context, initiatorID uuid.UUID) ([]models.ScheduledJob, error) {
	rows, err := q.db.Query(ctx, `
SELECT j.id, j.transfer_id, j.due_at, j.cancellation_deadline, j.status, j.last_error, j.created_at, j.updated_at
FROM scheduled_jobs j
JOIN transfers t ON t.id = j.transfer_id
WHERE t.initiator_id = $1
ORDER BY j.due_at ASC`, initiatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ScheduledJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

const settlementColumns = `id, transfer_id, amount, currency, destination, status, gateway_ref, created_at, updated_at`

func scanSettlement(row pgx.Row) (models.Settlement, error) {
	var s models.Settlement
	err := row.Scan(&s.ID, &s.TransferID, &s.Amount, &s.Currency, &s.Destination, &s.Status, &s.GatewayRef, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func collectSettlements(rows pgx.Rows) ([]models.Settlement, error) {
	defer rows.Close()
	var out []models.Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q *Queries) CreateSettlement(ctx context.Context, arg models.Settlement) (models.Settlement, error) {
	return scanSettlement(q.db.QueryRow(ctx, `
INSERT INTO settlements (id, transfer_id, amount, currency, destination, status)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+settlementColumns, arg.ID, arg.TransferID, arg.Amount, arg.Currency, arg.Destination, arg.Status))
}

func (q *Queries) GetSettlement(ctx context.Context, id uuid.UUID) (models.Settlement, error) {
	return scanSettlement(q.db.QueryRow(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE id = $1`, id))
}

func (q *Queries) GetPendingSettlements(ctx context.Context, limit int32) ([]models.Settlement, error) {
	rows, err := q.db.Query(ctx, `
SELECT `+settlementColumns+` FROM settlements
WHERE status = 'PENDING'
ORDER BY created_at ASC
LIMIT $1
FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	return collectSettlements(rows)
}

func (q *Queries) GetStaleProcessingSettlements(ctx context.Context, arg GetStaleProcessingSettlementsParams) ([]models.Settlement, error) {
	rows, err := q.db.Query(ctx, `
SELECT `+settlementColumns+` FROM settlements
WHERE status = 'PROCESSING' AND updated_at < $1
ORDER BY updated_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED`, arg.UpdatedBefore, arg.Limit)
	if err != nil {
		return nil, err
	}
	return collectSettlements(rows)
}

func (q *Queries) ListSettlementsByStatus(ctx context.Context, arg ListSettlementsByStatusParams) ([]models.Settlement, error) {
	rows, err := q.db.Query(ctx, `
SELECT `+settlementColumns+` FROM settlements
WHERE status = $1
ORDER BY updated_at ASC
LIMIT $2 OFFSET $3`, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return collectSettlements(rows)
}

func (q *Queries) UpdateSettlementStatus(ctx context.Context, arg UpdateSettlementStatusParams) (int64, error) {
	return q.exec(ctx, `
UPDATE settlements SET status = $1, gateway_ref = $2, updated_at = NOW()
WHERE id = $3`, arg.Status, arg.GatewayRef, arg.ID)
}

func (q *Queries) CountSettlementsByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM settlements WHERE status = $1`, status).Scan(&n)
	return n, err
}

const auditColumns = `id, entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at`

func scanAudit(row pgx.Row) (models.AuditLog, error) {
	var a models.AuditLog
	err := row.Scan(&a.ID, &a.EntityType, &a.EntityID, &a.ActorID, &a.Action, &a.PrevState, &a.NextState, &a.Metadata, &a.CreatedAt)
	return a, err
}

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (models.AuditLog, error) {
	return scanAudit(q.db.QueryRow(ctx, `
INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+auditColumns, arg.EntityType, arg.EntityID, arg.ActorID, arg.Action, arg.PrevState, arg.NextState, arg.Metadata))
}

func (q *Queries) ListAuditLogByEntity(ctx context.Context, arg ListAuditLogByEntityParams) ([]models.AuditLog, error) {
	rows, err := q.db.Query(ctx, `
SELECT `+auditColumns+` FROM audit_log
WHERE entity_type = $1 AND entity_id = $2
ORDER BY id ASC`, arg.EntityType, arg.EntityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.AuditLog
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const idempotencyColumns = `idempotency_key, request_hash, method, path, response_status, COALESCE(response_body, ''::bytea), content_type, in_progress, created_at, updated_at`

func scanIdempotencyKey(row pgx.Row) (IdempotencyKey, error) {
	var k IdempotencyKey
	err := row.Scan(&k.IdempotencyKey, &k.RequestHash, &k.Method, &k.Path, &k.ResponseStatus, &k.ResponseBody,
		&k.ContentType, &k.InProgress, &k.CreatedAt, &k.UpdatedAt)
	return k, err
}

func (q *Queries) ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (IdempotencyKey, error) {
	return scanIdempotencyKey(q.db.QueryRow(ctx, `
INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path, in_progress)
VALUES ($1, $2, $3, $4, TRUE)
ON CONFLICT (idempotency_key) DO NOTHING
RETURNING `+idempotencyColumns, arg.IdempotencyKey, arg.RequestHash, arg.Method, arg.Path))
}

func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKey, error) {
	return scanIdempotencyKey(q.db.QueryRow(ctx, `SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE idempotency_key = $1`, key))
}

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (IdempotencyKey, error) {
	return scanIdempotencyKey(q.db.QueryRow(ctx, `
UPDATE idempotency_keys
SET response_status = $1, response_body = $2, content_type = $3, in_progress = FALSE, updated_at = NOW()
WHERE idempotency_key = $4 AND request_hash = $5
RETURNING `+idempotencyColumns, arg.ResponseStatus, arg.ResponseBody, arg.ContentType, arg.IdempotencyKey, arg.RequestHash))
}

// ReleaseIdempotencyKey drops an unfinished reservation so the key can be retried.
func (q *Queries) ReleaseIdempotencyKey(ctx context.Context, key, requestHash string) (int64, error) {
	return q.exec(ctx, `
DELETE FROM idempotency_keys
WHERE idempotency_key = $1 AND request_hash = $2 AND in_progress = TRUE`, key, requestHash)
}

func (q *Queries) GetLedgerNet(ctx context.Context) (int64, error) {
	var net int64
	err := q.db.QueryRow(ctx, `
SELECT COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount ELSE -amount END), 0)::bigint FROM entries`).Scan(&net)
	return net, err
}

func (q *Queries) GetLedgerCurrencyImbalances(ctx context.Context) ([]LedgerCurrencyImbalance, error) {
	rows, err := q.db.Query(ctx, `
SELECT a.currency, SUM(CASE WHEN e.direction = 'credit' THEN e.amount ELSE -e.amount END)::bigint AS net_amount
FROM entries e
JOIN accounts a ON a.id = e.account_id
GROUP BY a.currency
HAVING SUM(CASE WHEN e.direction = 'credit' THEN e.amount ELSE -e.amount END) <> 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerCurrencyImbalance
	for rows.Next() {
		var row LedgerCurrencyImbalance
		if err := rows.Scan(&row.Currency, &row.NetAmount); err != nil {
			return nil, fmt.Errorf("scan currency imbalance: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (q *Queries) ListAccountDrift(ctx context.Context) ([]AccountDrift, error) {
	rows, err := q.db.Query(ctx, `
SELECT a.id, a.currency, a.balance,
       (a.opening_balance + COALESCE(SUM(CASE WHEN e.direction = 'credit' THEN e.amount ELSE -e.amount END), 0))::bigint AS expected
FROM accounts a
LEFT JOIN entries e ON e.account_id = a.id
GROUP BY a.id
HAVING a.balance <> a.opening_balance + COALESCE(SUM(CASE WHEN e.direction = 'credit' THEN e.amount ELSE -e.amount END), 0)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountDrift
	for rows.Next() {
		var d AccountDrift
		if err := rows.Scan(&d.AccountID, &d.Currency, &d.Balance, &d.Expected); err != nil {
			return nil, fmt.Errorf("scan account drift: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
