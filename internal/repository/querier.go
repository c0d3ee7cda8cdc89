package repository

import (
	"context"
	"time"

	"github.com/ayo6706/transfer-core/internal/models"
	"github.com/google/uuid"
)

// Querier is the full query set used by services. Implementations return pgx.ErrNoRows
// when a single-row lookup matches nothing and a *pgconn.PgError with code 23505 on
// unique violations, whichever engine backs them.
type Querier interface {
	CreateAccount(ctx context.Context, arg CreateAccountParams) (models.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (models.Account, error)
	GetAccountByNumber(ctx context.Context, number string) (models.Account, error)
	GetAccountForUpdate(ctx context.Context, id uuid.UUID) (models.Account, error)
	ListAccountsByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Account, error)
	UpdateAccountStatus(ctx context.Context, arg UpdateAccountStatusParams) (int64, error)
	ApplyAccountDebit(ctx context.Context, arg AdjustAccountParams) (int64, error)
	ApplyAccountCredit(ctx context.Context, arg AdjustAccountParams) (int64, error)
	HoldAccountFunds(ctx context.Context, arg AdjustAccountParams) (int64, error)
	ReleaseAccountFunds(ctx context.Context, arg AdjustAccountParams) (int64, error)
	SettleHeldFunds(ctx context.Context, arg AdjustAccountParams) (int64, error)

	CreateEntry(ctx context.Context, arg CreateEntryParams) (models.Entry, error)
	ListEntriesByTransfer(ctx context.Context, transferID uuid.UUID) ([]models.Entry, error)

	CreateTransfer(ctx context.Context, arg models.TransferRecord) (models.TransferRecord, error)
	GetTransfer(ctx context.Context, id uuid.UUID) (models.TransferRecord, error)
	GetTransferForUpdate(ctx context.Context, id uuid.UUID) (models.TransferRecord, error)
	GetTransferByIdempotencyKey(ctx context.Context, initiatorID uuid.UUID, key string) (models.TransferRecord, error)
	ListTransfersByInitiator(ctx context.Context, arg ListTransfersByInitiatorParams) ([]models.TransferRecord, error)
	ListTransfersByStatus(ctx context.Context, arg ListTransfersByStatusParams) ([]models.TransferRecord, error)
	ListHighValueTransfers(ctx context.Context, arg ListHighValueTransfersParams) ([]models.TransferRecord, error)
	CountTransfersByStatus(ctx context.Context, status string) (int64, error)
	SumDailyUsage(ctx context.Context, arg SumDailyUsageParams) (int64, error)
	UpdateTransferStatus(ctx context.Context, arg UpdateTransferStatusParams) (int64, error)
	UpdateTransferNotes(ctx context.Context, arg UpdateTransferNotesParams) (int64, error)

	CreateBeneficiary(ctx context.Context, arg models.Beneficiary) (models.Beneficiary, error)
	GetBeneficiary(ctx context.Context, id uuid.UUID) (models.Beneficiary, error)
	ListBeneficiariesByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Beneficiary, error)
	UpdateBeneficiaryStatus(ctx context.Context, arg UpdateBeneficiaryStatusParams) (int64, error)

	CreateScheduledJob(ctx context.Context, arg models.ScheduledJob) (models.ScheduledJob, error)
	GetScheduledJobByTransfer(ctx context.Context, transferID uuid.UUID) (models.ScheduledJob, error)
	GetScheduledJobByTransferForUpdate(ctx context.Context, transferID uuid.UUID) (models.ScheduledJob, error)
	ClaimDueScheduledJob(ctx context.Context, now time.Time) (models.ScheduledJob, error)
	UpdateScheduledJobStatus(ctx context.Context, arg UpdateScheduledJobStatusParams) (int64, error)
	ListScheduledJobsByInitiator(ctx context.Context, initiatorID uuid.UUID) ([]models.ScheduledJob, error)

	CreateSettlement(ctx context.Context, arg models.Settlement) (models.Settlement, error)
	GetSettlement(ctx context.Context, id uuid.UUID) (models.Settlement, error)
	GetPendingSettlements(ctx context.Context, limit int32) ([]models.Settlement, error)
	GetStaleProcessingSettlements(ctx context.Context, arg GetStaleProcessingSettlementsParams) ([]models.Settlement, error)
	UpdateSettlementStatus(ctx context.Context, arg UpdateSettlementStatusParams) (int64, error)
	CountSettlementsByStatus(ctx context.Context, status string) (int64, error)
	ListSettlementsByStatus(ctx context.Context, arg ListSettlementsByStatusParams) ([]models.Settlement, error)

	InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (models.AuditLog, error)
	ListAuditLogByEntity(ctx context.Context, arg ListAuditLogByEntityParams) ([]models.AuditLog, error)

	ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (IdempotencyKey, error)
	GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKey, error)
	FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (IdempotencyKey, error)
	ReleaseIdempotencyKey(ctx context.Context, key, requestHash string) (int64, error)

	GetLedgerNet(ctx context.Context) (int64, error)
	GetLedgerCurrencyImbalances(ctx context.Context) ([]LedgerCurrencyImbalance, error)
	ListAccountDrift(ctx context.Context) ([]AccountDrift, error)
}

type CreateAccountParams struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
	Number     string
	HolderName string
	Currency   string
	Balance    int64
	DailyLimit int64
	Status     string
}

type UpdateAccountStatusParams struct {
	ID     uuid.UUID
	Status string
}

// AdjustAccountParams moves Amount on one account. Debit and hold variants match zero
// rows when available funds are short.
type AdjustAccountParams struct {
	ID     uuid.UUID
	Amount int64
}

type CreateEntryParams struct {
	ID         uuid.UUID
	TransferID uuid.UUID
	AccountID  uuid.UUID
	Amount     int64
	Direction  string
}

type ListTransfersByInitiatorParams struct {
	InitiatorID uuid.UUID
	Limit       int32
	Offset      int32
}

type ListTransfersByStatusParams struct {
	Status        string
	HighValueOnly bool
	Limit         int32
	Offset        int32
}

type ListHighValueTransfersParams struct {
	Limit  int32
	Offset int32
}

// SumDailyUsageParams bounds one business day as [Since, Until).
type SumDailyUsageParams struct {
	AccountID uuid.UUID
	Since     time.Time
	Until     time.Time
}

// UpdateTransferStatusParams leaves nil fields unchanged.
type UpdateTransferStatusParams struct {
	ID              uuid.UUID
	Status          string
	ApproverID      *uuid.UUID
	RejectionReason *string
	FailureReason   *string
	SettlementRef   *string
	ExecutedAt      *time.Time
}

type UpdateTransferNotesParams struct {
	ID    uuid.UUID
	Notes string
}

type UpdateBeneficiaryStatusParams struct {
	ID     uuid.UUID
	Status string
}

type UpdateScheduledJobStatusParams struct {
	ID        uuid.UUID
	Status    string
	LastError *string
}

type GetStaleProcessingSettlementsParams struct {
	UpdatedBefore time.Time
	Limit         int32
}

type ListSettlementsByStatusParams struct {
	Status string
	Limit  int32
	Offset int32
}

type UpdateSettlementStatusParams struct {
	ID         uuid.UUID
	Status     string
	GatewayRef *string
}

type InsertAuditLogParams struct {
	EntityType string
	EntityID   uuid.UUID
	ActorID    *uuid.UUID
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
}

type ListAuditLogByEntityParams struct {
	EntityType string
	EntityID   uuid.UUID
}

type IdempotencyKey struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type ReserveIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
}

type FinalizeIdempotencyKeyParams struct {
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	IdempotencyKey string
	RequestHash    string
}

type LedgerCurrencyImbalance struct {
	Currency  string
	NetAmount int64
}

// AccountDrift reports an account whose balance differs from opening balance plus entries.
type AccountDrift struct {
	AccountID uuid.UUID
	Currency  string
	Balance   int64
	Expected  int64
}
