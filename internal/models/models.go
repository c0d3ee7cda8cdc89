package models

import (
	"time"

	"github.com/ayo6706/transfer-core/internal/domain"
	"github.com/google/uuid"
)

// Principal is the authenticated caller of a workflow operation.
type Principal struct {
	ID   uuid.UUID
	Role domain.Role
}

type Account struct {
	ID             uuid.UUID `json:"id"`
	CustomerID     uuid.UUID `json:"customer_id"`
	Number         string    `json:"number"`
	HolderName     string    `json:"holder_name"`
	Currency       string    `json:"currency"`
	Balance        int64     `json:"balance"`
	Held           int64     `json:"held"`
	Available      int64     `json:"available"`
	Status         string    `json:"status"`
	DailyLimit     int64     `json:"daily_limit"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	OpeningBalance int64     `json:"-"`
}

type Beneficiary struct {
	ID            uuid.UUID `json:"id"`
	CustomerID    uuid.UUID `json:"customer_id"`
	Alias         string    `json:"alias"`
	AccountNumber string    `json:"account_number"`
	BankCode      string    `json:"bank_code"`
	Currency      string    `json:"currency"`
	HolderName    string    `json:"holder_name"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TransferRecord is the persisted outcome of a submitted TransferRequest.
type TransferRecord struct {
	ID                       uuid.UUID  `json:"id"`
	IdempotencyKey           string     `json:"idempotency_key"`
	RequestHash              string     `json:"-"`
	SourceAccountID          uuid.UUID  `json:"source_account_id"`
	DestinationAccountID     *uuid.UUID `json:"destination_account_id,omitempty"`
	DestinationAccountNumber string     `json:"destination_account_number,omitempty"`
	BeneficiaryID            *uuid.UUID `json:"beneficiary_id,omitempty"`
	DestinationName          string     `json:"destination_name,omitempty"`
	Amount                   int64      `json:"amount"`
	Fee                      int64      `json:"fee"`
	TotalDebit               int64      `json:"total_debit"`
	Currency                 string     `json:"currency"`
	Description              string     `json:"description,omitempty"`
	Kind                     string     `json:"kind"`
	Status                   string     `json:"status"`
	InitiatorID              uuid.UUID  `json:"initiator_id"`
	InitiatorRole            string     `json:"initiator_role"`
	RequiredApproverRole     string     `json:"required_approver_role,omitempty"`
	HighValue                bool       `json:"high_value"`
	ApproverID               *uuid.UUID `json:"approver_id,omitempty"`
	RejectionReason          *string    `json:"rejection_reason,omitempty"`
	FailureReason            *string    `json:"failure_reason,omitempty"`
	ReviewNotes              *string    `json:"review_notes,omitempty"`
	SettlementRef            *string    `json:"settlement_ref,omitempty"`
	ScheduledAt              *time.Time `json:"scheduled_at,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
	ExecutedAt               *time.Time `json:"executed_at,omitempty"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

type ScheduledJob struct {
	ID                   uuid.UUID `json:"id"`
	TransferID           uuid.UUID `json:"transfer_id"`
	DueAt                time.Time `json:"due_at"`
	CancellationDeadline time.Time `json:"cancellation_deadline"`
	Status               string    `json:"status"`
	LastError            *string   `json:"last_error,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// ScheduledTransfer joins a job with the transfer it will execute.
type ScheduledTransfer struct {
	Job         ScheduledJob   `json:"job"`
	Transfer    TransferRecord `json:"transfer"`
	Cancellable bool           `json:"cancellable"`
}

type Entry struct {
	ID         uuid.UUID `json:"id"`
	TransferID uuid.UUID `json:"transfer_id"`
	AccountID  uuid.UUID `json:"account_id"`
	Amount     int64     `json:"amount"`
	Direction  string    `json:"direction"` // "debit" or "credit"
	CreatedAt  time.Time `json:"created_at"`
}

// AuditLog is an immutable state-change trail entry.
type AuditLog struct {
	ID         int64      `json:"id"`
	EntityType string     `json:"entity_type"`
	EntityID   uuid.UUID  `json:"entity_id"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	Action     string     `json:"action"`
	PrevState  *string    `json:"prev_state,omitempty"`
	NextState  *string    `json:"next_state,omitempty"`
	Metadata   []byte     `json:"metadata,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type Settlement struct {
	ID          uuid.UUID `json:"id"`
	TransferID  uuid.UUID `json:"transfer_id"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Destination string    `json:"destination"`
	Status      string    `json:"status"`
	GatewayRef  *string   `json:"gateway_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PreCheckResult is an advisory quote for a TransferRequest. It has no persisted identity.
type PreCheckResult struct {
	Valid                bool   `json:"valid"`
	Code                 string `json:"code,omitempty"`
	Reason               string `json:"reason,omitempty"`
	DestinationName      string `json:"destination_name,omitempty"`
	ExternalDestination  bool   `json:"external_destination"`
	Currency             string `json:"currency"`
	BalanceBefore        int64  `json:"balance_before"`
	Amount               int64  `json:"amount"`
	Fee                  int64  `json:"fee"`
	TotalDebit           int64  `json:"total_debit"`
	ResultingBalance     int64  `json:"resulting_balance"`
	ApprovalRequired     bool   `json:"approval_required"`
	RequiredApproverRole string `json:"required_approver_role,omitempty"`
	HighValue            bool   `json:"high_value"`
	DailyLimitRemaining  int64  `json:"daily_limit_remaining"`
}
