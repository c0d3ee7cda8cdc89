package domain

// System IDs (must match migrations/000001_init.up.sql)
const (
	SystemCustomerID = "11111111-1111-1111-1111-111111111111"

	ClearingAccountCRC = "22222222-2222-2222-2222-222222222222"
	ClearingAccountUSD = "33333333-3333-3333-3333-333333333333"
	FeeAccountCRC      = "44444444-4444-4444-4444-444444444444"
	FeeAccountUSD      = "55555555-5555-5555-5555-555555555555"

	CurrencyCRC = "CRC"
	CurrencyUSD = "USD"

	DirectionDebit  = "debit"
	DirectionCredit = "credit"

	AccountStatusActive  = "ACTIVE"
	AccountStatusBlocked = "BLOCKED"
	AccountStatusClosed  = "CLOSED"

	TransferKindOwnAccount = "OWN_ACCOUNT"
	TransferKindThirdParty = "THIRD_PARTY"
	TransferKindExternal   = "EXTERNAL"

	TransferStatusExecuted        = "EXECUTED"
	TransferStatusPendingApproval = "PENDING_APPROVAL"
	TransferStatusScheduled       = "SCHEDULED"
	TransferStatusRejected        = "REJECTED"
	TransferStatusCancelled       = "CANCELLED"
	TransferStatusFailed          = "FAILED"

	BeneficiaryStatusPending   = "PENDING"
	BeneficiaryStatusConfirmed = "CONFIRMED"
	BeneficiaryStatusRejected  = "REJECTED"

	JobStatusPending   = "PENDING"
	JobStatusExecuted  = "EXECUTED"
	JobStatusCancelled = "CANCELLED"
	JobStatusFailed    = "FAILED"

	// Settlement statuses
	SettlementStatusPending      = "PENDING"
	SettlementStatusProcessing   = "PROCESSING"
	SettlementStatusCompleted    = "COMPLETED"
	SettlementStatusManualReview = "MANUAL_REVIEW"
)

// Role identifies the privilege tier of a principal.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

// ParseRole maps token role claims onto a Role. Unknown values map to customer.
func ParseRole(raw string) Role {
	switch Role(raw) {
	case RoleManager, "gestor":
		return RoleManager
	case RoleAdmin, "administrador", "administrator":
		return RoleAdmin
	default:
		return RoleCustomer
	}
}

// IsStaff reports whether the role may review queued operations.
func (r Role) IsStaff() bool {
	return r == RoleManager || r == RoleAdmin
}

// SupportedCurrencies lists currencies with policy and system accounts.
var SupportedCurrencies = []string{CurrencyCRC, CurrencyUSD}
