package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/transfer-core/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// TransferRequest is an immutable, structurally valid transfer submission.
type TransferRequest struct {
	SourceAccountID          uuid.UUID
	DestinationAccountNumber string
	BeneficiaryID            *uuid.UUID
	Amount                   int64
	Currency                 string
	Description              string
	Scheduled                bool
	ScheduledAt              *time.Time
}

// Money returns the requested amount as Money.
func (r TransferRequest) Money() domain.Money {
	return domain.NewMoney(r.Amount, r.Currency)
}

// Hash fingerprints the request so a reused idempotency key can be checked for drift.
func (r TransferRequest) Hash() string {
	beneficiary := ""
	if r.BeneficiaryID != nil {
		beneficiary = r.BeneficiaryID.String()
	}
	scheduledAt := ""
	if r.ScheduledAt != nil {
		scheduledAt = r.ScheduledAt.UTC().Format(time.RFC3339)
	}
	canonical := strings.Join([]string{
		r.SourceAccountID.String(),
		r.DestinationAccountNumber,
		beneficiary,
		fmt.Sprintf("%d", r.Amount),
		r.Currency,
		r.Description,
		fmt.Sprintf("%t", r.Scheduled),
		scheduledAt,
	}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

type transferDraft struct {
	SourceAccountID          uuid.UUID
	DestinationAccountNumber string     `validate:"required_without=BeneficiaryID,excluded_with=BeneficiaryID"`
	BeneficiaryID            *uuid.UUID `validate:"required_without=DestinationAccountNumber"`
	Amount                   int64      `validate:"gt=0"`
	Currency                 string     `validate:"required,len=3,uppercase"`
	Description              string     `validate:"max=140"`
	Scheduled                bool
	ScheduledAt              *time.Time `validate:"required_if=Scheduled true"`
}

// TransferRequestBuilder assembles a TransferRequest and validates it in one pass.
type TransferRequestBuilder struct {
	draft transferDraft
}

func NewTransferRequestBuilder() *TransferRequestBuilder {
	return &TransferRequestBuilder{}
}

func (b *TransferRequestBuilder) From(accountID uuid.UUID) *TransferRequestBuilder {
	b.draft.SourceAccountID = accountID
	return b
}

func (b *TransferRequestBuilder) ToAccount(number string) *TransferRequestBuilder {
	b.draft.DestinationAccountNumber = strings.TrimSpace(number)
	return b
}

func (b *TransferRequestBuilder) ToBeneficiary(id uuid.UUID) *TransferRequestBuilder {
	b.draft.BeneficiaryID = &id
	return b
}

func (b *TransferRequestBuilder) Amount(amount int64, currency string) *TransferRequestBuilder {
	b.draft.Amount = amount
	b.draft.Currency = strings.ToUpper(strings.TrimSpace(currency))
	return b
}

func (b *TransferRequestBuilder) Description(text string) *TransferRequestBuilder {
	b.draft.Description = strings.TrimSpace(text)
	return b
}

// ScheduleAt marks the request as deferred to the given execution time.
func (b *TransferRequestBuilder) ScheduleAt(at time.Time) *TransferRequestBuilder {
	b.draft.Scheduled = true
	b.draft.ScheduledAt = &at
	return b
}

// Build validates the draft and returns the immutable request.
func (b *TransferRequestBuilder) Build() (TransferRequest, error) {
	d := b.draft
	if d.SourceAccountID == uuid.Nil {
		return TransferRequest{}, domain.Errorf(domain.ErrInvalidRequest, "source account is required")
	}
	if err := validate.Struct(d); err != nil {
		return TransferRequest{}, translateValidationError(err)
	}

	req := TransferRequest{
		SourceAccountID:          d.SourceAccountID,
		DestinationAccountNumber: d.DestinationAccountNumber,
		Amount:                   d.Amount,
		Currency:                 d.Currency,
		Description:              d.Description,
		Scheduled:                d.Scheduled,
	}
	if d.BeneficiaryID != nil {
		id := *d.BeneficiaryID
		req.BeneficiaryID = &id
	}
	if d.ScheduledAt != nil {
		at := d.ScheduledAt.UTC()
		req.ScheduledAt = &at
	}
	return req, nil
}

func translateValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.Wrap(domain.ErrInvalidRequest, err)
	}
	fe := verrs[0]
	switch fe.Field() {
	case "Amount":
		return domain.Errorf(domain.ErrInvalidAmount, "amount must be greater than zero")
	case "DestinationAccountNumber", "BeneficiaryID":
		return domain.Errorf(domain.ErrInvalidRequest, "exactly one of destination account number or beneficiary is required")
	case "ScheduledAt":
		return domain.Errorf(domain.ErrInvalidRequest, "scheduled transfers require an execution date")
	default:
		return domain.Errorf(domain.ErrInvalidRequest, "%s failed %s validation", strings.ToLower(fe.Field()), fe.Tag())
	}
}
