package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ayo6706/transfer-core/internal/domain"
	"github.com/ayo6706/transfer-core/internal/models"
	"github.com/ayo6706/transfer-core/internal/policy"
	"github.com/ayo6706/transfer-core/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Destination is the resolved target of a transfer.
type Destination struct {
	Kind        string
	Account     *models.Account
	Beneficiary *models.Beneficiary
	Name        string
	Number      string
	BankCode    string
	Currency    string
	External    bool
}

// AccountID is the account credited with the transfer amount.
func (d Destination) AccountID() uuid.UUID {
	if d.Account != nil {
		return d.Account.ID
	}
	return uuid.Nil
}

func (d Destination) describe() string {
	if d.BankCode == "" {
		return fmt.Sprintf("%s (%s)", d.Name, d.Number)
	}
	return fmt.Sprintf("%s (%s:%s)", d.Name, d.BankCode, d.Number)
}

// Snapshot is everything the validator needs to judge one request.
type Snapshot struct {
	Principal   models.Principal
	Request     models.TransferRequest
	Source      *models.Account
	Destination Destination
	// DestinationErr is set when the destination could not be resolved.
	DestinationErr error
	UsedToday      int64
	Deferred       bool
}

// Evaluation is the outcome of a successful validation.
type Evaluation struct {
	Source      models.Account
	Destination Destination
	Fee         int64
	TotalDebit  int64
	DailyLimit  int64
	UsedToday   int64
	Decision    policy.Decision
}

// Remaining is the unused part of today's cap before this transfer.
func (e Evaluation) Remaining() int64 {
	if r := e.DailyLimit - e.UsedToday; r > 0 {
		return r
	}
	return 0
}

// TransferValidator runs the ordered pre-check over a Snapshot. Evaluate has no side effects.
type TransferValidator struct {
	store        QueryStore
	limits       *policy.LimitPolicy
	fees         *policy.FeeCalculator
	router       *policy.ApprovalRouter
	homeBankCode string
	opts         options
}

func NewTransferValidator(store QueryStore, limits *policy.LimitPolicy, fees *policy.FeeCalculator, router *policy.ApprovalRouter, homeBankCode string, opts ...Option) *TransferValidator {
	return &TransferValidator{
		store:        store,
		limits:       limits,
		fees:         fees,
		router:       router,
		homeBankCode: strings.ToUpper(strings.TrimSpace(homeBankCode)),
		opts:         buildOptions(opts),
	}
}

// Router exposes the routing table the validator decides with.
func (v *TransferValidator) Router() *policy.ApprovalRouter {
	return v.router
}

// Evaluate applies the checks in order and stops at the first failure.
func (v *TransferValidator) Evaluate(s Snapshot) (Evaluation, error) {
	req := s.Request

	limits, ok := v.limits.Currency(req.Currency)
	if !ok {
		return Evaluation{}, domain.Errorf(domain.ErrInvalidAmount, "currency %s is not supported", req.Currency)
	}
	if req.Amount <= 0 {
		return Evaluation{}, domain.Errorf(domain.ErrInvalidAmount, "amount must be greater than zero")
	}
	if req.Amount < limits.MinimumAmount {
		return Evaluation{}, domain.Errorf(domain.ErrInvalidAmount, "amount is below the minimum of %s", domain.NewMoney(limits.MinimumAmount, req.Currency))
	}

	if s.Source == nil {
		return Evaluation{}, domain.ErrAccountNotFound
	}
	src := *s.Source
	if s.Principal.Role == domain.RoleCustomer && src.CustomerID != s.Principal.ID {
		return Evaluation{}, domain.Errorf(domain.ErrUnauthorized, "account %s does not belong to the caller", src.Number)
	}
	if src.Status != domain.AccountStatusActive {
		return Evaluation{}, domain.Errorf(domain.ErrAccountNotEligible, "source account is %s", strings.ToLower(src.Status))
	}
	if req.Currency != src.Currency {
		return Evaluation{}, domain.Errorf(domain.ErrCurrencyMismatch, "source account holds %s, request is in %s", src.Currency, req.Currency)
	}

	dest := s.Destination
	if s.DestinationErr != nil {
		return Evaluation{}, s.DestinationErr
	}
	if b := dest.Beneficiary; b != nil {
		if b.CustomerID != src.CustomerID {
			return Evaluation{}, domain.Errorf(domain.ErrDestinationUnresolved, "beneficiary belongs to another customer")
		}
		if b.Status != domain.BeneficiaryStatusConfirmed {
			return Evaluation{}, domain.Errorf(domain.ErrDestinationUnresolved, "beneficiary is %s", strings.ToLower(b.Status))
		}
	}
	if dest.Account != nil {
		if dest.Account.ID == src.ID {
			return Evaluation{}, domain.ErrSameAccount
		}
		dest.Kind = domain.TransferKindThirdParty
		if dest.Account.CustomerID == src.CustomerID {
			dest.Kind = domain.TransferKindOwnAccount
		}
	}
	if dest.Currency != src.Currency {
		return Evaluation{}, domain.Errorf(domain.ErrCurrencyMismatch, "destination holds %s, source holds %s", dest.Currency, src.Currency)
	}

	fee, err := v.fees.Fee(policy.FeeInput{
		Amount:    req.Amount,
		Currency:  req.Currency,
		Kind:      dest.Kind,
		Scheduled: req.Scheduled,
	})
	if err != nil {
		return Evaluation{}, domain.Wrap(domain.ErrInvalidRequest, err)
	}
	total := req.Amount + fee

	dailyLimit := src.DailyLimit
	if dailyLimit <= 0 {
		dailyLimit = limits.DefaultDailyLimit
	}

	if !s.Deferred {
		if src.Available < total {
			return Evaluation{}, domain.Errorf(domain.ErrInsufficientFunds, "available %s is below the required %s",
				domain.NewMoney(src.Available, src.Currency), domain.NewMoney(total, src.Currency))
		}
		if s.UsedToday+req.Amount > dailyLimit {
			return Evaluation{}, domain.Errorf(domain.ErrDailyLimitExceeded, "daily limit %s would be exceeded, %s already used today",
				domain.NewMoney(dailyLimit, src.Currency), domain.NewMoney(s.UsedToday, src.Currency))
		}
	}

	return Evaluation{
		Source:      src,
		Destination: dest,
		Fee:         fee,
		TotalDebit:  total,
		DailyLimit:  dailyLimit,
		UsedToday:   s.UsedToday,
		Decision:    v.router.Route(req.Amount, req.Currency, s.Principal.Role),
	}, nil
}

// PreCheck quotes a request without side effects. Validation and policy failures are
// reported in the result; only storage failures are returned as errors.
func (v *TransferValidator) PreCheck(ctx context.Context, principal models.Principal, req models.TransferRequest) (models.PreCheckResult, error) {
	snap, err := v.Load(ctx, v.store.Queries(), principal, req, false)
	if err != nil {
		return models.PreCheckResult{}, err
	}
	snap.Deferred = req.Scheduled

	result := models.PreCheckResult{
		Currency: req.Currency,
		Amount:   req.Amount,
	}
	ev, err := v.quote(snap)
	if err != nil {
		derr, ok := domain.AsError(err)
		if !ok {
			return models.PreCheckResult{}, err
		}
		result.Code = derr.Code
		result.Reason = derr.Error()
		return result, nil
	}

	result.Valid = true
	result.DestinationName = ev.Destination.Name
	result.ExternalDestination = ev.Destination.External
	result.BalanceBefore = ev.Source.Available
	result.Fee = ev.Fee
	result.TotalDebit = ev.TotalDebit
	result.ResultingBalance = ev.Source.Available - ev.TotalDebit
	result.ApprovalRequired = ev.Decision.RequiresApproval
	result.RequiredApproverRole = string(ev.Decision.ApproverRole)
	result.HighValue = ev.Decision.HighValue
	result.DailyLimitRemaining = ev.Remaining()
	return result, nil
}

// quote evaluates snap and, for scheduled requests, applies the rules Schedule enforces
// so the quote matches what submitting would do.
func (v *TransferValidator) quote(snap Snapshot) (Evaluation, error) {
	if !snap.Request.Scheduled {
		return v.Evaluate(snap)
	}
	if err := v.CheckScheduleDate(snap.Request); err != nil {
		return Evaluation{}, err
	}
	ev, err := v.Evaluate(snap)
	if err != nil {
		return ev, err
	}
	return ev, CheckSchedulable(ev, snap.Request.Currency)
}

// CheckScheduleDate requires an execution date strictly after 00:00 of the next business day.
func (v *TransferValidator) CheckScheduleDate(req models.TransferRequest) error {
	if req.ScheduledAt == nil {
		return domain.Errorf(domain.ErrInvalidScheduleDate, "scheduled transfers require an execution date")
	}
	_, tomorrow := dayBounds(v.opts.now(), v.opts.location)
	if !req.ScheduledAt.After(tomorrow) {
		return domain.Errorf(domain.ErrInvalidScheduleDate, "scheduled date must be after %s", tomorrow.In(v.opts.location).Format(time.RFC3339))
	}
	return nil
}

// CheckSchedulable refuses scheduled transfers that would need review.
func CheckSchedulable(ev Evaluation, currency string) error {
	if !ev.Decision.RequiresApproval {
		return nil
	}
	return domain.Errorf(domain.ErrApprovalRequired, "transfers above the %s ceiling cannot be scheduled; submit them for approval instead",
		domain.NewMoney(ev.Decision.Ceiling, currency))
}

// Load reads the source, resolves the destination and sums today's usage through q.
// With lock set, every account the transfer touches is locked in ascending id order first.
func (v *TransferValidator) Load(ctx context.Context, q repository.Querier, principal models.Principal, req models.TransferRequest, lock bool) (Snapshot, error) {
	snap := Snapshot{Principal: principal, Request: req}

	src, err := q.GetAccount(ctx, req.SourceAccountID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return snap, nil
	case err != nil:
		return snap, fmt.Errorf("get source account: %w", err)
	}

	dest, destErr, err := v.resolveDestination(ctx, q, req)
	if err != nil {
		return snap, err
	}

	if lock {
		ids := []uuid.UUID{src.ID}
		if dest.Account != nil {
			ids = append(ids, dest.Account.ID)
		}
		if err := lockAccounts(ctx, q, ids); err != nil {
			return snap, err
		}
		// Re-read under the lock.
		if src, err = q.GetAccount(ctx, src.ID); err != nil {
			return snap, fmt.Errorf("reload source account: %w", err)
		}
		if dest.Account != nil {
			acc, err := q.GetAccount(ctx, dest.Account.ID)
			if err != nil {
				return snap, fmt.Errorf("reload destination account: %w", err)
			}
			dest.Account = &acc
		}
	}

	since, until := dayBounds(v.opts.now(), v.opts.location)
	used, err := q.SumDailyUsage(ctx, repository.SumDailyUsageParams{
		AccountID: src.ID,
		Since:     since,
		Until:     until,
	})
	if err != nil {
		return snap, fmt.Errorf("sum daily usage: %w", err)
	}

	snap.Source = &src
	snap.Destination = dest
	snap.DestinationErr = destErr
	snap.UsedToday = used
	return snap, nil
}

// resolveDestination returns a domain error in its second result when the destination does
// not resolve, and a storage error in its third.
func (v *TransferValidator) resolveDestination(ctx context.Context, q repository.Querier, req models.TransferRequest) (Destination, error, error) {
	if req.BeneficiaryID == nil {
		return v.resolveAccountNumber(ctx, q, req.DestinationAccountNumber)
	}

	b, err := q.GetBeneficiary(ctx, *req.BeneficiaryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Destination{}, domain.Errorf(domain.ErrDestinationUnresolved, "beneficiary %s does not exist", req.BeneficiaryID), nil
		}
		return Destination{}, nil, fmt.Errorf("get beneficiary: %w", err)
	}

	if v.isHomeBank(b.BankCode) {
		dest, destErr, err := v.resolveAccountNumber(ctx, q, b.AccountNumber)
		if err != nil || destErr != nil {
			return dest, destErr, err
		}
		dest.Beneficiary = &b
		return dest, nil, nil
	}

	return Destination{
		Kind:        domain.TransferKindExternal,
		Beneficiary: &b,
		Name:        b.HolderName,
		Number:      b.AccountNumber,
		BankCode:    strings.ToUpper(b.BankCode),
		Currency:    b.Currency,
		External:    true,
	}, nil, nil
}

func (v *TransferValidator) resolveAccountNumber(ctx context.Context, q repository.Querier, number string) (Destination, error, error) {
	acc, err := q.GetAccountByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Destination{}, domain.Errorf(domain.ErrDestinationUnresolved, "account %s does not exist", number), nil
		}
		return Destination{}, nil, fmt.Errorf("get destination account: %w", err)
	}
	if acc.Status == domain.AccountStatusClosed || acc.CustomerID.String() == domain.SystemCustomerID {
		return Destination{}, domain.Errorf(domain.ErrDestinationUnresolved, "account %s cannot receive transfers", number), nil
	}
	return Destination{
		Kind:     domain.TransferKindThirdParty,
		Account:  &acc,
		Name:     acc.HolderName,
		Number:   acc.Number,
		Currency: acc.Currency,
	}, nil, nil
}

func (v *TransferValidator) isHomeBank(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	return code == "" || code == v.homeBankCode
}

// lockAccounts takes row locks in ascending id order so concurrent transfers cannot deadlock.
func lockAccounts(ctx context.Context, q repository.Querier, ids []uuid.UUID) error {
	sorted := append([]uuid.UUID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].String() < sorted[j].String()
	})
	var prev uuid.UUID
	for i, id := range sorted {
		if i > 0 && id == prev {
			continue
		}
		prev = id
		if _, err := q.GetAccountForUpdate(ctx, id); err != nil {
			return fmt.Errorf("lock account %s: %w", id, err)
		}
	}
	return nil
}

func clearingAccountID(currency string) (uuid.UUID, error) {
	switch currency {
	case domain.CurrencyCRC:
		return uuid.MustParse(domain.ClearingAccountCRC), nil
	case domain.CurrencyUSD:
		return uuid.MustParse(domain.ClearingAccountUSD), nil
	default:
		return uuid.Nil, fmt.Errorf("no clearing account for currency %s", currency)
	}
}

func feeAccountID(currency string) (uuid.UUID, error) {
	switch currency {
	case domain.CurrencyCRC:
		return uuid.MustParse(domain.FeeAccountCRC), nil
	case domain.CurrencyUSD:
		return uuid.MustParse(domain.FeeAccountUSD), nil
	default:
		return uuid.Nil, fmt.Errorf("no fee account for currency %s", currency)
	}
}
