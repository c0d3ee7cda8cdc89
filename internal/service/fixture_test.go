package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/transfer-core/internal/domain"
	"github.com/ayo6706/transfer-core/internal/events"
	"github.com/ayo6706/transfer-core/internal/models"
	"github.com/ayo6706/transfer-core/internal/policy"
	"github.com/ayo6706/transfer-core/internal/repository"
	"github.com/ayo6706/transfer-core/internal/repository/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const homeBank = "BCR"

var businessTZ = time.FixedZone("America/Costa_Rica", -6*60*60)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	clock  *testClock
	store  *memstore.Store
	events *events.Recorder

	limits        *policy.LimitPolicy
	validator     *TransferValidator
	executor      *TransferExecutor
	approvals     *ApprovalWorkflow
	scheduler     *SchedulingManager
	transfers     *TransferService
	accounts      *AccountService
	beneficiaries *BeneficiaryService
	reconcile     *ReconciliationService
}

// newFixture wires every service over a memory store. The clock starts on
// 2026-03-10 09:00 in the business timezone.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)}
	store := memstore.New(memstore.WithClock(clock.Now))
	recorder := &events.Recorder{}

	limits := policy.DefaultLimitPolicy()
	fees := policy.NewFeeCalculator(limits)
	router := policy.NewApprovalRouter(limits)
	opts := []Option{WithClock(clock.Now), WithLocation(businessTZ), WithPublisher(recorder)}

	validator := NewTransferValidator(store, limits, fees, router, homeBank, opts...)
	executor := NewTransferExecutor(store, validator, opts...)
	approvals := NewApprovalWorkflow(store, executor, router, opts...)
	scheduler := NewSchedulingManager(store, validator, executor, time.Hour, opts...)

	return &fixture{
		t:             t,
		ctx:           context.Background(),
		clock:         clock,
		store:         store,
		events:        recorder,
		limits:        limits,
		validator:     validator,
		executor:      executor,
		approvals:     approvals,
		scheduler:     scheduler,
		transfers:     NewTransferService(store, validator, executor, approvals, scheduler),
		accounts:      NewAccountService(store, limits),
		beneficiaries: NewBeneficiaryService(store, limits),
		reconcile:     NewReconciliationService(store),
	}
}

func customer(id uuid.UUID) models.Principal {
	return models.Principal{ID: id, Role: domain.RoleCustomer}
}

func manager() models.Principal {
	return models.Principal{ID: uuid.New(), Role: domain.RoleManager}
}

func admin() models.Principal {
	return models.Principal{ID: uuid.New(), Role: domain.RoleAdmin}
}

func (f *fixture) openAccount(owner uuid.UUID, number, currency string, balance int64) models.Account {
	f.t.Helper()
	acc, err := f.accounts.CreateAccount(f.ctx, admin(), CreateAccountInput{
		CustomerID: owner,
		Number:     number,
		HolderName: "Holder " + number,
		Currency:   currency,
		Balance:    balance,
	})
	require.NoError(f.t, err)
	return *acc
}

func (f *fixture) confirmedBeneficiary(owner uuid.UUID, number, bank, currency string) models.Beneficiary {
	f.t.Helper()
	b, err := f.beneficiaries.Register(f.ctx, customer(owner), RegisterBeneficiaryInput{
		Alias:         "saved " + number,
		AccountNumber: number,
		BankCode:      bank,
		Currency:      currency,
		HolderName:    "Beneficiary " + number,
	})
	require.NoError(f.t, err)
	confirmed, err := f.beneficiaries.Confirm(f.ctx, admin(), b.ID)
	require.NoError(f.t, err)
	return *confirmed
}

func (f *fixture) account(id uuid.UUID) models.Account {
	f.t.Helper()
	acc, err := f.store.Queries().GetAccount(f.ctx, id)
	require.NoError(f.t, err)
	return acc
}

func (f *fixture) setAccountStatus(id uuid.UUID, status string) {
	f.t.Helper()
	rows, err := f.store.Queries().UpdateAccountStatus(f.ctx, repository.UpdateAccountStatusParams{ID: id, Status: status})
	require.NoError(f.t, err)
	require.Equal(f.t, int64(1), rows)
}

func (f *fixture) transfer(id uuid.UUID) models.TransferRecord {
	f.t.Helper()
	rec, err := f.store.Queries().GetTransfer(f.ctx, id)
	require.NoError(f.t, err)
	return rec
}

func toAccount(t *testing.T, from uuid.UUID, number string, amount int64, currency string) models.TransferRequest {
	t.Helper()
	req, err := models.NewTransferRequestBuilder().From(from).ToAccount(number).Amount(amount, currency).Build()
	require.NoError(t, err)
	return req
}

func toBeneficiary(t *testing.T, from, beneficiary uuid.UUID, amount int64, currency string) models.TransferRequest {
	t.Helper()
	req, err := models.NewTransferRequestBuilder().From(from).ToBeneficiary(beneficiary).Amount(amount, currency).Build()
	require.NoError(t, err)
	return req
}

func requireCode(t *testing.T, err error, want *domain.Error) {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, want, "got %v", err)
}
