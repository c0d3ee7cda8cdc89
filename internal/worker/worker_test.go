package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ayo6706/transfer-core/internal/domain"
	"github.com/ayo6706/transfer-core/internal/gateway"
	"github.com/ayo6706/transfer-core/internal/models"
	"github.com/ayo6706/transfer-core/internal/policy"
	"github.com/ayo6706/transfer-core/internal/repository/memstore"
	"github.com/ayo6706/transfer-core/internal/service"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	ctx           context.Context
	clock         *clock
	store         *memstore.Store
	accounts      *service.AccountService
	beneficiaries *service.BeneficiaryService
	transfers     *service.TransferService
	scheduler     *service.SchedulingManager
	reconcile     *service.ReconciliationService
	opts          []service.Option
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)}
	store := memstore.New(memstore.WithClock(clk.Now))
	limits := policy.DefaultLimitPolicy()
	router := policy.NewApprovalRouter(limits)
	opts := []service.Option{
		service.WithClock(clk.Now),
		service.WithLocation(time.FixedZone("America/Costa_Rica", -6*60*60)),
	}
	validator := service.NewTransferValidator(store, limits, policy.NewFeeCalculator(limits), router, "BCR", opts...)
	executor := service.NewTransferExecutor(store, validator, opts...)
	approvals := service.NewApprovalWorkflow(store, executor, router, opts...)
	scheduler := service.NewSchedulingManager(store, validator, executor, time.Hour, opts...)
	return &harness{
		ctx:           context.Background(),
		clock:         clk,
		store:         store,
		accounts:      service.NewAccountService(store, limits),
		beneficiaries: service.NewBeneficiaryService(store, limits),
		transfers:     service.NewTransferService(store, validator, executor, approvals, scheduler),
		scheduler:     scheduler,
		reconcile:     service.NewReconciliationService(store),
		opts:          opts,
	}
}

var admin = models.Principal{ID: uuid.New(), Role: domain.RoleAdmin}

func (h *harness) open(t *testing.T, owner uuid.UUID, number, currency string, balance int64) models.Account {
	t.Helper()
	acc, err := h.accounts.CreateAccount(h.ctx, admin, service.CreateAccountInput{
		CustomerID: owner,
		Number:     number,
		HolderName: "Holder " + number,
		Currency:   currency,
		Balance:    balance,
	})
	require.NoError(t, err)
	return *acc
}

func newLocks(t *testing.T) *redsync.Redsync {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redsync.New(goredis.NewPool(client))
}

func (h *harness) scheduleTransfer(t *testing.T) models.TransferRecord {
	t.Helper()
	alice := uuid.New()
	src := h.open(t, alice, "CR-0001", "CRC", 10_000)
	h.open(t, uuid.New(), "CR-0002", "CRC", 0)

	// 2026-03-11 08:00 in the business timezone.
	at := time.Date(2026, 3, 11, 14, 0, 0, 0, time.UTC)
	req, err := models.NewTransferRequestBuilder().From(src.ID).ToAccount("CR-0002").Amount(1_500, "CRC").ScheduleAt(at).Build()
	require.NoError(t, err)
	rec, err := h.transfers.Submit(h.ctx, models.Principal{ID: alice, Role: domain.RoleCustomer}, req, uuid.NewString())
	require.NoError(t, err)
	require.Equal(t, domain.TransferStatusScheduled, rec.Status)
	return *rec
}

func TestScheduledTransferWorkerRunsDueJobs(t *testing.T) {
	h := newHarness(t)
	rec := h.scheduleTransfer(t)
	w := NewScheduledTransferWorker(h.scheduler, newLocks(t)).WithBatchSize(5)

	summary, ran, err := w.RunOnce(h.ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, service.RunSummary{}, summary)

	h.clock.Advance(24 * time.Hour)
	summary, ran, err = w.RunOnce(h.ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, summary.Executed)

	got, err := h.store.Queries().GetTransfer(h.ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusExecuted, got.Status)
}

func TestScheduledTransferWorkerSkipsWhenLockHeld(t *testing.T) {
	h := newHarness(t)
	h.scheduleTransfer(t)
	h.clock.Advance(24 * time.Hour)
	locks := newLocks(t)
	w := NewScheduledTransferWorker(h.scheduler, locks)

	other := locks.NewMutex(scheduledTransferLock, redsync.WithExpiry(time.Minute))
	require.NoError(t, other.Lock())

	summary, ran, err := w.RunOnce(h.ctx)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Zero(t, summary.Executed)

	ok, err := other.Unlock()
	require.NoError(t, err)
	require.True(t, ok)

	summary, ran, err = w.RunOnce(h.ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, summary.Executed)
}

func TestIsLockContention(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "failed", err: redsync.ErrFailed, want: true},
		{name: "taken", err: &redsync.ErrTaken{Nodes: []int{0}}, want: true},
		{name: "wrapped_taken", err: fmt.Errorf("acquire: %w", &redsync.ErrTaken{Nodes: []int{0, 1}}), want: true},
		{name: "redis_down", err: errors.New("dial tcp 127.0.0.1:6379: connection refused")},
		{name: "node_error", err: &redsync.RedisError{Node: 0, Err: errors.New("i/o timeout")}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isLockContention(tc.err))
		})
	}
}

func TestScheduledTransferWorkerWithoutLocks(t *testing.T) {
	h := newHarness(t)
	h.scheduleTransfer(t)
	h.clock.Advance(24 * time.Hour)

	summary, ran, err := NewScheduledTransferWorker(h.scheduler, nil).RunOnce(h.ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, summary.Executed)
}

func TestScheduledTransferWorkerStartValidatesSpec(t *testing.T) {
	h := newHarness(t)
	w := NewScheduledTransferWorker(h.scheduler, nil).WithSpec("every now and then")
	require.Error(t, w.Start(h.ctx))

	w = NewScheduledTransferWorker(h.scheduler, nil).WithSpec("@every 1h")
	require.NoError(t, w.Start(h.ctx))
	require.Error(t, w.Start(h.ctx))
	<-w.Stop().Done()
}

func TestSettlementWorkerProcessOnce(t *testing.T) {
	h := newHarness(t)
	alice := uuid.New()
	src := h.open(t, alice, "US-0001", "USD", 10_000)
	ben, err := h.beneficiaries.Register(h.ctx, models.Principal{ID: alice, Role: domain.RoleCustomer}, service.RegisterBeneficiaryInput{
		Alias:         "landlord",
		AccountNumber: "US-9",
		BankCode:      "BAC",
		Currency:      "USD",
		HolderName:    "Landlord",
	})
	require.NoError(t, err)
	_, err = h.beneficiaries.Confirm(h.ctx, admin, ben.ID)
	require.NoError(t, err)

	req, err := models.NewTransferRequestBuilder().From(src.ID).ToBeneficiary(ben.ID).Amount(1_000, "USD").Build()
	require.NoError(t, err)
	_, err = h.transfers.Submit(h.ctx, models.Principal{ID: alice, Role: domain.RoleCustomer}, req, uuid.NewString())
	require.NoError(t, err)

	pending, err := h.store.Queries().GetPendingSettlements(h.ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	gw := &gateway.MockGateway{FailureRate: 0}
	settlements := service.NewSettlementService(h.store, gw, h.opts...)
	w := NewSettlementWorker(settlements).WithBatchSize(5).WithPollInterval(time.Second)
	require.NoError(t, w.ProcessOnce(h.ctx))

	got, err := settlements.GetSettlement(h.ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusCompleted, got.Status)
	require.NotNil(t, got.GatewayRef)
	assert.Contains(t, *got.GatewayRef, "MOCK-")
}

func TestReconciliationWorkerRunOnce(t *testing.T) {
	h := newHarness(t)
	h.open(t, uuid.New(), "CR-0001", "CRC", 10_000)

	report, ran, err := NewReconciliationWorker(h.reconcile, nil).WithInterval(time.Hour).RunOnce(h.ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.True(t, report.Balanced())
}

func TestReconciliationWorkerSkipsWhenLocked(t *testing.T) {
	h := newHarness(t)
	locks := newLocks(t)

	other := locks.NewMutex(reconciliationLock, redsync.WithExpiry(time.Minute))
	require.NoError(t, other.LockContext(h.ctx))
	t.Cleanup(func() { _, _ = other.UnlockContext(context.Background()) })

	_, ran, err := NewReconciliationWorker(h.reconcile, locks).RunOnce(h.ctx)
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestReconciliationWorkerStopWaitsForLoop(t *testing.T) {
	h := newHarness(t)
	stop := NewReconciliationWorker(h.reconcile, nil).WithInterval(time.Hour).Run(h.ctx)

	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}
}
