package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ayo6706/transfer-core/internal/domain"
	"github.com/ayo6706/transfer-core/internal/gateway"
	"github.com/ayo6706/transfer-core/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGateway struct {
	mu    sync.Mutex
	err   error
	ref   string
	sent  []string
	calls int
}

func (g *stubGateway) SendSettlement(_ context.Context, destination string, _ int64, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	g.sent = append(g.sent, destination)
	return g.ref, nil
}

// externalTransfer executes a USD transfer to a beneficiary at another bank and returns
// the settlement it queued.
func externalTransfer(t *testing.T, f *fixture) (models.TransferRecord, models.Settlement) {
	t.Helper()
	alice := uuid.New()
	src := f.openAccount(alice, "US-0001", "USD", 10_000)
	ben := f.confirmedBeneficiary(alice, "US-9", "BAC", "USD")

	rec, err := f.transfers.Submit(f.ctx, customer(alice), toBeneficiary(t, src.ID, ben.ID, 1_000, "USD"), uuid.NewString())
	require.NoError(t, err)
	require.Equal(t, domain.TransferStatusExecuted, rec.Status)
	require.Equal(t, domain.TransferKindExternal, rec.Kind)

	pending, err := f.store.Queries().GetPendingSettlements(f.ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	return *rec, pending[0]
}

func TestExternalTransferParksFundsInClearing(t *testing.T) {
	f := newFixture(t)
	rec, settlement := externalTransfer(t, f)

	assert.Equal(t, rec.ID, settlement.TransferID)
	assert.Equal(t, int64(1_000), settlement.Amount)
	assert.Equal(t, "USD", settlement.Currency)
	assert.Equal(t, "Beneficiary US-9 (BAC:US-9)", settlement.Destination)
	assert.Equal(t, domain.SettlementStatusPending, settlement.Status)

	assert.Equal(t, int64(1_000), f.account(uuid.MustParse(domain.ClearingAccountUSD)).Balance)
	assert.Equal(t, int64(1), f.account(uuid.MustParse(domain.FeeAccountUSD)).Balance)
	assert.Equal(t, int64(8_999), f.account(rec.SourceAccountID).Balance)
}

func TestProcessSettlementsCompletes(t *testing.T) {
	f := newFixture(t)
	_, settlement := externalTransfer(t, f)
	gw := &stubGateway{ref: "GW-0001"}
	svc := NewSettlementService(f.store, gw, WithClock(f.clock.Now))

	require.NoError(t, svc.ProcessSettlements(f.ctx, 10))

	got, err := svc.GetSettlement(f.ctx, settlement.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusCompleted, got.Status)
	require.NotNil(t, got.GatewayRef)
	assert.Equal(t, "GW-0001", *got.GatewayRef)
	assert.Equal(t, []string{"Beneficiary US-9 (BAC:US-9)"}, gw.sent)

	// Nothing left to send.
	require.NoError(t, svc.ProcessSettlements(f.ctx, 10))
	assert.Equal(t, 1, gw.calls)
}

func TestProcessSettlementsManualReview(t *testing.T) {
	f := newFixture(t)
	_, settlement := externalTransfer(t, f)
	gw := &stubGateway{err: errors.New("destination account closed")}
	svc := NewSettlementService(f.store, gw, WithClock(f.clock.Now))

	require.NoError(t, svc.ProcessSettlements(f.ctx, 10))

	got, err := svc.GetSettlement(f.ctx, settlement.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusManualReview, got.Status)

	size, err := svc.ManualReviewQueueSize(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	queue, err := svc.ListManualReview(f.ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, settlement.ID, queue[0].ID)

	actor := uuid.New()
	_, err = svc.ResolveManualReviewSettlement(f.ctx, ResolveManualReviewRequest{
		SettlementID: settlement.ID, Decision: "retry", Reason: "operator", ActorID: &actor,
	})
	assert.ErrorIs(t, err, ErrInvalidManualReviewDecision)

	_, err = svc.ResolveManualReviewSettlement(f.ctx, ResolveManualReviewRequest{
		SettlementID: uuid.New(), Decision: DecisionRequeue, ActorID: &actor,
	})
	assert.ErrorIs(t, err, ErrSettlementNotFound)

	ref := " BAC-778 "
	resolved, err := svc.ResolveManualReviewSettlement(f.ctx, ResolveManualReviewRequest{
		SettlementID: settlement.ID, Decision: " Confirm_Sent ", Reason: "confirmed with BAC", ActorID: &actor, GatewayRef: &ref,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusCompleted, resolved.Status)
	require.NotNil(t, resolved.GatewayRef)
	assert.Equal(t, "BAC-778", *resolved.GatewayRef)

	_, err = svc.ResolveManualReviewSettlement(f.ctx, ResolveManualReviewRequest{
		SettlementID: settlement.ID, Decision: DecisionRequeue, ActorID: &actor,
	})
	assert.ErrorIs(t, err, ErrSettlementNotInManualReview)

	trail, err := NewAuditService(f.store).Trail(f.ctx, "settlement", settlement.ID)
	require.NoError(t, err)
	require.NotEmpty(t, trail)
	assert.Equal(t, "manual_review_confirmed", trail[len(trail)-1].Action)
}

func TestManualReviewRequeue(t *testing.T) {
	f := newFixture(t)
	_, settlement := externalTransfer(t, f)
	gw := &stubGateway{err: errors.New("timeout waiting for ack")}
	svc := NewSettlementService(f.store, gw, WithClock(f.clock.Now))

	require.NoError(t, svc.ProcessSettlements(f.ctx, 10))

	requeued, err := svc.ResolveManualReviewSettlement(f.ctx, ResolveManualReviewRequest{
		SettlementID: settlement.ID, Decision: DecisionRequeue, Reason: "gateway recovered",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusPending, requeued.Status)

	gw.err = nil
	gw.ref = "GW-0002"
	require.NoError(t, svc.ProcessSettlements(f.ctx, 10))

	got, err := svc.GetSettlement(f.ctx, settlement.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusCompleted, got.Status)
}

func TestProcessSettlementsRequeuesWhenGatewayUnavailable(t *testing.T) {
	f := newFixture(t)
	_, settlement := externalTransfer(t, f)
	gw := &stubGateway{err: gateway.ErrUnavailable}
	svc := NewSettlementService(f.store, gw, WithClock(f.clock.Now))

	require.NoError(t, svc.ProcessSettlements(f.ctx, 10))

	got, err := svc.GetSettlement(f.ctx, settlement.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusPending, got.Status)
	assert.Nil(t, got.GatewayRef)
}

func TestProcessSettlementsStopsOnCancelledContext(t *testing.T) {
	f := newFixture(t)
	_, settlement := externalTransfer(t, f)
	gw := &stubGateway{ref: "GW-0003"}
	svc := NewSettlementService(f.store, gw, WithClock(f.clock.Now))

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()
	err := svc.ProcessSettlements(ctx, 10)
	require.Error(t, err)

	got, err := svc.GetSettlement(f.ctx, settlement.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusPending, got.Status)
	assert.Zero(t, gw.calls)
}
