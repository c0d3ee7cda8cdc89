package service

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/ayo6706/transfer-core/internal/domain"
	"github.com/ayo6706/transfer-core/internal/events"
	"github.com/ayo6706/transfer-core/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type approvalSetup struct {
	*fixture
	owner  uuid.UUID
	source models.Account
	dest   models.Account
}

func newApprovalSetup(t *testing.T) *approvalSetup {
	t.Helper()
	f := newFixture(t)
	owner := uuid.New()
	src, err := f.accounts.CreateAccount(f.ctx, admin(), CreateAccountInput{
		CustomerID: owner, Number: "CR-0001", HolderName: "Owner", Currency: "CRC", Balance: 20_000_000, DailyLimit: 50_000_000,
	})
	require.NoError(t, err)
	dst := f.openAccount(uuid.New(), "CR-0002", "CRC", 0)
	return &approvalSetup{fixture: f, owner: owner, source: *src, dest: dst}
}

// queue submits amount as the owner and expects it to be held for review.
func (s *approvalSetup) queue(amount int64, key string) models.TransferRecord {
	s.t.Helper()
	rec, err := s.transfers.Submit(s.ctx, customer(s.owner), toAccount(s.t, s.source.ID, "CR-0002", amount, "CRC"), key)
	require.NoError(s.t, err)
	require.Equal(s.t, domain.TransferStatusPendingApproval, rec.Status)
	return *rec
}

func TestApproveExecutesHeldTransfer(t *testing.T) {
	s := newApprovalSetup(t)
	rec := s.queue(1_500_000, "appr-1")
	reviewer := manager()

	approved, err := s.approvals.Approve(s.ctx, rec.ID, reviewer, "  verified by phone  ")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusExecuted, approved.Status)
	require.NotNil(t, approved.ApproverID)
	assert.Equal(t, reviewer.ID, *approved.ApproverID)
	require.NotNil(t, approved.ReviewNotes)
	assert.Equal(t, "verified by phone", *approved.ReviewNotes)
	require.NotNil(t, approved.SettlementRef)
	assert.Regexp(t, receiptRef, *approved.SettlementRef)

	src := s.account(s.source.ID)
	assert.Equal(t, int64(20_000_000-1_500_500), src.Balance)
	assert.Zero(t, src.Held)
	assert.Equal(t, int64(1_500_000), s.account(s.dest.ID).Balance)

	assert.Equal(t, []string{events.TransferPendingApproval, events.TransferApproved, events.TransferExecuted}, s.events.Types())

	size, err := s.approvals.QueueSize(s.ctx)
	require.NoError(t, err)
	assert.Zero(t, size)

	report, err := s.reconcile.Run(s.ctx)
	require.NoError(t, err)
	assert.True(t, report.Balanced())

	trail, err := NewAuditService(s.store).Trail(s.ctx, "transfer", rec.ID)
	require.NoError(t, err)
	var actions []string
	for _, entry := range trail {
		actions = append(actions, entry.Action)
	}
	assert.Contains(t, actions, "notes_added")
	assert.Contains(t, actions, "approved")
}

func TestApproveCheckOrder(t *testing.T) {
	s := newApprovalSetup(t)
	regular := s.queue(1_500_000, "order-regular")
	high := s.queue(6_000_000, "order-high")
	require.True(t, high.HighValue)
	done := s.queue(1_200_000, "order-done")
	_, err := s.approvals.Approve(s.ctx, done.ID, manager(), "")
	require.NoError(t, err)

	cases := []struct {
		name     string
		id       uuid.UUID
		reviewer models.Principal
		want     *domain.Error
	}{
		{name: "missing", id: uuid.New(), reviewer: manager(), want: domain.ErrTransferNotFound},
		{name: "customer_reviewer", id: regular.ID, reviewer: customer(uuid.New()), want: domain.ErrUnauthorized},
		{name: "already_executed", id: done.ID, reviewer: admin(), want: domain.ErrInvalidStateTransition},
		{name: "manager_on_high_value", id: high.ID, reviewer: manager(), want: domain.ErrInsufficientApprovalAuthority},
		{name: "self_approval", id: high.ID, reviewer: models.Principal{ID: s.owner, Role: domain.RoleAdmin}, want: domain.ErrSelfApproval},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.approvals.Approve(s.ctx, tc.id, tc.reviewer, "")
			requireCode(t, err, tc.want)

			_, err = s.approvals.Reject(s.ctx, tc.id, tc.reviewer, "does not look right")
			requireCode(t, err, tc.want)
		})
	}

	assert.Equal(t, domain.TransferStatusPendingApproval, s.transfer(regular.ID).Status)
	assert.Equal(t, domain.TransferStatusPendingApproval, s.transfer(high.ID).Status)

	approved, err := s.approvals.Approve(s.ctx, high.ID, admin(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusExecuted, approved.Status)
}

func TestApproveFailsWhenSourceBlocked(t *testing.T) {
	s := newApprovalSetup(t)
	rec := s.queue(1_500_000, "blocked-src")
	s.setAccountStatus(s.source.ID, domain.AccountStatusBlocked)

	_, err := s.approvals.Approve(s.ctx, rec.ID, manager(), "checked")
	requireCode(t, err, domain.ErrConcurrentModification)

	after := s.transfer(rec.ID)
	assert.Equal(t, domain.TransferStatusPendingApproval, after.Status)
	assert.Nil(t, after.ReviewNotes)
	assert.Equal(t, int64(1_500_500), s.account(s.source.ID).Held)
}

func TestRejectReleasesHold(t *testing.T) {
	s := newApprovalSetup(t)
	rec := s.queue(1_500_000, "reject-1")
	reviewer := manager()

	_, err := s.approvals.Reject(s.ctx, rec.ID, reviewer, "  too short ")
	requireCode(t, err, domain.ErrReasonTooShort)
	assert.Equal(t, domain.TransferStatusPendingApproval, s.transfer(rec.ID).Status)

	rejected, err := s.approvals.Reject(s.ctx, rec.ID, reviewer, "beneficiary not recognised")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "beneficiary not recognised", *rejected.RejectionReason)

	src := s.account(s.source.ID)
	assert.Equal(t, int64(20_000_000), src.Balance)
	assert.Zero(t, src.Held)
	assert.Zero(t, s.account(s.dest.ID).Balance)

	_, err = s.approvals.Approve(s.ctx, rec.ID, reviewer, "")
	requireCode(t, err, domain.ErrInvalidStateTransition)
	assert.Equal(t, events.TransferRejected, s.events.Types()[len(s.events.Types())-1])
}

func TestBlockRejectsAndBlocksSource(t *testing.T) {
	s := newApprovalSetup(t)
	rec := s.queue(6_000_000, "block-1")

	_, err := s.approvals.Block(s.ctx, rec.ID, manager(), "suspected account takeover")
	requireCode(t, err, domain.ErrUnauthorized)

	_, err = s.approvals.Block(s.ctx, rec.ID, admin(), "fraud")
	requireCode(t, err, domain.ErrReasonTooShort)

	blocked, err := s.approvals.Block(s.ctx, rec.ID, admin(), "suspected account takeover")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusRejected, blocked.Status)

	src := s.account(s.source.ID)
	assert.Equal(t, domain.AccountStatusBlocked, src.Status)
	assert.Zero(t, src.Held)

	_, err = s.transfers.Submit(s.ctx, customer(s.owner), toAccount(t, s.source.ID, "CR-0002", 1_000, "CRC"), "after-block")
	requireCode(t, err, domain.ErrAccountNotEligible)
}

func TestAddNotes(t *testing.T) {
	s := newApprovalSetup(t)
	rec := s.queue(1_500_000, "notes-1")

	_, err := s.approvals.AddNotes(s.ctx, rec.ID, manager(), "   ")
	requireCode(t, err, domain.ErrInvalidRequest)

	_, err = s.approvals.AddNotes(s.ctx, rec.ID, customer(s.owner), "let me through")
	requireCode(t, err, domain.ErrUnauthorized)

	noted, err := s.approvals.AddNotes(s.ctx, rec.ID, manager(), "called customer, waiting on callback")
	require.NoError(t, err)
	require.NotNil(t, noted.ReviewNotes)
	assert.Equal(t, "called customer, waiting on callback", *noted.ReviewNotes)
	assert.Equal(t, domain.TransferStatusPendingApproval, noted.Status)
}

func TestReviewQueues(t *testing.T) {
	s := newApprovalSetup(t)
	regular := s.queue(1_500_000, "queue-regular")
	high := s.queue(6_000_000, "queue-high")

	_, err := s.approvals.ListPending(s.ctx, customer(s.owner), 10, 0)
	requireCode(t, err, domain.ErrUnauthorized)

	pending, err := s.approvals.ListPending(s.ctx, manager(), 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, regular.ID, pending[0].ID)

	risky, err := s.approvals.ListHighRisk(s.ctx, manager(), 10, 0)
	require.NoError(t, err)
	require.Len(t, risky, 1)
	assert.Equal(t, high.ID, risky[0].ID)

	size, err := s.approvals.QueueSize(s.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)

	_, err = s.approvals.Reject(s.ctx, high.ID, admin(), "customer asked to cancel")
	require.NoError(t, err)

	risky, err = s.approvals.ListHighRisk(s.ctx, manager(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, risky)

	all, err := s.approvals.ListHighValue(s.ctx, admin(), 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.TransferStatusRejected, all[0].Status)
}

func TestExportCSV(t *testing.T) {
	s := newApprovalSetup(t)
	high := s.queue(6_000_000, "csv-high")
	s.queue(1_500_000, "csv-regular")

	var buf bytes.Buffer
	require.Error(t, s.approvals.ExportCSV(s.ctx, customer(s.owner), &buf))

	buf.Reset()
	require.NoError(t, s.approvals.ExportCSV(s.ctx, manager(), &buf))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, csvHeader, rows[0])

	row := rows[1]
	assert.Equal(t, high.ID.String(), row[0])
	assert.Equal(t, domain.TransferStatusPendingApproval, row[1])
	assert.Equal(t, "Holder CR-0002 (CR-0002)", row[5])
	assert.Equal(t, "60000.00", row[6])
	assert.Equal(t, "5.00", row[7])
	assert.Equal(t, "CRC", row[8])
	assert.Equal(t, string(domain.RoleAdmin), row[11])
}
