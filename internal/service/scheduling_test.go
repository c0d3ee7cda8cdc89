package service

import (
	"testing"
	"time"

	"github.com/ayo6706/transfer-core/internal/domain"
	"github.com/ayo6706/transfer-core/internal/events"
	"github.com/ayo6706/transfer-core/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tomorrowStart is 2026-03-11 00:00 in the business timezone.
var tomorrowStart = time.Date(2026, 3, 11, 6, 0, 0, 0, time.UTC)

func scheduledTo(t *testing.T, from uuid.UUID, number string, amount int64, at time.Time) models.TransferRequest {
	t.Helper()
	req, err := models.NewTransferRequestBuilder().
		From(from).
		ToAccount(number).
		Amount(amount, "CRC").
		ScheduleAt(at).
		Build()
	require.NoError(t, err)
	return req
}

func TestScheduleCutoff(t *testing.T) {
	f := newFixture(t)
	alice := uuid.New()
	src := f.openAccount(alice, "CR-0001", "CRC", 10_000)
	f.openAccount(uuid.New(), "CR-0002", "CRC", 0)

	cases := []struct {
		name string
		at   time.Time
		want *domain.Error
	}{
		{name: "today", at: f.clock.Now().Add(2 * time.Hour), want: domain.ErrInvalidScheduleDate},
		{name: "past", at: f.clock.Now().Add(-time.Hour), want: domain.ErrInvalidScheduleDate},
		{name: "tomorrow_midnight", at: tomorrowStart, want: domain.ErrInvalidScheduleDate},
		{name: "just_after_midnight", at: tomorrowStart.Add(time.Second)},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			rec, err := f.transfers.Submit(f.ctx, customer(alice), scheduledTo(t, src.ID, "CR-0002", 1_000, tc.at), "cutoff-"+tc.name)
			if tc.want != nil {
				requireCode(t, err, tc.want)
				assert.Nil(t, rec)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.TransferStatusScheduled, rec.Status)
		})
	}
}

func TestScheduleCreatesPendingJob(t *testing.T) {
	f := newFixture(t)
	alice := uuid.New()
	src := f.openAccount(alice, "CR-0001", "CRC", 10_000)
	f.openAccount(uuid.New(), "CR-0002", "CRC", 0)
	due := time.Date(2026, 3, 12, 16, 0, 0, 0, time.UTC)

	req := scheduledTo(t, src.ID, "CR-0002", 2_000, due)
	rec, err := f.transfers.Submit(f.ctx, customer(alice), req, "sched-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusScheduled, rec.Status)
	assert.Equal(t, int64(500), rec.Fee)
	require.NotNil(t, rec.ScheduledAt)
	assert.True(t, due.Equal(*rec.ScheduledAt))
	assert.Nil(t, rec.SettlementRef)

	job, err := f.store.Queries().GetScheduledJobByTransfer(f.ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.True(t, due.Equal(job.DueAt))
	assert.True(t, due.Add(-time.Hour).Equal(job.CancellationDeadline))

	// Nothing moves until the job runs.
	acc := f.account(src.ID)
	assert.Equal(t, int64(10_000), acc.Balance)
	assert.Zero(t, acc.Held)

	again, err := f.transfers.Submit(f.ctx, customer(alice), req, "sched-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID)

	mine, err := f.scheduler.ListMine(f.ctx, customer(alice))
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, rec.ID, mine[0].Transfer.ID)
	assert.True(t, mine[0].Cancellable)

	f.clock.Advance(due.Sub(f.clock.Now()) - 30*time.Minute)
	mine, err = f.scheduler.ListMine(f.ctx, customer(alice))
	require.NoError(t, err)
	assert.False(t, mine[0].Cancellable)

	assert.Equal(t, []string{events.TransferScheduled}, f.events.Types())
}

func TestScheduleRequiresAutoExecutableAmount(t *testing.T) {
	f := newFixture(t)
	alice := uuid.New()
	src := f.openAccount(alice, "CR-0001", "CRC", 3_000_000)
	f.openAccount(uuid.New(), "CR-0002", "CRC", 0)

	_, err := f.transfers.Submit(f.ctx, customer(alice), scheduledTo(t, src.ID, "CR-0002", 1_500_000, tomorrowStart.Add(time.Hour)), "sched-big")
	requireCode(t, err, domain.ErrApprovalRequired)

	_, err = f.transfers.Submit(f.ctx, customer(alice), scheduledTo(t, src.ID, "CR-0404", 1_000, tomorrowStart.Add(time.Hour)), "sched-unknown")
	requireCode(t, err, domain.ErrDestinationUnresolved)
}

func TestScheduleDefersFundsCheck(t *testing.T) {
	f := newFixture(t)
	alice := uuid.New()
	src := f.openAccount(alice, "CR-0001", "CRC", 1_000)
	f.openAccount(uuid.New(), "CR-0002", "CRC", 0)

	req := scheduledTo(t, src.ID, "CR-0002", 50_000, tomorrowStart.Add(time.Hour))

	quote, err := f.transfers.PreCheck(f.ctx, customer(alice), req)
	require.NoError(t, err)
	assert.True(t, quote.Valid, quote.Reason)

	rec, err := f.transfers.Submit(f.ctx, customer(alice), req, "deferred-1")
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	summary, err := f.scheduler.RunDue(f.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, RunSummary{Failed: 1}, summary)

	failed := f.transfer(rec.ID)
	assert.Equal(t, domain.TransferStatusFailed, failed.Status)
	require.NotNil(t, failed.FailureReason)
	assert.Contains(t, *failed.FailureReason, "below the required")

	job, err := f.store.Queries().GetScheduledJobByTransfer(f.ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	require.NotNil(t, job.LastError)

	assert.Equal(t, int64(1_000), f.account(src.ID).Balance)

	// Failed jobs are not retried.
	summary, err = f.scheduler.RunDue(f.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, RunSummary{}, summary)

	assert.Equal(t, []string{events.TransferScheduled, events.TransferScheduleFailed}, f.events.Types())
}

func TestPreCheckAppliesScheduleRules(t *testing.T) {
	f := newFixture(t)
	alice := uuid.New()
	src := f.openAccount(alice, "CR-0001", "CRC", 3_000_000)
	f.openAccount(uuid.New(), "CR-0002", "CRC", 0)

	cases := []struct {
		name   string
		amount int64
		at     time.Time
		want   *domain.Error
	}{
		{name: "same_day", amount: 1_000, at: f.clock.Now().Add(time.Hour), want: domain.ErrInvalidScheduleDate},
		{name: "above_ceiling", amount: 1_500_000, at: tomorrowStart.Add(time.Hour), want: domain.ErrApprovalRequired},
		{name: "valid", amount: 1_000, at: tomorrowStart.Add(time.Hour)},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			req := scheduledTo(t, src.ID, "CR-0002", tc.amount, tc.at)

			quote, err := f.transfers.PreCheck(f.ctx, customer(alice), req)
			require.NoError(t, err)

			_, submitErr := f.transfers.Submit(f.ctx, customer(alice), req, "precheck-"+tc.name)
			if tc.want == nil {
				assert.True(t, quote.Valid, quote.Reason)
				require.NoError(t, submitErr)
				return
			}
			assert.False(t, quote.Valid)
			assert.Equal(t, tc.want.Code, quote.Code)
			requireCode(t, submitErr, tc.want)
		})
	}
}

func TestRunDueExecutesOnlyDueJobs(t *testing.T) {
	f := newFixture(t)
	alice := uuid.New()
	src := f.openAccount(alice, "CR-0001", "CRC", 10_000)
	dst := f.openAccount(uuid.New(), "CR-0002", "CRC", 0)

	early, err := f.transfers.Submit(f.ctx, customer(alice), scheduledTo(t, src.ID, "CR-0002", 1_000, time.Date(2026, 3, 12, 16, 0, 0, 0, time.UTC)), "run-early")
	require.NoError(t, err)
	late, err := f.transfers.Submit(f.ctx, customer(alice), scheduledTo(t, src.ID, "CR-0002", 2_000, time.Date(2026, 3, 20, 16, 0, 0, 0, time.UTC)), "run-late")
	require.NoError(t, err)

	summary, err := f.scheduler.RunDue(f.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, RunSummary{}, summary)

	f.clock.Advance(2*24*time.Hour + time.Hour)
	summary, err = f.scheduler.RunDue(f.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, RunSummary{Executed: 1}, summary)

	executed := f.transfer(early.ID)
	assert.Equal(t, domain.TransferStatusExecuted, executed.Status)
	require.NotNil(t, executed.SettlementRef)
	assert.Regexp(t, `^TRF-20260312-[0-9A-F]{8}$`, *executed.SettlementRef)
	assert.Equal(t, domain.TransferStatusScheduled, f.transfer(late.ID).Status)

	assert.Equal(t, int64(8_500), f.account(src.ID).Balance)
	assert.Equal(t, int64(1_000), f.account(dst.ID).Balance)

	job, err := f.store.Queries().GetScheduledJobByTransfer(f.ctx, early.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusExecuted, job.Status)

	assert.Equal(t, []string{events.TransferScheduled, events.TransferScheduled, events.TransferExecuted}, f.events.Types())

	report, err := f.reconcile.Run(f.ctx)
	require.NoError(t, err)
	assert.True(t, report.Balanced())
}

func TestCancelScheduled(t *testing.T) {
	f := newFixture(t)
	alice := uuid.New()
	src := f.openAccount(alice, "CR-0001", "CRC", 10_000)
	f.openAccount(uuid.New(), "CR-0002", "CRC", 0)
	due := time.Date(2026, 3, 12, 16, 0, 0, 0, time.UTC)

	schedule := func(key string) models.TransferRecord {
		rec, err := f.transfers.Submit(f.ctx, customer(alice), scheduledTo(t, src.ID, "CR-0002", 1_000, due), key)
		require.NoError(t, err)
		return *rec
	}

	t.Run("initiator", func(t *testing.T) {
		rec := schedule("cancel-own")
		cancelled, err := f.scheduler.Cancel(f.ctx, customer(alice), rec.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TransferStatusCancelled, cancelled.Status)

		job, err := f.store.Queries().GetScheduledJobByTransfer(f.ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCancelled, job.Status)

		_, err = f.scheduler.Cancel(f.ctx, customer(alice), rec.ID)
		requireCode(t, err, domain.ErrInvalidStateTransition)
	})

	t.Run("stranger", func(t *testing.T) {
		rec := schedule("cancel-stranger")
		_, err := f.scheduler.Cancel(f.ctx, customer(uuid.New()), rec.ID)
		requireCode(t, err, domain.ErrUnauthorized)

		_, err = f.scheduler.Cancel(f.ctx, manager(), rec.ID)
		requireCode(t, err, domain.ErrUnauthorized)

		_, err = f.scheduler.Cancel(f.ctx, admin(), rec.ID)
		require.NoError(t, err)
	})

	t.Run("not_scheduled", func(t *testing.T) {
		rec, err := f.transfers.Submit(f.ctx, customer(alice), toAccount(t, src.ID, "CR-0002", 1_000, "CRC"), "cancel-immediate")
		require.NoError(t, err)
		_, err = f.scheduler.Cancel(f.ctx, customer(alice), rec.ID)
		requireCode(t, err, domain.ErrScheduledJobNotFound)

		_, err = f.scheduler.Cancel(f.ctx, customer(alice), uuid.New())
		requireCode(t, err, domain.ErrTransferNotFound)
	})

	t.Run("window_closed", func(t *testing.T) {
		rec := schedule("cancel-late")
		f.clock.Advance(due.Add(-time.Hour).Sub(f.clock.Now()))

		_, err := f.scheduler.Cancel(f.ctx, customer(alice), rec.ID)
		requireCode(t, err, domain.ErrCancellationWindowClosed)
		assert.Equal(t, domain.TransferStatusScheduled, f.transfer(rec.ID).Status)
	})
}
