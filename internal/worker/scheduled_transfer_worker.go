package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/transfer-core/internal/observability"
	"github.com/ayo6706/transfer-core/internal/service"
	"github.com/go-redsync/redsync/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const scheduledTransferLock = "lock:worker:scheduled-transfers"

// ScheduledTransferWorker executes due scheduled transfers on a cron schedule.
// When a redsync instance is configured only one replica runs a given tick.
type ScheduledTransferWorker struct {
	manager *service.SchedulingManager
	locks   *redsync.Redsync
	spec    string
	batch   int
	lockTTL time.Duration

	mu   sync.Mutex
	cron *cron.Cron
}

// NewScheduledTransferWorker builds a worker that ticks every 30 seconds by default.
// locks may be nil for single-instance deployments.
func NewScheduledTransferWorker(manager *service.SchedulingManager, locks *redsync.Redsync) *ScheduledTransferWorker {
	return &ScheduledTransferWorker{
		manager: manager,
		locks:   locks,
		spec:    "@every 30s",
		batch:   50,
		lockTTL: 2 * time.Minute,
	}
}

// WithSpec sets the cron expression.
func (w *ScheduledTransferWorker) WithSpec(spec string) *ScheduledTransferWorker {
	if strings.TrimSpace(spec) != "" {
		w.spec = spec
	}
	return w
}

// WithBatchSize caps how many jobs one tick may run.
func (w *ScheduledTransferWorker) WithBatchSize(size int) *ScheduledTransferWorker {
	if size > 0 {
		w.batch = size
	}
	return w
}

// Start registers the tick with cron and starts it. The context bounds every run.
func (w *ScheduledTransferWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return errors.New("scheduled transfer worker already started")
	}

	logger := cron.PrintfLogger(zap.NewStdLog(zap.L()))
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(w.spec, func() { w.tick(ctx) }); err != nil {
		return fmt.Errorf("register scheduled transfer job %q: %w", w.spec, err)
	}
	c.Start()
	w.cron = c
	zap.L().Info("scheduled transfer worker starting", zap.String("spec", w.spec), zap.Int("batch", w.batch))
	return nil
}

// Stop halts the cron loop and returns a context that completes when running jobs finish.
func (w *ScheduledTransferWorker) Stop() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	done := w.cron.Stop()
	w.cron = nil
	return done
}

func (w *ScheduledTransferWorker) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, _, err := w.RunOnce(ctx); err != nil {
		zap.L().Error("scheduled transfer run failed", zap.Error(err))
	}
}

// RunOnce runs one pass. ran is false when another instance holds the lock.
func (w *ScheduledTransferWorker) RunOnce(ctx context.Context) (summary service.RunSummary, ran bool, err error) {
	release, acquired, err := acquire(ctx, w.locks, scheduledTransferLock, w.lockTTL)
	if err != nil {
		observability.IncrementWorkerRun("scheduled_transfers", "failed")
		return summary, false, err
	}
	if !acquired {
		observability.IncrementWorkerRun("scheduled_transfers", "skipped")
		return summary, false, nil
	}
	defer release()

	summary, err = w.manager.RunDue(ctx, w.batch)
	if err != nil {
		observability.IncrementWorkerRun("scheduled_transfers", "failed")
		return summary, true, err
	}
	observability.IncrementWorkerRun("scheduled_transfers", "success")
	if summary.Executed > 0 || summary.Failed > 0 {
		zap.L().Info("scheduled transfers processed", zap.Int("executed", summary.Executed), zap.Int("failed", summary.Failed))
	}
	return summary, true, nil
}
