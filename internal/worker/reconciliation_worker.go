package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/transfer-core/internal/observability"
	"github.com/ayo6706/transfer-core/internal/service"
	"github.com/go-redsync/redsync/v4"
	"go.uber.org/zap"
)

const reconciliationLock = "lock:worker:reconciliation"

// ReconciliationWorker checks that the ledger nets to zero and that cached balances match
// their entries. A pass runs at startup and then once per interval.
type ReconciliationWorker struct {
	svc      *service.ReconciliationService
	locks    *redsync.Redsync
	interval time.Duration

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewReconciliationWorker runs daily unless WithInterval says otherwise. locks may be nil.
func NewReconciliationWorker(svc *service.ReconciliationService, locks *redsync.Redsync) *ReconciliationWorker {
	return &ReconciliationWorker{
		svc:      svc,
		locks:    locks,
		interval: 24 * time.Hour,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Run starts the loop in the background. The returned func stops it and waits for an
// in-flight pass to return.
func (w *ReconciliationWorker) Run(ctx context.Context) func() {
	go w.loop(ctx)
	return func() {
		w.once.Do(func() { close(w.stop) })
		<-w.done
	}
}

func (w *ReconciliationWorker) loop(ctx context.Context) {
	defer close(w.done)
	log := zap.L().With(zap.String("worker", "reconciliation"))
	log.Info("worker starting", zap.Duration("interval", w.interval))

	next := time.NewTimer(0)
	defer next.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			log.Info("worker stopped")
			return
		case <-next.C:
			if _, _, err := w.RunOnce(ctx); err != nil {
				log.Error("reconciliation run failed", zap.Error(err))
			}
			next.Reset(w.interval)
		}
	}
}

// RunOnce performs one pass. ran is false when another replica holds the lock.
func (w *ReconciliationWorker) RunOnce(ctx context.Context) (report service.ReconciliationReport, ran bool, err error) {
	release, acquired, err := acquire(ctx, w.locks, reconciliationLock, time.Hour)
	if err != nil {
		observability.IncrementWorkerRun("reconciliation", "failed")
		return report, false, err
	}
	if !acquired {
		observability.IncrementWorkerRun("reconciliation", "skipped")
		return report, false, nil
	}
	defer release()

	report, err = w.svc.Run(ctx)
	switch {
	case err != nil:
		observability.IncrementWorkerRun("reconciliation", "failed")
		return report, true, err
	case report.Balanced():
		observability.IncrementWorkerRun("reconciliation", "success")
	default:
		observability.IncrementWorkerRun("reconciliation", "unbalanced")
		zap.L().Error("ledger out of balance",
			zap.Int64("net", report.Net),
			zap.Int("currency_imbalances", len(report.Imbalances)),
			zap.Int("account_drift", len(report.Drift)),
		)
	}
	return report, true, nil
}
