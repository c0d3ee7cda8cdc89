package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/transfer-core/internal/observability"
	"github.com/ayo6706/transfer-core/internal/service"
	"go.uber.org/zap"
)

// SettlementWorker forwards pending external settlements to the gateway.
// Concurrent instances are safe because claims skip locked rows.
type SettlementWorker struct {
	settlements  *service.SettlementService
	pollInterval time.Duration
	batchSize    int32
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// NewSettlementWorker creates a worker polling every 10 seconds in batches of 10.
func NewSettlementWorker(settlements *service.SettlementService) *SettlementWorker {
	return &SettlementWorker{
		settlements:  settlements,
		pollInterval: 10 * time.Second,
		batchSize:    10,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets the poll interval for the worker.
func (w *SettlementWorker) WithPollInterval(interval time.Duration) *SettlementWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize sets the batch size for the worker.
func (w *SettlementWorker) WithBatchSize(size int32) *SettlementWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks until Stop is called or the context is canceled.
func (w *SettlementWorker) Start(ctx context.Context) {
	zap.L().Info("settlement worker starting", zap.Duration("poll_interval", w.pollInterval), zap.Int32("batch_size", w.batchSize))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("settlement worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("settlement worker stop signal received")
			return
		case <-ticker.C:
			if err := w.ProcessOnce(ctx); err != nil {
				zap.L().Error("settlement batch failed", zap.Error(err))
			}
		}
	}
}

// Stop signals the worker to stop.
func (w *SettlementWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// ProcessOnce processes a single batch immediately.
func (w *SettlementWorker) ProcessOnce(ctx context.Context) error {
	if err := w.settlements.ProcessSettlements(ctx, w.batchSize); err != nil {
		observability.IncrementWorkerRun("settlements", "failed")
		return err
	}
	observability.IncrementWorkerRun("settlements", "success")
	return nil
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *SettlementWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *SettlementWorker) String() string {
	return fmt.Sprintf("SettlementWorker(interval=%v, batch=%d)", w.pollInterval, w.batchSize)
}
