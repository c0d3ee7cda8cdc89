// Package observability owns the process-wide Prometheus collectors. Every recorder is a
// no-op until Init runs, so packages can be tested without a registry.
package observability

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "transfer_core"

type collectors struct {
	httpDuration     *prometheus.HistogramVec
	ledgerImbalance  *prometheus.CounterVec
	accountDrift     *prometheus.CounterVec
	idempotency      *prometheus.CounterVec
	transferOutcomes *prometheus.CounterVec
	approvalQueue    prometheus.Gauge
	approvalDecision *prometheus.CounterVec
	scheduledRuns    *prometheus.CounterVec
	reviewQueue      prometheus.Gauge
	reviewActions    *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
	workerRuns       *prometheus.CounterVec
}

var (
	initOnce sync.Once
	active   atomic.Pointer[collectors]
)

func counter(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
}

func gauge(subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	})
}

// Init registers the collectors with the default registry. Later calls do nothing.
func Init() {
	initOnce.Do(func() {
		c := &collectors{
			httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route.",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			}, []string{"method", "path", "status"}),
			ledgerImbalance:  counter("ledger", "imbalance_total", "Reconciliation passes where a currency did not net to zero.", "currency"),
			accountDrift:     counter("ledger", "account_drift_total", "Accounts whose balance differs from opening balance plus entries.", "currency"),
			idempotency:      counter("idempotency", "events_total", "Idempotency middleware outcomes.", "outcome"),
			transferOutcomes: counter("transfer", "outcomes_total", "Transfer submissions by path and resulting status or error code.", "path", "outcome"),
			approvalQueue:    gauge("transfer", "approval_queue_size", "Transfers waiting for approval."),
			approvalDecision: counter("transfer", "approval_decisions_total", "Approval workflow decisions.", "decision"),
			scheduledRuns:    counter("transfer", "scheduled_runs_total", "Scheduled transfer executions.", "result"),
			reviewQueue:      gauge("settlement", "manual_review_queue_size", "Settlements waiting in manual review."),
			reviewActions:    counter("settlement", "manual_review_transitions_total", "Manual review transitions.", "action"),
			breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
			}, []string{"name"}),
			workerRuns: counter("worker", "runs_total", "Background worker run outcomes.", "worker", "result"),
		}
		prometheus.MustRegister(
			c.httpDuration, c.ledgerImbalance, c.accountDrift, c.idempotency,
			c.transferOutcomes, c.approvalQueue, c.approvalDecision, c.scheduledRuns,
			c.reviewQueue, c.reviewActions, c.breakerState, c.workerRuns,
		)
		active.Store(c)
	})
}

func with(fn func(c *collectors)) {
	if c := active.Load(); c != nil {
		fn(c)
	}
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	with(func(c *collectors) {
		c.httpDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
	})
}

func IncrementLedgerImbalance(currency string) {
	with(func(c *collectors) { c.ledgerImbalance.WithLabelValues(currency).Inc() })
}

func IncrementAccountDrift(currency string) {
	with(func(c *collectors) { c.accountDrift.WithLabelValues(currency).Inc() })
}

func IncrementIdempotencyEvent(outcome string) {
	with(func(c *collectors) { c.idempotency.WithLabelValues(outcome).Inc() })
}

// IncrementTransferOutcome counts an executor result. path is immediate or approval.
func IncrementTransferOutcome(path, outcome string) {
	with(func(c *collectors) { c.transferOutcomes.WithLabelValues(path, outcome).Inc() })
}

func SetApprovalQueueSize(size int64) {
	with(func(c *collectors) { c.approvalQueue.Set(float64(size)) })
}

func IncrementApprovalDecision(decision string) {
	with(func(c *collectors) { c.approvalDecision.WithLabelValues(decision).Inc() })
}

func IncrementScheduledRun(result string) {
	with(func(c *collectors) { c.scheduledRuns.WithLabelValues(result).Inc() })
}

func SetManualReviewQueueSize(size int64) {
	with(func(c *collectors) { c.reviewQueue.Set(float64(size)) })
}

func IncrementManualReviewTransition(action string) {
	with(func(c *collectors) { c.reviewActions.WithLabelValues(action).Inc() })
}

func SetBreakerState(name string, state int) {
	with(func(c *collectors) { c.breakerState.WithLabelValues(name).Set(float64(state)) })
}

func IncrementWorkerRun(worker, result string) {
	with(func(c *collectors) { c.workerRuns.WithLabelValues(worker, result).Inc() })
}
