package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/transfer-core/internal/observability"
	"github.com/ayo6706/transfer-core/internal/repository"
	"go.uber.org/zap"
)

// ReconciliationReport is the outcome of one ledger check.
type ReconciliationReport struct {
	Net        int64                                `json:"net"`
	Imbalances []repository.LedgerCurrencyImbalance `json:"imbalances,omitempty"`
	Drift      []repository.AccountDrift            `json:"drift,omitempty"`
}

// Balanced reports whether entries net to zero and every balance matches its entries.
func (r ReconciliationReport) Balanced() bool {
	return r.Net == 0 && len(r.Imbalances) == 0 && len(r.Drift) == 0
}

// ReconciliationService verifies ledger integrity invariants.
type ReconciliationService struct {
	store QueryStore
}

// NewReconciliationService creates a reconciliation service.
func NewReconciliationService(store QueryStore) *ReconciliationService {
	return &ReconciliationService{store: store}
}

// Run checks that ledger entries net to zero per currency and that every account balance
// equals its opening balance plus its entries.
func (s *ReconciliationService) Run(ctx context.Context) (ReconciliationReport, error) {
	queries := s.store.Queries()
	var report ReconciliationReport

	net, err := queries.GetLedgerNet(ctx)
	if err != nil {
		return report, fmt.Errorf("run ledger net query: %w", err)
	}
	report.Net = net

	if net != 0 {
		observability.IncrementLedgerImbalance("ALL")
		zap.L().Error("CRITICAL: ledger imbalance detected", zap.Int64("net_amount", net))
	}

	imbalances, err := queries.GetLedgerCurrencyImbalances(ctx)
	if err != nil {
		return report, fmt.Errorf("load currency imbalances: %w", err)
	}
	for _, row := range imbalances {
		observability.IncrementLedgerImbalance(row.Currency)
		zap.L().Error("ledger imbalance by currency", zap.String("currency", row.Currency), zap.Int64("net_amount", row.NetAmount))
	}
	report.Imbalances = imbalances

	drift, err := queries.ListAccountDrift(ctx)
	if err != nil {
		return report, fmt.Errorf("load account drift: %w", err)
	}
	for _, row := range drift {
		observability.IncrementAccountDrift(row.Currency)
		zap.L().Error("account balance drift detected",
			zap.String("account_id", row.AccountID.String()),
			zap.Int64("balance", row.Balance),
			zap.Int64("expected", row.Expected),
		)
	}
	report.Drift = drift

	if report.Balanced() {
		zap.L().Info("Ledger Balanced")
	}
	return report, nil
}
