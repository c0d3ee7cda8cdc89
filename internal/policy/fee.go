package policy

import (
	"fmt"

	"github.com/ayo6706/transfer-core/internal/domain"
)

// FeeInput describes the transfer being priced.
type FeeInput struct {
	Amount    int64
	Currency  string
	Kind      string
	Scheduled bool
}

// FeeCalculator prices transfers from the LimitPolicy fee schedule.
type FeeCalculator struct {
	policy             *LimitPolicy
	scheduledSurcharge int64
}

func NewFeeCalculator(policy *LimitPolicy) *FeeCalculator {
	return &FeeCalculator{policy: policy}
}

// WithScheduledSurcharge adds a flat amount to third-party scheduled transfers.
func (f *FeeCalculator) WithScheduledSurcharge(amount int64) *FeeCalculator {
	if amount >= 0 {
		f.scheduledSurcharge = amount
	}
	return f
}

// Fee returns the fee in the transfer currency. Transfers between accounts of the same
// customer are free.
func (f *FeeCalculator) Fee(in FeeInput) (int64, error) {
	limits, ok := f.policy.Currency(in.Currency)
	if !ok {
		return 0, fmt.Errorf("no fee schedule for currency %q", in.Currency)
	}
	switch in.Kind {
	case domain.TransferKindOwnAccount:
		return 0, nil
	case domain.TransferKindThirdParty, domain.TransferKindExternal:
		fee := limits.ThirdPartyFee
		if in.Scheduled {
			fee += f.scheduledSurcharge
		}
		return fee, nil
	default:
		return 0, fmt.Errorf("unknown transfer kind %q", in.Kind)
	}
}
