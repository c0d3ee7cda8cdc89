package policy

import "github.com/ayo6706/transfer-core/internal/domain"

// Decision is the routing outcome for one (amount, currency, role) triple.
type Decision struct {
	RequiresApproval bool
	ApproverRole     domain.Role
	HighValue        bool
	Ceiling          int64
}

// ApprovalRouter decides between immediate execution and queued review.
type ApprovalRouter struct {
	policy *LimitPolicy
}

func NewApprovalRouter(policy *LimitPolicy) *ApprovalRouter {
	return &ApprovalRouter{policy: policy}
}

// Route is deterministic: the same inputs always produce the same Decision.
// High-value amounts need an administrator's approval whoever initiated them, so no
// role executes above the escalation ceiling directly.
func (r *ApprovalRouter) Route(amount int64, currency string, initiator domain.Role) Decision {
	ceiling := r.policy.AutoExecuteCeiling(initiator, currency)
	escalation := r.policy.EscalationCeiling(currency)
	if ceiling > escalation {
		ceiling = escalation
	}
	d := Decision{
		Ceiling:   ceiling,
		HighValue: amount > escalation,
	}
	if amount <= ceiling {
		return d
	}
	d.RequiresApproval = true
	d.ApproverRole = domain.RoleManager
	if d.HighValue {
		d.ApproverRole = domain.RoleAdmin
	}
	return d
}

// CanReview reports whether the role may act on queued operations at all.
func (r *ApprovalRouter) CanReview(role domain.Role, currency string) bool {
	return r.policy.ApprovalAuthority(role, currency) > 0
}

// CanApprove reports whether the role's authority covers the amount.
func (r *ApprovalRouter) CanApprove(amount int64, currency string, role domain.Role) bool {
	return amount <= r.policy.ApprovalAuthority(role, currency)
}
