package policy

import (
	"fmt"
	"math"
	"strings"

	"github.com/ayo6706/transfer-core/internal/domain"
)

// Unlimited marks a ceiling with no upper bound.
const Unlimited int64 = math.MaxInt64

// CurrencyLimits holds the per-currency amounts that do not depend on role.
type CurrencyLimits struct {
	MinimumAmount     int64
	DefaultDailyLimit int64
	ThirdPartyFee     int64
}

// RoleCeiling is one row of the (role, currency) table.
type RoleCeiling struct {
	Role              domain.Role
	Currency          string
	AutoExecute       int64
	ApprovalAuthority int64
}

type ceilingKey struct {
	role     domain.Role
	currency string
}

// LimitPolicy is an immutable lookup table of amount thresholds keyed by (role, currency).
type LimitPolicy struct {
	currencies map[string]CurrencyLimits
	ceilings   map[ceilingKey]RoleCeiling
}

// NewLimitPolicy builds a policy and rejects rows for currencies without CurrencyLimits.
func NewLimitPolicy(currencies map[string]CurrencyLimits, ceilings []RoleCeiling) (*LimitPolicy, error) {
	p := &LimitPolicy{
		currencies: make(map[string]CurrencyLimits, len(currencies)),
		ceilings:   make(map[ceilingKey]RoleCeiling, len(ceilings)),
	}
	for code, limits := range currencies {
		code = strings.ToUpper(code)
		if limits.MinimumAmount <= 0 {
			return nil, fmt.Errorf("minimum amount for %s must be positive", code)
		}
		if limits.ThirdPartyFee < 0 {
			return nil, fmt.Errorf("third-party fee for %s must not be negative", code)
		}
		p.currencies[code] = limits
	}
	for _, row := range ceilings {
		row.Currency = strings.ToUpper(row.Currency)
		if _, ok := p.currencies[row.Currency]; !ok {
			return nil, fmt.Errorf("ceiling for %s/%s references unknown currency", row.Role, row.Currency)
		}
		if row.AutoExecute < 0 || row.ApprovalAuthority < 0 {
			return nil, fmt.Errorf("ceiling for %s/%s must not be negative", row.Role, row.Currency)
		}
		p.ceilings[ceilingKey{role: row.Role, currency: row.Currency}] = row
	}
	for code := range p.currencies {
		if _, ok := p.ceilings[ceilingKey{role: domain.RoleManager, currency: code}]; !ok {
			return nil, fmt.Errorf("manager ceiling for %s is required", code)
		}
	}
	return p, nil
}

// Defaults are the reference values used by the bank.
func Defaults() Overrides {
	return Overrides{
		CustomerCeilingCRC: 1_000_000,
		CustomerCeilingUSD: 1_600,
		ManagerCeilingCRC:  5_000_000,
		ManagerCeilingUSD:  8_000,
		DailyLimitCRC:      5_000_000,
		DailyLimitUSD:      8_000,
		ThirdPartyFeeCRC:   500,
		ThirdPartyFeeUSD:   1,
		MinimumAmountCRC:   100,
		MinimumAmountUSD:   1,
	}
}

// Overrides carries configurable reference values for the default table.
type Overrides struct {
	CustomerCeilingCRC int64
	CustomerCeilingUSD int64
	ManagerCeilingCRC  int64
	ManagerCeilingUSD  int64
	DailyLimitCRC      int64
	DailyLimitUSD      int64
	ThirdPartyFeeCRC   int64
	ThirdPartyFeeUSD   int64
	MinimumAmountCRC   int64
	MinimumAmountUSD   int64
}

// FromOverrides builds the customer/manager/admin table for CRC and USD.
func FromOverrides(o Overrides) (*LimitPolicy, error) {
	currencies := map[string]CurrencyLimits{
		domain.CurrencyCRC: {MinimumAmount: o.MinimumAmountCRC, DefaultDailyLimit: o.DailyLimitCRC, ThirdPartyFee: o.ThirdPartyFeeCRC},
		domain.CurrencyUSD: {MinimumAmount: o.MinimumAmountUSD, DefaultDailyLimit: o.DailyLimitUSD, ThirdPartyFee: o.ThirdPartyFeeUSD},
	}
	ceilings := []RoleCeiling{
		{Role: domain.RoleCustomer, Currency: domain.CurrencyCRC, AutoExecute: o.CustomerCeilingCRC},
		{Role: domain.RoleCustomer, Currency: domain.CurrencyUSD, AutoExecute: o.CustomerCeilingUSD},
		{Role: domain.RoleManager, Currency: domain.CurrencyCRC, AutoExecute: o.ManagerCeilingCRC, ApprovalAuthority: o.ManagerCeilingCRC},
		{Role: domain.RoleManager, Currency: domain.CurrencyUSD, AutoExecute: o.ManagerCeilingUSD, ApprovalAuthority: o.ManagerCeilingUSD},
		{Role: domain.RoleAdmin, Currency: domain.CurrencyCRC, AutoExecute: Unlimited, ApprovalAuthority: Unlimited},
		{Role: domain.RoleAdmin, Currency: domain.CurrencyUSD, AutoExecute: Unlimited, ApprovalAuthority: Unlimited},
	}
	return NewLimitPolicy(currencies, ceilings)
}

// DefaultLimitPolicy returns the reference table. It panics only if Defaults is inconsistent.
func DefaultLimitPolicy() *LimitPolicy {
	p, err := FromOverrides(Defaults())
	if err != nil {
		panic(err)
	}
	return p
}

// Currency returns the limits for a currency code.
func (p *LimitPolicy) Currency(code string) (CurrencyLimits, bool) {
	limits, ok := p.currencies[code]
	return limits, ok
}

// Supports reports whether the currency has policy rows.
func (p *LimitPolicy) Supports(code string) bool {
	_, ok := p.currencies[code]
	return ok
}

// AutoExecuteCeiling is the largest amount the role may execute without review.
// Roles missing from the table get zero, so everything they submit is reviewed.
func (p *LimitPolicy) AutoExecuteCeiling(role domain.Role, currency string) int64 {
	return p.ceilings[ceilingKey{role: role, currency: currency}].AutoExecute
}

// ApprovalAuthority is the largest queued amount the role may approve. Zero means none.
func (p *LimitPolicy) ApprovalAuthority(role domain.Role, currency string) int64 {
	return p.ceilings[ceilingKey{role: role, currency: currency}].ApprovalAuthority
}

// EscalationCeiling is the manager ceiling; amounts above it are high value.
func (p *LimitPolicy) EscalationCeiling(currency string) int64 {
	return p.ceilings[ceilingKey{role: domain.RoleManager, currency: currency}].AutoExecute
}

// DailyLimit returns the default daily cap applied when an account has none of its own.
func (p *LimitPolicy) DailyLimit(currency string) int64 {
	return p.currencies[currency].DefaultDailyLimit
}
