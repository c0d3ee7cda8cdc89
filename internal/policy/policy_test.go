package policy

import (
	"testing"

	"github.com/ayo6706/transfer-core/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteThresholds(t *testing.T) {
	router := NewApprovalRouter(DefaultLimitPolicy())

	cases := []struct {
		name         string
		amount       int64
		currency     string
		role         domain.Role
		wantApproval bool
		wantApprover domain.Role
		wantHigh     bool
	}{
		{name: "manager_below_ceiling", amount: 4_999_999, currency: "CRC", role: domain.RoleManager},
		{name: "manager_at_ceiling", amount: 5_000_000, currency: "CRC", role: domain.RoleManager},
		{name: "manager_above_ceiling", amount: 5_000_001, currency: "CRC", role: domain.RoleManager, wantApproval: true, wantApprover: domain.RoleAdmin, wantHigh: true},
		{name: "manager_usd_above", amount: 8_001, currency: "USD", role: domain.RoleManager, wantApproval: true, wantApprover: domain.RoleAdmin, wantHigh: true},
		{name: "customer_small", amount: 2_000, currency: "CRC", role: domain.RoleCustomer},
		{name: "customer_above_own_ceiling", amount: 1_000_001, currency: "CRC", role: domain.RoleCustomer, wantApproval: true, wantApprover: domain.RoleManager},
		{name: "customer_high_value", amount: 6_000_000, currency: "CRC", role: domain.RoleCustomer, wantApproval: true, wantApprover: domain.RoleAdmin, wantHigh: true},
		{name: "admin_at_escalation", amount: 5_000_000, currency: "CRC", role: domain.RoleAdmin},
		{name: "admin_high_value_needs_admin", amount: 50_000_000, currency: "CRC", role: domain.RoleAdmin, wantApproval: true, wantApprover: domain.RoleAdmin, wantHigh: true},
		{name: "admin_usd_high_value", amount: 8_001, currency: "USD", role: domain.RoleAdmin, wantApproval: true, wantApprover: domain.RoleAdmin, wantHigh: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			d := router.Route(tc.amount, tc.currency, tc.role)
			assert.Equal(t, tc.wantApproval, d.RequiresApproval)
			assert.Equal(t, tc.wantApprover, d.ApproverRole)
			assert.Equal(t, tc.wantHigh, d.HighValue)
			assert.Equal(t, tc.amount > d.Ceiling, d.RequiresApproval)
		})
	}
}

func TestRouteIsDeterministic(t *testing.T) {
	router := NewApprovalRouter(DefaultLimitPolicy())
	first := router.Route(3_000_000, "CRC", domain.RoleCustomer)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, router.Route(3_000_000, "CRC", domain.RoleCustomer))
	}
}

func TestApprovalAuthority(t *testing.T) {
	router := NewApprovalRouter(DefaultLimitPolicy())

	assert.True(t, router.CanApprove(5_000_000, "CRC", domain.RoleManager))
	assert.False(t, router.CanApprove(5_000_001, "CRC", domain.RoleManager))
	assert.True(t, router.CanApprove(5_000_001, "CRC", domain.RoleAdmin))
	assert.False(t, router.CanApprove(100, "CRC", domain.RoleCustomer))
	assert.False(t, router.CanReview(domain.RoleCustomer, "CRC"))
	assert.True(t, router.CanReview(domain.RoleManager, "USD"))
}

func TestFeeCalculator(t *testing.T) {
	fees := NewFeeCalculator(DefaultLimitPolicy()).WithScheduledSurcharge(50)

	cases := []struct {
		name string
		in   FeeInput
		want int64
	}{
		{name: "own_account", in: FeeInput{Amount: 2_000, Currency: "CRC", Kind: domain.TransferKindOwnAccount}, want: 0},
		{name: "own_account_scheduled", in: FeeInput{Amount: 2_000, Currency: "CRC", Kind: domain.TransferKindOwnAccount, Scheduled: true}, want: 0},
		{name: "third_party_crc", in: FeeInput{Amount: 2_000, Currency: "CRC", Kind: domain.TransferKindThirdParty}, want: 500},
		{name: "third_party_scheduled", in: FeeInput{Amount: 2_000, Currency: "CRC", Kind: domain.TransferKindThirdParty, Scheduled: true}, want: 550},
		{name: "external_usd", in: FeeInput{Amount: 20, Currency: "USD", Kind: domain.TransferKindExternal}, want: 1},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			fee, err := fees.Fee(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, fee)
		})
	}

	_, err := fees.Fee(FeeInput{Amount: 1, Currency: "EUR", Kind: domain.TransferKindThirdParty})
	require.Error(t, err)
}

func TestNewLimitPolicyRejectsInconsistentTables(t *testing.T) {
	_, err := NewLimitPolicy(map[string]CurrencyLimits{"CRC": {MinimumAmount: 100}}, []RoleCeiling{
		{Role: domain.RoleManager, Currency: "USD", AutoExecute: 1},
	})
	require.Error(t, err)

	_, err = NewLimitPolicy(map[string]CurrencyLimits{"CRC": {MinimumAmount: 100}}, nil)
	require.Error(t, err)

	overrides := Defaults()
	overrides.MinimumAmountUSD = 0
	_, err = FromOverrides(overrides)
	require.Error(t, err)
}

func TestDailyLimitAndEscalationAreIndependent(t *testing.T) {
	overrides := Defaults()
	overrides.DailyLimitCRC = 3_000_000
	p, err := FromOverrides(overrides)
	require.NoError(t, err)

	assert.Equal(t, int64(3_000_000), p.DailyLimit("CRC"))
	assert.Equal(t, int64(5_000_000), p.EscalationCeiling("CRC"))
}
