package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoney_ToDecimal(t *testing.T) {
	m := NewMoney(1_050, "USD") // 10.50 USD
	d := m.ToDecimal()
	assert.Equal(t, "10.5", d.String())
}

func TestFromDecimal(t *testing.T) {
	d := decimal.NewFromFloat(10.50)
	minor := FromDecimal(d)
	assert.Equal(t, int64(1_050), minor)
}

func TestFromDecimal_RoundsDown(t *testing.T) {
	d, err := decimal.NewFromString("12.349")
	require.NoError(t, err)
	assert.Equal(t, int64(1_234), FromDecimal(d))
}

func TestMoney_Add(t *testing.T) {
	sum, err := NewMoney(2_000, CurrencyCRC).Add(NewMoney(500, CurrencyCRC))
	require.NoError(t, err)
	assert.Equal(t, int64(2_500), sum.Amount)

	_, err = NewMoney(1, CurrencyCRC).Add(NewMoney(1, CurrencyUSD))
	require.Error(t, err)
}

func TestMoney_String(t *testing.T) {
	assert.Equal(t, "50000.00 CRC", NewMoney(5_000_000, CurrencyCRC).String())
}
