package shipping_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seujia/storefront/internal/shipping"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDefaultCatalog_HasAllRegions(t *testing.T) {
	c := shipping.DefaultCatalog()
	assert.Len(t, c.Regions(), 31)

	rate, exact := c.Lookup("  assam ")
	require.True(t, exact)
	assert.True(t, dec("40").Equal(rate.BaseCharge))
	assert.True(t, dec("30").Equal(rate.CODCharge))
	require.NotNil(t, rate.FreeShippingThreshold)
	assert.True(t, dec("1000").Equal(*rate.FreeShippingThreshold))

	rate, exact = c.Lookup("Atlantis")
	assert.False(t, exact)
	assert.True(t, dec("100").Equal(rate.BaseCharge))
	assert.True(t, dec("60").Equal(rate.CODCharge))
	assert.True(t, dec("2000").Equal(*rate.FreeShippingThreshold))
}

func TestCalculator_Compute(t *testing.T) {
	calc := shipping.NewCalculator(shipping.DefaultCatalog())

	tests := []struct {
		name          string
		region        string
		value         string
		cod           bool
		wantTotal     string
		wantBase      string
		wantCOD       string
		wantFree      bool
		wantSaved     string
		wantRemaining string
	}{
		{
			name: "assam just below threshold", region: "Assam", value: "999",
			wantTotal: "40", wantBase: "40", wantCOD: "0", wantSaved: "0", wantRemaining: "1",
		},
		{
			name: "assam at threshold ships free", region: "Assam", value: "1000",
			wantTotal: "0", wantBase: "0", wantCOD: "0", wantFree: true, wantSaved: "40", wantRemaining: "0",
		},
		{
			name: "cod never ships free", region: "Assam", value: "5000", cod: true,
			wantTotal: "70", wantBase: "40", wantCOD: "30", wantSaved: "0", wantRemaining: "0",
		},
		{
			name: "case insensitive region", region: "TAMIL NADU", value: "100",
			wantTotal: "105", wantBase: "105", wantCOD: "0", wantSaved: "0", wantRemaining: "2400",
		},
		{
			name: "unknown region uses default rate", region: "Narnia", value: "100", cod: true,
			wantTotal: "160", wantBase: "100", wantCOD: "60", wantSaved: "0", wantRemaining: "1900",
		},
		{
			name: "discounted value decides threshold", region: "Assam", value: "340.2",
			wantTotal: "40", wantBase: "40", wantCOD: "0", wantSaved: "0", wantRemaining: "659.8",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := calc.Compute(tt.region, dec(tt.value), tt.cod)

			assert.True(t, dec(tt.wantTotal).Equal(q.Total), "total: got %s", q.Total)
			assert.True(t, dec(tt.wantBase).Equal(q.BaseCharge), "base: got %s", q.BaseCharge)
			assert.True(t, dec(tt.wantCOD).Equal(q.CODCharge), "cod: got %s", q.CODCharge)
			assert.Equal(t, tt.wantFree, q.IsFree)
			assert.True(t, dec(tt.wantSaved).Equal(q.SavedAmount), "saved: got %s", q.SavedAmount)
			require.NotNil(t, q.AmountToFreeShipping)
			assert.True(t, dec(tt.wantRemaining).Equal(*q.AmountToFreeShipping), "remaining: got %s", q.AmountToFreeShipping)
			assert.True(t, q.Total.Equal(q.BaseCharge.Add(q.CODCharge)))
		})
	}
}

func TestCalculator_ComputeIsPure(t *testing.T) {
	calc := shipping.NewCalculator(nil)
	first := calc.Compute("Kerala", dec("1234.56"), true)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, calc.Compute("Kerala", dec("1234.56"), true))
	}
}

func TestParseCatalog(t *testing.T) {
	t.Run("region without threshold never ships free", func(t *testing.T) {
		c, err := shipping.ParseCatalog([]byte(`
default: {base_charge: 10, cod_charge: 5}
regions:
  - {region: Island, base_charge: 250, cod_charge: 0}
`))
		require.NoError(t, err)

		q := shipping.NewCalculator(c).Compute("island", dec("1000000"), false)
		assert.False(t, q.IsFree)
		assert.True(t, dec("250").Equal(q.Total))
		assert.Nil(t, q.AmountToFreeShipping)
		assert.Nil(t, q.FreeShippingThreshold)
	})

	tests := []struct {
		name string
		yaml string
	}{
		{name: "malformed", yaml: "regions: ["},
		{name: "empty", yaml: "default: {base_charge: 1}"},
		{name: "duplicate", yaml: "regions: [{region: A, base_charge: 1}, {region: a, base_charge: 2}]"},
		{name: "negative charge", yaml: "regions: [{region: A, base_charge: -1}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := shipping.ParseCatalog([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}
