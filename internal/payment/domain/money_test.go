package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(5000), ToMinorUnits(decimal.RequireFromString("50.00"), "usd"))
	assert.Equal(t, int64(1999), ToMinorUnits(decimal.RequireFromString("19.985"), "EUR"))
	assert.Equal(t, int64(500), ToMinorUnits(decimal.RequireFromString("500"), "JPY"))
	assert.Equal(t, int64(1250), ToMinorUnits(decimal.RequireFromString("1.25"), "KWD"))

	assert.True(t, decimal.RequireFromString("50").Equal(FromMinorUnits(5000, "USD")))
	assert.True(t, decimal.RequireFromString("500").Equal(FromMinorUnits(500, "JPY")))
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "50.00", FormatAmount(decimal.NewFromInt(50), "USD"))
	assert.Equal(t, "500", FormatAmount(decimal.NewFromInt(500), "JPY"))
}

func TestValidCurrency(t *testing.T) {
	assert.True(t, ValidCurrency("KES"))
	assert.False(t, ValidCurrency("kes"))
	assert.False(t, ValidCurrency("KESH"))
}

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		amount   string
		currency string
		ok       bool
	}{
		{"50.00", "USD", true},
		{"50.000", "usd", true},
		{"50.005", "USD", false},
		{"0.004", "USD", false},
		{"0", "USD", false},
		{"-1", "USD", false},
		{"500", "JPY", true},
		{"500.5", "JPY", false},
		{"1.255", "KWD", true},
		{"1.2555", "KWD", false},
	}
	for _, tt := range tests {
		err := ValidateAmount(decimal.RequireFromString(tt.amount), tt.currency)
		if tt.ok {
			assert.NoError(t, err, tt.amount+" "+tt.currency)
		} else {
			assert.ErrorIs(t, err, ErrInvalidAmount, tt.amount+" "+tt.currency)
		}
	}
}
