package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "ISK": {}, "JPY": {}, "KMF": {}, "KRW": {},
	"MGA": {}, "PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

var threeDecimalCurrencies = map[string]struct{}{
	"BHD": {}, "JOD": {}, "KWD": {}, "OMR": {}, "TND": {},
}

func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// MinorUnitExponent is the number of decimal places in the currency's minor
// unit, defaulting to 2.
func MinorUnitExponent(currency string) int32 {
	code := NormalizeCurrency(currency)
	if _, ok := zeroDecimalCurrencies[code]; ok {
		return 0
	}
	if _, ok := threeDecimalCurrencies[code]; ok {
		return 3
	}
	return 2
}

// ValidateAmount accepts positive amounts the provider can represent exactly.
// Digits past the currency's minor unit would be rounded away by
// ToMinorUnits, leaving the ledger and the provider disagreeing.
func ValidateAmount(amount decimal.Decimal, currency string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	places := MinorUnitExponent(currency)
	if !amount.Round(places).Equal(amount) {
		return fmt.Errorf("%w: %s has more than %d decimal places for %s", ErrInvalidAmount, amount, places, NormalizeCurrency(currency))
	}
	return nil
}

// ToMinorUnits converts a major-unit amount into the integer the provider
// APIs expect, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(MinorUnitExponent(currency)).Round(0).IntPart()
}

func FromMinorUnits(value int64, currency string) decimal.Decimal {
	return decimal.New(value, -MinorUnitExponent(currency))
}

// FormatAmount renders a major-unit amount with the currency's precision, as
// string-valued provider APIs want it.
func FormatAmount(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(MinorUnitExponent(currency))
}

// ValidCurrency checks the ISO 4217 shape only.
func ValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
