package transform

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FeeRates maps a pool type to its swap fee in percent.
type FeeRates map[string]decimal.Decimal

// DefaultFeeRates are the volatile and stable pool fees.
func DefaultFeeRates() FeeRates {
	return FeeRates{
		"vAMM": decimal.RequireFromString("0.20"),
		"sAMM": decimal.RequireFromString("0.01"),
	}
}

// FeeRatesFromMap builds rates from config values.
func FeeRatesFromMap(m map[string]float64) FeeRates {
	if len(m) == 0 {
		return DefaultFeeRates()
	}
	out := make(FeeRates, len(m))
	for k, v := range m {
		out[k] = decimal.NewFromFloat(v)
	}
	return out
}

// Rate returns the percentage for poolType. Config loaders lowercase keys, so the match ignores case.
func (r FeeRates) Rate(poolType string) (decimal.Decimal, bool) {
	if pct, ok := r[poolType]; ok {
		return pct, true
	}
	for k, pct := range r {
		if strings.EqualFold(k, poolType) {
			return pct, true
		}
	}
	return decimal.Zero, false
}

// Fee returns volume × pct / 100 and whether the pool type was mapped.
// Unmapped types yield zero.
func (r FeeRates) Fee(poolType string, volume decimal.Decimal) (decimal.Decimal, bool) {
	pct, ok := r.Rate(poolType)
	if !ok {
		return decimal.Zero, false
	}
	return volume.Mul(pct).Div(decimal.NewFromInt(100)), true
}
