// Package numeric converts between the exchange's fixed-point integer
// representation and decimal values. Every monetary value on the wire is
// an integer scaled by a currency-specific factor; all book arithmetic
// stays in integers and decimals appear only at API and log boundaries.
package numeric

import (
	"github.com/shopspring/decimal"

	"github.com/quantfall/goxfeed/internal/schema"
)

// BaseAsset is the traded asset; its amounts always use scale 1e8.
const BaseAsset = "BTC"

// Exponent returns the decimal exponent of the fixed-point scale for the
// given currency code.
func Exponent(currency string) int32 {
	switch currency {
	case BaseAsset:
		return 8
	case "JPY", "SEK":
		return 3
	default:
		return 5
	}
}

// ToDecimal converts a fixed-point integer into its decimal value.
func ToDecimal(v schema.Amount, currency string) decimal.Decimal {
	return decimal.New(v, -Exponent(currency))
}

// FromDecimal converts a decimal value into the fixed-point integer for
// the given currency, truncating toward zero.
func FromDecimal(d decimal.Decimal, currency string) schema.Amount {
	return d.Shift(Exponent(currency)).IntPart()
}

// FromFloat converts a float into the fixed-point integer for the given
// currency. Intended for values received from REST endpoints that report
// plain decimal numbers instead of integers.
func FromFloat(f float64, currency string) schema.Amount {
	return FromDecimal(decimal.NewFromFloat(f), currency)
}

// Format renders a fixed-point integer for logs.
func Format(v schema.Amount, currency string) string {
	return ToDecimal(v, currency).StringFixed(Exponent(currency))
}

// Value multiplies a base-asset volume by a quote price, both fixed
// point, and returns the result scaled like the quote currency. Used for
// the bid-side running total, which accumulates quote value.
func Value(volume, price schema.Amount, currency string) schema.Amount {
	vol := decimal.New(volume, -Exponent(BaseAsset))
	return FromDecimal(vol.Mul(ToDecimal(price, currency)), currency)
}
