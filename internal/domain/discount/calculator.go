package discount

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Calculate computes the unrounded discount amount for one stacking step.
//
// For percentage discounts the raw amount is running * value / 100, clamped
// first to the headroom left under the global percentage cap (maxPercentage
// of the original amount minus what previous steps already took) and then to
// the discount's own MaxDiscountAmount. For fixed discounts it is the lesser
// of the configured value and the running amount, so a step never removes
// more than remains.
//
// A maxPercentage of zero disables the global cap. An unknown discount type
// wraps ErrUnsupportedType; the caller aborts the whole apply transaction
// because it indicates corrupt definition data, not a runtime condition.
func Calculate(d *Discount, running, original, totalApplied, maxPercentage decimal.Decimal) (decimal.Decimal, error) {
	switch d.Type {
	case TypePercentage:
		amount := running.Mul(d.Value).Div(hundred)

		if maxPercentage.IsPositive() {
			capAmount := original.Mul(maxPercentage).Div(hundred)
			headroom := decimal.Max(decimal.Zero, capAmount.Sub(totalApplied))
			amount = decimal.Min(amount, headroom)
		}
		if d.MaxDiscountAmount.IsPositive() {
			amount = decimal.Min(amount, d.MaxDiscountAmount)
		}
		return amount, nil

	case TypeFixed:
		return decimal.Min(d.Value, running), nil

	default:
		return decimal.Zero, errors.Wrapf(ErrUnsupportedType, "discount %s has type %q", d.Code, d.Type)
	}
}
