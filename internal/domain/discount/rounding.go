package discount

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// RoundingMode selects how amounts are rounded to the configured precision.
type RoundingMode string

const (
	// RoundDown truncates toward negative infinity at the precision.
	RoundDown RoundingMode = "floor"
	// RoundUp rounds toward positive infinity at the precision.
	RoundUp RoundingMode = "ceil"
	// RoundHalfUp rounds half away from zero at the precision.
	RoundHalfUp RoundingMode = "round"
)

// ParseRoundingMode resolves a configuration string to a RoundingMode.
func ParseRoundingMode(s string) (RoundingMode, error) {
	switch RoundingMode(s) {
	case RoundDown, RoundUp, RoundHalfUp:
		return RoundingMode(s), nil
	}
	return "", errors.Errorf("unknown rounding mode %q", s)
}

// Rounder rounds monetary amounts with a fixed mode and decimal precision.
// The zero value rounds half-up at two decimal places.
type Rounder struct {
	Mode      RoundingMode
	Precision int32
}

// NewRounder returns a Rounder for the given mode and non-negative precision.
func NewRounder(mode RoundingMode, precision int) Rounder {
	return Rounder{Mode: mode, Precision: int32(precision)}
}

// Round returns the amount rounded to the Rounder's precision using its mode.
// Rounding is idempotent: rounding an already-rounded amount is a no-op.
func (r Rounder) Round(amount decimal.Decimal) decimal.Decimal {
	switch r.Mode {
	case RoundDown:
		return amount.RoundFloor(r.Precision)
	case RoundUp:
		return amount.RoundCeil(r.Precision)
	default:
		return amount.Round(r.Precision)
	}
}
