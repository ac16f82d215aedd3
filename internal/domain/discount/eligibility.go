package discount

import (
	"time"

	"github.com/shopspring/decimal"
)

// ActiveAt reports whether the discount is live at the given instant: the
// administrative flag is on and now falls within the activation window.
// Absent window bounds are treated as satisfied; both bounds are inclusive.
func ActiveAt(d *Discount, now time.Time) bool {
	if !d.IsActive {
		return false
	}
	if d.StartsAt != nil && now.Before(*d.StartsAt) {
		return false
	}
	if d.ExpiresAt != nil && now.After(*d.ExpiresAt) {
		return false
	}
	return true
}

// MeetsOrderValue reports whether the amount satisfies the discount's minimum
// order value. A zero MinOrderValue imposes no constraint.
//
// The check always runs against the original pre-discount amount, even when a
// discount's turn comes late in a stacking pass: the threshold is a minimum
// purchase to qualify, not a floor on the remaining balance.
func MeetsOrderValue(d *Discount, amount decimal.Decimal) bool {
	if d.MinOrderValue.IsZero() {
		return true
	}
	return amount.GreaterThanOrEqual(d.MinOrderValue)
}

// eligible reports whether the assignment qualifies for application: it is
// not revoked, its discount is loaded and live, the amount meets the minimum
// order value, and usage remains under the cap.
func eligible(a *Assignment, amount decimal.Decimal, now time.Time) bool {
	return a.Discount != nil &&
		!a.IsRevoked() &&
		ActiveAt(a.Discount, now) &&
		MeetsOrderValue(a.Discount, amount) &&
		a.HasUsageRemaining()
}
