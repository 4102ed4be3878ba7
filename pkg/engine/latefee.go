package engine

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// LateFee computes the penalty for a late payment: zero within the grace
// period, otherwise a flat rate% of the amount. The fee is a one-time
// charge per late installment, deliberately NOT scaled by how many days
// late the payment is; daysLate acts only as a threshold gate.
func LateFee(amount decimal.Decimal, ratePercent decimal.Decimal, daysLate, graceDays int) decimal.Decimal {
	if daysLate <= graceDays {
		return decimal.Zero
	}
	return amount.Mul(ratePercent).Div(hundred).Round(2)
}

// DaysLate returns how many whole days paymentDate falls after dueDate,
// rounding any partial day up. Early or on-time payments report zero.
func DaysLate(dueDate, paymentDate time.Time) int {
	diff := paymentDate.Sub(dueDate)
	days := int(math.Ceil(diff.Hours() / 24))
	if days < 0 {
		return 0
	}
	return days
}
