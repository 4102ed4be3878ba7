// Package engine implements the amortization and payment-allocation core.
//
// Everything here is a pure function of its inputs: the engine owns no
// storage, does no logging, and keeps no state between calls. Callers feed
// it loan terms and the ordered payment history; it hands back schedules,
// allocations and balances.
package engine

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Frequency is the payment cadence of a loan.
type Frequency string

const (
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

// InterestMethod selects how interest is computed across the schedule.
type InterestMethod string

const (
	// InterestFlat charges rate% of the original principal once and splits
	// it evenly across installments.
	InterestFlat InterestMethod = "flat"
	// InterestReducing recomputes interest each installment on the
	// remaining balance, with a fixed annuity payment. The rate is treated
	// as the periodic rate, not annualized.
	InterestReducing InterestMethod = "reducing"
)

// LoanTerms is the immutable input to the engine.
type LoanTerms struct {
	Principal decimal.Decimal
	Rate      decimal.Decimal // percent; period-total for flat, per-installment for reducing
	TermCount int
	StartDate time.Time
	Frequency Frequency
	Method    InterestMethod
}

// Installment is one row of an amortization schedule.
type Installment struct {
	Number    int             `json:"number"`
	DueDate   time.Time       `json:"due_date"`
	Payment   decimal.Decimal `json:"payment_amount"`
	Principal decimal.Decimal `json:"principal"`
	Interest  decimal.Decimal `json:"interest"`
	Balance   decimal.Decimal `json:"balance"`
	Projected bool            `json:"projected,omitempty"`
}

var hundred = decimal.NewFromInt(100)

func (t LoanTerms) validate() error {
	if t.Principal.LessThanOrEqual(decimal.Zero) {
		return &InvalidTermsError{Reason: "principal must be positive"}
	}
	if t.TermCount <= 0 {
		return &InvalidTermsError{Reason: "term count must be positive"}
	}
	if t.Rate.IsNegative() {
		return &InvalidTermsError{Reason: "rate must not be negative"}
	}
	switch t.Frequency {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
	default:
		return &InvalidTermsError{Reason: "unknown frequency " + string(t.Frequency)}
	}
	switch t.Method {
	case InterestFlat, InterestReducing:
	default:
		return &InvalidTermsError{Reason: "unknown interest method " + string(t.Method)}
	}
	return nil
}

// periodicRate is the per-installment rate as a fraction (rate/100).
func (t LoanTerms) periodicRate() decimal.Decimal {
	return t.Rate.Div(hundred)
}

// GenerateSchedule produces the full amortization schedule for the terms,
// ordered by installment number. The interest method is dispatched exactly
// once here; nothing downstream branches on it again.
func GenerateSchedule(terms LoanTerms) ([]Installment, error) {
	if err := terms.validate(); err != nil {
		return nil, err
	}
	if terms.Method == InterestReducing {
		return reducingSchedule(terms), nil
	}
	return flatSchedule(terms), nil
}

// flatSchedule splits principal and the one-time interest charge evenly.
// Rounding drift is absorbed into the last installment, separately for
// principal and interest, so the schedule sums exactly to both totals.
func flatSchedule(terms LoanTerms) []Installment {
	n := decimal.NewFromInt(int64(terms.TermCount))
	totalInterest := terms.Principal.Mul(terms.Rate).Div(hundred)
	interestPer := totalInterest.DivRound(n, 2)
	principalPer := terms.Principal.DivRound(n, 2)

	schedule := make([]Installment, 0, terms.TermCount)
	balance := terms.Principal
	for i := 1; i <= terms.TermCount; i++ {
		principal := principalPer
		interest := interestPer
		if i == terms.TermCount {
			principal = balance
			interest = totalInterest.Sub(interestPer.Mul(n.Sub(decimal.NewFromInt(1)))).Round(2)
		}
		balance = balance.Sub(principal)

		schedule = append(schedule, Installment{
			Number:    i,
			DueDate:   DueDate(terms.StartDate, i, terms.Frequency),
			Payment:   principal.Add(interest).Round(2),
			Principal: principal.Round(2),
			Interest:  interest,
			Balance:   clampZero(balance.Round(2)),
		})
	}
	return schedule
}

// reducingSchedule is the standard fixed-payment (annuity) schedule:
// payment = P*r*(1+r)^n / ((1+r)^n - 1). float64 handles only the power
// term; all monetary arithmetic stays in decimal.
func reducingSchedule(terms LoanTerms) []Installment {
	rate := terms.periodicRate()
	n := float64(terms.TermCount)

	var fixedPayment decimal.Decimal
	if rate.IsZero() {
		fixedPayment = terms.Principal.DivRound(decimal.NewFromInt(int64(terms.TermCount)), 2)
	} else {
		r := rate.InexactFloat64()
		factor := math.Pow(1+r, n)
		fixedPayment = decimal.NewFromFloat(terms.Principal.InexactFloat64() * r * factor / (factor - 1)).Round(2)
	}

	schedule := make([]Installment, 0, terms.TermCount)
	balance := terms.Principal
	for i := 1; i <= terms.TermCount; i++ {
		interest := balance.Mul(rate).Round(2)
		principal := fixedPayment.Sub(interest)
		// The last installment (or an overshooting one) pays exactly the
		// remaining balance so the schedule closes at zero.
		if i == terms.TermCount || principal.GreaterThan(balance) {
			principal = balance
		}
		balance = balance.Sub(principal)

		schedule = append(schedule, Installment{
			Number:    i,
			DueDate:   DueDate(terms.StartDate, i, terms.Frequency),
			Payment:   principal.Add(interest).Round(2),
			Principal: principal.Round(2),
			Interest:  interest,
			Balance:   clampZero(balance.Round(2)),
		})
	}
	return schedule
}

// DueDate returns startDate advanced by offset periods of the given
// frequency. Monthly additions are calendar-correct: the day of month is
// clamped to the target month's last day, so Jan 31 + 1 month lands on
// Feb 28/29 rather than spilling into March.
func DueDate(startDate time.Time, offset int, frequency Frequency) time.Time {
	switch frequency {
	case FrequencyWeekly:
		return startDate.AddDate(0, 0, 7*offset)
	case FrequencyBiweekly:
		return startDate.AddDate(0, 0, 14*offset)
	default:
		return addMonths(startDate, offset)
	}
}

func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	firstOfTarget := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	if d > lastDay {
		d = lastDay
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), d, 0, 0, 0, 0, t.Location())
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
