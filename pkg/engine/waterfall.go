package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApplicationType selects how an incoming payment is applied.
type ApplicationType string

const (
	// ApplyBoth is the default waterfall: late fee, then per-installment
	// interest before principal, in schedule order.
	ApplyBoth      ApplicationType = "both"
	ApplyPrincipal ApplicationType = "principal"
	ApplyInterest  ApplicationType = "interest"
)

// PaymentRecord is one row of a loan's payment ledger as persisted by the
// caller. The ledger is the authoritative source of what has been paid;
// the engine never consults stored status flags.
type PaymentRecord struct {
	Amount      decimal.Decimal
	Principal   decimal.Decimal
	Interest    decimal.Decimal
	LateFee     decimal.Decimal
	PaymentDate time.Time
	DueDate     time.Time
}

// Bucket is the per-installment working state of the allocator. Buckets are
// rebuilt from the full payment history on every call and never persisted.
type Bucket struct {
	Number        int
	DueDate       time.Time
	PrincipalDue  decimal.Decimal
	InterestDue   decimal.Decimal
	PrincipalPaid decimal.Decimal
	InterestPaid  decimal.Decimal
	Projected     bool
}

// Allocation is how a payment splits across the three outstanding buckets.
// The components are non-negative and sum exactly to the payment amount.
type Allocation struct {
	Principal decimal.Decimal `json:"principal"`
	Interest  decimal.Decimal `json:"interest"`
	LateFee   decimal.Decimal `json:"late_fee"`
}

// PaymentRequest describes a new incoming payment to allocate.
type PaymentRequest struct {
	Amount      decimal.Decimal
	PaymentDate time.Time
	DueDate     time.Time
	Type        ApplicationType
	LateFeeRate decimal.Decimal
	GraceDays   int
	AsOf        time.Time // evaluation date for the projection rule
}

// Two amounts within a cent of each other are considered settled.
var centTolerance = decimal.NewFromFloat(0.01)

// ReplayHistory builds one bucket per schedule installment and fills it by
// replaying every historical payment in order: each payment's recorded
// interest portion fills interest space and its principal portion fills
// principal space, sweeping installments front to back.
func ReplayHistory(schedule []Installment, history []PaymentRecord) []Bucket {
	buckets := make([]Bucket, len(schedule))
	for i, inst := range schedule {
		buckets[i] = Bucket{
			Number:       inst.Number,
			DueDate:      inst.DueDate,
			PrincipalDue: inst.Principal,
			InterestDue:  inst.Interest,
		}
	}

	for _, p := range history {
		interest := p.Interest
		principal := p.Principal
		for i := range buckets {
			if interest.GreaterThan(decimal.Zero) {
				space := buckets[i].InterestDue.Sub(buckets[i].InterestPaid)
				pay := decimal.Min(interest, space)
				buckets[i].InterestPaid = buckets[i].InterestPaid.Add(pay)
				interest = interest.Sub(pay)
			}
			if principal.GreaterThan(decimal.Zero) {
				space := buckets[i].PrincipalDue.Sub(buckets[i].PrincipalPaid)
				pay := decimal.Min(principal, space)
				buckets[i].PrincipalPaid = buckets[i].PrincipalPaid.Add(pay)
				principal = principal.Sub(pay)
			}
		}
	}
	return buckets
}

// principalBalance is the principal still owed after the replayed history.
func principalBalance(terms LoanTerms, buckets []Bucket) decimal.Decimal {
	paid := decimal.Zero
	for _, b := range buckets {
		paid = paid.Add(b.PrincipalPaid)
	}
	return terms.Principal.Sub(paid)
}

// Project appends one synthetic installment when the loan has outlived its
// nominal schedule while still owing principal: the borrower keeps accruing
// one period of interest on the outstanding balance, and the projected row
// assumes full payoff. It fires when the last scheduled installment's
// principal is unpaid and either its due date has passed or its interest is
// already covered.
func Project(terms LoanTerms, buckets []Bucket, asOf time.Time) []Bucket {
	if len(buckets) == 0 {
		return buckets
	}
	balance := principalBalance(terms, buckets)
	if balance.LessThanOrEqual(centTolerance) {
		return buckets
	}

	last := buckets[len(buckets)-1]
	interestCovered := last.InterestPaid.GreaterThanOrEqual(last.InterestDue.Sub(centTolerance))
	pastDue := asOf.After(last.DueDate)
	if !pastDue && !interestCovered {
		return buckets
	}

	return append(buckets, Bucket{
		Number:       last.Number + 1,
		DueDate:      DueDate(terms.StartDate, last.Number+1, terms.Frequency),
		PrincipalDue: balance,
		InterestDue:  balance.Mul(terms.periodicRate()).Round(2),
		Projected:    true,
	})
}

// Allocate determines how a new payment splits across late fee, interest
// and principal given the loan's schedule and full prior payment history.
//
// The late fee is assessed on the payment amount, charged first and capped
// at it. In waterfall mode the remainder walks the installments in order,
// clearing each one's pending interest before its pending principal;
// whatever survives every real and projected installment is extra principal
// reduction. The returned components always sum exactly to the payment
// amount, with the rounding remainder folded into principal.
func Allocate(terms LoanTerms, schedule []Installment, history []PaymentRecord, req PaymentRequest) (Allocation, error) {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return Allocation{}, &InvalidTermsError{Reason: "payment amount must be positive"}
	}
	switch req.Type {
	case ApplyBoth, ApplyPrincipal, ApplyInterest:
	default:
		return Allocation{}, &InvalidTermsError{Reason: "unknown application type " + string(req.Type)}
	}

	daysLate := DaysLate(req.DueDate, req.PaymentDate)
	fee := LateFee(req.Amount, req.LateFeeRate, daysLate, req.GraceDays)
	fee = decimal.Min(fee, req.Amount)

	switch req.Type {
	case ApplyPrincipal:
		return finishAllocation(req.Amount, decimal.Zero, fee), nil
	case ApplyInterest:
		return Allocation{
			Principal: decimal.Zero,
			Interest:  req.Amount.Sub(fee),
			LateFee:   fee,
		}, nil
	}

	buckets := Project(terms, ReplayHistory(schedule, history), asOf(req))
	remaining := req.Amount.Sub(fee)
	interest := decimal.Zero
	for i := range buckets {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		interestPending := buckets[i].InterestDue.Sub(buckets[i].InterestPaid)
		if interestPending.GreaterThan(decimal.Zero) {
			pay := decimal.Min(remaining, interestPending)
			interest = interest.Add(pay)
			remaining = remaining.Sub(pay)
		}
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		principalPending := buckets[i].PrincipalDue.Sub(buckets[i].PrincipalPaid)
		if principalPending.GreaterThan(decimal.Zero) {
			pay := decimal.Min(remaining, principalPending)
			remaining = remaining.Sub(pay)
		}
	}
	// Everything the walk consumed that was not interest, plus any amount
	// left after all buckets are covered, is principal.
	return finishAllocation(req.Amount, interest, fee), nil
}

func asOf(req PaymentRequest) time.Time {
	if req.AsOf.IsZero() {
		return req.PaymentDate
	}
	return req.AsOf
}

// finishAllocation rounds interest and fee to cents and gives principal the
// exact remainder so the three components conserve the payment amount.
func finishAllocation(amount, interest, fee decimal.Decimal) Allocation {
	alloc := Allocation{
		Interest: interest.Round(2),
		LateFee:  fee.Round(2),
	}
	alloc.Principal = amount.Sub(alloc.Interest).Sub(alloc.LateFee)
	if alloc.Principal.IsNegative() {
		// Rounding pushed interest past the remainder; give it back.
		alloc.Interest = alloc.Interest.Add(alloc.Principal)
		alloc.Principal = decimal.Zero
	}
	return alloc
}
