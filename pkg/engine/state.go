package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstallmentStatus classifies a schedule row against the payment ledger.
type InstallmentStatus string

const (
	StatusPaid      InstallmentStatus = "paid"
	StatusPartial   InstallmentStatus = "partial"
	StatusPending   InstallmentStatus = "pending"
	StatusProjected InstallmentStatus = "projected"
)

// ScheduleRow is one installment annotated with what the ledger says has
// actually been paid against it.
type ScheduleRow struct {
	Number        int               `json:"number"`
	DueDate       time.Time         `json:"due_date"`
	Payment       decimal.Decimal   `json:"payment_amount"`
	Principal     decimal.Decimal   `json:"principal"`
	Interest      decimal.Decimal   `json:"interest"`
	PrincipalPaid decimal.Decimal   `json:"principal_paid"`
	InterestPaid  decimal.Decimal   `json:"interest_paid"`
	Status        InstallmentStatus `json:"status"`
}

// LoanState is the reconstructed truth about a loan: what is still owed and
// how each installment stands. It is derived entirely from the schedule and
// the payment ledger.
type LoanState struct {
	PrincipalBalance decimal.Decimal `json:"principal_balance"`
	InterestBalance  decimal.Decimal `json:"interest_balance"`
	Rows             []ScheduleRow   `json:"rows"`
}

// State replays the payment history against the schedule, applies the
// projection rule, and reports outstanding balances plus per-row status.
func State(terms LoanTerms, schedule []Installment, history []PaymentRecord, asOf time.Time) LoanState {
	buckets := Project(terms, ReplayHistory(schedule, history), asOf)

	state := LoanState{
		PrincipalBalance: principalBalance(terms, buckets),
		InterestBalance:  decimal.Zero,
		Rows:             make([]ScheduleRow, 0, len(buckets)),
	}
	for _, b := range buckets {
		interestPending := b.InterestDue.Sub(b.InterestPaid)
		if interestPending.GreaterThan(decimal.Zero) {
			state.InterestBalance = state.InterestBalance.Add(interestPending)
		}
		state.Rows = append(state.Rows, ScheduleRow{
			Number:        b.Number,
			DueDate:       b.DueDate,
			Payment:       b.PrincipalDue.Add(b.InterestDue).Round(2),
			Principal:     b.PrincipalDue,
			Interest:      b.InterestDue,
			PrincipalPaid: b.PrincipalPaid,
			InterestPaid:  b.InterestPaid,
			Status:        bucketStatus(b),
		})
	}
	state.InterestBalance = state.InterestBalance.Round(2)
	return state
}

func bucketStatus(b Bucket) InstallmentStatus {
	if b.Projected {
		return StatusProjected
	}
	principalSettled := b.PrincipalPaid.GreaterThanOrEqual(b.PrincipalDue.Sub(centTolerance))
	interestSettled := b.InterestPaid.GreaterThanOrEqual(b.InterestDue.Sub(centTolerance))
	if principalSettled && interestSettled {
		return StatusPaid
	}
	if b.PrincipalPaid.GreaterThan(decimal.Zero) || b.InterestPaid.GreaterThan(decimal.Zero) {
		return StatusPartial
	}
	return StatusPending
}
