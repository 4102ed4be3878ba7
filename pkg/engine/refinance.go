package engine

import "github.com/shopspring/decimal"

// Refinance is the financial outcome of replacing a loan with a larger one.
type Refinance struct {
	Payoff       decimal.Decimal `json:"payoff_amount"`
	CashToClient decimal.Decimal `json:"cash_to_client"`
}

// ComputeRefinance prices a refinance against the current principal
// balance. The payoff is the principal balance alone: accrued but unpaid
// interest and fees are intentionally forgiven at refinance time. The new
// loan must strictly exceed the payoff so the client always walks away with
// cash.
func ComputeRefinance(currentBalance, requestedAmount decimal.Decimal) (Refinance, error) {
	payoff := currentBalance.Round(2)
	if requestedAmount.LessThanOrEqual(payoff) {
		return Refinance{}, &InsufficientAmountError{Requested: requestedAmount, Payoff: payoff}
	}
	return Refinance{
		Payoff:       payoff,
		CashToClient: requestedAmount.Sub(payoff).Round(2),
	}, nil
}
