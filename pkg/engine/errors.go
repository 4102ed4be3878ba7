package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InvalidTermsError indicates that loan terms or a payment request could not
// produce a meaningful schedule or allocation. It is always a caller input
// problem; nothing in this package is retryable.
type InvalidTermsError struct {
	Reason string
}

func (e *InvalidTermsError) Error() string {
	return fmt.Sprintf("invalid loan terms: %s", e.Reason)
}

// InsufficientAmountError is returned by ComputeRefinance when the requested
// new loan does not strictly exceed the payoff of the old one.
type InsufficientAmountError struct {
	Requested decimal.Decimal
	Payoff    decimal.Decimal
}

func (e *InsufficientAmountError) Error() string {
	return fmt.Sprintf("requested amount %s must exceed payoff %s", e.Requested.StringFixed(2), e.Payoff.StringFixed(2))
}
