package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/jramosf/prestadora/pkg/engine"
	"github.com/jramosf/prestadora/pkg/models"
)

// RefinanceInput is a request to replace an active loan with a larger one.
type RefinanceInput struct {
	LoanID           uuid.UUID
	RequestedAmount  decimal.Decimal
	RequestedTerm    int
	FirstPaymentDate time.Time
}

// RefinanceResult reports both sides of a completed refinance.
type RefinanceResult struct {
	OldLoan      *models.Loan    `json:"old_loan"`
	NewLoan      *models.Loan    `json:"new_loan"`
	Payoff       decimal.Decimal `json:"payoff_amount"`
	CashToClient decimal.Decimal `json:"cash_to_client"`
}

// Refinance closes an active loan with a zero-interest payoff payment equal
// to its current principal balance and opens a new loan for the requested
// amount, carrying over the guarantor metadata. The payoff collects only
// principal: accrued unpaid interest and fees are forgiven by policy. Fails
// unless the new amount strictly exceeds the payoff.
func (l *Ledger) Refinance(in RefinanceInput) (*RefinanceResult, error) {
	if in.RequestedTerm <= 0 {
		return nil, fmt.Errorf("%w: requested term must be positive", ErrValidation)
	}
	if in.FirstPaymentDate.IsZero() {
		return nil, fmt.Errorf("%w: first payment date is required", ErrValidation)
	}

	unlock := l.lockLoan(in.LoanID)
	defer unlock()

	loan, err := l.storage.GetLoan(in.LoanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanStatusActive {
		return nil, ErrInactiveLoan
	}
	ct, err := l.storage.GetCreditType(loan.CreditTypeID)
	if err != nil {
		return nil, err
	}
	if in.RequestedTerm > ct.MaxTermMonths {
		return nil, fmt.Errorf("%w: max is %d", ErrTermExceedsMax, ct.MaxTermMonths)
	}
	payments, err := l.storage.GetPaymentsForLoan(in.LoanID)
	if err != nil {
		return nil, err
	}

	terms := termsFor(loan, ct)
	schedule, err := engine.GenerateSchedule(terms)
	if err != nil {
		return nil, err
	}
	state := engine.State(terms, schedule, historyFor(payments), time.Now())

	ref, err := engine.ComputeRefinance(state.PrincipalBalance, in.RequestedAmount)
	if err != nil {
		return nil, err
	}

	// Settle the old loan with a synthetic all-principal payment.
	receipt, err := l.storage.NextReceiptNumber()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	payoff := &models.Payment{
		ID:            uuid.New(),
		LoanID:        loan.ID,
		Amount:        ref.Payoff,
		Principal:     ref.Payoff,
		Interest:      decimal.Zero,
		LateFee:       decimal.Zero,
		PaymentDate:   now,
		DueDate:       now,
		ReceiptNumber: receipt,
		CreatedAt:     now,
	}
	if err := l.storage.CreatePayment(payoff); err != nil {
		return nil, fmt.Errorf("failed to store payoff payment: %w", err)
	}

	loan.Status = models.LoanStatusPaid
	if err := l.storage.UpdateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to close old loan: %w", err)
	}

	oldID := loan.ID
	newLoan := &models.Loan{
		ID:               uuid.New(),
		ClientID:         loan.ClientID,
		CreditTypeID:     loan.CreditTypeID,
		Amount:           in.RequestedAmount,
		InterestRate:     ct.InterestRate,
		TermMonths:       in.RequestedTerm,
		Status:           models.LoanStatusActive,
		ApprovedDate:     now,
		FirstPaymentDate: in.FirstPaymentDate,
		GuarantorName:    loan.GuarantorName,
		GuarantorPhone:   loan.GuarantorPhone,
		RefinancedFrom:   &oldID,
		CreatedAt:        now,
	}
	if err := l.storage.CreateLoan(newLoan); err != nil {
		return nil, fmt.Errorf("failed to create refinanced loan: %w", err)
	}

	l.log.WithFields(logrus.Fields{
		"old_loan": oldID,
		"new_loan": newLoan.ID,
		"payoff":   ref.Payoff.StringFixed(2),
		"cash_out": ref.CashToClient.StringFixed(2),
	}).Info("loan refinanced")

	return &RefinanceResult{
		OldLoan:      loan,
		NewLoan:      newLoan,
		Payoff:       ref.Payoff,
		CashToClient: ref.CashToClient,
	}, nil
}
