package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/jramosf/prestadora/pkg/engine"
	"github.com/jramosf/prestadora/pkg/models"
	"github.com/jramosf/prestadora/pkg/store"
)

// PaymentInput is a request to register a payment against a loan.
type PaymentInput struct {
	LoanID          uuid.UUID
	Amount          decimal.Decimal
	PaymentDate     time.Time
	DueDate         time.Time
	ApplicationType engine.ApplicationType // defaults to the waterfall
}

// RegisterPayment allocates and persists a payment. The engine decides the
// late fee / interest / principal split from the loan's schedule and full
// payment history; the loan flips to paid once cumulative principal covers
// the original amount. Registrations are serialized per loan.
func (l *Ledger) RegisterPayment(in PaymentInput) (*models.Payment, error) {
	if in.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if in.PaymentDate.IsZero() || in.DueDate.IsZero() {
		return nil, fmt.Errorf("%w: payment date and due date are required", ErrValidation)
	}
	if in.ApplicationType == "" {
		in.ApplicationType = engine.ApplyBoth
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
	payments, err := l.storage.GetPaymentsForLoan(in.LoanID)
	if err != nil {
		return nil, err
	}

	terms := termsFor(loan, ct)
	schedule, err := engine.GenerateSchedule(terms)
	if err != nil {
		return nil, err
	}
	history := historyFor(payments)

	alloc, err := engine.Allocate(terms, schedule, history, engine.PaymentRequest{
		Amount:      in.Amount,
		PaymentDate: in.PaymentDate,
		DueDate:     in.DueDate,
		Type:        in.ApplicationType,
		LateFeeRate: ct.LateFeeRate,
		GraceDays:   ct.GraceDays,
		AsOf:        time.Now(),
	})
	if err != nil {
		return nil, err
	}

	receipt, err := l.storage.NextReceiptNumber()
	if err != nil {
		return nil, err
	}
	payment := &models.Payment{
		ID:            uuid.New(),
		LoanID:        in.LoanID,
		Amount:        in.Amount,
		Principal:     alloc.Principal,
		Interest:      alloc.Interest,
		LateFee:       alloc.LateFee,
		PaymentDate:   in.PaymentDate,
		DueDate:       in.DueDate,
		ReceiptNumber: receipt,
		CreatedAt:     time.Now(),
	}
	if err := l.storage.CreatePayment(payment); err != nil {
		return nil, fmt.Errorf("failed to store payment: %w", err)
	}

	// The loan is settled once cumulative principal covers the amount lent.
	totalPrincipal := alloc.Principal
	for _, p := range payments {
		totalPrincipal = totalPrincipal.Add(p.Principal)
	}
	if totalPrincipal.GreaterThanOrEqual(loan.Amount) {
		loan.Status = models.LoanStatusPaid
		if err := l.storage.UpdateLoan(loan); err != nil {
			return nil, fmt.Errorf("failed to mark loan paid: %w", err)
		}
		l.log.WithField("loan_id", loan.ID).Info("loan fully paid")
	}

	l.log.WithFields(logrus.Fields{
		"loan_id":   in.LoanID,
		"receipt":   receipt,
		"amount":    in.Amount.StringFixed(2),
		"principal": alloc.Principal.StringFixed(2),
		"interest":  alloc.Interest.StringFixed(2),
		"late_fee":  alloc.LateFee.StringFixed(2),
	}).Info("payment registered")
	return payment, nil
}

// ListPayments returns payments matching the filter, newest first.
func (l *Ledger) ListPayments(filter store.PaymentFilter) ([]*models.Payment, error) {
	return l.storage.GetAllPayments(filter)
}

// GetPayment retrieves a payment by ID.
func (l *Ledger) GetPayment(id uuid.UUID) (*models.Payment, error) {
	return l.storage.GetPayment(id)
}

// OverdueLoan describes an active loan whose next expected installment is
// past its grace period.
type OverdueLoan struct {
	Loan              *models.Loan `json:"loan"`
	ClientName        string       `json:"client_name"`
	NextPaymentDate   time.Time    `json:"next_payment_date"`
	DaysLate          int          `json:"days_late"`
	EffectiveDaysLate int          `json:"effective_days_late"`
	PaymentsMade      int          `json:"payments_made"`
}

// OverdueLoans walks every active loan and reports the ones whose next
// expected payment is overdue beyond the grace period, ordered worst first.
// The next due date is derived from how many payments the ledger records,
// matching the collection workflow: one payment expected per period.
func (l *Ledger) OverdueLoans(asOf time.Time) ([]OverdueLoan, error) {
	loans, err := l.storage.GetAllLoans(store.LoanFilter{Status: models.LoanStatusActive})
	if err != nil {
		return nil, err
	}

	var overdue []OverdueLoan
	for _, loan := range loans {
		ct, err := l.storage.GetCreditType(loan.CreditTypeID)
		if err != nil {
			return nil, err
		}
		payments, err := l.storage.GetPaymentsForLoan(loan.ID)
		if err != nil {
			return nil, err
		}

		made := len(payments)
		nextDue := engine.DueDate(loan.FirstPaymentDate, made, engine.Frequency(ct.Frequency))
		daysLate := engine.DaysLate(nextDue, asOf)
		if daysLate <= ct.GraceDays {
			continue
		}

		client, err := l.storage.GetClient(loan.ClientID)
		if err != nil {
			return nil, err
		}
		overdue = append(overdue, OverdueLoan{
			Loan:              loan,
			ClientName:        client.FullName,
			NextPaymentDate:   nextDue,
			DaysLate:          daysLate,
			EffectiveDaysLate: daysLate - ct.GraceDays,
			PaymentsMade:      made,
		})
	}

	// Worst offenders first.
	sort.Slice(overdue, func(i, j int) bool {
		return overdue[i].DaysLate > overdue[j].DaysLate
	})
	return overdue, nil
}
