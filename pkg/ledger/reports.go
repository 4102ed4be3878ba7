package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jramosf/prestadora/pkg/engine"
	"github.com/jramosf/prestadora/pkg/models"
	"github.com/jramosf/prestadora/pkg/store"
)

// Monetary aggregation happens here rather than in SQL: decimals live in
// TEXT columns, so summing them is the ledger's job.

// PortfolioSummary is the headline view of the whole book.
type PortfolioSummary struct {
	TotalLent        decimal.Decimal `json:"total_lent"`
	TotalCollected   decimal.Decimal `json:"total_collected"`
	TotalPending     decimal.Decimal `json:"total_pending"`
	TotalInterest    decimal.Decimal `json:"total_interest"`
	TotalLateFees    decimal.Decimal `json:"total_late_fees"`
	ActiveLoansCount int             `json:"active_loans_count"`
	PaidLoansCount   int             `json:"paid_loans_count"`
	RecoveryRate     decimal.Decimal `json:"recovery_rate"` // percent
}

// GetPortfolioSummary aggregates the active portfolio and lifetime
// collections.
func (l *Ledger) GetPortfolioSummary() (*PortfolioSummary, error) {
	activeLoans, err := l.storage.GetAllLoans(store.LoanFilter{Status: models.LoanStatusActive})
	if err != nil {
		return nil, err
	}
	paidLoans, err := l.storage.GetAllLoans(store.LoanFilter{Status: models.LoanStatusPaid})
	if err != nil {
		return nil, err
	}
	allPayments, err := l.storage.GetAllPayments(store.PaymentFilter{})
	if err != nil {
		return nil, err
	}

	summary := &PortfolioSummary{
		ActiveLoansCount: len(activeLoans),
		PaidLoansCount:   len(paidLoans),
		TotalLent:        decimal.Zero,
		TotalCollected:   decimal.Zero,
		TotalPending:     decimal.Zero,
		TotalInterest:    decimal.Zero,
		TotalLateFees:    decimal.Zero,
	}
	for _, loan := range activeLoans {
		summary.TotalLent = summary.TotalLent.Add(loan.Amount)
	}
	for _, p := range allPayments {
		summary.TotalCollected = summary.TotalCollected.Add(p.Principal)
		summary.TotalInterest = summary.TotalInterest.Add(p.Interest)
		summary.TotalLateFees = summary.TotalLateFees.Add(p.LateFee)
	}

	// Pending principal per active loan, from each loan's own ledger.
	for _, loan := range activeLoans {
		payments, err := l.storage.GetPaymentsForLoan(loan.ID)
		if err != nil {
			return nil, err
		}
		paid := decimal.Zero
		for _, p := range payments {
			paid = paid.Add(p.Principal)
		}
		summary.TotalPending = summary.TotalPending.Add(loan.Amount.Sub(paid))
	}

	if summary.TotalLent.GreaterThan(decimal.Zero) {
		summary.RecoveryRate = summary.TotalCollected.Div(summary.TotalLent).Mul(decimal.NewFromInt(100)).Round(2)
	} else {
		summary.RecoveryRate = decimal.Zero
	}
	return summary, nil
}

// CollectionMetrics summarizes payments taken in a period.
type CollectionMetrics struct {
	Period         string          `json:"period"`
	StartDate      time.Time       `json:"start_date"`
	EndDate        time.Time       `json:"end_date"`
	PaymentsCount  int             `json:"payments_count"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	TotalPrincipal decimal.Decimal `json:"total_principal"`
	TotalInterest  decimal.Decimal `json:"total_interest"`
	TotalLateFee   decimal.Decimal `json:"total_late_fee"`
}

// GetCollectionMetrics sums collections for "today", "week" (since Sunday)
// or "month" (since the 1st); anything else defaults to month.
func (l *Ledger) GetCollectionMetrics(period string, asOf time.Time) (*CollectionMetrics, error) {
	start := periodStart(period, asOf)
	payments, err := l.storage.GetAllPayments(store.PaymentFilter{From: start, To: asOf})
	if err != nil {
		return nil, err
	}

	metrics := &CollectionMetrics{
		Period:         period,
		StartDate:      start,
		EndDate:        asOf,
		PaymentsCount:  len(payments),
		TotalAmount:    decimal.Zero,
		TotalPrincipal: decimal.Zero,
		TotalInterest:  decimal.Zero,
		TotalLateFee:   decimal.Zero,
	}
	for _, p := range payments {
		metrics.TotalAmount = metrics.TotalAmount.Add(p.Amount)
		metrics.TotalPrincipal = metrics.TotalPrincipal.Add(p.Principal)
		metrics.TotalInterest = metrics.TotalInterest.Add(p.Interest)
		metrics.TotalLateFee = metrics.TotalLateFee.Add(p.LateFee)
	}
	return metrics, nil
}

func periodStart(period string, asOf time.Time) time.Time {
	midnight := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, asOf.Location())
	switch period {
	case "today":
		return midnight
	case "week":
		return midnight.AddDate(0, 0, -int(midnight.Weekday()))
	default: // month
		return time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, asOf.Location())
	}
}

// InterestAnalysis compares interest already collected with interest still
// expected from the active portfolio.
type InterestAnalysis struct {
	TotalCollected    decimal.Decimal `json:"total_collected"`
	TotalPending      decimal.Decimal `json:"total_pending"`
	ThisMonthInterest decimal.Decimal `json:"this_month_interest"`
	TotalExpected     decimal.Decimal `json:"total_expected"`
}

// GetInterestAnalysis reports collected vs pending interest. Pending
// interest per active loan is the scheduled total minus what its ledger
// shows paid, which keeps flat and reducing-balance loans honest alike.
func (l *Ledger) GetInterestAnalysis(asOf time.Time) (*InterestAnalysis, error) {
	allPayments, err := l.storage.GetAllPayments(store.PaymentFilter{})
	if err != nil {
		return nil, err
	}
	collected := decimal.Zero
	for _, p := range allPayments {
		collected = collected.Add(p.Interest)
	}

	monthPayments, err := l.storage.GetAllPayments(store.PaymentFilter{From: periodStart("month", asOf), To: asOf})
	if err != nil {
		return nil, err
	}
	thisMonth := decimal.Zero
	for _, p := range monthPayments {
		thisMonth = thisMonth.Add(p.Interest)
	}

	activeLoans, err := l.storage.GetAllLoans(store.LoanFilter{Status: models.LoanStatusActive})
	if err != nil {
		return nil, err
	}
	pending := decimal.Zero
	for _, loan := range activeLoans {
		ct, err := l.storage.GetCreditType(loan.CreditTypeID)
		if err != nil {
			return nil, err
		}
		schedule, err := engine.GenerateSchedule(termsFor(loan, ct))
		if err != nil {
			return nil, err
		}
		scheduled := decimal.Zero
		for _, inst := range schedule {
			scheduled = scheduled.Add(inst.Interest)
		}
		payments, err := l.storage.GetPaymentsForLoan(loan.ID)
		if err != nil {
			return nil, err
		}
		paid := decimal.Zero
		for _, p := range payments {
			paid = paid.Add(p.Interest)
		}
		pending = pending.Add(scheduled.Sub(paid))
	}

	return &InterestAnalysis{
		TotalCollected:    collected.Round(2),
		TotalPending:      pending.Round(2),
		ThisMonthInterest: thisMonth.Round(2),
		TotalExpected:     collected.Add(pending).Round(2),
	}, nil
}

// OverdueAnalysis summarizes the overdue slice of the active portfolio.
type OverdueAnalysis struct {
	OverdueAmount     decimal.Decimal      `json:"overdue_amount"`
	OverdueCount      int                  `json:"overdue_count"`
	AverageDaysLate   int                  `json:"average_days_late"`
	OverduePercentage decimal.Decimal      `json:"overdue_percentage"`
	OverdueLoans      []OverdueLoanSummary `json:"overdue_loans"`
}

// OverdueLoanSummary is one delinquent loan in the overdue report.
type OverdueLoanSummary struct {
	LoanID         string          `json:"loan_id"`
	ClientName     string          `json:"client_name"`
	Balance        decimal.Decimal `json:"balance"`
	DaysLate       int             `json:"days_late"`
	PaymentsMissed int             `json:"payments_missed"`
}

// GetOverdueAnalysis measures delinquency: a loan is behind when it has
// fewer payments than schedule rows already due. Reports the worst ten.
func (l *Ledger) GetOverdueAnalysis(asOf time.Time) (*OverdueAnalysis, error) {
	activeLoans, err := l.storage.GetAllLoans(store.LoanFilter{Status: models.LoanStatusActive})
	if err != nil {
		return nil, err
	}

	analysis := &OverdueAnalysis{
		OverdueAmount:     decimal.Zero,
		OverduePercentage: decimal.Zero,
	}
	totalActiveBalance := decimal.Zero
	totalDaysLate := 0

	for _, loan := range activeLoans {
		ct, err := l.storage.GetCreditType(loan.CreditTypeID)
		if err != nil {
			return nil, err
		}
		schedule, err := engine.GenerateSchedule(termsFor(loan, ct))
		if err != nil {
			return nil, err
		}
		payments, err := l.storage.GetPaymentsForLoan(loan.ID)
		if err != nil {
			return nil, err
		}

		paid := decimal.Zero
		for _, p := range payments {
			paid = paid.Add(p.Principal)
		}
		balance := loan.Amount.Sub(paid)
		totalActiveBalance = totalActiveBalance.Add(balance)

		expected := 0
		for _, inst := range schedule {
			if !inst.DueDate.After(asOf) {
				expected++
			}
		}
		made := len(payments)
		if made >= expected {
			continue
		}

		nextDue := engine.DueDate(loan.FirstPaymentDate, made, engine.Frequency(ct.Frequency))
		daysLate := engine.DaysLate(nextDue, asOf)

		analysis.OverdueAmount = analysis.OverdueAmount.Add(balance)
		analysis.OverdueCount++
		totalDaysLate += daysLate

		client, err := l.storage.GetClient(loan.ClientID)
		if err != nil {
			return nil, err
		}
		if len(analysis.OverdueLoans) < 10 {
			analysis.OverdueLoans = append(analysis.OverdueLoans, OverdueLoanSummary{
				LoanID:         loan.ID.String(),
				ClientName:     client.FullName,
				Balance:        balance.Round(2),
				DaysLate:       daysLate,
				PaymentsMissed: expected - made,
			})
		}
	}

	if analysis.OverdueCount > 0 {
		analysis.AverageDaysLate = totalDaysLate / analysis.OverdueCount
	}
	if totalActiveBalance.GreaterThan(decimal.Zero) {
		analysis.OverduePercentage = analysis.OverdueAmount.Div(totalActiveBalance).Mul(decimal.NewFromInt(100)).Round(2)
	}
	analysis.OverdueAmount = analysis.OverdueAmount.Round(2)
	return analysis, nil
}

// DailyCollections lists the payments taken on one calendar day.
type DailyCollections struct {
	Date        time.Time         `json:"date"`
	Collections []*models.Payment `json:"collections"`
	Count       int               `json:"count"`
	Total       decimal.Decimal   `json:"total"`
}

// GetDailyCollections returns all payments dated on the given day.
func (l *Ledger) GetDailyCollections(day time.Time) (*DailyCollections, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1).Add(-time.Second)

	payments, err := l.storage.GetAllPayments(store.PaymentFilter{From: start, To: end})
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return &DailyCollections{
		Date:        start,
		Collections: payments,
		Count:       len(payments),
		Total:       total.Round(2),
	}, nil
}
