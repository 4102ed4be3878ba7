package ledger

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jramosf/prestadora/pkg/engine"
	"github.com/jramosf/prestadora/pkg/models"
	"github.com/jramosf/prestadora/pkg/store"
)

// MockStore is an in-memory Storage implementation for testing.
type MockStore struct {
	clients     map[uuid.UUID]*models.Client
	creditTypes map[uuid.UUID]*models.CreditType
	requests    map[uuid.UUID]*models.LoanRequest
	loans       map[uuid.UUID]*models.Loan
	payments    []*models.Payment
	expenses    map[uuid.UUID]*models.Expense
	nextReceipt int64
}

func NewMockStore() *MockStore {
	return &MockStore{
		clients:     make(map[uuid.UUID]*models.Client),
		creditTypes: make(map[uuid.UUID]*models.CreditType),
		requests:    make(map[uuid.UUID]*models.LoanRequest),
		loans:       make(map[uuid.UUID]*models.Loan),
		expenses:    make(map[uuid.UUID]*models.Expense),
		nextReceipt: 1,
	}
}

func (m *MockStore) CreateClient(c *models.Client) error { m.clients[c.ID] = c; return nil }

func (m *MockStore) GetClient(id uuid.UUID) (*models.Client, error) {
	c, ok := m.clients[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (m *MockStore) UpdateClient(c *models.Client) error { m.clients[c.ID] = c; return nil }

func (m *MockStore) DeleteClient(id uuid.UUID) error {
	if _, ok := m.clients[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.clients, id)
	return nil
}

func (m *MockStore) GetAllClients(search string) ([]*models.Client, error) {
	out := []*models.Client{}
	for _, c := range m.clients {
		if search == "" || strings.Contains(c.FullName, search) || strings.Contains(c.IDNumber, search) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MockStore) CreateCreditType(ct *models.CreditType) error { m.creditTypes[ct.ID] = ct; return nil }

func (m *MockStore) GetCreditType(id uuid.UUID) (*models.CreditType, error) {
	ct, ok := m.creditTypes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return ct, nil
}

func (m *MockStore) UpdateCreditType(ct *models.CreditType) error { m.creditTypes[ct.ID] = ct; return nil }

func (m *MockStore) DeleteCreditType(id uuid.UUID) error {
	if _, ok := m.creditTypes[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.creditTypes, id)
	return nil
}

func (m *MockStore) GetAllCreditTypes() ([]*models.CreditType, error) {
	out := []*models.CreditType{}
	for _, ct := range m.creditTypes {
		out = append(out, ct)
	}
	return out, nil
}

func (m *MockStore) CreateLoanRequest(r *models.LoanRequest) error { m.requests[r.ID] = r; return nil }

func (m *MockStore) GetLoanRequest(id uuid.UUID) (*models.LoanRequest, error) {
	r, ok := m.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (m *MockStore) UpdateLoanRequest(r *models.LoanRequest) error { m.requests[r.ID] = r; return nil }

func (m *MockStore) GetAllLoanRequests(status string) ([]*models.LoanRequest, error) {
	out := []*models.LoanRequest{}
	for _, r := range m.requests {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockStore) CreateLoan(l *models.Loan) error { m.loans[l.ID] = l; return nil }

func (m *MockStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	l, ok := m.loans[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return l, nil
}

func (m *MockStore) UpdateLoan(l *models.Loan) error { m.loans[l.ID] = l; return nil }

func (m *MockStore) GetAllLoans(filter store.LoanFilter) ([]*models.Loan, error) {
	out := []*models.Loan{}
	for _, l := range m.loans {
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		if filter.ClientID != uuid.Nil && l.ClientID != filter.ClientID {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (m *MockStore) CountLoansForClient(clientID uuid.UUID, status string) (int, error) {
	n := 0
	for _, l := range m.loans {
		if l.ClientID == clientID && (status == "" || l.Status == status) {
			n++
		}
	}
	return n, nil
}

func (m *MockStore) CountLoansForCreditType(creditTypeID uuid.UUID) (int, error) {
	n := 0
	for _, l := range m.loans {
		if l.CreditTypeID == creditTypeID {
			n++
		}
	}
	return n, nil
}

func (m *MockStore) CreatePayment(p *models.Payment) error { m.payments = append(m.payments, p); return nil }

func (m *MockStore) GetPayment(id uuid.UUID) (*models.Payment, error) {
	for _, p := range m.payments {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) GetPaymentsForLoan(loanID uuid.UUID) ([]*models.Payment, error) {
	out := []*models.Payment{}
	for _, p := range m.payments {
		if p.LoanID == loanID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MockStore) GetAllPayments(filter store.PaymentFilter) ([]*models.Payment, error) {
	out := []*models.Payment{}
	for _, p := range m.payments {
		if filter.LoanID != uuid.Nil && p.LoanID != filter.LoanID {
			continue
		}
		if !filter.From.IsZero() && p.PaymentDate.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && p.PaymentDate.After(filter.To) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *MockStore) NextReceiptNumber() (int64, error) {
	n := m.nextReceipt
	m.nextReceipt++
	return n, nil
}

func (m *MockStore) CreateExpense(e *models.Expense) error { m.expenses[e.ID] = e; return nil }

func (m *MockStore) DeleteExpense(id uuid.UUID) error {
	if _, ok := m.expenses[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.expenses, id)
	return nil
}

func (m *MockStore) GetAllExpenses() ([]*models.Expense, error) {
	out := []*models.Expense{}
	for _, e := range m.expenses {
		out = append(out, e)
	}
	return out, nil
}

func (m *MockStore) Close() error { return nil }

func testLedger() (*Ledger, *MockStore) {
	s := NewMockStore()
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(s, log), s
}

// seedLoan puts an active flat-interest loan directly into the store:
// 1000 at 12% total over 12 monthly installments.
func seedLoan(s *MockStore, firstPayment time.Time) (*models.Loan, *models.CreditType, *models.Client) {
	client := &models.Client{ID: uuid.New(), FullName: "Maria Lopez", IDNumber: "001-123", Status: "active", CreatedAt: time.Now()}
	s.clients[client.ID] = client

	ct := &models.CreditType{
		ID:            uuid.New(),
		Name:          "Personal mensual",
		InterestRate:  decimal.NewFromInt(12),
		InterestType:  string(engine.InterestFlat),
		Frequency:     string(engine.FrequencyMonthly),
		MaxTermMonths: 24,
		LateFeeRate:   decimal.NewFromInt(3),
		GraceDays:     0,
		Active:        true,
		CreatedAt:     time.Now(),
	}
	s.creditTypes[ct.ID] = ct

	loan := &models.Loan{
		ID:               uuid.New(),
		ClientID:         client.ID,
		CreditTypeID:     ct.ID,
		Amount:           decimal.NewFromInt(1000),
		InterestRate:     ct.InterestRate,
		TermMonths:       12,
		Status:           models.LoanStatusActive,
		ApprovedDate:     time.Now(),
		FirstPaymentDate: firstPayment,
		GuarantorName:    "Pedro Lopez",
		GuarantorPhone:   "555-0101",
		CreatedAt:        time.Now(),
	}
	s.loans[loan.ID] = loan
	return loan, ct, client
}

func TestCreateClientValidation(t *testing.T) {
	l, _ := testLedger()

	_, err := l.CreateClient("", "001-123", "", "", "")
	assert.ErrorIs(t, err, ErrValidation)

	client, err := l.CreateClient("Maria Lopez", "001-123", "555-0100", "", "")
	require.NoError(t, err)
	assert.Equal(t, "active", client.Status)
	assert.NotEqual(t, uuid.Nil, client.ID)
}

func TestDeleteClientWithActiveLoans(t *testing.T) {
	l, s := testLedger()
	loan, _, client := seedLoan(s, time.Now().AddDate(0, 1, 0))

	err := l.DeleteClient(client.ID)
	assert.ErrorIs(t, err, ErrClientHasActiveLoans)

	loan.Status = models.LoanStatusPaid
	require.NoError(t, l.DeleteClient(client.ID))
}

func TestCreateCreditTypeValidation(t *testing.T) {
	l, _ := testLedger()

	base := func() *models.CreditType {
		return &models.CreditType{
			Name:          "Semanal",
			InterestRate:  decimal.NewFromInt(10),
			InterestType:  string(engine.InterestFlat),
			Frequency:     string(engine.FrequencyWeekly),
			MaxTermMonths: 12,
			Active:        true,
		}
	}

	ct := base()
	ct.Name = ""
	_, err := l.CreateCreditType(ct)
	assert.ErrorIs(t, err, ErrValidation)

	ct = base()
	ct.Frequency = "daily"
	_, err = l.CreateCreditType(ct)
	assert.ErrorIs(t, err, ErrValidation)

	ct = base()
	ct.InterestType = "compound"
	_, err = l.CreateCreditType(ct)
	assert.ErrorIs(t, err, ErrValidation)

	created, err := l.CreateCreditType(base())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
}

func TestDeleteCreditTypeInUse(t *testing.T) {
	l, s := testLedger()
	_, ct, _ := seedLoan(s, time.Now())

	err := l.DeleteCreditType(ct.ID)
	assert.ErrorIs(t, err, ErrCreditTypeInUse)
}

func TestLoanRequestFlow(t *testing.T) {
	l, s := testLedger()
	_, ct, client := seedLoan(s, time.Now())

	// Term beyond the product maximum is rejected up front.
	_, err := l.CreateLoanRequest(client.ID, ct.ID, decimal.NewFromInt(500), 48, "")
	assert.ErrorIs(t, err, ErrTermExceedsMax)

	req, err := l.CreateLoanRequest(client.ID, ct.ID, decimal.NewFromInt(500), 6, "equipo nuevo")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, req.Status)

	firstPayment := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	loan, err := l.ApproveLoanRequest(req.ID, firstPayment)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusActive, loan.Status)
	assert.True(t, loan.Amount.Equal(decimal.NewFromInt(500)))
	// The loan freezes the product's rate at approval time.
	assert.True(t, loan.InterestRate.Equal(ct.InterestRate))
	assert.Equal(t, firstPayment, loan.FirstPaymentDate)

	// A decided request cannot be approved or rejected again.
	_, err = l.ApproveLoanRequest(req.ID, firstPayment)
	assert.ErrorIs(t, err, ErrRequestNotPending)
	_, err = l.RejectLoanRequest(req.ID, "")
	assert.ErrorIs(t, err, ErrRequestNotPending)
}

func TestRejectLoanRequest(t *testing.T) {
	l, s := testLedger()
	_, ct, client := seedLoan(s, time.Now())

	req, err := l.CreateLoanRequest(client.ID, ct.ID, decimal.NewFromInt(500), 6, "")
	require.NoError(t, err)

	rejected, err := l.RejectLoanRequest(req.ID, "ingresos insuficientes")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusRejected, rejected.Status)
	assert.Equal(t, "ingresos insuficientes", rejected.Notes)
}

func TestRegisterPaymentAllocation(t *testing.T) {
	l, s := testLedger()
	due := time.Now().AddDate(0, 0, 7)
	loan, _, _ := seedLoan(s, due)

	p, err := l.RegisterPayment(PaymentInput{
		LoanID:      loan.ID,
		Amount:      decimal.RequireFromString("93.33"),
		PaymentDate: due,
		DueDate:     due,
	})
	require.NoError(t, err)

	// On-time installment payment splits into interest then principal.
	assert.Equal(t, "10.00", p.Interest.StringFixed(2))
	assert.Equal(t, "83.33", p.Principal.StringFixed(2))
	assert.Equal(t, "0.00", p.LateFee.StringFixed(2))
	assert.Equal(t, int64(1), p.ReceiptNumber)

	p2, err := l.RegisterPayment(PaymentInput{
		LoanID:      loan.ID,
		Amount:      decimal.RequireFromString("93.33"),
		PaymentDate: due.AddDate(0, 1, 0),
		DueDate:     due.AddDate(0, 1, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), p2.ReceiptNumber)
	assert.Equal(t, models.LoanStatusActive, loan.Status)
}

func TestRegisterPaymentInactiveLoan(t *testing.T) {
	l, s := testLedger()
	loan, _, _ := seedLoan(s, time.Now())
	loan.Status = models.LoanStatusPaid

	_, err := l.RegisterPayment(PaymentInput{
		LoanID:      loan.ID,
		Amount:      decimal.NewFromInt(50),
		PaymentDate: time.Now(),
		DueDate:     time.Now(),
	})
	assert.ErrorIs(t, err, ErrInactiveLoan)
}

func TestRegisterPaymentValidation(t *testing.T) {
	l, s := testLedger()
	loan, _, _ := seedLoan(s, time.Now())

	_, err := l.RegisterPayment(PaymentInput{LoanID: loan.ID, Amount: decimal.Zero, PaymentDate: time.Now(), DueDate: time.Now()})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = l.RegisterPayment(PaymentInput{LoanID: loan.ID, Amount: decimal.NewFromInt(50)})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestFullPayoffMarksLoanPaid(t *testing.T) {
	l, s := testLedger()
	due := time.Now().AddDate(0, 0, 7)
	loan, ct, client := seedLoan(s, due)

	// Single-installment loan: 100 at 10% flat, due in one payment of 110.
	small := &models.Loan{
		ID:               uuid.New(),
		ClientID:         client.ID,
		CreditTypeID:     ct.ID,
		Amount:           decimal.NewFromInt(100),
		InterestRate:     decimal.NewFromInt(10),
		TermMonths:       1,
		Status:           models.LoanStatusActive,
		FirstPaymentDate: due,
		CreatedAt:        time.Now(),
	}
	s.loans[small.ID] = small
	_ = loan

	p, err := l.RegisterPayment(PaymentInput{
		LoanID:      small.ID,
		Amount:      decimal.NewFromInt(110),
		PaymentDate: due,
		DueDate:     due,
	})
	require.NoError(t, err)
	assert.Equal(t, "100.00", p.Principal.StringFixed(2))
	assert.Equal(t, "10.00", p.Interest.StringFixed(2))
	assert.Equal(t, models.LoanStatusPaid, small.Status)
}

func TestGetLoanDetailBalances(t *testing.T) {
	l, s := testLedger()
	due := time.Now().AddDate(0, 0, 7)
	loan, _, _ := seedLoan(s, due)

	_, err := l.RegisterPayment(PaymentInput{
		LoanID:      loan.ID,
		Amount:      decimal.RequireFromString("93.33"),
		PaymentDate: due,
		DueDate:     due,
	})
	require.NoError(t, err)

	detail, err := l.GetLoanDetail(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, "916.67", detail.PrincipalBalance.StringFixed(2))
	assert.Len(t, detail.Payments, 1)
}

func TestOverdueLoans(t *testing.T) {
	l, s := testLedger()
	asOf := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	// First payment ten days gone, nothing paid, grace zero.
	late, _, _ := seedLoan(s, asOf.AddDate(0, 0, -10))

	overdue, err := l.OverdueLoans(asOf)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, late.ID, overdue[0].Loan.ID)
	assert.Equal(t, 10, overdue[0].DaysLate)
	assert.Equal(t, "Maria Lopez", overdue[0].ClientName)
	assert.Equal(t, 0, overdue[0].PaymentsMade)
}

func TestOverdueLoansRespectsGrace(t *testing.T) {
	l, s := testLedger()
	asOf := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	_, ct, _ := seedLoan(s, asOf.AddDate(0, 0, -2))
	ct.GraceDays = 5

	overdue, err := l.OverdueLoans(asOf)
	require.NoError(t, err)
	assert.Empty(t, overdue)
}

func TestRefinance(t *testing.T) {
	l, s := testLedger()
	loan, _, _ := seedLoan(s, time.Now().AddDate(0, 1, 0))

	res, err := l.Refinance(RefinanceInput{
		LoanID:           loan.ID,
		RequestedAmount:  decimal.NewFromInt(1500),
		RequestedTerm:    12,
		FirstPaymentDate: time.Now().AddDate(0, 1, 0),
	})
	require.NoError(t, err)

	assert.Equal(t, "1000.00", res.Payoff.StringFixed(2))
	assert.Equal(t, "500.00", res.CashToClient.StringFixed(2))
	assert.Equal(t, models.LoanStatusPaid, res.OldLoan.Status)
	assert.Equal(t, models.LoanStatusActive, res.NewLoan.Status)
	require.NotNil(t, res.NewLoan.RefinancedFrom)
	assert.Equal(t, loan.ID, *res.NewLoan.RefinancedFrom)
	assert.Equal(t, "Pedro Lopez", res.NewLoan.GuarantorName)

	// The payoff is settled with a synthetic all-principal payment.
	payments, err := s.GetPaymentsForLoan(loan.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "1000.00", payments[0].Principal.StringFixed(2))
	assert.Equal(t, "0.00", payments[0].Interest.StringFixed(2))
}

func TestRefinanceInsufficientAmount(t *testing.T) {
	l, s := testLedger()
	loan, _, _ := seedLoan(s, time.Now().AddDate(0, 1, 0))

	_, err := l.Refinance(RefinanceInput{
		LoanID:           loan.ID,
		RequestedAmount:  decimal.NewFromInt(1000),
		RequestedTerm:    12,
		FirstPaymentDate: time.Now().AddDate(0, 1, 0),
	})
	var insufficient *engine.InsufficientAmountError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "1000.00", insufficient.Payoff.StringFixed(2))
}

func TestPortfolioSummary(t *testing.T) {
	l, s := testLedger()
	due := time.Now().AddDate(0, 0, 7)
	loan, _, _ := seedLoan(s, due)

	_, err := l.RegisterPayment(PaymentInput{
		LoanID:      loan.ID,
		Amount:      decimal.RequireFromString("93.33"),
		PaymentDate: due,
		DueDate:     due,
	})
	require.NoError(t, err)

	summary, err := l.GetPortfolioSummary()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ActiveLoansCount)
	assert.Equal(t, 0, summary.PaidLoansCount)
	assert.Equal(t, "1000.00", summary.TotalLent.StringFixed(2))
	assert.Equal(t, "83.33", summary.TotalCollected.StringFixed(2))
	assert.Equal(t, "10.00", summary.TotalInterest.StringFixed(2))
	assert.Equal(t, "916.67", summary.TotalPending.StringFixed(2))
	assert.Equal(t, "8.33", summary.RecoveryRate.StringFixed(2))
}

func TestCollectionMetricsPeriods(t *testing.T) {
	l, s := testLedger()
	asOf := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	loan, _, _ := seedLoan(s, asOf)

	// One payment today, one last month; only the first lands in "today".
	s.payments = append(s.payments,
		&models.Payment{ID: uuid.New(), LoanID: loan.ID, Amount: decimal.NewFromInt(50), Principal: decimal.NewFromInt(40), Interest: decimal.NewFromInt(10), LateFee: decimal.Zero, PaymentDate: asOf.Add(-time.Hour)},
		&models.Payment{ID: uuid.New(), LoanID: loan.ID, Amount: decimal.NewFromInt(75), Principal: decimal.NewFromInt(60), Interest: decimal.NewFromInt(15), LateFee: decimal.Zero, PaymentDate: asOf.AddDate(0, -1, 0)},
	)

	today, err := l.GetCollectionMetrics("today", asOf)
	require.NoError(t, err)
	assert.Equal(t, 1, today.PaymentsCount)
	assert.Equal(t, "50.00", today.TotalAmount.StringFixed(2))

	month, err := l.GetCollectionMetrics("month", asOf)
	require.NoError(t, err)
	assert.Equal(t, 1, month.PaymentsCount)
}

func TestDailyCollections(t *testing.T) {
	l, s := testLedger()
	day := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	loan, _, _ := seedLoan(s, day)

	s.payments = append(s.payments,
		&models.Payment{ID: uuid.New(), LoanID: loan.ID, Amount: decimal.NewFromInt(50), PaymentDate: day.Add(10 * time.Hour)},
		&models.Payment{ID: uuid.New(), LoanID: loan.ID, Amount: decimal.NewFromInt(30), PaymentDate: day.AddDate(0, 0, 1)},
	)

	daily, err := l.GetDailyCollections(day)
	require.NoError(t, err)
	assert.Equal(t, 1, daily.Count)
	assert.Equal(t, "50.00", daily.Total.StringFixed(2))
}

func TestExpenses(t *testing.T) {
	l, _ := testLedger()

	_, err := l.CreateExpense("", decimal.NewFromInt(10), "oficina", time.Now(), "")
	assert.ErrorIs(t, err, ErrValidation)

	exp, err := l.CreateExpense("papeleria", decimal.RequireFromString("12.50"), "oficina", time.Now(), "")
	require.NoError(t, err)

	all, err := l.ListExpenses()
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, l.DeleteExpense(exp.ID))
	all, _ = l.ListExpenses()
	assert.Empty(t, all)
}
