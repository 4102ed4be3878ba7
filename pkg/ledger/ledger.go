// Package ledger holds the business logic for clients, loan products, loan
// requests, loans and payments. It orchestrates the storage layer and the
// pure calculation engine; all money math lives in the engine.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/jramosf/prestadora/pkg/engine"
	"github.com/jramosf/prestadora/pkg/models"
	"github.com/jramosf/prestadora/pkg/store"
)

var (
	// ErrInactiveLoan is returned when a payment or refinance is attempted
	// against a loan that is not active.
	ErrInactiveLoan = errors.New("loan is not active")
	// ErrClientHasActiveLoans blocks deleting a client who still owes money.
	ErrClientHasActiveLoans = errors.New("client has active loans")
	// ErrCreditTypeInUse blocks deleting a credit type referenced by loans.
	ErrCreditTypeInUse = errors.New("credit type is referenced by loans")
	// ErrRequestNotPending is returned when approving or rejecting a
	// request that has already been decided.
	ErrRequestNotPending = errors.New("loan request is not pending")
	// ErrTermExceedsMax is returned when a requested term is longer than
	// the credit type allows.
	ErrTermExceedsMax = errors.New("requested term exceeds credit type maximum")
	// ErrValidation covers malformed input fields.
	ErrValidation = errors.New("validation failed")
)

// Ledger handles the business logic for the lending portfolio.
type Ledger struct {
	storage store.Storage
	log     *logrus.Logger

	// One logical payment registration at a time per loan: the waterfall
	// reconstruction assumes it sees a complete, settled prior history.
	loanLocks sync.Map // uuid.UUID -> *sync.Mutex
}

// New creates a Ledger over the given Storage implementation.
func New(s store.Storage, log *logrus.Logger) *Ledger {
	return &Ledger{storage: s, log: log}
}

func (l *Ledger) lockLoan(id uuid.UUID) func() {
	mu, _ := l.loanLocks.LoadOrStore(id, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// termsFor translates a persisted loan and its credit type into engine
// terms. The loan carries the frozen rate; the credit type carries cadence
// and interest method.
func termsFor(loan *models.Loan, ct *models.CreditType) engine.LoanTerms {
	return engine.LoanTerms{
		Principal: loan.Amount,
		Rate:      loan.InterestRate,
		TermCount: loan.TermMonths,
		StartDate: loan.FirstPaymentDate,
		Frequency: engine.Frequency(ct.Frequency),
		Method:    engine.InterestMethod(ct.InterestType),
	}
}

// historyFor converts persisted payments into the engine's ledger records.
func historyFor(payments []*models.Payment) []engine.PaymentRecord {
	history := make([]engine.PaymentRecord, 0, len(payments))
	for _, p := range payments {
		history = append(history, engine.PaymentRecord{
			Amount:      p.Amount,
			Principal:   p.Principal,
			Interest:    p.Interest,
			LateFee:     p.LateFee,
			PaymentDate: p.PaymentDate,
			DueDate:     p.DueDate,
		})
	}
	return history
}

// --- Clients ---

// CreateClient registers a new borrower.
func (l *Ledger) CreateClient(fullName, idNumber, phone, email, address string) (*models.Client, error) {
	if fullName == "" || idNumber == "" {
		return nil, fmt.Errorf("%w: full name and ID number are required", ErrValidation)
	}
	client := &models.Client{
		ID:        uuid.New(),
		FullName:  fullName,
		IDNumber:  idNumber,
		Phone:     phone,
		Email:     email,
		Address:   address,
		Status:    "active",
		CreatedAt: time.Now(),
	}
	if err := l.storage.CreateClient(client); err != nil {
		return nil, fmt.Errorf("failed to store client: %w", err)
	}
	l.log.WithField("client_id", client.ID).Info("client created")
	return client, nil
}

// GetClient retrieves a client by ID.
func (l *Ledger) GetClient(id uuid.UUID) (*models.Client, error) {
	return l.storage.GetClient(id)
}

// ListClients returns clients, optionally filtered by a name or ID-number
// search string.
func (l *Ledger) ListClients(search string) ([]*models.Client, error) {
	return l.storage.GetAllClients(search)
}

// UpdateClient updates a client's contact data and status.
func (l *Ledger) UpdateClient(client *models.Client) error {
	if client.FullName == "" || client.IDNumber == "" {
		return fmt.Errorf("%w: full name and ID number are required", ErrValidation)
	}
	return l.storage.UpdateClient(client)
}

// DeleteClient removes a client, refusing while they hold active loans.
func (l *Ledger) DeleteClient(id uuid.UUID) error {
	active, err := l.storage.CountLoansForClient(id, models.LoanStatusActive)
	if err != nil {
		return err
	}
	if active > 0 {
		return ErrClientHasActiveLoans
	}
	return l.storage.DeleteClient(id)
}

// --- Credit types ---

// CreateCreditType registers a loan product.
func (l *Ledger) CreateCreditType(ct *models.CreditType) (*models.CreditType, error) {
	if err := validateCreditType(ct); err != nil {
		return nil, err
	}
	ct.ID = uuid.New()
	ct.CreatedAt = time.Now()
	if err := l.storage.CreateCreditType(ct); err != nil {
		return nil, fmt.Errorf("failed to store credit type: %w", err)
	}
	l.log.WithField("credit_type", ct.Name).Info("credit type created")
	return ct, nil
}

// GetCreditType retrieves a credit type by ID.
func (l *Ledger) GetCreditType(id uuid.UUID) (*models.CreditType, error) {
	return l.storage.GetCreditType(id)
}

// ListCreditTypes returns all credit types.
func (l *Ledger) ListCreditTypes() ([]*models.CreditType, error) {
	return l.storage.GetAllCreditTypes()
}

// UpdateCreditType updates a loan product. Existing loans keep the rate
// they were approved with.
func (l *Ledger) UpdateCreditType(ct *models.CreditType) error {
	if err := validateCreditType(ct); err != nil {
		return err
	}
	return l.storage.UpdateCreditType(ct)
}

// DeleteCreditType removes a loan product unless loans reference it.
func (l *Ledger) DeleteCreditType(id uuid.UUID) error {
	count, err := l.storage.CountLoansForCreditType(id)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrCreditTypeInUse
	}
	return l.storage.DeleteCreditType(id)
}

func validateCreditType(ct *models.CreditType) error {
	if ct.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if ct.MaxTermMonths <= 0 {
		return fmt.Errorf("%w: max term must be positive", ErrValidation)
	}
	if ct.InterestRate.IsNegative() || ct.LateFeeRate.IsNegative() {
		return fmt.Errorf("%w: rates must not be negative", ErrValidation)
	}
	switch engine.Frequency(ct.Frequency) {
	case engine.FrequencyWeekly, engine.FrequencyBiweekly, engine.FrequencyMonthly:
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrValidation, ct.Frequency)
	}
	switch engine.InterestMethod(ct.InterestType) {
	case engine.InterestFlat, engine.InterestReducing:
	default:
		return fmt.Errorf("%w: unknown interest type %q", ErrValidation, ct.InterestType)
	}
	return nil
}

// --- Loan requests ---

// CreateLoanRequest files a loan application for a client.
func (l *Ledger) CreateLoanRequest(clientID, creditTypeID uuid.UUID, amount decimal.Decimal, term int, notes string) (*models.LoanRequest, error) {
	if amount.LessThanOrEqual(decimal.Zero) || term <= 0 {
		return nil, fmt.Errorf("%w: amount and term must be positive", ErrValidation)
	}
	if _, err := l.storage.GetClient(clientID); err != nil {
		return nil, err
	}
	ct, err := l.storage.GetCreditType(creditTypeID)
	if err != nil {
		return nil, err
	}
	if !ct.Active {
		return nil, fmt.Errorf("%w: credit type %s is inactive", ErrValidation, ct.Name)
	}
	if term > ct.MaxTermMonths {
		return nil, fmt.Errorf("%w: max is %d", ErrTermExceedsMax, ct.MaxTermMonths)
	}

	req := &models.LoanRequest{
		ID:              uuid.New(),
		ClientID:        clientID,
		CreditTypeID:    creditTypeID,
		RequestedAmount: amount,
		RequestedTerm:   term,
		Status:          models.RequestStatusPending,
		Notes:           notes,
		CreatedAt:       time.Now(),
	}
	if err := l.storage.CreateLoanRequest(req); err != nil {
		return nil, fmt.Errorf("failed to store loan request: %w", err)
	}
	return req, nil
}

// GetLoanRequest retrieves a loan request by ID.
func (l *Ledger) GetLoanRequest(id uuid.UUID) (*models.LoanRequest, error) {
	return l.storage.GetLoanRequest(id)
}

// ListLoanRequests returns loan requests, optionally filtered by status.
func (l *Ledger) ListLoanRequests(status string) ([]*models.LoanRequest, error) {
	return l.storage.GetAllLoanRequests(status)
}

// ApproveLoanRequest turns a pending request into an active loan. The loan
// is stamped with the credit type's current interest rate; later product
// changes do not touch it.
func (l *Ledger) ApproveLoanRequest(requestID uuid.UUID, firstPaymentDate time.Time) (*models.Loan, error) {
	req, err := l.storage.GetLoanRequest(requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.RequestStatusPending {
		return nil, ErrRequestNotPending
	}
	if firstPaymentDate.IsZero() {
		return nil, fmt.Errorf("%w: first payment date is required", ErrValidation)
	}
	ct, err := l.storage.GetCreditType(req.CreditTypeID)
	if err != nil {
		return nil, err
	}

	req.Status = models.RequestStatusApproved
	if err := l.storage.UpdateLoanRequest(req); err != nil {
		return nil, err
	}

	loan := &models.Loan{
		ID:               uuid.New(),
		ClientID:         req.ClientID,
		CreditTypeID:     req.CreditTypeID,
		Amount:           req.RequestedAmount,
		InterestRate:     ct.InterestRate,
		TermMonths:       req.RequestedTerm,
		Status:           models.LoanStatusActive,
		ApprovedDate:     time.Now(),
		FirstPaymentDate: firstPaymentDate,
		CreatedAt:        time.Now(),
	}
	if err := l.storage.CreateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}

	l.log.WithFields(logrus.Fields{
		"loan_id":   loan.ID,
		"client_id": loan.ClientID,
		"amount":    loan.Amount.StringFixed(2),
	}).Info("loan request approved")
	return loan, nil
}

// RejectLoanRequest marks a pending request as rejected.
func (l *Ledger) RejectLoanRequest(requestID uuid.UUID, notes string) (*models.LoanRequest, error) {
	req, err := l.storage.GetLoanRequest(requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.RequestStatusPending {
		return nil, ErrRequestNotPending
	}
	req.Status = models.RequestStatusRejected
	if notes != "" {
		req.Notes = notes
	}
	if err := l.storage.UpdateLoanRequest(req); err != nil {
		return nil, err
	}
	return req, nil
}

// --- Loans ---

// LoanDetail is a loan plus its reconstructed financial state.
type LoanDetail struct {
	Loan             *models.Loan      `json:"loan"`
	Payments         []*models.Payment `json:"payments"`
	PrincipalBalance decimal.Decimal   `json:"principal_balance"`
	InterestBalance  decimal.Decimal   `json:"interest_balance"`
}

// GetLoanDetail returns a loan with its payments and outstanding balances,
// reconstructed from the payment ledger.
func (l *Ledger) GetLoanDetail(id uuid.UUID) (*LoanDetail, error) {
	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	ct, err := l.storage.GetCreditType(loan.CreditTypeID)
	if err != nil {
		return nil, err
	}
	payments, err := l.storage.GetPaymentsForLoan(id)
	if err != nil {
		return nil, err
	}

	terms := termsFor(loan, ct)
	schedule, err := engine.GenerateSchedule(terms)
	if err != nil {
		return nil, err
	}
	state := engine.State(terms, schedule, historyFor(payments), time.Now())

	return &LoanDetail{
		Loan:             loan,
		Payments:         payments,
		PrincipalBalance: state.PrincipalBalance,
		InterestBalance:  state.InterestBalance,
	}, nil
}

// ListLoans returns loans filtered by status and/or client.
func (l *Ledger) ListLoans(filter store.LoanFilter) ([]*models.Loan, error) {
	return l.storage.GetAllLoans(filter)
}

// LoanSchedule returns the loan's amortization table annotated with
// paid/partial/pending/projected status per row.
func (l *Ledger) LoanSchedule(id uuid.UUID) ([]engine.ScheduleRow, error) {
	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	ct, err := l.storage.GetCreditType(loan.CreditTypeID)
	if err != nil {
		return nil, err
	}
	payments, err := l.storage.GetPaymentsForLoan(id)
	if err != nil {
		return nil, err
	}

	terms := termsFor(loan, ct)
	schedule, err := engine.GenerateSchedule(terms)
	if err != nil {
		return nil, err
	}
	return engine.State(terms, schedule, historyFor(payments), time.Now()).Rows, nil
}

// UpdateLoanStatus manually transitions a loan's status.
func (l *Ledger) UpdateLoanStatus(id uuid.UUID, status string) (*models.Loan, error) {
	switch status {
	case models.LoanStatusActive, models.LoanStatusPaid, models.LoanStatusDefaulted, models.LoanStatusCancelled:
	default:
		return nil, fmt.Errorf("%w: unknown loan status %q", ErrValidation, status)
	}
	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	loan.Status = status
	if err := l.storage.UpdateLoan(loan); err != nil {
		return nil, err
	}
	l.log.WithFields(logrus.Fields{"loan_id": id, "status": status}).Info("loan status updated")
	return loan, nil
}

// --- Expenses ---

// CreateExpense records an operational expense.
func (l *Ledger) CreateExpense(description string, amount decimal.Decimal, category string, expenseDate time.Time, notes string) (*models.Expense, error) {
	if description == "" || amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: description and a positive amount are required", ErrValidation)
	}
	expense := &models.Expense{
		ID:          uuid.New(),
		Description: description,
		Amount:      amount,
		Category:    category,
		ExpenseDate: expenseDate,
		Notes:       notes,
		CreatedAt:   time.Now(),
	}
	if err := l.storage.CreateExpense(expense); err != nil {
		return nil, fmt.Errorf("failed to store expense: %w", err)
	}
	return expense, nil
}

// ListExpenses returns all recorded expenses.
func (l *Ledger) ListExpenses() ([]*models.Expense, error) {
	return l.storage.GetAllExpenses()
}

// DeleteExpense removes an expense record.
func (l *Ledger) DeleteExpense(id uuid.UUID) error {
	return l.storage.DeleteExpense(id)
}
