package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jramosf/prestadora/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// LoanFilter narrows GetAllLoans. Zero values mean "no filter".
type LoanFilter struct {
	Status   string
	ClientID uuid.UUID
}

// PaymentFilter narrows GetAllPayments. Zero values mean "no filter".
type PaymentFilter struct {
	LoanID uuid.UUID
	From   time.Time
	To     time.Time
}

// Storage defines the persistence operations the ledger depends on.
// Decimal amounts are stored as TEXT so no precision is lost; as a
// consequence all monetary aggregation happens in Go, not in SQL.
type Storage interface {
	CreateClient(client *models.Client) error
	GetClient(id uuid.UUID) (*models.Client, error)
	UpdateClient(client *models.Client) error
	DeleteClient(id uuid.UUID) error
	GetAllClients(search string) ([]*models.Client, error)

	CreateCreditType(ct *models.CreditType) error
	GetCreditType(id uuid.UUID) (*models.CreditType, error)
	UpdateCreditType(ct *models.CreditType) error
	DeleteCreditType(id uuid.UUID) error
	GetAllCreditTypes() ([]*models.CreditType, error)

	CreateLoanRequest(req *models.LoanRequest) error
	GetLoanRequest(id uuid.UUID) (*models.LoanRequest, error)
	UpdateLoanRequest(req *models.LoanRequest) error
	GetAllLoanRequests(status string) ([]*models.LoanRequest, error)

	CreateLoan(loan *models.Loan) error
	GetLoan(id uuid.UUID) (*models.Loan, error)
	UpdateLoan(loan *models.Loan) error
	GetAllLoans(filter LoanFilter) ([]*models.Loan, error)
	CountLoansForClient(clientID uuid.UUID, status string) (int, error)
	CountLoansForCreditType(creditTypeID uuid.UUID) (int, error)

	CreatePayment(payment *models.Payment) error
	GetPayment(id uuid.UUID) (*models.Payment, error)
	GetPaymentsForLoan(loanID uuid.UUID) ([]*models.Payment, error)
	GetAllPayments(filter PaymentFilter) ([]*models.Payment, error)
	NextReceiptNumber() (int64, error)

	CreateExpense(expense *models.Expense) error
	DeleteExpense(id uuid.UUID) error
	GetAllExpenses() ([]*models.Expense, error)

	Close() error
}
