package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Client is a borrower.
type Client struct {
	ID        uuid.UUID `json:"id"`
	FullName  string    `json:"full_name"`
	IDNumber  string    `json:"id_number"` // National ID, unique
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	Status    string    `json:"status"` // "active" or "inactive"
	CreatedAt time.Time `json:"created_at"`
}

// CreditType is a loan product: the rate, cadence and penalty policy that
// loans created from it inherit.
type CreditType struct {
	ID            uuid.UUID       `json:"id"`
	Name          string          `json:"name"`
	InterestRate  decimal.Decimal `json:"interest_rate"` // percent; see InterestType for semantics
	InterestType  string          `json:"interest_type"` // "flat" or "reducing"
	Frequency     string          `json:"frequency"`     // "weekly", "biweekly", "monthly"
	MaxTermMonths int             `json:"max_term_months"`
	LateFeeRate   decimal.Decimal `json:"late_fee_rate"` // percent per late installment
	GraceDays     int             `json:"grace_days"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
}

// LoanRequest statuses.
const (
	RequestStatusPending  = "pending"
	RequestStatusApproved = "approved"
	RequestStatusRejected = "rejected"
)

// LoanRequest is a client's application for a loan. Approval turns it into
// an active Loan stamped with the credit type's current rate.
type LoanRequest struct {
	ID              uuid.UUID       `json:"id"`
	ClientID        uuid.UUID       `json:"client_id"`
	CreditTypeID    uuid.UUID       `json:"credit_type_id"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	RequestedTerm   int             `json:"requested_term"`
	Status          string          `json:"status"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Loan statuses.
const (
	LoanStatusActive    = "active"
	LoanStatusPaid      = "paid"
	LoanStatusDefaulted = "defaulted"
	LoanStatusCancelled = "cancelled"
)

// Loan is a disbursed loan. Rate and term are frozen at approval time; the
// outstanding balance is never stored, it is reconstructed from the payment
// ledger.
type Loan struct {
	ID               uuid.UUID       `json:"id"`
	ClientID         uuid.UUID       `json:"client_id"`
	CreditTypeID     uuid.UUID       `json:"credit_type_id"`
	Amount           decimal.Decimal `json:"amount"`
	InterestRate     decimal.Decimal `json:"interest_rate"`
	TermMonths       int             `json:"term_months"`
	Status           string          `json:"status"`
	ApprovedDate     time.Time       `json:"approved_date"`
	FirstPaymentDate time.Time       `json:"first_payment_date"`
	GuarantorName    string          `json:"guarantor_name,omitempty"`
	GuarantorPhone   string          `json:"guarantor_phone,omitempty"`
	RefinancedFrom   *uuid.UUID      `json:"refinanced_from,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Payment is one row of a loan's payment ledger. The split across
// principal, interest and late fee is decided by the engine at registration
// time and never rewritten; Amount always equals the sum of the three.
type Payment struct {
	ID            uuid.UUID       `json:"id"`
	LoanID        uuid.UUID       `json:"loan_id"`
	Amount        decimal.Decimal `json:"amount"`
	Principal     decimal.Decimal `json:"principal"`
	Interest      decimal.Decimal `json:"interest"`
	LateFee       decimal.Decimal `json:"late_fee"`
	PaymentDate   time.Time       `json:"payment_date"`
	DueDate       time.Time       `json:"due_date"`
	ReceiptNumber int64           `json:"receipt_number"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Expense is an operational expense, tracked for reporting only.
type Expense struct {
	ID          uuid.UUID       `json:"id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category,omitempty"`
	ExpenseDate time.Time       `json:"expense_date"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
