package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jramosf/prestadora/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// Manually enable foreign keys and WAL mode
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the database tables if they don't already exist.
// We use TEXT for decimal fields in SQLite to ensure no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL,
		id_number TEXT UNIQUE NOT NULL,
		phone TEXT,
		email TEXT,
		address TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS credit_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		interest_type TEXT NOT NULL DEFAULT 'flat',
		frequency TEXT NOT NULL DEFAULT 'monthly',
		max_term_months INTEGER NOT NULL,
		late_fee_rate TEXT NOT NULL DEFAULT '0',
		grace_days INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS loan_requests (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		credit_type_id TEXT NOT NULL,
		requested_amount TEXT NOT NULL,
		requested_term INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		notes TEXT,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(client_id) REFERENCES clients(id),
		FOREIGN KEY(credit_type_id) REFERENCES credit_types(id)
	);
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		credit_type_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		term_months INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		approved_date DATETIME NOT NULL,
		first_payment_date DATETIME NOT NULL,
		guarantor_name TEXT,
		guarantor_phone TEXT,
		refinanced_from TEXT,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(client_id) REFERENCES clients(id),
		FOREIGN KEY(credit_type_id) REFERENCES credit_types(id)
	);
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		principal TEXT NOT NULL,
		interest TEXT NOT NULL,
		late_fee TEXT NOT NULL DEFAULT '0',
		payment_date DATETIME NOT NULL,
		due_date DATETIME NOT NULL,
		receipt_number INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		amount TEXT NOT NULL,
		category TEXT,
		expense_date DATETIME NOT NULL,
		notes TEXT,
		created_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- Clients ---

func (s *SQLiteStore) CreateClient(client *models.Client) error {
	_, err := s.db.Exec(
		`INSERT INTO clients (id, full_name, id_number, phone, email, address, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		client.ID.String(), client.FullName, client.IDNumber, client.Phone, client.Email, client.Address, client.Status, client.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetClient(id uuid.UUID) (*models.Client, error) {
	row := s.db.QueryRow(
		`SELECT id, full_name, id_number, phone, email, address, status, created_at FROM clients WHERE id = ?`,
		id.String(),
	)
	return scanClient(row)
}

func (s *SQLiteStore) UpdateClient(client *models.Client) error {
	result, err := s.db.Exec(
		`UPDATE clients SET full_name = ?, id_number = ?, phone = ?, email = ?, address = ?, status = ? WHERE id = ?`,
		client.FullName, client.IDNumber, client.Phone, client.Email, client.Address, client.Status, client.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	return requireRows(result)
}

func (s *SQLiteStore) DeleteClient(id uuid.UUID) error {
	result, err := s.db.Exec(`DELETE FROM clients WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	return requireRows(result)
}

func (s *SQLiteStore) GetAllClients(search string) ([]*models.Client, error) {
	query := `SELECT id, full_name, id_number, phone, email, address, status, created_at FROM clients`
	args := []any{}
	if search != "" {
		query += ` WHERE full_name LIKE ? OR id_number LIKE ?`
		like := "%" + search + "%"
		args = append(args, like, like)
	}
	query += ` ORDER BY full_name`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get clients: %w", err)
	}
	defer rows.Close()

	var clients []*models.Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}
	return clients, rows.Err()
}

// --- Credit types ---

func (s *SQLiteStore) CreateCreditType(ct *models.CreditType) error {
	_, err := s.db.Exec(
		`INSERT INTO credit_types (id, name, interest_rate, interest_type, frequency, max_term_months, late_fee_rate, grace_days, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ct.ID.String(), ct.Name, ct.InterestRate, ct.InterestType, ct.Frequency, ct.MaxTermMonths, ct.LateFeeRate, ct.GraceDays, ct.Active, ct.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create credit type: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCreditType(id uuid.UUID) (*models.CreditType, error) {
	row := s.db.QueryRow(
		`SELECT id, name, interest_rate, interest_type, frequency, max_term_months, late_fee_rate, grace_days, active, created_at
		FROM credit_types WHERE id = ?`,
		id.String(),
	)
	return scanCreditType(row)
}

func (s *SQLiteStore) UpdateCreditType(ct *models.CreditType) error {
	result, err := s.db.Exec(
		`UPDATE credit_types SET name = ?, interest_rate = ?, interest_type = ?, frequency = ?, max_term_months = ?, late_fee_rate = ?, grace_days = ?, active = ? WHERE id = ?`,
		ct.Name, ct.InterestRate, ct.InterestType, ct.Frequency, ct.MaxTermMonths, ct.LateFeeRate, ct.GraceDays, ct.Active, ct.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update credit type: %w", err)
	}
	return requireRows(result)
}

func (s *SQLiteStore) DeleteCreditType(id uuid.UUID) error {
	result, err := s.db.Exec(`DELETE FROM credit_types WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete credit type: %w", err)
	}
	return requireRows(result)
}

func (s *SQLiteStore) GetAllCreditTypes() ([]*models.CreditType, error) {
	rows, err := s.db.Query(
		`SELECT id, name, interest_rate, interest_type, frequency, max_term_months, late_fee_rate, grace_days, active, created_at
		FROM credit_types ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get credit types: %w", err)
	}
	defer rows.Close()

	var types []*models.CreditType
	for rows.Next() {
		ct, err := scanCreditType(rows)
		if err != nil {
			return nil, err
		}
		types = append(types, ct)
	}
	return types, rows.Err()
}

// --- Loan requests ---

func (s *SQLiteStore) CreateLoanRequest(req *models.LoanRequest) error {
	_, err := s.db.Exec(
		`INSERT INTO loan_requests (id, client_id, credit_type_id, requested_amount, requested_term, status, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID.String(), req.ClientID.String(), req.CreditTypeID.String(), req.RequestedAmount, req.RequestedTerm, req.Status, req.Notes, req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan request: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLoanRequest(id uuid.UUID) (*models.LoanRequest, error) {
	row := s.db.QueryRow(
		`SELECT id, client_id, credit_type_id, requested_amount, requested_term, status, notes, created_at
		FROM loan_requests WHERE id = ?`,
		id.String(),
	)
	return scanLoanRequest(row)
}

func (s *SQLiteStore) UpdateLoanRequest(req *models.LoanRequest) error {
	result, err := s.db.Exec(
		`UPDATE loan_requests SET status = ?, notes = ? WHERE id = ?`,
		req.Status, req.Notes, req.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan request: %w", err)
	}
	return requireRows(result)
}

func (s *SQLiteStore) GetAllLoanRequests(status string) ([]*models.LoanRequest, error) {
	query := `SELECT id, client_id, credit_type_id, requested_amount, requested_term, status, notes, created_at FROM loan_requests`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get loan requests: %w", err)
	}
	defer rows.Close()

	var requests []*models.LoanRequest
	for rows.Next() {
		req, err := scanLoanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// --- Loans ---

const loanColumns = `id, client_id, credit_type_id, amount, interest_rate, term_months, status, approved_date, first_payment_date, guarantor_name, guarantor_phone, refinanced_from, created_at`

func (s *SQLiteStore) CreateLoan(loan *models.Loan) error {
	var refinancedFrom any
	if loan.RefinancedFrom != nil {
		refinancedFrom = loan.RefinancedFrom.String()
	}
	_, err := s.db.Exec(
		`INSERT INTO loans (`+loanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.ClientID.String(), loan.CreditTypeID.String(), loan.Amount, loan.InterestRate, loan.TermMonths,
		loan.Status, loan.ApprovedDate, loan.FirstPaymentDate, loan.GuarantorName, loan.GuarantorPhone, refinancedFrom, loan.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	return scanLoan(row)
}

func (s *SQLiteStore) UpdateLoan(loan *models.Loan) error {
	result, err := s.db.Exec(
		`UPDATE loans SET status = ?, guarantor_name = ?, guarantor_phone = ? WHERE id = ?`,
		loan.Status, loan.GuarantorName, loan.GuarantorPhone, loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	return requireRows(result)
}

func (s *SQLiteStore) GetAllLoans(filter LoanFilter) ([]*models.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans`
	var conditions []string
	var args []any
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.ClientID != uuid.Nil {
		conditions = append(conditions, "client_id = ?")
		args = append(args, filter.ClientID.String())
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}
	return loans, rows.Err()
}

func (s *SQLiteStore) CountLoansForClient(clientID uuid.UUID, status string) (int, error) {
	query := `SELECT COUNT(*) FROM loans WHERE client_id = ?`
	args := []any{clientID.String()}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	var count int
	if err := s.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count loans for client: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) CountLoansForCreditType(creditTypeID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM loans WHERE credit_type_id = ?`, creditTypeID.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count loans for credit type: %w", err)
	}
	return count, nil
}

// --- Payments ---

const paymentColumns = `id, loan_id, amount, principal, interest, late_fee, payment_date, due_date, receipt_number, created_at`

func (s *SQLiteStore) CreatePayment(payment *models.Payment) error {
	_, err := s.db.Exec(
		`INSERT INTO payments (`+paymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID.String(), payment.LoanID.String(), payment.Amount, payment.Principal, payment.Interest, payment.LateFee,
		payment.PaymentDate, payment.DueDate, payment.ReceiptNumber, payment.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPayment(id uuid.UUID) (*models.Payment, error) {
	row := s.db.QueryRow(`SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id.String())
	return scanPayment(row)
}

// GetPaymentsForLoan returns the loan's full ledger in chronological order,
// which is the order the waterfall reconstruction replays it in.
func (s *SQLiteStore) GetPaymentsForLoan(loanID uuid.UUID) ([]*models.Payment, error) {
	rows, err := s.db.Query(
		`SELECT `+paymentColumns+` FROM payments WHERE loan_id = ? ORDER BY payment_date ASC, created_at ASC`,
		loanID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get payments for loan %s: %w", loanID, err)
	}
	defer rows.Close()
	return scanPayments(rows)
}

func (s *SQLiteStore) GetAllPayments(filter PaymentFilter) ([]*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments`
	var conditions []string
	var args []any
	if filter.LoanID != uuid.Nil {
		conditions = append(conditions, "loan_id = ?")
		args = append(args, filter.LoanID.String())
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, "payment_date >= ?")
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, "payment_date <= ?")
		args = append(args, filter.To)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY payment_date DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get payments: %w", err)
	}
	defer rows.Close()
	return scanPayments(rows)
}

func (s *SQLiteStore) NextReceiptNumber() (int64, error) {
	var next int64
	err := s.db.QueryRow(`SELECT COALESCE(MAX(receipt_number), 0) + 1 FROM payments`).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to get next receipt number: %w", err)
	}
	return next, nil
}

// --- Expenses ---

func (s *SQLiteStore) CreateExpense(expense *models.Expense) error {
	_, err := s.db.Exec(
		`INSERT INTO expenses (id, description, amount, category, expense_date, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		expense.ID.String(), expense.Description, expense.Amount, expense.Category, expense.ExpenseDate, expense.Notes, expense.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create expense: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteExpense(id uuid.UUID) error {
	result, err := s.db.Exec(`DELETE FROM expenses WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete expense: %w", err)
	}
	return requireRows(result)
}

func (s *SQLiteStore) GetAllExpenses() ([]*models.Expense, error) {
	rows, err := s.db.Query(`SELECT id, description, amount, category, expense_date, notes, created_at FROM expenses ORDER BY expense_date DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get expenses: %w", err)
	}
	defer rows.Close()

	var expenses []*models.Expense
	for rows.Next() {
		var e models.Expense
		var idStr string
		if err := rows.Scan(&idStr, &e.Description, &e.Amount, &e.Category, &e.ExpenseDate, &e.Notes, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan expense row: %w", err)
		}
		e.ID = uuid.MustParse(idStr)
		expenses = append(expenses, &e)
	}
	return expenses, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- scan helpers ---

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func notFoundOr(err error, what string) error {
	if err == sql.ErrNoRows {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to scan %s: %w", what, err)
}

func scanClient(row scanner) (*models.Client, error) {
	var c models.Client
	var idStr string
	if err := row.Scan(&idStr, &c.FullName, &c.IDNumber, &c.Phone, &c.Email, &c.Address, &c.Status, &c.CreatedAt); err != nil {
		return nil, notFoundOr(err, "client")
	}
	c.ID = uuid.MustParse(idStr)
	return &c, nil
}

func scanCreditType(row scanner) (*models.CreditType, error) {
	var ct models.CreditType
	var idStr string
	if err := row.Scan(&idStr, &ct.Name, &ct.InterestRate, &ct.InterestType, &ct.Frequency, &ct.MaxTermMonths, &ct.LateFeeRate, &ct.GraceDays, &ct.Active, &ct.CreatedAt); err != nil {
		return nil, notFoundOr(err, "credit type")
	}
	ct.ID = uuid.MustParse(idStr)
	return &ct, nil
}

func scanLoanRequest(row scanner) (*models.LoanRequest, error) {
	var req models.LoanRequest
	var idStr, clientStr, creditTypeStr string
	if err := row.Scan(&idStr, &clientStr, &creditTypeStr, &req.RequestedAmount, &req.RequestedTerm, &req.Status, &req.Notes, &req.CreatedAt); err != nil {
		return nil, notFoundOr(err, "loan request")
	}
	req.ID = uuid.MustParse(idStr)
	req.ClientID = uuid.MustParse(clientStr)
	req.CreditTypeID = uuid.MustParse(creditTypeStr)
	return &req, nil
}

func scanLoan(row scanner) (*models.Loan, error) {
	var loan models.Loan
	var idStr, clientStr, creditTypeStr string
	var refinancedFrom sql.NullString
	if err := row.Scan(&idStr, &clientStr, &creditTypeStr, &loan.Amount, &loan.InterestRate, &loan.TermMonths,
		&loan.Status, &loan.ApprovedDate, &loan.FirstPaymentDate, &loan.GuarantorName, &loan.GuarantorPhone, &refinancedFrom, &loan.CreatedAt); err != nil {
		return nil, notFoundOr(err, "loan")
	}
	loan.ID = uuid.MustParse(idStr)
	loan.ClientID = uuid.MustParse(clientStr)
	loan.CreditTypeID = uuid.MustParse(creditTypeStr)
	if refinancedFrom.Valid {
		id := uuid.MustParse(refinancedFrom.String)
		loan.RefinancedFrom = &id
	}
	return &loan, nil
}

func scanPayment(row scanner) (*models.Payment, error) {
	var p models.Payment
	var idStr, loanStr string
	if err := row.Scan(&idStr, &loanStr, &p.Amount, &p.Principal, &p.Interest, &p.LateFee, &p.PaymentDate, &p.DueDate, &p.ReceiptNumber, &p.CreatedAt); err != nil {
		return nil, notFoundOr(err, "payment")
	}
	p.ID = uuid.MustParse(idStr)
	p.LoanID = uuid.MustParse(loanStr)
	return &p, nil
}

func scanPayments(rows *sql.Rows) ([]*models.Payment, error) {
	var payments []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func requireRows(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
