package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/jramosf/prestadora/pkg/config"
	"github.com/jramosf/prestadora/pkg/engine"
	"github.com/jramosf/prestadora/pkg/ledger"
	"github.com/jramosf/prestadora/pkg/models"
	"github.com/jramosf/prestadora/pkg/store"
)

const dateLayout = "2006-01-02"

// Server wires the HTTP surface to the ledger.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage // kept so main can close it
	log     *logrus.Logger
}

func NewServer(s store.Storage, log *logrus.Logger) *Server {
	return &Server{
		ledger:  ledger.New(s, log),
		storage: s,
		log:     log,
	}
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/clients", s.createClientHandler).Methods("POST")
	r.HandleFunc("/clients", s.listClientsHandler).Methods("GET")
	r.HandleFunc("/clients/{id}", s.getClientHandler).Methods("GET")
	r.HandleFunc("/clients/{id}", s.updateClientHandler).Methods("PUT")
	r.HandleFunc("/clients/{id}", s.deleteClientHandler).Methods("DELETE")

	r.HandleFunc("/credit-types", s.createCreditTypeHandler).Methods("POST")
	r.HandleFunc("/credit-types", s.listCreditTypesHandler).Methods("GET")
	r.HandleFunc("/credit-types/{id}", s.getCreditTypeHandler).Methods("GET")
	r.HandleFunc("/credit-types/{id}", s.updateCreditTypeHandler).Methods("PUT")
	r.HandleFunc("/credit-types/{id}", s.deleteCreditTypeHandler).Methods("DELETE")

	r.HandleFunc("/loan-requests", s.createLoanRequestHandler).Methods("POST")
	r.HandleFunc("/loan-requests", s.listLoanRequestsHandler).Methods("GET")
	r.HandleFunc("/loan-requests/{id}", s.getLoanRequestHandler).Methods("GET")
	r.HandleFunc("/loan-requests/{id}/approve", s.approveLoanRequestHandler).Methods("POST")
	r.HandleFunc("/loan-requests/{id}/reject", s.rejectLoanRequestHandler).Methods("POST")

	r.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	r.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	r.HandleFunc("/loans/{id}/schedule", s.loanScheduleHandler).Methods("GET")
	r.HandleFunc("/loans/{id}/status", s.updateLoanStatusHandler).Methods("PUT")
	r.HandleFunc("/loans/{id}/refinance", s.refinanceHandler).Methods("POST")

	r.HandleFunc("/payments", s.registerPaymentHandler).Methods("POST")
	r.HandleFunc("/payments", s.listPaymentsHandler).Methods("GET")
	r.HandleFunc("/payments/overdue", s.overdueLoansHandler).Methods("GET")
	r.HandleFunc("/payments/{id}", s.getPaymentHandler).Methods("GET")

	r.HandleFunc("/reports/portfolio", s.portfolioReportHandler).Methods("GET")
	r.HandleFunc("/reports/collections", s.collectionsReportHandler).Methods("GET")
	r.HandleFunc("/reports/interest", s.interestReportHandler).Methods("GET")
	r.HandleFunc("/reports/overdue", s.overdueReportHandler).Methods("GET")
	r.HandleFunc("/reports/daily", s.dailyReportHandler).Methods("GET")

	r.HandleFunc("/expenses", s.createExpenseHandler).Methods("POST")
	r.HandleFunc("/expenses", s.listExpensesHandler).Methods("GET")
	r.HandleFunc("/expenses/{id}", s.deleteExpenseHandler).Methods("DELETE")

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("failed to encode response")
	}
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var terms *engine.InvalidTermsError
	var insufficient *engine.InsufficientAmountError

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrValidation),
		errors.Is(err, ledger.ErrTermExceedsMax),
		errors.As(err, &terms),
		errors.As(err, &insufficient):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrInactiveLoan),
		errors.Is(err, ledger.ErrRequestNotPending),
		errors.Is(err, ledger.ErrClientHasActiveLoans),
		errors.Is(err, ledger.ErrCreditTypeInUse):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.log.WithError(err).Error("request failed")
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

// parseDate accepts "2006-01-02" or RFC 3339.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// --- Clients ---

func (s *Server) createClientHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName string `json:"full_name"`
		IDNumber string `json:"id_number"`
		Phone    string `json:"phone"`
		Email    string `json:"email"`
		Address  string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	client, err := s.ledger.CreateClient(req.FullName, req.IDNumber, req.Phone, req.Email, req.Address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, client)
}

func (s *Server) listClientsHandler(w http.ResponseWriter, r *http.Request) {
	clients, err := s.ledger.ListClients(r.URL.Query().Get("search"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, clients)
}

func (s *Server) getClientHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid client ID", http.StatusBadRequest)
		return
	}
	client, err := s.ledger.GetClient(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, client)
}

func (s *Server) updateClientHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid client ID", http.StatusBadRequest)
		return
	}
	var client models.Client
	if err := json.NewDecoder(r.Body).Decode(&client); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	client.ID = id
	if err := s.ledger.UpdateClient(&client); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, client)
}

func (s *Server) deleteClientHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid client ID", http.StatusBadRequest)
		return
	}
	if err := s.ledger.DeleteClient(id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Credit types ---

func (s *Server) createCreditTypeHandler(w http.ResponseWriter, r *http.Request) {
	var ct models.CreditType
	if err := json.NewDecoder(r.Body).Decode(&ct); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	created, err := s.ledger.CreateCreditType(&ct)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listCreditTypesHandler(w http.ResponseWriter, r *http.Request) {
	types, err := s.ledger.ListCreditTypes()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, types)
}

func (s *Server) getCreditTypeHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid credit type ID", http.StatusBadRequest)
		return
	}
	ct, err := s.ledger.GetCreditType(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ct)
}

func (s *Server) updateCreditTypeHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid credit type ID", http.StatusBadRequest)
		return
	}
	var ct models.CreditType
	if err := json.NewDecoder(r.Body).Decode(&ct); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ct.ID = id
	if err := s.ledger.UpdateCreditType(&ct); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ct)
}

func (s *Server) deleteCreditTypeHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid credit type ID", http.StatusBadRequest)
		return
	}
	if err := s.ledger.DeleteCreditType(id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Loan requests ---

func (s *Server) createLoanRequestHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID     uuid.UUID       `json:"client_id"`
		CreditTypeID uuid.UUID       `json:"credit_type_id"`
		Amount       decimal.Decimal `json:"amount"`
		Term         int             `json:"term"`
		Notes        string          `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	created, err := s.ledger.CreateLoanRequest(req.ClientID, req.CreditTypeID, req.Amount, req.Term, req.Notes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listLoanRequestsHandler(w http.ResponseWriter, r *http.Request) {
	requests, err := s.ledger.ListLoanRequests(r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, requests)
}

func (s *Server) getLoanRequestHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid request ID", http.StatusBadRequest)
		return
	}
	req, err := s.ledger.GetLoanRequest(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) approveLoanRequestHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid request ID", http.StatusBadRequest)
		return
	}
	var body struct {
		FirstPaymentDate string `json:"first_payment_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	firstPayment, err := parseDate(body.FirstPaymentDate)
	if err != nil {
		http.Error(w, "Invalid first payment date", http.StatusBadRequest)
		return
	}
	loan, err := s.ledger.ApproveLoanRequest(id, firstPayment)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) rejectLoanRequestHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid request ID", http.StatusBadRequest)
		return
	}
	var body struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err := s.ledger.RejectLoanRequest(id, body.Notes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

// --- Loans ---

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	filter := store.LoanFilter{Status: r.URL.Query().Get("status")}
	if raw := r.URL.Query().Get("client_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "Invalid client ID", http.StatusBadRequest)
			return
		}
		filter.ClientID = id
	}
	loans, err := s.ledger.ListLoans(filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loans)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}
	detail, err := s.ledger.GetLoanDetail(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) loanScheduleHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}
	rows, err := s.ledger.LoanSchedule(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) updateLoanStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	loan, err := s.ledger.UpdateLoanStatus(id, body.Status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loan)
}

func (s *Server) refinanceHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}
	var body struct {
		Amount           decimal.Decimal `json:"amount"`
		Term             int             `json:"term"`
		FirstPaymentDate string          `json:"first_payment_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	firstPayment, err := parseDate(body.FirstPaymentDate)
	if err != nil {
		http.Error(w, "Invalid first payment date", http.StatusBadRequest)
		return
	}
	result, err := s.ledger.Refinance(ledger.RefinanceInput{
		LoanID:           id,
		RequestedAmount:  body.Amount,
		RequestedTerm:    body.Term,
		FirstPaymentDate: firstPayment,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, result)
}

// --- Payments ---

func (s *Server) registerPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		LoanID          uuid.UUID       `json:"loan_id"`
		Amount          decimal.Decimal `json:"amount"`
		PaymentDate     string          `json:"payment_date"`
		DueDate         string          `json:"due_date"`
		ApplicationType string          `json:"application_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	paymentDate, err := parseDate(body.PaymentDate)
	if err != nil {
		http.Error(w, "Invalid payment date", http.StatusBadRequest)
		return
	}
	dueDate, err := parseDate(body.DueDate)
	if err != nil {
		http.Error(w, "Invalid due date", http.StatusBadRequest)
		return
	}
	payment, err := s.ledger.RegisterPayment(ledger.PaymentInput{
		LoanID:          body.LoanID,
		Amount:          body.Amount,
		PaymentDate:     paymentDate,
		DueDate:         dueDate,
		ApplicationType: engine.ApplicationType(body.ApplicationType),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, payment)
}

func (s *Server) listPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	var filter store.PaymentFilter
	q := r.URL.Query()
	if raw := q.Get("loan_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "Invalid loan ID", http.StatusBadRequest)
			return
		}
		filter.LoanID = id
	}
	if raw := q.Get("from"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			http.Error(w, "Invalid from date", http.StatusBadRequest)
			return
		}
		filter.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			http.Error(w, "Invalid to date", http.StatusBadRequest)
			return
		}
		filter.To = t
	}
	payments, err := s.ledger.ListPayments(filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, payments)
}

func (s *Server) getPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid payment ID", http.StatusBadRequest)
		return
	}
	payment, err := s.ledger.GetPayment(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, payment)
}

func (s *Server) overdueLoansHandler(w http.ResponseWriter, r *http.Request) {
	overdue, err := s.ledger.OverdueLoans(time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, overdue)
}

// --- Reports ---

func (s *Server) portfolioReportHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ledger.GetPortfolioSummary()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) collectionsReportHandler(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "month"
	}
	metrics, err := s.ledger.GetCollectionMetrics(period, time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) interestReportHandler(w http.ResponseWriter, r *http.Request) {
	analysis, err := s.ledger.GetInterestAnalysis(time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) overdueReportHandler(w http.ResponseWriter, r *http.Request) {
	analysis, err := s.ledger.GetOverdueAnalysis(time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) dailyReportHandler(w http.ResponseWriter, r *http.Request) {
	day := time.Now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			http.Error(w, "Invalid date", http.StatusBadRequest)
			return
		}
		day = t
	}
	daily, err := s.ledger.GetDailyCollections(day)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, daily)
}

// --- Expenses ---

func (s *Server) createExpenseHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Description string          `json:"description"`
		Amount      decimal.Decimal `json:"amount"`
		Category    string          `json:"category"`
		ExpenseDate string          `json:"expense_date"`
		Notes       string          `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	expenseDate := time.Now()
	if body.ExpenseDate != "" {
		t, err := parseDate(body.ExpenseDate)
		if err != nil {
			http.Error(w, "Invalid expense date", http.StatusBadRequest)
			return
		}
		expenseDate = t
	}
	expense, err := s.ledger.CreateExpense(body.Description, body.Amount, body.Category, expenseDate, body.Notes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, expense)
}

func (s *Server) listExpensesHandler(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.ledger.ListExpenses()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, expenses)
}

func (s *Server) deleteExpenseHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid expense ID", http.StatusBadRequest)
		return
	}
	if err := s.ledger.DeleteExpense(id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func main() {
	cfg := config.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	sqliteStore, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize SQLite store")
	}
	defer sqliteStore.Close()

	server := NewServer(sqliteStore, log)

	// Nightly overdue scan for the collection team's morning list.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("0 6 * * *", func() {
		overdue, err := server.ledger.OverdueLoans(time.Now())
		if err != nil {
			log.WithError(err).Error("overdue scan failed")
			return
		}
		log.WithField("overdue_count", len(overdue)).Info("overdue scan complete")
	}); err != nil {
		log.WithError(err).Fatal("failed to schedule overdue scan")
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
	log.Info("server stopped")
}
