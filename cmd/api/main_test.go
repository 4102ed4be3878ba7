package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jramosf/prestadora/pkg/ledger"
	"github.com/jramosf/prestadora/pkg/models"
	"github.com/jramosf/prestadora/pkg/store"
)

func setupTestServer(t *testing.T) (*Server, *mux.Router) {
	t.Helper()
	dbFile := filepath.Join(t.TempDir(), "api_test.db")

	s, err := store.NewSQLiteStore(dbFile)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	server := NewServer(s, log)
	return server, server.router()
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body interface{}, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if out != nil && rr.Code < 300 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), out))
	}
	return rr
}

// Walks the whole lending flow over the HTTP surface: client, product,
// request, approval, payment, schedule.
func TestAPI_LendingFlow(t *testing.T) {
	_, router := setupTestServer(t)

	var client models.Client
	rr := doJSON(t, router, "POST", "/clients", map[string]interface{}{
		"full_name": "Maria Lopez",
		"id_number": "001-1234567-8",
		"phone":     "555-0100",
	}, &client)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var ct models.CreditType
	rr = doJSON(t, router, "POST", "/credit-types", map[string]interface{}{
		"name":            "Personal mensual",
		"interest_rate":   "12",
		"interest_type":   "flat",
		"frequency":       "monthly",
		"max_term_months": 24,
		"late_fee_rate":   "3",
		"grace_days":      0,
		"active":          true,
	}, &ct)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var loanReq models.LoanRequest
	rr = doJSON(t, router, "POST", "/loan-requests", map[string]interface{}{
		"client_id":      client.ID,
		"credit_type_id": ct.ID,
		"amount":         "1000",
		"term":           12,
	}, &loanReq)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, models.RequestStatusPending, loanReq.Status)

	firstPayment := time.Now().AddDate(0, 1, 0).Format(dateLayout)
	var loan models.Loan
	rr = doJSON(t, router, "POST", "/loan-requests/"+loanReq.ID.String()+"/approve", map[string]interface{}{
		"first_payment_date": firstPayment,
	}, &loan)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, models.LoanStatusActive, loan.Status)

	// Re-approving a decided request conflicts.
	rr = doJSON(t, router, "POST", "/loan-requests/"+loanReq.ID.String()+"/approve", map[string]interface{}{
		"first_payment_date": firstPayment,
	}, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	var payment models.Payment
	rr = doJSON(t, router, "POST", "/payments", map[string]interface{}{
		"loan_id":      loan.ID,
		"amount":       "93.33",
		"payment_date": firstPayment,
		"due_date":     firstPayment,
	}, &payment)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "10.00", payment.Interest.StringFixed(2))
	assert.Equal(t, "83.33", payment.Principal.StringFixed(2))
	assert.Equal(t, int64(1), payment.ReceiptNumber)

	var detail ledger.LoanDetail
	rr = doJSON(t, router, "GET", "/loans/"+loan.ID.String(), nil, &detail)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "916.67", detail.PrincipalBalance.StringFixed(2))
	assert.Len(t, detail.Payments, 1)

	var schedule []map[string]interface{}
	rr = doJSON(t, router, "GET", "/loans/"+loan.ID.String()+"/schedule", nil, &schedule)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, schedule, 12)
	assert.Equal(t, "paid", schedule[0]["status"])
	assert.Equal(t, "pending", schedule[1]["status"])
}

func TestAPI_NotFoundAndValidation(t *testing.T) {
	_, router := setupTestServer(t)

	rr := doJSON(t, router, "GET", "/clients/11111111-1111-1111-1111-111111111111", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doJSON(t, router, "GET", "/clients/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// Missing required fields.
	rr = doJSON(t, router, "POST", "/clients", map[string]interface{}{"phone": "555"}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAPI_RefinanceFlow(t *testing.T) {
	_, router := setupTestServer(t)

	var client models.Client
	doJSON(t, router, "POST", "/clients", map[string]interface{}{
		"full_name": "Juan Perez", "id_number": "002-7654321-1",
	}, &client)

	var ct models.CreditType
	doJSON(t, router, "POST", "/credit-types", map[string]interface{}{
		"name": "Micro", "interest_rate": "10", "interest_type": "flat",
		"frequency": "monthly", "max_term_months": 24, "active": true,
	}, &ct)

	var loanReq models.LoanRequest
	doJSON(t, router, "POST", "/loan-requests", map[string]interface{}{
		"client_id": client.ID, "credit_type_id": ct.ID, "amount": "500", "term": 6,
	}, &loanReq)

	firstPayment := time.Now().AddDate(0, 1, 0).Format(dateLayout)
	var loan models.Loan
	doJSON(t, router, "POST", "/loan-requests/"+loanReq.ID.String()+"/approve", map[string]interface{}{
		"first_payment_date": firstPayment,
	}, &loan)

	// Not enough to cover the payoff.
	rr := doJSON(t, router, "POST", "/loans/"+loan.ID.String()+"/refinance", map[string]interface{}{
		"amount": "400", "term": 6, "first_payment_date": firstPayment,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var result ledger.RefinanceResult
	rr = doJSON(t, router, "POST", "/loans/"+loan.ID.String()+"/refinance", map[string]interface{}{
		"amount": "800", "term": 6, "first_payment_date": firstPayment,
	}, &result)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "500.00", result.Payoff.StringFixed(2))
	assert.Equal(t, "300.00", result.CashToClient.StringFixed(2))
	assert.Equal(t, models.LoanStatusPaid, result.OldLoan.Status)
	require.NotNil(t, result.NewLoan.RefinancedFrom)

	// The old loan no longer takes payments.
	rr = doJSON(t, router, "POST", "/payments", map[string]interface{}{
		"loan_id": loan.ID, "amount": "50",
		"payment_date": firstPayment, "due_date": firstPayment,
	}, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestAPI_Reports(t *testing.T) {
	_, router := setupTestServer(t)

	for _, path := range []string{
		"/reports/portfolio",
		"/reports/collections?period=today",
		"/reports/interest",
		"/reports/overdue",
		fmt.Sprintf("/reports/daily?date=%s", time.Now().Format(dateLayout)),
	} {
		rr := doJSON(t, router, "GET", path, nil, nil)
		assert.Equal(t, http.StatusOK, rr.Code, "path %s: %s", path, rr.Body.String())
	}
}
