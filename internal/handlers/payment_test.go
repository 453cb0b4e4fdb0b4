package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/markjakearzadon/propertypay-gobackend/internal/config"
	"github.com/markjakearzadon/propertypay-gobackend/internal/models"
	"github.com/markjakearzadon/propertypay-gobackend/internal/services"
)

const (
	testSecret   = "test-secret"
	testUser     = "64f0c0ffee0000000000beef"
	webhookToken = "hook-token"
)

type stubGateway struct {
	mu        sync.Mutex
	status    string
	chargeErr error
	checkErr  error
}

func (g *stubGateway) CreatePayment(_ context.Context, req services.ChargeRequest) (*services.ChargeResult, error) {
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	return &services.ChargeResult{PaymentURL: "https://checkout.example.com/" + req.TransactionID, PaymentToken: "tok"}, nil
}

func (g *stubGateway) CheckPayment(_ context.Context, _ string) (*services.CheckResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.checkErr != nil {
		return nil, g.checkErr
	}
	return &services.CheckResult{Status: g.status, Raw: []byte(`{"data":{"status":"` + g.status + `"}}`)}, nil
}

type testServer struct {
	router  *mux.Router
	gateway *stubGateway
	store   *services.MemoryTransactionStore
	market  *services.MemoryMarketplace
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	s := &testServer{
		gateway: &stubGateway{status: "ACCEPTED"},
		store:   services.NewMemoryTransactionStore(),
		market:  services.NewMemoryMarketplace(),
	}
	cfg := config.PaymentConfig{PublicBaseURL: "https://api.example.com", DefaultCurrency: "XOF", AmountUnit: 5, AmountMinimum: 5, Methods: config.DefaultPaymentMethods()}
	normalizer := services.NewAmountNormalizer(cfg.AmountUnit, cfg.AmountMinimum, cfg.DefaultCurrency, cfg.Methods)
	alerts := &services.RecordingAlerter{}

	payments := services.NewPaymentService(s.store, s.gateway, services.NewMemoryProfileStore(), normalizer, alerts, cfg, logger)
	registry := services.NewDefaultRegistry(s.market, s.market, s.market, logger)
	reconciler := services.NewReconciliationService(s.store, s.gateway, registry, alerts, logger)

	s.router = mux.NewRouter()
	NewPaymentHandler(payments, reconciler, s.market, webhookToken, logger).Register(s.router, NewAuthenticator(testSecret))
	return s
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := SignToken(testSecret, userID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func createBody() map[string]interface{} {
	return map[string]interface{}{
		"amount":         1000,
		"description":    "Paid listing",
		"payment_type":   "paid_listing",
		"payment_method": "ORANGE_MONEY_CI",
		"phone_number":   "+2250102030405",
	}
}

func TestCreateTransactionHandler(t *testing.T) {
	tests := []struct {
		name       string
		bearer     func(t *testing.T) string
		body       func() map[string]interface{}
		gatewayErr error
		wantStatus int
		assert     func(t *testing.T, resp map[string]interface{})
	}{
		{
			name:       "created",
			bearer:     func(t *testing.T) string { return token(t, testUser, "") },
			body:       createBody,
			wantStatus: http.StatusCreated,
			assert: func(t *testing.T, resp map[string]interface{}) {
				require.Equal(t, true, resp["success"])
				require.NotEmpty(t, resp["transaction_id"])
				require.NotEmpty(t, resp["payment_url"])
				require.Equal(t, "tok", resp["payment_token"])
				require.EqualValues(t, 1000, resp["amount"])
			},
		},
		{
			name:       "missing token",
			bearer:     func(t *testing.T) string { return "" },
			body:       createBody,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "forged token",
			bearer: func(t *testing.T) string {
				tok, err := SignToken("other-secret", testUser, "", time.Hour)
				require.NoError(t, err)
				return tok
			},
			body:       createBody,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:   "validation",
			bearer: func(t *testing.T) string { return token(t, testUser, "") },
			body: func() map[string]interface{} {
				b := createBody()
				b["amount"] = 0
				return b
			},
			wantStatus: http.StatusBadRequest,
			assert: func(t *testing.T, resp map[string]interface{}) {
				require.Contains(t, resp["error"], "amount")
			},
		},
		{
			name:       "gateway refused",
			bearer:     func(t *testing.T) string { return token(t, testUser, "") },
			body:       createBody,
			gatewayErr: &services.GatewayError{HTTPStatus: 200, Code: "608", Message: "MINIMUM_REQUIRED_FIELDS"},
			wantStatus: http.StatusPaymentRequired,
		},
		{
			name:       "gateway unreachable",
			bearer:     func(t *testing.T) string { return token(t, testUser, "") },
			body:       createBody,
			gatewayErr: &services.GatewayError{Message: "dial tcp 10.0.0.7:443: connect: connection refused", Unavailable: true},
			wantStatus: http.StatusBadGateway,
			assert: func(t *testing.T, resp map[string]interface{}) {
				require.Equal(t, "payment gateway unavailable, try again later", resp["error"])
			},
		},
		{
			name:   "amount too large",
			bearer: func(t *testing.T) string { return token(t, testUser, "") },
			body: func() map[string]interface{} {
				b := createBody()
				b["amount"] = 1e19
				return b
			},
			wantStatus: http.StatusBadRequest,
			assert: func(t *testing.T, resp map[string]interface{}) {
				require.Contains(t, resp["error"], "too large")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.gateway.chargeErr = tt.gatewayErr

			rr := s.do(t, http.MethodPost, "/api/transactions", tt.bearer(t), tt.body())
			require.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			if tt.assert != nil {
				tt.assert(t, decode(t, rr))
			}
		})
	}
}

func createTransaction(t *testing.T, s *testServer) string {
	t.Helper()
	s.gateway.status = "WAITING_CUSTOMER_PAYMENT"
	rr := s.do(t, http.MethodPost, "/api/transactions", token(t, testUser, ""), createBody())
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode(t, rr)["transaction_id"].(string)
}

func TestVerifyTransactionHandler(t *testing.T) {
	s := newTestServer(t)
	id := createTransaction(t, s)
	bearer := token(t, testUser, "")

	rr := s.do(t, http.MethodPost, "/api/transactions/verify", bearer, map[string]string{"transaction_id": id})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "pending", decode(t, rr)["status"])

	s.gateway.status = "ACCEPTED"
	for i := 0; i < 3; i++ {
		rr = s.do(t, http.MethodPost, "/api/transactions/verify", bearer, map[string]string{"transaction_id": id})
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decode(t, rr)
		require.Equal(t, "completed", resp["status"])
		require.Equal(t, id, resp["transaction_id"])
	}

	rr = s.do(t, http.MethodGet, "/api/usage", bearer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.EqualValues(t, 1, decode(t, rr)["paid_listings_used"])

	// Someone else's transaction looks absent.
	rr = s.do(t, http.MethodPost, "/api/transactions/verify", token(t, "another-user", ""), map[string]string{"transaction_id": id})
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/transactions/verify", bearer, map[string]string{"transaction_id": "nope"})
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/transactions/verify", bearer, map[string]string{})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestVerifyTransactionHandlerGatewayDown(t *testing.T) {
	s := newTestServer(t)
	id := createTransaction(t, s)
	s.gateway.checkErr = fmt.Errorf("%w: timeout", services.ErrVerificationFailed)

	rr := s.do(t, http.MethodPost, "/api/transactions/verify", token(t, testUser, ""), map[string]string{"transaction_id": id})
	require.Equal(t, http.StatusBadGateway, rr.Code)

	tx, err := s.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, tx.Status)
}

func TestWebhook(t *testing.T) {
	s := newTestServer(t)
	id := createTransaction(t, s)
	s.gateway.status = "ACCEPTED"

	post := func(form url.Values, tok string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/payment/webhook", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if tok != "" {
			req.Header.Set("x-token", tok)
		}
		rr := httptest.NewRecorder()
		s.router.ServeHTTP(rr, req)
		return rr
	}

	rr := post(url.Values{"cpm_trans_id": {id}}, "wrong")
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = post(url.Values{"cpm_site_id": {"105"}}, webhookToken)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	for i := 0; i < 2; i++ {
		rr = post(url.Values{"cpm_trans_id": {id}, "cpm_site_id": {"105"}}, webhookToken)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		require.Equal(t, "completed", decode(t, rr)["status"])
	}
	require.Len(t, s.market.ListingPayments, 1)

	req := httptest.NewRequest(http.MethodGet, "/api/payment/webhook", nil)
	probe := httptest.NewRecorder()
	s.router.ServeHTTP(probe, req)
	require.Equal(t, http.StatusOK, probe.Code)
}

func TestWebhookJSON(t *testing.T) {
	s := newTestServer(t)
	id := createTransaction(t, s)
	s.gateway.status = "REFUSED"

	req := httptest.NewRequest(http.MethodPost, "/api/payment/webhook", strings.NewReader(`{"transaction_id":"`+id+`"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("x-token", webhookToken)
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "failed", decode(t, rr)["status"])
	require.Empty(t, s.market.ListingPayments)
}

func TestGetAndListTransactions(t *testing.T) {
	s := newTestServer(t)
	id := createTransaction(t, s)
	bearer := token(t, testUser, "")

	rr := s.do(t, http.MethodGet, "/api/transactions/"+id, bearer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode(t, rr)
	require.Equal(t, id, resp["id"])
	require.NotContains(t, resp, "phone_number")

	rr = s.do(t, http.MethodGet, "/api/transactions/"+id, token(t, "another-user", ""), nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(t, http.MethodGet, "/api/transactions?status=pending", bearer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list []models.PaymentTransaction
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 1)

	rr = s.do(t, http.MethodGet, "/api/transactions?status=bogus", bearer, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReconcileRequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	id := createTransaction(t, s)
	s.gateway.status = "ACCEPTED"

	rr := s.do(t, http.MethodPost, "/api/admin/transactions/reconcile", token(t, testUser, ""), nil)
	require.Equal(t, http.StatusForbidden, rr.Code)

	admin := token(t, "ops-1", RoleAdmin)
	rr = s.do(t, http.MethodPost, "/api/admin/transactions/reconcile?older_than=bad", admin, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/admin/transactions/reconcile?older_than=0s&limit=10", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var summary services.ReconcileSummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
	require.Equal(t, 1, summary.Checked)
	require.Equal(t, 1, summary.Completed)
	require.Equal(t, id, summary.Results[0].TransactionID)

	// Admins may verify any transaction.
	rr = s.do(t, http.MethodPost, "/api/transactions/verify", admin, map[string]string{"transaction_id": id})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "completed", decode(t, rr)["status"])
}
