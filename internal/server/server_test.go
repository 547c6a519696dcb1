package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/midpay/internal/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Port:       "8080",
		Env:        "test",
		LogLevel:   "error",
		LogFormat:  "text",
		Difficulty: 1,
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.ready.Store(true)
	return s
}

func request(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := request(t, s, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("/health status = %d, body %s", w.Code, w.Body.String())
	}
	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %s, want healthy", resp.Status)
	}
	if len(resp.Checks) < 2 {
		t.Errorf("checks = %d, want at least chain and ledger", len(resp.Checks))
	}

	if w := request(t, s, "GET", "/health/live", nil); w.Code != http.StatusOK {
		t.Errorf("/health/live status = %d", w.Code)
	}
	if w := request(t, s, "GET", "/health/ready", nil); w.Code != http.StatusOK {
		t.Errorf("/health/ready status = %d", w.Code)
	}
}

func TestReadinessBeforeStartup(t *testing.T) {
	s := newTestServer(t)
	s.ready.Store(false)

	if w := request(t, s, "GET", "/health/ready", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestDashboardServed(t *testing.T) {
	s := newTestServer(t)

	w := request(t, s, "GET", "/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("content type = %s", ct)
	}
}

func TestInfoEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := request(t, s, "GET", "/api", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Name       string `json:"name"`
		Difficulty int    `json:"difficulty"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Name != "midpay" || resp.Difficulty != 1 {
		t.Errorf("info = %+v", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := request(t, s, "GET", "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("midpay_")) {
		t.Error("expected midpay metrics in output")
	}
}

func TestTransactionFlowThroughServer(t *testing.T) {
	s := newTestServer(t)

	w := request(t, s, "POST", "/api/v1/transactions", gin.H{"amount": "100.00", "description": "consulting"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	var created struct {
		Transaction struct {
			ID string `json:"id"`
		} `json:"transaction"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := created.Transaction.ID

	if w := request(t, s, "POST", "/api/v1/transactions/"+id+"/complete", nil); w.Code != http.StatusOK {
		t.Fatalf("complete status = %d", w.Code)
	}
	if w := request(t, s, "POST", "/api/v1/transactions/"+id+"/confirm", nil); w.Code != http.StatusOK {
		t.Fatalf("confirm status = %d", w.Code)
	}

	// Escrow settled to B; accounts reflect it.
	w = request(t, s, "GET", "/api/v1/accounts/B", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accounts status = %d", w.Code)
	}
	var acct struct {
		Account struct {
			Balance string `json:"balance"`
		} `json:"account"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &acct); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if acct.Account.Balance != "600.00" {
		t.Errorf("B balance = %s, want 600.00", acct.Account.Balance)
	}

	w = request(t, s, "GET", "/api/v1/chain/verify", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("verify status = %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"valid":true`)) {
		t.Errorf("verify body = %s", w.Body.String())
	}
}

func TestRequestIDPropagation(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/api", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("X-Request-ID = %s, want req-123", got)
	}

	// Generated when absent.
	w = request(t, s, "GET", "/api", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected generated request ID")
	}
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(t)

	w := request(t, s, "GET", "/api", nil)
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options header")
	}
}

func TestWSStats(t *testing.T) {
	s := newTestServer(t)

	w := request(t, s, "GET", "/api/v1/ws/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("connectedClients")) {
		t.Errorf("stats body = %s", w.Body.String())
	}
}
