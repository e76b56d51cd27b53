package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/fraudguard/internal/config"
	"github.com/gyaneshwarpardhi/fraudguard/internal/directory"
	"github.com/gyaneshwarpardhi/fraudguard/internal/engine"
	"github.com/gyaneshwarpardhi/fraudguard/internal/fraud"
	"github.com/gyaneshwarpardhi/fraudguard/internal/model"
	"github.com/gyaneshwarpardhi/fraudguard/internal/transaction"
)

type fixedBatch float64

func (f fixedBatch) PredictProbability([]float64) (float64, error) { return float64(f), nil }

type fixedOnline float64

func (f fixedOnline) PredictProbability(map[string]float64) float64 { return float64(f) }
func (f fixedOnline) Update(map[string]float64, int) error        { return nil }

type testServer struct {
	handler    http.Handler
	svc        *fraud.Service
	policyPath string
}

// newTestServer serves a salary account averaging 1000 from Mumbai on device
// d1. Both models return p, so an unboosted transaction scores p*100.
func newTestServer(t *testing.T, p float64) *testServer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: v1\n"), 0o644))
	loader, err := config.NewLoader(path)
	require.NoError(t, err)

	pol, err := fraud.CompilePolicy(loader.Config())
	require.NoError(t, err)

	now := time.Now().UTC()
	mem := directory.NewMemory()
	mem.Put(transaction.Account{ID: "salary", Type: "SALARY", AverageAmount: decimal.NewFromInt(1000)},
		transaction.Record{TransactionID: "salary_0", Amount: decimal.NewFromInt(1000), DeviceID: "d1", Location: "Mumbai", Timestamp: now.Add(-2 * time.Hour)},
		transaction.Record{TransactionID: "salary_1", Amount: decimal.NewFromInt(1000), DeviceID: "d1", Location: "Mumbai", Timestamp: now.Add(-time.Hour)},
	)

	svc := fraud.NewService(mem, model.NewEnsemble(fixedBatch(p), fixedOnline(p)), pol)
	svc.Follow(loader)

	ctx, cancel := context.WithCancel(context.Background())
	eng := engine.New(ctx, svc, config.EngineConf{Workers: 2, QueueDepth: 10, TimeoutMs: 2000})
	t.Cleanup(func() {
		cancel()
		eng.Shutdown()
	})

	return &testServer{handler: New(svc, eng, loader), svc: svc, policyPath: path}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func txn(account string, amount int) map[string]interface{} {
	return map[string]interface{}{
		"account_id": account,
		"amount":     amount,
		"device_id":  "d1",
		"location":   "Mumbai",
	}
}

func TestEvaluate_AutoApprove(t *testing.T) {
	s := newTestServer(t, 0.05)

	w := s.do(t, http.MethodPost, "/v1/transactions", txn("salary", 1000))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "salary_2", body["transaction_id"])
	assert.Equal(t, "AUTO_APPROVE", body["action"])
	assert.Equal(t, "APPROVED", body["status"])
	assert.Equal(t, 5.0, body["risk_score"])
	assert.Equal(t, false, body["otp_required"])
}

func TestEvaluate_LimitBlock(t *testing.T) {
	s := newTestServer(t, 0.05)

	w := s.do(t, http.MethodPost, "/v1/transactions", txn("salary", 30000))
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "BLOCK", body["action"])
	assert.Equal(t, "BLOCKED", body["status"])
	assert.Equal(t, transaction.BlockAccountLimit, body["block_reason"])
}

func TestEvaluate_Errors(t *testing.T) {
	s := newTestServer(t, 0.05)

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"malformed json", "{", http.StatusBadRequest},
		{"missing device", map[string]interface{}{"account_id": "salary", "amount": 10}, http.StatusBadRequest},
		{"non-positive amount", map[string]interface{}{"account_id": "salary", "amount": 0, "device_id": "d1"}, http.StatusBadRequest},
		{"unknown account", txn("ghost", 10), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/v1/transactions", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.NotEmpty(t, decode(t, w)["error"])
		})
	}
}

func TestChallengeFlow(t *testing.T) {
	s := newTestServer(t, 0.5)

	w := s.do(t, http.MethodPost, "/v1/transactions", txn("salary", 1000))
	require.Equal(t, http.StatusOK, w.Code)
	ev := decode(t, w)
	require.Equal(t, "CHALLENGE", ev["action"])
	require.Equal(t, "PENDING_REVIEW", ev["status"])
	code, _ := ev["otp_code"].(string)
	require.Len(t, code, 6)
	id := ev["transaction_id"].(string)

	// Approving before the OTP is verified is refused.
	w = s.do(t, http.MethodPost, "/v1/transactions/"+id+"/decision",
		map[string]string{"account_id": "salary", "decision": "approve"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodGet, "/v1/pending?account_id=salary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, decode(t, w)["count"])

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	w = s.do(t, http.MethodPost, "/v1/transactions/"+id+"/otp",
		map[string]string{"account_id": "salary", "code": wrong})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["verified"])
	assert.Equal(t, 1.0, body["attempts"])

	w = s.do(t, http.MethodPost, "/v1/transactions/"+id+"/otp",
		map[string]string{"account_id": "salary", "code": code})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["verified"])

	w = s.do(t, http.MethodPost, "/v1/transactions/"+id+"/decision",
		map[string]string{"account_id": "salary", "decision": "APPROVE"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body = decode(t, w)
	assert.Equal(t, true, body["saved"])
	assert.Equal(t, true, body["learned"])

	// Resolved entries are gone.
	w = s.do(t, http.MethodPost, "/v1/transactions/"+id+"/decision",
		map[string]string{"account_id": "salary", "decision": "REJECT"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/v1/accounts/salary/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["history"], 3)
}

func TestDecision_Validation(t *testing.T) {
	s := newTestServer(t, 0.05)

	w := s.do(t, http.MethodPost, "/v1/transactions/salary_9/decision",
		map[string]string{"account_id": "salary", "decision": "MAYBE"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/v1/transactions/salary_9/decision",
		map[string]string{"decision": "REJECT"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/v1/transactions/salary_9/decision",
		map[string]string{"account_id": "salary", "decision": "REJECT"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/v1/transactions/salary_9/otp",
		map[string]string{"account_id": "salary", "code": "123456"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAccountsAndPending(t *testing.T) {
	s := newTestServer(t, 0.05)

	w := s.do(t, http.MethodGet, "/v1/accounts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, decode(t, w)["count"])

	w = s.do(t, http.MethodGet, "/v1/accounts/ghost/history", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/v1/pending?account_id=ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/v1/pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.0, decode(t, w)["count"])
}

func TestBatch(t *testing.T) {
	s := newTestServer(t, 0.05)

	w := s.do(t, http.MethodPost, "/v1/transactions/batch", []interface{}{
		txn("salary", 100),
		txn("salary", 200),
		map[string]interface{}{"account_id": "salary"},
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	body := decode(t, w)
	assert.NotEmpty(t, body["job_id"])
	assert.Equal(t, 3.0, body["total"])
	assert.Equal(t, 2.0, body["queued"])
	assert.Equal(t, 1.0, body["invalid"])

	w = s.do(t, http.MethodPost, "/v1/transactions/batch", []interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	big := make([]interface{}, maxBatchSize+1)
	for i := range big {
		big[i] = txn("salary", 10)
	}
	w = s.do(t, http.MethodPost, "/v1/transactions/batch", big)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.Eventually(t, func() bool {
		h, err := s.svc.History(context.Background(), "salary")
		return err == nil && len(h) == 4
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPolicyReload(t *testing.T) {
	s := newTestServer(t, 0.05)

	w := s.do(t, http.MethodGet, "/v1/policy", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "v1", decode(t, w)["version"])

	require.NoError(t, os.WriteFile(s.policyPath, []byte("version: v2\nboosts: []\n"), 0o644))
	w = s.do(t, http.MethodPost, "/v1/policy/reload", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 0.0, decode(t, w)["boosts_count"])
	assert.Equal(t, "v2", s.svc.Policy().Version)

	bad := "version: v3\nboosts:\n  - id: bogus\n    expression: \"no_such_fact > 1\"\n    points: 5\n"
	require.NoError(t, os.WriteFile(s.policyPath, []byte(bad), 0o644))
	w = s.do(t, http.MethodPost, "/v1/policy/reload", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "v2", s.svc.Policy().Version)

	w = s.do(t, http.MethodGet, "/v1/policy", nil)
	assert.Equal(t, "v2", decode(t, w)["version"])
}

func TestProbes(t *testing.T) {
	s := newTestServer(t, 0.05)

	w := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", decode(t, w)["status"])

	w = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "fraudguard_"))
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t, 0.05)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-42")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get(requestIDHeader))

	w = s.do(t, http.MethodGet, "/healthz", nil)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", fraud.ErrInvalidInput), http.StatusBadRequest},
		{fraud.ErrUnknownAccount, http.StatusNotFound},
		{fraud.ErrNotFound, http.StatusNotFound},
		{fraud.ErrChallengeRequired, http.StatusConflict},
		{fraud.ErrInvalidOtp, http.StatusUnprocessableEntity},
		{&fraud.StorageError{Op: "commit", Err: fmt.Errorf("disk full")}, http.StatusServiceUnavailable},
		{engine.ErrQueueFull, http.StatusTooManyRequests},
		{engine.ErrTimeout, http.StatusGatewayTimeout},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
