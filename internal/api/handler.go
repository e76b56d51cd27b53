package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/fraudguard/internal/config"
	"github.com/gyaneshwarpardhi/fraudguard/internal/engine"
	"github.com/gyaneshwarpardhi/fraudguard/internal/fraud"
	"github.com/gyaneshwarpardhi/fraudguard/internal/logging"
	"github.com/gyaneshwarpardhi/fraudguard/internal/metrics"
	"github.com/gyaneshwarpardhi/fraudguard/internal/transaction"
)

const maxBatchSize = 100

// Handler holds all HTTP handler dependencies.
type Handler struct {
	svc    *fraud.Service
	eng    *engine.Engine
	loader *config.Loader
	mux    *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(svc *fraud.Service, eng *engine.Engine, loader *config.Loader) http.Handler {
	h := &Handler{svc: svc, eng: eng, loader: loader, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/transactions", h.evaluate)
	h.mux.HandleFunc("POST /v1/transactions/batch", h.evaluateBatch)
	h.mux.HandleFunc("POST /v1/transactions/{txn_id}/otp", h.verifyOtp)
	h.mux.HandleFunc("POST /v1/transactions/{txn_id}/decision", h.adjudicate)
	h.mux.HandleFunc("GET /v1/pending", h.listPending)
	h.mux.HandleFunc("GET /v1/accounts", h.listAccounts)
	h.mux.HandleFunc("GET /v1/accounts/{account_id}/history", h.history)
	h.mux.HandleFunc("GET /v1/policy", h.getPolicy)
	h.mux.HandleFunc("POST /v1/policy/reload", h.reloadPolicy)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

// POST /v1/transactions: synchronous evaluation.
func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	var req transaction.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	res, err := h.eng.ProcessSync(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /v1/transactions/batch: async batch evaluation (up to 100 transactions).
func (h *Handler) evaluateBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []transaction.Request
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if len(reqs) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one transaction")
		return
	}
	if len(reqs) > maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(reqs), maxBatchSize))
		return
	}

	now := time.Now()
	jobID := uuid.New().String()
	ctx := logging.WithRequestID(r.Context(), jobID)
	queued := 0
	invalid := 0
	for _, req := range reqs {
		if _, err := req.Validate(now); err != nil {
			invalid++
			continue
		}
		if h.eng.ProcessAsync(ctx, req) {
			queued++
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":   jobID,
		"total":    len(reqs),
		"queued":   queued,
		"invalid":  invalid,
		"rejected": len(reqs) - queued - invalid,
	})
}

type otpRequest struct {
	AccountID string `json:"account_id"`
	Code      string `json:"code"`
}

// POST /v1/transactions/{txn_id}/otp
func (h *Handler) verifyOtp(w http.ResponseWriter, r *http.Request) {
	var body otpRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if body.AccountID == "" || body.Code == "" {
		writeError(w, http.StatusBadRequest, "account_id and code are required")
		return
	}

	res, err := h.svc.VerifyOtp(r.Context(), body.AccountID, r.PathValue("txn_id"), body.Code)
	if err != nil {
		if status := statusFor(err); status == http.StatusUnprocessableEntity {
			writeJSON(w, status, map[string]interface{}{
				"transaction_id": res.TransactionID,
				"verified":       false,
				"attempts":       res.Attempts,
				"error":          err.Error(),
			})
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type decisionRequest struct {
	AccountID string `json:"account_id"`
	Decision  string `json:"decision"`
}

// POST /v1/transactions/{txn_id}/decision
func (h *Handler) adjudicate(w http.ResponseWriter, r *http.Request) {
	var body decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if body.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	d, err := fraud.ParseDecision(body.Decision)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	res, err := h.svc.Adjudicate(r.Context(), body.AccountID, r.PathValue("txn_id"), d)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /v1/pending[?account_id=]
func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.ListPending(r.Context(), r.URL.Query().Get("account_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(entries),
		"pending": entries,
	})
}

// GET /v1/accounts
func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := h.svc.ListAccounts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(accts),
		"accounts": accts,
	})
}

// GET /v1/accounts/{account_id}/history
func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("account_id")
	records, err := h.svc.History(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": id,
		"history":    records,
	})
}

// GET /v1/policy: the active policy.
func (h *Handler) getPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Policy().Source)
}

// POST /v1/policy/reload: hot-reload the policy from disk.
func (h *Handler) reloadPolicy(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded":     true,
		"version":      cfg.Version,
		"boosts_count": len(cfg.Boosts),
	})
}

// GET /healthz: always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 if the evaluation queue is >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.eng.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
		"pending":           h.svc.PendingCount(),
		"policy_version":    h.svc.Policy().Version,
	})
}
