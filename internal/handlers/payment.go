package handlers

import (
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/markjakearzadon/propertypay-gobackend/internal/models"
	"github.com/markjakearzadon/propertypay-gobackend/internal/services"
)

type PaymentHandler struct {
	payments     *services.PaymentService
	reconciler   *services.ReconciliationService
	usage        services.UsageReader
	webhookToken string
	logger       *zap.Logger
}

func NewPaymentHandler(payments *services.PaymentService, reconciler *services.ReconciliationService, usage services.UsageReader, webhookToken string, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments:     payments,
		reconciler:   reconciler,
		usage:        usage,
		webhookToken: webhookToken,
		logger:       logger,
	}
}

type createTransactionRequest struct {
	Amount           float64 `json:"amount"`
	Description      string  `json:"description"`
	PaymentType      string  `json:"payment_type"`
	RelatedID        string  `json:"related_id"`
	PackageID        string  `json:"package_id"`
	SubscriptionType string  `json:"subscription_type"`
	Currency         string  `json:"currency"`
	PaymentMethod    string  `json:"payment_method"`
	PhoneNumber      string  `json:"phone_number"`
	ReturnURL        string  `json:"return_url"`
	CancelURL        string  `json:"cancel_url"`
}

func (h *PaymentHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	} else {
		h.logger.Info("request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, msg)
}

func (h *PaymentHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	requester, ok := RequesterFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authorization header required")
		return
	}

	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tx, err := h.payments.CreateTransaction(r.Context(), services.CreateTransactionInput{
		RequesterID:      requester.ID,
		Amount:           req.Amount,
		Description:      req.Description,
		Purpose:          models.Purpose(strings.ToLower(strings.TrimSpace(req.PaymentType))),
		RelatedEntityID:  req.RelatedID,
		PackageID:        req.PackageID,
		SubscriptionType: req.SubscriptionType,
		Currency:         req.Currency,
		PaymentMethod:    req.PaymentMethod,
		PhoneNumber:      req.PhoneNumber,
		ReturnURL:        req.ReturnURL,
		CancelURL:        req.CancelURL,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":        true,
		"transaction_id": tx.ID,
		"payment_url":    tx.PaymentURL,
		"payment_token":  tx.ProviderTransactionID,
		"amount":         tx.Amount,
		"currency":       tx.Currency,
	})
}

func (h *PaymentHandler) VerifyTransaction(w http.ResponseWriter, r *http.Request) {
	requester, ok := RequesterFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authorization header required")
		return
	}

	var req struct {
		TransactionID string `json:"transaction_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TransactionID == "" {
		writeError(w, http.StatusBadRequest, "transaction_id is required")
		return
	}

	// Requesters only poll their own transactions; admins may re-check any.
	if requester.Role != RoleAdmin {
		if _, err := h.payments.GetTransaction(r.Context(), requester.ID, req.TransactionID); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	status, err := h.reconciler.Verify(r.Context(), req.TransactionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"status":         status,
		"transaction_id": req.TransactionID,
	})
}

// webhookTransactionID reads cpm_trans_id from a form post or transaction_id from JSON.
func webhookTransactionID(r *http.Request) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var payload struct {
			TransactionID string `json:"transaction_id"`
			CpmTransID    string `json:"cpm_trans_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			return "", err
		}
		if payload.TransactionID != "" {
			return payload.TransactionID, nil
		}
		return payload.CpmTransID, nil
	}

	if err := r.ParseForm(); err != nil {
		return "", err
	}
	if id := r.PostForm.Get("cpm_trans_id"); id != "" {
		return id, nil
	}
	return r.PostForm.Get("transaction_id"), nil
}

// Webhook is the gateway's notify_url. The notification is only a trigger;
// the status always comes from a fresh gateway check.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	// The gateway probes the URL with GET before sending notifications.
	if r.Method == http.MethodGet {
		w.WriteHeader(http.StatusOK)
		return
	}

	if h.webhookToken != "" && r.Header.Get("x-token") != h.webhookToken {
		writeError(w, http.StatusUnauthorized, "Unauthorized webhook")
		return
	}

	id, err := webhookTransactionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "transaction id is required")
		return
	}

	status, err := h.reconciler.Verify(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.logger.Info("webhook processed", zap.String("transaction_id", id), zap.String("status", string(status)))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"status":         status,
		"transaction_id": id,
	})
}

func (h *PaymentHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	requester, ok := RequesterFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authorization header required")
		return
	}

	// Extract transaction ID from URL
	transactionID := mux.Vars(r)["transactionID"]
	if transactionID == "" {
		writeError(w, http.StatusBadRequest, "Transaction ID is required")
		return
	}

	tx, err := h.payments.GetTransaction(r.Context(), requester.ID, transactionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *PaymentHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	requester, ok := RequesterFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authorization header required")
		return
	}

	txs, err := h.payments.ListTransactions(r.Context(), requester.ID, r.URL.Query().Get("status"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// CurrentUsage returns the requester's paid listing counter for this month.
func (h *PaymentHandler) CurrentUsage(w http.ResponseWriter, r *http.Request) {
	requester, ok := RequesterFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authorization header required")
		return
	}

	now := time.Now().UTC()
	usage, err := h.usage.GetUsage(r.Context(), requester.ID, int(now.Month()), now.Year())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

// ReconcilePending lets an admin re-check stale pending transactions.
func (h *PaymentHandler) ReconcilePending(w http.ResponseWriter, r *http.Request) {
	olderThan := 10 * time.Minute
	if raw := r.URL.Query().Get("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "older_than must be a duration such as 10m")
			return
		}
		olderThan = d
	}

	limit := int64(services.MaxReconcileBatch)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	summary, err := h.reconciler.ReconcilePending(r.Context(), olderThan, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
