package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Register mounts the payment routes. The webhook is public; everything else needs a bearer token.
func (h *PaymentHandler) Register(router *mux.Router, auth *Authenticator) {
	router.HandleFunc("/api/payment/webhook", h.Webhook).Methods("POST", "GET")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(auth.Middleware)
	api.HandleFunc("/transactions", h.CreateTransaction).Methods("POST")
	api.HandleFunc("/transactions", h.ListTransactions).Methods("GET")
	api.HandleFunc("/transactions/verify", h.VerifyTransaction).Methods("POST")
	api.HandleFunc("/transactions/{transactionID}", h.GetTransaction).Methods("GET")
	api.HandleFunc("/usage", h.CurrentUsage).Methods("GET")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(RequireAdmin)
	admin.Handle("/transactions/reconcile", http.HandlerFunc(h.ReconcilePending)).Methods("POST")
}
