package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/markjakearzadon/propertypay-gobackend/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorStatus maps service errors onto HTTP. Only user-correctable errors echo their message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrGatewayUnavailable):
		return http.StatusBadGateway, "payment gateway unavailable, try again later"
	case errors.Is(err, services.ErrGatewayRejected):
		return http.StatusPaymentRequired, err.Error()
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "transaction not found"
	case errors.Is(err, services.ErrVerificationFailed):
		return http.StatusBadGateway, "could not confirm payment status, try again later"
	case errors.Is(err, services.ErrPersistenceInconsistency):
		return http.StatusInternalServerError, "payment was initiated but could not be recorded, contact support"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
