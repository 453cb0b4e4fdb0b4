package services

import (
	"errors"
	"fmt"

	"github.com/markjakearzadon/propertypay-gobackend/internal/models"
)

var (
	ErrValidation               = errors.New("validation error")
	ErrGatewayRejected          = errors.New("payment refused by gateway")
	ErrGatewayUnavailable       = errors.New("payment gateway unavailable")
	ErrPersistenceInconsistency = errors.New("charge accepted by gateway but not recorded")
	ErrNotFound                 = errors.New("transaction not found")
	ErrVerificationFailed       = errors.New("payment verification failed")
	ErrSideEffectFailed         = errors.New("payment benefit not granted")
)

func validationErr(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// GatewayError carries what the gateway said when it refused a charge.
// Unavailable marks charges that never got an answer from the gateway.
type GatewayError struct {
	HTTPStatus  int
	Code        string
	Message     string
	Unavailable bool
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway rejected charge: http=%d code=%s message=%s", e.HTTPStatus, e.Code, e.Message)
}

func (e *GatewayError) Unwrap() []error {
	if e.Unavailable {
		return []error{ErrGatewayRejected, ErrGatewayUnavailable}
	}
	return []error{ErrGatewayRejected}
}

// SideEffectError means the transaction is completed but its benefit was not applied.
type SideEffectError struct {
	Purpose       models.Purpose
	TransactionID string
	Err           error
}

func (e *SideEffectError) Error() string {
	return fmt.Sprintf("apply %s for transaction %s: %v", e.Purpose, e.TransactionID, e.Err)
}

func (e *SideEffectError) Unwrap() []error { return []error{ErrSideEffectFailed, e.Err} }
