package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/markjakearzadon/propertypay-gobackend/internal/models"
)

// ReconciliationService asks the gateway for the truth about a transaction and
// moves it to its terminal state. Only the caller whose transition wins applies
// the purchased benefit.
type ReconciliationService struct {
	store    TransactionStore
	gateway  Gateway
	appliers *ApplierRegistry
	alerter  Alerter
	locker   Locker
	logger   *zap.Logger
	now      func() time.Time
}

func NewReconciliationService(store TransactionStore, gateway Gateway, appliers *ApplierRegistry, alerter Alerter, logger *zap.Logger) *ReconciliationService {
	return &ReconciliationService{
		store:    store,
		gateway:  gateway,
		appliers: appliers,
		alerter:  alerter,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithLocker enables a distributed lock around verification. Optional.
func (s *ReconciliationService) WithLocker(l Locker) *ReconciliationService {
	s.locker = l
	return s
}

// MapGatewayStatus turns a gateway status into the local one. Anything the
// gateway has not settled stays pending.
func MapGatewayStatus(status string) models.TransactionStatus {
	switch status {
	case gatewayStatusAccept:
		return models.StatusCompleted
	case gatewayStatusRefuse:
		return models.StatusFailed
	default:
		return models.StatusPending
	}
}

// Verify reconciles one transaction and returns its resulting status. A side
// effect failure is alerted and does not turn into an error.
func (s *ReconciliationService) Verify(ctx context.Context, transactionID string) (models.TransactionStatus, error) {
	if transactionID == "" {
		return "", validationErr("transaction_id is required")
	}

	tx, err := s.store.Get(ctx, transactionID)
	if err != nil {
		return "", err
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, transactionID)
		switch {
		case errors.Is(err, ErrLockHeld):
			s.logger.Info("verification already running elsewhere", zap.String("transaction_id", transactionID))
			return tx.Status, nil
		case err != nil:
			s.logger.Warn("verification lock unavailable, continuing without it", zap.String("transaction_id", transactionID), zap.Error(err))
		default:
			defer release()
		}
	}

	check, err := s.gateway.CheckPayment(ctx, transactionID)
	if err != nil {
		s.logger.Warn("gateway check failed", zap.String("transaction_id", transactionID), zap.Error(err))
		if !errors.Is(err, ErrVerificationFailed) {
			err = fmt.Errorf("%w: %v", ErrVerificationFailed, err)
		}
		return "", err
	}

	next := MapGatewayStatus(check.Status)
	now := s.now()
	raw := string(check.Raw)

	// Terminal rows never move; the check is only recorded.
	if tx.Status.Terminal() {
		if next != tx.Status {
			s.logger.Warn("gateway disagrees with terminal status",
				zap.String("transaction_id", transactionID),
				zap.String("local_status", string(tx.Status)),
				zap.String("gateway_status", check.Status))
		}
		if err := s.store.RecordCheck(ctx, transactionID, now, raw); err != nil {
			return "", err
		}
		return tx.Status, nil
	}

	if next == models.StatusPending {
		if err := s.store.RecordCheck(ctx, transactionID, now, raw); err != nil {
			return "", err
		}
		return models.StatusPending, nil
	}

	updated, won, err := s.store.Transition(ctx, transactionID, models.StatusPending, next, now, raw)
	if err != nil {
		return "", err
	}
	if !won {
		s.logger.Info("transaction already settled by a concurrent verification",
			zap.String("transaction_id", transactionID),
			zap.String("status", string(updated.Status)))
		return updated.Status, nil
	}

	s.logger.Info("transaction settled",
		zap.String("transaction_id", transactionID),
		zap.String("purpose", string(updated.Purpose)),
		zap.String("status", string(next)))

	if next == models.StatusCompleted {
		s.applySideEffect(ctx, updated)
	}
	return next, nil
}

func (s *ReconciliationService) applySideEffect(ctx context.Context, tx *models.PaymentTransaction) {
	applier, ok := s.appliers.Lookup(tx.Purpose)
	if !ok {
		s.raiseSideEffect(ctx, tx, fmt.Errorf("no applier registered for purpose %q", tx.Purpose))
		return
	}

	// The transaction is already completed; the benefit must not die with the request.
	ctx = context.WithoutCancel(ctx)
	if err := applier.Apply(ctx, tx); err != nil {
		s.raiseSideEffect(ctx, tx, err)
		return
	}
	if err := s.store.MarkSideEffectApplied(ctx, tx.ID, s.now()); err != nil {
		s.logger.Warn("failed to stamp side effect", zap.String("transaction_id", tx.ID), zap.Error(err))
	}
}

func (s *ReconciliationService) raiseSideEffect(ctx context.Context, tx *models.PaymentTransaction, cause error) {
	err := &SideEffectError{Purpose: tx.Purpose, TransactionID: tx.ID, Err: cause}
	s.alerter.Raise(ctx, models.OperationalAlert{
		Kind:          AlertSideEffectFailed,
		TransactionID: tx.ID,
		Purpose:       tx.Purpose,
		RequesterID:   tx.RequesterID,
		Message:       err.Error(),
	})
}

type ReconcileResult struct {
	TransactionID string                   `json:"transaction_id"`
	Status        models.TransactionStatus `json:"status,omitempty"`
	Error         string                   `json:"error,omitempty"`
}

type ReconcileSummary struct {
	Checked   int               `json:"checked"`
	Completed int               `json:"completed"`
	Failed    int               `json:"failed"`
	Pending   int               `json:"pending"`
	Errors    int               `json:"errors"`
	Results   []ReconcileResult `json:"results"`
}

const MaxReconcileBatch = 100

// ReconcilePending re-verifies pending transactions older than olderThan.
func (s *ReconciliationService) ReconcilePending(ctx context.Context, olderThan time.Duration, limit int64) (ReconcileSummary, error) {
	summary := ReconcileSummary{Results: []ReconcileResult{}}
	if limit <= 0 || limit > MaxReconcileBatch {
		limit = MaxReconcileBatch
	}

	pending, err := s.store.ListPending(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return summary, err
	}

	for _, tx := range pending {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Checked++
		status, err := s.Verify(ctx, tx.ID)
		if err != nil {
			summary.Errors++
			summary.Results = append(summary.Results, ReconcileResult{TransactionID: tx.ID, Error: err.Error()})
			continue
		}
		summary.Results = append(summary.Results, ReconcileResult{TransactionID: tx.ID, Status: status})
		switch status {
		case models.StatusCompleted:
			summary.Completed++
		case models.StatusFailed:
			summary.Failed++
		default:
			summary.Pending++
		}
	}

	s.logger.Info("reconciliation pass finished",
		zap.Int("checked", summary.Checked),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
		zap.Int("pending", summary.Pending),
		zap.Int("errors", summary.Errors))
	return summary, nil
}
