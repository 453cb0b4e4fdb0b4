package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/markjakearzadon/propertypay-gobackend/internal/models"
)

const (
	AlertPersistenceInconsistency = "persistence_inconsistency"
	AlertSideEffectFailed         = "side_effect_failed"
)

// Alerter raises states that need an operator. Raising an alert never fails the caller.
type Alerter interface {
	Raise(ctx context.Context, alert models.OperationalAlert)
}

type AlertService struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewAlertService persists alerts when db is non-nil and always logs them.
func NewAlertService(db *mongo.Database, logger *zap.Logger) *AlertService {
	s := &AlertService{logger: logger}
	if db != nil {
		s.collection = db.Collection("operational_alerts")
	}
	return s
}

func (s *AlertService) Raise(ctx context.Context, alert models.OperationalAlert) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	s.logger.Error("operational alert",
		zap.String("kind", alert.Kind),
		zap.String("transaction_id", alert.TransactionID),
		zap.String("purpose", string(alert.Purpose)),
		zap.String("requester_id", alert.RequesterID),
		zap.String("message", alert.Message))

	if s.collection == nil {
		return
	}
	// The request context may already be cancelled; the alert must still land.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := s.collection.InsertOne(ctx, alert); err != nil {
		s.logger.Error("failed to persist alert", zap.String("transaction_id", alert.TransactionID), zap.Error(err))
	}
}

// RecordingAlerter keeps alerts in memory.
type RecordingAlerter struct {
	mu     sync.Mutex
	alerts []models.OperationalAlert
}

func (r *RecordingAlerter) Raise(_ context.Context, alert models.OperationalAlert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
}

func (r *RecordingAlerter) Alerts() []models.OperationalAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.OperationalAlert(nil), r.alerts...)
}
