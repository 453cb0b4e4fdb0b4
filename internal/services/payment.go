package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/markjakearzadon/propertypay-gobackend/internal/config"
	"github.com/markjakearzadon/propertypay-gobackend/internal/models"
)

type CreateTransactionInput struct {
	RequesterID      string
	Amount           float64
	Description      string
	Purpose          models.Purpose
	RelatedEntityID  string
	PackageID        string
	SubscriptionType string
	Currency         string
	PaymentMethod    string
	PhoneNumber      string
	ReturnURL        string
	CancelURL        string
}

type PaymentService struct {
	store      TransactionStore
	gateway    Gateway
	profiles   ProfileStore
	normalizer *AmountNormalizer
	alerter    Alerter
	cfg        config.PaymentConfig
	logger     *zap.Logger
	now        func() time.Time
}

func NewPaymentService(store TransactionStore, gateway Gateway, profiles ProfileStore, normalizer *AmountNormalizer, alerter Alerter, cfg config.PaymentConfig, logger *zap.Logger) *PaymentService {
	return &PaymentService{
		store:      store,
		gateway:    gateway,
		profiles:   profiles,
		normalizer: normalizer,
		alerter:    alerter,
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func validateCreate(in *CreateTransactionInput) error {
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	in.PaymentMethod = strings.TrimSpace(in.PaymentMethod)

	switch {
	case in.RequesterID == "":
		return validationErr("requester is required")
	case in.Amount <= 0:
		return validationErr("amount must be positive")
	case in.PhoneNumber == "":
		return validationErr("phone_number is required")
	case in.PaymentMethod == "":
		return validationErr("payment_method is required")
	case !in.Purpose.Valid():
		return validationErr(fmt.Sprintf("payment_type must be sponsorship, subscription or paid_listing, got %q", in.Purpose))
	}

	switch in.Purpose {
	case models.PurposeSponsorship:
		if in.RelatedEntityID == "" || in.PackageID == "" {
			return validationErr("sponsorship requires related_id and package_id")
		}
	case models.PurposeSubscription:
		if in.SubscriptionType == "" {
			return validationErr("subscription requires subscription_type")
		}
	}
	return nil
}

// NewTransactionID builds the gateway-visible reference purpose_requester_millis-nonce.
// The nonce keeps two charges started in the same millisecond apart.
func NewTransactionID(purpose models.Purpose, requesterID string, at time.Time) string {
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%d-%s", purpose, requesterID, at.UnixMilli(), nonce)
}

// CreateTransaction charges through the gateway and records the pending row.
// Nothing is persisted when the gateway refuses.
func (s *PaymentService) CreateTransaction(ctx context.Context, in CreateTransactionInput) (*models.PaymentTransaction, error) {
	if err := validateCreate(&in); err != nil {
		return nil, err
	}

	amount, err := s.normalizer.Normalize(in.Amount)
	if err != nil {
		return nil, err
	}
	method, err := s.normalizer.PaymentMethod(in.PaymentMethod)
	if err != nil {
		return nil, err
	}
	currency := s.normalizer.ResolveCurrency(in.Currency, method)

	customer, err := s.customer(ctx, in.RequesterID, in.PhoneNumber, method)
	if err != nil {
		return nil, err
	}

	now := s.now()
	id := NewTransactionID(in.Purpose, in.RequesterID, now)

	returnURL := in.ReturnURL
	if returnURL == "" {
		returnURL = s.cfg.ReturnURL
	}
	cancelURL := in.CancelURL
	if cancelURL == "" {
		cancelURL = s.cfg.CancelURL
	}

	metadata, err := json.Marshal(map[string]string{
		"purpose":           string(in.Purpose),
		"requester_id":      in.RequesterID,
		"related_id":        in.RelatedEntityID,
		"package_id":        in.PackageID,
		"subscription_type": in.SubscriptionType,
		"cancel_url":        cancelURL,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	description := strings.TrimSpace(in.Description)
	if description == "" {
		description = fmt.Sprintf("Payment %s", in.Purpose)
	}

	charge, err := s.gateway.CreatePayment(ctx, ChargeRequest{
		TransactionID: id,
		Amount:        amount,
		Currency:      currency,
		Description:   description,
		Channels:      method.Channel,
		NotifyURL:     s.cfg.NotifyURL(),
		ReturnURL:     returnURL,
		Metadata:      string(metadata),
		Customer:      customer,
	})
	if err != nil {
		return nil, err
	}

	tx := &models.PaymentTransaction{
		ID:                    id,
		RequesterID:           in.RequesterID,
		Amount:                amount,
		Currency:              currency,
		PaymentMethod:         method.Code,
		Purpose:               in.Purpose,
		Description:           description,
		RelatedEntityID:       in.RelatedEntityID,
		PackageID:             in.PackageID,
		SubscriptionType:      in.SubscriptionType,
		PhoneNumber:           in.PhoneNumber,
		Status:                models.StatusPending,
		ProviderTransactionID: charge.PaymentToken,
		PaymentURL:            charge.PaymentURL,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if err := s.store.Insert(ctx, tx); err != nil {
		s.alerter.Raise(ctx, models.OperationalAlert{
			Kind:          AlertPersistenceInconsistency,
			TransactionID: id,
			Purpose:       in.Purpose,
			RequesterID:   in.RequesterID,
			Message:       fmt.Sprintf("gateway accepted charge of %d %s but the row was not saved: %v", amount, currency, err),
		})
		return nil, fmt.Errorf("%w: %v", ErrPersistenceInconsistency, err)
	}

	s.logger.Info("transaction created",
		zap.String("transaction_id", id),
		zap.String("purpose", string(in.Purpose)),
		zap.Int64("amount", amount),
		zap.String("currency", currency),
		zap.String("payment_method", method.Code))
	return tx, nil
}

// customer builds the gateway identity block. A missing profile degrades to the
// phone number alone rather than blocking the charge.
func (s *PaymentService) customer(ctx context.Context, requesterID, phone string, method models.PaymentMethod) (Customer, error) {
	c := Customer{ID: requesterID, PhoneNumber: phone, Country: method.Country}

	user, err := s.profiles.GetUser(ctx, requesterID)
	if errors.Is(err, ErrUserNotFound) {
		s.logger.Warn("requester profile not found, charging with phone only", zap.String("requester_id", requesterID))
		return c, nil
	}
	if err != nil {
		return Customer{}, err
	}

	c.Name, c.Surname = user.SplitName()
	c.Email = user.Email
	c.City = user.City
	c.Address = user.City
	if c.Country == "" {
		c.Country = user.Country
	}
	return c, nil
}

// GetTransaction returns the requester's own transaction.
func (s *PaymentService) GetTransaction(ctx context.Context, requesterID, id string) (*models.PaymentTransaction, error) {
	tx, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.RequesterID != requesterID {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return tx, nil
}

func (s *PaymentService) ListTransactions(ctx context.Context, requesterID, status string) ([]models.PaymentTransaction, error) {
	var filter models.TransactionStatus
	if status != "" {
		parsed, ok := models.ParseTransactionStatus(status)
		if !ok {
			return nil, validationErr("status must be pending, completed or failed")
		}
		filter = parsed
	}
	return s.store.ListByRequester(ctx, requesterID, filter)
}
