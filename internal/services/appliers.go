package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/markjakearzadon/propertypay-gobackend/internal/models"
)

const SubscriptionPeriod = 30 * 24 * time.Hour

const maxActivationAttempts = 5

// Applier grants the benefit a completed transaction paid for. Implementations must be
// safe to run again for the same transaction.
type Applier interface {
	Apply(ctx context.Context, tx *models.PaymentTransaction) error
}

type ApplierFunc func(ctx context.Context, tx *models.PaymentTransaction) error

func (f ApplierFunc) Apply(ctx context.Context, tx *models.PaymentTransaction) error {
	return f(ctx, tx)
}

type ApplierRegistry struct {
	mu       sync.RWMutex
	appliers map[models.Purpose]Applier
}

func NewApplierRegistry() *ApplierRegistry {
	return &ApplierRegistry{appliers: make(map[models.Purpose]Applier)}
}

func (r *ApplierRegistry) Register(purpose models.Purpose, a Applier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appliers[purpose] = a
}

func (r *ApplierRegistry) Lookup(purpose models.Purpose) (Applier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appliers[purpose]
	return a, ok
}

// NewDefaultRegistry wires the three marketplace purposes.
func NewDefaultRegistry(sponsorships SponsorshipStore, subscriptions SubscriptionStore, usage UsageStore, logger *zap.Logger) *ApplierRegistry {
	r := NewApplierRegistry()
	r.Register(models.PurposeSponsorship, NewSponsorshipActivator(sponsorships, logger))
	r.Register(models.PurposeSubscription, NewSubscriptionActivator(subscriptions, logger))
	r.Register(models.PurposePaidListing, NewPaidListingApplier(usage, logger))
	return r
}

type SponsorshipActivator struct {
	store  SponsorshipStore
	logger *zap.Logger
	now    func() time.Time
}

func NewSponsorshipActivator(store SponsorshipStore, logger *zap.Logger) *SponsorshipActivator {
	return &SponsorshipActivator{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (a *SponsorshipActivator) Apply(ctx context.Context, tx *models.PaymentTransaction) error {
	if tx.RelatedEntityID == "" || tx.PackageID == "" {
		return errors.New("sponsorship needs a listing and a package")
	}

	pkg, err := a.store.GetPackage(ctx, tx.PackageID)
	if err != nil {
		return err
	}
	if pkg.DurationDays <= 0 {
		return fmt.Errorf("package %s has no duration", pkg.ID)
	}

	now := a.now()
	grant, err := a.store.RecordSponsorship(ctx, &models.Sponsorship{
		ID:            uuid.NewString(),
		TransactionID: tx.ID,
		ListingID:     tx.RelatedEntityID,
		PackageID:     pkg.ID,
		UserID:        tx.RequesterID,
		StartsAt:      now,
		EndsAt:        now.Add(pkg.Duration()),
		CreatedAt:     now,
	})
	if err != nil {
		return err
	}

	// A retry reuses the first grant's window instead of extending it.
	if err := a.store.SponsorListing(ctx, grant.ListingID, grant.EndsAt); err != nil {
		return err
	}

	a.logger.Info("listing sponsored",
		zap.String("transaction_id", tx.ID),
		zap.String("listing_id", grant.ListingID),
		zap.Time("sponsored_until", grant.EndsAt))
	return nil
}

type SubscriptionActivator struct {
	store  SubscriptionStore
	logger *zap.Logger
	now    func() time.Time
}

func NewSubscriptionActivator(store SubscriptionStore, logger *zap.Logger) *SubscriptionActivator {
	return &SubscriptionActivator{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (a *SubscriptionActivator) Apply(ctx context.Context, tx *models.PaymentTransaction) error {
	if tx.SubscriptionType == "" {
		return errors.New("subscription type is missing")
	}

	now := a.now()
	sub := &models.UserSubscription{
		ID:               uuid.NewString(),
		UserID:           tx.RequesterID,
		SubscriptionType: tx.SubscriptionType,
		IsActive:         true,
		StartedAt:        now,
		ExpiresAt:        now.Add(SubscriptionPeriod),
		TransactionID:    tx.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	// Each conflict means a concurrent activation for the same user landed first;
	// deactivate it and try again.
	var (
		deactivated int64
		created     bool
		err         error
	)
	for attempt := 1; ; attempt++ {
		var n int64
		n, err = a.store.DeactivateSubscriptions(ctx, tx.RequesterID, tx.ID, now)
		if err != nil {
			return err
		}
		deactivated += n

		created, err = a.store.ActivateSubscription(ctx, sub)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrSubscriptionConflict) || attempt == maxActivationAttempts {
			return err
		}
		a.logger.Warn("subscription activation raced, retrying",
			zap.String("transaction_id", tx.ID),
			zap.String("user_id", tx.RequesterID),
			zap.Int("attempt", attempt))
	}

	a.logger.Info("subscription activated",
		zap.String("transaction_id", tx.ID),
		zap.String("user_id", tx.RequesterID),
		zap.String("subscription_type", tx.SubscriptionType),
		zap.Int64("deactivated", deactivated),
		zap.Bool("created", created))
	return nil
}

type PaidListingApplier struct {
	store  UsageStore
	logger *zap.Logger
	now    func() time.Time
}

func NewPaidListingApplier(store UsageStore, logger *zap.Logger) *PaidListingApplier {
	return &PaidListingApplier{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (a *PaidListingApplier) Apply(ctx context.Context, tx *models.PaymentTransaction) error {
	now := a.now()
	payment, err := a.store.RecordListingPayment(ctx, &models.ListingPayment{
		ID:            uuid.NewString(),
		TransactionID: tx.ID,
		UserID:        tx.RequesterID,
		ListingID:     tx.RelatedEntityID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		CreatedAt:     now,
	})
	if err != nil {
		return err
	}
	if payment.UsageCounted {
		a.logger.Info("listing credit already counted", zap.String("transaction_id", tx.ID))
		return nil
	}

	if err := a.store.IncrementPaidListings(ctx, tx.RequesterID, int(now.Month()), now.Year(), now); err != nil {
		return err
	}
	if err := a.store.MarkUsageCounted(ctx, tx.ID); err != nil {
		return err
	}

	a.logger.Info("paid listing credited",
		zap.String("transaction_id", tx.ID),
		zap.String("user_id", tx.RequesterID),
		zap.Int("month", int(now.Month())),
		zap.Int("year", now.Year()))
	return nil
}
