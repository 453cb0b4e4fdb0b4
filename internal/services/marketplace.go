package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/markjakearzadon/propertypay-gobackend/internal/models"
)

var (
	ErrListingNotFound = errors.New("listing not found")
	ErrPackageNotFound = errors.New("sponsorship package not found")
	// ErrSubscriptionConflict means another transaction activated a subscription for the
	// same user between deactivation and insert.
	ErrSubscriptionConflict = errors.New("another subscription is already active")
)

type SponsorshipStore interface {
	GetPackage(ctx context.Context, id string) (*models.SponsorshipPackage, error)
	// RecordSponsorship stores the grant once per transaction and returns the stored row.
	RecordSponsorship(ctx context.Context, s *models.Sponsorship) (*models.Sponsorship, error)
	SponsorListing(ctx context.Context, listingID string, until time.Time) error
}

type SubscriptionStore interface {
	DeactivateSubscriptions(ctx context.Context, userID, exceptTransactionID string, at time.Time) (int64, error)
	// ActivateSubscription fails with ErrSubscriptionConflict while the user has another active row.
	ActivateSubscription(ctx context.Context, sub *models.UserSubscription) (bool, error)
}

type UsageStore interface {
	// RecordListingPayment stores the audit row once per transaction and returns the stored row.
	RecordListingPayment(ctx context.Context, p *models.ListingPayment) (*models.ListingPayment, error)
	IncrementPaidListings(ctx context.Context, userID string, month, year int, at time.Time) error
	MarkUsageCounted(ctx context.Context, transactionID string) error
}

type UsageReader interface {
	GetUsage(ctx context.Context, userID string, month, year int) (*models.MonthlyListingUsage, error)
}

const (
	listingsCollection      = "listings"
	packagesCollection      = "sponsorship_packages"
	sponsorshipsCollection  = "sponsorships"
	subscriptionsCollection = "user_subscriptions"
	listingPaymentsColl     = "listing_payments"
	usageCollection         = "monthly_listing_usage"
)

// MarketplaceRepository writes the business entities a completed payment unlocks.
type MarketplaceRepository struct {
	db *mongo.Database
}

func NewMarketplaceRepository(db *mongo.Database) *MarketplaceRepository {
	return &MarketplaceRepository{db: db}
}

// idFilter matches ids stored either as ObjectIDs or as plain strings.
func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{oid, id}}}
	}
	return bson.M{"_id": id}
}

func (r *MarketplaceRepository) GetPackage(ctx context.Context, id string) (*models.SponsorshipPackage, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var raw struct {
		DurationDays int    `bson:"duration_days"`
		Name         string `bson:"name"`
		Price        int64  `bson:"price"`
	}
	if err := r.db.Collection(packagesCollection).FindOne(ctx, idFilter(id)).Decode(&raw); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, id)
		}
		return nil, fmt.Errorf("fetch package: %w", err)
	}
	return &models.SponsorshipPackage{ID: id, Name: raw.Name, DurationDays: raw.DurationDays, Price: raw.Price}, nil
}

func (r *MarketplaceRepository) RecordSponsorship(ctx context.Context, s *models.Sponsorship) (*models.Sponsorship, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	update := bson.M{"$setOnInsert": bson.M{
		"_id":        s.ID,
		"listing_id": s.ListingID,
		"package_id": s.PackageID,
		"user_id":    s.UserID,
		"starts_at":  s.StartsAt,
		"ends_at":    s.EndsAt,
		"created_at": s.CreatedAt,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var stored models.Sponsorship
	err := r.db.Collection(sponsorshipsCollection).
		FindOneAndUpdate(ctx, bson.M{"transaction_id": s.TransactionID}, update, opts).
		Decode(&stored)
	if err != nil {
		return nil, fmt.Errorf("record sponsorship: %w", err)
	}
	return &stored, nil
}

func (r *MarketplaceRepository) SponsorListing(ctx context.Context, listingID string, until time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := r.db.Collection(listingsCollection).UpdateOne(ctx, idFilter(listingID), bson.M{"$set": bson.M{
		"is_sponsored":    true,
		"sponsored_until": until,
		"updated_at":      time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("sponsor listing: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrListingNotFound, listingID)
	}
	return nil
}

func (r *MarketplaceRepository) DeactivateSubscriptions(ctx context.Context, userID, exceptTransactionID string, at time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := r.db.Collection(subscriptionsCollection).UpdateMany(ctx,
		bson.M{"user_id": userID, "is_active": true, "transaction_id": bson.M{"$ne": exceptTransactionID}},
		bson.M{"$set": bson.M{"is_active": false, "updated_at": at}},
	)
	if err != nil {
		return 0, fmt.Errorf("deactivate subscriptions: %w", err)
	}
	return res.ModifiedCount, nil
}

func (r *MarketplaceRepository) ActivateSubscription(ctx context.Context, sub *models.UserSubscription) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := r.db.Collection(subscriptionsCollection).UpdateOne(ctx,
		bson.M{"transaction_id": sub.TransactionID},
		bson.M{"$setOnInsert": bson.M{
			"_id":               sub.ID,
			"user_id":           sub.UserID,
			"subscription_type": sub.SubscriptionType,
			"is_active":         true,
			"started_at":        sub.StartedAt,
			"expires_at":        sub.ExpiresAt,
			"created_at":        sub.CreatedAt,
			"updated_at":        sub.UpdatedAt,
		}},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return false, fmt.Errorf("%w: user %s", ErrSubscriptionConflict, sub.UserID)
	}
	if err != nil {
		return false, fmt.Errorf("activate subscription: %w", err)
	}
	return res.UpsertedCount == 1, nil
}

func (r *MarketplaceRepository) RecordListingPayment(ctx context.Context, p *models.ListingPayment) (*models.ListingPayment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	update := bson.M{"$setOnInsert": bson.M{
		"_id":           p.ID,
		"user_id":       p.UserID,
		"listing_id":    p.ListingID,
		"amount":        p.Amount,
		"currency":      p.Currency,
		"usage_counted": false,
		"created_at":    p.CreatedAt,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var stored models.ListingPayment
	err := r.db.Collection(listingPaymentsColl).
		FindOneAndUpdate(ctx, bson.M{"transaction_id": p.TransactionID}, update, opts).
		Decode(&stored)
	if err != nil {
		return nil, fmt.Errorf("record listing payment: %w", err)
	}
	return &stored, nil
}

func (r *MarketplaceRepository) IncrementPaidListings(ctx context.Context, userID string, month, year int, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.Collection(usageCollection).UpdateOne(ctx,
		bson.M{"user_id": userID, "month": month, "year": year},
		bson.M{
			"$inc": bson.M{"paid_listings_used": 1},
			"$set": bson.M{"updated_at": at},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("increment paid listings: %w", err)
	}
	return nil
}

func (r *MarketplaceRepository) MarkUsageCounted(ctx context.Context, transactionID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.Collection(listingPaymentsColl).UpdateOne(ctx,
		bson.M{"transaction_id": transactionID},
		bson.M{"$set": bson.M{"usage_counted": true}},
	)
	if err != nil {
		return fmt.Errorf("mark usage counted: %w", err)
	}
	return nil
}

// GetUsage returns the counter for a month, zero valued when absent.
func (r *MarketplaceRepository) GetUsage(ctx context.Context, userID string, month, year int) (*models.MonthlyListingUsage, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	usage := models.MonthlyListingUsage{UserID: userID, Month: month, Year: year}
	err := r.db.Collection(usageCollection).FindOne(ctx, bson.M{"user_id": userID, "month": month, "year": year}).Decode(&usage)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("fetch usage: %w", err)
	}
	return &usage, nil
}
