package models

import "time"

// Listing fields touched by sponsorship activation. The listings service owns the rest.
type Listing struct {
	ID             string     `bson:"_id" json:"id"`
	OwnerID        string     `bson:"owner_id" json:"owner_id"`
	Title          string     `bson:"title" json:"title"`
	IsSponsored    bool       `bson:"is_sponsored" json:"is_sponsored"`
	SponsoredUntil *time.Time `bson:"sponsored_until,omitempty" json:"sponsored_until,omitempty"`
}

type SponsorshipPackage struct {
	ID           string `bson:"_id" json:"id"`
	Name         string `bson:"name" json:"name"`
	DurationDays int    `bson:"duration_days" json:"duration_days"`
	Price        int64  `bson:"price" json:"price"`
}

func (p *SponsorshipPackage) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}

// Sponsorship is the audit row written when a sponsorship is granted.
type Sponsorship struct {
	ID            string    `bson:"_id" json:"id"`
	TransactionID string    `bson:"transaction_id" json:"transaction_id"`
	ListingID     string    `bson:"listing_id" json:"listing_id"`
	PackageID     string    `bson:"package_id" json:"package_id"`
	UserID        string    `bson:"user_id" json:"user_id"`
	StartsAt      time.Time `bson:"starts_at" json:"starts_at"`
	EndsAt        time.Time `bson:"ends_at" json:"ends_at"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
}

type UserSubscription struct {
	ID               string    `bson:"_id" json:"id"`
	UserID           string    `bson:"user_id" json:"user_id"`
	SubscriptionType string    `bson:"subscription_type" json:"subscription_type"`
	IsActive         bool      `bson:"is_active" json:"is_active"`
	StartedAt        time.Time `bson:"started_at" json:"started_at"`
	ExpiresAt        time.Time `bson:"expires_at" json:"expires_at"`
	TransactionID    string    `bson:"transaction_id" json:"transaction_id"`
	CreatedAt        time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at" json:"updated_at"`
}

// ListingPayment is the audit row for a pay-per-listing credit.
type ListingPayment struct {
	ID            string    `bson:"_id" json:"id"`
	TransactionID string    `bson:"transaction_id" json:"transaction_id"`
	UserID        string    `bson:"user_id" json:"user_id"`
	ListingID     string    `bson:"listing_id,omitempty" json:"listing_id,omitempty"`
	Amount        int64     `bson:"amount" json:"amount"`
	Currency      string    `bson:"currency" json:"currency"`
	UsageCounted  bool      `bson:"usage_counted" json:"usage_counted"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
}

type MonthlyListingUsage struct {
	UserID           string    `bson:"user_id" json:"user_id"`
	Month            int       `bson:"month" json:"month"`
	Year             int       `bson:"year" json:"year"`
	PaidListingsUsed int       `bson:"paid_listings_used" json:"paid_listings_used"`
	UpdatedAt        time.Time `bson:"updated_at" json:"updated_at"`
}

// PaymentMethod describes one gateway channel a client may pick.
type PaymentMethod struct {
	Code     string `yaml:"code" json:"code"`
	Channel  string `yaml:"channel" json:"channel"`
	Currency string `yaml:"currency" json:"currency"`
	Country  string `yaml:"country" json:"country"`
}

// OperationalAlert records a state that needs manual remediation.
type OperationalAlert struct {
	ID            string    `bson:"_id" json:"id"`
	Kind          string    `bson:"kind" json:"kind"`
	TransactionID string    `bson:"transaction_id" json:"transaction_id"`
	Purpose       Purpose   `bson:"purpose,omitempty" json:"purpose,omitempty"`
	RequesterID   string    `bson:"requester_id,omitempty" json:"requester_id,omitempty"`
	Message       string    `bson:"message" json:"message"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
}
