package models

import (
	"strings"
	"time"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func ParseTransactionStatus(raw string) (TransactionStatus, bool) {
	switch s := TransactionStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusPending, StatusCompleted, StatusFailed:
		return s, true
	}
	return "", false
}

// Purpose selects which business benefit a completed payment grants.
type Purpose string

const (
	PurposeSponsorship  Purpose = "sponsorship"
	PurposeSubscription Purpose = "subscription"
	PurposePaidListing  Purpose = "paid_listing"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeSponsorship, PurposeSubscription, PurposePaidListing:
		return true
	}
	return false
}

// PaymentTransaction is one charge attempt. Only Status, VerifiedAt, ProviderResponse,
// SideEffectAppliedAt and UpdatedAt change after the row is inserted.
type PaymentTransaction struct {
	ID                    string            `bson:"_id" json:"id"`
	RequesterID           string            `bson:"requester_id" json:"requester_id"`
	Amount                int64             `bson:"amount" json:"amount"`
	Currency              string            `bson:"currency" json:"currency"`
	PaymentMethod         string            `bson:"payment_method" json:"payment_method"`
	Purpose               Purpose           `bson:"purpose" json:"purpose"`
	Description           string            `bson:"description" json:"description"`
	RelatedEntityID       string            `bson:"related_entity_id,omitempty" json:"related_entity_id,omitempty"`
	PackageID             string            `bson:"package_id,omitempty" json:"package_id,omitempty"`
	SubscriptionType      string            `bson:"subscription_type,omitempty" json:"subscription_type,omitempty"`
	PhoneNumber           string            `bson:"phone_number" json:"-"`
	Status                TransactionStatus `bson:"status" json:"status"`
	ProviderTransactionID string            `bson:"provider_transaction_id" json:"provider_transaction_id"`
	PaymentURL            string            `bson:"payment_url" json:"payment_url"`
	VerifiedAt            *time.Time        `bson:"verified_at,omitempty" json:"verified_at,omitempty"`
	ProviderResponse      string            `bson:"provider_response,omitempty" json:"-"`
	SideEffectAppliedAt   *time.Time        `bson:"side_effect_applied_at,omitempty" json:"side_effect_applied_at,omitempty"`
	CreatedAt             time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt             time.Time         `bson:"updated_at" json:"updated_at"`
}
