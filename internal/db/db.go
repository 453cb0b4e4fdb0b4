package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Connect opens the MongoDB client and pings the primary.
func Connect(ctx context.Context, uri string, logger *zap.Logger) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	// Ping to verify connection
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	logger.Info("connected to MongoDB")
	return client, nil
}

// Ping reports whether the database answers within two seconds.
func Ping(ctx context.Context, client *mongo.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return client.Ping(ctx, readpref.Primary())
}

// EnsureIndexes creates the indexes the payment flow relies on. The unique
// transaction_id indexes back the idempotent benefit upserts.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	unique := options.Index().SetUnique(true)
	indexes := map[string][]mongo.IndexModel{
		"transactions": {
			{Keys: bson.D{{Key: "requester_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		"sponsorships": {
			{Keys: bson.D{{Key: "transaction_id", Value: 1}}, Options: unique},
		},
		"user_subscriptions": {
			{Keys: bson.D{{Key: "transaction_id", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "is_active", Value: 1}}},
			// At most one active subscription per user.
			{
				Keys: bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().
					SetName("one_active_subscription_per_user").
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"is_active": true}),
			},
		},
		"listing_payments": {
			{Keys: bson.D{{Key: "transaction_id", Value: 1}}, Options: unique},
		},
		"monthly_listing_usage": {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "month", Value: 1}, {Key: "year", Value: 1}}, Options: unique},
		},
		"operational_alerts": {
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
	}

	for collection, models := range indexes {
		if _, err := database.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", collection, err)
		}
	}
	return nil
}
