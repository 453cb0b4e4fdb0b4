package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/markjakearzadon/propertypay-gobackend/internal/models"
)

// TransactionStore is the authoritative record of payment attempts.
type TransactionStore interface {
	Insert(ctx context.Context, tx *models.PaymentTransaction) error
	Get(ctx context.Context, id string) (*models.PaymentTransaction, error)
	// Transition moves the row from `from` to `to` atomically and records the check.
	// ok is false when the row was no longer in `from`; the current row is returned then.
	Transition(ctx context.Context, id string, from, to models.TransactionStatus, verifiedAt time.Time, response string) (tx *models.PaymentTransaction, ok bool, err error)
	// RecordCheck stores a verification result without touching the status.
	RecordCheck(ctx context.Context, id string, verifiedAt time.Time, response string) error
	MarkSideEffectApplied(ctx context.Context, id string, at time.Time) error
	ListByRequester(ctx context.Context, requesterID string, status models.TransactionStatus) ([]models.PaymentTransaction, error)
	ListPending(ctx context.Context, createdBefore time.Time, limit int64) ([]models.PaymentTransaction, error)
}

const transactionsCollection = "transactions"

type MongoTransactionStore struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

func NewMongoTransactionStore(db *mongo.Database, logger *zap.Logger) *MongoTransactionStore {
	return &MongoTransactionStore{collection: db.Collection(transactionsCollection), logger: logger}
}

func (s *MongoTransactionStore) Insert(ctx context.Context, tx *models.PaymentTransaction) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.collection.InsertOne(ctx, tx); err != nil {
		s.logger.Error("failed to insert transaction", zap.String("transaction_id", tx.ID), zap.Error(err))
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *MongoTransactionStore) Get(ctx context.Context, id string) (*models.PaymentTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var tx models.PaymentTransaction
	if err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&tx); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		s.logger.Error("failed to fetch transaction", zap.String("transaction_id", id), zap.Error(err))
		return nil, fmt.Errorf("fetch transaction: %w", err)
	}
	return &tx, nil
}

func (s *MongoTransactionStore) Transition(ctx context.Context, id string, from, to models.TransactionStatus, verifiedAt time.Time, response string) (*models.PaymentTransaction, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"_id": id, "status": from}
	update := bson.M{"$set": bson.M{
		"status":            to,
		"verified_at":       verifiedAt,
		"provider_response": response,
		"updated_at":        verifiedAt,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var tx models.PaymentTransaction
	err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&tx)
	if err == nil {
		return &tx, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		s.logger.Error("failed to transition transaction", zap.String("transaction_id", id), zap.Error(err))
		return nil, false, fmt.Errorf("transition transaction: %w", err)
	}

	// Lost the race, or the row is gone.
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (s *MongoTransactionStore) RecordCheck(ctx context.Context, id string, verifiedAt time.Time, response string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"verified_at":       verifiedAt,
		"provider_response": response,
		"updated_at":        verifiedAt,
	}})
	if err != nil {
		s.logger.Error("failed to record check", zap.String("transaction_id", id), zap.Error(err))
		return fmt.Errorf("record check: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *MongoTransactionStore) MarkSideEffectApplied(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": id, "side_effect_applied_at": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"side_effect_applied_at": at, "updated_at": at}},
	)
	if err != nil {
		return fmt.Errorf("mark side effect applied: %w", err)
	}
	return nil
}

func (s *MongoTransactionStore) ListByRequester(ctx context.Context, requesterID string, status models.TransactionStatus) ([]models.PaymentTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := bson.M{"requester_id": requesterID}
	if status != "" {
		query["status"] = status
	}
	return s.find(ctx, query, options.Find().SetSort(bson.M{"created_at": -1}).SetLimit(200))
}

func (s *MongoTransactionStore) ListPending(ctx context.Context, createdBefore time.Time, limit int64) ([]models.PaymentTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := bson.M{
		"status":     models.StatusPending,
		"created_at": bson.M{"$lte": createdBefore},
	}
	return s.find(ctx, query, options.Find().SetSort(bson.M{"created_at": 1}).SetLimit(limit))
}

func (s *MongoTransactionStore) find(ctx context.Context, query bson.M, opts *options.FindOptions) ([]models.PaymentTransaction, error) {
	cur, err := s.collection.Find(ctx, query, opts)
	if err != nil {
		s.logger.Error("failed to fetch transactions", zap.Error(err))
		return nil, fmt.Errorf("fetch transactions: %w", err)
	}
	defer cur.Close(ctx)

	txs := []models.PaymentTransaction{}
	if err := cur.All(ctx, &txs); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}
	return txs, nil
}
