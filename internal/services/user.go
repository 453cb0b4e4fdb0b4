package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/markjakearzadon/propertypay-gobackend/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

type ProfileStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

type UserService struct {
	collection *mongo.Collection
}

func NewUserService(db *mongo.Database) *UserService {
	return &UserService{collection: db.Collection("user")}
}

// GetUser by id of type string
func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid user id %q", ErrUserNotFound, id)
	}

	var user models.User
	if err := s.collection.FindOne(ctx, bson.M{"_id": objID}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
		}
		return nil, fmt.Errorf("fetch user: %w", err)
	}
	return &user, nil
}
