package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dandantas/lms-worker/internal/model"
)

// UserRepository reads platform users
type UserRepository struct {
	collection *mongo.Collection
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *MongoDB) *UserRepository {
	return &UserRepository{
		collection: db.GetCollection(db.Collections.Users),
	}
}

// GetByID retrieves a user by id
func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var user model.User
	err := r.collection.FindOne(ctxTimeout, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// GetByIDs retrieves the users with the given ids. Unknown ids are skipped.
func (r *UserRepository) GetByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	if len(ids) == 0 {
		return []model.User{}, nil
	}
	return r.find(ctx, bson.M{"_id": bson.M{"$in": ids}}, 0)
}

// FindByProperties retrieves users whose fields equal every given value
func (r *UserRepository) FindByProperties(ctx context.Context, properties map[string]any, limit int) ([]model.User, error) {
	filter := bson.M{}
	for k, v := range properties {
		filter[k] = v
	}
	return r.find(ctx, filter, limit)
}

func (r *UserRepository) find(ctx context.Context, filter bson.M, limit int) ([]model.User, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctxTimeout, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find users: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	users := []model.User{}
	if err := cursor.All(ctxTimeout, &users); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}

	return users, nil
}
