package mongodb

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/vendkit/vendcore/internal/domain/cart"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type CartRepository struct {
	collection *mongo.Collection
}

func NewCartRepository(db *mongo.Database) *CartRepository {
	return &CartRepository{collection: db.Collection("carts")}
}

func (r *CartRepository) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	var cart domain.Cart

	filter := bson.M{"user_id": userID, "active": true}
	err := r.collection.FindOne(ctx, filter).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return &cart, nil
}

// Save upserts the whole cart document keyed by owner. The aggregates are
// recomputed by the entity before this point, so the write is a plain $set.
func (r *CartRepository) Save(ctx context.Context, cart *domain.Cart) error {
	filter := bson.M{"user_id": cart.UserID}
	update := bson.M{"$set": bson.M{
		"user_id":      cart.UserID,
		"lines":        cart.Lines,
		"item_count":   cart.ItemCount,
		"total_amount": cart.TotalAmount,
		"active":       cart.Active,
		"created_at":   cart.CreatedAt,
		"updated_at":   cart.UpdatedAt,
		"expires_at":   cart.ExpiresAt,
	}}
	opts := options.Update().SetUpsert(true)

	if _, err := r.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to upsert cart: %w", err)
	}
	return nil
}

func (r *CartRepository) Delete(ctx context.Context, userID string) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"user_id": userID}); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}

// CreateIndexes installs the owner uniqueness constraint and the TTL index
// that garbage-collects expired carts.
func (r *CartRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create cart indexes: %w", err)
	}
	return nil
}
