package mongodb

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/vendkit/vendcore/internal/domain/order"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type OrderRepository struct {
	collection *mongo.Collection
}

func NewOrderRepository(db *mongo.Database) *OrderRepository {
	return &OrderRepository{collection: db.Collection("orders")}
}

func (r *OrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	if _, err := r.collection.InsertOne(ctx, order); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	var order domain.Order

	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&order)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	return &order, nil
}

// Update replaces the document only when the stored version still matches,
// serializing concurrent transitions on the same order. A zero match against
// an existing document is a lost race.
func (r *OrderRepository) Update(ctx context.Context, order *domain.Order) error {
	replacement := order.Clone()
	replacement.Version = order.Version + 1

	filter := bson.M{"_id": order.ID, "version": order.Version}
	result, err := r.collection.ReplaceOne(ctx, filter, replacement)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if result.MatchedCount == 0 {
		count, countErr := r.collection.CountDocuments(ctx, bson.M{"_id": order.ID})
		if countErr != nil {
			return fmt.Errorf("failed to update order: %w", countErr)
		}
		if count == 0 {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}

	order.Version = replacement.Version
	return nil
}
