package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/vendkit/vendcore/internal/domain/payment"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type PaymentRepository struct {
	collection *mongo.Collection
}

func NewPaymentRepository(db *mongo.Database) *PaymentRepository {
	return &PaymentRepository{collection: db.Collection("payments")}
}

func (r *PaymentRepository) Insert(ctx context.Context, payment *domain.Payment) error {
	if _, err := r.collection.InsertOne(ctx, payment); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (*domain.Payment, error) {
	var payment domain.Payment

	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&payment)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}

	return &payment, nil
}

// Update replaces the document only when the stored version still matches;
// this is what keeps duplicate webhook callbacks and racing attempt
// increments coherent on a single document.
func (r *PaymentRepository) Update(ctx context.Context, payment *domain.Payment) error {
	replacement := payment.Clone()
	replacement.Version = payment.Version + 1

	filter := bson.M{"_id": payment.ID, "version": payment.Version}
	result, err := r.collection.ReplaceOne(ctx, filter, replacement)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if result.MatchedCount == 0 {
		count, countErr := r.collection.CountDocuments(ctx, bson.M{"_id": payment.ID})
		if countErr != nil {
			return fmt.Errorf("failed to update payment: %w", countErr)
		}
		if count == 0 {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}

	payment.Version = replacement.Version
	return nil
}

func (r *PaymentRepository) GetOriginalByOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	var payment domain.Payment

	filter := bson.M{"order_id": orderID, "type": domain.TypePayment}
	err := r.collection.FindOne(ctx, filter).Decode(&payment)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment by order: %w", err)
	}

	return &payment, nil
}

func (r *PaymentRepository) ListRefundsByOrder(ctx context.Context, orderID string) ([]*domain.Payment, error) {
	filter := bson.M{
		"order_id": orderID,
		"type":     bson.M{"$in": []domain.TransactionType{domain.TypeRefund, domain.TypePartialRefund}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "initiated_at", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list refunds: %w", err)
	}
	defer cursor.Close(ctx)

	var refunds []*domain.Payment
	if err := cursor.All(ctx, &refunds); err != nil {
		return nil, fmt.Errorf("failed to decode refunds: %w", err)
	}
	return refunds, nil
}

func (r *PaymentRepository) ListExpiredPending(ctx context.Context, limit int) ([]*domain.Payment, error) {
	filter := bson.M{
		"status":     domain.StatusPending,
		"expires_at": bson.M{"$lt": time.Now().UTC()},
	}
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired payments: %w", err)
	}
	defer cursor.Close(ctx)

	var expired []*domain.Payment
	if err := cursor.All(ctx, &expired); err != nil {
		return nil, fmt.Errorf("failed to decode expired payments: %w", err)
	}
	return expired, nil
}

// CreateIndexes installs the order linkage index used by the refund ledger
// lookups and the expiry scan index for the optional sweeper.
func (r *PaymentRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "order_id", Value: 1}, {Key: "type", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}}},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create payment indexes: %w", err)
	}
	return nil
}
