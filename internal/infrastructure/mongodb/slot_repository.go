package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/vendkit/vendcore/internal/domain/inventory"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type SlotRepository struct {
	collection *mongo.Collection
}

func NewSlotRepository(db *mongo.Database) *SlotRepository {
	return &SlotRepository{collection: db.Collection("machines")}
}

func (r *SlotRepository) GetSlot(ctx context.Context, machineID, slotID string) (*domain.Slot, error) {
	var machine domain.Machine

	filter := bson.M{"_id": machineID}
	err := r.collection.FindOne(ctx, filter).Decode(&machine)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrMachineNotFound
		}
		return nil, fmt.Errorf("failed to get machine: %w", err)
	}

	for i := range machine.Slots {
		if machine.Slots[i].SlotID == slotID {
			slot := machine.Slots[i]
			return &slot, nil
		}
	}
	return nil, domain.ErrSlotNotFound
}

// DecrementSlot is the contention point under concurrent dispense requests.
// The quantity guard rides in the update filter, so the check-and-decrement
// is a single conditional write: a racing request that would drive the slot
// negative simply matches nothing.
func (r *SlotRepository) DecrementSlot(ctx context.Context, machineID, slotID string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}

	filter := bson.M{
		"_id": machineID,
		"slots": bson.M{"$elemMatch": bson.M{
			"slot_id":  slotID,
			"quantity": bson.M{"$gte": qty},
		}},
	}
	update := bson.M{
		"$inc": bson.M{"slots.$.quantity": -qty},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to decrement slot: %w", err)
	}
	if result.MatchedCount == 0 {
		if _, lookupErr := r.GetSlot(ctx, machineID, slotID); lookupErr != nil {
			return lookupErr
		}
		return domain.ErrInsufficientStock
	}
	return nil
}

// RestoreSlot increments stock, capped at max capacity. Update filters
// cannot compare an array element against a sibling field, so the cap rides
// in a pipeline update: one atomic write maps the slot to
// min(quantity+qty, max_capacity) and no reader ever sees an overfilled slot.
func (r *SlotRepository) RestoreSlot(ctx context.Context, machineID, slotID string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}

	filter := bson.M{"_id": machineID, "slots.slot_id": slotID}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"updated_at": time.Now().UTC(),
			"slots": bson.M{"$map": bson.M{
				"input": "$slots",
				"as":    "slot",
				"in": bson.M{"$cond": bson.A{
					bson.M{"$eq": bson.A{"$$slot.slot_id", slotID}},
					bson.M{"$mergeObjects": bson.A{"$$slot", bson.M{
						"quantity": bson.M{"$min": bson.A{
							bson.M{"$add": bson.A{"$$slot.quantity", qty}},
							"$$slot.max_capacity",
						}},
					}}},
					"$$slot",
				}},
			}},
		}}},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to restore slot: %w", err)
	}
	if result.MatchedCount == 0 {
		if _, lookupErr := r.GetSlot(ctx, machineID, slotID); lookupErr != nil {
			return lookupErr
		}
		return domain.ErrSlotNotFound
	}
	return nil
}
