package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/vendkit/vendcore/internal/domain/inventory"
)

// SlotRepository keeps machine slots under a single mutex so the
// check-and-decrement is atomic, matching the conditional-update contract
// the document store implementation pushes into the database.
type SlotRepository struct {
	mu       sync.Mutex
	machines map[string]*domain.Machine
}

func NewSlotRepository() *SlotRepository {
	return &SlotRepository{machines: make(map[string]*domain.Machine)}
}

// SeedMachine installs or replaces a machine document; tests and main wiring
// use it in place of the catalog CRUD.
func (r *SlotRepository) SeedMachine(machine *domain.Machine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.machines[machine.ID] = machine.Clone()
}

func (r *SlotRepository) GetSlot(ctx context.Context, machineID, slotID string) (*domain.Slot, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	slot, err := r.findSlot(machineID, slotID)
	if err != nil {
		return nil, err
	}
	clone := *slot
	return &clone, nil
}

func (r *SlotRepository) DecrementSlot(ctx context.Context, machineID, slotID string, qty int) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	slot, err := r.findSlot(machineID, slotID)
	if err != nil {
		return err
	}
	if err := slot.Deduct(qty); err != nil {
		return err
	}
	r.machines[machineID].UpdatedAt = time.Now().UTC()
	return nil
}

func (r *SlotRepository) RestoreSlot(ctx context.Context, machineID, slotID string, qty int) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	slot, err := r.findSlot(machineID, slotID)
	if err != nil {
		return err
	}
	if err := slot.Restore(qty); err != nil {
		return err
	}
	r.machines[machineID].UpdatedAt = time.Now().UTC()
	return nil
}

func (r *SlotRepository) findSlot(machineID, slotID string) (*domain.Slot, error) {
	machine, ok := r.machines[machineID]
	if !ok {
		return nil, domain.ErrMachineNotFound
	}
	for i := range machine.Slots {
		if machine.Slots[i].SlotID == slotID {
			return &machine.Slots[i], nil
		}
	}
	return nil, domain.ErrSlotNotFound
}
