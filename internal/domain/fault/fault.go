// Package fault defines the error kinds shared across the domain. Packages
// wrap these with context via fmt.Errorf("%w") so callers can classify
// failures with errors.Is without importing every domain package.
package fault

import "errors"

var (
	// ErrInvalidInput marks requests rejected before touching any store.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks lookups for documents that do not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState marks operations the current lifecycle state forbids.
	ErrInvalidState = errors.New("invalid state")

	// ErrInsufficientStock marks slot decrements that would go below zero.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrConflict marks optimistic updates that lost a version race.
	// Use cases reload and retry on this.
	ErrConflict = errors.New("conflict")
)
